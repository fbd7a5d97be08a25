package job

import (
	"context"
	"errors"
	"fmt"
	"os"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/sells-group/merchant-enrich/internal/cascade"
	"github.com/sells-group/merchant-enrich/internal/compose"
	"github.com/sells-group/merchant-enrich/internal/cost"
	"github.com/sells-group/merchant-enrich/internal/evidence"
	"github.com/sells-group/merchant-enrich/internal/model"
	"github.com/sells-group/merchant-enrich/internal/store"
)

// fakeCascade finds every merchant except "ZZZ" and bills one search call
// per row. Blank rows are skipped without calls.
type fakeCascade struct {
	mu    sync.Mutex
	rows  []int
	delay func(row int) time.Duration
}

func (f *fakeCascade) Run(ctx context.Context, rec model.MerchantRecord, _ model.Mode, _ bool) cascade.Result {
	f.mu.Lock()
	f.rows = append(f.rows, rec.Row)
	f.mu.Unlock()

	if f.delay != nil {
		time.Sleep(f.delay(rec.Row))
	}
	if rec.Blank() {
		return cascade.Result{Calls: model.CallCounts{}, Skipped: true}
	}
	calls := model.CallCounts{model.CallSearch: 1}
	if rec.Merchant == "ZZZ" {
		return cascade.Result{
			Outcome:   evidence.Outcome{Notes: []string{"No search result corroborated the merchant name"}},
			Calls:     calls,
			Exhausted: true,
		}
	}
	name := evidence.FormatName(rec.Merchant, nil)
	return cascade.Result{
		Outcome: evidence.Outcome{
			Name:    name,
			Website: "https://" + rec.Merchant + ".example",
			Notes:   []string{fmt.Sprintf("Matched %q", name)},
			Links:   []string{"https://" + rec.Merchant + ".example/"},
		},
		Calls: calls,
	}
}

func (f *fakeCascade) seen() []int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]int(nil), f.rows...)
}

type recorder struct {
	mu     sync.Mutex
	events []model.Event
	onEmit func(model.Event)
}

func (r *recorder) Emit(e model.Event) {
	r.mu.Lock()
	r.events = append(r.events, e)
	r.mu.Unlock()
	if r.onEmit != nil {
		r.onEmit(e)
	}
}

func (r *recorder) kinds() []model.EventKind {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []model.EventKind
	for _, e := range r.events {
		out = append(out, e.Kind)
	}
	return out
}

func (r *recorder) committedRows() []int {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []int
	for _, e := range r.events {
		if e.Kind == model.EventRowCompleted {
			out = append(out, e.Row)
		}
	}
	return out
}

func testSettings(end int) model.JobSettings {
	return model.JobSettings{
		InputPath: "/data/txns.csv",
		StartRow:  1,
		EndRow:    end,
		Mode:      model.ModeBasic,
		Mapping:   model.ColumnMapping{Merchant: "Merchant"},
	}
}

func testInput(merchants ...string) []model.MerchantRecord {
	out := make([]model.MerchantRecord, len(merchants))
	for i, m := range merchants {
		out[i] = model.MerchantRecord{
			Row:         i + 1,
			Merchant:    m,
			PassThrough: []model.Column{{Name: "Txn ID", Value: fmt.Sprintf("T%d", i+1)}},
			Status:      model.StatusPending,
		}
	}
	return out
}

func testEnv(t *testing.T, c Cascade, s store.CheckpointStore) Env {
	t.Helper()
	if s == nil {
		fs, err := store.NewFile(t.TempDir())
		require.NoError(t, err)
		s = fs
	}
	return Env{
		Cascade:  c,
		Store:    s,
		Costs:    cost.Table{model.CallSearch: 0.01, model.CallAI: 0.0006},
		Composer: compose.New([]string{"Txn ID"}),
	}
}

func TestNew_Validation(t *testing.T) {
	env := testEnv(t, &fakeCascade{}, nil)

	_, err := New(testSettings(3), testInput("a", "b"), env)
	require.Error(t, err)

	in := testInput("a", "b")
	in[1].Row = 5
	_, err = New(testSettings(2), in, env)
	require.Error(t, err)

	_, err = New(testSettings(2), testInput("a", "b"), Env{Store: env.Store})
	require.Error(t, err)

	bad := testSettings(2)
	bad.Mapping.Merchant = ""
	_, err = New(bad, testInput("a", "b"), env)
	require.Error(t, err)
}

func TestRun_CompletesRange(t *testing.T) {
	fc := &fakeCascade{}
	rec := &recorder{}
	env := testEnv(t, fc, nil)
	env.Sink = rec

	j, err := New(testSettings(4), testInput("acme", "ZZZ", "", "kfc"), env)
	require.NoError(t, err)

	sum, err := j.Run(context.Background())
	require.NoError(t, err)

	assert.Equal(t, StateCompleted, sum.State)
	assert.Equal(t, 4, sum.Processed)
	assert.Equal(t, 4, sum.LastRow)
	assert.Equal(t, 2, sum.Completed)
	assert.Equal(t, 2, sum.NotFound)
	assert.InDelta(t, 0.03, sum.TotalCost, 1e-9)
	assert.NotEmpty(t, sum.JobID)
	assert.False(t, sum.Resumed)

	acme := sum.Records[0]
	assert.Equal(t, "Acme", acme.CleanedName)
	assert.Equal(t, model.StatusCompleted, acme.Status)
	assert.InDelta(t, 0.01, acme.CostPerRow, 1e-9)

	assert.Equal(t, evidence.RemarkNotFound, sum.Records[1].Remarks)
	assert.Equal(t, model.StatusNotFound, sum.Records[1].Status)

	blank := sum.Records[2]
	assert.Equal(t, model.StatusNotFound, blank.Status)
	assert.Equal(t, "", blank.Remarks)
	assert.Zero(t, blank.CostPerRow)

	assert.Equal(t, []int{1, 2, 3, 4}, rec.committedRows())
	kinds := rec.kinds()
	assert.Equal(t, model.EventCompleted, kinds[len(kinds)-1])

	cp, err := env.Store.Load(context.Background(), "/data/txns.csv")
	require.NoError(t, err)
	assert.Nil(t, cp, "checkpoint removed on completion")
}

func TestRun_RowEventCarriesOutput(t *testing.T) {
	rec := &recorder{}
	env := testEnv(t, &fakeCascade{}, nil)
	env.Sink = rec

	j, err := New(testSettings(1), testInput("acme"), env)
	require.NoError(t, err)
	_, err = j.Run(context.Background())
	require.NoError(t, err)

	e := rec.events[0]
	require.Equal(t, model.EventRowCompleted, e.Kind)
	require.NotNil(t, e.Record)
	assert.Equal(t, "T1", e.Output[0])
	assert.Equal(t, "Acme", e.Output[1])
	assert.Equal(t, "0.0100", e.Output[6])
	assert.InDelta(t, 0.01, e.RowCost, 1e-9)
	assert.Equal(t, 0, e.Remaining)
}

func TestRun_KeepCheckpoint(t *testing.T) {
	env := testEnv(t, &fakeCascade{}, nil)
	env.KeepCheckpoint = true

	j, err := New(testSettings(2), testInput("a", "b"), env)
	require.NoError(t, err)
	_, err = j.Run(context.Background())
	require.NoError(t, err)

	cp, err := env.Store.Load(context.Background(), "/data/txns.csv")
	require.NoError(t, err)
	require.NotNil(t, cp)
	assert.Equal(t, 2, cp.LastRow)
	assert.Equal(t, 2, cp.Completed())
}

func TestRun_IdempotentResume(t *testing.T) {
	merchants := []string{"acme", "ZZZ", "globex", "", "initech", "umbrella"}

	// Reference: uninterrupted run.
	ref, err := New(testSettings(6), testInput(merchants...), testEnv(t, &fakeCascade{}, nil))
	require.NoError(t, err)
	want, err := ref.Run(context.Background())
	require.NoError(t, err)

	fs, err := store.NewFile(t.TempDir())
	require.NoError(t, err)

	// First session stops after row 3.
	fc1 := &fakeCascade{}
	env1 := testEnv(t, fc1, fs)
	var j1 *Job
	env1.Sink = SinkFunc(func(e model.Event) {
		if e.Kind == model.EventRowCompleted && e.Row == 3 {
			require.NoError(t, j1.Stop())
		}
	})
	j1, err = New(testSettings(6), testInput(merchants...), env1)
	require.NoError(t, err)
	first, err := j1.Run(context.Background())
	require.NoError(t, err)
	assert.Equal(t, StateStopped, first.State)
	assert.Equal(t, 3, first.LastRow)
	assert.Equal(t, []int{1, 2, 3}, fc1.seen())

	cp, err := fs.Load(context.Background(), "/data/txns.csv")
	require.NoError(t, err)
	require.NotNil(t, cp)
	assert.Equal(t, 3, cp.LastRow)
	assert.InDelta(t, 0.03, cp.CumulativeCost, 1e-9)

	// Second session resumes at row 4 and never reprocesses rows 1-3.
	fc2 := &fakeCascade{}
	j2, err := New(testSettings(6), testInput(merchants...), testEnv(t, fc2, fs))
	require.NoError(t, err)
	second, err := j2.Run(context.Background())
	require.NoError(t, err)

	assert.Equal(t, []int{4, 5, 6}, fc2.seen())
	assert.True(t, second.Resumed)
	assert.Equal(t, first.JobID, second.JobID)
	assert.Equal(t, 3, second.Processed)
	assert.InDelta(t, want.TotalCost, second.TotalCost, 1e-9)

	c := compose.New([]string{"Txn ID"})
	assert.Equal(t, c.Artifact(want.Records), c.Artifact(second.Records))
}

func TestRun_ResumeOfFinishedCheckpoint(t *testing.T) {
	fs, err := store.NewFile(t.TempDir())
	require.NoError(t, err)
	env := testEnv(t, &fakeCascade{}, fs)
	env.KeepCheckpoint = true

	j, err := New(testSettings(2), testInput("a", "b"), env)
	require.NoError(t, err)
	_, err = j.Run(context.Background())
	require.NoError(t, err)

	fc := &fakeCascade{}
	j2, err := New(testSettings(2), testInput("a", "b"), testEnv(t, fc, fs))
	require.NoError(t, err)
	sum, err := j2.Run(context.Background())
	require.NoError(t, err)
	assert.Empty(t, fc.seen())
	assert.Equal(t, StateCompleted, sum.State)
	assert.Equal(t, 2, sum.Completed)
}

func TestRun_MismatchedCheckpointStartsFresh(t *testing.T) {
	fs, err := store.NewFile(t.TempDir())
	require.NoError(t, err)

	other := testSettings(3)
	other.Mode = model.ModeEnhanced
	require.NoError(t, fs.Save(context.Background(), "/data/txns.csv", &model.Checkpoint{
		JobID:     "old-job",
		Settings:  other,
		Signature: other.Signature(),
		LastRow:   2,
	}))

	fc := &fakeCascade{}
	j, err := New(testSettings(3), testInput("a", "b", "c"), testEnv(t, fc, fs))
	require.NoError(t, err)
	sum, err := j.Run(context.Background())
	require.NoError(t, err)

	assert.Equal(t, []int{1, 2, 3}, fc.seen())
	assert.False(t, sum.Resumed)
	assert.NotEqual(t, "old-job", sum.JobID)
}

func TestRun_CheckpointWithoutRowRecordsStartsFresh(t *testing.T) {
	fs, err := store.NewFile(t.TempDir())
	require.NoError(t, err)

	s := testSettings(3)
	require.NoError(t, fs.Save(context.Background(), "/data/txns.csv", &model.Checkpoint{
		JobID:     "old-job",
		Settings:  s,
		Signature: s.Signature(),
		LastRow:   2,
	}))

	fc := &fakeCascade{}
	j, err := New(s, testInput("a", "b", "c"), testEnv(t, fc, fs))
	require.NoError(t, err)
	sum, err := j.Run(context.Background())
	require.NoError(t, err)

	assert.Equal(t, []int{1, 2, 3}, fc.seen())
	assert.False(t, sum.Resumed)
	assert.NotEqual(t, "old-job", sum.JobID)
	assert.Equal(t, 3, sum.Completed)
	for _, rec := range sum.Records {
		assert.Equal(t, model.StatusCompleted, rec.Status, "row %d", rec.Row)
		assert.NotEmpty(t, rec.CleanedName, "row %d", rec.Row)
	}
}

func TestRun_CorruptCheckpointStartsFresh(t *testing.T) {
	fs, err := store.NewFile(t.TempDir())
	require.NoError(t, err)
	require.NoError(t, os.WriteFile(fs.Path("/data/txns.csv"), []byte("{garbage"), 0o644))

	fc := &fakeCascade{}
	env := testEnv(t, fc, fs)
	env.KeepCheckpoint = true
	j, err := New(testSettings(2), testInput("a", "b"), env)
	require.NoError(t, err)
	_, err = j.Run(context.Background())
	require.NoError(t, err)
	assert.Equal(t, []int{1, 2}, fc.seen())

	cp, err := fs.Load(context.Background(), "/data/txns.csv")
	require.NoError(t, err)
	assert.Equal(t, 2, cp.LastRow)
}

func TestRun_BudgetPauseRequiresConfirmation(t *testing.T) {
	rec := &recorder{}
	env := testEnv(t, &fakeCascade{}, nil)
	env.Sink = rec

	s := testSettings(4)
	s.BudgetPerRow = 0.005

	var j *Job
	var resumeErr error
	rec.onEmit = func(e model.Event) {
		if e.Kind != model.EventPaused {
			return
		}
		resumeErr = j.Resume(false)
		require.NoError(t, j.Resume(true))
	}

	j, err := New(s, testInput("a", "b", "c", "d"), env)
	require.NoError(t, err)
	sum, err := j.Run(context.Background())
	require.NoError(t, err)

	require.ErrorIs(t, resumeErr, cost.ErrBudgetExceeded)
	assert.Equal(t, StateCompleted, sum.State)
	assert.Equal(t, 4, sum.Processed)
	assert.True(t, j.Meter().Confirmed())
	assert.Equal(t, []model.EventKind{
		model.EventRowCompleted,
		model.EventBudgetWarning,
		model.EventPaused,
		model.EventResumed,
		model.EventRowCompleted,
		model.EventRowCompleted,
		model.EventRowCompleted,
		model.EventCompleted,
	}, rec.kinds())
}

func TestRun_BudgetPauseThenStop(t *testing.T) {
	fs, err := store.NewFile(t.TempDir())
	require.NoError(t, err)
	env := testEnv(t, &fakeCascade{}, fs)

	s := testSettings(3)
	s.BudgetPerRow = 0.001

	var j *Job
	env.Sink = SinkFunc(func(e model.Event) {
		if e.Kind == model.EventPaused {
			require.NoError(t, j.Stop())
		}
	})
	j, err = New(s, testInput("a", "b", "c"), env)
	require.NoError(t, err)

	sum, err := j.Run(context.Background())
	require.NoError(t, err)
	assert.Equal(t, StateStopped, sum.State)
	assert.Equal(t, 1, sum.LastRow)

	cp, err := fs.Load(context.Background(), "/data/txns.csv")
	require.NoError(t, err)
	assert.Equal(t, 1, cp.LastRow)
}

func TestRun_PauseAndResume(t *testing.T) {
	rec := &recorder{}
	env := testEnv(t, &fakeCascade{}, nil)
	env.Sink = rec

	var j *Job
	rec.onEmit = func(e model.Event) {
		switch {
		case e.Kind == model.EventRowCompleted && e.Row == 2:
			require.NoError(t, j.Pause())
		case e.Kind == model.EventPaused:
			assert.Equal(t, StatePaused, j.State())
			require.NoError(t, j.Resume(false))
		}
	}
	j, err := New(testSettings(4), testInput("a", "b", "c", "d"), env)
	require.NoError(t, err)

	sum, err := j.Run(context.Background())
	require.NoError(t, err)
	assert.Equal(t, StateCompleted, sum.State)
	assert.Equal(t, []int{1, 2, 3, 4}, rec.committedRows())
	assert.Contains(t, rec.kinds(), model.EventResumed)
}

func TestRun_OrderedCommitWithWorkers(t *testing.T) {
	fc := &fakeCascade{delay: func(row int) time.Duration {
		return time.Duration(9-row) * 3 * time.Millisecond
	}}
	rec := &recorder{}
	env := testEnv(t, fc, nil)
	env.Sink = rec
	env.Workers = 4

	j, err := New(testSettings(8), testInput("a", "b", "c", "d", "e", "f", "g", "h"), env)
	require.NoError(t, err)
	sum, err := j.Run(context.Background())
	require.NoError(t, err)

	assert.Equal(t, []int{1, 2, 3, 4, 5, 6, 7, 8}, rec.committedRows())
	assert.Len(t, fc.seen(), 8)
	assert.Equal(t, 8, sum.LastRow)
}

func TestRun_ContextCancelStops(t *testing.T) {
	fs, err := store.NewFile(t.TempDir())
	require.NoError(t, err)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	env := testEnv(t, &fakeCascade{}, fs)
	env.Sink = SinkFunc(func(e model.Event) {
		if e.Kind == model.EventRowCompleted && e.Row == 2 {
			cancel()
		}
	})
	j, err := New(testSettings(5), testInput("a", "b", "c", "d", "e"), env)
	require.NoError(t, err)

	sum, err := j.Run(ctx)
	require.NoError(t, err)
	assert.Equal(t, StateStopped, sum.State)
	assert.Equal(t, 2, sum.LastRow)
	assert.Equal(t, model.StatusPending, sum.Records[2].Status)

	cp, err := fs.Load(context.Background(), "/data/txns.csv")
	require.NoError(t, err)
	assert.Equal(t, 2, cp.LastRow)
}

func TestRun_CheckpointInterval(t *testing.T) {
	fs, err := store.NewFile(t.TempDir())
	require.NoError(t, err)
	cs := &countingStore{CheckpointStore: fs}

	env := testEnv(t, &fakeCascade{}, cs)
	env.CheckpointInterval = 2
	j, err := New(testSettings(5), testInput("a", "b", "c", "d", "e"), env)
	require.NoError(t, err)
	_, err = j.Run(context.Background())
	require.NoError(t, err)

	// rows 2 and 4, then completion.
	assert.Equal(t, []int{2, 4, 5}, cs.lastRows)
}

type countingStore struct {
	store.CheckpointStore
	lastRows []int
}

func (c *countingStore) Save(ctx context.Context, key string, cp *model.Checkpoint) error {
	c.lastRows = append(c.lastRows, cp.LastRow)
	return c.CheckpointStore.Save(ctx, key, cp)
}

// mockStore is a testify mock of store.CheckpointStore.
type mockStore struct {
	mock.Mock
}

func (m *mockStore) Save(ctx context.Context, key string, cp *model.Checkpoint) error {
	return m.Called(ctx, key, cp).Error(0)
}

func (m *mockStore) Load(ctx context.Context, key string) (*model.Checkpoint, error) {
	args := m.Called(ctx, key)
	cp, _ := args.Get(0).(*model.Checkpoint)
	return cp, args.Error(1)
}

func (m *mockStore) Delete(ctx context.Context, key string) error {
	return m.Called(ctx, key).Error(0)
}

func (m *mockStore) List(ctx context.Context) ([]*model.Checkpoint, error) {
	args := m.Called(ctx)
	all, _ := args.Get(0).([]*model.Checkpoint)
	return all, args.Error(1)
}

func (m *mockStore) Close() error { return nil }

func TestRun_StorageFailureFails(t *testing.T) {
	ms := &mockStore{}
	ms.On("Load", mock.Anything, "/data/txns.csv").Return(nil, nil)
	ms.On("Save", mock.Anything, "/data/txns.csv", mock.Anything).Return(errors.New("disk full"))

	rec := &recorder{}
	env := testEnv(t, &fakeCascade{}, ms)
	env.Sink = rec
	env.CheckpointInterval = 2

	j, err := New(testSettings(5), testInput("a", "b", "c", "d", "e"), env)
	require.NoError(t, err)
	sum, err := j.Run(context.Background())

	require.ErrorIs(t, err, ErrStorage)
	assert.Equal(t, StateFailed, sum.State)
	assert.Equal(t, 2, sum.LastRow)
	assert.Equal(t, model.EventFailed, rec.kinds()[len(rec.kinds())-1])
	ms.AssertNotCalled(t, "Delete", mock.Anything, mock.Anything)
}

func TestRun_LoadFailureFails(t *testing.T) {
	ms := &mockStore{}
	ms.On("Load", mock.Anything, "/data/txns.csv").Return(nil, errors.New("connection refused"))

	fc := &fakeCascade{}
	j, err := New(testSettings(2), testInput("a", "b"), testEnv(t, fc, ms))
	require.NoError(t, err)
	sum, err := j.Run(context.Background())

	require.ErrorIs(t, err, ErrStorage)
	assert.Equal(t, StateFailed, sum.State)
	assert.Empty(t, fc.seen())
	ms.AssertNotCalled(t, "Save", mock.Anything, mock.Anything, mock.Anything)
}

func TestTransitions(t *testing.T) {
	j, err := New(testSettings(1), testInput("a"), testEnv(t, &fakeCascade{}, nil))
	require.NoError(t, err)

	assert.Equal(t, StateIdle, j.State())
	require.ErrorIs(t, j.Pause(), ErrInvalidTransition)
	require.ErrorIs(t, j.Resume(true), ErrInvalidTransition)
	require.ErrorIs(t, j.Stop(), ErrInvalidTransition)

	_, err = j.Run(context.Background())
	require.NoError(t, err)
	assert.True(t, j.State().Terminal())

	_, err = j.Run(context.Background())
	require.ErrorIs(t, err, ErrInvalidTransition)
	require.ErrorIs(t, j.Stop(), ErrInvalidTransition)
	require.ErrorIs(t, j.Pause(), ErrInvalidTransition)
}
