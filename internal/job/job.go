// Package job runs an enrichment job over a row range: it drives the
// cascade per row, commits results in row order, meters spend against the
// budget and persists resumable checkpoints.
package job

import (
	"context"
	"errors"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rotisserie/eris"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/sells-group/merchant-enrich/internal/cascade"
	"github.com/sells-group/merchant-enrich/internal/compose"
	"github.com/sells-group/merchant-enrich/internal/cost"
	"github.com/sells-group/merchant-enrich/internal/model"
	"github.com/sells-group/merchant-enrich/internal/store"
)

// DefaultCheckpointInterval is the number of committed rows between
// periodic checkpoints.
const DefaultCheckpointInterval = 50

// Cascade enriches one record.
type Cascade interface {
	Run(ctx context.Context, rec model.MerchantRecord, mode model.Mode, strict bool) cascade.Result
}

// EventSink receives job events. Emit is called from the job's commit loop
// and may call the job's control methods.
type EventSink interface {
	Emit(model.Event)
}

// SinkFunc adapts a function to EventSink.
type SinkFunc func(model.Event)

func (f SinkFunc) Emit(e model.Event) { f(e) }

// Sinks fans an event out to several sinks in order.
type Sinks []EventSink

func (s Sinks) Emit(e model.Event) {
	for _, sink := range s {
		if sink != nil {
			sink.Emit(e)
		}
	}
}

// Env holds the collaborators and tuning of a job. It is fixed at
// construction.
type Env struct {
	Cascade            Cascade
	Store              store.CheckpointStore
	Costs              cost.Table
	Composer           *compose.Composer
	Sink               EventSink
	Workers            int
	CheckpointInterval int
	KeepCheckpoint     bool
	Now                func() time.Time
}

// Summary reports the state of a job after Run returns.
type Summary struct {
	JobID     string
	State     State
	Resumed   bool
	Processed int
	Completed int
	NotFound  int
	LastRow   int
	TotalCost float64
	Records   []model.MerchantRecord
}

type rowResult struct {
	rec      model.MerchantRecord
	calls    model.CallCounts
	canceled bool
}

// Job is a single enrichment run. Control methods are safe to call from any
// goroutine while Run is executing.
type Job struct {
	settings model.JobSettings
	input    []model.MerchantRecord
	env      Env
	meter    *cost.Meter
	log      *zap.Logger

	id        string
	resumed   bool
	lastRow   int
	processed int
	done      map[int]model.MerchantRecord

	mu          sync.Mutex
	state       State
	pauseReq    bool
	stopReq     bool
	resumeReq   bool
	pauseReason haltReason
	wake        chan struct{}
}

// New creates an idle job. input must hold the pending records of the
// settings' row range, in row order.
func New(settings model.JobSettings, input []model.MerchantRecord, env Env) (*Job, error) {
	if err := settings.Validate(); err != nil {
		return nil, err
	}
	if env.Cascade == nil {
		return nil, eris.New("job: cascade is required")
	}
	if env.Store == nil {
		return nil, eris.New("job: checkpoint store is required")
	}
	if len(input) != settings.RowCount() {
		return nil, eris.Errorf("job: got %d records for %d rows", len(input), settings.RowCount())
	}
	for i, rec := range input {
		if rec.Row != settings.StartRow+i {
			return nil, eris.Errorf("job: record %d has row %d, want %d", i, rec.Row, settings.StartRow+i)
		}
	}
	if env.Workers < 1 {
		env.Workers = 1
	}
	if env.CheckpointInterval < 1 {
		env.CheckpointInterval = DefaultCheckpointInterval
	}
	if env.Sink == nil {
		env.Sink = SinkFunc(func(model.Event) {})
	}
	if env.Now == nil {
		env.Now = time.Now
	}

	return &Job{
		settings: settings,
		input:    input,
		env:      env,
		meter:    cost.NewMeter(env.Costs, settings.BudgetPerRow),
		log:      zap.L().With(zap.String("input", settings.InputPath)),
		lastRow:  settings.StartRow - 1,
		done:     make(map[int]model.MerchantRecord),
		state:    StateIdle,
		wake:     make(chan struct{}, 1),
	}, nil
}

// State returns the current lifecycle state.
func (j *Job) State() State {
	j.mu.Lock()
	defer j.mu.Unlock()
	return j.state
}

// Meter exposes the job's cost meter.
func (j *Job) Meter() *cost.Meter { return j.meter }

// Pause asks a running job to pause at the next row boundary.
func (j *Job) Pause() error {
	j.mu.Lock()
	defer j.mu.Unlock()
	if j.state != StateRunning {
		return eris.Wrapf(ErrInvalidTransition, "pause from %s", j.state)
	}
	j.pauseReq = true
	return nil
}

// Resume continues a paused job. A job paused by the budget check only
// resumes with confirmBudget set, which disarms the check for the rest of
// the run.
func (j *Job) Resume(confirmBudget bool) error {
	j.mu.Lock()
	defer j.mu.Unlock()
	if j.state != StatePaused {
		return eris.Wrapf(ErrInvalidTransition, "resume from %s", j.state)
	}
	if j.pauseReason == haltBudget && !confirmBudget && !j.meter.Confirmed() {
		return eris.Wrap(cost.ErrBudgetExceeded, "job: resume needs budget confirmation")
	}
	if confirmBudget {
		j.meter.Confirm()
	}
	j.resumeReq = true
	j.signal()
	return nil
}

// Stop asks the job to finish in-flight rows, persist a checkpoint and halt.
func (j *Job) Stop() error {
	j.mu.Lock()
	defer j.mu.Unlock()
	if j.state != StateRunning && j.state != StatePaused {
		return eris.Wrapf(ErrInvalidTransition, "stop from %s", j.state)
	}
	j.stopReq = true
	j.signal()
	return nil
}

func (j *Job) signal() {
	select {
	case j.wake <- struct{}{}:
	default:
	}
}

func (j *Job) setState(s State) {
	j.mu.Lock()
	j.state = s
	j.mu.Unlock()
}

// Run executes the job until it completes, stops or fails. It blocks while
// the job is paused. Canceling ctx stops the job after in-flight rows; rows
// interrupted by the cancellation are left for the next run.
func (j *Job) Run(ctx context.Context) (Summary, error) {
	j.mu.Lock()
	if j.state != StateIdle {
		st := j.state
		j.mu.Unlock()
		return j.summary(), eris.Wrapf(ErrInvalidTransition, "run from %s", st)
	}
	j.state = StateRunning
	j.mu.Unlock()

	if err := j.restore(ctx); err != nil {
		return j.fail(ctx, err)
	}
	j.log = j.log.With(zap.String("job_id", j.id))
	j.log.Info("job: started",
		zap.Int("start_row", j.lastRow+1),
		zap.Int("end_row", j.settings.EndRow),
		zap.Bool("resumed", j.resumed),
		zap.Int("workers", j.env.Workers),
	)

	for {
		reason, err := j.segment(ctx)
		switch reason {
		case haltEnd:
			return j.complete(ctx)
		case haltFailed:
			return j.fail(ctx, err)
		case haltStop, haltCanceled:
			return j.stop(ctx)
		case haltPause, haltBudget:
			if !j.pause(ctx, reason) {
				return j.stop(ctx)
			}
		}
	}
}

// restore loads a matching checkpoint into the job. Mismatched or corrupt
// checkpoints are ignored and overwritten by the first save.
func (j *Job) restore(ctx context.Context) error {
	cp, err := j.env.Store.Load(ctx, j.settings.Key())
	switch {
	case errors.Is(err, store.ErrCorruptCheckpoint):
		j.log.Warn("job: ignoring corrupt checkpoint", zap.Error(err))
		j.id = uuid.NewString()
		return nil
	case err != nil:
		return eris.Wrapf(ErrStorage, "load checkpoint: %v", err)
	case cp == nil:
		j.id = uuid.NewString()
		return nil
	}

	if cp.Signature != j.settings.Signature() {
		j.log.Warn("job: ignoring checkpoint", zap.Error(ErrCheckpointMismatch), zap.String("checkpoint_job", cp.JobID))
		j.id = uuid.NewString()
		return nil
	}

	if err := store.CheckCoverage(cp); err != nil {
		j.log.Warn("job: ignoring inconsistent checkpoint", zap.Error(err), zap.String("checkpoint_job", cp.JobID))
		j.id = uuid.NewString()
		return nil
	}

	j.id = cp.JobID
	j.resumed = true
	if cp.LastRow > j.lastRow {
		j.lastRow = cp.LastRow
	}
	for _, rec := range cp.Records {
		if rec.Row >= j.settings.StartRow && rec.Row <= j.lastRow && rec.Status.Terminal() {
			j.done[rec.Row] = rec
		}
	}
	j.meter.Restore(cp.CumulativeCost, len(j.done))
	j.emit(model.EventResumed, nil, nil)
	return nil
}

// segment dispatches rows until the range ends or a control signal, budget
// halt, cancellation or storage failure intervenes. It always waits for
// in-flight rows and commits every contiguous result before returning.
func (j *Job) segment(ctx context.Context) (haltReason, error) {
	var g errgroup.Group
	g.SetLimit(j.env.Workers)

	results := make(chan rowResult, j.env.Workers)
	buffer := make(map[int]rowResult)
	next := j.lastRow + 1
	inflight := 0
	reason := haltEnd
	var commitErr error

	receive := func() {
		res := <-results
		inflight--
		if res.canceled {
			return
		}
		buffer[res.rec.Row] = res
		if commitErr == nil {
			commitErr = j.commitReady(ctx, buffer)
		}
	}

	for next <= j.settings.EndRow {
		if inflight == j.env.Workers {
			receive()
			continue
		}
		if commitErr != nil {
			break
		}
		if r := j.check(ctx, j.settings.EndRow-next+1); r != haltEnd {
			reason = r
			break
		}

		rec := j.input[next-j.settings.StartRow]
		next++
		inflight++
		g.Go(func() error {
			results <- j.process(ctx, rec)
			return nil
		})
	}
	for inflight > 0 {
		receive()
	}
	_ = g.Wait()

	if commitErr != nil {
		return haltFailed, commitErr
	}
	if reason == haltEnd && j.lastRow < j.settings.EndRow {
		// Rows were dispatched to the end but cancellation dropped some.
		return haltCanceled, nil
	}
	return reason, nil
}

// check runs between dispatches.
func (j *Job) check(ctx context.Context, remaining int) haltReason {
	if ctx.Err() != nil {
		return haltCanceled
	}
	j.mu.Lock()
	stop, pause := j.stopReq, j.pauseReq
	j.mu.Unlock()
	switch {
	case stop:
		return haltStop
	case pause:
		return haltPause
	case j.meter.ShouldHalt(remaining):
		return haltBudget
	}
	return haltEnd
}

func (j *Job) process(ctx context.Context, rec model.MerchantRecord) rowResult {
	res := j.env.Cascade.Run(ctx, rec, j.settings.Mode, j.settings.StrictMatch)
	if ctx.Err() != nil {
		return rowResult{rec: rec, canceled: true}
	}
	if res.Skipped {
		rec.Status = model.StatusNotFound
		return rowResult{rec: rec, calls: res.Calls}
	}
	res.Outcome.Apply(&rec)
	return rowResult{rec: rec, calls: res.Calls}
}

// commitReady commits buffered results in row order, stopping at the first
// gap. It is the only writer of committed state.
func (j *Job) commitReady(ctx context.Context, buffer map[int]rowResult) error {
	for {
		res, ok := buffer[j.lastRow+1]
		if !ok {
			return nil
		}
		delete(buffer, res.rec.Row)

		rec := res.rec
		rec.CostPerRow = j.meter.Charge(res.calls)
		j.done[rec.Row] = rec
		j.lastRow = rec.Row
		j.processed++

		j.log.Debug("job: row committed",
			zap.Int("row", rec.Row),
			zap.String("status", string(rec.Status)),
			zap.Float64("cost", rec.CostPerRow),
		)
		var output []string
		if j.env.Composer != nil {
			output = j.env.Composer.Row(rec)
		}
		j.emit(model.EventRowCompleted, &rec, output)

		if j.processed%j.env.CheckpointInterval == 0 {
			if err := j.save(ctx); err != nil {
				return err
			}
		}
	}
}

// pause parks the job until it is resumed or stopped. It reports whether
// the job should continue.
func (j *Job) pause(ctx context.Context, reason haltReason) bool {
	if err := j.save(ctx); err != nil {
		j.log.Error("job: checkpoint on pause failed", zap.Error(err))
	}

	j.mu.Lock()
	j.pauseReq = false
	j.resumeReq = false
	j.pauseReason = reason
	j.state = StatePaused
	j.mu.Unlock()

	if reason == haltBudget {
		j.log.Warn("job: paused by budget",
			zap.Float64("average_cost", j.meter.Average()),
			zap.Float64("budget_per_row", j.settings.BudgetPerRow),
		)
		j.emitErr(model.EventBudgetWarning, cost.ErrBudgetExceeded)
	} else {
		j.log.Info("job: paused", zap.Int("last_row", j.lastRow))
	}
	j.emit(model.EventPaused, nil, nil)

	for {
		select {
		case <-ctx.Done():
			return false
		case <-j.wake:
		}
		j.mu.Lock()
		if j.stopReq {
			j.mu.Unlock()
			return false
		}
		if !j.resumeReq {
			j.mu.Unlock()
			continue
		}
		j.resumeReq = false
		j.state = StateRunning
		j.mu.Unlock()

		j.log.Info("job: resumed", zap.Bool("budget_confirmed", j.meter.Confirmed()))
		j.emit(model.EventResumed, nil, nil)
		return true
	}
}

func (j *Job) complete(ctx context.Context) (Summary, error) {
	if err := j.save(ctx); err != nil {
		return j.fail(ctx, err)
	}
	if !j.env.KeepCheckpoint {
		if err := j.env.Store.Delete(context.WithoutCancel(ctx), j.settings.Key()); err != nil {
			j.log.Warn("job: remove checkpoint failed", zap.Error(err))
		}
	}
	j.setState(StateCompleted)
	j.log.Info("job: completed", zap.Int("processed", j.processed), zap.Float64("total_cost", j.meter.Total()))
	j.emit(model.EventCompleted, nil, nil)
	return j.summary(), nil
}

func (j *Job) stop(ctx context.Context) (Summary, error) {
	if err := j.save(ctx); err != nil {
		return j.fail(ctx, err)
	}
	j.setState(StateStopped)
	j.log.Info("job: stopped", zap.Int("last_row", j.lastRow))
	j.emit(model.EventStopped, nil, nil)
	return j.summary(), nil
}

func (j *Job) fail(ctx context.Context, err error) (Summary, error) {
	if !errors.Is(err, ErrStorage) {
		err = eris.Wrap(ErrStorage, err.Error())
	}
	// Best effort: the store may be the reason for the failure.
	if saveErr := j.save(ctx); saveErr != nil {
		j.log.Warn("job: final checkpoint failed", zap.Error(saveErr))
	}
	j.setState(StateFailed)
	j.log.Error("job: failed", zap.Error(err))
	j.emitErr(model.EventFailed, err)
	return j.summary(), err
}

// checkpoint snapshots committed progress.
func (j *Job) checkpoint() *model.Checkpoint {
	cp := &model.Checkpoint{
		Version:        model.CheckpointVersion,
		JobID:          j.id,
		Settings:       j.settings,
		Signature:      j.settings.Signature(),
		LastRow:        j.lastRow,
		CumulativeCost: j.meter.Total(),
		Statuses:       make(map[int]model.RowStatus, len(j.done)),
		Records:        make([]model.MerchantRecord, 0, len(j.done)),
		UpdatedAt:      j.env.Now().UTC(),
	}
	for row, rec := range j.done {
		cp.Statuses[row] = rec.Status
		cp.Records = append(cp.Records, rec)
	}
	sort.Slice(cp.Records, func(a, b int) bool { return cp.Records[a].Row < cp.Records[b].Row })
	return cp
}

// save persists a checkpoint. Before restore has settled the job identity
// there is nothing to save and an existing checkpoint is left alone.
func (j *Job) save(ctx context.Context) error {
	if j.id == "" {
		return nil
	}
	if err := j.env.Store.Save(context.WithoutCancel(ctx), j.settings.Key(), j.checkpoint()); err != nil {
		return eris.Wrapf(ErrStorage, "save checkpoint: %v", err)
	}
	return nil
}

func (j *Job) summary() Summary {
	s := Summary{
		JobID:     j.id,
		State:     j.State(),
		Resumed:   j.resumed,
		Processed: j.processed,
		LastRow:   j.lastRow,
		TotalCost: j.meter.Total(),
		Records:   make([]model.MerchantRecord, len(j.input)),
	}
	for i, rec := range j.input {
		if d, ok := j.done[rec.Row]; ok {
			rec = d
		}
		s.Records[i] = rec
		switch rec.Status {
		case model.StatusCompleted:
			s.Completed++
		case model.StatusNotFound:
			s.NotFound++
		}
	}
	return s
}

func (j *Job) emit(kind model.EventKind, rec *model.MerchantRecord, output []string) {
	e := model.Event{
		Kind:      kind,
		JobID:     j.id,
		State:     string(j.State()),
		Record:    rec,
		Output:    output,
		TotalCost: j.meter.Total(),
		Processed: j.processed,
		Remaining: j.settings.EndRow - j.lastRow,
		At:        j.env.Now(),
	}
	if rec != nil {
		e.Row = rec.Row
		e.RowCost = rec.CostPerRow
	}
	j.env.Sink.Emit(e)
}

func (j *Job) emitErr(kind model.EventKind, err error) {
	e := model.Event{
		Kind:      kind,
		JobID:     j.id,
		State:     string(j.State()),
		TotalCost: j.meter.Total(),
		Processed: j.processed,
		Remaining: j.settings.EndRow - j.lastRow,
		Err:       err.Error(),
		At:        j.env.Now(),
	}
	j.env.Sink.Emit(e)
}
