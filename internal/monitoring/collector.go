// Package monitoring watches stored job checkpoints and job events and
// raises webhook alerts for failed, stale, and over-budget jobs.
package monitoring

import (
	"context"
	"path/filepath"
	"time"

	"github.com/rotisserie/eris"

	"github.com/sells-group/merchant-enrich/internal/model"
)

// JobHealth describes one stored job.
type JobHealth struct {
	JobID     string    `json:"job_id"`
	Input     string    `json:"input"`
	LastRow   int       `json:"last_row"`
	EndRow    int       `json:"end_row"`
	Completed int       `json:"completed"`
	CostUSD   float64   `json:"cost_usd"`
	AvgCost   float64   `json:"avg_cost"`
	Budget    float64   `json:"budget_per_row"`
	UpdatedAt time.Time `json:"updated_at"`
}

// Snapshot is a point-in-time view of stored jobs.
type Snapshot struct {
	Jobs         int         `json:"jobs"`
	Unfinished   int         `json:"unfinished"`
	TotalCostUSD float64     `json:"total_cost_usd"`
	Stale        []JobHealth `json:"stale,omitempty"`
	OverBudget   []JobHealth `json:"over_budget,omitempty"`
	StaleAfter   time.Duration
	CollectedAt  time.Time `json:"collected_at"`
}

// CheckpointLister abstracts the store method needed by the collector.
type CheckpointLister interface {
	List(ctx context.Context) ([]*model.Checkpoint, error)
}

// Collector builds snapshots from stored checkpoints.
type Collector struct {
	store      CheckpointLister
	staleAfter time.Duration
	now        func() time.Time
}

// NewCollector creates a Collector. Unfinished jobs whose checkpoint has not
// changed for staleAfter are reported as stale; zero means one hour.
func NewCollector(store CheckpointLister, staleAfter time.Duration) *Collector {
	if staleAfter <= 0 {
		staleAfter = time.Hour
	}
	return &Collector{store: store, staleAfter: staleAfter, now: time.Now}
}

// Collect gathers a snapshot.
func (c *Collector) Collect(ctx context.Context) (*Snapshot, error) {
	cps, err := c.store.List(ctx)
	if err != nil {
		return nil, eris.Wrap(err, "monitoring: list checkpoints")
	}

	now := c.now().UTC()
	snap := &Snapshot{StaleAfter: c.staleAfter, CollectedAt: now}
	for _, cp := range cps {
		snap.Jobs++
		snap.TotalCostUSD += cp.CumulativeCost

		h := JobHealth{
			JobID:     cp.JobID,
			Input:     filepath.Base(cp.Settings.InputPath),
			LastRow:   cp.LastRow,
			EndRow:    cp.Settings.EndRow,
			Completed: cp.Completed(),
			CostUSD:   cp.CumulativeCost,
			Budget:    cp.Settings.BudgetPerRow,
			UpdatedAt: cp.UpdatedAt,
		}
		if h.Completed > 0 {
			h.AvgCost = cp.CumulativeCost / float64(h.Completed)
		}

		if cp.Remaining() > 0 {
			snap.Unfinished++
			if now.Sub(cp.UpdatedAt) > c.staleAfter {
				snap.Stale = append(snap.Stale, h)
			}
		}
		if h.Budget > 0 && h.AvgCost > h.Budget {
			snap.OverBudget = append(snap.OverBudget, h)
		}
	}
	return snap, nil
}
