package cost

import (
	"sync"

	"github.com/rotisserie/eris"

	"github.com/sells-group/merchant-enrich/internal/model"
)

// ErrBudgetExceeded signals that projected spend for the remaining rows is
// above the configured ceiling.
var ErrBudgetExceeded = eris.New("cost: projected spend exceeds budget")

// Meter accumulates realized row costs for one job session. Charge is called
// only from the orchestrator's commit loop; reads are safe from any goroutine.
type Meter struct {
	table        Table
	budgetPerRow float64

	mu        sync.Mutex
	total     float64
	rows      int
	confirmed bool
}

// NewMeter creates a Meter for the given unit-cost table and budget.
func NewMeter(table Table, budgetPerRow float64) *Meter {
	return &Meter{table: table, budgetPerRow: budgetPerRow}
}

// Charge prices one row's calls, adds it to the session total and returns
// the row cost.
func (m *Meter) Charge(counts model.CallCounts) float64 {
	rowCost := m.table.Price(counts)
	m.mu.Lock()
	m.total += rowCost
	m.rows++
	m.mu.Unlock()
	return rowCost
}

// Restore seeds the meter from a checkpoint.
func (m *Meter) Restore(total float64, rows int) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.total = total
	m.rows = rows
}

// Total returns the session spend so far.
func (m *Meter) Total() float64 {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.total
}

// Rows returns the number of charged rows.
func (m *Meter) Rows() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.rows
}

// Average returns the realized cost per row, or 0 before any row.
func (m *Meter) Average() float64 {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.rows == 0 {
		return 0
	}
	return m.total / float64(m.rows)
}

// ShouldHalt reports whether continuing would exceed the budget ceiling:
// remaining rows times the average realized cost is compared against
// remaining rows times the per-row budget. A zero budget disables the check,
// as does Confirm.
func (m *Meter) ShouldHalt(remainingRows int) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.confirmed || m.budgetPerRow <= 0 || m.rows == 0 || remainingRows <= 0 {
		return false
	}
	avg := m.total / float64(m.rows)
	projected := avg * float64(remainingRows)
	ceiling := m.budgetPerRow * float64(remainingRows)
	return projected > ceiling
}

// Confirm disarms the budget check for the rest of the session.
func (m *Meter) Confirm() {
	m.mu.Lock()
	m.confirmed = true
	m.mu.Unlock()
}

// Confirmed reports whether overspend was explicitly confirmed.
func (m *Meter) Confirmed() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.confirmed
}
