package model

import "time"

// EventKind names a job lifecycle event.
type EventKind string

const (
	EventRowCompleted  EventKind = "row-completed"
	EventPaused        EventKind = "paused"
	EventResumed       EventKind = "resumed"
	EventStopped       EventKind = "stopped"
	EventCompleted     EventKind = "completed"
	EventFailed        EventKind = "failed"
	EventBudgetWarning EventKind = "budget-warning"
)

// Event is emitted by the orchestrator to its caller.
type Event struct {
	Kind      EventKind
	JobID     string
	State     string
	Row       int
	Record    *MerchantRecord
	Output    []string
	RowCost   float64
	TotalCost float64
	Processed int
	Remaining int
	Err       string
	At        time.Time
}
