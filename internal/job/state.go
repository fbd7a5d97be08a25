package job

import "github.com/rotisserie/eris"

// State is the lifecycle state of a job.
type State string

const (
	StateIdle      State = "idle"
	StateRunning   State = "running"
	StatePaused    State = "paused"
	StateCompleted State = "completed"
	StateFailed    State = "failed"
	StateStopped   State = "stopped"
)

// Terminal reports whether no further transitions are possible.
func (s State) Terminal() bool {
	return s == StateCompleted || s == StateFailed || s == StateStopped
}

var (
	// ErrInvalidTransition is returned when a control call does not apply to
	// the job's current state.
	ErrInvalidTransition = eris.New("job: invalid state transition")
	// ErrCheckpointMismatch marks a stored checkpoint whose settings
	// signature differs from the job's. The job starts fresh.
	ErrCheckpointMismatch = eris.New("job: checkpoint does not match settings")
	// ErrStorage marks an unrecoverable checkpoint store failure.
	ErrStorage = eris.New("job: checkpoint storage failed")
)

// haltReason says why a dispatch segment ended.
type haltReason int

const (
	haltEnd haltReason = iota
	haltPause
	haltBudget
	haltStop
	haltCanceled
	haltFailed
)
