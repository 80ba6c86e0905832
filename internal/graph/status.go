package graph

// Status is the lifecycle state of a job within a run.
type Status int

const (
	// StatusPending means the job has not been considered yet
	StatusPending Status = iota
	// StatusBlocked means the job is waiting on unfinished dependencies
	StatusBlocked
	// StatusReady means all dependencies succeeded and the job may dispatch
	StatusReady
	// StatusRunning means the job is executing
	StatusRunning
	// StatusSucceeded means all steps completed with exit status zero
	StatusSucceeded
	// StatusFailed means a step failed or the job timed out
	StatusFailed
	// StatusSkipped means a dependency failed/skipped or the guard was false
	StatusSkipped
	// StatusCancelled means the run was cancelled while the job was pending or running
	StatusCancelled
)

// String returns the lowercase status name used in journals and reports.
func (s Status) String() string {
	switch s {
	case StatusPending:
		return "pending"
	case StatusBlocked:
		return "blocked"
	case StatusReady:
		return "ready"
	case StatusRunning:
		return "running"
	case StatusSucceeded:
		return "succeeded"
	case StatusFailed:
		return "failed"
	case StatusSkipped:
		return "skipped"
	case StatusCancelled:
		return "cancelled"
	default:
		return "unknown"
	}
}

// Terminal reports whether the status is final for this run.
func (s Status) Terminal() bool {
	switch s {
	case StatusSucceeded, StatusFailed, StatusSkipped, StatusCancelled:
		return true
	}
	return false
}
