package constants

// RunStatus is the terminal (or pending) status of one conversion run.
type RunStatus string

// Stable values (stored as-is in conversion_run.status).
const (
	RunStatusPending    RunStatus = "PENDING"
	RunStatusAccepted   RunStatus = "ACCEPTED"
	RunStatusExhausted  RunStatus = "MAX_ITERATIONS_EXHAUSTED"
	RunStatusFatalError RunStatus = "FATAL_ERROR"
)

// IsTerminal reports whether s is one of the three exit states.
func (s RunStatus) IsTerminal() bool {
	return s == RunStatusAccepted || s == RunStatusExhausted || s == RunStatusFatalError
}

// JobStatus tracks a conversion submitted to the async queue.
type JobStatus string

const (
	JobStatusQueued  JobStatus = "QUEUED"
	JobStatusRunning JobStatus = "RUNNING"
	JobStatusDone    JobStatus = "DONE"   // workflow reached a terminal status
	JobStatusFailed  JobStatus = "FAILED" // pipeline error outside the workflow
)
