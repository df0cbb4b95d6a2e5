package domain

import "time"

// JobStatus is the lifecycle state of an ingestion job.
type JobStatus string

// Job states. Succeeded, failed and cancelled are terminal.
const (
	JobPending   JobStatus = "pending"
	JobRunning   JobStatus = "running"
	JobSucceeded JobStatus = "succeeded"
	JobFailed    JobStatus = "failed"
	JobCancelled JobStatus = "cancelled"
)

// IsTerminal reports whether no further transition is allowed.
func (s JobStatus) IsTerminal() bool {
	switch s {
	case JobSucceeded, JobFailed, JobCancelled:
		return true
	}
	return false
}

// IsActive reports whether the job holds its Source's single active slot.
func (s JobStatus) IsActive() bool {
	return s == JobPending || s == JobRunning
}

// CanTransition reports whether from -> to is a legal edge.
//
//	pending -> running | cancelled
//	running -> succeeded | failed | cancelled
func CanTransition(from, to JobStatus) bool {
	switch from {
	case JobPending:
		return to == JobRunning || to == JobCancelled || to == JobFailed
	case JobRunning:
		return to == JobSucceeded || to == JobFailed || to == JobCancelled
	}
	return false
}

// JobCounters tracks item progress within one job.
type JobCounters struct {
	ItemsSeen      int
	ItemsProcessed int
	ItemsSkipped   int
	ChunksWritten  int
}

// Job is one execution attempt against a Source.
// Retrying a failed or cancelled job creates a new Job linked by RetryOf.
type Job struct {
	ID       string
	TenantID TenantID
	SourceID string
	Status   JobStatus

	// RetryOf is the ID of the job this attempt retries.
	RetryOf string

	Counters JobCounters

	// LastError is the fatal error message for failed jobs.
	LastError string

	// CancelRequested is set by Cancel and observed at item boundaries.
	CancelRequested bool

	CreatedAt  time.Time
	StartedAt  *time.Time
	FinishedAt *time.Time
}

// Duration returns the run time of a started job.
func (j *Job) Duration() time.Duration {
	if j.StartedAt == nil {
		return 0
	}
	end := time.Now()
	if j.FinishedAt != nil {
		end = *j.FinishedAt
	}
	return end.Sub(*j.StartedAt)
}

// JobFilter narrows ListJobs. Zero values match everything.
type JobFilter struct {
	SourceID string
	Status   JobStatus
	Limit    int
}

// LogLevel is the severity of a job log entry.
type LogLevel string

// Job log levels.
const (
	LogInfo  LogLevel = "info"
	LogWarn  LogLevel = "warn"
	LogError LogLevel = "error"
)

// JobLogEntry is one structured line in a job's log.
type JobLogEntry struct {
	ID      int64
	JobID   string
	Level   LogLevel
	ItemKey string
	Message string
	At      time.Time
}
