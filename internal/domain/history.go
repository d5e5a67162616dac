package domain

import "time"

// HistoryEventKind is the closed set of execution-history event kinds (§3).
type HistoryEventKind string

const (
	EventJobFailed     HistoryEventKind = "JOB_FAILED"
	EventMovedToDLQ    HistoryEventKind = "MOVED_TO_DLQ"
	EventWorkerFailed  HistoryEventKind = "WORKER_FAILED"
	EventJobReassigned HistoryEventKind = "JOB_REASSIGNED"
	EventJobTimeout    HistoryEventKind = "JOB_TIMEOUT"
	EventJobRetry      HistoryEventKind = "JOB_RETRY"
	EventJobRecovered  HistoryEventKind = "JOB_RECOVERED"
)

// ExecutionHistoryEntry is an append-only audit record (§3).
type ExecutionHistoryEntry struct {
	ID             int64
	JobKey         *int64
	JobName        string
	WorkerID       *string
	Kind           HistoryEventKind
	Description    string
	Details        map[string]any
	ExceptionClass string
	Timestamp      time.Time
	RetryCount     int
}

// DeadLetterEntry is a quarantined job whose retries are exhausted (§3).
type DeadLetterEntry struct {
	JobKey           int64
	JobName          string
	JobType          string
	LastWorkerID     string
	RetryCount       int
	FailureReason    string
	ErrorMessage     string
	CreatedAt        time.Time
}
