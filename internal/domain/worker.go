package domain

import (
	"fmt"
	"strings"
	"time"
)

// WorkerStatus is the closed set of fleet states a Worker moves through.
type WorkerStatus string

const (
	WorkerStatusActive      WorkerStatus = "ACTIVE"
	WorkerStatusIdle        WorkerStatus = "IDLE"
	WorkerStatusBusy        WorkerStatus = "BUSY"
	WorkerStatusMaintenance WorkerStatus = "MAINTENANCE"
	WorkerStatusInactive    WorkerStatus = "INACTIVE"
	WorkerStatusError       WorkerStatus = "ERROR"
)

// NewWorkerStatus validates and creates a WorkerStatus.
func NewWorkerStatus(s string) (WorkerStatus, error) {
	status := WorkerStatus(strings.ToUpper(s))
	switch status {
	case WorkerStatusActive, WorkerStatusIdle, WorkerStatusBusy,
		WorkerStatusMaintenance, WorkerStatusInactive, WorkerStatusError:
		return status, nil
	default:
		return "", fmt.Errorf("%w: invalid worker status %q", ErrInvalidID, s)
	}
}

// Worker is the fleet registry's aggregate for a single remote worker.
type Worker struct {
	ID   string
	Name string
	Host string
	Port int

	MaxConcurrentJobs int
	CurrentJobCount   int
	AssignedJobs      map[string]struct{}

	Status          WorkerStatus
	LastHeartbeat   time.Time
	TotalProcessed  int64
	TotalSucceeded  int64
	TotalFailed     int64
	AvgExecTime     time.Duration
	PriorityThresh  int
	LoadFactor      float64
	Capabilities    string
	Version         string

	CPUUsage    float64
	MemoryUsage float64
	ErrorCount  int
}

// AvailableCapacity is the derived slack in the worker's job count.
func (w *Worker) AvailableCapacity() int {
	avail := w.MaxConcurrentJobs - w.CurrentJobCount
	if avail < 0 {
		return 0
	}
	return avail
}

// LoadPercentage is the derived fractional utilization, expressed 0-100.
func (w *Worker) LoadPercentage() float64 {
	if w.MaxConcurrentJobs <= 0 {
		return 100
	}
	return 100 * float64(w.CurrentJobCount) / float64(w.MaxConcurrentJobs)
}

// SuccessRate is the derived fraction (0-100) of completed jobs that
// succeeded. A worker with no completed jobs is treated as 100% (optimistic
// prior), matching a preference for conservative defaults that
// do not unfairly exclude fresh workers from dispatch.
func (w *Worker) SuccessRate() float64 {
	total := w.TotalSucceeded + w.TotalFailed
	if total == 0 {
		return 100
	}
	return 100 * float64(w.TotalSucceeded) / float64(total)
}

// CapacityInvariant reports whether 0 <= current <= max holds.
func (w *Worker) CapacityInvariant() bool {
	return w.CurrentJobCount >= 0 && w.CurrentJobCount <= w.MaxConcurrentJobs
}

// RegistrationRequest is the worker-facing registration payload (§6).
type RegistrationRequest struct {
	WorkerID          string
	Name              string
	Host              string
	Port              int
	MaxConcurrentJobs int
	Capabilities      string
	Tags              []string
	Version           string
	PriorityThreshold int
	LoadFactor        float64
}

// Validate checks the registration payload against §4.E's field rules.
func (r RegistrationRequest) Validate() error {
	if strings.TrimSpace(r.WorkerID) == "" {
		return fmt.Errorf("%w: worker-id is required", ErrInvalidWorker)
	}
	if strings.TrimSpace(r.Name) == "" {
		return fmt.Errorf("%w: name is required", ErrInvalidWorker)
	}
	if r.MaxConcurrentJobs < 1 || r.MaxConcurrentJobs > 100 {
		return fmt.Errorf("%w: max-concurrent-jobs must be in [1, 100]", ErrInvalidWorker)
	}
	if r.Port != 0 && (r.Port < 1 || r.Port > 65535) {
		return fmt.Errorf("%w: port must be in [1, 65535]", ErrInvalidWorker)
	}
	if r.LoadFactor != 0 && (r.LoadFactor < 0.1 || r.LoadFactor > 2.0) {
		return fmt.Errorf("%w: load-factor must be in [0.1, 2.0]", ErrInvalidWorker)
	}
	return nil
}

// HeartbeatPayload is the worker-facing heartbeat payload (§6).
type HeartbeatPayload struct {
	Status            *WorkerStatus
	CurrentJobCount   *int
	AvailableCapacity *int
	CPUUsage          *float64
	MemoryUsage       *float64
	ErrorCount        *int
}
