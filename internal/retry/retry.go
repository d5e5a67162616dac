// Package retry implements the failure and retry controller (§4.G):
// job-failure handling with exponential backoff plus partial jitter,
// dead-letter quarantine, worker-failure reassignment, and the stuck-job
// sweep. The backoff formula's code shape (capped exponential, then
// jittered) follows calculateRetryDelay; the jitter
// distribution itself is partial (U[0, 0.3] of the capped backoff), per
// spec.md's explicit formula, not a full-jitter distribution.
package retry

import (
	"context"
	"crypto/rand"
	"fmt"
	"math"
	"math/big"
	"time"

	"github.com/rezkam/mono/internal/domain"
)

// Config controls backoff and DLQ bounds (§4.G, §6).
type Config struct {
	BaseDelay      time.Duration
	Multiplier     float64
	MaxDelay       time.Duration
	DLQCapacity    int
	DLQTTL         time.Duration
	StuckThreshold time.Duration
}

// DefaultConfig matches §4.G's stated defaults.
func DefaultConfig() Config {
	return Config{
		BaseDelay:      5 * time.Second,
		Multiplier:     2,
		MaxDelay:       300 * time.Second,
		DLQCapacity:    1000,
		DLQTTL:         30 * 24 * time.Hour,
		StuckThreshold: 2 * time.Hour,
	}
}

// JobStore is the job-mutation surface the controller needs.
type JobStore interface {
	GetJob(ctx context.Context, key int64, id string) (*domain.Job, error)
	SaveJob(ctx context.Context, j *domain.Job) error
	AppendHistory(ctx context.Context, e domain.ExecutionHistoryEntry) error
	JobsAssignedTo(ctx context.Context, workerID string, statuses []domain.JobStatus) ([]*domain.Job, error)
	RunningLongerThan(ctx context.Context, threshold time.Duration) ([]*domain.Job, error)
}

// DeadLetterStore persists the bounded FIFO DLQ (§4.G).
type DeadLetterStore interface {
	Put(ctx context.Context, entry domain.DeadLetterEntry) error
	Remove(ctx context.Context, jobKey int64) error
	Get(ctx context.Context, jobKey int64) (*domain.DeadLetterEntry, bool, error)
}

// Requeuer re-enqueues a job that returned to PENDING after a retry delay
// elapses or after worker-failure reassignment.
type Requeuer interface {
	Enqueue(ctx context.Context, j *domain.Job) error
}

// Controller is the failure and retry controller.
type Controller struct {
	jobs JobStore
	dlq  DeadLetterStore
	cfg  Config
	now  func() time.Time
}

// New builds a Controller.
func New(jobs JobStore, dlq DeadLetterStore, cfg Config, now func() time.Time) *Controller {
	if now == nil {
		now = time.Now
	}
	return &Controller{jobs: jobs, dlq: dlq, cfg: cfg, now: now}
}

// backoffDelay computes the §4.G retry delay: exponential backoff capped
// at MaxDelay, then multiplied by 1 + a partial jitter factor drawn from
// [0, 0.3). retryCount is the new retry count (1-indexed attempt).
func (c *Controller) backoffDelay(retryCount int) time.Duration {
	backoff := float64(c.cfg.BaseDelay) * math.Pow(c.cfg.Multiplier, float64(retryCount-1))
	if backoff > float64(c.cfg.MaxDelay) {
		backoff = float64(c.cfg.MaxDelay)
	}

	jitter := partialJitter()
	delay := backoff * (1 + jitter)
	return time.Duration(delay)
}

// partialJitter draws a uniform value in [0, 0.3), the partial-jitter
// factor §4.G mandates, using crypto/rand, as calculateRetryDelay does.
func partialJitter() float64 {
	const precision = 1_000_000
	n, err := rand.Int(rand.Reader, big.NewInt(precision))
	if err != nil {
		return 0
	}
	return 0.3 * float64(n.Int64()) / float64(precision)
}

// HandleJobFailure implements the job-failure branch of §4.G: persist
// FAILED, append history, then either schedule a retry or move to the DLQ.
func (c *Controller) HandleJobFailure(ctx context.Context, j *domain.Job, errMsg string) error {
	now := c.now()
	j.Status = domain.JobStatusFailed
	j.ErrorMessage = errMsg
	j.UpdatedAt = now
	if err := c.jobs.SaveJob(ctx, j); err != nil {
		return fmt.Errorf("retry: persist failure: %w", err)
	}
	if err := c.jobs.AppendHistory(ctx, domain.ExecutionHistoryEntry{
		JobKey: &j.Key, JobName: j.Name, Kind: domain.EventJobFailed,
		Description: errMsg, Timestamp: now, RetryCount: j.RetryCount,
	}); err != nil {
		return fmt.Errorf("retry: append history: %w", err)
	}

	if j.RetryCount < j.MaxRetries {
		return c.scheduleRetry(ctx, j, now)
	}
	return c.moveToDeadLetter(ctx, j, now, "maximum retry attempts exceeded", errMsg)
}

func (c *Controller) scheduleRetry(ctx context.Context, j *domain.Job, now time.Time) error {
	j.RetryCount++
	delay := c.backoffDelay(j.RetryCount)

	j.Status = domain.JobStatusPending
	j.Binding = nil
	j.ScheduledAt = now.Add(delay)
	j.UpdatedAt = now
	if err := c.jobs.SaveJob(ctx, j); err != nil {
		return fmt.Errorf("retry: schedule retry: %w", err)
	}
	return c.jobs.AppendHistory(ctx, domain.ExecutionHistoryEntry{
		JobKey: &j.Key, JobName: j.Name, Kind: domain.EventJobRetry,
		Description: fmt.Sprintf("retry %d scheduled in %s", j.RetryCount, delay),
		Timestamp:   now, RetryCount: j.RetryCount,
	})
}

func (c *Controller) moveToDeadLetter(ctx context.Context, j *domain.Job, now time.Time, reason, errMsg string) error {
	workerID := ""
	if j.Binding != nil {
		workerID = j.Binding.WorkerID
	}
	entry := domain.DeadLetterEntry{
		JobKey:        j.Key,
		JobName:       j.Name,
		JobType:       j.Type,
		LastWorkerID:  workerID,
		RetryCount:    j.RetryCount,
		FailureReason: reason,
		ErrorMessage:  errMsg,
		CreatedAt:     now,
	}
	if err := c.dlq.Put(ctx, entry); err != nil {
		return fmt.Errorf("retry: move to dlq: %w", err)
	}
	return c.jobs.AppendHistory(ctx, domain.ExecutionHistoryEntry{
		JobKey: &j.Key, JobName: j.Name, Kind: domain.EventMovedToDLQ,
		Description: reason, Timestamp: now, RetryCount: j.RetryCount,
	})
}

// HandleWorkerFailure implements the worker-failure-reassignment branch of
// §4.G: for every job assigned to workerID in RUNNING or QUEUED, clear the
// binding, set PENDING, append JOB_REASSIGNED, and hand it to the
// requeuer for reassignment via component F.
func (c *Controller) HandleWorkerFailure(ctx context.Context, workerID string, requeue Requeuer) error {
	jobs, err := c.jobs.JobsAssignedTo(ctx, workerID, []domain.JobStatus{domain.JobStatusRunning, domain.JobStatusQueued})
	if err != nil {
		return fmt.Errorf("retry: list assigned jobs: %w", err)
	}

	now := c.now()
	for _, j := range jobs {
		j.Binding = nil
		j.Status = domain.JobStatusPending
		j.UpdatedAt = now
		if err := c.jobs.SaveJob(ctx, j); err != nil {
			return fmt.Errorf("retry: clear binding for job %s: %w", j.ID, err)
		}
		if err := c.jobs.AppendHistory(ctx, domain.ExecutionHistoryEntry{
			JobKey: &j.Key, JobName: j.Name, WorkerID: &workerID, Kind: domain.EventJobReassigned,
			Description: "worker failure reassignment", Timestamp: now,
		}); err != nil {
			return fmt.Errorf("retry: append reassignment history: %w", err)
		}
		if requeue != nil {
			if err := requeue.Enqueue(ctx, j); err != nil {
				return fmt.Errorf("retry: requeue job %s: %w", j.ID, err)
			}
		}
	}
	return nil
}

// SweepStuckJobs implements the §4.G periodic stuck-job sweep: jobs
// RUNNING longer than the configured threshold are timed out.
func (c *Controller) SweepStuckJobs(ctx context.Context) (int, error) {
	jobs, err := c.jobs.RunningLongerThan(ctx, c.cfg.StuckThreshold)
	if err != nil {
		return 0, fmt.Errorf("retry: sweep stuck jobs: %w", err)
	}

	now := c.now()
	for _, j := range jobs {
		if err := c.jobs.AppendHistory(ctx, domain.ExecutionHistoryEntry{
			JobKey: &j.Key, JobName: j.Name, Kind: domain.EventJobTimeout,
			Description: "job execution timeout", Timestamp: now, RetryCount: j.RetryCount,
		}); err != nil {
			return len(jobs), err
		}
		if err := c.HandleJobFailure(ctx, j, "Job execution timeout"); err != nil {
			return len(jobs), err
		}
	}
	return len(jobs), nil
}

// RetryFromDeadLetter removes a job from the DLQ, resets its binding, set
// it PENDING, optionally resets its retry count, and persists it so the
// dispatcher can re-enqueue it.
func (c *Controller) RetryFromDeadLetter(ctx context.Context, jobKey int64, resetRetryCount bool) error {
	_, found, err := c.dlq.Get(ctx, jobKey)
	if err != nil {
		return fmt.Errorf("retry: lookup dlq entry: %w", err)
	}
	if !found {
		return domain.ErrDeadLetterNotFound
	}

	j, err := c.jobs.GetJob(ctx, jobKey, "")
	if err != nil {
		return fmt.Errorf("retry: load job %d: %w", jobKey, err)
	}

	j.Binding = nil
	j.Status = domain.JobStatusPending
	j.ErrorMessage = ""
	if resetRetryCount {
		j.RetryCount = 0
	}
	j.UpdatedAt = c.now()
	if err := c.jobs.SaveJob(ctx, j); err != nil {
		return fmt.Errorf("retry: persist dlq retry: %w", err)
	}
	return c.dlq.Remove(ctx, jobKey)
}
