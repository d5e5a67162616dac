package retry_test

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rezkam/mono/internal/domain"
	"github.com/rezkam/mono/internal/retry"
)

type fakeJobStore struct {
	mu      sync.Mutex
	jobs    map[int64]*domain.Job
	history []domain.ExecutionHistoryEntry
}

func newFakeJobStore() *fakeJobStore {
	return &fakeJobStore{jobs: make(map[int64]*domain.Job)}
}

func (s *fakeJobStore) put(j *domain.Job) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.jobs[j.Key] = j
}

func (s *fakeJobStore) GetJob(_ context.Context, key int64, _ string) (*domain.Job, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	j, ok := s.jobs[key]
	if !ok {
		return nil, domain.ErrJobNotFound
	}
	return j, nil
}

func (s *fakeJobStore) SaveJob(_ context.Context, j *domain.Job) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.jobs[j.Key] = j
	return nil
}

func (s *fakeJobStore) AppendHistory(_ context.Context, e domain.ExecutionHistoryEntry) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.history = append(s.history, e)
	return nil
}

func (s *fakeJobStore) JobsAssignedTo(_ context.Context, workerID string, statuses []domain.JobStatus) ([]*domain.Job, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	statusSet := make(map[domain.JobStatus]bool, len(statuses))
	for _, st := range statuses {
		statusSet[st] = true
	}
	var out []*domain.Job
	for _, j := range s.jobs {
		if j.Binding != nil && j.Binding.WorkerID == workerID && statusSet[j.Status] {
			out = append(out, j)
		}
	}
	return out, nil
}

func (s *fakeJobStore) RunningLongerThan(_ context.Context, threshold time.Duration) ([]*domain.Job, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []*domain.Job
	for _, j := range s.jobs {
		if j.Status == domain.JobStatusRunning && time.Since(j.StartedAt) > threshold {
			out = append(out, j)
		}
	}
	return out, nil
}

type fakeDLQ struct {
	mu      sync.Mutex
	entries map[int64]domain.DeadLetterEntry
}

func newFakeDLQ() *fakeDLQ {
	return &fakeDLQ{entries: make(map[int64]domain.DeadLetterEntry)}
}

func (d *fakeDLQ) Put(_ context.Context, e domain.DeadLetterEntry) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.entries[e.JobKey] = e
	return nil
}

func (d *fakeDLQ) Remove(_ context.Context, jobKey int64) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	delete(d.entries, jobKey)
	return nil
}

func (d *fakeDLQ) Get(_ context.Context, jobKey int64) (*domain.DeadLetterEntry, bool, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	e, ok := d.entries[jobKey]
	if !ok {
		return nil, false, nil
	}
	return &e, true, nil
}

func TestHandleJobFailureSchedulesRetry(t *testing.T) {
	ctx := context.Background()
	store := newFakeJobStore()
	dlq := newFakeDLQ()
	now := time.Now()
	c := retry.New(store, dlq, retry.DefaultConfig(), func() time.Time { return now })

	j := &domain.Job{Key: 1, ID: "a", MaxRetries: 3, RetryCount: 0, Status: domain.JobStatusRunning}
	store.put(j)

	require.NoError(t, c.HandleJobFailure(ctx, j, "boom"))
	assert.Equal(t, domain.JobStatusPending, j.Status)
	assert.Equal(t, 1, j.RetryCount)
	assert.Nil(t, j.Binding)
	assert.True(t, j.ScheduledAt.After(now))
}

func TestHandleJobFailureMovesToDeadLetterWhenExhausted(t *testing.T) {
	ctx := context.Background()
	store := newFakeJobStore()
	dlq := newFakeDLQ()
	c := retry.New(store, dlq, retry.DefaultConfig(), nil)

	j := &domain.Job{Key: 1, ID: "a", MaxRetries: 2, RetryCount: 2, Status: domain.JobStatusRunning}
	store.put(j)

	require.NoError(t, c.HandleJobFailure(ctx, j, "boom"))
	assert.Equal(t, domain.JobStatusFailed, j.Status)
	entry, found, err := dlq.Get(ctx, 1)
	require.NoError(t, err)
	assert.True(t, found)
	assert.Equal(t, "maximum retry attempts exceeded", entry.FailureReason)
}

func TestHandleWorkerFailureReassignsJobs(t *testing.T) {
	ctx := context.Background()
	store := newFakeJobStore()
	dlq := newFakeDLQ()
	c := retry.New(store, dlq, retry.DefaultConfig(), nil)

	j := &domain.Job{
		Key: 1, ID: "a", Status: domain.JobStatusRunning,
		Binding: &domain.WorkerBinding{WorkerID: "w1"},
	}
	store.put(j)

	require.NoError(t, c.HandleWorkerFailure(ctx, "w1", nil))
	assert.Equal(t, domain.JobStatusPending, j.Status)
	assert.Nil(t, j.Binding)
}

func TestSweepStuckJobsTimesOutAndFails(t *testing.T) {
	ctx := context.Background()
	store := newFakeJobStore()
	dlq := newFakeDLQ()
	cfg := retry.DefaultConfig()
	cfg.StuckThreshold = time.Hour
	c := retry.New(store, dlq, cfg, nil)

	j := &domain.Job{
		Key: 1, ID: "a", Status: domain.JobStatusRunning,
		StartedAt: time.Now().Add(-3 * time.Hour), MaxRetries: 3,
	}
	store.put(j)

	n, err := c.SweepStuckJobs(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, n)
	assert.Equal(t, "Job execution timeout", j.ErrorMessage)
}

func TestRetryFromDeadLetter(t *testing.T) {
	ctx := context.Background()
	store := newFakeJobStore()
	dlq := newFakeDLQ()
	c := retry.New(store, dlq, retry.DefaultConfig(), nil)

	j := &domain.Job{Key: 1, ID: "a", Status: domain.JobStatusFailed, RetryCount: 5}
	store.put(j)
	require.NoError(t, dlq.Put(ctx, domain.DeadLetterEntry{JobKey: 1}))

	require.NoError(t, c.RetryFromDeadLetter(ctx, 1, true))
	assert.Equal(t, domain.JobStatusPending, j.Status)
	assert.Equal(t, 0, j.RetryCount)

	_, found, err := dlq.Get(ctx, 1)
	require.NoError(t, err)
	assert.False(t, found)
}

func TestRetryFromDeadLetterNotFound(t *testing.T) {
	ctx := context.Background()
	store := newFakeJobStore()
	dlq := newFakeDLQ()
	c := retry.New(store, dlq, retry.DefaultConfig(), nil)

	err := c.RetryFromDeadLetter(ctx, 999, false)
	assert.ErrorIs(t, err, domain.ErrDeadLetterNotFound)
}
