package queue_test

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rezkam/mono/internal/cache/memory"
	"github.com/rezkam/mono/internal/domain"
	"github.com/rezkam/mono/internal/queue"
)

type fakeStore struct {
	mu   sync.Mutex
	jobs map[string]*domain.Job
}

func newFakeStore() *fakeStore {
	return &fakeStore{jobs: make(map[string]*domain.Job)}
}

func (s *fakeStore) put(j *domain.Job) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.jobs[j.Reference()] = j
}

func (s *fakeStore) GetJob(_ context.Context, key int64, id string) (*domain.Job, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	ref := domain.Job{Key: key, ID: id}.Reference()
	j, ok := s.jobs[ref]
	if !ok {
		return nil, domain.ErrJobNotFound
	}
	cp := *j
	return &cp, nil
}

func (s *fakeStore) SetStatus(_ context.Context, key int64, id string, status domain.JobStatus, ts time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	ref := domain.Job{Key: key, ID: id}.Reference()
	j, ok := s.jobs[ref]
	if !ok {
		return domain.ErrJobNotFound
	}
	j.Status = status
	if status == domain.JobStatusQueued {
		j.QueuedAt = ts
	}
	return nil
}

func TestScoreOrientationLowerIsMoreUrgent(t *testing.T) {
	now := time.Now()
	high := &domain.Job{Priority: domain.PriorityHigh, CreatedAt: now}
	low := &domain.Job{Priority: domain.PriorityLow, CreatedAt: now}
	assert.Less(t, queue.Score(high, now), queue.Score(low, now))
}

func TestScoreClampsAtZero(t *testing.T) {
	now := time.Now()
	j := &domain.Job{Priority: domain.PriorityHigh, CreatedAt: now.Add(-100 * time.Hour)}
	assert.GreaterOrEqual(t, queue.Score(j, now), 0.0)
}

func TestScoreRetryPenalty(t *testing.T) {
	now := time.Now()
	fresh := &domain.Job{Priority: domain.PriorityMedium, CreatedAt: now}
	retried := &domain.Job{Priority: domain.PriorityMedium, CreatedAt: now, RetryCount: 2}
	assert.Greater(t, queue.Score(retried, now), queue.Score(fresh, now))
}

func TestEnqueuePopHighestOrdering(t *testing.T) {
	ctx := context.Background()
	c := memory.New()
	store := newFakeStore()
	now := time.Now()
	q := queue.New(c, store, func() time.Time { return now })

	high := &domain.Job{Key: 1, ID: "a", Priority: domain.PriorityHigh, CreatedAt: now, Status: domain.JobStatusPending}
	low := &domain.Job{Key: 2, ID: "b", Priority: domain.PriorityLow, CreatedAt: now, Status: domain.JobStatusPending}
	store.put(high)
	store.put(low)

	require.NoError(t, q.Enqueue(ctx, low))
	require.NoError(t, q.Enqueue(ctx, high))

	popped, err := q.PopHighest(ctx)
	require.NoError(t, err)
	require.NotNil(t, popped)
	assert.Equal(t, "a", popped.ID, "higher priority job must pop first")
	assert.Equal(t, domain.JobStatusRunning, popped.Status)
}

func TestPopHighestEmptyReturnsNil(t *testing.T) {
	ctx := context.Background()
	q := queue.New(memory.New(), newFakeStore(), nil)
	j, err := q.PopHighest(ctx)
	require.NoError(t, err)
	assert.Nil(t, j)
}

func TestMoveToCompletedAndCleanup(t *testing.T) {
	ctx := context.Background()
	c := memory.New()
	store := newFakeStore()
	now := time.Now()
	q := queue.New(c, store, func() time.Time { return now })

	j := &domain.Job{Key: 1, ID: "a", Priority: domain.PriorityHigh, CreatedAt: now, Status: domain.JobStatusPending}
	store.put(j)
	require.NoError(t, q.Enqueue(ctx, j))
	popped, err := q.PopHighest(ctx)
	require.NoError(t, err)
	require.NotNil(t, popped)

	require.NoError(t, q.MoveToCompleted(ctx, popped.Reference()))

	sizes, err := q.Sizes(ctx)
	require.NoError(t, err)
	assert.EqualValues(t, 0, sizes.Processing)
	assert.EqualValues(t, 1, sizes.Completed)
}

func TestAcquireReleaseJobLock(t *testing.T) {
	ctx := context.Background()
	q := queue.New(memory.New(), newFakeStore(), nil)

	ok, err := q.AcquireJobLock(ctx, 1, "a", time.Minute)
	require.NoError(t, err)
	assert.True(t, ok)

	ok, err = q.AcquireJobLock(ctx, 1, "a", time.Minute)
	require.NoError(t, err)
	assert.False(t, ok, "lock must not be re-acquirable while held")

	require.NoError(t, q.ReleaseJobLock(ctx, 1, "a"))
	ok, err = q.AcquireJobLock(ctx, 1, "a", time.Minute)
	require.NoError(t, err)
	assert.True(t, ok)
}
