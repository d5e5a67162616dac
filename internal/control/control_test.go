package control_test

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rezkam/mono/internal/cache/memory"
	"github.com/rezkam/mono/internal/control"
	"github.com/rezkam/mono/internal/domain"
	"github.com/rezkam/mono/internal/queue"
)

type fakeJobStore struct {
	mu   sync.Mutex
	jobs map[string]*domain.Job
}

func newFakeJobStore() *fakeJobStore { return &fakeJobStore{jobs: make(map[string]*domain.Job)} }

func (s *fakeJobStore) put(j *domain.Job) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.jobs[j.Reference()] = j
}

func (s *fakeJobStore) GetJob(_ context.Context, key int64, id string) (*domain.Job, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	ref := domain.Job{Key: key, ID: id}.Reference()
	j, ok := s.jobs[ref]
	if !ok {
		return nil, domain.ErrJobNotFound
	}
	return j, nil
}

func (s *fakeJobStore) SetStatus(_ context.Context, key int64, id string, status domain.JobStatus, ts time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	ref := domain.Job{Key: key, ID: id}.Reference()
	j, ok := s.jobs[ref]
	if !ok {
		return domain.ErrJobNotFound
	}
	j.Status = status
	return nil
}

type fakeAssigner struct {
	assigned []string
	fail     map[string]bool
}

func (f *fakeAssigner) Assign(_ context.Context, j *domain.Job) (*domain.Worker, error) {
	if f.fail[j.ID] {
		return nil, domain.ErrNoCandidateWorker
	}
	f.assigned = append(f.assigned, j.ID)
	return &domain.Worker{ID: "w1"}, nil
}

func TestTickDispatchesHighBeforeLow(t *testing.T) {
	ctx := context.Background()
	c := memory.New()
	store := newFakeJobStore()
	now := time.Now()
	q := queue.New(c, store, func() time.Time { return now })

	high := &domain.Job{Key: 1, ID: "high", Priority: domain.PriorityHigh, CreatedAt: now, Status: domain.JobStatusPending}
	low := &domain.Job{Key: 2, ID: "low", Priority: domain.PriorityLow, CreatedAt: now, Status: domain.JobStatusPending}
	store.put(high)
	store.put(low)
	require.NoError(t, q.Enqueue(ctx, high))
	require.NoError(t, q.Enqueue(ctx, low))

	assigner := &fakeAssigner{}
	deps := control.Dependencies{Queue: q, Assigner: assigner}
	loop := control.New(control.DefaultConfig(), deps, nil, func() time.Time { return now })

	// Access the unexported tick indirectly via Run with a short-lived
	// context: several TickIntervals elapse; the first tick dispatches both
	// jobs and later ticks find the queue empty.
	cfg := control.DefaultConfig()
	cfg.TickInterval = 10 * time.Millisecond
	loop = control.New(cfg, deps, nil, func() time.Time { return now })

	runCtx, cancel := context.WithTimeout(ctx, 50*time.Millisecond)
	defer cancel()
	loop.Run(runCtx)

	assert.Contains(t, assigner.assigned, "high")
	assert.Contains(t, assigner.assigned, "low")
	require.Len(t, assigner.assigned, 2)
	assert.Equal(t, "high", assigner.assigned[0], "HIGH band must dispatch before LOW")
}

func TestTickRequeuesUnassignableJobAndStopsBand(t *testing.T) {
	ctx := context.Background()
	c := memory.New()
	store := newFakeJobStore()
	now := time.Now()
	q := queue.New(c, store, func() time.Time { return now })

	j1 := &domain.Job{Key: 1, ID: "a", Priority: domain.PriorityHigh, CreatedAt: now, Status: domain.JobStatusPending}
	j2 := &domain.Job{Key: 2, ID: "b", Priority: domain.PriorityHigh, CreatedAt: now, Status: domain.JobStatusPending}
	store.put(j1)
	store.put(j2)
	require.NoError(t, q.Enqueue(ctx, j1))
	require.NoError(t, q.Enqueue(ctx, j2))

	assigner := &fakeAssigner{fail: map[string]bool{"a": true}}
	cfg := control.DefaultConfig()
	cfg.TickInterval = 10 * time.Millisecond
	loop := control.New(cfg, control.Dependencies{Queue: q, Assigner: assigner}, nil, func() time.Time { return now })

	runCtx, cancel := context.WithTimeout(ctx, 30*time.Millisecond)
	defer cancel()
	loop.Run(runCtx)

	assert.Empty(t, assigner.assigned, "first job in the band fails to assign, so the band breaks before trying the second")
}
