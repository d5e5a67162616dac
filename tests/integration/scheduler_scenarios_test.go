// Package integration exercises the core subsystems together against the
// concrete scenarios enumerated in spec.md §8, wired the way
// internal/app.Build wires them but against bare in-memory components so
// each scenario can control its own clock and job set precisely.
package integration

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rezkam/mono/internal/advanced"
	cachememory "github.com/rezkam/mono/internal/cache/memory"
	"github.com/rezkam/mono/internal/dispatch"
	"github.com/rezkam/mono/internal/domain"
	"github.com/rezkam/mono/internal/fleet"
	"github.com/rezkam/mono/internal/graph"
	"github.com/rezkam/mono/internal/queue"
	"github.com/rezkam/mono/internal/retry"
	storememory "github.com/rezkam/mono/internal/store/memory"
)

func newJob(key int64, id string, priority int) *domain.Job {
	return &domain.Job{
		Key:        key,
		ID:         id,
		Name:       id,
		Type:       "batch",
		Parameters: map[string]any{},
		Priority:   priority,
		MaxRetries: 3,
		CreatedAt:  time.Now(),
		UpdatedAt:  time.Now(),
		Status:     domain.JobStatusPending,
	}
}

// Scenario 1: cycle rejection. B->A, C->B accepted; A->C rejected.
func TestCycleRejection(t *testing.T) {
	ctx := context.Background()
	store := storememory.New()
	g := graph.New(store, nil, store)

	a, b, c := newJob(1, "A", domain.PriorityMedium), newJob(2, "B", domain.PriorityMedium), newJob(3, "C", domain.PriorityMedium)
	for _, j := range []*domain.Job{a, b, c} {
		require.NoError(t, store.PutJob(ctx, j))
		g.AddJob(j.Key)
	}

	require.NoError(t, g.AddDependency(ctx, b.Key, a.Key))
	require.NoError(t, g.AddDependency(ctx, c.Key, b.Key))

	err := g.AddDependency(ctx, a.Key, c.Key)
	require.Error(t, err)
	assert.ErrorIs(t, err, graph.ErrWouldCreateCycle)

	// graph unchanged: A still has no recorded parent
	assert.Empty(t, g.Parents(a.Key))
}

// Scenario 2: dependency release. B->A, markCompleted(A) frees B.
func TestDependencyRelease(t *testing.T) {
	ctx := context.Background()
	store := storememory.New()
	g := graph.New(store, nil, store)

	a, b := newJob(1, "A", domain.PriorityMedium), newJob(2, "B", domain.PriorityMedium)
	for _, j := range []*domain.Job{a, b} {
		require.NoError(t, store.PutJob(ctx, j))
		g.AddJob(j.Key)
	}
	require.NoError(t, g.AddDependency(ctx, b.Key, a.Key))

	assert.ElementsMatch(t, []int64{a.Key}, g.ReadySet(), "only A is ready; B is blocked until A completes")

	freed := g.MarkCompleted(a.Key)
	require.Equal(t, []int64{b.Key}, freed)
	assert.Contains(t, g.ReadySet(), b.Key)
}

// Scenario 3: retry then DLQ. max-retries=2, base-delay=1s, multiplier=2.
func TestRetryThenDeadLetter(t *testing.T) {
	ctx := context.Background()
	store := storememory.New()
	now := time.Now()
	clock := func() time.Time { return now }

	j := newJob(1, "J", domain.PriorityMedium)
	j.MaxRetries = 2
	require.NoError(t, store.PutJob(ctx, j))

	cfg := retry.Config{BaseDelay: time.Second, Multiplier: 2, MaxDelay: 300 * time.Second}
	rc := retry.New(store, store, cfg, clock)

	for i := 0; i < 3; i++ {
		updated, err := store.GetJob(ctx, j.Key, j.ID)
		require.NoError(t, err)
		require.NoError(t, rc.HandleJobFailure(ctx, updated, "boom"))
		j = updated
	}

	final, err := store.GetJob(ctx, j.Key, j.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.JobStatusFailed, final.Status)

	entry, ok, err := store.Get(ctx, 1)
	require.NoError(t, err)
	require.True(t, ok, "job should be in the dead-letter queue after retries exhausted")
	assert.Equal(t, 1, store.DeadLetterCount())
	assert.Contains(t, entry.FailureReason, "maximum retry attempts exceeded")
}

// Scenario 4: worker loss reassignment.
func TestWorkerLossReassignment(t *testing.T) {
	ctx := context.Background()
	store := storememory.New()
	now := time.Now()
	clock := func() time.Time { return now }

	w1 := &domain.Worker{ID: "w1", Name: "w1", MaxConcurrentJobs: 2, Status: domain.WorkerStatusActive, LastHeartbeat: now.Add(-10 * time.Minute), AssignedJobs: map[string]struct{}{}}
	w2 := &domain.Worker{ID: "w2", Name: "w2", MaxConcurrentJobs: 2, Status: domain.WorkerStatusActive, LastHeartbeat: now, AssignedJobs: map[string]struct{}{}}
	require.NoError(t, store.SaveWorker(ctx, w1))
	require.NoError(t, store.SaveWorker(ctx, w2))

	j := newJob(1, "J", domain.PriorityMedium)
	j.Status = domain.JobStatusRunning
	require.NoError(t, store.PutJob(ctx, j))
	require.NoError(t, store.BindJob(ctx, j, w1))

	fl := fleet.New(store, cachememory.New(), fleet.DefaultConfig(), clock)
	var report fleet.HealthReport
	for i := 0; i < fleet.DefaultConfig().ConsecutiveFailureMax; i++ {
		report = fl.HealthCheck(w1)
	}
	require.Equal(t, fleet.OutcomeFailed, report.Outcome, "w1's heartbeat is 10m stale, past the 5m default timeout, for 3 consecutive checks")
	require.NoError(t, fl.HandleFailure(ctx, w1))

	bal := dispatch.New(store, store, dispatch.StrategyLeastConnections, clock)
	rc := retry.New(store, store, retry.DefaultConfig(), clock)

	var requeued []*domain.Job
	requeue := requeuerFunc(func(_ context.Context, j *domain.Job) error {
		requeued = append(requeued, j)
		return nil
	})
	require.NoError(t, rc.HandleWorkerFailure(ctx, w1.ID, requeue))
	require.Len(t, requeued, 1)

	freed, err := store.GetJob(ctx, j.Key, j.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.JobStatusPending, freed.Status)
	assert.Nil(t, freed.Binding)

	w, err := bal.Assign(ctx, freed)
	require.NoError(t, err)
	assert.Equal(t, "w2", w.ID, "w2 is the only healthy candidate left once w1 failed")
}

// requeuerFunc adapts a plain function to retry.Requeuer, the way ad-hoc
// callbacks are adapted elsewhere in this codebase's own test files.
type requeuerFunc func(ctx context.Context, j *domain.Job) error

func (f requeuerFunc) Enqueue(ctx context.Context, j *domain.Job) error { return f(ctx, j) }

// Scenario 5: priority score urgency — a job with a retry penalty scores
// less urgently than a fresh job of equal base priority and age.
func TestPriorityScoreUrgency(t *testing.T) {
	now := time.Now()
	x := newJob(1, "X", domain.PriorityMedium)
	x.CreatedAt = now.Add(-60 * time.Minute)
	y := newJob(2, "Y", domain.PriorityMedium)
	y.CreatedAt = now.Add(-60 * time.Minute)
	y.RetryCount = 1

	scoreX := queue.Score(x, now)
	scoreY := queue.Score(y, now)
	assert.Less(t, scoreX, scoreY, "X (no retries) must be more urgent than Y (one retry) at equal age")
}

// Scenario 6: resource admission. max=2; G3 waits for G1's completion.
func TestResourceAdmission(t *testing.T) {
	admission := advanced.NewResourceAdmission()
	admission.Register(&domain.ResourceConstraint{Name: "gpu", MaxConcurrent: 2})

	// Type is cleared so ResourceClass falls through to the resource:<class>
	// tag (parameters["resourceType"] then job-type then tag, per §4.J).
	g1 := newJob(1, "G1", domain.PriorityMedium)
	g1.Type, g1.Tags = "", []string{"resource:gpu"}
	g2 := newJob(2, "G2", domain.PriorityMedium)
	g2.Type, g2.Tags = "", []string{"resource:gpu"}
	g3 := newJob(3, "G3", domain.PriorityMedium)
	g3.Type, g3.Tags = "", []string{"resource:gpu"}

	assert.True(t, admission.TryAdmit(g1))
	assert.True(t, admission.TryAdmit(g2))
	assert.False(t, admission.TryAdmit(g3), "gpu constraint is full at max=2")

	c, ok := admission.Constraint("gpu")
	require.True(t, ok)
	assert.Equal(t, 2, c.CurrentUsage)
	assert.Equal(t, []string{g3.Reference()}, c.Waiting)

	nextRef, ok := admission.Release("gpu")
	require.True(t, ok, "G3 heads the FIFO and is popped once G1 releases its slot")
	assert.Equal(t, g3.Reference(), nextRef)
}
