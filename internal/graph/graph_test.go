package graph_test

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rezkam/mono/internal/domain"
	"github.com/rezkam/mono/internal/graph"
)

type alwaysPending struct{}

func (alwaysPending) IsPending(int64) bool { return true }

// completedJobs reports every job as PENDING except those marked true.
type completedJobs map[int64]bool

func (c completedJobs) IsPending(k int64) bool { return !c[k] }

func newTestGraph() *graph.Graph {
	return graph.New(nil, nil, alwaysPending{})
}

func TestAddDependencyRejectsSelfLoop(t *testing.T) {
	g := newTestGraph()
	g.AddJob(1)
	err := g.AddDependency(context.Background(), 1, 1)
	assert.ErrorIs(t, err, graph.ErrSelfLoop)
}

func TestAddDependencyRejectsMissingJob(t *testing.T) {
	g := newTestGraph()
	g.AddJob(1)
	err := g.AddDependency(context.Background(), 1, 2)
	assert.ErrorIs(t, err, graph.ErrJobMissing)
}

func TestAddDependencyIdempotent(t *testing.T) {
	g := newTestGraph()
	g.AddJob(1)
	g.AddJob(2)
	require.NoError(t, g.AddDependency(context.Background(), 1, 2))
	require.NoError(t, g.AddDependency(context.Background(), 1, 2))
}

func TestAddDependencyRejectsCycle(t *testing.T) {
	g := newTestGraph()
	for _, k := range []int64{1, 2, 3} {
		g.AddJob(k)
	}
	require.NoError(t, g.AddDependency(context.Background(), 2, 1)) // 2 depends on 1
	require.NoError(t, g.AddDependency(context.Background(), 3, 2)) // 3 depends on 2
	err := g.AddDependency(context.Background(), 1, 3)              // 1 depends on 3 -> cycle
	assert.ErrorIs(t, err, graph.ErrWouldCreateCycle)
}

func TestReadySetAndMarkCompleted(t *testing.T) {
	done := completedJobs{}
	g := graph.New(nil, nil, done)
	for _, k := range []int64{1, 2, 3} {
		g.AddJob(k)
	}
	require.NoError(t, g.AddDependency(context.Background(), 2, 1))
	require.NoError(t, g.AddDependency(context.Background(), 3, 1))

	ready := g.ReadySet()
	assert.ElementsMatch(t, []int64{1}, ready)

	newlyReady := g.MarkCompleted(1)
	assert.ElementsMatch(t, []int64{2, 3}, newlyReady)
	done[1] = true

	ready = g.ReadySet()
	assert.ElementsMatch(t, []int64{2, 3}, ready)
}

func TestTopologicalOrder(t *testing.T) {
	g := newTestGraph()
	for _, k := range []int64{1, 2, 3, 4} {
		g.AddJob(k)
	}
	require.NoError(t, g.AddDependency(context.Background(), 2, 1))
	require.NoError(t, g.AddDependency(context.Background(), 3, 1))
	require.NoError(t, g.AddDependency(context.Background(), 4, 2))
	require.NoError(t, g.AddDependency(context.Background(), 4, 3))

	order := g.TopologicalOrder()
	require.Len(t, order, 4)

	pos := make(map[int64]int, len(order))
	for i, n := range order {
		pos[n] = i
	}
	assert.Less(t, pos[1], pos[2])
	assert.Less(t, pos[1], pos[3])
	assert.Less(t, pos[2], pos[4])
	assert.Less(t, pos[3], pos[4])
}

func TestExecutionPlanLayers(t *testing.T) {
	g := newTestGraph()
	for _, k := range []int64{1, 2, 3, 4} {
		g.AddJob(k)
	}
	require.NoError(t, g.AddDependency(context.Background(), 2, 1))
	require.NoError(t, g.AddDependency(context.Background(), 3, 1))
	require.NoError(t, g.AddDependency(context.Background(), 4, 2))
	require.NoError(t, g.AddDependency(context.Background(), 4, 3))

	layers := g.ExecutionPlan()
	require.Len(t, layers, 3)
	assert.ElementsMatch(t, []int64{1}, layers[0])
	assert.ElementsMatch(t, []int64{2, 3}, layers[1])
	assert.ElementsMatch(t, []int64{4}, layers[2])
}

func TestValidateDependencyAdditionWarnsOnFanOut(t *testing.T) {
	g := newTestGraph()
	g.AddJob(100)
	for i := int64(1); i <= 21; i++ {
		g.AddJob(i)
		require.NoError(t, g.AddDependency(context.Background(), i, 100))
	}
	g.AddJob(200)

	v := g.ValidateDependencyAddition(context.Background(), 200, 100)
	assert.True(t, v.OK)
	require.Len(t, v.Warnings, 1)
	assert.Contains(t, v.Warnings[0], "fan-out")
}

func TestValidateDependencyAdditionDetectsCycle(t *testing.T) {
	g := newTestGraph()
	for _, k := range []int64{1, 2} {
		g.AddJob(k)
	}
	require.NoError(t, g.AddDependency(context.Background(), 2, 1))

	v := g.ValidateDependencyAddition(context.Background(), 1, 2)
	assert.False(t, v.OK)
	assert.NotEmpty(t, v.CyclePath)
}

func TestAddJobDependencyNonBlockingDoesNotGateReadiness(t *testing.T) {
	g := newTestGraph()
	g.AddJob(1)
	g.AddJob(2)

	require.NoError(t, g.AddJobDependency(context.Background(), &domain.JobDependency{
		ChildKey: 2, ParentKey: 1, Kind: domain.DependencySoft, Blocking: false,
	}))

	assert.ElementsMatch(t, []int64{1, 2}, g.ReadySet())
}

func TestAddJobDependencyRejectsUnknownKind(t *testing.T) {
	g := newTestGraph()
	g.AddJob(1)
	g.AddJob(2)

	err := g.AddJobDependency(context.Background(), &domain.JobDependency{
		ChildKey: 2, ParentKey: 1, Kind: domain.DependencyKind("BOGUS"), Blocking: true,
	})
	assert.Error(t, err)
}

func TestMarkFailedBlockLeavesChildBlocked(t *testing.T) {
	g := newTestGraph()
	g.AddJob(1)
	g.AddJob(2)
	require.NoError(t, g.AddJobDependency(context.Background(), &domain.JobDependency{
		ChildKey: 2, ParentKey: 1, Kind: domain.DependencyMustSucceed,
		Blocking: true, OnFailureAction: domain.OnFailureBlock,
	}))

	outcome := g.MarkFailed(1)
	assert.Equal(t, []int64{2}, outcome.Blocked)
	assert.Empty(t, outcome.Freed)
	assert.NotContains(t, g.ReadySet(), int64(2))
}

func TestMarkFailedProceedFreesChild(t *testing.T) {
	g := newTestGraph()
	g.AddJob(1)
	g.AddJob(2)
	require.NoError(t, g.AddJobDependency(context.Background(), &domain.JobDependency{
		ChildKey: 2, ParentKey: 1, Kind: domain.DependencyConditional,
		Blocking: true, OnFailureAction: domain.OnFailureProceed,
	}))

	outcome := g.MarkFailed(1)
	assert.Equal(t, []int64{2}, outcome.Freed)
	assert.Contains(t, g.ReadySet(), int64(2))
}

func TestMarkFailedRetryLeavesChildPending(t *testing.T) {
	g := newTestGraph()
	g.AddJob(1)
	g.AddJob(2)
	require.NoError(t, g.AddJobDependency(context.Background(), &domain.JobDependency{
		ChildKey: 2, ParentKey: 1, Kind: domain.DependencyMustSucceed,
		Blocking: true, OnFailureAction: domain.OnFailureRetry,
	}))

	outcome := g.MarkFailed(1)
	assert.Equal(t, []int64{2}, outcome.Pending)
	assert.Empty(t, outcome.Freed)
	assert.NotContains(t, g.ReadySet(), int64(2))
}

func TestRemoveDependency(t *testing.T) {
	g := newTestGraph()
	g.AddJob(1)
	g.AddJob(2)
	require.NoError(t, g.AddDependency(context.Background(), 2, 1))
	require.NoError(t, g.RemoveDependency(context.Background(), 2, 1))

	ready := g.ReadySet()
	assert.ElementsMatch(t, []int64{1, 2}, ready)
}
