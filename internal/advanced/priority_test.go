package advanced_test

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/rezkam/mono/internal/advanced"
	"github.com/rezkam/mono/internal/domain"
)

type fakeAncestry struct {
	priority map[int64]int
	parents  map[int64][]int64
}

func (f *fakeAncestry) Priority(jobKey int64) (int, bool) {
	p, ok := f.priority[jobKey]
	return p, ok
}

func (f *fakeAncestry) Parents(jobKey int64) []int64 {
	return f.parents[jobKey]
}

func TestPriorityInheritanceMaxPriority(t *testing.T) {
	ancestry := &fakeAncestry{
		priority: map[int64]int{1: domain.PriorityLow, 2: domain.PriorityHigh, 3: domain.PriorityMedium},
		parents:  map[int64][]int64{1: {2, 3}},
	}
	inh := advanced.NewPriorityInheritance(advanced.InheritanceConfig{Strategy: advanced.InheritMaxPriority, MaxDepth: 5}, ancestry)

	assert.Equal(t, domain.PriorityHigh, inh.Effective(1))
}

func TestPriorityInheritanceNeverLowersOwnPriority(t *testing.T) {
	ancestry := &fakeAncestry{
		priority: map[int64]int{1: domain.PriorityHigh, 2: domain.PriorityLow},
		parents:  map[int64][]int64{1: {2}},
	}
	inh := advanced.NewPriorityInheritance(advanced.DefaultInheritanceConfig(), ancestry)

	assert.Equal(t, domain.PriorityHigh, inh.Effective(1))
}

func TestPriorityInheritanceDepthCap(t *testing.T) {
	// A chain 1 <- 2 <- 3 <- ... where only the deepest ancestor (beyond
	// MaxDepth) carries a higher priority; it must not be visible.
	ancestry := &fakeAncestry{
		priority: map[int64]int{1: 0, 2: 0, 3: domain.PriorityHigh},
		parents:  map[int64][]int64{1: {2}, 2: {3}},
	}
	inh := advanced.NewPriorityInheritance(advanced.InheritanceConfig{Strategy: advanced.InheritMaxPriority, MaxDepth: 1}, ancestry)

	assert.Equal(t, 0, inh.Effective(1))
}

func TestPriorityInheritanceWeightedAverageDecays(t *testing.T) {
	ancestry := &fakeAncestry{
		priority: map[int64]int{1: 0, 2: 1000},
		parents:  map[int64][]int64{1: {2}},
	}
	inh := advanced.NewPriorityInheritance(advanced.InheritanceConfig{Strategy: advanced.InheritWeightedAverage, Decay: 0.5, MaxDepth: 5}, ancestry)

	got := inh.Effective(1)
	assert.Greater(t, got, 0)
	assert.Less(t, got, 1000)
}

func TestApplyRaisesJobPriorityAndReportsChange(t *testing.T) {
	ancestry := &fakeAncestry{
		priority: map[int64]int{10: domain.PriorityLow, 20: domain.PriorityHigh},
		parents:  map[int64][]int64{10: {20}},
	}
	inh := advanced.NewPriorityInheritance(advanced.InheritanceConfig{Strategy: advanced.InheritMaxPriority, MaxDepth: 5}, ancestry)

	j := &domain.Job{Key: 10, Priority: domain.PriorityLow}
	changed := inh.Apply(j)

	assert.True(t, changed)
	assert.Equal(t, domain.PriorityHigh, j.Priority)

	// A second apply is a fixed point: no further change.
	changed = inh.Apply(j)
	assert.False(t, changed)
}
