package advanced

import (
	"github.com/rezkam/mono/internal/domain"
)

// InheritanceStrategy is the closed set of priority-inheritance strategies
// (§4.J): a job's effective priority may be pulled upward from its parents
// at dependency-add time.
type InheritanceStrategy string

const (
	InheritMaxPriority        InheritanceStrategy = "MAX_PRIORITY"
	InheritAveragePriority    InheritanceStrategy = "AVERAGE_PRIORITY"
	InheritWeightedAverage    InheritanceStrategy = "WEIGHTED_AVERAGE"
	InheritPropagation        InheritanceStrategy = "PROPAGATION"
)

// InheritanceConfig controls the decay factor and depth cap (§4.J).
type InheritanceConfig struct {
	Strategy InheritanceStrategy
	Decay    float64
	MaxDepth int
}

// DefaultInheritanceConfig matches §4.J's stated defaults (depth capped at
// 5) with a MAX_PRIORITY strategy and a 0.8 decay, a reasonable default for
// the WEIGHTED_AVERAGE/PROPAGATION strategies when none is configured.
func DefaultInheritanceConfig() InheritanceConfig {
	return InheritanceConfig{Strategy: InheritMaxPriority, Decay: 0.8, MaxDepth: 5}
}

// ParentLookup resolves a job-key's current priority and its own direct
// parent job-keys, letting PriorityInheritance walk the graph without
// depending on internal/graph directly.
type ParentLookup interface {
	Priority(jobKey int64) (priority int, ok bool)
	Parents(jobKey int64) []int64
}

// PriorityInheritance computes a job's inherited effective priority by
// walking its ancestry up to MaxDepth (§4.J). The result is always >= the
// job's own priority: inheritance is monotonically non-decreasing, per
// spec.md's explicit invariant.
type PriorityInheritance struct {
	cfg    InheritanceConfig
	lookup ParentLookup
}

// NewPriorityInheritance builds a PriorityInheritance engine.
func NewPriorityInheritance(cfg InheritanceConfig, lookup ParentLookup) *PriorityInheritance {
	if cfg.MaxDepth <= 0 {
		cfg.MaxDepth = 5
	}
	if cfg.Decay <= 0 {
		cfg.Decay = 0.8
	}
	if cfg.Strategy == "" {
		cfg.Strategy = InheritMaxPriority
	}
	return &PriorityInheritance{cfg: cfg, lookup: lookup}
}

// Effective computes jobKey's effective priority: its own priority, raised
// (never lowered) by the configured strategy walking its ancestry.
func (p *PriorityInheritance) Effective(jobKey int64) int {
	own, ok := p.lookup.Priority(jobKey)
	if !ok {
		return 0
	}

	var candidate float64
	switch p.cfg.Strategy {
	case InheritAveragePriority:
		candidate = p.averageAtDepth(jobKey, 0, make(map[int64]bool))
	case InheritWeightedAverage:
		candidate = p.weightedAverage(jobKey)
	case InheritPropagation:
		candidate = p.propagation(jobKey, 0, make(map[int64]bool))
	default: // MAX_PRIORITY
		candidate = float64(p.maxAncestor(jobKey, 0, make(map[int64]bool)))
	}

	inherited := int(candidate)
	if inherited > own {
		return inherited
	}
	return own
}

// maxAncestor returns the maximum priority found among jobKey's ancestors
// up to MaxDepth, or jobKey's own priority if it has no ancestors.
func (p *PriorityInheritance) maxAncestor(jobKey int64, depth int, visited map[int64]bool) int {
	own, _ := p.lookup.Priority(jobKey)
	if depth >= p.cfg.MaxDepth || visited[jobKey] {
		return own
	}
	visited[jobKey] = true

	best := own
	for _, parent := range p.lookup.Parents(jobKey) {
		if v := p.maxAncestor(parent, depth+1, visited); v > best {
			best = v
		}
	}
	return best
}

// averageAtDepth averages jobKey's own priority with every ancestor's
// priority up to MaxDepth, flattened (not depth-weighted).
func (p *PriorityInheritance) averageAtDepth(jobKey int64, depth int, visited map[int64]bool) float64 {
	own, _ := p.lookup.Priority(jobKey)
	sum := float64(own)
	count := 1.0
	collectAverage(p, jobKey, depth, visited, &sum, &count)
	return sum / count
}

func collectAverage(p *PriorityInheritance, jobKey int64, depth int, visited map[int64]bool, sum, count *float64) {
	if depth >= p.cfg.MaxDepth || visited[jobKey] {
		return
	}
	visited[jobKey] = true
	for _, parent := range p.lookup.Parents(jobKey) {
		priority, ok := p.lookup.Priority(parent)
		if !ok {
			continue
		}
		*sum += float64(priority)
		*count++
		collectAverage(p, parent, depth+1, visited, sum, count)
	}
}

// weightedAverage sums each ancestor's priority weighted by decay^depth,
// normalized by the sum of weights (§4.J WEIGHTED_AVERAGE).
func (p *PriorityInheritance) weightedAverage(jobKey int64) float64 {
	own, _ := p.lookup.Priority(jobKey)
	weightedSum := float64(own)
	weightTotal := 1.0
	visited := map[int64]bool{jobKey: true}
	p.walkWeighted(jobKey, 0, 1.0, visited, &weightedSum, &weightTotal)
	if weightTotal == 0 {
		return weightedSum
	}
	return weightedSum / weightTotal
}

func (p *PriorityInheritance) walkWeighted(jobKey int64, depth int, weight float64, visited map[int64]bool, weightedSum, weightTotal *float64) {
	if depth >= p.cfg.MaxDepth {
		return
	}
	for _, parent := range p.lookup.Parents(jobKey) {
		if visited[parent] {
			continue
		}
		visited[parent] = true
		priority, ok := p.lookup.Priority(parent)
		if !ok {
			continue
		}
		w := weight * p.cfg.Decay
		*weightedSum += float64(priority) * w
		*weightTotal += w
		p.walkWeighted(parent, depth+1, w, visited, weightedSum, weightTotal)
	}
}

// propagation returns the maximum of (ancestor priority * decay^depth)
// over jobKey's ancestry (§4.J PROPAGATION).
func (p *PriorityInheritance) propagation(jobKey int64, depth int, visited map[int64]bool) float64 {
	best := 0.0
	if depth >= p.cfg.MaxDepth || visited[jobKey] {
		return best
	}
	visited[jobKey] = true

	decay := 1.0
	for i := 0; i < depth; i++ {
		decay *= p.cfg.Decay
	}
	for _, parent := range p.lookup.Parents(jobKey) {
		priority, ok := p.lookup.Priority(parent)
		if !ok {
			continue
		}
		if v := float64(priority) * decay; v > best {
			best = v
		}
		if v := p.propagation(parent, depth+1, visited); v > best {
			best = v
		}
	}
	return best
}

// Apply computes j's effective priority and, if it is higher than the
// job's current priority, raises it and reports that the priority-queue
// score must be recomputed (§4.J: "persisted and the priority-queue score
// is recomputed").
func (p *PriorityInheritance) Apply(j *domain.Job) (changed bool) {
	effective := p.Effective(j.Key)
	if effective > j.Priority {
		j.Priority = effective
		return true
	}
	return false
}
