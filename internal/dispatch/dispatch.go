// Package dispatch implements the assignment and load balancer (§4.F):
// candidate selection, the admission predicate, all seven named
// strategies, binding with rollback-on-partial-failure, and the periodic
// fleet rebalancing sweep. Grounded on
// internal/application/worker functional-options ticker loop for the
// rebalance sweep's shape.
package dispatch

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/rezkam/mono/internal/domain"
)

// Strategy is the closed set of load-balancing strategies (§4.F).
type Strategy string

const (
	StrategyRoundRobin          Strategy = "ROUND_ROBIN"
	StrategyLeastConnections    Strategy = "LEAST_CONNECTIONS"
	StrategyWeightedRoundRobin  Strategy = "WEIGHTED_ROUND_ROBIN"
	StrategyLeastResponseTime   Strategy = "LEAST_RESPONSE_TIME"
	StrategyResourceBased       Strategy = "RESOURCE_BASED"
	StrategyIntelligent         Strategy = "INTELLIGENT"
	StrategyAdaptive            Strategy = "ADAPTIVE"
)

// WorkerSource provides the fleet's current worker set and a blacklist
// check. internal/fleet satisfies this via a thin adapter.
type WorkerSource interface {
	ActiveWorkers(ctx context.Context) ([]*domain.Worker, error)
	IsBlacklisted(ctx context.Context, workerID string) (bool, error)
}

// Binder mutates and persists the job/worker pair on assignment.
type Binder interface {
	BindJob(ctx context.Context, job *domain.Job, worker *domain.Worker) error
	UnbindJob(ctx context.Context, job *domain.Job, worker *domain.Worker) error
}

// Balancer selects a worker for a job and performs the binding.
type Balancer struct {
	mu sync.Mutex

	workers WorkerSource
	binder  Binder
	now     func() time.Time

	strategy Strategy

	roundRobinCounter     uint64
	highPriorityRRCounter uint64
}

// New builds a Balancer defaulting to the INTELLIGENT strategy (§4.F).
func New(workers WorkerSource, binder Binder, strategy Strategy, now func() time.Time) *Balancer {
	if strategy == "" {
		strategy = StrategyIntelligent
	}
	if now == nil {
		now = time.Now
	}
	return &Balancer{workers: workers, binder: binder, strategy: strategy, now: now}
}

// CanWorkerHandle implements the admission predicate canWorkerHandle (§4.F).
func CanWorkerHandle(w *domain.Worker, j *domain.Job) bool {
	if w.AvailableCapacity() <= 0 {
		return false
	}
	if j.Priority < w.PriorityThresh {
		return false
	}
	if j.Priority >= domain.PriorityHigh && w.SuccessRate() < 85 {
		return false
	}
	if w.LoadPercentage() > 95 {
		return false
	}
	return true
}

// Candidates returns the eligible worker set for a job: ACTIVE, not
// blacklisted, load < 100%, available capacity > 0, admissible per
// CanWorkerHandle, sorted by load-percentage ascending.
func (b *Balancer) Candidates(ctx context.Context, j *domain.Job) ([]*domain.Worker, error) {
	all, err := b.workers.ActiveWorkers(ctx)
	if err != nil {
		return nil, fmt.Errorf("dispatch: list workers: %w", err)
	}

	var candidates []*domain.Worker
	for _, w := range all {
		if w.Status != domain.WorkerStatusActive {
			continue
		}
		blacklisted, err := b.workers.IsBlacklisted(ctx, w.ID)
		if err != nil {
			return nil, fmt.Errorf("dispatch: blacklist check: %w", err)
		}
		if blacklisted {
			continue
		}
		if w.LoadPercentage() >= 100 || w.AvailableCapacity() <= 0 {
			continue
		}
		if !CanWorkerHandle(w, j) {
			continue
		}
		candidates = append(candidates, w)
	}

	sort.Slice(candidates, func(i, k int) bool {
		return candidates[i].LoadPercentage() < candidates[k].LoadPercentage()
	})
	return candidates, nil
}

// Select picks a worker for a job using the configured strategy, without
// binding it.
func (b *Balancer) Select(candidates []*domain.Worker, j *domain.Job) *domain.Worker {
	if len(candidates) == 0 {
		return nil
	}
	strategy := b.strategy
	if strategy == StrategyAdaptive {
		strategy = b.adaptiveStrategy(candidates)
	}
	switch strategy {
	case StrategyRoundRobin:
		return b.selectRoundRobin(candidates, j)
	case StrategyLeastConnections:
		return selectBy(candidates, func(w *domain.Worker) float64 { return -float64(w.CurrentJobCount) })
	case StrategyWeightedRoundRobin:
		return selectBy(candidates, func(w *domain.Worker) float64 {
			if w.MaxConcurrentJobs == 0 {
				return 0
			}
			return float64(w.AvailableCapacity()) / float64(w.MaxConcurrentJobs)
		})
	case StrategyLeastResponseTime:
		return selectBy(candidates, func(w *domain.Worker) float64 { return -float64(w.AvgExecTime) })
	case StrategyResourceBased:
		return selectBy(candidates, resourceBasedScore)
	default: // INTELLIGENT
		return selectBy(candidates, func(w *domain.Worker) float64 { return intelligentScore(w, j) })
	}
}

func (b *Balancer) adaptiveStrategy(candidates []*domain.Worker) Strategy {
	if len(candidates) == 0 {
		return StrategyIntelligent
	}
	var total float64
	for _, w := range candidates {
		total += w.LoadPercentage()
	}
	mean := total / float64(len(candidates))
	switch {
	case mean < 50:
		return StrategyLeastResponseTime
	case mean < 80:
		return StrategyIntelligent
	default:
		return StrategyLeastConnections
	}
}

func (b *Balancer) selectRoundRobin(candidates []*domain.Worker, j *domain.Job) *domain.Worker {
	b.mu.Lock()
	defer b.mu.Unlock()

	pool := candidates
	counter := &b.roundRobinCounter
	if j.IsHighPriority() {
		var restricted []*domain.Worker
		for _, w := range candidates {
			if w.MaxConcurrentJobs >= 5 {
				restricted = append(restricted, w)
			}
		}
		if len(restricted) > 0 {
			pool = restricted
			counter = &b.highPriorityRRCounter
		}
	}
	idx := *counter % uint64(len(pool))
	*counter++
	return pool[idx]
}

func selectBy(candidates []*domain.Worker, score func(*domain.Worker) float64) *domain.Worker {
	best := candidates[0]
	bestScore := score(best)
	for _, w := range candidates[1:] {
		if s := score(w); s > bestScore {
			best, bestScore = w, s
		}
	}
	return best
}

func resourceBasedScore(w *domain.Worker) float64 {
	capacityFraction := 0.0
	if w.MaxConcurrentJobs > 0 {
		capacityFraction = float64(w.AvailableCapacity()) / float64(w.MaxConcurrentJobs)
	}
	loadFraction := w.LoadPercentage() / 100
	return 0.4*capacityFraction + 0.3*(1-loadFraction) + 0.3*(w.SuccessRate()/100)
}

func responseTimeScore(d time.Duration) float64 {
	switch {
	case d <= time.Second:
		return 1.0
	case d <= 5*time.Second:
		return 0.8
	case d <= 10*time.Second:
		return 0.6
	case d <= 30*time.Second:
		return 0.4
	default:
		return 0.2
	}
}

func intelligentScore(w *domain.Worker, j *domain.Job) float64 {
	capacityFraction := 0.0
	if w.MaxConcurrentJobs > 0 {
		capacityFraction = float64(w.AvailableCapacity()) / float64(w.MaxConcurrentJobs)
	}
	inverseLoad := 1 - w.LoadPercentage()/100
	performance := w.SuccessRate() / 100
	responseScore := responseTimeScore(w.AvgExecTime)

	base := 0.25 * (capacityFraction + inverseLoad + performance + responseScore)

	bonus := 1.1
	if j.IsHighPriority() && w.SuccessRate() >= 85 {
		bonus = 1.3
	}
	return base * bonus
}

// Assign selects a worker for a job and binds them as a pair. A binding
// failure on either side rolls both back (§4.F).
func (b *Balancer) Assign(ctx context.Context, j *domain.Job) (*domain.Worker, error) {
	candidates, err := b.Candidates(ctx, j)
	if err != nil {
		return nil, err
	}
	w := b.Select(candidates, j)
	if w == nil {
		return nil, domain.ErrNoCandidateWorker
	}

	if err := b.binder.BindJob(ctx, j, w); err != nil {
		_ = b.binder.UnbindJob(ctx, j, w)
		return nil, fmt.Errorf("dispatch: bind: %w", err)
	}
	return w, nil
}

// RebalanceReassignment is one migration decided by Rebalance.
type RebalanceReassignment struct {
	Job        *domain.Job
	FromWorker string
	ToWorker   string
}

// RebalancePlan computes the overloaded/underloaded worker sets and the
// migrations to move up to 5 migratable jobs per overloaded worker to the
// least-loaded underloaded worker, per §4.F. Migratable jobs are provided
// by migratableJobs(workerID) -> jobs PENDING or QUEUED on that worker
// with priority < 500.
func RebalancePlan(workers []*domain.Worker, migratableJobs func(workerID string) []*domain.Job) []RebalanceReassignment {
	var overloaded, underloaded []*domain.Worker
	for _, w := range workers {
		switch {
		case w.LoadPercentage() > 85:
			overloaded = append(overloaded, w)
		case w.LoadPercentage() < 65:
			underloaded = append(underloaded, w)
		}
	}
	if len(underloaded) == 0 {
		return nil
	}

	// Work on mutable copies of CurrentJobCount so the plan reflects the
	// effect of earlier migrations within the same sweep.
	load := make(map[string]int, len(workers))
	maxJobs := make(map[string]int, len(workers))
	for _, w := range workers {
		load[w.ID] = w.CurrentJobCount
		maxJobs[w.ID] = w.MaxConcurrentJobs
	}
	loadPct := func(id string) float64 {
		if maxJobs[id] == 0 {
			return 100
		}
		return 100 * float64(load[id]) / float64(maxJobs[id])
	}

	var plan []RebalanceReassignment
	for _, src := range overloaded {
		jobs := migratableJobs(src.ID)
		moved := 0
		for _, j := range jobs {
			if moved >= 5 || loadPct(src.ID) <= 85 {
				break
			}
			// pick least-loaded underloaded worker
			sort.Slice(underloaded, func(i, k int) bool {
				return loadPct(underloaded[i].ID) < loadPct(underloaded[k].ID)
			})
			target := underloaded[0]
			if loadPct(target.ID) >= 65 {
				continue
			}
			plan = append(plan, RebalanceReassignment{Job: j, FromWorker: src.ID, ToWorker: target.ID})
			load[src.ID]--
			load[target.ID]++
			moved++
		}
	}
	return plan
}
