// Package graph implements the in-memory dependency-graph engine (§4.C):
// three mutually-consistent adjacency maps keyed by job-key, cycle
// detection, ready-set enumeration, and Kahn-style topological batching.
// Grounded on the DAG schedulers in the retrieval pack (divinesense's
// orchestrator and the SWARM-INTELLIGENCE-NETWORK dag engine), generalized
// from single-shot workflow DAGs to a long-lived, mutable job graph with a
// commit-then-sweep cycle safety net.
package graph

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/rezkam/mono/internal/domain"
)

// StatusLookup answers whether a job is still PENDING, for readySet and
// markCompleted. The graph does not own job status itself; internal/queue
// and internal/store do.
type StatusLookup interface {
	IsPending(jobKey int64) bool
}

// EdgeStore persists edges durably and, optionally, answers an external
// circular-dependency query (§4.C cycle-detection source 3). A nil
// StorageCycleCheck is valid; the engine then relies on its two in-memory
// detectors alone.
type EdgeStore interface {
	SaveEdge(ctx context.Context, childKey, parentKey int64) error
	DeleteEdge(ctx context.Context, childKey, parentKey int64) error
}

// StorageCycleChecker is the optional third cycle-detection source.
type StorageCycleChecker interface {
	FindCircularPaths(ctx context.Context) ([][]int64, error)
}

// CycleSeverity tags which detector found a cycle, per §4.C.
const (
	SeverityDFS     = 8
	SeveritySCC     = 7
	SeverityStorage = 9
)

// Cycle is a detected cycle, its node path and the severity of the
// detector that found it.
type Cycle struct {
	Path     []int64
	Severity int
}

// Validation is the structured dry-run verdict returned by
// ValidateDependencyAddition (§4.C); it is domain.DependencyValidation
// under its own name so the graph package need not import callers'
// expectations about the verdict shape.
type Validation = domain.DependencyValidation

var (
	ErrSelfLoop        = fmt.Errorf("graph: self-loop dependency rejected: %w", domain.ErrSelfLoop)
	ErrJobMissing      = fmt.Errorf("graph: job missing from graph: %w", domain.ErrJobMissing)
	ErrWouldCreateCycle = fmt.Errorf("graph: edge would create a cycle: %w", domain.ErrWouldCreateCycle)
)

type cyclePathCacheEntry struct {
	path    []int64
	expires time.Time
}

// Graph owns the forward adjacency (parent -> children), reverse adjacency
// (child -> parents) and in-degree count for every job it has been told
// about. All mutations serialize through mu; reads may run concurrently
// with other reads (§4.C concurrency).
type Graph struct {
	mu sync.RWMutex

	forward  map[int64]map[int64]struct{} // parent -> children
	reverse  map[int64]map[int64]struct{} // child -> parents
	inDegree map[int64]int
	known    map[int64]struct{}

	// edges carries the JobDependency attributes (kind, blocking,
	// on-failure action) for each (child, parent) edge. Only edges with
	// Blocking == true contribute to inDegree; all edges, blocking or not,
	// participate in cycle detection (§4.C: "the edge set is acyclic at
	// all times" is not qualified by blocking).
	edges map[[2]int64]*domain.JobDependency

	store      EdgeStore
	cycleCheck StorageCycleChecker
	status     StatusLookup

	cyclePathCache map[[2]int64]cyclePathCacheEntry
	cyclePathTTL   time.Duration
}

// New builds an empty graph. store and cycleCheck may be nil.
func New(store EdgeStore, cycleCheck StorageCycleChecker, status StatusLookup) *Graph {
	return &Graph{
		forward:        make(map[int64]map[int64]struct{}),
		reverse:        make(map[int64]map[int64]struct{}),
		inDegree:       make(map[int64]int),
		known:          make(map[int64]struct{}),
		edges:          make(map[[2]int64]*domain.JobDependency),
		store:          store,
		cycleCheck:     cycleCheck,
		status:         status,
		cyclePathCache: make(map[[2]int64]cyclePathCacheEntry),
		cyclePathTTL:   60 * time.Second,
	}
}

// AddJob registers a job-key with the graph so it can participate in
// dependency edges. Idempotent.
func (g *Graph) AddJob(jobKey int64) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.known[jobKey] = struct{}{}
	if _, ok := g.inDegree[jobKey]; !ok {
		g.inDegree[jobKey] = 0
	}
}

// RemoveJob drops a job-key and every edge touching it.
func (g *Graph) RemoveJob(jobKey int64) {
	g.mu.Lock()
	defer g.mu.Unlock()
	for parent := range g.reverse[jobKey] {
		delete(g.forward[parent], jobKey)
	}
	for child := range g.forward[jobKey] {
		delete(g.reverse[child], jobKey)
	}
	delete(g.forward, jobKey)
	delete(g.reverse, jobKey)
	delete(g.inDegree, jobKey)
	delete(g.known, jobKey)
}

// Parents returns the direct parent job-keys that jobKey depends on (the
// edges child -> parent with child == jobKey).
func (g *Graph) Parents(jobKey int64) []int64 {
	g.mu.RLock()
	defer g.mu.RUnlock()
	parents := make([]int64, 0, len(g.reverse[jobKey]))
	for p := range g.reverse[jobKey] {
		parents = append(parents, p)
	}
	return parents
}

func (g *Graph) hasEdgeLocked(child, parent int64) bool {
	children, ok := g.forward[parent]
	if !ok {
		return false
	}
	_, ok = children[child]
	return ok
}

// AddDependency adds a MUST_COMPLETE, blocking, BLOCK-on-failure edge
// child -> parent (child depends on parent) — the default JobDependency
// shape assumed by the bare addDependency(child, parent) operation.
// Equivalent to AddJobDependency with those defaults.
func (g *Graph) AddDependency(ctx context.Context, child, parent int64) error {
	return g.AddJobDependency(ctx, &domain.JobDependency{
		ChildKey:        child,
		ParentKey:       parent,
		Kind:            domain.DependencyMustComplete,
		Blocking:        true,
		OnFailureAction: domain.OnFailureBlock,
	})
}

// AddJobDependency adds an edge child -> parent carrying the given
// JobDependency's kind, blocking flag and on-failure action (§3's
// JobDependency glossary entry). Rejects self-loops, rejects if either job
// is unknown, is idempotent if the edge already exists, and otherwise runs
// cycle detection on the prospective graph before committing (§4.C). Only
// a Blocking edge increments the child's in-degree; non-blocking edges
// (SOFT, WARN-style dependencies) are tracked for traversal and cycle
// detection but never gate readiness.
func (g *Graph) AddJobDependency(ctx context.Context, dep *domain.JobDependency) error {
	child, parent := dep.ChildKey, dep.ParentKey
	if child == parent {
		return ErrSelfLoop
	}
	if _, err := domain.NewDependencyKind(string(dep.Kind)); err != nil {
		return fmt.Errorf("graph: %w", err)
	}

	g.mu.Lock()
	if _, ok := g.known[child]; !ok {
		g.mu.Unlock()
		return fmt.Errorf("%w: child %d", ErrJobMissing, child)
	}
	if _, ok := g.known[parent]; !ok {
		g.mu.Unlock()
		return fmt.Errorf("%w: parent %d", ErrJobMissing, parent)
	}
	if g.hasEdgeLocked(child, parent) {
		g.mu.Unlock()
		return nil
	}

	// Tentatively commit in memory, then verify; roll back on cycle.
	g.commitEdgeLocked(child, parent, dep)
	cycles := g.detectCyclesLocked(ctx)
	if len(cycles) > 0 {
		g.rollbackEdgeLocked(child, parent)
		g.mu.Unlock()
		g.cacheCyclePath(child, parent, cycles[0].Path)
		return fmt.Errorf("%w: %v", ErrWouldCreateCycle, cycles[0].Path)
	}
	g.mu.Unlock()

	if g.store != nil {
		if err := g.store.SaveEdge(ctx, child, parent); err != nil {
			g.mu.Lock()
			g.rollbackEdgeLocked(child, parent)
			g.mu.Unlock()
			return fmt.Errorf("graph: persist edge: %w", err)
		}
	}

	// Full deadlock sweep after commit (§4.C): a concurrent addition could
	// have raced past the pre-check between unlock and the storage write.
	g.mu.Lock()
	cycles = g.detectCyclesLocked(ctx)
	if len(cycles) > 0 {
		g.rollbackEdgeLocked(child, parent)
		g.mu.Unlock()
		if g.store != nil {
			_ = g.store.DeleteEdge(ctx, child, parent)
		}
		return fmt.Errorf("%w: %v", ErrWouldCreateCycle, cycles[0].Path)
	}
	g.mu.Unlock()
	return nil
}

func (g *Graph) commitEdgeLocked(child, parent int64, dep *domain.JobDependency) {
	if g.forward[parent] == nil {
		g.forward[parent] = make(map[int64]struct{})
	}
	g.forward[parent][child] = struct{}{}
	if g.reverse[child] == nil {
		g.reverse[child] = make(map[int64]struct{})
	}
	g.reverse[child][parent] = struct{}{}
	g.edges[[2]int64{child, parent}] = dep
	if dep.Blocking {
		g.inDegree[child]++
	}
}

func (g *Graph) rollbackEdgeLocked(child, parent int64) {
	dep := g.edges[[2]int64{child, parent}]
	delete(g.forward[parent], child)
	delete(g.reverse[child], parent)
	delete(g.edges, [2]int64{child, parent})
	if dep != nil && dep.Blocking && g.inDegree[child] > 0 {
		g.inDegree[child]--
	}
}

// RemoveDependency deletes the edge child -> parent, if present.
func (g *Graph) RemoveDependency(ctx context.Context, child, parent int64) error {
	g.mu.Lock()
	if g.hasEdgeLocked(child, parent) {
		g.rollbackEdgeLocked(child, parent)
	}
	g.mu.Unlock()

	if g.store != nil {
		return g.store.DeleteEdge(ctx, child, parent)
	}
	return nil
}

// MarkCompleted decrements the in-degree of every child of parent reached
// by a Blocking edge and returns those that reach zero while still
// PENDING — the newly ready set.
func (g *Graph) MarkCompleted(parent int64) []int64 {
	g.mu.Lock()
	defer g.mu.Unlock()

	var ready []int64
	for child := range g.forward[parent] {
		dep := g.edges[[2]int64{child, parent}]
		if dep == nil || !dep.Blocking {
			continue
		}
		if g.inDegree[child] > 0 {
			g.inDegree[child]--
		}
		if g.inDegree[child] == 0 && g.status != nil && g.status.IsPending(child) {
			ready = append(ready, child)
		}
	}
	return ready
}

// FailureOutcome partitions parent's children by how their edge's
// OnFailureAction resolves the parent's failure (§3 JobDependency
// glossary).
type FailureOutcome struct {
	Freed   []int64 // in-degree reached zero and may now be enqueued
	Warned  []int64 // freed, but the caller should surface a warning
	Blocked []int64 // BLOCK: left unsatisfied; the child never becomes ready
	Pending []int64 // RETRY/ESCALATE: left for the caller to resolve
}

// MarkFailed resolves the on-failure action of every edge out of a failed
// parent: BLOCK leaves the child permanently blocked (its parent will
// never complete), PROCEED and SKIP free the child exactly as
// MarkCompleted would, WARN frees the child but is also reported
// separately, and RETRY/ESCALATE are reported without mutating state so
// the retry controller and control loop can decide (§4.G/§4.H own those
// policies, not the graph engine).
func (g *Graph) MarkFailed(parent int64) FailureOutcome {
	g.mu.Lock()
	defer g.mu.Unlock()

	var out FailureOutcome
	for child := range g.forward[parent] {
		dep := g.edges[[2]int64{child, parent}]
		if dep == nil || !dep.Blocking {
			continue
		}

		switch dep.OnFailureAction {
		case domain.OnFailureRetry, domain.OnFailureEscalate:
			out.Pending = append(out.Pending, child)
			continue
		case domain.OnFailureBlock:
			out.Blocked = append(out.Blocked, child)
			continue
		}

		if g.inDegree[child] > 0 {
			g.inDegree[child]--
		}
		freed := g.inDegree[child] == 0 && g.status != nil && g.status.IsPending(child)
		if dep.OnFailureAction == domain.OnFailureWarn {
			if freed {
				out.Warned = append(out.Warned, child)
			}
			continue
		}
		// PROCEED, SKIP
		if freed {
			out.Freed = append(out.Freed, child)
		}
	}
	return out
}

// ReadySet enumerates jobs with zero in-degree and PENDING status.
func (g *Graph) ReadySet() []int64 {
	g.mu.RLock()
	defer g.mu.RUnlock()

	var ready []int64
	for jobKey := range g.known {
		if g.inDegree[jobKey] == 0 && (g.status == nil || g.status.IsPending(jobKey)) {
			ready = append(ready, jobKey)
		}
	}
	return ready
}

// TopologicalOrder runs Kahn's algorithm. Returns an empty slice if the
// graph contains a cycle (residual nodes never reach zero in-degree).
func (g *Graph) TopologicalOrder() []int64 {
	g.mu.RLock()
	defer g.mu.RUnlock()
	order, _ := g.kahnLocked()
	return order
}

// kahnLocked performs Kahn's algorithm against a private copy of the
// in-degree map so it never mutates live state. Returns the emission order
// and, separately, the per-layer batching used by ExecutionPlan.
func (g *Graph) kahnLocked() (order []int64, layers [][]int64) {
	degree := make(map[int64]int, len(g.inDegree))
	for k, v := range g.inDegree {
		degree[k] = v
	}

	var frontier []int64
	for jobKey := range g.known {
		if degree[jobKey] == 0 {
			frontier = append(frontier, jobKey)
		}
	}

	for len(frontier) > 0 {
		layers = append(layers, frontier)
		order = append(order, frontier...)

		var next []int64
		for _, node := range frontier {
			for child := range g.forward[node] {
				degree[child]--
				if degree[child] == 0 {
					next = append(next, child)
				}
			}
		}
		frontier = next
	}

	if len(order) < len(g.known) {
		// Residual nodes indicate a cycle; report neither an order nor
		// layers, per §4.C.
		return nil, nil
	}
	return order, layers
}

// ExecutionPlan returns repeated Kahn layers: each layer is a batch of
// job-keys runnable in parallel with respect to the DAG.
func (g *Graph) ExecutionPlan() [][]int64 {
	g.mu.RLock()
	defer g.mu.RUnlock()
	_, layers := g.kahnLocked()
	return layers
}

// detectCyclesLocked runs the DFS and Tarjan detectors (the optional
// storage-backed query is run separately by DetectCycles, which also takes
// the lock; detectCyclesLocked assumes mu is already held) and collapses
// cycles with identical node sets.
func (g *Graph) detectCyclesLocked(ctx context.Context) []Cycle {
	var found []Cycle
	found = append(found, g.dfsCyclesLocked()...)
	found = append(found, g.tarjanCyclesLocked()...)
	return dedupeCycles(found)
}

// DetectCycles runs all three detectors, including the optional
// storage-provided query, and reports their deduplicated union.
func (g *Graph) DetectCycles(ctx context.Context) []Cycle {
	g.mu.RLock()
	found := g.detectCyclesLocked(ctx)
	g.mu.RUnlock()

	if g.cycleCheck != nil {
		if paths, err := g.cycleCheck.FindCircularPaths(ctx); err == nil {
			for _, p := range paths {
				found = append(found, Cycle{Path: p, Severity: SeverityStorage})
			}
		}
	}
	return dedupeCycles(found)
}

func dedupeCycles(cycles []Cycle) []Cycle {
	seen := make(map[string]struct{}, len(cycles))
	out := make([]Cycle, 0, len(cycles))
	for _, c := range cycles {
		key := cycleSetKey(c.Path)
		if _, ok := seen[key]; ok {
			continue
		}
		seen[key] = struct{}{}
		out = append(out, c)
	}
	return out
}

func cycleSetKey(path []int64) string {
	set := make(map[int64]struct{}, len(path))
	for _, n := range path {
		set[n] = struct{}{}
	}
	nodes := make([]int64, 0, len(set))
	for n := range set {
		nodes = append(nodes, n)
	}
	// Simple sort without importing "sort" twice in the file; small N.
	for i := 1; i < len(nodes); i++ {
		for j := i; j > 0 && nodes[j-1] > nodes[j]; j-- {
			nodes[j-1], nodes[j] = nodes[j], nodes[j-1]
		}
	}
	return fmt.Sprint(nodes)
}

// dfsCyclesLocked walks a recursion stack; revisiting a stacked node yields
// the cycle from that node to the current position (§4.C detector 1).
func (g *Graph) dfsCyclesLocked() []Cycle {
	const (
		white = 0
		gray  = 1
		black = 2
	)
	color := make(map[int64]int, len(g.known))
	var stack []int64
	var cycles []Cycle

	var visit func(node int64)
	visit = func(node int64) {
		color[node] = gray
		stack = append(stack, node)

		for child := range g.forward[node] {
			switch color[child] {
			case white:
				visit(child)
			case gray:
				// Found the back-edge; extract the cycle path.
				idx := indexOf(stack, child)
				if idx >= 0 {
					path := append([]int64(nil), stack[idx:]...)
					path = append(path, child)
					cycles = append(cycles, Cycle{Path: path, Severity: SeverityDFS})
				}
			}
		}

		stack = stack[:len(stack)-1]
		color[node] = black
	}

	for node := range g.known {
		if color[node] == white {
			visit(node)
		}
	}
	return cycles
}

func indexOf(s []int64, v int64) int {
	for i, x := range s {
		if x == v {
			return i
		}
	}
	return -1
}

// tarjanCyclesLocked finds strongly-connected components; any SCC of size
// > 1 is reported as a cycle (§4.C detector 2).
func (g *Graph) tarjanCyclesLocked() []Cycle {
	index := 0
	indices := make(map[int64]int, len(g.known))
	lowlink := make(map[int64]int, len(g.known))
	onStack := make(map[int64]bool, len(g.known))
	var stack []int64
	var cycles []Cycle

	var strongconnect func(v int64)
	strongconnect = func(v int64) {
		indices[v] = index
		lowlink[v] = index
		index++
		stack = append(stack, v)
		onStack[v] = true

		for w := range g.forward[v] {
			if _, seen := indices[w]; !seen {
				strongconnect(w)
				if lowlink[w] < lowlink[v] {
					lowlink[v] = lowlink[w]
				}
			} else if onStack[w] {
				if indices[w] < lowlink[v] {
					lowlink[v] = indices[w]
				}
			}
		}

		if lowlink[v] == indices[v] {
			var scc []int64
			for {
				n := len(stack) - 1
				w := stack[n]
				stack = stack[:n]
				onStack[w] = false
				scc = append(scc, w)
				if w == v {
					break
				}
			}
			if len(scc) > 1 {
				cycles = append(cycles, Cycle{Path: scc, Severity: SeveritySCC})
			}
		}
	}

	for node := range g.known {
		if _, seen := indices[node]; !seen {
			strongconnect(node)
		}
	}
	return cycles
}

// ValidateDependencyAddition is a dry run of AddDependency: it reports a
// structured verdict without mutating the graph. Warnings are raised for
// dependency depth > 10 and fan-out from parent > 20 (§4.C).
func (g *Graph) ValidateDependencyAddition(ctx context.Context, child, parent int64) Validation {
	if child == parent {
		return Validation{OK: false, Reason: ErrSelfLoop.Error(), Severity: SeverityDFS}
	}

	g.mu.Lock()
	if _, ok := g.known[child]; !ok {
		g.mu.Unlock()
		return Validation{OK: false, Reason: fmt.Sprintf("child %d unknown", child)}
	}
	if _, ok := g.known[parent]; !ok {
		g.mu.Unlock()
		return Validation{OK: false, Reason: fmt.Sprintf("parent %d unknown", parent)}
	}
	if g.hasEdgeLocked(child, parent) {
		g.mu.Unlock()
		return Validation{OK: true, Reason: "edge already exists"}
	}

	g.commitEdgeLocked(child, parent, &domain.JobDependency{ChildKey: child, ParentKey: parent, Blocking: true})
	cycles := g.detectCyclesLocked(ctx)
	fanOut := len(g.forward[parent])
	depth := g.dependencyDepthLocked(child)
	g.rollbackEdgeLocked(child, parent)
	g.mu.Unlock()

	if len(cycles) > 0 {
		return Validation{
			OK:        false,
			Reason:    "edge would create a cycle",
			Severity:  cycles[0].Severity,
			CyclePath: cycles[0].Path,
		}
	}

	var warnings []string
	if depth > 10 {
		warnings = append(warnings, fmt.Sprintf("dependency depth %d exceeds 10", depth))
	}
	if fanOut > 20 {
		warnings = append(warnings, fmt.Sprintf("parent fan-out %d exceeds 20", fanOut))
	}
	return Validation{OK: true, Warnings: warnings}
}

// dependencyDepthLocked returns the longest chain of parents reachable from
// node, walking the reverse adjacency. Assumes mu is already held.
func (g *Graph) dependencyDepthLocked(node int64) int {
	visited := make(map[int64]bool)
	var walk func(n int64) int
	walk = func(n int64) int {
		if visited[n] {
			return 0
		}
		visited[n] = true
		best := 0
		for parent := range g.reverse[n] {
			if d := walk(parent); d+1 > best {
				best = d + 1
			}
		}
		return best
	}
	return walk(node)
}

// CyclePath returns the memoized cycle path between source and target, if
// one was cached within the last 60 seconds (§4.C caching: time-based
// invalidation, safe because the post-commit sweep always re-runs).
func (g *Graph) CyclePath(source, target int64) ([]int64, bool) {
	g.mu.RLock()
	defer g.mu.RUnlock()
	entry, ok := g.cyclePathCache[[2]int64{source, target}]
	if !ok || time.Now().After(entry.expires) {
		return nil, false
	}
	return entry.path, true
}

func (g *Graph) cacheCyclePath(source, target int64, path []int64) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.cyclePathCache[[2]int64{source, target}] = cyclePathCacheEntry{
		path:    path,
		expires: time.Now().Add(g.cyclePathTTL),
	}
}
