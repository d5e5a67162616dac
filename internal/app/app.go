// Package app wires the scheduler's components (§4.A-J) into a single
// runnable Services value: the narrow consumer interfaces each subsystem
// declares are all satisfied by one backend (internal/store/memory or
// internal/store/postgres paired with internal/cache/memory or
// internal/cache/redis), and the control loop is assembled from closures
// over those subsystems. Grounded on the cmd/server wiring
// (internal/infrastructure/persistence/postgres + internal/service),
// generalized from manual constructor calls in main() into a reusable
// package so cmd/scheduler stays a thin cobra shell.
package app

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/rezkam/mono/internal/advanced"
	"github.com/rezkam/mono/internal/cache"
	cachememory "github.com/rezkam/mono/internal/cache/memory"
	cacheredis "github.com/rezkam/mono/internal/cache/redis"
	"github.com/rezkam/mono/internal/config"
	"github.com/rezkam/mono/internal/control"
	"github.com/rezkam/mono/internal/dispatch"
	"github.com/rezkam/mono/internal/domain"
	"github.com/rezkam/mono/internal/fleet"
	"github.com/rezkam/mono/internal/graph"
	"github.com/rezkam/mono/internal/history"
	"github.com/rezkam/mono/internal/queue"
	"github.com/rezkam/mono/internal/retry"
	"github.com/rezkam/mono/internal/store/memory"
	"github.com/rezkam/mono/internal/store/postgres"
)

// Backend is the aggregate persistence contract every subsystem's narrow
// interface is drawn from; store/memory.Store and store/postgres.Store
// both satisfy it.
type Backend interface {
	graph.EdgeStore
	graph.StatusLookup
	queue.JobStore
	fleet.WorkerStore
	dispatch.WorkerSource
	dispatch.Binder
	retry.JobStore
	retry.DeadLetterStore

	PutJob(ctx context.Context, j *domain.Job) error
	DueScheduledJobs(ctx context.Context, before time.Time) ([]*domain.Job, error)
}

// Services bundles every wired subsystem. Run drives the control loop;
// the individual fields remain exported for a future API layer (job
// submission, worker registration) to call directly.
type Services struct {
	Cache   cache.Cache
	Backend Backend

	Graph    *graph.Graph
	Queue    *queue.Queue
	Fleet    *fleet.Registry
	Dispatch *dispatch.Balancer
	Retry    *retry.Controller
	History  *history.Recorder
	Cron     *advanced.CronEvaluator
	Resource *advanced.ResourceAdmission
	Priority *advanced.PriorityInheritance

	loop *control.Loop
	log  *slog.Logger

	cronSchedules []*advanced.CronSchedule
	newID         func() string
}

// Build wires every component from cfg. now and newID are injected so
// callers (and tests) control time and ID generation.
func Build(ctx context.Context, cfg *config.Config, now func() time.Time, newID func() string, log *slog.Logger) (*Services, error) {
	if log == nil {
		log = slog.Default()
	}

	c, err := buildCache(cfg)
	if err != nil {
		return nil, fmt.Errorf("app: build cache: %w", err)
	}

	backend, err := buildBackend(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("app: build backend: %w", err)
	}

	var cycleCheck graph.StorageCycleChecker
	if pg, ok := backend.(*postgres.Store); ok {
		cycleCheck = pg
	}

	g := graph.New(backend, cycleCheck, backend)
	q := queue.New(c, backend, now)
	f := fleet.New(backend, c, cfg.Fleet, now)

	strategy := dispatch.Strategy(cfg.Dispatch.Strategy)
	d := dispatch.New(backend, backend, strategy, now)

	rc := retry.New(backend, backend, cfg.Retry, now)
	h := history.New(history.Config{MaxEntries: cfg.History.MaxEntries, Window: cfg.History.Window}, now)
	cron := advanced.NewCronEvaluator()
	resource := advanced.NewResourceAdmission()

	lookup := &ancestryLookup{graph: g, backend: backend}
	priority := advanced.NewPriorityInheritance(advanced.InheritanceConfig{
		Strategy: advanced.InheritanceStrategy(cfg.Priority.Strategy),
		Decay:    cfg.Priority.Decay,
		MaxDepth: cfg.Priority.MaxDepth,
	}, lookup)

	s := &Services{
		Cache: c, Backend: backend,
		Graph: g, Queue: q, Fleet: f, Dispatch: d, Retry: rc, History: h,
		Cron: cron, Resource: resource, Priority: priority,
		log: log, newID: newID,
	}

	s.loop = control.New(cfg.Control, control.Dependencies{
		Queue:             q,
		Assigner:          &admittingAssigner{dispatch: d, resource: resource},
		ScanScheduledJobs: s.scanScheduledJobs,
		SweepHeartbeats:   s.sweepHeartbeats,
		Rebalance:         s.rebalance,
		EvalCronTriggers:  s.evalCronTriggers,
		SweepStuckJobs:    s.sweepStuckJobs,
		CleanupTails:      s.cleanupTails,
	}, log, now)

	return s, nil
}

// Run blocks until ctx is cancelled, driving the dispatch tick and every
// periodic sweep (§4.H).
func (s *Services) Run(ctx context.Context) {
	s.loop.Run(ctx)
}

func buildCache(cfg *config.Config) (cache.Cache, error) {
	switch cfg.Cache.Backend {
	case "redis":
		return cacheredis.New(cacheredis.Config{Addr: cfg.Cache.RedisURL}), nil
	case "memory", "":
		return cachememory.New(), nil
	default:
		return nil, fmt.Errorf("unknown cache backend: %s", cfg.Cache.Backend)
	}
}

func buildBackend(ctx context.Context, cfg *config.Config) (Backend, error) {
	switch cfg.Store.Backend {
	case "postgres":
		store, err := postgres.NewStoreWithConfig(ctx, postgres.DBConfig{
			DSN:             cfg.Store.PostgresDSN,
			MaxOpenConns:    cfg.Store.MaxOpenConns,
			MaxIdleConns:    cfg.Store.MaxIdleConns,
			ConnMaxLifetime: cfg.Store.ConnMaxLifetime,
		})
		if err != nil {
			return nil, err
		}
		return store, nil
	case "memory", "":
		return memory.New(), nil
	default:
		return nil, fmt.Errorf("unknown store backend: %s", cfg.Store.Backend)
	}
}

// admittingAssigner implements control.Assigner: a job is dispatched only
// after its resource class (if any) admits it, and the slot is released
// if binding then fails (§4.F + §4.J composed).
type admittingAssigner struct {
	dispatch *dispatch.Balancer
	resource *advanced.ResourceAdmission
}

func (a *admittingAssigner) Assign(ctx context.Context, j *domain.Job) (*domain.Worker, error) {
	if !a.resource.TryAdmit(j) {
		return nil, fmt.Errorf("app: job %s queued on resource admission", j.ID)
	}
	w, err := a.dispatch.Assign(ctx, j)
	if err != nil {
		if class, ok := j.ResourceClass(); ok {
			a.resource.Release(class)
		}
		return nil, err
	}
	return w, nil
}

// ancestryLookup adapts graph.Graph + Backend into advanced.ParentLookup.
type ancestryLookup struct {
	graph   *graph.Graph
	backend Backend
}

func (a *ancestryLookup) Priority(jobKey int64) (int, bool) {
	j, err := a.backend.GetJob(context.Background(), jobKey, "")
	if err != nil {
		return 0, false
	}
	return j.Priority, true
}

func (a *ancestryLookup) Parents(jobKey int64) []int64 {
	return a.graph.Parents(jobKey)
}
