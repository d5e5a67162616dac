// Package fleet implements the worker registry and health monitor (§4.E):
// registration with throttling, heartbeats, deregistration, periodic
// health checks with HEALTHY/UNHEALTHY/RECOVERED/FAILED classification,
// and the cleanup sweep. Grounded on
// internal/application/worker reconciliation worker for the periodic-sweep
// shape and on its GenerationCoordinator for cache-then-persist ordering.
package fleet

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/rezkam/mono/internal/cache"
	"github.com/rezkam/mono/internal/domain"
)

// WorkerStore persists worker records durably.
type WorkerStore interface {
	SaveWorker(ctx context.Context, w *domain.Worker) error
	GetWorker(ctx context.Context, workerID string) (*domain.Worker, error)
	ListWorkers(ctx context.Context) ([]*domain.Worker, error)
	DeleteWorkerAssignments(ctx context.Context, workerID string) error
}

// Config controls health-check and throttling thresholds (§4.E, §6).
type Config struct {
	HeartbeatTimeout      time.Duration
	HealthCheckInterval   time.Duration
	CleanupInterval       time.Duration
	CleanupThreshold      time.Duration
	ConsecutiveFailureMax int
	RegistrationWindow    time.Duration
	RegistrationMaxFails  int
	NotificationThrottle  time.Duration
}

// DefaultConfig matches §4.E and §6's stated defaults.
func DefaultConfig() Config {
	return Config{
		HeartbeatTimeout:      5 * time.Minute,
		HealthCheckInterval:   2 * time.Minute,
		CleanupInterval:       15 * time.Minute,
		CleanupThreshold:      15 * time.Minute,
		ConsecutiveFailureMax: 3,
		RegistrationWindow:    time.Hour,
		RegistrationMaxFails:  3,
		NotificationThrottle:  30 * time.Minute,
	}
}

// Outcome is the result of a single health check (§4.E).
type Outcome string

const (
	OutcomeHealthy   Outcome = "HEALTHY"
	OutcomeUnhealthy Outcome = "UNHEALTHY"
	OutcomeRecovered Outcome = "RECOVERED"
	OutcomeFailed    Outcome = "FAILED"
)

// HealthReport is the structured result of healthCheck, including the
// specific issues and warnings that were raised.
type HealthReport struct {
	WorkerID string
	Outcome  Outcome
	Issues   []string
	Warnings []string
}

type health struct {
	heartbeatCount      int64
	consecutiveFailures int
	lastNotification    time.Time
	unhealthy           bool
}

type throttle struct {
	failures  []time.Time
}

// Registry is the worker registry and health monitor.
type Registry struct {
	mu sync.Mutex

	store WorkerStore
	cache cache.Cache
	cfg   Config
	now   func() time.Time

	health    map[string]*health
	throttles map[string]*throttle
}

// New builds a Registry.
func New(store WorkerStore, c cache.Cache, cfg Config, now func() time.Time) *Registry {
	if now == nil {
		now = time.Now
	}
	return &Registry{
		store:     store,
		cache:     c,
		cfg:       cfg,
		now:       now,
		health:    make(map[string]*health),
		throttles: make(map[string]*throttle),
	}
}

func workerCacheKey(id string) string {
	return cache.PrefixWorkerCache + id
}

// Register validates and persists a new worker, subject to per-worker
// registration throttling (§4.E): after 3 failed attempts within one hour,
// further attempts are rejected until the hour elapses.
func (r *Registry) Register(ctx context.Context, req domain.RegistrationRequest) (*domain.Worker, error) {
	r.mu.Lock()
	t := r.throttles[req.WorkerID]
	if t == nil {
		t = &throttle{}
		r.throttles[req.WorkerID] = t
	}
	now := r.now()
	t.failures = prune(t.failures, now.Add(-r.cfg.RegistrationWindow))
	if len(t.failures) >= r.cfg.RegistrationMaxFails {
		r.mu.Unlock()
		return nil, domain.ErrWorkerThrottled
	}
	r.mu.Unlock()

	if err := req.Validate(); err != nil {
		r.recordFailure(req.WorkerID, now)
		return nil, err
	}

	w := &domain.Worker{
		ID:                req.WorkerID,
		Name:              req.Name,
		Host:              req.Host,
		Port:              req.Port,
		MaxConcurrentJobs: req.MaxConcurrentJobs,
		AssignedJobs:      make(map[string]struct{}),
		Status:            domain.WorkerStatusActive,
		LastHeartbeat:     now,
		PriorityThresh:    req.PriorityThreshold,
		LoadFactor:        req.LoadFactor,
		Capabilities:      req.Capabilities,
		Version:           req.Version,
	}
	if w.LoadFactor == 0 {
		w.LoadFactor = 1.0
	}

	if err := r.store.SaveWorker(ctx, w); err != nil {
		r.recordFailure(req.WorkerID, now)
		return nil, fmt.Errorf("fleet: save worker: %w", err)
	}

	r.mu.Lock()
	r.health[w.ID] = &health{}
	r.mu.Unlock()

	r.cacheWorker(ctx, w)
	return w, nil
}

func (r *Registry) recordFailure(workerID string, now time.Time) {
	r.mu.Lock()
	defer r.mu.Unlock()
	t := r.throttles[workerID]
	if t == nil {
		t = &throttle{}
		r.throttles[workerID] = t
	}
	t.failures = append(t.failures, now)
}

func prune(times []time.Time, cutoff time.Time) []time.Time {
	out := times[:0]
	for _, t := range times {
		if t.After(cutoff) {
			out = append(out, t)
		}
	}
	return out
}

func (r *Registry) cacheWorker(ctx context.Context, w *domain.Worker) {
	_ = r.cache.Put(ctx, workerCacheKey(w.ID), []byte(w.ID), 5*time.Minute)
}

// Heartbeat updates a worker's liveness state from a heartbeat payload,
// recomputing available-capacity when not supplied, and marks it healthy.
func (r *Registry) Heartbeat(ctx context.Context, workerID string, payload domain.HeartbeatPayload) (*domain.Worker, error) {
	w, err := r.store.GetWorker(ctx, workerID)
	if err != nil {
		return nil, fmt.Errorf("fleet: heartbeat: %w", err)
	}

	now := r.now()
	w.LastHeartbeat = now
	if payload.Status != nil {
		w.Status = *payload.Status
	}
	if payload.CurrentJobCount != nil {
		w.CurrentJobCount = *payload.CurrentJobCount
	}
	if payload.AvailableCapacity == nil {
		// recomputed implicitly via AvailableCapacity(); nothing to store.
	}
	if payload.CPUUsage != nil {
		w.CPUUsage = *payload.CPUUsage
	}
	if payload.MemoryUsage != nil {
		w.MemoryUsage = *payload.MemoryUsage
	}
	if payload.ErrorCount != nil {
		w.ErrorCount = *payload.ErrorCount
	}

	if err := r.store.SaveWorker(ctx, w); err != nil {
		return nil, fmt.Errorf("fleet: heartbeat persist: %w", err)
	}

	r.mu.Lock()
	h := r.health[workerID]
	if h == nil {
		h = &health{}
		r.health[workerID] = h
	}
	h.heartbeatCount++
	h.unhealthy = false
	r.mu.Unlock()

	r.cacheWorker(ctx, w)
	return w, nil
}

// Deregister removes a worker from active duty. If the worker still has
// assigned jobs and force is false, the call is rejected.
func (r *Registry) Deregister(ctx context.Context, workerID string, force bool) error {
	w, err := r.store.GetWorker(ctx, workerID)
	if err != nil {
		return fmt.Errorf("fleet: deregister: %w", err)
	}
	if w.CurrentJobCount > 0 && !force {
		return domain.ErrWorkerHasAssignedJobs
	}

	w.Status = domain.WorkerStatusInactive
	if force {
		w.AssignedJobs = make(map[string]struct{})
		w.CurrentJobCount = 0
		if err := r.store.DeleteWorkerAssignments(ctx, workerID); err != nil {
			return fmt.Errorf("fleet: clear assignments: %w", err)
		}
	}
	if err := r.store.SaveWorker(ctx, w); err != nil {
		return fmt.Errorf("fleet: deregister persist: %w", err)
	}
	return r.cache.Evict(ctx, workerCacheKey(workerID))
}

// HealthCheck runs the §4.E health-check rules against a single worker and
// classifies the outcome, updating the consecutive-failure counter.
func (r *Registry) HealthCheck(w *domain.Worker) HealthReport {
	now := r.now()
	report := HealthReport{WorkerID: w.ID, Outcome: OutcomeHealthy}

	if now.Sub(w.LastHeartbeat) > r.cfg.HeartbeatTimeout {
		report.Issues = append(report.Issues, "heartbeat timeout")
	}
	if w.Status == domain.WorkerStatusError {
		report.Issues = append(report.Issues, "status is ERROR")
	}
	if w.Status == domain.WorkerStatusInactive && w.CurrentJobCount > 0 {
		report.Warnings = append(report.Warnings, "inactive worker has assigned jobs")
	}
	if w.CurrentJobCount < 0 || w.CurrentJobCount > w.MaxConcurrentJobs {
		report.Issues = append(report.Issues, "job count outside capacity bounds")
	}
	if w.Status == domain.WorkerStatusActive && w.CurrentJobCount == 0 {
		report.Warnings = append(report.Warnings, "active worker with zero jobs should be IDLE")
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	h := r.health[w.ID]
	if h == nil {
		h = &health{}
		r.health[w.ID] = h
	}

	if len(report.Issues) > 0 {
		h.consecutiveFailures++
		h.unhealthy = true
		report.Outcome = OutcomeUnhealthy
		if h.consecutiveFailures >= r.cfg.ConsecutiveFailureMax {
			report.Outcome = OutcomeFailed
		}
	} else if h.unhealthy {
		h.consecutiveFailures = 0
		h.unhealthy = false
		report.Outcome = OutcomeRecovered
	}

	return report
}

// ShouldNotify reports whether a critical alert for workerID may be sent,
// honoring the 30-minutes-per-worker throttle, and records the attempt if
// so.
func (r *Registry) ShouldNotify(workerID string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	h := r.health[workerID]
	if h == nil {
		h = &health{}
		r.health[workerID] = h
	}
	now := r.now()
	if now.Sub(h.lastNotification) < r.cfg.NotificationThrottle {
		return false
	}
	h.lastNotification = now
	return true
}

// HandleFailure implements the §4.E failureHandling step for a worker
// whose health check reported FAILED: set ERROR, persist, evict cache.
func (r *Registry) HandleFailure(ctx context.Context, w *domain.Worker) error {
	w.Status = domain.WorkerStatusError
	if err := r.store.SaveWorker(ctx, w); err != nil {
		return fmt.Errorf("fleet: handle failure persist: %w", err)
	}
	return r.cache.Evict(ctx, workerCacheKey(w.ID))
}

// Cleanup sweeps workers whose heartbeat is stale past CleanupThreshold and
// whose consecutive-failure counter is at the configured threshold,
// setting them INACTIVE and clearing their assignments. Returns the
// worker-ids cleaned.
func (r *Registry) Cleanup(ctx context.Context) ([]string, error) {
	workers, err := r.store.ListWorkers(ctx)
	if err != nil {
		return nil, fmt.Errorf("fleet: cleanup list: %w", err)
	}

	now := r.now()
	var cleaned []string
	for _, w := range workers {
		if now.Sub(w.LastHeartbeat) < r.cfg.CleanupThreshold {
			continue
		}
		r.mu.Lock()
		h := r.health[w.ID]
		atThreshold := h != nil && h.consecutiveFailures >= r.cfg.ConsecutiveFailureMax
		r.mu.Unlock()
		if !atThreshold {
			continue
		}

		w.Status = domain.WorkerStatusInactive
		w.AssignedJobs = make(map[string]struct{})
		w.CurrentJobCount = 0
		if err := r.store.DeleteWorkerAssignments(ctx, w.ID); err != nil {
			return cleaned, fmt.Errorf("fleet: cleanup clear assignments: %w", err)
		}
		if err := r.store.SaveWorker(ctx, w); err != nil {
			return cleaned, fmt.Errorf("fleet: cleanup persist: %w", err)
		}
		_ = r.cache.Evict(ctx, workerCacheKey(w.ID))
		cleaned = append(cleaned, w.ID)
	}
	return cleaned, nil
}
