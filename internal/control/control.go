// Package control implements the scheduler control loop (§4.H): a single
// cooperative tick dispatching HIGH -> NORMAL -> LOW bands capped at 50
// jobs per band per tick, plus the independently-scheduled periodic
// sweeps. Grounded on the internal/application/worker ticker
// loop and functional-options configuration.
package control

import (
	"context"
	"log/slog"
	"time"

	"github.com/rezkam/mono/internal/dispatch"
	"github.com/rezkam/mono/internal/domain"
	"github.com/rezkam/mono/internal/queue"
)

// Config controls tick cadence and per-band dispatch caps (§4.H, §6).
type Config struct {
	TickInterval          time.Duration
	MaxJobsPerBandPerTick int

	ScheduledScanInterval time.Duration
	HeartbeatSweepInterval time.Duration
	RebalanceInterval     time.Duration
	CronEvalInterval      time.Duration
	StuckSweepInterval    time.Duration
	CleanupInterval       time.Duration
}

// DefaultConfig matches §4.H's stated cadences.
func DefaultConfig() Config {
	return Config{
		TickInterval:           5 * time.Second,
		MaxJobsPerBandPerTick:  50,
		ScheduledScanInterval:  30 * time.Second,
		HeartbeatSweepInterval: 60 * time.Second,
		RebalanceInterval:      60 * time.Second,
		CronEvalInterval:       60 * time.Second,
		StuckSweepInterval:     2 * time.Hour,
		CleanupInterval:        time.Hour,
	}
}

// Assigner selects and binds a worker for a popped job (component F).
type Assigner interface {
	Assign(ctx context.Context, j *domain.Job) (*domain.Worker, error)
}

// Dependencies bundles every sweep's collaborator so Loop's constructor
// stays a single parameter.
type Dependencies struct {
	Queue    *queue.Queue
	Assigner Assigner

	ScanScheduledJobs func(ctx context.Context) error
	SweepHeartbeats   func(ctx context.Context) error
	Rebalance         func(ctx context.Context) error
	EvalCronTriggers  func(ctx context.Context) error
	SweepStuckJobs    func(ctx context.Context) error
	CleanupTails      func(ctx context.Context) error
}

// Loop drives the dispatch tick and the independent periodic sweeps, each
// on its own ticker so a slow sweep never stalls the others (§4.H).
type Loop struct {
	cfg  Config
	deps Dependencies
	log  *slog.Logger
	now  func() time.Time
}

// New builds a Loop. now is injected so callers (and tests) control time,
// the same pattern used by queue.Queue, fleet.Registry and
// retry.Controller. A nil now defaults to time.Now.
func New(cfg Config, deps Dependencies, log *slog.Logger, now func() time.Time) *Loop {
	if log == nil {
		log = slog.Default()
	}
	if now == nil {
		now = time.Now
	}
	return &Loop{cfg: cfg, deps: deps, log: log, now: now}
}

// Run blocks until ctx is cancelled, driving the dispatch tick and every
// configured periodic sweep concurrently.
func (l *Loop) Run(ctx context.Context) {
	go l.runTicker(ctx, l.cfg.TickInterval, l.tick)
	if l.deps.ScanScheduledJobs != nil {
		go l.runTicker(ctx, l.cfg.ScheduledScanInterval, l.deps.ScanScheduledJobs)
	}
	if l.deps.SweepHeartbeats != nil {
		go l.runTicker(ctx, l.cfg.HeartbeatSweepInterval, l.deps.SweepHeartbeats)
	}
	if l.deps.Rebalance != nil {
		go l.runTicker(ctx, l.cfg.RebalanceInterval, l.deps.Rebalance)
	}
	if l.deps.EvalCronTriggers != nil {
		go l.runTicker(ctx, l.cfg.CronEvalInterval, l.deps.EvalCronTriggers)
	}
	if l.deps.SweepStuckJobs != nil {
		go l.runTicker(ctx, l.cfg.StuckSweepInterval, l.deps.SweepStuckJobs)
	}
	if l.deps.CleanupTails != nil {
		go l.runTicker(ctx, l.cfg.CleanupInterval, l.deps.CleanupTails)
	}
	<-ctx.Done()
}

func (l *Loop) runTicker(ctx context.Context, interval time.Duration, fn func(context.Context) error) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			runCtx, cancel := context.WithTimeout(ctx, interval)
			if err := fn(runCtx); err != nil {
				l.log.Error("scheduler sweep failed", "error", err)
			}
			cancel()
		}
	}
}

// tick implements the §4.H dispatch tick: process HIGH -> NORMAL -> LOW,
// capped per band, pushing unassignable jobs back to the head of their
// band and moving on to the next band.
func (l *Loop) tick(ctx context.Context) error {
	bands := []struct {
		lo, hi float64
		name   string
	}{
		{0, queue.BandHighMax, "HIGH"},
		{queue.BandHighMax, queue.BandMediumMax, "NORMAL"},
		{queue.BandMediumMax, 1 << 40, "LOW"},
	}

	for _, band := range bands {
		jobs, err := l.deps.Queue.PopBand(ctx, band.lo, band.hi, l.cfg.MaxJobsPerBandPerTick)
		if err != nil {
			l.log.Error("tick: pop band failed", "band", band.name, "error", err)
			continue
		}
		for i, j := range jobs {
			if _, err := l.deps.Assigner.Assign(ctx, j); err != nil {
				for _, rest := range jobs[i:] {
					score := queue.Score(rest, l.now())
					if reqErr := l.deps.Queue.Requeue(ctx, rest, score); reqErr != nil {
						l.log.Error("tick: requeue failed", "job", rest.ID, "error", reqErr)
					}
				}
				break
			}
		}
	}
	return nil
}
