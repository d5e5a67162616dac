package app

import (
	"context"
	"time"

	"github.com/rezkam/mono/internal/advanced"
	"github.com/rezkam/mono/internal/dispatch"
	"github.com/rezkam/mono/internal/domain"
	"github.com/rezkam/mono/internal/fleet"
)

// scanScheduledJobs moves SCHEDULED jobs whose time has arrived onto the
// priority queue (§4.H ScheduledScanInterval).
func (s *Services) scanScheduledJobs(ctx context.Context) error {
	due, err := s.Backend.DueScheduledJobs(ctx, time.Now())
	if err != nil {
		return err
	}
	for _, j := range due {
		if changed := s.Priority.Apply(j); changed {
			if err := s.Backend.SaveJob(ctx, j); err != nil {
				s.log.ErrorContext(ctx, "scanScheduledJobs: save inherited priority failed", "job", j.ID, "error", err)
			}
		}
		if err := s.Queue.Enqueue(ctx, j); err != nil {
			s.log.ErrorContext(ctx, "scanScheduledJobs: enqueue failed", "job", j.ID, "error", err)
			continue
		}
		if err := s.Backend.SetStatus(ctx, j.Key, j.ID, domain.JobStatusQueued, time.Now()); err != nil {
			s.log.ErrorContext(ctx, "scanScheduledJobs: set status failed", "job", j.ID, "error", err)
		}
	}
	return nil
}

// sweepHeartbeats classifies every registered worker's health and, for
// workers that transition to FAILED, reassigns their in-flight jobs
// (§4.E + §4.G composed).
func (s *Services) sweepHeartbeats(ctx context.Context) error {
	workers, err := s.Backend.ListWorkers(ctx)
	if err != nil {
		return err
	}
	for _, w := range workers {
		report := s.Fleet.HealthCheck(w)
		if report.Outcome != fleet.OutcomeFailed {
			continue
		}
		if err := s.Fleet.HandleFailure(ctx, w); err != nil {
			s.log.ErrorContext(ctx, "sweepHeartbeats: handle failure failed", "worker", w.ID, "error", err)
			continue
		}
		if err := s.Retry.HandleWorkerFailure(ctx, w.ID, s.Queue); err != nil {
			s.log.ErrorContext(ctx, "sweepHeartbeats: reassign jobs failed", "worker", w.ID, "error", err)
		}
	}
	return nil
}

// rebalance migrates jobs off overloaded workers onto underloaded ones
// (§4.F).
func (s *Services) rebalance(ctx context.Context) error {
	workers, err := s.Backend.ActiveWorkers(ctx)
	if err != nil {
		return err
	}

	migratable := func(workerID string) []*domain.Job {
		jobs, err := s.Backend.JobsAssignedTo(ctx, workerID, []domain.JobStatus{domain.JobStatusPending, domain.JobStatusQueued})
		if err != nil {
			return nil
		}
		var out []*domain.Job
		for _, j := range jobs {
			if j.Priority < domain.PriorityHigh {
				out = append(out, j)
			}
		}
		return out
	}

	for _, migration := range dispatch.RebalancePlan(workers, migratable) {
		if err := s.Backend.UnbindJob(ctx, migration.Job, &domain.Worker{ID: migration.FromWorker}); err != nil {
			s.log.WarnContext(ctx, "rebalance: unbind failed", "job", migration.Job.ID, "error", err)
			continue
		}
		if _, err := s.Dispatch.Assign(ctx, migration.Job); err != nil {
			s.log.WarnContext(ctx, "rebalance: reassign failed", "job", migration.Job.ID, "error", err)
		}
	}
	return nil
}

// evalCronTriggers materializes any due cron schedule into a new PENDING
// job and advances its next-run time (§4.J cron triggers).
func (s *Services) evalCronTriggers(ctx context.Context) error {
	jobs := s.Cron.Advance(s.cronSchedules, time.Now(), s.newID)
	for i := range jobs {
		j := &jobs[i]
		if err := s.Backend.PutJob(ctx, j); err != nil {
			s.log.ErrorContext(ctx, "evalCronTriggers: put job failed", "job", j.ID, "error", err)
			continue
		}
		if err := s.Queue.Enqueue(ctx, j); err != nil {
			s.log.ErrorContext(ctx, "evalCronTriggers: enqueue failed", "job", j.ID, "error", err)
		}
	}
	return nil
}

// sweepStuckJobs times out RUNNING jobs stuck past the stuck threshold
// (§4.G).
func (s *Services) sweepStuckJobs(ctx context.Context) error {
	n, err := s.Retry.SweepStuckJobs(ctx)
	if err != nil {
		return err
	}
	if n > 0 {
		s.log.InfoContext(ctx, "swept stuck jobs", "count", n)
	}
	return nil
}

// cleanupTails trims the terminal-queue tails and the history ring buffer
// (§4.D Cleanup, §4.I Cleanup).
func (s *Services) cleanupTails(ctx context.Context) error {
	if err := s.Queue.Cleanup(ctx, 7*24*time.Hour); err != nil {
		return err
	}
	s.History.Cleanup()
	return nil
}

// AddCronSchedule registers a cron schedule to be materialized by
// evalCronTriggers, computing its first next-run via the cron evaluator.
func (s *Services) AddCronSchedule(sched *advanced.CronSchedule) error {
	next, err := s.Cron.ComputeNextRun(sched.Expression, sched.Timezone, time.Now())
	if err != nil {
		return err
	}
	sched.NextRun = next
	s.cronSchedules = append(s.cronSchedules, sched)
	return nil
}
