package scheduler

import (
	"context"
	"errors"

	"github.com/siteloom/growth/internal/authorization"
	obsmetrics "github.com/siteloom/growth/internal/observability/metrics"
)

// EventRecoveryJob replays events that were appended but never processed,
// typically after a crash between the append commit and the pipeline run.
// Replay is idempotent: counters derive from the full log, so reprocessing
// an already-counted event changes nothing.
func (s *Scheduler) EventRecoveryJob(ctx context.Context) error {
	ctx, run, owner := s.ensureJobRun(ctx, "event_recovery", s.cfg.BatchSize)
	if owner {
		s.logJobStart(ctx, run)
		defer s.logJobFinish(ctx, run)
	}
	if err := s.authorizeSystem(ctx, authorization.ObjectSweep, authorization.ActionSweepRecovery); err != nil {
		s.logSchedulerError(ctx, run, "scheduler.authorize.failed", "event_recovery", 0, err)
		return err
	}

	schedMetrics := obsmetrics.Scheduler()
	var jobErr error
	for {
		if err := ctx.Err(); err != nil {
			return errors.Join(jobErr, err)
		}
		result, err := s.engineSvc.ReprocessStale(ctx, s.cfg.RecoveryThreshold, s.cfg.BatchSize)
		if err != nil {
			s.logSchedulerError(ctx, run, "scheduler.event.recovery.failed", "event_recovery", 0, err)
			return errors.Join(jobErr, err)
		}
		if result.Fetched == 0 {
			break
		}
		run.AddProcessed(result.Processed)
		schedMetrics.AddBatchProcessed("event_recovery", "events", result.Processed)
		if result.Deferred > 0 {
			schedMetrics.IncBatchDeferred("event_recovery", "site_locked")
		}
		// Deferred events stay unprocessed. When a pass makes no progress
		// the locks are still held; leave the remainder for the next tick.
		if result.Processed == 0 {
			break
		}
	}
	return jobErr
}

// SideEffectDispatchJob drains the pending side effect outbox.
func (s *Scheduler) SideEffectDispatchJob(ctx context.Context) error {
	ctx, run, owner := s.ensureJobRun(ctx, "sideeffect_dispatch", s.cfg.BatchSize)
	if owner {
		s.logJobStart(ctx, run)
		defer s.logJobFinish(ctx, run)
	}
	if err := s.authorizeSystem(ctx, authorization.ObjectSweep, authorization.ActionSweepDispatch); err != nil {
		s.logSchedulerError(ctx, run, "scheduler.authorize.failed", "sideeffect_dispatch", 0, err)
		return err
	}

	schedMetrics := obsmetrics.Scheduler()
	var jobErr error
	for {
		if err := ctx.Err(); err != nil {
			return errors.Join(jobErr, err)
		}
		result, err := s.sideEffectSvc.DispatchPending(ctx, s.cfg.BatchSize)
		if err != nil {
			s.logSchedulerError(ctx, run, "scheduler.sideeffect.dispatch.failed", "sideeffect_dispatch", 0, err)
			return errors.Join(jobErr, err)
		}
		if result.Claimed == 0 {
			break
		}
		run.AddProcessed(result.Published)
		schedMetrics.AddBatchProcessed("sideeffect_dispatch", "side_effects", result.Published)
	}
	return jobErr
}
