package scheduler

import (
	"context"
	"time"

	"go.uber.org/zap"
)

// upsertJobStats records the latest run per job so operators can see the
// sweep cadence without trawling logs. Stats are advisory; a failed write
// never fails the job.
func (s *Scheduler) upsertJobStats(ctx context.Context, run *jobRun) {
	if run == nil || s.db == nil {
		return
	}
	statsCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 2*time.Second)
	defer cancel()

	err := s.db.WithContext(statsCtx).Exec(
		`INSERT INTO scheduler_job_stats (job, last_run_id, last_run_at, last_duration_ms, processed_count, error_count, updated_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?)
		 ON CONFLICT (job)
		 DO UPDATE SET last_run_id = EXCLUDED.last_run_id,
		               last_run_at = EXCLUDED.last_run_at,
		               last_duration_ms = EXCLUDED.last_duration_ms,
		               processed_count = EXCLUDED.processed_count,
		               error_count = EXCLUDED.error_count,
		               updated_at = EXCLUDED.updated_at`,
		run.job,
		run.runID,
		run.startedAt,
		time.Since(run.startedAt).Milliseconds(),
		run.processedCount,
		run.errorCount,
		s.clock.Now(),
	).Error
	if err != nil {
		s.log.Warn("scheduler job stats upsert failed",
			zap.String("job", run.job),
			zap.Error(err),
		)
	}
}
