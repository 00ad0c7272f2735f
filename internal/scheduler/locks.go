package scheduler

import (
	"context"
	"strings"
	"time"

	"github.com/bwmarrin/snowflake"
	obsmetrics "github.com/siteloom/growth/internal/observability/metrics"
)

// fetchReferrersForCommission claims a page of users with at least one
// activated referral, in id order. The row lock keeps two scheduler
// replicas from re-deriving the same user's tier at once. FOR UPDATE
// cannot be combined with DISTINCT, hence the EXISTS form; sqlite has no
// row locks, so the suffix is dropped there.
func (s *Scheduler) fetchReferrersForCommission(ctx context.Context, after snowflake.ID, limit int) ([]snowflake.ID, error) {
	if limit <= 0 {
		limit = s.cfg.BatchSize
	}
	query := `SELECT u.id
	 FROM users u
	 WHERE u.id > ?
	   AND EXISTS (
		   SELECT 1 FROM referrals r
		   WHERE r.referrer_id = u.id
		     AND r.activated_at IS NOT NULL
	   )
	 ORDER BY u.id ASC
	 LIMIT ?`
	if !strings.EqualFold(s.db.Dialector.Name(), "sqlite") {
		query += ` FOR UPDATE SKIP LOCKED`
	}

	var ids []snowflake.ID
	schedMetrics := obsmetrics.Scheduler()
	lockStart := time.Now()
	err := s.db.WithContext(ctx).Raw(query, after, limit).Scan(&ids).Error
	schedMetrics.ObserveDBLockWait(obsmetrics.LockResourceUsersForCommission, time.Since(lockStart))
	if err != nil {
		return nil, err
	}
	return ids, nil
}
