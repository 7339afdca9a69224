package jobs

import (
	"context"
	"time"

	"clipnote/internal/config"
	"clipnote/internal/metrics"
)

// RetentionStats captures the number of records deleted by TTL cleanup.
type RetentionStats struct {
	JobsDeleted int64 `json:"jobsDeleted"`
}

// CleanupExpiredData deletes finished bulk jobs older than the configured
// retention so that clip_jobs does not grow without bound.
func CleanupExpiredData(ctx context.Context, cfg *config.Config, q Queue) RetentionStats {
	var stats RetentionStats
	if cfg.Retention.JobDays <= 0 {
		return stats
	}
	cutoff := time.Now().UTC().AddDate(0, 0, -cfg.Retention.JobDays)
	if n, err := q.DeleteExpiredClipJobs(ctx, cutoff); err == nil && n > 0 {
		stats.JobsDeleted = n
		metrics.RecordRetentionJobs(n)
	}
	return stats
}
