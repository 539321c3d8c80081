package pgcache

import (
	"context"
	"time"

	"github.com/LokaMart/ParcelPulse/internal/models"
	"github.com/jackc/pgx/v5"
	"github.com/pkg/errors"
)

// GetPendingJobs claims a batch of due jobs and marks them RUNNING so a
// concurrent fetch cannot pick them up again. Each job comes joined with
// its cache row. Uses SELECT ... FOR UPDATE SKIP LOCKED.
func (s *Storage) GetPendingJobs(ctx context.Context, batchSize int) ([]*models.TrackingJob, error) {
	now := time.Now().UTC()

	tx, err := s.db.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return nil, errors.Wrap(err, "begin tx")
	}
	defer func() { _ = tx.Rollback(ctx) }()

	rows, err := tx.Query(ctx, `
SELECT
  j.id, j.cache_id, j.job_type, j.priority,
  j.attempt_count, j.max_attempts,
  j.scheduled_for, j.status, j.error_message,
  j.created_at, j.updated_at,
  c.id, c.order_ref, c.tracking_number, c.courier_name,
  c.status, c.status_at,
  c.estimated_delivery, c.actual_delivery,
  c.last_api_call_at, c.next_update_due,
  c.consecutive_failures, c.response_hash,
  c.is_active, c.is_delivered,
  c.attention_reason, c.archived_at,
  c.created_at, c.updated_at
FROM tracking_jobs j
JOIN tracking_caches c ON c.id = j.cache_id
WHERE j.status = $1
  AND j.scheduled_for <= $2
ORDER BY j.priority DESC, j.scheduled_for ASC
LIMIT $3
FOR UPDATE OF j SKIP LOCKED
`, models.JobStatusPending, now, batchSize)
	if err != nil {
		return nil, errors.Wrap(err, "select pending jobs")
	}
	defer rows.Close()

	var picked []*models.TrackingJob
	for rows.Next() {
		j, err := scanJobWithCache(rows)
		if err != nil {
			return nil, err
		}
		picked = append(picked, j)
	}
	if rows.Err() != nil {
		return nil, errors.Wrap(rows.Err(), "rows")
	}
	rows.Close()

	for _, j := range picked {
		_, err := tx.Exec(ctx, `
UPDATE tracking_jobs
SET status = $2, attempt_count = attempt_count + 1, updated_at = now()
WHERE id = $1
`, j.ID, models.JobStatusRunning)
		if err != nil {
			return nil, errors.Wrap(err, "claim job")
		}
		j.Status = models.JobStatusRunning
		j.AttemptCount++
	}

	if err := tx.Commit(ctx); err != nil {
		return nil, errors.Wrap(err, "commit tx")
	}
	return picked, nil
}

func scanJobWithCache(rows pgx.Rows) (*models.TrackingJob, error) {
	var j models.TrackingJob
	var c models.TrackingCache
	if err := rows.Scan(
		&j.ID, &j.CacheID, &j.Type, &j.Priority,
		&j.AttemptCount, &j.MaxAttempts,
		&j.ScheduledFor, &j.Status, &j.ErrorMessage,
		&j.CreatedAt, &j.UpdatedAt,
		&c.ID, &c.OrderRef, &c.TrackingNumber, &c.CourierName,
		&c.Status, &c.StatusAt,
		&c.EstimatedDelivery, &c.ActualDelivery,
		&c.LastAPICallAt, &c.NextUpdateDue,
		&c.ConsecutiveFailures, &c.ResponseHash,
		&c.IsActive, &c.IsDelivered,
		&c.AttentionReason, &c.ArchivedAt,
		&c.CreatedAt, &c.UpdatedAt,
	); err != nil {
		return nil, errors.Wrap(err, "scan job")
	}
	j.Cache = &c
	return &j, nil
}

func (s *Storage) UpdateJobStatus(ctx context.Context, jobID uint64, status string, errorMessage *string) error {
	_, err := s.db.Exec(ctx, `
UPDATE tracking_jobs
SET status = $2, error_message = $3, updated_at = now()
WHERE id = $1
`, jobID, status, errorMessage)
	return errors.Wrap(err, "update job status")
}

// ScheduleJobRetry puts a failed-but-retriable job back in the pending
// pool with the computed backoff persisted on scheduled_for.
func (s *Storage) ScheduleJobRetry(ctx context.Context, jobID uint64, runAt time.Time, errorMessage *string) error {
	_, err := s.db.Exec(ctx, `
UPDATE tracking_jobs
SET status = $2, scheduled_for = $3, error_message = $4, updated_at = now()
WHERE id = $1
`, jobID, models.JobStatusPending, runAt.UTC(), errorMessage)
	return errors.Wrap(err, "schedule job retry")
}

// EnqueueJob creates a job for a cache unless one is already open for it.
// Returns false when a PENDING or RUNNING job exists.
func (s *Storage) EnqueueJob(ctx context.Context, cacheID uint64, jobType models.JobType, priority int32, maxAttempts int32, scheduledFor time.Time) (bool, error) {
	tag, err := s.db.Exec(ctx, `
INSERT INTO tracking_jobs (cache_id, job_type, priority, max_attempts, scheduled_for, created_at, updated_at)
VALUES ($1,$2,$3,$4,$5, now(), now())
ON CONFLICT (cache_id) WHERE status IN ('PENDING', 'RUNNING') DO NOTHING
`, cacheID, jobType, priority, maxAttempts, scheduledFor.UTC())
	if err != nil {
		return false, errors.Wrap(err, "enqueue job")
	}
	return tag.RowsAffected() > 0, nil
}

// EnqueueDueUpdateJobs creates UPDATE jobs for active caches whose
// next_update_due has arrived. Caches with an open job are skipped by the
// partial unique index.
func (s *Storage) EnqueueDueUpdateJobs(ctx context.Context, limit int, maxAttempts int32) (int64, error) {
	tag, err := s.db.Exec(ctx, `
INSERT INTO tracking_jobs (cache_id, job_type, priority, max_attempts, scheduled_for, created_at, updated_at)
SELECT c.id, $1, 0, $2, c.next_update_due, now(), now()
FROM tracking_caches c
WHERE c.is_active
  AND NOT c.is_delivered
  AND c.next_update_due <= now()
ORDER BY c.next_update_due ASC
LIMIT $3
ON CONFLICT (cache_id) WHERE status IN ('PENDING', 'RUNNING') DO NOTHING
`, models.JobTypeUpdate, maxAttempts, limit)
	if err != nil {
		return 0, errors.Wrap(err, "enqueue due update jobs")
	}
	return tag.RowsAffected(), nil
}

// EnqueueCleanupJobs creates CLEANUP jobs for delivered, retired caches
// that have not been archived yet.
func (s *Storage) EnqueueCleanupJobs(ctx context.Context, limit int) (int64, error) {
	tag, err := s.db.Exec(ctx, `
INSERT INTO tracking_jobs (cache_id, job_type, priority, max_attempts, scheduled_for, created_at, updated_at)
SELECT c.id, $1, 0, 1, now(), now(), now()
FROM tracking_caches c
WHERE c.is_delivered
  AND c.archived_at IS NULL
ORDER BY c.updated_at ASC
LIMIT $2
ON CONFLICT (cache_id) WHERE status IN ('PENDING', 'RUNNING') DO NOTHING
`, models.JobTypeCleanup, limit)
	if err != nil {
		return 0, errors.Wrap(err, "enqueue cleanup jobs")
	}
	return tag.RowsAffected(), nil
}
