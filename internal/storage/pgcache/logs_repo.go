package pgcache

import (
	"context"

	"github.com/LokaMart/ParcelPulse/internal/models"
	"github.com/pkg/errors"
)

// CreateUpdateLog appends one audit row. Logs are write-only; nothing in
// the codebase updates or deletes them.
func (s *Storage) CreateUpdateLog(ctx context.Context, l *models.UpdateLog) error {
	_, err := s.db.Exec(ctx, `
INSERT INTO update_logs (
  cache_id, job_id, update_type, triggered_by,
  api_success, api_latency_ms, error_message,
  status_changed, previous_status, new_status, events_added,
  started_at, completed_at
)
VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13)
`, l.CacheID, l.JobID, l.UpdateType, l.TriggeredBy,
		l.APISuccess, l.APILatencyMS, l.ErrorMessage,
		l.StatusChanged, l.PreviousStatus, l.NewStatus, l.EventsAdded,
		l.StartedAt.UTC(), l.CompletedAt.UTC())
	return errors.Wrap(err, "insert update log")
}

// ListUpdateLogs returns the most recent audit rows for a cache.
func (s *Storage) ListUpdateLogs(ctx context.Context, cacheID uint64, limit int) ([]*models.UpdateLog, error) {
	if limit <= 0 || limit > 200 {
		limit = 50
	}

	rows, err := s.db.Query(ctx, `
SELECT
  id, cache_id, job_id, update_type, triggered_by,
  api_success, api_latency_ms, error_message,
  status_changed, previous_status, new_status, events_added,
  started_at, completed_at
FROM update_logs
WHERE cache_id = $1
ORDER BY started_at DESC
LIMIT $2
`, cacheID, limit)
	if err != nil {
		return nil, errors.Wrap(err, "select update logs")
	}
	defer rows.Close()

	var out []*models.UpdateLog
	for rows.Next() {
		var l models.UpdateLog
		if err := rows.Scan(
			&l.ID, &l.CacheID, &l.JobID, &l.UpdateType, &l.TriggeredBy,
			&l.APISuccess, &l.APILatencyMS, &l.ErrorMessage,
			&l.StatusChanged, &l.PreviousStatus, &l.NewStatus, &l.EventsAdded,
			&l.StartedAt, &l.CompletedAt,
		); err != nil {
			return nil, errors.Wrap(err, "scan update log")
		}
		out = append(out, &l)
	}
	if rows.Err() != nil {
		return nil, errors.Wrap(rows.Err(), "rows")
	}
	return out, nil
}
