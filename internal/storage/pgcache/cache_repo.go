package pgcache

import (
	"context"
	"time"

	"github.com/LokaMart/ParcelPulse/internal/models"
	"github.com/jackc/pgx/v5"
	"github.com/pkg/errors"
)

const cacheColumns = `
  id, order_ref, tracking_number, courier_name,
  status, status_at,
  estimated_delivery, actual_delivery,
  last_api_call_at, next_update_due,
  consecutive_failures, response_hash,
  is_active, is_delivered,
  attention_reason, archived_at,
  created_at, updated_at`

func scanCache(row pgx.Row) (*models.TrackingCache, error) {
	var c models.TrackingCache
	if err := row.Scan(
		&c.ID, &c.OrderRef, &c.TrackingNumber, &c.CourierName,
		&c.Status, &c.StatusAt,
		&c.EstimatedDelivery, &c.ActualDelivery,
		&c.LastAPICallAt, &c.NextUpdateDue,
		&c.ConsecutiveFailures, &c.ResponseHash,
		&c.IsActive, &c.IsDelivered,
		&c.AttentionReason, &c.ArchivedAt,
		&c.CreatedAt, &c.UpdatedAt,
	); err != nil {
		return nil, errors.Wrap(err, "scan cache")
	}
	return &c, nil
}

// CreateTrackingCaches registers shipments for tracking. Existing tracking
// numbers are returned as-is rather than duplicated.
func (s *Storage) CreateTrackingCaches(ctx context.Context, items []models.TrackingCacheCreateInput) ([]*models.TrackingCache, error) {
	now := time.Now().UTC()

	tx, err := s.db.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return nil, errors.Wrap(err, "begin tx")
	}
	defer func() { _ = tx.Rollback(ctx) }()

	ids := make([]uint64, 0, len(items))
	for _, it := range items {
		var id uint64
		err := tx.QueryRow(ctx, `
INSERT INTO tracking_caches (
  order_ref, tracking_number, courier_name, status, next_update_due, created_at, updated_at
)
VALUES ($1,$2,$3,$4,$5,$6,$6)
ON CONFLICT (tracking_number)
DO UPDATE SET updated_at = tracking_caches.updated_at
RETURNING id
`, it.OrderRef, it.TrackingNumber, it.CourierName, models.ShipmentStatusPending, now).Scan(&id)
		if err != nil {
			return nil, errors.Wrap(err, "insert cache")
		}
		ids = append(ids, id)
	}

	if err := tx.Commit(ctx); err != nil {
		return nil, errors.Wrap(err, "commit tx")
	}

	return s.GetTrackingCachesByIDs(ctx, ids)
}

func (s *Storage) GetTrackingCachesByIDs(ctx context.Context, ids []uint64) ([]*models.TrackingCache, error) {
	if len(ids) == 0 {
		return []*models.TrackingCache{}, nil
	}

	rows, err := s.db.Query(ctx, `SELECT`+cacheColumns+` FROM tracking_caches WHERE id = ANY($1)`, ids)
	if err != nil {
		return nil, errors.Wrap(err, "select caches")
	}
	defer rows.Close()

	out := make([]*models.TrackingCache, 0, len(ids))
	for rows.Next() {
		c, err := scanCache(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, c)
	}
	if rows.Err() != nil {
		return nil, errors.Wrap(rows.Err(), "rows")
	}
	return out, nil
}

func (s *Storage) ListCacheEvents(ctx context.Context, cacheID uint64, limit, offset int) ([]*models.TrackingEvent, error) {
	if limit <= 0 || limit > 500 {
		limit = 100
	}
	if offset < 0 {
		offset = 0
	}

	rows, err := s.db.Query(ctx, `
SELECT
  id, cache_id, event_code, event_name,
  description, location, event_time, timezone, source, created_at
FROM tracking_events
WHERE cache_id = $1
ORDER BY event_time ASC, id ASC
LIMIT $2 OFFSET $3
`, cacheID, limit, offset)
	if err != nil {
		return nil, errors.Wrap(err, "select events")
	}
	defer rows.Close()

	var out []*models.TrackingEvent
	for rows.Next() {
		var e models.TrackingEvent
		if err := rows.Scan(
			&e.ID, &e.CacheID, &e.EventCode, &e.EventName,
			&e.Description, &e.Location, &e.EventTime, &e.Timezone, &e.Source, &e.CreatedAt,
		); err != nil {
			return nil, errors.Wrap(err, "scan event")
		}
		out = append(out, &e)
	}
	if rows.Err() != nil {
		return nil, errors.Wrap(rows.Err(), "rows")
	}
	return out, nil
}

// ReconcileUpdate carries one successful courier response into the cache.
type ReconcileUpdate struct {
	CacheID uint64

	CheckedAt time.Time

	Status   string
	StatusAt *time.Time

	EstimatedDelivery *time.Time
	ActualDelivery    *time.Time
	CourierName       string

	NextUpdateDue time.Time
	ResponseHash  string

	Events []*models.TrackingEvent
}

// ApplyReconciliation persists a successful poll: updates the cache row,
// resets the failure counter and appends only genuinely new events.
// Returns the number of events actually inserted.
func (s *Storage) ApplyReconciliation(ctx context.Context, upd ReconcileUpdate) (int32, error) {
	tx, err := s.db.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return 0, errors.Wrap(err, "begin tx")
	}
	defer func() { _ = tx.Rollback(ctx) }()

	delivered := upd.Status == models.ShipmentStatusDelivered

	_, err = tx.Exec(ctx, `
UPDATE tracking_caches
SET
  status = $2,
  status_at = COALESCE($3, status_at),
  estimated_delivery = COALESCE($4, estimated_delivery),
  actual_delivery = COALESCE($5, actual_delivery),
  courier_name = CASE WHEN $6 <> '' THEN $6 ELSE courier_name END,
  last_api_call_at = $7,
  next_update_due = $8,
  consecutive_failures = 0,
  response_hash = $9,
  is_delivered = is_delivered OR $10,
  updated_at = now()
WHERE id = $1
`, upd.CacheID, upd.Status, upd.StatusAt,
		upd.EstimatedDelivery, upd.ActualDelivery, upd.CourierName,
		upd.CheckedAt.UTC(), upd.NextUpdateDue.UTC(), upd.ResponseHash, delivered)
	if err != nil {
		return 0, errors.Wrap(err, "update cache")
	}

	var added int32
	for _, e := range upd.Events {
		tag, err := tx.Exec(ctx, `
INSERT INTO tracking_events (
  cache_id, event_code, event_name, description, location, event_time, timezone, source, created_at
)
VALUES ($1,$2,$3,$4,$5,$6,$7,$8, now())
ON CONFLICT (cache_id, event_name, event_time) DO NOTHING
`, upd.CacheID, e.EventCode, e.EventName, e.Description, e.Location, e.EventTime.UTC(), e.Timezone, e.Source)
		if err != nil {
			return 0, errors.Wrap(err, "insert event")
		}
		added += int32(tag.RowsAffected())
	}

	if err := tx.Commit(ctx); err != nil {
		return 0, errors.Wrap(err, "commit tx")
	}
	return added, nil
}

// IncrementCacheFailure bumps the failure counter so a failed poll is
// visible on the cache even before the job-level bookkeeping lands.
func (s *Storage) IncrementCacheFailure(ctx context.Context, cacheID uint64, checkedAt time.Time, nextUpdateDue time.Time) error {
	_, err := s.db.Exec(ctx, `
UPDATE tracking_caches
SET
  consecutive_failures = consecutive_failures + 1,
  last_api_call_at = $2,
  next_update_due = $3,
  updated_at = now()
WHERE id = $1
`, cacheID, checkedAt.UTC(), nextUpdateDue.UTC())
	return errors.Wrap(err, "increment cache failure")
}

// MarkCacheForAttention retires a cache from automated polling and records
// why a human has to look at it.
func (s *Storage) MarkCacheForAttention(ctx context.Context, cacheID uint64, reason string) error {
	_, err := s.db.Exec(ctx, `
UPDATE tracking_caches
SET is_active = FALSE, attention_reason = $2, updated_at = now()
WHERE id = $1
`, cacheID, reason)
	return errors.Wrap(err, "mark cache for attention")
}

// ArchiveCache finishes a delivered cache's lifecycle. Only delivered
// records qualify; anything else is a data inconsistency.
func (s *Storage) ArchiveCache(ctx context.Context, cacheID uint64) error {
	tag, err := s.db.Exec(ctx, `
UPDATE tracking_caches
SET archived_at = now(), is_active = FALSE, updated_at = now()
WHERE id = $1 AND is_delivered AND archived_at IS NULL
`, cacheID)
	if err != nil {
		return errors.Wrap(err, "archive cache")
	}
	if tag.RowsAffected() == 0 {
		return errors.Errorf("cache %d is not eligible for archival", cacheID)
	}
	return nil
}

// RequestRefresh makes a cache due immediately.
func (s *Storage) RequestRefresh(ctx context.Context, cacheID uint64) error {
	_, err := s.db.Exec(ctx, `UPDATE tracking_caches SET next_update_due = now(), updated_at = now() WHERE id = $1`, cacheID)
	return errors.Wrap(err, "request refresh")
}
