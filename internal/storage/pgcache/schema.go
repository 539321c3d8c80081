package pgcache

import (
	"context"

	"github.com/pkg/errors"
)

func (s *Storage) initSchema(ctx context.Context) error {
	stmts := []string{
		`
CREATE TABLE IF NOT EXISTS tracking_caches (
  id BIGSERIAL PRIMARY KEY,
  order_ref TEXT NOT NULL DEFAULT '',
  tracking_number TEXT NOT NULL,
  courier_name TEXT NOT NULL DEFAULT '',
  status TEXT NOT NULL,
  status_at TIMESTAMPTZ NULL,
  estimated_delivery TIMESTAMPTZ NULL,
  actual_delivery TIMESTAMPTZ NULL,
  last_api_call_at TIMESTAMPTZ NULL,
  next_update_due TIMESTAMPTZ NOT NULL,
  consecutive_failures INT NOT NULL DEFAULT 0,
  response_hash TEXT NOT NULL DEFAULT '',
  is_active BOOLEAN NOT NULL DEFAULT TRUE,
  is_delivered BOOLEAN NOT NULL DEFAULT FALSE,
  attention_reason TEXT NULL,
  archived_at TIMESTAMPTZ NULL,
  created_at TIMESTAMPTZ NOT NULL,
  updated_at TIMESTAMPTZ NOT NULL,
  UNIQUE (tracking_number)
)`,
		`CREATE INDEX IF NOT EXISTS idx_tracking_caches_next_update_due ON tracking_caches(next_update_due) WHERE is_active AND NOT is_delivered`,
		`
CREATE TABLE IF NOT EXISTS tracking_events (
  id BIGSERIAL PRIMARY KEY,
  cache_id BIGINT NOT NULL REFERENCES tracking_caches(id) ON DELETE CASCADE,
  event_code TEXT NOT NULL DEFAULT '',
  event_name TEXT NOT NULL,
  description TEXT NULL,
  location TEXT NULL,
  event_time TIMESTAMPTZ NOT NULL,
  timezone TEXT NULL,
  source TEXT NOT NULL DEFAULT 'EASYPARCEL',
  created_at TIMESTAMPTZ NOT NULL
)`,
		`CREATE INDEX IF NOT EXISTS idx_tracking_events_cache_id_event_time ON tracking_events(cache_id, event_time)`,
		// Enforce de-duplication of events by (event time, event name).
		`CREATE UNIQUE INDEX IF NOT EXISTS uq_tracking_events_dedup ON tracking_events(cache_id, event_name, event_time)`,
		`
CREATE TABLE IF NOT EXISTS tracking_jobs (
  id BIGSERIAL PRIMARY KEY,
  cache_id BIGINT NOT NULL REFERENCES tracking_caches(id) ON DELETE CASCADE,
  job_type TEXT NOT NULL,
  priority INT NOT NULL DEFAULT 0,
  attempt_count INT NOT NULL DEFAULT 0,
  max_attempts INT NOT NULL DEFAULT 3,
  scheduled_for TIMESTAMPTZ NOT NULL,
  status TEXT NOT NULL DEFAULT 'PENDING',
  error_message TEXT NULL,
  created_at TIMESTAMPTZ NOT NULL,
  updated_at TIMESTAMPTZ NOT NULL
)`,
		`CREATE INDEX IF NOT EXISTS idx_tracking_jobs_due ON tracking_jobs(status, scheduled_for)`,
		// At most one open job per cache row; this is what makes a batch
		// unique by cache id.
		`CREATE UNIQUE INDEX IF NOT EXISTS uq_tracking_jobs_open ON tracking_jobs(cache_id) WHERE status IN ('PENDING', 'RUNNING')`,
		`
CREATE TABLE IF NOT EXISTS update_logs (
  id BIGSERIAL PRIMARY KEY,
  cache_id BIGINT NOT NULL,
  job_id BIGINT NOT NULL DEFAULT 0,
  update_type TEXT NOT NULL,
  triggered_by TEXT NOT NULL DEFAULT '',
  api_success BOOLEAN NOT NULL,
  api_latency_ms BIGINT NOT NULL DEFAULT 0,
  error_message TEXT NULL,
  status_changed BOOLEAN NOT NULL DEFAULT FALSE,
  previous_status TEXT NOT NULL DEFAULT '',
  new_status TEXT NOT NULL DEFAULT '',
  events_added INT NOT NULL DEFAULT 0,
  started_at TIMESTAMPTZ NOT NULL,
  completed_at TIMESTAMPTZ NOT NULL
)`,
		`CREATE INDEX IF NOT EXISTS idx_update_logs_cache_id ON update_logs(cache_id, started_at DESC)`,
	}

	for _, q := range stmts {
		if _, err := s.db.Exec(ctx, q); err != nil {
			return errors.Wrap(err, "init schema")
		}
	}
	return nil
}
