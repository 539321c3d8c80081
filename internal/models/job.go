package models

import "time"

// JobType is a closed set; the processor dispatches on it.
type JobType string

const (
	JobTypeUpdate  JobType = "UPDATE"
	JobTypeRetry   JobType = "RETRY"
	JobTypeManual  JobType = "MANUAL"
	JobTypeCleanup JobType = "CLEANUP"
)

func (t JobType) Valid() bool {
	switch t {
	case JobTypeUpdate, JobTypeRetry, JobTypeManual, JobTypeCleanup:
		return true
	}
	return false
}

// Job lifecycle statuses.
const (
	JobStatusPending   = "PENDING"
	JobStatusRunning   = "RUNNING"
	JobStatusCompleted = "COMPLETED"
	JobStatusFailed    = "FAILED"
)

// TrackingJob is one unit of polling work against a TrackingCache.
// A retriable failure puts the job back to PENDING with a future
// ScheduledFor; it is never re-run within the same batch pass.
type TrackingJob struct {
	ID      uint64
	CacheID uint64

	Type     JobType
	Priority int32

	AttemptCount int32
	MaxAttempts  int32

	ScheduledFor time.Time
	Status       string

	ErrorMessage *string

	CreatedAt time.Time
	UpdatedAt time.Time

	// Cache is the joined TrackingCache row for the job, populated by
	// the batch fetch.
	Cache *TrackingCache
}

// UpdateLog is an append-only audit record, one per job attempt.
type UpdateLog struct {
	ID      uint64
	CacheID uint64
	JobID   uint64

	UpdateType  JobType
	TriggeredBy string

	APISuccess   bool
	APILatencyMS int64
	ErrorMessage *string

	StatusChanged  bool
	PreviousStatus string
	NewStatus      string
	EventsAdded    int32

	StartedAt   time.Time
	CompletedAt time.Time
}
