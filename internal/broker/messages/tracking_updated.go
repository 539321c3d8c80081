package messages

import "time"

// TrackingUpdated is published after a reconciliation that changed a
// shipment's status. Downstream member-notification tooling consumes it.
type TrackingUpdated struct {
	CacheID        uint64    `json:"cache_id"`
	TrackingNumber string    `json:"tracking_number"`
	OrderRef       string    `json:"order_ref,omitempty"`
	CheckedAt      time.Time `json:"checked_at"`

	PreviousStatus string `json:"previous_status"`
	NewStatus      string `json:"new_status"`
	EventsAdded    int32  `json:"events_added"`

	EstimatedDelivery *time.Time `json:"estimated_delivery,omitempty"`
	NextUpdateDue     time.Time  `json:"next_update_due"`
}

// BatchSummary is published once per processing pass.
type BatchSummary struct {
	Family     string    `json:"family"`
	Total      int       `json:"total"`
	Successful int       `json:"successful"`
	Failed     int       `json:"failed"`
	Skipped    int       `json:"skipped"`
	DurationMS int64     `json:"duration_ms"`
	FinishedAt time.Time `json:"finished_at"`
	Errors     []string  `json:"errors,omitempty"`
}

// RefreshRequested asks the worker to poll one shipment out of cadence.
// Produced by admin tooling.
type RefreshRequested struct {
	CacheID     uint64    `json:"cache_id"`
	RequestedBy string    `json:"requested_by,omitempty"`
	RequestedAt time.Time `json:"requested_at"`
}
