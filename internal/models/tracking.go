package models

import "time"

// Normalized shipment statuses as reported by the courier.
const (
	ShipmentStatusPending        = "PENDING"
	ShipmentStatusInfoReceived   = "INFO_RECEIVED"
	ShipmentStatusPickedUp       = "PICKED_UP"
	ShipmentStatusInTransit      = "IN_TRANSIT"
	ShipmentStatusOutForDelivery = "OUT_FOR_DELIVERY"
	ShipmentStatusDelivered      = "DELIVERED"
	ShipmentStatusFailedDelivery = "FAILED_DELIVERY"
	ShipmentStatusCancelled      = "CANCELLED"
	ShipmentStatusException      = "EXCEPTION"
	ShipmentStatusUnknown        = "UNKNOWN"
)

// Event provenance markers.
const (
	EventSourceEasyParcel = "EASYPARCEL"
	EventSourceManual     = "MANUAL"
)

// IsTerminalStatus reports whether a shipment has reached a state after
// which the courier will not produce further updates.
func IsTerminalStatus(status string) bool {
	switch status {
	case ShipmentStatusDelivered, ShipmentStatusCancelled, ShipmentStatusFailedDelivery:
		return true
	}
	return false
}

// TrackingCache is the local mirror of one shipment's tracking state,
// refreshed periodically from the courier API.
type TrackingCache struct {
	ID             uint64
	OrderRef       string
	TrackingNumber string
	CourierName    string

	Status   string
	StatusAt *time.Time

	EstimatedDelivery *time.Time
	ActualDelivery    *time.Time

	LastAPICallAt *time.Time
	NextUpdateDue time.Time

	// ConsecutiveFailures drives retry backoff and the attention threshold.
	// Reset to zero on any successful reconciliation.
	ConsecutiveFailures int32

	ResponseHash string

	IsActive    bool
	IsDelivered bool

	AttentionReason *string
	ArchivedAt      *time.Time

	CreatedAt time.Time
	UpdatedAt time.Time
}

// TrackingEvent is one immutable point-in-time record in a cache's event
// list. Events are deduplicated by (EventTime, EventName).
type TrackingEvent struct {
	ID          uint64
	CacheID     uint64
	EventCode   string
	EventName   string
	Description *string
	Location    *string
	EventTime   time.Time
	Timezone    *string
	Source      string
	CreatedAt   time.Time
}

// DedupKey identifies an event within its cache's list.
func (e *TrackingEvent) DedupKey() EventKey {
	return EventKey{EventTime: e.EventTime.UTC(), EventName: e.EventName}
}

type EventKey struct {
	EventTime time.Time
	EventName string
}

type TrackingCacheCreateInput struct {
	OrderRef       string
	TrackingNumber string
	CourierName    string
}
