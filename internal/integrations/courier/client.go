package courier

import (
	"context"
	"time"

	"github.com/LokaMart/ParcelPulse/internal/models"
)

// TrackingResult is the normalized shape of one courier API response.
type TrackingResult struct {
	Status            string
	StatusDescription string
	EstimatedDelivery *time.Time
	ActualDelivery    *time.Time
	CourierName       string
	Events            []*models.TrackingEvent
}

// Client queries the courier for the current state of one shipment.
// Implementations carry their own request timeout.
type Client interface {
	GetTracking(ctx context.Context, trackingNumber string) (TrackingResult, error)
}
