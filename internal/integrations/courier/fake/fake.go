package fake

import (
	"context"
	"hash/fnv"
	"time"

	"github.com/LokaMart/ParcelPulse/internal/integrations/courier"
	"github.com/LokaMart/ParcelPulse/internal/models"
)

// FakeClient is a deterministic stand-in for the EasyParcel API, used for
// local runs and tests. Status is derived from the tracking number so the
// same shipment always takes the same path.
type FakeClient struct{}

func New() *FakeClient { return &FakeClient{} }

func (f *FakeClient) GetTracking(ctx context.Context, trackingNumber string) (courier.TrackingResult, error) {
	now := time.Now().UTC()

	h := fnv.New32a()
	_, _ = h.Write([]byte(trackingNumber))
	v := h.Sum32()

	// Roughly 20% delivered, 20% out for delivery, the rest in transit.
	status := models.ShipmentStatusInTransit
	switch v % 5 {
	case 0:
		status = models.ShipmentStatusDelivered
	case 1:
		status = models.ShipmentStatusOutForDelivery
	}

	eta := now.Add(48 * time.Hour)
	res := courier.TrackingResult{
		Status:            status,
		StatusDescription: "fake courier update",
		CourierName:       "FakeParcel",
		EstimatedDelivery: &eta,
		Events: []*models.TrackingEvent{
			{
				EventCode: "FK01",
				EventName: status,
				EventTime: now.Truncate(time.Second),
				Source:    models.EventSourceEasyParcel,
			},
		},
	}
	if status == models.ShipmentStatusDelivered {
		res.ActualDelivery = &now
	}
	return res, nil
}
