package easyparcelhttp

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/LokaMart/ParcelPulse/internal/integrations/courier"
	"github.com/LokaMart/ParcelPulse/internal/models"
	"github.com/pkg/errors"
)

type Client struct {
	baseURL string
	apiKey  string
	httpc   *http.Client
}

func New(baseURL, apiKey string) *Client {
	if baseURL == "" {
		baseURL = "https://connect.easyparcel.my"
	}
	return &Client{
		baseURL: baseURL,
		apiKey:  apiKey,
		httpc: &http.Client{
			Timeout: 15 * time.Second,
		},
	}
}

type easyParcelResp struct {
	APIStatus   string `json:"api_status"`
	ErrorRemark string `json:"error_remark"`
	Result      []struct {
		Status                string `json:"status"`
		LatestStatus          string `json:"latest_status"`
		Courier               string `json:"courier"`
		EstimatedDeliveryDate string `json:"estimated_delivery_date"`
		ActualDeliveryDate    string `json:"actual_delivery_date"`
		Tracking              []struct {
			EventCode   string `json:"event_code"`
			Process     string `json:"process"`
			Description string `json:"process_description"`
			Location    string `json:"location"`
			DateTime    string `json:"date_time"`
			Timezone    string `json:"timezone"`
		} `json:"tracking"`
	} `json:"result"`
}

func (c *Client) GetTracking(ctx context.Context, trackingNumber string) (courier.TrackingResult, error) {
	u, err := url.Parse(c.baseURL)
	if err != nil {
		return courier.TrackingResult{}, errors.Wrap(err, "parse base url")
	}
	u.Path = "/api/v2/tracking"

	q := u.Query()
	q.Set("api_key", c.apiKey)
	q.Set("awb", trackingNumber)
	u.RawQuery = q.Encode()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u.String(), nil)
	if err != nil {
		return courier.TrackingResult{}, errors.Wrap(err, "new request")
	}

	resp, err := c.httpc.Do(req)
	if err != nil {
		return courier.TrackingResult{}, errors.Wrap(err, "do request")
	}
	defer resp.Body.Close()

	if resp.StatusCode/100 != 2 {
		return courier.TrackingResult{}, fmt.Errorf("easyparcel http %d", resp.StatusCode)
	}

	var r easyParcelResp
	if err := json.NewDecoder(resp.Body).Decode(&r); err != nil {
		return courier.TrackingResult{}, errors.Wrap(err, "decode")
	}
	if !strings.EqualFold(r.APIStatus, "Success") {
		if r.ErrorRemark != "" {
			return courier.TrackingResult{}, fmt.Errorf("easyparcel api_status=%s: %s", r.APIStatus, r.ErrorRemark)
		}
		return courier.TrackingResult{}, fmt.Errorf("easyparcel api_status=%s", r.APIStatus)
	}
	if len(r.Result) == 0 {
		return courier.TrackingResult{}, errors.New("easyparcel empty result")
	}

	item := r.Result[0]
	out := courier.TrackingResult{
		Status:            NormalizeStatus(item.Status),
		StatusDescription: item.LatestStatus,
		CourierName:       item.Courier,
	}
	if t, ok := parseDate(item.EstimatedDeliveryDate); ok {
		out.EstimatedDelivery = &t
	}
	if t, ok := parseDate(item.ActualDeliveryDate); ok {
		out.ActualDelivery = &t
	}

	for _, te := range item.Tracking {
		evTime := time.Now().UTC()
		// EasyParcel sends "2006-01-02 15:04:05" in the courier's local zone.
		if te.DateTime != "" {
			if t, err := time.ParseInLocation("2006-01-02 15:04:05", te.DateTime, time.UTC); err == nil {
				evTime = t.UTC()
			}
		}
		out.Events = append(out.Events, &models.TrackingEvent{
			EventCode:   te.EventCode,
			EventName:   te.Process,
			Description: strPtr(te.Description),
			Location:    strPtr(te.Location),
			EventTime:   evTime,
			Timezone:    strPtr(te.Timezone),
			Source:      models.EventSourceEasyParcel,
		})
	}

	return out, nil
}

// NormalizeStatus maps EasyParcel status strings onto the internal enum.
func NormalizeStatus(raw string) string {
	switch strings.ToLower(strings.TrimSpace(raw)) {
	case "pending":
		return models.ShipmentStatusPending
	case "info_received", "info received":
		return models.ShipmentStatusInfoReceived
	case "picked_up", "picked up", "collected":
		return models.ShipmentStatusPickedUp
	case "in_transit", "in transit":
		return models.ShipmentStatusInTransit
	case "out_for_delivery", "out for delivery":
		return models.ShipmentStatusOutForDelivery
	case "delivered":
		return models.ShipmentStatusDelivered
	case "failed_delivery", "delivery failed", "attempt_fail":
		return models.ShipmentStatusFailedDelivery
	case "cancelled", "canceled":
		return models.ShipmentStatusCancelled
	case "exception":
		return models.ShipmentStatusException
	default:
		return models.ShipmentStatusUnknown
	}
}

func parseDate(s string) (time.Time, bool) {
	if s == "" {
		return time.Time{}, false
	}
	if t, err := time.ParseInLocation("2006-01-02", s, time.UTC); err == nil {
		return t, true
	}
	if t, err := time.ParseInLocation("2006-01-02 15:04:05", s, time.UTC); err == nil {
		return t, true
	}
	return time.Time{}, false
}

func strPtr(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}
