package easyparcelhttp

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/LokaMart/ParcelPulse/internal/models"
	"github.com/stretchr/testify/require"
)

func TestClient_GetTracking_OK(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "/api/v2/tracking", r.URL.Path)
		require.Equal(t, "demo", r.URL.Query().Get("api_key"))
		require.Equal(t, "EP123", r.URL.Query().Get("awb"))

		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{
  "api_status": "Success",
  "result": [{
    "status": "out_for_delivery",
    "latest_status": "Out for delivery",
    "courier": "Poslaju",
    "estimated_delivery_date": "2025-01-02",
    "tracking": [
      {"event_code":"EP01","process":"Parcel picked up","location":"Shah Alam Hub","date_time":"2025-01-01 08:00:00","timezone":"+08:00"},
      {"event_code":"EP05","process":"Out for delivery","location":"Petaling Jaya","date_time":"2025-01-02 09:30:00","timezone":"+08:00"}
    ]
  }]
}`))
	}))
	defer srv.Close()

	c := New(srv.URL, "demo")
	res, err := c.GetTracking(context.Background(), "EP123")
	require.NoError(t, err)
	require.Equal(t, models.ShipmentStatusOutForDelivery, res.Status)
	require.Equal(t, "Poslaju", res.CourierName)
	require.NotNil(t, res.EstimatedDelivery)
	require.Len(t, res.Events, 2)
	require.Equal(t, models.EventSourceEasyParcel, res.Events[0].Source)
	require.WithinDuration(t, time.Date(2025, 1, 1, 8, 0, 0, 0, time.UTC), res.Events[0].EventTime, time.Second)
}

func TestClient_GetTracking_APIError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"api_status":"Fail","error_remark":"Invalid api key"}`))
	}))
	defer srv.Close()

	c := New(srv.URL, "bad")
	_, err := c.GetTracking(context.Background(), "EP123")
	require.Error(t, err)
	require.Contains(t, err.Error(), "Invalid api key")
}

func TestNormalizeStatus(t *testing.T) {
	require.Equal(t, models.ShipmentStatusDelivered, NormalizeStatus("Delivered"))
	require.Equal(t, models.ShipmentStatusInTransit, NormalizeStatus("in transit"))
	require.Equal(t, models.ShipmentStatusFailedDelivery, NormalizeStatus("attempt_fail"))
	require.Equal(t, models.ShipmentStatusUnknown, NormalizeStatus("weird"))
}
