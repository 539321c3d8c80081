package processor

import (
	"context"
	"encoding/json"
	"fmt"
	"hash/fnv"
	"log/slog"
	"time"

	"github.com/LokaMart/ParcelPulse/internal/broker/messages"
	"github.com/LokaMart/ParcelPulse/internal/models"
	"github.com/LokaMart/ParcelPulse/internal/storage/pgcache"
	"github.com/pkg/errors"
)

// jobOutcome is what a handler reports for the audit log and batch
// statistics.
type jobOutcome struct {
	apiSuccess   bool
	apiLatencyMS int64

	statusChanged  bool
	previousStatus string
	newStatus      string
	eventsAdded    int32
}

// handleTracking serves UPDATE, RETRY and MANUAL jobs; they differ only
// in how they were enqueued.
func (p *Processor) handleTracking(ctx context.Context, job *models.TrackingJob) (jobOutcome, error) {
	c := job.Cache
	if c == nil {
		return jobOutcome{}, &JobProcessingError{JobID: job.ID, Reason: "job has no cache row"}
	}

	if p.rl != nil && p.rateLimitPerMinute > 0 {
		minuteKey := fmt.Sprintf("rl:easyparcel:%s", time.Now().UTC().Format("200601021504"))
		allowed, n, err := p.rl.Allow(ctx, minuteKey, p.rateLimitPerMinute, 70*time.Second)
		if err != nil {
			return jobOutcome{}, errors.Wrap(err, "rate limiter")
		}
		if !allowed {
			// Over the per-minute budget: back off a little to unload the API.
			slog.Warn("courier rate limit exceeded", "count", n)
			time.Sleep(500 * time.Millisecond)
		}
	}

	start := time.Now()
	res, err := p.courier.GetTracking(ctx, c.TrackingNumber)
	latencyMS := time.Since(start).Milliseconds()
	now := time.Now().UTC()

	out := jobOutcome{
		apiLatencyMS:   latencyMS,
		previousStatus: c.Status,
		newStatus:      c.Status,
	}

	if err != nil {
		// Make the failure visible on the cache even before the job-level
		// bookkeeping lands.
		retryDue := now.Add(p.policy.RetryDelay(job.AttemptCount))
		if ferr := p.store.IncrementCacheFailure(ctx, c.ID, now, retryDue); ferr != nil {
			slog.Error("increment cache failure", "cache_id", c.ID, "error", ferr.Error())
		}
		return out, &APIIntegrationError{TrackingNumber: c.TrackingNumber, Err: err}
	}

	newStatus := res.Status
	if newStatus == "" {
		newStatus = models.ShipmentStatusUnknown
	}

	events := normalizeEvents(res.Events)
	eta := res.EstimatedDelivery
	if eta == nil {
		eta = c.EstimatedDelivery
	}

	out.apiSuccess = true
	out.statusChanged = newStatus != c.Status
	out.newStatus = newStatus

	nextDue := now.Add(p.policy.NextUpdateDelay(newStatus, now, 0, eta))

	added, err := p.store.ApplyReconciliation(ctx, pgcache.ReconcileUpdate{
		CacheID:           c.ID,
		CheckedAt:         now,
		Status:            newStatus,
		StatusAt:          statusAt(events, now),
		EstimatedDelivery: res.EstimatedDelivery,
		ActualDelivery:    res.ActualDelivery,
		CourierName:       res.CourierName,
		NextUpdateDue:     nextDue,
		ResponseHash:      responseHash(newStatus, events, res.EstimatedDelivery),
		Events:            events,
	})
	if err != nil {
		if ferr := p.store.IncrementCacheFailure(ctx, c.ID, now, now.Add(p.policy.RetryDelay(job.AttemptCount))); ferr != nil {
			slog.Error("increment cache failure", "cache_id", c.ID, "error", ferr.Error())
		}
		return out, errors.Wrap(err, "apply reconciliation")
	}
	out.eventsAdded = added

	if out.statusChanged {
		p.publishUpdated(ctx, c, messages.TrackingUpdated{
			CacheID:           c.ID,
			TrackingNumber:    c.TrackingNumber,
			OrderRef:          c.OrderRef,
			CheckedAt:         now,
			PreviousStatus:    out.previousStatus,
			NewStatus:         newStatus,
			EventsAdded:       added,
			EstimatedDelivery: eta,
			NextUpdateDue:     nextDue,
		})
	}

	return out, nil
}

// handleCleanup archives a delivered, retired cache. No courier call.
func (p *Processor) handleCleanup(ctx context.Context, job *models.TrackingJob) (jobOutcome, error) {
	c := job.Cache
	if c == nil {
		return jobOutcome{}, &JobProcessingError{JobID: job.ID, Reason: "job has no cache row"}
	}

	out := jobOutcome{previousStatus: c.Status, newStatus: c.Status}
	if err := p.store.ArchiveCache(ctx, c.ID); err != nil {
		return out, err
	}
	return out, nil
}

func (p *Processor) publishUpdated(ctx context.Context, c *models.TrackingCache, msg messages.TrackingUpdated) {
	if p.producer == nil {
		return
	}
	b, err := json.Marshal(msg)
	if err != nil {
		slog.Error("marshal tracking.updated", "cache_id", c.ID, "error", err.Error())
		return
	}
	key := []byte(fmt.Sprintf("%d", c.ID))
	if err := p.producer.Publish(ctx, p.updatedTopic, key, b); err != nil {
		// Best effort: the cache row is already persisted.
		slog.Error("publish tracking.updated", "cache_id", c.ID, "error", err.Error())
	}
}

// normalizeEvents drops in-response duplicates by (event time, event
// name) and tags provenance, preserving the courier's order.
func normalizeEvents(in []*models.TrackingEvent) []*models.TrackingEvent {
	if len(in) == 0 {
		return nil
	}
	out := make([]*models.TrackingEvent, 0, len(in))
	seen := make(map[models.EventKey]struct{}, len(in))
	for _, e := range in {
		if e == nil || e.EventName == "" {
			continue
		}
		k := e.DedupKey()
		if _, ok := seen[k]; ok {
			continue
		}
		seen[k] = struct{}{}
		if e.Source == "" {
			e.Source = models.EventSourceEasyParcel
		}
		out = append(out, e)
	}
	return out
}

func statusAt(events []*models.TrackingEvent, fallback time.Time) *time.Time {
	if len(events) == 0 {
		t := fallback
		return &t
	}
	latest := events[0].EventTime
	for _, e := range events[1:] {
		if e.EventTime.After(latest) {
			latest = e.EventTime
		}
	}
	return &latest
}

// responseHash digests the fields that matter for change detection:
// status, event identities and the estimated delivery date. Payload noise
// outside those fields never produces a "changed" signal.
func responseHash(status string, events []*models.TrackingEvent, estimatedDelivery *time.Time) string {
	h := fnv.New64a()
	_, _ = h.Write([]byte(status))
	for _, e := range events {
		_, _ = h.Write([]byte{0})
		_, _ = h.Write([]byte(e.EventName))
		_, _ = h.Write([]byte{0})
		_, _ = h.Write([]byte(e.EventTime.UTC().Format(time.RFC3339)))
	}
	if estimatedDelivery != nil {
		_, _ = h.Write([]byte{0})
		_, _ = h.Write([]byte(estimatedDelivery.UTC().Format(time.RFC3339)))
	}
	return fmt.Sprintf("%016x", h.Sum64())
}
