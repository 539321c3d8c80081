package trackings

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/LokaMart/ParcelPulse/internal/broker/messages"
	"github.com/LokaMart/ParcelPulse/internal/cache"
	"github.com/LokaMart/ParcelPulse/internal/models"
	"github.com/pkg/errors"
)

const manualJobPriority = 10

type Repository interface {
	CreateTrackingCaches(ctx context.Context, items []models.TrackingCacheCreateInput) ([]*models.TrackingCache, error)
	GetTrackingCachesByIDs(ctx context.Context, ids []uint64) ([]*models.TrackingCache, error)
	ListCacheEvents(ctx context.Context, cacheID uint64, limit, offset int) ([]*models.TrackingEvent, error)
	ListUpdateLogs(ctx context.Context, cacheID uint64, limit int) ([]*models.UpdateLog, error)
	EnqueueJob(ctx context.Context, cacheID uint64, jobType models.JobType, priority int32, maxAttempts int32, scheduledFor time.Time) (bool, error)
	RequestRefresh(ctx context.Context, cacheID uint64) error
}

type Service struct {
	repo        Repository
	cache       cache.BytesCache
	currentTTL  time.Duration
	maxAttempts int32
}

func New(repo Repository, c cache.BytesCache, currentTTL time.Duration, maxAttempts int32) *Service {
	if maxAttempts <= 0 {
		maxAttempts = 3
	}
	return &Service{repo: repo, cache: c, currentTTL: currentTTL, maxAttempts: maxAttempts}
}

// RegisterShipments puts dispatched shipments under tracking and enqueues
// their first poll.
func (s *Service) RegisterShipments(ctx context.Context, items []models.TrackingCacheCreateInput) ([]*models.TrackingCache, error) {
	if len(items) == 0 {
		return nil, errors.New("items is empty")
	}
	if len(items) > 10_000 {
		return nil, errors.New("too many items (max 10000)")
	}

	clean := make([]models.TrackingCacheCreateInput, 0, len(items))
	seen := make(map[string]struct{}, len(items))
	for _, it := range items {
		if it.TrackingNumber == "" {
			return nil, errors.New("trackingNumber is required")
		}
		if _, ok := seen[it.TrackingNumber]; ok {
			continue
		}
		seen[it.TrackingNumber] = struct{}{}
		clean = append(clean, it)
	}

	created, err := s.repo.CreateTrackingCaches(ctx, clean)
	if err != nil {
		return nil, err
	}

	now := time.Now().UTC()
	for _, c := range created {
		if _, err := s.repo.EnqueueJob(ctx, c.ID, models.JobTypeUpdate, 0, s.maxAttempts, now); err != nil {
			return nil, errors.Wrapf(err, "enqueue first update for cache %d", c.ID)
		}
	}
	return created, nil
}

func (s *Service) GetCachesByIDs(ctx context.Context, ids []uint64) ([]*models.TrackingCache, error) {
	if len(ids) == 0 {
		return []*models.TrackingCache{}, nil
	}
	// Best-effort read-through cache of the current record; the database
	// stays the source of truth.
	miss := make([]uint64, 0, len(ids))
	got := make(map[uint64]*models.TrackingCache, len(ids))

	if s.cache != nil && s.currentTTL > 0 {
		for _, id := range ids {
			key := currentKey(id)
			b, ok, err := s.cache.Get(ctx, key)
			if err != nil || !ok {
				miss = append(miss, id)
				continue
			}
			var c models.TrackingCache
			if json.Unmarshal(b, &c) != nil {
				miss = append(miss, id)
				continue
			}
			got[id] = &c
		}
	} else {
		miss = ids
	}

	if len(miss) > 0 {
		fromDB, err := s.repo.GetTrackingCachesByIDs(ctx, miss)
		if err != nil {
			return nil, err
		}
		if s.cache != nil && s.currentTTL > 0 {
			for _, c := range fromDB {
				b, _ := json.Marshal(c)
				_ = s.cache.Set(ctx, currentKey(c.ID), b, s.currentTTL)
			}
		}
		for _, c := range fromDB {
			got[c.ID] = c
		}
	}

	// Keep the response in the same order as ids.
	out := make([]*models.TrackingCache, 0, len(ids))
	for _, id := range ids {
		if c, ok := got[id]; ok {
			out = append(out, c)
		}
	}
	return out, nil
}

func (s *Service) ListCacheEvents(ctx context.Context, cacheID uint64, limit, offset int) ([]*models.TrackingEvent, error) {
	return s.repo.ListCacheEvents(ctx, cacheID, limit, offset)
}

func (s *Service) ListUpdateLogs(ctx context.Context, cacheID uint64, limit int) ([]*models.UpdateLog, error) {
	return s.repo.ListUpdateLogs(ctx, cacheID, limit)
}

// RequestManualUpdate makes a shipment due now and enqueues a
// high-priority MANUAL job for it. Returns false when a job is already
// open for the cache.
func (s *Service) RequestManualUpdate(ctx context.Context, cacheID uint64) (bool, error) {
	if cacheID == 0 {
		return false, errors.New("cacheId is required")
	}
	if err := s.repo.RequestRefresh(ctx, cacheID); err != nil {
		return false, err
	}
	enq, err := s.repo.EnqueueJob(ctx, cacheID, models.JobTypeManual, manualJobPriority, s.maxAttempts, time.Now().UTC())
	if err != nil {
		return false, err
	}
	if s.cache != nil && s.currentTTL > 0 {
		_ = s.cache.Delete(ctx, currentKey(cacheID))
	}
	return enq, nil
}

// HandleRefreshRequested is the Kafka handler for refresh requests coming
// from admin tooling.
func (s *Service) HandleRefreshRequested(ctx context.Context) func(key, value []byte) error {
	return func(key, value []byte) error {
		var msg messages.RefreshRequested
		if err := json.Unmarshal(value, &msg); err != nil {
			return errors.Wrap(err, "decode refresh request")
		}
		if msg.CacheID == 0 {
			return errors.New("cache_id is required")
		}
		_, err := s.RequestManualUpdate(ctx, msg.CacheID)
		return err
	}
}

func currentKey(id uint64) string {
	return fmt.Sprintf("cache:%d:current", id)
}
