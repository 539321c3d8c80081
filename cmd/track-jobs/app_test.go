package main

import (
	"context"
	"testing"
	"time"

	"github.com/LokaMart/ParcelPulse/config"
	"github.com/LokaMart/ParcelPulse/internal/cache"
	"github.com/LokaMart/ParcelPulse/internal/integrations/courier"
	"github.com/LokaMart/ParcelPulse/internal/integrations/courier/easyparcelhttp"
	"github.com/LokaMart/ParcelPulse/internal/integrations/courier/fake"
	"github.com/LokaMart/ParcelPulse/internal/models"
	"github.com/LokaMart/ParcelPulse/internal/services/processor"
	"github.com/LokaMart/ParcelPulse/internal/storage/pgcache"
	"github.com/stretchr/testify/require"
)

type stubStorage struct{}

func (s *stubStorage) GetPendingJobs(ctx context.Context, batchSize int) ([]*models.TrackingJob, error) {
	return nil, nil
}

func (s *stubStorage) UpdateJobStatus(ctx context.Context, jobID uint64, status string, errorMessage *string) error {
	return nil
}

func (s *stubStorage) ScheduleJobRetry(ctx context.Context, jobID uint64, runAt time.Time, errorMessage *string) error {
	return nil
}

func (s *stubStorage) ApplyReconciliation(ctx context.Context, upd pgcache.ReconcileUpdate) (int32, error) {
	return 0, nil
}

func (s *stubStorage) IncrementCacheFailure(ctx context.Context, cacheID uint64, checkedAt, nextUpdateDue time.Time) error {
	return nil
}

func (s *stubStorage) MarkCacheForAttention(ctx context.Context, cacheID uint64, reason string) error {
	return nil
}

func (s *stubStorage) ArchiveCache(ctx context.Context, cacheID uint64) error { return nil }

func (s *stubStorage) CreateUpdateLog(ctx context.Context, l *models.UpdateLog) error { return nil }

func (s *stubStorage) EnqueueDueUpdateJobs(ctx context.Context, limit int, maxAttempts int32) (int64, error) {
	return 0, nil
}

func (s *stubStorage) EnqueueCleanupJobs(ctx context.Context, limit int) (int64, error) {
	return 0, nil
}

func (s *stubStorage) CreateTrackingCaches(ctx context.Context, items []models.TrackingCacheCreateInput) ([]*models.TrackingCache, error) {
	return nil, nil
}

func (s *stubStorage) GetTrackingCachesByIDs(ctx context.Context, ids []uint64) ([]*models.TrackingCache, error) {
	return nil, nil
}

func (s *stubStorage) ListCacheEvents(ctx context.Context, cacheID uint64, limit, offset int) ([]*models.TrackingEvent, error) {
	return nil, nil
}

func (s *stubStorage) ListUpdateLogs(ctx context.Context, cacheID uint64, limit int) ([]*models.UpdateLog, error) {
	return nil, nil
}

func (s *stubStorage) EnqueueJob(ctx context.Context, cacheID uint64, jobType models.JobType, priority, maxAttempts int32, scheduledFor time.Time) (bool, error) {
	return true, nil
}

func (s *stubStorage) RequestRefresh(ctx context.Context, cacheID uint64) error { return nil }

type noopProducer struct{}

func (p noopProducer) Publish(ctx context.Context, topic string, key, value []byte) error {
	return nil
}

func TestDefaultJobsFactories_SelectCourierClient(t *testing.T) {
	f := defaultJobsFactories()

	cfgEP := &config.Config{
		Tracking: config.TrackingConfig{
			CourierMode:       "easyparcel",
			EasyParcelBaseURL: "http://localhost:9000",
			EasyParcelAPIKey:  "k",
		},
	}
	c1 := f.newCourierClient(cfgEP)
	_, ok := c1.(*easyparcelhttp.Client)
	require.True(t, ok)

	cfgFake := &config.Config{
		Tracking: config.TrackingConfig{CourierMode: "fake"},
	}
	c2 := f.newCourierClient(cfgFake)
	_, ok = c2.(*fake.FakeClient)
	require.True(t, ok)

	// easyparcel mode without a base URL falls back to the fake.
	cfgNoURL := &config.Config{
		Tracking: config.TrackingConfig{CourierMode: "easyparcel"},
	}
	c3 := f.newCourierClient(cfgNoURL)
	_, ok = c3.(*fake.FakeClient)
	require.True(t, ok)
}

func TestDefaultJobsFactories_InfraNonNil(t *testing.T) {
	f := defaultJobsFactories()
	cfg := &config.Config{
		Kafka: config.KafkaConfig{Host: "localhost", Port: 9092},
		Redis: config.RedisConfig{Host: "localhost", Port: 6379},
	}
	require.NotNil(t, f.newProducer(cfg))
	require.NotNil(t, f.newConsumer(cfg))
	require.NotNil(t, f.newRateLimiter(cfg))
	require.NotNil(t, f.newBytesCache(cfg))
}

func TestPolicyFromConfig(t *testing.T) {
	cfg := &config.Config{
		Tracking: config.TrackingConfig{
			InTransitDelaySeconds: 1800,
			Backoff1Seconds:       60,
		},
	}
	pc := policyFromConfig(cfg)
	require.Equal(t, 30*time.Minute, pc.InTransitDelay)
	require.Equal(t, time.Minute, pc.Backoff1)
	require.Zero(t, pc.PickedUpDelay) // defaults applied later by NewPolicy
}

func TestRunTrackJobs_ContextCanceled(t *testing.T) {
	calledClose := false

	f := jobsFactories{
		newStorage: func(cfg *config.Config) (jobsStorage, func(), error) {
			return &stubStorage{}, func() { calledClose = true }, nil
		},
		newProducer: func(cfg *config.Config) processor.Producer {
			return noopProducer{}
		},
		newRateLimiter: func(cfg *config.Config) processor.RateLimiter {
			return nil
		},
		newBytesCache: func(cfg *config.Config) cache.BytesCache {
			return nil
		},
		newCourierClient: func(cfg *config.Config) courier.Client {
			return fake.New()
		},
	}

	cfg := &config.Config{
		Kafka:    config.KafkaConfig{TrackingUpdatedTopicName: "t"},
		Tracking: config.TrackingConfig{TrackingIntervalSeconds: 1},
	}

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	err := RunTrackJobs(ctx, cfg, f)
	require.ErrorIs(t, err, context.Canceled)
	require.True(t, calledClose)
}
