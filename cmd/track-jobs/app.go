package main

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/LokaMart/ParcelPulse/config"
	"github.com/LokaMart/ParcelPulse/internal/broker/kafka"
	"github.com/LokaMart/ParcelPulse/internal/cache"
	"github.com/LokaMart/ParcelPulse/internal/cache/rediscache"
	"github.com/LokaMart/ParcelPulse/internal/integrations/courier"
	"github.com/LokaMart/ParcelPulse/internal/integrations/courier/easyparcelhttp"
	"github.com/LokaMart/ParcelPulse/internal/integrations/courier/fake"
	"github.com/LokaMart/ParcelPulse/internal/services/processor"
	"github.com/LokaMart/ParcelPulse/internal/services/scheduler"
	"github.com/LokaMart/ParcelPulse/internal/services/trackings"
	"github.com/LokaMart/ParcelPulse/internal/storage/pgcache"
)

// jobsStorage is everything the worker needs from the postgres layer.
// *pgcache.Storage satisfies it.
type jobsStorage interface {
	processor.Store
	scheduler.Store
	trackings.Repository
}

type jobsFactories struct {
	newStorage       func(cfg *config.Config) (st jobsStorage, closeFn func(), err error)
	newProducer      func(cfg *config.Config) processor.Producer
	newConsumer      func(cfg *config.Config) *kafka.Consumer
	newRateLimiter   func(cfg *config.Config) processor.RateLimiter
	newBytesCache    func(cfg *config.Config) cache.BytesCache
	newCourierClient func(cfg *config.Config) courier.Client
}

func defaultJobsFactories() jobsFactories {
	return jobsFactories{
		newStorage: func(cfg *config.Config) (jobsStorage, func(), error) {
			sslMode := cfg.Database.SSLMode
			if sslMode == "" {
				sslMode = "disable"
			}
			connString := fmt.Sprintf("postgres://%s:%s@%s:%d/%s?sslmode=%s",
				cfg.Database.Username, cfg.Database.Password, cfg.Database.Host, cfg.Database.Port, cfg.Database.DBName, sslMode)
			st, err := pgcache.New(connString)
			if err != nil {
				return nil, nil, err
			}
			return st, st.Close, nil
		},
		newProducer: func(cfg *config.Config) processor.Producer {
			brokers := []string{fmt.Sprintf("%s:%d", cfg.Kafka.Host, cfg.Kafka.Port)}
			return kafka.NewProducer(brokers)
		},
		newConsumer: func(cfg *config.Config) *kafka.Consumer {
			topic := cfg.Kafka.RefreshRequestedTopicName
			if topic == "" {
				topic = "tracking.refresh.requested"
			}
			group := cfg.Kafka.ConsumerGroup
			if group == "" {
				group = "parcelpulse-jobs"
			}
			brokers := []string{fmt.Sprintf("%s:%d", cfg.Kafka.Host, cfg.Kafka.Port)}
			return kafka.NewConsumer(brokers, topic, group)
		},
		newRateLimiter: func(cfg *config.Config) processor.RateLimiter {
			redisAddr := fmt.Sprintf("%s:%d", cfg.Redis.Host, cfg.Redis.Port)
			return rediscache.NewRateLimiter(redisAddr)
		},
		newBytesCache: func(cfg *config.Config) cache.BytesCache {
			redisAddr := fmt.Sprintf("%s:%d", cfg.Redis.Host, cfg.Redis.Port)
			return rediscache.New(redisAddr)
		},
		newCourierClient: func(cfg *config.Config) courier.Client {
			if cfg.Tracking.CourierMode == "easyparcel" && cfg.Tracking.EasyParcelBaseURL != "" {
				return easyparcelhttp.New(cfg.Tracking.EasyParcelBaseURL, cfg.Tracking.EasyParcelAPIKey)
			}
			return fake.New()
		},
	}
}

func policyFromConfig(cfg *config.Config) processor.PolicyConfig {
	sec := func(s int) time.Duration { return time.Duration(s) * time.Second }
	t := cfg.Tracking
	return processor.PolicyConfig{
		PreTransitDelay:     sec(t.PreTransitDelaySeconds),
		PickedUpDelay:       sec(t.PickedUpDelaySeconds),
		InTransitDelay:      sec(t.InTransitDelaySeconds),
		OutForDeliveryDelay: sec(t.OutForDeliveryDelaySeconds),
		ExceptionDelay:      sec(t.ExceptionDelaySeconds),
		UnknownDelay:        sec(t.UnknownDelaySeconds),
		NearDeliveryWindow:  sec(t.NearDeliveryWindowSeconds),
		Backoff1:            sec(t.Backoff1Seconds),
		Backoff2:            sec(t.Backoff2Seconds),
		Backoff3:            sec(t.Backoff3Seconds),
		Backoff4:            sec(t.Backoff4Seconds),
	}
}

func RunTrackJobs(ctx context.Context, cfg *config.Config, f jobsFactories) error {
	updatedTopic := cfg.Kafka.TrackingUpdatedTopicName
	if updatedTopic == "" {
		updatedTopic = "tracking.updated"
	}
	summaryTopic := cfg.Kafka.BatchSummaryTopicName
	if summaryTopic == "" {
		summaryTopic = "tracking.batch.summary"
	}

	batchSize := cfg.Tracking.BatchSize
	if batchSize <= 0 {
		batchSize = 50
	}
	maxConcurrent := cfg.Tracking.MaxConcurrent
	if maxConcurrent <= 0 {
		maxConcurrent = 5
	}
	maxAttempts := int32(cfg.Tracking.MaxAttempts)
	if maxAttempts <= 0 {
		maxAttempts = 3
	}
	enqueueLimit := cfg.Tracking.EnqueueLimit
	if enqueueLimit <= 0 {
		enqueueLimit = 500
	}
	rlPerMin := int64(cfg.Tracking.RateLimitPerMinute)
	if rlPerMin <= 0 {
		rlPerMin = 120
	}
	trackingInterval := time.Duration(cfg.Tracking.TrackingIntervalSeconds) * time.Second
	if trackingInterval <= 0 {
		trackingInterval = 60 * time.Second
	}
	cleanupInterval := time.Duration(cfg.Tracking.CleanupIntervalSeconds) * time.Second
	if cleanupInterval <= 0 {
		cleanupInterval = 24 * time.Hour
	}
	currentTTL := time.Duration(cfg.Tracking.CurrentStatusTTLSeconds) * time.Second
	if currentTTL <= 0 {
		currentTTL = 5 * time.Minute
	}

	st, closeFn, err := f.newStorage(cfg)
	if err != nil {
		return err
	}
	if closeFn != nil {
		defer closeFn()
	}

	producer := f.newProducer(cfg)
	rl := f.newRateLimiter(cfg)
	bytesCache := f.newBytesCache(cfg)
	courierClient := f.newCourierClient(cfg)

	proc := processor.New(st, courierClient, producer, rl, updatedTopic).
		WithSettings(batchSize, maxConcurrent, rlPerMin).
		WithPolicy(policyFromConfig(cfg))

	sched := scheduler.New(proc, st, producer, summaryTopic).
		WithSettings(trackingInterval, cleanupInterval, enqueueLimit, maxAttempts)

	svc := trackings.New(st, bytesCache, currentTTL, maxAttempts)

	errCh := make(chan error, 3)
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	go func() {
		errCh <- runJobsHTTPServer(ctx, jobsHTTPOpts{
			httpAddr: cfg.Tracking.HTTPAddr,
			proc:     proc,
			sched:    sched,
			svc:      svc,
			cfg:      cfg,
			onListen: func(addr string) {
				slog.Info("admin http listening", "addr", addr)
			},
		})
	}()

	if f.newConsumer != nil {
		consumer := f.newConsumer(cfg)
		go func() {
			defer consumer.Close()
			errCh <- consumer.Consume(ctx, svc.HandleRefreshRequested(ctx))
		}()
	}

	go func() {
		errCh <- sched.Run(ctx)
	}()

	select {
	case <-ctx.Done():
		return ctx.Err()
	case err := <-errCh:
		if ctx.Err() != nil {
			return ctx.Err()
		}
		return err
	}
}
