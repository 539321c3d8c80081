package scheduler

import (
	"context"
	"encoding/json"
	"log/slog"
	"sync/atomic"
	"time"

	"github.com/LokaMart/ParcelPulse/internal/broker/messages"
	"github.com/LokaMart/ParcelPulse/internal/services/processor"
	"github.com/pkg/errors"
)

type JobProcessor interface {
	ProcessJobs(ctx context.Context) (*processor.BatchResult, error)
}

type Store interface {
	EnqueueDueUpdateJobs(ctx context.Context, limit int, maxAttempts int32) (int64, error)
	EnqueueCleanupJobs(ctx context.Context, limit int) (int64, error)
}

type Producer interface {
	Publish(ctx context.Context, topic string, key, value []byte) error
}

// Scheduler owns the processor and drives it on two cadences: a periodic
// tracking refresh and a daily cleanup sweep. It never overlaps passes
// for the same family; the processor's own busy guard is the second line
// of defense.
type Scheduler struct {
	proc     JobProcessor
	store    Store
	producer Producer

	summaryTopic string

	trackingInterval time.Duration
	cleanupInterval  time.Duration
	enqueueLimit     int
	maxAttempts      int32

	triggerCh chan struct{}
	passBusy  atomic.Bool
}

func New(proc JobProcessor, store Store, producer Producer, summaryTopic string) *Scheduler {
	return &Scheduler{
		proc: proc, store: store, producer: producer,
		summaryTopic:     summaryTopic,
		trackingInterval: 60 * time.Second,
		cleanupInterval:  24 * time.Hour,
		enqueueLimit:     500,
		maxAttempts:      3,
		triggerCh:        make(chan struct{}, 1),
	}
}

func (s *Scheduler) WithSettings(trackingInterval, cleanupInterval time.Duration, enqueueLimit int, maxAttempts int32) *Scheduler {
	if trackingInterval > 0 {
		s.trackingInterval = trackingInterval
	}
	if cleanupInterval > 0 {
		s.cleanupInterval = cleanupInterval
	}
	if enqueueLimit > 0 {
		s.enqueueLimit = enqueueLimit
	}
	if maxAttempts > 0 {
		s.maxAttempts = maxAttempts
	}
	return s
}

// Trigger forces an immediate tracking pass (best-effort, non-blocking).
func (s *Scheduler) Trigger() {
	select {
	case s.triggerCh <- struct{}{}:
	default:
	}
}

func (s *Scheduler) Run(ctx context.Context) error {
	tracking := time.NewTicker(s.trackingInterval)
	defer tracking.Stop()
	cleanup := time.NewTicker(s.cleanupInterval)
	defer cleanup.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-tracking.C:
			s.runPass(ctx, "tracking")
		case <-s.triggerCh:
			s.runPass(ctx, "tracking")
		case <-cleanup.C:
			s.runCleanup(ctx)
		}
	}
}

func (s *Scheduler) runPass(ctx context.Context, family string) {
	if !s.passBusy.CompareAndSwap(false, true) {
		slog.Warn("previous pass still running, skipping tick", "family", family)
		return
	}
	defer s.passBusy.Store(false)

	if n, err := s.store.EnqueueDueUpdateJobs(ctx, s.enqueueLimit, s.maxAttempts); err != nil {
		slog.Error("enqueue due update jobs", "error", err.Error())
	} else if n > 0 {
		slog.Info("enqueued due update jobs", "count", n)
	}

	res, err := s.proc.ProcessJobs(ctx)
	if err != nil {
		if errors.Is(err, processor.ErrProcessorBusy) {
			slog.Warn("processor busy, skipping pass", "family", family)
			return
		}
		slog.Error("process jobs", "family", family, "error", err.Error())
		return
	}

	s.publishSummary(ctx, family, res)
}

func (s *Scheduler) runCleanup(ctx context.Context) {
	if n, err := s.store.EnqueueCleanupJobs(ctx, s.enqueueLimit); err != nil {
		slog.Error("enqueue cleanup jobs", "error", err.Error())
		return
	} else if n > 0 {
		slog.Info("enqueued cleanup jobs", "count", n)
	}
	s.runPass(ctx, "cleanup")
}

func (s *Scheduler) publishSummary(ctx context.Context, family string, res *processor.BatchResult) {
	if s.producer == nil || res.Total == 0 {
		return
	}
	b, err := json.Marshal(messages.BatchSummary{
		Family:     family,
		Total:      res.Total,
		Successful: res.Successful,
		Failed:     res.Failed,
		Skipped:    res.Skipped,
		DurationMS: res.Duration.Milliseconds(),
		FinishedAt: time.Now().UTC(),
		Errors:     res.Errors,
	})
	if err != nil {
		slog.Error("marshal batch summary", "error", err.Error())
		return
	}
	if err := s.producer.Publish(ctx, s.summaryTopic, []byte(family), b); err != nil {
		slog.Error("publish batch summary", "family", family, "error", err.Error())
	}
}
