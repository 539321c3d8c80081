package processor

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/LokaMart/ParcelPulse/internal/integrations/courier"
	"github.com/LokaMart/ParcelPulse/internal/models"
	"github.com/LokaMart/ParcelPulse/internal/storage/pgcache"
	"github.com/pkg/errors"
)

type Store interface {
	GetPendingJobs(ctx context.Context, batchSize int) ([]*models.TrackingJob, error)
	UpdateJobStatus(ctx context.Context, jobID uint64, status string, errorMessage *string) error
	ScheduleJobRetry(ctx context.Context, jobID uint64, runAt time.Time, errorMessage *string) error
	ApplyReconciliation(ctx context.Context, upd pgcache.ReconcileUpdate) (int32, error)
	IncrementCacheFailure(ctx context.Context, cacheID uint64, checkedAt time.Time, nextUpdateDue time.Time) error
	MarkCacheForAttention(ctx context.Context, cacheID uint64, reason string) error
	ArchiveCache(ctx context.Context, cacheID uint64) error
	CreateUpdateLog(ctx context.Context, l *models.UpdateLog) error
}

type Producer interface {
	Publish(ctx context.Context, topic string, key, value []byte) error
}

type RateLimiter interface {
	Allow(ctx context.Context, key string, limit int64, window time.Duration) (bool, int64, error)
}

type handlerFunc func(ctx context.Context, job *models.TrackingJob) (jobOutcome, error)

// Processor drains batches of due tracking jobs and reconciles courier
// responses into the cache store. One instance per process, owned by the
// scheduler; at most one pass runs at a time.
type Processor struct {
	store    Store
	courier  courier.Client
	producer Producer
	rl       RateLimiter

	updatedTopic string

	policy *Policy

	batchSize          int
	maxConcurrent      int
	rateLimitPerMinute int64

	handlers map[models.JobType]handlerFunc

	busy atomic.Bool

	startedAtUnixNano int64
	lastRunUnixNano   atomic.Int64
	totalProcessed    atomic.Int64
	totalSucceeded    atomic.Int64
	totalFailed       atomic.Int64
	inFlight          atomic.Int64
	lastErrorMu       sync.Mutex
	lastError         string
}

func New(store Store, courierClient courier.Client, producer Producer, rl RateLimiter, updatedTopic string) *Processor {
	p := &Processor{
		store: store, courier: courierClient, producer: producer, rl: rl,
		updatedTopic:       updatedTopic,
		policy:             DefaultPolicy(),
		batchSize:          50,
		maxConcurrent:      5,
		rateLimitPerMinute: 120,
		startedAtUnixNano:  time.Now().UTC().UnixNano(),
	}
	p.handlers = map[models.JobType]handlerFunc{
		models.JobTypeUpdate:  p.handleTracking,
		models.JobTypeRetry:   p.handleTracking,
		models.JobTypeManual:  p.handleTracking,
		models.JobTypeCleanup: p.handleCleanup,
	}
	return p
}

func (p *Processor) WithSettings(batchSize, maxConcurrent int, rlPerMin int64) *Processor {
	if batchSize > 0 {
		p.batchSize = batchSize
	}
	if maxConcurrent > 0 {
		p.maxConcurrent = maxConcurrent
	}
	if rlPerMin > 0 {
		p.rateLimitPerMinute = rlPerMin
	}
	return p
}

func (p *Processor) WithPolicy(cfg PolicyConfig) *Processor {
	p.policy = NewPolicy(cfg)
	return p
}

// BatchResult summarizes one processing pass. Skipped counts jobs that
// failed retriably and went back to the pending pool.
type BatchResult struct {
	Total      int           `json:"total"`
	Successful int           `json:"successful"`
	Failed     int           `json:"failed"`
	Skipped    int           `json:"skipped"`
	Duration   time.Duration `json:"duration"`
	Errors     []string      `json:"errors,omitempty"`
}

// ProcessJobs runs one pass: fetch up to batchSize due jobs and process
// them in sequential sub-batches of maxConcurrent concurrent jobs. A
// second call while a pass is in flight fails immediately with
// ErrProcessorBusy. Individual job failures never abort the batch; only
// precondition violations surface as an error.
func (p *Processor) ProcessJobs(ctx context.Context) (*BatchResult, error) {
	if !p.busy.CompareAndSwap(false, true) {
		return nil, ErrProcessorBusy
	}
	defer p.busy.Store(false)

	start := time.Now()
	p.lastRunUnixNano.Store(start.UTC().UnixNano())

	jobs, err := p.store.GetPendingJobs(ctx, p.batchSize)
	if err != nil {
		p.setLastError(err.Error())
		return nil, errors.Wrap(err, "fetch pending jobs")
	}

	res := &BatchResult{Total: len(jobs)}
	var mu sync.Mutex

	for len(jobs) > 0 {
		n := p.maxConcurrent
		if n > len(jobs) {
			n = len(jobs)
		}
		sub := jobs[:n]
		jobs = jobs[n:]

		var wg sync.WaitGroup
		for _, job := range sub {
			wg.Add(1)
			j := job
			p.inFlight.Add(1)
			go func() {
				defer func() {
					p.inFlight.Add(-1)
					wg.Done()
				}()
				p.runJob(ctx, j, res, &mu)
			}()
		}
		// Sub-batch N+1 does not start until N fully resolves.
		wg.Wait()
	}

	res.Duration = time.Since(start)
	slog.Info("batch pass finished",
		"total", res.Total, "successful", res.Successful,
		"failed", res.Failed, "skipped", res.Skipped,
		"duration_ms", res.Duration.Milliseconds())
	return res, nil
}

// runJob executes one job end to end: dispatch, outcome bookkeeping and
// exactly one audit row. Panics are contained here so one bad job cannot
// take the batch down.
func (p *Processor) runJob(ctx context.Context, job *models.TrackingJob, res *BatchResult, mu *sync.Mutex) {
	startedAt := time.Now().UTC()

	var out jobOutcome
	var err error
	func() {
		defer func() {
			if r := recover(); r != nil {
				err = &JobProcessingError{JobID: job.ID, Reason: fmt.Sprintf("panic: %v", r)}
			}
		}()
		handler, ok := p.handlers[job.Type]
		if !ok {
			err = &JobProcessingError{JobID: job.ID, Reason: fmt.Sprintf("unknown job type %q", job.Type)}
			return
		}
		out, err = handler(ctx, job)
	}()

	completedAt := time.Now().UTC()
	p.totalProcessed.Add(1)

	var finalize func()
	switch {
	case err == nil:
		if uerr := p.store.UpdateJobStatus(ctx, job.ID, models.JobStatusCompleted, nil); uerr != nil {
			slog.Error("mark job completed", "job_id", job.ID, "error", uerr.Error())
		}
		p.totalSucceeded.Add(1)
		finalize = func() { res.Successful++ }

	case isRetriable(err) && job.AttemptCount < job.MaxAttempts:
		msg := err.Error()
		runAt := completedAt.Add(p.policy.RetryDelay(job.AttemptCount))
		if rerr := p.store.ScheduleJobRetry(ctx, job.ID, runAt, &msg); rerr != nil {
			slog.Error("schedule job retry", "job_id", job.ID, "error", rerr.Error())
		}
		slog.Warn("job failed, will retry",
			"job_id", job.ID, "attempt", job.AttemptCount, "max_attempts", job.MaxAttempts,
			"run_at", runAt, "error", msg)
		finalize = func() { res.Skipped++ }

	default:
		msg := err.Error()
		p.setLastError(msg)
		p.totalFailed.Add(1)
		if uerr := p.store.UpdateJobStatus(ctx, job.ID, models.JobStatusFailed, &msg); uerr != nil {
			slog.Error("mark job failed", "job_id", job.ID, "error", uerr.Error())
		}
		if isRetriable(err) {
			// Attempts exhausted: automated polling gives up on this shipment.
			reason := fmt.Sprintf("tracking update failed after %d attempts: %s", job.AttemptCount, msg)
			if merr := p.store.MarkCacheForAttention(ctx, job.CacheID, reason); merr != nil {
				slog.Error("mark cache for attention", "cache_id", job.CacheID, "error", merr.Error())
			}
			finalize = func() { res.Failed++ }
		} else {
			finalize = func() {
				res.Failed++
				res.Errors = append(res.Errors, fmt.Sprintf("job %d: %s", job.ID, msg))
			}
		}
		slog.Error("job failed", "job_id", job.ID, "job_type", string(job.Type), "error", msg)
	}

	p.writeLog(ctx, job, out, err, startedAt, completedAt)

	mu.Lock()
	finalize()
	mu.Unlock()
}

// writeLog appends exactly one audit row per attempt, success or failure.
func (p *Processor) writeLog(ctx context.Context, job *models.TrackingJob, out jobOutcome, jobErr error, startedAt, completedAt time.Time) {
	l := &models.UpdateLog{
		CacheID:        job.CacheID,
		JobID:          job.ID,
		UpdateType:     job.Type,
		TriggeredBy:    triggeredBy(job.Type),
		APISuccess:     out.apiSuccess,
		APILatencyMS:   out.apiLatencyMS,
		StatusChanged:  out.statusChanged,
		PreviousStatus: out.previousStatus,
		NewStatus:      out.newStatus,
		EventsAdded:    out.eventsAdded,
		StartedAt:      startedAt,
		CompletedAt:    completedAt,
	}
	if jobErr != nil {
		msg := jobErr.Error()
		l.ErrorMessage = &msg
	}
	if err := p.store.CreateUpdateLog(ctx, l); err != nil {
		slog.Error("write update log", "job_id", job.ID, "error", err.Error())
	}
}

func triggeredBy(t models.JobType) string {
	switch t {
	case models.JobTypeManual:
		return "operator"
	case models.JobTypeCleanup:
		return "cleanup-scheduler"
	default:
		return "scheduler"
	}
}

type Stats struct {
	IsProcessing   bool       `json:"isProcessing"`
	StartedAt      time.Time  `json:"startedAt"`
	UptimeSeconds  int64      `json:"uptimeSeconds"`
	LastRunAt      *time.Time `json:"lastRunAt,omitempty"`
	TotalProcessed int64      `json:"totalProcessed"`
	TotalSucceeded int64      `json:"totalSucceeded"`
	TotalFailed    int64      `json:"totalFailed"`
	InFlight       int64      `json:"inFlight"`
	LastError      string     `json:"lastError,omitempty"`
}

func (p *Processor) Stats() Stats {
	startedAt := time.Unix(0, p.startedAtUnixNano).UTC()
	st := Stats{
		IsProcessing:   p.busy.Load(),
		StartedAt:      startedAt,
		UptimeSeconds:  int64(time.Since(startedAt).Seconds()),
		TotalProcessed: p.totalProcessed.Load(),
		TotalSucceeded: p.totalSucceeded.Load(),
		TotalFailed:    p.totalFailed.Load(),
		InFlight:       p.inFlight.Load(),
	}
	if n := p.lastRunUnixNano.Load(); n > 0 {
		t := time.Unix(0, n).UTC()
		st.LastRunAt = &t
	}
	p.lastErrorMu.Lock()
	st.LastError = p.lastError
	p.lastErrorMu.Unlock()
	return st
}

func (p *Processor) setLastError(msg string) {
	p.lastErrorMu.Lock()
	p.lastError = msg
	p.lastErrorMu.Unlock()
}
