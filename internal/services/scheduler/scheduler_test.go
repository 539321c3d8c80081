package scheduler

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/LokaMart/ParcelPulse/internal/services/processor"
	"github.com/stretchr/testify/require"
)

type fakeProc struct {
	calls atomic.Int64
	res   *processor.BatchResult
	err   error
}

func (p *fakeProc) ProcessJobs(ctx context.Context) (*processor.BatchResult, error) {
	p.calls.Add(1)
	if p.err != nil {
		return nil, p.err
	}
	if p.res != nil {
		return p.res, nil
	}
	return &processor.BatchResult{}, nil
}

type fakeSchedStore struct {
	mu           sync.Mutex
	updateCalls  int
	cleanupCalls int
	updateN      int64
	cleanupN     int64
	maxAttempts  int32
}

func (s *fakeSchedStore) EnqueueDueUpdateJobs(ctx context.Context, limit int, maxAttempts int32) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.updateCalls++
	s.maxAttempts = maxAttempts
	return s.updateN, nil
}

func (s *fakeSchedStore) EnqueueCleanupJobs(ctx context.Context, limit int) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.cleanupCalls++
	return s.cleanupN, nil
}

type fakeSummaryProducer struct {
	mu     sync.Mutex
	topics []string
	keys   []string
	values [][]byte
}

func (p *fakeSummaryProducer) Publish(ctx context.Context, topic string, key, value []byte) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.topics = append(p.topics, topic)
	p.keys = append(p.keys, string(key))
	p.values = append(p.values, value)
	return nil
}

func TestScheduler_Run_StopsOnContextCancel(t *testing.T) {
	proc := &fakeProc{}
	store := &fakeSchedStore{}
	s := New(proc, store, nil, "t").
		WithSettings(5*time.Millisecond, time.Hour, 100, 3)

	ctx, cancel := context.WithCancel(context.Background())
	go func() {
		time.Sleep(30 * time.Millisecond)
		cancel()
	}()

	err := s.Run(ctx)
	require.ErrorIs(t, err, context.Canceled)
	require.GreaterOrEqual(t, proc.calls.Load(), int64(1))
	require.GreaterOrEqual(t, store.updateCalls, 1)
	require.Equal(t, int32(3), store.maxAttempts)
}

func TestScheduler_Trigger_ForcesImmediatePass(t *testing.T) {
	proc := &fakeProc{}
	store := &fakeSchedStore{}
	// Interval far in the future: only the trigger can start a pass.
	s := New(proc, store, nil, "t").
		WithSettings(time.Hour, time.Hour, 100, 3)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- s.Run(ctx) }()

	s.Trigger()
	require.Eventually(t, func() bool {
		return proc.calls.Load() >= 1
	}, time.Second, 5*time.Millisecond)

	cancel()
	require.ErrorIs(t, <-done, context.Canceled)
}

func TestScheduler_Trigger_DoesNotBlockWhenFull(t *testing.T) {
	s := New(&fakeProc{}, &fakeSchedStore{}, nil, "t")
	// Nobody is draining the channel; repeated triggers must not block.
	for i := 0; i < 10; i++ {
		s.Trigger()
	}
}

func TestScheduler_PublishesSummaryWhenWorkDone(t *testing.T) {
	proc := &fakeProc{res: &processor.BatchResult{Total: 3, Successful: 2, Failed: 1}}
	store := &fakeSchedStore{updateN: 3}
	fp := &fakeSummaryProducer{}
	s := New(proc, store, fp, "tracking.batch.summary")

	s.runPass(context.Background(), "tracking")

	require.Equal(t, []string{"tracking.batch.summary"}, fp.topics)
	require.Equal(t, []string{"tracking"}, fp.keys)
	require.Contains(t, string(fp.values[0]), `"total":3`)
}

func TestScheduler_EmptyPassStaysQuiet(t *testing.T) {
	proc := &fakeProc{res: &processor.BatchResult{Total: 0}}
	fp := &fakeSummaryProducer{}
	s := New(proc, &fakeSchedStore{}, fp, "tracking.batch.summary")

	s.runPass(context.Background(), "tracking")
	require.Empty(t, fp.topics)
}

func TestScheduler_BusyProcessorSkipsQuietly(t *testing.T) {
	proc := &fakeProc{err: processor.ErrProcessorBusy}
	fp := &fakeSummaryProducer{}
	s := New(proc, &fakeSchedStore{}, fp, "t")

	s.runPass(context.Background(), "tracking")
	require.Equal(t, int64(1), proc.calls.Load())
	require.Empty(t, fp.topics)
}

func TestScheduler_CleanupEnqueuesBeforePass(t *testing.T) {
	proc := &fakeProc{}
	store := &fakeSchedStore{cleanupN: 2}
	s := New(proc, store, nil, "t")

	s.runCleanup(context.Background())
	require.Equal(t, 1, store.cleanupCalls)
	// Cleanup jobs go through the same processing pass.
	require.Equal(t, 1, store.updateCalls)
	require.Equal(t, int64(1), proc.calls.Load())
}
