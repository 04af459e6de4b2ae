package pipeline

import (
	"context"
	"errors"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/D0cNet/SiemCore/internal/event"
	"github.com/D0cNet/SiemCore/internal/health"
	"github.com/D0cNet/SiemCore/internal/logging"
	"github.com/D0cNet/SiemCore/internal/queue"
)

type fakeForwarder struct {
	mu          sync.Mutex
	oneErr      error
	batchErr    error
	oneCalls    []event.Event
	batchCalls  [][]event.Event
}

func (f *fakeForwarder) ForwardOne(_ context.Context, ev event.Event) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.oneCalls = append(f.oneCalls, ev)
	return f.oneErr
}

func (f *fakeForwarder) ForwardBatch(_ context.Context, events []event.Event) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.batchCalls = append(f.batchCalls, events)
	return f.batchErr
}

type fakeConnectivity struct {
	connected bool
}

func (f *fakeConnectivity) Connected() bool { return f.connected }

func newTestPipeline(t *testing.T, fwd Forwarder, connected bool, cfg Config) (*Pipeline, *queue.Queue, *health.Counters) {
	t.Helper()
	dir := t.TempDir()
	q, err := queue.Open(filepath.Join(dir, "queue.db"))
	require.NoError(t, err)
	t.Cleanup(func() { q.Close() })

	logger, err := logging.New("info", "test-agent", dir)
	require.NoError(t, err)

	counters := &health.Counters{}
	p := New(q, fwd, &fakeConnectivity{connected: connected}, counters, logger, cfg)
	return p, q, counters
}

func sampleEvent() event.Event {
	return event.New("authentication_failure", "sshd", "raw payload", time.Now())
}

func TestDispatchForwardsImmediatelyWhenConnected(t *testing.T) {
	fwd := &fakeForwarder{}
	p, q, counters := newTestPipeline(t, fwd, true, Config{BatchSize: 10, MaxCachedEvents: 100, MaxRetries: 3, FlushInterval: time.Hour})

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go p.RunDispatcher(ctx)

	p.Submit(ctx, sampleEvent())

	assert.Eventually(t, func() bool {
		fwd.mu.Lock()
		defer fwd.mu.Unlock()
		return len(fwd.oneCalls) == 1
	}, time.Second, 10*time.Millisecond)

	count, err := q.Count()
	require.NoError(t, err)
	assert.Equal(t, 0, count)
	assert.Equal(t, int64(1), counters.Snapshot().Forwarded)
}

func TestDispatchCachesWhenDisconnected(t *testing.T) {
	fwd := &fakeForwarder{}
	p, q, counters := newTestPipeline(t, fwd, false, Config{BatchSize: 10, MaxCachedEvents: 100, MaxRetries: 3, FlushInterval: time.Hour})

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go p.RunDispatcher(ctx)

	p.Submit(ctx, sampleEvent())

	assert.Eventually(t, func() bool {
		count, _ := q.Count()
		return count == 1
	}, time.Second, 10*time.Millisecond)

	assert.Equal(t, int64(1), counters.Snapshot().Cached)
}

func TestDispatchCachesOnForwardFailure(t *testing.T) {
	fwd := &fakeForwarder{oneErr: errors.New("network down")}
	p, q, _ := newTestPipeline(t, fwd, true, Config{BatchSize: 10, MaxCachedEvents: 100, MaxRetries: 3, FlushInterval: time.Hour})

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go p.RunDispatcher(ctx)

	p.Submit(ctx, sampleEvent())

	assert.Eventually(t, func() bool {
		count, _ := q.Count()
		return count == 1
	}, time.Second, 10*time.Millisecond)
}

func TestDrainerForwardsBatchAndRemoves(t *testing.T) {
	fwd := &fakeForwarder{}
	p, q, counters := newTestPipeline(t, fwd, true, Config{BatchSize: 10, MaxCachedEvents: 100, MaxRetries: 3, FlushInterval: 20 * time.Millisecond})

	ev := sampleEvent()
	ok, err := q.Enqueue(ev, 100)
	require.NoError(t, err)
	require.True(t, ok)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go p.RunDrainer(ctx)

	assert.Eventually(t, func() bool {
		count, _ := q.Count()
		return count == 0
	}, time.Second, 10*time.Millisecond)

	assert.Equal(t, int64(1), counters.Snapshot().Forwarded)
}

func TestDrainerBumpsRetryOnFailureAndEvictsExhausted(t *testing.T) {
	fwd := &fakeForwarder{batchErr: errors.New("remote rejected batch")}
	p, q, counters := newTestPipeline(t, fwd, true, Config{BatchSize: 10, MaxCachedEvents: 100, MaxRetries: 1, FlushInterval: 15 * time.Millisecond})

	ev := sampleEvent()
	ok, err := q.Enqueue(ev, 100)
	require.NoError(t, err)
	require.True(t, ok)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go p.RunDrainer(ctx)

	assert.Eventually(t, func() bool {
		count, _ := q.Count()
		return count == 0
	}, 2*time.Second, 10*time.Millisecond)

	assert.GreaterOrEqual(t, counters.Snapshot().DroppedByRetry, int64(1))
}

func TestCacheEventEvictsOldestWhenFull(t *testing.T) {
	fwd := &fakeForwarder{}
	p, q, counters := newTestPipeline(t, fwd, false, Config{BatchSize: 10, MaxCachedEvents: 1, MaxRetries: 3, FlushInterval: time.Hour})

	p.cacheEvent(sampleEvent())
	p.cacheEvent(sampleEvent())

	count, err := q.Count()
	require.NoError(t, err)
	assert.Equal(t, 1, count)
	assert.Equal(t, int64(1), counters.Snapshot().DroppedByCapacity)
}

func TestTriggerDrainRunsImmediatelyWithoutWaitingForFlushTick(t *testing.T) {
	fwd := &fakeForwarder{}
	p, q, counters := newTestPipeline(t, fwd, true, Config{BatchSize: 10, MaxCachedEvents: 100, MaxRetries: 3, FlushInterval: time.Hour})

	ev := sampleEvent()
	ok, err := q.Enqueue(ev, 100)
	require.NoError(t, err)
	require.True(t, ok)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go p.RunDrainer(ctx)

	p.TriggerDrain()

	assert.Eventually(t, func() bool {
		count, _ := q.Count()
		return count == 0
	}, time.Second, 10*time.Millisecond)

	assert.Equal(t, int64(1), counters.Snapshot().Forwarded)
}

func TestRunMaintenanceKeepsEntriesAtHighWatermark(t *testing.T) {
	fwd := &fakeForwarder{}
	p, q, _ := newTestPipeline(t, fwd, false, Config{BatchSize: 10, MaxCachedEvents: 2, MaxRetries: 3, FlushInterval: time.Hour})

	ok, err := q.Enqueue(sampleEvent(), 100)
	require.NoError(t, err)
	require.True(t, ok)
	ok, err = q.Enqueue(sampleEvent(), 100)
	require.NoError(t, err)
	require.True(t, ok)

	p.runMaintenance()

	count, err := q.Count()
	require.NoError(t, err)
	assert.Equal(t, 2, count)
}
