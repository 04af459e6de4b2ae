// Package pipeline implements the dispatcher and drainer from §4.6:
// the glue between source runners, the durable queue, and the
// forwarder. Events flow in over a bounded channel; the dispatcher
// tries to forward each one immediately and only falls back to the
// queue when the link is down or the attempt fails, while the drainer
// works the queue in batches whenever the link is up.
package pipeline

import (
	"context"
	"time"

	"github.com/google/uuid"

	"github.com/D0cNet/SiemCore/internal/event"
	"github.com/D0cNet/SiemCore/internal/health"
	"github.com/D0cNet/SiemCore/internal/logging"
	"github.com/D0cNet/SiemCore/internal/queue"
)

const (
	maxCacheExpiry       = 7 * 24 * time.Hour
	maintenanceInterval  = time.Minute
	highWatermarkPercent = 80
)

// Forwarder is the subset of the forwarder client the pipeline needs.
type Forwarder interface {
	ForwardOne(ctx context.Context, ev event.Event) error
	ForwardBatch(ctx context.Context, events []event.Event) error
}

// Connectivity reports the supervisor's current belief about the
// remote link.
type Connectivity interface {
	Connected() bool
}

// Pipeline owns the intake channel, the durable queue, and the
// goroutines that drain both.
type Pipeline struct {
	intake chan event.Event

	queue      *queue.Queue
	forwarder  Forwarder
	connective Connectivity
	counters   *health.Counters
	logger     *logging.Logger

	batchSize       int
	maxCachedEvents int
	maxRetries      int
	flushInterval   time.Duration

	drainNow chan struct{}
}

// Config bundles the sizing knobs from the SiemCore configuration
// section that shape dispatch and drain behavior.
type Config struct {
	BatchSize       int
	MaxCachedEvents int
	MaxRetries      int
	FlushInterval   time.Duration
}

// New builds a Pipeline. The intake channel is sized to 2x batch size,
// per §5, so a burst of source events does not stall source runners
// while the dispatcher is busy with one slow forward attempt.
func New(q *queue.Queue, fwd Forwarder, connective Connectivity, counters *health.Counters, logger *logging.Logger, cfg Config) *Pipeline {
	return &Pipeline{
		intake:          make(chan event.Event, 2*cfg.BatchSize),
		queue:           q,
		forwarder:       fwd,
		connective:      connective,
		counters:        counters,
		logger:          logger,
		batchSize:       cfg.BatchSize,
		maxCachedEvents: cfg.MaxCachedEvents,
		maxRetries:      cfg.MaxRetries,
		flushInterval:   cfg.FlushInterval,
		drainNow:        make(chan struct{}, 1),
	}
}

// TriggerDrain asks the drainer to run a batch immediately instead of
// waiting for the next flush tick, per §4.5's "schedules an immediate
// drain" on the CONNECTED transition. Safe to call from any goroutine;
// a trigger already pending is not duplicated.
func (p *Pipeline) TriggerDrain() {
	select {
	case p.drainNow <- struct{}{}:
	default:
	}
}

// Submit hands a normalized event to the pipeline. Source runners call
// this; it blocks only as long as the intake channel is full.
func (p *Pipeline) Submit(ctx context.Context, ev event.Event) {
	select {
	case p.intake <- ev:
	case <-ctx.Done():
	}
}

// Reconfigure applies new sizing knobs without requiring a restart, for
// the config-refresh cases that don't require a process restart.
func (p *Pipeline) Reconfigure(cfg Config) {
	p.batchSize = cfg.BatchSize
	p.maxCachedEvents = cfg.MaxCachedEvents
	p.maxRetries = cfg.MaxRetries
	p.flushInterval = cfg.FlushInterval
}

// RunDispatcher consumes the intake channel, attempting an immediate
// forward for each event and falling back to the durable queue on
// failure or while disconnected.
func (p *Pipeline) RunDispatcher(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case ev := <-p.intake:
			p.counters.IncCollected()
			p.dispatchOne(ctx, ev)
		}
	}
}

func (p *Pipeline) dispatchOne(ctx context.Context, ev event.Event) {
	if p.connective.Connected() {
		if err := p.forwarder.ForwardOne(ctx, ev); err == nil {
			p.counters.AddForwarded(1)
			return
		}
		p.logger.LogForwarderEvent("immediate_forward_failed", "eventId", ev.ID.String())
	}
	p.cacheEvent(ev)
}

// cacheEvent enqueues ev, applying the evict-oldest-and-retry-once
// policy from §7 when the queue is at capacity.
func (p *Pipeline) cacheEvent(ev event.Event) {
	ok, err := p.queue.Enqueue(ev, p.maxCachedEvents)
	if err != nil {
		p.logger.LogQueueEvent("enqueue_error", "error", err.Error())
		return
	}
	if ok {
		p.counters.AddCached(1)
		return
	}

	if err := p.queue.EvictOldest(); err != nil {
		p.logger.LogQueueEvent("evict_oldest_error", "error", err.Error())
	} else {
		p.counters.IncDroppedByCapacity()
	}

	ok, err = p.queue.Enqueue(ev, p.maxCachedEvents)
	if err != nil {
		p.logger.LogQueueEvent("enqueue_error", "error", err.Error())
		return
	}
	if ok {
		p.counters.AddCached(1)
		return
	}
	p.counters.IncDroppedByCapacity()
	p.logger.LogQueueEvent("event_dropped_capacity", "eventId", ev.ID.String())
}

// RunDrainer periodically pulls a batch off the durable queue and
// forwards it, bumping retry counts on failure and evicting entries
// that have exhausted their retries.
func (p *Pipeline) RunDrainer(ctx context.Context) {
	ticker := time.NewTicker(p.flushInterval)
	defer ticker.Stop()

	maintenance := time.NewTicker(maintenanceInterval)
	defer maintenance.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			ticker.Reset(p.flushInterval)
			p.drainOnce(ctx)
		case <-p.drainNow:
			p.drainOnce(ctx)
		case <-maintenance.C:
			p.runMaintenance()
		}
	}
}

func (p *Pipeline) drainOnce(ctx context.Context) {
	if !p.connective.Connected() {
		return
	}

	entries, err := p.queue.PeekBatch(p.batchSize)
	if err != nil {
		p.logger.LogQueueEvent("peek_batch_error", "error", err.Error())
		return
	}
	if len(entries) == 0 {
		return
	}

	events := make([]event.Event, len(entries))
	ids := make([]uuid.UUID, len(entries))
	for i, entry := range entries {
		events[i] = entry.Event
		events[i].RetryCount = entry.RetryCount
		events[i].Cached = true
		ids[i] = entry.Event.ID
	}

	if err := p.forwarder.ForwardBatch(ctx, events); err != nil {
		p.logger.LogForwarderEvent("batch_forward_failed", "count", len(events), "error", err.Error())
		p.handleFailedBatch(ids)
		return
	}

	if err := p.queue.Remove(ids); err != nil {
		p.logger.LogQueueEvent("remove_error", "error", err.Error())
		return
	}
	p.counters.AddForwarded(int64(len(events)))
}

func (p *Pipeline) handleFailedBatch(ids []uuid.UUID) {
	if err := p.queue.BumpRetry(ids); err != nil {
		p.logger.LogQueueEvent("bump_retry_error", "error", err.Error())
		return
	}

	var exhausted []uuid.UUID
	for _, id := range ids {
		count, found, err := p.queue.RetryCountOf(id)
		if err != nil || !found {
			continue
		}
		if count > p.maxRetries {
			exhausted = append(exhausted, id)
		}
	}
	if len(exhausted) == 0 {
		return
	}
	if err := p.queue.Remove(exhausted); err != nil {
		p.logger.LogQueueEvent("remove_exhausted_error", "error", err.Error())
		return
	}
	for range exhausted {
		p.counters.IncDroppedByRetry()
	}
	p.logger.LogQueueEvent("retries_exhausted", "count", len(exhausted))
}

// runMaintenance evicts entries older than the cache expiry and warns
// when the queue is approaching capacity.
func (p *Pipeline) runMaintenance() {
	evicted, err := p.queue.EvictExpired(maxCacheExpiry)
	if err != nil {
		p.logger.LogQueueEvent("evict_expired_error", "error", err.Error())
	} else if evicted > 0 {
		p.counters.AddDroppedByAge(int64(evicted))
		p.logger.LogQueueEvent("expired_entries_evicted", "count", evicted)
	}

	count, err := p.queue.Count()
	if err != nil {
		p.logger.LogQueueEvent("count_error", "error", err.Error())
		return
	}
	if p.maxCachedEvents > 0 && count*100 >= p.maxCachedEvents*highWatermarkPercent {
		p.logger.LogQueueEvent("queue_high_watermark", "count", count, "max", p.maxCachedEvents)
	}
}
