package dispatcher

import (
	"context"
	"log/slog"
	"net/url"
	"simtracker/pkg/backoff"
	"simtracker/pkg/circuitbreaker"
	"simtracker/pkg/cloudevent"
	"sync"
	"sync/atomic"
	"time"
)

// MetricsRecorder receives delivery metrics. *observability.Metrics satisfies it.
type MetricsRecorder interface {
	RecordDispatcherDelivered(ctx context.Context, durationSeconds float64)
	RecordDispatcherFailed(ctx context.Context)
	RecordDispatcherDropped(ctx context.Context)
	RecordDispatcherRequeued(ctx context.Context)
	RecordDispatcherQueueSize(ctx context.Context, size int64)
}

type counters struct {
	queued    atomic.Int64
	delivered atomic.Int64
	failed    atomic.Int64
	dropped   atomic.Int64
	requeued  atomic.Int64
	retries   atomic.Int64
}

// MemoryDispatcher queues events in a bounded channel served by a worker pool.
// Each destination host has its own circuit breaker; events for an open
// circuit are requeued after the cooldown, up to a limit.
type MemoryDispatcher struct {
	queue    chan *Event
	sender   *cloudevent.Sender
	breakers *circuitbreaker.Registry
	retry    *backoff.Config
	config   MemoryConfig
	logger   *slog.Logger
	metrics  MetricsRecorder
	counts   counters

	wg       sync.WaitGroup
	shutdown chan struct{}
	closed   atomic.Bool
}

// NewMemory starts a dispatcher. metrics may be nil.
func NewMemory(cfg MemoryConfig, metrics MetricsRecorder) *MemoryDispatcher {
	cfg = cfg.withDefaults()
	d := &MemoryDispatcher{
		queue:    make(chan *Event, cfg.BufferSize),
		sender:   cloudevent.NewSender(cfg.HTTPTimeout),
		retry:    &backoff.Config{Initial: cfg.InitialBackoff, Max: cfg.MaxBackoff, Jitter: cfg.InitialBackoff / 2},
		config:   cfg,
		logger:   slog.With("component", "dispatcher"),
		metrics:  metrics,
		shutdown: make(chan struct{}),
	}
	d.breakers = circuitbreaker.NewRegistry(circuitbreaker.Config{
		Threshold: defaultBreakerThreshold,
		Cooldown:  cfg.BreakerCooldown,
		OnStateChange: func(host string, from, to circuitbreaker.State) {
			d.logger.Warn("Webhook circuit changed state", "destination", host, "from", from.String(), "to", to.String())
		},
	})

	d.wg.Add(cfg.Workers)
	for range cfg.Workers {
		go d.worker()
	}
	if metrics != nil {
		go d.reportQueueSize()
	}

	d.logger.Info("Dispatcher started", "workers", cfg.Workers, "buffer", cfg.BufferSize)
	return d
}

func (d *MemoryDispatcher) reportQueueSize() {
	ticker := time.NewTicker(5 * time.Second)
	defer ticker.Stop()
	for {
		select {
		case <-d.shutdown:
			return
		case <-ticker.C:
			d.metrics.RecordDispatcherQueueSize(context.Background(), int64(len(d.queue)))
		}
	}
}

// Dispatch queues event, dropping it if the buffer is full.
func (d *MemoryDispatcher) Dispatch(event *Event) error {
	if d.closed.Load() {
		return ErrClosed
	}
	select {
	case d.queue <- event:
		d.counts.queued.Add(1)
		return nil
	default:
		d.drop(event, "buffer full")
		return ErrBufferFull
	}
}

// Stats returns current counters.
func (d *MemoryDispatcher) Stats() Stats {
	breakers := d.breakers.Stats()
	return Stats{
		QueueDepth:    len(d.queue),
		Queued:        d.counts.queued.Load(),
		Delivered:     d.counts.delivered.Load(),
		Failed:        d.counts.failed.Load(),
		Dropped:       d.counts.dropped.Load(),
		Requeued:      d.counts.requeued.Load(),
		RetriesTotal:  d.counts.retries.Load(),
		BreakersTotal: breakers.Total,
		BreakersOpen:  breakers.Open,
		OpenHosts:     breakers.OpenKeys,
	}
}

// Close stops the workers after they drain the queue, or when ctx is done.
func (d *MemoryDispatcher) Close(ctx context.Context) error {
	if d.closed.Swap(true) {
		return nil
	}
	d.logger.Info("Dispatcher shutting down", "queued", len(d.queue))
	close(d.shutdown)

	drained := make(chan struct{})
	go func() {
		d.wg.Wait()
		close(drained)
	}()

	select {
	case <-drained:
		d.logger.Info("Dispatcher shutdown complete",
			"delivered", d.counts.delivered.Load(),
			"failed", d.counts.failed.Load(),
			"dropped", d.counts.dropped.Load(),
		)
		return nil
	case <-ctx.Done():
		d.logger.Warn("Dispatcher shutdown timed out", "remaining", len(d.queue))
		return ctx.Err()
	}
}

func (d *MemoryDispatcher) worker() {
	defer d.wg.Done()
	for {
		select {
		case <-d.shutdown:
			for {
				select {
				case event := <-d.queue:
					d.deliver(event)
				default:
					return
				}
			}
		case event := <-d.queue:
			d.deliver(event)
		}
	}
}

func (d *MemoryDispatcher) deliver(event *Event) {
	host := extractHost(event.Destination)
	breaker := d.breakers.Get(host)
	if !breaker.Allow() {
		d.requeue(event, host)
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), defaultDeliveryTimeout)
	defer cancel()

	start := time.Now()
	if err := d.sendWithRetry(ctx, event); err != nil {
		breaker.RecordFailure()
		d.counts.failed.Add(1)
		if d.metrics != nil {
			d.metrics.RecordDispatcherFailed(ctx)
		}
		d.eventLogger(event, host).Warn("Webhook delivery failed", "error", err)
		return
	}

	breaker.RecordSuccess()
	d.counts.delivered.Add(1)
	if d.metrics != nil {
		d.metrics.RecordDispatcherDelivered(ctx, time.Since(start).Seconds())
	}
}

// requeue retries an event for an open circuit once the cooldown has passed.
func (d *MemoryDispatcher) requeue(event *Event, host string) {
	if event.Requeues >= defaultMaxRequeues {
		d.drop(event, "max requeues reached")
		return
	}
	event.Requeues++
	d.counts.requeued.Add(1)
	if d.metrics != nil {
		d.metrics.RecordDispatcherRequeued(context.Background())
	}

	go func() {
		select {
		case <-d.shutdown:
			return
		case <-time.After(d.config.BreakerCooldown):
		}
		select {
		case d.queue <- event:
			d.eventLogger(event, host).Debug("Webhook requeued", "requeues", event.Requeues)
		case <-d.shutdown:
		default:
			d.drop(event, "buffer full on requeue")
		}
	}()
}

func (d *MemoryDispatcher) drop(event *Event, reason string) {
	d.counts.dropped.Add(1)
	if d.metrics != nil {
		d.metrics.RecordDispatcherDropped(context.Background())
	}
	d.eventLogger(event, extractHost(event.Destination)).Warn("Webhook dropped", "reason", reason)
}

func (d *MemoryDispatcher) sendWithRetry(ctx context.Context, event *Event) error {
	opts := cloudevent.SendOptions{
		SigningKey: event.SigningKey,
		Signature:  event.Signature,
	}

	var lastErr error
	for attempt := range defaultMaxRetries + 1 {
		if attempt > 0 {
			d.counts.retries.Add(1)
			if err := backoff.Wait(ctx, attempt, d.retry); err != nil {
				return err
			}
		}
		lastErr = d.sender.Send(ctx, event.Destination, event.Payload, opts)
		if lastErr == nil || cloudevent.IsPermanent(lastErr) {
			return lastErr
		}
	}
	return lastErr
}

func (d *MemoryDispatcher) eventLogger(event *Event, host string) *slog.Logger {
	eventType := ""
	if event.Payload != nil {
		eventType = event.Payload.Type
	}
	return d.logger.With("simId", event.SimID, "destination", host, "type", eventType)
}

// extractHost keys circuit breakers by destination host.
func extractHost(rawURL string) string {
	parsed, err := url.Parse(rawURL)
	if err != nil || parsed.Host == "" {
		return rawURL
	}
	return parsed.Host
}

var _ Dispatcher = (*MemoryDispatcher)(nil)
