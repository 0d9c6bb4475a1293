package metrics

import (
	"context"
	"log/slog"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

type EventType string

const (
	EventBackendSelected   EventType = "backend_selected"
	EventRequestCompleted  EventType = "request_completed"
	EventResponseCompleted EventType = "response_completed"
	EventHealthChanged     EventType = "health_changed"
)

type MetricEvent struct {
	Type       EventType
	Timestamp  time.Time
	App        string
	Backend    string
	Outcome    string
	Duration   time.Duration
	StatusCode int
	Healthy    bool
}

type Collector struct {
	eventCh chan MetricEvent
	metrics *Metrics
	logger  *slog.Logger
	done    chan struct{}
}

// NewCollector creates a collector recording into registry; a nil registry
// gets a private one.
func NewCollector(bufferSize int, logger *slog.Logger, registry *prometheus.Registry) *Collector {
	if registry == nil {
		registry = prometheus.NewRegistry()
	}

	return &Collector{
		eventCh: make(chan MetricEvent, bufferSize),
		metrics: NewMetrics(registry),
		logger:  logger,
		done:    make(chan struct{}),
	}
}

func (c *Collector) EventChannel() chan<- MetricEvent {
	return c.eventCh
}

// Emit queues event without blocking; events are dropped when the buffer is
// full. Safe on a nil collector.
func (c *Collector) Emit(event MetricEvent) {
	if c == nil {
		return
	}

	if event.Timestamp.IsZero() {
		event.Timestamp = time.Now()
	}

	select {
	case c.eventCh <- event:
	default:
		c.logger.Debug("Metrics buffer full, dropping event", slog.String("type", string(event.Type)))
	}
}

// ConnectionOpened and ConnectionClosed bypass the event channel so the
// in-flight gauge never drifts on dropped events.
func (c *Collector) ConnectionOpened() {
	if c == nil {
		return
	}
	c.metrics.ConnectionOpened()
}

func (c *Collector) ConnectionClosed() {
	if c == nil {
		return
	}
	c.metrics.ConnectionClosed()
}

func (c *Collector) Start(ctx context.Context) {
	go c.run(ctx)
}

// Done is closed once the collector has stopped and drained its buffer.
func (c *Collector) Done() <-chan struct{} {
	return c.done
}

func (c *Collector) run(ctx context.Context) {
	c.logger.Info("Metrics collector started")
	defer close(c.done)
	defer c.logger.Info("Metrics collector stopped")

	for {
		select {
		case event := <-c.eventCh:
			c.processEvent(event)
		case <-ctx.Done():
			// Drain remaining events before shutdown
			c.drain()
			return
		}
	}
}

func (c *Collector) processEvent(event MetricEvent) {
	switch event.Type {
	case EventBackendSelected:
		c.metrics.RecordBackendSelection(event.App, event.Backend)

	case EventRequestCompleted:
		c.metrics.RecordOutcome(event.App, event.Outcome)

	case EventResponseCompleted:
		c.metrics.RecordResponse(event.App, event.Duration, event.StatusCode)

	case EventHealthChanged:
		c.metrics.UpdateHealthStatus(event.App, event.Backend, event.Healthy)
	}
}

func (c *Collector) drain() {
	for {
		select {
		case event := <-c.eventCh:
			c.processEvent(event)
		default:
			return
		}
	}
}

func (c *Collector) Snapshot() Snapshot {
	return c.metrics.Snapshot()
}

func (c *Collector) Registry() *prometheus.Registry {
	return c.metrics.registry
}
