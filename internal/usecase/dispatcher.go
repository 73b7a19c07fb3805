package usecase

import (
	"context"
	"sync"
	"time"

	"github.com/vitos/volume_anomaly_bot/internal/domain"
	"go.uber.org/zap"
)

// Dispatcher queues events for a Notifier on its own goroutine so the engine never
// waits on delivery. Events are dropped when the queue is full.
type Dispatcher struct {
	sink    domain.Notifier
	timeout time.Duration
	metrics MetricsRecorder
	logger  *zap.Logger

	queue chan domain.Event
	done  chan struct{}

	mu     sync.RWMutex
	closed bool
}

func NewDispatcher(sink domain.Notifier, size int, timeout time.Duration, metrics MetricsRecorder, logger *zap.Logger) *Dispatcher {
	if size <= 0 {
		size = 256
	}
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	if metrics == nil {
		metrics = NopMetrics()
	}
	d := &Dispatcher{
		sink:    sink,
		timeout: timeout,
		metrics: metrics,
		logger:  logger,
		queue:   make(chan domain.Event, size),
		done:    make(chan struct{}),
	}
	go d.run()
	return d
}

// Publish enqueues an event and reports whether it was accepted.
func (d *Dispatcher) Publish(ev domain.Event) bool {
	d.mu.RLock()
	defer d.mu.RUnlock()
	if d.closed {
		return false
	}
	select {
	case d.queue <- ev:
		return true
	default:
		d.metrics.NotificationDropped()
		d.logger.Warn("Notification queue full, dropping event",
			zap.String("kind", string(ev.Kind())),
			zap.String("symbol", ev.Symbol()))
		return false
	}
}

func (d *Dispatcher) run() {
	defer close(d.done)
	for ev := range d.queue {
		ctx, cancel := context.WithTimeout(context.Background(), d.timeout)
		if err := d.sink.Notify(ctx, ev); err != nil {
			d.logger.Error("Notification failed",
				zap.String("kind", string(ev.Kind())),
				zap.String("symbol", ev.Symbol()),
				zap.Error(err))
		}
		cancel()
	}
}

// Close stops accepting events and waits until the queue is drained.
func (d *Dispatcher) Close() {
	d.mu.Lock()
	if !d.closed {
		d.closed = true
		close(d.queue)
	}
	d.mu.Unlock()
	<-d.done
}
