// Package notify delivers review notifications outside the request path.
package notify

import (
	"context"
	"errors"
	"sync"
	"time"

	"theological-agent/internal/logging"
)

// ErrNotConfigured is returned by notifiers missing credentials.
var ErrNotConfigured = errors.New("notify: notifier not configured")

// Event describes a run paused for review.
type Event struct {
	RunID     string
	Reference string
	RiskLevel string
	Alerts    []string
	ReviewURL string
}

// Notifier delivers an event.
type Notifier interface {
	Notify(ctx context.Context, ev Event) error
}

// NotifierFunc adapts a function to Notifier.
type NotifierFunc func(ctx context.Context, ev Event) error

func (f NotifierFunc) Notify(ctx context.Context, ev Event) error { return f(ctx, ev) }

// Dispatcher hands events to a Notifier from a background goroutine so the
// caller never waits on delivery. Events arriving while the queue is full are
// dropped and logged.
type Dispatcher struct {
	notifier Notifier
	logger   *logging.Logger
	timeout  time.Duration
	queue    chan Event
	wg       sync.WaitGroup

	mu     sync.Mutex
	closed bool
}

// NewDispatcher starts a Dispatcher with the given queue size.
func NewDispatcher(n Notifier, size int, timeout time.Duration, logger *logging.Logger) *Dispatcher {
	if size <= 0 {
		size = 64
	}
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	d := &Dispatcher{
		notifier: n,
		logger:   logger,
		timeout:  timeout,
		queue:    make(chan Event, size),
	}
	d.wg.Add(1)
	go d.loop()
	return d
}

// Dispatch enqueues an event without blocking. Events dispatched after Close
// are dropped and logged.
func (d *Dispatcher) Dispatch(ev Event) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.closed {
		d.logger.Error("notification_dropped", "run_id", ev.RunID, "reason", "dispatcher closed")
		return
	}
	select {
	case d.queue <- ev:
	default:
		d.logger.Error("notification_dropped", "run_id", ev.RunID, "reason", "queue full")
	}
}

func (d *Dispatcher) loop() {
	defer d.wg.Done()
	for ev := range d.queue {
		ctx, cancel := context.WithTimeout(context.Background(), d.timeout)
		err := d.notifier.Notify(ctx, ev)
		cancel()
		switch {
		case errors.Is(err, ErrNotConfigured):
			d.logger.Warn("email_skip", "run_id", ev.RunID, "reason", "smtp not configured")
		case err != nil:
			d.logger.Error("email_error", "run_id", ev.RunID, "error", err)
		default:
			d.logger.Info("email_sent", "run_id", ev.RunID, "risk_level", ev.RiskLevel)
		}
	}
}

// Close stops accepting events and waits for queued ones to be delivered.
func (d *Dispatcher) Close() {
	d.mu.Lock()
	if !d.closed {
		d.closed = true
		close(d.queue)
	}
	d.mu.Unlock()
	d.wg.Wait()
}
