package broadcast

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"
)

// Sink delivers events over one transport.
type Sink interface {
	Name() string
	Publish(ctx context.Context, evt Event) error
}

// DropRecorder counts events lost because the queue was full or closed.
type DropRecorder interface {
	AddBroadcastDropped(event string)
}

// DispatcherConfig groups Dispatcher dependencies.
type DispatcherConfig struct {
	Sinks          []Sink
	Buffer         int
	PublishTimeout time.Duration
	Logger         *slog.Logger
	Drops          DropRecorder
}

// Dispatcher is the boundary between the engine and the transports. Dispatch
// never blocks and never reports failures to the caller: persisted state is
// the source of truth, events are best effort.
type Dispatcher struct {
	sinks   []Sink
	queue   chan Event
	timeout time.Duration
	logger  *slog.Logger
	drops   DropRecorder

	mu      sync.RWMutex
	started bool
	closed  bool
	done    chan struct{}
}

// NewDispatcher constructs a Dispatcher. Call Start before dispatching.
func NewDispatcher(cfg DispatcherConfig) *Dispatcher {
	if cfg.Buffer <= 0 {
		cfg.Buffer = 256
	}
	if cfg.PublishTimeout <= 0 {
		cfg.PublishTimeout = 5 * time.Second
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &Dispatcher{
		sinks:   cfg.Sinks,
		queue:   make(chan Event, cfg.Buffer),
		timeout: cfg.PublishTimeout,
		logger:  logger.With(slog.String("component", "broadcast")),
		drops:   cfg.Drops,
		done:    make(chan struct{}),
	}
}

// Start launches the delivery goroutine.
func (d *Dispatcher) Start() {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.started || d.closed {
		return
	}
	d.started = true
	go d.run()
}

// Dispatch enqueues events for delivery. Events that do not fit into the
// buffer are dropped and logged.
func (d *Dispatcher) Dispatch(events ...Event) {
	if d == nil {
		return
	}
	d.mu.RLock()
	defer d.mu.RUnlock()
	for _, evt := range events {
		if d.closed {
			d.drop(evt, "dispatcher closed")
			continue
		}
		select {
		case d.queue <- evt:
		default:
			d.drop(evt, "queue full")
		}
	}
}

// Close stops accepting events and waits until queued events are delivered
// or ctx expires.
func (d *Dispatcher) Close(ctx context.Context) error {
	d.mu.Lock()
	if d.closed {
		d.mu.Unlock()
		return nil
	}
	d.closed = true
	close(d.queue)
	started := d.started
	d.mu.Unlock()

	if !started {
		return nil
	}
	select {
	case <-d.done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (d *Dispatcher) run() {
	defer close(d.done)
	for evt := range d.queue {
		d.deliver(evt)
	}
}

func (d *Dispatcher) deliver(evt Event) {
	for _, sink := range d.sinks {
		ctx, cancel := context.WithTimeout(context.Background(), d.timeout)
		err := sink.Publish(ctx, evt)
		cancel()
		if err != nil {
			d.logger.Warn("broadcast publish failed",
				slog.String("sink", sink.Name()),
				slog.String("event", string(evt.Name)),
				slog.String("event_id", evt.ID.String()),
				slog.Any("error", err),
			)
		}
	}
}

func (d *Dispatcher) drop(evt Event, reason string) {
	d.logger.Warn("broadcast event dropped",
		slog.String("event", string(evt.Name)),
		slog.String("reason", reason),
	)
	if d.drops != nil {
		d.drops.AddBroadcastDropped(string(evt.Name))
	}
}

// ErrSinkClosed is returned by sinks used after Close.
var ErrSinkClosed = errors.New("broadcast: sink closed")
