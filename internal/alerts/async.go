// Package alerts decouples alert delivery from the trading path.
package alerts

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"cryptoSpotBot/internal/ports"
)

// Async forwards notifications to a sink from a single background worker.
// Notify never blocks: when the queue is full the message is dropped and counted.
type Async struct {
	sink    ports.AlertSink
	logger  ports.Logger
	queue   chan string
	timeout time.Duration
	onDrop  func()

	dropped   atomic.Int64
	closeOnce sync.Once
	done      chan struct{}
	closed    chan struct{}
}

// Option configures an Async wrapper.
type Option func(*Async)

// WithDeliveryTimeout bounds each delivery attempt.
func WithDeliveryTimeout(d time.Duration) Option {
	return func(a *Async) { a.timeout = d }
}

// WithDropHook registers a callback invoked for every dropped message.
func WithDropHook(fn func()) Option {
	return func(a *Async) { a.onDrop = fn }
}

// NewAsync starts the delivery worker. Call Close to drain and stop it.
func NewAsync(sink ports.AlertSink, logger ports.Logger, queueSize int, opts ...Option) *Async {
	if queueSize <= 0 {
		queueSize = 64
	}
	a := &Async{
		sink:    sink,
		logger:  logger,
		queue:   make(chan string, queueSize),
		timeout: 15 * time.Second,
		done:    make(chan struct{}),
		closed:  make(chan struct{}),
	}
	for _, opt := range opts {
		opt(a)
	}
	go a.run()
	return a
}

// Notify implements ports.AlertSink.
func (a *Async) Notify(ctx context.Context, message string) {
	select {
	case <-a.closed:
		a.drop(ctx, message)
		return
	default:
	}
	select {
	case a.queue <- message:
	default:
		a.drop(ctx, message)
	}
}

func (a *Async) drop(ctx context.Context, message string) {
	a.dropped.Add(1)
	if a.onDrop != nil {
		a.onDrop()
	}
	a.logger.Warn(ctx, "Alert dropped", map[string]interface{}{"message": message})
}

// Dropped returns the number of messages discarded so far.
func (a *Async) Dropped() int64 {
	return a.dropped.Load()
}

func (a *Async) run() {
	defer close(a.done)
	for {
		select {
		case msg := <-a.queue:
			a.deliver(msg)
		case <-a.closed:
			// Drain whatever was accepted before Close.
			for {
				select {
				case msg := <-a.queue:
					a.deliver(msg)
				default:
					return
				}
			}
		}
	}
}

func (a *Async) deliver(msg string) {
	ctx, cancel := context.WithTimeout(context.Background(), a.timeout)
	defer cancel()
	a.sink.Notify(ctx, msg)
}

// Close stops accepting messages and waits for queued ones to be delivered or ctx to end.
func (a *Async) Close(ctx context.Context) error {
	a.closeOnce.Do(func() { close(a.closed) })
	select {
	case <-a.done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// LogSink is an AlertSink that only logs. Used when no remote channel is configured.
type LogSink struct {
	Logger ports.Logger
}

// Notify implements ports.AlertSink.
func (s LogSink) Notify(ctx context.Context, message string) {
	s.Logger.Warn(ctx, "ALERT", map[string]interface{}{"message": message})
}
