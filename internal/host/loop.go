package host

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"

	"github.com/mattjoyce/hostbridge/internal/log"
)

const defaultQueueSize = 64

// Info identifies the running host.
type Info struct {
	Name    string
	Version string
}

// Option configures a Loop.
type Option func(*Loop)

// WithQueueSize bounds the number of pending main-thread requests.
func WithQueueSize(n int) Option {
	return func(l *Loop) {
		if n > 0 {
			l.queue = make(chan task, n)
		}
	}
}

// WithDocument opens a document before the loop starts.
func WithDocument(name string) Option {
	return func(l *Loop) {
		l.document = name
	}
}

// WithLogger overrides the loop logger.
func WithLogger(logger *slog.Logger) Option {
	return func(l *Loop) {
		if logger != nil {
			l.logger = logger
		}
	}
}

type task struct {
	fn   func(*Main) error
	done chan error // nil for fire-and-forget posts
}

// Loop is the host main loop. Run must be called on the goroutine that owns the
// main thread; every other method is safe for concurrent use.
type Loop struct {
	info   Info
	queue  chan task
	logger *slog.Logger

	started atomic.Bool
	running atomic.Bool
	stopped chan struct{}

	mu       sync.RWMutex
	document string

	nextEvent atomic.Uint64
	executed  atomic.Uint64
}

// NewLoop creates a host loop that is not yet running.
func NewLoop(info Info, opts ...Option) *Loop {
	l := &Loop{
		info:    info,
		queue:   make(chan task, defaultQueueSize),
		logger:  log.WithComponent("host"),
		stopped: make(chan struct{}),
	}
	for _, opt := range opts {
		opt(l)
	}
	return l
}

// Name returns the host name.
func (l *Loop) Name() string { return l.info.Name }

// Version returns the host version identifier.
func (l *Loop) Version() string { return l.info.Version }

// Running reports whether Run is draining requests.
func (l *Loop) Running() bool { return l.running.Load() }

// Done is closed once Run has returned.
func (l *Loop) Done() <-chan struct{} { return l.stopped }

// Executed returns the number of callbacks run on the main thread.
func (l *Loop) Executed() uint64 { return l.executed.Load() }

// Document returns the active document name, if any.
func (l *Loop) Document() (string, bool) {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return l.document, l.document != ""
}

func (l *Loop) setDocument(name string) {
	l.mu.Lock()
	l.document = name
	l.mu.Unlock()
}

// Run drains main-thread requests until ctx is cancelled. A Loop runs at most once.
func (l *Loop) Run(ctx context.Context) error {
	if !l.started.CompareAndSwap(false, true) {
		return ErrAlreadyRunning
	}
	l.running.Store(true)
	l.logger.Info("host main loop started", "host", l.info.Name, "version", l.info.Version)
	defer func() {
		l.running.Store(false)
		close(l.stopped)
		l.drain()
		l.logger.Info("host main loop stopped")
	}()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case t := <-l.queue:
			l.exec(t)
		}
	}
}

// Invoke queues fn on the main thread and waits for it. It fails immediately
// with ErrNotRunning when the loop is not draining requests.
func (l *Loop) Invoke(ctx context.Context, fn func(*Main) error) error {
	if fn == nil {
		return errors.New("invoke: callback is nil")
	}
	if !l.running.Load() {
		return ErrNotRunning
	}

	t := task{fn: fn, done: make(chan error, 1)}
	select {
	case l.queue <- t:
	case <-l.stopped:
		return ErrNotRunning
	case <-ctx.Done():
		return ctx.Err()
	}

	select {
	case err := <-t.done:
		return err
	case <-l.stopped:
		select {
		case err := <-t.done:
			return err
		default:
			return ErrNotRunning
		}
	case <-ctx.Done():
		return ctx.Err()
	}
}

// post queues fn without waiting. Used by Event.Raise.
func (l *Loop) post(fn func(*Main) error) error {
	if !l.running.Load() {
		return ErrNotRunning
	}
	select {
	case l.queue <- task{fn: fn}:
		return nil
	default:
		return ErrQueueFull
	}
}

func (l *Loop) exec(t task) {
	m := newMain(l)
	err := call(t.fn, m)
	m.release()
	l.executed.Add(1)

	if t.done != nil {
		t.done <- err
		return
	}
	if err != nil {
		l.logger.Error("raised handler failed", "error", err)
	}
}

// drain answers requests still queued after the loop stopped.
func (l *Loop) drain() {
	for {
		select {
		case t := <-l.queue:
			if t.done != nil {
				t.done <- ErrNotRunning
			}
		default:
			return
		}
	}
}

func call(fn func(*Main) error, m *Main) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("main-thread callback panicked: %v", r)
		}
	}()
	return fn(m)
}
