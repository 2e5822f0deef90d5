package host

import (
	"context"
	"errors"
	"fmt"
	"sync"
)

// ErrHandlerMismatch is returned when a Waitable is called through an event bound
// to a different handler.
var ErrHandlerMismatch = errors.New("event is bound to a different handler")

// WaitableFunc is the main-thread body of a Waitable.
type WaitableFunc func(m *Main, arg any) (any, error)

type outcome struct {
	value any
	err   error
}

// Waitable is a Handler whose callers raise it and block until the main thread
// has run it. Calls are serialized; one raise is in flight at a time.
type Waitable struct {
	name string
	fn   WaitableFunc

	callMu sync.Mutex

	mu      sync.Mutex
	arg     any
	pending chan outcome
}

// NewWaitable creates a reusable waitable handler.
func NewWaitable(name string, fn WaitableFunc) *Waitable {
	return &Waitable{name: name, fn: fn}
}

// Name implements Handler.
func (w *Waitable) Name() string { return w.name }

// Execute implements Handler. A raise with no pending call is ignored.
func (w *Waitable) Execute(m *Main) {
	w.mu.Lock()
	arg, ch := w.arg, w.pending
	w.arg, w.pending = nil, nil
	w.mu.Unlock()
	if ch == nil {
		return
	}
	v, err := w.run(m, arg)
	ch <- outcome{value: v, err: err}
}

func (w *Waitable) run(m *Main, arg any) (v any, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("handler %s panicked: %v", w.name, r)
		}
	}()
	return w.fn(m, arg)
}

// Call sets arg, raises ev and waits for the main thread to finish.
func (w *Waitable) Call(ctx context.Context, ev *Event, arg any) (any, error) {
	if ev == nil {
		return nil, errors.New("waitable call: event is nil")
	}
	if h, ok := ev.Handler().(*Waitable); !ok || h != w {
		return nil, ErrHandlerMismatch
	}

	w.callMu.Lock()
	defer w.callMu.Unlock()

	ch := make(chan outcome, 1)
	w.mu.Lock()
	w.arg, w.pending = arg, ch
	w.mu.Unlock()

	if err := ev.Raise(); err != nil {
		w.clear(ch)
		return nil, err
	}

	select {
	case o := <-ch:
		return o.value, o.err
	case <-ev.Done():
		w.clear(ch)
		return nil, ErrNotRunning
	case <-ctx.Done():
		w.clear(ch)
		return nil, ctx.Err()
	}
}

func (w *Waitable) clear(ch chan outcome) {
	w.mu.Lock()
	if w.pending == ch {
		w.arg, w.pending = nil, nil
	}
	w.mu.Unlock()
}
