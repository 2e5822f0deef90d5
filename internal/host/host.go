package host

import (
	"context"
	"errors"
	"sync/atomic"
)

var (
	ErrNotRunning       = errors.New("host main loop is not running")
	ErrAlreadyRunning   = errors.New("host main loop already started")
	ErrQueueFull        = errors.New("host main loop queue is full")
	ErrNoActiveDocument = errors.New("host has no active document")
	ErrOffMainThread    = errors.New("main-thread context used outside its callback")
	ErrNilHandler       = errors.New("handler is nil")
)

// Application is the capability the core holds on the running host.
// It is never constructed by the core, only consumed.
type Application interface {
	Name() string
	Version() string
	// Invoke runs fn on the host main thread and blocks until it returns.
	// Must not be called from the main thread itself.
	Invoke(ctx context.Context, fn func(*Main) error) error
}

// Handler is host-affecting work bound to an Event. Execute always runs on the
// main thread.
type Handler interface {
	Name() string
	Execute(m *Main)
}

// Main is the main-thread context passed to Invoke callbacks and handlers.
type Main struct {
	loop  *Loop
	valid atomic.Bool
}

func newMain(l *Loop) *Main {
	m := &Main{loop: l}
	m.valid.Store(true)
	return m
}

func (m *Main) release() {
	m.valid.Store(false)
}

// App returns the host application this context belongs to.
func (m *Main) App() Application {
	return m.loop
}

// Document returns the active document name, if any.
func (m *Main) Document() (string, bool) {
	return m.loop.Document()
}

// OpenDocument makes name the active document.
func (m *Main) OpenDocument(name string) error {
	if !m.valid.Load() {
		return ErrOffMainThread
	}
	m.loop.setDocument(name)
	return nil
}

// CloseDocument clears the active document.
func (m *Main) CloseDocument() error {
	if !m.valid.Load() {
		return ErrOffMainThread
	}
	m.loop.setDocument("")
	return nil
}

// NewEvent creates an execution handle bound to h. It is only legal while the
// callback that received m is running.
func (m *Main) NewEvent(h Handler) (*Event, error) {
	if !m.valid.Load() {
		return nil, ErrOffMainThread
	}
	if h == nil {
		return nil, ErrNilHandler
	}
	if _, ok := m.loop.Document(); !ok {
		return nil, ErrNoActiveDocument
	}
	return &Event{
		id:      m.loop.nextEvent.Add(1),
		handler: h,
		loop:    m.loop,
	}, nil
}
