package host

import "sync/atomic"

// Event is a thread-affine execution handle. It can only be created on the main
// thread (Main.NewEvent) but may be raised from any goroutine.
type Event struct {
	id      uint64
	handler Handler
	loop    *Loop
	raised  atomic.Uint64
}

// ID returns the loop-unique event identifier.
func (e *Event) ID() uint64 { return e.id }

// Handler returns the handler the event was bound to at creation.
func (e *Event) Handler() Handler { return e.handler }

// Raised returns how many times the event was successfully raised.
func (e *Event) Raised() uint64 { return e.raised.Load() }

// Done is closed when the owning loop stops.
func (e *Event) Done() <-chan struct{} { return e.loop.Done() }

// Raise queues the bound handler on the main thread and returns immediately.
func (e *Event) Raise() error {
	err := e.loop.post(func(m *Main) error {
		e.handler.Execute(m)
		return nil
	})
	if err != nil {
		return err
	}
	e.raised.Add(1)
	return nil
}
