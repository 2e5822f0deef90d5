// Package host models the single-threaded host application that hostbridge extends.
//
// The host owns one main goroutine (pinned to the OS main thread by cmd/hostbridge)
// and every host-state mutation must run on it. Other goroutines reach the main
// thread only through Application.Invoke, which queues a callback on the loop and
// blocks until it has run.
//
// Key types:
//   - Loop: the reference Application. Run drains a bounded request channel.
//   - Main: the main-thread context handed to callbacks. It is valid only while
//     the callback runs; using it afterwards fails with ErrOffMainThread.
//   - Event: a thread-affine execution handle created on the main thread and bound
//     to a Handler. Raise queues the handler on the loop without blocking.
//   - Waitable: a reusable Handler that gives callers raise-and-wait semantics.
//
// Failure modes:
//   - Invoke on a loop that is not running fails immediately with ErrNotRunning.
//   - Raise on a saturated loop fails with ErrQueueFull instead of blocking.
//   - Creating an event with no active document fails with ErrNoActiveDocument.
//   - Panics inside callbacks are recovered and returned as errors.
package host
