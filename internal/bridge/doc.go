// Package bridge hands out execution handles that let commands running on
// arbitrary goroutines trigger work on the host main thread.
//
// A Bridge caches one handle per logical key. The cache is only reused while the
// caller presents the same handler instance it was created with; a different
// handler under the same key forces a new handle. Creating a handle is a blocking
// hop onto the main thread through host.Application.Invoke.
//
// Lifecycle:
//   - New: construct, owned by the service bootstrap
//   - Initialize: bind to the host exactly once
//   - GetOrCreateHandle: from any goroutine
//   - ClearAll: after a reload, so stale handles are never reused
//
// Error handling:
//   - Use before Initialize → ErrUninitialized
//   - Host not running, no active document, nil handle → ErrHandleCreationFailed
//   - Second Initialize → ErrAlreadyInitialized
package bridge
