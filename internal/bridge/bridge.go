package bridge

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"reflect"
	"sort"
	"sync"

	"github.com/mattjoyce/hostbridge/internal/host"
	"github.com/mattjoyce/hostbridge/internal/log"
)

var (
	ErrUninitialized        = errors.New("dispatch bridge is not initialized")
	ErrAlreadyInitialized   = errors.New("dispatch bridge is already initialized")
	ErrHandleCreationFailed = errors.New("failed to create execution handle")
)

type entry struct {
	event   *host.Event
	handler host.Handler
}

// keyLock serializes creation for one key. refs counts holders and waiters;
// the lock leaves the map when it drops to zero.
type keyLock struct {
	mu   sync.Mutex
	refs int
}

// Bridge caches execution handles by key. Safe for concurrent use.
type Bridge struct {
	mu          sync.Mutex
	initialized bool
	app         host.Application
	logger      *slog.Logger
	entries     map[string]entry
	keyLocks    map[string]*keyLock
	// generation is bumped by ClearAll. Creations that started before a clear
	// do not write back.
	generation uint64
}

// New creates an uninitialized bridge.
func New() *Bridge {
	return &Bridge{
		logger:   log.WithComponent("bridge"),
		entries:  make(map[string]entry),
		keyLocks: make(map[string]*keyLock),
	}
}

// Initialize binds the bridge to app. It may only succeed once.
func (b *Bridge) Initialize(app host.Application, logger *slog.Logger) error {
	if app == nil {
		return errors.New("initialize bridge: host application is nil")
	}

	b.mu.Lock()
	defer b.mu.Unlock()
	if b.initialized {
		return ErrAlreadyInitialized
	}
	b.app = app
	if logger != nil {
		b.logger = logger
	}
	b.initialized = true
	b.logger.Info("dispatch bridge initialized", "host", app.Name(), "host_version", app.Version())
	return nil
}

// Initialized reports whether Initialize has succeeded.
func (b *Bridge) Initialized() bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.initialized
}

// GetOrCreateHandle returns the handle cached under key when it was created for
// this exact handler. Otherwise it creates one on the host main thread, blocking
// until creation completes, and replaces whatever was cached under key.
func (b *Bridge) GetOrCreateHandle(ctx context.Context, handler host.Handler, key string) (*host.Event, error) {
	b.mu.Lock()
	if !b.initialized {
		b.mu.Unlock()
		return nil, ErrUninitialized
	}
	if ev, ok := b.lookupLocked(handler, key); ok {
		b.mu.Unlock()
		return ev, nil
	}
	app, logger := b.app, b.logger
	kl := b.acquireKeyLock(key)
	b.mu.Unlock()

	// One creation per key at a time; late arrivals re-check the cache.
	kl.mu.Lock()
	defer b.releaseKeyLock(key, kl)

	b.mu.Lock()
	ev, ok := b.lookupLocked(handler, key)
	gen := b.generation
	b.mu.Unlock()
	if ok {
		return ev, nil
	}

	ev, err := create(ctx, app, handler)
	if err != nil {
		logger.Error("failed to create execution handle", "key", key, "error", err)
		return nil, err
	}

	b.mu.Lock()
	if b.generation != gen {
		b.mu.Unlock()
		logger.Debug("discarded execution handle created across a clear", "key", key, "event", ev.ID())
		return ev, nil
	}
	prev, replaced := b.entries[key]
	b.entries[key] = entry{event: ev, handler: handler}
	b.mu.Unlock()

	if replaced {
		logger.Debug("replaced execution handle", "key", key, "previous", prev.event.ID(), "event", ev.ID())
	} else {
		logger.Debug("created execution handle", "key", key, "event", ev.ID())
	}
	return ev, nil
}

// ClearAll drops every cached handle. The bridge stays initialized.
func (b *Bridge) ClearAll() {
	b.mu.Lock()
	n := len(b.entries)
	b.entries = make(map[string]entry)
	b.generation++
	logger := b.logger
	b.mu.Unlock()
	logger.Info("cleared execution handles", "count", n)
}

// Len returns the number of cached handles.
func (b *Bridge) Len() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.entries)
}

// Keys returns the cached keys in sorted order.
func (b *Bridge) Keys() []string {
	b.mu.Lock()
	keys := make([]string, 0, len(b.entries))
	for k := range b.entries {
		keys = append(keys, k)
	}
	b.mu.Unlock()
	sort.Strings(keys)
	return keys
}

func (b *Bridge) lookupLocked(handler host.Handler, key string) (*host.Event, bool) {
	e, ok := b.entries[key]
	if !ok || !sameHandler(e.handler, handler) {
		return nil, false
	}
	return e.event, true
}

// acquireKeyLock must be called with b.mu held. Key locks are independent of
// ClearAll so a creation in flight and a caller arriving after the clear still
// serialize.
func (b *Bridge) acquireKeyLock(key string) *keyLock {
	kl, ok := b.keyLocks[key]
	if !ok {
		kl = &keyLock{}
		b.keyLocks[key] = kl
	}
	kl.refs++
	return kl
}

// releaseKeyLock unlocks kl and drops it from the map once unreferenced.
func (b *Bridge) releaseKeyLock(key string, kl *keyLock) {
	kl.mu.Unlock()
	b.mu.Lock()
	kl.refs--
	if kl.refs == 0 {
		delete(b.keyLocks, key)
	}
	b.mu.Unlock()
}

func create(ctx context.Context, app host.Application, handler host.Handler) (*host.Event, error) {
	var ev *host.Event
	err := app.Invoke(ctx, func(m *host.Main) error {
		var err error
		ev, err = m.NewEvent(handler)
		return err
	})
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrHandleCreationFailed, err)
	}
	if ev == nil {
		return nil, fmt.Errorf("%w: host returned no handle", ErrHandleCreationFailed)
	}
	return ev, nil
}

// sameHandler reports reference identity. Handlers with non-comparable dynamic
// types never match.
func sameHandler(a, b host.Handler) bool {
	if a == nil || b == nil {
		return false
	}
	va, vb := reflect.ValueOf(a), reflect.ValueOf(b)
	if va.Type() != vb.Type() {
		return false
	}
	switch va.Kind() {
	case reflect.Pointer, reflect.Map, reflect.Chan, reflect.Func, reflect.UnsafePointer:
		return va.Pointer() == vb.Pointer()
	}
	if !va.Type().Comparable() {
		return false
	}
	return a == b
}
