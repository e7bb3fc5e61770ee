// Package realtime provides components for managing real-time client
// connections: the process-local connection registry and the WebSocket
// session endpoints that populate it.
package realtime

import (
	"errors"
	"sync"

	"github.com/rs/zerolog"

	"github.com/sanushilshad/vitis-sub000/pkg/notify"
)

var (
	// ErrBufferFull is returned by a push handle whose outbound buffer is
	// saturated. The registry logs and drops; it never blocks the caller.
	ErrBufferFull = errors.New("push handle buffer full")
	// ErrHandleClosed is returned by a push handle that has already shut down.
	ErrHandleClosed = errors.New("push handle closed")
)

// Handle is the push side of one live connection as seen by the registry.
type Handle interface {
	// Push enqueues an envelope for delivery without blocking. It returns
	// ErrBufferFull or ErrHandleClosed when the envelope cannot be accepted.
	Push(env *notify.Envelope) error
	// Supersede asks the handle to shut down because a newer session took
	// over its connection key.
	Supersede()
}

// Registry is the process-local hub mapping a connection key to exactly one
// push handle. The map is owned exclusively by the registry: all operations
// serialize on one mutex, and the actual push to a handle is fire-and-forget.
type Registry struct {
	mu      sync.Mutex
	handles map[notify.ConnectionKey]Handle
	logger  zerolog.Logger
}

// NewRegistry creates an empty registry.
func NewRegistry(logger zerolog.Logger) *Registry {
	return &Registry{
		handles: make(map[notify.ConnectionKey]Handle),
		logger:  logger.With().Str("component", "Registry").Logger(),
	}
}

// Join installs the handle for the key. A later Join supersedes an earlier
// one for the same key: the displaced handle is told to shut down.
func (r *Registry) Join(key notify.ConnectionKey, h Handle) {
	r.mu.Lock()
	prev := r.handles[key]
	r.handles[key] = h
	r.mu.Unlock()

	if prev != nil && prev != h {
		r.logger.Info().Str("key", string(key)).Msg("Key rejoined; superseding previous session.")
		prev.Supersede()
	}
}

// Leave removes the mapping, but only while the given handle is still the
// current one. A superseded session calling Leave during its teardown must
// not evict its replacement.
func (r *Registry) Leave(key notify.ConnectionKey, h Handle) {
	r.mu.Lock()
	if current, ok := r.handles[key]; ok && current == h {
		delete(r.handles, key)
	}
	r.mu.Unlock()
}

// Exists reports whether a live handle is registered for the key.
func (r *Registry) Exists(key notify.ConnectionKey) bool {
	r.mu.Lock()
	_, ok := r.handles[key]
	r.mu.Unlock()
	return ok
}

// Deliver pushes the envelope to the handle mapped to the key, if any. The
// push is best-effort: a full or closed handle drops the envelope with a log
// line and the caller is never blocked or errored.
func (r *Registry) Deliver(key notify.ConnectionKey, env *notify.Envelope) {
	r.mu.Lock()
	h, ok := r.handles[key]
	r.mu.Unlock()
	if !ok {
		return
	}

	if err := h.Push(env); err != nil {
		r.logger.Warn().Err(err).
			Str("key", string(key)).
			Str("notification_id", env.ID).
			Msg("Dropped push to live session.")
	}
}

// Broadcast pushes the envelope to every registered handle, best-effort.
func (r *Registry) Broadcast(env *notify.Envelope) {
	r.mu.Lock()
	snapshot := make(map[notify.ConnectionKey]Handle, len(r.handles))
	for key, h := range r.handles {
		snapshot[key] = h
	}
	r.mu.Unlock()

	for key, h := range snapshot {
		if err := h.Push(env); err != nil {
			r.logger.Warn().Err(err).
				Str("key", string(key)).
				Str("notification_id", env.ID).
				Msg("Dropped broadcast push to live session.")
		}
	}
}

// Len reports the number of live handles.
func (r *Registry) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.handles)
}
