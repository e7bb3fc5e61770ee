package notify

import (
	"context"
	"encoding/json"
)

// Registry is the process-local view of live connections that the dispatch
// and presence layers depend on. Deliver and Broadcast are best-effort: a
// full or closed push handle drops the envelope without erroring the caller.
type Registry interface {
	Exists(key ConnectionKey) bool
	Deliver(key ConnectionKey, env *Envelope)
	Broadcast(env *Envelope)
}

// Outbox is the durable, per-key FIFO fallback queue.
type Outbox interface {
	// Enqueue persists a single envelope. Failures are returned to the
	// caller as recoverable errors and never abort anything else.
	Enqueue(ctx context.Context, env *Envelope) error

	// DrainForKey runs one transaction that reads every row for the key in
	// created-on order, hands each envelope to deliver, and deletes the
	// rows. Any error aborts the whole drain; no row is partially removed.
	// Concurrent drains of one key serialize: a row is visible to at most
	// one committing drain. Returns the number of rows drained.
	DrainForKey(ctx context.Context, key ConnectionKey, deliver func(env *Envelope)) (int, error)

	// RetrieveBatch fetches up to limit rows for the key, oldest first,
	// without removing them. Used by the client pull path.
	RetrieveBatch(ctx context.Context, key ConnectionKey, limit int) ([]*QueuedNotification, error)

	// DeleteDelivered permanently removes rows by store ID after the client
	// has confirmed delivery.
	DeleteDelivered(ctx context.Context, key ConnectionKey, ids []string) error

	// PendingKeys lists up to limit connection keys that currently have
	// undelivered rows. Used by the periodic sweep backstop.
	PendingKeys(ctx context.Context, limit int) ([]ConnectionKey, error)
}

// MarkerPublisher announces on the shared bus that a key may now be locally
// servable. Markers for one key are ordered by partitioning on the key.
type MarkerPublisher interface {
	PublishMarker(ctx context.Context, key ConnectionKey) error
}

// Marker is one presence announcement as received from the bus. Ack and Nack
// settle the underlying bus message; exactly one of them must be called.
type Marker struct {
	Key  ConnectionKey
	Ack  func()
	Nack func()
}

// PresenceCache records which fleet instance currently serves a key. It is
// advisory: entries expire on their own if an instance dies uncleanly.
type PresenceCache interface {
	Set(ctx context.Context, key ConnectionKey, info ConnectionInfo) error
	Refresh(ctx context.Context, key ConnectionKey) error
	Fetch(ctx context.Context, key ConnectionKey) (ConnectionInfo, error)
	Delete(ctx context.Context, key ConnectionKey) error
	Close() error
}

// Notifier is the single entry point business logic uses to request a
// delivery. The channel is best-effort, not exactly-once: a nil error means
// local delivery was attempted or the envelope is durably queued.
type Notifier interface {
	Notify(ctx context.Context, target Identity, action ActionType, payload json.RawMessage, urgency Urgency) error
	Announce(ctx context.Context, action ActionType, payload json.RawMessage) error
}

// ServiceDependencies is the container handed to the service assembly.
type ServiceDependencies struct {
	Registry Registry
	Outbox   Outbox
	Markers  MarkerPublisher
	Presence PresenceCache
}
