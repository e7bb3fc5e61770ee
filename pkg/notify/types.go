// Package notify contains the public domain models and interfaces for the
// notification delivery subsystem. It defines the contract between the
// business modules that request deliveries and the engine that performs them.
package notify

import (
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/google/uuid"
)

// ConnectionKey identifies one logical client delivery slot. It is also the
// partition (ordering) key for presence markers on the bus.
type ConnectionKey string

const keyPlaceholder = "NA"

// Identity is the tuple business modules supply when requesting a delivery.
// Any field may be empty; empty fields render as "NA" in the connection key.
type Identity struct {
	UserID   string `json:"userId"`
	TenantID string `json:"tenantId"`
	DeviceID string `json:"deviceId"`
}

// Key renders the identity into its connection key using the fixed
// "{user|NA}#{tenant|NA}#{device|NA}" scheme.
func (i Identity) Key() ConnectionKey {
	return ConnectionKey(fmt.Sprintf("%s#%s#%s",
		orPlaceholder(i.UserID),
		orPlaceholder(i.TenantID),
		orPlaceholder(i.DeviceID),
	))
}

// IsZero reports whether every field of the tuple is empty.
func (i Identity) IsZero() bool {
	return i.UserID == "" && i.TenantID == "" && i.DeviceID == ""
}

func orPlaceholder(s string) string {
	if s == "" {
		return keyPlaceholder
	}
	return s
}

// Identity header names used by upstream collaborators (gateway, auth layer)
// to hand the identity tuple to this subsystem.
const (
	HeaderUserID   = "X-User-ID"
	HeaderTenantID = "X-Tenant-ID"
	HeaderDeviceID = "X-Device-ID"
)

// IdentityFromHeaders extracts the identity tuple set by the upstream
// authenticator. At least one field must be present; a fully empty tuple
// would collapse every anonymous caller onto the same connection key.
func IdentityFromHeaders(h http.Header) (Identity, error) {
	id := Identity{
		UserID:   h.Get(HeaderUserID),
		TenantID: h.Get(HeaderTenantID),
		DeviceID: h.Get(HeaderDeviceID),
	}
	if id.IsZero() {
		return Identity{}, fmt.Errorf("no identity headers present")
	}
	return id, nil
}

// Urgency selects between synchronous best-effort delivery and the durable
// outbox fallback.
type Urgency int

const (
	// Deferred falls back to the outbox when the target has no local session.
	Deferred Urgency = iota
	// Immediate delivers now or discards; it never touches the outbox.
	Immediate
)

// String returns the wire name of the urgency.
func (u Urgency) String() string {
	if u == Immediate {
		return "immediate"
	}
	return "deferred"
}

// ParseUrgency converts a wire name into an Urgency.
func ParseUrgency(s string) (Urgency, error) {
	switch s {
	case "immediate":
		return Immediate, nil
	case "deferred", "":
		return Deferred, nil
	default:
		return Deferred, fmt.Errorf("unknown urgency %q", s)
	}
}

// Envelope is one notification in flight. An empty Key means broadcast.
type Envelope struct {
	ID        string          `json:"id"`
	Key       ConnectionKey   `json:"key,omitempty"`
	Action    ActionType      `json:"actionType"`
	Payload   json.RawMessage `json:"data,omitempty"`
	CreatedOn time.Time       `json:"createdOn"`
}

// NewEnvelope assembles an envelope with a fresh opaque ID and creation time.
func NewEnvelope(key ConnectionKey, action ActionType, payload json.RawMessage) *Envelope {
	return &Envelope{
		ID:        uuid.NewString(),
		Key:       key,
		Action:    action,
		Payload:   payload,
		CreatedOn: time.Now().UTC(),
	}
}

// QueuedNotification is a persisted envelope together with the store-level ID
// used to acknowledge (delete) it.
type QueuedNotification struct {
	ID       string    `json:"id"`
	Envelope *Envelope `json:"envelope"`
}

// ConnectionInfo describes where in the fleet a connection key is currently
// being served.
type ConnectionInfo struct {
	ServerInstanceID string `json:"serverInstanceId"`
	ConnectedAt      int64  `json:"connectedAt"`
}
