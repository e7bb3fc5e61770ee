package realtime

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"

	"github.com/sanushilshad/vitis-sub000/pkg/notify"
)

// IdentityExtractor resolves the identity tuple for an incoming connection
// request. The upstream authenticator is an external collaborator; by default
// the tuple arrives in request headers.
type IdentityExtractor func(r *http.Request) (notify.Identity, error)

// HeaderIdentity extracts the identity tuple from the X-User-ID,
// X-Tenant-ID, and X-Device-ID request headers.
func HeaderIdentity(r *http.Request) (notify.Identity, error) {
	return notify.IdentityFromHeaders(r.Header)
}

// ConnectionManager runs the WebSocket endpoint on its own HTTP server and
// bridges each accepted connection into the registry: Join on establish,
// presence marker publish, and Leave plus presence cleanup on teardown.
type ConnectionManager struct {
	server     *http.Server
	upgrader   websocket.Upgrader
	registry   *Registry
	markers    notify.MarkerPublisher
	presence   notify.PresenceCache
	identity   IdentityExtractor
	sessionCfg SessionConfig
	logger     zerolog.Logger
	instanceID string
}

// NewConnectionManager creates and wires up a new WebSocket connection manager.
func NewConnectionManager(
	addr string,
	registry *Registry,
	markers notify.MarkerPublisher,
	presence notify.PresenceCache,
	identity IdentityExtractor,
	sessionCfg SessionConfig,
	logger zerolog.Logger,
) (*ConnectionManager, error) {
	if registry == nil {
		return nil, fmt.Errorf("registry cannot be nil")
	}
	if markers == nil {
		return nil, fmt.Errorf("marker publisher cannot be nil")
	}
	if sessionCfg.PongTimeout <= sessionCfg.PingInterval {
		return nil, fmt.Errorf("pong timeout (%s) must exceed ping interval (%s)",
			sessionCfg.PongTimeout, sessionCfg.PingInterval)
	}
	if identity == nil {
		identity = HeaderIdentity
	}
	if sessionCfg.SendBuffer <= 0 {
		sessionCfg.SendBuffer = 32
	}
	if sessionCfg.WriteTimeout <= 0 {
		sessionCfg.WriteTimeout = 10 * time.Second
	}

	instanceID := uuid.NewString()
	cm := &ConnectionManager{
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			CheckOrigin: func(r *http.Request) bool {
				// TODO: restrict origins once the web client's domains are fixed
				return true
			},
		},
		registry:   registry,
		markers:    markers,
		presence:   presence,
		identity:   identity,
		sessionCfg: sessionCfg,
		logger:     logger.With().Str("component", "ConnectionManager").Str("instance", instanceID).Logger(),
		instanceID: instanceID,
	}

	mux := http.NewServeMux()
	mux.HandleFunc("/connect", cm.connectHandler)
	cm.server = &http.Server{
		Addr:    addr,
		Handler: mux,
	}

	return cm, nil
}

// InstanceID returns the identifier this manager writes into fleet presence
// records.
func (cm *ConnectionManager) InstanceID() string {
	return cm.instanceID
}

// Start runs the HTTP server for WebSocket connections.
func (cm *ConnectionManager) Start(ctx context.Context) error {
	cm.logger.Info().Str("addr", cm.server.Addr).Msg("WebSocket server starting...")
	if err := cm.server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return fmt.Errorf("websocket server failed: %w", err)
	}
	return nil
}

// Shutdown gracefully stops the HTTP server.
func (cm *ConnectionManager) Shutdown(ctx context.Context) error {
	cm.logger.Info().Msg("Shutting down WebSocket service...")
	if err := cm.server.Shutdown(ctx); err != nil {
		cm.logger.Error().Err(err).Msg("WebSocket server shutdown failed.")
		return err
	}
	cm.logger.Info().Msg("WebSocket service shut down.")
	return nil
}

// connectHandler upgrades an HTTP request to a WebSocket and owns the
// session's lifecycle: Connecting -> Established -> Closing -> Terminated.
func (cm *ConnectionManager) connectHandler(w http.ResponseWriter, r *http.Request) {
	id, err := cm.identity(r)
	if err != nil {
		http.Error(w, "Unauthorized", http.StatusUnauthorized)
		return
	}
	key := id.Key()

	conn, err := cm.upgrader.Upgrade(w, r, nil)
	if err != nil {
		cm.logger.Error().Err(err).Msg("Failed to upgrade connection.")
		return
	}

	sess := newSession(key, conn, cm.sessionCfg, func() { cm.refreshPresence(key) }, cm.logger)

	// Established: register locally, record fleet presence, then announce the
	// key on the bus so any process holding queued rows can hand them over.
	cm.registry.Join(key, sess)
	cm.setPresence(r.Context(), key)
	if err := cm.markers.PublishMarker(r.Context(), key); err != nil {
		cm.logger.Error().Err(err).Str("key", string(key)).Msg("Failed to publish presence marker.")
	}

	cm.logger.Info().Str("key", string(key)).Msg("Client connected.")

	go sess.writePump()
	sess.readPump()

	// Terminated: the guarded Leave keeps a superseded session from evicting
	// its replacement.
	sess.close()
	cm.registry.Leave(key, sess)
	cm.deletePresence(key, sess)
	cm.logger.Info().Str("key", string(key)).Msg("Client disconnected.")
}

func (cm *ConnectionManager) setPresence(ctx context.Context, key notify.ConnectionKey) {
	if cm.presence == nil {
		return
	}
	info := notify.ConnectionInfo{
		ServerInstanceID: cm.instanceID,
		ConnectedAt:      time.Now().Unix(),
	}
	if err := cm.presence.Set(ctx, key, info); err != nil {
		cm.logger.Error().Err(err).Str("key", string(key)).Msg("Failed to set fleet presence.")
	}
}

func (cm *ConnectionManager) refreshPresence(key notify.ConnectionKey) {
	if cm.presence == nil {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := cm.presence.Refresh(ctx, key); err != nil {
		cm.logger.Debug().Err(err).Str("key", string(key)).Msg("Failed to refresh fleet presence.")
	}
}

func (cm *ConnectionManager) deletePresence(key notify.ConnectionKey, sess *session) {
	if cm.presence == nil {
		return
	}
	// A superseded session must not wipe the record its replacement just
	// wrote.
	if cm.registry.Exists(key) {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := cm.presence.Delete(ctx, key); err != nil {
		cm.logger.Error().Err(err).Str("key", string(key)).Msg("Failed to delete fleet presence.")
	}
}
