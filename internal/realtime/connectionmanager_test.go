package realtime

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/sanushilshad/vitis-sub000/pkg/notify"
)

// --- Mocks ---

type mockMarkerPublisher struct {
	mock.Mock
}

func (m *mockMarkerPublisher) PublishMarker(ctx context.Context, key notify.ConnectionKey) error {
	args := m.Called(ctx, key)
	return args.Error(0)
}

type mockPresenceCache struct {
	mock.Mock
}

func (m *mockPresenceCache) Set(ctx context.Context, key notify.ConnectionKey, info notify.ConnectionInfo) error {
	args := m.Called(ctx, key, info)
	return args.Error(0)
}
func (m *mockPresenceCache) Refresh(ctx context.Context, key notify.ConnectionKey) error {
	args := m.Called(ctx, key)
	return args.Error(0)
}
func (m *mockPresenceCache) Fetch(ctx context.Context, key notify.ConnectionKey) (notify.ConnectionInfo, error) {
	args := m.Called(ctx, key)
	return args.Get(0).(notify.ConnectionInfo), args.Error(1)
}
func (m *mockPresenceCache) Delete(ctx context.Context, key notify.ConnectionKey) error {
	args := m.Called(ctx, key)
	return args.Error(0)
}
func (m *mockPresenceCache) Close() error {
	args := m.Called()
	return args.Error(0)
}

// testFixture holds all the components for a connection manager test.
type testFixture struct {
	cm       *ConnectionManager
	registry *Registry
	markers  *mockMarkerPublisher
	presence *mockPresenceCache
	wsServer *httptest.Server
	key      notify.ConnectionKey
}

func setup(t *testing.T, cfg SessionConfig) *testFixture {
	t.Helper()
	logger := zerolog.Nop()

	registry := NewRegistry(logger)
	markers := new(mockMarkerPublisher)
	presence := new(mockPresenceCache)

	markers.On("PublishMarker", mock.Anything, mock.Anything).Return(nil)
	presence.On("Set", mock.Anything, mock.Anything, mock.AnythingOfType("notify.ConnectionInfo")).Return(nil)
	presence.On("Refresh", mock.Anything, mock.Anything).Return(nil)
	presence.On("Delete", mock.Anything, mock.Anything).Return(nil)

	cm, err := NewConnectionManager(":0", registry, markers, presence, nil, cfg, logger)
	require.NoError(t, err, "NewConnectionManager failed")

	wsServer := httptest.NewServer(cm.server.Handler)
	t.Cleanup(wsServer.Close)

	return &testFixture{
		cm:       cm,
		registry: registry,
		markers:  markers,
		presence: presence,
		wsServer: wsServer,
		key:      notify.ConnectionKey("u1#t1#d1"),
	}
}

func defaultSessionConfig() SessionConfig {
	return SessionConfig{
		PingInterval: 50 * time.Millisecond,
		PongTimeout:  200 * time.Millisecond,
		WriteTimeout: time.Second,
		SendBuffer:   8,
	}
}

// connectClient dials the test server with identity headers and waits for
// the session to be registered.
func (fx *testFixture) connectClient(t *testing.T) *websocket.Conn {
	t.Helper()
	wsURL := "ws" + strings.TrimPrefix(fx.wsServer.URL, "http") + "/connect"

	header := http.Header{}
	header.Set(notify.HeaderUserID, "u1")
	header.Set(notify.HeaderTenantID, "t1")
	header.Set(notify.HeaderDeviceID, "d1")

	conn, _, err := websocket.DefaultDialer.Dial(wsURL, header)
	require.NoError(t, err, "Failed to dial test WebSocket server")
	t.Cleanup(func() { _ = conn.Close() })

	require.Eventually(t, func() bool {
		return fx.registry.Exists(fx.key)
	}, 2*time.Second, 10*time.Millisecond, "session was not registered")

	return conn
}

func TestConnectionManager_ConnectAndDisconnect(t *testing.T) {
	fx := setup(t, defaultSessionConfig())

	conn := fx.connectClient(t)

	fx.markers.AssertCalled(t, "PublishMarker", mock.Anything, fx.key)
	fx.presence.AssertCalled(t, "Set", mock.Anything, fx.key, mock.AnythingOfType("notify.ConnectionInfo"))

	require.NoError(t, conn.Close())

	require.Eventually(t, func() bool {
		return !fx.registry.Exists(fx.key)
	}, 2*time.Second, 10*time.Millisecond, "session was not removed after disconnect")
	fx.presence.AssertCalled(t, "Delete", mock.Anything, fx.key)
}

func TestConnectionManager_RejectsMissingIdentity(t *testing.T) {
	fx := setup(t, defaultSessionConfig())
	wsURL := "ws" + strings.TrimPrefix(fx.wsServer.URL, "http") + "/connect"

	_, resp, err := websocket.DefaultDialer.Dial(wsURL, nil)
	require.Error(t, err)
	require.NotNil(t, resp)
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)
}

func TestConnectionManager_DeliversPushFrame(t *testing.T) {
	fx := setup(t, defaultSessionConfig())
	conn := fx.connectClient(t)

	env := notify.NewEnvelope(fx.key, notify.ActionLeaveApproved, json.RawMessage(`{"leaveId":"lv-7"}`))
	fx.registry.Deliver(fx.key, env)

	require.NoError(t, conn.SetReadDeadline(time.Now().Add(2*time.Second)))
	var frame struct {
		ID     string          `json:"id"`
		Action string          `json:"actionType"`
		Data   json.RawMessage `json:"data"`
	}
	require.NoError(t, conn.ReadJSON(&frame))

	assert.Equal(t, env.ID, frame.ID)
	assert.Equal(t, "leave.approved", frame.Action)
	assert.JSONEq(t, `{"leaveId":"lv-7"}`, string(frame.Data))
}

func TestConnectionManager_EchoesClientFrames(t *testing.T) {
	fx := setup(t, defaultSessionConfig())
	conn := fx.connectClient(t)

	require.NoError(t, conn.WriteMessage(websocket.TextMessage, []byte("ping-me-back")))

	require.NoError(t, conn.SetReadDeadline(time.Now().Add(2*time.Second)))
	_, data, err := conn.ReadMessage()
	require.NoError(t, err)
	assert.Equal(t, "ping-me-back", string(data))
}

// A client that never answers pings must be evicted once the heartbeat
// deadline passes, with no client-initiated close.
func TestConnectionManager_HeartbeatTimeoutEvictsSession(t *testing.T) {
	cfg := SessionConfig{
		PingInterval: 30 * time.Millisecond,
		PongTimeout:  120 * time.Millisecond,
		WriteTimeout: time.Second,
		SendBuffer:   8,
	}
	fx := setup(t, cfg)
	conn := fx.connectClient(t)

	// Swallow pings instead of answering them, but keep reading so control
	// frames are still processed.
	conn.SetPingHandler(func(string) error { return nil })
	go func() {
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}()

	require.Eventually(t, func() bool {
		return !fx.registry.Exists(fx.key)
	}, 2*time.Second, 20*time.Millisecond, "silent session was not evicted by heartbeat timeout")
}

func TestConnectionManager_SecondJoinSupersedesFirst(t *testing.T) {
	fx := setup(t, defaultSessionConfig())

	first := fx.connectClient(t)
	second := fx.connectClient(t)

	// The first connection is closed by the server with a going-away frame.
	require.NoError(t, first.SetReadDeadline(time.Now().Add(2*time.Second)))
	for {
		if _, _, err := first.ReadMessage(); err != nil {
			break
		}
	}

	// The key stays live throughout and delivery reaches the new session.
	require.True(t, fx.registry.Exists(fx.key))

	env := notify.NewEnvelope(fx.key, notify.ActionSystem, json.RawMessage(`{"n":1}`))
	fx.registry.Deliver(fx.key, env)

	require.NoError(t, second.SetReadDeadline(time.Now().Add(2*time.Second)))
	var frame struct {
		ID string `json:"id"`
	}
	require.NoError(t, second.ReadJSON(&frame))
	assert.Equal(t, env.ID, frame.ID)
}

func TestNewConnectionManager_ValidatesHeartbeat(t *testing.T) {
	registry := NewRegistry(zerolog.Nop())
	markers := new(mockMarkerPublisher)

	_, err := NewConnectionManager(":0", registry, markers, nil, nil, SessionConfig{
		PingInterval: time.Second,
		PongTimeout:  time.Second,
	}, zerolog.Nop())
	require.Error(t, err)
}
