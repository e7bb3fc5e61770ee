package realtime

import (
	"encoding/json"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"

	"github.com/sanushilshad/vitis-sub000/pkg/notify"
)

// SessionConfig carries the heartbeat and buffering parameters for one
// session endpoint.
type SessionConfig struct {
	// PingInterval is how often the server pings the client.
	PingInterval time.Duration
	// PongTimeout bounds how long a session may stay silent before it is
	// unilaterally torn down. Must be greater than PingInterval.
	PongTimeout time.Duration
	// WriteTimeout applies to every outbound frame.
	WriteTimeout time.Duration
	// SendBuffer is the capacity of the outbound envelope buffer. A full
	// buffer drops pushes rather than blocking the registry.
	SendBuffer int
}

// pushFrame is the server-to-client wire representation of an envelope.
type pushFrame struct {
	ID     string            `json:"id"`
	Action notify.ActionType `json:"actionType"`
	Data   json.RawMessage   `json:"data,omitempty"`
}

// session owns one physical WebSocket connection. The read pump observes
// inbound frames and drives the heartbeat deadline; the write pump is the
// single writer on the connection, multiplexing pushes, echoes, and pings.
type session struct {
	key    notify.ConnectionKey
	conn   *websocket.Conn
	cfg    SessionConfig
	logger zerolog.Logger

	send chan *notify.Envelope
	echo chan []byte
	done chan struct{}

	// onActivity fires on every pong or data frame; used to refresh the
	// fleet presence record.
	onActivity func()
}

func newSession(key notify.ConnectionKey, conn *websocket.Conn, cfg SessionConfig, onActivity func(), logger zerolog.Logger) *session {
	return &session{
		key:        key,
		conn:       conn,
		cfg:        cfg,
		logger:     logger.With().Str("key", string(key)).Logger(),
		send:       make(chan *notify.Envelope, cfg.SendBuffer),
		echo:       make(chan []byte, 8),
		done:       make(chan struct{}),
		onActivity: onActivity,
	}
}

// Push implements Handle. It never blocks: a closed session or a full buffer
// rejects the envelope.
func (s *session) Push(env *notify.Envelope) error {
	select {
	case <-s.done:
		return ErrHandleClosed
	default:
	}
	select {
	case s.send <- env:
		return nil
	case <-s.done:
		return ErrHandleClosed
	default:
		return ErrBufferFull
	}
}

// Supersede implements Handle.
func (s *session) Supersede() {
	s.close()
}

func (s *session) close() {
	select {
	case <-s.done:
	default:
		close(s.done)
	}
}

// readPump consumes inbound frames until the connection errors or the
// heartbeat deadline expires. Data frames are echoed back; they carry no
// business meaning. It runs on the connect handler's goroutine, so its
// return is what triggers session teardown.
func (s *session) readPump() {
	defer s.close()

	_ = s.conn.SetReadDeadline(time.Now().Add(s.cfg.PongTimeout))
	s.conn.SetPongHandler(func(string) error {
		if s.onActivity != nil {
			s.onActivity()
		}
		return s.conn.SetReadDeadline(time.Now().Add(s.cfg.PongTimeout))
	})

	for {
		msgType, data, err := s.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				s.logger.Debug().Err(err).Msg("Session read loop ended.")
			}
			return
		}

		_ = s.conn.SetReadDeadline(time.Now().Add(s.cfg.PongTimeout))
		if s.onActivity != nil {
			s.onActivity()
		}

		if msgType != websocket.TextMessage && msgType != websocket.BinaryMessage {
			continue
		}
		select {
		case s.echo <- data:
		default:
			// Echo is a courtesy, not a contract.
		}
	}
}

// writePump is the sole writer on the connection. It pushes envelopes as
// {id, actionType, data} frames, echoes client frames, and pings on the
// heartbeat interval. Exits when the session is closed.
func (s *session) writePump() {
	ticker := time.NewTicker(s.cfg.PingInterval)
	defer func() {
		ticker.Stop()
		_ = s.conn.Close()
	}()

	for {
		select {
		case env := <-s.send:
			frame := pushFrame{ID: env.ID, Action: env.Action, Data: env.Payload}
			_ = s.conn.SetWriteDeadline(time.Now().Add(s.cfg.WriteTimeout))
			if err := s.conn.WriteJSON(frame); err != nil {
				s.logger.Warn().Err(err).Str("notification_id", env.ID).Msg("Failed to write push frame.")
				return
			}

		case data := <-s.echo:
			_ = s.conn.SetWriteDeadline(time.Now().Add(s.cfg.WriteTimeout))
			if err := s.conn.WriteMessage(websocket.TextMessage, data); err != nil {
				return
			}

		case <-ticker.C:
			if err := s.conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(s.cfg.WriteTimeout)); err != nil {
				s.logger.Debug().Err(err).Msg("Heartbeat ping failed.")
				return
			}

		case <-s.done:
			msg := websocket.FormatCloseMessage(websocket.CloseGoingAway, "session closed")
			_ = s.conn.WriteControl(websocket.CloseMessage, msg, time.Now().Add(s.cfg.WriteTimeout))
			return
		}
	}
}
