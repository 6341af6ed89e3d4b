package signaling

import (
	"context"
	"encoding/json"
	"net/url"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"vozconnect/pkg/constants"
	"vozconnect/pkg/errors"
	"vozconnect/pkg/logger"
)

// Status is the transport connection state surfaced to the owner.
// Connection loss is reported, never retried here; the owner decides
// whether to reconnect.
type Status int

const (
	StatusDisconnected Status = iota
	StatusConnected
)

// String returns a readable name for logging
func (s Status) String() string {
	if s == StatusConnected {
		return "connected"
	}
	return "disconnected"
}

// Transport is one persistent duplex connection to the signaling relay,
// scoped to (userId, roomId). It delivers every inbound well-formed message
// to a single registered handler and drops malformed payloads without
// crashing the handler chain.
type Transport struct {
	relayURL string
	log      *zap.Logger

	mu      sync.Mutex
	conn    *websocket.Conn
	userID  string
	roomID  string
	closing bool

	handlerMu sync.RWMutex
	handler   func(*Message)
	statusFn  func(Status)
}

// NewTransport creates a transport that will dial relayURL on Connect.
func NewTransport(relayURL string) *Transport {
	return &Transport{
		relayURL: relayURL,
		log:      logger.With(zap.String("component", "signaling")),
	}
}

// OnMessage registers the single inbound message handler. Must be set
// before Connect; later calls replace the handler.
func (t *Transport) OnMessage(fn func(*Message)) {
	t.handlerMu.Lock()
	t.handler = fn
	t.handlerMu.Unlock()
}

// OnStatus registers the connection status callback.
func (t *Transport) OnStatus(fn func(Status)) {
	t.handlerMu.Lock()
	t.statusFn = fn
	t.handlerMu.Unlock()
}

// Connect opens one connection scoped to (userID, roomID) and returns once
// the transport is ready to send. Connecting while already connected is a
// state conflict; Disconnect first to switch rooms.
func (t *Transport) Connect(ctx context.Context, userID, roomID string) error {
	if userID == "" || roomID == "" {
		return errors.InvalidInputError("userId and roomId are required to connect")
	}

	t.mu.Lock()
	defer t.mu.Unlock()

	if t.conn != nil {
		return errors.StateConflictError("signaling transport already connected")
	}

	u, err := url.Parse(t.relayURL)
	if err != nil {
		return errors.TransportError("invalid relay URL", err)
	}
	q := u.Query()
	q.Set("userId", userID)
	q.Set("roomId", roomID)
	u.RawQuery = q.Encode()

	dialer := websocket.Dialer{
		HandshakeTimeout: constants.WebSocketHandshakeTimeout,
	}
	conn, _, err := dialer.DialContext(ctx, u.String(), nil)
	if err != nil {
		return errors.TransportError("failed to connect to signaling relay", err)
	}

	t.conn = conn
	t.userID = userID
	t.roomID = roomID
	t.closing = false

	t.log.Info("connected to signaling relay",
		zap.String("user_id", userID),
		zap.String("room_id", roomID))

	go t.readLoop(conn)
	return nil
}

// UserID returns the user the transport is connected as, or "".
func (t *Transport) UserID() string {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.userID
}

// RoomID returns the room the transport is currently attached to, or "".
func (t *Transport) RoomID() string {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.conn == nil {
		return ""
	}
	return t.roomID
}

// Send delivers a message to the relay, fire-and-forget: when the transport
// is not open the message is logged and dropped, never surfaced as an error
// to the caller.
func (t *Transport) Send(msg *Message) {
	t.mu.Lock()
	defer t.mu.Unlock()

	if t.conn == nil {
		t.log.Warn("dropping signaling message, transport not open",
			zap.String("type", string(msg.Type)),
			zap.String("room_id", msg.RoomID))
		return
	}

	t.conn.SetWriteDeadline(time.Now().Add(constants.WebSocketWriteTimeout))
	if err := t.conn.WriteJSON(msg); err != nil {
		t.log.Warn("failed to write signaling message",
			zap.String("type", string(msg.Type)),
			zap.Error(err))
	}
}

// Disconnect closes the connection. Idempotent.
func (t *Transport) Disconnect() {
	t.mu.Lock()
	conn := t.conn
	t.conn = nil
	t.closing = true
	t.mu.Unlock()

	if conn == nil {
		return
	}

	conn.WriteControl(websocket.CloseMessage,
		websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
		time.Now().Add(time.Second))
	conn.Close()
	t.log.Info("disconnected from signaling relay")
}

// readLoop reads inbound messages until the connection drops. It runs once
// per connection; a deliberate Disconnect does not surface a status change.
func (t *Transport) readLoop(conn *websocket.Conn) {
	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			t.mu.Lock()
			deliberate := t.closing || t.conn != conn
			if t.conn == conn {
				t.conn = nil
			}
			t.mu.Unlock()

			if !deliberate {
				t.log.Warn("signaling connection lost", zap.Error(err))
				t.notifyStatus(StatusDisconnected)
			}
			return
		}

		var msg Message
		if err := json.Unmarshal(data, &msg); err != nil {
			t.log.Warn("dropping malformed signaling message", zap.Error(err))
			continue
		}
		if msg.Type == "" {
			t.log.Warn("dropping signaling message without type")
			continue
		}

		t.handlerMu.RLock()
		handler := t.handler
		t.handlerMu.RUnlock()
		if handler != nil {
			handler(&msg)
		}
	}
}

func (t *Transport) notifyStatus(s Status) {
	t.handlerMu.RLock()
	fn := t.statusFn
	t.handlerMu.RUnlock()
	if fn != nil {
		fn(s)
	}
}
