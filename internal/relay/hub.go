package relay

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"vozconnect/internal/signaling"
	"vozconnect/pkg/constants"
	"vozconnect/pkg/logger"
	"vozconnect/pkg/response"
)

// Hub relays signaling messages between the members of a room. The relay is
// content-agnostic: offers, answers, candidates and call-control messages
// pass through unmodified. With a Redis client the hub fans out across
// instances; with a nil client it runs single-instance and delivers locally.
type Hub struct {
	// Registered clients per room
	rooms map[string]map[*Client]bool

	// Cancel functions for room subscriptions
	subscriptionCancels map[string]context.CancelFunc

	redisClient *redis.Client

	mu sync.RWMutex

	register   chan *Client
	unregister chan *Client
	broadcast  chan *signaling.Message

	maxConnections int
	semaphore      chan struct{}

	log *zap.Logger
}

// Client is one WebSocket connection attached to a room.
type Client struct {
	hub    *Hub
	conn   *websocket.Conn
	send   chan []byte
	userID string
	roomID string
	cancel context.CancelFunc
}

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin: func(r *http.Request) bool {
		// Clients are native apps, not browsers; origin checks do not apply.
		return true
	},
}

// NewHub creates a relay hub and starts its dispatch loop. Pass a nil
// redisClient to run without cross-instance fan-out.
func NewHub(redisClient *redis.Client, maxConnections int) *Hub {
	if maxConnections <= 0 {
		maxConnections = constants.DefaultMaxConnections
	}

	h := &Hub{
		rooms:               make(map[string]map[*Client]bool),
		subscriptionCancels: make(map[string]context.CancelFunc),
		redisClient:         redisClient,
		register:            make(chan *Client),
		unregister:          make(chan *Client),
		broadcast:           make(chan *signaling.Message, 256),
		maxConnections:      maxConnections,
		semaphore:           make(chan struct{}, maxConnections),
		log:                 logger.With(zap.String("component", "relay")),
	}

	go h.run()

	return h
}

func roomChannel(roomID string) string {
	return fmt.Sprintf("signal:%s", roomID)
}

// run handles hub registration, unregistration and delivery.
func (h *Hub) run() {
	for {
		select {
		case client := <-h.register:
			h.mu.Lock()
			if h.rooms[client.roomID] == nil {
				h.rooms[client.roomID] = make(map[*Client]bool)

				if h.redisClient != nil {
					ctx, cancel := context.WithCancel(context.Background())
					h.subscriptionCancels[client.roomID] = cancel
					go h.subscribeToRoom(ctx, client.roomID)
				}
			}
			h.rooms[client.roomID][client] = true
			roomSize := len(h.rooms[client.roomID])
			h.mu.Unlock()

			connectionsGauge.Inc()
			roomsGauge.Set(float64(h.roomCount()))
			h.log.Info("client joined room",
				zap.String("room_id", client.roomID),
				zap.String("user_id", client.userID),
				zap.Int("room_size", roomSize))

			// Tell the other members someone joined so a waiting caller
			// can re-send its call-request when the callee arrives late.
			h.dispatch(&signaling.Message{
				Type:   signaling.TypeUserJoined,
				From:   client.userID,
				RoomID: client.roomID,
			})

		case client := <-h.unregister:
			h.mu.Lock()
			if clients, ok := h.rooms[client.roomID]; ok {
				if _, exists := clients[client]; exists {
					delete(clients, client)
					close(client.send)
					client.cancel()

					if len(clients) == 0 {
						if cancel, ok := h.subscriptionCancels[client.roomID]; ok {
							cancel()
							delete(h.subscriptionCancels, client.roomID)
						}
						delete(h.rooms, client.roomID)
					}
				}
			}
			h.mu.Unlock()

			connectionsGauge.Dec()
			roomsGauge.Set(float64(h.roomCount()))
			h.log.Info("client left room",
				zap.String("room_id", client.roomID),
				zap.String("user_id", client.userID))

		case msg := <-h.broadcast:
			h.deliver(msg)
		}
	}
}

// dispatch routes a message toward delivery: through Redis when fan-out is
// enabled (the room subscription loops it back to every instance), directly
// to the local broadcast loop otherwise.
func (h *Hub) dispatch(msg *signaling.Message) {
	messagesCounter.WithLabelValues(string(msg.Type)).Inc()

	if h.redisClient == nil {
		h.broadcast <- msg
		return
	}

	payload, err := json.Marshal(msg)
	if err != nil {
		h.log.Warn("failed to marshal signaling message", zap.Error(err))
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := h.redisClient.Publish(ctx, roomChannel(msg.RoomID), payload).Err(); err != nil {
		h.log.Error("failed to publish signaling message",
			zap.String("room_id", msg.RoomID),
			zap.Error(err))
	}
}

// deliver sends a message to its room: to the single addressee when To is
// set, to every member except the sender otherwise. A client whose send
// buffer is full is dropped; a stalled receiver must not stall the room.
func (h *Hub) deliver(msg *signaling.Message) {
	payload, err := json.Marshal(msg)
	if err != nil {
		h.log.Warn("failed to marshal signaling message", zap.Error(err))
		return
	}

	h.mu.Lock()
	defer h.mu.Unlock()

	clients, ok := h.rooms[msg.RoomID]
	if !ok {
		return
	}

	for client := range clients {
		if msg.To != "" {
			if client.userID != msg.To {
				continue
			}
		} else if client.userID == msg.From {
			continue
		}

		select {
		case client.send <- payload:
		default:
			h.log.Warn("dropping slow client",
				zap.String("room_id", client.roomID),
				zap.String("user_id", client.userID))
			close(client.send)
			client.cancel()
			delete(clients, client)
		}

		if msg.To != "" {
			break
		}
	}
}

// subscribeToRoom mirrors the room's Redis channel into the local broadcast
// loop so messages published by other relay instances reach local clients.
func (h *Hub) subscribeToRoom(ctx context.Context, roomID string) {
	pubsub := h.redisClient.Subscribe(ctx, roomChannel(roomID))
	defer pubsub.Close()

	if _, err := pubsub.Receive(ctx); err != nil {
		h.log.Error("failed to subscribe to room channel",
			zap.String("room_id", roomID),
			zap.Error(err))
		return
	}

	ch := pubsub.Channel()
	for {
		select {
		case <-ctx.Done():
			return
		case redisMsg := <-ch:
			if redisMsg == nil {
				continue
			}
			var msg signaling.Message
			if err := json.Unmarshal([]byte(redisMsg.Payload), &msg); err != nil {
				h.log.Warn("failed to unmarshal relayed message",
					zap.String("room_id", roomID),
					zap.Error(err))
				continue
			}
			h.broadcast <- &msg
		}
	}
}

func (h *Hub) roomCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.rooms)
}

// RoomSize returns the number of clients attached to a room.
func (h *Hub) RoomSize(roomID string) int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.rooms[roomID])
}

// ServeWS upgrades an HTTP request to a relay connection. The client
// identifies itself with userId and roomId query parameters.
func (h *Hub) ServeWS(c *gin.Context) {
	select {
	case h.semaphore <- struct{}{}:
	default:
		rejectedCounter.Inc()
		h.log.Warn("connection rejected: max connections reached",
			zap.Int("max_connections", h.maxConnections))
		response.Error(c, http.StatusServiceUnavailable, "AT_CAPACITY", "Server at capacity, please try again later")
		return
	}
	release := func() { <-h.semaphore }

	userID := c.Query("userId")
	roomID := c.Query("roomId")
	if userID == "" || roomID == "" {
		release()
		response.ValidationError(c, "userId and roomId required")
		return
	}
	if len(roomID) > constants.MaxRoomIDLength {
		release()
		response.ValidationError(c, "roomId too long")
		return
	}

	conn, err := upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		release()
		h.log.Warn("websocket upgrade failed",
			zap.String("room_id", roomID),
			zap.String("user_id", userID),
			zap.Error(err))
		return
	}

	ctx, cancel := context.WithCancel(context.Background())
	client := &Client{
		hub:    h,
		conn:   conn,
		send:   make(chan []byte, constants.ClientSendBuffer),
		userID: userID,
		roomID: roomID,
		cancel: cancel,
	}

	h.register <- client

	go client.writePump(release)
	go client.readPump(ctx)
}

// readPump reads frames from the connection and hands them to the hub.
// Inbound messages are stamped with the sender and room; a client cannot
// spoof another member or inject into a different room.
func (c *Client) readPump(ctx context.Context) {
	defer func() {
		c.hub.unregister <- c
		c.conn.Close()
	}()

	c.conn.SetReadLimit(constants.MaxSignalMessageSize)
	c.conn.SetReadDeadline(time.Now().Add(constants.WebSocketPongTimeout))
	c.conn.SetPongHandler(func(string) error {
		c.conn.SetReadDeadline(time.Now().Add(constants.WebSocketPongTimeout))
		return nil
	})

	for {
		select {
		case <-ctx.Done():
			return
		default:
		}

		_, data, err := c.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				c.hub.log.Debug("connection closed",
					zap.String("room_id", c.roomID),
					zap.String("user_id", c.userID),
					zap.Error(err))
			}
			return
		}

		var msg signaling.Message
		if err := json.Unmarshal(data, &msg); err != nil {
			c.hub.log.Warn("invalid signaling frame",
				zap.String("room_id", c.roomID),
				zap.String("user_id", c.userID),
				zap.Error(err))
			continue
		}
		if msg.Type == "" {
			continue
		}

		msg.From = c.userID
		msg.RoomID = c.roomID

		c.hub.dispatch(&msg)
	}
}

// writePump writes queued frames and keeps the connection alive with pings.
func (c *Client) writePump(release func()) {
	ticker := time.NewTicker(constants.WebSocketPingInterval)
	defer func() {
		ticker.Stop()
		c.conn.Close()
		release()
	}()

	for {
		select {
		case message, ok := <-c.send:
			c.conn.SetWriteDeadline(time.Now().Add(constants.WebSocketWriteTimeout))
			if !ok {
				c.conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			if err := c.conn.WriteMessage(websocket.TextMessage, message); err != nil {
				return
			}

		case <-ticker.C:
			c.conn.SetWriteDeadline(time.Now().Add(constants.WebSocketWriteTimeout))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}
