// Package constants defines application-wide constants for timeouts, limits, and durations.
package constants

import "time"

// Time-related constants
const (
	// WebSocketWriteTimeout is the deadline for a single WebSocket write
	WebSocketWriteTimeout = 10 * time.Second

	// WebSocketPongTimeout is how long a connection may go without a pong
	WebSocketPongTimeout = 60 * time.Second

	// WebSocketPingInterval is the interval for WebSocket ping/pong;
	// must be shorter than WebSocketPongTimeout
	WebSocketPingInterval = 54 * time.Second

	// WebSocketHandshakeTimeout bounds the client-side dial handshake
	WebSocketHandshakeTimeout = 10 * time.Second

	// GracefulShutdownTimeout is the timeout for graceful server shutdown
	GracefulShutdownTimeout = 30 * time.Second
)

// Signaling constants
const (
	// MaxSignalMessageSize caps an inbound signaling frame; SDP offers
	// with many media sections stay well under this
	MaxSignalMessageSize = 64 * 1024

	// ClientSendBuffer is the per-client outbound queue; a client that
	// falls this far behind is disconnected
	ClientSendBuffer = 256

	// DefaultMaxConnections limits concurrent relay connections
	DefaultMaxConnections = 1000
)

// JWT-related constants
const (
	// AccessTokenExpiry is the default access token lifetime
	AccessTokenExpiry = 15 * time.Minute
)

// Validation constants
const (
	// MaxDisplayNameLength is the maximum allowed display name length
	MaxDisplayNameLength = 100

	// MaxRoomIDLength is the maximum allowed room identifier length
	MaxRoomIDLength = 128
)
