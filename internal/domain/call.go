package domain

import (
	"time"
)

// CallType distinguishes audio-only calls from video calls
type CallType string

const (
	CallTypeAudio CallType = "audio"
	CallTypeVideo CallType = "video"
)

// Valid reports whether t is a known call type
func (t CallType) Valid() bool {
	return t == CallTypeAudio || t == CallTypeVideo
}

// CallStatus is the lifecycle state of a call session
type CallStatus string

const (
	StatusIdle      CallStatus = "idle"
	StatusCalling   CallStatus = "calling"
	StatusRinging   CallStatus = "ringing"
	StatusConnected CallStatus = "connected"
	StatusEnded     CallStatus = "ended"
)

// Live reports whether the status belongs to an in-progress call
func (s CallStatus) Live() bool {
	return s == StatusCalling || s == StatusRinging || s == StatusConnected
}

// Call represents one audio/video call between two users
type Call struct {
	RoomID    string     `json:"room_id"`
	CallerID  string     `json:"caller_id"`
	CalleeID  string     `json:"callee_id"`
	CallType  CallType   `json:"call_type"`
	Status    CallStatus `json:"status"`
	StartedAt time.Time  `json:"started_at,omitempty"`
	EndedAt   *time.Time `json:"ended_at,omitempty"`
	Duration  int        `json:"duration,omitempty"` // in seconds
}
