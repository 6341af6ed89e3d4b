// Package signaling defines the call signaling wire protocol and the
// WebSocket transport the call engine exchanges it over. The relay server
// routes these messages by roomId/to without interpreting them.
package signaling

import (
	"encoding/json"

	"github.com/pion/webrtc/v4"

	"vozconnect/internal/domain"
	"vozconnect/pkg/errors"
)

// MessageType identifies a signaling message variant
type MessageType string

const (
	TypeOffer        MessageType = "offer"
	TypeAnswer       MessageType = "answer"
	TypeCandidate    MessageType = "candidate"
	TypeCallRequest  MessageType = "call-request"
	TypeCallAccepted MessageType = "call-accepted"
	TypeCallRejected MessageType = "call-rejected"
	TypeEndCall      MessageType = "end-call"
	TypeUserJoined   MessageType = "user-joined"
)

// Message is one signaling message on the wire. Payload carries the SDP
// description or ICE candidate depending on Type.
type Message struct {
	Type     MessageType     `json:"type"`
	From     string          `json:"from,omitempty"`
	To       string          `json:"to,omitempty"`
	RoomID   string          `json:"roomId,omitempty"`
	CallType domain.CallType `json:"callType,omitempty"`
	Payload  json.RawMessage `json:"payload,omitempty"`
}

// NewCallRequest builds the message a caller sends to propose a call.
// The SDP offer rides in the payload.
func NewCallRequest(from, to, roomID string, callType domain.CallType, offer *webrtc.SessionDescription) *Message {
	return &Message{
		Type:     TypeCallRequest,
		From:     from,
		To:       to,
		RoomID:   roomID,
		CallType: callType,
		Payload:  marshalPayload(offer),
	}
}

// NewCallAccepted builds the callee's acceptance, carrying the SDP answer.
func NewCallAccepted(from, to, roomID string, answer *webrtc.SessionDescription) *Message {
	return &Message{
		Type:    TypeCallAccepted,
		From:    from,
		To:      to,
		RoomID:  roomID,
		Payload: marshalPayload(answer),
	}
}

// NewCallRejected builds the callee's decline.
func NewCallRejected(from, to, roomID string) *Message {
	return &Message{
		Type:   TypeCallRejected,
		From:   from,
		To:     to,
		RoomID: roomID,
	}
}

// NewCandidate builds an ICE candidate relay message, sent in either direction.
func NewCandidate(from, to, roomID string, candidate *webrtc.ICECandidateInit) *Message {
	return &Message{
		Type:    TypeCandidate,
		From:    from,
		To:      to,
		RoomID:  roomID,
		Payload: marshalPayload(candidate),
	}
}

// NewEndCall builds a hangup/cancel, valid from either party.
func NewEndCall(from, to, roomID string) *Message {
	return &Message{
		Type:   TypeEndCall,
		From:   from,
		To:     to,
		RoomID: roomID,
	}
}

// SessionDescription decodes the payload as an SDP description.
func (m *Message) SessionDescription() (*webrtc.SessionDescription, error) {
	if len(m.Payload) == 0 {
		return nil, errors.ProtocolError("message carries no SDP payload")
	}
	var desc webrtc.SessionDescription
	if err := json.Unmarshal(m.Payload, &desc); err != nil {
		return nil, errors.Wrap(errors.ErrCodeProtocol, "malformed SDP payload", err)
	}
	return &desc, nil
}

// Candidate decodes the payload as an ICE candidate.
func (m *Message) Candidate() (*webrtc.ICECandidateInit, error) {
	if len(m.Payload) == 0 {
		return nil, errors.ProtocolError("message carries no candidate payload")
	}
	var candidate webrtc.ICECandidateInit
	if err := json.Unmarshal(m.Payload, &candidate); err != nil {
		return nil, errors.Wrap(errors.ErrCodeProtocol, "malformed candidate payload", err)
	}
	return &candidate, nil
}

func marshalPayload(v any) json.RawMessage {
	data, err := json.Marshal(v)
	if err != nil {
		// SDP descriptions and candidates are plain structs; this cannot fail
		// for the types the constructors accept.
		return nil
	}
	return data
}
