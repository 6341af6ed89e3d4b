package signaling

import (
	"encoding/json"
	"testing"

	"github.com/pion/webrtc/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"vozconnect/internal/domain"
	"vozconnect/pkg/errors"
)

func TestNewCallRequest(t *testing.T) {
	offer := &webrtc.SessionDescription{
		Type: webrtc.SDPTypeOffer,
		SDP:  "v=0\r\n",
	}

	msg := NewCallRequest("alice", "bob", "room-1", domain.CallTypeVideo, offer)

	assert.Equal(t, TypeCallRequest, msg.Type)
	assert.Equal(t, "alice", msg.From)
	assert.Equal(t, "bob", msg.To)
	assert.Equal(t, "room-1", msg.RoomID)
	assert.Equal(t, domain.CallTypeVideo, msg.CallType)

	decoded, err := msg.SessionDescription()
	require.NoError(t, err)
	assert.Equal(t, webrtc.SDPTypeOffer, decoded.Type)
	assert.Equal(t, "v=0\r\n", decoded.SDP)
}

func TestMessageWireFormat(t *testing.T) {
	msg := NewCallRejected("bob", "alice", "room-1")

	data, err := json.Marshal(msg)
	require.NoError(t, err)

	// Field names are part of the protocol; clients on other platforms
	// depend on them.
	assert.Contains(t, string(data), `"type":"call-rejected"`)
	assert.Contains(t, string(data), `"roomId":"room-1"`)
	assert.NotContains(t, string(data), "payload")
}

func TestCandidateRoundTrip(t *testing.T) {
	sdpMid := "0"
	candidate := &webrtc.ICECandidateInit{
		Candidate: "candidate:1 1 UDP 2122252543 192.0.2.1 49203 typ host",
		SDPMid:    &sdpMid,
	}

	msg := NewCandidate("alice", "bob", "room-1", candidate)

	decoded, err := msg.Candidate()
	require.NoError(t, err)
	assert.Equal(t, candidate.Candidate, decoded.Candidate)
	require.NotNil(t, decoded.SDPMid)
	assert.Equal(t, "0", *decoded.SDPMid)
}

func TestSessionDescription_EmptyPayload(t *testing.T) {
	msg := &Message{Type: TypeCallRequest}

	_, err := msg.SessionDescription()

	require.Error(t, err)
	assert.True(t, errors.IsCode(err, errors.ErrCodeProtocol))
}

func TestSessionDescription_MalformedPayload(t *testing.T) {
	msg := &Message{
		Type:    TypeCallAccepted,
		Payload: json.RawMessage(`{"type":`),
	}

	_, err := msg.SessionDescription()

	require.Error(t, err)
	assert.True(t, errors.IsCode(err, errors.ErrCodeProtocol))
}

func TestCandidate_MalformedPayload(t *testing.T) {
	msg := &Message{
		Type:    TypeCandidate,
		Payload: json.RawMessage(`"not-an-object`),
	}

	_, err := msg.Candidate()

	require.Error(t, err)
	assert.True(t, errors.IsCode(err, errors.ErrCodeProtocol))
}

func TestEndCallHasNoPayload(t *testing.T) {
	msg := NewEndCall("alice", "bob", "room-1")

	assert.Equal(t, TypeEndCall, msg.Type)
	assert.Empty(t, msg.Payload)
}
