package call

import (
	"context"
	"testing"

	"github.com/pion/webrtc/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"vozconnect/internal/media"
	"vozconnect/pkg/errors"
)

func acquireStream(t *testing.T, c media.Constraints) media.Stream {
	t.Helper()
	stream, err := media.NewStaticSource().GetUserMedia(context.Background(), c)
	require.NoError(t, err)
	return stream
}

func newTestLink(t *testing.T, role Role, c media.Constraints, cb PeerLinkCallbacks) *PeerLink {
	t.Helper()
	link, err := NewPeerLink(webrtc.Configuration{}, role, acquireStream(t, c), cb)
	require.NoError(t, err)
	t.Cleanup(link.Close)
	return link
}

func TestPeerLinkOfferAnswerNegotiation(t *testing.T) {
	offerer := newTestLink(t, RoleOfferer, media.Constraints{Audio: true}, PeerLinkCallbacks{})
	answerer := newTestLink(t, RoleAnswerer, media.Constraints{Audio: true}, PeerLinkCallbacks{})

	offer, err := offerer.CreateOffer()
	require.NoError(t, err)
	require.Equal(t, webrtc.SDPTypeOffer, offer.Type)

	answer, err := answerer.CreateAnswer(offer)
	require.NoError(t, err)
	require.Equal(t, webrtc.SDPTypeAnswer, answer.Type)

	require.NoError(t, offerer.SetRemoteDescription(answer))
}

func TestPeerLinkRoleIsEnforced(t *testing.T) {
	offerer := newTestLink(t, RoleOfferer, media.Constraints{Audio: true}, PeerLinkCallbacks{})
	answerer := newTestLink(t, RoleAnswerer, media.Constraints{Audio: true}, PeerLinkCallbacks{})

	offer, err := offerer.CreateOffer()
	require.NoError(t, err)

	_, err = answerer.CreateOffer()
	require.Error(t, err)
	assert.True(t, errors.IsStateConflict(err))

	_, err = offerer.CreateAnswer(offer)
	require.Error(t, err)
	assert.True(t, errors.IsStateConflict(err))
}

func TestPeerLinkBuffersEarlyCandidates(t *testing.T) {
	offerer := newTestLink(t, RoleOfferer, media.Constraints{Audio: true}, PeerLinkCallbacks{})
	answerer := newTestLink(t, RoleAnswerer, media.Constraints{Audio: true}, PeerLinkCallbacks{})

	early := webrtc.ICECandidateInit{
		Candidate: "candidate:1 1 udp 2130706431 192.0.2.10 54321 typ host",
	}
	require.NoError(t, answerer.AddICECandidate(early))
	require.NoError(t, answerer.AddICECandidate(early))
	assert.Equal(t, 2, answerer.PendingCandidates())

	offer, err := offerer.CreateOffer()
	require.NoError(t, err)
	_, err = answerer.CreateAnswer(offer)
	require.NoError(t, err)

	// Applying the remote description drains the buffer.
	assert.Equal(t, 0, answerer.PendingCandidates())

	// Later candidates are applied directly, never buffered.
	require.NoError(t, answerer.AddICECandidate(early))
	assert.Equal(t, 0, answerer.PendingCandidates())
}

func TestPeerLinkToggleMute(t *testing.T) {
	link := newTestLink(t, RoleOfferer, media.Constraints{Audio: true}, PeerLinkCallbacks{})

	muted, err := link.ToggleMute()
	require.NoError(t, err)
	assert.True(t, muted)

	muted, err = link.ToggleMute()
	require.NoError(t, err)
	assert.False(t, muted)
}

func TestPeerLinkToggleVideo(t *testing.T) {
	link := newTestLink(t, RoleOfferer, media.Constraints{Audio: true, Video: true}, PeerLinkCallbacks{})

	enabled, err := link.ToggleVideo()
	require.NoError(t, err)
	assert.False(t, enabled)

	enabled, err = link.ToggleVideo()
	require.NoError(t, err)
	assert.True(t, enabled)
}

func TestPeerLinkToggleWithoutTrack(t *testing.T) {
	link := newTestLink(t, RoleOfferer, media.Constraints{Audio: true}, PeerLinkCallbacks{})

	_, err := link.ToggleVideo()
	require.Error(t, err)
	assert.True(t, errors.IsCode(err, errors.ErrCodeNoDevice))
}

func TestPeerLinkCloseReleasesStream(t *testing.T) {
	stream := acquireStream(t, media.Constraints{Audio: true})
	link, err := NewPeerLink(webrtc.Configuration{}, RoleOfferer, stream, PeerLinkCallbacks{})
	require.NoError(t, err)

	link.Close()
	link.Close()

	err = link.AddICECandidate(webrtc.ICECandidateInit{Candidate: "candidate:1 1 udp 1 192.0.2.1 1 typ host"})
	require.Error(t, err)
	assert.True(t, errors.IsStateConflict(err))
	assert.Equal(t, webrtc.PeerConnectionStateClosed, link.ConnectionState())
}
