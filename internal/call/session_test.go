package call

import (
	"context"
	stderrors "errors"
	"sync"
	"testing"
	"time"

	"github.com/pion/webrtc/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"vozconnect/internal/domain"
	"vozconnect/internal/media"
	"vozconnect/internal/signaling"
	"vozconnect/pkg/errors"
)

// fakeSignaler records every message a session hands to the transport.
type fakeSignaler struct {
	mu   sync.Mutex
	sent []*signaling.Message
}

func (f *fakeSignaler) Send(msg *signaling.Message) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.sent = append(f.sent, msg)
}

func (f *fakeSignaler) byType(t signaling.MessageType) []*signaling.Message {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []*signaling.Message
	for _, msg := range f.sent {
		if msg.Type == t {
			out = append(out, msg)
		}
	}
	return out
}

// failingDevices always refuses media acquisition.
type failingDevices struct{}

func (failingDevices) GetUserMedia(context.Context, media.Constraints) (media.Stream, error) {
	return nil, stderrors.New("no capture device")
}

// gatedDevices parks acquisition until the gate opens, simulating a slow
// camera or permission prompt.
type gatedDevices struct {
	gate  chan struct{}
	inner media.DeviceAccess
}

func (g *gatedDevices) GetUserMedia(ctx context.Context, c media.Constraints) (media.Stream, error) {
	<-g.gate
	return g.inner.GetUserMedia(ctx, c)
}

type statusRecorder struct {
	mu       sync.Mutex
	statuses []domain.CallStatus
}

func (r *statusRecorder) record(s domain.CallStatus) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.statuses = append(r.statuses, s)
}

func (r *statusRecorder) all() []domain.CallStatus {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]domain.CallStatus, len(r.statuses))
	copy(out, r.statuses)
	return out
}

func newTestSession(t *testing.T, userID string, devices media.DeviceAccess) (*Session, *fakeSignaler, *statusRecorder) {
	t.Helper()
	sig := &fakeSignaler{}
	rec := &statusRecorder{}
	sess := NewSession(sig, SessionConfig{
		LocalUserID: userID,
		Devices:     devices,
		OnStatus:    rec.record,
	})
	t.Cleanup(sess.HandleRemoteClose)
	return sess, sig, rec
}

// makeOffer produces a real SDP offer to ride in test call-requests.
func makeOffer(t *testing.T) *webrtc.SessionDescription {
	t.Helper()
	link := newTestLink(t, RoleOfferer, media.Constraints{Audio: true}, PeerLinkCallbacks{})
	offer, err := link.CreateOffer()
	require.NoError(t, err)
	return offer
}

func TestSessionStartSendsOneCallRequest(t *testing.T) {
	sess, sig, rec := newTestSession(t, "alice", media.NewStaticSource())

	err := sess.Start(context.Background(), "room-1", "bob", domain.CallTypeAudio)
	require.NoError(t, err)

	assert.Equal(t, domain.StatusCalling, sess.Status())
	assert.Equal(t, "room-1", sess.RoomID())
	assert.Equal(t, "bob", sess.RemoteUserID())

	requests := sig.byType(signaling.TypeCallRequest)
	require.Len(t, requests, 1)
	assert.Equal(t, "alice", requests[0].From)
	assert.Equal(t, "bob", requests[0].To)
	assert.Equal(t, domain.CallTypeAudio, requests[0].CallType)
	offer, err := requests[0].SessionDescription()
	require.NoError(t, err)
	assert.Equal(t, webrtc.SDPTypeOffer, offer.Type)

	assert.Contains(t, rec.all(), domain.StatusCalling)

	snap := sess.Snapshot()
	assert.Equal(t, "alice", snap.CallerID)
	assert.Equal(t, "bob", snap.CalleeID)
}

func TestSessionStartValidatesInput(t *testing.T) {
	sess, sig, _ := newTestSession(t, "alice", media.NewStaticSource())

	err := sess.Start(context.Background(), "", "bob", domain.CallTypeAudio)
	assert.True(t, errors.IsCode(err, errors.ErrCodeInvalidInput))

	err = sess.Start(context.Background(), "room-1", "bob", domain.CallType("screen"))
	assert.True(t, errors.IsCode(err, errors.ErrCodeInvalidInput))

	assert.Empty(t, sig.byType(signaling.TypeCallRequest))
}

func TestSessionStartWhileBusyIsConflict(t *testing.T) {
	sess, sig, _ := newTestSession(t, "alice", media.NewStaticSource())

	require.NoError(t, sess.Start(context.Background(), "room-1", "bob", domain.CallTypeAudio))

	err := sess.Start(context.Background(), "room-2", "carol", domain.CallTypeAudio)
	require.Error(t, err)
	assert.True(t, errors.IsStateConflict(err))
	assert.Equal(t, "room-1", sess.RoomID())
	assert.Len(t, sig.byType(signaling.TypeCallRequest), 1)
}

func TestSessionStartMediaFailureReturnsToIdle(t *testing.T) {
	sess, sig, rec := newTestSession(t, "alice", failingDevices{})

	err := sess.Start(context.Background(), "room-1", "bob", domain.CallTypeAudio)
	require.Error(t, err)
	assert.True(t, errors.IsCode(err, errors.ErrCodeMedia))

	assert.Equal(t, domain.StatusIdle, sess.Status())
	assert.Empty(t, sig.sent)
	assert.Equal(t, []domain.CallStatus{domain.StatusCalling, domain.StatusIdle}, rec.all())
}

func TestSessionCallAcceptedDuringMediaAcquisition(t *testing.T) {
	devices := &gatedDevices{gate: make(chan struct{}), inner: media.NewStaticSource()}
	sess, sig, _ := newTestSession(t, "alice", devices)

	started := make(chan error, 1)
	go func() {
		started <- sess.Start(context.Background(), "room-1", "bob", domain.CallTypeAudio)
	}()

	require.Eventually(t, func() bool {
		return sess.Status() == domain.StatusCalling
	}, 2*time.Second, 5*time.Millisecond)

	// The call-request has not been sent yet, so this answer is
	// out of sequence; it must be dropped without touching state.
	offer := makeOffer(t)
	sess.HandleMessage(signaling.NewCallAccepted("bob", "alice", "room-1", makeAnswer(t, offer)))
	assert.Equal(t, domain.StatusCalling, sess.Status())
	assert.True(t, sess.StartedAt().IsZero())

	close(devices.gate)
	require.NoError(t, <-started)
	assert.Len(t, sig.byType(signaling.TypeCallRequest), 1)
}

func TestSessionIncomingCallRings(t *testing.T) {
	sess, _, rec := newTestSession(t, "alice", media.NewStaticSource())

	sess.HandleMessage(signaling.NewCallRequest("bob", "alice", "room-1", domain.CallTypeAudio, makeOffer(t)))

	assert.Equal(t, domain.StatusRinging, sess.Status())
	assert.Equal(t, "bob", sess.RemoteUserID())
	assert.Contains(t, rec.all(), domain.StatusRinging)

	snap := sess.Snapshot()
	assert.Equal(t, "bob", snap.CallerID)
	assert.Equal(t, "alice", snap.CalleeID)
}

func TestSessionCallRequestNeverRegressesActiveCall(t *testing.T) {
	sess, sig, _ := newTestSession(t, "alice", media.NewStaticSource())

	require.NoError(t, sess.Start(context.Background(), "room-1", "bob", domain.CallTypeAudio))

	sess.HandleMessage(signaling.NewCallRequest("carol", "alice", "room-2", domain.CallTypeAudio, makeOffer(t)))

	assert.Equal(t, domain.StatusCalling, sess.Status())
	assert.Equal(t, "room-1", sess.RoomID())
	assert.Empty(t, sig.byType(signaling.TypeCallRejected))
}

func TestSessionAcceptSendsOneCallAccepted(t *testing.T) {
	sess, sig, rec := newTestSession(t, "alice", media.NewStaticSource())

	sess.HandleMessage(signaling.NewCallRequest("bob", "alice", "room-1", domain.CallTypeAudio, makeOffer(t)))

	err := sess.Accept(context.Background())
	require.NoError(t, err)

	assert.Equal(t, domain.StatusConnected, sess.Status())
	assert.False(t, sess.StartedAt().IsZero())

	accepted := sig.byType(signaling.TypeCallAccepted)
	require.Len(t, accepted, 1)
	assert.Equal(t, "alice", accepted[0].From)
	assert.Equal(t, "bob", accepted[0].To)
	answer, err := accepted[0].SessionDescription()
	require.NoError(t, err)
	assert.Equal(t, webrtc.SDPTypeAnswer, answer.Type)

	assert.Contains(t, rec.all(), domain.StatusConnected)
}

func TestSessionAcceptWithoutRingingIsConflict(t *testing.T) {
	sess, _, _ := newTestSession(t, "alice", media.NewStaticSource())

	err := sess.Accept(context.Background())
	require.Error(t, err)
	assert.True(t, errors.IsStateConflict(err))
}

func TestSessionAcceptMediaFailureHangsUp(t *testing.T) {
	sess, sig, rec := newTestSession(t, "alice", failingDevices{})

	sess.HandleMessage(signaling.NewCallRequest("bob", "alice", "room-1", domain.CallTypeAudio, makeOffer(t)))

	err := sess.Accept(context.Background())
	require.Error(t, err)
	assert.True(t, errors.IsCode(err, errors.ErrCodeMedia))

	// The caller must not ring until timeout: the failed accept hangs up.
	ends := sig.byType(signaling.TypeEndCall)
	require.Len(t, ends, 1)
	assert.Equal(t, "room-1", ends[0].RoomID)
	assert.Equal(t, domain.StatusIdle, sess.Status())
	assert.Contains(t, rec.all(), domain.StatusEnded)
}

func TestSessionRejectSendsOneCallRejected(t *testing.T) {
	sess, sig, rec := newTestSession(t, "alice", media.NewStaticSource())

	sess.HandleMessage(signaling.NewCallRequest("bob", "alice", "room-1", domain.CallTypeAudio, makeOffer(t)))

	require.NoError(t, sess.Reject())

	rejected := sig.byType(signaling.TypeCallRejected)
	require.Len(t, rejected, 1)
	assert.Equal(t, "bob", rejected[0].To)
	assert.Equal(t, domain.StatusIdle, sess.Status())
	assert.Equal(t,
		[]domain.CallStatus{domain.StatusRinging, domain.StatusEnded, domain.StatusIdle},
		rec.all())

	// A second reject has nothing to act on.
	err := sess.Reject()
	assert.True(t, errors.IsStateConflict(err))
	assert.Len(t, sig.byType(signaling.TypeCallRejected), 1)
}

func TestSessionEndSendsOneEndCall(t *testing.T) {
	sess, sig, _ := newTestSession(t, "alice", media.NewStaticSource())

	require.NoError(t, sess.Start(context.Background(), "room-1", "bob", domain.CallTypeAudio))
	require.NoError(t, sess.End())

	ends := sig.byType(signaling.TypeEndCall)
	require.Len(t, ends, 1)
	assert.Equal(t, domain.StatusIdle, sess.Status())

	err := sess.End()
	assert.True(t, errors.IsStateConflict(err))
	assert.Len(t, sig.byType(signaling.TypeEndCall), 1)
}

func TestSessionRemoteRejectTearsDown(t *testing.T) {
	sess, sig, rec := newTestSession(t, "alice", media.NewStaticSource())

	require.NoError(t, sess.Start(context.Background(), "room-1", "bob", domain.CallTypeAudio))

	sess.HandleMessage(signaling.NewCallRejected("bob", "alice", "room-1"))

	assert.Equal(t, domain.StatusIdle, sess.Status())
	assert.Contains(t, rec.all(), domain.StatusEnded)
	// No hangup is echoed back for a remote rejection.
	assert.Empty(t, sig.byType(signaling.TypeEndCall))
}

func TestSessionTerminalSignalForOtherRoomIgnored(t *testing.T) {
	sess, _, _ := newTestSession(t, "alice", media.NewStaticSource())

	require.NoError(t, sess.Start(context.Background(), "room-1", "bob", domain.CallTypeAudio))

	sess.HandleMessage(signaling.NewEndCall("carol", "alice", "room-9"))

	assert.Equal(t, domain.StatusCalling, sess.Status())
}

func TestSessionBuffersCandidatesBeforeAccept(t *testing.T) {
	sess, _, _ := newTestSession(t, "alice", media.NewStaticSource())

	sess.HandleMessage(signaling.NewCallRequest("bob", "alice", "room-1", domain.CallTypeAudio, makeOffer(t)))

	candidate := webrtc.ICECandidateInit{
		Candidate: "candidate:1 1 udp 2130706431 192.0.2.10 54321 typ host",
	}
	// No PeerLink exists yet; these must be kept, not dropped.
	sess.HandleMessage(signaling.NewCandidate("bob", "alice", "room-1", &candidate))
	sess.HandleMessage(signaling.NewCandidate("bob", "alice", "room-1", &candidate))

	require.NoError(t, sess.Accept(context.Background()))
	assert.Equal(t, domain.StatusConnected, sess.Status())
}

func TestSessionCandidateForWrongRoomIgnored(t *testing.T) {
	sess, _, _ := newTestSession(t, "alice", media.NewStaticSource())

	require.NoError(t, sess.Start(context.Background(), "room-1", "bob", domain.CallTypeAudio))

	candidate := webrtc.ICECandidateInit{
		Candidate: "candidate:1 1 udp 2130706431 192.0.2.10 54321 typ host",
	}
	sess.HandleMessage(signaling.NewCandidate("carol", "alice", "room-9", &candidate))

	assert.Equal(t, domain.StatusCalling, sess.Status())
}

func TestSessionHandleRemoteClose(t *testing.T) {
	sess, sig, rec := newTestSession(t, "alice", media.NewStaticSource())

	require.NoError(t, sess.Start(context.Background(), "room-1", "bob", domain.CallTypeAudio))

	sess.HandleRemoteClose()

	assert.Equal(t, domain.StatusIdle, sess.Status())
	assert.Contains(t, rec.all(), domain.StatusEnded)
	// Teardown on transport loss sends nothing.
	assert.Empty(t, sig.byType(signaling.TypeEndCall))

	// Idempotent on an idle session.
	sess.HandleRemoteClose()
	assert.Equal(t, domain.StatusIdle, sess.Status())
}

func TestSessionToggleWithoutCall(t *testing.T) {
	sess, _, _ := newTestSession(t, "alice", media.NewStaticSource())

	_, err := sess.ToggleMute()
	assert.True(t, errors.IsStateConflict(err))

	_, err = sess.ToggleVideo()
	assert.True(t, errors.IsStateConflict(err))
}

func TestSessionToggleMuteDuringCall(t *testing.T) {
	sess, _, _ := newTestSession(t, "alice", media.NewStaticSource())

	require.NoError(t, sess.Start(context.Background(), "room-1", "bob", domain.CallTypeAudio))

	muted, err := sess.ToggleMute()
	require.NoError(t, err)
	assert.True(t, muted)

	muted, err = sess.ToggleMute()
	require.NoError(t, err)
	assert.False(t, muted)
}
