package call

import (
	"context"
	"sync"
	"time"

	"github.com/pion/webrtc/v4"
	"go.uber.org/zap"

	"vozconnect/internal/domain"
	"vozconnect/internal/media"
	"vozconnect/internal/signaling"
	"vozconnect/pkg/errors"
	"vozconnect/pkg/logger"
)

// Signaler sends signaling messages on behalf of a session. Send is
// fire-and-forget, matching the transport contract.
type Signaler interface {
	Send(msg *signaling.Message)
}

// SessionConfig parameterizes a call session.
type SessionConfig struct {
	LocalUserID string
	Devices     media.DeviceAccess
	WebRTC      webrtc.Configuration

	// OnStatus fires on every status transition, outside the session lock.
	OnStatus func(domain.CallStatus)
	// OnRemoteTrack fires when remote media arrives.
	OnRemoteTrack func(*webrtc.TrackRemote)
}

// Session is the per-call state machine. It owns exactly one PeerLink and
// holds a reference to the shared signaling transport; it turns transport
// events into state transitions and local intents into transport sends and
// PeerLink calls. All events route through one mutex-guarded state holder
// read at the moment of handling.
type Session struct {
	sig Signaler
	cfg SessionConfig
	log *zap.Logger

	mu           sync.Mutex
	status       domain.CallStatus
	roomID       string
	remoteUserID string
	callType     domain.CallType
	startedAt    time.Time
	pendingOffer *webrtc.SessionDescription

	// candidates that arrived before the PeerLink exists (callee side,
	// between call-request and accept)
	earlyCandidates []webrtc.ICECandidateInit

	peer *PeerLink

	// generation guards against media acquisitions finishing after the
	// session has already reached a terminal state
	gen int
}

// NewSession creates an idle session for one user.
func NewSession(sig Signaler, cfg SessionConfig) *Session {
	return &Session{
		sig:    sig,
		cfg:    cfg,
		status: domain.StatusIdle,
		log:    logger.With(zap.String("component", "session"), zap.String("user_id", cfg.LocalUserID)),
	}
}

// Status returns the current call status.
func (s *Session) Status() domain.CallStatus {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.status
}

// RoomID returns the room of the active call, or "".
func (s *Session) RoomID() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.roomID
}

// RemoteUserID returns the other party of the active call, or "".
func (s *Session) RemoteUserID() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.remoteUserID
}

// CallType returns the active call's type; fixed for the session's duration.
func (s *Session) CallType() domain.CallType {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.callType
}

// StartedAt returns when the call reached connected, zero otherwise.
func (s *Session) StartedAt() time.Time {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.startedAt
}

// Snapshot returns the session as a call entity for logging and UI.
func (s *Session) Snapshot() domain.Call {
	s.mu.Lock()
	defer s.mu.Unlock()
	return domain.Call{
		RoomID:    s.roomID,
		CallerID:  s.callerIDLocked(),
		CalleeID:  s.calleeIDLocked(),
		CallType:  s.callType,
		Status:    s.status,
		StartedAt: s.startedAt,
	}
}

func (s *Session) callerIDLocked() string {
	if s.status == domain.StatusRinging {
		return s.remoteUserID
	}
	return s.cfg.LocalUserID
}

func (s *Session) calleeIDLocked() string {
	if s.status == domain.StatusRinging {
		return s.cfg.LocalUserID
	}
	return s.remoteUserID
}

// Start places an outbound call: acquires local media per the call type,
// creates the offerer PeerLink and sends exactly one call-request. A media
// failure aborts the transition back to idle, releases anything acquired
// and surfaces the error.
func (s *Session) Start(ctx context.Context, roomID, to string, callType domain.CallType) error {
	if roomID == "" || to == "" {
		return errors.InvalidInputError("roomId and callee are required")
	}
	if !callType.Valid() {
		return errors.InvalidInputError("callType must be audio or video")
	}

	s.mu.Lock()
	if s.status != domain.StatusIdle {
		s.mu.Unlock()
		return errors.StateConflictError("a call is already in progress")
	}
	s.status = domain.StatusCalling
	s.roomID = roomID
	s.remoteUserID = to
	s.callType = callType
	gen := s.gen
	s.mu.Unlock()
	s.notify(domain.StatusCalling)

	stream, err := s.cfg.Devices.GetUserMedia(ctx, constraintsFor(callType))
	if err != nil {
		s.abortPending(gen)
		return errors.MediaError("could not acquire media devices", err)
	}

	s.mu.Lock()
	if s.gen != gen || s.status != domain.StatusCalling {
		// Session moved on while media acquisition was in flight; the
		// stream must not be attached to a dead call.
		s.mu.Unlock()
		stream.Release()
		return errors.StateConflictError("call ended during media acquisition")
	}

	peer, err := NewPeerLink(s.cfg.WebRTC, RoleOfferer, stream, s.peerCallbacks())
	if err != nil {
		s.resetLocked()
		s.mu.Unlock()
		stream.Release()
		s.notify(domain.StatusIdle)
		return err
	}

	offer, err := peer.CreateOffer()
	if err != nil {
		s.resetLocked()
		s.mu.Unlock()
		peer.Close()
		s.notify(domain.StatusIdle)
		return err
	}

	s.peer = peer
	from := s.cfg.LocalUserID
	s.mu.Unlock()

	s.sig.Send(signaling.NewCallRequest(from, to, roomID, callType, offer))
	s.log.Info("call started",
		zap.String("room_id", roomID),
		zap.String("to", to),
		zap.String("call_type", string(callType)))
	return nil
}

// Accept answers a ringing call: acquires local media, creates the answerer
// PeerLink from the buffered offer and sends exactly one call-accepted.
func (s *Session) Accept(ctx context.Context) error {
	s.mu.Lock()
	if s.status != domain.StatusRinging {
		s.mu.Unlock()
		return errors.StateConflictError("no pending call request to accept")
	}
	offer := s.pendingOffer
	callType := s.callType
	roomID := s.roomID
	remote := s.remoteUserID
	gen := s.gen
	s.mu.Unlock()

	if offer == nil {
		return errors.ProtocolError("pending call request carries no offer")
	}

	stream, err := s.cfg.Devices.GetUserMedia(ctx, constraintsFor(callType))
	if err != nil {
		// The caller would otherwise ring until timeout; hang up explicitly.
		s.endWithSignal(gen)
		return errors.MediaError("could not acquire media devices", err)
	}

	s.mu.Lock()
	if s.gen != gen || s.status != domain.StatusRinging {
		s.mu.Unlock()
		stream.Release()
		return errors.StateConflictError("call ended during media acquisition")
	}

	peer, err := NewPeerLink(s.cfg.WebRTC, RoleAnswerer, stream, s.peerCallbacks())
	if err != nil {
		s.resetLocked()
		s.mu.Unlock()
		stream.Release()
		s.notify(domain.StatusEnded)
		s.notify(domain.StatusIdle)
		return err
	}

	answer, err := peer.CreateAnswer(offer)
	if err != nil {
		s.resetLocked()
		s.mu.Unlock()
		peer.Close()
		s.notify(domain.StatusEnded)
		s.notify(domain.StatusIdle)
		return err
	}

	// Candidates that raced ahead of the accept are applied now that the
	// remote description is in place.
	early := s.earlyCandidates
	s.earlyCandidates = nil
	s.peer = peer
	s.status = domain.StatusConnected
	s.startedAt = time.Now()
	s.pendingOffer = nil
	from := s.cfg.LocalUserID
	s.mu.Unlock()

	for _, candidate := range early {
		if err := peer.AddICECandidate(candidate); err != nil {
			s.log.Warn("failed to apply early ICE candidate", zap.Error(err))
		}
	}

	s.sig.Send(signaling.NewCallAccepted(from, remote, roomID, answer))
	s.notify(domain.StatusConnected)
	s.log.Info("call accepted", zap.String("room_id", roomID), zap.String("from", remote))
	return nil
}

// Reject declines a ringing call with exactly one call-rejected.
func (s *Session) Reject() error {
	s.mu.Lock()
	if s.status != domain.StatusRinging {
		s.mu.Unlock()
		return errors.StateConflictError("no pending call request to reject")
	}
	roomID := s.roomID
	remote := s.remoteUserID
	from := s.cfg.LocalUserID
	s.teardownLocked()
	s.mu.Unlock()

	s.sig.Send(signaling.NewCallRejected(from, remote, roomID))
	s.notifyTerminal()
	s.log.Info("call rejected", zap.String("room_id", roomID))
	return nil
}

// End hangs up (or cancels) the active call, sending one end-call.
func (s *Session) End() error {
	s.mu.Lock()
	if !s.status.Live() {
		s.mu.Unlock()
		return errors.StateConflictError("no active call to end")
	}
	roomID := s.roomID
	remote := s.remoteUserID
	from := s.cfg.LocalUserID
	s.teardownLocked()
	s.mu.Unlock()

	s.sig.Send(signaling.NewEndCall(from, remote, roomID))
	s.notifyTerminal()
	s.log.Info("call ended", zap.String("room_id", roomID))
	return nil
}

// ToggleMute flips local audio; returns the new muted state.
func (s *Session) ToggleMute() (bool, error) {
	s.mu.Lock()
	peer := s.peer
	s.mu.Unlock()
	if peer == nil {
		return false, errors.StateConflictError("no active call")
	}
	return peer.ToggleMute()
}

// ToggleVideo flips local video; returns the new enabled state.
func (s *Session) ToggleVideo() (bool, error) {
	s.mu.Lock()
	peer := s.peer
	s.mu.Unlock()
	if peer == nil {
		return false, errors.StateConflictError("no active call")
	}
	return peer.ToggleVideo()
}

// HandleMessage processes one inbound signaling message. Disallowed or
// mismatched messages never mutate status; malformed payloads are logged
// and dropped.
func (s *Session) HandleMessage(msg *signaling.Message) {
	switch msg.Type {
	case signaling.TypeCallRequest:
		s.handleCallRequest(msg)
	case signaling.TypeCallAccepted:
		s.handleCallAccepted(msg)
	case signaling.TypeCallRejected:
		s.handleTerminalSignal(msg, "call rejected by remote")
	case signaling.TypeEndCall:
		s.handleTerminalSignal(msg, "call ended by remote")
	case signaling.TypeCandidate:
		s.handleCandidate(msg)
	case signaling.TypeUserJoined:
		s.log.Debug("peer joined signaling room", zap.String("user_id", msg.From))
	default:
		s.log.Warn("dropping unknown signaling message", zap.String("type", string(msg.Type)))
	}
}

func (s *Session) handleCallRequest(msg *signaling.Message) {
	s.mu.Lock()
	if s.status != domain.StatusIdle {
		// A stale or duplicate request must never regress an active call
		// back to ringing.
		room := s.roomID
		s.mu.Unlock()
		s.log.Warn("ignoring call-request while call active",
			zap.String("active_room", room),
			zap.String("request_room", msg.RoomID))
		return
	}

	if !msg.CallType.Valid() {
		s.mu.Unlock()
		s.log.Warn("dropping call-request with invalid call type", zap.String("call_type", string(msg.CallType)))
		return
	}

	offer, err := msg.SessionDescription()
	if err != nil {
		s.mu.Unlock()
		s.log.Warn("dropping call-request with malformed offer", zap.Error(err))
		return
	}

	s.status = domain.StatusRinging
	s.roomID = msg.RoomID
	s.remoteUserID = msg.From
	s.callType = msg.CallType
	s.pendingOffer = offer
	s.mu.Unlock()

	s.notify(domain.StatusRinging)
	s.log.Info("incoming call",
		zap.String("room_id", msg.RoomID),
		zap.String("from", msg.From),
		zap.String("call_type", string(msg.CallType)))
}

func (s *Session) handleCallAccepted(msg *signaling.Message) {
	s.mu.Lock()
	if s.status != domain.StatusCalling || msg.RoomID != s.roomID {
		status := s.status
		s.mu.Unlock()
		s.log.Warn("ignoring call-accepted",
			zap.String("status", string(status)),
			zap.String("room_id", msg.RoomID))
		return
	}

	answer, err := msg.SessionDescription()
	if err != nil {
		s.mu.Unlock()
		s.log.Warn("dropping call-accepted with malformed answer", zap.Error(err))
		return
	}

	peer := s.peer
	if peer == nil {
		// Start is still acquiring media; the call-request has not been
		// sent, so nothing legitimate can be accepted yet.
		s.mu.Unlock()
		s.log.Warn("dropping call-accepted before offer exists", zap.String("room_id", msg.RoomID))
		return
	}
	s.status = domain.StatusConnected
	s.startedAt = time.Now()
	s.mu.Unlock()

	if err := peer.SetRemoteDescription(answer); err != nil {
		s.log.Warn("failed to apply SDP answer", zap.Error(err))
	}

	s.notify(domain.StatusConnected)
	s.log.Info("call connected", zap.String("room_id", msg.RoomID))
}

func (s *Session) handleTerminalSignal(msg *signaling.Message, reason string) {
	s.mu.Lock()
	if !s.status.Live() || msg.RoomID != s.roomID {
		s.mu.Unlock()
		return
	}
	s.teardownLocked()
	s.mu.Unlock()

	s.notifyTerminal()
	s.log.Info(reason, zap.String("room_id", msg.RoomID))
}

func (s *Session) handleCandidate(msg *signaling.Message) {
	candidate, err := msg.Candidate()
	if err != nil {
		s.log.Warn("dropping malformed ICE candidate", zap.Error(err))
		return
	}

	s.mu.Lock()
	if s.roomID == "" || msg.RoomID != s.roomID {
		s.mu.Unlock()
		s.log.Warn("ignoring candidate for wrong room", zap.String("room_id", msg.RoomID))
		return
	}
	peer := s.peer
	if peer == nil {
		// Callee has not accepted yet; keep the candidate for the future link.
		s.earlyCandidates = append(s.earlyCandidates, *candidate)
		s.mu.Unlock()
		return
	}
	s.mu.Unlock()

	if err := peer.AddICECandidate(*candidate); err != nil {
		s.log.Warn("failed to add ICE candidate", zap.Error(err))
	}
}

// HandleRemoteClose tears the session down on coordinator request without
// sending a hangup (timeout expiry, transport loss).
func (s *Session) HandleRemoteClose() {
	s.mu.Lock()
	if !s.status.Live() {
		s.mu.Unlock()
		return
	}
	s.teardownLocked()
	s.mu.Unlock()
	s.notifyTerminal()
}

// peerCallbacks wires PeerLink events back into the session.
func (s *Session) peerCallbacks() PeerLinkCallbacks {
	return PeerLinkCallbacks{
		OnLocalCandidate: func(candidate webrtc.ICECandidateInit) {
			s.mu.Lock()
			if !s.status.Live() {
				s.mu.Unlock()
				return
			}
			from := s.cfg.LocalUserID
			to := s.remoteUserID
			roomID := s.roomID
			s.mu.Unlock()
			s.sig.Send(signaling.NewCandidate(from, to, roomID, &candidate))
		},
		OnRemoteTrack: s.cfg.OnRemoteTrack,
	}
}

// abortPending reverts a failed start/accept transition back to idle,
// unless the session already moved to another generation.
func (s *Session) abortPending(gen int) {
	s.mu.Lock()
	if s.gen != gen {
		s.mu.Unlock()
		return
	}
	s.resetLocked()
	s.mu.Unlock()
	s.notify(domain.StatusIdle)
}

// endWithSignal hangs up after a failed accept so the caller does not ring
// until timeout.
func (s *Session) endWithSignal(gen int) {
	s.mu.Lock()
	if s.gen != gen || !s.status.Live() {
		s.mu.Unlock()
		return
	}
	roomID := s.roomID
	remote := s.remoteUserID
	from := s.cfg.LocalUserID
	s.teardownLocked()
	s.mu.Unlock()

	s.sig.Send(signaling.NewEndCall(from, remote, roomID))
	s.notifyTerminal()
}

// teardownLocked releases the PeerLink (and with it the local stream) and
// resets to idle. Resource release is the final step of every failure path.
func (s *Session) teardownLocked() {
	if s.peer != nil {
		s.peer.Close()
		s.peer = nil
	}
	s.resetLocked()
}

// resetLocked clears call state and bumps the generation so in-flight media
// acquisitions know the call is gone.
func (s *Session) resetLocked() {
	s.status = domain.StatusIdle
	s.roomID = ""
	s.remoteUserID = ""
	s.callType = ""
	s.startedAt = time.Time{}
	s.pendingOffer = nil
	s.earlyCandidates = nil
	s.gen++
}

// notifyTerminal reports the ended → idle transition pair.
func (s *Session) notifyTerminal() {
	s.notify(domain.StatusEnded)
	s.notify(domain.StatusIdle)
}

func (s *Session) notify(status domain.CallStatus) {
	if s.cfg.OnStatus != nil {
		s.cfg.OnStatus(status)
	}
}

// constraintsFor maps the call type to device constraints: video calls
// request camera and microphone, audio calls microphone only.
func constraintsFor(callType domain.CallType) media.Constraints {
	return media.Constraints{
		Audio: true,
		Video: callType == domain.CallTypeVideo,
	}
}
