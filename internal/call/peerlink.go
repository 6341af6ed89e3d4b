// Package call implements the real-time call engine: the PeerLink wrapping
// one WebRTC peer connection, the CallSession state machine, and the
// CallCoordinator that owns the signaling transport for a logged-in user.
package call

import (
	"sync"

	"github.com/pion/webrtc/v4"
	"go.uber.org/zap"

	"vozconnect/internal/media"
	"vozconnect/pkg/errors"
	"vozconnect/pkg/logger"
)

// Role is the negotiation role of a peer link, fixed for its lifetime.
type Role string

const (
	RoleOfferer  Role = "offerer"
	RoleAnswerer Role = "answerer"
)

// PeerLinkCallbacks surface peer connection events to the owning session.
type PeerLinkCallbacks struct {
	// OnLocalCandidate fires for each locally gathered ICE candidate.
	OnLocalCandidate func(webrtc.ICECandidateInit)
	// OnRemoteTrack fires when the remote peer's media arrives.
	OnRemoteTrack func(*webrtc.TrackRemote)
	// OnStateChange fires on underlying connection state transitions.
	OnStateChange func(webrtc.PeerConnectionState)
}

// PeerLink owns one WebRTC peer connection and the local media stream
// attached to it. ICE candidates received before the remote description is
// set are buffered and flushed, in arrival order, once it is applied.
type PeerLink struct {
	pc    *webrtc.PeerConnection
	role  Role
	local media.Stream
	log   *zap.Logger

	mu        sync.Mutex
	remoteSet bool
	pending   []webrtc.ICECandidateInit
	closed    bool
}

// NewPeerLink creates a peer connection with the local stream's tracks
// attached. The local stream is owned: Close stops its tracks.
func NewPeerLink(cfg webrtc.Configuration, role Role, local media.Stream, cb PeerLinkCallbacks) (*PeerLink, error) {
	mediaEngine := &webrtc.MediaEngine{}
	if err := mediaEngine.RegisterDefaultCodecs(); err != nil {
		return nil, errors.Wrap(errors.ErrCodeInternal, "failed to register codecs", err)
	}

	api := webrtc.NewAPI(
		webrtc.WithMediaEngine(mediaEngine),
		webrtc.WithSettingEngine(webrtc.SettingEngine{}),
	)

	pc, err := api.NewPeerConnection(cfg)
	if err != nil {
		return nil, errors.Wrap(errors.ErrCodeInternal, "failed to create peer connection", err)
	}

	p := &PeerLink{
		pc:    pc,
		role:  role,
		local: local,
		log:   logger.With(zap.String("component", "peerlink"), zap.String("role", string(role))),
	}

	if local != nil {
		for _, track := range local.Tracks() {
			if _, err := pc.AddTrack(track.Local()); err != nil {
				pc.Close()
				return nil, errors.Wrap(errors.ErrCodeInternal, "failed to attach local track", err)
			}
		}
	}

	pc.OnICECandidate(func(candidate *webrtc.ICECandidate) {
		if candidate == nil || cb.OnLocalCandidate == nil {
			return
		}
		cb.OnLocalCandidate(candidate.ToJSON())
	})

	pc.OnTrack(func(track *webrtc.TrackRemote, _ *webrtc.RTPReceiver) {
		p.log.Debug("remote track received", zap.String("kind", track.Kind().String()))
		if cb.OnRemoteTrack != nil {
			cb.OnRemoteTrack(track)
		}
	})

	pc.OnConnectionStateChange(func(state webrtc.PeerConnectionState) {
		p.log.Debug("connection state changed", zap.String("state", state.String()))
		if cb.OnStateChange != nil {
			cb.OnStateChange(state)
		}
	})

	return p, nil
}

// Role returns the link's fixed negotiation role.
func (p *PeerLink) Role() Role { return p.role }

// CreateOffer produces the SDP offer and sets it as the local description.
func (p *PeerLink) CreateOffer() (*webrtc.SessionDescription, error) {
	if p.role != RoleOfferer {
		return nil, errors.StateConflictError("only the offerer side creates offers")
	}

	offer, err := p.pc.CreateOffer(nil)
	if err != nil {
		return nil, errors.Wrap(errors.ErrCodeInternal, "failed to create offer", err)
	}
	if err := p.pc.SetLocalDescription(offer); err != nil {
		return nil, errors.Wrap(errors.ErrCodeInternal, "failed to set local description", err)
	}
	return &offer, nil
}

// CreateAnswer applies the remote offer, produces the SDP answer and sets it
// as the local description.
func (p *PeerLink) CreateAnswer(offer *webrtc.SessionDescription) (*webrtc.SessionDescription, error) {
	if p.role != RoleAnswerer {
		return nil, errors.StateConflictError("only the answerer side creates answers")
	}

	if err := p.SetRemoteDescription(offer); err != nil {
		return nil, err
	}

	answer, err := p.pc.CreateAnswer(nil)
	if err != nil {
		return nil, errors.Wrap(errors.ErrCodeInternal, "failed to create answer", err)
	}
	if err := p.pc.SetLocalDescription(answer); err != nil {
		return nil, errors.Wrap(errors.ErrCodeInternal, "failed to set local description", err)
	}
	return &answer, nil
}

// SetRemoteDescription applies the remote SDP and flushes any ICE candidates
// that arrived before it, in arrival order.
func (p *PeerLink) SetRemoteDescription(desc *webrtc.SessionDescription) error {
	if err := p.pc.SetRemoteDescription(*desc); err != nil {
		return errors.Wrap(errors.ErrCodeInternal, "failed to set remote description", err)
	}

	p.mu.Lock()
	p.remoteSet = true
	pending := p.pending
	p.pending = nil
	p.mu.Unlock()

	for _, candidate := range pending {
		if err := p.pc.AddICECandidate(candidate); err != nil {
			p.log.Warn("failed to apply buffered ICE candidate", zap.Error(err))
		}
	}
	return nil
}

// AddICECandidate applies a remote candidate, buffering it when no remote
// description has been set yet. Candidates are never dropped due to ordering.
func (p *PeerLink) AddICECandidate(candidate webrtc.ICECandidateInit) error {
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return errors.StateConflictError("peer link is closed")
	}
	if !p.remoteSet {
		p.pending = append(p.pending, candidate)
		p.mu.Unlock()
		return nil
	}
	p.mu.Unlock()

	if err := p.pc.AddICECandidate(candidate); err != nil {
		return errors.Wrap(errors.ErrCodeProtocol, "failed to add ICE candidate", err)
	}
	return nil
}

// PendingCandidates returns how many candidates are buffered awaiting the
// remote description.
func (p *PeerLink) PendingCandidates() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.pending)
}

// ToggleMute flips the first local audio track and returns the new muted
// state (the inverse of enabled).
func (p *PeerLink) ToggleMute() (bool, error) {
	track := p.audioTrack()
	if track == nil {
		return false, errors.NoDeviceError("audio")
	}
	track.SetEnabled(!track.Enabled())
	muted := !track.Enabled()
	p.log.Debug("audio toggled", zap.Bool("muted", muted))
	return muted, nil
}

// ToggleVideo flips the first local video track and returns the new enabled
// state.
func (p *PeerLink) ToggleVideo() (bool, error) {
	track := p.videoTrack()
	if track == nil {
		return false, errors.NoDeviceError("video")
	}
	track.SetEnabled(!track.Enabled())
	enabled := track.Enabled()
	p.log.Debug("video toggled", zap.Bool("enabled", enabled))
	return enabled, nil
}

func (p *PeerLink) audioTrack() media.Track {
	if p.local == nil {
		return nil
	}
	return p.local.AudioTrack()
}

func (p *PeerLink) videoTrack() media.Track {
	if p.local == nil {
		return nil
	}
	return p.local.VideoTrack()
}

// ConnectionState returns the underlying peer connection state.
func (p *PeerLink) ConnectionState() webrtc.PeerConnectionState {
	return p.pc.ConnectionState()
}

// Close stops all local tracks and releases the peer connection. Safe to
// call multiple times.
func (p *PeerLink) Close() {
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return
	}
	p.closed = true
	p.pending = nil
	p.mu.Unlock()

	if p.local != nil {
		p.local.Release()
	}
	if err := p.pc.Close(); err != nil {
		p.log.Warn("peer connection close failed", zap.Error(err))
	}
}
