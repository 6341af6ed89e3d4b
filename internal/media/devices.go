// Package media abstracts local media device access for call sessions.
// The host application supplies the real capture implementation; this
// package defines the contract and ships a static source for headless
// deployments and tests.
package media

import (
	"context"

	"github.com/pion/webrtc/v4"

	"vozconnect/pkg/errors"
)

// Kind distinguishes audio from video tracks
type Kind string

const (
	KindAudio Kind = "audio"
	KindVideo Kind = "video"
)

// Constraints selects which device kinds to acquire. Audio calls request
// microphone only; video calls request camera and microphone.
type Constraints struct {
	Audio bool
	Video bool
}

// Track is one local capture track. Enabled gates whether the track
// produces media; disabling an audio track mutes it, disabling a video
// track blanks it. Stop releases the underlying device.
type Track interface {
	Kind() Kind
	Enabled() bool
	SetEnabled(enabled bool)
	Stop()

	// Local exposes the RTP track attached to the peer connection.
	Local() webrtc.TrackLocal
}

// Stream is an owned set of local tracks acquired together. Release stops
// every track and is safe to call more than once.
type Stream interface {
	Tracks() []Track
	AudioTrack() Track // first audio track, nil if none
	VideoTrack() Track // first video track, nil if none
	Release()
}

// DeviceAccess acquires local capture streams. Implementations must return
// a descriptive error when the constraints cannot be satisfied (no device,
// no permission, insecure context).
type DeviceAccess interface {
	GetUserMedia(ctx context.Context, c Constraints) (Stream, error)
}

// Validate rejects constraint sets that request nothing.
func (c Constraints) Validate() error {
	if !c.Audio && !c.Video {
		return errors.InvalidInputError("media constraints must request audio or video")
	}
	return nil
}
