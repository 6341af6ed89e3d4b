package media

import (
	"context"
	"sync"
	"time"

	"github.com/pion/webrtc/v4"
	pionmedia "github.com/pion/webrtc/v4/pkg/media"

	"vozconnect/pkg/errors"
)

// opusSilence is a minimal silent Opus frame (TOC byte plus DTX payload).
var opusSilence = []byte{0xf8, 0xff, 0xfe}

// StaticSource is a DeviceAccess implementation backed by generated sample
// tracks: silent Opus audio and blank VP8 video. It needs no hardware, which
// makes it usable in headless deployments and loopback tests.
type StaticSource struct{}

// NewStaticSource creates a hardware-free media source.
func NewStaticSource() *StaticSource {
	return &StaticSource{}
}

// GetUserMedia acquires a stream of generated tracks per the constraints.
func (s *StaticSource) GetUserMedia(ctx context.Context, c Constraints) (Stream, error) {
	if err := c.Validate(); err != nil {
		return nil, err
	}
	if err := ctx.Err(); err != nil {
		return nil, errors.MediaError("media acquisition cancelled", err)
	}

	stream := &staticStream{}

	if c.Audio {
		track, err := newStaticTrack(KindAudio)
		if err != nil {
			return nil, err
		}
		stream.tracks = append(stream.tracks, track)
	}
	if c.Video {
		track, err := newStaticTrack(KindVideo)
		if err != nil {
			stream.Release()
			return nil, err
		}
		stream.tracks = append(stream.tracks, track)
	}

	return stream, nil
}

type staticStream struct {
	mu       sync.Mutex
	tracks   []Track
	released bool
}

func (s *staticStream) Tracks() []Track {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]Track, len(s.tracks))
	copy(out, s.tracks)
	return out
}

func (s *staticStream) AudioTrack() Track { return s.firstOf(KindAudio) }
func (s *staticStream) VideoTrack() Track { return s.firstOf(KindVideo) }

func (s *staticStream) firstOf(kind Kind) Track {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, t := range s.tracks {
		if t.Kind() == kind {
			return t
		}
	}
	return nil
}

func (s *staticStream) Release() {
	s.mu.Lock()
	if s.released {
		s.mu.Unlock()
		return
	}
	s.released = true
	tracks := s.tracks
	s.mu.Unlock()

	for _, t := range tracks {
		t.Stop()
	}
}

// staticTrack pumps generated samples into a TrackLocalStaticSample while
// enabled. WriteSample is a no-op until the track is bound to a peer
// connection, so the pump can run unconditionally.
type staticTrack struct {
	kind  Kind
	local *webrtc.TrackLocalStaticSample

	mu      sync.Mutex
	enabled bool
	stopped bool
	done    chan struct{}
}

func newStaticTrack(kind Kind) (*staticTrack, error) {
	var capability webrtc.RTPCodecCapability
	var id string
	switch kind {
	case KindAudio:
		capability = webrtc.RTPCodecCapability{MimeType: webrtc.MimeTypeOpus}
		id = "static-audio"
	case KindVideo:
		capability = webrtc.RTPCodecCapability{MimeType: webrtc.MimeTypeVP8}
		id = "static-video"
	default:
		return nil, errors.InvalidInputError("unknown track kind")
	}

	local, err := webrtc.NewTrackLocalStaticSample(capability, id, "vozconnect-static")
	if err != nil {
		return nil, errors.MediaError("failed to create static track", err)
	}

	t := &staticTrack{
		kind:    kind,
		local:   local,
		enabled: true,
		done:    make(chan struct{}),
	}
	go t.pump()
	return t, nil
}

func (t *staticTrack) Kind() Kind { return t.kind }

func (t *staticTrack) Enabled() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.enabled
}

func (t *staticTrack) SetEnabled(enabled bool) {
	t.mu.Lock()
	t.enabled = enabled
	t.mu.Unlock()
}

func (t *staticTrack) Stop() {
	t.mu.Lock()
	if t.stopped {
		t.mu.Unlock()
		return
	}
	t.stopped = true
	close(t.done)
	t.mu.Unlock()
}

func (t *staticTrack) Local() webrtc.TrackLocal { return t.local }

func (t *staticTrack) pump() {
	interval := 20 * time.Millisecond
	if t.kind == KindVideo {
		interval = 100 * time.Millisecond
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-t.done:
			return
		case <-ticker.C:
			if !t.Enabled() {
				continue
			}
			sample := pionmedia.Sample{Data: opusSilence, Duration: interval}
			if t.kind == KindVideo {
				sample.Data = []byte{0x00}
			}
			// Errors before Bind are expected; nothing useful to do with them.
			_ = t.local.WriteSample(sample)
		}
	}
}
