package media

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"vozconnect/pkg/errors"
)

func TestConstraintsValidate(t *testing.T) {
	assert.NoError(t, Constraints{Audio: true}.Validate())
	assert.NoError(t, Constraints{Audio: true, Video: true}.Validate())

	err := Constraints{}.Validate()
	require.Error(t, err)
	assert.True(t, errors.IsCode(err, errors.ErrCodeInvalidInput))
}

func TestStaticSourceAudioOnly(t *testing.T) {
	stream, err := NewStaticSource().GetUserMedia(context.Background(), Constraints{Audio: true})
	require.NoError(t, err)
	defer stream.Release()

	require.Len(t, stream.Tracks(), 1)
	require.NotNil(t, stream.AudioTrack())
	assert.Equal(t, KindAudio, stream.AudioTrack().Kind())
	assert.Nil(t, stream.VideoTrack())
}

func TestStaticSourceAudioVideo(t *testing.T) {
	stream, err := NewStaticSource().GetUserMedia(context.Background(), Constraints{Audio: true, Video: true})
	require.NoError(t, err)
	defer stream.Release()

	assert.Len(t, stream.Tracks(), 2)
	require.NotNil(t, stream.VideoTrack())
	assert.Equal(t, KindVideo, stream.VideoTrack().Kind())
}

func TestStaticTrackEnableToggle(t *testing.T) {
	stream, err := NewStaticSource().GetUserMedia(context.Background(), Constraints{Audio: true})
	require.NoError(t, err)
	defer stream.Release()

	track := stream.AudioTrack()
	assert.True(t, track.Enabled())

	track.SetEnabled(false)
	assert.False(t, track.Enabled())

	track.SetEnabled(true)
	assert.True(t, track.Enabled())
}

func TestStaticSourceCancelledContext(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := NewStaticSource().GetUserMedia(ctx, Constraints{Audio: true})
	require.Error(t, err)
	assert.True(t, errors.IsCode(err, errors.ErrCodeMedia))
}

func TestStreamReleaseIsIdempotent(t *testing.T) {
	stream, err := NewStaticSource().GetUserMedia(context.Background(), Constraints{Audio: true})
	require.NoError(t, err)

	stream.Release()
	stream.Release()
}
