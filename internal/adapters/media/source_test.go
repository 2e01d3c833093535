package media

import (
	"context"
	"errors"
	"testing"

	"github.com/dkeye/meshcall/internal/core"
	"github.com/pion/webrtc/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type countingCapture struct {
	Capture
	stops int
}

func (c *countingCapture) Stop() {
	c.stops++
	c.Capture.Stop()
}

type scriptedDevice struct {
	inner    *SyntheticDevice
	videoErr error
	opened   []*countingCapture
}

func (d *scriptedDevice) Open(ctx context.Context, kind webrtc.RTPCodecType) (Capture, error) {
	if kind == webrtc.RTPCodecTypeVideo && d.videoErr != nil {
		return nil, d.videoErr
	}
	c, err := d.inner.Open(ctx, kind)
	if err != nil {
		return nil, err
	}
	cc := &countingCapture{Capture: c}
	d.opened = append(d.opened, cc)
	return cc, nil
}

func TestAcquireAudioVideo(t *testing.T) {
	dev := &scriptedDevice{inner: NewSyntheticDevice("alice", 0)}
	lm, err := NewSource(dev).Acquire(context.Background(), true)
	require.NoError(t, err)

	tracks := lm.Tracks()
	require.Len(t, tracks, 2)
	assert.Equal(t, webrtc.RTPCodecTypeAudio, tracks[0].Kind())
	assert.Equal(t, webrtc.RTPCodecTypeVideo, tracks[1].Kind())
	assert.Equal(t, "alice", tracks[0].StreamID())

	assert.False(t, lm.ToggleAudio())
	assert.False(t, lm.AudioEnabled())
	assert.True(t, lm.ToggleAudio())
	assert.False(t, lm.ToggleVideo())
	assert.False(t, lm.VideoEnabled())

	lm.Release()
	lm.Release()
	for _, c := range dev.opened {
		assert.Equal(t, 1, c.stops)
	}
}

func TestAcquireAudioOnlyToggleVideo(t *testing.T) {
	lm, err := NewSource(NewSyntheticDevice("bob", 0)).Acquire(context.Background(), false)
	require.NoError(t, err)
	defer lm.Release()

	assert.Len(t, lm.Tracks(), 1)
	assert.False(t, lm.ToggleVideo())
	assert.False(t, lm.ToggleVideo())
	assert.True(t, lm.AudioEnabled())
}

func TestAcquireDenied(t *testing.T) {
	_, err := NewSource(DeniedDevice{}).Acquire(context.Background(), true)
	require.Error(t, err)
	assert.ErrorIs(t, err, core.ErrMediaAcquisition)

	var me *core.MediaError
	require.ErrorAs(t, err, &me)
	assert.Equal(t, core.MediaDenied, me.Reason)
	assert.Equal(t, "microphone access denied", me.UserMessage())
}

func TestAcquireVideoFailureReleasesAudio(t *testing.T) {
	dev := &scriptedDevice{
		inner:    NewSyntheticDevice("carol", 0),
		videoErr: errors.New("no camera"),
	}
	_, err := NewSource(dev).Acquire(context.Background(), true)

	var me *core.MediaError
	require.ErrorAs(t, err, &me)
	assert.Equal(t, core.MediaUnavailable, me.Reason)
	assert.True(t, me.Video)
	require.Len(t, dev.opened, 1)
	assert.Equal(t, 1, dev.opened[0].stops)
}
