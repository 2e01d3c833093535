package media

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/pion/webrtc/v4"
	"github.com/pion/webrtc/v4/pkg/media"
	"github.com/rs/zerolog/log"
)

var (
	opusSilence = []byte{0xf8, 0xff, 0xfe}
	vp8Blank    = []byte{0x10, 0x02, 0x00, 0x9d, 0x01, 0x2a, 0x10, 0x00, 0x10, 0x00}
)

// SyntheticDevice produces Opus and VP8 sample tracks fed with placeholder frames.
// It stands in for real capture hardware in headless peers and tests.
type SyntheticDevice struct {
	StreamID string
	// Interval between frames; zero opens tracks without feeding them.
	Interval time.Duration
}

func NewSyntheticDevice(streamID string, interval time.Duration) *SyntheticDevice {
	return &SyntheticDevice{StreamID: streamID, Interval: interval}
}

func (d *SyntheticDevice) Open(ctx context.Context, kind webrtc.RTPCodecType) (Capture, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	var (
		codec webrtc.RTPCodecCapability
		frame []byte
	)
	switch kind {
	case webrtc.RTPCodecTypeAudio:
		codec = webrtc.RTPCodecCapability{MimeType: webrtc.MimeTypeOpus, ClockRate: 48000, Channels: 2}
		frame = opusSilence
	case webrtc.RTPCodecTypeVideo:
		codec = webrtc.RTPCodecCapability{MimeType: webrtc.MimeTypeVP8, ClockRate: 90000}
		frame = vp8Blank
	default:
		return nil, fmt.Errorf("%w: kind %s", ErrDeviceUnavailable, kind)
	}

	track, err := webrtc.NewTrackLocalStaticSample(codec, kind.String(), d.StreamID)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrDeviceUnavailable, err)
	}
	c := &syntheticCapture{track: track, stop: make(chan struct{})}
	if d.Interval > 0 {
		c.wg.Add(1)
		go c.feed(frame, d.Interval)
	}
	return c, nil
}

type syntheticCapture struct {
	track *webrtc.TrackLocalStaticSample
	stop  chan struct{}
	once  sync.Once
	wg    sync.WaitGroup
}

func (c *syntheticCapture) Track() webrtc.TrackLocal { return c.track }

func (c *syntheticCapture) Stop() {
	c.once.Do(func() { close(c.stop) })
	c.wg.Wait()
}

func (c *syntheticCapture) feed(frame []byte, interval time.Duration) {
	defer c.wg.Done()
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-c.stop:
			return
		case <-ticker.C:
			if err := c.track.WriteSample(media.Sample{Data: frame, Duration: interval}); err != nil {
				log.Debug().Err(err).Str("module", "media").Str("track", c.track.ID()).Msg("write sample")
			}
		}
	}
}

// DeniedDevice refuses every request, like a user declining the permission prompt.
type DeniedDevice struct{}

func (DeniedDevice) Open(context.Context, webrtc.RTPCodecType) (Capture, error) {
	return nil, ErrPermissionDenied
}
