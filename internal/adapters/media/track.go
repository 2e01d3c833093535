package media

import (
	"sync/atomic"

	"github.com/pion/rtp"
	"github.com/pion/webrtc/v4"
)

// Track wraps a local track so it can be muted without renegotiation.
// While disabled, packets are swallowed at the write stream of every binding.
type Track struct {
	webrtc.TrackLocal
	enabled atomic.Bool
}

func NewTrack(inner webrtc.TrackLocal) *Track {
	t := &Track{TrackLocal: inner}
	t.enabled.Store(true)
	return t
}

func (t *Track) Enabled() bool { return t.enabled.Load() }

func (t *Track) SetEnabled(on bool) { t.enabled.Store(on) }

// Toggle flips the gate and returns the new state.
func (t *Track) Toggle() bool {
	for {
		old := t.enabled.Load()
		if t.enabled.CompareAndSwap(old, !old) {
			return !old
		}
	}
}

func (t *Track) Bind(ctx webrtc.TrackLocalContext) (webrtc.RTPCodecParameters, error) {
	return t.TrackLocal.Bind(&gatedContext{TrackLocalContext: ctx, track: t})
}

// Unbind is matched by ctx.ID(), which the gated context keeps.
func (t *Track) Unbind(ctx webrtc.TrackLocalContext) error {
	return t.TrackLocal.Unbind(ctx)
}

type gatedContext struct {
	webrtc.TrackLocalContext
	track *Track
}

func (c *gatedContext) WriteStream() webrtc.TrackLocalWriter {
	return &gatedWriter{inner: c.TrackLocalContext.WriteStream(), track: c.track}
}

type gatedWriter struct {
	inner webrtc.TrackLocalWriter
	track *Track
}

func (w *gatedWriter) WriteRTP(header *rtp.Header, payload []byte) (int, error) {
	if !w.track.Enabled() {
		return len(payload), nil
	}
	return w.inner.WriteRTP(header, payload)
}

func (w *gatedWriter) Write(b []byte) (int, error) {
	if !w.track.Enabled() {
		return len(b), nil
	}
	return w.inner.Write(b)
}
