package media

import (
	"context"
	"errors"
	"sync"

	"github.com/dkeye/meshcall/internal/core"
	"github.com/pion/webrtc/v4"
	"github.com/rs/zerolog/log"
)

var (
	ErrPermissionDenied  = errors.New("permission denied")
	ErrDeviceUnavailable = errors.New("device unavailable")
)

// Capture is one opened device stream.
type Capture interface {
	Track() webrtc.TrackLocal
	Stop()
}

// Device opens capture streams. Errors wrapping ErrPermissionDenied are reported as denials.
type Device interface {
	Open(ctx context.Context, kind webrtc.RTPCodecType) (Capture, error)
}

type Source struct {
	device Device
}

func NewSource(device Device) *Source {
	return &Source{device: device}
}

func (s *Source) Acquire(ctx context.Context, wantsVideo bool) (core.LocalMedia, error) {
	audio, err := s.device.Open(ctx, webrtc.RTPCodecTypeAudio)
	if err != nil {
		return nil, mediaError(err, false)
	}
	h := &Handle{audio: NewTrack(audio.Track()), captures: []Capture{audio}}

	if wantsVideo {
		video, err := s.device.Open(ctx, webrtc.RTPCodecTypeVideo)
		if err != nil {
			h.Release()
			return nil, mediaError(err, true)
		}
		h.video = NewTrack(video.Track())
		h.captures = append(h.captures, video)
	}

	log.Info().Str("module", "media").Bool("video", wantsVideo).Msg("local media acquired")
	return h, nil
}

func mediaError(err error, video bool) error {
	reason := core.MediaUnavailable
	if errors.Is(err, ErrPermissionDenied) {
		reason = core.MediaDenied
	}
	log.Warn().Err(err).Str("module", "media").Bool("video", video).Str("reason", string(reason)).Msg("acquire failed")
	return &core.MediaError{Reason: reason, Video: video, Err: err}
}

// Handle is the LocalMedia of one call.
type Handle struct {
	audio    *Track
	video    *Track
	captures []Capture
	release  sync.Once
}

func (h *Handle) Tracks() []webrtc.TrackLocal {
	out := []webrtc.TrackLocal{h.audio}
	if h.video != nil {
		out = append(out, h.video)
	}
	return out
}

func (h *Handle) ToggleAudio() bool {
	return h.audio.Toggle()
}

func (h *Handle) ToggleVideo() bool {
	if h.video == nil {
		return false
	}
	return h.video.Toggle()
}

func (h *Handle) AudioEnabled() bool { return h.audio.Enabled() }

func (h *Handle) VideoEnabled() bool { return h.video != nil && h.video.Enabled() }

func (h *Handle) Release() {
	h.release.Do(func() {
		for _, c := range h.captures {
			c.Stop()
		}
		h.audio.SetEnabled(false)
		if h.video != nil {
			h.video.SetEnabled(false)
		}
		log.Info().Str("module", "media").Int("captures", len(h.captures)).Msg("local media released")
	})
}
