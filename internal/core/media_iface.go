package core

import (
	"context"

	"github.com/dkeye/meshcall/internal/domain"
	"github.com/pion/interceptor"
	"github.com/pion/rtp"
	"github.com/pion/webrtc/v4"
)

// MediaConnection is the negotiation surface of one peer connection.
// Callbacks must be registered before the first offer or answer.
type MediaConnection interface {
	// AddLocalTrack attaches a shared local track; the connection never stops it.
	AddLocalTrack(track webrtc.TrackLocal) error
	CreateAndSetOffer(iceRestart bool) (webrtc.SessionDescription, error)
	CreateAndSetAnswer() (webrtc.SessionDescription, error)
	SetRemoteDescription(webrtc.SessionDescription) error
	AddICECandidate(webrtc.ICECandidateInit) error
	ConnectionState() webrtc.PeerConnectionState

	OnICECandidate(func(webrtc.ICECandidateInit))
	OnConnectionStateChange(func(webrtc.PeerConnectionState))
	OnTrack(func(RemoteTrack))

	Close() error
}

type ConnectionFactory interface {
	NewConnection(ctx context.Context, remote domain.ParticipantID) (MediaConnection, error)
}

// RemoteTrack is inbound media surfaced by a connection. *webrtc.TrackRemote satisfies it.
type RemoteTrack interface {
	ID() string
	StreamID() string
	Kind() webrtc.RTPCodecType
	ReadRTP() (*rtp.Packet, interceptor.Attributes, error)
}

// LocalMedia is the capture handle owned by one call.
type LocalMedia interface {
	Tracks() []webrtc.TrackLocal
	// ToggleAudio flips the audio track and returns the new state.
	ToggleAudio() bool
	// ToggleVideo flips the video track and returns the new state; false without video.
	ToggleVideo() bool
	AudioEnabled() bool
	VideoEnabled() bool
	// Release stops every track. Only the first call has an effect.
	Release()
}

type MediaSource interface {
	// Acquire opens audio and, when wantsVideo is set, video. Errors are *MediaError.
	Acquire(ctx context.Context, wantsVideo bool) (LocalMedia, error)
}
