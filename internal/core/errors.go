package core

import (
	"errors"
	"fmt"
)

var (
	ErrMediaAcquisition   = errors.New("media acquisition failed")
	ErrSignalingSubscribe = errors.New("signaling subscribe failed")
	ErrSignalingSend      = errors.New("signaling send failed")
	ErrNotSubscribed      = errors.New("signaling channel not ready")
	ErrNegotiation        = errors.New("negotiation failed")
	ErrConnectivity       = errors.New("connectivity failure")
	ErrAnswerTimeout      = errors.New("no answer before timeout")
	ErrRestartTimeout     = errors.New("no ice restart before timeout")
	ErrCallActive         = errors.New("call already active")
	ErrCallEnded          = errors.New("call ended")
	ErrLinkClosed         = errors.New("peer link closed")
	ErrInvalidMessage     = errors.New("invalid signaling message")
	ErrCallNotFound       = errors.New("call not found")
)

type MediaReason string

const (
	MediaDenied      MediaReason = "denied"
	MediaUnavailable MediaReason = "unavailable"
)

// MediaError describes why local capture could not be opened.
// It matches ErrMediaAcquisition with errors.Is.
type MediaError struct {
	Reason MediaReason
	Video  bool
	Err    error
}

func (e *MediaError) Error() string {
	return fmt.Sprintf("%s: %s %s: %v", ErrMediaAcquisition, e.device(), e.Reason, e.Err)
}

func (e *MediaError) Unwrap() []error { return []error{ErrMediaAcquisition, e.Err} }

// UserMessage is the text shown to the person starting the call.
func (e *MediaError) UserMessage() string {
	if e.Reason == MediaDenied {
		return e.device() + " access denied"
	}
	return e.device() + " unavailable"
}

func (e *MediaError) device() string {
	if e.Video {
		return "camera"
	}
	return "microphone"
}
