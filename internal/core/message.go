package core

import (
	"fmt"

	"github.com/dkeye/meshcall/internal/domain"
	"github.com/pion/webrtc/v4"
)

type MessageKind string

const (
	KindOffer     MessageKind = "offer"
	KindAnswer    MessageKind = "answer"
	KindCandidate MessageKind = "ice-candidate"
	KindBye       MessageKind = "bye"
)

// Message is one signaling frame exchanged over a call topic.
// Epoch numbers the sender's offers; an answer echoes the epoch of the offer it answers.
// Reset marks an offer made on a fresh connection; the receiver must replace its own.
type Message struct {
	Kind      MessageKind              `json:"type"`
	CallID    domain.CallID            `json:"callId"`
	From      domain.ParticipantID     `json:"from"`
	To        domain.ParticipantID     `json:"to"`
	Epoch     uint32                   `json:"epoch,omitempty"`
	SDP       string                   `json:"sdp,omitempty"`
	Reset     bool                     `json:"reset,omitempty"`
	Candidate *webrtc.ICECandidateInit `json:"candidate,omitempty"`
}

func (m Message) Validate() error {
	if m.CallID == "" || m.From == "" || m.To == "" {
		return fmt.Errorf("%w: missing routing fields", ErrInvalidMessage)
	}
	switch m.Kind {
	case KindOffer, KindAnswer:
		if m.SDP == "" {
			return fmt.Errorf("%w: %s without sdp", ErrInvalidMessage, m.Kind)
		}
	case KindCandidate:
		if m.Candidate == nil || m.Candidate.Candidate == "" {
			return fmt.Errorf("%w: empty candidate", ErrInvalidMessage)
		}
	case KindBye:
	default:
		return fmt.Errorf("%w: unknown type %q", ErrInvalidMessage, m.Kind)
	}
	return nil
}

func (m Message) Description() webrtc.SessionDescription {
	typ := webrtc.SDPTypeOffer
	if m.Kind == KindAnswer {
		typ = webrtc.SDPTypeAnswer
	}
	return webrtc.SessionDescription{Type: typ, SDP: m.SDP}
}
