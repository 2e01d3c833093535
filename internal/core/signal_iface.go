package core

import (
	"context"

	"github.com/dkeye/meshcall/internal/domain"
)

// Frame is a raw signaling payload as it travels through the relay.
type Frame []byte

// SignalConnection abstracts the relay side of one websocket.
// Owned by the adapter; the adapter must Close() it.
type SignalConnection interface {
	TrySend(Frame) error
	Close()
}

// SignalingTransport is the client side of a call topic.
// Delivery is best effort, at least once and unordered across senders.
type SignalingTransport interface {
	// Subscribe joins the topic of callID and returns once sends can be delivered.
	// handler only receives messages addressed to self.
	Subscribe(ctx context.Context, callID domain.CallID, self domain.ParticipantID, handler func(Message)) error
	// Send publishes msg on its call topic without acknowledgment.
	Send(ctx context.Context, msg Message) error
	// Unsubscribe stops delivery and frees the topic. Safe to call repeatedly.
	Unsubscribe(callID domain.CallID) error
}
