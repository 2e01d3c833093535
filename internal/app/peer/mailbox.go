package peer

import (
	"sync"

	"github.com/dkeye/meshcall/internal/core"
	"github.com/pion/webrtc/v4"
)

type eventKind int

const (
	evInitiate eventKind = iota
	evSignal
	evConnState
	evLocalCandidate
	evTrack
	evTimeout
)

type timerKind int

const (
	timerAnswer timerKind = iota
	timerRestart
	timerCount
)

type event struct {
	kind      eventKind
	msg       core.Message
	state     webrtc.PeerConnectionState
	candidate webrtc.ICECandidateInit
	track     core.RemoteTrack
	conn      core.MediaConnection
	timer     timerKind
	seq       uint64
}

// mailbox is an unbounded FIFO; posting never blocks the caller.
type mailbox struct {
	mu     sync.Mutex
	queue  []event
	notify chan struct{}
	closed bool
}

func newMailbox() *mailbox {
	return &mailbox{notify: make(chan struct{}, 1)}
}

func (m *mailbox) post(ev event) bool {
	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		return false
	}
	m.queue = append(m.queue, ev)
	m.mu.Unlock()
	select {
	case m.notify <- struct{}{}:
	default:
	}
	return true
}

func (m *mailbox) ready() <-chan struct{} { return m.notify }

func (m *mailbox) take() []event {
	m.mu.Lock()
	defer m.mu.Unlock()
	batch := m.queue
	m.queue = nil
	return batch
}

func (m *mailbox) close() {
	m.mu.Lock()
	m.closed = true
	m.queue = nil
	m.mu.Unlock()
}
