// Package loopback is an in-process signaling transport: one broadcast topic per call,
// asynchronous delivery, and hooks to drop or duplicate messages.
package loopback

import (
	"context"
	"fmt"
	"sync"

	"github.com/dkeye/meshcall/internal/core"
	"github.com/dkeye/meshcall/internal/domain"
	"github.com/rs/zerolog/log"
)

// InterceptFunc decides what the bus delivers for one sent message.
// Returning nil drops it; returning it twice duplicates it.
type InterceptFunc func(core.Message) []core.Message

type Bus struct {
	mu        sync.Mutex
	topics    map[domain.CallID]map[*subscription]struct{}
	intercept InterceptFunc
	sent      []core.Message
}

func NewBus() *Bus {
	return &Bus{topics: make(map[domain.CallID]map[*subscription]struct{})}
}

func (b *Bus) Intercept(fn InterceptFunc) {
	b.mu.Lock()
	b.intercept = fn
	b.mu.Unlock()
}

// Sent returns every message handed to Send, before interception.
func (b *Bus) Sent() []core.Message {
	b.mu.Lock()
	defer b.mu.Unlock()
	return append([]core.Message(nil), b.sent...)
}

func (b *Bus) Subscribers(callID domain.CallID) int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.topics[callID])
}

// Endpoint returns a transport bound to this bus.
func (b *Bus) Endpoint() *Transport {
	return &Transport{bus: b, subs: make(map[domain.CallID]*subscription)}
}

func (b *Bus) publish(from *subscription, msg core.Message) {
	b.mu.Lock()
	b.sent = append(b.sent, msg)
	out := []core.Message{msg}
	if b.intercept != nil {
		out = b.intercept(msg)
	}
	targets := make([]*subscription, 0, len(b.topics[msg.CallID]))
	for s := range b.topics[msg.CallID] {
		if s != from {
			targets = append(targets, s)
		}
	}
	b.mu.Unlock()

	for _, m := range out {
		for _, s := range targets {
			s.enqueue(m)
		}
	}
}

func (b *Bus) join(s *subscription) {
	b.mu.Lock()
	defer b.mu.Unlock()
	set, ok := b.topics[s.callID]
	if !ok {
		set = make(map[*subscription]struct{})
		b.topics[s.callID] = set
	}
	set[s] = struct{}{}
}

func (b *Bus) leave(s *subscription) {
	b.mu.Lock()
	defer b.mu.Unlock()
	set := b.topics[s.callID]
	delete(set, s)
	if len(set) == 0 {
		delete(b.topics, s.callID)
	}
}

// Transport is one participant's view of the bus.
type Transport struct {
	bus *Bus

	mu           sync.Mutex
	subs         map[domain.CallID]*subscription
	subscribeErr error
}

// FailSubscribe makes the next Subscribe calls return err.
func (t *Transport) FailSubscribe(err error) {
	t.mu.Lock()
	t.subscribeErr = err
	t.mu.Unlock()
}

func (t *Transport) Subscribe(ctx context.Context, callID domain.CallID, self domain.ParticipantID, handler func(core.Message)) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.subscribeErr != nil {
		return t.subscribeErr
	}
	if _, ok := t.subs[callID]; ok {
		return fmt.Errorf("already subscribed to %s", callID)
	}
	s := newSubscription(callID, self, handler)
	t.subs[callID] = s
	t.bus.join(s)
	log.Debug().Str("module", "loopback").Str("call", string(callID)).Str("self", string(self)).Msg("subscribed")
	return nil
}

func (t *Transport) Send(ctx context.Context, msg core.Message) error {
	if err := ctx.Err(); err != nil {
		return fmt.Errorf("%w: %v", core.ErrSignalingSend, err)
	}
	t.mu.Lock()
	s, ok := t.subs[msg.CallID]
	t.mu.Unlock()
	if !ok {
		return core.ErrNotSubscribed
	}
	t.bus.publish(s, msg)
	return nil
}

func (t *Transport) Unsubscribe(callID domain.CallID) error {
	t.mu.Lock()
	s, ok := t.subs[callID]
	delete(t.subs, callID)
	t.mu.Unlock()
	if !ok {
		return nil
	}
	t.bus.leave(s)
	s.stop()
	return nil
}

// subscription delivers in enqueue order on its own goroutine.
type subscription struct {
	callID  domain.CallID
	self    domain.ParticipantID
	handler func(core.Message)

	mu     sync.Mutex
	queue  []core.Message
	notify chan struct{}
	done   chan struct{}
	exited chan struct{}
	once   sync.Once
}

func newSubscription(callID domain.CallID, self domain.ParticipantID, handler func(core.Message)) *subscription {
	s := &subscription{
		callID:  callID,
		self:    self,
		handler: handler,
		notify:  make(chan struct{}, 1),
		done:    make(chan struct{}),
		exited:  make(chan struct{}),
	}
	go s.run()
	return s
}

func (s *subscription) enqueue(m core.Message) {
	if m.To != s.self {
		return
	}
	s.mu.Lock()
	s.queue = append(s.queue, m)
	s.mu.Unlock()
	select {
	case s.notify <- struct{}{}:
	default:
	}
}

func (s *subscription) run() {
	defer close(s.exited)
	for {
		select {
		case <-s.done:
			return
		case <-s.notify:
		}
		s.mu.Lock()
		batch := s.queue
		s.queue = nil
		s.mu.Unlock()
		for _, m := range batch {
			select {
			case <-s.done:
				return
			default:
			}
			s.handler(m)
		}
	}
}

// stop waits for an in-progress handler call to return.
func (s *subscription) stop() {
	s.once.Do(func() { close(s.done) })
	<-s.exited
}
