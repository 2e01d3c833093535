package orch

import (
	"github.com/dkeye/meshcall/internal/app/peer"
	"github.com/dkeye/meshcall/internal/core"
	"github.com/dkeye/meshcall/internal/domain"
)

// routeMessage hands an inbound message of generation gen to the link of its sender.
func (o *Orchestrator) routeMessage(gen uint64, msg core.Message) {
	if err := msg.Validate(); err != nil {
		o.logger.Debug().Err(err).Msg("invalid message dropped")
		return
	}
	if msg.To != o.self || msg.From == o.self {
		return
	}

	o.mu.Lock()
	s := o.live(gen)
	if s == nil || msg.CallID != s.callID {
		o.mu.Unlock()
		return
	}
	if msg.Kind == core.KindBye {
		o.mu.Unlock()
		o.removeParticipant(gen, msg.From)
		return
	}
	if _, gone := s.departed[msg.From]; gone {
		if msg.Kind != core.KindOffer {
			o.mu.Unlock()
			o.logger.Debug().Str("from", string(msg.From)).Str("type", string(msg.Kind)).Msg("message from departed participant dropped")
			return
		}
		delete(s.departed, msg.From)
	}
	l, created := s.links.getOrCreate(msg.From, func() *peer.Link { return o.newLink(s, msg.From) })
	o.mu.Unlock()

	if created {
		o.logger.Info().Str("call", string(msg.CallID)).Str("remote", string(msg.From)).Msg("inbound link created")
	}
	l.Deliver(msg)
}

// newLink creates a link whose hooks stay silent once it is replaced or the
// session is gone. Callers hold mu, which also publishes l to the hooks.
func (o *Orchestrator) newLink(s *session, remote domain.ParticipantID) *peer.Link {
	var l *peer.Link
	gen := s.gen
	l = peer.NewLink(s.ctx, peer.Params{
		CallID:  s.callID,
		Self:    o.self,
		Remote:  remote,
		Tracks:  s.media.Tracks(),
		Factory: o.deps.Connections,
		Sender:  o.deps.Transport,
		Config:  o.cfg.Link,
		Hooks: peer.Hooks{
			OnTrack: func(_ domain.ParticipantID, track core.RemoteTrack) {
				o.mu.Lock()
				defer o.mu.Unlock()
				o.onTrack(gen, l, track)
			},
			OnState: func(snap peer.Snapshot) {
				o.mu.Lock()
				defer o.mu.Unlock()
				o.onLinkState(gen, l, snap)
			},
			OnFailed: func(_ domain.ParticipantID, err error) {
				o.mu.Lock()
				defer o.mu.Unlock()
				o.onLinkFailed(gen, l, err)
			},
		},
	})
	return l
}

// current returns the session of gen if l is still registered in it. Callers hold mu.
func (o *Orchestrator) current(gen uint64, l *peer.Link) *session {
	s := o.live(gen)
	if s == nil || !s.links.holds(l) {
		return nil
	}
	return s
}

func (o *Orchestrator) onTrack(gen uint64, l *peer.Link, track core.RemoteTrack) {
	s := o.current(gen, l)
	if s == nil {
		return
	}
	st := o.streams.add(l.Remote(), track)
	o.logger.Info().
		Str("call", string(s.callID)).
		Str("remote", string(l.Remote())).
		Str("stream", st.StreamID).
		Str("kind", track.Kind().String()).
		Msg("remote track")
	o.emit(Event{Kind: EventTrackAdded, CallID: s.callID, Participant: l.Remote(), Track: track})
}

func (o *Orchestrator) onLinkState(gen uint64, l *peer.Link, snap peer.Snapshot) {
	s := o.current(gen, l)
	if s == nil {
		return
	}
	if snap.State == peer.Connected {
		if _, ok := s.joined[snap.Remote]; !ok {
			s.joined[snap.Remote] = struct{}{}
			o.recorder.ParticipantStatus(s.callID, snap.Remote, domain.ParticipantJoined)
		}
		if !s.active {
			s.active = true
			if s.initiator {
				o.recorder.CallStatus(s.callID, domain.CallActive)
			}
		}
	}
	o.emit(Event{Kind: EventPeerState, CallID: s.callID, Participant: snap.Remote, Peer: snap})
}

// onLinkFailed keeps the failed link registered so Peers still reports it.
// Hook handlers run with mu held.
func (o *Orchestrator) onLinkFailed(gen uint64, l *peer.Link, err error) {
	s := o.current(gen, l)
	if s == nil {
		return
	}
	remote := l.Remote()
	delete(s.joined, remote)
	if _, ok := o.streams[remote]; ok {
		delete(o.streams, remote)
		o.emit(Event{Kind: EventStreamRemoved, CallID: s.callID, Participant: remote})
	}
	o.recorder.ParticipantStatus(s.callID, remote, domain.ParticipantConnectionLost)
	o.emit(Event{Kind: EventPeerFailed, CallID: s.callID, Participant: remote, Peer: l.Snapshot(), Err: err})
}
