// Package orch coordinates one call: local media, the signaling subscription
// and one peer link per remote participant.
package orch

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/dkeye/meshcall/internal/app"
	"github.com/dkeye/meshcall/internal/app/lifecycle"
	"github.com/dkeye/meshcall/internal/app/peer"
	"github.com/dkeye/meshcall/internal/core"
	"github.com/dkeye/meshcall/internal/domain"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"github.com/sourcegraph/conc"
)

const (
	eventBuffer = 256
	byeTimeout  = 2 * time.Second
)

type Deps struct {
	Transport   core.SignalingTransport
	Media       core.MediaSource
	Connections core.ConnectionFactory
	// Store is optional.
	Store  core.CallStore
	Policy app.OfferPolicy
}

type Config struct {
	// SettleDelay lets the fresh subscription settle before the first offer.
	SettleDelay      time.Duration
	OfferStagger     time.Duration
	SubscribeTimeout time.Duration
	Link             peer.Config
}

func DefaultConfig() Config {
	return Config{
		SettleDelay:      300 * time.Millisecond,
		OfferStagger:     100 * time.Millisecond,
		SubscribeTimeout: 10 * time.Second,
		Link:             peer.DefaultConfig(),
	}
}

// Orchestrator runs at most one call at a time for the local participant.
type Orchestrator struct {
	self     domain.ParticipantID
	deps     Deps
	cfg      Config
	recorder *lifecycle.Recorder
	events   chan Event
	logger   zerolog.Logger

	mu      sync.Mutex
	gen     uint64
	sess    *session
	streams RemoteStreamSet
}

func New(self domain.ParticipantID, deps Deps, cfg Config) *Orchestrator {
	if deps.Policy == nil {
		deps.Policy = app.OfferAll{}
	}
	return &Orchestrator{
		self:     self,
		deps:     deps,
		cfg:      cfg,
		recorder: lifecycle.NewRecorder(deps.Store),
		events:   make(chan Event, eventBuffer),
		streams:  make(RemoteStreamSet),
		logger:   log.With().Str("module", "app.orch").Str("self", string(self)).Logger(),
	}
}

func (o *Orchestrator) Self() domain.ParticipantID { return o.self }

// InitializeCall starts call callID as its initiator and offers to every
// participant the offer policy selects. The call lasts until EndCall or until
// ctx is cancelled. On failure nothing created for the call survives.
func (o *Orchestrator) InitializeCall(ctx context.Context, callID domain.CallID, participants []domain.ParticipantID, kind domain.MediaKind) error {
	return o.start(ctx, callID, participants, kind, true)
}

// AcceptCall joins call callID and answers whoever offers.
func (o *Orchestrator) AcceptCall(ctx context.Context, callID domain.CallID, kind domain.MediaKind) error {
	return o.start(ctx, callID, nil, kind, false)
}

func (o *Orchestrator) start(ctx context.Context, callID domain.CallID, participants []domain.ParticipantID, kind domain.MediaKind, initiator bool) error {
	logger := o.logger.With().Str("call", string(callID)).Logger()

	o.mu.Lock()
	if o.sess != nil {
		o.mu.Unlock()
		return fmt.Errorf("%w: %s", core.ErrCallActive, o.sess.callID)
	}
	o.gen++
	s := newSession(o.gen, callID, kind, initiator)
	o.sess = s
	o.streams = make(RemoteStreamSet)
	o.mu.Unlock()

	media, err := o.deps.Media.Acquire(ctx, kind.WantsVideo())
	if err != nil {
		o.abandon(s)
		var me *core.MediaError
		if errors.As(err, &me) {
			logger.Error().Err(err).Str("reason", me.UserMessage()).Msg("media acquisition failed")
		} else {
			logger.Error().Err(err).Msg("media acquisition failed")
			err = fmt.Errorf("%w: %w", core.ErrMediaAcquisition, err)
		}
		return err
	}
	if !o.attach(s, func() {
		s.media = media
		s.ctx, s.cancel = context.WithCancel(ctx)
	}) {
		media.Release()
		return core.ErrCallEnded
	}

	subCtx, cancelSub := context.WithTimeout(ctx, o.cfg.SubscribeTimeout)
	err = o.deps.Transport.Subscribe(subCtx, callID, o.self, func(msg core.Message) {
		o.routeMessage(s.gen, msg)
	})
	cancelSub()

	o.mu.Lock()
	if o.sess != s {
		// the topic may already belong to a newer call with the same id
		newer := o.sess != nil && o.sess.callID == callID
		o.mu.Unlock()
		logger.Info().Err(err).Bool("newer", newer).Msg("call ended while subscribing")
		if err == nil && !newer {
			if uerr := o.deps.Transport.Unsubscribe(callID); uerr != nil {
				logger.Warn().Err(uerr).Msg("unsubscribe")
			}
		}
		s.cancel()
		media.Release()
		return core.ErrCallEnded
	}
	if err != nil {
		o.mu.Unlock()
		logger.Error().Err(err).Msg("signaling subscribe failed")
		if uerr := o.deps.Transport.Unsubscribe(callID); uerr != nil {
			logger.Warn().Err(uerr).Msg("unsubscribe")
		}
		s.cancel()
		media.Release()
		o.abandon(s)
		return fmt.Errorf("%w: %w", core.ErrSignalingSubscribe, err)
	}
	s.subscribed = true
	offerCtx, cancelOffer := context.WithCancel(s.ctx)
	s.cancelOffer = cancelOffer
	s.stopWatch = context.AfterFunc(s.ctx, func() {
		logger.Info().Msg("call context done, ending call")
		o.end(s.gen)
	})

	var targets []*peer.Link
	members := []domain.ParticipantID{o.self}
	seen := map[domain.ParticipantID]struct{}{o.self: {}}
	for _, id := range participants {
		if _, dup := seen[id]; dup {
			continue
		}
		seen[id] = struct{}{}
		members = append(members, id)
		l, _ := s.links.getOrCreate(id, func() *peer.Link { return o.newLink(s, id) })
		if o.deps.Policy.ShouldOffer(o.self, id) {
			targets = append(targets, l)
		}
	}
	s.offers = conc.NewWaitGroup()
	s.offers.Go(func() { o.fanOut(offerCtx, targets) })
	o.mu.Unlock()

	if initiator {
		o.recorder.CallStarted(callID, o.self, kind, members)
	} else {
		o.recorder.ParticipantStatus(callID, o.self, domain.ParticipantJoined)
	}
	logger.Info().
		Bool("initiator", initiator).
		Str("kind", string(kind)).
		Str("policy", o.deps.Policy.Name()).
		Int("offers", len(targets)).
		Msg("call started")
	return nil
}

// fanOut initiates links one by one after the settle delay.
func (o *Orchestrator) fanOut(ctx context.Context, targets []*peer.Link) {
	if len(targets) == 0 {
		return
	}
	if !sleepCtx(ctx, o.cfg.SettleDelay) {
		return
	}
	for i, l := range targets {
		if i > 0 && !sleepCtx(ctx, o.cfg.OfferStagger) {
			return
		}
		l.Initiate()
	}
}

// EndCall tears the current call down. It is safe to call repeatedly.
func (o *Orchestrator) EndCall() {
	o.mu.Lock()
	s := o.sess
	o.mu.Unlock()
	if s != nil {
		o.end(s.gen)
	}
}

// Close ends the call and flushes pending lifecycle updates.
func (o *Orchestrator) Close() {
	o.EndCall()
	o.recorder.Close()
}

func (o *Orchestrator) end(gen uint64) {
	o.mu.Lock()
	s := o.live(gen)
	if s == nil {
		o.mu.Unlock()
		return
	}
	o.sess = nil
	o.gen++
	links := s.links.drain()
	o.streams = make(RemoteStreamSet)
	o.mu.Unlock()

	logger := o.logger.With().Str("call", string(s.callID)).Logger()
	if s.stopWatch != nil {
		s.stopWatch()
	}
	if s.cancelOffer != nil {
		s.cancelOffer()
	}
	if s.offers != nil {
		s.offers.Wait()
	}

	if s.subscribed {
		byeCtx, cancel := context.WithTimeout(context.Background(), byeTimeout)
		for _, l := range links {
			bye := core.Message{Kind: core.KindBye, CallID: s.callID, From: o.self, To: l.Remote()}
			if err := o.deps.Transport.Send(byeCtx, bye); err != nil {
				logger.Warn().Err(err).Str("remote", string(l.Remote())).Msg("bye not sent")
			}
		}
		cancel()
	}

	var wg conc.WaitGroup
	for _, l := range links {
		wg.Go(l.Close)
	}
	wg.Wait()
	if s.cancel != nil {
		s.cancel()
	}

	if s.subscribed {
		if err := o.deps.Transport.Unsubscribe(s.callID); err != nil {
			logger.Warn().Err(err).Msg("unsubscribe")
		}
	}
	if s.media != nil {
		s.media.Release()
	}

	o.recorder.ParticipantStatus(s.callID, o.self, domain.ParticipantLeft)
	if s.initiator {
		o.recorder.CallStatus(s.callID, domain.CallEnded)
	}
	o.emit(Event{Kind: EventCallEnded, CallID: s.callID, Participant: o.self})
	logger.Info().Int("links", len(links)).Msg("call ended")
}

// abandon drops a session whose start did not complete.
func (o *Orchestrator) abandon(s *session) {
	o.mu.Lock()
	defer o.mu.Unlock()
	if o.sess == s {
		o.sess = nil
		o.gen++
	}
}

// attach runs fn under the lock if s is still the current session.
func (o *Orchestrator) attach(s *session, fn func()) bool {
	o.mu.Lock()
	defer o.mu.Unlock()
	if o.sess != s {
		return false
	}
	fn()
	return true
}

// live returns the current session if it belongs to generation gen. Callers hold mu.
func (o *Orchestrator) live(gen uint64) *session {
	if o.sess == nil || o.sess.gen != gen {
		return nil
	}
	return o.sess
}

// RemoveParticipant closes the link to id for good. Only a fresh offer from id
// brings it back.
func (o *Orchestrator) RemoveParticipant(id domain.ParticipantID) {
	o.mu.Lock()
	s := o.sess
	o.mu.Unlock()
	if s != nil {
		o.removeParticipant(s.gen, id)
	}
}

func (o *Orchestrator) removeParticipant(gen uint64, id domain.ParticipantID) {
	o.mu.Lock()
	s := o.live(gen)
	if s == nil {
		o.mu.Unlock()
		return
	}
	l := s.links.remove(id)
	s.departed[id] = struct{}{}
	delete(s.joined, id)
	_, hadStream := o.streams[id]
	delete(o.streams, id)
	callID := s.callID
	o.mu.Unlock()

	if l != nil {
		l.Close()
	}
	o.recorder.ParticipantStatus(callID, id, domain.ParticipantLeft)
	if hadStream {
		o.emit(Event{Kind: EventStreamRemoved, CallID: callID, Participant: id})
	}
	o.emit(Event{Kind: EventParticipantLeft, CallID: callID, Participant: id})
	o.logger.Info().Str("call", string(callID)).Str("participant", string(id)).Msg("participant left")
}

func (o *Orchestrator) ToggleAudio() bool {
	o.mu.Lock()
	defer o.mu.Unlock()
	if o.sess == nil || o.sess.media == nil {
		return false
	}
	return o.sess.media.ToggleAudio()
}

func (o *Orchestrator) ToggleVideo() bool {
	o.mu.Lock()
	defer o.mu.Unlock()
	if o.sess == nil || o.sess.media == nil {
		return false
	}
	return o.sess.media.ToggleVideo()
}

// RemoteStreams returns a copy of the current remote streams.
func (o *Orchestrator) RemoteStreams() RemoteStreamSet {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.streams.clone()
}

// Events delivers call notifications. Events are dropped while the buffer is full.
func (o *Orchestrator) Events() <-chan Event { return o.events }

func (o *Orchestrator) Peers() map[domain.ParticipantID]peer.Snapshot {
	o.mu.Lock()
	defer o.mu.Unlock()
	out := make(map[domain.ParticipantID]peer.Snapshot)
	if o.sess == nil {
		return out
	}
	for _, l := range o.sess.links.all() {
		out[l.Remote()] = l.Snapshot()
	}
	return out
}

// CallID returns the id of the running call, or "" when idle.
func (o *Orchestrator) CallID() domain.CallID {
	o.mu.Lock()
	defer o.mu.Unlock()
	if o.sess == nil {
		return ""
	}
	return o.sess.callID
}

func (o *Orchestrator) emit(ev Event) {
	select {
	case o.events <- ev:
	default:
		o.logger.Debug().Str("event", string(ev.Kind)).Msg("event buffer full, dropped")
	}
}

func sleepCtx(ctx context.Context, d time.Duration) bool {
	if d <= 0 {
		return ctx.Err() == nil
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return false
	case <-t.C:
		return true
	}
}
