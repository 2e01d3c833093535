// Package peer supervises one peer connection per remote participant.
//
// A Link is an actor: signaling messages, connection callbacks and timers are
// posted to its mailbox and handled one at a time on the link goroutine, so a
// negotiation step never interleaves with another on the same link.
package peer

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/dkeye/meshcall/internal/core"
	"github.com/dkeye/meshcall/internal/domain"
	"github.com/pion/webrtc/v4"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

type Config struct {
	// AnswerTimeout bounds the wait for an answer to a sent offer.
	AnswerTimeout time.Duration
	// RestartTimeout bounds the answering side's wait for an ICE restart offer.
	RestartTimeout time.Duration
	MaxRestarts    int
}

func DefaultConfig() Config {
	return Config{
		AnswerTimeout:  10 * time.Second,
		RestartTimeout: 15 * time.Second,
		MaxRestarts:    1,
	}
}

type Sender interface {
	Send(ctx context.Context, msg core.Message) error
}

// Hooks run on the link goroutine. They must not call Close on the same link.
type Hooks struct {
	OnTrack  func(remote domain.ParticipantID, track core.RemoteTrack)
	OnState  func(snap Snapshot)
	OnFailed func(remote domain.ParticipantID, err error)
}

type Params struct {
	CallID  domain.CallID
	Self    domain.ParticipantID
	Remote  domain.ParticipantID
	Tracks  []webrtc.TrackLocal
	Factory core.ConnectionFactory
	Sender  Sender
	Hooks   Hooks
	Config  Config
}

type Link struct {
	p      Params
	logger zerolog.Logger
	ctx    context.Context
	cancel context.CancelFunc
	done   chan struct{}
	box    *mailbox

	// owned by the link goroutine
	conn         core.MediaConnection
	state        State
	role         Role
	restarting   bool
	restarts     int
	attempts     int
	terminal     bool
	localEpoch   uint32
	remoteEpoch  uint32
	pendingOffer bool
	remoteSet    bool
	buffered     []webrtc.ICECandidateInit
	applied      int
	tracks       int
	timers       [timerCount]*time.Timer
	armed        [timerCount]uint64
	timerSeq     uint64

	snapMu sync.RWMutex
	snap   Snapshot
}

func NewLink(ctx context.Context, p Params) *Link {
	ctx, cancel := context.WithCancel(ctx)
	l := &Link{
		p:      p,
		ctx:    ctx,
		cancel: cancel,
		done:   make(chan struct{}),
		box:    newMailbox(),
		logger: log.With().
			Str("module", "app.peer").
			Str("call", string(p.CallID)).
			Str("remote", string(p.Remote)).
			Logger(),
	}
	l.publish()
	go l.run()
	return l
}

func (l *Link) Remote() domain.ParticipantID { return l.p.Remote }

// Initiate asks the link to send the first offer. Ignored unless the link is idle.
func (l *Link) Initiate() { l.post(event{kind: evInitiate}) }

// Deliver queues an inbound signaling message addressed to this link.
func (l *Link) Deliver(msg core.Message) { l.post(event{kind: evSignal, msg: msg}) }

// Close tears the link down and waits for its goroutine to exit.
func (l *Link) Close() {
	l.cancel()
	<-l.done
}

func (l *Link) Done() <-chan struct{} { return l.done }

func (l *Link) Snapshot() Snapshot {
	l.snapMu.RLock()
	defer l.snapMu.RUnlock()
	return l.snap
}

func (l *Link) post(ev event) {
	if !l.box.post(ev) {
		l.logger.Debug().Int("event", int(ev.kind)).Msg("link closed, event dropped")
	}
}

func (l *Link) run() {
	defer close(l.done)
	for {
		select {
		case <-l.ctx.Done():
			l.shutdown()
			return
		case <-l.box.ready():
			for _, ev := range l.box.take() {
				if l.ctx.Err() != nil {
					break
				}
				l.handle(ev)
			}
		}
	}
}

func (l *Link) handle(ev event) {
	switch ev.kind {
	case evInitiate:
		l.initiate()
	case evSignal:
		l.onSignal(ev.msg)
	case evConnState:
		if ev.conn == l.conn {
			l.onConnState(ev.state)
		}
	case evLocalCandidate:
		if ev.conn == l.conn {
			c := ev.candidate
			l.send(core.Message{Kind: core.KindCandidate, Candidate: &c})
		}
	case evTrack:
		if ev.conn == l.conn {
			l.tracks++
			l.publish()
			if l.p.Hooks.OnTrack != nil {
				l.p.Hooks.OnTrack(l.p.Remote, ev.track)
			}
		}
	case evTimeout:
		l.onTimeout(ev.timer, ev.seq)
	}
}

func (l *Link) initiate() {
	if l.state != Idle || l.terminal {
		l.logger.Debug().Str("state", l.state.String()).Msg("initiate ignored")
		return
	}
	if err := l.ensureConn(); err != nil {
		l.abort(fmt.Errorf("%w: %v", core.ErrNegotiation, err))
		return
	}
	l.role = RoleOfferer
	l.setState(Offering)
	l.offer(offerInitial)
}

func (l *Link) ensureConn() error {
	if l.conn != nil {
		return nil
	}
	conn, err := l.p.Factory.NewConnection(l.ctx, l.p.Remote)
	if err != nil {
		return err
	}
	conn.OnICECandidate(func(c webrtc.ICECandidateInit) {
		l.post(event{kind: evLocalCandidate, candidate: c, conn: conn})
	})
	conn.OnConnectionStateChange(func(s webrtc.PeerConnectionState) {
		l.post(event{kind: evConnState, state: s, conn: conn})
	})
	conn.OnTrack(func(t core.RemoteTrack) {
		l.post(event{kind: evTrack, track: t, conn: conn})
	})
	for _, t := range l.p.Tracks {
		if err := conn.AddLocalTrack(t); err != nil {
			_ = conn.Close()
			return fmt.Errorf("add track %s: %w", t.ID(), err)
		}
	}
	l.conn = conn
	return nil
}

// replaceConn closes the current connection and opens a fresh one. Remote
// candidates must be buffered again until a description reaches the new one.
func (l *Link) replaceConn() error {
	if l.conn != nil {
		if err := l.conn.Close(); err != nil {
			l.logger.Warn().Err(err).Msg("connection close")
		}
		l.conn = nil
	}
	l.pendingOffer = false
	l.disarm(timerAnswer)
	l.remoteSet = false
	l.tracks = 0
	return l.ensureConn()
}

type offerMode int

const (
	offerInitial offerMode = iota
	// offerRestart is an ICE restart on the current connection.
	offerRestart
	// offerReset is the first offer of a replacement connection.
	offerReset
)

func (l *Link) offer(mode offerMode) {
	desc, err := l.conn.CreateAndSetOffer(mode == offerRestart)
	if err != nil {
		l.fail(fmt.Errorf("%w: create offer: %v", core.ErrNegotiation, err))
		return
	}
	l.localEpoch++
	l.pendingOffer = true
	if mode == offerRestart {
		l.remoteSet = false
	}
	l.send(core.Message{Kind: core.KindOffer, Epoch: l.localEpoch, SDP: desc.SDP, Reset: mode == offerReset})
	l.arm(timerAnswer, l.p.Config.AnswerTimeout)
	if mode != offerInitial {
		l.publish()
		return
	}
	l.setState(AwaitingAnswer)
}

func (l *Link) onSignal(msg core.Message) {
	if l.terminal {
		l.logger.Debug().Str("type", string(msg.Kind)).Msg("link failed, message ignored")
		return
	}
	switch msg.Kind {
	case core.KindOffer:
		l.onOffer(msg)
	case core.KindAnswer:
		l.onAnswer(msg)
	case core.KindCandidate:
		if msg.Candidate != nil {
			l.onCandidate(*msg.Candidate)
		}
	}
}

func (l *Link) onOffer(msg core.Message) {
	if msg.Epoch <= l.remoteEpoch {
		l.logger.Info().Uint32("epoch", msg.Epoch).Uint32("applied", l.remoteEpoch).Msg("duplicate offer ignored")
		return
	}
	if msg.Reset {
		// candidates held so far belong to the remote's previous connection
		l.buffered = nil
	}
	switch {
	case l.pendingOffer:
		if !l.polite() {
			l.logger.Info().Uint32("epoch", msg.Epoch).Msg("offer collision, keeping local offer")
			return
		}
		// a local offer cannot be rolled back; answer on a new connection instead
		l.logger.Info().Uint32("epoch", msg.Epoch).Msg("offer collision, replacing local offer")
		if err := l.replaceConn(); err != nil {
			l.abort(fmt.Errorf("%w: %v", core.ErrNegotiation, err))
			return
		}
		l.role = RoleAnswerer
	case msg.Reset && l.conn != nil:
		l.logger.Info().Uint32("epoch", msg.Epoch).Msg("remote connection replaced")
		if err := l.replaceConn(); err != nil {
			l.abort(fmt.Errorf("%w: %v", core.ErrNegotiation, err))
			return
		}
	}
	if err := l.ensureConn(); err != nil {
		l.abort(fmt.Errorf("%w: %v", core.ErrNegotiation, err))
		return
	}
	if l.role == RoleNone {
		l.role = RoleAnswerer
	}
	renegotiation := l.remoteEpoch > 0

	if err := l.conn.SetRemoteDescription(msg.Description()); err != nil {
		l.fail(fmt.Errorf("%w: remote offer: %v", core.ErrNegotiation, err))
		return
	}
	l.remoteEpoch = msg.Epoch
	l.remoteSet = true
	if !l.flushCandidates() {
		return
	}

	desc, err := l.conn.CreateAndSetAnswer()
	if err != nil {
		l.fail(fmt.Errorf("%w: create answer: %v", core.ErrNegotiation, err))
		return
	}
	l.send(core.Message{Kind: core.KindAnswer, Epoch: msg.Epoch, SDP: desc.SDP})
	l.disarm(timerRestart)
	if renegotiation && l.state != Connected {
		l.restarting = true
	}
	l.afterRemoteApplied()
}

func (l *Link) onAnswer(msg core.Message) {
	if !l.pendingOffer || msg.Epoch != l.localEpoch {
		l.logger.Info().Uint32("epoch", msg.Epoch).Uint32("local", l.localEpoch).Bool("pending", l.pendingOffer).Msg("stale answer ignored")
		return
	}
	if err := l.conn.SetRemoteDescription(msg.Description()); err != nil {
		l.fail(fmt.Errorf("%w: remote answer: %v", core.ErrNegotiation, err))
		return
	}
	l.pendingOffer = false
	l.disarm(timerAnswer)
	l.remoteSet = true
	if !l.flushCandidates() {
		return
	}
	l.afterRemoteApplied()
}

func (l *Link) onCandidate(c webrtc.ICECandidateInit) {
	if l.conn == nil || !l.remoteSet {
		l.buffered = append(l.buffered, c)
		l.publish()
		return
	}
	if l.applyCandidate(c) {
		l.publish()
	}
}

func (l *Link) applyCandidate(c webrtc.ICECandidateInit) bool {
	if err := l.conn.AddICECandidate(c); err != nil {
		l.fail(fmt.Errorf("%w: candidate: %v", core.ErrNegotiation, err))
		return false
	}
	l.applied++
	return true
}

// flushCandidates applies buffered candidates in arrival order.
func (l *Link) flushCandidates() bool {
	pending := l.buffered
	l.buffered = nil
	for _, c := range pending {
		if !l.applyCandidate(c) {
			return false
		}
	}
	if len(pending) > 0 {
		l.logger.Debug().Int("count", len(pending)).Msg("buffered candidates flushed")
	}
	return true
}

func (l *Link) afterRemoteApplied() {
	if l.conn.ConnectionState() == webrtc.PeerConnectionStateConnected {
		l.connected()
		return
	}
	l.setState(Connecting)
}

func (l *Link) connected() {
	l.restarting = false
	l.attempts = 0
	l.disarm(timerRestart)
	l.setState(Connected)
}

func (l *Link) onConnState(s webrtc.PeerConnectionState) {
	switch s {
	case webrtc.PeerConnectionStateConnected:
		if l.state != Connected && !l.terminal {
			l.connected()
		}
	case webrtc.PeerConnectionStateFailed:
		l.fail(fmt.Errorf("%w: peer connection failed", core.ErrConnectivity))
	case webrtc.PeerConnectionStateDisconnected:
		l.logger.Warn().Msg("peer connection disconnected")
	default:
	}
}

// fail moves the link to Failed and tries a restart while attempts remain.
// The budget is per failure episode: reaching Connected refills it.
func (l *Link) fail(cause error) {
	if l.terminal || l.state == Closed {
		return
	}
	l.disarm(timerAnswer)
	if l.attempts >= l.p.Config.MaxRestarts || l.conn == nil {
		l.abort(cause)
		return
	}
	l.attempts++
	l.restarts++
	l.restarting = true
	l.setState(Failed)
	l.logger.Warn().Err(cause).Int("attempt", l.attempts).Str("role", l.role.String()).Msg("attempting restart")

	switch {
	case l.role != RoleOfferer:
		// remote candidates wait for the restart offer
		l.remoteSet = false
		l.arm(timerRestart, l.p.Config.RestartTimeout)
	case l.pendingOffer:
		// an unanswered offer cannot be replaced on the same connection
		l.buffered = nil
		if err := l.replaceConn(); err != nil {
			l.abort(fmt.Errorf("%w: %v", core.ErrNegotiation, err))
			return
		}
		l.offer(offerReset)
	default:
		l.offer(offerRestart)
	}
}

// abort is the terminal failure for this peer only.
func (l *Link) abort(cause error) {
	l.terminal = true
	l.restarting = false
	l.pendingOffer = false
	l.disarm(timerAnswer)
	l.disarm(timerRestart)
	l.setState(Failed)
	l.logger.Error().Err(cause).Int("restarts", l.restarts).Msg("peer link failed")
	if l.p.Hooks.OnFailed != nil {
		l.p.Hooks.OnFailed(l.p.Remote, cause)
	}
}

func (l *Link) onTimeout(kind timerKind, seq uint64) {
	if l.armed[kind] != seq {
		return
	}
	l.armed[kind] = 0
	l.timers[kind] = nil
	switch kind {
	case timerAnswer:
		if l.pendingOffer {
			l.fail(core.ErrAnswerTimeout)
		}
	case timerRestart:
		if l.restarting {
			l.fail(core.ErrRestartTimeout)
		}
	}
}

func (l *Link) arm(kind timerKind, d time.Duration) {
	l.disarm(kind)
	if d <= 0 {
		return
	}
	l.timerSeq++
	seq := l.timerSeq
	l.armed[kind] = seq
	l.timers[kind] = time.AfterFunc(d, func() {
		l.post(event{kind: evTimeout, timer: kind, seq: seq})
	})
}

func (l *Link) disarm(kind timerKind) {
	if t := l.timers[kind]; t != nil {
		t.Stop()
	}
	l.timers[kind] = nil
	l.armed[kind] = 0
}

func (l *Link) send(msg core.Message) {
	msg.CallID = l.p.CallID
	msg.From = l.p.Self
	msg.To = l.p.Remote
	if err := l.p.Sender.Send(l.ctx, msg); err != nil {
		l.logger.Warn().Err(fmt.Errorf("%w: %v", core.ErrSignalingSend, err)).Str("type", string(msg.Kind)).Msg("send failed")
	}
}

// polite reports whether this side yields on an offer collision.
func (l *Link) polite() bool { return l.p.Self > l.p.Remote }

func (l *Link) shutdown() {
	l.box.close()
	for k := timerKind(0); k < timerCount; k++ {
		l.disarm(k)
	}
	if l.conn != nil {
		if err := l.conn.Close(); err != nil {
			l.logger.Warn().Err(err).Msg("connection close")
		}
	}
	if n := len(l.buffered); n > 0 {
		l.logger.Debug().Int("count", n).Msg("buffered candidates discarded")
	}
	l.buffered = nil
	l.pendingOffer = false
	l.restarting = false
	l.setState(Closed)
}

func (l *Link) setState(s State) {
	if s != l.state {
		l.logger.Info().Str("from", l.state.String()).Str("to", s.String()).Msg("state")
	}
	l.state = s
	snap := l.publish()
	if l.p.Hooks.OnState != nil {
		l.p.Hooks.OnState(snap)
	}
}

func (l *Link) publish() Snapshot {
	snap := Snapshot{
		Remote:      l.p.Remote,
		State:       l.state,
		StateName:   l.state.String(),
		Role:        l.role.String(),
		Restarting:  l.restarting,
		Restarts:    l.restarts,
		Terminal:    l.terminal,
		LocalEpoch:  l.localEpoch,
		RemoteEpoch: l.remoteEpoch,
		Applied:     l.applied,
		Buffered:    len(l.buffered),
		Tracks:      l.tracks,
	}
	l.snapMu.Lock()
	l.snap = snap
	l.snapMu.Unlock()
	return snap
}
