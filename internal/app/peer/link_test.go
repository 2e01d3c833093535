package peer

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/dkeye/meshcall/internal/app/peer/peertest"
	"github.com/dkeye/meshcall/internal/core"
	"github.com/dkeye/meshcall/internal/domain"
	"github.com/pion/webrtc/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const (
	waitFor = 2 * time.Second
	tick    = 5 * time.Millisecond
)

type outbox struct {
	mu   sync.Mutex
	msgs []core.Message
	err  error
}

func (o *outbox) Send(_ context.Context, msg core.Message) error {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.msgs = append(o.msgs, msg)
	return o.err
}

func (o *outbox) of(kind core.MessageKind) []core.Message {
	o.mu.Lock()
	defer o.mu.Unlock()
	var out []core.Message
	for _, m := range o.msgs {
		if m.Kind == kind {
			out = append(out, m)
		}
	}
	return out
}

type hookLog struct {
	mu     sync.Mutex
	states []Snapshot
	failed []error
	tracks []core.RemoteTrack
}

func (h *hookLog) hooks() Hooks {
	return Hooks{
		OnTrack: func(_ domain.ParticipantID, t core.RemoteTrack) {
			h.mu.Lock()
			h.tracks = append(h.tracks, t)
			h.mu.Unlock()
		},
		OnState: func(s Snapshot) {
			h.mu.Lock()
			h.states = append(h.states, s)
			h.mu.Unlock()
		},
		OnFailed: func(_ domain.ParticipantID, err error) {
			h.mu.Lock()
			h.failed = append(h.failed, err)
			h.mu.Unlock()
		},
	}
}

func (h *hookLog) failures() []error {
	h.mu.Lock()
	defer h.mu.Unlock()
	return append([]error(nil), h.failed...)
}

func (h *hookLog) trackCount() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.tracks)
}

func (h *hookLog) stateCount() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.states)
}

type harness struct {
	link    *Link
	factory *peertest.Factory
	out     *outbox
	hooks   *hookLog
}

func audioTrack(t *testing.T, stream string) webrtc.TrackLocal {
	t.Helper()
	tr, err := webrtc.NewTrackLocalStaticSample(webrtc.RTPCodecCapability{MimeType: webrtc.MimeTypeOpus}, "audio", stream)
	require.NoError(t, err)
	return tr
}

func newHarness(t *testing.T, self, remote domain.ParticipantID, cfg Config) *harness {
	t.Helper()
	h := &harness{
		factory: peertest.NewFactory(self),
		out:     &outbox{},
		hooks:   &hookLog{},
	}
	h.link = NewLink(context.Background(), Params{
		CallID:  "call-1",
		Self:    self,
		Remote:  remote,
		Tracks:  []webrtc.TrackLocal{audioTrack(t, string(self))},
		Factory: h.factory,
		Sender:  h.out,
		Hooks:   h.hooks.hooks(),
		Config:  cfg,
	})
	t.Cleanup(h.link.Close)
	return h
}

func (h *harness) waitState(t *testing.T, s State) {
	t.Helper()
	require.Eventually(t, func() bool { return h.link.Snapshot().State == s }, waitFor, tick,
		"want state %s, have %s", s, h.link.Snapshot().State)
}

func (h *harness) waitOffer(t *testing.T, epoch uint32) core.Message {
	t.Helper()
	var found core.Message
	require.Eventually(t, func() bool {
		for _, m := range h.out.of(core.KindOffer) {
			if m.Epoch == epoch {
				found = m
				return true
			}
		}
		return false
	}, waitFor, tick)
	return found
}

func (h *harness) conn() *peertest.Conn { return h.factory.Conn(h.link.Remote()) }

func inbound(kind core.MessageKind, epoch uint32, sd webrtc.SessionDescription) core.Message {
	return core.Message{Kind: kind, CallID: "call-1", From: "bob", To: "alice", Epoch: epoch, SDP: sd.SDP}
}

func candidateMsg(c webrtc.ICECandidateInit) core.Message {
	return core.Message{Kind: core.KindCandidate, CallID: "call-1", From: "bob", To: "alice", Candidate: &c}
}

// answerFrom lets the fake remote answer an offer sent by the link under test.
func answerFrom(t *testing.T, remote *peertest.Conn, offer core.Message) webrtc.SessionDescription {
	t.Helper()
	require.NoError(t, remote.SetRemoteDescription(offer.Description()))
	ans, err := remote.CreateAndSetAnswer()
	require.NoError(t, err)
	return ans
}

func fastConfig() Config {
	return Config{AnswerTimeout: time.Minute, RestartTimeout: time.Minute, MaxRestarts: 1}
}

func TestInitiateSendsSingleOffer(t *testing.T) {
	h := newHarness(t, "alice", "bob", fastConfig())

	h.link.Initiate()
	offer := h.waitOffer(t, 1)
	h.waitState(t, AwaitingAnswer)

	assert.Equal(t, domain.CallID("call-1"), offer.CallID)
	assert.Equal(t, domain.ParticipantID("alice"), offer.From)
	assert.Equal(t, domain.ParticipantID("bob"), offer.To)
	require.Eventually(t, func() bool { return len(h.out.of(core.KindCandidate)) == 1 }, waitFor, tick)

	h.link.Initiate()
	time.Sleep(20 * time.Millisecond)
	assert.Len(t, h.out.of(core.KindOffer), 1)
	assert.Equal(t, "offerer", h.link.Snapshot().Role)
	assert.Equal(t, 1, h.conn().LocalTracks())
}

func TestOfferAnswerConnects(t *testing.T) {
	h := newHarness(t, "alice", "bob", fastConfig())
	bob := peertest.NewConn("bob", "alice")
	require.NoError(t, bob.AddLocalTrack(audioTrack(t, "bob")))

	h.link.Initiate()
	offer := h.waitOffer(t, 1)

	h.link.Deliver(inbound(core.KindAnswer, 1, answerFrom(t, bob, offer)))
	h.waitState(t, Connecting)

	h.link.Deliver(candidateMsg(peertest.Candidate("bob", 1)))
	h.waitState(t, Connected)
	require.Eventually(t, func() bool { return h.hooks.trackCount() == 1 }, waitFor, tick)

	snap := h.link.Snapshot()
	assert.Equal(t, 1, snap.Applied)
	assert.Equal(t, 1, snap.Tracks)
	assert.False(t, snap.Restarting)
	assert.Empty(t, h.hooks.failures())
}

func TestDuplicateAnswerIgnored(t *testing.T) {
	h := newHarness(t, "alice", "bob", fastConfig())
	bob := peertest.NewConn("bob", "alice")

	h.link.Initiate()
	offer := h.waitOffer(t, 1)
	answer := inbound(core.KindAnswer, 1, answerFrom(t, bob, offer))

	h.link.Deliver(answer)
	h.link.Deliver(candidateMsg(peertest.Candidate("bob", 1)))
	h.waitState(t, Connected)

	h.link.Deliver(answer)
	time.Sleep(20 * time.Millisecond)

	snap := h.link.Snapshot()
	assert.Equal(t, Connected, snap.State)
	assert.Zero(t, snap.Restarts)
	assert.Len(t, h.out.of(core.KindOffer), 1)
}

func TestDuplicateOfferAnsweredOnce(t *testing.T) {
	h := newHarness(t, "alice", "bob", fastConfig())
	bob := peertest.NewConn("bob", "alice")
	sd, err := bob.CreateAndSetOffer(false)
	require.NoError(t, err)
	offer := inbound(core.KindOffer, 1, sd)

	h.link.Deliver(offer)
	h.link.Deliver(offer)
	h.waitState(t, Connecting)
	time.Sleep(20 * time.Millisecond)

	answers := h.out.of(core.KindAnswer)
	require.Len(t, answers, 1)
	assert.Equal(t, uint32(1), answers[0].Epoch)
	assert.Equal(t, 1, h.conn().Answers())
	assert.Equal(t, uint32(1), h.link.Snapshot().RemoteEpoch)
	assert.Equal(t, "answerer", h.link.Snapshot().Role)
}

func TestCandidatesBufferedUntilRemoteDescription(t *testing.T) {
	h := newHarness(t, "alice", "bob", fastConfig())
	bob := peertest.NewConn("bob", "alice")
	sd, err := bob.CreateAndSetOffer(false)
	require.NoError(t, err)

	labels := []string{"c1", "c2", "c3"}
	var want []string
	for _, l := range labels {
		c := peertest.Candidate("bob", 1)
		c.Candidate += " " + l
		want = append(want, c.Candidate)
		h.link.Deliver(candidateMsg(c))
	}
	require.Eventually(t, func() bool { return h.link.Snapshot().Buffered == 3 }, waitFor, tick)
	assert.Nil(t, h.conn())

	h.link.Deliver(inbound(core.KindOffer, 1, sd))
	h.waitState(t, Connected)

	assert.Equal(t, want, h.conn().Applied())
	snap := h.link.Snapshot()
	assert.Zero(t, snap.Buffered)
	assert.Equal(t, 3, snap.Applied)
}

func TestAnswerTimeoutReplacesConnectionOnceThenFails(t *testing.T) {
	cfg := fastConfig()
	cfg.AnswerTimeout = 30 * time.Millisecond
	h := newHarness(t, "alice", "bob", cfg)

	h.link.Initiate()
	first := h.waitOffer(t, 1)
	assert.False(t, first.Reset)

	retry := h.waitOffer(t, 2)
	assert.True(t, retry.Reset)
	assert.NotEqual(t, first.SDP, retry.SDP)

	require.Eventually(t, func() bool { return len(h.hooks.failures()) == 1 }, waitFor, tick)
	assert.ErrorIs(t, h.hooks.failures()[0], core.ErrAnswerTimeout)

	snap := h.link.Snapshot()
	assert.True(t, snap.Terminal)
	assert.Equal(t, Failed, snap.State)
	assert.Equal(t, 1, snap.Restarts)
	assert.Len(t, h.out.of(core.KindOffer), 2)
	require.Equal(t, 2, h.factory.Count())
	stale := h.factory.All()[0]
	assert.True(t, stale.Closed())
	assert.Equal(t, 1, stale.Offers())
}

func TestAnswerAfterReplacementConnects(t *testing.T) {
	cfg := fastConfig()
	cfg.AnswerTimeout = 150 * time.Millisecond
	h := newHarness(t, "alice", "bob", cfg)

	h.link.Initiate()
	h.waitOffer(t, 1)
	// a candidate for the abandoned offer must not reach the new connection
	h.link.Deliver(candidateMsg(peertest.Candidate("bob", 1)))
	require.Eventually(t, func() bool { return h.link.Snapshot().Buffered == 1 }, waitFor, tick)
	retry := h.waitOffer(t, 2)
	h.link.Deliver(candidateMsg(peertest.Candidate("bob", 7)))
	require.Eventually(t, func() bool { return h.link.Snapshot().Buffered == 1 }, waitFor, tick)

	bob := peertest.NewConn("bob", "alice")
	h.link.Deliver(inbound(core.KindAnswer, 2, answerFrom(t, bob, retry)))
	h.waitState(t, Connected)

	assert.Equal(t, []string{peertest.Candidate("bob", 7).Candidate}, h.conn().Applied())
	snap := h.link.Snapshot()
	assert.False(t, snap.Restarting)
	assert.False(t, snap.Terminal)
	assert.Empty(t, h.hooks.failures())
}

func TestConnectivityFailureRestartRecovers(t *testing.T) {
	h := newHarness(t, "alice", "bob", fastConfig())
	bob := peertest.NewConn("bob", "alice")

	h.link.Initiate()
	offer := h.waitOffer(t, 1)
	h.link.Deliver(inbound(core.KindAnswer, 1, answerFrom(t, bob, offer)))
	h.link.Deliver(candidateMsg(peertest.Candidate("bob", 1)))
	h.waitState(t, Connected)

	h.conn().Fail()
	restart := h.waitOffer(t, 2)
	require.Eventually(t, func() bool { return h.link.Snapshot().Restarting }, waitFor, tick)

	h.link.Deliver(inbound(core.KindAnswer, 2, answerFrom(t, bob, restart)))
	h.link.Deliver(candidateMsg(peertest.Candidate("bob", 2)))
	h.waitState(t, Connected)

	snap := h.link.Snapshot()
	assert.Equal(t, 1, snap.Restarts)
	assert.False(t, snap.Restarting)
	assert.False(t, snap.Terminal)
	assert.Equal(t, 1, h.factory.Count())
	assert.False(t, restart.Reset)
}

func TestRestartBudgetRefillsAfterRecovery(t *testing.T) {
	h := newHarness(t, "alice", "bob", fastConfig())
	bob := peertest.NewConn("bob", "alice")

	h.link.Initiate()
	offer := h.waitOffer(t, 1)
	h.link.Deliver(inbound(core.KindAnswer, 1, answerFrom(t, bob, offer)))
	h.link.Deliver(candidateMsg(peertest.Candidate("bob", 1)))
	h.waitState(t, Connected)

	h.conn().Fail()
	restart := h.waitOffer(t, 2)
	h.link.Deliver(inbound(core.KindAnswer, 2, answerFrom(t, bob, restart)))
	h.link.Deliver(candidateMsg(peertest.Candidate("bob", 2)))
	h.waitState(t, Connected)

	// a new outage gets its own attempt
	h.conn().Fail()
	h.waitOffer(t, 3)
	snap := h.link.Snapshot()
	assert.Equal(t, 2, snap.Restarts)
	assert.False(t, snap.Terminal)
	assert.Empty(t, h.hooks.failures())

	// a second failure within the same outage exhausts it
	h.conn().Fail()
	require.Eventually(t, func() bool { return len(h.hooks.failures()) == 1 }, waitFor, tick)
	assert.ErrorIs(t, h.hooks.failures()[0], core.ErrConnectivity)
	assert.True(t, h.link.Snapshot().Terminal)
	assert.Len(t, h.out.of(core.KindOffer), 3)
	assert.Equal(t, 1, h.factory.Count())
}

func TestAnswererWaitsForRestartOffer(t *testing.T) {
	cfg := fastConfig()
	cfg.RestartTimeout = 40 * time.Millisecond
	h := newHarness(t, "alice", "bob", cfg)
	bob := peertest.NewConn("bob", "alice")
	sd, err := bob.CreateAndSetOffer(false)
	require.NoError(t, err)

	h.link.Deliver(inbound(core.KindOffer, 1, sd))
	h.link.Deliver(candidateMsg(peertest.Candidate("bob", 1)))
	h.waitState(t, Connected)

	h.conn().Fail()
	require.Eventually(t, func() bool { return len(h.hooks.failures()) == 1 }, waitFor, tick)
	assert.ErrorIs(t, h.hooks.failures()[0], core.ErrRestartTimeout)
	assert.Empty(t, h.out.of(core.KindOffer))
	assert.Equal(t, 1, h.link.Snapshot().Restarts)
}

func TestAnswererAcceptsRestartOffer(t *testing.T) {
	h := newHarness(t, "alice", "bob", fastConfig())
	bob := peertest.NewConn("bob", "alice")
	sd, err := bob.CreateAndSetOffer(false)
	require.NoError(t, err)

	h.link.Deliver(inbound(core.KindOffer, 1, sd))
	h.link.Deliver(candidateMsg(peertest.Candidate("bob", 1)))
	h.waitState(t, Connected)

	h.conn().Fail()
	require.Eventually(t, func() bool { return h.link.Snapshot().Restarting }, waitFor, tick)

	require.NoError(t, bob.SetRemoteDescription(h.out.of(core.KindAnswer)[0].Description()))
	restart, err := bob.CreateAndSetOffer(true)
	require.NoError(t, err)
	h.link.Deliver(inbound(core.KindOffer, 2, restart))
	h.link.Deliver(candidateMsg(peertest.Candidate("bob", 2)))
	h.waitState(t, Connected)

	assert.Len(t, h.out.of(core.KindAnswer), 2)
	assert.Equal(t, uint32(2), h.link.Snapshot().RemoteEpoch)
	assert.Empty(t, h.hooks.failures())
}

func TestAnswererBuffersCandidatesUntilRestartOffer(t *testing.T) {
	h := newHarness(t, "alice", "bob", fastConfig())
	bob := peertest.NewConn("bob", "alice")
	sd, err := bob.CreateAndSetOffer(false)
	require.NoError(t, err)

	h.link.Deliver(inbound(core.KindOffer, 1, sd))
	h.link.Deliver(candidateMsg(peertest.Candidate("bob", 1)))
	h.waitState(t, Connected)

	h.conn().Fail()
	require.Eventually(t, func() bool { return h.link.Snapshot().Restarting }, waitFor, tick)

	early := peertest.Candidate("bob", 2)
	h.link.Deliver(candidateMsg(early))
	require.Eventually(t, func() bool { return h.link.Snapshot().Buffered == 1 }, waitFor, tick)
	assert.Len(t, h.conn().Applied(), 1)

	require.NoError(t, bob.SetRemoteDescription(h.out.of(core.KindAnswer)[0].Description()))
	restart, err := bob.CreateAndSetOffer(true)
	require.NoError(t, err)
	h.link.Deliver(inbound(core.KindOffer, 2, restart))
	h.waitState(t, Connected)

	applied := h.conn().Applied()
	require.Len(t, applied, 2)
	assert.Equal(t, early.Candidate, applied[1])
	assert.Zero(t, h.link.Snapshot().Buffered)
	assert.Empty(t, h.hooks.failures())
}

func TestResetOfferReplacesAnswererConnection(t *testing.T) {
	h := newHarness(t, "alice", "bob", fastConfig())
	bob := peertest.NewConn("bob", "alice")
	sd, err := bob.CreateAndSetOffer(false)
	require.NoError(t, err)

	h.link.Deliver(inbound(core.KindOffer, 1, sd))
	h.link.Deliver(candidateMsg(peertest.Candidate("bob", 1)))
	h.waitState(t, Connected)
	stale := h.conn()

	fresh := peertest.NewConn("bob", "alice")
	sd, err = fresh.CreateAndSetOffer(false)
	require.NoError(t, err)
	reset := inbound(core.KindOffer, 2, sd)
	reset.Reset = true
	h.link.Deliver(reset)
	h.link.Deliver(candidateMsg(peertest.Candidate("bob", 1)))

	require.Eventually(t, func() bool { return len(h.out.of(core.KindAnswer)) == 2 }, waitFor, tick)
	require.Equal(t, 2, h.factory.Count())
	require.Eventually(t, func() bool {
		return h.conn().ConnectionState() == webrtc.PeerConnectionStateConnected
	}, waitFor, tick)
	h.waitState(t, Connected)
	assert.True(t, stale.Closed())
	require.NoError(t, fresh.SetRemoteDescription(h.out.of(core.KindAnswer)[1].Description()))
	assert.Empty(t, h.hooks.failures())
}

func TestOfferFromAnotherConnectionWithoutResetFails(t *testing.T) {
	h := newHarness(t, "alice", "bob", Config{MaxRestarts: 0})
	bob := peertest.NewConn("bob", "alice")
	sd, err := bob.CreateAndSetOffer(false)
	require.NoError(t, err)

	h.link.Deliver(inbound(core.KindOffer, 1, sd))
	h.link.Deliver(candidateMsg(peertest.Candidate("bob", 1)))
	h.waitState(t, Connected)

	other := peertest.NewConn("bob", "alice")
	sd, err = other.CreateAndSetOffer(false)
	require.NoError(t, err)
	h.link.Deliver(inbound(core.KindOffer, 2, sd))

	require.Eventually(t, func() bool { return len(h.hooks.failures()) == 1 }, waitFor, tick)
	assert.ErrorIs(t, h.hooks.failures()[0], core.ErrNegotiation)
	assert.Equal(t, 1, h.factory.Count())
}

func TestGlarePoliteSideAnswersOnFreshConnection(t *testing.T) {
	// "bob" > "alice", so bob yields
	h := newHarness(t, "bob", "alice", fastConfig())
	alice := peertest.NewConn("alice", "bob")

	h.link.Initiate()
	h.waitOffer(t, 1)
	abandoned := h.conn()

	sd, err := alice.CreateAndSetOffer(false)
	require.NoError(t, err)
	h.link.Deliver(core.Message{Kind: core.KindOffer, CallID: "call-1", From: "alice", To: "bob", Epoch: 1, SDP: sd.SDP})

	require.Eventually(t, func() bool { return len(h.out.of(core.KindAnswer)) == 1 }, waitFor, tick)
	assert.Equal(t, "answerer", h.link.Snapshot().Role)
	assert.Equal(t, 2, h.factory.Count())
	assert.True(t, abandoned.Closed())
	assert.Zero(t, h.conn().Offers())

	require.NoError(t, alice.SetRemoteDescription(h.out.of(core.KindAnswer)[0].Description()))
	h.link.Deliver(core.Message{Kind: core.KindCandidate, CallID: "call-1", From: "alice", To: "bob", Candidate: ptr(peertest.Candidate("alice", 1))})
	h.waitState(t, Connected)
	assert.Empty(t, h.hooks.failures())
}

func ptr[T any](v T) *T { return &v }

func TestGlareImpoliteSideKeepsOffer(t *testing.T) {
	h := newHarness(t, "alice", "bob", fastConfig())
	bob := peertest.NewConn("bob", "alice")

	h.link.Initiate()
	h.waitOffer(t, 1)

	sd, err := bob.CreateAndSetOffer(false)
	require.NoError(t, err)
	h.link.Deliver(inbound(core.KindOffer, 1, sd))
	time.Sleep(20 * time.Millisecond)

	assert.Empty(t, h.out.of(core.KindAnswer))
	assert.Equal(t, 1, h.factory.Count())
	assert.Equal(t, AwaitingAnswer, h.link.Snapshot().State)
}

func TestMalformedOfferIsNegotiationFailure(t *testing.T) {
	h := newHarness(t, "alice", "bob", Config{MaxRestarts: 0})

	h.link.Deliver(core.Message{Kind: core.KindOffer, CallID: "call-1", From: "bob", To: "alice", Epoch: 1, SDP: "garbage"})

	require.Eventually(t, func() bool { return len(h.hooks.failures()) == 1 }, waitFor, tick)
	assert.ErrorIs(t, h.hooks.failures()[0], core.ErrNegotiation)
	assert.Empty(t, h.out.of(core.KindAnswer))
}

func TestMalformedCandidateTriggersRestart(t *testing.T) {
	h := newHarness(t, "alice", "bob", fastConfig())
	bob := peertest.NewConn("bob", "alice")

	h.link.Initiate()
	offer := h.waitOffer(t, 1)
	h.link.Deliver(inbound(core.KindAnswer, 1, answerFrom(t, bob, offer)))
	h.waitState(t, Connecting)

	h.link.Deliver(candidateMsg(webrtc.ICECandidateInit{Candidate: "not-a-candidate"}))
	h.waitOffer(t, 2)
	assert.Equal(t, 1, h.link.Snapshot().Restarts)
}

func TestFactoryErrorIsTerminal(t *testing.T) {
	h := newHarness(t, "alice", "bob", fastConfig())
	h.factory.Err = errors.New("no ports")

	h.link.Initiate()
	require.Eventually(t, func() bool { return len(h.hooks.failures()) == 1 }, waitFor, tick)
	assert.ErrorIs(t, h.hooks.failures()[0], core.ErrNegotiation)
	assert.True(t, h.link.Snapshot().Terminal)
	assert.Empty(t, h.out.of(core.KindOffer))
}

func TestSendErrorDoesNotStallLink(t *testing.T) {
	h := newHarness(t, "alice", "bob", fastConfig())
	h.out.mu.Lock()
	h.out.err = errors.New("socket closed")
	h.out.mu.Unlock()

	h.link.Initiate()
	h.waitState(t, AwaitingAnswer)
	assert.Len(t, h.out.of(core.KindOffer), 1)
}

func TestCloseDiscardsLaterMessages(t *testing.T) {
	h := newHarness(t, "alice", "bob", fastConfig())
	bob := peertest.NewConn("bob", "alice")

	h.link.Initiate()
	h.waitOffer(t, 1)
	h.link.Deliver(candidateMsg(peertest.Candidate("bob", 1)))
	require.Eventually(t, func() bool { return h.link.Snapshot().Buffered == 1 }, waitFor, tick)

	h.link.Close()
	snap := h.link.Snapshot()
	assert.Equal(t, Closed, snap.State)
	assert.Zero(t, snap.Buffered)
	assert.True(t, h.conn().Closed())

	states := h.hooks.stateCount()
	sd, err := bob.CreateAndSetOffer(false)
	require.NoError(t, err)
	h.link.Deliver(inbound(core.KindOffer, 5, sd))
	h.link.Initiate()
	time.Sleep(20 * time.Millisecond)

	assert.Equal(t, states, h.hooks.stateCount())
	assert.Equal(t, Closed, h.link.Snapshot().State)
	assert.Empty(t, h.out.of(core.KindAnswer))

	select {
	case <-h.link.Done():
	default:
		t.Fatal("link goroutine still running")
	}
}
