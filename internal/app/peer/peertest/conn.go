// Package peertest provides an in-memory MediaConnection that behaves like a
// cooperating remote peer. It makes one connection attempt per ICE generation,
// once both descriptions are applied and a remote candidate of that generation
// has been added. Signaling follows pion: an offer cannot be created while
// another is outstanding, and a negotiated remote cannot be replaced by the
// description of a different connection.
package peertest

import (
	"errors"
	"fmt"
	"io"
	"strconv"
	"strings"
	"sync"
	"sync/atomic"

	"github.com/dkeye/meshcall/internal/core"
	"github.com/dkeye/meshcall/internal/domain"
	"github.com/pion/interceptor"
	"github.com/pion/rtp"
	"github.com/pion/webrtc/v4"
)

var (
	ErrNoRemoteDescription = errors.New("remote description not set")
	ErrBadSignalingState   = errors.New("invalid signaling state")
	ErrClosed              = errors.New("connection closed")
	ErrRemoteChanged       = errors.New("remote description from a different connection")
)

var lastConnID atomic.Int64

type trackInfo struct {
	id, stream string
	kind       webrtc.RTPCodecType
}

type description struct {
	owner  domain.ParticipantID
	conn   int64
	gen    int
	tracks []trackInfo
}

func encodeSDP(d description) string {
	var b strings.Builder
	fmt.Fprintf(&b, "fake\nfrom=%s\nconn=%d\ngen=%d\n", d.owner, d.conn, d.gen)
	for _, t := range d.tracks {
		fmt.Fprintf(&b, "track=%s %s %s\n", t.id, t.stream, t.kind)
	}
	return b.String()
}

func parseSDP(sdp string) (description, error) {
	lines := strings.Split(strings.TrimSpace(sdp), "\n")
	if len(lines) < 4 || lines[0] != "fake" {
		return description{}, fmt.Errorf("malformed sdp")
	}
	var d description
	for _, line := range lines[1:] {
		key, val, ok := strings.Cut(line, "=")
		if !ok {
			return description{}, fmt.Errorf("malformed sdp line %q", line)
		}
		switch key {
		case "from":
			d.owner = domain.ParticipantID(val)
		case "conn":
			n, err := strconv.ParseInt(val, 10, 64)
			if err != nil {
				return description{}, err
			}
			d.conn = n
		case "gen":
			n, err := strconv.Atoi(val)
			if err != nil {
				return description{}, err
			}
			d.gen = n
		case "track":
			f := strings.Fields(val)
			if len(f) != 3 {
				return description{}, fmt.Errorf("malformed track %q", val)
			}
			d.tracks = append(d.tracks, trackInfo{id: f[0], stream: f[1], kind: webrtc.NewRTPCodecType(f[2])})
		}
	}
	return d, nil
}

// Candidate builds a candidate string understood by Conn. Extra fields after
// the generation are ignored and may be used to tell candidates apart.
func Candidate(owner domain.ParticipantID, gen int) webrtc.ICECandidateInit {
	mid := "0"
	idx := uint16(0)
	return webrtc.ICECandidateInit{
		Candidate:     fmt.Sprintf("candidate:fake %s %d", owner, gen),
		SDPMid:        &mid,
		SDPMLineIndex: &idx,
	}
}

func candidateGen(c string) (int, error) {
	f := strings.Fields(c)
	if len(f) < 3 || f[0] != "candidate:fake" {
		return 0, fmt.Errorf("malformed candidate %q", c)
	}
	return strconv.Atoi(f[2])
}

type Conn struct {
	Owner  domain.ParticipantID
	Remote domain.ParticipantID

	id           int64
	mu           sync.Mutex
	tracks       []trackInfo
	localGen     int
	local        *description
	remote       *description
	haveOffer    bool
	seenGen      int
	attemptedGen int
	applied      []string
	state        webrtc.PeerConnectionState
	surfaced     map[string]*RemoteTrack
	failConnects int
	closed       bool
	offers       int
	answers      int

	onICE   func(webrtc.ICECandidateInit)
	onState func(webrtc.PeerConnectionState)
	onTrack func(core.RemoteTrack)
}

func NewConn(owner, remote domain.ParticipantID) *Conn {
	return &Conn{
		Owner:    owner,
		Remote:   remote,
		id:       lastConnID.Add(1),
		state:    webrtc.PeerConnectionStateNew,
		surfaced: make(map[string]*RemoteTrack),
	}
}

// FailNextConnects reports the next n connection attempts as failed.
func (c *Conn) FailNextConnects(n int) {
	c.mu.Lock()
	c.failConnects = n
	c.mu.Unlock()
}

// Fail simulates the transport reporting a connectivity failure.
func (c *Conn) Fail() {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return
	}
	c.state = webrtc.PeerConnectionStateFailed
	fn := c.onState
	c.mu.Unlock()
	if fn != nil {
		fn(webrtc.PeerConnectionStateFailed)
	}
}

func (c *Conn) AddLocalTrack(t webrtc.TrackLocal) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return ErrClosed
	}
	c.tracks = append(c.tracks, trackInfo{id: t.ID(), stream: t.StreamID(), kind: t.Kind()})
	return nil
}

func (c *Conn) CreateAndSetOffer(iceRestart bool) (webrtc.SessionDescription, error) {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return webrtc.SessionDescription{}, ErrClosed
	}
	if c.haveOffer {
		c.mu.Unlock()
		return webrtc.SessionDescription{}, ErrBadSignalingState
	}
	if iceRestart || c.localGen == 0 {
		c.localGen++
	}
	d := description{owner: c.Owner, conn: c.id, gen: c.localGen, tracks: c.tracks}
	c.local = &d
	c.haveOffer = true
	c.offers++
	fn := c.onICE
	gen := c.localGen
	c.mu.Unlock()

	if fn != nil {
		fn(Candidate(c.Owner, gen))
	}
	return webrtc.SessionDescription{Type: webrtc.SDPTypeOffer, SDP: encodeSDP(d)}, nil
}

func (c *Conn) CreateAndSetAnswer() (webrtc.SessionDescription, error) {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return webrtc.SessionDescription{}, ErrClosed
	}
	if c.remote == nil || c.haveOffer {
		c.mu.Unlock()
		return webrtc.SessionDescription{}, ErrBadSignalingState
	}
	if c.localGen < c.remote.gen {
		c.localGen = c.remote.gen
	}
	d := description{owner: c.Owner, conn: c.id, gen: c.localGen, tracks: c.tracks}
	c.local = &d
	c.answers++
	fn := c.onICE
	gen := c.localGen
	c.mu.Unlock()

	if fn != nil {
		fn(Candidate(c.Owner, gen))
	}
	c.maybeConnect()
	return webrtc.SessionDescription{Type: webrtc.SDPTypeAnswer, SDP: encodeSDP(d)}, nil
}

func (c *Conn) SetRemoteDescription(sd webrtc.SessionDescription) error {
	d, err := parseSDP(sd.SDP)
	if err != nil {
		return err
	}
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return ErrClosed
	}
	if c.remote != nil && c.remote.conn != d.conn {
		c.mu.Unlock()
		return ErrRemoteChanged
	}
	switch sd.Type {
	case webrtc.SDPTypeAnswer:
		if !c.haveOffer {
			c.mu.Unlock()
			return ErrBadSignalingState
		}
		c.haveOffer = false
	case webrtc.SDPTypeOffer:
		if c.haveOffer {
			c.mu.Unlock()
			return ErrBadSignalingState
		}
	}
	c.remote = &d
	c.mu.Unlock()
	c.maybeConnect()
	return nil
}

func (c *Conn) AddICECandidate(ci webrtc.ICECandidateInit) error {
	gen, err := candidateGen(ci.Candidate)
	if err != nil {
		return err
	}
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return ErrClosed
	}
	if c.remote == nil {
		c.mu.Unlock()
		return ErrNoRemoteDescription
	}
	c.applied = append(c.applied, ci.Candidate)
	if gen > c.seenGen {
		c.seenGen = gen
	}
	c.mu.Unlock()
	c.maybeConnect()
	return nil
}

func (c *Conn) maybeConnect() {
	c.mu.Lock()
	if c.closed || c.local == nil || c.remote == nil || c.haveOffer ||
		c.seenGen < c.remote.gen || c.attemptedGen >= c.remote.gen {
		c.mu.Unlock()
		return
	}
	c.attemptedGen = c.remote.gen
	next := webrtc.PeerConnectionStateConnected
	if c.failConnects > 0 {
		c.failConnects--
		next = webrtc.PeerConnectionStateFailed
	}
	c.state = next
	var fresh []*RemoteTrack
	if next == webrtc.PeerConnectionStateConnected {
		for _, t := range c.remote.tracks {
			if _, ok := c.surfaced[t.id]; ok {
				continue
			}
			rt := &RemoteTrack{id: t.id, stream: t.stream, kind: t.kind, done: make(chan struct{})}
			c.surfaced[t.id] = rt
			fresh = append(fresh, rt)
		}
	}
	onState, onTrack := c.onState, c.onTrack
	c.mu.Unlock()

	if onState != nil {
		onState(next)
	}
	if onTrack != nil {
		for _, rt := range fresh {
			onTrack(rt)
		}
	}
}

func (c *Conn) ConnectionState() webrtc.PeerConnectionState {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

func (c *Conn) OnICECandidate(fn func(webrtc.ICECandidateInit)) {
	c.mu.Lock()
	c.onICE = fn
	c.mu.Unlock()
}

func (c *Conn) OnConnectionStateChange(fn func(webrtc.PeerConnectionState)) {
	c.mu.Lock()
	c.onState = fn
	c.mu.Unlock()
}

func (c *Conn) OnTrack(fn func(core.RemoteTrack)) {
	c.mu.Lock()
	c.onTrack = fn
	c.mu.Unlock()
}

func (c *Conn) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return nil
	}
	c.closed = true
	c.state = webrtc.PeerConnectionStateClosed
	for _, rt := range c.surfaced {
		close(rt.done)
	}
	return nil
}

func (c *Conn) Closed() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.closed
}

// Offers counts created offers, including ICE restarts.
func (c *Conn) Offers() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.offers
}

func (c *Conn) Answers() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.answers
}

// Applied lists remote candidates in the order they were added.
func (c *Conn) Applied() []string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]string(nil), c.applied...)
}

func (c *Conn) LocalTracks() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.tracks)
}

// RemoteTrack blocks in ReadRTP until its connection closes.
type RemoteTrack struct {
	id, stream string
	kind       webrtc.RTPCodecType
	done       chan struct{}
}

func (t *RemoteTrack) ID() string                { return t.id }
func (t *RemoteTrack) StreamID() string          { return t.stream }
func (t *RemoteTrack) Kind() webrtc.RTPCodecType { return t.kind }

func (t *RemoteTrack) ReadRTP() (*rtp.Packet, interceptor.Attributes, error) {
	<-t.done
	return nil, nil, io.EOF
}
