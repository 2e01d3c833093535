package signal

import (
	"context"
	"errors"
	"net/http"
	"sync"
	"time"

	"github.com/dkeye/meshcall/internal/app"
	"github.com/dkeye/meshcall/internal/core"
	"github.com/dkeye/meshcall/internal/domain"
	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/rs/zerolog/log"
)

var (
	ErrBackpressure = errors.New("backpressure")
	ErrConnClosed   = errors.New("connection closed")
)

type Options struct {
	ReadLimit    int64
	PingPeriod   time.Duration
	WriteWait    time.Duration
	SendBuffer   int
	RateLimit    int
	RateInterval time.Duration
}

func DefaultOptions() Options {
	return Options{
		ReadLimit:    32768,
		PingPeriod:   54 * time.Second,
		WriteWait:    5 * time.Second,
		SendBuffer:   32,
		RateLimit:    200,
		RateInterval: time.Second,
	}
}

// pongWait is how long a connection may stay silent before it is dropped.
func (o Options) pongWait() time.Duration { return o.PingPeriod * 10 / 9 }

type SignalWSController struct {
	Hub     *app.Hub
	Limiter *RateLimiter
	opts    Options
}

func NewSignalWSController(hub *app.Hub, opts Options) *SignalWSController {
	return &SignalWSController{
		Hub:     hub,
		Limiter: NewRateLimiter(opts.RateLimit, opts.RateInterval),
		opts:    opts,
	}
}

type WsSignalConn struct {
	conn *websocket.Conn
	send chan core.Frame

	mu     sync.RWMutex
	closed bool
}

func (c *WsSignalConn) TrySend(f core.Frame) error {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if c.closed {
		return ErrConnClosed
	}
	select {
	case c.send <- f:
	default:
		return ErrBackpressure
	}
	return nil
}

func (c *WsSignalConn) Close() {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return
	}
	c.closed = true
	close(c.send)
	_ = c.conn.Close()
	c.mu.Unlock()
}

var upgrader = websocket.Upgrader{
	CheckOrigin: func(r *http.Request) bool { return true },
}

// HandleSignal upgrades GET /api/ws/signal?call=<id>&participant=<id> and joins the call topic.
func (ctl *SignalWSController) HandleSignal(ctx context.Context, c *gin.Context) {
	callID, err := domain.ParseCallID(c.Query("call"))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "call: " + err.Error()})
		return
	}
	participant, err := domain.ParseParticipantID(c.Query("participant"))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "participant: " + err.Error()})
		return
	}
	token := c.GetString("client_token")
	sid := core.SessionID(uuid.NewString())
	logger := log.With().Str("module", "signal").Str("sid", string(sid)).Str("call", string(callID)).Str("participant", string(participant)).Logger()
	logger.Info().Str("client", token).Msg("new WS connection")

	ws, err := upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		logger.Error().Err(err).Msg("ws upgrade")
		return
	}

	conn := &WsSignalConn{
		conn: ws,
		send: make(chan core.Frame, ctl.opts.SendBuffer),
	}

	sess := core.NewMemberSession(domain.NewMember(participant, token), conn)
	ctx, cancel := context.WithCancel(ctx)
	ctl.Hub.Registry.BindSession(sid, callID, sess, cancel)
	if err := ctl.Hub.Join(sid); err != nil {
		logger.Error().Err(err).Msg("join")
		cancel()
		ctl.Hub.Registry.Unbind(sid)
		conn.Close()
		return
	}
	ctl.sendJoined(conn, callID, participant)

	go ctl.writePump(ctx, conn)
	go ctl.readPump(ctx, sid, participant, callID, conn)
}
