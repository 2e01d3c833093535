// Package signalclient is the participant side of the relay: a websocket per
// subscribed call, implementing core.SignalingTransport.
package signalclient

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"sync"
	"time"

	"github.com/dkeye/meshcall/internal/core"
	"github.com/dkeye/meshcall/internal/domain"
	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

var ErrConnLost = errors.New("relay connection lost")

const maxRedialBackoff = 5 * time.Second

type Options struct {
	URL        string
	WriteWait  time.Duration
	ReadLimit  int64
	SendBuffer int
	// ReadTimeout bounds the silence between relay pings.
	ReadTimeout time.Duration
	Header      http.Header
	// RedialAttempts is how many times a dropped connection is redialed
	// before the subscription gives up. Zero disables redial.
	RedialAttempts int
	// RedialBackoff is the first wait before a redial; it doubles per attempt.
	RedialBackoff time.Duration
	DialTimeout   time.Duration
}

func DefaultOptions(rawURL string) Options {
	return Options{
		URL:            rawURL,
		WriteWait:      5 * time.Second,
		ReadLimit:      32768,
		SendBuffer:     32,
		ReadTimeout:    2 * time.Minute,
		RedialAttempts: 5,
		RedialBackoff:  500 * time.Millisecond,
		DialTimeout:    10 * time.Second,
	}
}

type Client struct {
	opts   Options
	dialer *websocket.Dialer

	mu   sync.Mutex
	subs map[domain.CallID]*subscription
}

func New(opts Options) *Client {
	return &Client{
		opts:   opts,
		dialer: websocket.DefaultDialer,
		subs:   make(map[domain.CallID]*subscription),
	}
}

// subscription outlives its websocket: when the relay drops the connection,
// serve redials and keeps draining the same send queue.
type subscription struct {
	callID  domain.CallID
	self    domain.ParticipantID
	handler func(core.Message)
	target  string
	send    chan []byte

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
	logger zerolog.Logger
}

type envelope struct {
	Type  string `json:"type"`
	Error string `json:"error,omitempty"`
}

// Subscribe dials the relay and blocks until it confirms the join or ctx ends.
func (c *Client) Subscribe(ctx context.Context, callID domain.CallID, self domain.ParticipantID, handler func(core.Message)) error {
	c.mu.Lock()
	_, busy := c.subs[callID]
	c.mu.Unlock()
	if busy {
		return fmt.Errorf("already subscribed to %s", callID)
	}

	target, err := c.endpoint(callID, self)
	if err != nil {
		return err
	}
	conn, err := c.connect(ctx, target)
	if err != nil {
		return err
	}

	subCtx, cancel := context.WithCancel(context.Background())
	s := &subscription{
		callID:  callID,
		self:    self,
		handler: handler,
		target:  target,
		send:    make(chan []byte, c.opts.SendBuffer),
		ctx:     subCtx,
		cancel:  cancel,
		logger:  log.With().Str("module", "signalclient").Str("call", string(callID)).Str("self", string(self)).Logger(),
	}

	c.mu.Lock()
	if _, busy := c.subs[callID]; busy {
		c.mu.Unlock()
		cancel()
		_ = conn.Close()
		return fmt.Errorf("already subscribed to %s", callID)
	}
	c.subs[callID] = s
	c.mu.Unlock()

	s.wg.Add(1)
	go c.serve(s, conn)
	s.logger.Info().Msg("subscribed")
	return nil
}

// Send queues msg for the relay. While a dropped connection is being redialed
// messages keep queuing; once redial gives up Send reports ErrConnLost.
func (c *Client) Send(ctx context.Context, msg core.Message) error {
	if err := ctx.Err(); err != nil {
		return fmt.Errorf("%w: %v", core.ErrSignalingSend, err)
	}
	c.mu.Lock()
	s, ok := c.subs[msg.CallID]
	c.mu.Unlock()
	if !ok {
		return core.ErrNotSubscribed
	}
	if s.ctx.Err() != nil {
		return fmt.Errorf("%w: %w", core.ErrSignalingSend, ErrConnLost)
	}
	msg.From = s.self
	data, err := json.Marshal(msg)
	if err != nil {
		return fmt.Errorf("%w: %v", core.ErrSignalingSend, err)
	}
	select {
	case s.send <- data:
		return nil
	default:
		return fmt.Errorf("%w: send queue full", core.ErrSignalingSend)
	}
}

// Unsubscribe closes the call's connection and waits for an in-flight handler to return.
func (c *Client) Unsubscribe(callID domain.CallID) error {
	c.mu.Lock()
	s, ok := c.subs[callID]
	delete(c.subs, callID)
	c.mu.Unlock()
	if !ok {
		return nil
	}
	s.cancel()
	s.wg.Wait()
	s.logger.Info().Msg("unsubscribed")
	return nil
}

func (c *Client) endpoint(callID domain.CallID, self domain.ParticipantID) (string, error) {
	u, err := url.Parse(c.opts.URL)
	if err != nil {
		return "", fmt.Errorf("relay url: %w", err)
	}
	q := u.Query()
	q.Set("call", string(callID))
	q.Set("participant", string(self))
	u.RawQuery = q.Encode()
	return u.String(), nil
}

// connect dials target and waits for the relay to confirm the join.
func (c *Client) connect(ctx context.Context, target string) (*websocket.Conn, error) {
	conn, _, err := c.dialer.DialContext(ctx, target, c.opts.Header)
	if err != nil {
		return nil, fmt.Errorf("dial relay: %w", err)
	}
	conn.SetReadLimit(c.opts.ReadLimit)
	if err := awaitJoined(ctx, conn); err != nil {
		_ = conn.Close()
		return nil, err
	}
	return conn, nil
}

func awaitJoined(ctx context.Context, conn *websocket.Conn) error {
	stop := context.AfterFunc(ctx, func() { _ = conn.Close() })
	defer stop()
	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			return fmt.Errorf("await joined: %w", err)
		}
		var env envelope
		if err := json.Unmarshal(data, &env); err != nil {
			continue
		}
		switch env.Type {
		case "joined":
			if !stop() {
				return ctx.Err()
			}
			return nil
		case "error":
			return fmt.Errorf("relay refused join: %s", env.Error)
		}
	}
}

// serve runs the pumps of one connection at a time until the subscription
// is cancelled or redial gives up.
func (c *Client) serve(s *subscription, conn *websocket.Conn) {
	defer func() {
		s.cancel()
		s.wg.Done()
	}()
	for {
		err := c.pump(s, conn)
		if s.ctx.Err() != nil {
			return
		}
		s.logger.Warn().Err(err).Msg("relay connection lost")
		if conn = c.redial(s); conn == nil {
			s.logger.Error().Err(ErrConnLost).Int("attempts", c.opts.RedialAttempts).Msg("giving up on relay")
			return
		}
		s.logger.Info().Msg("resubscribed")
	}
}

func (c *Client) pump(s *subscription, conn *websocket.Conn) error {
	conn.SetPingHandler(func(data string) error {
		_ = conn.SetReadDeadline(time.Now().Add(c.opts.ReadTimeout))
		return conn.WriteControl(websocket.PongMessage, []byte(data), time.Now().Add(c.opts.WriteWait))
	})
	_ = conn.SetReadDeadline(time.Now().Add(c.opts.ReadTimeout))

	connCtx, stop := context.WithCancel(s.ctx)
	written := make(chan struct{})
	go func() {
		defer close(written)
		c.writePump(connCtx, s, conn)
	}()
	err := c.readPump(s, conn)
	stop()
	<-written
	return err
}

func (c *Client) redial(s *subscription) *websocket.Conn {
	backoff := c.opts.RedialBackoff
	for attempt := 1; attempt <= c.opts.RedialAttempts; attempt++ {
		timer := time.NewTimer(backoff)
		select {
		case <-s.ctx.Done():
			timer.Stop()
			return nil
		case <-timer.C:
		}
		ctx, cancel := context.WithTimeout(s.ctx, c.opts.DialTimeout)
		conn, err := c.connect(ctx, s.target)
		cancel()
		if err == nil {
			return conn
		}
		s.logger.Warn().Err(err).Int("attempt", attempt).Msg("redial failed")
		backoff = min(backoff*2, maxRedialBackoff)
	}
	return nil
}

// writePump owns writes on conn and closes it on exit, which also ends readPump.
func (c *Client) writePump(ctx context.Context, s *subscription, conn *websocket.Conn) {
	defer func() { _ = conn.Close() }()
	for {
		select {
		case <-ctx.Done():
			if s.ctx.Err() != nil {
				_ = conn.WriteControl(websocket.CloseMessage,
					websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
					time.Now().Add(c.opts.WriteWait))
			}
			return
		case data := <-s.send:
			if err := conn.SetWriteDeadline(time.Now().Add(c.opts.WriteWait)); err != nil {
				s.logger.Error().Err(err).Msg("writePump set deadline")
				return
			}
			if err := conn.WriteMessage(websocket.TextMessage, data); err != nil {
				s.logger.Error().Err(err).Msg("writePump write error")
				return
			}
		}
	}
}

func (c *Client) readPump(s *subscription, conn *websocket.Conn) error {
	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			return err
		}
		_ = conn.SetReadDeadline(time.Now().Add(c.opts.ReadTimeout))

		var env envelope
		if err := json.Unmarshal(data, &env); err != nil {
			s.logger.Warn().Err(err).Msg("bad frame")
			continue
		}
		switch core.MessageKind(env.Type) {
		case core.KindOffer, core.KindAnswer, core.KindCandidate, core.KindBye:
			var msg core.Message
			if err := json.Unmarshal(data, &msg); err != nil {
				s.logger.Warn().Err(err).Msg("bad message")
				continue
			}
			if msg.To != s.self || msg.CallID != s.callID {
				continue
			}
			s.handler(msg)
		default:
			if env.Type == "error" {
				s.logger.Warn().Str("error", env.Error).Msg("relay error")
			}
		}
	}
}
