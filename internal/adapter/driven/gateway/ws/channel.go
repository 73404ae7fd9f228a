package ws

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/Wyydra/vetcall/internal/core/domain"
	"github.com/gorilla/websocket"
	"github.com/rs/zerolog/log"
)

type Config struct {
	URL    string
	Header http.Header

	ReconnectAttempts int
	ReconnectDelay    time.Duration
	WriteTimeout      time.Duration
	PingInterval      time.Duration
	PongTimeout       time.Duration
}

func DefaultConfig(url string) Config {
	return Config{
		URL:               url,
		ReconnectAttempts: 5,
		ReconnectDelay:    time.Second,
		WriteTimeout:      5 * time.Second,
		PingInterval:      25 * time.Second,
		PongTimeout:       10 * time.Second,
	}
}

// Channel is the websocket client to the signaling service. It implements
// port.SignalingChannel.
type Channel struct {
	cfg    Config
	dialer *websocket.Dialer

	mu       sync.Mutex
	writeMu  sync.Mutex
	conn     *websocket.Conn
	identity *registerPayload
	started  bool
	closed   bool

	inbound chan domain.Inbound
	quit    chan struct{}
	done    chan struct{}
}

func NewChannel(cfg Config) *Channel {
	def := DefaultConfig(cfg.URL)
	if cfg.ReconnectAttempts < 0 {
		cfg.ReconnectAttempts = 0
	}
	if cfg.ReconnectDelay <= 0 {
		cfg.ReconnectDelay = def.ReconnectDelay
	}
	if cfg.WriteTimeout <= 0 {
		cfg.WriteTimeout = def.WriteTimeout
	}
	if cfg.PingInterval <= 0 {
		cfg.PingInterval = def.PingInterval
	}
	if cfg.PongTimeout <= 0 {
		cfg.PongTimeout = def.PongTimeout
	}
	return &Channel{
		cfg:     cfg,
		dialer:  &websocket.Dialer{HandshakeTimeout: 10 * time.Second},
		inbound: make(chan domain.Inbound, 64),
		quit:    make(chan struct{}),
		done:    make(chan struct{}),
	}
}

// Inbound delivers validated messages. It is closed once the channel gives
// up reconnecting or is closed.
func (c *Channel) Inbound() <-chan domain.Inbound {
	return c.inbound
}

// Connect dials the signaling service and starts the read loop.
func (c *Channel) Connect(ctx context.Context) error {
	conn, err := c.dial(ctx)
	if err != nil {
		return err
	}
	c.mu.Lock()
	if c.closed || c.started {
		c.mu.Unlock()
		conn.Close()
		return errors.New("signaling channel already connected or closed")
	}
	c.conn = conn
	c.started = true
	c.mu.Unlock()

	go c.run(conn)
	return nil
}

func (c *Channel) dial(ctx context.Context) (*websocket.Conn, error) {
	conn, resp, err := c.dialer.DialContext(ctx, c.cfg.URL, c.cfg.Header)
	if err != nil {
		if resp != nil {
			return nil, fmt.Errorf("dial %s: %w (status %d)", c.cfg.URL, err, resp.StatusCode)
		}
		return nil, fmt.Errorf("dial %s: %w", c.cfg.URL, err)
	}
	conn.SetReadDeadline(time.Now().Add(c.cfg.PingInterval + c.cfg.PongTimeout))
	conn.SetPongHandler(func(string) error {
		return conn.SetReadDeadline(time.Now().Add(c.cfg.PingInterval + c.cfg.PongTimeout))
	})
	log.Info().Str("url", c.cfg.URL).Msg("Connected to signaling service")
	return conn, nil
}

func (c *Channel) run(conn *websocket.Conn) {
	defer close(c.done)
	defer close(c.inbound)

	for {
		err := c.serve(conn)
		if c.isClosed() {
			return
		}
		log.Warn().Err(err).Msg("Signaling connection lost")
		c.deliver(domain.Inbound{
			Type: domain.MsgChannelDown,
			Err:  fmt.Errorf("%w: %v", domain.ErrChannelDisconnected, err),
		})

		conn = c.reconnect()
		if conn == nil {
			return
		}
	}
}

// serve reads from conn until it fails.
func (c *Channel) serve(conn *websocket.Conn) error {
	stop := make(chan struct{})
	defer close(stop)
	go c.ping(conn, stop)

	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			c.mu.Lock()
			if c.conn == conn {
				c.conn = nil
			}
			c.mu.Unlock()
			conn.Close()
			return err
		}

		msg, err := decode(data)
		if err != nil {
			log.Warn().Err(err).Msg("Dropping signaling message")
			continue
		}
		if !c.deliver(msg) {
			return errors.New("channel closed")
		}
	}
}

func (c *Channel) ping(conn *websocket.Conn, stop <-chan struct{}) {
	ticker := time.NewTicker(c.cfg.PingInterval)
	defer ticker.Stop()
	for {
		select {
		case <-stop:
			return
		case <-ticker.C:
			c.writeMu.Lock()
			err := conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(c.cfg.WriteTimeout))
			c.writeMu.Unlock()
			if err != nil {
				log.Debug().Err(err).Msg("Ping failed")
				return
			}
		}
	}
}

func (c *Channel) deliver(msg domain.Inbound) bool {
	select {
	case c.inbound <- msg:
		return true
	case <-c.quit:
		return false
	}
}

// reconnect retries with a fixed delay and registers again on success. It
// returns nil when the attempts are exhausted or the channel was closed.
func (c *Channel) reconnect() *websocket.Conn {
	for attempt := 1; attempt <= c.cfg.ReconnectAttempts; attempt++ {
		select {
		case <-time.After(c.cfg.ReconnectDelay):
		case <-c.quit:
			return nil
		}

		ctx, cancel := context.WithTimeout(context.Background(), c.dialer.HandshakeTimeout)
		conn, err := c.dial(ctx)
		cancel()
		if err != nil {
			log.Warn().Err(err).Int("attempt", attempt).Int("max", c.cfg.ReconnectAttempts).Msg("Reconnect failed")
			continue
		}

		c.mu.Lock()
		if c.closed {
			c.mu.Unlock()
			conn.Close()
			return nil
		}
		c.conn = conn
		identity := c.identity
		c.mu.Unlock()

		if identity != nil {
			if err := c.write(context.Background(), domain.MsgRegister, identity.UserID, "", identity); err != nil {
				log.Warn().Err(err).Msg("Register after reconnect failed")
			}
		}
		return conn
	}
	log.Error().Int("attempts", c.cfg.ReconnectAttempts).Msg("Giving up on signaling service")
	return nil
}

func (c *Channel) isClosed() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.closed
}

func (c *Channel) write(ctx context.Context, typ domain.MessageType, from, to string, payload any) error {
	data, err := encode(typ, from, to, payload)
	if err != nil {
		return err
	}

	c.mu.Lock()
	conn := c.conn
	c.mu.Unlock()
	if conn == nil {
		return domain.ErrChannelDisconnected
	}

	deadline := time.Now().Add(c.cfg.WriteTimeout)
	if d, ok := ctx.Deadline(); ok && d.Before(deadline) {
		deadline = d
	}

	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	conn.SetWriteDeadline(deadline)
	if err := conn.WriteMessage(websocket.TextMessage, data); err != nil {
		return fmt.Errorf("write %s: %w", typ, err)
	}
	return nil
}

func (c *Channel) from() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.identity == nil {
		return ""
	}
	return c.identity.UserID
}

// Register announces the operator. The identity is replayed after every
// reconnect.
func (c *Channel) Register(ctx context.Context, localID domain.OperatorID, role string) error {
	identity := &registerPayload{UserID: localID.String(), Role: role}
	c.mu.Lock()
	c.identity = identity
	c.mu.Unlock()
	return c.write(ctx, domain.MsgRegister, identity.UserID, "", identity)
}

func (c *Channel) AcceptCall(ctx context.Context, peer domain.PeerID) error {
	return c.write(ctx, domain.MsgAcceptCall, c.from(), peer.String(), nil)
}

func (c *Channel) RejectCall(ctx context.Context, peer domain.PeerID, reason string) error {
	return c.write(ctx, domain.MsgRejectCall, c.from(), peer.String(), rejectPayload{Reason: reason})
}

func (c *Channel) SendAnswer(ctx context.Context, peer domain.PeerID, desc domain.SessionDescription) error {
	return c.write(ctx, domain.MsgAnswer, c.from(), peer.String(), desc)
}

func (c *Channel) SendCandidate(ctx context.Context, peer domain.PeerID, candidate domain.Candidate) error {
	return c.write(ctx, domain.MsgCandidate, c.from(), peer.String(), candidate)
}

func (c *Channel) EndCall(ctx context.Context, peer domain.PeerID, billing *domain.Billing) error {
	return c.write(ctx, domain.MsgEndCall, c.from(), peer.String(), endPayload{Billing: billing})
}

// Close stops reconnecting and closes the connection. Inbound is closed
// once the read loop has exited.
func (c *Channel) Close() error {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return nil
	}
	c.closed = true
	conn := c.conn
	c.conn = nil
	started := c.started
	c.mu.Unlock()

	close(c.quit)

	var err error
	if conn != nil {
		c.writeMu.Lock()
		_ = conn.WriteControl(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseNormalClosure, "operator leaving"),
			time.Now().Add(c.cfg.WriteTimeout))
		c.writeMu.Unlock()
		err = conn.Close()
	}
	if started {
		<-c.done
	}
	return err
}
