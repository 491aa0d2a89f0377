// Package syncer maintains the bidirectional message channel between a
// canvas client and the relay: a websocket with a connect/backoff state
// machine and the typed message protocol on top.
//
// Delivery is fire-and-forget. There is no acknowledgement or retry at this
// layer; a send while disconnected fails synchronously and a message lost on
// the wire is not retransmitted. Reconnection with exponential backoff is
// the universal recovery strategy for every transport failure.
package syncer

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/jonboulle/clockwork"
	"github.com/rs/zerolog/log"

	"github.com/emberwall/emberwall/internal/protocol"
)

// ErrNotConnected is returned by Send while the channel is not in the
// connected state, so the caller can surface retry UX immediately.
var ErrNotConnected = errors.New("sync channel not connected")

// ErrClosed is returned after Close; a closed channel never reconnects.
var ErrClosed = errors.New("sync channel closed")

// State is the connection lifecycle state.
type State string

const (
	StateDisconnected State = "disconnected"
	StateConnecting   State = "connecting"
	StateConnected    State = "connected"
)

// Config holds channel settings. Zero durations fall back to defaults.
type Config struct {
	// URL is the full websocket endpoint, e.g. ws://host:port/ws?room=lobby.
	URL      string
	ClientID string

	BackoffBase time.Duration
	BackoffCap  time.Duration

	WriteTimeout   time.Duration
	PingInterval   time.Duration
	PongTimeout    time.Duration
	MaxMessageSize int64
}

// DefaultConfig returns the default channel settings.
func DefaultConfig(url string) Config {
	return Config{
		URL:            url,
		BackoffBase:    500 * time.Millisecond,
		BackoffCap:     30 * time.Second,
		WriteTimeout:   10 * time.Second,
		PingInterval:   30 * time.Second,
		PongTimeout:    60 * time.Second,
		MaxMessageSize: 1 << 20,
	}
}

func (c *Config) fillDefaults() {
	def := DefaultConfig(c.URL)
	if c.BackoffBase <= 0 {
		c.BackoffBase = def.BackoffBase
	}
	if c.BackoffCap <= 0 {
		c.BackoffCap = def.BackoffCap
	}
	if c.WriteTimeout <= 0 {
		c.WriteTimeout = def.WriteTimeout
	}
	if c.PingInterval <= 0 {
		c.PingInterval = def.PingInterval
	}
	if c.PongTimeout <= 0 {
		c.PongTimeout = def.PongTimeout
	}
	if c.MaxMessageSize <= 0 {
		c.MaxMessageSize = def.MaxMessageSize
	}
}

// Handler receives every successfully decoded inbound message.
type Handler func(protocol.Message)

// Channel is the client side of the sync protocol.
//
// State machine: disconnected -> connecting -> connected; any failure drops
// back to disconnected and schedules a reconnect after
// min(cap, base * 2^retry). The retry counter resets on a successful open.
type Channel struct {
	cfg     Config
	clock   clockwork.Clock
	dialer  *websocket.Dialer
	handler Handler

	onState func(State)

	mu         sync.Mutex
	state      State
	conn       *websocket.Conn
	writeMu    sync.Mutex
	retry      int
	generation int
	reconnect  clockwork.Timer
	closed     bool
	ctx        context.Context
}

// New creates a channel. The handler receives inbound messages from the read
// pump goroutine; nil clock means the real clock.
func New(cfg Config, clock clockwork.Clock, handler Handler) *Channel {
	cfg.fillDefaults()
	if clock == nil {
		clock = clockwork.NewRealClock()
	}
	return &Channel{
		cfg:     cfg,
		clock:   clock,
		dialer:  websocket.DefaultDialer,
		handler: handler,
		state:   StateDisconnected,
	}
}

// SetStateListener registers a callback for state transitions. Must be set
// before Connect.
func (c *Channel) SetStateListener(fn func(State)) { c.onState = fn }

// State returns the current connection state.
func (c *Channel) State() State {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

// Retries returns the consecutive failed open count.
func (c *Channel) Retries() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.retry
}

// Connect opens the channel and starts the reconnect loop. It returns after
// the first dial attempt; subsequent reconnects happen in the background
// until Close or ctx cancellation.
func (c *Channel) Connect(ctx context.Context) error {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return ErrClosed
	}
	c.ctx = ctx
	c.mu.Unlock()
	return c.dial()
}

// dial performs one connection attempt from the disconnected state.
func (c *Channel) dial() error {
	c.mu.Lock()
	if c.closed || c.state != StateDisconnected {
		c.mu.Unlock()
		return nil
	}
	c.setStateLocked(StateConnecting)
	ctx := c.ctx
	c.mu.Unlock()

	conn, _, err := c.dialer.DialContext(ctx, c.cfg.URL, nil)
	if err != nil {
		log.Warn().Err(err).Str("url", c.cfg.URL).Msg("sync channel dial failed")
		c.mu.Lock()
		c.setStateLocked(StateDisconnected)
		c.scheduleReconnectLocked()
		c.mu.Unlock()
		return err
	}

	// Socket deadlines use the wall clock: they guard the OS-level
	// transport, not the simulated time the rest of the client runs on.
	conn.SetReadLimit(c.cfg.MaxMessageSize)
	conn.SetReadDeadline(time.Now().Add(c.cfg.PongTimeout))
	conn.SetPongHandler(func(string) error {
		conn.SetReadDeadline(time.Now().Add(c.cfg.PongTimeout))
		return nil
	})

	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		conn.Close()
		return ErrClosed
	}
	c.conn = conn
	c.retry = 0
	c.generation++
	gen := c.generation
	c.setStateLocked(StateConnected)
	c.mu.Unlock()

	log.Info().Str("url", c.cfg.URL).Msg("sync channel connected")

	go c.readPump(conn, gen)
	go c.pingLoop(conn, gen)

	// Handshake; the server answers with one full state snapshot.
	if err := c.Send(protocol.NewHello(c.cfg.ClientID)); err != nil {
		return err
	}
	return nil
}

// Send encodes and writes one message. It fails synchronously with
// ErrNotConnected while the channel is not open; once written, delivery is
// fire-and-forget.
func (c *Channel) Send(msg protocol.Message) error {
	c.mu.Lock()
	if c.state != StateConnected || c.conn == nil {
		c.mu.Unlock()
		return ErrNotConnected
	}
	conn := c.conn
	c.mu.Unlock()

	data, err := protocol.Encode(msg)
	if err != nil {
		return err
	}

	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	conn.SetWriteDeadline(time.Now().Add(c.cfg.WriteTimeout))
	if err := conn.WriteMessage(websocket.TextMessage, data); err != nil {
		c.handleDisconnect(conn)
		return err
	}
	return nil
}

// Close shuts the channel down for good: the socket is closed and any
// pending reconnect timer is cancelled.
func (c *Channel) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return nil
	}
	c.closed = true
	if c.reconnect != nil {
		c.reconnect.Stop()
		c.reconnect = nil
	}
	if c.conn != nil {
		c.conn.Close()
		c.conn = nil
	}
	c.setStateLocked(StateDisconnected)
	log.Info().Msg("sync channel closed")
	return nil
}

// readPump reads frames until the connection dies. Unparseable or
// unrecognized frames are dropped per-message; the channel stays alive.
func (c *Channel) readPump(conn *websocket.Conn, gen int) {
	defer c.handleDisconnect(conn)

	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				log.Warn().Err(err).Msg("sync channel read failed")
			}
			return
		}
		if c.staleGeneration(gen) {
			return
		}

		msg, err := protocol.Decode(data)
		if err != nil {
			log.Warn().Err(err).Msg("dropping malformed inbound message")
			continue
		}
		if c.handler != nil {
			c.handler(msg)
		}
	}
}

// pingLoop keeps the connection alive per the relay's pong deadline.
func (c *Channel) pingLoop(conn *websocket.Conn, gen int) {
	ticker := c.clock.NewTicker(c.cfg.PingInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.Chan():
			if c.staleGeneration(gen) {
				return
			}
			c.writeMu.Lock()
			conn.SetWriteDeadline(time.Now().Add(c.cfg.WriteTimeout))
			err := conn.WriteMessage(websocket.PingMessage, nil)
			c.writeMu.Unlock()
			if err != nil {
				c.handleDisconnect(conn)
				return
			}
		case <-c.doneCh():
			return
		}
	}
}

func (c *Channel) doneCh() <-chan struct{} {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.ctx != nil {
		return c.ctx.Done()
	}
	return nil
}

func (c *Channel) staleGeneration(gen int) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.generation != gen || c.closed
}

// handleDisconnect tears down a dead connection and schedules a reconnect.
// Safe to call multiple times for the same connection.
func (c *Channel) handleDisconnect(conn *websocket.Conn) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.conn != conn || c.closed {
		return
	}
	c.conn.Close()
	c.conn = nil
	c.setStateLocked(StateDisconnected)
	c.scheduleReconnectLocked()
}

// scheduleReconnectLocked arms the backoff timer for the next dial attempt.
func (c *Channel) scheduleReconnectLocked() {
	if c.closed || c.reconnect != nil {
		return
	}
	c.retry++
	delay := Backoff(c.cfg.BackoffBase, c.cfg.BackoffCap, c.retry)
	log.Info().
		Int("retry", c.retry).
		Dur("delay", delay).
		Msg("sync channel scheduling reconnect")

	timer := c.clock.NewTimer(delay)
	c.reconnect = timer
	go func() {
		select {
		case <-timer.Chan():
			c.mu.Lock()
			c.reconnect = nil
			c.mu.Unlock()
			c.dial()
		case <-c.doneCh():
			timer.Stop()
		}
	}()
}

func (c *Channel) setStateLocked(s State) {
	if c.state == s {
		return
	}
	c.state = s
	if c.onState != nil {
		go c.onState(s)
	}
}

// Backoff returns the reconnect delay for the nth consecutive failed open:
// min(cap, base * 2^n).
func Backoff(base, cap time.Duration, n int) time.Duration {
	if n < 0 {
		n = 0
	}
	d := base
	for i := 0; i < n; i++ {
		d *= 2
		if d >= cap || d <= 0 {
			return cap
		}
	}
	if d > cap {
		return cap
	}
	return d
}
