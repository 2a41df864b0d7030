package realtime

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"
)

type State string

const (
	StateDisconnected State = "disconnected"
	StateConnecting   State = "connecting"
	StateConnected    State = "connected"
	StateClosing      State = "closing"
)

var (
	ErrNotConnected = errors.New("realtime: channel not connected")
	ErrClosed       = errors.New("realtime: channel closed during connect")
	ErrConnecting   = errors.New("realtime: connect already in progress")
)

const (
	defaultHandshakeTimeout = 10 * time.Second
	defaultWriteTimeout     = 10 * time.Second
	maxFrameSize            = 1 << 20
)

type Config struct {
	URL              string
	Header           http.Header
	Backoff          Backoff
	PingInterval     time.Duration
	AuthTimeout      time.Duration
	HandshakeTimeout time.Duration
	WriteTimeout     time.Duration
}

// Channel keeps one websocket connection to the chat endpoint: it dials,
// authenticates, pings, and redials with backoff after unexpected drops.
// It never touches chat state; it only hands events to its Router.
type Channel struct {
	cfg    Config
	dialer *websocket.Dialer
	router *Router
	logger *slog.Logger

	mu            sync.Mutex
	conn          *websocket.Conn
	state         State
	gen           uint64
	stopped       bool
	attempts      int
	authenticated bool

	reconnectTimer *time.Timer
	reconnectSeq   uint64
	authTimer      *time.Timer
	authSeq        uint64
	pingDone       chan struct{}

	writeMu sync.Mutex
}

func NewChannel(cfg Config, router *Router, logger *slog.Logger) *Channel {
	if logger == nil {
		logger = slog.Default()
	}
	if router == nil {
		router = NewRouter(logger)
	}
	if cfg.HandshakeTimeout <= 0 {
		cfg.HandshakeTimeout = defaultHandshakeTimeout
	}
	if cfg.WriteTimeout <= 0 {
		cfg.WriteTimeout = defaultWriteTimeout
	}
	if cfg.Backoff.Base <= 0 {
		cfg.Backoff = DefaultBackoff()
	}
	return &Channel{
		cfg: cfg,
		dialer: &websocket.Dialer{
			Proxy:            http.ProxyFromEnvironment,
			HandshakeTimeout: cfg.HandshakeTimeout,
		},
		router: router,
		logger: logger.With("component", "realtime", "url", cfg.URL),
		state:  StateDisconnected,
	}
}

func (c *Channel) Router() *Router { return c.router }

func (c *Channel) On(eventType string, h Handler) Subscription { return c.router.On(eventType, h) }

func (c *Channel) Off(s Subscription) { c.router.Off(s) }

func (c *Channel) State() State {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

func (c *Channel) IsAuthenticated() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state == StateConnected && c.authenticated
}

// Attempts is the number of consecutive reconnect attempts since the last
// successful open.
func (c *Channel) Attempts() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.attempts
}

// Connect opens the transport. A nil return means the socket is open, not
// that it is authenticated. Connecting while already connected is a no-op;
// connecting while another dial is in flight returns ErrConnecting.
func (c *Channel) Connect(ctx context.Context) error {
	c.mu.Lock()
	switch c.state {
	case StateConnected:
		c.mu.Unlock()
		return nil
	case StateConnecting:
		c.mu.Unlock()
		return ErrConnecting
	}
	c.stopped = false
	c.stopReconnectLocked()
	c.state = StateConnecting
	c.gen++
	gen := c.gen
	c.mu.Unlock()

	return c.dial(ctx, gen)
}

func (c *Channel) dial(ctx context.Context, gen uint64) error {
	conn, _, err := c.dialer.DialContext(ctx, c.cfg.URL, c.cfg.Header)

	c.mu.Lock()
	if err != nil {
		current := c.gen == gen
		if current {
			c.state = StateDisconnected
		}
		retry := current && !c.stopped && ctx.Err() == nil
		c.mu.Unlock()

		c.logger.Error("channel dial failed", "error", err)
		c.router.Dispatch(NewEvent(EventConnectionError, map[string]any{"error": err.Error()}))
		if retry {
			c.scheduleReconnect(gen)
		}
		return fmt.Errorf("realtime: dial %s: %w", c.cfg.URL, err)
	}
	if c.gen != gen || c.stopped {
		c.mu.Unlock()
		_ = conn.Close()
		return ErrClosed
	}
	conn.SetReadLimit(maxFrameSize)
	c.conn = conn
	c.state = StateConnected
	c.attempts = 0
	c.authenticated = false
	done := make(chan struct{})
	c.pingDone = done
	c.mu.Unlock()

	c.logger.Info("channel connected")
	c.router.Dispatch(NewEvent(EventConnectionEstablished, map[string]any{"connected": true}))

	if c.cfg.PingInterval > 0 {
		go c.pingLoop(done)
	}
	go c.readLoop(gen, conn)
	return nil
}

// Disconnect cancels every timer and closes the socket with a normal
// closure. No reconnect follows.
func (c *Channel) Disconnect() {
	c.mu.Lock()
	c.stopped = true
	c.stopReconnectLocked()
	c.stopPingLocked()
	c.stopAuthTimerLocked()
	conn := c.conn
	c.conn = nil
	c.authenticated = false
	c.gen++
	if conn != nil {
		c.state = StateClosing
	} else {
		c.state = StateDisconnected
	}
	c.mu.Unlock()

	if conn == nil {
		return
	}

	c.writeMu.Lock()
	msg := websocket.FormatCloseMessage(websocket.CloseNormalClosure, "Client disconnect")
	if err := conn.WriteControl(websocket.CloseMessage, msg, time.Now().Add(c.cfg.WriteTimeout)); err != nil {
		c.logger.Debug("close frame not sent", "error", err)
	}
	c.writeMu.Unlock()
	_ = conn.Close()

	c.mu.Lock()
	if c.conn == nil && c.state == StateClosing {
		c.state = StateDisconnected
	}
	c.mu.Unlock()
	c.logger.Info("channel disconnected by client")
}

func (c *Channel) Authenticate(token string) error {
	if err := c.send(TypeAuthenticate, authenticateMsg{Type: TypeAuthenticate, Token: token}); err != nil {
		return err
	}
	c.armAuthTimer()
	return nil
}

func (c *Channel) SendMessage(text string) error {
	return c.send(TypeChatMessage, chatMessageMsg{Type: TypeChatMessage, Message: text})
}

func (c *Channel) GetHistory(limit int) error {
	if limit <= 0 {
		limit = 50
	}
	return c.send(TypeGetHistory, getHistoryMsg{Type: TypeGetHistory, Limit: limit})
}

func (c *Channel) send(msgType string, v any) error {
	c.mu.Lock()
	conn := c.conn
	open := conn != nil && c.state == StateConnected
	c.mu.Unlock()

	if !open {
		c.logger.Warn("channel not connected, message not sent", "type", msgType)
		return ErrNotConnected
	}

	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	_ = conn.SetWriteDeadline(time.Now().Add(c.cfg.WriteTimeout))
	if err := conn.WriteJSON(v); err != nil {
		return fmt.Errorf("realtime: write %s: %w", msgType, err)
	}
	return nil
}

func (c *Channel) readLoop(gen uint64, conn *websocket.Conn) {
	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			c.handleClose(gen, conn, err)
			return
		}
		ev, err := ParseEvent(data)
		if err != nil {
			c.logger.Warn("dropping unparseable message", "error", err, "size", len(data))
			continue
		}
		switch ev.Type {
		case EventAuthSuccess:
			c.markAuthenticated()
		case EventPong:
			c.logger.Debug("pong")
		}
		c.router.Dispatch(ev)
	}
}

func (c *Channel) handleClose(gen uint64, conn *websocket.Conn, err error) {
	code, reason, clean := websocket.CloseAbnormalClosure, "", false
	var ce *websocket.CloseError
	if errors.As(err, &ce) {
		code, reason = ce.Code, ce.Text
		clean = ce.Code != websocket.CloseAbnormalClosure
	}

	c.mu.Lock()
	current := c.gen == gen && c.conn == conn
	if current {
		c.conn = nil
		c.state = StateDisconnected
		c.authenticated = false
		c.stopPingLocked()
		c.stopAuthTimerLocked()
	} else {
		// Disconnect already tore this connection down.
		code, reason, clean = websocket.CloseNormalClosure, "Client disconnect", true
	}
	reconnect := current && !clean && !c.stopped
	c.mu.Unlock()

	_ = conn.Close()
	c.logger.Info("channel closed", "code", code, "reason", reason, "was_clean", clean)
	c.router.Dispatch(NewEvent(EventConnectionClosed, map[string]any{
		"code":      code,
		"reason":    reason,
		"was_clean": clean,
	}))

	if reconnect {
		c.scheduleReconnect(gen)
	}
}

func (c *Channel) scheduleReconnect(gen uint64) {
	c.mu.Lock()
	if c.stopped || c.gen != gen || c.reconnectTimer != nil {
		c.mu.Unlock()
		return
	}
	if !c.cfg.Backoff.Allow(c.attempts) {
		attempts := c.attempts
		c.mu.Unlock()
		c.logger.Error("reconnect budget exhausted", "attempts", attempts)
		c.router.Dispatch(NewEvent(EventReconnectFailed, map[string]any{"attempts": attempts}))
		return
	}
	c.attempts++
	attempt := c.attempts
	delay := c.cfg.Backoff.Delay(attempt)
	c.reconnectSeq++
	seq := c.reconnectSeq
	c.reconnectTimer = time.AfterFunc(delay, func() { c.fireReconnect(seq) })
	c.mu.Unlock()

	c.logger.Info("reconnect scheduled", "delay", delay, "attempt", attempt)
}

func (c *Channel) fireReconnect(seq uint64) {
	c.mu.Lock()
	if c.stopped || c.reconnectTimer == nil || c.reconnectSeq != seq {
		c.mu.Unlock()
		return
	}
	c.reconnectTimer = nil
	c.state = StateConnecting
	c.gen++
	gen := c.gen
	c.mu.Unlock()

	if err := c.dial(context.Background(), gen); err != nil {
		c.logger.Warn("reconnection failed", "error", err)
	}
}

func (c *Channel) pingLoop(done <-chan struct{}) {
	t := time.NewTicker(c.cfg.PingInterval)
	defer t.Stop()
	for {
		select {
		case <-done:
			return
		case <-t.C:
			if err := c.send(TypePing, pingMsg{Type: TypePing}); err != nil {
				c.logger.Debug("ping failed", "error", err)
			}
		}
	}
}

func (c *Channel) armAuthTimer() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.stopAuthTimerLocked()
	if c.cfg.AuthTimeout <= 0 || c.authenticated {
		return
	}
	c.authSeq++
	seq := c.authSeq
	c.authTimer = time.AfterFunc(c.cfg.AuthTimeout, func() { c.authExpired(seq) })
}

func (c *Channel) authExpired(seq uint64) {
	c.mu.Lock()
	if c.authTimer == nil || c.authSeq != seq || c.authenticated {
		c.mu.Unlock()
		return
	}
	c.authTimer = nil
	c.mu.Unlock()

	c.logger.Warn("no authentication.success before timeout", "timeout", c.cfg.AuthTimeout)
	c.router.Dispatch(NewEvent(EventAuthFailed, map[string]any{"error": "authentication timed out"}))
}

func (c *Channel) markAuthenticated() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.authenticated = true
	c.stopAuthTimerLocked()
}

func (c *Channel) stopReconnectLocked() {
	if c.reconnectTimer != nil {
		c.reconnectTimer.Stop()
		c.reconnectTimer = nil
	}
}

func (c *Channel) stopPingLocked() {
	if c.pingDone != nil {
		close(c.pingDone)
		c.pingDone = nil
	}
}

func (c *Channel) stopAuthTimerLocked() {
	if c.authTimer != nil {
		c.authTimer.Stop()
		c.authTimer = nil
	}
}
