// Package realtime maintains the single persistent event channel to the backend.
package realtime

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"messenger/internal/domain/chat"
)

const (
	// Time allowed to write a frame to the server.
	writeWait = 10 * time.Second

	// Maximum inbound frame size.
	maxMessageSize = 256 << 10

	sendQueueSize = 64

	// CloseAuthRejected is the close code the server uses to reject a credential.
	CloseAuthRejected = 4401
)

var (
	ErrNotOpen       = errors.New("realtime: channel not open")
	ErrAlreadyUsed   = errors.New("realtime: channel already used")
	ErrSendQueueFull = errors.New("realtime: send queue full")
)

// State is the lifecycle position of a Channel.
type State int32

const (
	StateClosed State = iota
	StateConnecting
	StateOpen
)

func (s State) String() string {
	switch s {
	case StateConnecting:
		return "connecting"
	case StateOpen:
		return "open"
	default:
		return "closed"
	}
}

// Config defines dial and keepalive settings.
type Config struct {
	URL              string
	HandshakeTimeout time.Duration
	// PongWait is how long the server may stay silent before the channel is
	// considered dead. Pings are sent at 90% of it.
	PongWait time.Duration
}

// Channel is one authenticated websocket connection. It is single use:
// Closed -> Connecting -> Open -> Closed, and a closed channel never reopens.
type Channel struct {
	cfg    Config
	dialer *websocket.Dialer
	sink   chat.Sink
	logger *slog.Logger

	mu    sync.Mutex
	state State
	used  bool
	conn  *websocket.Conn
	err   error

	// deliverMu orders event delivery against Close so nothing is delivered
	// once Close has returned.
	deliverMu sync.Mutex
	closed    bool

	send      chan []byte
	done      chan struct{}
	closeOnce sync.Once

	// closing asks the writer to flush the send queue and say goodbye;
	// flushed is closed once it has.
	closing   chan struct{}
	flushed   chan struct{}
	drainOnce sync.Once
}

// New prepares a closed channel that will deliver inbound events to sink.
func New(cfg Config, sink chat.Sink, logger *slog.Logger) *Channel {
	if cfg.HandshakeTimeout <= 0 {
		cfg.HandshakeTimeout = 10 * time.Second
	}
	if cfg.PongWait <= 0 {
		cfg.PongWait = 60 * time.Second
	}
	return &Channel{
		cfg: cfg,
		dialer: &websocket.Dialer{
			Proxy:            http.ProxyFromEnvironment,
			HandshakeTimeout: cfg.HandshakeTimeout,
		},
		sink:   sink,
		logger: logger,
		send:    make(chan []byte, sendQueueSize),
		done:    make(chan struct{}),
		closing: make(chan struct{}),
		flushed: make(chan struct{}),
	}
}

// Connect performs the handshake presenting token. On success the first event
// delivered to the sink is chat.Connected.
func (c *Channel) Connect(ctx context.Context, token string) error {
	c.mu.Lock()
	if c.used {
		c.mu.Unlock()
		return ErrAlreadyUsed
	}
	c.used = true
	c.state = StateConnecting
	c.mu.Unlock()

	token = strings.TrimSpace(token)
	if token == "" {
		err := chat.NewError(chat.KindUnauthorized, "no credential for realtime channel", nil)
		c.shutdown(err)
		return err
	}

	dialCtx, cancel := context.WithTimeout(ctx, c.cfg.HandshakeTimeout)
	defer cancel()
	header := http.Header{}
	header.Set("Authorization", "Bearer "+token)
	conn, resp, err := c.dialer.DialContext(dialCtx, c.cfg.URL, header)
	if resp != nil && resp.Body != nil {
		resp.Body.Close()
	}
	if err != nil {
		var failure error
		if resp != nil && (resp.StatusCode == http.StatusUnauthorized || resp.StatusCode == http.StatusForbidden) {
			failure = chat.NewError(chat.KindUnauthorized, "realtime handshake rejected", err)
		} else {
			failure = chat.NewError(chat.KindNetwork, "cannot open realtime channel", err)
		}
		c.shutdown(failure)
		return failure
	}

	c.mu.Lock()
	if c.state != StateConnecting {
		// Close raced with the handshake.
		c.mu.Unlock()
		conn.Close()
		return ErrNotOpen
	}
	c.conn = conn
	c.state = StateOpen
	c.mu.Unlock()

	c.info("realtime channel open", "url", c.cfg.URL)
	c.deliver(chat.Connected{})
	go c.writePump(conn)
	go c.readPump(conn)
	return nil
}

// State reports the current lifecycle state.
func (c *Channel) State() State {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

// Done is closed once the channel reaches its terminal Closed state.
func (c *Channel) Done() <-chan struct{} {
	return c.done
}

// Err explains why the channel closed; nil after an explicit Close.
func (c *Channel) Err() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.err
}

// Join scopes pushed messages to the conversation.
func (c *Channel) Join(conversationID string) error {
	if strings.TrimSpace(conversationID) == "" {
		return chat.Validationf("conversation id is required")
	}
	return c.emit(EventJoinChat, conversationID)
}

// Send posts a message. A text-only message carries a null image.
func (c *Channel) Send(out chat.Outgoing) error {
	if strings.TrimSpace(out.ConversationID) == "" {
		return chat.Validationf("conversation id is required")
	}
	if strings.TrimSpace(out.Text) == "" && out.ImageURL == "" {
		return chat.Validationf("message is empty")
	}
	payload := SendPayload{ChatID: out.ConversationID, Text: out.Text}
	if out.ImageURL != "" {
		img := out.ImageURL
		payload.Image = &img
	}
	return c.emit(EventSendMessage, payload)
}

// SetTyping signals the local user's typing state.
func (c *Channel) SetTyping(conversationID string, isTyping bool) error {
	return c.emit(EventTyping, TypingPayload{ChatID: conversationID, IsTyping: isTyping})
}

// Close disconnects and releases the connection. Frames already queued are
// written first, bounded by writeWait. It is idempotent.
func (c *Channel) Close() error {
	c.deliverMu.Lock()
	c.closed = true
	c.deliverMu.Unlock()

	c.mu.Lock()
	conn := c.conn
	c.mu.Unlock()
	if conn != nil {
		c.drainOnce.Do(func() { close(c.closing) })
		timer := time.NewTimer(writeWait)
		select {
		case <-c.flushed:
		case <-c.done:
		case <-timer.C:
		}
		timer.Stop()
	}
	c.shutdown(nil)
	return nil
}

func (c *Channel) emit(event string, data any) error {
	env, err := NewEnvelope(event, data)
	if err != nil {
		return err
	}
	raw, err := json.Marshal(env)
	if err != nil {
		return err
	}
	if c.State() != StateOpen {
		return ErrNotOpen
	}
	select {
	case c.send <- raw:
		return nil
	case <-c.done:
		return ErrNotOpen
	default:
		return ErrSendQueueFull
	}
}

func (c *Channel) readPump(conn *websocket.Conn) {
	pongWait := c.cfg.PongWait
	conn.SetReadLimit(maxMessageSize)
	_ = conn.SetReadDeadline(time.Now().Add(pongWait))
	conn.SetPongHandler(func(string) error {
		return conn.SetReadDeadline(time.Now().Add(pongWait))
	})

	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			c.shutdown(classifyReadError(err))
			return
		}
		var env Envelope
		if err := json.Unmarshal(data, &env); err != nil {
			c.warn("malformed realtime frame", "error", err)
			continue
		}
		ev, err := decodeEvent(env)
		if err != nil {
			c.debug("realtime event ignored", "event", env.Event, "error", err)
			continue
		}
		c.deliver(ev)
	}
}

func (c *Channel) writePump(conn *websocket.Conn) {
	ticker := time.NewTicker(c.cfg.PongWait * 9 / 10)
	defer ticker.Stop()
	for {
		select {
		case <-c.done:
			return
		case <-c.closing:
			c.flush(conn)
			return
		case msg := <-c.send:
			_ = conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := conn.WriteMessage(websocket.TextMessage, msg); err != nil {
				c.shutdown(chat.NewError(chat.KindNetwork, "realtime write failed", err))
				return
			}
		case <-ticker.C:
			_ = conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				c.shutdown(chat.NewError(chat.KindNetwork, "realtime ping failed", err))
				return
			}
		}
	}
}

// flush writes whatever is still queued, then the close frame.
func (c *Channel) flush(conn *websocket.Conn) {
	defer close(c.flushed)
	deadline := time.Now().Add(writeWait)
	_ = conn.SetWriteDeadline(deadline)
	for {
		select {
		case msg := <-c.send:
			if err := conn.WriteMessage(websocket.TextMessage, msg); err != nil {
				return
			}
		default:
			bye := websocket.FormatCloseMessage(websocket.CloseNormalClosure, "bye")
			_ = conn.WriteControl(websocket.CloseMessage, bye, deadline)
			return
		}
	}
}

func (c *Channel) deliver(ev chat.Event) {
	c.deliverMu.Lock()
	defer c.deliverMu.Unlock()
	if c.closed || c.sink == nil {
		return
	}
	c.sink.Deliver(ev)
}

// shutdown moves the channel to Closed exactly once and releases the connection.
func (c *Channel) shutdown(reason error) {
	c.closeOnce.Do(func() {
		c.deliverMu.Lock()
		c.closed = true
		c.deliverMu.Unlock()

		c.mu.Lock()
		c.state = StateClosed
		c.err = reason
		conn := c.conn
		c.mu.Unlock()

		close(c.done)
		if conn != nil {
			conn.Close()
		}
		if reason != nil {
			c.warn("realtime channel closed", "error", reason)
		} else {
			c.info("realtime channel closed")
		}
	})
}

func classifyReadError(err error) error {
	switch {
	case websocket.IsCloseError(err, CloseAuthRejected):
		return chat.NewError(chat.KindUnauthorized, "realtime credential rejected", err)
	case websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway):
		return chat.NewError(chat.KindNetwork, "server closed realtime channel", err)
	default:
		return chat.NewError(chat.KindNetwork, "realtime channel lost", err)
	}
}

func (c *Channel) info(msg string, attrs ...any) {
	if c.logger != nil {
		c.logger.Info(msg, attrs...)
	}
}

func (c *Channel) warn(msg string, attrs ...any) {
	if c.logger != nil {
		c.logger.Warn(msg, attrs...)
	}
}

func (c *Channel) debug(msg string, attrs ...any) {
	if c.logger != nil {
		c.logger.Debug(msg, attrs...)
	}
}
