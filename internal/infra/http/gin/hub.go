package ginserver

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"strings"
	"sync"
	"time"

	gin "github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"

	"messenger/internal/domain/chat"
	"messenger/internal/infra/realtime"
)

const (
	writeWait      = 10 * time.Second
	pongWait       = 60 * time.Second
	pingPeriod     = (pongWait * 9) / 10
	maxMessageSize = 64 << 10
	clientQueue    = 64
)

// Hub is the realtime half of the chat backend. Message pushes reach every
// connected member of the conversation; typing is relayed to connections that
// joined the conversation's room.
type Hub struct {
	api      *API
	tokens   TokenVerifier
	logger   *slog.Logger
	upgrader websocket.Upgrader

	mu      sync.RWMutex
	clients map[*hubClient]struct{}
	online  map[string]int
}

type hubClient struct {
	hub  *Hub
	conn *websocket.Conn
	user chat.User
	send chan []byte

	roomsMu sync.Mutex
	rooms   map[string]struct{}
}

func NewHub(api *API, tokens TokenVerifier, logger *slog.Logger) *Hub {
	return &Hub{
		api:    api,
		tokens: tokens,
		logger: logger,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			CheckOrigin:     func(*http.Request) bool { return true },
		},
		clients: make(map[*hubClient]struct{}),
		online:  make(map[string]int),
	}
}

// IsOnline reports whether userID has at least one live connection.
func (h *Hub) IsOnline(userID string) bool {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return h.online[userID] > 0
}

// Serve upgrades the request. A bad bearer header is refused before the
// upgrade; a bad ?token= (browsers cannot set headers) is refused with close
// code 4401 after it.
func (h *Hub) Serve(c *gin.Context) {
	token := extractBearerToken(c.GetHeader("Authorization"))
	viaQuery := false
	if token == "" {
		token = strings.TrimSpace(c.Query("token"))
		viaQuery = true
	}
	user, authErr := h.authenticate(c.Request.Context(), token)
	if authErr != nil && !viaQuery {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "auth required"})
		return
	}

	conn, err := h.upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		h.debug("websocket upgrade failed", "error", err)
		return
	}
	if authErr != nil {
		msg := websocket.FormatCloseMessage(realtime.CloseAuthRejected, "unauthorized")
		_ = conn.WriteControl(websocket.CloseMessage, msg, time.Now().Add(writeWait))
		_ = conn.Close()
		return
	}

	client := &hubClient{
		hub:   h,
		conn:  conn,
		user:  user,
		send:  make(chan []byte, clientQueue),
		rooms: make(map[string]struct{}),
	}
	h.register(client)
	go client.writePump()
	client.readPump()
}

func (h *Hub) authenticate(ctx context.Context, token string) (chat.User, error) {
	if token == "" {
		return chat.User{}, chat.ErrUnauthorized
	}
	userID, err := h.tokens.Verify(token)
	if err != nil {
		return chat.User{}, err
	}
	acc, err := h.api.Users.ByID(ctx, userID)
	if err != nil {
		return chat.User{}, err
	}
	return acc.User, nil
}

func (h *Hub) register(c *hubClient) {
	h.mu.Lock()
	h.clients[c] = struct{}{}
	h.online[c.user.ID]++
	first := h.online[c.user.ID] == 1
	h.mu.Unlock()

	h.info("realtime client connected", "user_id", c.user.ID)
	if first {
		h.broadcast(realtime.EventUserOnline, gin.H{"userId": c.user.ID, "online": true}, nil)
	}
}

func (h *Hub) unregister(c *hubClient) {
	h.mu.Lock()
	if _, ok := h.clients[c]; !ok {
		h.mu.Unlock()
		return
	}
	delete(h.clients, c)
	close(c.send)
	h.online[c.user.ID]--
	last := h.online[c.user.ID] == 0
	if last {
		delete(h.online, c.user.ID)
	}
	h.mu.Unlock()

	h.info("realtime client disconnected", "user_id", c.user.ID)
	if last {
		h.broadcast(realtime.EventUserOnline, gin.H{"userId": c.user.ID, "online": false}, nil)
	}
}

// broadcast encodes once and queues the frame for every client accepted by
// filter (all clients when filter is nil). Slow clients drop frames.
func (h *Hub) broadcast(event string, data any, filter func(*hubClient) bool) {
	env, err := realtime.NewEnvelope(event, data)
	if err != nil {
		h.warn("encode push failed", "event", event, "error", err)
		return
	}
	frame, err := json.Marshal(env)
	if err != nil {
		h.warn("encode push failed", "event", event, "error", err)
		return
	}
	h.mu.RLock()
	defer h.mu.RUnlock()
	for c := range h.clients {
		if filter != nil && !filter(c) {
			continue
		}
		select {
		case c.send <- frame:
		default:
			h.warn("dropping push for slow client", "user_id", c.user.ID, "event", event)
		}
	}
}

func (h *Hub) handle(c *hubClient, env realtime.Envelope) {
	ctx := context.Background()
	switch env.Event {
	case realtime.EventJoinChat:
		var convID string
		if err := env.ParseData(&convID); err != nil || !h.isMember(ctx, convID, c.user.ID) {
			h.debug("join rejected", "user_id", c.user.ID, "conversation_id", convID)
			return
		}
		c.roomsMu.Lock()
		c.rooms[convID] = struct{}{}
		c.roomsMu.Unlock()
	case realtime.EventSendMessage:
		var p realtime.SendPayload
		if err := env.ParseData(&p); err != nil {
			return
		}
		h.sendMessage(ctx, c, p)
	case realtime.EventTyping:
		var p realtime.TypingPayload
		if err := env.ParseData(&p); err != nil || !c.inRoom(p.ChatID) {
			return
		}
		relay := realtime.TypingPayload{ChatID: p.ChatID, UserID: c.user.ID, IsTyping: p.IsTyping}
		h.broadcast(realtime.EventTyping, relay, func(other *hubClient) bool {
			return other.user.ID != c.user.ID && other.inRoom(p.ChatID)
		})
	default:
		h.debug("unknown client event", "event", env.Event)
	}
}

func (h *Hub) sendMessage(ctx context.Context, c *hubClient, p realtime.SendPayload) {
	members, err := h.api.Conversations.Members(ctx, p.ChatID)
	if err != nil || !contains(members, c.user.ID) {
		h.debug("send rejected", "user_id", c.user.ID, "conversation_id", p.ChatID)
		return
	}
	msg := chat.Message{ConversationID: p.ChatID, Sender: c.user, Text: strings.TrimSpace(p.Text)}
	if p.Image != nil {
		msg.Image = *p.Image
	}
	if msg.Text == "" && msg.Image == "" {
		return
	}
	stored, err := h.api.Messages.Append(ctx, msg)
	if err != nil {
		h.warn("persist message failed", "error", err)
		return
	}
	body := messageBody(stored, h.api.userJSON(c.user))
	h.broadcast(realtime.EventNewMessage, body, func(other *hubClient) bool {
		return contains(members, other.user.ID)
	})
}

func (h *Hub) isMember(ctx context.Context, convID, userID string) bool {
	members, err := h.api.Conversations.Members(ctx, convID)
	if err != nil {
		return false
	}
	return contains(members, userID)
}

func (c *hubClient) inRoom(convID string) bool {
	c.roomsMu.Lock()
	defer c.roomsMu.Unlock()
	_, ok := c.rooms[convID]
	return ok
}

func (c *hubClient) readPump() {
	defer func() {
		c.hub.unregister(c)
		_ = c.conn.Close()
	}()
	c.conn.SetReadLimit(maxMessageSize)
	_ = c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error {
		return c.conn.SetReadDeadline(time.Now().Add(pongWait))
	})
	for {
		_, data, err := c.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				c.hub.debug("realtime read failed", "user_id", c.user.ID, "error", err)
			}
			return
		}
		var env realtime.Envelope
		if err := json.Unmarshal(data, &env); err != nil {
			continue
		}
		c.hub.handle(c, env)
	}
}

func (c *hubClient) writePump() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		_ = c.conn.Close()
	}()
	for {
		select {
		case frame, ok := <-c.send:
			_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				_ = c.conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			if err := c.conn.WriteMessage(websocket.TextMessage, frame); err != nil {
				return
			}
		case <-ticker.C:
			_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

func (h *Hub) info(msg string, attrs ...any) {
	if h.logger != nil {
		h.logger.Info(msg, attrs...)
	}
}

func (h *Hub) warn(msg string, attrs ...any) {
	if h.logger != nil {
		h.logger.Warn(msg, attrs...)
	}
}

func (h *Hub) debug(msg string, attrs ...any) {
	if h.logger != nil {
		h.logger.Debug(msg, attrs...)
	}
}
