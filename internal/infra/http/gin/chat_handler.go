package ginserver

import (
	"errors"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/gabriel-vasile/mimetype"
	gin "github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"messenger/internal/domain/chat"
	"messenger/internal/infra/api"
	"messenger/internal/infra/security"
	"messenger/internal/infra/storage/memory"
)

const maxUploadSize = 8 << 20

// PasswordHasher hashes and checks account passwords.
type PasswordHasher interface {
	Hash(password string) (string, error)
	Compare(hash, password string) error
}

// TokenIssuer mints bearer tokens for signed-in users.
type TokenIssuer interface {
	Issue(userID string) (string, error)
}

// Presence reports whether a user has a live realtime connection.
type Presence interface {
	IsOnline(userID string) bool
}

// API implements the REST half of the chat backend.
type API struct {
	Users         *memory.UserRepository
	Conversations *memory.ConversationRepository
	Messages      *memory.MessageRepository
	Uploads       *memory.UploadRepository
	Hasher        PasswordHasher
	Tokens        TokenIssuer
	Presence      Presence
	Logger        *slog.Logger
}

type credentialsRequest struct {
	Name     string `json:"name"`
	Email    string `json:"email"`
	Password string `json:"password"`
}

func (h *API) SignIn(c *gin.Context) {
	var req credentialsRequest
	if err := c.ShouldBindJSON(&req); err != nil || strings.TrimSpace(req.Email) == "" || req.Password == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "email and password are required"})
		return
	}
	acc, err := h.Users.ByEmail(c.Request.Context(), req.Email)
	if err == nil {
		err = h.Hasher.Compare(acc.PasswordHash, req.Password)
	}
	if err != nil {
		if !errors.Is(err, memory.ErrUserNotFound) && !errors.Is(err, security.ErrPasswordMismatch) {
			h.internalError(c, "signin", err)
			return
		}
		c.JSON(http.StatusUnauthorized, gin.H{"error": "invalid email or password"})
		return
	}
	token, err := h.Tokens.Issue(acc.User.ID)
	if err != nil {
		h.internalError(c, "issue token", err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"token": token})
}

func (h *API) SignUp(c *gin.Context) {
	var req credentialsRequest
	if err := c.ShouldBindJSON(&req); err != nil || strings.TrimSpace(req.Name) == "" || strings.TrimSpace(req.Email) == "" || req.Password == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "name, email and password are required"})
		return
	}
	hash, err := h.Hasher.Hash(req.Password)
	if err != nil {
		h.internalError(c, "hash password", err)
		return
	}
	if _, err := h.Users.Create(c.Request.Context(), req.Name, req.Email, hash); err != nil {
		if errors.Is(err, memory.ErrEmailTaken) {
			c.JSON(http.StatusConflict, gin.H{"error": "email already registered"})
			return
		}
		h.internalError(c, "create user", err)
		return
	}
	c.JSON(http.StatusCreated, gin.H{"message": "Signed up successfully, please sign in"})
}

func (h *API) Me(c *gin.Context) {
	me, ok := requireUser(c)
	if !ok {
		return
	}
	c.JSON(http.StatusOK, h.userJSON(me))
}

func (h *API) ListChats(c *gin.Context) {
	me, ok := requireUser(c)
	if !ok {
		return
	}
	convs, err := h.Conversations.ForMember(c.Request.Context(), me.ID)
	if err != nil {
		h.internalError(c, "list chats", err)
		return
	}
	out := make([]gin.H, 0, len(convs))
	for _, conv := range convs {
		out = append(out, h.conversationJSON(c, conv))
	}
	c.JSON(http.StatusOK, out)
}

type createChatRequest struct {
	Type     string   `json:"type"`
	MemberID string   `json:"memberId"`
	Name     string   `json:"name"`
	Members  []string `json:"members"`
}

func (h *API) CreateChat(c *gin.Context) {
	me, ok := requireUser(c)
	if !ok {
		return
	}
	var req createChatRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid body"})
		return
	}
	ctx := c.Request.Context()
	kind := api.KindFromWire(req.Type)
	members := []string{me.ID}
	switch kind {
	case chat.KindGroup:
		if strings.TrimSpace(req.Name) == "" || len(req.Members) == 0 {
			c.JSON(http.StatusBadRequest, gin.H{"error": "group name and members are required"})
			return
		}
		members = append(members, req.Members...)
	default:
		if req.MemberID == "" || req.MemberID == me.ID {
			c.JSON(http.StatusBadRequest, gin.H{"error": "memberId is required"})
			return
		}
		members = append(members, req.MemberID)
		req.Name = ""
	}
	for _, id := range members {
		if _, err := h.Users.ByID(ctx, id); err != nil {
			c.JSON(http.StatusNotFound, gin.H{"error": "user not found"})
			return
		}
	}
	id, err := h.Conversations.Create(ctx, kind, req.Name, members)
	if err != nil {
		h.internalError(c, "create chat", err)
		return
	}
	conv := chat.Conversation{ID: id, Kind: kind, Name: strings.TrimSpace(req.Name)}
	stored, _ := h.Conversations.Members(ctx, id)
	for _, m := range stored {
		conv.Members = append(conv.Members, chat.User{ID: m})
	}
	c.JSON(http.StatusCreated, h.conversationJSON(c, conv))
}

func (h *API) ListMessages(c *gin.Context) {
	me, ok := requireUser(c)
	if !ok {
		return
	}
	ctx := c.Request.Context()
	convID := c.Param("id")
	members, err := h.Conversations.Members(ctx, convID)
	if err != nil || !contains(members, me.ID) {
		c.JSON(http.StatusNotFound, gin.H{"error": "chat not found"})
		return
	}
	msgs, err := h.Messages.List(ctx, convID)
	if err != nil {
		h.internalError(c, "list messages", err)
		return
	}
	out := make([]gin.H, 0, len(msgs))
	for _, m := range msgs {
		out = append(out, h.messageJSON(c, m))
	}
	c.JSON(http.StatusOK, out)
}

func (h *API) Upload(c *gin.Context) {
	if _, ok := requireUser(c); !ok {
		return
	}
	file, _, err := c.Request.FormFile("image")
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "image field is required"})
		return
	}
	defer file.Close()
	data, err := io.ReadAll(io.LimitReader(file, maxUploadSize+1))
	if err != nil {
		h.internalError(c, "read upload", err)
		return
	}
	if len(data) == 0 || len(data) > maxUploadSize {
		c.JSON(http.StatusBadRequest, gin.H{"error": "image must be between 1 byte and 8MB"})
		return
	}
	mime := mimetype.Detect(data)
	if !strings.HasPrefix(mime.String(), "image/") {
		c.JSON(http.StatusBadRequest, gin.H{"error": "only images are accepted"})
		return
	}
	name := uuid.NewString() + mime.Extension()
	if err := h.Uploads.Put(c.Request.Context(), name, memory.Upload{ContentType: mime.String(), Data: data}); err != nil {
		h.internalError(c, "store upload", err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"url": baseURL(c) + "/uploads/" + name})
}

func (h *API) ServeUpload(c *gin.Context) {
	u, err := h.Uploads.Get(c.Request.Context(), c.Param("name"))
	if err != nil {
		c.JSON(http.StatusNotFound, gin.H{"error": "upload not found"})
		return
	}
	c.Data(http.StatusOK, u.ContentType, u.Data)
}

func (h *API) UserByEmail(c *gin.Context) {
	if _, ok := requireUser(c); !ok {
		return
	}
	acc, err := h.Users.ByEmail(c.Request.Context(), c.Query("email"))
	if err != nil {
		c.JSON(http.StatusNotFound, gin.H{"error": "user not found"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"id": acc.User.ID})
}

// ResolveEmails answers ids aligned with the request; unknown emails map to null.
func (h *API) ResolveEmails(c *gin.Context) {
	if _, ok := requireUser(c); !ok {
		return
	}
	var req struct {
		Emails []string `json:"emails"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "emails are required"})
		return
	}
	ids := make([]*string, len(req.Emails))
	for i, email := range req.Emails {
		if acc, err := h.Users.ByEmail(c.Request.Context(), email); err == nil {
			id := acc.User.ID
			ids[i] = &id
		}
	}
	c.JSON(http.StatusOK, gin.H{"ids": ids})
}

func (h *API) userJSON(u chat.User) gin.H {
	online := false
	if h.Presence != nil {
		online = h.Presence.IsOnline(u.ID)
	}
	return gin.H{"_id": u.ID, "name": u.Name, "email": u.Email, "online": online}
}

func (h *API) conversationJSON(c *gin.Context, conv chat.Conversation) gin.H {
	members := make([]gin.H, 0, len(conv.Members))
	for _, m := range conv.Members {
		members = append(members, h.userJSON(h.lookupUser(c, m.ID)))
	}
	body := gin.H{"_id": conv.ID, "type": api.KindToWire(conv.Kind), "members": members}
	if conv.Kind == chat.KindGroup {
		body["name"] = conv.Name
	}
	return body
}

func (h *API) messageJSON(c *gin.Context, m chat.Message) gin.H {
	return messageBody(m, h.userJSON(h.lookupUser(c, m.Sender.ID)))
}

func (h *API) lookupUser(c *gin.Context, id string) chat.User {
	acc, err := h.Users.ByID(c.Request.Context(), id)
	if err != nil {
		return chat.User{ID: id}
	}
	return acc.User
}

func (h *API) internalError(c *gin.Context, op string, err error) {
	if h.Logger != nil {
		h.Logger.Error("request failed", "op", op, "error", err)
	}
	c.JSON(http.StatusInternalServerError, gin.H{"error": "internal error"})
}

func messageBody(m chat.Message, sender gin.H) gin.H {
	var image *string
	if m.Image != "" {
		img := m.Image
		image = &img
	}
	return gin.H{
		"_id":       m.ID,
		"chat":      m.ConversationID,
		"sender":    sender,
		"text":      m.Text,
		"image":     image,
		"createdAt": m.CreatedAt.UTC().Format(time.RFC3339Nano),
	}
}

func baseURL(c *gin.Context) string {
	scheme := "http"
	if c.Request.TLS != nil {
		scheme = "https"
	}
	return scheme + "://" + c.Request.Host
}

func contains(ids []string, id string) bool {
	for _, v := range ids {
		if v == id {
			return true
		}
	}
	return false
}
