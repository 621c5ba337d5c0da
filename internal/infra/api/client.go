// Package api is the request/response gateway to the chat backend.
package api

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"mime/multipart"
	"net/http"
	"net/textproto"
	"net/url"
	"path/filepath"
	"strings"
	"time"

	"github.com/gabriel-vasile/mimetype"

	"messenger/internal/domain/chat"
)

const maxErrorBody = 64 << 10

// Config defines HTTP client settings.
type Config struct {
	BaseURL     string
	CallTimeout time.Duration
	HTTPClient  *http.Client
}

// TokenSource yields the current credential, if any.
type TokenSource interface {
	Credential() (string, bool)
}

// StatusError records the HTTP status behind a normalized error.
type StatusError struct {
	Code int
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("http status %d", e.Code)
}

// Client wraps the backend REST API and attaches the bearer credential to every call.
type Client struct {
	base        *url.URL
	http        *http.Client
	callTimeout time.Duration
	tokens      TokenSource
	logger      *slog.Logger
}

// NewClient validates the configuration and returns a typed client.
func NewClient(cfg Config, tokens TokenSource, logger *slog.Logger) (*Client, error) {
	raw := strings.TrimSpace(cfg.BaseURL)
	if raw == "" {
		return nil, errors.New("api: base url required")
	}
	base, err := url.Parse(strings.TrimRight(raw, "/"))
	if err != nil || base.Scheme == "" || base.Host == "" {
		return nil, fmt.Errorf("api: invalid base url %q", raw)
	}
	callTimeout := cfg.CallTimeout
	if callTimeout <= 0 {
		callTimeout = 10 * time.Second
	}
	httpClient := cfg.HTTPClient
	if httpClient == nil {
		httpClient = &http.Client{}
	}
	return &Client{
		base:        base,
		http:        httpClient,
		callTimeout: callTimeout,
		tokens:      tokens,
		logger:      logger,
	}, nil
}

// SignIn exchanges credentials for a bearer token.
func (c *Client) SignIn(ctx context.Context, email, password string) (string, error) {
	email = strings.TrimSpace(email)
	if email == "" || password == "" {
		return "", chat.Validationf("email and password are required")
	}
	var resp struct {
		Token string `json:"token"`
		Error string `json:"error"`
	}
	body := map[string]string{"email": email, "password": password}
	if err := c.doJSON(ctx, http.MethodPost, "/signin", body, &resp); err != nil {
		return "", err
	}
	if resp.Token == "" {
		msg := resp.Error
		if msg == "" {
			msg = "signin failed"
		}
		return "", chat.NewError(chat.KindServer, msg, nil)
	}
	return resp.Token, nil
}

// SignUp registers an account and returns the backend's confirmation text.
func (c *Client) SignUp(ctx context.Context, name, email, password string) (string, error) {
	name, email = strings.TrimSpace(name), strings.TrimSpace(email)
	if name == "" || email == "" || password == "" {
		return "", chat.Validationf("name, email and password are required")
	}
	var resp struct {
		Message string `json:"message"`
	}
	body := map[string]string{"name": name, "email": email, "password": password}
	if err := c.doJSON(ctx, http.MethodPost, "/signup", body, &resp); err != nil {
		return "", err
	}
	if resp.Message == "" {
		resp.Message = "Signed up"
	}
	return resp.Message, nil
}

// Identify returns the user owning the current credential.
func (c *Client) Identify(ctx context.Context) (chat.User, error) {
	if _, ok := c.credential(); !ok {
		return chat.User{}, chat.NewError(chat.KindUnauthorized, "not signed in", nil)
	}
	var resp userDTO
	if err := c.doJSON(ctx, http.MethodGet, "/me", nil, &resp); err != nil {
		return chat.User{}, err
	}
	user := resp.toDomain()
	if user.ID == "" {
		return chat.User{}, chat.NewError(chat.KindServer, "identity response without id", nil)
	}
	return user, nil
}

// ListConversations returns the user's conversations in server order.
func (c *Client) ListConversations(ctx context.Context) ([]chat.Conversation, error) {
	var resp []conversationDTO
	if err := c.doJSON(ctx, http.MethodGet, "/chats", nil, &resp); err != nil {
		return nil, err
	}
	items := make([]chat.Conversation, 0, len(resp))
	for _, conv := range resp {
		items = append(items, conv.toDomain())
	}
	return items, nil
}

// FetchMessages returns a conversation's history, oldest first.
func (c *Client) FetchMessages(ctx context.Context, conversationID string) ([]chat.Message, error) {
	conversationID = strings.TrimSpace(conversationID)
	if conversationID == "" {
		return nil, chat.Validationf("conversation id is required")
	}
	var resp []MessageDTO
	path := "/chats/" + url.PathEscape(conversationID) + "/messages"
	if err := c.doJSON(ctx, http.MethodGet, path, nil, &resp); err != nil {
		return nil, err
	}
	items := make([]chat.Message, 0, len(resp))
	for _, msg := range resp {
		m := msg.ToDomain()
		if m.ConversationID == "" {
			m.ConversationID = conversationID
		}
		items = append(items, m)
	}
	return items, nil
}

// CreateDirectConversation opens (or reuses) a two-party chat with peerID.
func (c *Client) CreateDirectConversation(ctx context.Context, peerID string) (chat.Conversation, error) {
	peerID = strings.TrimSpace(peerID)
	if peerID == "" {
		return chat.Conversation{}, chat.Validationf("peer id is required")
	}
	body := map[string]any{"type": KindToWire(chat.KindDirect), "memberId": peerID}
	var resp conversationDTO
	if err := c.doJSON(ctx, http.MethodPost, "/chats", body, &resp); err != nil {
		return chat.Conversation{}, err
	}
	return resp.toDomain(), nil
}

// CreateGroupConversation creates a named chat with the given members.
func (c *Client) CreateGroupConversation(ctx context.Context, name string, memberIDs []string) (chat.Conversation, error) {
	name = strings.TrimSpace(name)
	members := compact(memberIDs)
	if name == "" {
		return chat.Conversation{}, chat.Validationf("group name is required")
	}
	if len(members) == 0 {
		return chat.Conversation{}, chat.Validationf("at least one member is required")
	}
	body := map[string]any{"type": KindToWire(chat.KindGroup), "name": name, "members": members}
	var resp conversationDTO
	if err := c.doJSON(ctx, http.MethodPost, "/chats", body, &resp); err != nil {
		return chat.Conversation{}, err
	}
	return resp.toDomain(), nil
}

// LookupByEmail resolves one email through the single-entry helper.
func (c *Client) LookupByEmail(ctx context.Context, email string) (string, error) {
	email = strings.TrimSpace(email)
	if email == "" {
		return "", chat.Validationf("email is required")
	}
	var resp struct {
		ID string `json:"id"`
	}
	path := "/users/by-email?email=" + url.QueryEscape(email)
	if err := c.doJSON(ctx, http.MethodGet, path, nil, &resp); err != nil {
		return "", err
	}
	if resp.ID == "" {
		return "", chat.NewError(chat.KindNotFound, "user not found", nil)
	}
	return resp.ID, nil
}

// ResolveEmails maps emails to user ids. When the batch helper is missing or
// its answer cannot be aligned with the request, each email is looked up on
// its own and misses are left out of the result.
func (c *Client) ResolveEmails(ctx context.Context, emails []string) (map[string]string, error) {
	cleaned := compact(emails)
	if len(cleaned) == 0 {
		return nil, chat.Validationf("at least one email is required")
	}
	var resp struct {
		IDs []*string `json:"ids"`
	}
	err := c.doJSON(ctx, http.MethodPost, "/resolve-emails", map[string]any{"emails": cleaned}, &resp)
	switch {
	case err == nil && len(resp.IDs) == len(cleaned):
		out := make(map[string]string, len(cleaned))
		for i, id := range resp.IDs {
			if id != nil && *id != "" {
				out[cleaned[i]] = *id
			}
		}
		return out, nil
	case err == nil:
		c.debug("resolve-emails answer misaligned, falling back", "requested", len(cleaned), "returned", len(resp.IDs))
	case helperMissing(err):
		c.debug("resolve-emails helper missing, falling back", "error", err)
	default:
		return nil, err
	}

	out := make(map[string]string, len(cleaned))
	for _, email := range cleaned {
		id, err := c.LookupByEmail(ctx, email)
		if err != nil {
			if errors.Is(err, chat.ErrUnauthorized) {
				return nil, err
			}
			c.debug("email lookup skipped", "email", email, "error", err)
			continue
		}
		out[email] = id
	}
	return out, nil
}

// UploadImage stores an image through the backend and returns its URL.
func (c *Client) UploadImage(ctx context.Context, filename string, data []byte) (string, error) {
	if len(data) == 0 {
		return "", chat.Validationf("image is empty")
	}
	mime := mimetype.Detect(data)
	if !strings.HasPrefix(mime.String(), "image/") {
		return "", chat.Validationf("%s is not an image", mime.String())
	}
	if filename = filepath.Base(strings.TrimSpace(filename)); filename == "." || filename == "" {
		filename = "image"
	}
	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)
	header := make(textproto.MIMEHeader)
	header.Set("Content-Disposition", fmt.Sprintf(`form-data; name="image"; filename=%q`, filename))
	header.Set("Content-Type", mime.String())
	part, err := mw.CreatePart(header)
	if err != nil {
		return "", err
	}
	if _, err := part.Write(data); err != nil {
		return "", err
	}
	if err := mw.Close(); err != nil {
		return "", err
	}

	var resp struct {
		URL string `json:"url"`
	}
	if err := c.do(ctx, http.MethodPost, "/upload", &buf, mw.FormDataContentType(), &resp); err != nil {
		return "", err
	}
	if resp.URL == "" {
		return "", chat.NewError(chat.KindServer, "upload returned no url", nil)
	}
	return resp.URL, nil
}

func (c *Client) doJSON(ctx context.Context, method, path string, in, out any) error {
	var body io.Reader
	contentType := ""
	if in != nil {
		payload, err := json.Marshal(in)
		if err != nil {
			return chat.NewError(chat.KindValidation, "cannot encode request", err)
		}
		body = bytes.NewReader(payload)
		contentType = "application/json"
	}
	return c.do(ctx, method, path, body, contentType, out)
}

func (c *Client) do(ctx context.Context, method, path string, body io.Reader, contentType string, out any) error {
	callCtx, cancel := c.wrapCall(ctx)
	defer cancel()

	req, err := http.NewRequestWithContext(callCtx, method, c.base.String()+path, body)
	if err != nil {
		return chat.NewError(chat.KindValidation, "cannot build request", err)
	}
	req.Header.Set("Accept", "application/json")
	if contentType != "" {
		req.Header.Set("Content-Type", contentType)
	}
	if token, ok := c.credential(); ok {
		req.Header.Set("Authorization", "Bearer "+token)
	}

	start := time.Now()
	resp, err := c.http.Do(req)
	if err != nil {
		c.debug("api call failed", "method", method, "path", path, "error", err)
		return chat.NewError(chat.KindNetwork, "cannot reach server", err)
	}
	defer resp.Body.Close()
	c.debug("api call", "method", method, "path", path, "status", resp.StatusCode, "duration", time.Since(start))

	if resp.StatusCode >= http.StatusBadRequest {
		return decodeFailure(resp)
	}
	if out == nil || resp.StatusCode == http.StatusNoContent {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		if errors.Is(err, io.EOF) {
			return nil
		}
		return chat.NewError(chat.KindServer, "malformed response", err)
	}
	return nil
}

func (c *Client) wrapCall(ctx context.Context) (context.Context, context.CancelFunc) {
	if ctx == nil {
		ctx = context.Background()
	}
	return context.WithTimeout(ctx, c.callTimeout)
}

func (c *Client) credential() (string, bool) {
	if c.tokens == nil {
		return "", false
	}
	return c.tokens.Credential()
}

func (c *Client) debug(msg string, attrs ...any) {
	if c.logger != nil {
		c.logger.Debug(msg, attrs...)
	}
}

func decodeFailure(resp *http.Response) error {
	raw, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBody))
	var body errorBody
	_ = json.Unmarshal(raw, &body)
	msg := body.Error
	if msg == "" {
		msg = body.Message
	}
	if msg == "" {
		msg = http.StatusText(resp.StatusCode)
	}
	return chat.NewError(kindForStatus(resp.StatusCode), msg, &StatusError{Code: resp.StatusCode})
}

func kindForStatus(code int) chat.ErrorKind {
	switch code {
	case http.StatusUnauthorized, http.StatusForbidden:
		return chat.KindUnauthorized
	case http.StatusNotFound:
		return chat.KindNotFound
	case http.StatusBadRequest, http.StatusConflict, http.StatusUnprocessableEntity:
		return chat.KindValidation
	default:
		return chat.KindServer
	}
}

func helperMissing(err error) bool {
	var se *StatusError
	if !errors.As(err, &se) {
		return false
	}
	return se.Code == http.StatusNotFound || se.Code == http.StatusMethodNotAllowed || se.Code == http.StatusNotImplemented
}

func compact(values []string) []string {
	seen := make(map[string]struct{}, len(values))
	out := make([]string, 0, len(values))
	for _, v := range values {
		v = strings.TrimSpace(v)
		if v == "" {
			continue
		}
		if _, dup := seen[v]; dup {
			continue
		}
		seen[v] = struct{}{}
		out = append(out, v)
	}
	return out
}
