// Package controller owns the session lifecycle: it validates the credential,
// opens the realtime channel, runs the synchronizer and executes user intents.
package controller

import (
	"context"
	"errors"
	"log/slog"
	"os"
	"strings"
	"sync"
	"time"

	"messenger/internal/app/chatsync"
	"messenger/internal/app/commands"
	"messenger/internal/app/middleware"
	"messenger/internal/app/session"
	"messenger/internal/app/typing"
	"messenger/internal/domain/chat"
)

const alertBuffer = 16

// ErrSessionEnded reports a start whose credential was cleared or replaced
// before the channel finished connecting.
var ErrSessionEnded = errors.New("controller: session ended while connecting")

// Gateway is the request/response surface of the backend.
type Gateway interface {
	chatsync.Backend
	SignIn(ctx context.Context, email, password string) (string, error)
	SignUp(ctx context.Context, name, email, password string) (string, error)
	Identify(ctx context.Context) (chat.User, error)
	CreateDirectConversation(ctx context.Context, peerID string) (chat.Conversation, error)
	CreateGroupConversation(ctx context.Context, name string, memberIDs []string) (chat.Conversation, error)
	LookupByEmail(ctx context.Context, email string) (string, error)
	ResolveEmails(ctx context.Context, emails []string) (map[string]string, error)
}

// Uploader stores an image and returns the URL to send.
type Uploader interface {
	UploadImage(ctx context.Context, filename string, data []byte) (string, error)
}

// Channel is one realtime connection; *realtime.Channel implements it.
type Channel interface {
	Connect(ctx context.Context, token string) error
	Join(conversationID string) error
	Send(out chat.Outgoing) error
	SetTyping(conversationID string, isTyping bool) error
	Close() error
	Done() <-chan struct{}
	Err() error
}

// Dialer builds a fresh, unconnected channel delivering to sink.
type Dialer func(sink chat.Sink) Channel

type Config struct {
	Session    *session.Store
	Gateway    Gateway
	Uploader   Uploader
	Dial       Dialer
	TypingIdle time.Duration
	// AfterFunc overrides the typing timer clock.
	AfterFunc typing.AfterFunc
	// ReadFile loads image attachments; defaults to os.ReadFile.
	ReadFile func(path string) ([]byte, error)
	Logger   *slog.Logger
}

// View is what the presentation layer renders.
type View struct {
	SignedIn  bool
	Connected bool
	Me        chat.User
	chatsync.State
}

type Controller struct {
	cfg    Config
	bus    commands.Bus
	alerts chan error
	notify chan struct{}

	startMu sync.Mutex
	mu      sync.Mutex
	run     *runtime

	cancelClear func()
}

// runtime is everything that lives exactly as long as one realtime channel.
type runtime struct {
	me      chat.User
	channel Channel
	sync    *chatsync.Synchronizer
	typing  *typing.Debouncer
	cancel  context.CancelFunc
}

func New(cfg Config) (*Controller, error) {
	if cfg.Session == nil || cfg.Gateway == nil || cfg.Dial == nil {
		return nil, errors.New("controller: session, gateway and dialer are required")
	}
	if cfg.Uploader == nil {
		return nil, errors.New("controller: uploader is required")
	}
	if cfg.ReadFile == nil {
		cfg.ReadFile = os.ReadFile
	}
	if cfg.TypingIdle <= 0 {
		cfg.TypingIdle = time.Second
	}
	c := &Controller{
		cfg:    cfg,
		alerts: make(chan error, alertBuffer),
		notify: make(chan struct{}, 1),
	}
	c.cancelClear = cfg.Session.OnClear(c.teardown)

	registry := commands.NewRegistry()
	commands.Register(registry, commands.HandlerFunc[SignIn, chat.User](c.signIn))
	commands.Register(registry, commands.HandlerFunc[SignUp, string](c.signUp))
	commands.Register(registry, commands.HandlerFunc[Start, chat.User](c.handleStart))
	commands.Register(registry, commands.HandlerFunc[Logout, struct{}](c.logout))
	commands.Register(registry, commands.HandlerFunc[OpenChat, struct{}](c.openChat))
	commands.Register(registry, commands.HandlerFunc[StartDirectChat, chat.Conversation](c.startDirectChat))
	commands.Register(registry, commands.HandlerFunc[CreateGroup, chat.Conversation](c.createGroup))
	commands.Register(registry, commands.HandlerFunc[SendMessage, struct{}](c.sendMessage))
	commands.Register(registry, commands.HandlerFunc[Keystroke, struct{}](c.keystroke))

	c.bus = middleware.ChainCommands(registry,
		middleware.Logging(cfg.Logger),
		middleware.RequireSession(cfg.Session),
		middleware.ExpireOnUnauthorized(cfg.Session),
	)
	return c, nil
}

// Bus is the entry point for user intents.
func (c *Controller) Bus() commands.Bus {
	return c.bus
}

// Dispatch sends cmd through the controller's bus.
func Dispatch[C commands.Command, R any](ctx context.Context, c *Controller, cmd C) (R, error) {
	return commands.Dispatch[C, R](ctx, c.bus, cmd)
}

// Alerts carries failures that happen outside any command, such as a dropped
// channel or a failed background fetch.
func (c *Controller) Alerts() <-chan error {
	return c.alerts
}

// Updates signals that View changed. Signals coalesce.
func (c *Controller) Updates() <-chan struct{} {
	return c.notify
}

func (c *Controller) View() View {
	v := View{}
	if _, ok := c.cfg.Session.Credential(); ok {
		v.SignedIn = true
	}
	c.mu.Lock()
	rt := c.run
	c.mu.Unlock()
	if rt == nil {
		return v
	}
	v.Connected = true
	v.Me = rt.me
	v.State = rt.sync.State()
	return v
}

// Close tears everything down without touching the stored credential.
func (c *Controller) Close() {
	c.cancelClear()
	c.teardown()
}

func (c *Controller) signIn(ctx context.Context, cmd SignIn) (chat.User, error) {
	token, err := c.cfg.Gateway.SignIn(ctx, cmd.Email, cmd.Password)
	if err != nil {
		return chat.User{}, err
	}
	// A previous account's channel must not outlive its credential.
	c.teardown()
	if err := c.cfg.Session.SetCredential(ctx, token); err != nil {
		return chat.User{}, err
	}
	return c.start(ctx)
}

func (c *Controller) signUp(ctx context.Context, cmd SignUp) (string, error) {
	return c.cfg.Gateway.SignUp(ctx, cmd.Name, cmd.Email, cmd.Password)
}

func (c *Controller) handleStart(ctx context.Context, _ Start) (chat.User, error) {
	return c.start(ctx)
}

// start confirms the identity before the channel is dialed. Only one channel
// exists per session; a second start while it is open returns the identity.
func (c *Controller) start(ctx context.Context) (chat.User, error) {
	c.startMu.Lock()
	defer c.startMu.Unlock()

	token, ok := c.cfg.Session.Credential()
	if !ok {
		return chat.User{}, chat.NewError(chat.KindUnauthorized, "sign in required", nil)
	}
	c.mu.Lock()
	if rt := c.run; rt != nil {
		c.mu.Unlock()
		return rt.me, nil
	}
	c.mu.Unlock()

	me, err := c.cfg.Gateway.Identify(ctx)
	if err != nil {
		if errors.Is(err, chat.ErrUnauthorized) {
			c.clearSession(ctx)
		}
		return chat.User{}, err
	}
	c.cfg.Session.SetUser(me)

	runCtx, cancel := context.WithCancel(context.Background())
	rt := &runtime{me: me, cancel: cancel}
	var synchronizer *chatsync.Synchronizer
	rt.channel = c.cfg.Dial(chat.SinkFunc(func(ev chat.Event) { synchronizer.Deliver(ev) }))
	synchronizer = chatsync.New(chatsync.Config{
		Me:      me.ID,
		Backend: c.cfg.Gateway,
		Joiner:  rt.channel,
		Logger:  c.cfg.Logger,
		Report:  c.alert,
	})
	rt.sync = synchronizer
	rt.typing = typing.New(c.cfg.TypingIdle, func(conversationID string, isTyping bool) {
		if err := rt.channel.SetTyping(conversationID, isTyping); err != nil {
			c.debug("typing signal dropped", "conversation_id", conversationID, "error", err)
		}
	}, c.cfg.AfterFunc)
	go synchronizer.Run(runCtx)

	if err := rt.channel.Connect(ctx, token); err != nil {
		cancel()
		if errors.Is(err, chat.ErrUnauthorized) {
			c.clearSession(ctx)
		}
		return chat.User{}, err
	}

	// A logout during the handshake found no runtime to release; the
	// credential check under c.mu orders this against the clear listener.
	c.mu.Lock()
	if current, ok := c.cfg.Session.Credential(); !ok || current != token {
		c.mu.Unlock()
		_ = rt.channel.Close()
		cancel()
		return chat.User{}, ErrSessionEnded
	}
	c.run = rt
	c.mu.Unlock()
	go c.watch(rt)
	go c.forward(runCtx, rt)
	c.changed()
	c.info("session started", "user_id", me.ID)
	return me, nil
}

// watch reacts to the channel ending on its own.
func (c *Controller) watch(rt *runtime) {
	<-rt.channel.Done()
	err := rt.channel.Err()
	if err == nil {
		return
	}
	c.mu.Lock()
	current := c.run == rt
	c.mu.Unlock()
	if !current {
		return
	}
	c.alert(err)
	if errors.Is(err, chat.ErrUnauthorized) {
		c.clearSession(context.Background())
		return
	}
	// The session survives; the next Start re-validates it.
	c.release(rt)
}

func (c *Controller) forward(ctx context.Context, rt *runtime) {
	for {
		select {
		case <-ctx.Done():
			return
		case <-rt.sync.Updates():
			c.changed()
		}
	}
}

func (c *Controller) logout(ctx context.Context, _ Logout) (struct{}, error) {
	c.teardown()
	return struct{}{}, c.cfg.Session.Clear(ctx)
}

// teardown stops typing, closes the channel and stops the synchronizer.
func (c *Controller) teardown() {
	c.mu.Lock()
	rt := c.run
	c.mu.Unlock()
	if rt != nil {
		c.release(rt)
	}
}

func (c *Controller) release(rt *runtime) {
	c.mu.Lock()
	if c.run == rt {
		c.run = nil
	}
	c.mu.Unlock()
	rt.typing.Flush()
	_ = rt.channel.Close()
	rt.cancel()
	c.changed()
}

func (c *Controller) openChat(ctx context.Context, cmd OpenChat) (struct{}, error) {
	rt, err := c.current()
	if err != nil {
		return struct{}{}, err
	}
	rt.typing.Flush()
	return struct{}{}, rt.sync.OpenChat(ctx, strings.TrimSpace(cmd.ConversationID))
}

func (c *Controller) startDirectChat(ctx context.Context, cmd StartDirectChat) (chat.Conversation, error) {
	rt, err := c.current()
	if err != nil {
		return chat.Conversation{}, err
	}
	email := strings.TrimSpace(cmd.Email)
	if email == "" {
		return chat.Conversation{}, chat.Validationf("email is required")
	}
	peerID, err := c.cfg.Gateway.LookupByEmail(ctx, email)
	if err != nil {
		return chat.Conversation{}, err
	}
	if peerID == rt.me.ID {
		return chat.Conversation{}, chat.Validationf("cannot start a chat with yourself")
	}
	conv, err := c.cfg.Gateway.CreateDirectConversation(ctx, peerID)
	if err != nil {
		return chat.Conversation{}, err
	}
	return conv, c.adopt(ctx, rt, conv)
}

func (c *Controller) createGroup(ctx context.Context, cmd CreateGroup) (chat.Conversation, error) {
	rt, err := c.current()
	if err != nil {
		return chat.Conversation{}, err
	}
	name := strings.TrimSpace(cmd.Name)
	if name == "" {
		return chat.Conversation{}, chat.Validationf("group name is required")
	}
	emails := splitEmails(cmd.Emails)
	if len(emails) == 0 {
		return chat.Conversation{}, chat.Validationf("at least one member email is required")
	}
	resolved, err := c.cfg.Gateway.ResolveEmails(ctx, emails)
	if err != nil {
		return chat.Conversation{}, err
	}
	members := make([]string, 0, len(resolved))
	for _, email := range emails {
		if id, ok := resolved[email]; ok && id != rt.me.ID {
			members = append(members, id)
		}
	}
	if len(members) == 0 {
		return chat.Conversation{}, chat.NewError(chat.KindNotFound, "no users found for those emails", nil)
	}
	conv, err := c.cfg.Gateway.CreateGroupConversation(ctx, name, members)
	if err != nil {
		return chat.Conversation{}, err
	}
	return conv, c.adopt(ctx, rt, conv)
}

// adopt refreshes the list so the new conversation shows up, then opens it.
func (c *Controller) adopt(ctx context.Context, rt *runtime, conv chat.Conversation) error {
	rt.sync.Refresh()
	rt.typing.Flush()
	return rt.sync.OpenChat(ctx, conv.ID)
}

func (c *Controller) sendMessage(ctx context.Context, cmd SendMessage) (struct{}, error) {
	rt, err := c.current()
	if err != nil {
		return struct{}{}, err
	}
	active := rt.sync.State().Active
	if active == "" {
		return struct{}{}, chat.Validationf("open a conversation first")
	}
	text := strings.TrimSpace(cmd.Text)
	path := strings.TrimSpace(cmd.ImagePath)
	if text == "" && path == "" {
		return struct{}{}, chat.Validationf("message is empty")
	}

	out := chat.Outgoing{ConversationID: active, Text: text}
	if path != "" {
		data, err := c.cfg.ReadFile(path)
		if err != nil {
			return struct{}{}, chat.NewError(chat.KindValidation, "cannot read image", err)
		}
		if out.ImageURL, err = c.cfg.Uploader.UploadImage(ctx, path, data); err != nil {
			return struct{}{}, err
		}
	}
	if err := rt.channel.Send(out); err != nil {
		return struct{}{}, chat.NewError(chat.KindNetwork, "message not sent", err)
	}
	rt.typing.Flush()
	return struct{}{}, nil
}

func (c *Controller) keystroke(_ context.Context, _ Keystroke) (struct{}, error) {
	rt, err := c.current()
	if err != nil {
		return struct{}{}, err
	}
	if active := rt.sync.State().Active; active != "" {
		rt.typing.Keystroke(active)
	}
	return struct{}{}, nil
}

func (c *Controller) current() (*runtime, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.run == nil {
		return nil, chat.NewError(chat.KindNetwork, "not connected", nil)
	}
	return c.run, nil
}

func (c *Controller) clearSession(ctx context.Context) {
	if err := c.cfg.Session.Clear(context.WithoutCancel(ctx)); err != nil {
		c.warn("clear session failed", "error", err)
	}
}

func (c *Controller) alert(err error) {
	if err == nil {
		return
	}
	select {
	case c.alerts <- err:
	default:
		c.warn("alert dropped", "error", err)
	}
}

func (c *Controller) changed() {
	select {
	case c.notify <- struct{}{}:
	default:
	}
}

func splitEmails(raw string) []string {
	var out []string
	for _, part := range strings.Split(raw, ",") {
		if email := strings.TrimSpace(part); email != "" {
			out = append(out, email)
		}
	}
	return out
}

func (c *Controller) info(msg string, attrs ...any) {
	if c.cfg.Logger != nil {
		c.cfg.Logger.Info(msg, attrs...)
	}
}

func (c *Controller) warn(msg string, attrs ...any) {
	if c.cfg.Logger != nil {
		c.cfg.Logger.Warn(msg, attrs...)
	}
}

func (c *Controller) debug(msg string, attrs ...any) {
	if c.cfg.Logger != nil {
		c.cfg.Logger.Debug(msg, attrs...)
	}
}
