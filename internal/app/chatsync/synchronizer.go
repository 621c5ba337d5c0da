// Package chatsync keeps the client's view of conversations consistent with
// backend fetches and realtime pushes. All mutations happen on one goroutine
// that drains a single intake queue.
package chatsync

import (
	"cmp"
	"context"
	"errors"
	"log/slog"
	"slices"
	"sync"
	"sync/atomic"

	"messenger/internal/domain/chat"
)

const intakeSize = 256

// ErrStopped is returned for intents submitted after the synchronizer stopped.
var ErrStopped = errors.New("chatsync: synchronizer stopped")

// Backend is the subset of the API gateway the synchronizer reads from.
type Backend interface {
	ListConversations(ctx context.Context) ([]chat.Conversation, error)
	FetchMessages(ctx context.Context, conversationID string) ([]chat.Message, error)
}

// Joiner subscribes the realtime channel to a conversation.
type Joiner interface {
	Join(conversationID string) error
}

type Config struct {
	// Me is the signed-in user; their own typing echoes are ignored.
	Me      string
	Backend Backend
	Joiner  Joiner
	Logger  *slog.Logger
	// Report receives failures of background fetches.
	Report func(error)
}

type Synchronizer struct {
	cfg    Config
	intake chan any
	done   chan struct{}
	notify chan struct{}

	mu   sync.RWMutex
	snap State

	// loop-owned
	conversations []chat.Conversation
	active        string
	generation    uint64
	loading       bool
	log           []chat.Message
	buffered      []chat.Message
	presence      map[string]bool
	typing        map[string]map[string]struct{}
	unread        map[string]int
	listSeq       uint64
	cancelFetch   context.CancelFunc
	runCtx        context.Context

	stale atomic.Int64
}

type (
	eventItem struct{ ev chat.Event }
	openItem  struct {
		conversationID string
		reply          chan error
	}
	refreshItem struct{}
	listDone    struct {
		seq           uint64
		conversations []chat.Conversation
		err           error
	}
	fetchDone struct {
		generation     uint64
		conversationID string
		messages       []chat.Message
		err            error
	}
)

func New(cfg Config) *Synchronizer {
	s := &Synchronizer{
		cfg:      cfg,
		intake:   make(chan any, intakeSize),
		done:     make(chan struct{}),
		notify:   make(chan struct{}, 1),
		presence: make(map[string]bool),
		typing:   make(map[string]map[string]struct{}),
		unread:   make(map[string]int),
	}
	s.snap = s.build()
	return s
}

// Run drains the intake queue until ctx is cancelled. It must be called once.
func (s *Synchronizer) Run(ctx context.Context) {
	s.runCtx = ctx
	defer func() {
		if s.cancelFetch != nil {
			s.cancelFetch()
		}
		close(s.done)
	}()
	for {
		select {
		case <-ctx.Done():
			return
		case item := <-s.intake:
			if s.handle(item) {
				s.publish()
			}
		}
	}
}

// Done is closed once Run has returned.
func (s *Synchronizer) Done() <-chan struct{} {
	return s.done
}

// Deliver implements chat.Sink. It blocks only while the queue is full and
// drops the event once the synchronizer stopped.
func (s *Synchronizer) Deliver(ev chat.Event) {
	s.post(eventItem{ev: ev})
}

// OpenChat makes conversationID the active conversation. It returns once the
// switch is applied and the channel was asked to join; the fetch completes
// in the background.
func (s *Synchronizer) OpenChat(ctx context.Context, conversationID string) error {
	if conversationID == "" {
		return chat.Validationf("conversation id is required")
	}
	reply := make(chan error, 1)
	if !s.post(openItem{conversationID: conversationID, reply: reply}) {
		return ErrStopped
	}
	select {
	case err := <-reply:
		return err
	case <-s.done:
		return ErrStopped
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Refresh reloads the conversation list in the background.
func (s *Synchronizer) Refresh() {
	s.post(refreshItem{})
}

// State returns a copy of the latest published state.
func (s *Synchronizer) State() State {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.snap.clone()
}

// Updates signals that a newer State is available. Signals coalesce.
func (s *Synchronizer) Updates() <-chan struct{} {
	return s.notify
}

func (s *Synchronizer) post(item any) bool {
	select {
	case <-s.done:
		return false
	default:
	}
	select {
	case s.intake <- item:
		return true
	case <-s.done:
		return false
	}
}

func (s *Synchronizer) handle(item any) bool {
	switch it := item.(type) {
	case eventItem:
		return s.handleEvent(it.ev)
	case openItem:
		err := s.open(it.conversationID)
		s.publish()
		it.reply <- err
		return false
	case refreshItem:
		s.startList()
		return false
	case listDone:
		return s.applyList(it)
	case fetchDone:
		return s.applyFetch(it)
	}
	return false
}

func (s *Synchronizer) handleEvent(ev chat.Event) bool {
	switch e := ev.(type) {
	case chat.Connected:
		s.startList()
		if s.active != "" && s.cfg.Joiner != nil {
			// Rooms do not survive a reconnect.
			if err := s.cfg.Joiner.Join(s.active); err != nil {
				s.report(err)
			}
		}
		return false
	case chat.PresenceChanged:
		if prev, ok := s.presence[e.UserID]; ok && prev == e.Online {
			return false
		}
		s.presence[e.UserID] = e.Online
		return true
	case chat.MessageReceived:
		return s.receive(e.Message)
	case chat.TypingChanged:
		if e.UserID == s.cfg.Me || e.UserID == "" {
			return false
		}
		return s.setTyping(e.ConversationID, e.UserID, e.IsTyping)
	case chat.ReadReceipt:
		s.debug("read receipt ignored", "conversation_id", e.ConversationID, "user_id", e.UserID)
		return false
	default:
		s.debug("unhandled event", "event", ev.EventName())
		return false
	}
}

func (s *Synchronizer) open(conversationID string) error {
	s.generation++
	if s.cancelFetch != nil {
		s.cancelFetch()
		s.cancelFetch = nil
	}
	s.active = conversationID
	s.log = nil
	s.buffered = nil
	s.loading = true
	delete(s.unread, conversationID)

	var joinErr error
	if s.cfg.Joiner != nil {
		joinErr = s.cfg.Joiner.Join(conversationID)
	}

	ctx, cancel := context.WithCancel(s.baseCtx())
	s.cancelFetch = cancel
	gen := s.generation
	go func() {
		msgs, err := s.cfg.Backend.FetchMessages(ctx, conversationID)
		s.post(fetchDone{generation: gen, conversationID: conversationID, messages: msgs, err: err})
	}()
	return joinErr
}

func (s *Synchronizer) applyFetch(res fetchDone) bool {
	if res.generation != s.generation || res.conversationID != s.active {
		s.stale.Add(1)
		s.debug("discarding stale fetch", "conversation_id", res.conversationID)
		return false
	}
	s.cancelFetch = nil
	s.loading = false
	if res.err != nil {
		s.report(res.err)
	}
	s.log = merge(res.messages, s.buffered)
	s.buffered = nil
	return true
}

func (s *Synchronizer) receive(m chat.Message) bool {
	if m.ConversationID == "" {
		return false
	}
	if m.ConversationID != s.active {
		if m.Sender.ID == s.cfg.Me {
			return false
		}
		s.unread[m.ConversationID]++
		if !s.known(m.ConversationID) {
			s.startList()
		}
		return true
	}
	if s.loading {
		s.buffered = append(s.buffered, m)
		return false
	}
	if m.ID != "" && slices.ContainsFunc(s.log, func(x chat.Message) bool { return x.ID == m.ID }) {
		return false
	}
	s.log = append(s.log, m)
	if m.Sender.ID != "" {
		s.setTyping(m.ConversationID, m.Sender.ID, false)
	}
	return true
}

func (s *Synchronizer) setTyping(conversationID, userID string, isTyping bool) bool {
	users := s.typing[conversationID]
	_, present := users[userID]
	if isTyping == present {
		return false
	}
	if isTyping {
		if users == nil {
			users = make(map[string]struct{})
			s.typing[conversationID] = users
		}
		users[userID] = struct{}{}
		return true
	}
	delete(users, userID)
	if len(users) == 0 {
		delete(s.typing, conversationID)
	}
	return true
}

func (s *Synchronizer) startList() {
	s.listSeq++
	seq := s.listSeq
	ctx := s.baseCtx()
	go func() {
		convs, err := s.cfg.Backend.ListConversations(ctx)
		s.post(listDone{seq: seq, conversations: convs, err: err})
	}()
}

func (s *Synchronizer) applyList(res listDone) bool {
	if res.seq != s.listSeq {
		s.stale.Add(1)
		return false
	}
	if res.err != nil {
		s.report(res.err)
		return false
	}
	s.conversations = res.conversations
	for _, c := range res.conversations {
		for _, m := range c.Members {
			s.presence[m.ID] = m.Online
		}
	}
	return true
}

func (s *Synchronizer) known(conversationID string) bool {
	return slices.ContainsFunc(s.conversations, func(c chat.Conversation) bool { return c.ID == conversationID })
}

func (s *Synchronizer) baseCtx() context.Context {
	if s.runCtx != nil {
		return s.runCtx
	}
	return context.Background()
}

func (s *Synchronizer) publish() {
	snap := s.build()
	s.mu.Lock()
	s.snap = snap
	s.mu.Unlock()
	select {
	case s.notify <- struct{}{}:
	default:
	}
}

func (s *Synchronizer) build() State {
	st := State{
		Active:   s.active,
		Loading:  s.loading,
		Messages: slices.Clone(s.log),
		Presence: make(map[string]bool, len(s.presence)),
		Typing:   make(map[string][]string, len(s.typing)),
		Unread:   make(map[string]int, len(s.unread)),
	}
	st.Conversations = make([]chat.Conversation, len(s.conversations))
	for i, c := range s.conversations {
		c = c.Clone()
		for j := range c.Members {
			if online, ok := s.presence[c.Members[j].ID]; ok {
				c.Members[j].Online = online
			}
		}
		st.Conversations[i] = c
	}
	for k, v := range s.presence {
		st.Presence[k] = v
	}
	for conv, users := range s.typing {
		ids := make([]string, 0, len(users))
		for id := range users {
			ids = append(ids, id)
		}
		slices.Sort(ids)
		st.Typing[conv] = ids
	}
	for k, v := range s.unread {
		st.Unread[k] = v
	}
	return st
}

func (s *Synchronizer) report(err error) {
	if err == nil || errors.Is(err, context.Canceled) {
		return
	}
	if s.cfg.Logger != nil {
		s.cfg.Logger.Warn("chatsync: background call failed", "error", err)
	}
	if s.cfg.Report != nil {
		s.cfg.Report(err)
	}
}

func (s *Synchronizer) debug(msg string, attrs ...any) {
	if s.cfg.Logger != nil {
		s.cfg.Logger.Debug(msg, attrs...)
	}
}

// merge combines fetched history with pushes that arrived while it loaded.
// Duplicates by id keep the fetched copy; order is stable by creation time.
func merge(fetched, pushed []chat.Message) []chat.Message {
	out := make([]chat.Message, 0, len(fetched)+len(pushed))
	seen := make(map[string]struct{}, len(fetched)+len(pushed))
	for _, batch := range [][]chat.Message{fetched, pushed} {
		for _, m := range batch {
			if m.ID != "" {
				if _, dup := seen[m.ID]; dup {
					continue
				}
				seen[m.ID] = struct{}{}
			}
			out = append(out, m)
		}
	}
	slices.SortStableFunc(out, func(a, b chat.Message) int {
		return cmp.Compare(a.CreatedAt.UnixNano(), b.CreatedAt.UnixNano())
	})
	return out
}
