package controller

import (
	"context"
	"errors"
	"sync"

	"messenger/internal/domain/chat"
)

// trace records cross-collaborator ordering.
type trace struct {
	mu    sync.Mutex
	steps []string
}

func (t *trace) add(step string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.steps = append(t.steps, step)
}

func (t *trace) list() []string {
	t.mu.Lock()
	defer t.mu.Unlock()
	return append([]string(nil), t.steps...)
}

type fakeGateway struct {
	trace       *trace
	token       string
	me          chat.User
	identifyErr error
	mu          sync.Mutex
	convs       []chat.Conversation
	messages    map[string][]chat.Message
	users       map[string]string // email -> id
	created     []chat.Conversation
}

func newFakeGateway(tr *trace) *fakeGateway {
	return &fakeGateway{
		trace: tr,
		token: "abc",
		me:    chat.User{ID: "u1", Name: "Alice"},
		convs: []chat.Conversation{
			{ID: "c1", Kind: chat.KindDirect, Members: []chat.User{{ID: "u1"}, {ID: "u2", Name: "Bob"}}},
			{ID: "c2", Kind: chat.KindGroup, Name: "Team", Members: []chat.User{{ID: "u1"}, {ID: "u2"}, {ID: "u3"}}},
		},
		messages: map[string][]chat.Message{},
		users:    map[string]string{"alice@x.io": "u1", "bob@x.io": "u2", "carol@x.io": "u3"},
	}
}

func (g *fakeGateway) SignIn(_ context.Context, email, password string) (string, error) {
	g.trace.add("signin")
	if password != "pw" {
		return "", chat.NewError(chat.KindUnauthorized, "invalid email or password", nil)
	}
	return g.token, nil
}

func (g *fakeGateway) SignUp(context.Context, string, string, string) (string, error) {
	return "Signed up", nil
}

func (g *fakeGateway) Identify(context.Context) (chat.User, error) {
	g.trace.add("identify")
	if g.identifyErr != nil {
		return chat.User{}, g.identifyErr
	}
	return g.me, nil
}

func (g *fakeGateway) ListConversations(context.Context) ([]chat.Conversation, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	out := make([]chat.Conversation, len(g.convs))
	for i, c := range g.convs {
		out[i] = c.Clone()
	}
	return out, nil
}

func (g *fakeGateway) FetchMessages(_ context.Context, id string) ([]chat.Message, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	return append([]chat.Message(nil), g.messages[id]...), nil
}

func (g *fakeGateway) CreateDirectConversation(_ context.Context, peerID string) (chat.Conversation, error) {
	return g.create(chat.Conversation{ID: "d-" + peerID, Kind: chat.KindDirect, Members: []chat.User{{ID: "u1"}, {ID: peerID}}}), nil
}

func (g *fakeGateway) CreateGroupConversation(_ context.Context, name string, memberIDs []string) (chat.Conversation, error) {
	conv := chat.Conversation{ID: "g-" + name, Kind: chat.KindGroup, Name: name, Members: []chat.User{{ID: "u1"}}}
	for _, id := range memberIDs {
		conv.Members = append(conv.Members, chat.User{ID: id})
	}
	return g.create(conv), nil
}

func (g *fakeGateway) create(conv chat.Conversation) chat.Conversation {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.convs = append(g.convs, conv)
	g.created = append(g.created, conv)
	return conv
}

func (g *fakeGateway) LookupByEmail(_ context.Context, email string) (string, error) {
	if id, ok := g.users[email]; ok {
		return id, nil
	}
	return "", chat.NewError(chat.KindNotFound, "user not found", nil)
}

func (g *fakeGateway) ResolveEmails(_ context.Context, emails []string) (map[string]string, error) {
	out := map[string]string{}
	for _, e := range emails {
		if id, ok := g.users[e]; ok {
			out[e] = id
		}
	}
	return out, nil
}

type fakeChannel struct {
	trace      *trace
	sink       chat.Sink
	connectErr error
	// gate, when set, holds Connect until closed; entered reports arrival.
	gate    chan struct{}
	entered chan struct{}

	mu     sync.Mutex
	joins  []string
	sent   []chat.Outgoing
	typing []string
	closed bool
	err    error
	done   chan struct{}
	once   sync.Once
}

func (f *fakeChannel) Connect(_ context.Context, token string) error {
	f.trace.add("connect:" + token)
	if f.gate != nil {
		f.entered <- struct{}{}
		<-f.gate
	}
	if f.connectErr != nil {
		return f.connectErr
	}
	f.sink.Deliver(chat.Connected{})
	return nil
}

func (f *fakeChannel) Join(id string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.joins = append(f.joins, id)
	return nil
}

func (f *fakeChannel) Send(out chat.Outgoing) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.closed {
		return errors.New("closed")
	}
	f.sent = append(f.sent, out)
	return nil
}

func (f *fakeChannel) SetTyping(id string, isTyping bool) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	state := "stop"
	if isTyping {
		state = "start"
	}
	f.typing = append(f.typing, id+":"+state)
	return nil
}

func (f *fakeChannel) Close() error {
	f.mu.Lock()
	f.closed = true
	f.mu.Unlock()
	f.once.Do(func() { close(f.done) })
	return nil
}

// terminate simulates the server ending the connection.
func (f *fakeChannel) terminate(err error) {
	f.mu.Lock()
	f.closed = true
	f.err = err
	f.mu.Unlock()
	f.once.Do(func() { close(f.done) })
}

func (f *fakeChannel) Done() <-chan struct{} { return f.done }

func (f *fakeChannel) Err() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.err
}

func (f *fakeChannel) isClosed() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.closed
}

func (f *fakeChannel) sends() []chat.Outgoing {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]chat.Outgoing(nil), f.sent...)
}

func (f *fakeChannel) typingSignals() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.typing...)
}

func (f *fakeChannel) joined() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.joins...)
}

// fakeDialer hands out a new fakeChannel per dial.
type fakeDialer struct {
	trace      *trace
	connectErr error
	gate       chan struct{}
	entered    chan struct{}
	mu         sync.Mutex
	channels   []*fakeChannel
}

func (d *fakeDialer) dial(sink chat.Sink) Channel {
	d.mu.Lock()
	defer d.mu.Unlock()
	ch := &fakeChannel{trace: d.trace, sink: sink, connectErr: d.connectErr, gate: d.gate, entered: d.entered, done: make(chan struct{})}
	d.channels = append(d.channels, ch)
	return ch
}

func (d *fakeDialer) last() *fakeChannel {
	d.mu.Lock()
	defer d.mu.Unlock()
	if len(d.channels) == 0 {
		return nil
	}
	return d.channels[len(d.channels)-1]
}

func (d *fakeDialer) count() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return len(d.channels)
}

type fakeUploader struct {
	mu    sync.Mutex
	files []string
}

func (u *fakeUploader) UploadImage(_ context.Context, filename string, data []byte) (string, error) {
	u.mu.Lock()
	defer u.mu.Unlock()
	u.files = append(u.files, filename)
	return "https://cdn.example/" + filename, nil
}
