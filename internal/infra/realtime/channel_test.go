package realtime

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"

	"messenger/internal/domain/chat"
)

type recorder struct {
	events chan chat.Event
}

func newRecorder() *recorder { return &recorder{events: make(chan chat.Event, 32)} }

func (r *recorder) Deliver(ev chat.Event) { r.events <- ev }

func (r *recorder) next(t *testing.T) chat.Event {
	t.Helper()
	select {
	case ev := <-r.events:
		return ev
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for event")
		return nil
	}
}

var upgrader = websocket.Upgrader{CheckOrigin: func(*http.Request) bool { return true }}

// fakeServer accepts one connection and hands it to the test.
func fakeServer(t *testing.T, wantToken string) (string, <-chan *websocket.Conn) {
	t.Helper()
	conns := make(chan *websocket.Conn, 1)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Header.Get("Authorization") != "Bearer "+wantToken {
			http.Error(w, "unauthorized", http.StatusUnauthorized)
			return
		}
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		conns <- conn
	}))
	t.Cleanup(srv.Close)
	return "ws" + strings.TrimPrefix(srv.URL, "http"), conns
}

func accept(t *testing.T, conns <-chan *websocket.Conn) *websocket.Conn {
	t.Helper()
	select {
	case conn := <-conns:
		t.Cleanup(func() { conn.Close() })
		return conn
	case <-time.After(2 * time.Second):
		t.Fatal("server never accepted")
		return nil
	}
}

func push(t *testing.T, conn *websocket.Conn, event string, data any) {
	t.Helper()
	env, err := NewEnvelope(event, data)
	if err != nil {
		t.Fatal(err)
	}
	if err := conn.WriteJSON(env); err != nil {
		t.Fatalf("server write: %v", err)
	}
}

func readEnvelope(t *testing.T, conn *websocket.Conn) Envelope {
	t.Helper()
	_ = conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	var env Envelope
	if err := conn.ReadJSON(&env); err != nil {
		t.Fatalf("server read: %v", err)
	}
	return env
}

func TestInboundEventsArriveTypedAndInOrder(t *testing.T) {
	url, conns := fakeServer(t, "abc")
	rec := newRecorder()
	ch := New(Config{URL: url}, rec, nil)
	if err := ch.Connect(context.Background(), "abc"); err != nil {
		t.Fatalf("connect: %v", err)
	}
	defer ch.Close()
	if ch.State() != StateOpen {
		t.Fatalf("expected open, got %s", ch.State())
	}
	if _, ok := rec.next(t).(chat.Connected); !ok {
		t.Fatal("first event must be Connected")
	}

	conn := accept(t, conns)
	push(t, conn, EventUserOnline, map[string]any{"userId": "u2", "online": true})
	push(t, conn, "somethingElse", map[string]any{"x": 1})
	push(t, conn, EventNewMessage, map[string]any{
		"_id": "m1", "chat": "c1", "sender": map[string]any{"_id": "u2", "name": "Bob"},
		"text": "hi", "image": nil, "createdAt": "2024-05-01T10:00:00Z",
	})
	push(t, conn, EventTyping, map[string]any{"chatId": "c1", "userId": "u2", "isTyping": true})
	push(t, conn, EventMessagesRead, map[string]any{"chatId": "c1", "userId": "u2"})

	if ev, ok := rec.next(t).(chat.PresenceChanged); !ok || ev.UserID != "u2" || !ev.Online {
		t.Fatalf("unexpected presence event %#v", ev)
	}
	msg, ok := rec.next(t).(chat.MessageReceived)
	if !ok || msg.Message.ID != "m1" || msg.Message.ConversationID != "c1" || msg.Message.Sender.Name != "Bob" {
		t.Fatalf("unexpected message event %#v", msg)
	}
	if ev, ok := rec.next(t).(chat.TypingChanged); !ok || ev.ConversationID != "c1" || ev.UserID != "u2" || !ev.IsTyping {
		t.Fatalf("unexpected typing event %#v", ev)
	}
	if ev, ok := rec.next(t).(chat.ReadReceipt); !ok || ev.ConversationID != "c1" {
		t.Fatalf("unexpected read receipt %#v", ev)
	}
}

func TestOutboundActions(t *testing.T) {
	url, conns := fakeServer(t, "abc")
	ch := New(Config{URL: url}, newRecorder(), nil)
	if err := ch.Connect(context.Background(), "abc"); err != nil {
		t.Fatalf("connect: %v", err)
	}
	defer ch.Close()
	conn := accept(t, conns)

	if err := ch.Join("c1"); err != nil {
		t.Fatalf("join: %v", err)
	}
	env := readEnvelope(t, conn)
	var joined string
	if env.Event != EventJoinChat || env.ParseData(&joined) != nil || joined != "c1" {
		t.Fatalf("unexpected join frame %s %s", env.Event, env.Data)
	}

	if err := ch.Send(chat.Outgoing{ConversationID: "c1", Text: "hello"}); err != nil {
		t.Fatalf("send: %v", err)
	}
	env = readEnvelope(t, conn)
	var raw map[string]json.RawMessage
	if err := env.ParseData(&raw); err != nil {
		t.Fatal(err)
	}
	if env.Event != EventSendMessage || string(raw["image"]) != "null" || string(raw["text"]) != `"hello"` {
		t.Fatalf("text-only send must carry null image: %s", env.Data)
	}

	if err := ch.Send(chat.Outgoing{ConversationID: "c1", ImageURL: "https://cdn/x.png"}); err != nil {
		t.Fatalf("send image: %v", err)
	}
	env = readEnvelope(t, conn)
	var withImage SendPayload
	if err := env.ParseData(&withImage); err != nil || withImage.Image == nil || *withImage.Image != "https://cdn/x.png" {
		t.Fatalf("image send lost url: %s", env.Data)
	}

	if err := ch.SetTyping("c1", true); err != nil {
		t.Fatalf("typing: %v", err)
	}
	env = readEnvelope(t, conn)
	var typing TypingPayload
	if env.Event != EventTyping || env.ParseData(&typing) != nil || typing.ChatID != "c1" || !typing.IsTyping {
		t.Fatalf("unexpected typing frame %s", env.Data)
	}

	if err := ch.Send(chat.Outgoing{ConversationID: "c1"}); !errors.Is(err, chat.ErrValidation) {
		t.Fatalf("empty message should be rejected, got %v", err)
	}
}

func TestHandshakeRejectionIsUnauthorized(t *testing.T) {
	url, _ := fakeServer(t, "abc")
	ch := New(Config{URL: url}, newRecorder(), nil)
	err := ch.Connect(context.Background(), "wrong")
	if !errors.Is(err, chat.ErrUnauthorized) {
		t.Fatalf("expected unauthorized, got %v", err)
	}
	if ch.State() != StateClosed {
		t.Fatalf("expected closed, got %s", ch.State())
	}
	select {
	case <-ch.Done():
	default:
		t.Fatal("done not closed after failed handshake")
	}
	if err := ch.Connect(context.Background(), "abc"); !errors.Is(err, ErrAlreadyUsed) {
		t.Fatalf("channel must be single use, got %v", err)
	}
}

func TestCloseStopsDeliveryAndOutbound(t *testing.T) {
	url, conns := fakeServer(t, "abc")
	rec := newRecorder()
	ch := New(Config{URL: url}, rec, nil)
	if err := ch.Connect(context.Background(), "abc"); err != nil {
		t.Fatalf("connect: %v", err)
	}
	rec.next(t)
	conn := accept(t, conns)

	if err := ch.Close(); err != nil {
		t.Fatalf("close: %v", err)
	}
	if err := ch.Close(); err != nil {
		t.Fatalf("second close: %v", err)
	}
	if ch.State() != StateClosed || ch.Err() != nil {
		t.Fatalf("unexpected state %s err %v", ch.State(), ch.Err())
	}
	if err := ch.Join("c1"); !errors.Is(err, ErrNotOpen) {
		t.Fatalf("expected ErrNotOpen, got %v", err)
	}

	env, _ := NewEnvelope(EventUserOnline, map[string]any{"userId": "u2", "online": true})
	_ = conn.WriteJSON(env)
	select {
	case ev := <-rec.events:
		t.Fatalf("event delivered after close: %#v", ev)
	case <-time.After(100 * time.Millisecond):
	}
}

func TestServerAuthCloseCode(t *testing.T) {
	url, conns := fakeServer(t, "abc")
	ch := New(Config{URL: url}, newRecorder(), nil)
	if err := ch.Connect(context.Background(), "abc"); err != nil {
		t.Fatalf("connect: %v", err)
	}
	conn := accept(t, conns)
	msg := websocket.FormatCloseMessage(CloseAuthRejected, "token expired")
	_ = conn.WriteControl(websocket.CloseMessage, msg, time.Now().Add(time.Second))

	select {
	case <-ch.Done():
	case <-time.After(2 * time.Second):
		t.Fatal("channel did not close")
	}
	if !errors.Is(ch.Err(), chat.ErrUnauthorized) {
		t.Fatalf("expected unauthorized close reason, got %v", ch.Err())
	}
}

func TestCloseFlushesQueuedFrames(t *testing.T) {
	url, conns := fakeServer(t, "abc")
	ch := New(Config{URL: url}, newRecorder(), nil)
	if err := ch.Connect(context.Background(), "abc"); err != nil {
		t.Fatalf("connect: %v", err)
	}
	conn := accept(t, conns)

	if err := ch.SetTyping("c1", false); err != nil {
		t.Fatalf("typing: %v", err)
	}
	if err := ch.Close(); err != nil {
		t.Fatalf("close: %v", err)
	}

	env := readEnvelope(t, conn)
	var p TypingPayload
	if env.Event != EventTyping || env.ParseData(&p) != nil || p.ChatID != "c1" || p.IsTyping {
		t.Fatalf("queued stop not written before close: %+v", env)
	}
	_ = conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	if _, _, err := conn.ReadMessage(); !websocket.IsCloseError(err, websocket.CloseNormalClosure) {
		t.Fatalf("expected a normal close after the queue, got %v", err)
	}
}
