package realtime

import (
	"encoding/json"
	"fmt"

	"messenger/internal/domain/chat"
	"messenger/internal/infra/api"
)

// Event names on the wire.
const (
	EventUserOnline   = "userOnline"
	EventNewMessage   = "newMessage"
	EventTyping       = "typing"
	EventMessagesRead = "messagesRead"
	EventJoinChat     = "joinChat"
	EventSendMessage  = "sendMessage"
)

// Envelope is one websocket frame.
type Envelope struct {
	Event string          `json:"event"`
	Data  json.RawMessage `json:"data,omitempty"`
}

// NewEnvelope encodes data under the given event name.
func NewEnvelope(event string, data any) (Envelope, error) {
	raw, err := json.Marshal(data)
	if err != nil {
		return Envelope{}, err
	}
	return Envelope{Event: event, Data: raw}, nil
}

// ParseData decodes the payload into v.
func (e Envelope) ParseData(v any) error {
	return json.Unmarshal(e.Data, v)
}

type presencePayload struct {
	UserID string `json:"userId"`
	Online bool   `json:"online"`
}

// TypingPayload is sent by the client as {chatId, isTyping} and pushed by the
// server with the typing user's id added.
type TypingPayload struct {
	ChatID   string `json:"chatId"`
	UserID   string `json:"userId,omitempty"`
	IsTyping bool   `json:"isTyping"`
}

type readPayload struct {
	ChatID string `json:"chatId"`
	UserID string `json:"userId"`
}

// SendPayload is the outbound message body. Image is null for text-only messages.
type SendPayload struct {
	ChatID string  `json:"chatId"`
	Text   string  `json:"text"`
	Image  *string `json:"image"`
}

var errUnknownEvent = fmt.Errorf("realtime: unknown event")

// decodeEvent turns an inbound envelope into a typed domain event.
func decodeEvent(env Envelope) (chat.Event, error) {
	switch env.Event {
	case EventUserOnline:
		var p presencePayload
		if err := env.ParseData(&p); err != nil {
			return nil, err
		}
		return chat.PresenceChanged{UserID: p.UserID, Online: p.Online}, nil
	case EventNewMessage:
		var m api.MessageDTO
		if err := env.ParseData(&m); err != nil {
			return nil, err
		}
		return chat.MessageReceived{Message: m.ToDomain()}, nil
	case EventTyping:
		var p TypingPayload
		if err := env.ParseData(&p); err != nil {
			return nil, err
		}
		return chat.TypingChanged{ConversationID: p.ChatID, UserID: p.UserID, IsTyping: p.IsTyping}, nil
	case EventMessagesRead:
		var p readPayload
		if err := env.ParseData(&p); err != nil {
			return nil, err
		}
		return chat.ReadReceipt{ConversationID: p.ChatID, UserID: p.UserID}, nil
	default:
		return nil, fmt.Errorf("%w: %q", errUnknownEvent, env.Event)
	}
}
