package api

import (
	"bytes"
	"encoding/json"
	"time"

	"messenger/internal/domain/chat"
)

// Wire shapes follow the backend's document ids (`_id`); plain `id` is accepted as well.

type userDTO struct {
	MongoID string `json:"_id"`
	ID      string `json:"id"`
	Name    string `json:"name"`
	Email   string `json:"email"`
	Online  bool   `json:"online"`
}

func (u userDTO) toDomain() chat.User {
	id := u.MongoID
	if id == "" {
		id = u.ID
	}
	return chat.User{ID: id, Name: u.Name, Email: u.Email, Online: u.Online}
}

// userRef decodes either an embedded user document or a bare id.
type userRef struct {
	userDTO
}

func (r *userRef) UnmarshalJSON(data []byte) error {
	data = bytes.TrimSpace(data)
	if len(data) > 0 && data[0] == '"' {
		return json.Unmarshal(data, &r.ID)
	}
	if bytes.Equal(data, []byte("null")) {
		return nil
	}
	return json.Unmarshal(data, &r.userDTO)
}

// idRef decodes either a bare id or a document carrying `_id`.
type idRef string

func (r *idRef) UnmarshalJSON(data []byte) error {
	data = bytes.TrimSpace(data)
	if bytes.Equal(data, []byte("null")) {
		return nil
	}
	if len(data) > 0 && data[0] == '"' {
		var s string
		if err := json.Unmarshal(data, &s); err != nil {
			return err
		}
		*r = idRef(s)
		return nil
	}
	var doc userDTO
	if err := json.Unmarshal(data, &doc); err != nil {
		return err
	}
	*r = idRef(doc.toDomain().ID)
	return nil
}

type conversationDTO struct {
	MongoID string    `json:"_id"`
	ID      string    `json:"id"`
	Type    string    `json:"type"`
	Name    string    `json:"name"`
	Members []userRef `json:"members"`
}

func (c conversationDTO) toDomain() chat.Conversation {
	id := c.MongoID
	if id == "" {
		id = c.ID
	}
	kind := KindFromWire(c.Type)
	members := make([]chat.User, 0, len(c.Members))
	for _, m := range c.Members {
		members = append(members, m.toDomain())
	}
	return chat.Conversation{ID: id, Kind: kind, Name: c.Name, Members: members}
}

// MessageDTO is the message document shared by REST responses and realtime pushes.
type MessageDTO struct {
	MongoID   string    `json:"_id"`
	ID        string    `json:"id"`
	Chat      idRef     `json:"chat"`
	ChatID    string    `json:"chatId"`
	Sender    userRef   `json:"sender"`
	Text      string    `json:"text"`
	Image     *string   `json:"image"`
	CreatedAt time.Time `json:"createdAt"`
}

// ToDomain converts the wire document.
func (m MessageDTO) ToDomain() chat.Message {
	id := m.MongoID
	if id == "" {
		id = m.ID
	}
	convID := string(m.Chat)
	if convID == "" {
		convID = m.ChatID
	}
	msg := chat.Message{
		ID:             id,
		ConversationID: convID,
		Sender:         m.Sender.toDomain(),
		Text:           m.Text,
		CreatedAt:      m.CreatedAt,
	}
	if m.Image != nil {
		msg.Image = *m.Image
	}
	return msg
}

// KindFromWire maps the backend's conversation type to a Kind.
func KindFromWire(t string) chat.Kind {
	if t == "group" {
		return chat.KindGroup
	}
	return chat.KindDirect
}

// KindToWire maps a Kind to the backend's conversation type.
func KindToWire(k chat.Kind) string {
	if k == chat.KindGroup {
		return "group"
	}
	return "private"
}

type errorBody struct {
	Error   string `json:"error"`
	Message string `json:"message"`
}
