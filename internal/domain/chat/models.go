package chat

import (
	"strings"
	"time"
)

// Kind distinguishes two-party conversations from named groups.
type Kind string

const (
	KindDirect Kind = "direct"
	KindGroup  Kind = "group"
)

// User is a participant as reported by the backend. Online is mirrored from
// presence events and is never authoritative locally.
type User struct {
	ID     string
	Name   string
	Email  string
	Online bool
}

// Conversation is a chat thread the current user belongs to.
type Conversation struct {
	ID      string
	Kind    Kind
	Name    string
	Members []User
}

// Peer returns the member other than me in a direct conversation.
func (c Conversation) Peer(me string) (User, bool) {
	if c.Kind != KindDirect {
		return User{}, false
	}
	for _, m := range c.Members {
		if m.ID != me {
			return m, true
		}
	}
	return User{}, false
}

// Title is the label shown for the conversation in lists and headers.
func (c Conversation) Title(me string) string {
	if c.Kind == KindGroup {
		if name := strings.TrimSpace(c.Name); name != "" {
			return name
		}
		return "Group"
	}
	if peer, ok := c.Peer(me); ok && peer.Name != "" {
		return peer.Name
	}
	return "Private"
}

// Clone returns a copy that shares no slices with c.
func (c Conversation) Clone() Conversation {
	c.Members = append([]User(nil), c.Members...)
	return c
}

// Message is immutable once created by the backend.
type Message struct {
	ID             string
	ConversationID string
	Sender         User
	Text           string
	Image          string
	CreatedAt      time.Time
}

// HasImage reports whether the message carries an image reference.
func (m Message) HasImage() bool {
	return m.Image != ""
}

// Outgoing is the content the client originates; identifiers are assigned by the backend.
type Outgoing struct {
	ConversationID string
	Text           string
	ImageURL       string
}
