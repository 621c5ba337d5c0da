package chatsync

import (
	"slices"

	"messenger/internal/domain/chat"
)

// State is a point-in-time copy of everything the view renders. Callers own
// the returned value; nothing in it aliases the synchronizer's internals.
type State struct {
	Conversations []chat.Conversation
	Active        string
	Loading       bool
	Messages      []chat.Message
	Presence      map[string]bool
	// Typing maps a conversation id to the ids of users currently typing in it.
	Typing map[string][]string
	Unread map[string]int
}

// Conversation looks up a listed conversation by id.
func (s State) Conversation(id string) (chat.Conversation, bool) {
	for _, c := range s.Conversations {
		if c.ID == id {
			return c, true
		}
	}
	return chat.Conversation{}, false
}

// Online reports the last known presence of a user.
func (s State) Online(userID string) bool {
	return s.Presence[userID]
}

func (s State) clone() State {
	out := State{
		Active:   s.Active,
		Loading:  s.Loading,
		Messages: slices.Clone(s.Messages),
		Presence: make(map[string]bool, len(s.Presence)),
		Typing:   make(map[string][]string, len(s.Typing)),
		Unread:   make(map[string]int, len(s.Unread)),
	}
	out.Conversations = make([]chat.Conversation, len(s.Conversations))
	for i, c := range s.Conversations {
		out.Conversations[i] = c.Clone()
	}
	for k, v := range s.Presence {
		out.Presence[k] = v
	}
	for k, v := range s.Typing {
		out.Typing[k] = slices.Clone(v)
	}
	for k, v := range s.Unread {
		out.Unread[k] = v
	}
	return out
}
