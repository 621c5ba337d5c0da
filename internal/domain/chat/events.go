package chat

// Event is a typed message pushed by the realtime channel.
type Event interface {
	EventName() string
}

// Connected is delivered once the channel handshake succeeds.
type Connected struct{}

func (Connected) EventName() string { return "connected" }

type PresenceChanged struct {
	UserID string
	Online bool
}

func (PresenceChanged) EventName() string { return "userOnline" }

type MessageReceived struct {
	Message Message
}

func (MessageReceived) EventName() string { return "newMessage" }

type TypingChanged struct {
	ConversationID string
	UserID         string
	IsTyping       bool
}

func (TypingChanged) EventName() string { return "typing" }

type ReadReceipt struct {
	ConversationID string
	UserID         string
}

func (ReadReceipt) EventName() string { return "messagesRead" }

// Sink accepts events in the order the channel produced them.
type Sink interface {
	Deliver(ev Event)
}

// SinkFunc adapts a function to Sink.
type SinkFunc func(ev Event)

func (f SinkFunc) Deliver(ev Event) { f(ev) }
