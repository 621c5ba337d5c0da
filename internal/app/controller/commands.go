package controller

// Commands dispatched by the presentation layer. SignIn and SignUp are the
// only ones accepted without a stored credential.

type SignIn struct {
	Email    string
	Password string
}

func (SignIn) Key() string  { return "session.sign_in" }
func (SignIn) Public() bool { return true }

type SignUp struct {
	Name     string
	Email    string
	Password string
}

func (SignUp) Key() string  { return "session.sign_up" }
func (SignUp) Public() bool { return true }

// Start validates the stored credential and opens the realtime channel.
type Start struct{}

func (Start) Key() string { return "session.start" }

type Logout struct{}

func (Logout) Key() string { return "session.logout" }

type OpenChat struct {
	ConversationID string
}

func (OpenChat) Key() string { return "chat.open" }

// StartDirectChat opens a two-party conversation with the user behind Email.
type StartDirectChat struct {
	Email string
}

func (StartDirectChat) Key() string { return "chat.start_direct" }

// CreateGroup creates a named conversation; Emails is comma separated.
type CreateGroup struct {
	Name   string
	Emails string
}

func (CreateGroup) Key() string { return "chat.create_group" }

// SendMessage posts to the active conversation. ImagePath, when set, is
// uploaded first.
type SendMessage struct {
	Text      string
	ImagePath string
}

func (SendMessage) Key() string { return "chat.send" }

// Keystroke reports input activity in the active conversation.
type Keystroke struct{}

func (Keystroke) Key() string { return "chat.keystroke" }
