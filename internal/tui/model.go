// Package tui is the terminal presentation layer. It renders controller
// views and turns key presses into controller commands; it owns no chat
// state of its own.
package tui

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/charmbracelet/bubbles/textinput"
	"github.com/charmbracelet/bubbles/viewport"
	tea "github.com/charmbracelet/bubbletea"

	"messenger/internal/app/commands"
	"messenger/internal/app/controller"
	"messenger/internal/domain/chat"
)

const commandTimeout = 30 * time.Second

// Backend is the controller surface the view needs.
type Backend interface {
	Bus() commands.Bus
	View() controller.View
	Updates() <-chan struct{}
	Alerts() <-chan error
}

type screen int

const (
	screenAuth screen = iota
	screenChat
)

type authMode int

const (
	modeSignIn authMode = iota
	modeSignUp
)

type pane int

const (
	paneSidebar pane = iota
	paneInput
)

type prompt int

const (
	promptNone prompt = iota
	promptDirect
	promptGroupName
	promptGroupEmails
	promptImage
)

type (
	updateMsg struct{}
	alertMsg  struct{ err error }
	// resultMsg reports a finished command; info is shown on success.
	resultMsg struct {
		op   string
		info string
		err  error
	}
)

type Model struct {
	backend Backend
	view    controller.View

	screen  screen
	mode    authMode
	focus   pane
	prompt  prompt
	pending string // group name captured before the email step

	nameInput     textinput.Model
	emailInput    textinput.Model
	passwordInput textinput.Model
	authField     int

	messageInput textinput.Model
	promptInput  textinput.Model
	log          viewport.Model
	selected     int

	status    string
	statusErr bool
	busy      bool

	width, height int
}

func New(backend Backend) Model {
	name := textinput.New()
	name.Placeholder = "Name"
	name.CharLimit = 64

	email := textinput.New()
	email.Placeholder = "Email"
	email.CharLimit = 128
	email.Focus()

	password := textinput.New()
	password.Placeholder = "Password"
	password.EchoMode = textinput.EchoPassword
	password.EchoCharacter = '•'

	message := textinput.New()
	message.Placeholder = "Type a message..."
	message.CharLimit = 2000

	m := Model{
		backend:       backend,
		view:          backend.View(),
		nameInput:     name,
		emailInput:    email,
		passwordInput: password,
		messageInput:  message,
		promptInput:   textinput.New(),
		log:           viewport.New(80, 20),
		width:         100,
		height:        30,
	}
	if m.view.SignedIn {
		m.screen = screenChat
	}
	m.layout()
	return m
}

func (m Model) Init() tea.Cmd {
	cmds := []tea.Cmd{textinput.Blink, m.waitUpdate(), m.waitAlert()}
	if m.view.SignedIn {
		cmds = append(cmds, m.run("start", "", controller.Start{}))
	}
	return tea.Batch(cmds...)
}

func (m Model) waitUpdate() tea.Cmd {
	ch := m.backend.Updates()
	return func() tea.Msg {
		<-ch
		return updateMsg{}
	}
}

func (m Model) waitAlert() tea.Cmd {
	ch := m.backend.Alerts()
	return func() tea.Msg {
		return alertMsg{err: <-ch}
	}
}

// run dispatches cmd off the UI goroutine.
func (m Model) run(op, info string, cmd commands.Command) tea.Cmd {
	bus := m.backend.Bus()
	return func() tea.Msg {
		ctx, cancel := context.WithTimeout(context.Background(), commandTimeout)
		defer cancel()
		res, err := bus.Dispatch(ctx, cmd)
		if msg, ok := res.(string); ok && err == nil && msg != "" {
			info = msg
		}
		return resultMsg{op: op, info: info, err: err}
	}
}

func (m Model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.WindowSizeMsg:
		m.width, m.height = msg.Width, msg.Height
		m.layout()
		return m, nil
	case updateMsg:
		m.refresh()
		return m, m.waitUpdate()
	case alertMsg:
		m.fail(msg.err)
		m.refresh()
		return m, m.waitAlert()
	case resultMsg:
		m.busy = false
		if msg.err != nil {
			m.fail(msg.err)
		} else {
			m.succeed(msg)
		}
		m.refresh()
		return m, nil
	case tea.KeyMsg:
		if msg.Type == tea.KeyCtrlC {
			return m, tea.Quit
		}
		if m.screen == screenAuth {
			return m.updateAuth(msg)
		}
		return m.updateChat(msg)
	}
	return m, nil
}

// refresh pulls the latest controller view and picks the screen from it.
func (m *Model) refresh() {
	m.view = m.backend.View()
	if m.view.SignedIn {
		m.screen = screenChat
	} else {
		m.screen = screenAuth
		m.prompt = promptNone
	}
	if m.selected >= len(m.view.Conversations) {
		m.selected = max(0, len(m.view.Conversations)-1)
	}
	m.renderLog()
}

func (m *Model) succeed(res resultMsg) {
	switch res.op {
	case "sign_up":
		m.mode = modeSignIn
		m.passwordInput.SetValue("")
	case "sign_in", "start":
		m.passwordInput.SetValue("")
		m.focus = paneSidebar
		m.messageInput.Blur()
	case "send":
		m.messageInput.SetValue("")
	}
	m.status, m.statusErr = res.info, false
}

func (m *Model) fail(err error) {
	if err == nil {
		return
	}
	m.status, m.statusErr = chat.UserMessage(err), true
	if errors.Is(err, chat.ErrUnauthorized) {
		m.passwordInput.SetValue("")
	}
}

func (m Model) updateAuth(msg tea.KeyMsg) (tea.Model, tea.Cmd) {
	fields := m.authFields()
	switch msg.Type {
	case tea.KeyCtrlR:
		if m.mode == modeSignIn {
			m.mode = modeSignUp
		} else {
			m.mode = modeSignIn
		}
		m.authField = 0
		m.focusAuth()
		return m, nil
	case tea.KeyTab, tea.KeyDown:
		m.authField = (m.authField + 1) % len(fields)
		m.focusAuth()
		return m, nil
	case tea.KeyShiftTab, tea.KeyUp:
		m.authField = (m.authField + len(fields) - 1) % len(fields)
		m.focusAuth()
		return m, nil
	case tea.KeyEnter:
		if m.busy {
			return m, nil
		}
		m.busy = true
		m.status = ""
		email, password := m.emailInput.Value(), m.passwordInput.Value()
		if m.mode == modeSignUp {
			return m, m.run("sign_up", "Signed up", controller.SignUp{Name: m.nameInput.Value(), Email: email, Password: password})
		}
		return m, m.run("sign_in", "", controller.SignIn{Email: email, Password: password})
	}
	var cmd tea.Cmd
	*fields[m.authField], cmd = fields[m.authField].Update(msg)
	return m, cmd
}

func (m *Model) authFields() []*textinput.Model {
	if m.mode == modeSignUp {
		return []*textinput.Model{&m.nameInput, &m.emailInput, &m.passwordInput}
	}
	return []*textinput.Model{&m.emailInput, &m.passwordInput}
}

func (m *Model) focusAuth() {
	for i, f := range m.authFields() {
		if i == m.authField {
			f.Focus()
		} else {
			f.Blur()
		}
	}
	if m.mode == modeSignIn {
		m.nameInput.Blur()
	}
}

func (m Model) updateChat(msg tea.KeyMsg) (tea.Model, tea.Cmd) {
	if m.prompt != promptNone {
		return m.updatePrompt(msg)
	}
	switch msg.Type {
	case tea.KeyCtrlN:
		return m.openPrompt(promptDirect, "Peer email"), nil
	case tea.KeyCtrlG:
		return m.openPrompt(promptGroupName, "Group name"), nil
	case tea.KeyCtrlO:
		if m.view.Active == "" {
			m.status, m.statusErr = "Open a conversation first", true
			return m, nil
		}
		return m.openPrompt(promptImage, "Path to image"), nil
	case tea.KeyCtrlL:
		return m, m.run("logout", "Signed out", controller.Logout{})
	case tea.KeyCtrlR:
		if !m.view.Connected {
			m.status, m.statusErr = "Reconnecting...", false
			return m, m.run("start", "", controller.Start{})
		}
		return m, nil
	case tea.KeyTab:
		if m.focus == paneSidebar && m.view.Active != "" {
			m.focus = paneInput
			m.messageInput.Focus()
		} else {
			m.focus = paneSidebar
			m.messageInput.Blur()
		}
		return m, nil
	}
	if m.focus == paneSidebar {
		return m.updateSidebar(msg)
	}
	return m.updateInput(msg)
}

func (m Model) updateSidebar(msg tea.KeyMsg) (tea.Model, tea.Cmd) {
	switch msg.String() {
	case "up", "k":
		if m.selected > 0 {
			m.selected--
		}
	case "down", "j":
		if m.selected < len(m.view.Conversations)-1 {
			m.selected++
		}
	case "enter":
		if m.selected < len(m.view.Conversations) {
			conv := m.view.Conversations[m.selected]
			m.focus = paneInput
			m.messageInput.Focus()
			return m, m.run("open", "", controller.OpenChat{ConversationID: conv.ID})
		}
	case "q":
		return m, tea.Quit
	}
	return m, nil
}

func (m Model) updateInput(msg tea.KeyMsg) (tea.Model, tea.Cmd) {
	switch msg.Type {
	case tea.KeyEsc:
		m.focus = paneSidebar
		m.messageInput.Blur()
		return m, nil
	case tea.KeyEnter:
		text := m.messageInput.Value()
		if strings.TrimSpace(text) == "" {
			return m, nil
		}
		return m, m.run("send", "", controller.SendMessage{Text: text})
	case tea.KeyPgUp, tea.KeyPgDown:
		var cmd tea.Cmd
		m.log, cmd = m.log.Update(msg)
		return m, cmd
	}
	before := m.messageInput.Value()
	var cmd tea.Cmd
	m.messageInput, cmd = m.messageInput.Update(msg)
	if m.messageInput.Value() != before {
		return m, tea.Batch(cmd, m.run("keystroke", "", controller.Keystroke{}))
	}
	return m, cmd
}

func (m Model) openPrompt(p prompt, placeholder string) Model {
	m.prompt = p
	m.promptInput.SetValue("")
	m.promptInput.Placeholder = placeholder
	m.promptInput.Focus()
	m.messageInput.Blur()
	return m
}

func (m Model) updatePrompt(msg tea.KeyMsg) (tea.Model, tea.Cmd) {
	switch msg.Type {
	case tea.KeyEsc:
		m.prompt = promptNone
		m.promptInput.Blur()
		return m, nil
	case tea.KeyEnter:
		value := strings.TrimSpace(m.promptInput.Value())
		p := m.prompt
		m.prompt = promptNone
		m.promptInput.Blur()
		switch p {
		case promptDirect:
			return m, m.run("direct", "Chat started", controller.StartDirectChat{Email: value})
		case promptGroupName:
			m.pending = value
			return m.openPrompt(promptGroupEmails, "Member emails, comma separated"), nil
		case promptGroupEmails:
			return m, m.run("group", "Group created", controller.CreateGroup{Name: m.pending, Emails: value})
		case promptImage:
			m.focus = paneInput
			m.messageInput.Focus()
			return m, m.run("send", "", controller.SendMessage{Text: m.messageInput.Value(), ImagePath: value})
		}
		return m, nil
	}
	var cmd tea.Cmd
	m.promptInput, cmd = m.promptInput.Update(msg)
	return m, cmd
}
