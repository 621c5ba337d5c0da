package tui

import (
	"fmt"
	"strings"
	"time"

	"github.com/charmbracelet/lipgloss"

	"messenger/internal/domain/chat"
)

const minSidebarWidth = 25

func (m *Model) sidebarWidth() int {
	return max(minSidebarWidth, m.width/4)
}

// layout sizes the log and inputs to the terminal.
func (m *Model) layout() {
	chatWidth := max(20, m.width-m.sidebarWidth()-4)
	m.log.Width = chatWidth - 4
	m.log.Height = max(3, m.height-10)
	m.messageInput.Width = chatWidth - 8
	m.promptInput.Width = chatWidth - 8
	m.renderLog()
}

func (m *Model) renderLog() {
	if m.view.Active == "" {
		m.log.SetContent(mutedStyle.Render("Select a conversation and press enter."))
		return
	}
	if m.view.Loading && len(m.view.Messages) == 0 {
		m.log.SetContent(mutedStyle.Render("Loading history..."))
		return
	}
	conv, _ := m.view.Conversation(m.view.Active)
	var b strings.Builder
	for _, msg := range m.view.Messages {
		b.WriteString(m.messageLine(conv, msg))
		b.WriteByte('\n')
	}
	if len(m.view.Messages) == 0 {
		b.WriteString(mutedStyle.Render("No messages yet."))
	}
	m.log.SetContent(b.String())
	m.log.GotoBottom()
}

func (m Model) messageLine(conv chat.Conversation, msg chat.Message) string {
	name := senderName(conv, msg.Sender)
	style := otherMessageStyle
	if msg.Sender.ID == m.view.Me.ID {
		name, style = "You", ownMessageStyle
	}
	parts := []string{mutedStyle.Render(formatTime(msg.CreatedAt)), style.Render(name + ":")}
	if msg.Text != "" {
		parts = append(parts, msg.Text)
	}
	if msg.HasImage() {
		parts = append(parts, mutedStyle.Render("[image] "+msg.Image))
	}
	return strings.Join(parts, " ")
}

func senderName(conv chat.Conversation, sender chat.User) string {
	if sender.Name != "" {
		return sender.Name
	}
	for _, u := range conv.Members {
		if u.ID == sender.ID && u.Name != "" {
			return u.Name
		}
	}
	return "Unknown"
}

func formatTime(t time.Time) string {
	if t.IsZero() {
		return "--:--"
	}
	local := t.Local()
	if time.Since(t) > 24*time.Hour {
		return local.Format("Jan 2 15:04")
	}
	return local.Format("15:04")
}

func (m Model) View() string {
	if m.screen == screenAuth {
		return m.authView()
	}
	return lipgloss.JoinHorizontal(lipgloss.Top, m.sidebarView(), m.chatWindowView())
}

func (m Model) sidebarView() string {
	var b strings.Builder
	b.WriteString(titleStyle.Render("Chats"))
	b.WriteString("\n")
	if m.view.Me.Name != "" {
		b.WriteString(mutedStyle.Render(m.view.Me.Name))
		b.WriteString("\n")
	}
	b.WriteString("\n")
	if len(m.view.Conversations) == 0 {
		b.WriteString(mutedStyle.Render("No conversations"))
	}
	for i, conv := range m.view.Conversations {
		line := m.conversationLine(conv)
		switch {
		case i == m.selected && m.focus == paneSidebar:
			line = selectedItemStyle.Render("> " + line)
		case conv.ID == m.view.Active:
			line = selectedItemStyle.Render("  " + line)
		default:
			line = "  " + line
		}
		b.WriteString(line)
		b.WriteString("\n")
	}
	b.WriteString("\n")
	b.WriteString(mutedStyle.Render("^n direct  ^g group\n^l logout  ^c quit"))

	style := sidebarStyle
	if m.focus == paneSidebar {
		style = style.BorderForeground(activeBorder)
	}
	return style.Width(m.sidebarWidth()).Height(m.height - 2).Render(b.String())
}

func (m Model) conversationLine(conv chat.Conversation) string {
	title := conv.Title(m.view.Me.ID)
	var suffix string
	if conv.Kind == chat.KindGroup {
		suffix = mutedStyle.Render(fmt.Sprintf(" (%d)", len(conv.Members)))
	} else if peer, ok := conv.Peer(m.view.Me.ID); ok {
		dot := mutedStyle.Render("○")
		if m.view.Online(peer.ID) {
			dot = onlineStyle.Render("●")
		}
		title = dot + " " + title
	}
	if n := m.view.Unread[conv.ID]; n > 0 {
		suffix += errorStyle.Render(fmt.Sprintf(" [%d]", n))
	}
	return title + suffix
}

func (m Model) chatWindowView() string {
	width := max(20, m.width-m.sidebarWidth()-4)
	header := "No conversation selected"
	if conv, ok := m.view.Conversation(m.view.Active); ok {
		header = conv.Title(m.view.Me.ID)
		if conv.Kind == chat.KindGroup {
			header += mutedStyle.Render(fmt.Sprintf("  %d members", len(conv.Members)))
		} else if peer, ok := conv.Peer(m.view.Me.ID); ok {
			state := "offline"
			if m.view.Online(peer.ID) {
				state = "online"
			}
			header += mutedStyle.Render("  " + peer.Email + " · " + state)
		}
	}
	if !m.view.Connected {
		header += errorStyle.Render("  offline, ^r to reconnect")
	}

	footer := m.messageInput.View()
	if m.prompt != promptNone {
		footer = titleStyle.Render(m.promptInput.Placeholder+": ") + m.promptInput.View()
	}

	sections := []string{
		headerStyle.Width(width - 4).Render(header),
		m.log.View(),
		mutedStyle.Render(m.typingLine()),
		footer,
		m.statusLine(),
	}
	style := chatWindowStyle
	if m.focus == paneInput {
		style = style.BorderForeground(activeBorder)
	}
	return style.Width(width).Height(m.height - 2).Render(lipgloss.JoinVertical(lipgloss.Left, sections...))
}

func (m Model) typingLine() string {
	ids := m.view.Typing[m.view.Active]
	if len(ids) == 0 {
		return ""
	}
	conv, _ := m.view.Conversation(m.view.Active)
	names := make([]string, 0, len(ids))
	for _, id := range ids {
		names = append(names, senderName(conv, chat.User{ID: id}))
	}
	if len(names) == 1 {
		return names[0] + " is typing..."
	}
	return strings.Join(names, ", ") + " are typing..."
}

func (m Model) statusLine() string {
	if m.status == "" {
		return ""
	}
	if m.statusErr {
		return errorStyle.Render(m.status)
	}
	return mutedStyle.Render(m.status)
}

func (m Model) authView() string {
	title := "Sign in"
	fields := []string{m.emailInput.View(), m.passwordInput.View()}
	toggle := "^r create an account"
	if m.mode == modeSignUp {
		title = "Create account"
		fields = append([]string{m.nameInput.View()}, fields...)
		toggle = "^r back to sign in"
	}
	lines := []string{titleStyle.Render(title), ""}
	lines = append(lines, fields...)
	lines = append(lines, "", mutedStyle.Render("tab next field · enter submit · "+toggle))
	if m.busy {
		lines = append(lines, mutedStyle.Render("Working..."))
	}
	if s := m.statusLine(); s != "" {
		lines = append(lines, s)
	}
	box := boxStyle.Width(50).Render(lipgloss.JoinVertical(lipgloss.Left, lines...))
	return lipgloss.Place(m.width, m.height, lipgloss.Center, lipgloss.Center, box)
}
