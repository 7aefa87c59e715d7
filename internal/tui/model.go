// Package tui is a terminal chat client driving the session manager in-process.
package tui

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/charmbracelet/bubbles/textinput"
	"github.com/charmbracelet/bubbles/viewport"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"

	"github.com/askmypdf/backend/internal/models"
	"github.com/askmypdf/backend/internal/session"
)

// SessionPort is the subset of the session manager the TUI needs.
type SessionPort interface {
	Get(id string) (*models.ChatSession, bool)
	Ask(ctx context.Context, id, query string) (*session.AskResult, error)
	SetUserAPIKey(id, key string) (*models.ChatSession, error)
}

const pollInterval = 200 * time.Millisecond

type (
	tickMsg   time.Time
	answerMsg struct {
		res *session.AskResult
		err error
	}
)

// Model is the Bubble Tea model for the chat client.
type Model struct {
	sessions  SessionPort
	id        string
	title     string
	input     textinput.Model
	viewport  viewport.Model
	session   *models.ChatSession
	status    string
	warning   string
	askingKey bool
	busy      bool
	ready     bool
	timeout   time.Duration
}

// New creates a chat model for session id. The session should already have
// a document attached and indexing started.
func New(sessions SessionPort, id, title string) Model {
	ti := textinput.New()
	ti.Prompt = "> "
	ti.Placeholder = "Ask your query and press Enter"
	ti.Focus()
	ti.CharLimit = 0
	return Model{
		sessions: sessions,
		id:       id,
		title:    title,
		input:    ti,
		viewport: viewport.New(0, 0),
		status:   "Preparing the file for chat...",
		timeout:  2 * time.Minute,
	}
}

func tick() tea.Cmd {
	return tea.Tick(pollInterval, func(t time.Time) tea.Msg { return tickMsg(t) })
}

// Init starts the cursor blink and the indexing poll.
func (m Model) Init() tea.Cmd { return tea.Batch(textinput.Blink, tick()) }

// Update handles key, window, poll and answer events.
func (m Model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.WindowSizeMsg:
		m.ready = true
		_, th := transcriptBoxStyle.GetFrameSize()
		_, qh := queryBoxStyle.GetFrameSize()
		reserved := 2 + 2 + qh + 1 // header+file, status+warning, spacer
		m.viewport.Width = max(20, msg.Width)
		m.viewport.Height = max(3, msg.Height-reserved-th)
		m.refresh()
		return m, nil

	case tickMsg:
		s, ok := m.sessions.Get(m.id)
		if !ok {
			m.status = "Session expired."
			return m, nil
		}
		m.session = s
		m.refresh()
		switch s.Status {
		case models.SessionStatusIndexing, models.SessionStatusUploaded:
			m.status = fmt.Sprintf("Preparing the file for chat... %s %.0f%%", s.Stage, s.Progress)
			return m, tick()
		case models.SessionStatusReady:
			m.status = "PDF read successfully! Ready for chat."
			m.askingKey = needsKey(s)
		case models.SessionStatusError:
			m.status = "Error: " + s.Error
		}
		return m, nil

	case answerMsg:
		m.busy = false
		switch {
		case errors.Is(msg.err, session.ErrFreeLimitReached):
			m.askingKey = true
			m.status = "You have used your free messages. Please enter your own OpenAI API key to continue."
		case msg.err != nil:
			m.status = "Error: " + msg.err.Error()
		default:
			m.session = msg.res.Session
			m.warning = msg.res.Warning
			m.askingKey = needsKey(m.session)
			m.status = "Ready."
		}
		if s, ok := m.sessions.Get(m.id); ok {
			m.session = s
		}
		m.refresh()
		return m, nil

	case tea.KeyMsg:
		if msg.Type == tea.KeyCtrlC || msg.Type == tea.KeyCtrlD || msg.Type == tea.KeyEsc {
			return m, tea.Quit
		}
		switch msg.String() {
		case "enter":
			return m.submit()
		case "pgup", "pgdown":
			var cmd tea.Cmd
			m.viewport, cmd = m.viewport.Update(msg)
			return m, cmd
		}
	}

	var cmd tea.Cmd
	m.input, cmd = m.input.Update(msg)
	return m, cmd
}

func (m Model) submit() (tea.Model, tea.Cmd) {
	value := strings.TrimSpace(m.input.Value())
	if value == "" || m.busy {
		return m, nil
	}
	if m.session == nil || !m.session.Ready() {
		m.status = "The PDF is not ready yet."
		return m, nil
	}
	m.input.SetValue("")

	if m.askingKey {
		s, err := m.sessions.SetUserAPIKey(m.id, value)
		if err != nil {
			m.status = "Error: " + err.Error()
			return m, nil
		}
		m.session = s
		m.askingKey = false
		m.status = "API key saved! You can continue chatting."
		m.refresh()
		return m, nil
	}

	m.busy = true
	m.warning = ""
	m.status = "Thinking..."
	id, sessions, timeout := m.id, m.sessions, m.timeout
	return m, func() tea.Msg {
		ctx, cancel := context.WithTimeout(context.Background(), timeout)
		defer cancel()
		res, err := sessions.Ask(ctx, id, value)
		return answerMsg{res: res, err: err}
	}
}

func needsKey(s *models.ChatSession) bool {
	return s != nil && s.FreeQuestionsLeft == 0 && !s.HasUserKey
}

// refresh re-renders the transcript and the input mode.
func (m *Model) refresh() {
	if m.askingKey {
		m.input.EchoMode = textinput.EchoPassword
		m.input.Placeholder = "Enter your OpenAI API key"
	} else {
		m.input.EchoMode = textinput.EchoNormal
		m.input.Placeholder = "Ask your query and press Enter"
	}
	m.viewport.SetContent(m.renderTranscript())
	m.viewport.GotoBottom()
}

func (m Model) renderTranscript() string {
	if m.session == nil || len(m.session.Messages) == 0 {
		return "No messages yet."
	}
	var b strings.Builder
	for i, msg := range m.session.Messages {
		if i > 0 {
			b.WriteString("\n\n")
		}
		if msg.Role == models.RoleUser {
			b.WriteString(userStyle.Render("You: "))
		} else {
			b.WriteString(assistantStyle.Render("Assistant: "))
		}
		b.WriteString(msg.Content)
		if pages := pageList(msg.Sources); pages != "" {
			b.WriteString("\n" + sourceStyle.Render("Pages: "+pages))
		}
	}
	return b.String()
}

func pageList(refs []models.SourceRef) string {
	seen := make(map[string]bool)
	var pages []string
	for _, r := range refs {
		label := r.PageLabel
		if label == "" {
			label = fmt.Sprint(r.Page + 1)
		}
		if !seen[label] {
			seen[label] = true
			pages = append(pages, label)
		}
	}
	return strings.Join(pages, ", ")
}

// View renders the layout.
func (m Model) View() string {
	if !m.ready {
		return "Loading..."
	}
	header := lipgloss.NewStyle().Bold(true).Render(m.title)
	file := ""
	if m.session != nil {
		file = fmt.Sprintf("%s  (%d free questions left)", m.session.FileName, m.session.FreeQuestionsLeft)
	}
	info := lipgloss.NewStyle().Foreground(lipgloss.Color("8")).Render(file)
	transcript := transcriptBoxStyle.Render(m.viewport.View())
	input := queryBoxStyle.Render(m.input.View())
	status := lipgloss.NewStyle().Foreground(lipgloss.Color("10")).Render(m.status)
	warning := warningStyle.Render(m.warning)
	return header + "\n" + info + "\n" + transcript + "\n" + input + "\n" + status + "\n" + warning
}

var (
	transcriptBoxStyle = lipgloss.NewStyle().Border(lipgloss.RoundedBorder()).Padding(0, 1)
	queryBoxStyle      = lipgloss.NewStyle().Border(lipgloss.RoundedBorder()).Padding(0, 1)
	userStyle          = lipgloss.NewStyle().Foreground(lipgloss.Color("12")).Bold(true)
	assistantStyle     = lipgloss.NewStyle().Foreground(lipgloss.Color("10")).Bold(true)
	sourceStyle        = lipgloss.NewStyle().Foreground(lipgloss.Color("8"))
	warningStyle       = lipgloss.NewStyle().Foreground(lipgloss.Color("11"))
)
