// Package tui renders a channel as drifting message bubbles in the
// terminal. A fixed-interval tick recomputes every bubble's position from
// its spawn time, so rendering needs no per-frame state.
package tui

import (
	"context"
	"strings"
	"time"

	tea "github.com/charmbracelet/bubbletea"

	"github.com/driftchat/drift/internal/client"
	"github.com/driftchat/drift/internal/model"
	"github.com/driftchat/drift/internal/position"
)

const defaultRefreshInterval = 80 * time.Millisecond

// Config holds TUI configuration.
type Config struct {
	ChannelID       string
	RefreshInterval time.Duration
	ShowStats       bool
}

type tickMsg time.Time

// Model is the bubbletea model for the chat view.
type Model struct {
	cfg     Config
	session *client.Session
	calc    position.Calculator

	width  int
	height int

	input    string
	selected string // message id, empty when nothing selected

	now func() time.Time
}

// NewModel creates the chat view over a started session.
func NewModel(cfg Config, session *client.Session) *Model {
	if cfg.RefreshInterval <= 0 {
		cfg.RefreshInterval = defaultRefreshInterval
	}
	return &Model{
		cfg:     cfg,
		session: session,
		calc:    position.NewCalculator(session.LaneCount()),
		now:     time.Now,
	}
}

// Run starts the program and blocks until quit.
func Run(cfg Config, session *client.Session) error {
	program := tea.NewProgram(NewModel(cfg, session), tea.WithAltScreen())
	_, err := program.Run()
	return err
}

func (m *Model) Init() tea.Cmd {
	return m.tickCmd()
}

func (m *Model) tickCmd() tea.Cmd {
	return tea.Tick(m.cfg.RefreshInterval, func(t time.Time) tea.Msg {
		return tickMsg(t)
	})
}

func (m *Model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch typed := msg.(type) {
	case tea.WindowSizeMsg:
		m.width = typed.Width
		m.height = typed.Height
		return m, nil

	case tickMsg:
		// Selection can point at an expired message; drop it then.
		if m.selected != "" {
			if _, ok := m.session.Get(m.selected); !ok {
				m.selected = ""
			}
		}
		return m, m.tickCmd()

	case tea.KeyMsg:
		return m.handleKey(typed)
	}
	return m, nil
}

func (m *Model) handleKey(msg tea.KeyMsg) (tea.Model, tea.Cmd) {
	switch msg.String() {
	case "ctrl+c", "esc":
		return m, tea.Quit

	case "enter":
		text := strings.TrimSpace(m.input)
		m.input = ""
		if text == "" {
			return m, nil
		}
		if _, err := m.session.Send(context.Background(), text); err != nil {
			// Validation failures drop the message; the input is already
			// cleared so the user can retype.
			return m, nil
		}
		return m, nil

	case "tab":
		m.selected = nextSelection(m.session.Active(), m.selected)
		return m, nil

	case "ctrl+u":
		m.react(model.DirectionUp)
		return m, nil

	case "ctrl+d":
		m.react(model.DirectionDown)
		return m, nil

	case "backspace":
		if len(m.input) > 0 {
			runes := []rune(m.input)
			m.input = string(runes[:len(runes)-1])
		}
		return m, nil
	}

	if msg.Type == tea.KeyRunes || msg.Type == tea.KeySpace {
		text := string(msg.Runes)
		if msg.Type == tea.KeySpace {
			text = " "
		}
		if len([]rune(m.input))+len([]rune(text)) <= model.MaxTextLength {
			m.input += text
		}
	}
	return m, nil
}

func (m *Model) react(direction model.Direction) {
	if m.selected == "" {
		return
	}
	_ = m.session.React(context.Background(), m.selected, direction)
}

// nextSelection cycles through active messages in insertion order.
func nextSelection(active []model.Message, current string) string {
	if len(active) == 0 {
		return ""
	}
	if current == "" {
		return active[0].ID
	}
	for i, msg := range active {
		if msg.ID == current {
			return active[(i+1)%len(active)].ID
		}
	}
	return active[0].ID
}
