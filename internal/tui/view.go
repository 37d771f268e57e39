package tui

import (
	"fmt"
	"strings"
	"time"

	"github.com/charmbracelet/lipgloss"

	"github.com/driftchat/drift/internal/model"
	"github.com/driftchat/drift/internal/stats"
)

var (
	headerStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("230")).
			Background(lipgloss.Color("62")).
			Bold(true).
			Padding(0, 1)

	footerStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("245")).
			Padding(0, 1)

	inputStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("255")).
			Padding(0, 1)

	ownStyle      = lipgloss.NewStyle().Foreground(lipgloss.Color("86")).Bold(true)
	otherStyle    = lipgloss.NewStyle().Foreground(lipgloss.Color("252"))
	fadedStyle    = lipgloss.NewStyle().Foreground(lipgloss.Color("240"))
	selectedStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("212")).Bold(true).Underline(true)
)

// fadeThreshold is the progress beyond which a bubble dims out.
const fadeThreshold = 0.75

func (m *Model) View() string {
	if m.width <= 0 || m.height <= 0 {
		return "loading..."
	}

	header := m.renderHeader()
	footer := m.renderFooter()
	inputLine := m.renderInput()

	canvasHeight := m.height - lipgloss.Height(header) - lipgloss.Height(inputLine) - lipgloss.Height(footer)
	if canvasHeight < 1 {
		canvasHeight = 1
	}
	canvas := m.renderCanvas(m.width, canvasHeight, m.now())

	return lipgloss.JoinVertical(lipgloss.Left, header, canvas, inputLine, footer)
}

func (m *Model) renderHeader() string {
	left := fmt.Sprintf("drift  #%s", m.cfg.ChannelID)
	right := fmt.Sprintf("activity %s", strings.Repeat("▮", m.session.ActivityLevel()))
	gap := m.width - lipgloss.Width(left) - lipgloss.Width(right) - 2
	if gap < 1 {
		gap = 1
	}
	return headerStyle.Width(m.width).Render(left + strings.Repeat(" ", gap) + right)
}

func (m *Model) renderInput() string {
	return inputStyle.Width(m.width).Render("> " + m.input)
}

func (m *Model) renderFooter() string {
	help := "[enter] send  [tab] select  [ctrl+u/d] react  [esc] quit"
	if !m.cfg.ShowStats {
		return footerStyle.Width(m.width).Render(help)
	}

	visible := m.session.VisibleTotals()
	total := m.session.CumulativeTotals()
	line := fmt.Sprintf("▲%d ▼%d on screen  ▲%d ▼%d all time  %s  %s",
		visible.Up, visible.Down, total.Up, total.Down, m.renderTop(), help)
	return footerStyle.Width(m.width).Render(line)
}

func (m *Model) renderTop() string {
	top := m.session.Top(stats.WindowTenMinutes, 1)
	if len(top) == 0 || top[0].Reactions.Up == 0 {
		return ""
	}
	return fmt.Sprintf("hot: %q", truncate(top[0].Text, 24))
}

// cell is one styled screen position.
type cell struct {
	r     rune
	style *lipgloss.Style
}

// renderCanvas places every active message on a width x height grid at
// its computed position. Later (newer) messages overwrite older ones.
func (m *Model) renderCanvas(width, height int, now time.Time) string {
	grid := make([][]cell, height)
	for y := range grid {
		grid[y] = make([]cell, width)
		for x := range grid[y] {
			grid[y][x] = cell{r: ' '}
		}
	}

	for _, msg := range m.session.Active() {
		pos := m.calc.Compute(msg.SpawnTime, msg.Lane, msg.ID, now, msg.Lifetime)
		if pos.Expired {
			continue
		}

		y := int(pos.VerticalPercent / 100 * float64(height))
		if y < 0 || y >= height {
			continue
		}
		x := int(pos.HorizontalPercent / 100 * float64(width))

		style := m.styleFor(msg, pos.Progress)
		placeText(grid[y], x, renderBubble(msg), style)
	}

	rows := make([]string, height)
	for y, row := range grid {
		rows[y] = renderRow(row)
	}
	return strings.Join(rows, "\n")
}

func (m *Model) styleFor(msg model.Message, progress float64) *lipgloss.Style {
	switch {
	case msg.ID == m.selected:
		return &selectedStyle
	case progress >= fadeThreshold:
		return &fadedStyle
	case msg.IsUserMessage:
		return &ownStyle
	default:
		return &otherStyle
	}
}

// renderBubble formats one message as a single-line bubble.
func renderBubble(msg model.Message) string {
	text := truncate(msg.Text, 40)
	label := text
	if msg.Author != "" {
		label = msg.Author + ": " + text
	}
	if msg.Reactions.Up > 0 || msg.Reactions.Down > 0 {
		label = fmt.Sprintf("%s ▲%d▼%d", label, msg.Reactions.Up, msg.Reactions.Down)
	}
	return label
}

// placeText writes text into the row starting at x, clipping both edges.
func placeText(row []cell, x int, text string, style *lipgloss.Style) {
	for i, r := range []rune(text) {
		col := x + i
		if col < 0 || col >= len(row) {
			continue
		}
		row[col] = cell{r: r, style: style}
	}
}

// renderRow emits the row as runs of identically styled text.
func renderRow(row []cell) string {
	var b strings.Builder
	var run []rune
	var runStyle *lipgloss.Style

	flush := func() {
		if len(run) == 0 {
			return
		}
		if runStyle != nil {
			b.WriteString(runStyle.Render(string(run)))
		} else {
			b.WriteString(string(run))
		}
		run = run[:0]
	}

	for _, c := range row {
		if c.style != runStyle {
			flush()
			runStyle = c.style
		}
		run = append(run, c.r)
	}
	flush()
	return b.String()
}

func truncate(s string, max int) string {
	runes := []rune(s)
	if len(runes) <= max {
		return s
	}
	if max <= 1 {
		return "…"
	}
	return string(runes[:max-1]) + "…"
}
