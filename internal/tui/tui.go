package tui

import (
	"fmt"
	"strings"
	"time"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"
	"github.com/mattn/go-runewidth"
)

func padToWidth(s string, width int) string {
	current := runewidth.StringWidth(s)
	if current >= width {
		return s
	}
	return s + strings.Repeat(" ", width-current)
}

func truncToWidth(s string, width int) string {
	if runewidth.StringWidth(s) <= width {
		return s
	}
	out := ""
	for _, r := range s {
		if runewidth.StringWidth(out+string(r)) > width-3 {
			break
		}
		out += string(r)
	}
	return out + "..."
}

func separatorLine(width int) string {
	if width < 2 {
		return strings.Repeat("─", width)
	}
	return "├" + strings.Repeat("─", width-2) + "┤"
}

func formatInfoLine(text string, width int) string {
	if width < 2 {
		return padToWidth(text, width)
	}
	return "│" + padToWidth(truncToWidth(text, width-2), width-2) + "│"
}

// RoundInfo is the header state of the dashboard.
type RoundInfo struct {
	Session    string
	Round      int
	Phase      string
	TotalPower int64
	Quorum     int64
	VoterCount int
	LastEvent  string
	UpdatedAt  time.Time
}

// VoterInfo is one row of the voter table.
type VoterInfo struct {
	Account      string
	Display      string
	Power        int64
	PowerPercent float64
	Changes      string
}

// WinnerInfo is one settled/tallied token result.
type WinnerInfo struct {
	Token      string
	Ratio      int
	Power      int64
	Candidates int
}

// RoundUpdateMsg updates the header.
type RoundUpdateMsg struct {
	Round RoundInfo
}

// VotersUpdateMsg replaces the voter table.
type VotersUpdateMsg struct {
	Voters []VoterInfo
}

// WinnersUpdateMsg replaces the winners section.
type WinnersUpdateMsg struct {
	Winners []WinnerInfo
}

var phaseStyles = map[string]lipgloss.Style{
	"COLLECTING": lipgloss.NewStyle().Foreground(lipgloss.Color("10")),
	"TALLYING":   lipgloss.NewStyle().Foreground(lipgloss.Color("11")),
	"SETTLING":   lipgloss.NewStyle().Foreground(lipgloss.Color("13")),
}

// Model holds the TUI state
type Model struct {
	round   RoundInfo
	voters  []VoterInfo
	winners []WinnerInfo
	width   int
	height  int
}

// NewModel creates a new TUI model
func NewModel() Model {
	return Model{round: RoundInfo{Phase: "COLLECTING"}}
}

// Init initializes the model
func (m Model) Init() tea.Cmd {
	return nil
}

// Update handles messages
func (m Model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.WindowSizeMsg:
		m.width = msg.Width
		m.height = msg.Height
		return m, nil

	case RoundUpdateMsg:
		m.round = msg.Round
		return m, nil

	case VotersUpdateMsg:
		m.voters = msg.Voters
		return m, nil

	case WinnersUpdateMsg:
		m.winners = msg.Winners
		return m, nil

	case tea.KeyMsg:
		switch msg.String() {
		case "q", "ctrl+c", "esc":
			return m, tea.Quit
		}
	}

	return m, nil
}

// View renders the UI
func (m Model) View() string {
	if m.width == 0 {
		return "Loading..."
	}
	return lipgloss.JoinVertical(lipgloss.Left,
		m.renderHeader(),
		m.renderVoters(),
		m.renderWinners(),
	)
}

func (m Model) renderHeader() string {
	w := m.width
	phase := m.round.Phase
	if style, ok := phaseStyles[phase]; ok {
		phase = style.Render(phase)
	}

	progress := "n/a"
	if m.round.Quorum > 0 {
		pct := float64(m.round.TotalPower) / float64(m.round.Quorum) * 100
		if pct > 100 {
			pct = 100
		}
		progress = fmt.Sprintf("%d/%d (%.1f%%)", m.round.TotalPower, m.round.Quorum, pct)
	}

	lines := []string{
		fmt.Sprintf("session: %s  round: %d  phase: %s", m.round.Session, m.round.Round, phase),
		fmt.Sprintf("power: %s  voters: %d", progress, m.round.VoterCount),
		fmt.Sprintf("last: %s", m.round.LastEvent),
	}

	top := "┌" + strings.Repeat("─", w-2) + "┐"
	var rows []string
	for _, l := range lines {
		rows = append(rows, formatInfoLine(" "+l, w))
	}
	return top + "\n" + strings.Join(rows, "\n") + "\n" + separatorLine(w)
}

func (m Model) renderVoters() string {
	w := m.width
	if len(m.voters) == 0 {
		return formatInfoLine(" waiting for votes...", w)
	}

	maxRows := m.height - 10
	if maxRows < 1 {
		maxRows = 1
	}

	var rows []string
	rows = append(rows, formatInfoLine(" Voter            Power       Share    Proposed ratios", w))
	for i, v := range m.voters {
		if i >= maxRows {
			rows = append(rows, formatInfoLine(fmt.Sprintf(" ... and %d more", len(m.voters)-maxRows), w))
			break
		}
		name := v.Account
		if v.Display != "" {
			name = fmt.Sprintf("%s (%s)", v.Account, v.Display)
		}
		line := fmt.Sprintf(" %s %s %7.2f%%   %s",
			padToWidth(truncToWidth(name, 16), 16),
			padToWidth(fmt.Sprintf("%d", v.Power), 11),
			v.PowerPercent,
			v.Changes)
		rows = append(rows, formatInfoLine(line, w))
	}
	return strings.Join(rows, "\n") + "\n" + separatorLine(w)
}

func (m Model) renderWinners() string {
	w := m.width
	bottom := "└" + strings.Repeat("─", w-2) + "┘"
	if len(m.winners) == 0 {
		return formatInfoLine(" no tally yet", w) + "\n" + bottom
	}
	var rows []string
	rows = append(rows, formatInfoLine(" Token        Winning ratio   Power       Candidates", w))
	for _, win := range m.winners {
		line := fmt.Sprintf(" %s %s %s %d",
			padToWidth(win.Token, 12),
			padToWidth(fmt.Sprintf("%d", win.Ratio), 15),
			padToWidth(fmt.Sprintf("%d", win.Power), 11),
			win.Candidates)
		rows = append(rows, formatInfoLine(line, w))
	}
	return strings.Join(rows, "\n") + "\n" + bottom
}

// Run starts the TUI program, translating engine updates into bubbletea
// messages until the channel closes.
func Run(updateCh <-chan interface{}) error {
	m := NewModel()
	p := tea.NewProgram(m, tea.WithAltScreen())

	go func() {
		for data := range updateCh {
			switch v := data.(type) {
			case RoundInfo:
				p.Send(RoundUpdateMsg{Round: v})
			case []VoterInfo:
				p.Send(VotersUpdateMsg{Voters: v})
			case []WinnerInfo:
				p.Send(WinnersUpdateMsg{Winners: v})
			}
		}
		// Channel closed, quit TUI
		p.Quit()
	}()

	_, err := p.Run()
	return err
}
