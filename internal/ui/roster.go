package ui

import (
	"context"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/BioHazard786/meshcall/internal/mesh"
	"github.com/BioHazard786/meshcall/internal/peer"
	"github.com/charmbracelet/bubbles/spinner"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"
	"github.com/charmbracelet/lipgloss/table"
)

const defaultRefresh = 250 * time.Millisecond

// RosterOptions configures the live participant list.
type RosterOptions struct {
	Room string
	Name string

	// Snapshot is polled every Refresh for the current sessions.
	Snapshot func() []mesh.PeerStatus

	// Status, if set, describes the signaling connection.
	Status func() string

	Refresh time.Duration

	// Input and Output default to the terminal.
	Input  io.Reader
	Output io.Writer
}

// refreshMsg carries a fresh snapshot.
type refreshMsg struct {
	peers  []mesh.PeerStatus
	status string
}

type rosterModel struct {
	opts     RosterOptions
	peers    []mesh.PeerStatus
	status   string
	spinner  spinner.Model
	quitting bool
}

func newRosterModel(opts RosterOptions) *rosterModel {
	if opts.Refresh <= 0 {
		opts.Refresh = defaultRefresh
	}
	s := spinner.New()
	s.Spinner = spinner.Dot
	s.Style = SpinnerStyle

	return &rosterModel{opts: opts, spinner: s, status: "Connecting..."}
}

// RunRoster shows the participant list until the user presses q or ctx is
// done. Quitting by key returns nil; the caller decides what that means.
func RunRoster(ctx context.Context, opts RosterOptions) error {
	m := newRosterModel(opts)

	progOpts := []tea.ProgramOption{tea.WithContext(ctx)}
	if opts.Input != nil {
		progOpts = append(progOpts, tea.WithInput(opts.Input))
	}
	if opts.Output != nil {
		progOpts = append(progOpts, tea.WithOutput(opts.Output))
	}

	// Inline mode keeps earlier terminal output visible.
	_, err := tea.NewProgram(m, progOpts...).Run()
	if err != nil && ctx.Err() != nil {
		return nil
	}
	return err
}

func (m *rosterModel) Init() tea.Cmd {
	return tea.Batch(m.spinner.Tick, m.poll())
}

func (m *rosterModel) poll() tea.Cmd {
	return func() tea.Msg {
		msg := refreshMsg{}
		if m.opts.Snapshot != nil {
			msg.peers = m.opts.Snapshot()
		}
		if m.opts.Status != nil {
			msg.status = m.opts.Status()
		}
		return msg
	}
}

func (m *rosterModel) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.KeyMsg:
		switch msg.String() {
		case "q", "ctrl+c":
			m.quitting = true
			return m, tea.Quit
		}

	case spinner.TickMsg:
		var cmd tea.Cmd
		m.spinner, cmd = m.spinner.Update(msg)
		return m, cmd

	case refreshMsg:
		m.peers = msg.peers
		if msg.status != "" {
			m.status = msg.status
		}
		if m.quitting {
			return m, nil
		}
		return m, tea.Tick(m.opts.Refresh, func(time.Time) tea.Msg {
			return m.poll()()
		})
	}

	return m, nil
}

func (m *rosterModel) View() string {
	if m.quitting {
		return ""
	}

	var b strings.Builder
	fmt.Fprintf(&b, "\n%s Room %s as %s\n\n",
		IconCall,
		BoldStyle.Foreground(Primary).Render(m.opts.Room),
		BoldStyle.Render(m.opts.Name),
	)
	fmt.Fprintf(&b, "%s %s\n\n", m.spinner.View(), m.status)

	if len(m.peers) == 0 {
		b.WriteString(MutedStyle.Render(IconWaiting+" Waiting for participants...") + "\n")
	} else {
		b.WriteString(rosterTable(m.peers) + "\n")
	}

	b.WriteString("\n" + MutedStyle.Render("Press q to leave"))
	return b.String()
}

func rosterTable(peers []mesh.PeerStatus) string {
	rows := make([][]string, 0, len(peers))
	for _, p := range peers {
		rows = append(rows, []string{
			shortID(p.Peer),
			displayName(p.Name),
			p.Role.String(),
			p.State.String(),
			trackIcons(p.Tracks),
		})
	}

	return table.New().
		Border(lipgloss.NormalBorder()).
		BorderStyle(lipgloss.NewStyle().Foreground(Primary)).
		Headers("Peer", "Name", "Role", "State", "Media").
		Rows(rows...).
		StyleFunc(func(row, col int) lipgloss.Style {
			switch {
			case row == table.HeaderRow:
				return TableHeaderStyle
			case col == 3:
				return stateStyle(peers[row].State)
			case row%2 == 0:
				return TableRowStyle
			default:
				return TableRowAltStyle
			}
		}).
		Render()
}

func stateStyle(s peer.State) lipgloss.Style {
	switch s {
	case peer.StateConnected:
		return tableCellStyle.Foreground(Success)
	case peer.StateNegotiating:
		return tableCellStyle.Foreground(Warning)
	case peer.StateClosed:
		return tableCellStyle.Foreground(Error)
	default:
		return tableCellStyle.Foreground(Muted)
	}
}

func trackIcons(kinds []string) string {
	if len(kinds) == 0 {
		return "-"
	}
	icons := make([]string, 0, len(kinds))
	for _, k := range kinds {
		switch k {
		case "video":
			icons = append(icons, IconVideo)
		case "audio":
			icons = append(icons, IconAudio)
		default:
			icons = append(icons, k)
		}
	}
	return strings.Join(icons, " ")
}

func displayName(name string) string {
	if name == "" {
		return "?"
	}
	return truncate(name, 20)
}

// shortID keeps identities readable; relay UUIDs are long.
func shortID(id string) string {
	return truncate(id, 8)
}

func truncate(s string, n int) string {
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return string(r[:n-1]) + "…"
}
