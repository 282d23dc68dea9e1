package ui

import (
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/BioHazard786/meshcall/internal/mesh"
	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/jedib0t/go-pretty/v6/text"
)

// SummaryView renders every participant seen during the call.
func SummaryView(title string, history []mesh.PeerStatus) string {
	t := table.NewWriter()
	t.SetStyle(table.StyleRounded)
	t.Style().Title.Align = text.AlignCenter
	t.Style().Color.Header = text.Colors{text.FgCyan, text.Bold}
	t.Style().Format.Footer = text.FormatDefault
	t.SetTitle(title)
	t.AppendHeader(table.Row{"#", "Peer", "Name", "Role", "Last State", "Media"})

	for i, p := range history {
		media := strings.Join(p.Tracks, ", ")
		if media == "" {
			media = "-"
		}
		t.AppendRow(table.Row{i + 1, p.Peer, displayName(p.Name), p.Role.String(), p.State.String(), media})
	}
	if len(history) == 0 {
		t.AppendRow(table.Row{"", "nobody joined", "", "", "", ""})
	}
	t.AppendFooter(table.Row{"", fmt.Sprintf("%d participant(s)", len(history))})

	return t.Render()
}

// RenderSummary prints SummaryView to w, or stdout when w is nil.
func RenderSummary(w io.Writer, title string, history []mesh.PeerStatus) {
	if w == nil {
		w = os.Stdout
	}
	fmt.Fprintln(w, SummaryView(title, history))
}
