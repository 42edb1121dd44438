package harness

import (
	"fmt"
	"strings"
	"time"

	"github.com/charmbracelet/lipgloss"
)

var (
	passStyle = lipgloss.NewStyle().
			Bold(true).
			Foreground(lipgloss.Color("0")).
			Background(lipgloss.Color("42")).
			Padding(0, 1)

	headerStyle = lipgloss.NewStyle().
			Bold(true).
			Foreground(lipgloss.Color("45"))

	dimStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("245"))
)

// report renders the end-of-run summary: one line per node plus the
// cluster-init outcome.
func (h *Harness) report() string {
	var b strings.Builder

	banner := "CLUSTER UP"
	title := fmt.Sprintf("smoke run %s", h.runID)
	if h.opts.NoColor {
		fmt.Fprintf(&b, "\n== %s — %s ==\n", banner, title)
	} else {
		fmt.Fprintf(&b, "\n%s %s\n", passStyle.Render(banner), headerStyle.Render(title))
	}

	for _, handle := range h.handles {
		ready := "-"
		if d, ok := h.readiness[handle.Spec.ID]; ok {
			ready = d.Round(time.Millisecond).String()
		}
		line := fmt.Sprintf("  node %d  pid %-7d ready %-8s log %s",
			handle.Spec.ID, handle.PID, ready, handle.LogPath)
		if h.opts.NoColor {
			b.WriteString(line + "\n")
		} else {
			b.WriteString(dimStyle.Render(line) + "\n")
		}
	}

	if h.initResp != nil {
		fmt.Fprintf(&b, "  init  %s on node %d: status %d in %v\n",
			InitPath, h.topo.First().ID, h.initResp.Status,
			h.initResp.Elapsed.Round(time.Millisecond))
	}

	return b.String()
}
