// Package report renders a human-readable run summary to a terminal.
package report

import (
	"fmt"
	"io"
	"time"

	"github.com/charmbracelet/lipgloss"

	"github.com/gantryci/gantry/internal/graph"
	"github.com/gantryci/gantry/internal/pipeline"
	"github.com/gantryci/gantry/internal/scheduler"
)

var (
	titleStyle     = lipgloss.NewStyle().Foreground(lipgloss.Color("86")).Bold(true)
	labelStyle     = lipgloss.NewStyle().Foreground(lipgloss.Color("8"))
	succeededStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("2"))
	failedStyle    = lipgloss.NewStyle().Foreground(lipgloss.Color("1"))
	skippedStyle   = lipgloss.NewStyle().Foreground(lipgloss.Color("8"))
	cancelledStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("3"))
)

// PrintSummary writes the per-job outcome table and the overall
// conclusion, jobs in declaration order.
func PrintSummary(w io.Writer, p *pipeline.Pipeline, res *scheduler.Result) {
	fmt.Fprintf(w, "\n%s\n\n", titleStyle.Render(fmt.Sprintf("Run %s", res.RunID)))

	for _, id := range p.Jobs.Order {
		status := res.Status[id]
		line := fmt.Sprintf("%s %-20s %s", statusIcon(status), id, status)
		if jr, ok := res.Jobs[id]; ok {
			line += labelStyle.Render(fmt.Sprintf("  %s", jr.FinishedAt.Sub(jr.StartedAt).Round(time.Millisecond)))
		}
		fmt.Fprintln(w, line)
	}

	fmt.Fprintf(w, "\n%s %s\n", labelStyle.Render("Result:"), conclusionLine(res.Conclusion))
	fmt.Fprintf(w, "%s %s\n", labelStyle.Render("Duration:"),
		res.FinishedAt.Sub(res.StartedAt).Round(time.Millisecond))
}

func statusIcon(s graph.Status) string {
	switch s {
	case graph.StatusSucceeded:
		return succeededStyle.Render("✓")
	case graph.StatusFailed:
		return failedStyle.Render("✗")
	case graph.StatusSkipped:
		return skippedStyle.Render("○")
	case graph.StatusCancelled:
		return cancelledStyle.Render("⊘")
	default:
		return " "
	}
}

func conclusionLine(c scheduler.Conclusion) string {
	switch c {
	case scheduler.ConclusionSuccess:
		return succeededStyle.Render("success")
	case scheduler.ConclusionFailure:
		return failedStyle.Render("failure")
	default:
		return cancelledStyle.Render(c.String())
	}
}
