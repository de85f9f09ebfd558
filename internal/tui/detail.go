package tui

import (
	"fmt"
	"strings"

	"github.com/charmbracelet/lipgloss"

	"github.com/neverdownhq/neverdown/internal/model"
)

// detailView renders the full record of one incident for the right-hand
// panel. The caller feeds the result into a viewport for scrolling.
func detailView(theme Theme, in *model.Incident) string {
	if in == nil {
		return theme.Muted.Render("select an incident")
	}

	label := func(s string) string { return theme.DetailLabel.Render(s) }
	var b strings.Builder

	b.WriteString(lipgloss.NewStyle().Bold(true).Render(in.Title))
	b.WriteString("\n\n")

	statusStyle := lipgloss.NewStyle().Bold(true).Foreground(statusColor(in.Status))
	sevStyle := lipgloss.NewStyle().Foreground(severityColor(in.Severity))
	fmt.Fprintf(&b, "%s %s   %s %s   %s %s\n",
		label("status:"), statusStyle.Render(string(in.Status)),
		label("severity:"), sevStyle.Render(string(in.Severity)),
		label("source:"), string(in.Source),
	)
	fmt.Fprintf(&b, "%s %s\n", label("id:"), in.ID)
	fmt.Fprintf(&b, "%s %s", label("repo:"), in.Repository.URL)
	if in.Repository.Branch != "" {
		fmt.Fprintf(&b, " (%s)", in.Repository.Branch)
	}
	b.WriteString("\n")
	fmt.Fprintf(&b, "%s %s   %s %s\n",
		label("created:"), in.CreatedAt.Format("2006-01-02 15:04:05"),
		label("updated:"), in.UpdatedAt.Format("2006-01-02 15:04:05"),
	)
	if in.RetryCount > 0 || in.FeedbackIteration > 0 {
		fmt.Fprintf(&b, "%s %d   %s %d\n",
			label("retries:"), in.RetryCount,
			label("feedback rounds:"), in.FeedbackIteration,
		)
	}
	if in.PRURL != "" {
		fmt.Fprintf(&b, "%s %s\n", label("pull request:"), in.PRURL)
	}
	if in.ErrorMessage != "" {
		fmt.Fprintf(&b, "%s %s\n", label("error:"), theme.ErrorText.Render(in.ErrorMessage))
	}

	if in.Description != "" {
		b.WriteString("\n")
		b.WriteString(label("description"))
		b.WriteString("\n")
		b.WriteString(in.Description)
		b.WriteString("\n")
	}

	if len(in.Timeline) > 0 {
		b.WriteString("\n")
		b.WriteString(label("timeline"))
		b.WriteString("\n")
		for _, ev := range in.Timeline {
			line := fmt.Sprintf("  %s  %-16s %s",
				ev.Timestamp.Format("15:04:05"), ev.State, ev.Details)
			b.WriteString(strings.TrimRight(line, " "))
			b.WriteString("\n")
		}
	}

	if in.Logs != "" {
		b.WriteString("\n")
		b.WriteString(label("logs"))
		b.WriteString("\n")
		b.WriteString(theme.Muted.Render(truncateText(in.Logs, 4000)))
		b.WriteString("\n")
	}

	return b.String()
}
