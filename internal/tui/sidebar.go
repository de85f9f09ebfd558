package tui

import (
	"fmt"
	"strings"

	"github.com/charmbracelet/lipgloss"
	"github.com/google/uuid"

	"github.com/neverdownhq/neverdown/internal/model"
)

// SidebarModel is the scrollable incident list on the left of the dashboard.
// Selection is tracked by incident id so a refresh that reorders the list
// keeps the same incident selected.
type SidebarModel struct {
	theme  Theme
	items  []*model.Incident
	cursor int
	width  int
	height int
}

// NewSidebarModel creates an empty sidebar.
func NewSidebarModel(theme Theme) SidebarModel {
	return SidebarModel{theme: theme}
}

// SetSize updates the rendered dimensions.
func (s *SidebarModel) SetSize(width, height int) {
	s.width = width
	s.height = height
}

// SetItems replaces the list with a fresh snapshot, preserving the selected
// incident when it is still present.
func (s *SidebarModel) SetItems(items []*model.Incident) {
	var selected uuid.UUID
	if cur := s.Selected(); cur != nil {
		selected = cur.ID
	}
	s.items = items
	s.cursor = 0
	for i, in := range items {
		if in.ID == selected {
			s.cursor = i
			break
		}
	}
}

// Selected returns the incident under the cursor, or nil when empty.
func (s *SidebarModel) Selected() *model.Incident {
	if s.cursor < 0 || s.cursor >= len(s.items) {
		return nil
	}
	return s.items[s.cursor]
}

// MoveUp moves the cursor one row up.
func (s *SidebarModel) MoveUp() {
	if s.cursor > 0 {
		s.cursor--
	}
}

// MoveDown moves the cursor one row down.
func (s *SidebarModel) MoveDown() {
	if s.cursor < len(s.items)-1 {
		s.cursor++
	}
}

// GotoTop jumps to the first row.
func (s *SidebarModel) GotoTop() { s.cursor = 0 }

// GotoBottom jumps to the last row.
func (s *SidebarModel) GotoBottom() {
	if len(s.items) > 0 {
		s.cursor = len(s.items) - 1
	}
}

// Len returns the number of listed incidents.
func (s *SidebarModel) Len() int { return len(s.items) }

// View renders the incident list clipped to the sidebar height. The visible
// window scrolls with the cursor.
func (s *SidebarModel) View() string {
	title := s.theme.SidebarTitle.Render("Incidents")
	if len(s.items) == 0 {
		body := s.theme.Muted.Render("no incidents")
		return s.container(lipgloss.JoinVertical(lipgloss.Left, title, "", body))
	}

	// Rows available inside the border, minus the title line.
	rows := s.height - 3
	if rows < 1 {
		rows = 1
	}
	start := 0
	if s.cursor >= rows {
		start = s.cursor - rows + 1
	}
	end := start + rows
	if end > len(s.items) {
		end = len(s.items)
	}

	lines := make([]string, 0, end-start+1)
	lines = append(lines, title)
	for i := start; i < end; i++ {
		lines = append(lines, s.renderRow(i))
	}
	return s.container(strings.Join(lines, "\n"))
}

func (s *SidebarModel) renderRow(i int) string {
	in := s.items[i]
	marker := "  "
	style := s.theme.SidebarItem
	if i == s.cursor {
		marker = "> "
		style = s.theme.SidebarSelected
	}

	dot := lipgloss.NewStyle().Foreground(statusColor(in.Status)).Render("●")
	sev := lipgloss.NewStyle().Foreground(severityColor(in.Severity)).Render(string(in.Severity[0]))

	// Inner width minus marker, dot, severity letter, and separators.
	avail := s.width - 10
	if avail < 8 {
		avail = 8
	}
	return fmt.Sprintf("%s%s %s %s", marker, dot, sev, style.Render(truncateText(in.Title, avail)))
}

func (s *SidebarModel) container(content string) string {
	return s.theme.SidebarContainer.
		Width(s.width - 2).
		Height(s.height - 2).
		Render(content)
}

// truncateText shortens a string to max runes with an ellipsis.
func truncateText(text string, max int) string {
	runes := []rune(text)
	if len(runes) <= max {
		return text
	}
	if max <= 1 {
		return "…"
	}
	return string(runes[:max-1]) + "…"
}
