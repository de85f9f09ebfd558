package tui

import (
	"github.com/charmbracelet/lipgloss"

	"github.com/neverdownhq/neverdown/internal/model"
)

// Color palette. All colors are adaptive for light and dark terminals.
var (
	ColorPrimary = lipgloss.AdaptiveColor{Light: "#5A56E0", Dark: "#7B78FF"}
	ColorSuccess = lipgloss.AdaptiveColor{Light: "#16A34A", Dark: "#4ADE80"}
	ColorWarning = lipgloss.AdaptiveColor{Light: "#D97706", Dark: "#FBBF24"}
	ColorError   = lipgloss.AdaptiveColor{Light: "#DC2626", Dark: "#F87171"}
	ColorInfo    = lipgloss.AdaptiveColor{Light: "#2563EB", Dark: "#60A5FA"}
	ColorMuted   = lipgloss.AdaptiveColor{Light: "#6B7280", Dark: "#9CA3AF"}
	ColorBorder  = lipgloss.AdaptiveColor{Light: "#E5E7EB", Dark: "#374151"}
)

// Theme holds the pre-built lipgloss styles for the dashboard. Width and
// Height are applied at render time, never stored on the theme.
type Theme struct {
	TitleBar lipgloss.Style

	SidebarContainer lipgloss.Style
	SidebarTitle     lipgloss.Style
	SidebarItem      lipgloss.Style
	SidebarSelected  lipgloss.Style

	DetailContainer lipgloss.Style
	DetailLabel     lipgloss.Style
	DetailValue     lipgloss.Style

	StatusBar lipgloss.Style
	HelpKey   lipgloss.Style
	HelpDesc  lipgloss.Style
	ErrorText lipgloss.Style
	Muted     lipgloss.Style
}

// DefaultTheme returns the standard dashboard theme.
func DefaultTheme() Theme {
	return Theme{
		TitleBar: lipgloss.NewStyle().
			Bold(true).
			Background(ColorPrimary).
			Foreground(lipgloss.Color("#FFFFFF")).
			Padding(0, 1),

		SidebarContainer: lipgloss.NewStyle().
			Border(lipgloss.RoundedBorder()).
			BorderForeground(ColorBorder).
			Padding(0, 1),
		SidebarTitle: lipgloss.NewStyle().
			Bold(true).
			Foreground(ColorPrimary),
		SidebarItem: lipgloss.NewStyle(),
		SidebarSelected: lipgloss.NewStyle().
			Bold(true).
			Foreground(ColorPrimary),

		DetailContainer: lipgloss.NewStyle().
			Border(lipgloss.RoundedBorder()).
			BorderForeground(ColorBorder).
			Padding(0, 1),
		DetailLabel: lipgloss.NewStyle().
			Bold(true).
			Foreground(ColorMuted),
		DetailValue: lipgloss.NewStyle(),

		StatusBar: lipgloss.NewStyle().
			Foreground(ColorMuted).
			Padding(0, 1),
		HelpKey:   lipgloss.NewStyle().Bold(true).Foreground(ColorInfo),
		HelpDesc:  lipgloss.NewStyle().Foreground(ColorMuted),
		ErrorText: lipgloss.NewStyle().Bold(true).Foreground(ColorError),
		Muted:     lipgloss.NewStyle().Foreground(ColorMuted),
	}
}

// statusColor maps an incident status to its display color.
func statusColor(s model.Status) lipgloss.AdaptiveColor {
	switch s {
	case model.StatusResolved:
		return ColorSuccess
	case model.StatusFailed:
		return ColorError
	case model.StatusProcessing, model.StatusRetrying:
		return ColorInfo
	case model.StatusAwaitingReview, model.StatusPRCreated:
		return ColorWarning
	default:
		return ColorMuted
	}
}

// severityColor maps an incident severity to its display color.
func severityColor(s model.Severity) lipgloss.AdaptiveColor {
	switch s {
	case model.SeverityCritical, model.SeverityHigh:
		return ColorError
	case model.SeverityMedium:
		return ColorWarning
	default:
		return ColorMuted
	}
}
