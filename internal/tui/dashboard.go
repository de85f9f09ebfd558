// Package tui is the read-only terminal dashboard. It polls the incident
// store on an interval and renders a sidebar of incidents next to a
// scrollable detail panel. All mutations go through the HTTP API; the
// dashboard never writes.
package tui

import (
	"fmt"
	"strings"
	"time"

	"github.com/charmbracelet/bubbles/viewport"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"

	"github.com/neverdownhq/neverdown/internal/logging"
)

// FocusPanel identifies which panel currently has keyboard focus.
type FocusPanel int

const (
	// FocusSidebar routes movement keys to the incident list.
	FocusSidebar FocusPanel = iota
	// FocusDetail routes movement keys to the detail viewport.
	FocusDetail
)

const (
	minWidth  = 80
	minHeight = 24

	sidebarWidth = 38
)

// AppConfig holds the dashboard's dependencies.
type AppConfig struct {
	Version   string
	Incidents Lister
}

// App is the top-level Bubble Tea model.
type App struct {
	config AppConfig
	theme  Theme

	width    int
	height   int
	ready    bool
	quitting bool
	focus    FocusPanel

	sidebar  SidebarModel
	detail   viewport.Model
	lastSync time.Time
	lastErr  error
}

// NewApp constructs the dashboard model. The first fetch is issued from Init.
func NewApp(cfg AppConfig) App {
	theme := DefaultTheme()
	return App{
		config:  cfg,
		theme:   theme,
		sidebar: NewSidebarModel(theme),
		detail:  viewport.New(0, 0),
		focus:   FocusSidebar,
	}
}

// Init kicks off the first fetch and the poll ticker.
func (a App) Init() tea.Cmd {
	return tea.Batch(fetchCmd(a.config.Incidents), tickCmd())
}

// Update dispatches incoming messages.
func (a App) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch m := msg.(type) {
	case tea.WindowSizeMsg:
		a.width = m.Width
		a.height = m.Height
		a.ready = true
		a.resize()
		return a, nil

	case incidentsMsg:
		a.sidebar.SetItems(m.incidents)
		a.lastSync = m.at
		a.lastErr = nil
		a.refreshDetail()
		return a, nil

	case errMsg:
		a.lastErr = m.err
		return a, nil

	case tickMsg:
		return a, tea.Batch(fetchCmd(a.config.Incidents), tickCmd())

	case tea.KeyMsg:
		return a.handleKey(m)
	}

	return a, nil
}

func (a App) handleKey(msg tea.KeyMsg) (tea.Model, tea.Cmd) {
	switch msg.String() {
	case "ctrl+c", "q":
		a.quitting = true
		return a, tea.Quit

	case "tab":
		if a.focus == FocusSidebar {
			a.focus = FocusDetail
		} else {
			a.focus = FocusSidebar
		}
		return a, nil

	case "r":
		return a, fetchCmd(a.config.Incidents)

	case "up", "k":
		if a.focus == FocusSidebar {
			a.sidebar.MoveUp()
			a.refreshDetail()
		} else {
			a.detail.ScrollUp(1)
		}
		return a, nil

	case "down", "j":
		if a.focus == FocusSidebar {
			a.sidebar.MoveDown()
			a.refreshDetail()
		} else {
			a.detail.ScrollDown(1)
		}
		return a, nil

	case "g", "home":
		if a.focus == FocusSidebar {
			a.sidebar.GotoTop()
			a.refreshDetail()
		} else {
			a.detail.GotoTop()
		}
		return a, nil

	case "G", "end":
		if a.focus == FocusSidebar {
			a.sidebar.GotoBottom()
			a.refreshDetail()
		} else {
			a.detail.GotoBottom()
		}
		return a, nil
	}

	return a, nil
}

// resize recomputes panel dimensions after a window change.
func (a *App) resize() {
	// One row for the title bar, one for the status bar.
	panelHeight := a.height - 2
	if panelHeight < 3 {
		panelHeight = 3
	}
	a.sidebar.SetSize(sidebarWidth, panelHeight)

	detailWidth := a.width - sidebarWidth - 4
	if detailWidth < 20 {
		detailWidth = 20
	}
	a.detail.Width = detailWidth
	a.detail.Height = panelHeight - 2
	a.refreshDetail()
}

// refreshDetail re-renders the detail panel for the selected incident.
func (a *App) refreshDetail() {
	a.detail.SetContent(detailView(a.theme, a.sidebar.Selected()))
}

// View renders the complete UI.
func (a App) View() string {
	if a.quitting {
		return ""
	}
	if !a.ready {
		return "Loading incidents..."
	}
	if a.width < minWidth || a.height < minHeight {
		return lipgloss.NewStyle().
			Bold(true).
			Foreground(ColorWarning).
			Render(fmt.Sprintf("Terminal too small. Please resize to at least %dx%d.", minWidth, minHeight))
	}

	title := a.theme.TitleBar.
		Width(a.width).
		Render(fmt.Sprintf("NeverDown v%s — Incident Dashboard", a.config.Version))

	detail := a.theme.DetailContainer.
		Width(a.detail.Width).
		Height(a.sidebar.height - 2).
		Render(a.detail.View())

	panels := lipgloss.JoinHorizontal(lipgloss.Top, a.sidebar.View(), detail)
	return lipgloss.JoinVertical(lipgloss.Left, title, panels, a.statusBar())
}

// statusBar renders the bottom line: counts, sync time, error, key hints.
func (a App) statusBar() string {
	parts := []string{fmt.Sprintf("%d incidents", a.sidebar.Len())}
	if !a.lastSync.IsZero() {
		parts = append(parts, "synced "+a.lastSync.Format("15:04:05"))
	}
	if a.lastErr != nil {
		parts = append(parts, a.theme.ErrorText.Render("refresh failed: "+a.lastErr.Error()))
	}
	hints := a.theme.HelpKey.Render("j/k") + a.theme.HelpDesc.Render(" move  ") +
		a.theme.HelpKey.Render("tab") + a.theme.HelpDesc.Render(" panel  ") +
		a.theme.HelpKey.Render("r") + a.theme.HelpDesc.Render(" refresh  ") +
		a.theme.HelpKey.Render("q") + a.theme.HelpDesc.Render(" quit")
	parts = append(parts, hints)

	return a.theme.StatusBar.Width(a.width).Render(strings.Join(parts, "  |  "))
}

// Run starts the dashboard in the alternate screen and blocks until quit.
func Run(cfg AppConfig) error {
	logger := logging.New("tui")
	logger.Info("starting dashboard", "version", cfg.Version)

	p := tea.NewProgram(
		NewApp(cfg),
		tea.WithAltScreen(),
		tea.WithMouseCellMotion(),
	)
	if _, err := p.Run(); err != nil {
		return fmt.Errorf("running dashboard: %w", err)
	}
	return nil
}
