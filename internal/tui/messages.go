package tui

import (
	"context"
	"sort"
	"time"

	tea "github.com/charmbracelet/bubbletea"

	"github.com/neverdownhq/neverdown/internal/model"
)

// pollInterval is how often the dashboard refreshes from the store.
const pollInterval = 5 * time.Second

// fetchTimeout bounds a single store read.
const fetchTimeout = 5 * time.Second

// Lister is the slice of the incident store the dashboard reads from.
type Lister interface {
	List(ctx context.Context, status model.Status, limit, offset int) ([]*model.Incident, error)
}

// incidentsMsg delivers a fresh snapshot of incidents to the dashboard.
type incidentsMsg struct {
	incidents []*model.Incident
	at        time.Time
}

// errMsg reports a failed store read. The dashboard keeps showing the last
// good snapshot and surfaces the error in the status bar.
type errMsg struct{ err error }

// tickMsg fires the next poll.
type tickMsg time.Time

func tickCmd() tea.Cmd {
	return tea.Tick(pollInterval, func(t time.Time) tea.Msg {
		return tickMsg(t)
	})
}

// fetchCmd reads all incidents and sorts them newest-first.
func fetchCmd(lister Lister) tea.Cmd {
	return func() tea.Msg {
		ctx, cancel := context.WithTimeout(context.Background(), fetchTimeout)
		defer cancel()

		incidents, err := lister.List(ctx, "", 200, 0)
		if err != nil {
			return errMsg{err: err}
		}
		sort.SliceStable(incidents, func(i, j int) bool {
			return incidents[i].UpdatedAt.After(incidents[j].UpdatedAt)
		})
		return incidentsMsg{incidents: incidents, at: time.Now()}
	}
}
