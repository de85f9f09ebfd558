package cli

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/neverdownhq/neverdown/internal/buildinfo"
	"github.com/neverdownhq/neverdown/internal/store"
	"github.com/neverdownhq/neverdown/internal/tui"
)

var dashCmd = &cobra.Command{
	Use:   "dash",
	Short: "Launch the terminal incident dashboard",
	Long: `Launch the read-only terminal dashboard. It polls the incident store and
shows each incident's state, timeline, and published pull request. Reviews
and retries go through the HTTP API, not the dashboard.`,
	Args: cobra.NoArgs,
	RunE: func(cmd *cobra.Command, _ []string) error {
		settings, err := loadSettings()
		if err != nil {
			return err
		}

		ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
		defer cancel()

		st, err := store.Open(ctx, settings.Database)
		if err != nil {
			return err
		}
		defer st.Close()

		return tui.Run(tui.AppConfig{
			Version:   buildinfo.Version,
			Incidents: st.Incidents,
		})
	},
}

func init() {
	rootCmd.AddCommand(dashCmd)
}
