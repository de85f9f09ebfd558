package cli

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/neverdownhq/neverdown/internal/api"
	"github.com/neverdownhq/neverdown/internal/buildinfo"
	"github.com/neverdownhq/neverdown/internal/logging"
	"github.com/neverdownhq/neverdown/internal/store"
)

var (
	serveWorkers int
	serveMigrate bool
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the HTTP API and the pipeline worker pool",
	Long: `Start the NeverDown server: the chi HTTP API (ingress, webhooks, review
endpoints, health, metrics) plus the background worker pool that drives
incidents through the remediation pipeline. Shuts down gracefully on
SIGINT/SIGTERM.`,
	Args: cobra.NoArgs,
	RunE: runServe,
}

func init() {
	serveCmd.Flags().IntVar(&serveWorkers, "workers", 0, "Pipeline worker count (0 = default)")
	serveCmd.Flags().BoolVar(&serveMigrate, "migrate", false, "Apply pending schema migrations before serving")
	rootCmd.AddCommand(serveCmd)
}

func runServe(cmd *cobra.Command, _ []string) error {
	logger := logging.New("serve")

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

	if serveMigrate {
		if err := st.Migrate(ctx); err != nil {
			return err
		}
		logger.Info("schema migrations applied")
	}

	orch, err := buildOrchestrator(settings, st)
	if err != nil {
		return err
	}

	srv := api.New(settings.Server, settings.GitHub, api.Deps{
		Pipeline:  orch,
		Incidents: st.Incidents,
		Artifacts: st.Artifacts,
		DB:        st,
		Logger:    logging.New("api"),
	}, api.WithVersion(buildinfo.Version))

	addr := settings.Server.Addr
	if addr == "" {
		addr = ":8000"
	}
	httpSrv := &http.Server{
		Addr:              addr,
		Handler:           srv.Router(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	logger.Info("starting", "addr", addr, "version", buildinfo.Version)

	g, ctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		return orch.Start(ctx, serveWorkers)
	})
	g.Go(func() error {
		if err := httpSrv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})
	g.Go(func() error {
		<-ctx.Done()
		shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer shutdownCancel()
		return httpSrv.Shutdown(shutdownCtx)
	})

	err = g.Wait()
	if errors.Is(err, context.Canceled) {
		err = nil
	}
	logger.Info("stopped")
	return err
}
