package cli

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/google/uuid"
	"github.com/spf13/cobra"

	"github.com/neverdownhq/neverdown/internal/logging"
	"github.com/neverdownhq/neverdown/internal/model"
	"github.com/neverdownhq/neverdown/internal/store"
)

var (
	runTitle    string
	runSeverity string
	runRepo     string
	runBranch   string
	runLogsFile string
)

var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Process a single incident end to end",
	Long: `Create one incident from flags and drive it through the full pipeline
synchronously: sanitize, detect, propose, verify, publish. Useful for
operators reproducing a failure by hand and for smoke-testing a deployment.`,
	Args: cobra.NoArgs,
	RunE: runOnce,
}

func init() {
	runCmd.Flags().StringVar(&runTitle, "title", "", "Incident title (required)")
	runCmd.Flags().StringVar(&runSeverity, "severity", "medium", "Severity: critical, high, medium, low")
	runCmd.Flags().StringVar(&runRepo, "repo", "", "Repository URL (required)")
	runCmd.Flags().StringVar(&runBranch, "branch", "", "Branch the failure occurred on")
	runCmd.Flags().StringVar(&runLogsFile, "logs", "", "Path to a file holding the failure logs (required)")
	_ = runCmd.MarkFlagRequired("title")
	_ = runCmd.MarkFlagRequired("repo")
	_ = runCmd.MarkFlagRequired("logs")
	rootCmd.AddCommand(runCmd)
}

func runOnce(cmd *cobra.Command, _ []string) error {
	logger := logging.New("run")

	severity := model.Severity(runSeverity)
	if !severity.Valid() {
		return fmt.Errorf("invalid severity %q", runSeverity)
	}
	logs, err := os.ReadFile(runLogsFile)
	if err != nil {
		return fmt.Errorf("reading logs: %w", err)
	}

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

	orch, err := buildOrchestrator(settings, st)
	if err != nil {
		return err
	}

	now := time.Now().UTC()
	in := &model.Incident{
		ID:         uuid.New(),
		Title:      runTitle,
		Severity:   severity,
		Source:     model.SourceManual,
		Status:     model.StatusPending,
		Repository: model.Repository{URL: runRepo, Branch: runBranch},
		Logs:       string(logs),
		CreatedAt:  now,
		UpdatedAt:  now,
	}
	in.AppendTimeline(model.StatusPending, "incident created by operator")
	if err := st.Incidents.Create(ctx, in); err != nil {
		return err
	}

	logger.Info("processing incident", "incident", in.ID, "title", in.Title)
	if err := orch.Run(ctx, in.ID); err != nil {
		return err
	}

	final, err := st.Incidents.Get(ctx, in.ID)
	if err != nil {
		return err
	}
	fmt.Fprintf(cmd.OutOrStdout(), "incident %s finished in state %s\n", final.ID, final.Status)
	if final.PRURL != "" {
		fmt.Fprintf(cmd.OutOrStdout(), "pull request: %s\n", final.PRURL)
	}
	if final.ErrorMessage != "" {
		fmt.Fprintf(cmd.OutOrStdout(), "error: %s\n", final.ErrorMessage)
	}
	return nil
}
