// Package cli wires the neverdown command tree: serve (HTTP API plus
// pipeline workers), run (one incident end to end), migrate, dash, and
// version.
package cli

import (
	"fmt"
	"os"

	"github.com/BurntSushi/toml"
	"github.com/spf13/cobra"

	"github.com/neverdownhq/neverdown/internal/config"
	"github.com/neverdownhq/neverdown/internal/logging"
)

// Global flag values accessible to all subcommands.
var (
	flagVerbose bool
	flagQuiet   bool
	flagJSON    bool
	flagConfig  string
)

// rootCmd is the base command for NeverDown.
var rootCmd = &cobra.Command{
	Use:   "neverdown",
	Short: "Autonomous incident remediation pipeline",
	Long: `NeverDown watches CI and monitoring for failures, reproduces them in a
sanitized clone, asks an LLM for a minimal fix, verifies the fix in an
isolated sandbox, and opens a pull request for human review.`,
	SilenceUsage:  true,
	SilenceErrors: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		// Check env vars for flags not explicitly set on the command line.
		if !cmd.Flags().Changed("verbose") && os.Getenv("NEVERDOWN_VERBOSE") != "" {
			flagVerbose = true
		}
		if !cmd.Flags().Changed("quiet") && os.Getenv("NEVERDOWN_QUIET") != "" {
			flagQuiet = true
		}
		if !cmd.Flags().Changed("json") && os.Getenv("NEVERDOWN_LOG_FORMAT") == "json" {
			flagJSON = true
		}
		logging.Setup(flagVerbose, flagQuiet, flagJSON)
		return nil
	},
}

func init() {
	rootCmd.PersistentFlags().BoolVarP(&flagVerbose, "verbose", "v", false, "Enable verbose (debug) output (env: NEVERDOWN_VERBOSE)")
	rootCmd.PersistentFlags().BoolVarP(&flagQuiet, "quiet", "q", false, "Suppress all output except errors (env: NEVERDOWN_QUIET)")
	rootCmd.PersistentFlags().BoolVar(&flagJSON, "json", false, "Emit logs as JSON (env: NEVERDOWN_LOG_FORMAT=json)")
	rootCmd.PersistentFlags().StringVar(&flagConfig, "config", "", "Path to neverdown.toml config file")
}

// Execute runs the root command and returns the exit code.
func Execute() int {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		return 1
	}
	return 0
}

// loadSettings resolves configuration: defaults, then the config file
// (--config path or neverdown.toml found by walking up from CWD), then
// environment variables. Validation errors are fatal; warnings are logged.
func loadSettings() (*config.Settings, error) {
	var (
		settings *config.Settings
		meta     *toml.MetaData
		err      error
	)
	if flagConfig != "" {
		settings = config.NewDefaults()
		m, ferr := config.LoadFromFile(flagConfig, settings)
		if ferr != nil {
			return nil, fmt.Errorf("loading %s: %w", flagConfig, ferr)
		}
		meta = &m
		config.ApplyEnv(settings, os.Getenv)
	} else {
		settings, meta, err = config.Load(".")
		if err != nil {
			return nil, err
		}
	}

	result := config.Validate(settings, meta)
	logger := logging.New("config")
	for _, warn := range result.Warnings() {
		logger.Warn(warn.Message, "field", warn.Field)
	}
	if result.HasErrors() {
		for _, issue := range result.Errors() {
			logger.Error(issue.Message, "field", issue.Field)
		}
		return nil, fmt.Errorf("configuration has %d error(s)", len(result.Errors()))
	}
	return settings, nil
}

// NewRootCmd returns a fresh instance of the root command for external
// tools such as the shell completion generator and man page generator.
func NewRootCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:           rootCmd.Use,
		Short:         rootCmd.Short,
		Long:          rootCmd.Long,
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	cmd.PersistentFlags().BoolP("verbose", "v", false, "Enable verbose (debug) output (env: NEVERDOWN_VERBOSE)")
	cmd.PersistentFlags().BoolP("quiet", "q", false, "Suppress all output except errors (env: NEVERDOWN_QUIET)")
	cmd.PersistentFlags().Bool("json", false, "Emit logs as JSON (env: NEVERDOWN_LOG_FORMAT=json)")
	cmd.PersistentFlags().String("config", "", "Path to neverdown.toml config file")

	for _, child := range rootCmd.Commands() {
		cmd.AddCommand(child)
	}
	return cmd
}
