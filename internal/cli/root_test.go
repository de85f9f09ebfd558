package cli

import (
	"testing"

	"github.com/spf13/pflag"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func commandNames(t *testing.T) map[string]bool {
	t.Helper()
	names := map[string]bool{}
	for _, c := range rootCmd.Commands() {
		names[c.Name()] = true
	}
	return names
}

func TestRootRegistersSubcommands(t *testing.T) {
	names := commandNames(t)
	for _, want := range []string{"serve", "run", "migrate", "dash", "version", "completion"} {
		assert.True(t, names[want], "missing subcommand %q", want)
	}
}

func TestRootPersistentFlags(t *testing.T) {
	for _, flag := range []string{"verbose", "quiet", "json", "config"} {
		assert.NotNil(t, rootCmd.PersistentFlags().Lookup(flag), "missing persistent flag %q", flag)
	}

	// Every flag carries usage text.
	rootCmd.PersistentFlags().VisitAll(func(f *pflag.Flag) {
		assert.NotEmpty(t, f.Usage, "flag %q has no usage", f.Name)
	})
}

func TestNewRootCmdCarriesChildren(t *testing.T) {
	cmd := NewRootCmd()
	require.Equal(t, "neverdown", cmd.Name())
	assert.NotNil(t, cmd.PersistentFlags().Lookup("verbose"))

	var names []string
	for _, c := range cmd.Commands() {
		names = append(names, c.Name())
	}
	assert.Contains(t, names, "serve")
	assert.Contains(t, names, "dash")
}

func TestRunCommandRequiresFlags(t *testing.T) {
	names := commandNames(t)
	require.True(t, names["run"])
	err := runCmd.ValidateRequiredFlags()
	assert.Error(t, err, "title, repo, and logs are required")
}
