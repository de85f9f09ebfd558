package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/BurntSushi/toml"
)

// ConfigFileName is the name of the NeverDown configuration file.
const ConfigFileName = "neverdown.toml"

// FindConfigFile walks up from the given directory to find neverdown.toml.
// Returns the absolute path to the config file, or an empty string if not found.
// Stops at the filesystem root.
func FindConfigFile(startDir string) (string, error) {
	dir, err := filepath.Abs(startDir)
	if err != nil {
		return "", fmt.Errorf("resolving path: %w", err)
	}
	for {
		candidate := filepath.Join(dir, ConfigFileName)
		if _, err := os.Stat(candidate); err == nil {
			return candidate, nil
		}
		parent := filepath.Dir(dir)
		if parent == dir {
			// Reached filesystem root.
			return "", nil
		}
		dir = parent
	}
}

// LoadFromFile parses the TOML file at the given path over the supplied
// settings and returns the TOML metadata. The metadata can be used to detect
// unknown keys via MetaData.Undecoded().
func LoadFromFile(path string, s *Settings) (toml.MetaData, error) {
	md, err := toml.DecodeFile(path, s)
	if err != nil {
		return md, fmt.Errorf("loading config %s: %w", path, err)
	}
	return md, nil
}

// Load resolves the full settings stack: defaults, then an optional
// neverdown.toml found by walking up from startDir, then the environment.
// The returned MetaData is nil when no file was found.
func Load(startDir string) (*Settings, *toml.MetaData, error) {
	s := NewDefaults()

	path, err := FindConfigFile(startDir)
	if err != nil {
		return nil, nil, err
	}

	var meta *toml.MetaData
	if path != "" {
		md, err := LoadFromFile(path, s)
		if err != nil {
			return nil, nil, err
		}
		meta = &md
	}

	ApplyEnv(s, os.Getenv)
	return s, meta, nil
}

// ApplyEnv overlays environment variables onto the settings. The lookup
// function is injected so tests do not have to mutate the process env.
func ApplyEnv(s *Settings, getenv func(string) string) {
	setString(&s.Server.Addr, getenv("SERVER_ADDR"))
	if v := getenv("ALLOWED_REPOS"); v != "" {
		s.Server.AllowedRepos = splitCSV(v)
	}

	setSecret(&s.Database.URL, getenv("DATABASE_URL"))

	setSecret(&s.GitHub.Token, getenv("GITHUB_TOKEN"))
	setSecret(&s.GitHub.WebhookSecret, getenv("GITHUB_WEBHOOK_SECRET"))
	setString(&s.GitHub.ClientID, getenv("GITHUB_CLIENT_ID"))
	setSecret(&s.GitHub.ClientSecret, getenv("GITHUB_CLIENT_SECRET"))
	setInt(&s.GitHub.APITimeout, getenv("GITHUB_API_TIMEOUT"))

	setString(&s.LLM.Provider, getenv("LLM_PROVIDER"))
	setSecret(&s.LLM.APIKey, getenv("LLM_API_KEY"))
	setString(&s.LLM.Model, getenv("LLM_MODEL"))
	setInt(&s.LLM.MaxTokens, getenv("LLM_MAX_TOKENS"))
	setFloat(&s.LLM.Temperature, getenv("LLM_TEMPERATURE"))
	setInt(&s.LLM.Timeout, getenv("LLM_TIMEOUT"))

	setString(&s.Sandbox.Image, getenv("SANDBOX_IMAGE"))
	setInt(&s.Sandbox.Timeout, getenv("SANDBOX_TIMEOUT"))
	setString(&s.Sandbox.MemoryLimit, getenv("SANDBOX_MEMORY_LIMIT"))
	setFloat(&s.Sandbox.CPULimit, getenv("SANDBOX_CPU_LIMIT"))
	setInt(&s.Sandbox.PidsLimit, getenv("SANDBOX_PIDS_LIMIT"))

	setFloat(&s.Sanitizer.EntropyThreshold, getenv("SANITIZER_ENTROPY_THRESHOLD"))
	setInt(&s.Sanitizer.EntropyMinLength, getenv("SANITIZER_ENTROPY_MIN_LENGTH"))
	setInt(&s.Sanitizer.MaxSecrets, getenv("SANITIZER_MAX_SECRETS"))

	setInt(&s.Reasoner.MaxRetries, getenv("REASONER_MAX_RETRIES"))
	setFloat(&s.Reasoner.ConfidenceThreshold, getenv("REASONER_CONFIDENCE_THRESHOLD"))
	setInt(&s.Reasoner.MaxCodeLines, getenv("REASONER_MAX_CODE_LINES"))

	if v := getenv("PUBLISHER_MANUAL_APPLY"); v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			s.Publisher.ManualApply = b
		}
	}

	setInt(&s.Pipeline.CloneTimeout, getenv("CLONE_TIMEOUT"))
	setInt(&s.Pipeline.MaxRetries, getenv("PIPELINE_MAX_RETRIES"))
	setInt(&s.Pipeline.FeedbackMaxIterations, getenv("FEEDBACK_MAX_ITERATIONS"))

	setString(&s.Workspace.CloneRoot, getenv("CLONE_DIR"))
	setString(&s.Workspace.SanitizedRoot, getenv("SANITIZED_DIR"))
	setString(&s.Workspace.ScratchRoot, getenv("WORKSPACE_DIR"))
}

func setString(dst *string, v string) {
	if v != "" {
		*dst = v
	}
}

func setSecret(dst *Secret, v string) {
	if v != "" {
		*dst = Secret(v)
	}
}

func setInt(dst *int, v string) {
	if v == "" {
		return
	}
	if n, err := strconv.Atoi(v); err == nil {
		*dst = n
	}
}

func setFloat(dst *float64, v string) {
	if v == "" {
		return
	}
	if f, err := strconv.ParseFloat(v, 64); err == nil {
		*dst = f
	}
}

func splitCSV(v string) []string {
	var out []string
	for _, part := range strings.Split(v, ",") {
		if trimmed := strings.TrimSpace(part); trimmed != "" {
			out = append(out, trimmed)
		}
	}
	return out
}
