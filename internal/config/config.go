// Package config loads NeverDown's frozen settings object.
//
// Settings are resolved once at process start from three layers, later
// layers winning: built-in defaults, an optional neverdown.toml found by
// walking up from the working directory, and environment variables.
package config

// Settings is the top-level configuration. It is treated as immutable after
// Load returns.
type Settings struct {
	Server    ServerConfig    `toml:"server"`
	Database  DatabaseConfig  `toml:"database"`
	GitHub    GitHubConfig    `toml:"github"`
	LLM       LLMConfig       `toml:"llm"`
	Sandbox   SandboxConfig   `toml:"sandbox"`
	Sanitizer SanitizerConfig `toml:"sanitizer"`
	Reasoner  ReasonerConfig  `toml:"reasoner"`
	Publisher PublisherConfig `toml:"publisher"`
	Pipeline  PipelineConfig  `toml:"pipeline"`
	Workspace WorkspaceConfig `toml:"workspace"`
}

// ServerConfig maps to the [server] section.
type ServerConfig struct {
	Addr string `toml:"addr"`

	// AllowedRepos restricts which repository URLs ingress will accept.
	// Empty means any repository is accepted.
	AllowedRepos []string `toml:"allowed_repos"`
}

// DatabaseConfig maps to the [database] section.
type DatabaseConfig struct {
	URL Secret `toml:"url"`

	MaxOpenConns int `toml:"max_open_conns"`
	MaxIdleConns int `toml:"max_idle_conns"`
}

// GitHubConfig maps to the [github] section.
type GitHubConfig struct {
	Token         Secret `toml:"token"`
	WebhookSecret Secret `toml:"webhook_secret"`
	ClientID      string `toml:"client_id"`
	ClientSecret  Secret `toml:"client_secret"`

	// APITimeout is the per-RPC timeout in seconds.
	APITimeout int `toml:"api_timeout"`
}

// LLMConfig maps to the [llm] section.
type LLMConfig struct {
	// Provider selects the chat-completion dialect: "anthropic" or "openai".
	Provider    string  `toml:"provider"`
	APIKey      Secret  `toml:"api_key"`
	Model       string  `toml:"model"`
	MaxTokens   int     `toml:"max_tokens"`
	Temperature float64 `toml:"temperature"`

	// Timeout is the per-call timeout in seconds.
	Timeout int `toml:"timeout"`
}

// SandboxConfig maps to the [sandbox] section.
type SandboxConfig struct {
	Image string `toml:"image"`

	// Timeout is the wall-clock limit in seconds for one verification run.
	Timeout int `toml:"timeout"`

	MemoryLimit string  `toml:"memory_limit"`
	CPULimit    float64 `toml:"cpu_limit"`
	PidsLimit   int     `toml:"pids_limit"`
}

// SanitizerConfig maps to the [sanitizer] section.
type SanitizerConfig struct {
	EntropyThreshold float64 `toml:"entropy_threshold"`
	EntropyMinLength int     `toml:"entropy_min_length"`

	// MaxSecrets is the halt-for-review threshold.
	MaxSecrets int `toml:"max_secrets"`

	// ExtraPatterns are additional named regex patterns. Invalid entries
	// are skipped at registry build time, never fatal.
	ExtraPatterns []PatternConfig `toml:"extra_patterns"`
}

// PatternConfig is one user-supplied secret pattern.
type PatternConfig struct {
	Name        string `toml:"name"`
	Regex       string `toml:"regex"`
	Placeholder string `toml:"placeholder"`
	Severity    string `toml:"severity"`
	Group       int    `toml:"group"`
}

// ReasonerConfig maps to the [reasoner] section.
type ReasonerConfig struct {
	MaxRetries          int     `toml:"max_retries"`
	ConfidenceThreshold float64 `toml:"confidence_threshold"`
	MaxCodeLines        int     `toml:"max_code_lines"`
}

// PublisherConfig maps to the [publisher] section.
type PublisherConfig struct {
	// ManualApply enables the structural fallback when git apply strict-fails.
	ManualApply bool `toml:"manual_apply"`
}

// PipelineConfig maps to the [pipeline] section.
type PipelineConfig struct {
	// CloneTimeout is the git clone timeout in seconds.
	CloneTimeout int `toml:"clone_timeout"`

	MaxRetries            int `toml:"max_retries"`
	FeedbackMaxIterations int `toml:"feedback_max_iterations"`
}

// WorkspaceConfig maps to the [workspace] section: the three on-disk roots.
type WorkspaceConfig struct {
	CloneRoot     string `toml:"clone_root"`
	SanitizedRoot string `toml:"sanitized_root"`
	ScratchRoot   string `toml:"scratch_root"`
}
