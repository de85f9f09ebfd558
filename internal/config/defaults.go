package config

// NewDefaults returns a Settings populated with all default values.
func NewDefaults() *Settings {
	return &Settings{
		Server: ServerConfig{
			Addr: ":8000",
		},
		Database: DatabaseConfig{
			MaxOpenConns: 10,
			MaxIdleConns: 2,
		},
		GitHub: GitHubConfig{
			APITimeout: 30,
		},
		LLM: LLMConfig{
			Provider:    "anthropic",
			Model:       "claude-sonnet-4-20250514",
			MaxTokens:   4096,
			Temperature: 0.1,
			Timeout:     120,
		},
		Sandbox: SandboxConfig{
			Image:       "python:3.11-slim",
			Timeout:     300,
			MemoryLimit: "512m",
			CPULimit:    1.0,
			PidsLimit:   256,
		},
		Sanitizer: SanitizerConfig{
			EntropyThreshold: 4.5,
			EntropyMinLength: 16,
			MaxSecrets:       100,
		},
		Reasoner: ReasonerConfig{
			MaxRetries:          3,
			ConfidenceThreshold: 0.7,
			MaxCodeLines:        200,
		},
		Publisher: PublisherConfig{
			ManualApply: true,
		},
		Pipeline: PipelineConfig{
			CloneTimeout:          120,
			MaxRetries:            3,
			FeedbackMaxIterations: 3,
		},
		Workspace: WorkspaceConfig{
			CloneRoot:     "/tmp/neverdown/clones",
			SanitizedRoot: "/tmp/neverdown/sanitized",
			ScratchRoot:   "/tmp/neverdown/scratch",
		},
	}
}
