package config

import (
	"fmt"
	"regexp"
	"strings"

	"github.com/BurntSushi/toml"
)

// ValidationSeverity indicates whether a validation issue is an error or warning.
type ValidationSeverity string

const (
	// SeverityError indicates a fatal validation issue; the configuration is unusable.
	SeverityError ValidationSeverity = "error"
	// SeverityWarning indicates an informational validation issue; the configuration works
	// but may have problems.
	SeverityWarning ValidationSeverity = "warning"
)

// ValidationIssue represents a single validation finding.
type ValidationIssue struct {
	Severity ValidationSeverity
	Field    string // dotted path, e.g., "sandbox.timeout"
	Message  string
}

// ValidationResult holds all validation findings.
type ValidationResult struct {
	Issues []ValidationIssue
}

// HasErrors returns true if any issue has error severity.
func (vr *ValidationResult) HasErrors() bool {
	for _, issue := range vr.Issues {
		if issue.Severity == SeverityError {
			return true
		}
	}
	return false
}

// HasWarnings returns true if any issue has warning severity.
func (vr *ValidationResult) HasWarnings() bool {
	for _, issue := range vr.Issues {
		if issue.Severity == SeverityWarning {
			return true
		}
	}
	return false
}

// Errors returns only error-severity issues.
func (vr *ValidationResult) Errors() []ValidationIssue {
	var errs []ValidationIssue
	for _, issue := range vr.Issues {
		if issue.Severity == SeverityError {
			errs = append(errs, issue)
		}
	}
	return errs
}

// Warnings returns only warning-severity issues.
func (vr *ValidationResult) Warnings() []ValidationIssue {
	var warns []ValidationIssue
	for _, issue := range vr.Issues {
		if issue.Severity == SeverityWarning {
			warns = append(warns, issue)
		}
	}
	return warns
}

// validProviders is the set of recognized LLM provider dialects.
var validProviders = map[string]bool{
	"anthropic": true,
	"openai":    true,
}

// validPatternSeverities is the set of valid severities for extra patterns.
var validPatternSeverities = map[string]bool{
	"":         true,
	"critical": true,
	"high":     true,
	"medium":   true,
	"low":      true,
}

// memoryLimitRe matches docker-style memory limits like 512m, 2g, 1024k.
var memoryLimitRe = regexp.MustCompile(`^\d+[bkmg]?$`)

// Validate checks the settings for correctness and completeness.
// It performs structural validation, semantic validation, and unknown key detection.
//
// Parameters:
//   - s: the settings to validate
//   - meta: TOML metadata from BurntSushi/toml (may be nil if no file was loaded)
//
// Returns validation results. Check HasErrors() to determine if the settings are usable.
func Validate(s *Settings, meta *toml.MetaData) *ValidationResult {
	vr := &ValidationResult{}

	if s == nil {
		addError(vr, "", "configuration is nil")
		return vr
	}

	validateLLM(vr, &s.LLM)
	validateSandbox(vr, &s.Sandbox)
	validateSanitizer(vr, &s.Sanitizer)
	validateReasoner(vr, &s.Reasoner)
	validatePipeline(vr, &s.Pipeline)
	validateWorkspace(vr, &s.Workspace)
	validateSecrets(vr, s)
	validateUnknownKeys(vr, meta)

	return vr
}

// validateLLM checks the [llm] section.
func validateLLM(vr *ValidationResult, c *LLMConfig) {
	if !validProviders[c.Provider] {
		addError(vr, "llm.provider",
			fmt.Sprintf("unrecognized provider %q; must be one of: anthropic, openai", c.Provider))
	}
	if c.Model == "" {
		addError(vr, "llm.model", "must not be empty")
	}
	if c.MaxTokens <= 0 {
		addError(vr, "llm.max_tokens", "must be positive")
	}
	if c.Temperature < 0 || c.Temperature > 2 {
		addError(vr, "llm.temperature",
			fmt.Sprintf("%.2f is out of range [0, 2]", c.Temperature))
	}
	if c.Timeout <= 0 {
		addError(vr, "llm.timeout", "must be positive")
	}
}

// validateSandbox checks the [sandbox] section. A zero timeout would let a
// verification run forever, so it is rejected outright.
func validateSandbox(vr *ValidationResult, c *SandboxConfig) {
	if c.Image == "" {
		addError(vr, "sandbox.image", "must not be empty")
	}
	if c.Timeout <= 0 {
		addError(vr, "sandbox.timeout", "must be positive")
	}
	if c.MemoryLimit != "" && !memoryLimitRe.MatchString(c.MemoryLimit) {
		addError(vr, "sandbox.memory_limit",
			fmt.Sprintf("%q is not a valid limit (expected e.g. 512m, 2g)", c.MemoryLimit))
	}
	if c.CPULimit <= 0 {
		addError(vr, "sandbox.cpu_limit", "must be positive")
	}
	if c.PidsLimit <= 0 {
		addWarning(vr, "sandbox.pids_limit", "no process-count cap; sandbox fork bombs are unbounded")
	}
}

// validateSanitizer checks the [sanitizer] section.
func validateSanitizer(vr *ValidationResult, c *SanitizerConfig) {
	if c.EntropyThreshold <= 0 {
		addError(vr, "sanitizer.entropy_threshold", "must be positive")
	}
	if c.EntropyMinLength < 8 {
		addWarning(vr, "sanitizer.entropy_min_length",
			fmt.Sprintf("%d is very short; expect heavy false positives", c.EntropyMinLength))
	}
	if c.MaxSecrets <= 0 {
		addError(vr, "sanitizer.max_secrets", "must be positive")
	}
	for i, p := range c.ExtraPatterns {
		prefix := fmt.Sprintf("sanitizer.extra_patterns[%d]", i)
		if p.Name == "" {
			addWarning(vr, prefix+".name", "unnamed pattern")
		}
		if _, err := regexp.Compile(p.Regex); err != nil {
			// Invalid user patterns are skipped at registry build, never fatal.
			addWarning(vr, prefix+".regex",
				fmt.Sprintf("invalid regex %q: %v (pattern will be skipped)", p.Regex, err))
		}
		if !validPatternSeverities[p.Severity] {
			addWarning(vr, prefix+".severity",
				fmt.Sprintf("unrecognized severity %q; must be one of: critical, high, medium, low", p.Severity))
		}
	}
}

// validateReasoner checks the [reasoner] section.
func validateReasoner(vr *ValidationResult, c *ReasonerConfig) {
	if c.MaxRetries < 0 {
		addError(vr, "reasoner.max_retries", "must not be negative")
	}
	if c.ConfidenceThreshold < 0 || c.ConfidenceThreshold > 1 {
		addError(vr, "reasoner.confidence_threshold",
			fmt.Sprintf("%.2f is out of range [0, 1]", c.ConfidenceThreshold))
	}
	if c.MaxCodeLines <= 0 {
		addError(vr, "reasoner.max_code_lines", "must be positive")
	}
}

// validatePipeline checks the [pipeline] section.
func validatePipeline(vr *ValidationResult, c *PipelineConfig) {
	if c.CloneTimeout <= 0 {
		addError(vr, "pipeline.clone_timeout", "must be positive")
	}
	if c.FeedbackMaxIterations <= 0 {
		addError(vr, "pipeline.feedback_max_iterations", "must be positive")
	}
}

// validateWorkspace checks the three on-disk roots are distinct. The clone
// and sanitized trees must never share a directory.
func validateWorkspace(vr *ValidationResult, c *WorkspaceConfig) {
	roots := map[string]string{
		"workspace.clone_root":     c.CloneRoot,
		"workspace.sanitized_root": c.SanitizedRoot,
		"workspace.scratch_root":   c.ScratchRoot,
	}
	seen := make(map[string]string, len(roots))
	for field, root := range roots {
		if root == "" {
			addError(vr, field, "must not be empty")
			continue
		}
		if other, dup := seen[root]; dup {
			addError(vr, field, fmt.Sprintf("must differ from %s", other))
		}
		seen[root] = field
	}
}

// validateSecrets warns on missing credentials. These are warnings, not
// errors: read-only commands work without them.
func validateSecrets(vr *ValidationResult, s *Settings) {
	if !s.Database.URL.Set() {
		addWarning(vr, "database.url", "not set; persistence is unavailable")
	}
	if !s.GitHub.Token.Set() {
		addWarning(vr, "github.token", "not set; publishing is unavailable")
	}
	if !s.LLM.APIKey.Set() {
		addWarning(vr, "llm.api_key", "not set; the reasoner is unavailable")
	}
	if !s.GitHub.WebhookSecret.Set() {
		addWarning(vr, "github.webhook_secret", "not set; webhook signatures are not verified")
	}
}

// validateUnknownKeys checks for TOML keys that did not map to any settings field.
func validateUnknownKeys(vr *ValidationResult, meta *toml.MetaData) {
	if meta == nil {
		return
	}

	for _, key := range meta.Undecoded() {
		path := strings.Join(key, ".")
		addWarning(vr, path, "unknown configuration key")
	}
}

// addError appends an error-severity issue to the validation result.
func addError(vr *ValidationResult, field, message string) {
	vr.Issues = append(vr.Issues, ValidationIssue{
		Severity: SeverityError,
		Field:    field,
		Message:  message,
	})
}

// addWarning appends a warning-severity issue to the validation result.
func addWarning(vr *ValidationResult, field, message string) {
	vr.Issues = append(vr.Issues, ValidationIssue{
		Severity: SeverityWarning,
		Field:    field,
		Message:  message,
	})
}
