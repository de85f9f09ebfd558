// Package sanitize strips secrets out of a cloned working tree before any
// external system sees the code. Detection runs two channels, a named
// pattern registry and a Shannon-entropy scan, and replaces every hit with a
// semantic placeholder of the shape <REDACTED_KIND>.
package sanitize

import (
	"regexp"

	"github.com/charmbracelet/log"

	"github.com/neverdownhq/neverdown/internal/config"
	"github.com/neverdownhq/neverdown/internal/model"
)

// Pattern is one named secret detector.
type Pattern struct {
	Name        string
	Regex       *regexp.Regexp
	Placeholder string
	Severity    model.Severity
	// Group selects the capture group to redact; 0 redacts the whole match.
	// Group > 0 preserves surrounding text such as the key name.
	Group      int
	Confidence float64
	// Structural marks database-URL patterns that get component-wise
	// placeholders instead of a single token.
	Structural bool
}

// Registry holds the active pattern set.
type Registry struct {
	patterns []Pattern
}

// Patterns returns the active pattern list.
func (r *Registry) Patterns() []Pattern { return r.patterns }

// dbURLPattern builds a structural database-URI pattern for one scheme
// regex fragment.
func dbURLPattern(name, scheme string) Pattern {
	return Pattern{
		Name:        name,
		Regex:       regexp.MustCompile(scheme + `://[^\s'"@]+:[^\s'"@]+@[^\s'"/]+/[^\s'"]+`),
		Placeholder: "<REDACTED_" + name + ">",
		Severity:    model.SeverityCritical,
		Confidence:  0.95,
		Structural:  true,
	}
}

// defaultPatterns is the built-in registry. Ordering matters only for
// deterministic reports; overlap resolution is positional.
func defaultPatterns() []Pattern {
	return []Pattern{
		{
			Name:        "AWS_ACCESS_KEY",
			Regex:       regexp.MustCompile(`\b(?:AKIA|ABIA|ACCA|ASIA)[0-9A-Z]{16}\b`),
			Placeholder: "<REDACTED_AWS_ACCESS_KEY>",
			Severity:    model.SeverityCritical,
			Confidence:  0.95,
		},
		{
			Name:        "AWS_SECRET_KEY",
			Regex:       regexp.MustCompile(`(?i)aws.{0,20}?['"]([0-9a-zA-Z/+=]{40})['"]`),
			Placeholder: "<REDACTED_AWS_SECRET_KEY>",
			Severity:    model.SeverityCritical,
			Group:       1,
			Confidence:  0.9,
		},
		{
			Name:        "GITHUB_TOKEN",
			Regex:       regexp.MustCompile(`\bgh[pousr]_[A-Za-z0-9_]{36,255}\b`),
			Placeholder: "<REDACTED_GITHUB_TOKEN>",
			Severity:    model.SeverityCritical,
			Confidence:  0.95,
		},
		{
			Name:        "JWT",
			Regex:       regexp.MustCompile(`\beyJ[A-Za-z0-9_-]{10,}\.[A-Za-z0-9_-]{10,}\.[A-Za-z0-9_-]{10,}\b`),
			Placeholder: "<REDACTED_JWT>",
			Severity:    model.SeverityHigh,
			Confidence:  0.9,
		},
		dbURLPattern("POSTGRES_URL", `postgres(?:ql)?`),
		dbURLPattern("MYSQL_URL", `mysql`),
		dbURLPattern("MONGODB_URL", `mongodb(?:\+srv)?`),
		{
			Name:        "API_KEY",
			Regex:       regexp.MustCompile(`(?i)(?:api[_-]?key|apikey|auth[_-]?token|access[_-]?token|secret)['"]?\s*[:=]\s*['"]([A-Za-z0-9_\-]{20,})['"]`),
			Placeholder: "<REDACTED_API_KEY>",
			Severity:    model.SeverityHigh,
			Group:       1,
			Confidence:  0.8,
		},
		{
			Name:        "PRIVATE_KEY",
			Regex:       regexp.MustCompile(`-----BEGIN (?:RSA |EC |DSA |OPENSSH )?PRIVATE KEY-----`),
			Placeholder: "<REDACTED_PRIVATE_KEY>",
			Severity:    model.SeverityCritical,
			Confidence:  1.0,
		},
		{
			Name:        "GCP_API_KEY",
			Regex:       regexp.MustCompile(`\bAIza[0-9A-Za-z_-]{35}\b`),
			Placeholder: "<REDACTED_GCP_API_KEY>",
			Severity:    model.SeverityCritical,
			Confidence:  0.95,
		},
		{
			Name:        "STRIPE_KEY",
			Regex:       regexp.MustCompile(`\b(?:sk|pk)_(?:live|test)_[0-9a-zA-Z]{24,}\b`),
			Placeholder: "<REDACTED_STRIPE_KEY>",
			Severity:    model.SeverityCritical,
			Confidence:  0.95,
		},
		{
			Name:        "SLACK_TOKEN",
			Regex:       regexp.MustCompile(`\bxox[baprs]-[0-9A-Za-z-]{10,}\b`),
			Placeholder: "<REDACTED_SLACK_TOKEN>",
			Severity:    model.SeverityHigh,
			Confidence:  0.9,
		},
		{
			Name:        "PASSWORD",
			Regex:       regexp.MustCompile(`(?i)password['"]?\s*[:=]\s*['"]([^'"]{8,})['"]`),
			Placeholder: "<REDACTED_PASSWORD>",
			Severity:    model.SeverityHigh,
			Group:       1,
			Confidence:  0.75,
		},
	}
}

// NewRegistry builds the pattern set: built-ins plus user extras. Invalid
// user regexes are logged and skipped, never fatal.
func NewRegistry(extras []config.PatternConfig, logger *log.Logger) *Registry {
	patterns := defaultPatterns()
	for _, pc := range extras {
		re, err := regexp.Compile(pc.Regex)
		if err != nil {
			if logger != nil {
				logger.Warn("skipping invalid extra pattern", "name", pc.Name, "error", err)
			}
			continue
		}
		severity := model.Severity(pc.Severity)
		if !severity.Valid() {
			severity = model.SeverityMedium
		}
		placeholder := pc.Placeholder
		if placeholder == "" {
			placeholder = "<REDACTED_" + pc.Name + ">"
		}
		patterns = append(patterns, Pattern{
			Name:        pc.Name,
			Regex:       re,
			Placeholder: placeholder,
			Severity:    severity,
			Group:       pc.Group,
			Confidence:  0.7,
		})
	}
	return &Registry{patterns: patterns}
}
