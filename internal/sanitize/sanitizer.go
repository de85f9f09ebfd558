package sanitize

import (
	"bytes"
	"context"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"

	"github.com/bmatcuk/doublestar/v4"
	"github.com/charmbracelet/log"
	"github.com/google/uuid"

	"github.com/neverdownhq/neverdown/internal/config"
	"github.com/neverdownhq/neverdown/internal/fault"
	"github.com/neverdownhq/neverdown/internal/model"
)

// defaultSkipGlobs are path patterns never scanned (still copied verbatim,
// except VCS internals which are dropped from the sanitized tree).
var defaultSkipGlobs = []string{
	"**/.git/**",
	"**/node_modules/**",
	"**/__pycache__/**",
	"**/venv/**",
	"**/.venv/**",
	"**/dist/**",
	"**/build/**",
	"**/*.min.js",
}

// Sanitizer copies a working tree into a physically separate sanitized tree,
// redacting every detected secret on the way.
type Sanitizer struct {
	redactor   *Redactor
	maxSecrets int
	skipGlobs  []string
	scanGlobs  []string
	logger     *log.Logger
}

// Option configures a Sanitizer.
type Option func(*Sanitizer)

// WithLogger sets the logger. A nil logger disables logging.
func WithLogger(logger *log.Logger) Option {
	return func(s *Sanitizer) { s.logger = logger }
}

// WithScanGlobs restricts scanning to matching paths. Empty means scan all
// non-skipped files.
func WithScanGlobs(globs []string) Option {
	return func(s *Sanitizer) { s.scanGlobs = globs }
}

// WithSkipGlobs replaces the default skip list.
func WithSkipGlobs(globs []string) Option {
	return func(s *Sanitizer) { s.skipGlobs = globs }
}

// NewSanitizer builds a Sanitizer from configuration. One Sanitizer performs
// one pass; the placeholder cache is not shared across incidents.
func NewSanitizer(cfg config.SanitizerConfig, opts ...Option) *Sanitizer {
	s := &Sanitizer{
		maxSecrets: cfg.MaxSecrets,
		skipGlobs:  defaultSkipGlobs,
	}
	for _, opt := range opts {
		opt(s)
	}
	registry := NewRegistry(cfg.ExtraPatterns, s.logger)
	s.redactor = NewRedactor(registry, cfg.EntropyThreshold, cfg.EntropyMinLength)
	return s
}

// Sanitize copies treePath into destPath with all secrets replaced and
// returns the report. When the halt threshold is exceeded the report comes
// back with Halted set alongside a too_many_secrets fault; the partial
// sanitized tree is the caller's to remove.
//
// Per-file read or write errors are logged and the file skipped; only an
// unreadable root is fatal.
func (s *Sanitizer) Sanitize(ctx context.Context, treePath, destPath string, incidentID uuid.UUID) (*model.SanitizationReport, error) {
	if _, err := os.Stat(treePath); err != nil {
		return nil, fault.Wrap(fault.CodeSanitizationFailed, err, "working tree %s unreadable", treePath)
	}
	if err := os.MkdirAll(destPath, 0o755); err != nil {
		return nil, fault.Wrap(fault.CodeSanitizationFailed, err, "creating sanitized root")
	}

	report := &model.SanitizationReport{
		IncidentID: incidentID,
		BySeverity: make(map[model.Severity]int),
		ByKind:     make(map[string]int),
	}

	walkErr := filepath.WalkDir(treePath, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			if path == treePath {
				return err
			}
			s.logf("skipping unreadable path", "path", path, "error", err)
			return nil
		}
		if err := ctx.Err(); err != nil {
			return err
		}

		rel, err := filepath.Rel(treePath, path)
		if err != nil || rel == "." {
			return nil
		}
		relSlash := filepath.ToSlash(rel)

		if d.IsDir() {
			if d.Name() == ".git" {
				return filepath.SkipDir
			}
			return os.MkdirAll(filepath.Join(destPath, rel), 0o755)
		}

		if err := s.sanitizeFile(treePath, destPath, rel, relSlash, report); err != nil {
			return err
		}
		if report.Halted {
			return errHalted
		}
		return nil
	})

	if walkErr != nil && walkErr != errHalted {
		return report, fault.Wrap(fault.CodeSanitizationFailed, walkErr, "walking %s", treePath)
	}
	if report.Halted {
		return report, fault.New(fault.CodeTooManySecrets,
			"found %d secrets, exceeding the limit of %d", report.TotalSecrets(), s.maxSecrets).
			WithDetail("count", report.TotalSecrets()).
			WithDetail("limit", s.maxSecrets)
	}
	return report, nil
}

// errHalted unwinds the walk once the halt threshold trips.
var errHalted = fmt.Errorf("sanitize: halted")

// sanitizeFile copies one file into the sanitized tree, redacting if it is
// scannable text.
func (s *Sanitizer) sanitizeFile(treePath, destPath, rel, relSlash string, report *model.SanitizationReport) error {
	src := filepath.Join(treePath, rel)
	dst := filepath.Join(destPath, rel)

	content, err := os.ReadFile(src)
	if err != nil {
		s.logf("skipping unreadable file", "path", rel, "error", err)
		return nil
	}

	if !s.shouldScan(relSlash) || isBinary(content) {
		report.FilesScanned++
		return writeCopy(dst, content, s)
	}

	report.FilesScanned++
	text := string(content)

	var redacted string
	var hits []detection
	if isEnvFile(rel) {
		redacted, hits = s.redactor.RedactEnvFile(text)
		for _, h := range hits {
			appendEntry(report, model.SanitizationEntry{
				File:        relSlash,
				Line:        h.start + 1,
				Kind:        h.kind,
				Placeholder: h.placeholder,
				Severity:    h.severity,
				Channel:     h.channel,
				Confidence:  h.confidence,
			})
		}
	} else {
		redacted, hits = s.redactor.Redact(text)
		for _, h := range hits {
			appendEntry(report, model.SanitizationEntry{
				File:        relSlash,
				Line:        lineOf(text, h.start),
				Kind:        h.kind,
				Placeholder: h.placeholder,
				Severity:    h.severity,
				Channel:     h.channel,
				Confidence:  h.confidence,
			})
		}
	}

	if len(hits) > 0 {
		report.FilesModified++
	}
	if report.TotalSecrets() > s.maxSecrets {
		report.Halted = true
	}
	return writeCopy(dst, []byte(redacted), s)
}

// appendEntry records one detection in the report counters.
func appendEntry(report *model.SanitizationReport, entry model.SanitizationEntry) {
	report.Entries = append(report.Entries, entry)
	report.BySeverity[entry.Severity]++
	report.ByKind[entry.Kind]++
	if entry.Channel == model.ChannelEntropy {
		report.EntropyCount++
	} else {
		report.PatternCount++
	}
}

// shouldScan applies the scan and skip globsets.
func (s *Sanitizer) shouldScan(relSlash string) bool {
	for _, glob := range s.skipGlobs {
		if ok, _ := doublestar.Match(glob, relSlash); ok {
			return false
		}
	}
	if len(s.scanGlobs) == 0 {
		return true
	}
	for _, glob := range s.scanGlobs {
		if ok, _ := doublestar.Match(glob, relSlash); ok {
			return true
		}
	}
	return false
}

// writeCopy writes one file into the sanitized tree. Write errors are logged
// and swallowed per the stage's failure semantics.
func writeCopy(dst string, content []byte, s *Sanitizer) error {
	if err := os.MkdirAll(filepath.Dir(dst), 0o755); err != nil {
		s.logf("skipping unwritable dir", "path", dst, "error", err)
		return nil
	}
	if err := os.WriteFile(dst, content, 0o644); err != nil {
		s.logf("skipping unwritable file", "path", dst, "error", err)
	}
	return nil
}

// isBinary treats any file with a NUL byte in its first kilobyte as binary.
func isBinary(content []byte) bool {
	probe := content
	if len(probe) > 1024 {
		probe = probe[:1024]
	}
	return bytes.IndexByte(probe, 0) >= 0
}

// isEnvFile matches .env, .env.*, and *.env files.
func isEnvFile(rel string) bool {
	base := filepath.Base(rel)
	return base == ".env" || strings.HasPrefix(base, ".env.") || strings.HasSuffix(base, ".env")
}

func (s *Sanitizer) logf(msg string, kv ...any) {
	if s.logger != nil {
		s.logger.Warn(msg, kv...)
	}
}
