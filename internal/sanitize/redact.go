package sanitize

import (
	"fmt"
	"regexp"
	"sort"
	"strings"

	"github.com/cespare/xxhash/v2"

	"github.com/neverdownhq/neverdown/internal/model"
)

// detection is one secret occurrence inside a file's content.
type detection struct {
	start, end  int
	kind        string
	placeholder string
	replacement string
	severity    model.Severity
	channel     model.DetectionChannel
	confidence  float64
}

// Redactor finds and replaces secrets in file content. One Redactor serves a
// whole sanitization pass so the placeholder cache spans files.
type Redactor struct {
	registry  *Registry
	entropyRe *regexp.Regexp
	threshold float64
	minLength int

	// cache maps (pattern, literal) to the placeholder used, guaranteeing a
	// given secret redacts identically everywhere in one pass.
	cache map[uint64]string
}

// NewRedactor builds a redactor with the given registry and entropy settings.
func NewRedactor(registry *Registry, entropyThreshold float64, entropyMinLength int) *Redactor {
	return &Redactor{
		registry:  registry,
		entropyRe: regexp.MustCompile(fmt.Sprintf(`[A-Za-z0-9+/=_\-]{%d,}`, entropyMinLength)),
		threshold: entropyThreshold,
		minLength: entropyMinLength,
		cache:     make(map[uint64]string),
	}
}

const (
	entropyPlaceholder = "<REDACTED_HIGH_ENTROPY>"
	envPlaceholder     = "<REDACTED>"
	placeholderMark    = "<REDACTED"
)

// Detect runs both channels over content and returns the de-duplicated,
// position-sorted detections. A pattern hit suppresses any overlapping
// entropy hit; equal-range pattern hits collapse to one.
func (r *Redactor) Detect(content string) []detection {
	var hits []detection

	for i := range r.registry.patterns {
		p := &r.registry.patterns[i]
		for _, m := range p.Regex.FindAllStringSubmatchIndex(content, -1) {
			start, end := m[0], m[1]
			if p.Group > 0 && len(m) > 2*p.Group+1 && m[2*p.Group] >= 0 {
				start, end = m[2*p.Group], m[2*p.Group+1]
			}
			literal := content[start:end]
			if strings.Contains(literal, placeholderMark) {
				// Already sanitized; re-running must be a no-op.
				continue
			}
			hits = append(hits, detection{
				start:       start,
				end:         end,
				kind:        p.Name,
				placeholder: p.Placeholder,
				replacement: r.replacementFor(p, content[m[0]:m[1]], literal),
				severity:    p.Severity,
				channel:     model.ChannelPattern,
				confidence:  p.Confidence,
			})
		}
	}

	hits = dedupePatternHits(hits)
	hits = append(hits, r.entropyHits(content, hits)...)

	sort.Slice(hits, func(i, j int) bool { return hits[i].start < hits[j].start })
	return hits
}

// replacementFor computes the literal replacement text. Structural database
// URLs keep their scheme and redact each component; everything else gets the
// pattern placeholder, memoised per (pattern, literal).
func (r *Redactor) replacementFor(p *Pattern, fullMatch, literal string) string {
	key := xxhash.Sum64String(p.Name + ":" + literal)
	if cached, ok := r.cache[key]; ok {
		return cached
	}

	replacement := p.Placeholder
	if p.Structural {
		if idx := strings.Index(fullMatch, "://"); idx >= 0 {
			replacement = fullMatch[:idx] + "://<REDACTED_USER>:<REDACTED_PASSWORD>@<REDACTED_HOST>/<REDACTED_DB>"
		}
	}
	r.cache[key] = replacement
	return replacement
}

// dedupePatternHits drops pattern hits with identical (start, end) ranges.
func dedupePatternHits(hits []detection) []detection {
	seen := make(map[[2]int]bool, len(hits))
	out := hits[:0]
	for _, h := range hits {
		span := [2]int{h.start, h.end}
		if seen[span] {
			continue
		}
		seen[span] = true
		out = append(out, h)
	}
	return out
}

// entropyHits scans for high-entropy runs, suppressing any that overlap a
// pattern hit.
func (r *Redactor) entropyHits(content string, patternHits []detection) []detection {
	var hits []detection
	for _, m := range r.entropyRe.FindAllStringIndex(content, -1) {
		start, end := m[0], m[1]
		run := content[start:end]
		if strings.Contains(run, "REDACTED") {
			continue
		}
		if shannonEntropy(run) < r.threshold {
			continue
		}
		if overlapsAny(start, end, patternHits) {
			continue
		}
		hits = append(hits, detection{
			start:       start,
			end:         end,
			kind:        "HIGH_ENTROPY",
			placeholder: entropyPlaceholder,
			replacement: entropyPlaceholder,
			severity:    model.SeverityMedium,
			channel:     model.ChannelEntropy,
			confidence:  0.7,
		})
	}
	return hits
}

func overlapsAny(start, end int, hits []detection) bool {
	for _, h := range hits {
		if start < h.end && h.start < end {
			return true
		}
	}
	return false
}

// Redact replaces detections back-to-front so earlier byte offsets stay
// valid. Two patterns can claim overlapping, non-identical ranges; a hit that
// reaches into an already-replaced range would splice replacement text, so it
// is skipped. Returns the new content plus the detections actually applied.
func (r *Redactor) Redact(content string) (string, []detection) {
	hits := r.Detect(content)
	if len(hits) == 0 {
		return content, nil
	}

	redacted := content
	applied := make([]detection, 0, len(hits))
	lastStart := len(content)
	for i := len(hits) - 1; i >= 0; i-- {
		h := hits[i]
		if h.end > lastStart {
			continue
		}
		redacted = redacted[:h.start] + h.replacement + redacted[h.end:]
		lastStart = h.start
		applied = append(applied, h)
	}
	for i, j := 0, len(applied)-1; i < j; i, j = i+1, j-1 {
		applied[i], applied[j] = applied[j], applied[i]
	}
	return redacted, applied
}

// lineOf returns the 1-based line number of byte offset in content.
func lineOf(content string, offset int) int {
	if offset > len(content) {
		offset = len(content)
	}
	return strings.Count(content[:offset], "\n") + 1
}

// envKeyDenylist marks secret-sounding .env keys whose values are always
// redacted regardless of content.
var envKeyDenylist = []string{
	"password", "passwd", "pwd", "token", "secret", "key",
	"auth", "credential", "private", "cert", "signature", "salt",
}

// dbURLRe recognises database URIs in .env values.
var dbURLRe = regexp.MustCompile(`^(?:postgres(?:ql)?|mysql|mongodb(?:\+srv)?)://`)

// RedactEnvFile applies the .env special case: each non-comment KEY=VALUE
// line keeps its key verbatim and its quoting, while suspicious values are
// replaced. Pattern matches on the value take their pattern's placeholder;
// denylisted keys, database URIs, and high-entropy values fall back to the
// generic placeholder.
func (r *Redactor) RedactEnvFile(content string) (string, []detection) {
	lines := strings.Split(content, "\n")
	var hits []detection

	for i, line := range lines {
		trimmed := strings.TrimSpace(line)
		if trimmed == "" || strings.HasPrefix(trimmed, "#") {
			continue
		}
		eq := strings.Index(line, "=")
		if eq <= 0 {
			continue
		}
		key := strings.TrimSpace(line[:eq])
		rawValue := strings.TrimSpace(line[eq+1:])
		value, quote := unquote(rawValue)
		if value == "" || strings.HasPrefix(value, placeholderMark) {
			continue
		}

		kind, placeholder, severity, channel, confidence, found := r.classifyEnvValue(key, value)
		if !found {
			continue
		}

		lines[i] = key + "=" + quote + placeholder + quote
		hits = append(hits, detection{
			start:       i,
			end:         i,
			kind:        kind,
			placeholder: placeholder,
			replacement: placeholder,
			severity:    severity,
			channel:     channel,
			confidence:  confidence,
		})
	}

	return strings.Join(lines, "\n"), hits
}

// classifyEnvValue decides whether and how one env value is redacted.
func (r *Redactor) classifyEnvValue(key, value string) (kind, placeholder string, severity model.Severity, channel model.DetectionChannel, confidence float64, found bool) {
	// Re-run the pattern registry against a synthetic KEY="VALUE" line so
	// assignment-shaped patterns (AWS secrets, passwords) still classify
	// unquoted env values.
	synthetic := key + `="` + value + `"`
	if hits := r.Detect(synthetic); len(hits) > 0 {
		best := hits[0]
		for _, h := range hits[1:] {
			if h.confidence > best.confidence {
				best = h
			}
		}
		if best.channel == model.ChannelPattern {
			return best.kind, best.placeholder, best.severity, best.channel, best.confidence, true
		}
	}

	lowerKey := strings.ToLower(key)
	for _, marker := range envKeyDenylist {
		if strings.Contains(lowerKey, marker) {
			return "ENV_VALUE", envPlaceholder, model.SeverityMedium, model.ChannelPattern, 0.7, true
		}
	}
	if dbURLRe.MatchString(value) {
		return "ENV_DATABASE_URL", envPlaceholder, model.SeverityCritical, model.ChannelPattern, 0.9, true
	}
	if len(value) >= r.minLength && shannonEntropy(value) >= r.threshold {
		return "HIGH_ENTROPY", envPlaceholder, model.SeverityMedium, model.ChannelEntropy, 0.7, true
	}
	return "", "", "", "", 0, false
}

// unquote strips one level of matching quotes, returning the bare value and
// the quote string to restore.
func unquote(v string) (string, string) {
	if len(v) >= 2 {
		if (v[0] == '"' && v[len(v)-1] == '"') || (v[0] == '\'' && v[len(v)-1] == '\'') {
			return v[1 : len(v)-1], string(v[0])
		}
	}
	return v, ""
}
