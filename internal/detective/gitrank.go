package detective

import (
	"fmt"
	"path"
	"sort"
	"strings"

	"github.com/neverdownhq/neverdown/internal/gitutil"
	"github.com/neverdownhq/neverdown/internal/model"
)

const (
	maxSuspects      = 10
	maxRankedChanges = 5
	minRelevance     = 0.3
)

// RankChanges scores recent commits for relevance against the suspect files
// and returns the top candidates, highest relevance first.
func RankChanges(commits []gitutil.Commit, suspects []string) []model.RecentChange {
	var ranked []model.RecentChange
	for _, c := range commits {
		score := commitRelevance(c.Files, suspects)
		if score < minRelevance {
			continue
		}
		ranked = append(ranked, model.RecentChange{
			CommitID:  c.SHA,
			Author:    c.Author,
			Message:   c.Message,
			Timestamp: c.Timestamp,
			Files:     c.Files,
			Relevance: score,
		})
	}
	sort.SliceStable(ranked, func(i, j int) bool { return ranked[i].Relevance > ranked[j].Relevance })
	if len(ranked) > maxRankedChanges {
		ranked = ranked[:maxRankedChanges]
	}
	return ranked
}

// commitRelevance is the best pairwise score between any touched file and
// any suspect.
func commitRelevance(commitFiles, suspects []string) float64 {
	best := 0.0
	for _, suspect := range suspects {
		for _, file := range commitFiles {
			if score := fileRelevance(suspect, file); score > best {
				best = score
			}
		}
	}
	return best
}

// fileRelevance scores one (suspect, touched-file) pair. A direct hit on the
// suspect overrides all other scoring.
func fileRelevance(suspect, touched string) float64 {
	suspect = path.Clean(strings.ReplaceAll(suspect, "\\", "/"))
	touched = path.Clean(strings.ReplaceAll(touched, "\\", "/"))

	if suspect == touched {
		return 1.0
	}

	score := 0.0
	suspectDir := path.Dir(suspect)
	touchedDir := path.Dir(touched)
	switch {
	case suspectDir == touchedDir:
		score = 0.6
	case path.Dir(suspectDir) == path.Dir(touchedDir) && path.Dir(suspectDir) != ".":
		// Top-level siblings share no meaningful parent; repo root does
		// not count as a relationship.
		score = 0.4
	}
	if path.Ext(suspect) != "" && path.Ext(suspect) == path.Ext(touched) {
		score += 0.2
	}
	if testSourceRelated(suspect, touched) {
		score += 0.3
	}
	if score > 1.0 {
		score = 1.0
	}
	return score
}

// testSourceRelated reports a bidirectional test/source name relationship:
// test_X matches X and vice versa, for the common test-file conventions.
func testSourceRelated(a, b string) bool {
	return testNameFor(a) == stemOf(b) || testNameFor(b) == stemOf(a)
}

// stemOf returns the file's base name without extension.
func stemOf(p string) string {
	base := path.Base(p)
	return strings.TrimSuffix(base, path.Ext(base))
}

// testNameFor strips test-file decoration from the base name, returning the
// source stem it refers to, or "" when the name is not test-shaped.
func testNameFor(p string) string {
	stem := stemOf(p)
	switch {
	case strings.HasPrefix(stem, "test_"):
		return strings.TrimPrefix(stem, "test_")
	case strings.HasSuffix(stem, "_test"):
		return strings.TrimSuffix(stem, "_test")
	case strings.HasSuffix(stem, ".test"):
		return strings.TrimSuffix(stem, ".test")
	case strings.HasSuffix(stem, ".spec"):
		return strings.TrimSuffix(stem, ".spec")
	}
	return ""
}

// RankSuspects aggregates extracted errors into ranked suspect files.
// Each error contributes from a base confidence of 0.5, adjusted for line
// attribution, definite-bug kinds, and library paths; extra errors on the
// same file compound. Files touched by a relevant recent change get a
// further boost plus an evidence line.
func RankSuspects(errs []model.ExtractedError, changes []model.RecentChange) []model.SuspectedFile {
	type acc struct {
		confidence float64
		lines      []int
		evidence   []string
		hits       int
	}
	byFile := make(map[string]*acc)
	var order []string

	for _, e := range errs {
		if e.File == "" {
			continue
		}
		a, ok := byFile[e.File]
		if !ok {
			a = &acc{}
			byFile[e.File] = a
			order = append(order, e.File)
		}

		if a.hits == 0 {
			score := 0.5
			if e.Line > 0 {
				score += 0.2
			}
			if definiteBugKinds[e.Kind] {
				score += 0.2
			}
			if isLibraryPath(e.File) {
				score -= 0.3
			}
			a.confidence = score
		} else {
			a.confidence += 0.2
		}
		a.hits++

		if e.Line > 0 {
			a.lines = appendUniqueLine(a.lines, e.Line)
		}
		evidence := e.Kind
		if e.Message != "" {
			evidence += ": " + e.Message
		}
		if e.Line > 0 {
			evidence += fmt.Sprintf(" (line %d)", e.Line)
		}
		a.evidence = append(a.evidence, evidence)
	}

	recentlyChanged := make(map[string]string)
	for _, c := range changes {
		for _, f := range c.Files {
			if _, ok := recentlyChanged[f]; !ok {
				recentlyChanged[f] = c.CommitID
			}
		}
	}

	var suspects []model.SuspectedFile
	for _, file := range order {
		a := byFile[file]
		if sha, ok := recentlyChanged[file]; ok {
			a.confidence += 0.2
			short := sha
			if len(short) > 8 {
				short = short[:8]
			}
			a.evidence = append(a.evidence, fmt.Sprintf("recently changed in commit %s", short))
		}
		suspects = append(suspects, model.SuspectedFile{
			Path:       file,
			Confidence: clamp(a.confidence, 0.1, 1.0),
			Lines:      a.lines,
			Evidence:   a.evidence,
		})
	}

	sort.SliceStable(suspects, func(i, j int) bool { return suspects[i].Confidence > suspects[j].Confidence })
	if len(suspects) > maxSuspects {
		suspects = suspects[:maxSuspects]
	}
	return suspects
}

func appendUniqueLine(lines []int, line int) []int {
	for _, l := range lines {
		if l == line {
			return lines
		}
	}
	return append(lines, line)
}

func clamp(v, lo, hi float64) float64 {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}
