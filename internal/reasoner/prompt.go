// Package reasoner converts a DetectiveReport plus the sanitized tree into a
// validated Patch by prompting a language model and parsing its structured
// reply. It is the only pipeline stage that talks to the model.
package reasoner

import (
	"embed"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"text/template"

	"github.com/neverdownhq/neverdown/internal/model"
)

//go:embed templates/*.tmpl
var templateFS embed.FS

var promptTemplates = template.Must(template.ParseFS(templateFS, "templates/*.tmpl"))

const (
	// maxPromptErrors bounds how many extracted errors are inlined.
	maxPromptErrors = 5
	// maxPromptSuspects bounds how many suspect files get excerpts.
	maxPromptSuspects = 5
	// maxPromptChanges bounds how many recent changes are listed.
	maxPromptChanges = 3
	// maxStackChars truncates stack text per error.
	maxStackChars = 1000
	// excerptContext is the minimum context radius around a suspect line.
	excerptContext = 20
	// maxFileListing bounds the fallback project listing.
	maxFileListing = 100
	// maxRetryPrevious truncates the quoted failing attempt.
	maxRetryPrevious = 1000
)

// entryPointNames is the priority order for fallback excerpts when no
// suspect files exist.
var entryPointNames = []string{
	"main.py", "app.py", "manage.py", "wsgi.py",
	"index.js", "server.js", "app.js",
	"src/main.py", "src/app.py", "src/index.js", "src/server.js",
	"main.go", "cmd/main.go",
}

// PromptBuilder renders the system and analysis prompts.
type PromptBuilder struct {
	// MaxCodeLines is the global budget for excerpt lines.
	MaxCodeLines int
}

// NewPromptBuilder creates a builder with the given code-line budget.
func NewPromptBuilder(maxCodeLines int) *PromptBuilder {
	return &PromptBuilder{MaxCodeLines: maxCodeLines}
}

// SystemPrompt returns the fixed system instruction.
func (b *PromptBuilder) SystemPrompt() string {
	var sb strings.Builder
	if err := promptTemplates.ExecuteTemplate(&sb, "system.tmpl", nil); err != nil {
		// The template is embedded and static; failure here is a build bug.
		panic(fmt.Sprintf("reasoner: system template: %v", err))
	}
	return sb.String()
}

// promptSuspect is a suspect plus its rendered excerpt.
type promptSuspect struct {
	Path       string
	Confidence float64
	Evidence   []string
	Excerpt    string
}

type promptEntryPoint struct {
	Path    string
	Excerpt string
}

// promptData feeds the analysis template.
type promptData struct {
	Category    model.Category
	Evidence    []string
	Errors      []model.ExtractedError
	Suspects    []promptSuspect
	Changes     []model.RecentChange
	FileListing []string
	EntryPoints []promptEntryPoint
}

// Build renders the analysis prompt for one report against the sanitized
// tree rooted at treePath.
func (b *PromptBuilder) Build(report *model.DetectiveReport, treePath string) (string, error) {
	data := promptData{
		Category: report.Category,
		Evidence: report.Evidence,
	}

	data.Errors = report.Errors
	if len(data.Errors) > maxPromptErrors {
		data.Errors = data.Errors[:maxPromptErrors]
	}
	for i := range data.Errors {
		if len(data.Errors[i].Stack) > maxStackChars {
			data.Errors[i].Stack = data.Errors[i].Stack[:maxStackChars] + "\n... (truncated)"
		}
	}

	budget := b.MaxCodeLines
	suspects := report.Suspects
	if len(suspects) > maxPromptSuspects {
		suspects = suspects[:maxPromptSuspects]
	}
	for _, s := range suspects {
		excerpt, used := fileExcerpt(treePath, s.Path, s.Lines, budget)
		budget -= used
		data.Suspects = append(data.Suspects, promptSuspect{
			Path:       s.Path,
			Confidence: s.Confidence,
			Evidence:   s.Evidence,
			Excerpt:    excerpt,
		})
		if budget <= 0 {
			break
		}
	}

	if len(data.Suspects) == 0 {
		data.FileListing = listProjectFiles(treePath, maxFileListing)
		data.EntryPoints = entryPointExcerpts(treePath, b.MaxCodeLines)
	}

	data.Changes = report.Changes
	if len(data.Changes) > maxPromptChanges {
		data.Changes = data.Changes[:maxPromptChanges]
	}

	var sb strings.Builder
	if err := promptTemplates.ExecuteTemplate(&sb, "analysis.tmpl", data); err != nil {
		return "", fmt.Errorf("reasoner: analysis template: %w", err)
	}
	return sb.String(), nil
}

// BuildRetry renders the retry prompt quoting the failing attempt.
func (b *PromptBuilder) BuildRetry(original, previous, reason string) (string, error) {
	if len(previous) > maxRetryPrevious {
		previous = previous[:maxRetryPrevious] + "\n... (truncated)"
	}
	var sb strings.Builder
	err := promptTemplates.ExecuteTemplate(&sb, "retry.tmpl", map[string]string{
		"Original": original,
		"Previous": previous,
		"Reason":   reason,
	})
	if err != nil {
		return "", fmt.Errorf("reasoner: retry template: %w", err)
	}
	return sb.String(), nil
}

// fileExcerpt renders the file region around the suspect lines with >>>
// markers, spending at most budget lines. Unreadable files yield no excerpt.
func fileExcerpt(treePath, relPath string, suspectLines []int, budget int) (string, int) {
	if budget <= 0 {
		return "", 0
	}
	content, err := os.ReadFile(filepath.Join(treePath, filepath.FromSlash(relPath)))
	if err != nil {
		return "", 0
	}
	lines := strings.Split(string(content), "\n")

	start, end := 0, len(lines)
	if len(suspectLines) > 0 {
		lo, hi := suspectLines[0], suspectLines[0]
		for _, l := range suspectLines[1:] {
			if l < lo {
				lo = l
			}
			if l > hi {
				hi = l
			}
		}
		start = lo - 1 - excerptContext
		end = hi + excerptContext
		if start < 0 {
			start = 0
		}
		if end > len(lines) {
			end = len(lines)
		}
	}
	if end-start > budget {
		end = start + budget
	}

	marked := make(map[int]bool, len(suspectLines))
	for _, l := range suspectLines {
		marked[l] = true
	}

	var sb strings.Builder
	used := 0
	for i := start; i < end; i++ {
		lineNo := i + 1
		marker := "    "
		if marked[lineNo] {
			marker = ">>> "
		}
		fmt.Fprintf(&sb, "%s%4d | %s\n", marker, lineNo, lines[i])
		used++
	}
	return strings.TrimRight(sb.String(), "\n"), used
}

// listProjectFiles returns up to limit source-file paths, sorted.
func listProjectFiles(treePath string, limit int) []string {
	var files []string
	_ = filepath.WalkDir(treePath, func(path string, d os.DirEntry, err error) error {
		if err != nil {
			return nil
		}
		if d.IsDir() {
			if strings.HasPrefix(d.Name(), ".") || d.Name() == "node_modules" || d.Name() == "__pycache__" {
				return filepath.SkipDir
			}
			return nil
		}
		rel, relErr := filepath.Rel(treePath, path)
		if relErr != nil {
			return nil
		}
		files = append(files, filepath.ToSlash(rel))
		return nil
	})
	sort.Strings(files)
	if len(files) > limit {
		files = files[:limit]
	}
	return files
}

// entryPointExcerpts renders the top priority-ordered entry-point files.
func entryPointExcerpts(treePath string, budget int) []promptEntryPoint {
	var out []promptEntryPoint
	for _, name := range entryPointNames {
		if len(out) == maxPromptSuspects || budget <= 0 {
			break
		}
		if _, err := os.Stat(filepath.Join(treePath, filepath.FromSlash(name))); err != nil {
			continue
		}
		excerpt, used := fileExcerpt(treePath, name, nil, budget)
		if excerpt == "" {
			continue
		}
		budget -= used
		out = append(out, promptEntryPoint{Path: name, Excerpt: excerpt})
	}
	return out
}
