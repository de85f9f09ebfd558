package detective

import (
	"context"

	"github.com/charmbracelet/log"
	"github.com/google/uuid"

	"github.com/neverdownhq/neverdown/internal/fault"
	"github.com/neverdownhq/neverdown/internal/gitutil"
	"github.com/neverdownhq/neverdown/internal/model"
)

// defaultMaxCommits bounds how much history the git analysis reads.
const defaultMaxCommits = 10

// Detective turns raw logs plus a sanitized working tree into a ranked
// DetectiveReport.
type Detective struct {
	maxCommits int
	logger     *log.Logger
}

// Option configures a Detective.
type Option func(*Detective)

// WithLogger sets the logger. A nil logger disables logging.
func WithLogger(logger *log.Logger) Option {
	return func(d *Detective) { d.logger = logger }
}

// WithMaxCommits overrides how many recent commits are analysed.
func WithMaxCommits(n int) Option {
	return func(d *Detective) {
		if n > 0 {
			d.maxCommits = n
		}
	}
}

// New creates a Detective.
func New(opts ...Option) *Detective {
	d := &Detective{maxCommits: defaultMaxCommits}
	for _, opt := range opts {
		opt(d)
	}
	return d
}

// Analyze builds the DetectiveReport for one incident. The git client points
// at the cloned tree; it may be nil when no repository is available, in
// which case the recent-change analysis is skipped.
//
// An empty report (no errors and no suspects) is returned with a
// detective_error fault so the orchestrator can decide whether surrounding
// context still justifies proceeding.
func (d *Detective) Analyze(ctx context.Context, incidentID uuid.UUID, logs string, git *gitutil.Client) (*model.DetectiveReport, error) {
	errs := ParseLogs(ctx, logs)
	category := Categorize(errs)
	functions := ExtractFunctions(logs)

	// Suspect paths feed the git relevance scoring before final ranking.
	var suspectPaths []string
	for _, e := range errs {
		if e.File != "" {
			suspectPaths = append(suspectPaths, e.File)
		}
	}

	var changes []model.RecentChange
	if git != nil && len(suspectPaths) > 0 {
		commits, err := git.RecentCommits(ctx, d.maxCommits)
		if err != nil {
			// History is a ranking aid, not a requirement.
			if d.logger != nil {
				d.logger.Warn("recent-commit analysis failed", "incident", incidentID, "error", err)
			}
		} else {
			changes = RankChanges(commits, suspectPaths)
		}
	}

	suspects := RankSuspects(errs, changes)

	report := &model.DetectiveReport{
		IncidentID: incidentID,
		Errors:     errs,
		Category:   category,
		Suspects:   suspects,
		Functions:  functions,
		Changes:    changes,
		Confidence: overallConfidence(suspects),
	}
	for _, c := range changes {
		report.Evidence = append(report.Evidence,
			"relevant recent commit: "+c.Message)
	}

	if len(errs) == 0 && len(suspects) == 0 {
		return report, fault.New(fault.CodeDetectiveError,
			"no errors or suspect files could be derived from the logs")
	}
	return report, nil
}

// overallConfidence is the top suspect's confidence, or zero without one.
func overallConfidence(suspects []model.SuspectedFile) float64 {
	if len(suspects) == 0 {
		return 0
	}
	return suspects[0].Confidence
}
