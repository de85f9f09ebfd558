// Package publisher turns a verified patch into a remote pull request. It
// applies the diff to the original clone, pushes the touched files to a
// dedicated branch through the git-host content RPC, and opens exactly one
// pull request per incident iteration. It never merges.
package publisher

import (
	"context"
	"embed"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"text/template"
	"time"

	"github.com/charmbracelet/log"
	"github.com/google/go-github/v75/github"
	"github.com/google/uuid"

	"github.com/neverdownhq/neverdown/internal/config"
	"github.com/neverdownhq/neverdown/internal/fault"
	"github.com/neverdownhq/neverdown/internal/ghost"
	"github.com/neverdownhq/neverdown/internal/gitutil"
	"github.com/neverdownhq/neverdown/internal/model"
)

//go:embed templates/*.tmpl
var templateFS embed.FS

var bodyTemplate = template.Must(template.ParseFS(templateFS, "templates/*.tmpl"))

// maxTitleRootCause truncates the root cause used in the PR title.
const maxTitleRootCause = 50

// maxBodyReasoning truncates the reasoning block in the PR body.
const maxBodyReasoning = 2000

// Host is the subset of the git-host client the publisher needs.
type Host interface {
	DefaultBranch(ctx context.Context, owner, repo string) (string, error)
	RefSHA(ctx context.Context, owner, repo, branch string) (string, error)
	CreateBranch(ctx context.Context, owner, repo, branch, sha string) error
	PushFile(ctx context.Context, owner, repo, branch, path, message string, content []byte) error
	DeleteFile(ctx context.Context, owner, repo, branch, path, message string) error
	CreatePR(ctx context.Context, owner, repo string, spec ghost.PRSpec) (*github.PullRequest, error)
	GetPR(ctx context.Context, owner, repo string, number int) (*github.PullRequest, error)
}

// Publisher is the pipeline's final stage.
type Publisher struct {
	host        Host
	manualApply bool
	logger      *log.Logger
}

// Option configures a Publisher.
type Option func(*Publisher)

// WithLogger attaches a logger. A nil logger stays silent.
func WithLogger(l *log.Logger) Option {
	return func(p *Publisher) { p.logger = l }
}

// New builds a Publisher.
func New(host Host, cfg config.PublisherConfig, opts ...Option) *Publisher {
	p := &Publisher{host: host, manualApply: cfg.ManualApply}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// Request carries everything one publish needs.
type Request struct {
	Incident     *model.Incident
	Patch        *model.Patch
	Verification *model.VerificationResult

	// OriginalTree is the unsanitized clone the diff is applied to.
	OriginalTree string

	// Branch reuses an existing head branch for refinement iterations.
	// Empty means a fresh branch is named for this publish.
	Branch string

	// ExistingPRNumber suppresses PR creation when a refinement pushes to a
	// branch that already has an open pull request.
	ExistingPRNumber int
}

// Publish applies the patch and opens (or appends to) the pull request.
func (p *Publisher) Publish(ctx context.Context, req Request) (*model.PullRequest, error) {
	if req.Verification != nil && req.Verification.Status == model.VerificationFailed {
		return nil, fault.New(fault.CodeVerificationFailed,
			"refusing to publish a patch whose verification failed")
	}

	owner, repo, err := ghost.ParseRepoURL(req.Incident.Repository.URL)
	if err != nil {
		return nil, err
	}

	base := req.Incident.Repository.Branch
	if base == "" {
		base, err = p.host.DefaultBranch(ctx, owner, repo)
		if err != nil {
			return nil, err
		}
	}

	branch := req.Branch
	if branch == "" {
		branch = BranchName(req.Incident.ID, time.Now())
	}

	sha, err := p.host.RefSHA(ctx, owner, repo, base)
	if err != nil {
		return nil, err
	}
	if err := p.host.CreateBranch(ctx, owner, repo, branch, sha); err != nil {
		return nil, err
	}

	if err := p.applyToTree(ctx, req.OriginalTree, req.Patch.Diff); err != nil {
		return nil, err
	}

	if err := p.pushFiles(ctx, owner, repo, branch, req); err != nil {
		return nil, err
	}

	record := &model.PullRequest{
		ID:         uuid.New(),
		IncidentID: req.Incident.ID,
		PatchID:    req.Patch.ID,
		HeadBranch: branch,
		BaseBranch: base,
		Title:      Title(req.Patch),
		Labels:     Labels(req.Patch, req.Verification),
		Status:     model.PROpen,
		CreatedAt:  time.Now().UTC(),
	}
	if req.Verification != nil {
		record.VerificationID = req.Verification.ID
	}

	body, err := Body(req.Incident, req.Patch, req.Verification)
	if err != nil {
		return nil, err
	}
	record.Body = body

	if req.ExistingPRNumber > 0 {
		existing, err := p.host.GetPR(ctx, owner, repo, req.ExistingPRNumber)
		if err != nil {
			return nil, err
		}
		record.Number = req.ExistingPRNumber
		record.URL = existing.GetHTMLURL()
		p.logf("appended to existing pull request", "incident", req.Incident.ID,
			"branch", branch, "pr", req.ExistingPRNumber)
		return record, nil
	}

	pr, err := p.host.CreatePR(ctx, owner, repo, ghost.PRSpec{
		Title:  record.Title,
		Body:   record.Body,
		Head:   branch,
		Base:   base,
		Labels: record.Labels,
	})
	if err != nil {
		return nil, err
	}
	record.Number = pr.GetNumber()
	record.URL = pr.GetHTMLURL()

	p.logf("pull request opened", "incident", req.Incident.ID,
		"pr", record.Number, "branch", branch, "labels", record.Labels)
	return record, nil
}

// applyToTree runs the two-phase local apply with the structural fallback.
func (p *Publisher) applyToTree(ctx context.Context, treePath, diffText string) error {
	g := gitutil.New(treePath)
	if !g.IsRepo(ctx) {
		if err := g.Init(ctx); err != nil {
			return fault.Wrap(fault.CodeInvalidPatch, err, "baseline init failed")
		}
	} else if err := g.EnsureIdentity(ctx); err != nil {
		return fault.Wrap(fault.CodeInvalidPatch, err, "git identity setup failed")
	}

	patchPath := filepath.Join(treePath, ".proposed.patch")
	if err := os.WriteFile(patchPath, []byte(diffText), 0o644); err != nil {
		return fault.Wrap(fault.CodeInvalidPatch, err, "writing patch file")
	}
	defer os.Remove(patchPath)

	if err := g.ApplyCheck(ctx, ".proposed.patch"); err == nil {
		return g.Apply(ctx, ".proposed.patch")
	}
	if !p.manualApply {
		return fault.New(fault.CodeInvalidPatch, "patch does not apply to the original tree")
	}
	p.logf("strict apply failed, using structural fallback")
	return manualApply(treePath, diffText)
}

// pushFiles pushes every non-deleted file in the manifest to the branch, one
// commit per file, and issues deletions for removed files.
func (p *Publisher) pushFiles(ctx context.Context, owner, repo, branch string, req Request) error {
	shortID := req.Incident.ID.String()[:8]
	for _, f := range req.Patch.Files {
		message := fmt.Sprintf("NeverDown %s: update %s", shortID, f.Path)
		if f.Action == model.ActionDeleted {
			if err := p.host.DeleteFile(ctx, owner, repo, branch, f.Path,
				fmt.Sprintf("NeverDown %s: remove %s", shortID, f.Path)); err != nil {
				return err
			}
			continue
		}
		content, err := os.ReadFile(filepath.Join(req.OriginalTree, filepath.FromSlash(f.Path)))
		if err != nil {
			return fault.Wrap(fault.CodeGitHubAPIError, err, "reading patched file %s", f.Path)
		}
		if err := p.host.PushFile(ctx, owner, repo, branch, f.Path, message, content); err != nil {
			return err
		}
	}
	return nil
}

// BranchName derives the per-iteration head branch.
func BranchName(incidentID uuid.UUID, now time.Time) string {
	return fmt.Sprintf("neverdown/fix-%s-%s",
		incidentID.String()[:8], now.UTC().Format("20060102150405"))
}

// Title derives the PR title from the root cause, truncated.
func Title(patch *model.Patch) string {
	rootCause := strings.TrimSpace(patch.RootCause)
	if len(rootCause) > maxTitleRootCause {
		rootCause = rootCause[:maxTitleRootCause] + "..."
	}
	return "[NeverDown] Fix: " + rootCause
}

// Labels derives the project markers plus confidence and verification tiers.
func Labels(patch *model.Patch, verification *model.VerificationResult) []string {
	labels := []string{"neverdown", "automated-fix"}

	switch {
	case patch.Confidence >= 0.8:
		labels = append(labels, "high-confidence")
	case patch.Confidence >= 0.6:
		labels = append(labels, "medium-confidence")
	default:
		labels = append(labels, "low-confidence")
	}

	tier := "needs-tests"
	if verification != nil {
		switch verification.Status {
		case model.VerificationPassed:
			tier = "tests-passing"
		case model.VerificationFailed:
			tier = "tests-failing"
		}
	}
	return append(labels, tier)
}

// bodyData feeds the body template.
type bodyData struct {
	IncidentID         uuid.UUID
	ConfidencePct      int
	RootCause          string
	Reasoning          string
	Assumptions        []string
	VerificationStatus model.VerificationStatus
	VerificationReason string
	HasTests           bool
	Passed             int
	Failed             int
	Skipped            int
	Files              []model.FileChange
}

// Body renders the structured PR body.
func Body(incident *model.Incident, patch *model.Patch, verification *model.VerificationResult) (string, error) {
	reasoning := patch.Reasoning
	if len(reasoning) > maxBodyReasoning {
		reasoning = reasoning[:maxBodyReasoning] + "\n... (truncated)"
	}
	data := bodyData{
		IncidentID:         incident.ID,
		ConfidencePct:      int(patch.Confidence * 100),
		RootCause:          patch.RootCause,
		Reasoning:          reasoning,
		Assumptions:        patch.Assumptions,
		VerificationStatus: model.VerificationNoTests,
		Files:              patch.Files,
	}
	if verification != nil {
		data.VerificationStatus = verification.Status
		data.VerificationReason = verification.Reason
		data.HasTests = len(verification.Tests) > 0
		data.Passed = verification.Passed
		data.Failed = verification.Failed
		data.Skipped = verification.Skipped
	}

	var sb strings.Builder
	if err := bodyTemplate.ExecuteTemplate(&sb, "body.tmpl", data); err != nil {
		return "", fault.Wrap(fault.CodeGitHubAPIError, err, "rendering pull request body")
	}
	return sb.String(), nil
}

func (p *Publisher) logf(msg string, kv ...any) {
	if p.logger != nil {
		p.logger.Info(msg, kv...)
	}
}
