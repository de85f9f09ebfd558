package pipeline

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/charmbracelet/log"
	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"github.com/neverdownhq/neverdown/internal/audit"
	"github.com/neverdownhq/neverdown/internal/config"
	"github.com/neverdownhq/neverdown/internal/fault"
	"github.com/neverdownhq/neverdown/internal/ghost"
	"github.com/neverdownhq/neverdown/internal/gitutil"
	"github.com/neverdownhq/neverdown/internal/model"
	"github.com/neverdownhq/neverdown/internal/publisher"
	"github.com/neverdownhq/neverdown/internal/store"
)

const (
	defaultWorkers   = 4
	defaultQueueSize = 64
	defaultCloneWait = 5 * time.Minute

	// diffExcerptLimit caps how much of a rejected diff is fed back to the
	// reasoner as refinement evidence.
	diffExcerptLimit = 2000
)

// Sanitizer copies a working tree while redacting secrets.
type Sanitizer interface {
	Sanitize(ctx context.Context, treePath, destPath string, incidentID uuid.UUID) (*model.SanitizationReport, error)
}

// Detective extracts errors from logs and localises the fault.
type Detective interface {
	Analyze(ctx context.Context, incidentID uuid.UUID, logs string, git *gitutil.Client) (*model.DetectiveReport, error)
}

// Reasoner proposes a validated patch for the diagnosed failure.
type Reasoner interface {
	Propose(ctx context.Context, report *model.DetectiveReport, treePath string) (*model.Patch, error)
}

// Verifier runs the repository's tests against the patched tree.
type Verifier interface {
	Verify(ctx context.Context, incidentID uuid.UUID, patch *model.Patch, treePath string) (*model.VerificationResult, error)
}

// Publisher opens the pull request carrying the fix.
type Publisher interface {
	Publish(ctx context.Context, req publisher.Request) (*model.PullRequest, error)
}

// Cloner fetches a repository into dest. The default is gitutil.Clone; tests
// substitute a local copy.
type Cloner func(ctx context.Context, url, dest string, timeout time.Duration) error

// IncidentStore is the slice of incident persistence the orchestrator needs.
type IncidentStore interface {
	StatusWriter
	Get(ctx context.Context, id uuid.UUID) (*model.Incident, error)
	ListByStatuses(ctx context.Context, statuses ...model.Status) ([]*model.Incident, error)
	UpdateLogs(ctx context.Context, id uuid.UUID, logs string) error
	SetPR(ctx context.Context, id uuid.UUID, prURL, branch string) error
	SetError(ctx context.Context, id uuid.UUID, message string) error
	IncrementRetry(ctx context.Context, id uuid.UUID) (int, error)
	IncrementFeedback(ctx context.Context, id uuid.UUID) (int, error)
}

// ArtifactStore persists per-stage artifacts.
type ArtifactStore interface {
	Save(ctx context.Context, incidentID uuid.UUID, stage store.Stage, artifact any) error
	Load(ctx context.Context, incidentID uuid.UUID, stage store.Stage, out any) error
}

// PatchStore persists reasoner output.
type PatchStore interface {
	Create(ctx context.Context, p *model.Patch) error
	LatestByIncident(ctx context.Context, incidentID uuid.UUID) (*model.Patch, error)
	MarkVerified(ctx context.Context, id uuid.UUID) error
}

// VerificationStore persists verifier output.
type VerificationStore interface {
	Create(ctx context.Context, v *model.VerificationResult) error
	LatestByIncident(ctx context.Context, incidentID uuid.UUID) (*model.VerificationResult, error)
}

// PullRequestStore persists publisher output.
type PullRequestStore interface {
	Create(ctx context.Context, pr *model.PullRequest) error
	LatestByIncident(ctx context.Context, incidentID uuid.UUID) (*model.PullRequest, error)
}

// Deps wires the orchestrator to its stages and stores.
type Deps struct {
	Incidents     IncidentStore
	Artifacts     ArtifactStore
	Patches       PatchStore
	Verifications VerificationStore
	PullRequests  PullRequestStore

	Sanitizer Sanitizer
	Detective Detective
	Reasoner  Reasoner
	Verifier  Verifier
	Publisher Publisher

	// Clone defaults to gitutil.Clone when nil.
	Clone Cloner

	Audit   *audit.Logger
	Metrics *Metrics
	Logger  *log.Logger
}

// Orchestrator drives incidents through the remediation pipeline. Work
// arrives on an in-memory queue; Start spins up workers that drain it.
type Orchestrator struct {
	deps    Deps
	machine *Machine

	cloneRoot     string
	sanitizedRoot string
	cloneTimeout  time.Duration
	maxRetries    int
	feedbackMax   int

	queue chan uuid.UUID
}

// New builds an Orchestrator from workspace roots, pipeline limits, and deps.
func New(ws config.WorkspaceConfig, pl config.PipelineConfig, deps Deps) *Orchestrator {
	if deps.Clone == nil {
		deps.Clone = gitutil.Clone
	}
	cloneTimeout := defaultCloneWait
	if pl.CloneTimeout > 0 {
		cloneTimeout = time.Duration(pl.CloneTimeout) * time.Second
	}
	return &Orchestrator{
		deps:          deps,
		machine:       NewMachine(deps.Incidents, deps.Audit),
		cloneRoot:     ws.CloneRoot,
		sanitizedRoot: ws.SanitizedRoot,
		cloneTimeout:  cloneTimeout,
		maxRetries:    pl.MaxRetries,
		feedbackMax:   pl.FeedbackMaxIterations,
		queue:         make(chan uuid.UUID, defaultQueueSize),
	}
}

// Enqueue hands an incident to the worker pool without blocking.
func (o *Orchestrator) Enqueue(id uuid.UUID) error {
	select {
	case o.queue <- id:
		return nil
	default:
		return fault.New(fault.CodeTimeout, "work queue is full, retry later")
	}
}

// Start runs the worker pool until the context is cancelled.
func (o *Orchestrator) Start(ctx context.Context, workers int) error {
	if workers <= 0 {
		workers = defaultWorkers
	}
	g, ctx := errgroup.WithContext(ctx)
	for i := 0; i < workers; i++ {
		g.Go(func() error {
			for {
				select {
				case <-ctx.Done():
					return ctx.Err()
				case id := <-o.queue:
					if err := o.Run(ctx, id); err != nil {
						o.logf("incident run failed", "incident", id, "err", err)
					}
				}
			}
		})
	}
	return g.Wait()
}

// Run executes the full pipeline for one incident. Stage failures move the
// incident to FAILED with the fault code recorded; the returned error is the
// original stage error.
func (o *Orchestrator) Run(ctx context.Context, id uuid.UUID) error {
	in, err := o.deps.Incidents.Get(ctx, id)
	if err != nil {
		return err
	}
	if in.Status == model.StatusRetrying {
		if err := o.machine.Transition(ctx, in, model.StatusPending, "retry accepted"); err != nil {
			return err
		}
	}
	if err := o.machine.Transition(ctx, in, model.StatusProcessing, "picked up by worker"); err != nil {
		return err
	}

	cloneDir := filepath.Join(o.cloneRoot, "repo-"+in.ID.String())
	sanitizedDir := filepath.Join(o.sanitizedRoot, "sanitized-"+in.ID.String())
	defer os.RemoveAll(cloneDir)
	defer os.RemoveAll(sanitizedDir)

	if err := o.deps.Clone(ctx, in.Repository.URL, cloneDir, o.cloneTimeout); err != nil {
		return o.fail(ctx, in, "clone", err)
	}

	report, err := o.detect(ctx, in, cloneDir, sanitizedDir, nil)
	if err != nil {
		return o.fail(ctx, in, stageOf(err, "detective"), err)
	}
	patch, verification, err := o.runStages(ctx, in, report, sanitizedDir)
	if err != nil {
		return o.fail(ctx, in, stageOf(err, "reasoner"), err)
	}
	if err := o.finishPublish(ctx, in, patch, verification, cloneDir, "", 0); err != nil {
		return o.fail(ctx, in, "publisher", err)
	}
	return nil
}

// refinement carries reviewer feedback into a re-run of the reasoning stages.
type refinement struct {
	FeedbackText string
	PreviousDiff string
}

// detect sanitizes the clone and produces the detective report. Refinement
// runs reuse the stored report with the reviewer's feedback appended as
// evidence instead of re-analysing the logs.
func (o *Orchestrator) detect(ctx context.Context, in *model.Incident, cloneDir, sanitizedDir string, ref *refinement) (*model.DetectiveReport, error) {
	sanReport, err := timeStage(o.deps.Metrics, "sanitizer", func() (*model.SanitizationReport, error) {
		return o.deps.Sanitizer.Sanitize(ctx, cloneDir, sanitizedDir, in.ID)
	})
	if sanReport != nil {
		if saveErr := o.deps.Artifacts.Save(ctx, in.ID, store.StageSanitizer, sanReport); saveErr != nil {
			o.logf("saving sanitizer artifact failed", "incident", in.ID, "err", saveErr)
		}
		if o.deps.Metrics != nil {
			o.deps.Metrics.SecretsRedacted.Add(float64(sanReport.TotalSecrets()))
		}
		if sanReport.Halted && o.deps.Audit != nil {
			o.deps.Audit.SecurityEvent(ctx, &in.ID, map[string]any{
				"event":   "sanitization_halted",
				"secrets": sanReport.TotalSecrets(),
			})
		}
	}
	if err != nil {
		return nil, &stageError{stage: "sanitizer", err: err}
	}
	o.agentAudit(ctx, in.ID, "sanitizer", map[string]any{
		"secrets":        sanReport.TotalSecrets(),
		"files_scanned":  sanReport.FilesScanned,
		"files_modified": sanReport.FilesModified,
	})

	if ref != nil {
		var report model.DetectiveReport
		if err := o.deps.Artifacts.Load(ctx, in.ID, store.StageDetective, &report); err != nil {
			return nil, &stageError{stage: "detective", err: err}
		}
		report.Evidence = append(report.Evidence,
			"reviewer feedback: "+ref.FeedbackText,
			"previous patch (rejected):\n"+truncate(ref.PreviousDiff, diffExcerptLimit))
		return &report, nil
	}

	report, err := timeStage(o.deps.Metrics, "detective", func() (*model.DetectiveReport, error) {
		return o.deps.Detective.Analyze(ctx, in.ID, in.Logs, gitutil.New(cloneDir))
	})
	if err != nil {
		return nil, &stageError{stage: "detective", err: err}
	}
	if saveErr := o.deps.Artifacts.Save(ctx, in.ID, store.StageDetective, report); saveErr != nil {
		o.logf("saving detective artifact failed", "incident", in.ID, "err", saveErr)
	}
	o.agentAudit(ctx, in.ID, "detective", map[string]any{
		"category":   string(report.Category),
		"suspects":   len(report.Suspects),
		"confidence": report.Confidence,
	})
	return report, nil
}

// runStages runs the reasoner and verifier over the sanitized tree.
func (o *Orchestrator) runStages(ctx context.Context, in *model.Incident, report *model.DetectiveReport, sanitizedDir string) (*model.Patch, *model.VerificationResult, error) {
	patch, err := timeStage(o.deps.Metrics, "reasoner", func() (*model.Patch, error) {
		return o.deps.Reasoner.Propose(ctx, report, sanitizedDir)
	})
	if err != nil {
		return nil, nil, &stageError{stage: "reasoner", err: err}
	}
	patch.IncidentID = in.ID
	if err := o.deps.Patches.Create(ctx, patch); err != nil {
		return nil, nil, &stageError{stage: "reasoner", err: err}
	}
	if saveErr := o.deps.Artifacts.Save(ctx, in.ID, store.StageReasoner, patch); saveErr != nil {
		o.logf("saving reasoner artifact failed", "incident", in.ID, "err", saveErr)
	}
	o.agentAudit(ctx, in.ID, "reasoner", map[string]any{
		"confidence": patch.Confidence,
		"retries":    patch.Retries,
		"files":      len(patch.Files),
	})

	verification, err := timeStage(o.deps.Metrics, "verifier", func() (*model.VerificationResult, error) {
		return o.deps.Verifier.Verify(ctx, in.ID, patch, sanitizedDir)
	})
	if err != nil {
		return nil, nil, &stageError{stage: "verifier", err: err}
	}
	verification.IncidentID = in.ID
	verification.PatchID = patch.ID
	if err := o.deps.Verifications.Create(ctx, verification); err != nil {
		return nil, nil, &stageError{stage: "verifier", err: err}
	}
	if saveErr := o.deps.Artifacts.Save(ctx, in.ID, store.StageVerifier, verification); saveErr != nil {
		o.logf("saving verifier artifact failed", "incident", in.ID, "err", saveErr)
	}
	o.agentAudit(ctx, in.ID, "verifier", map[string]any{
		"status": string(verification.Status),
		"passed": verification.Passed,
		"failed": verification.Failed,
	})

	if verification.Halting() {
		return nil, nil, &stageError{stage: "verifier", err: fault.New(fault.CodeTestFailed,
			"proposed patch fails the test suite (%d failed)", verification.Failed)}
	}
	if verification.Status == model.VerificationPassed {
		if err := o.deps.Patches.MarkVerified(ctx, patch.ID); err != nil {
			o.logf("marking patch verified failed", "patch", patch.ID, "err", err)
		} else {
			patch.Verified = true
		}
	}
	return patch, verification, nil
}

// finishPublish opens (or refreshes) the pull request and settles the
// incident into AWAITING_REVIEW.
func (o *Orchestrator) finishPublish(ctx context.Context, in *model.Incident, patch *model.Patch, verification *model.VerificationResult, cloneDir, branch string, existingPR int) error {
	pr, err := timeStage(o.deps.Metrics, "publisher", func() (*model.PullRequest, error) {
		return o.deps.Publisher.Publish(ctx, publisher.Request{
			Incident:         in,
			Patch:            patch,
			Verification:     verification,
			OriginalTree:     cloneDir,
			Branch:           branch,
			ExistingPRNumber: existingPR,
		})
	})
	if err != nil {
		return err
	}
	if err := o.deps.PullRequests.Create(ctx, pr); err != nil {
		return err
	}
	if err := o.deps.Incidents.SetPR(ctx, in.ID, pr.URL, pr.HeadBranch); err != nil {
		return err
	}
	in.PRURL = pr.URL
	in.BranchName = pr.HeadBranch
	if o.deps.Metrics != nil {
		o.deps.Metrics.PullRequestsTotal.Inc()
	}
	o.agentAudit(ctx, in.ID, "publisher", map[string]any{
		"pr_number": pr.Number,
		"branch":    pr.HeadBranch,
	})

	if err := o.machine.Transition(ctx, in, model.StatusPRCreated,
		fmt.Sprintf("pull request #%d opened", pr.Number)); err != nil {
		return err
	}
	return o.machine.Transition(ctx, in, model.StatusAwaitingReview, "waiting for human review")
}

// Retry re-queues a terminal incident, bounded by the configured retry limit.
func (o *Orchestrator) Retry(ctx context.Context, id uuid.UUID) error {
	in, err := o.deps.Incidents.Get(ctx, id)
	if err != nil {
		return err
	}
	if !in.Status.Terminal() {
		return fault.New(fault.CodeInvalidStateTransition,
			"incident in state %s cannot be retried", in.Status).
			WithDetail("from", string(in.Status))
	}
	count, err := o.deps.Incidents.IncrementRetry(ctx, in.ID)
	if err != nil {
		return err
	}
	if count > o.maxRetries {
		return fault.New(fault.CodeMaxRetriesExceeded,
			"incident retried %d times, limit is %d", count, o.maxRetries).
			WithDetail("retry_count", count).
			WithDetail("max_retries", o.maxRetries)
	}
	if err := o.machine.Transition(ctx, in, model.StatusRetrying,
		fmt.Sprintf("retry %d of %d requested", count, o.maxRetries)); err != nil {
		return err
	}
	return o.Enqueue(in.ID)
}

// Approve resolves an incident whose fix the reviewer accepted.
func (o *Orchestrator) Approve(ctx context.Context, id uuid.UUID) error {
	in, err := o.deps.Incidents.Get(ctx, id)
	if err != nil {
		return err
	}
	return o.machine.Transition(ctx, in, model.StatusResolved, "fix approved by reviewer")
}

// RequestChanges re-runs reasoning with the reviewer's feedback folded into
// the evidence, pushing the refined patch onto the existing branch and pull
// request.
func (o *Orchestrator) RequestChanges(ctx context.Context, id uuid.UUID, feedback string) error {
	in, err := o.deps.Incidents.Get(ctx, id)
	if err != nil {
		return err
	}
	if in.Status != model.StatusAwaitingReview {
		return fault.New(fault.CodeInvalidStateTransition,
			"feedback requires an incident awaiting review, got %s", in.Status).
			WithDetail("from", string(in.Status))
	}
	iteration, err := o.deps.Incidents.IncrementFeedback(ctx, in.ID)
	if err != nil {
		return err
	}
	if iteration > o.feedbackMax {
		return fault.New(fault.CodeMaxRetriesExceeded,
			"feedback iterations exhausted (%d of %d)", iteration, o.feedbackMax).
			WithDetail("feedback_iteration", iteration)
	}
	prev, err := o.deps.Patches.LatestByIncident(ctx, in.ID)
	if err != nil {
		return err
	}
	pr, err := o.deps.PullRequests.LatestByIncident(ctx, in.ID)
	if err != nil {
		return err
	}
	if err := o.machine.Transition(ctx, in, model.StatusProcessing,
		fmt.Sprintf("reviewer requested changes (iteration %d)", iteration)); err != nil {
		return err
	}

	cloneDir := filepath.Join(o.cloneRoot, "repo-"+in.ID.String())
	sanitizedDir := filepath.Join(o.sanitizedRoot, "sanitized-"+in.ID.String())
	defer os.RemoveAll(cloneDir)
	defer os.RemoveAll(sanitizedDir)

	if err := o.deps.Clone(ctx, in.Repository.URL, cloneDir, o.cloneTimeout); err != nil {
		return o.fail(ctx, in, "clone", err)
	}
	report, err := o.detect(ctx, in, cloneDir, sanitizedDir, &refinement{
		FeedbackText: feedback,
		PreviousDiff: prev.Diff,
	})
	if err != nil {
		return o.fail(ctx, in, stageOf(err, "detective"), err)
	}
	patch, verification, err := o.runStages(ctx, in, report, sanitizedDir)
	if err != nil {
		return o.fail(ctx, in, stageOf(err, "reasoner"), err)
	}
	if err := o.finishPublish(ctx, in, patch, verification, cloneDir, pr.HeadBranch, pr.Number); err != nil {
		return o.fail(ctx, in, "publisher", err)
	}
	return nil
}

// ActivateFromWebhook wakes the newest MONITORING incident watching the
// given repository, replacing its logs with the delivered failure output.
func (o *Orchestrator) ActivateFromWebhook(ctx context.Context, repoURL, logs string) (uuid.UUID, error) {
	canon, err := ghost.CanonicalRepoURL(repoURL)
	if err != nil {
		return uuid.Nil, err
	}
	dormant, err := o.deps.Incidents.ListByStatuses(ctx, model.StatusMonitoring)
	if err != nil {
		return uuid.Nil, err
	}
	var match *model.Incident
	for _, in := range dormant {
		inCanon, canonErr := ghost.CanonicalRepoURL(in.Repository.URL)
		if canonErr == nil && inCanon == canon {
			// Listed oldest first; keep the newest match.
			match = in
		}
	}
	if match == nil {
		return uuid.Nil, fault.New(fault.CodeIncidentNotFound,
			"no monitoring incident for %s", canon)
	}
	if err := o.deps.Incidents.UpdateLogs(ctx, match.ID, logs); err != nil {
		return uuid.Nil, err
	}
	if err := o.Enqueue(match.ID); err != nil {
		return uuid.Nil, err
	}
	o.logf("dormant incident activated", "incident", match.ID, "repo", canon)
	return match.ID, nil
}

// fail records the stage failure and moves the incident to FAILED. It returns
// the original error so callers can propagate it.
func (o *Orchestrator) fail(ctx context.Context, in *model.Incident, stage string, err error) error {
	code := fault.CodeOf(err, "internal")
	if o.deps.Metrics != nil {
		o.deps.Metrics.StageFailures.WithLabelValues(stage, string(code)).Inc()
	}
	if setErr := o.deps.Incidents.SetError(ctx, in.ID, fmt.Sprintf("%s: %v", code, err)); setErr != nil {
		o.logf("recording incident error failed", "incident", in.ID, "err", setErr)
	}
	if trErr := o.machine.Transition(ctx, in, model.StatusFailed,
		truncate(stage+": "+err.Error(), 500)); trErr != nil {
		o.logf("transition to FAILED failed", "incident", in.ID, "err", trErr)
	}
	o.logf("pipeline stage failed", "incident", in.ID, "stage", stage, "code", code, "err", err)
	return err
}

func (o *Orchestrator) agentAudit(ctx context.Context, id uuid.UUID, stage string, payload map[string]any) {
	if o.deps.Audit == nil {
		return
	}
	o.deps.Audit.AgentExecution(ctx, id, stage, payload)
}

// stageError tags an error with the pipeline stage that produced it.
type stageError struct {
	stage string
	err   error
}

func (e *stageError) Error() string { return e.err.Error() }
func (e *stageError) Unwrap() error { return e.err }

func stageOf(err error, fallback string) string {
	var se *stageError
	if errors.As(err, &se) {
		return se.stage
	}
	return fallback
}

// timeStage observes one stage's wall-clock duration, failures included.
func timeStage[T any](m *Metrics, stage string, fn func() (T, error)) (T, error) {
	start := time.Now()
	out, err := fn()
	if m != nil {
		m.StageDuration.WithLabelValues(stage).Observe(time.Since(start).Seconds())
	}
	return out, err
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "\n[truncated]"
}

func (o *Orchestrator) logf(msg string, kv ...any) {
	if o.deps.Logger == nil {
		return
	}
	o.deps.Logger.Info(msg, kv...)
}
