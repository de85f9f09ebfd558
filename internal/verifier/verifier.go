// Package verifier applies a proposed patch to a scratch copy of the
// sanitized tree and decides whether the project's tests stay green. All
// untrusted code runs inside the sandbox; the host only does file copies and
// git plumbing.
package verifier

import (
	"context"
	"errors"
	"io"
	"os"
	"path/filepath"
	"time"

	"github.com/charmbracelet/log"
	"github.com/google/uuid"

	"github.com/neverdownhq/neverdown/internal/config"
	"github.com/neverdownhq/neverdown/internal/fault"
	"github.com/neverdownhq/neverdown/internal/gitutil"
	"github.com/neverdownhq/neverdown/internal/model"
	"github.com/neverdownhq/neverdown/internal/sandbox"
)

// patchFileName is where the diff is written inside the scratch copy. It is
// removed after apply so test discovery never sees it.
const patchFileName = ".proposed.patch"

// Runner abstracts the sandbox so tests can substitute a fake.
type Runner interface {
	Run(ctx context.Context, treePath, command string, extraEnv map[string]string) (*sandbox.Result, error)
}

// Verifier is the pipeline's fourth stage.
type Verifier struct {
	runner      Runner
	scratchRoot string
	image       string
	logger      *log.Logger
}

// Option configures a Verifier.
type Option func(*Verifier)

// WithLogger attaches a logger. A nil logger stays silent.
func WithLogger(l *log.Logger) Option {
	return func(v *Verifier) { v.logger = l }
}

// New builds a Verifier that runs tests through runner and keeps scratch
// copies under the configured workspace root.
func New(runner Runner, ws config.WorkspaceConfig, sb config.SandboxConfig, opts ...Option) *Verifier {
	v := &Verifier{
		runner:      runner,
		scratchRoot: ws.ScratchRoot,
		image:       sb.Image,
	}
	for _, opt := range opts {
		opt(v)
	}
	return v
}

// Verify applies the patch in a scratch copy of treePath and runs the
// detected test framework. The returned result is always usable: apply
// failures and timeouts come back as classified statuses, not errors. Only
// infrastructure failures (copy, docker start) return a non-nil error.
func (v *Verifier) Verify(ctx context.Context, incidentID uuid.UUID, patch *model.Patch, treePath string) (*model.VerificationResult, error) {
	result := &model.VerificationResult{
		ID:         uuid.New(),
		IncidentID: incidentID,
		PatchID:    patch.ID,
		Status:     model.VerificationRunning,
		CreatedAt:  time.Now().UTC(),
	}

	if err := os.MkdirAll(v.scratchRoot, 0o755); err != nil {
		return nil, fault.Wrap(fault.CodeVerificationFailed, err, "scratch root unavailable")
	}
	scratch, err := os.MkdirTemp(v.scratchRoot, "neverdown-verify-")
	if err != nil {
		return nil, fault.Wrap(fault.CodeVerificationFailed, err, "scratch directory creation failed")
	}
	defer os.RemoveAll(scratch)

	if err := copyTree(treePath, scratch); err != nil {
		return nil, fault.Wrap(fault.CodeVerificationFailed, err, "scratch copy failed")
	}

	if err := v.applyPatch(ctx, scratch, patch.Diff); err != nil {
		v.logf("patch did not apply", "incident", incidentID, "error", err)
		result.Status = model.VerificationFailed
		result.Reason = "patch could not be applied cleanly"
		return result, nil
	}

	framework := DetectFramework(scratch)
	if framework == FrameworkNone {
		result.Status = model.VerificationNoTests
		result.Reason = "no test framework detected"
		return result, nil
	}
	command := framework.Command()

	run, runErr := v.runner.Run(ctx, scratch, command, nil)
	if runErr != nil {
		if errors.Is(runErr, fault.New(fault.CodeSandboxTimeout, "")) {
			result.Status = model.VerificationError
			result.Reason = "sandbox timed out"
			result.Tests = []model.TestResult{{
				Name:    "sandbox_timeout",
				Outcome: model.TestError,
				Message: "verification run exceeded the wall-clock limit",
			}}
			result.Errors = 1
			result.Sandbox = v.sandboxMeta(framework, command, run)
			return result, nil
		}
		return nil, fault.Wrap(fault.CodeSandboxError, runErr, "sandbox run failed")
	}

	result.Tests = parseOutput(framework, run.Stdout+"\n"+run.Stderr)
	aggregate(result)
	result.Sandbox = v.sandboxMeta(framework, command, run)
	if result.Status == model.VerificationFailed {
		result.Reason = "test run reported failures"
	}

	v.logf("verification finished", "incident", incidentID, "status", result.Status,
		"passed", result.Passed, "failed", result.Failed)
	return result, nil
}

// applyPatch writes the diff into the copy and runs the two-phase apply:
// strict first, three-way second.
func (v *Verifier) applyPatch(ctx context.Context, scratch, diff string) error {
	g := gitutil.New(scratch)
	if !g.IsRepo(ctx) {
		if err := g.Init(ctx); err != nil {
			return err
		}
	}

	patchPath := filepath.Join(scratch, patchFileName)
	if err := os.WriteFile(patchPath, []byte(diff), 0o644); err != nil {
		return err
	}
	defer os.Remove(patchPath)

	if err := g.ApplyCheck(ctx, patchFileName); err == nil {
		return g.Apply(ctx, patchFileName)
	}
	if err := g.ApplyCheck3Way(ctx, patchFileName); err != nil {
		return err
	}
	return g.Apply3Way(ctx, patchFileName)
}

func (v *Verifier) sandboxMeta(framework Framework, command string, run *sandbox.Result) *model.SandboxMeta {
	meta := &model.SandboxMeta{
		Image:     v.image,
		Framework: string(framework),
		Command:   command,
	}
	if run != nil {
		meta.Duration = run.Duration
		meta.ExitCode = run.ExitCode
	}
	return meta
}

// copyTree copies src into dst, skipping .git so the scratch copy gets a
// fresh baseline repository.
func copyTree(src, dst string) error {
	return filepath.WalkDir(src, func(path string, d os.DirEntry, err error) error {
		if err != nil {
			return err
		}
		rel, err := filepath.Rel(src, path)
		if err != nil {
			return err
		}
		if rel == "." {
			return nil
		}
		target := filepath.Join(dst, rel)
		if d.IsDir() {
			if d.Name() == ".git" {
				return filepath.SkipDir
			}
			return os.MkdirAll(target, 0o755)
		}
		return copyFile(path, target)
	})
}

func copyFile(src, dst string) error {
	in, err := os.Open(src)
	if err != nil {
		return err
	}
	defer in.Close()

	info, err := in.Stat()
	if err != nil {
		return err
	}
	out, err := os.OpenFile(dst, os.O_WRONLY|os.O_CREATE|os.O_TRUNC, info.Mode().Perm())
	if err != nil {
		return err
	}
	if _, err := io.Copy(out, in); err != nil {
		out.Close()
		return err
	}
	return out.Close()
}

func (v *Verifier) logf(msg string, kv ...any) {
	if v.logger != nil {
		v.logger.Info(msg, kv...)
	}
}
