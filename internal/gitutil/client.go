// Package gitutil wraps the git CLI for the pipeline: cloning incident
// repositories, reading recent history for the detective, and applying
// patches for the publisher. All methods use os/exec to call the git binary,
// following the same pattern as gh, lazygit, and k9s.
package gitutil

import (
	"bytes"
	"context"
	"fmt"
	"os/exec"
	"strconv"
	"strings"
	"time"
)

// Client runs git commands in one working directory.
type Client struct {
	// WorkDir is the working directory for git commands.
	// If empty, commands run in the current directory.
	WorkDir string

	// GitBin is the path to the git binary. Defaults to "git".
	GitBin string
}

// New creates a Client for the given working directory. The directory does
// not have to be a repository yet; Clone and Init create one.
func New(workDir string) *Client {
	return &Client{WorkDir: workDir, GitBin: "git"}
}

// Clone clones url into dest with a hard timeout. A partial clone left by a
// timed-out run is the caller's to clean up along with the rest of the tree.
func Clone(ctx context.Context, url, dest string, timeout time.Duration) error {
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	g := New("")
	if _, err := g.run(ctx, "clone", "--depth", "50", url, dest); err != nil {
		if ctx.Err() == context.DeadlineExceeded {
			return fmt.Errorf("git: clone %s: timed out after %s", url, timeout)
		}
		return fmt.Errorf("git: clone %s: %w", url, err)
	}
	return nil
}

// IsRepo reports whether the working directory is inside a git repository.
func (g *Client) IsRepo(ctx context.Context) bool {
	exitCode, _, _, err := g.runSilent(ctx, "rev-parse", "--git-dir")
	return err == nil && exitCode == 0
}

// Init initialises a repository and commits the current tree so that a
// subsequent apply has a baseline.
func (g *Client) Init(ctx context.Context) error {
	if _, err := g.run(ctx, "init"); err != nil {
		return fmt.Errorf("git: init: %w", err)
	}
	if err := g.EnsureIdentity(ctx); err != nil {
		return err
	}
	if _, err := g.run(ctx, "add", "-A"); err != nil {
		return fmt.Errorf("git: init add: %w", err)
	}
	if _, err := g.run(ctx, "commit", "-m", "Initial state"); err != nil {
		return fmt.Errorf("git: init commit: %w", err)
	}
	return nil
}

// EnsureIdentity sets a local committer identity when none is configured.
// Apply and commit fail without one on bare CI hosts.
func (g *Client) EnsureIdentity(ctx context.Context) error {
	if _, err := g.run(ctx, "config", "user.email"); err == nil {
		return nil
	}
	if _, err := g.run(ctx, "config", "user.email", "bot@neverdown.dev"); err != nil {
		return fmt.Errorf("git: config user.email: %w", err)
	}
	if _, err := g.run(ctx, "config", "user.name", "neverdown"); err != nil {
		return fmt.Errorf("git: config user.name: %w", err)
	}
	return nil
}

// --- Branch operations ---

// CurrentBranch returns the name of the current branch.
// Returns an error if the repo is in a detached HEAD state.
func (g *Client) CurrentBranch(ctx context.Context) (string, error) {
	out, err := g.run(ctx, "rev-parse", "--abbrev-ref", "HEAD")
	if err != nil {
		return "", fmt.Errorf("git: current branch: %w", err)
	}
	branch := strings.TrimSpace(out)
	if branch == "HEAD" {
		return "", fmt.Errorf("git: current branch: detached HEAD state")
	}
	return branch, nil
}

// CreateBranch creates and checks out a new branch, optionally from base.
func (g *Client) CreateBranch(ctx context.Context, name, base string) error {
	args := []string{"checkout", "-b", name}
	if base != "" {
		args = append(args, base)
	}
	if _, err := g.run(ctx, args...); err != nil {
		return fmt.Errorf("git: create branch %q: %w", name, err)
	}
	return nil
}

// Checkout switches to the given branch.
func (g *Client) Checkout(ctx context.Context, branch string) error {
	if _, err := g.run(ctx, "checkout", branch); err != nil {
		return fmt.Errorf("git: checkout %q: %w", branch, err)
	}
	return nil
}

// BranchExists reports whether the named local branch exists.
func (g *Client) BranchExists(ctx context.Context, branch string) (bool, error) {
	exitCode, stdout, _, err := g.runSilent(ctx, "rev-parse", "--verify", "refs/heads/"+branch)
	if err != nil && exitCode == -1 {
		// exec itself failed (e.g., git binary not found).
		return false, fmt.Errorf("git: branch exists %q: %w", branch, err)
	}
	return exitCode == 0 && strings.TrimSpace(stdout) != "", nil
}

// HeadCommit returns the full SHA of the current HEAD commit.
func (g *Client) HeadCommit(ctx context.Context) (string, error) {
	out, err := g.run(ctx, "rev-parse", "HEAD")
	if err != nil {
		return "", fmt.Errorf("git: head commit: %w", err)
	}
	return strings.TrimSpace(out), nil
}

// --- History operations ---

// Commit is one entry of the recent history, including the files it touched.
type Commit struct {
	SHA       string
	Author    string
	Email     string
	Timestamp time.Time
	Message   string
	Files     []string
}

// RecentCommits returns the n most recent commits with their changed files.
// A repository with no commits yields an empty slice, not an error.
func (g *Client) RecentCommits(ctx context.Context, n int) ([]Commit, error) {
	exitCode, out, _, err := g.runSilent(ctx, "log", fmt.Sprintf("-%d", n), "--pretty=format:%H|%an|%ae|%at|%s")
	if err != nil {
		if exitCode == -1 {
			return nil, fmt.Errorf("git: log: %w", err)
		}
		// Empty repository: log exits non-zero.
		return nil, nil
	}

	var commits []Commit
	for _, line := range strings.Split(out, "\n") {
		line = strings.TrimSpace(line)
		if line == "" {
			continue
		}
		c, ok := parseCommitLine(line)
		if !ok {
			continue
		}
		files, err := g.commitFiles(ctx, c.SHA)
		if err == nil {
			c.Files = files
		}
		commits = append(commits, c)
	}
	return commits, nil
}

// parseCommitLine parses one "%H|%an|%ae|%at|%s" record.
func parseCommitLine(line string) (Commit, bool) {
	parts := strings.SplitN(line, "|", 5)
	if len(parts) < 5 {
		return Commit{}, false
	}
	epoch, err := strconv.ParseInt(parts[3], 10, 64)
	if err != nil {
		return Commit{}, false
	}
	return Commit{
		SHA:       parts[0],
		Author:    parts[1],
		Email:     parts[2],
		Timestamp: time.Unix(epoch, 0).UTC(),
		Message:   parts[4],
	}, true
}

// commitFiles lists the files changed by one commit.
func (g *Client) commitFiles(ctx context.Context, sha string) ([]string, error) {
	// --root makes diff-tree list files for parentless commits too.
	out, err := g.run(ctx, "diff-tree", "--root", "--no-commit-id", "--name-only", "-r", sha)
	if err != nil {
		return nil, fmt.Errorf("git: diff-tree %s: %w", sha, err)
	}
	var files []string
	for _, line := range strings.Split(out, "\n") {
		if trimmed := strings.TrimSpace(line); trimmed != "" {
			files = append(files, trimmed)
		}
	}
	return files, nil
}

// --- Patch operations ---

// ApplyCheck runs the strict dry-run check for a patch file.
func (g *Client) ApplyCheck(ctx context.Context, patchFile string) error {
	if _, err := g.run(ctx, "apply", "--check", patchFile); err != nil {
		return fmt.Errorf("git: apply check: %w", err)
	}
	return nil
}

// ApplyCheck3Way runs the permissive three-way dry-run check.
func (g *Client) ApplyCheck3Way(ctx context.Context, patchFile string) error {
	if _, err := g.run(ctx, "apply", "--3way", "--check", patchFile); err != nil {
		return fmt.Errorf("git: apply 3way check: %w", err)
	}
	return nil
}

// Apply applies a patch file to the working tree.
func (g *Client) Apply(ctx context.Context, patchFile string) error {
	if _, err := g.run(ctx, "apply", patchFile); err != nil {
		return fmt.Errorf("git: apply: %w", err)
	}
	return nil
}

// Apply3Way applies a patch file with three-way merge fallback.
func (g *Client) Apply3Way(ctx context.Context, patchFile string) error {
	if _, err := g.run(ctx, "apply", "--3way", patchFile); err != nil {
		return fmt.Errorf("git: apply 3way: %w", err)
	}
	return nil
}

// CommitAll stages everything and commits with the given message.
func (g *Client) CommitAll(ctx context.Context, message string) error {
	if _, err := g.run(ctx, "add", "-A"); err != nil {
		return fmt.Errorf("git: add: %w", err)
	}
	if _, err := g.run(ctx, "commit", "-m", message); err != nil {
		return fmt.Errorf("git: commit: %w", err)
	}
	return nil
}

// --- Internal helpers ---

// run executes a git command and returns stdout.
// stderr is included in the error message when the command fails.
func (g *Client) run(ctx context.Context, args ...string) (string, error) {
	_, stdout, stderr, err := g.runSilent(ctx, args...)
	if err != nil {
		return "", err
	}
	if stdout == "" && stderr != "" {
		// Some git commands (e.g., checkout) write to stderr on success.
		return stderr, nil
	}
	return stdout, nil
}

// runSilent executes a git command and returns the exit code, stdout, stderr,
// and an error. The error is non-nil for both exec failures (exitCode=-1, e.g.
// git binary not found) and non-zero git exits (exitCode>0). Callers that need
// to distinguish the two cases check whether exitCode == -1.
func (g *Client) runSilent(ctx context.Context, args ...string) (int, string, string, error) {
	bin := g.GitBin
	if bin == "" {
		bin = "git"
	}
	cmd := exec.CommandContext(ctx, bin, args...)
	cmd.Dir = g.WorkDir

	var stdoutBuf, stderrBuf bytes.Buffer
	cmd.Stdout = &stdoutBuf
	cmd.Stderr = &stderrBuf

	runErr := cmd.Run()

	exitCode := 0
	if runErr != nil {
		if exitErr, ok := runErr.(*exec.ExitError); ok {
			exitCode = exitErr.ExitCode()
			// Non-zero exit is not an exec error — return it as a wrapped error
			// so callers that need it can detect the exit code.
			stderr := strings.TrimSpace(stderrBuf.String())
			stdout := strings.TrimSpace(stdoutBuf.String())
			return exitCode, stdout, stderr, fmt.Errorf("exit status %d: %s", exitCode, stderr)
		}
		// The process could not be started at all.
		return -1, "", "", runErr
	}

	return exitCode, stdoutBuf.String(), stderrBuf.String(), nil
}
