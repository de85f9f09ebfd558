// Package sandbox runs verification commands inside a locked-down Docker
// container. The container gets no network, capped memory/CPU/pids, no
// capabilities, and a non-root user; the project tree is bind-mounted at a
// fixed workdir. Docker is driven through the CLI with os/exec, the same way
// the rest of the pipeline drives git.
package sandbox

import (
	"bytes"
	"context"
	"crypto/rand"
	"encoding/hex"
	"fmt"
	"os/exec"
	"regexp"
	"sort"
	"time"

	"github.com/charmbracelet/log"

	"github.com/neverdownhq/neverdown/internal/config"
	"github.com/neverdownhq/neverdown/internal/fault"
)

// containerWorkdir is where the project tree is mounted inside the container.
const containerWorkdir = "/workspace"

// sandboxUser is the non-root uid:gid commands run as.
const sandboxUser = "1000:1000"

// secretEnvRe matches environment variable names that must never leak into
// the container.
var secretEnvRe = regexp.MustCompile(`(?i)(secret|key|password|token|credential)`)

// Result is the outcome of one containerised command.
type Result struct {
	ExitCode int
	Stdout   string
	Stderr   string
	Duration time.Duration
	TimedOut bool
}

// Runner executes commands in throwaway containers.
type Runner struct {
	image       string
	timeout     time.Duration
	memoryLimit string
	cpuLimit    float64
	pidsLimit   int

	// DockerBin is the docker binary. Defaults to "docker".
	DockerBin string

	logger *log.Logger
}

// Option configures a Runner.
type Option func(*Runner)

// WithLogger attaches a logger. A nil logger stays silent.
func WithLogger(l *log.Logger) Option {
	return func(r *Runner) { r.logger = l }
}

// NewRunner builds a Runner from the sandbox configuration.
func NewRunner(cfg config.SandboxConfig, opts ...Option) *Runner {
	r := &Runner{
		image:       cfg.Image,
		timeout:     time.Duration(cfg.Timeout) * time.Second,
		memoryLimit: cfg.MemoryLimit,
		cpuLimit:    cfg.CPULimit,
		pidsLimit:   cfg.PidsLimit,
		DockerBin:   "docker",
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Available reports whether the docker daemon answers.
func (r *Runner) Available(ctx context.Context) bool {
	cmd := exec.CommandContext(ctx, r.DockerBin, "info", "--format", "{{.ServerVersion}}")
	return cmd.Run() == nil
}

// Run executes command (via sh -c) with treePath mounted at the container
// workdir, extraEnv passed through the secret filter, and the configured
// wall-clock timeout. The container is force-removed afterwards regardless
// of outcome. A timed-out run comes back as a sandbox_timeout fault with the
// partial Result attached.
func (r *Runner) Run(ctx context.Context, treePath, command string, extraEnv map[string]string) (*Result, error) {
	name, err := containerName()
	if err != nil {
		return nil, fault.Wrap(fault.CodeDockerError, err, "container name generation failed")
	}

	args := []string{
		"run",
		"--name", name,
		"--rm=false",
		"--network", "none",
		"--memory", r.memoryLimit,
		"--cpus", fmt.Sprintf("%g", r.cpuLimit),
		"--pids-limit", fmt.Sprintf("%d", r.pidsLimit),
		"--cap-drop", "ALL",
		"--security-opt", "no-new-privileges",
		"--user", sandboxUser,
		"--workdir", containerWorkdir,
		"-v", fmt.Sprintf("%s:%s", treePath, containerWorkdir),
	}
	for _, kv := range filterEnv(extraEnv) {
		args = append(args, "-e", kv)
	}
	args = append(args, r.image, "sh", "-c", command)

	runCtx, cancel := context.WithTimeout(ctx, r.timeout)
	defer cancel()
	defer r.remove(name)

	cmd := exec.CommandContext(runCtx, r.DockerBin, args...)
	// Container children can hold the output pipes open after the docker CLI
	// is killed; WaitDelay bounds how long that can stall collection.
	cmd.WaitDelay = 5 * time.Second
	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	start := time.Now()
	runErr := cmd.Run()
	res := &Result{
		Stdout:   stdout.String(),
		Stderr:   stderr.String(),
		Duration: time.Since(start),
	}

	if runCtx.Err() == context.DeadlineExceeded {
		res.TimedOut = true
		res.ExitCode = -1
		r.logf("sandbox timed out", "container", name, "timeout", r.timeout)
		return res, fault.New(fault.CodeSandboxTimeout,
			"verification exceeded the %s limit", r.timeout).
			WithDetail("timeout_seconds", int(r.timeout.Seconds()))
	}

	if runErr != nil {
		if exitErr, ok := runErr.(*exec.ExitError); ok {
			// Non-zero exit is a normal outcome; the verifier decides what a
			// failing test run means.
			res.ExitCode = exitErr.ExitCode()
			return res, nil
		}
		return nil, fault.Wrap(fault.CodeDockerError, runErr, "docker could not be started")
	}

	return res, nil
}

// remove force-removes the container. Best effort; a failure is logged and
// otherwise ignored since --rm would have raced with log collection.
func (r *Runner) remove(name string) {
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	if err := exec.CommandContext(ctx, r.DockerBin, "rm", "-f", name).Run(); err != nil {
		r.logf("container cleanup failed", "container", name, "error", err)
	}
}

// containerName returns a unique name so concurrent verifications never
// collide and leaked containers are attributable.
func containerName() (string, error) {
	buf := make([]byte, 6)
	if _, err := rand.Read(buf); err != nil {
		return "", err
	}
	return "neverdown-sandbox-" + hex.EncodeToString(buf), nil
}

// filterEnv drops variables whose names look secret-bearing and returns the
// rest as KEY=VALUE pairs in stable order.
func filterEnv(env map[string]string) []string {
	if len(env) == 0 {
		return nil
	}
	keys := make([]string, 0, len(env))
	for k := range env {
		if secretEnvRe.MatchString(k) {
			continue
		}
		keys = append(keys, k)
	}
	sort.Strings(keys)
	out := make([]string, 0, len(keys))
	for _, k := range keys {
		out = append(out, k+"="+env[k])
	}
	return out
}

func (r *Runner) logf(msg string, kv ...any) {
	if r.logger != nil {
		r.logger.Warn(msg, kv...)
	}
}

