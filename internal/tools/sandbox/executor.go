// Package sandbox runs shell commands for the shell tool loop inside a
// Docker container scoped to one workspace id. State
// (the container and its filesystem) persists across commands within a
// job's retries; Reset tears it down and starts clean for a fresh run.
//
// Commands run with the network disabled by default and cpu, memory,
// and pid limits applied. Exactly one long-lived container exists per
// workspace id, since the shell loop's multi-turn state (files written
// by an earlier command) must survive to the next iteration.
package sandbox

import (
	"bytes"
	"context"
	"fmt"
	"os"
	"os/exec"
	"sort"
	"strings"
	"sync"
	"time"
)

// Config holds executor configuration.
type Config struct {
	Image            string
	DefaultCPU       int // millicores
	DefaultMemoryMB  int
	NetworkEnabled   bool
	WorkspaceRoot    string
	OutputCapChars   int
	CommandTimeout   time.Duration
}

// Option configures an Executor at construction time.
type Option func(*Config)

// WithImage sets the Docker image used for sandbox sessions.
func WithImage(image string) Option {
	return func(c *Config) { c.Image = image }
}

// WithDefaultCPU sets the per-session CPU limit in millicores.
func WithDefaultCPU(millicores int) Option {
	return func(c *Config) { c.DefaultCPU = millicores }
}

// WithDefaultMemoryMB sets the per-session memory limit in megabytes.
func WithDefaultMemoryMB(mb int) Option {
	return func(c *Config) { c.DefaultMemoryMB = mb }
}

// WithNetworkEnabled allows sandbox sessions outbound network access.
// Required for the S3 upload convention to work; disabled by
// default since most steps need no network at all.
func WithNetworkEnabled(enabled bool) Option {
	return func(c *Config) { c.NetworkEnabled = enabled }
}

// WithWorkspaceRoot sets the host directory under which per-workspace
// scratch directories are created.
func WithWorkspaceRoot(root string) Option {
	return func(c *Config) { c.WorkspaceRoot = root }
}

// WithOutputCapChars sets the per-command output cap (default 4096).
func WithOutputCapChars(n int) Option {
	return func(c *Config) { c.OutputCapChars = n }
}

// WithCommandTimeout sets the default per-command time cap.
func WithCommandTimeout(d time.Duration) Option {
	return func(c *Config) { c.CommandTimeout = d }
}

// session is one workspace's live container.
type session struct {
	containerID string
	hostDir     string
}

// Executor runs shell commands in per-workspace Docker containers.
type Executor struct {
	cfg Config

	mu       sync.Mutex
	sessions map[string]*session
}

// NewExecutor creates a shell sandbox executor.
func NewExecutor(opts ...Option) *Executor {
	cfg := Config{
		Image:           "alpine:3.19",
		DefaultCPU:      1000,
		DefaultMemoryMB: 512,
		OutputCapChars:  4096,
		CommandTimeout:  60 * time.Second,
	}
	for _, opt := range opts {
		opt(&cfg)
	}
	return &Executor{cfg: cfg, sessions: make(map[string]*session)}
}

// CommandResult is the outcome of one shell command.
type CommandResult struct {
	Stdout      string
	Stderr      string
	ExitCode    int
	TimedOut    bool
	Truncated   bool
}

// Reset tears down any existing session for workspaceID and starts a
// fresh container. Called on the shell loop's first iteration; skipped
// on retries so state is preserved.
func (e *Executor) Reset(ctx context.Context, workspaceID string, env map[string]string) error {
	e.mu.Lock()
	existing, ok := e.sessions[workspaceID]
	delete(e.sessions, workspaceID)
	e.mu.Unlock()

	if ok {
		e.destroySession(existing)
	}

	sess, err := e.createSession(ctx, workspaceID, env)
	if err != nil {
		return err
	}

	e.mu.Lock()
	e.sessions[workspaceID] = sess
	e.mu.Unlock()
	return nil
}

// RunCommand executes a single shell command inside the workspace's
// session, creating the session on first use if Reset was not called
// explicitly. Output beyond OutputCapChars is truncated to its tail and
// Truncated is set.
func (e *Executor) RunCommand(ctx context.Context, workspaceID, command string, env map[string]string, timeout time.Duration) (*CommandResult, error) {
	sess, err := e.ensureSession(ctx, workspaceID, env)
	if err != nil {
		return nil, fmt.Errorf("ensure sandbox session: %w", err)
	}

	if timeout <= 0 {
		timeout = e.cfg.CommandTimeout
	}
	runCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	args := []string{"exec", "-w", "/workspace"}
	for k, v := range env {
		args = append(args, "-e", fmt.Sprintf("%s=%s", k, v))
	}
	args = append(args, sess.containerID, "bash", "-lc", command)

	cmd := exec.CommandContext(runCtx, "docker", args...)
	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	runErr := cmd.Run()

	result := &CommandResult{
		Stdout: capTail(stdout.String(), e.cfg.OutputCapChars),
		Stderr: capTail(stderr.String(), e.cfg.OutputCapChars),
	}
	result.Truncated = len(stdout.String()) > e.cfg.OutputCapChars || len(stderr.String()) > e.cfg.OutputCapChars

	if runErr != nil {
		if runCtx.Err() == context.DeadlineExceeded {
			result.TimedOut = true
			result.ExitCode = -1
			return result, nil
		}
		if exitErr, ok := runErr.(*exec.ExitError); ok {
			result.ExitCode = exitErr.ExitCode()
			return result, nil
		}
		return nil, fmt.Errorf("docker exec: %w", runErr)
	}

	return result, nil
}

// Close tears down the session for a single workspace id.
func (e *Executor) Close(workspaceID string) {
	e.mu.Lock()
	sess, ok := e.sessions[workspaceID]
	delete(e.sessions, workspaceID)
	e.mu.Unlock()
	if ok {
		e.destroySession(sess)
	}
}

// CloseAll tears down every live session. Call on process shutdown.
func (e *Executor) CloseAll() {
	e.mu.Lock()
	sessions := e.sessions
	e.sessions = make(map[string]*session)
	e.mu.Unlock()
	for _, sess := range sessions {
		e.destroySession(sess)
	}
}

func (e *Executor) ensureSession(ctx context.Context, workspaceID string, env map[string]string) (*session, error) {
	e.mu.Lock()
	sess, ok := e.sessions[workspaceID]
	e.mu.Unlock()
	if ok {
		return sess, nil
	}

	sess, err := e.createSession(ctx, workspaceID, env)
	if err != nil {
		return nil, err
	}

	e.mu.Lock()
	e.sessions[workspaceID] = sess
	e.mu.Unlock()
	return sess, nil
}

func (e *Executor) createSession(ctx context.Context, workspaceID string, env map[string]string) (*session, error) {
	hostDir := ""
	if e.cfg.WorkspaceRoot != "" {
		if err := os.MkdirAll(e.cfg.WorkspaceRoot, 0o755); err != nil {
			return nil, fmt.Errorf("create workspace root: %w", err)
		}
		hostDir = fmt.Sprintf("%s/%s", strings.TrimRight(e.cfg.WorkspaceRoot, "/"), workspaceID)
		if err := os.MkdirAll(hostDir, 0o755); err != nil {
			return nil, fmt.Errorf("create workspace dir: %w", err)
		}
	}

	args := []string{"run", "-d", "--rm"}
	if !e.cfg.NetworkEnabled {
		args = append(args, "--network", "none")
	}
	args = append(args,
		"--cpus", fmt.Sprintf("%.2f", float64(e.cfg.DefaultCPU)/1000.0),
		"--memory", fmt.Sprintf("%dm", e.cfg.DefaultMemoryMB),
		"--pids-limit", "256",
	)
	if hostDir != "" {
		args = append(args, "-v", fmt.Sprintf("%s:/workspace:rw", hostDir))
	}

	keys := make([]string, 0, len(env))
	for k := range env {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		args = append(args, "-e", fmt.Sprintf("%s=%s", k, env[k]))
	}

	args = append(args, "-w", "/workspace", e.cfg.Image, "sleep", "infinity")

	var stdout, stderr bytes.Buffer
	cmd := exec.CommandContext(ctx, "docker", args...)
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr
	if err := cmd.Run(); err != nil {
		return nil, fmt.Errorf("docker run: %w: %s", err, strings.TrimSpace(stderr.String()))
	}

	containerID := strings.TrimSpace(stdout.String())
	if containerID == "" {
		return nil, fmt.Errorf("docker run returned empty container id")
	}

	return &session{containerID: containerID, hostDir: hostDir}, nil
}

func (e *Executor) destroySession(sess *session) {
	_ = exec.Command("docker", "rm", "-f", sess.containerID).Run()
	if sess.hostDir != "" {
		_ = os.RemoveAll(sess.hostDir)
	}
}

func capTail(s string, max int) string {
	if max <= 0 || len(s) <= max {
		return s
	}
	return s[len(s)-max:]
}
