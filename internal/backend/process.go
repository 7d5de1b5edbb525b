package backend

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/exec"
	"strings"
	"sync"
	"time"
)

// newCommand creates an exec.Cmd bound to ctx with process group isolation,
// allowing for clean termination of the entire subprocess tree.
func newCommand(ctx context.Context, name string, args ...string) *exec.Cmd {
	cmd := exec.CommandContext(ctx, name, args...)
	isolate(cmd)
	cmd.Cancel = func() error {
		return killProcessGroup(cmd)
	}
	cmd.WaitDelay = 5 * time.Second
	return cmd
}

// executeCommand executes a short-lived command and returns its stdout, stderr, and any error.
// Both pipes are drained concurrently before cmd.Wait() so output larger than the
// pipe buffer cannot deadlock the child.
func executeCommand(ctx context.Context, cmd *exec.Cmd, pm *ProcessManager) (stdout []byte, stderr []byte, err error) {
	stdoutPipe, err := cmd.StdoutPipe()
	if err != nil {
		return nil, nil, fmt.Errorf("failed to create stdout pipe: %w", err)
	}

	stderrPipe, err := cmd.StderrPipe()
	if err != nil {
		return nil, nil, fmt.Errorf("failed to create stderr pipe: %w", err)
	}

	if err := cmd.Start(); err != nil {
		return nil, nil, fmt.Errorf("failed to start command: %w", err)
	}

	if pm != nil {
		pm.Track(cmd)
		defer pm.Untrack(cmd)
	}

	var wg sync.WaitGroup
	var stdoutBuf, stderrBuf bytes.Buffer

	wg.Add(2)
	go func() {
		defer wg.Done()
		io.Copy(&stdoutBuf, stdoutPipe)
	}()
	go func() {
		defer wg.Done()
		io.Copy(&stderrBuf, stderrPipe)
	}()

	wg.Wait()

	waitErr := cmd.Wait()

	stdout = stdoutBuf.Bytes()
	stderr = stderrBuf.Bytes()

	if waitErr != nil {
		if ctx.Err() != nil {
			return stdout, stderr, fmt.Errorf("command failed: %w (%v)", waitErr, ctx.Err())
		}
		if len(stderr) > 0 {
			return stdout, stderr, fmt.Errorf("command failed: %w (stderr: %s)", waitErr, string(stderr))
		}
		return stdout, stderr, fmt.Errorf("command failed: %w", waitErr)
	}

	return stdout, stderr, nil
}

// Probe runs "<binary> --version" to confirm the agent CLI is installed and runnable.
// Returns the trimmed version output. Arbitrary commands have no version flag
// convention, so for them only the binary lookup is done and its path returned.
func Probe(ctx context.Context, cfg Config) (string, error) {
	bin := Binary(cfg)
	path, err := exec.LookPath(bin)
	if err != nil {
		return "", fmt.Errorf("agent CLI %q not found: %w", bin, err)
	}
	if cfg.Type == "command" {
		return path, nil
	}

	cmd := newCommand(ctx, bin, "--version")
	stdout, _, err := executeCommand(ctx, cmd, nil)
	if err != nil {
		return "", fmt.Errorf("running %s --version: %w", bin, err)
	}
	return strings.TrimSpace(string(stdout)), nil
}

// processHandle is the Handle for a worker started by startProcess.
type processHandle struct {
	cmd      *exec.Cmd
	done     chan struct{}
	exitCode int
	output   *os.File
	pm       *ProcessManager
}

// startProcess starts a detached worker. The process is not bound to ctx: it
// keeps running when the caller returns and is only stopped through Kill or
// ProcessManager.KillAll.
func startProcess(ctx context.Context, pm *ProcessManager, inv invocation, spec Spec) (*processHandle, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	cmd := exec.Command(inv.name, inv.args...)
	isolate(cmd)
	cmd.Dir = spec.WorkDir
	if len(inv.env) > 0 {
		cmd.Env = append(os.Environ(), inv.env...)
	}

	var output *os.File
	if spec.OutputPath != "" {
		f, err := os.OpenFile(spec.OutputPath, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0644)
		if err != nil {
			return nil, fmt.Errorf("opening worker output %s: %w", spec.OutputPath, err)
		}
		output = f
		cmd.Stdout = f
		cmd.Stderr = f
	}

	if inv.stdin != "" {
		in, err := os.Open(inv.stdin)
		if err != nil {
			closeFile(output)
			return nil, fmt.Errorf("opening worker instructions %s: %w", inv.stdin, err)
		}
		// The child holds its own descriptor once started.
		defer in.Close()
		cmd.Stdin = in
	}

	if err := cmd.Start(); err != nil {
		closeFile(output)
		return nil, fmt.Errorf("failed to start %s: %w", inv.name, err)
	}

	h := &processHandle{
		cmd:    cmd,
		done:   make(chan struct{}),
		output: output,
		pm:     pm,
	}
	if pm != nil {
		pm.Track(cmd)
	}

	go h.wait()
	return h, nil
}

func (h *processHandle) wait() {
	err := h.cmd.Wait()

	code := 0
	if err != nil {
		var exitErr *exec.ExitError
		if errors.As(err, &exitErr) {
			code = exitErr.ExitCode()
		} else {
			code = -1
		}
	}
	h.exitCode = code

	closeFile(h.output)
	if h.pm != nil {
		h.pm.Untrack(h.cmd)
	}
	close(h.done)
}

func (h *processHandle) PID() int {
	return h.cmd.Process.Pid
}

func (h *processHandle) Done() <-chan struct{} {
	return h.done
}

func (h *processHandle) ExitCode() int {
	select {
	case <-h.done:
		return h.exitCode
	default:
		return -1
	}
}

// Kill is best-effort: a process that already exited is not an error.
func (h *processHandle) Kill() error {
	select {
	case <-h.done:
		return nil
	default:
	}

	if err := killProcessGroup(h.cmd); err != nil {
		select {
		case <-h.done:
			return nil
		default:
			return err
		}
	}
	return nil
}

func closeFile(f *os.File) {
	if f != nil {
		f.Close()
	}
}

// ProcessManager tracks all running subprocesses and can terminate them all on shutdown.
// This prevents orphaned workers when the orchestrator is interrupted.
type ProcessManager struct {
	mu    sync.Mutex
	procs map[int]*exec.Cmd
}

// NewProcessManager creates a new ProcessManager.
func NewProcessManager() *ProcessManager {
	return &ProcessManager{
		procs: make(map[int]*exec.Cmd),
	}
}

// Track registers a subprocess for tracking.
// Should be called after cmd.Start() when cmd.Process is available.
func (pm *ProcessManager) Track(cmd *exec.Cmd) {
	if cmd.Process == nil {
		return
	}

	pm.mu.Lock()
	defer pm.mu.Unlock()
	pm.procs[cmd.Process.Pid] = cmd
}

// Untrack removes a subprocess from tracking.
// Should be called after cmd.Wait() completes.
func (pm *ProcessManager) Untrack(cmd *exec.Cmd) {
	if cmd.Process == nil {
		return
	}

	pm.mu.Lock()
	defer pm.mu.Unlock()
	delete(pm.procs, cmd.Process.Pid)
}

// KillAll terminates all tracked subprocesses.
// Called during shutdown to ensure clean termination.
func (pm *ProcessManager) KillAll() error {
	pm.mu.Lock()
	defer pm.mu.Unlock()

	var errs []error
	for pid, cmd := range pm.procs {
		if err := killProcessGroup(cmd); err != nil {
			errs = append(errs, fmt.Errorf("failed to kill process %d: %w", pid, err))
		}
	}

	if len(errs) > 0 {
		return fmt.Errorf("errors killing processes: %w", errors.Join(errs...))
	}

	return nil
}

// Count returns the number of currently tracked processes.
func (pm *ProcessManager) Count() int {
	pm.mu.Lock()
	defer pm.mu.Unlock()
	return len(pm.procs)
}
