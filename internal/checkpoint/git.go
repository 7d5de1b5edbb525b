package checkpoint

import (
	"context"
	"errors"
	"fmt"
	"os/exec"
	"strings"
	"time"
)

const (
	gitTimeout  = 30 * time.Second
	pushTimeout = 5 * time.Minute
)

// git runs a git subcommand in the project directory and returns its combined output.
func (s *Service) git(ctx context.Context, timeout time.Duration, args ...string) (string, error) {
	execCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	cmd := exec.CommandContext(execCtx, "git", args...)
	cmd.Dir = s.cfg.ProjectDir
	// Never prompt for credentials in an unattended run.
	cmd.Env = append(cmd.Environ(), "GIT_TERMINAL_PROMPT=0")

	output, err := cmd.CombinedOutput()
	if err != nil {
		return string(output), fmt.Errorf("git %s failed: %w (output: %s)", args[0], err, strings.TrimSpace(string(output)))
	}
	return string(output), nil
}

// exitCode extracts the process exit code from a git error, or -1.
func exitCode(err error) int {
	var exitErr *exec.ExitError
	if errors.As(err, &exitErr) {
		return exitErr.ExitCode()
	}
	return -1
}
