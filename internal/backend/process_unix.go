//go:build !windows

package backend

import (
	"errors"
	"fmt"
	"os/exec"
	"syscall"
)

// isolate puts the subprocess in its own process group so a worker and every
// tool it spawns can be signalled together.
func isolate(cmd *exec.Cmd) {
	cmd.SysProcAttr = &syscall.SysProcAttr{
		Setpgid: true,
	}
}

// killProcessGroup sends SIGKILL to the entire process group (negative PID).
// A group that no longer exists is not an error.
func killProcessGroup(cmd *exec.Cmd) error {
	if cmd.Process == nil {
		return fmt.Errorf("process not started")
	}

	err := syscall.Kill(-cmd.Process.Pid, syscall.SIGKILL)
	if errors.Is(err, syscall.ESRCH) {
		// Group already gone.
		return nil
	}
	if err != nil {
		return fmt.Errorf("failed to kill process group: %w", err)
	}

	return nil
}
