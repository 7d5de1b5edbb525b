package backend

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"runtime"
	"strconv"
)

// ErrInhibitUnsupported is returned when no sleep inhibitor exists for the platform.
var ErrInhibitUnsupported = errors.New("sleep inhibition not supported on this platform")

// Inhibitor holds a helper process that keeps the machine awake.
type Inhibitor struct {
	h Handle
}

// PreventSleep starts systemd-inhibit (Linux) or caffeinate (macOS) for the
// lifetime of the run. The helper is tracked by pm so a shutdown kill reaches it.
func PreventSleep(pm *ProcessManager, reason string) (*Inhibitor, error) {
	inv, err := inhibitInvocation(runtime.GOOS, reason, os.Getpid())
	if err != nil {
		return nil, err
	}
	if _, err := exec.LookPath(inv.name); err != nil {
		return nil, fmt.Errorf("%s not available: %w", inv.name, err)
	}

	h, err := startProcess(context.Background(), pm, inv, Spec{})
	if err != nil {
		return nil, fmt.Errorf("starting sleep inhibitor: %w", err)
	}
	return &Inhibitor{h: h}, nil
}

func inhibitInvocation(goos, reason string, pid int) (invocation, error) {
	switch goos {
	case "linux":
		return invocation{
			name: "systemd-inhibit",
			args: []string{
				"--what=idle:sleep",
				"--who=overnight",
				"--why=" + reason,
				"--mode=block",
				"sleep", "infinity",
			},
		}, nil
	case "darwin":
		// -w exits on its own if the orchestrator dies without releasing
		return invocation{
			name: "caffeinate",
			args: []string{"-dims", "-w", strconv.Itoa(pid)},
		}, nil
	default:
		return invocation{}, ErrInhibitUnsupported
	}
}

// Release stops the helper. Safe to call on a nil Inhibitor.
func (i *Inhibitor) Release() {
	if i == nil || i.h == nil {
		return
	}
	i.h.Kill()
	<-i.h.Done()
}
