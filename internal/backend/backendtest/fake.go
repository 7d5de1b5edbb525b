// Package backendtest provides in-memory backend doubles for tests.
package backendtest

import (
	"context"
	"sync"

	"github.com/aristath/overnight/internal/backend"
)

// Handle is a controllable backend.Handle.
type Handle struct {
	mu     sync.Mutex
	pid    int
	done   chan struct{}
	code   int
	exited bool
	kills  int
}

// NewHandle returns a running fake process.
func NewHandle(pid int) *Handle {
	return &Handle{pid: pid, done: make(chan struct{}), code: -1}
}

func (h *Handle) PID() int { return h.pid }

func (h *Handle) Done() <-chan struct{} { return h.done }

func (h *Handle) ExitCode() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.code
}

// Exit marks the process finished with code. Repeated calls are ignored.
func (h *Handle) Exit(code int) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.exited {
		return
	}
	h.exited = true
	h.code = code
	close(h.done)
}

// Kill records the call and exits the process as if signalled.
func (h *Handle) Kill() error {
	h.mu.Lock()
	h.kills++
	h.mu.Unlock()
	h.Exit(-1)
	return nil
}

// Kills returns how many times Kill was called.
func (h *Handle) Kills() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.kills
}

// Launcher records every Start and hands out fake handles.
type Launcher struct {
	mu      sync.Mutex
	Specs   []backend.Spec
	Handles []*Handle
	// OnStart, if set, runs after the spec is recorded; returning an error fails the start.
	OnStart func(spec backend.Spec, h *Handle) error
}

func (l *Launcher) Start(ctx context.Context, spec backend.Spec) (backend.Handle, error) {
	l.mu.Lock()
	h := NewHandle(1000 + len(l.Handles))
	l.Specs = append(l.Specs, spec)
	l.Handles = append(l.Handles, h)
	onStart := l.OnStart
	l.mu.Unlock()

	if onStart != nil {
		if err := onStart(spec, h); err != nil {
			return nil, err
		}
	}
	return h, nil
}

func (l *Launcher) Name() string { return "fake" }
