package keepalive

import (
	"context"
	"sync"
)

// Host tracks handles that keep the process alive. A port created with the
// host references it while the port is referenced; Wait returns once nothing
// holds the host.
type Host struct {
	mu     sync.Mutex
	active int
	idle   chan struct{}
}

func NewHost() *Host {
	idle := make(chan struct{})
	close(idle)
	return &Host{idle: idle}
}

func (h *Host) Hold() {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.active == 0 {
		h.idle = make(chan struct{})
	}
	h.active++
}

func (h *Host) Release() {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.active == 0 {
		return
	}
	h.active--
	if h.active == 0 {
		close(h.idle)
	}
}

// Active returns the number of handles currently holding the host.
func (h *Host) Active() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.active
}

// Wait blocks until the host is idle or ctx is done.
func (h *Host) Wait(ctx context.Context) error {
	h.mu.Lock()
	idle := h.idle
	h.mu.Unlock()
	select {
	case <-idle:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
