// Package keepalive accounts for outstanding requests on a channel so that
// the channel keeps the host alive only while requests are in flight.
package keepalive

import "sync"

// Referencer is a handle that can hold the host alive, such as a port.
type Referencer interface {
	Ref()
	Unref()
}

// Counter references its targets while at least one Guard is outstanding.
// Targets are referenced on the 0→1 transition and dereferenced on 1→0.
type Counter struct {
	mu      sync.Mutex
	pending int
	targets []Referencer
}

// NewCounter creates a counter for targets and leaves them dormant.
func NewCounter(targets ...Referencer) *Counter {
	for _, t := range targets {
		t.Unref()
	}
	return &Counter{targets: targets}
}

// Acquire marks one request as outstanding. The returned guard must be
// released exactly once; extra releases are ignored.
func (c *Counter) Acquire() *Guard {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.pending == 0 {
		for _, t := range c.targets {
			t.Ref()
		}
	}
	c.pending++
	return &Guard{c: c}
}

func (c *Counter) release() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.pending == 1 {
		for _, t := range c.targets {
			t.Unref()
		}
	}
	c.pending--
}

// Pending returns the number of outstanding guards.
func (c *Counter) Pending() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.pending
}

type Guard struct {
	c    *Counter
	once sync.Once
}

func (g *Guard) Release() {
	g.once.Do(g.c.release)
}
