// Package port provides duplex message ports connected in pairs. A frame
// sent on one end of a pipe arrives on the other. Closing either end closes
// the pipe. Ports can be referenced, which holds the host process alive
// while the reference is kept.
package port

import (
	"errors"
	"slices"
	"sync"
)

var ErrClosed = errors.New("port: closed")

type Port interface {
	// Send delivers a copy of frame to the peer. It fails with ErrClosed once
	// the pipe is closed.
	Send(frame []byte) error
	// Recv delivers frames sent by the peer.
	Recv() <-chan []byte
	// Done is closed when the pipe is closed from either end.
	Done() <-chan struct{}
	Close() error

	Ref()
	Unref()
	Referenced() bool
}

// Holder is notified when a port starts or stops keeping the host alive.
type Holder interface {
	Hold()
	Release()
}

// Transport names a pipe implementation.
type Transport string

const (
	TransportChan Transport = "chan"
	TransportRing Transport = "ring"
)

// New creates a pipe using the named transport.
func New(t Transport, opts ...Option) (Port, Port, error) {
	switch t {
	case "", TransportChan:
		a, b := NewPipe(opts...)
		return a, b, nil
	case TransportRing:
		a, b := NewRingPipe(opts...)
		return a, b, nil
	}
	return nil, nil, errors.New("port: unknown transport " + string(t))
}

type options struct {
	host   Holder
	buffer int
}

type Option func(*options)

// WithHost reports reference changes of both ends to h.
func WithHost(h Holder) Option {
	return func(o *options) {
		o.host = h
	}
}

// WithBuffer sets the number of frames each direction can hold before Send blocks.
func WithBuffer(n int) Option {
	return func(o *options) {
		if n > 0 {
			o.buffer = n
		}
	}
}

func buildOptions(opts []Option) options {
	o := options{buffer: 100}
	for _, opt := range opts {
		opt(&o)
	}
	return o
}

// refs tracks whether one end holds the host alive. Ports start
// unreferenced, and a closed port can no longer be referenced.
type refs struct {
	mu     sync.Mutex
	on     bool
	closed bool
	host   Holder
}

func (r *refs) Ref() {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.on || r.closed {
		return
	}
	r.on = true
	if r.host != nil {
		r.host.Hold()
	}
}

func (r *refs) Unref() {
	r.mu.Lock()
	defer r.mu.Unlock()
	if !r.on {
		return
	}
	r.on = false
	if r.host != nil {
		r.host.Release()
	}
}

// shutdown drops any reference and refuses future ones.
func (r *refs) shutdown() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.closed = true
	if r.on {
		r.on = false
		if r.host != nil {
			r.host.Release()
		}
	}
}

func (r *refs) Referenced() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.on
}

func copyFrame(frame []byte) []byte {
	return slices.Clone(frame)
}
