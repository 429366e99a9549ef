// Package rpc correlates requests and replies over a port. An Endpoint is the
// requesting half: it assigns ids, keeps a table of pending calls and matches
// each reply to its call regardless of arrival order. Serve is the
// responding half.
package rpc

import (
	"context"
	"fmt"
	"sync"

	"code.hybscloud.com/atomix"

	"loaderchain.dev/internal/module"
	"loaderchain.dev/internal/port"
	"loaderchain.dev/internal/wire"
)

type result struct {
	value module.Descriptor
	err   error
}

type Endpoint struct {
	port   port.Port
	nextID atomix.Uint64

	mu        sync.Mutex
	pending   map[wire.RequestID]chan result
	abandoned map[wire.RequestID]struct{}
	err       error

	done chan struct{}
	once sync.Once
}

// NewEndpoint starts demultiplexing replies arriving on p. The endpoint owns
// p from now on and closes it when the endpoint closes.
func NewEndpoint(p port.Port) *Endpoint {
	e := &Endpoint{
		port:      p,
		pending:   make(map[wire.RequestID]chan result),
		abandoned: make(map[wire.RequestID]struct{}),
		done:      make(chan struct{}),
	}
	go e.receive()
	return e
}

// Call sends a resolution request and waits for its reply. Any number of
// calls may be in flight at once. If ctx is done first, the call's slot is
// abandoned and its eventual reply discarded.
func (e *Endpoint) Call(ctx context.Context, specifier string, callsite module.Callsite) (module.Descriptor, error) {
	id := wire.RequestID(e.nextID.Add(1))
	frame, err := wire.Encode(wire.ResolveRequest{ID: id, Specifier: specifier, Callsite: callsite})
	if err != nil {
		return module.Descriptor{}, err
	}

	ch := make(chan result, 1)
	e.mu.Lock()
	if e.err != nil {
		err := e.err
		e.mu.Unlock()
		return module.Descriptor{}, err
	}
	_, dup := e.pending[id]
	if dup {
		e.mu.Unlock()
		panic(fmt.Sprintf("rpc: request id %d reused while in flight", id))
	}
	e.pending[id] = ch
	e.mu.Unlock()

	if e.port.Send(frame) != nil {
		e.fail(closedError())
	}

	select {
	case r := <-ch:
		return r.value, r.err
	case <-ctx.Done():
		e.mu.Lock()
		if _, ok := e.pending[id]; ok {
			delete(e.pending, id)
			e.abandoned[id] = struct{}{}
			e.mu.Unlock()
			return module.Descriptor{}, ctx.Err()
		}
		e.mu.Unlock()
		// The reply raced the cancellation and is already buffered.
		r := <-ch
		return r.value, r.err
	}
}

func (e *Endpoint) receive() {
	for {
		select {
		case frame := <-e.port.Recv():
			if err := e.dispatch(frame); err != nil {
				e.fail(err)
				return
			}
		case <-e.port.Done():
			e.fail(closedError())
			return
		}
	}
}

func (e *Endpoint) dispatch(frame []byte) error {
	msg, err := wire.Decode(frame)
	if err != nil {
		return err
	}
	res, ok := msg.(wire.ResolveResponse)
	if !ok {
		return fmt.Errorf("%w: %s %d received by requester", wire.ErrProtocol, msg.MessageType(), msg.RequestID())
	}

	e.mu.Lock()
	ch, ok := e.pending[res.ID]
	if ok {
		delete(e.pending, res.ID)
	} else if _, gone := e.abandoned[res.ID]; gone {
		delete(e.abandoned, res.ID)
		e.mu.Unlock()
		return nil
	}
	e.mu.Unlock()
	if !ok {
		return fmt.Errorf("%w: reply for unknown request %d", wire.ErrProtocol, res.ID)
	}

	value, err := res.Result()
	ch <- result{value: value, err: err}
	return nil
}

// fail rejects every pending call with err, refuses new calls and closes the
// port. Only the first failure is kept.
func (e *Endpoint) fail(err error) {
	e.mu.Lock()
	if e.err != nil {
		e.mu.Unlock()
		return
	}
	e.err = err
	pending := e.pending
	e.pending = make(map[wire.RequestID]chan result)
	e.abandoned = nil
	e.mu.Unlock()

	for _, ch := range pending {
		ch <- result{err: err}
	}
	e.port.Close()
	e.once.Do(func() { close(e.done) })
}

// Close rejects all pending calls with ERR_CHANNEL_CLOSED.
func (e *Endpoint) Close() error {
	e.fail(closedError())
	return nil
}

// Done is closed once the endpoint has stopped accepting calls.
func (e *Endpoint) Done() <-chan struct{} {
	return e.done
}

// Err reports why the endpoint stopped, or nil while it is open.
func (e *Endpoint) Err() error {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.err
}

// Pending returns the number of calls awaiting a reply.
func (e *Endpoint) Pending() int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return len(e.pending)
}

func closedError() error {
	return module.Errorf(module.ErrChannelClosed, "rpc: channel closed")
}
