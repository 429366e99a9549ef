package rpc

import (
	"context"
	"fmt"
	"sync"

	"loaderchain.dev/internal/module"
	"loaderchain.dev/internal/port"
	"loaderchain.dev/internal/wire"
)

// Handler observes requests as Serve handles them. Any field may be nil.
type Handler struct {
	Recv func(wire.ResolveRequest)
	Done func(wire.ResolveRequest, module.Descriptor, error)
}

// Serve answers requests arriving on p with resolve, each on its own
// goroutine. A failed or panicking resolve produces a failed reply carrying
// the request's id. Serve returns nil when p closes, ctx.Err() when ctx is
// done, or an error wrapping wire.ErrProtocol if p carries anything but
// requests. In-flight handlers are waited for before Serve returns, so
// resolve must honour its ctx.
func Serve(ctx context.Context, p port.Port, resolve module.ResolveFunc, h Handler) error {
	var wg sync.WaitGroup
	defer wg.Wait()

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	for {
		select {
		case frame := <-p.Recv():
			msg, err := wire.Decode(frame)
			if err != nil {
				return err
			}
			req, ok := msg.(wire.ResolveRequest)
			if !ok {
				return fmt.Errorf("%w: %s %d received by responder", wire.ErrProtocol, msg.MessageType(), msg.RequestID())
			}
			if h.Recv != nil {
				h.Recv(req)
			}
			wg.Go(func() {
				value, err := call(ctx, resolve, req)
				if h.Done != nil {
					h.Done(req, value, err)
				}
				reply(p, req.ID, value, err)
			})
		case <-p.Done():
			return nil
		case <-ctx.Done():
			return ctx.Err()
		}
	}
}

func call(ctx context.Context, resolve module.ResolveFunc, req wire.ResolveRequest) (d module.Descriptor, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = module.Errorf(module.ErrLoaderFailed, "resolve %q panicked: %v", req.Specifier, r)
		}
	}()
	return resolve(ctx, req.Specifier, req.Callsite)
}

func reply(p port.Port, id wire.RequestID, value module.Descriptor, err error) {
	var res wire.ResolveResponse
	if err != nil {
		res = wire.Failure(id, err)
	} else {
		res = wire.Success(id, value)
	}
	frame, encErr := wire.Encode(res)
	if encErr != nil {
		frame, encErr = wire.Encode(wire.Failure(id, encErr))
		if encErr != nil {
			return
		}
	}
	// A closed port means the requester is gone and has already failed
	// this request.
	_ = p.Send(frame)
}
