// Package worker runs one loader in isolation. A worker talks to the rest of
// the chain only through its ports: requests arrive on the before-port, and
// delegation goes out through the after-port, or to the default resolver when
// the worker is last in the chain.
package worker

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/thejerf/suture/v4"

	"loaderchain.dev/internal/common"
	"loaderchain.dev/internal/module"
	"loaderchain.dev/internal/port"
	"loaderchain.dev/internal/rpc"
)

// Source loads a loader module and returns its resolve function. parent is
// the upstream capability the loader delegates to; it stays fixed for the
// worker's lifetime.
//
// The returned resolve function must return once its ctx is done. A killed
// worker fails its pending requests at once, but Serve does not return, and
// the exit is not reported, until every in-flight resolve has returned.
type Source interface {
	Load(ctx context.Context, specifier, base string, parent module.ResolveFunc) (module.ResolveFunc, error)
}

type Config struct {
	// Worker ID; generated when empty
	ID string
	// Loader specifier handed to the Source
	Loader string
	// Base URL loader specifiers are resolved against
	Base string

	Before port.Port
	// nil at the terminal position, where Default is used instead
	After   port.Port
	Default module.ResolveFunc

	Source Source
	// Channel on which the worker sends TraceEvents, may be nil.
	Trace  chan TraceEvent
	Logger *slog.Logger
}

type Worker struct {
	id  string
	cfg Config
	log *slog.Logger

	ready  chan struct{}
	exited chan struct{}
	kill   chan error

	mu  sync.Mutex
	err error
}

var errBeforeClosed = module.Errorf(module.ErrChannelClosed, "worker: before-port closed")

func New(cfg Config) *Worker {
	common.Assert(cfg.Before != nil, "worker: before-port is required")
	common.Assert(cfg.Source != nil, "worker: source is required")
	common.Assert(cfg.After != nil || cfg.Default != nil, "worker: terminal worker needs a default resolver")
	id := cfg.ID
	if id == "" {
		id = common.ScopedID("worker")
	}
	log := cfg.Logger
	if log == nil {
		log = slog.Default()
	}
	return &Worker{
		id:     id,
		cfg:    cfg,
		log:    log.With("component", "worker", "worker", id, "loader", cfg.Loader),
		ready:  make(chan struct{}),
		exited: make(chan struct{}),
		kill:   make(chan error, 1),
	}
}

func (w *Worker) ID() string     { return w.id }
func (w *Worker) String() string { return "worker " + w.id }

// Ready is closed once the loader module is loaded. It is never closed if
// startup fails.
func (w *Worker) Ready() <-chan struct{} { return w.ready }

// Exited is closed once the worker has stopped and closed its ports.
func (w *Worker) Exited() <-chan struct{} { return w.exited }

// Err reports why the worker exited. It is nil while the worker runs and
// after a clean shutdown.
func (w *Worker) Err() error {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.err
}

// Kill terminates the worker with err as its exit error.
func (w *Worker) Kill(err error) {
	if err == nil {
		err = errors.New("worker: killed")
	}
	select {
	case w.kill <- err:
	default:
	}
}

// Serve runs the startup protocol and then answers requests until the
// worker is killed, its before-port closes, or ctx is done. A worker runs
// once; it is never restarted.
func (w *Worker) Serve(ctx context.Context) (err error) {
	select {
	case <-w.exited:
		return suture.ErrDoNotRestart
	default:
	}

	ctx, cancel := context.WithCancelCause(ctx)
	defer cancel(nil)
	go func() {
		select {
		case kerr := <-w.kill:
			cancel(kerr)
			// Fail requests pending downstream without waiting for
			// in-flight resolves to notice.
			w.cfg.Before.Close()
		case <-ctx.Done():
		}
	}()

	var upstream *rpc.Endpoint
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("worker %s: panic: %v", w.id, r)
		}
		w.cfg.Before.Close()
		if upstream != nil {
			upstream.Close()
		}
		w.exit(err)
		err = errors.Join(suture.ErrDoNotRestart, err)
	}()

	parent := w.cfg.Default
	if w.cfg.After != nil {
		upstream = rpc.NewEndpoint(w.cfg.After)
		parent = upstream.Call
	}

	resolve, err := w.cfg.Source.Load(ctx, w.cfg.Loader, w.cfg.Base, parent)
	if err != nil {
		return fmt.Errorf("worker %s: load %q: %w", w.id, w.cfg.Loader, err)
	}
	if resolve == nil {
		return fmt.Errorf("worker %s: load %q: no resolve function", w.id, w.cfg.Loader)
	}
	close(w.ready)
	w.trace(TraceReady{time.Now(), w.id, w.cfg.Loader})
	w.log.Debug("ready")

	err = rpc.Serve(ctx, w.cfg.Before, validated(resolve), rpc.Handler{
		Recv: w.traceRecv,
		Done: w.traceDone,
	})
	if cause := context.Cause(ctx); cause != nil {
		if errors.Is(cause, context.Canceled) {
			return nil
		}
		return fmt.Errorf("worker %s: %w", w.id, cause)
	}
	if err == nil {
		// The downstream end went away without a shutdown.
		return fmt.Errorf("worker %s: %w", w.id, errBeforeClosed)
	}
	return fmt.Errorf("worker %s: %w", w.id, err)
}

func (w *Worker) exit(err error) {
	w.mu.Lock()
	w.err = err
	w.mu.Unlock()
	close(w.exited)
	w.trace(TraceExit{time.Now(), w.id, err})
	if err != nil {
		w.log.Warn("exited", "err", err)
	} else {
		w.log.Debug("exited")
	}
}

// validated rejects descriptors that cannot be posted back, turning them
// into a failure of the one request.
func validated(resolve module.ResolveFunc) module.ResolveFunc {
	return func(ctx context.Context, specifier string, callsite module.Callsite) (module.Descriptor, error) {
		d, err := resolve(ctx, specifier, callsite)
		if err != nil {
			return module.Descriptor{}, err
		}
		if err := d.Validate(); err != nil {
			return module.Descriptor{}, err
		}
		return d, nil
	}
}
