// Package chain links loader workers into a pipeline. A request enters at
// the first worker; each worker answers it or forwards it to the next one,
// and the last worker falls back to the default resolver.
package chain

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"

	"github.com/thejerf/suture/v4"
	"golang.org/x/sync/errgroup"

	"loaderchain.dev/internal/common"
	"loaderchain.dev/internal/keepalive"
	"loaderchain.dev/internal/logging"
	"loaderchain.dev/internal/module"
	"loaderchain.dev/internal/port"
	"loaderchain.dev/internal/rpc"
	"loaderchain.dev/internal/worker"
)

type Options struct {
	// Base URL loader specifiers are resolved against
	Base    string
	Loaders []string
	// Resolver used after the last loader, or alone for an empty chain
	Default module.ResolveFunc
	Source  worker.Source
	// Called at most once when a worker dies after startup
	OnFatal   func(error)
	Transport port.Transport
	// Notified while the chain has requests in flight, may be nil
	Host   port.Holder
	Logger *slog.Logger
}

type Chain struct {
	id      string
	log     *slog.Logger
	entry   *rpc.Endpoint
	counter *keepalive.Counter
	workers []*worker.Worker
	onFatal func(error)

	cancel  context.CancelFunc
	stopped <-chan error
	done    chan struct{}

	mu      sync.Mutex
	closing bool
	fatal   sync.Once
	close   sync.Once
}

// Make builds and starts a chain for opts.Loaders and returns once every
// worker is ready. If any worker fails to start, everything is torn down and
// that worker's error is returned. With no loaders, Make returns
// opts.Default itself.
func Make(ctx context.Context, opts Options) (module.Resolver, error) {
	if opts.Default == nil {
		return nil, errors.New("chain: a default resolver is required")
	}
	if len(opts.Loaders) == 0 {
		return opts.Default, nil
	}
	if opts.Source == nil {
		return nil, errors.New("chain: a loader source is required")
	}
	c, err := start(ctx, opts)
	if err != nil {
		return nil, err
	}
	return c, nil
}

func start(ctx context.Context, opts Options) (*Chain, error) {
	id := common.ScopedID("chain")
	log := opts.Logger
	if log == nil {
		log = slog.Default()
	}
	log = log.With("chain", id)

	var pipeOpts []port.Option
	if opts.Host != nil {
		pipeOpts = append(pipeOpts, port.WithHost(opts.Host))
	}
	entryPort, before, err := port.New(opts.Transport, pipeOpts...)
	if err != nil {
		return nil, fmt.Errorf("chain: %w", err)
	}
	first := before

	trace := make(chan worker.TraceEvent, 100)
	sv := suture.New(id, suture.Spec{EventHook: logging.EventHook(log)})
	workers := make([]*worker.Worker, len(opts.Loaders))
	for i, loader := range opts.Loaders {
		cfg := worker.Config{
			Loader: loader,
			Base:   opts.Base,
			Before: before,
			Source: opts.Source,
			Trace:  trace,
			Logger: log,
		}
		if i == len(opts.Loaders)-1 {
			cfg.Default = opts.Default
		} else {
			after, next, err := port.New(opts.Transport, pipeOpts...)
			if err != nil {
				return nil, fmt.Errorf("chain: %w", err)
			}
			cfg.After, before = after, next
		}
		workers[i] = worker.New(cfg)
		sv.Add(workers[i])
	}

	svCtx, cancel := context.WithCancel(context.WithoutCancel(ctx))
	c := &Chain{
		id:      id,
		log:     log.With("component", "chain"),
		entry:   rpc.NewEndpoint(entryPort),
		counter: keepalive.NewCounter(entryPort, first),
		workers: workers,
		onFatal: opts.OnFatal,
		cancel:  cancel,
		stopped: sv.ServeBackground(svCtx),
		done:    make(chan struct{}),
	}

	if err := c.awaitReady(ctx); err != nil {
		c.shutdown()
		return nil, fmt.Errorf("chain: start: %w", err)
	}
	for _, w := range workers {
		go c.watch(w)
	}
	go c.drain(trace)
	c.log.Debug("started", "loaders", len(workers))
	return c, nil
}

// awaitReady waits for every worker to signal readiness.
func (c *Chain) awaitReady(ctx context.Context) error {
	g, ctx := errgroup.WithContext(ctx)
	for _, w := range c.workers {
		g.Go(func() error {
			select {
			case <-w.Ready():
				return nil
			case <-w.Exited():
				return exitError(w)
			case <-ctx.Done():
				return ctx.Err()
			}
		})
	}
	err := g.Wait()
	if err == nil {
		return nil
	}
	// A failed worker closes its ports, which stops its neighbours too.
	// Report the worker that failed on its own.
	for _, w := range c.workers {
		select {
		case <-w.Exited():
			if werr := w.Err(); werr != nil && !errors.Is(werr, module.ErrChannelClosed) {
				return werr
			}
		default:
		}
	}
	return err
}

func exitError(w *worker.Worker) error {
	if err := w.Err(); err != nil {
		return err
	}
	return module.Errorf(module.ErrChannelClosed, "chain: %s exited", w)
}

func (c *Chain) watch(w *worker.Worker) {
	select {
	case <-w.Exited():
		c.fail(exitError(w))
	case <-c.done:
	}
}

// fail makes the chain unusable and reports err once. Failures during Close
// are not reported.
func (c *Chain) fail(err error) {
	c.mu.Lock()
	closing := c.closing
	c.mu.Unlock()
	if closing {
		return
	}
	c.fatal.Do(func() {
		c.log.Error("loader worker failed", "err", err)
		c.entry.Close()
		if c.onFatal != nil {
			c.onFatal(err)
		}
	})
}

func (c *Chain) drain(trace <-chan worker.TraceEvent) {
	for {
		select {
		case ev := <-trace:
			c.log.Debug("trace", "event", fmt.Sprintf("%T", ev), "data", ev)
		case <-c.done:
			return
		}
	}
}

// Resolve sends a request through the chain. The entry port is referenced
// only while at least one Resolve is in flight.
func (c *Chain) Resolve(ctx context.Context, specifier string, callsite module.Callsite) (module.Descriptor, error) {
	g := c.counter.Acquire()
	defer g.Release()
	return c.entry.Call(ctx, specifier, callsite)
}

// Close stops every worker. Pending and later requests fail with
// ERR_CHANNEL_CLOSED.
func (c *Chain) Close() error {
	c.mu.Lock()
	c.closing = true
	c.mu.Unlock()
	c.shutdown()
	return nil
}

func (c *Chain) shutdown() {
	c.close.Do(func() {
		c.entry.Close()
		c.cancel()
		if err := <-c.stopped; err != nil && !errors.Is(err, context.Canceled) {
			c.log.Warn("supervisor stopped", "err", err)
		}
		close(c.done)
	})
}

// Workers returns the chain's workers in request order.
func (c *Chain) Workers() []*worker.Worker {
	return c.workers
}

func (c *Chain) ID() string { return c.id }
