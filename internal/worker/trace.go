package worker

import (
	"time"

	"loaderchain.dev/internal/module"
	"loaderchain.dev/internal/wire"
)

type TraceEvent any

// Event types emitted on a worker's trace channel
type (
	// recorded right after a request was received on the before-port
	TraceRecv struct {
		Time      time.Time
		Worker    string
		ID        wire.RequestID
		Specifier string
	}

	// request answered with a descriptor
	TraceSucceeded struct {
		Time       time.Time
		Worker     string
		ID         wire.RequestID
		Descriptor module.Descriptor
	}

	// request answered with a failed reply
	TraceFailed struct {
		Time   time.Time
		Worker string
		ID     wire.RequestID
		Error  error
	}

	// the loader module was loaded and the worker accepts traffic
	TraceReady struct {
		Time   time.Time
		Worker string
		Loader string
	}

	// the worker stopped. Error is nil for a clean shutdown.
	TraceExit struct {
		Time   time.Time
		Worker string
		Error  error
	}
)

// trace never blocks: events are dropped when nobody keeps up.
func (w *Worker) trace(ev TraceEvent) {
	if w.cfg.Trace == nil {
		return
	}
	select {
	case w.cfg.Trace <- ev:
	default:
	}
}

func (w *Worker) traceRecv(req wire.ResolveRequest) {
	w.trace(TraceRecv{time.Now(), w.id, req.ID, req.Specifier})
}

func (w *Worker) traceDone(req wire.ResolveRequest, d module.Descriptor, err error) {
	if err != nil {
		w.trace(TraceFailed{time.Now(), w.id, req.ID, err})
		return
	}
	w.trace(TraceSucceeded{time.Now(), w.id, req.ID, d})
}
