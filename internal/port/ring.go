package port

import (
	"sync"

	"code.hybscloud.com/atomix"
	"code.hybscloud.com/iox"
	"code.hybscloud.com/lfq"
)

// ringPipe carries frames over two bounded lock-free SPSC queues, one per
// direction, and a shared close counter. Each queue has exactly one
// producer (the sending port, serialised by its send mutex) and one
// consumer (the receiving port's pump goroutine).
type ringPipe struct {
	closed atomix.Uint32
	done   chan struct{}
	once   sync.Once
	ab     lfq.SPSC[[]byte]
	ba     lfq.SPSC[[]byte]
	ends   [2]*ringPort
}

func (p *ringPipe) isClosed() bool {
	return p.closed.Load() != 0
}

func (p *ringPipe) close() {
	p.once.Do(func() {
		p.closed.Add(1)
		close(p.done)
		for _, end := range p.ends {
			end.refs.shutdown()
		}
	})
}

type ringPort struct {
	refs
	pipe   *ringPipe
	sendMu sync.Mutex
	sendQ  *lfq.SPSC[[]byte]
	recvQ  *lfq.SPSC[[]byte]
	in     chan []byte
}

// NewRingPipe creates a pipe backed by lock-free rings. Each end runs a pump
// goroutine that moves frames from its inbound ring to its Recv channel and
// exits when the pipe closes.
func NewRingPipe(opts ...Option) (Port, Port) {
	o := buildOptions(opts)
	p := &ringPipe{done: make(chan struct{})}
	p.ab.Init(o.buffer)
	p.ba.Init(o.buffer)
	a := &ringPort{refs: refs{host: o.host}, pipe: p, sendQ: &p.ab, recvQ: &p.ba, in: make(chan []byte)}
	b := &ringPort{refs: refs{host: o.host}, pipe: p, sendQ: &p.ba, recvQ: &p.ab, in: make(chan []byte)}
	p.ends = [2]*ringPort{a, b}
	go a.pump()
	go b.pump()
	return a, b
}

func (r *ringPort) Send(frame []byte) error {
	r.sendMu.Lock()
	defer r.sendMu.Unlock()
	f := copyFrame(frame)
	var bo iox.Backoff
	for {
		if r.pipe.isClosed() {
			return ErrClosed
		}
		// A full ring reports iox.ErrWouldBlock; wait for the consumer.
		if err := r.sendQ.Enqueue(&f); err == nil {
			return nil
		}
		bo.Wait()
	}
}

func (r *ringPort) pump() {
	var bo iox.Backoff
	for !r.pipe.isClosed() {
		f, err := r.recvQ.Dequeue()
		if err != nil {
			bo.Wait()
			continue
		}
		bo.Reset()
		select {
		case r.in <- f:
		case <-r.pipe.done:
			return
		}
	}
}

func (r *ringPort) Recv() <-chan []byte {
	return r.in
}

func (r *ringPort) Done() <-chan struct{} {
	return r.pipe.done
}

func (r *ringPort) Close() error {
	r.pipe.close()
	return nil
}
