package port

import "sync"

type chanPipe struct {
	done chan struct{}
	once sync.Once
	ends [2]*chanPort
}

func (p *chanPipe) close() {
	p.once.Do(func() {
		close(p.done)
		for _, end := range p.ends {
			end.refs.shutdown()
		}
	})
}

type chanPort struct {
	refs
	pipe *chanPipe
	in   chan []byte
	peer *chanPort
}

// NewPipe creates a pipe backed by buffered Go channels.
func NewPipe(opts ...Option) (Port, Port) {
	o := buildOptions(opts)
	p := &chanPipe{done: make(chan struct{})}
	a := &chanPort{refs: refs{host: o.host}, pipe: p, in: make(chan []byte, o.buffer)}
	b := &chanPort{refs: refs{host: o.host}, pipe: p, in: make(chan []byte, o.buffer)}
	a.peer, b.peer = b, a
	p.ends = [2]*chanPort{a, b}
	return a, b
}

func (c *chanPort) Send(frame []byte) error {
	select {
	case <-c.pipe.done:
		return ErrClosed
	default:
	}
	select {
	case c.peer.in <- copyFrame(frame):
		return nil
	case <-c.pipe.done:
		return ErrClosed
	}
}

func (c *chanPort) Recv() <-chan []byte {
	return c.in
}

func (c *chanPort) Done() <-chan struct{} {
	return c.pipe.done
}

func (c *chanPort) Close() error {
	c.pipe.close()
	return nil
}
