package transport

import (
	"io"
	"sync"

	"github.com/bytedance/gopkg/lang/mcache"
)

// loopPipe is a blocking single-direction byte pipe over a pooled circular
// buffer. Used to couple two in-process endpoints without sockets.
type loopPipe struct {
	mu     sync.Mutex
	cond   *sync.Cond
	buf    []byte
	head   int // read position
	count  int
	closed bool
}

func newLoopPipe(size int) *loopPipe {
	p := &loopPipe{buf: mcache.Malloc(size)[:size]}
	p.cond = sync.NewCond(&p.mu)
	return p
}

func (p *loopPipe) write(b []byte) (int, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	total := 0
	for len(b) > 0 {
		for p.count == len(p.buf) && !p.closed {
			p.cond.Wait()
		}
		if p.closed {
			return total, io.ErrClosedPipe
		}
		n := len(p.buf) - p.count
		if n > len(b) {
			n = len(b)
		}
		tail := (p.head + p.count) % len(p.buf)
		n1 := copy(p.buf[tail:], b[:n])
		if n1 < n {
			copy(p.buf[0:], b[n1:n])
		}
		p.count += n
		total += n
		b = b[n:]
		p.cond.Broadcast()
	}
	return total, nil
}

func (p *loopPipe) read(b []byte) (int, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	for p.count == 0 {
		if p.closed {
			return 0, io.EOF
		}
		p.cond.Wait()
	}
	n := p.count
	if n > len(b) {
		n = len(b)
	}
	n1 := copy(b[:n], p.buf[p.head:])
	if n1 < n {
		copy(b[n1:n], p.buf[0:])
	}
	p.head = (p.head + n) % len(p.buf)
	p.count -= n
	p.cond.Broadcast()
	return n, nil
}

func (p *loopPipe) close() {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.closed {
		return
	}
	p.closed = true
	mcache.Free(p.buf)
	p.buf = p.buf[:0]
	p.count = 0
	p.cond.Broadcast()
}

// loopConn is one end of a loopback pair.
type loopConn struct {
	rd *loopPipe
	wr *loopPipe
}

func (c *loopConn) Read(b []byte) (int, error)  { return c.rd.read(b) }
func (c *loopConn) Write(b []byte) (int, error) { return c.wr.write(b) }

func (c *loopConn) Close() error {
	c.rd.close()
	c.wr.close()
	return nil
}

// NewLoopbackPair returns two connected in-process Conns with the given
// per-direction buffer size. Bytes written on one end appear, in order,
// on the other.
func NewLoopbackPair(bufSize int) (Conn, Conn) {
	ab := newLoopPipe(bufSize)
	ba := newLoopPipe(bufSize)
	return &loopConn{rd: ba, wr: ab}, &loopConn{rd: ab, wr: ba}
}
