//go:build linux && giouring
// +build linux,giouring

// io_uring-backed flow transport. Build with -tags giouring on kernels
// with io_uring send/recv support; the portable net.Conn shim remains the
// default.
package transport

import (
	"fmt"
	"io"
	"sync"
	"unsafe"

	"github.com/pawelgaczynski/giouring"
)

// uringConn implements Conn over a connected socket fd, submitting one
// send or recv SQE per call and waiting for its completion.
type uringConn struct {
	mu   sync.Mutex
	ring *giouring.Ring
	fd   int
}

// NewUringConn wraps a connected socket file descriptor in an
// io_uring-driven transport. The caller keeps ownership of the fd until
// Close.
func NewUringConn(fd int, entries uint32) (Conn, error) {
	ring, err := giouring.CreateRing(entries)
	if err != nil {
		return nil, fmt.Errorf("transport: create ring: %w", err)
	}
	return &uringConn{ring: ring, fd: fd}, nil
}

func (c *uringConn) roundTrip(prep func(sqe *giouring.SubmissionQueueEntry)) (int, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	sqe := c.ring.GetSQE()
	if sqe == nil {
		return 0, fmt.Errorf("transport: submission queue full")
	}
	prep(sqe)

	if _, err := c.ring.SubmitAndWait(1); err != nil {
		return 0, fmt.Errorf("transport: submit: %w", err)
	}
	cqe, err := c.ring.PeekCQE()
	if err != nil {
		return 0, fmt.Errorf("transport: completion: %w", err)
	}
	res := cqe.Res
	c.ring.CQESeen(cqe)

	if res < 0 {
		return 0, fmt.Errorf("transport: io_uring errno %d", -res)
	}
	if res == 0 {
		return 0, io.EOF
	}
	return int(res), nil
}

func (c *uringConn) Read(b []byte) (int, error) {
	if len(b) == 0 {
		return 0, nil
	}
	return c.roundTrip(func(sqe *giouring.SubmissionQueueEntry) {
		sqe.PrepareRecv(c.fd, uintptr(unsafe.Pointer(&b[0])), uint32(len(b)), 0)
	})
}

func (c *uringConn) Write(b []byte) (int, error) {
	if len(b) == 0 {
		return 0, nil
	}
	return c.roundTrip(func(sqe *giouring.SubmissionQueueEntry) {
		sqe.PrepareSend(c.fd, uintptr(unsafe.Pointer(&b[0])), uint32(len(b)), 0)
	})
}

func (c *uringConn) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.ring.QueueExit()
	return nil
}
