package transport

import (
	"fmt"
	"net"

	"github.com/cloudwego/gopkg/bufiox"
)

// tcpConn wraps a net.Conn with buffered framing. Writes are flushed per
// call so a staged batch of frames leaves in one segment burst.
type tcpConn struct {
	conn net.Conn
	r    *bufiox.DefaultReader
	w    *bufiox.DefaultWriter
}

func (c *tcpConn) Read(b []byte) (int, error) {
	return c.r.Read(b)
}

func (c *tcpConn) Write(b []byte) (int, error) {
	n, err := c.w.WriteBinary(b)
	if err != nil {
		return n, err
	}
	return n, c.w.Flush()
}

func (c *tcpConn) Close() error {
	return c.conn.Close()
}

// WrapTCP adapts an established net.Conn into a flow transport. Nagle is
// disabled on TCP connections; the dataplane already batches frames into
// the staging buffer.
func WrapTCP(conn net.Conn) Conn {
	if tc, ok := conn.(*net.TCPConn); ok {
		_ = tc.SetNoDelay(true)
	}
	return &tcpConn{
		conn: conn,
		r:    bufiox.NewDefaultReader(conn),
		w:    bufiox.NewDefaultWriter(conn),
	}
}

// DialTCP connects to a remote endpoint and returns a flow transport.
func DialTCP(addr string) (Conn, error) {
	conn, err := net.Dial("tcp", addr)
	if err != nil {
		return nil, fmt.Errorf("transport: dial %s: %w", addr, err)
	}
	return WrapTCP(conn), nil
}
