package download

import (
	"bufio"
	"errors"
	"net"
	"sync/atomic"
	"time"
)

// probeTimeout bounds the liveness probe run on an idle connection before
// it is handed out again.
const probeTimeout = time.Millisecond

// Conn is one transport connection owned by a ConnectionPool.
// A Conn is checked out to a single request at a time.
type Conn struct {
	raw     net.Conn
	br      *bufio.Reader
	pool    *ConnectionPool
	created time.Time
	closed  atomic.Bool
}

func newConn(raw net.Conn, pool *ConnectionPool) *Conn {
	return &Conn{
		raw:     raw,
		br:      bufio.NewReader(raw),
		pool:    pool,
		created: time.Now(),
	}
}

// Read reads buffered data from the connection.
func (c *Conn) Read(p []byte) (int, error) {
	return c.br.Read(p)
}

// Write writes p to the connection.
func (c *Conn) Write(p []byte) (int, error) {
	return c.raw.Write(p)
}

// Reader returns the buffered reader the wire codec parses from.
func (c *Conn) Reader() *bufio.Reader {
	return c.br
}

// SetDeadline sets the read and write deadline.
func (c *Conn) SetDeadline(t time.Time) error {
	return c.raw.SetDeadline(t)
}

// RemoteAddr returns the peer address.
func (c *Conn) RemoteAddr() net.Addr {
	return c.raw.RemoteAddr()
}

// Close closes the underlying connection and removes it from its pool.
// Closing twice is a no-op.
func (c *Conn) Close() error {
	if !c.closed.CompareAndSwap(false, true) {
		return nil
	}
	if c.pool != nil {
		c.pool.forget(c)
	}
	return c.raw.Close()
}

// Closed reports whether Close has been called.
func (c *Conn) Closed() bool {
	return c.closed.Load()
}

// Alive probes an idle connection. It attempts a read with a very short
// deadline: a timeout means the peer is still there and silent, while EOF,
// any other error, or unexpected data means the connection must not be
// reused.
func (c *Conn) Alive() bool {
	if c.closed.Load() {
		return false
	}
	if c.br.Buffered() > 0 {
		return false
	}
	if err := c.raw.SetReadDeadline(time.Now().Add(probeTimeout)); err != nil {
		return false
	}
	_, err := c.br.Peek(1)
	if resetErr := c.raw.SetReadDeadline(time.Time{}); resetErr != nil {
		return false
	}
	var ne net.Error
	return err != nil && errors.As(err, &ne) && ne.Timeout()
}
