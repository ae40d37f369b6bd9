package cachegate

import (
	"bufio"
	"net"
	"sync/atomic"

	"github.com/cachegate/cachegate/log"
)

// conn is the opaque, per-connection identity paired with its output
// channel. Equality is by pointer identity, as any client Handle requires.
type conn struct {
	id     int64
	rwc    net.Conn
	reader *bufio.Reader
	log    log.Logger
	closed int32 // atomic
}

func newConn(id int64, rwc net.Conn, l log.Logger) *conn {
	return &conn{
		id:     id,
		rwc:    rwc,
		reader: bufio.NewReaderSize(rwc, MaxFrameSize),
		log:    l,
	}
}

func (c *conn) Close() error {
	if !atomic.CompareAndSwapInt32(&c.closed, 0, 1) {
		return nil
	}
	return c.rwc.Close()
}

func (c *conn) isClosed() bool { return atomic.LoadInt32(&c.closed) == 1 }
