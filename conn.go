package cachegate

import (
	"bufio"
	"bytes"
	"io"

	"github.com/facebookgo/stackerr"
)

// serve runs c's reader loop until the client disconnects or a read error
// occurs. A single connection carries a steady stream of frames separated
// by Separator; each one is decoded here and handed to the shared
// RequestQueue, never handled inline, so a slow Store operation never
// stalls a different connection's reads.
func (c *conn) serve(requests *RequestQueue, responses *ResponseQueue) {
	c.log.Debug("Serve connection.")
	defer func() {
		if r := recover(); r != nil {
			c.log.Errorf("panic serving conn %d: %v", c.id, r)
		}
		c.Close()
		c.log.Debug("Connection closed.")
	}()

	for {
		line, err := c.readFrame()
		if err != nil {
			if err == io.EOF {
				return
			}
			c.log.Debugf("read error on conn %d: %v", c.id, err)
			return
		}
		if len(line) == 0 {
			continue
		}
		result := DecodeFrame(line)
		if result.Err != nil {
			responses.Enqueue(c, errFrame(result.RequestID, result.Err))
			continue
		}
		requests.Enqueue(c, result.Cmd)
	}
}

// readFrame reads up to the next Separator, returning the bytes before it
// with the delimiter stripped. MaxFrameSize bounds a single client from
// forcing unbounded buffering.
func (c *conn) readFrame() ([]byte, error) {
	line, err := c.reader.ReadSlice('\n')
	if err != nil {
		if err == bufio.ErrBufferFull {
			return nil, stackerr.Wrap(ErrFrameTooLarge)
		}
		return nil, err
	}
	return bytes.TrimSpace(line), nil
}
