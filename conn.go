package singleton

import (
	"io"
	"net"
	"sync"

	"github.com/google/uuid"
	"github.com/inconshreveable/log15"
	"github.com/ngrok/singleton/internal/proto"
	"github.com/pkg/errors"
)

// readBufferSize is the size of a single read from a connection. Frames larger
// than this are reassembled across reads.
const readBufferSize = 64 * 1024

// conn is one live connection: a client's connection to its master, or one
// of the connections a master accepted.
type conn struct {
	id       string
	c        *net.UnixConn
	l        log15.Logger
	codec    Codec
	maxFrame uint32
	emit     EventHandler
	m        *instanceMetrics

	writeFrame func(w io.Writer, payload []byte, max uint32) error

	// writeMu keeps frames written from different goroutines from
	// interleaving on the wire.
	writeMu sync.Mutex

	stateMu sync.Mutex
	state   connState

	closeOnce sync.Once
	done      chan struct{}
}

func (i *Instance) newConn(c *net.UnixConn) *conn {
	id := uuid.NewString()
	return &conn{
		id:         id,
		c:          c,
		l:          i.l.New("conn", id),
		codec:      i.codec,
		maxFrame:   i.maxFrame,
		emit:       i.emit,
		m:          i.m,
		writeFrame: i.coord.env.writeFrame,
		state:      connStateConnecting,
		done:       make(chan struct{}),
	}
}

func (c *conn) String() string {
	return c.id
}

func (c *conn) open() error {
	c.stateMu.Lock()
	defer c.stateMu.Unlock()
	return c.state.transitionTo(connStateOpen)
}

func (c *conn) isOpen() bool {
	c.stateMu.Lock()
	defer c.stateMu.Unlock()
	return c.state == connStateOpen
}

// write sends one already serialized message. A failed write closes the
// connection.
func (c *conn) write(payload []byte) error {
	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	if !c.isOpen() {
		return errors.Wrapf(ErrNotConnected, "connection %s is not open", c.id)
	}
	if err := c.writeFrame(c.c, payload, c.maxFrame); err != nil {
		c.l.Warn("write failed, closing connection", "err", err)
		c.close()
		return errors.Wrapf(ErrConnectionFault, "write to %s: %v", c.id, err)
	}
	c.m.framesSent.Inc()
	return nil
}

// close closes the underlying socket. The read loop notices and finishes the
// transition to closed. It is safe to call any number of times.
func (c *conn) close() error {
	var err error
	c.closeOnce.Do(func() {
		c.stateMu.Lock()
		neverOpened := c.state == connStateConnecting
		_ = c.state.transitionTo(connStateClosing)
		if neverOpened {
			// no read loop will ever run for this connection
			_ = c.state.transitionTo(connStateClosed)
			close(c.done)
		}
		c.stateMu.Unlock()
		err = c.c.Close()
	})
	return err
}

// readLoop decodes everything the peer sends until the connection fails or is
// closed, then marks it closed and calls onClosed.
func (c *conn) readLoop(onClosed func(*conn)) {
	dec := proto.NewDecoder(c.maxFrame)
	defer func() {
		if n := dec.Buffered(); n > 0 {
			c.l.Debug("abandoning partial frame", "buffered", n)
			dec.Reset()
		}
		c.close()
		c.stateMu.Lock()
		_ = c.state.transitionTo(connStateClosed)
		c.stateMu.Unlock()
		close(c.done)
		onClosed(c)
	}()

	buf := make([]byte, readBufferSize)
	for {
		n, err := c.c.Read(buf)
		if n > 0 {
			if !c.isOpen() {
				return
			}
			payloads, derr := dec.Feed(buf[:n])
			for _, payload := range payloads {
				if !c.isOpen() {
					return
				}
				c.deliver(payload)
			}
			if derr != nil {
				c.l.Warn("unrecoverable frame, closing connection", "err", derr)
				c.emit(Event{Type: EventError, ConnID: c.id, Err: errors.Wrap(ErrConnectionFault, derr.Error())})
				return
			}
		}
		if err != nil {
			if err == io.EOF {
				c.l.Debug("peer closed connection")
			} else if c.isOpen() {
				c.l.Warn("read failed, closing connection", "err", err)
				c.emit(Event{Type: EventError, ConnID: c.id, Err: errors.Wrapf(ErrConnectionFault, "read from %s: %v", c.id, err)})
			}
			return
		}
	}
}

func (c *conn) deliver(payload []byte) {
	c.m.framesReceived.Inc()
	msg, err := c.codec.Unmarshal(payload)
	if err != nil {
		c.m.decodeErrors.Inc()
		c.l.Warn("peer sent invalid message", "err", err, "len", len(payload))
		c.emit(Event{Type: EventError, ConnID: c.id, Err: errors.Wrap(ErrFrameDecode, err.Error())})
		return
	}
	c.emit(Event{Type: EventMessage, ConnID: c.id, Message: msg})
}
