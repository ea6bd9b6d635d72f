package async

import (
	"github.com/sirupsen/logrus"
	"golang.org/x/sys/unix"

	"github.com/sagernet/sing-async/common/buf"
	E "github.com/sagernet/sing-async/common/exceptions"
	"github.com/sagernet/sing-async/common/log"
	M "github.com/sagernet/sing-async/common/metadata"
)

// DefaultReceiveCapacity is the receive buffer size used when no option
// overrides it.
const DefaultReceiveCapacity = 1024

var ErrConnectionClosed = E.New("connection closed")

// Handler receives connection events. All methods are invoked synchronously
// from inside the readiness handler that produced the event.
//
// HandleData is called with every byte currently buffered, oldest first, and
// returns how many of them it consumed. Unconsumed bytes are kept and
// presented again, followed by newly arrived data, on the next delivery.
//
// HandleDisconnect is called exactly once, and only for disconnects the
// connection detected itself; an explicit Disconnect call stays silent.
//
// HandleSendBufferFull(true) means the kernel send buffer could not accept a
// full write and the producer should stop; HandleSendBufferFull(false) means
// writability returned. The two strictly alternate, starting with true.
type Handler interface {
	HandleData(conn *Connection, data []byte) int
	HandleDisconnect(conn *Connection, reason DisconnectReason)
	HandleSendBufferFull(isFull bool)
}

// Connection drives an already-connected non-blocking stream socket from
// readiness events. It buffers partial reads, reports received data
// incrementally and tracks writability for backpressure.
//
// A Connection is not safe for concurrent use: the event loop that owns its
// watches is expected to be the only goroutine touching it.
type Connection struct {
	logger       *logrus.Entry
	fd           int
	remote       M.Endpoint
	handler      Handler
	recvCapacity int
	buffer       *buf.Buffer
	readWatch    Watch
	writeWatch   Watch
	state        connectionState
	sendFull     bool
	lastError    error
}

type Option func(*Connection)

func WithReceiveCapacity(capacity int) Option {
	return func(c *Connection) {
		c.recvCapacity = capacity
	}
}

// NewConnection takes ownership of fd, which must already be connected and in
// non-blocking mode. Both readiness watches are registered immediately; the
// write watch stays disabled until a write cannot complete.
func NewConnection(watcher Watcher, fd int, remote M.Endpoint, handler Handler, options ...Option) (*Connection, error) {
	c := &Connection{
		logger:       log.NewLogger("async"),
		fd:           fd,
		remote:       remote,
		handler:      handler,
		recvCapacity: DefaultReceiveCapacity,
	}
	for _, option := range options {
		option(c)
	}
	if c.recvCapacity <= 0 {
		return nil, E.New("invalid receive capacity ", c.recvCapacity)
	}
	c.buffer = buf.New(c.recvCapacity)
	readWatch, err := watcher.WatchRead(fd, c.onReadable)
	if err != nil {
		return nil, E.Cause(err, "register read watch")
	}
	writeWatch, err := watcher.WatchWrite(fd, c.onWritable)
	if err != nil {
		readWatch.Release()
		return nil, E.Cause(err, "register write watch")
	}
	writeWatch.SetEnabled(false)
	c.readWatch = readWatch
	c.writeWatch = writeWatch
	return c, nil
}

func (c *Connection) RemoteEndpoint() M.Endpoint {
	return c.remote
}

func (c *Connection) RemotePort() uint16 {
	return c.remote.Port
}

func (c *Connection) IsConnected() bool {
	return c.state == stateConnected
}

// LastError returns the underlying I/O error behind a SystemError disconnect,
// if any.
func (c *Connection) LastError() error {
	return c.lastError
}

// Send writes up to len(data) bytes and returns how many the socket accepted.
// Partial or zero acceptance is not an error: the caller owns the remainder
// and re-offers it once HandleSendBufferFull(false) signals writability.
func (c *Connection) Send(data []byte) (int, error) {
	if c.state != stateConnected {
		return 0, ErrConnectionClosed
	}
	n, err := unix.Write(c.fd, data)
	for err == unix.EINTR {
		n, err = unix.Write(c.fd, data)
	}
	if err != nil {
		if err != unix.EAGAIN {
			return 0, E.Cause(err, "write to ", c.remote)
		}
		n = 0
	}
	if n < len(data) {
		c.setSendBufferFull(true)
	}
	return n, nil
}

// Disconnect closes the connection without notifying the handler. It is
// idempotent and safe to call from inside any handler callback.
func (c *Connection) Disconnect() {
	if c.state != stateConnected {
		return
	}
	c.state = stateDisconnecting
	c.teardown()
	c.state = stateDisconnected
}

func (c *Connection) onReadable() {
	if c.state != stateConnected {
		return
	}
	if c.buffer.IsFull() {
		// The consumer stopped draining: inbound data is pending but there is
		// nowhere to put it. Reading would require unbounded memory.
		c.logger.Debug("receive buffer overflow: capacity ", c.buffer.Cap())
		c.closeWithReason(RecvBufferOverflow, nil)
		return
	}
	n, err := unix.Read(c.fd, c.buffer.FreeBytes())
	for err == unix.EINTR {
		n, err = unix.Read(c.fd, c.buffer.FreeBytes())
	}
	if err != nil {
		if err == unix.EAGAIN {
			return
		}
		c.logger.Debug("read from ", c.remote, ": ", err)
		c.closeWithReason(SystemError, err)
		return
	}
	if n == 0 {
		c.closeWithReason(RemoteDisconnected, nil)
		return
	}
	c.buffer.Extend(n)
	consumed := c.handler.HandleData(c, c.buffer.Bytes())
	if c.state != stateConnected {
		// The handler tore the connection down from inside the callback.
		return
	}
	if consumed < 0 {
		consumed = 0
	} else if consumed > c.buffer.Len() {
		consumed = c.buffer.Len()
	}
	c.buffer.Consume(consumed)
}

func (c *Connection) onWritable() {
	if c.state != stateConnected {
		return
	}
	c.setSendBufferFull(false)
}

func (c *Connection) setSendBufferFull(full bool) {
	if c.sendFull == full {
		return
	}
	c.sendFull = full
	c.writeWatch.SetEnabled(full)
	c.handler.HandleSendBufferFull(full)
}

func (c *Connection) closeWithReason(reason DisconnectReason, cause error) {
	if c.state != stateConnected {
		return
	}
	c.state = stateDisconnecting
	c.lastError = cause
	c.teardown()
	c.state = stateDisconnected
	c.handler.HandleDisconnect(c, reason)
}

func (c *Connection) teardown() {
	c.readWatch.Release()
	c.writeWatch.Release()
	_ = unix.Close(c.fd)
	c.fd = -1
}
