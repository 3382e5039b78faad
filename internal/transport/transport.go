// Package transport adapts a net.Conn into the byte-oriented, full-duplex
// channel the protocol engine drives: independent read/write halves, a
// blocking/non-blocking read-mode switch, graceful bidirectional shutdown,
// and peer-address introspection.
//
// Go's net.Conn has no direct non-blocking toggle the way a raw socket
// fd does. We follow the deadline-juggling approach the teacher's
// handshake package uses around individual reads/writes
// (internal/rtmp/handshake/server.go's setReadDeadline/setWriteDeadline and
// isTimeoutErr), but generalize it into a standing mode switch: blocking
// mode clears the read deadline, non-blocking mode sets it a short window
// (nonBlockingWindow) ahead of now so the next Read either returns data
// that is available within that window or a deadline error, which we
// classify as "would block" rather than a real error.
package transport

import (
	"errors"
	"net"
	"time"
)

// Transport is the byte-oriented channel the protocol engine owns for the
// lifetime of one peer connection.
type Transport struct {
	conn net.Conn
}

// New wraps conn. The transport takes ownership: callers should not use
// conn directly once wrapped.
func New(conn net.Conn) *Transport {
	return &Transport{conn: conn}
}

// Read reads from the underlying connection. In non-blocking mode, a read
// with nothing available returns an error for which WouldBlock reports
// true.
func (t *Transport) Read(p []byte) (int, error) {
	return t.conn.Read(p)
}

// Write writes to the underlying connection. Writes are always blocking.
func (t *Transport) Write(p []byte) (int, error) {
	return t.conn.Write(p)
}

// SetBlocking switches the read half between blocking and non-blocking
// mode. Paired calls are the caller's responsibility (ReadMaybe always
// restores blocking mode before returning).
func (t *Transport) SetBlocking(blocking bool) error {
	if blocking {
		return t.conn.SetReadDeadline(time.Time{})
	}
	return t.conn.SetReadDeadline(time.Now().Add(nonBlockingWindow))
}

// nonBlockingWindow is how far ahead of now non-blocking mode sets the read
// deadline. A deadline of exactly now makes every Read fail with a timeout
// without returning data that is already available.
const nonBlockingWindow = time.Millisecond

// RemoteAddr reports the peer's address.
func (t *Transport) RemoteAddr() net.Addr {
	return t.conn.RemoteAddr()
}

// halfCloser is implemented by connections (notably *net.TCPConn) that
// support independent shutdown of each direction.
type halfCloser interface {
	CloseRead() error
	CloseWrite() error
}

// Shutdown performs a graceful bidirectional shutdown: it closes the write
// half first (so the peer observes EOF) then the read half, falling back
// to a full Close on connection types that don't support half-close (e.g.
// net.Pipe, used in this package's tests).
func (t *Transport) Shutdown() error {
	if hc, ok := t.conn.(halfCloser); ok {
		writeErr := hc.CloseWrite()
		readErr := hc.CloseRead()
		if writeErr != nil {
			return writeErr
		}
		return readErr
	}
	return t.conn.Close()
}

// WouldBlock reports whether err is the "no data available right now"
// condition a non-blocking read surfaces, as opposed to a genuine failure.
func WouldBlock(err error) bool {
	if err == nil {
		return false
	}
	var ne net.Error
	if errors.As(err, &ne) {
		return ne.Timeout()
	}
	return false
}
