// Package talk implements the per-connection protocol engine: the state
// machine that drives handshake, framing, and callback dispatch over one
// transport for the lifetime of one peer connection.
//
// This is grounded on internal/rtmp/conn/conn.go's Connection type (owned
// net.Conn, per-connection *slog.Logger carrying identity fields, Close
// that tears down the transport) generalized from RTMP's
// context+goroutine-driven read loop to this protocol's single-owner,
// caller-driven operation model: there is no internal read loop or
// goroutine here, because every operation is invoked synchronously by the
// caller (spec.md §5: "the engine itself performs no spawning").
package talk

import (
	"fmt"
	"io"
	"log/slog"
	"os"
	"strings"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"github.com/alxayo/go-talkers/internal/callbacks"
	talkerrors "github.com/alxayo/go-talkers/internal/errors"
	"github.com/alxayo/go-talkers/internal/hashstream"
	"github.com/alxayo/go-talkers/internal/logger"
	"github.com/alxayo/go-talkers/internal/transport"
	"github.com/alxayo/go-talkers/internal/wire"
)

// Engine is the state machine for one peer connection. It owns its
// transport exclusively from construction until Close.
type Engine struct {
	id       string
	peerAddr string
	log      *slog.Logger

	transport *transport.Transport
	sink      callbacks.EventSink

	queue  *byte
	closed atomic.Bool
}

// New constructs an engine around t. sink may be nil, in which case a
// callbacks.BaseSink is used: every event is a no-op and file transfers
// are rejected by default, matching spec.md's mandatory default.
func New(t *transport.Transport, sink callbacks.EventSink) *Engine {
	if sink == nil {
		sink = callbacks.BaseSink{}
	}
	id := uuid.NewString()
	peerAddr := ""
	if t != nil {
		if addr := t.RemoteAddr(); addr != nil {
			peerAddr = addr.String()
		}
	}
	return &Engine{
		id:        id,
		peerAddr:  peerAddr,
		log:       logger.WithEngine(logger.Logger(), id, peerAddr),
		transport: t,
		sink:      sink,
	}
}

// ID returns the engine's unique identifier, used to disambiguate transfer
// filenames across engines (see ReadOnce's file ingestion).
func (e *Engine) ID() string { return e.id }

// ExpectHandshake reads exactly 8 bytes in blocking mode and fails with a
// protocol error unless they equal the handshake literal.
func (e *Engine) ExpectHandshake() error {
	if e.closed.Load() {
		return talkerrors.NewNotConnectedError("talk.ExpectHandshake")
	}
	e.log.Debug("expecting handshake")
	if err := e.transport.SetBlocking(true); err != nil {
		return talkerrors.NewTransportError("talk.ExpectHandshake", err)
	}
	ok, err := wire.ReadHandshake(e.transport)
	if err != nil {
		return err
	}
	if !ok {
		return talkerrors.NewProtocolError("talk.ExpectHandshake", errBadHandshake{})
	}
	e.log.Debug("handshake received")
	return nil
}

type errBadHandshake struct{}

func (errBadHandshake) Error() string { return "invalid handshake literal" }

// PerformHandshake writes the 8-byte handshake literal.
func (e *Engine) PerformHandshake() error {
	if e.closed.Load() {
		return talkerrors.NewNotConnectedError("talk.PerformHandshake")
	}
	e.log.Debug("performing handshake")
	if err := wire.WriteHandshake(e.transport); err != nil {
		return err
	}
	e.log.Debug("handshake sent")
	return nil
}

// Send emits a message frame carrying text, then fires HashOfSent with the
// SHA-256 digest of its bytes. It does not wait for the peer's ack; pair
// it with ExpectHash.
func (e *Engine) Send(text string) error {
	if e.closed.Load() {
		return talkerrors.NewNotConnectedError("talk.Send")
	}
	payload := []byte(text)
	e.log.Debug("sending message", "length", len(payload))
	if err := wire.WriteMessageHeader(e.transport, len(payload)); err != nil {
		return err
	}
	if err := wire.WritePayload(e.transport, payload); err != nil {
		return err
	}
	digest := hashstream.Sum256(payload)
	e.sink.HashOfSent(digest)
	return nil
}

// SendStream emits a file frame announcing lenRepr, streams reader to EOF
// in 1024-byte chunks, then appends a trailing hash frame of the streamed
// bytes and fires HashOfSent. The caller is responsible for lenRepr
// matching the number of bytes reader actually produces.
func (e *Engine) SendStream(reader io.Reader, lenRepr string) error {
	if e.closed.Load() {
		return talkerrors.NewNotConnectedError("talk.SendStream")
	}
	e.log.Debug("sending stream", "announced_length", lenRepr)
	if err := wire.WriteFileHeader(e.transport, lenRepr); err != nil {
		return err
	}
	h := hashstream.New()
	if err := wire.CopyUntilEOF(e.transport, reader, h); err != nil {
		return talkerrors.NewTransportError("talk.SendStream", err)
	}
	digest := h.Finalize()
	if err := wire.WriteHashFrame(e.transport, digest); err != nil {
		return err
	}
	e.sink.HashOfSent(digest)
	return nil
}

// ReadOnce consumes one instruction byte — from the pushback queue if
// non-empty, else from the transport — and fully processes it. A
// would-block condition on a non-blocking instruction-byte read is
// reported as (false, nil), not an error.
//
// A file rejected by FileIncoming and a message longer than MaxMessageSize
// are not drained: their announced payload bytes stay on the transport and
// are read as instruction bytes by later calls.
func (e *Engine) ReadOnce() (bool, error) {
	if e.closed.Load() {
		return false, talkerrors.NewNotConnectedError("talk.ReadOnce")
	}

	instr, err := e.nextInstruction()
	if err != nil {
		if transport.WouldBlock(err) {
			return false, nil
		}
		return false, err
	}

	switch instr {
	case wire.InstrMessage:
		return e.handleMessage()
	case wire.InstrFile:
		return e.handleFile()
	default:
		e.sink.InvalidInstruction(instr)
		return false, nil
	}
}

// nextInstruction pops the pushback queue if non-empty, else reads one
// byte from the transport.
func (e *Engine) nextInstruction() (byte, error) {
	if e.queue != nil {
		b := *e.queue
		e.queue = nil
		return b, nil
	}
	b, err := wire.ReadInstruction(e.transport)
	if err != nil {
		if transport.WouldBlock(err) {
			return 0, err
		}
		if err == io.EOF || err == io.ErrUnexpectedEOF {
			return 0, talkerrors.NewNotConnectedError("talk.ReadOnce")
		}
		return 0, talkerrors.NewTransportError("talk.ReadOnce", err)
	}
	return b, nil
}

func (e *Engine) handleMessage() (bool, error) {
	if err := e.transport.SetBlocking(true); err != nil {
		return false, talkerrors.NewTransportError("talk.ReadOnce", err)
	}
	length, err := wire.ReadLength(e.transport)
	if err != nil {
		return false, err
	}

	h := hashstream.New()
	if length <= wire.MaxMessageSize {
		payload, err := wire.ReadPayload(e.transport, length, h)
		if err != nil {
			return false, err
		}
		e.sink.MessageReceived(decodeLossy(payload))
	} else {
		e.sink.PayloadTooLarge(length)
	}

	if err := wire.WriteHashFrame(e.transport, h.Finalize()); err != nil {
		return false, err
	}
	return true, nil
}

func decodeLossy(b []byte) string {
	return strings.ToValidUTF8(string(b), "�")
}

func (e *Engine) handleFile() (bool, error) {
	if err := e.transport.SetBlocking(true); err != nil {
		return false, talkerrors.NewTransportError("talk.ReadOnce", err)
	}
	length, err := wire.ReadLength(e.transport)
	if err != nil {
		return false, err
	}

	if !e.sink.FileIncoming(length) {
		// Rejected: the announced payload is left undrained, per spec.
		return true, nil
	}

	name := fmt.Sprintf("transfer_%d_%s", time.Now().UnixNano(), e.id)
	h := hashstream.New()

	f, ferr := os.Create(name)
	var dst io.Writer = io.Discard
	if ferr != nil {
		e.sink.FileFailed(name, ferr)
	} else {
		defer f.Close()
		dst = &failOnceWriter{w: f, name: name, sink: e.sink}
	}

	if err := wire.CopyChunked(dst, e.transport, length, h); err != nil {
		return false, err
	}
	e.sink.FileComplete(name)

	if trailerInstr, terr := wire.ReadInstruction(e.transport); terr == nil && trailerInstr == wire.InstrHash {
		if digest, derr := wire.ReadHashTrailer(e.transport); derr == nil {
			e.sink.FileHashByPeer(name, digest)
		}
	}

	digest := h.Finalize()
	if err := wire.WriteHashFrame(e.transport, digest); err != nil {
		return false, err
	}
	e.sink.FileOurHash(name, digest)
	return true, nil
}

// failOnceWriter wraps the transfer file. A write failure fires FileFailed
// once and switches to discarding the rest of the payload rather than
// aborting the frame — the socket-framing invariant dominates data loss.
type failOnceWriter struct {
	w      io.Writer
	name   string
	sink   callbacks.EventSink
	failed bool
}

func (f *failOnceWriter) Write(p []byte) (int, error) {
	if f.failed {
		return len(p), nil
	}
	n, err := f.w.Write(p)
	if err != nil {
		f.sink.FileFailed(f.name, err)
		f.failed = true
		return len(p), nil
	}
	return n, nil
}

// ReadMaybe sets the transport non-blocking, invokes ReadOnce, then
// restores blocking mode. Intended as the polling primitive in an
// external loop (reference cadence: 125ms).
func (e *Engine) ReadMaybe() (bool, error) {
	if e.closed.Load() {
		return false, talkerrors.NewNotConnectedError("talk.ReadMaybe")
	}
	if err := e.transport.SetBlocking(false); err != nil {
		return false, talkerrors.NewTransportError("talk.ReadMaybe", err)
	}
	ok, err := e.ReadOnce()
	if berr := e.transport.SetBlocking(true); berr != nil && err == nil {
		err = talkerrors.NewTransportError("talk.ReadMaybe", berr)
	}
	return ok, err
}

// ExpectHash sets the transport blocking and reads one byte. A hash
// instruction byte is followed by its 32-byte digest, fires HashReceived,
// and returns nil. Any other byte is queued for the next ReadOnce and an
// ack-missing error is returned.
func (e *Engine) ExpectHash() error {
	if e.closed.Load() {
		return talkerrors.NewNotConnectedError("talk.ExpectHash")
	}
	if err := e.transport.SetBlocking(true); err != nil {
		return talkerrors.NewTransportError("talk.ExpectHash", err)
	}
	b, err := wire.ReadInstruction(e.transport)
	if err != nil {
		if err == io.EOF || err == io.ErrUnexpectedEOF {
			return talkerrors.NewNotConnectedError("talk.ExpectHash")
		}
		return talkerrors.NewTransportError("talk.ExpectHash", err)
	}
	if b == wire.InstrHash {
		digest, err := wire.ReadHashTrailer(e.transport)
		if err != nil {
			return err
		}
		e.sink.HashReceived(digest)
		return nil
	}
	e.queue = &b
	return talkerrors.NewAckMissingError(b)
}

// Close is idempotent: the first call fires ChatClose, marks the engine
// closed, and shuts down both halves of the transport; subsequent calls
// are no-ops returning nil.
func (e *Engine) Close() error {
	if !e.closed.CompareAndSwap(false, true) {
		return nil
	}
	e.sink.ChatClose()
	e.log.Debug("closing engine")
	if err := e.transport.Shutdown(); err != nil {
		return talkerrors.NewTransportError("talk.Close", err)
	}
	return nil
}
