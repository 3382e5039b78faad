package talk

import (
	"bytes"
	"io"
	"net"
	"os"
	"strconv"
	"strings"
	"testing"
	"time"

	talkerrors "github.com/alxayo/go-talkers/internal/errors"
	"github.com/alxayo/go-talkers/internal/hashstream"
	"github.com/alxayo/go-talkers/internal/transport"
	"github.com/alxayo/go-talkers/internal/wire"
)

func enginePair(t *testing.T) (*Engine, *spySink, *Engine, *spySink) {
	t.Helper()
	connA, connB := net.Pipe()
	t.Cleanup(func() {
		connA.Close()
		connB.Close()
	})
	sinkA := newSpySink()
	sinkB := newSpySink()
	a := New(transport.New(connA), sinkA)
	b := New(transport.New(connB), sinkB)
	return a, sinkA, b, sinkB
}

func goCall(fn func() error) <-chan error {
	ch := make(chan error, 1)
	go func() { ch <- fn() }()
	return ch
}

func waitErr(t *testing.T, ch <-chan error) error {
	t.Helper()
	select {
	case err := <-ch:
		return err
	case <-time.After(2 * time.Second):
		t.Fatalf("timed out waiting for goroutine result")
		return nil
	}
}

type readOnceResult struct {
	ok  bool
	err error
}

func readOnceAsync(e *Engine) <-chan readOnceResult {
	ch := make(chan readOnceResult, 1)
	go func() {
		ok, err := e.ReadOnce()
		ch <- readOnceResult{ok, err}
	}()
	return ch
}

func waitRO(t *testing.T, ch <-chan readOnceResult) readOnceResult {
	t.Helper()
	select {
	case r := <-ch:
		return r
	case <-time.After(2 * time.Second):
		t.Fatalf("timed out waiting for ReadOnce result")
		return readOnceResult{}
	}
}

func TestHandshakeSymmetry(t *testing.T) {
	a, _, b, _ := enginePair(t)

	aErr := goCall(func() error {
		if err := a.PerformHandshake(); err != nil {
			return err
		}
		return a.ExpectHandshake()
	})
	bErr := goCall(func() error {
		if err := b.ExpectHandshake(); err != nil {
			return err
		}
		return b.PerformHandshake()
	})

	if err := waitErr(t, aErr); err != nil {
		t.Fatalf("A side: %v", err)
	}
	if err := waitErr(t, bErr); err != nil {
		t.Fatalf("B side: %v", err)
	}
}

func TestBadHandshake(t *testing.T) {
	a, _, b, _ := enginePair(t)

	writeErr := goCall(func() error {
		_, err := a.transport.Write([]byte("HELLO!!!"))
		return err
	})

	err := b.ExpectHandshake()
	if !talkerrors.IsProtocolError(err) {
		t.Fatalf("expected protocol error, got %v", err)
	}
	if err := waitErr(t, writeErr); err != nil {
		t.Fatalf("write: %v", err)
	}

	if err := b.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}

	if err := a.ExpectHandshake(); !talkerrors.IsTransportError(err) {
		t.Fatalf("expected transport error after peer closed, got %v", err)
	}
}

func TestS1HelloRoundTripAndHashLaw(t *testing.T) {
	a, sinkA, b, sinkB := enginePair(t)

	sendErr := goCall(func() error { return a.Send("hi") })
	roCh := readOnceAsync(b)

	if err := a.ExpectHash(); err != nil {
		t.Fatalf("ExpectHash: %v", err)
	}
	if err := waitErr(t, sendErr); err != nil {
		t.Fatalf("Send: %v", err)
	}
	ro := waitRO(t, roCh)
	if ro.err != nil {
		t.Fatalf("ReadOnce: %v", ro.err)
	}
	if !ro.ok {
		t.Fatalf("expected ReadOnce to report true")
	}

	msgs := sinkB.messageList()
	if len(msgs) != 1 || msgs[0] != "hi" {
		t.Fatalf("unexpected messages on B: %v", msgs)
	}

	want := hashstream.Sum256([]byte("hi"))
	if len(sinkA.hashOfSent) != 1 || sinkA.hashOfSent[0] != want {
		t.Fatalf("hash_of_sent mismatch: %v", sinkA.hashOfSent)
	}
	if len(sinkA.hashReceived) != 1 || sinkA.hashReceived[0] != want {
		t.Fatalf("hash_rcvd mismatch: %v", sinkA.hashReceived)
	}
}

func TestRejectedFileLeavesPayloadUndrained(t *testing.T) {
	a, _, b, sinkB := enginePair(t)
	sinkB.fileIncomingFn = func(int64) bool { return false }

	payload := []byte{0xAA, 0xBB, 0xCC}
	_ = goCall(func() error {
		return a.SendStream(bytes.NewReader(payload), strconv.Itoa(len(payload)))
	})

	ok, err := b.ReadOnce()
	if err != nil {
		t.Fatalf("ReadOnce: %v", err)
	}
	if !ok {
		t.Fatalf("expected ReadOnce to report true for a recognized file instruction")
	}
	if len(sinkB.fileComplete) != 0 {
		t.Fatalf("expected no file_complete on rejection")
	}

	// The announced payload was never drained: B's next instruction byte
	// is the leftover first payload byte, not a valid instruction.
	ok2, err2 := b.ReadOnce()
	if err2 != nil {
		t.Fatalf("second ReadOnce: %v", err2)
	}
	if ok2 {
		t.Fatalf("expected the leftover byte to be rejected as an invalid instruction")
	}
	if len(sinkB.invalidInstr) != 1 || sinkB.invalidInstr[0] != payload[0] {
		t.Fatalf("expected invalid_instr(0x%02x), got %v", payload[0], sinkB.invalidInstr)
	}
}

func TestOversizeMessage(t *testing.T) {
	a, sinkA, b, sinkB := enginePair(t)
	length := int64(wire.MaxMessageSize) + 1

	headerErr := goCall(func() error {
		return wire.WriteMessageHeader(a.transport, int(length))
	})
	roCh := readOnceAsync(b)

	if err := a.ExpectHash(); err != nil {
		t.Fatalf("ExpectHash: %v", err)
	}
	if err := waitErr(t, headerErr); err != nil {
		t.Fatalf("write header: %v", err)
	}
	ro := waitRO(t, roCh)
	if ro.err != nil {
		t.Fatalf("ReadOnce: %v", ro.err)
	}
	if !ro.ok {
		t.Fatalf("expected ReadOnce to report true")
	}

	if len(sinkB.payloadTooLarge) != 1 || sinkB.payloadTooLarge[0] != length {
		t.Fatalf("expected payload_too_large(%d), got %v", length, sinkB.payloadTooLarge)
	}
	if len(sinkB.messages) != 0 {
		t.Fatalf("expected no msg_new fired")
	}

	want := hashstream.Sum256(nil)
	if len(sinkA.hashReceived) != 1 || sinkA.hashReceived[0] != want {
		t.Fatalf("expected empty-input ack hash, got %v", sinkA.hashReceived)
	}
}

func TestInterleavedInboundQueueOneDeep(t *testing.T) {
	a, sinkA, b, _ := enginePair(t)

	aSendErr := goCall(func() error { return a.Send("x") })
	bFrameErr := goCall(func() error {
		if err := wire.WriteMessageHeader(b.transport, 1); err != nil {
			return err
		}
		return wire.WritePayload(b.transport, []byte("y"))
	})

	err := a.ExpectHash()
	if !talkerrors.IsAckMissing(err) {
		t.Fatalf("expected ack-missing error, got %v", err)
	}

	// B takes A's "x" frame off the wire without acking it yet. net.Pipe
	// has no buffering, so A's Send must finish before A's ReadOnce writes
	// its own ack onto the same pipe.
	xFrame := make([]byte, 4)
	if _, err := io.ReadFull(b.transport, xFrame); err != nil {
		t.Fatalf("b read x frame: %v", err)
	}
	if !bytes.Equal(xFrame, []byte("!1\nx")) {
		t.Fatalf("unexpected x frame bytes: %q", xFrame)
	}
	if err := waitErr(t, aSendErr); err != nil {
		t.Fatalf("a.Send: %v", err)
	}

	// B drains A's eventual ack for the "y" message; its content isn't
	// under test here.
	bDrainErr := goCall(func() error {
		buf := make([]byte, wire.HashFrameSize)
		_, err := io.ReadFull(b.transport, buf)
		return err
	})

	roCh := readOnceAsync(a)

	if err := waitErr(t, bFrameErr); err != nil {
		t.Fatalf("b frame write: %v", err)
	}
	if err := waitErr(t, bDrainErr); err != nil {
		t.Fatalf("b drain ack: %v", err)
	}
	ro := waitRO(t, roCh)
	if ro.err != nil {
		t.Fatalf("ReadOnce: %v", ro.err)
	}
	if !ro.ok {
		t.Fatalf("expected ReadOnce to report true")
	}

	msgsA := sinkA.messageList()
	if len(msgsA) != 1 || msgsA[0] != "y" {
		t.Fatalf("expected msg_new(y) via the replayed queue byte, got %v", msgsA)
	}

	// B now acks A's original "x" message; A's later expect_hash observes
	// that ack.
	bAckErr := goCall(func() error {
		return wire.WriteHashFrame(b.transport, hashstream.Sum256([]byte("x")))
	})

	if err := a.ExpectHash(); err != nil {
		t.Fatalf("second ExpectHash: %v", err)
	}
	if err := waitErr(t, bAckErr); err != nil {
		t.Fatalf("b ack: %v", err)
	}
	if want := hashstream.Sum256([]byte("x")); len(sinkA.hashReceived) != 1 || sinkA.hashReceived[0] != want {
		t.Fatalf("expected hash_rcvd(sha256(x)), got %v", sinkA.hashReceived)
	}
}

func TestCloseIdempotence(t *testing.T) {
	a, sinkA, _, _ := enginePair(t)

	if err := a.Close(); err != nil {
		t.Fatalf("first Close: %v", err)
	}
	if err := a.Close(); err != nil {
		t.Fatalf("second Close: %v", err)
	}
	if sinkA.closes() != 1 {
		t.Fatalf("expected chat_close fired exactly once, got %d", sinkA.closes())
	}
	if err := a.Send("x"); !talkerrors.IsTransportError(err) {
		t.Fatalf("expected transport error after close, got %v", err)
	}
}

func TestLengthParserBound(t *testing.T) {
	a, _, b, _ := enginePair(t)

	digits := strings.Repeat("1", wire.MaxLengthDigits+1)
	_ = goCall(func() error {
		if _, err := a.transport.Write([]byte{wire.InstrMessage}); err != nil {
			return err
		}
		_, err := a.transport.Write([]byte(digits))
		return err
	})

	ok, err := b.ReadOnce()
	if ok {
		t.Fatalf("expected ReadOnce to report false on a length-parse failure")
	}
	if err == nil {
		t.Fatalf("expected a length cap error")
	}
}

func TestFileIntegrityRoundTrip(t *testing.T) {
	dir := t.TempDir()
	cwd, err := os.Getwd()
	if err != nil {
		t.Fatalf("Getwd: %v", err)
	}
	if err := os.Chdir(dir); err != nil {
		t.Fatalf("Chdir: %v", err)
	}
	defer os.Chdir(cwd)

	a, sinkA, b, sinkB := enginePair(t)
	payload := []byte("the file contents, exactly these bytes, nothing more")
	sinkB.fileIncomingFn = func(int64) bool { return true }

	sendErr := goCall(func() error {
		return a.SendStream(bytes.NewReader(payload), strconv.Itoa(len(payload)))
	})
	roCh := readOnceAsync(b)

	if err := a.ExpectHash(); err != nil {
		t.Fatalf("ExpectHash: %v", err)
	}
	if err := waitErr(t, sendErr); err != nil {
		t.Fatalf("SendStream: %v", err)
	}
	ro := waitRO(t, roCh)
	if ro.err != nil {
		t.Fatalf("ReadOnce: %v", ro.err)
	}
	if !ro.ok {
		t.Fatalf("expected ReadOnce to report true")
	}

	if len(sinkB.fileComplete) != 1 {
		t.Fatalf("expected exactly one file_complete, got %v", sinkB.fileComplete)
	}
	name := sinkB.fileComplete[0]

	written, err := os.ReadFile(name)
	if err != nil {
		t.Fatalf("reading transfer file: %v", err)
	}
	if !bytes.Equal(written, payload) {
		t.Fatalf("transfer file content mismatch")
	}

	want := hashstream.Sum256(payload)
	if sinkB.fileOurHash[name] != want {
		t.Fatalf("file_our_hash mismatch")
	}
	if sinkB.fileHashByPeer[name] != want {
		t.Fatalf("file_hash_by_peer mismatch")
	}
	if len(sinkA.hashOfSent) != 1 || sinkA.hashOfSent[0] != want {
		t.Fatalf("hash_of_sent mismatch on sender")
	}
	if len(sinkA.hashReceived) != 1 || sinkA.hashReceived[0] != want {
		t.Fatalf("hash_rcvd mismatch on sender")
	}
}
