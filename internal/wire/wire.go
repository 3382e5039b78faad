// Package wire implements the on-the-wire grammar the protocol engine
// speaks: a fixed handshake literal, three instruction bytes, an
// ASCII-decimal length prefix, and raw payload bytes. It owns no
// connection-lifecycle state — that belongs to the engine — only the byte
// layout and the low-level read/write primitives built on top of
// internal/transport and internal/hashstream.
//
// The payload-copy loops borrow a pooled buffer from
// internal/bufpool (the teacher pools buffers for RTMP chunk I/O; this
// generalizes that pool to this protocol's frame sizes) instead of
// allocating a fresh slice per frame.
package wire

import (
	"io"
	"strconv"

	"github.com/alxayo/go-talkers/internal/bufpool"
	talkerrors "github.com/alxayo/go-talkers/internal/errors"
	"github.com/alxayo/go-talkers/internal/hashstream"
	"github.com/alxayo/go-talkers/internal/transport"
)

// Instruction bytes.
const (
	InstrMessage byte = 0x21 // '!'
	InstrFile    byte = 0x23 // '#'
	InstrHash    byte = 0x3D // '='
)

// Length terminators.
const (
	sepLF    byte = 0x0A
	sepSpace byte = 0x20
)

// Handshake is the fixed 8-byte literal each side sends once at session
// start.
const Handshake = "/talkers"

// MaxLengthDigits is the hard cap on characters read while parsing a
// length, including the terminator.
const MaxLengthDigits = 16

// StreamChunkSize is the chunk size send_stream and file ingestion copy in.
const StreamChunkSize = 1024

// MaxMessageSize is the inbound ceiling for message frames.
const MaxMessageSize = 1 << 20 // 1 MiB

// HashFrameSize is the length of a hash frame's trailer: the instruction
// byte plus a 32-byte digest.
const HashFrameSize = 1 + hashstream.Size

// ErrLengthTooLong is returned when a length prefix exceeds MaxLengthDigits
// without reaching its terminator.
var ErrLengthTooLong = talkerrors.NewProtocolError("wire.readLength", errLengthTooLong{})

type errLengthTooLong struct{}

func (errLengthTooLong) Error() string { return "length prefix exceeded 16 characters" }

// ReadHandshake reads exactly 8 bytes in blocking mode and reports whether
// they equal Handshake.
func ReadHandshake(t *transport.Transport) (bool, error) {
	buf := make([]byte, len(Handshake))
	if err := readFull(t, buf); err != nil {
		return false, err
	}
	return string(buf) == Handshake, nil
}

// WriteHandshake writes the fixed literal.
func WriteHandshake(t *transport.Transport) error {
	return writeFull(t, []byte(Handshake))
}

// ReadInstruction reads a single instruction byte in the transport's
// current mode (blocking or non-blocking, caller's choice).
func ReadInstruction(t *transport.Transport) (byte, error) {
	buf := make([]byte, 1)
	n, err := t.Read(buf)
	if err != nil {
		return 0, err
	}
	if n == 0 {
		return 0, io.ErrUnexpectedEOF
	}
	return buf[0], nil
}

// ReadLength parses an ASCII-decimal length byte-by-byte, accepting digits
// 0x30-0x39 and terminating on 0x20 or 0x0A. It rejects any other byte and
// enforces the MaxLengthDigits cap (including the terminator). Reads are
// performed in the transport's current mode.
func ReadLength(t *transport.Transport) (int64, error) {
	var length int64
	var digits int
	one := make([]byte, 1)
	for {
		digits++
		if digits > MaxLengthDigits {
			return 0, ErrLengthTooLong
		}
		if _, err := io.ReadFull(t, one); err != nil {
			return 0, talkerrors.NewTransportError("wire.readLength", err)
		}
		b := one[0]
		switch {
		case b == sepLF || b == sepSpace:
			return length, nil
		case b >= '0' && b <= '9':
			length = length*10 + int64(b-'0')
			if length < 0 {
				// Overflow: saturate rather than wrap.
				length = int64(^uint64(0) >> 1)
			}
		default:
			return 0, talkerrors.NewProtocolError("wire.readLength", errBadLengthByte{b: b})
		}
	}
}

type errBadLengthByte struct{ b byte }

func (e errBadLengthByte) Error() string {
	return "invalid byte in length prefix: 0x" + hexByte(e.b)
}

func hexByte(b byte) string {
	const hex = "0123456789abcdef"
	return string([]byte{hex[b>>4], hex[b&0x0f]})
}

// WriteMessageHeader writes the message instruction byte, the ASCII
// decimal length, and the LF terminator.
func WriteMessageHeader(t *transport.Transport, length int) error {
	return writeHeader(t, InstrMessage, strconv.Itoa(length))
}

// WriteFileHeader writes the file instruction byte, a caller-supplied
// ASCII length representation, and the LF terminator.
func WriteFileHeader(t *transport.Transport, lenRepr string) error {
	return writeHeader(t, InstrFile, lenRepr)
}

func writeHeader(t *transport.Transport, instr byte, lenRepr string) error {
	buf := make([]byte, 0, 1+len(lenRepr)+1)
	buf = append(buf, instr)
	buf = append(buf, lenRepr...)
	buf = append(buf, sepLF)
	return writeFull(t, buf)
}

// ReadPayload reads exactly length bytes in blocking mode, feeding each
// chunk to h if non-nil, and returns the full payload. Used for message
// frames, which are bounded by MaxMessageSize and assembled in memory.
func ReadPayload(t *transport.Transport, length int64, h *hashstream.Hasher) ([]byte, error) {
	buf := bufpool.Get(int(length))
	defer func() {
		if buf != nil {
			bufpool.Put(buf)
		}
	}()
	if err := readFull(t, buf); err != nil {
		return nil, err
	}
	if h != nil {
		h.Update(buf)
	}
	out := make([]byte, length)
	copy(out, buf)
	return out, nil
}

// WritePayload writes data to t in full, wrapping short-write/IO failures
// as a transport error.
func WritePayload(t *transport.Transport, data []byte) error {
	return writeFull(t, data)
}

// CopyUntilEOF streams src to dst in StreamChunkSize chunks until src
// returns io.EOF, feeding each chunk to h if non-nil. Used by send_stream,
// which has no a-priori byte count: the caller's len_repr is whatever they
// chose to announce, and the reader's actual EOF is what ends the stream.
func CopyUntilEOF(dst io.Writer, src io.Reader, h *hashstream.Hasher) error {
	buf := bufpool.Get(StreamChunkSize)
	defer bufpool.Put(buf)

	for {
		n, err := src.Read(buf)
		if n > 0 {
			if h != nil {
				h.Update(buf[:n])
			}
			if _, werr := dst.Write(buf[:n]); werr != nil {
				return werr
			}
		}
		if err != nil {
			if err == io.EOF {
				return nil
			}
			return err
		}
	}
}

// CopyChunked streams length bytes from src to dst in StreamChunkSize
// chunks, feeding each chunk to h if non-nil. It is used by file ingestion
// (transport -> file), which knows the exact announced byte count up
// front.
func CopyChunked(dst io.Writer, src io.Reader, length int64, h *hashstream.Hasher) error {
	buf := bufpool.Get(StreamChunkSize)
	defer bufpool.Put(buf)

	var remaining = length
	for remaining > 0 {
		chunk := buf
		if int64(len(chunk)) > remaining {
			chunk = chunk[:remaining]
		}
		n, err := io.ReadFull(src, chunk)
		if n > 0 {
			if h != nil {
				h.Update(chunk[:n])
			}
			if _, werr := dst.Write(chunk[:n]); werr != nil {
				return werr
			}
			remaining -= int64(n)
		}
		if err != nil {
			return err
		}
	}
	return nil
}

// WriteHashFrame writes the hash instruction byte followed by the 32-byte
// digest.
func WriteHashFrame(t *transport.Transport, digest hashstream.Digest) error {
	buf := make([]byte, 0, HashFrameSize)
	buf = append(buf, InstrHash)
	buf = append(buf, digest[:]...)
	return writeFull(t, buf)
}

// ReadHashTrailer reads the 32 digest bytes that follow an already-consumed
// hash instruction byte.
func ReadHashTrailer(t *transport.Transport) (hashstream.Digest, error) {
	var d hashstream.Digest
	if err := readFull(t, d[:]); err != nil {
		return d, err
	}
	return d, nil
}

func readFull(t *transport.Transport, buf []byte) error {
	_, err := io.ReadFull(t, buf)
	if err != nil {
		if err == io.EOF || err == io.ErrUnexpectedEOF {
			return talkerrors.NewNotConnectedError("wire.read")
		}
		return talkerrors.NewTransportError("wire.read", err)
	}
	return nil
}

func writeFull(t *transport.Transport, buf []byte) error {
	total := 0
	for total < len(buf) {
		n, err := t.Write(buf[total:])
		if err != nil {
			return talkerrors.NewTransportError("wire.write", err)
		}
		total += n
	}
	return nil
}
