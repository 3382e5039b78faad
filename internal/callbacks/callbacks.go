// Package callbacks defines the event sink the protocol engine fires into
// as frames are processed, plus ready-made sinks callers can embed.
//
// This narrows the teacher's Hook interface
// (internal/rtmp/server/hooks/hook.go, which pairs Execute/Type/ID with an
// async execution pool keyed by event type) down to a purely synchronous
// table of typed methods: the engine must invoke callbacks inline, on the
// calling goroutine, so there is no Type()/ID() dispatch or concurrency
// pool to generalize here — only the "typed event, no-op by default"
// idiom survives the transplant.
package callbacks

// EventSink receives the eleven events the protocol engine can fire.
// Every method is optional except FileIncoming, which BaseSink defaults to
// rejecting.
//
// Implementations must not call back into the engine that invoked them
// from the same goroutine; doing so deadlocks the engine.
type EventSink interface {
	// ChatClose fires the first time Close transitions the engine to closed.
	ChatClose()

	// MessageReceived fires once a message frame has been fully decoded.
	MessageReceived(text string)

	// FileIncoming fires after a file frame's header is parsed, before any
	// payload bytes are read. Returning false skips the transfer.
	FileIncoming(size int64) bool

	// FileFailed fires when creating or writing a transfer file fails.
	FileFailed(name string, err error)

	// FileComplete fires once a file payload has been fully drained.
	FileComplete(name string)

	// FileHashByPeer fires when the 33-byte trailer following a file is
	// successfully read.
	FileHashByPeer(name string, digest [32]byte)

	// FileOurHash fires once the engine's own digest of a received file is
	// ready.
	FileOurHash(name string, digest [32]byte)

	// HashOfSent fires once the engine has finished hashing an outbound
	// payload.
	HashOfSent(digest [32]byte)

	// HashReceived fires when ExpectHash consumes a hash frame.
	HashReceived(digest [32]byte)

	// PayloadTooLarge fires when an inbound message length exceeds the
	// message size ceiling.
	PayloadTooLarge(length int64)

	// InvalidInstruction fires when an unknown instruction byte is
	// encountered.
	InvalidInstruction(b byte)
}

// BaseSink supplies no-op defaults for every EventSink method except
// FileIncoming, which rejects every transfer. Embed it in a sink that only
// needs to override a few events.
type BaseSink struct{}

var _ EventSink = BaseSink{}

func (BaseSink) ChatClose()                              {}
func (BaseSink) MessageReceived(text string)              {}
func (BaseSink) FileIncoming(size int64) bool             { return false }
func (BaseSink) FileFailed(name string, err error)        {}
func (BaseSink) FileComplete(name string)                 {}
func (BaseSink) FileHashByPeer(name string, digest [32]byte) {}
func (BaseSink) FileOurHash(name string, digest [32]byte) {}
func (BaseSink) HashOfSent(digest [32]byte)               {}
func (BaseSink) HashReceived(digest [32]byte)             {}
func (BaseSink) PayloadTooLarge(length int64)             {}
func (BaseSink) InvalidInstruction(b byte)                {}
