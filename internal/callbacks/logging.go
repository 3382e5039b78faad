package callbacks

import (
	"fmt"
	"log/slog"
)

// LoggingSink logs every event through a structured logger instead of the
// reference app's per-event eprintln!/println! calls
// (original_source/src/app.rs wires chat_close, msg_new, file_failed,
// file_complete, file_hash_by_peer, file_our_hash, hash_of_sent and
// hash_rcvd each to their own println!). It embeds BaseSink so
// FileIncoming still defaults to reject unless the caller overrides it by
// wrapping LoggingSink in turn.
type LoggingSink struct {
	BaseSink
	Logger *slog.Logger
}

// NewLoggingSink builds a LoggingSink around logger. A nil logger falls
// back to slog.Default().
func NewLoggingSink(logger *slog.Logger) *LoggingSink {
	if logger == nil {
		logger = slog.Default()
	}
	return &LoggingSink{Logger: logger}
}

func (s *LoggingSink) ChatClose() {
	s.Logger.Info("chat closed")
}

func (s *LoggingSink) MessageReceived(text string) {
	s.Logger.Info("message received", "text", text)
}

func (s *LoggingSink) FileFailed(name string, err error) {
	s.Logger.Warn("file transfer failed", "name", name, "error", err)
}

func (s *LoggingSink) FileComplete(name string) {
	s.Logger.Info("file transfer complete", "name", name)
}

func (s *LoggingSink) FileHashByPeer(name string, digest [32]byte) {
	s.Logger.Info("peer hash received for file", "name", name, "digest", fmt.Sprintf("%x", digest))
}

func (s *LoggingSink) FileOurHash(name string, digest [32]byte) {
	s.Logger.Info("computed hash for received file", "name", name, "digest", fmt.Sprintf("%x", digest))
}

func (s *LoggingSink) HashOfSent(digest [32]byte) {
	s.Logger.Info("hashed outbound payload", "digest", fmt.Sprintf("%x", digest))
}

func (s *LoggingSink) HashReceived(digest [32]byte) {
	s.Logger.Info("received ack hash", "digest", fmt.Sprintf("%x", digest))
}

func (s *LoggingSink) PayloadTooLarge(length int64) {
	s.Logger.Warn("inbound message payload exceeds size ceiling", "length", length)
}

func (s *LoggingSink) InvalidInstruction(b byte) {
	s.Logger.Warn("invalid instruction byte", "byte", fmt.Sprintf("0x%02x", b))
}
