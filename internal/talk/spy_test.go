package talk

import "sync"

// spySink records every event fired on it for assertions. FileIncoming
// delegates to fileIncomingFn if set, else rejects (matching
// callbacks.BaseSink's default).
type spySink struct {
	mu sync.Mutex

	closedCount     int
	messages        []string
	fileIncomingFn  func(int64) bool
	fileFailed      []string
	fileComplete    []string
	fileHashByPeer  map[string][32]byte
	fileOurHash     map[string][32]byte
	hashOfSent      [][32]byte
	hashReceived    [][32]byte
	payloadTooLarge []int64
	invalidInstr    []byte
}

func newSpySink() *spySink {
	return &spySink{
		fileHashByPeer: make(map[string][32]byte),
		fileOurHash:    make(map[string][32]byte),
	}
}

func (s *spySink) ChatClose() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closedCount++
}

func (s *spySink) MessageReceived(text string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.messages = append(s.messages, text)
}

func (s *spySink) FileIncoming(size int64) bool {
	if s.fileIncomingFn != nil {
		return s.fileIncomingFn(size)
	}
	return false
}

func (s *spySink) FileFailed(name string, err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.fileFailed = append(s.fileFailed, name)
}

func (s *spySink) FileComplete(name string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.fileComplete = append(s.fileComplete, name)
}

func (s *spySink) FileHashByPeer(name string, digest [32]byte) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.fileHashByPeer[name] = digest
}

func (s *spySink) FileOurHash(name string, digest [32]byte) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.fileOurHash[name] = digest
}

func (s *spySink) HashOfSent(digest [32]byte) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.hashOfSent = append(s.hashOfSent, digest)
}

func (s *spySink) HashReceived(digest [32]byte) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.hashReceived = append(s.hashReceived, digest)
}

func (s *spySink) PayloadTooLarge(length int64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.payloadTooLarge = append(s.payloadTooLarge, length)
}

func (s *spySink) InvalidInstruction(b byte) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.invalidInstr = append(s.invalidInstr, b)
}

func (s *spySink) closes() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.closedCount
}

func (s *spySink) messageList() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]string, len(s.messages))
	copy(out, s.messages)
	return out
}
