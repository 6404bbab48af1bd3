package audio

import "sync"

// Output is where synthesized PCM goes. PacedOpusWriter satisfies it.
type Output interface {
	WritePCM(pcm []byte)
	Reset()
}

// Switch routes PCM to whichever output is currently attached. With no
// listener attached audio is dropped, so speech synthesis keeps the same
// code path whether or not a playback connection exists.
type Switch struct {
	mu  sync.Mutex
	out Output
}

func NewSwitch() *Switch { return &Switch{} }

// Attach replaces the active output. The previous one, if any, is reset
// first so a new connection never inherits stale queued audio.
func (s *Switch) Attach(out Output) {
	s.mu.Lock()
	prev := s.out
	s.out = out
	s.mu.Unlock()
	if prev != nil {
		prev.Reset()
	}
}

// Detach removes out if it is still the active output. Detaching an output
// that was already replaced is a no-op.
func (s *Switch) Detach(out Output) {
	s.mu.Lock()
	if s.out == out {
		s.out = nil
	}
	s.mu.Unlock()
}

func (s *Switch) WritePCM(pcm []byte) {
	s.mu.Lock()
	out := s.out
	s.mu.Unlock()
	if out != nil {
		out.WritePCM(pcm)
	}
}

func (s *Switch) Reset() {
	s.mu.Lock()
	out := s.out
	s.mu.Unlock()
	if out != nil {
		out.Reset()
	}
}
