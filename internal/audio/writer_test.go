package audio

import (
	"sync/atomic"
	"testing"
	"time"
)

type fakeFrameWriter struct{ writes int32 }

func (f *fakeFrameWriter) WriteFrame(pkt []byte) error {
	atomic.AddInt32(&f.writes, 1)
	return nil
}

func TestPacedOpusWriter_PacerWritesFrames(t *testing.T) {
	fw := &fakeFrameWriter{}
	w := &PacedOpusWriter{
		enc:          nil, // encoder not needed for this test
		out:          fw,
		frameSamples: 480,
		frames:       make(chan []byte, 8),
		stopCh:       make(chan struct{}),
	}
	done := make(chan struct{})
	go func() { w.pacer(); close(done) }()

	for i := 0; i < 3; i++ {
		w.pushFrame([]byte{0x01, 0x02})
	}

	time.Sleep(50 * time.Millisecond)
	close(w.stopCh)
	<-done

	if atomic.LoadInt32(&fw.writes) == 0 {
		t.Fatalf("expected pacer to write at least one frame")
	}
}

func TestPacedOpusWriter_ResetDrains(t *testing.T) {
	fw := &fakeFrameWriter{}
	w := &PacedOpusWriter{
		enc:          nil,
		out:          fw,
		frameSamples: 480,
		frames:       make(chan []byte, 8),
		stopCh:       make(chan struct{}),
		pcmBuf:       []int16{1, 2, 3},
	}
	w.frames <- []byte{0x01}
	w.frames <- []byte{0x02}
	w.Reset()
	select {
	case <-w.frames:
		t.Fatalf("expected frames channel to be drained")
	default:
	}
	if len(w.pcmBuf) != 0 {
		t.Fatalf("expected pcmBuf to be reset, got len=%d", len(w.pcmBuf))
	}
}

type recordingOutput struct {
	pcm    [][]byte
	resets int
}

func (r *recordingOutput) WritePCM(pcm []byte) { r.pcm = append(r.pcm, pcm) }
func (r *recordingOutput) Reset()              { r.resets++ }

func TestSwitchRoutesToAttachedOutput(t *testing.T) {
	sw := NewSwitch()
	sw.WritePCM([]byte{1, 2}) // dropped, nothing attached
	sw.Reset()

	out := &recordingOutput{}
	sw.Attach(out)
	sw.WritePCM([]byte{3, 4})
	if len(out.pcm) != 1 {
		t.Fatalf("expected 1 write, got %d", len(out.pcm))
	}

	sw.Detach(out)
	sw.WritePCM([]byte{5, 6})
	if len(out.pcm) != 1 {
		t.Fatalf("detached output still received audio")
	}
}

func TestSwitchAttachResetsPrevious(t *testing.T) {
	sw := NewSwitch()
	first := &recordingOutput{}
	second := &recordingOutput{}
	sw.Attach(first)
	sw.Attach(second)
	if first.resets != 1 {
		t.Fatalf("previous output resets = %d, want 1", first.resets)
	}

	// Detaching the replaced output must not disturb the active one.
	sw.Detach(first)
	sw.WritePCM([]byte{7, 8})
	if len(second.pcm) != 1 {
		t.Fatalf("active output writes = %d, want 1", len(second.pcm))
	}
}
