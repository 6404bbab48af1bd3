package audio

import (
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/hraban/opus"
)

// FrameWriter receives encoded Opus frames, one packet per call.
type FrameWriter interface {
	WriteFrame(pkt []byte) error
}

// WebsocketFrameWriter ships Opus frames as binary websocket messages.
type WebsocketFrameWriter struct {
	mu   sync.Mutex
	conn *websocket.Conn
}

func NewWebsocketFrameWriter(conn *websocket.Conn) *WebsocketFrameWriter {
	return &WebsocketFrameWriter{conn: conn}
}

func (w *WebsocketFrameWriter) WriteFrame(pkt []byte) error {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.conn.WriteMessage(websocket.BinaryMessage, pkt)
}

// PacedOpusWriter encodes incoming 24kHz PCM mono to Opus frames and writes
// them paced at 20ms intervals so the receiver can play them back directly.
type PacedOpusWriter struct {
	enc          *opus.Encoder
	out          FrameWriter
	pcmBuf       []int16
	frameSamples int
	frames       chan []byte
	stopCh       chan struct{}
	stopped      bool
	mu           sync.Mutex
}

// NewPacedOpusWriter constructs a paced writer with 20ms frames at 24kHz mono.
func NewPacedOpusWriter(out FrameWriter) (*PacedOpusWriter, error) {
	enc, err := opus.NewEncoder(24000, 1, opus.AppVoIP)
	if err != nil {
		return nil, err
	}
	w := &PacedOpusWriter{
		enc:          enc,
		out:          out,
		frameSamples: 480, // 20ms at 24kHz
		frames:       make(chan []byte, 512),
		stopCh:       make(chan struct{}),
	}
	go w.pacer()
	return w, nil
}

// WritePCM buffers PCM 24kHz mono little-endian data and emits encoded
// Opus frames paced to the writer.
func (w *PacedOpusWriter) WritePCM(pcmBytes []byte) {
	if len(pcmBytes) < 2 {
		return
	}
	w.mu.Lock()
	defer w.mu.Unlock()
	need := len(pcmBytes) / 2
	startLen := len(w.pcmBuf)
	if cap(w.pcmBuf)-startLen < need {
		tmp := make([]int16, startLen, startLen+need+2048)
		copy(tmp, w.pcmBuf)
		w.pcmBuf = tmp
	}
	w.pcmBuf = w.pcmBuf[:startLen+need]
	for i := 0; i < need; i++ {
		w.pcmBuf[startLen+i] = int16(uint16(pcmBytes[2*i]) | uint16(pcmBytes[2*i+1])<<8)
	}

	opusBuf := make([]byte, 4000)
	for len(w.pcmBuf) >= w.frameSamples {
		frame := w.pcmBuf[:w.frameSamples]
		n, _ := w.enc.Encode(frame, opusBuf)
		if n > 0 {
			pkt := make([]byte, n)
			copy(pkt, opusBuf[:n])
			w.pushFrame(pkt)
		}
		copy(w.pcmBuf, w.pcmBuf[w.frameSamples:])
		w.pcmBuf = w.pcmBuf[:len(w.pcmBuf)-w.frameSamples]
	}
}

// Reset clears any queued frames and buffered PCM so interrupted speech
// stops immediately instead of draining.
func (w *PacedOpusWriter) Reset() {
	w.mu.Lock()
	for {
		select {
		case <-w.frames:
		default:
			w.pcmBuf = w.pcmBuf[:0]
			w.mu.Unlock()
			return
		}
	}
}

// Close stops the pacer.
func (w *PacedOpusWriter) Close() {
	w.mu.Lock()
	if !w.stopped {
		w.stopped = true
		close(w.stopCh)
	}
	w.mu.Unlock()
}

func (w *PacedOpusWriter) pacer() {
	ticker := time.NewTicker(20 * time.Millisecond)
	defer ticker.Stop()
	for {
		select {
		case <-w.stopCh:
			return
		case <-ticker.C:
			select {
			case frame := <-w.frames:
				_ = w.out.WriteFrame(frame)
			default:
			}
		}
	}
}

// pushFrame enqueues a frame, blocking until space is available or stopped.
func (w *PacedOpusWriter) pushFrame(pkt []byte) {
	for {
		select {
		case <-w.stopCh:
			return
		case w.frames <- pkt:
			return
		}
	}
}
