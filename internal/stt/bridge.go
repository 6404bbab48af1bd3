package stt

import (
	"log"
	"sync"
)

// Recognizer is the minimal interface for a realtime speech recognizer. It
// accepts PCM 16 kHz little-endian mono buffers and emits finalized
// utterance text. The transcripts channel closes when the session ends,
// whether normally or on error.
type Recognizer interface {
	Connect() error
	SendPCM16KLE(pcm []byte) error
	Transcripts() <-chan string
	Close() error
}

// Bridge adapts a Recognizer to single-utterance, non-continuous capture.
// It has exactly two states, idle and listening; one capture session emits
// at most one final transcript and then stops on its own.
type Bridge struct {
	newRecognizer func() Recognizer
	onTranscript  func(text string)
	onListening   func(listening bool)

	mu        sync.Mutex
	listening bool
	rec       Recognizer
}

// Detect reports whether speech capture is available for this deployment.
// It returns the bridge when a recognizer factory is configured and nil,
// false otherwise; callers branch on the result instead of probing
// platform capabilities themselves.
func Detect(factory func() Recognizer, onTranscript func(string), onListening func(bool)) (*Bridge, bool) {
	if factory == nil {
		return nil, false
	}
	return &Bridge{
		newRecognizer: factory,
		onTranscript:  onTranscript,
		onListening:   onListening,
	}, true
}

// IsListening reports whether a capture session is active.
func (b *Bridge) IsListening() bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.listening
}

// Start begins a capture session. Calling Start while one is active is a
// no-op. Connection failures log and leave the bridge idle.
//
// The dial can take seconds, so it runs outside the lock; state checks and
// Stop stay responsive while a connection is being established.
func (b *Bridge) Start() {
	b.mu.Lock()
	if b.listening {
		b.mu.Unlock()
		return
	}
	b.mu.Unlock()

	rec := b.newRecognizer()
	if err := rec.Connect(); err != nil {
		log.Printf("stt: connect recognizer: %v", err)
		return
	}

	b.mu.Lock()
	if b.listening {
		// a concurrent Start won while this one was dialing
		b.mu.Unlock()
		_ = rec.Close()
		return
	}
	b.listening = true
	b.rec = rec
	b.mu.Unlock()

	b.notifyListening(true)
	go b.capture(rec)
}

// capture waits for the single final transcript, then returns to idle.
func (b *Bridge) capture(rec Recognizer) {
	text, ok := <-rec.Transcripts()
	if ok && text != "" && b.onTranscript != nil {
		b.onTranscript(text)
	}
	b.finish(rec)
}

// Stop ends the active capture session without a transcript.
func (b *Bridge) Stop() {
	b.mu.Lock()
	rec := b.rec
	b.mu.Unlock()
	if rec != nil {
		// closing unblocks capture, which completes the transition
		_ = rec.Close()
	}
}

// FeedPCM16KLE forwards microphone audio to the active session. Audio
// arriving while idle is dropped.
func (b *Bridge) FeedPCM16KLE(pcm []byte) {
	b.mu.Lock()
	rec := b.rec
	b.mu.Unlock()
	if rec == nil {
		return
	}
	if err := rec.SendPCM16KLE(pcm); err != nil {
		log.Printf("stt: send audio: %v", err)
	}
}

func (b *Bridge) finish(rec Recognizer) {
	_ = rec.Close()
	b.mu.Lock()
	wasListening := b.listening && b.rec == rec
	if wasListening {
		b.listening = false
		b.rec = nil
	}
	b.mu.Unlock()
	if wasListening {
		b.notifyListening(false)
	}
}

func (b *Bridge) notifyListening(listening bool) {
	if b.onListening != nil {
		b.onListening(listening)
	}
}
