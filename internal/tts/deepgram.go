package tts

import (
	"bytes"
	"context"
	"encoding/base64"
	"fmt"
	"log"
	"sync"
	"sync/atomic"
	"time"

	msginterfaces "github.com/deepgram/deepgram-go-sdk/pkg/api/speak/v1/websocket/interfaces"
	clientinterfaces "github.com/deepgram/deepgram-go-sdk/pkg/client/interfaces/v1"
	"github.com/deepgram/deepgram-go-sdk/pkg/client/speak"
)

const defaultDeepgramModel = "aura-2-thalia-en"

// DeepgramEngine is an alternative synthesis backend. It collects linear16
// frames from the speak websocket and returns them as one base64 clip in
// the pipeline's 24 kHz mono format.
type DeepgramEngine struct {
	apiKey     string
	model      string
	sampleRate int
	encoding   string
}

func NewDeepgramEngine(apiKey, model string) *DeepgramEngine {
	if model == "" {
		model = defaultDeepgramModel
	}
	return &DeepgramEngine{apiKey: apiKey, model: model, sampleRate: SampleRate, encoding: "linear16"}
}

// Synthesize speaks text through the websocket client and base64-encodes
// the collected audio once the stream goes idle.
func (d *DeepgramEngine) Synthesize(ctx context.Context, text string) (string, error) {
	if text == "" {
		return "", nil
	}
	if d.apiKey == "" {
		return "", fmt.Errorf("deepgram: api key missing")
	}

	options := &clientinterfaces.WSSpeakOptions{
		Model:      d.model,
		Encoding:   d.encoding,
		SampleRate: d.sampleRate,
	}

	var (
		mu           sync.Mutex
		audio        bytes.Buffer
		lastRecvUnix int64
		seenAudio    int32
	)

	cb := &speakCallback{onBinary: func(data []byte) error {
		if len(data) == 0 {
			return nil
		}
		atomic.StoreInt64(&lastRecvUnix, time.Now().UnixNano())
		atomic.StoreInt32(&seenAudio, 1)
		mu.Lock()
		audio.Write(data)
		mu.Unlock()
		return nil
	}}

	dg, err := speak.NewWSUsingCallback(ctx, d.apiKey, &clientinterfaces.ClientOptions{}, options, cb)
	if err != nil {
		return "", fmt.Errorf("deepgram: create ws client: %w", err)
	}

	stopped := false
	stopClient := func() {
		if !stopped {
			stopped = true
			dg.Stop()
		}
	}
	defer stopClient()

	if ok := dg.Connect(); !ok {
		return "", fmt.Errorf("deepgram: connect failed")
	}
	if err := dg.SpeakWithText(text); err != nil {
		return "", fmt.Errorf("deepgram: speak text: %w", err)
	}
	if err := dg.Flush(); err != nil {
		log.Printf("deepgram: flush error: %v", err)
	}

	// The ws client has no completion signal; treat a short idle window
	// after the first audio frame as end of clip.
	idleWindow := 400 * time.Millisecond
	ticker := time.NewTicker(50 * time.Millisecond)
	defer ticker.Stop()
	deadline := time.Now().Add(12 * time.Second)
	collected := func() string {
		mu.Lock()
		defer mu.Unlock()
		return base64.StdEncoding.EncodeToString(audio.Bytes())
	}
	for {
		select {
		case <-ctx.Done():
			return "", ctx.Err()
		case <-ticker.C:
			if atomic.LoadInt32(&seenAudio) == 1 {
				last := time.Unix(0, atomic.LoadInt64(&lastRecvUnix))
				if time.Since(last) > idleWindow {
					stopClient()
					return collected(), nil
				}
			}
			if time.Now().After(deadline) {
				stopClient()
				if atomic.LoadInt32(&seenAudio) == 0 {
					return "", fmt.Errorf("deepgram: no audio before deadline")
				}
				return collected(), nil
			}
		}
	}
}

type speakCallback struct{ onBinary func([]byte) error }

func (s *speakCallback) Open(*msginterfaces.OpenResponse) error         { return nil }
func (s *speakCallback) Metadata(*msginterfaces.MetadataResponse) error { return nil }
func (s *speakCallback) Flush(*msginterfaces.FlushedResponse) error     { return nil }
func (s *speakCallback) Clear(*msginterfaces.ClearedResponse) error     { return nil }
func (s *speakCallback) Close(*msginterfaces.CloseResponse) error       { return nil }
func (s *speakCallback) Warning(*msginterfaces.WarningResponse) error   { return nil }
func (s *speakCallback) Error(*msginterfaces.ErrorResponse) error       { return nil }
func (s *speakCallback) UnhandledEvent([]byte) error                    { return nil }
func (s *speakCallback) Binary(byMsg []byte) error {
	if s.onBinary != nil {
		return s.onBinary(byMsg)
	}
	return nil
}
