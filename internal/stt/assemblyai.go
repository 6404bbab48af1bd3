package stt

import (
	"encoding/json"
	"fmt"
	"log"
	"net/url"
	"sync"
	"time"

	"github.com/gorilla/websocket"
)

// silenceThreshold is the inactivity window after the last transcript
// update before the utterance is considered complete. Conservative, to
// avoid cutting the user mid-sentence.
const silenceThreshold = 700 * time.Millisecond

// AssemblyAIRecognizer is a single-utterance client for the AssemblyAI
// realtime streaming API. It forwards 16 kHz PCM16 LE mono audio and emits
// exactly one finalized transcript, detected by transcript inactivity.
type AssemblyAIRecognizer struct {
	apiKey string

	mu        sync.RWMutex
	conn      *websocket.Conn
	connected bool

	transcripts chan string
	audioData   chan []byte
	stopCh      chan struct{}
	closeOnce   sync.Once
	emitOnce    sync.Once

	// emitMu orders the single transcript emission against channel close,
	// since the silence timer runs outside the reader goroutine.
	emitMu sync.Mutex
	ended  bool

	accMu        sync.Mutex
	latest       string
	silenceTimer *time.Timer
}

// Messages on the AssemblyAI realtime stream.
type beginMessage struct {
	Type      string `json:"type"`
	ID        string `json:"id"`
	ExpiresAt int64  `json:"expires_at"`
}

type turnMessage struct {
	Type       string `json:"type"`
	Transcript string `json:"transcript"`
}

type terminationMessage struct {
	Type                   string  `json:"type"`
	AudioDurationSeconds   float64 `json:"audio_duration_seconds"`
	SessionDurationSeconds float64 `json:"session_duration_seconds"`
}

type errorMessage struct {
	Type  string `json:"type"`
	Error string `json:"error"`
}

func NewAssemblyAIRecognizer(apiKey string) *AssemblyAIRecognizer {
	return &AssemblyAIRecognizer{
		apiKey:      apiKey,
		transcripts: make(chan string, 1),
		audioData:   make(chan []byte, 1000),
		stopCh:      make(chan struct{}),
	}
}

// Transcripts returns the channel carrying the finalized utterance. It
// closes when the session ends.
func (r *AssemblyAIRecognizer) Transcripts() <-chan string { return r.transcripts }

// Connect establishes the websocket session and starts the reader and
// audio writer.
func (r *AssemblyAIRecognizer) Connect() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.connected {
		return nil
	}
	if r.apiKey == "" {
		return fmt.Errorf("assemblyai: api key is empty")
	}

	params := url.Values{}
	params.Set("sample_rate", "16000")
	params.Set("format_turns", "false")
	params.Set("encoding", "pcm_s16le")
	wsURL := fmt.Sprintf("wss://streaming.assemblyai.com/v3/ws?%s", params.Encode())

	dialer := websocket.Dialer{HandshakeTimeout: 10 * time.Second}
	conn, resp, err := dialer.Dial(wsURL, map[string][]string{"Authorization": {r.apiKey}})
	if err != nil {
		if resp != nil {
			log.Printf("assemblyai: connect failed with status %d", resp.StatusCode)
		}
		return fmt.Errorf("assemblyai: connect: %w", err)
	}

	r.conn = conn
	r.connected = true
	go r.handleMessages()
	go r.sendAudioData()
	return nil
}

// SendPCM16KLE queues microphone audio for delivery.
func (r *AssemblyAIRecognizer) SendPCM16KLE(pcm []byte) error {
	r.mu.RLock()
	defer r.mu.RUnlock()
	if !r.connected {
		return fmt.Errorf("assemblyai: not connected")
	}
	select {
	case r.audioData <- pcm:
	default:
		log.Printf("assemblyai: audio buffer full, dropping packet")
	}
	return nil
}

// Close terminates the session. Safe to call more than once.
func (r *AssemblyAIRecognizer) Close() error {
	r.closeOnce.Do(func() {
		close(r.stopCh)
		r.accMu.Lock()
		if r.silenceTimer != nil {
			_ = r.silenceTimer.Stop()
			r.silenceTimer = nil
		}
		r.accMu.Unlock()

		r.mu.Lock()
		if r.conn != nil {
			_ = r.conn.WriteJSON(map[string]string{"type": "Terminate"})
			_ = r.conn.Close()
		}
		r.connected = false
		r.mu.Unlock()
	})
	return nil
}

// handleMessages reads the stream until the connection drops. It owns
// closing the transcripts channel so readers always unblock.
func (r *AssemblyAIRecognizer) handleMessages() {
	defer func() {
		r.emitMu.Lock()
		r.ended = true
		close(r.transcripts)
		r.emitMu.Unlock()
	}()
	for {
		select {
		case <-r.stopCh:
			return
		default:
		}
		r.mu.RLock()
		conn := r.conn
		r.mu.RUnlock()
		if conn == nil {
			return
		}
		_, message, err := conn.ReadMessage()
		if err != nil {
			select {
			case <-r.stopCh:
			default:
				log.Printf("assemblyai: read: %v", err)
			}
			return
		}
		r.processMessage(message)
	}
}

func (r *AssemblyAIRecognizer) processMessage(message []byte) {
	var base map[string]any
	if err := json.Unmarshal(message, &base); err != nil {
		log.Printf("assemblyai: unmarshal message: %v", err)
		return
	}
	msgType, _ := base["type"].(string)
	switch msgType {
	case "Begin":
		var msg beginMessage
		if err := json.Unmarshal(message, &msg); err == nil {
			log.Printf("assemblyai: session %s began, expires %s", msg.ID, time.Unix(msg.ExpiresAt, 0).Format(time.RFC3339))
		}
	case "Turn":
		var msg turnMessage
		if err := json.Unmarshal(message, &msg); err != nil {
			log.Printf("assemblyai: unmarshal turn: %v", err)
			return
		}
		if msg.Transcript == "" {
			return
		}
		r.accMu.Lock()
		r.latest = msg.Transcript
		if r.silenceTimer == nil {
			r.silenceTimer = time.AfterFunc(silenceThreshold, r.finalizeDueToSilence)
		} else {
			_ = r.silenceTimer.Stop()
			r.silenceTimer.Reset(silenceThreshold)
		}
		r.accMu.Unlock()
	case "Termination":
		var msg terminationMessage
		if err := json.Unmarshal(message, &msg); err == nil {
			log.Printf("assemblyai: session terminated after %.2fs audio", msg.AudioDurationSeconds)
		}
		r.emitLatest()
	case "Error":
		var msg errorMessage
		if err := json.Unmarshal(message, &msg); err == nil {
			log.Printf("assemblyai: error: %s", msg.Error)
		}
	default:
		log.Printf("assemblyai: unknown message type %q", msgType)
	}
}

// finalizeDueToSilence fires after silenceThreshold without new transcript
// text. One utterance per session, so the first emission wins.
func (r *AssemblyAIRecognizer) finalizeDueToSilence() {
	select {
	case <-r.stopCh:
		return
	default:
	}
	r.emitLatest()
}

func (r *AssemblyAIRecognizer) emitLatest() {
	r.accMu.Lock()
	text := r.latest
	r.accMu.Unlock()
	if text == "" {
		return
	}
	r.emitOnce.Do(func() {
		r.emitMu.Lock()
		defer r.emitMu.Unlock()
		if r.ended {
			return
		}
		// Buffered channel, first emission only, so this never blocks.
		r.transcripts <- text
	})
}

// sendAudioData ships queued audio frames as binary messages.
func (r *AssemblyAIRecognizer) sendAudioData() {
	for {
		select {
		case <-r.stopCh:
			return
		case pcm := <-r.audioData:
			r.mu.RLock()
			conn := r.conn
			r.mu.RUnlock()
			if conn == nil {
				return
			}
			if err := conn.WriteMessage(websocket.BinaryMessage, pcm); err != nil {
				select {
				case <-r.stopCh:
				default:
					log.Printf("assemblyai: send audio: %v", err)
				}
				return
			}
		}
	}
}
