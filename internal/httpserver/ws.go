package httpserver

import (
	"log"
	"net/http"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/labstack/echo/v4"

	"github.com/nasertech9/OIChatBot-AI-2025/internal/audio"
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  4096,
	WriteBufferSize: 4096,
	CheckOrigin:     func(r *http.Request) bool { return true },
}

// micConn is the writable side of the microphone socket. Events flow out as
// JSON while binary audio flows in.
type micConn interface {
	WriteJSON(v any) error
}

type micEvent struct {
	Type      string `json:"type"`
	Text      string `json:"text,omitempty"`
	Listening bool   `json:"listening"`
}

func (s *Server) onTranscript(text string) {
	s.sendMicEvent(micEvent{Type: "transcript", Text: text})
}

func (s *Server) onListening(listening bool) {
	s.sendMicEvent(micEvent{Type: "listening", Listening: listening})
}

func (s *Server) sendMicEvent(ev micEvent) {
	s.micMu.Lock()
	conn := s.mic
	s.micMu.Unlock()
	if conn == nil {
		return
	}
	if err := conn.WriteJSON(ev); err != nil {
		log.Printf("httpserver: mic event write: %v", err)
	}
}

// handleMicSocket accepts microphone audio. Binary messages are PCM16 16 kHz
// little-endian mono and are forwarded to the active recognizer session;
// transcript and listening-state events are pushed back as JSON. One mic
// connection at a time; a new one replaces the previous.
func (s *Server) handleMicSocket(c echo.Context) error {
	conn, err := upgrader.Upgrade(c.Response(), c.Request(), nil)
	if err != nil {
		return err
	}
	id := uuid.NewString()
	log.Printf("httpserver: mic %s connected", id)

	s.micMu.Lock()
	s.mic = conn
	s.micMu.Unlock()

	defer func() {
		s.micMu.Lock()
		if s.mic == conn {
			s.mic = nil
		}
		s.micMu.Unlock()
		if s.bridge != nil {
			s.bridge.Stop()
		}
		_ = conn.Close()
		log.Printf("httpserver: mic %s disconnected", id)
	}()

	for {
		msgType, data, err := conn.ReadMessage()
		if err != nil {
			return nil
		}
		if msgType == websocket.BinaryMessage && s.bridge != nil {
			s.bridge.FeedPCM16KLE(data)
		}
	}
}

// handleAudioSocket streams synthesized speech out as paced Opus frames.
// The connection attaches a fresh encoder to the playback switch and holds
// it until the peer goes away.
func (s *Server) handleAudioSocket(c echo.Context) error {
	conn, err := upgrader.Upgrade(c.Response(), c.Request(), nil)
	if err != nil {
		return err
	}
	id := uuid.NewString()

	writer, err := audio.NewPacedOpusWriter(audio.NewWebsocketFrameWriter(conn))
	if err != nil {
		log.Printf("httpserver: audio %s: opus encoder: %v", id, err)
		_ = conn.Close()
		return nil
	}
	log.Printf("httpserver: audio %s connected", id)
	s.playback.Attach(writer)

	defer func() {
		s.playback.Detach(writer)
		writer.Close()
		_ = conn.Close()
		log.Printf("httpserver: audio %s disconnected", id)
	}()

	// reads only to detect disconnect
	for {
		if _, _, err := conn.ReadMessage(); err != nil {
			return nil
		}
	}
}
