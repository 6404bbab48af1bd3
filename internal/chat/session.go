package chat

import (
	"context"
	"encoding/json"
	"log"
	"strings"
	"sync"

	"github.com/nasertech9/OIChatBot-AI-2025/internal/store"
)

// apologyText replaces the model reply when a send fails for any reason.
const apologyText = "Sorry, I encountered an error. Please try again."

// Conversation is a live provider-side chat context. It carries the turn
// history, so each Stream call only needs the new user text.
type Conversation interface {
	// Stream sends one user turn and returns text deltas in generation
	// order plus an error channel. Both channels close when the turn ends.
	Stream(ctx context.Context, text string) (<-chan string, <-chan error)
}

// Provider creates provider-side conversations seeded with prior history.
type Provider interface {
	StartChat(ctx context.Context, history []Message) (Conversation, error)
}

// Speaker converts finished assistant replies to audio. Failures must stay
// internal to the implementation; the session never waits on it.
type Speaker interface {
	Speak(ctx context.Context, text string)
	StopAll()
}

// Session owns the ordered message log and the live streaming exchange with
// the provider for one logged-in user. At most one send is in flight at a
// time.
type Session struct {
	provider Provider
	speaker  Speaker
	records  *store.Store

	mu           sync.Mutex
	username     string
	log          []Message
	live         Conversation
	sending      bool
	openModel    int // index of the streaming model message, -1 when closed
	speechOn     bool
	cancelStream context.CancelFunc
	// generation bumps on Initialize and NewChat so a stream outliving a
	// clear cannot write into the fresh log.
	generation uint64
}

// NewSession constructs a Session. provider and speaker may be nil; sends
// then fail into the apology path and speech output stays silent.
func NewSession(provider Provider, speaker Speaker, records *store.Store) *Session {
	return &Session{
		provider:  provider,
		speaker:   speaker,
		records:   records,
		openModel: -1,
	}
}

// Initialize scopes the session to username, loading any persisted log and
// the per-user speech preference. Any live provider handle is discarded.
func (s *Session) Initialize(username string) {
	var history []Message
	if raw, ok := s.records.HistoryJSON(username); ok {
		if err := json.Unmarshal([]byte(raw), &history); err != nil {
			log.Printf("chat: history for %s corrupt, starting empty: %v", username, err)
			history = nil
		}
	}
	speechOn := s.records.TTSEnabled(username)

	s.mu.Lock()
	s.username = username
	s.log = history
	s.live = nil
	s.openModel = -1
	s.speechOn = speechOn
	s.generation++
	s.mu.Unlock()
}

// CurrentLog returns a copy of the message log.
func (s *Session) CurrentLog() []Message {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]Message, len(s.log))
	copy(out, s.log)
	return out
}

// IsSending reports whether a send is in flight.
func (s *Session) IsSending() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.sending
}

// SpeechOutputEnabled reports the per-user speech-output preference.
func (s *Session) SpeechOutputEnabled() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.speechOn
}

// ToggleSpeechOutput flips and persists the speech-output preference,
// returning the new state.
func (s *Session) ToggleSpeechOutput() bool {
	s.mu.Lock()
	s.speechOn = !s.speechOn
	enabled := s.speechOn
	username := s.username
	s.mu.Unlock()
	if username != "" {
		s.records.SetTTSEnabled(username, enabled)
	}
	return enabled
}

// SendMessage appends text as a user turn and streams the model reply into
// the log. Blank input and overlapping sends are no-ops. onDelta, when
// non-nil, observes the accumulated reply text after each applied delta.
// SendMessage returns when the reply is complete or has failed.
func (s *Session) SendMessage(ctx context.Context, text string, onDelta func(full string)) {
	text = strings.TrimSpace(text)
	if text == "" {
		return
	}

	s.mu.Lock()
	if s.sending {
		s.mu.Unlock()
		return
	}
	s.sending = true
	gen := s.generation
	history := make([]Message, len(s.log))
	copy(history, s.log)
	s.log = append(s.log, newMessage(RoleUser, text))
	s.persistLocked()
	live := s.live
	ctx, cancel := context.WithCancel(ctx)
	s.cancelStream = cancel
	s.mu.Unlock()

	defer func() {
		cancel()
		s.mu.Lock()
		s.sending = false
		s.cancelStream = nil
		s.openModel = -1
		s.mu.Unlock()
	}()

	if live == nil {
		if s.provider == nil {
			log.Printf("chat: no provider configured")
			s.fail(gen)
			return
		}
		// Recreate lazily, exactly once per login, from the replayed log.
		created, err := s.provider.StartChat(ctx, history)
		if err != nil {
			log.Printf("chat: start provider session: %v", err)
			s.fail(gen)
			return
		}
		s.mu.Lock()
		if s.generation == gen {
			s.live = created
		}
		s.mu.Unlock()
		live = created
	}

	deltas, errs := live.Stream(ctx, text)

	s.mu.Lock()
	s.openModel = len(s.log)
	s.log = append(s.log, newMessage(RoleModel, ""))
	s.mu.Unlock()

	var acc strings.Builder
	for deltas != nil || errs != nil {
		select {
		case d, ok := <-deltas:
			if !ok {
				deltas = nil
				continue
			}
			acc.WriteString(d)
			s.applyDelta(gen, acc.String())
			if onDelta != nil {
				onDelta(acc.String())
			}
		case err, ok := <-errs:
			if !ok {
				errs = nil
				continue
			}
			if err != nil {
				log.Printf("chat: stream: %v", err)
				s.fail(gen)
				return
			}
		}
	}

	s.mu.Lock()
	if s.generation == gen {
		s.persistLocked()
	}
	speak := s.speechOn
	s.mu.Unlock()

	if speak && strings.TrimSpace(acc.String()) != "" && s.speaker != nil {
		// Fire and forget; send completion never waits on synthesis.
		go s.speaker.Speak(context.Background(), acc.String())
	}
}

// applyDelta overwrites the open model message with the accumulated text.
func (s *Session) applyDelta(gen uint64, full string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.generation != gen {
		return
	}
	if s.openModel < 0 || s.openModel >= len(s.log) {
		return
	}
	s.log[s.openModel].Parts = []Part{{Text: full}}
}

// fail replaces the open model placeholder with the apology message, or
// appends one when the failure happened before the placeholder existed.
// Partial reply content is not preserved.
func (s *Session) fail(gen uint64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.generation != gen {
		// The log was cleared out from under this send; leave it alone.
		return
	}
	if s.openModel >= 0 && s.openModel < len(s.log) {
		s.log[s.openModel].Parts = []Part{{Text: apologyText}}
	} else {
		s.log = append(s.log, newMessage(RoleModel, apologyText))
	}
	s.persistLocked()
}

// NewChat empties the log, erases the persisted history, discards the live
// provider handle, cancels any in-flight stream, and stops all playback.
func (s *Session) NewChat() {
	s.mu.Lock()
	username := s.username
	cancel := s.cancelStream
	s.log = nil
	s.live = nil
	s.openModel = -1
	s.generation++
	s.mu.Unlock()

	if cancel != nil {
		cancel()
	}
	if username != "" {
		s.records.RemoveHistory(username)
	}
	if s.speaker != nil {
		s.speaker.StopAll()
	}
}

// persistLocked writes the log for the current user. The log is persisted
// whenever it is non-empty; erasure happens only through NewChat.
func (s *Session) persistLocked() {
	if s.username == "" || len(s.log) == 0 {
		return
	}
	raw, err := json.Marshal(s.log)
	if err != nil {
		log.Printf("chat: marshal history: %v", err)
		return
	}
	s.records.SetHistoryJSON(s.username, string(raw))
}
