package chat

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/nasertech9/OIChatBot-AI-2025/internal/store"
)

type fakeConversation struct {
	chunks []string
	err    error
	// block holds the stream open until closed, for in-flight tests
	block chan struct{}
}

func (f *fakeConversation) Stream(ctx context.Context, text string) (<-chan string, <-chan error) {
	deltas := make(chan string, len(f.chunks)+1)
	errs := make(chan error, 1)
	go func() {
		defer close(deltas)
		defer close(errs)
		for _, c := range f.chunks {
			deltas <- c
		}
		if f.err != nil {
			errs <- f.err
			return
		}
		if f.block != nil {
			select {
			case <-f.block:
			case <-ctx.Done():
				errs <- ctx.Err()
			}
		}
	}()
	return deltas, errs
}

type fakeProvider struct {
	conv        *fakeConversation
	startErr    error
	starts      int32
	lastHistory []Message
}

func (f *fakeProvider) StartChat(ctx context.Context, history []Message) (Conversation, error) {
	atomic.AddInt32(&f.starts, 1)
	f.lastHistory = history
	if f.startErr != nil {
		return nil, f.startErr
	}
	return f.conv, nil
}

type fakeSpeaker struct {
	mu      sync.Mutex
	spoken  []string
	stopped int
}

func (f *fakeSpeaker) Speak(ctx context.Context, text string) {
	f.mu.Lock()
	f.spoken = append(f.spoken, text)
	f.mu.Unlock()
}

func (f *fakeSpeaker) StopAll() {
	f.mu.Lock()
	f.stopped++
	f.mu.Unlock()
}

func (f *fakeSpeaker) spokenTexts() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]string, len(f.spoken))
	copy(out, f.spoken)
	return out
}

func newTestSession(t *testing.T, provider Provider, speaker Speaker) (*Session, *store.Store) {
	t.Helper()
	records, err := store.Open(":memory:")
	if err != nil {
		t.Fatalf("open store: %v", err)
	}
	t.Cleanup(func() { _ = records.Close() })
	s := NewSession(provider, speaker, records)
	s.Initialize("alice")
	return s, records
}

func TestSendMessage_BlankInputIsNoOp(t *testing.T) {
	p := &fakeProvider{conv: &fakeConversation{chunks: []string{"hi"}}}
	s, _ := newTestSession(t, p, nil)

	s.SendMessage(context.Background(), "", nil)
	s.SendMessage(context.Background(), "   \t\n", nil)

	if n := len(s.CurrentLog()); n != 0 {
		t.Fatalf("log grew by %d on blank input, want 0", n)
	}
	if atomic.LoadInt32(&p.starts) != 0 {
		t.Fatalf("provider session created for blank input")
	}
}

func TestSendMessage_AppendsUserAndModelMessages(t *testing.T) {
	p := &fakeProvider{conv: &fakeConversation{chunks: []string{"Hel", "lo", " world"}}}
	s, _ := newTestSession(t, p, nil)

	s.SendMessage(context.Background(), "hi there", nil)

	logged := s.CurrentLog()
	if len(logged) != 2 {
		t.Fatalf("log length = %d, want 2", len(logged))
	}
	if logged[0].Role != RoleUser || logged[0].Text() != "hi there" {
		t.Fatalf("first message = %+v", logged[0])
	}
	if logged[1].Role != RoleModel || logged[1].Text() != "Hello world" {
		t.Fatalf("streamed reply = %q, want %q", logged[1].Text(), "Hello world")
	}

	// second send reuses the live handle
	s.SendMessage(context.Background(), "again", nil)
	if got := atomic.LoadInt32(&p.starts); got != 1 {
		t.Fatalf("provider sessions created = %d, want 1", got)
	}
	if n := len(s.CurrentLog()); n != 4 {
		t.Fatalf("log length after second send = %d, want 4", n)
	}
}

func TestSendMessage_ReplaysHistoryOnFirstSend(t *testing.T) {
	p := &fakeProvider{conv: &fakeConversation{chunks: []string{"ok"}}}
	records, err := store.Open(":memory:")
	if err != nil {
		t.Fatalf("open store: %v", err)
	}
	defer records.Close()
	records.SetHistoryJSON("alice", `[{"role":"user","parts":[{"text":"old q"}],"timestamp":"2024-01-01T00:00:00Z"},{"role":"model","parts":[{"text":"old a"}],"timestamp":"2024-01-01T00:00:01Z"}]`)

	s := NewSession(p, nil, records)
	s.Initialize("alice")
	s.SendMessage(context.Background(), "new q", nil)

	if len(p.lastHistory) != 2 {
		t.Fatalf("replayed history length = %d, want 2", len(p.lastHistory))
	}
	if p.lastHistory[0].Role != RoleUser || p.lastHistory[0].Text() != "old q" {
		t.Fatalf("history order not preserved: %+v", p.lastHistory[0])
	}
	if p.lastHistory[1].Role != RoleModel || p.lastHistory[1].Text() != "old a" {
		t.Fatalf("history order not preserved: %+v", p.lastHistory[1])
	}
}

func TestSendMessage_DeltaObserverSeesAccumulatedText(t *testing.T) {
	p := &fakeProvider{conv: &fakeConversation{chunks: []string{"Hel", "lo"}}}
	s, _ := newTestSession(t, p, nil)

	var seen []string
	s.SendMessage(context.Background(), "hi", func(full string) { seen = append(seen, full) })

	if len(seen) != 2 || seen[0] != "Hel" || seen[1] != "Hello" {
		t.Fatalf("observer saw %v", seen)
	}
}

func TestSendMessage_StreamErrorLeavesApology(t *testing.T) {
	p := &fakeProvider{conv: &fakeConversation{chunks: []string{"partial"}, err: errors.New("boom")}}
	s, _ := newTestSession(t, p, nil)

	s.SendMessage(context.Background(), "hi", nil)

	logged := s.CurrentLog()
	if len(logged) != 2 {
		t.Fatalf("log length = %d, want 2", len(logged))
	}
	if logged[1].Text() != apologyText {
		t.Fatalf("reply = %q, want apology; partial content must not survive", logged[1].Text())
	}
	if s.IsSending() {
		t.Fatalf("in-flight flag not released after failure")
	}
}

func TestSendMessage_StartChatErrorAppendsApology(t *testing.T) {
	p := &fakeProvider{startErr: errors.New("quota")}
	s, _ := newTestSession(t, p, nil)

	s.SendMessage(context.Background(), "hi", nil)

	logged := s.CurrentLog()
	if len(logged) != 2 {
		t.Fatalf("log length = %d, want 2", len(logged))
	}
	if logged[0].Role != RoleUser {
		t.Fatalf("user message must survive: %+v", logged[0])
	}
	if logged[1].Role != RoleModel || logged[1].Text() != apologyText {
		t.Fatalf("reply = %+v, want apology", logged[1])
	}
}

func TestSendMessage_OverlappingSendIsNoOp(t *testing.T) {
	block := make(chan struct{})
	p := &fakeProvider{conv: &fakeConversation{chunks: []string{"slow"}, block: block}}
	s, _ := newTestSession(t, p, nil)

	done := make(chan struct{})
	go func() {
		s.SendMessage(context.Background(), "first", nil)
		close(done)
	}()

	// wait until the first send is in flight
	deadline := time.Now().Add(time.Second)
	for !s.IsSending() && time.Now().Before(deadline) {
		time.Sleep(time.Millisecond)
	}
	if !s.IsSending() {
		t.Fatalf("first send never became in flight")
	}

	s.SendMessage(context.Background(), "second", nil)
	close(block)
	<-done

	logged := s.CurrentLog()
	if len(logged) != 2 {
		t.Fatalf("log length = %d, want 2 (overlapping send must not append)", len(logged))
	}
}

func TestSendMessage_SpeaksReplyWhenEnabled(t *testing.T) {
	p := &fakeProvider{conv: &fakeConversation{chunks: []string{"Hello"}}}
	sp := &fakeSpeaker{}
	s, _ := newTestSession(t, p, sp)

	s.ToggleSpeechOutput()
	s.SendMessage(context.Background(), "hi", nil)

	deadline := time.Now().Add(time.Second)
	for time.Now().Before(deadline) && len(sp.spokenTexts()) == 0 {
		time.Sleep(2 * time.Millisecond)
	}
	spoken := sp.spokenTexts()
	if len(spoken) != 1 || spoken[0] != "Hello" {
		t.Fatalf("spoken = %v, want [Hello]", spoken)
	}
}

func TestSendMessage_SilentWhenSpeechDisabled(t *testing.T) {
	p := &fakeProvider{conv: &fakeConversation{chunks: []string{"Hello"}}}
	sp := &fakeSpeaker{}
	s, _ := newTestSession(t, p, sp)

	s.SendMessage(context.Background(), "hi", nil)
	time.Sleep(20 * time.Millisecond)
	if spoken := sp.spokenTexts(); len(spoken) != 0 {
		t.Fatalf("spoken = %v, want none", spoken)
	}
}

func TestNewChat_CancelsInFlightSend(t *testing.T) {
	block := make(chan struct{})
	defer close(block)
	p := &fakeProvider{conv: &fakeConversation{block: block}}
	sp := &fakeSpeaker{}
	s, records := newTestSession(t, p, sp)

	done := make(chan struct{})
	go func() {
		s.SendMessage(context.Background(), "hi", nil)
		close(done)
	}()

	deadline := time.Now().Add(time.Second)
	for !s.IsSending() && time.Now().Before(deadline) {
		time.Sleep(time.Millisecond)
	}
	if !s.IsSending() {
		t.Fatalf("send never became in flight")
	}

	s.NewChat()

	// cancellation must unblock the send without closing the stream fake
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatalf("send did not unblock after NewChat")
	}

	if n := len(s.CurrentLog()); n != 0 {
		t.Fatalf("log length after clear = %d, want 0 (no apology for a cancelled send)", n)
	}
	if _, ok := records.HistoryJSON("alice"); ok {
		t.Fatalf("persisted history must stay erased")
	}
	if s.IsSending() {
		t.Fatalf("in-flight flag not released")
	}
}

func TestNewChat_ClearsEverything(t *testing.T) {
	p := &fakeProvider{conv: &fakeConversation{chunks: []string{"Hello"}}}
	sp := &fakeSpeaker{}
	s, records := newTestSession(t, p, sp)

	s.SendMessage(context.Background(), "hi", nil)
	if _, ok := records.HistoryJSON("alice"); !ok {
		t.Fatalf("expected history persisted before clear")
	}

	s.NewChat()

	if n := len(s.CurrentLog()); n != 0 {
		t.Fatalf("log length after clear = %d, want 0", n)
	}
	if _, ok := records.HistoryJSON("alice"); ok {
		t.Fatalf("persisted history must be erased")
	}
	sp.mu.Lock()
	stopped := sp.stopped
	sp.mu.Unlock()
	if stopped != 1 {
		t.Fatalf("StopAll calls = %d, want 1", stopped)
	}

	// the live handle must be recreated on the next send
	s.SendMessage(context.Background(), "fresh", nil)
	if got := atomic.LoadInt32(&p.starts); got != 2 {
		t.Fatalf("provider sessions created = %d, want 2", got)
	}
	if len(p.lastHistory) != 0 {
		t.Fatalf("fresh session must replay an empty history, got %d turns", len(p.lastHistory))
	}
}

func TestInitialize_LoadsPersistedLog(t *testing.T) {
	p := &fakeProvider{conv: &fakeConversation{chunks: []string{"ok"}}}
	s, records := newTestSession(t, p, nil)

	s.SendMessage(context.Background(), "remember me", nil)

	// a new session for the same user sees the saved log
	s2 := NewSession(p, nil, records)
	s2.Initialize("alice")
	if n := len(s2.CurrentLog()); n != 2 {
		t.Fatalf("reloaded log length = %d, want 2", n)
	}

	// a different user starts empty
	s2.Initialize("bob")
	if n := len(s2.CurrentLog()); n != 0 {
		t.Fatalf("bob's log length = %d, want 0", n)
	}
}

func TestToggleSpeechOutput_Persists(t *testing.T) {
	s, records := newTestSession(t, nil, nil)

	if s.SpeechOutputEnabled() {
		t.Fatalf("speech output must default off")
	}
	if !s.ToggleSpeechOutput() {
		t.Fatalf("toggle should enable")
	}
	if !records.TTSEnabled("alice") {
		t.Fatalf("preference not persisted")
	}
	if s.ToggleSpeechOutput() {
		t.Fatalf("toggle should disable")
	}
}
