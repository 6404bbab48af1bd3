package tts

import (
	"context"
	"encoding/base64"
	"encoding/binary"
	"fmt"
	"log"
	"strings"
	"sync"
	"time"
)

// Synthesized audio format: base64-encoded 16-bit little-endian PCM.
const (
	SampleRate = 24000
	Channels   = 1
)

// Engine produces base64-encoded PCM16 audio for a text string. An empty
// string result with a nil error means the provider had nothing to say.
type Engine interface {
	Synthesize(ctx context.Context, text string) (string, error)
}

// Clock reports the playback clock in seconds. It exists so scheduling can
// be tested without real time.
type Clock interface {
	Now() float64
}

type wallClock struct{ start time.Time }

func (c wallClock) Now() float64 { return time.Since(c.start).Seconds() }

// Sink receives the PCM16 bytes of scheduled clips, strictly in playback
// order. Reset drops anything the sink has queued.
type Sink interface {
	WritePCM(pcm []byte)
	Reset()
}

type nopSink struct{}

func (nopSink) WritePCM([]byte) {}
func (nopSink) Reset()          {}

// Decode reverses the base64 transport encoding.
func Decode(encoded string) ([]byte, error) {
	raw, err := base64.StdEncoding.DecodeString(encoded)
	if err != nil {
		return nil, fmt.Errorf("tts: decode audio payload: %w", err)
	}
	return raw, nil
}

// Buffer holds decoded audio as per-channel sample frames in [-1, 1].
type Buffer struct {
	Data       [][]float32
	SampleRate int
}

// Duration returns the clip length in seconds.
func (b *Buffer) Duration() float64 {
	if len(b.Data) == 0 || b.SampleRate <= 0 {
		return 0
	}
	return float64(len(b.Data[0])) / float64(b.SampleRate)
}

// PCM16 re-interleaves the frames back into little-endian PCM16 bytes.
func (b *Buffer) PCM16() []byte {
	if len(b.Data) == 0 {
		return nil
	}
	channels := len(b.Data)
	frames := len(b.Data[0])
	out := make([]byte, 2*channels*frames)
	for i := 0; i < frames; i++ {
		for ch := 0; ch < channels; ch++ {
			v := b.Data[ch][i] * 32768.0
			if v > 32767 {
				v = 32767
			}
			if v < -32768 {
				v = -32768
			}
			binary.LittleEndian.PutUint16(out[2*(i*channels+ch):], uint16(int16(v)))
		}
	}
	return out
}

// ToAudioFrames reinterprets raw as little-endian PCM16 samples interleaved
// by channel, normalized to [-1, 1] and de-interleaved per channel.
func ToAudioFrames(raw []byte, sampleRate, channels int) (*Buffer, error) {
	if sampleRate <= 0 || channels <= 0 {
		return nil, fmt.Errorf("tts: invalid audio format %d Hz / %d ch", sampleRate, channels)
	}
	if len(raw)%2 != 0 {
		return nil, fmt.Errorf("tts: pcm16 payload length %d is not sample aligned", len(raw))
	}
	samples := len(raw) / 2
	if samples%channels != 0 {
		return nil, fmt.Errorf("tts: pcm16 payload of %d samples is not frame aligned for %d channels", samples, channels)
	}
	frames := samples / channels
	data := make([][]float32, channels)
	for ch := range data {
		data[ch] = make([]float32, frames)
	}
	for i := 0; i < frames; i++ {
		for ch := 0; ch < channels; ch++ {
			s := int16(binary.LittleEndian.Uint16(raw[2*(i*channels+ch):]))
			data[ch][i] = float32(s) / 32768.0
		}
	}
	return &Buffer{Data: data, SampleRate: sampleRate}, nil
}

// playback is one scheduled clip in flight.
type playback struct {
	stop chan struct{}
	once sync.Once
}

func (p *playback) halt() { p.once.Do(func() { close(p.stop) }) }

// Pipeline owns the playback timeline: a monotonic cursor plus the set of
// currently scheduled clips. Clips play strictly sequentially in Schedule
// order, gap-free when synthesis keeps up, never overlapping.
type Pipeline struct {
	engine Engine
	sink   Sink
	clock  Clock

	mu     sync.Mutex
	cursor float64
	active map[*playback]struct{}
}

// NewPipeline constructs a pipeline. sink and clock may be nil; a nop sink
// and a wall clock are used.
func NewPipeline(engine Engine, sink Sink, clock Clock) *Pipeline {
	if sink == nil {
		sink = nopSink{}
	}
	if clock == nil {
		clock = wallClock{start: time.Now()}
	}
	return &Pipeline{
		engine: engine,
		sink:   sink,
		clock:  clock,
		active: make(map[*playback]struct{}),
	}
}

// Speak synthesizes text and schedules the result onto the timeline. Every
// failure is logged and swallowed; speech is an enhancement, not core
// functionality.
func (p *Pipeline) Speak(ctx context.Context, text string) {
	if strings.TrimSpace(text) == "" {
		return
	}
	if p.engine == nil {
		return
	}
	encoded, err := p.engine.Synthesize(ctx, text)
	if err != nil {
		log.Printf("tts: synthesize: %v", err)
		return
	}
	if encoded == "" {
		return
	}
	raw, err := Decode(encoded)
	if err != nil {
		log.Printf("tts: %v", err)
		return
	}
	buf, err := ToAudioFrames(raw, SampleRate, Channels)
	if err != nil {
		log.Printf("tts: %v", err)
		return
	}
	p.Schedule(buf)
}

// Schedule queues buf for playback at max(clock now, cursor) and advances
// the cursor past it. It returns the computed start time.
func (p *Pipeline) Schedule(buf *Buffer) float64 {
	p.mu.Lock()
	now := p.clock.Now()
	start := now
	if p.cursor > start {
		start = p.cursor
	}
	p.cursor = start + buf.Duration()
	h := &playback{stop: make(chan struct{})}
	p.active[h] = struct{}{}
	p.mu.Unlock()

	go p.play(h, buf, start-now)
	return start
}

func (p *Pipeline) play(h *playback, buf *Buffer, delay float64) {
	defer func() {
		p.mu.Lock()
		delete(p.active, h)
		p.mu.Unlock()
	}()
	if delay > 0 {
		select {
		case <-h.stop:
			return
		case <-time.After(seconds(delay)):
		}
	}
	select {
	case <-h.stop:
		return
	default:
	}
	p.sink.WritePCM(buf.PCM16())
	select {
	case <-h.stop:
	case <-time.After(seconds(buf.Duration())):
	}
}

// StopAll halts every scheduled clip, clears the active set, and resets the
// cursor to zero.
func (p *Pipeline) StopAll() {
	p.mu.Lock()
	handles := make([]*playback, 0, len(p.active))
	for h := range p.active {
		handles = append(handles, h)
	}
	p.active = make(map[*playback]struct{})
	p.cursor = 0
	p.mu.Unlock()

	for _, h := range handles {
		h.halt()
	}
	p.sink.Reset()
}

// ActiveCount reports how many clips are currently scheduled or playing.
func (p *Pipeline) ActiveCount() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.active)
}

func seconds(s float64) time.Duration {
	return time.Duration(s * float64(time.Second))
}
