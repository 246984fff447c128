package playback

import (
	"fmt"
	"sync"
	"time"

	"github.com/ebitengine/oto/v3"
)

// Compile-time interface assertion.
var _ Sink = (*OtoSink)(nil)

// OtoSink plays audio through the system's default output device using oto.
//
// It feeds the device a continuous mono s16le stream: silence where nothing
// is scheduled, mixed samples where chunks overlap. The continuous stream is
// what keeps the playback clock monotonic even between responses.
//
// oto allows only one Context per process, so create at most one OtoSink.
type OtoSink struct {
	rate   int
	player *oto.Player
	tl     *timeline

	mu     sync.Mutex
	closed bool
}

// NewOtoSink opens the default output device at the given sample rate and
// starts the playback stream.
func NewOtoSink(sampleRate int) (*OtoSink, error) {
	ctx, ready, err := oto.NewContext(&oto.NewContextOptions{
		SampleRate:   sampleRate,
		ChannelCount: 1,
		Format:       oto.FormatSignedInt16LE,
	})
	if err != nil {
		return nil, fmt.Errorf("playback: open output device: %w", err)
	}
	<-ready

	tl := &timeline{}
	player := ctx.NewPlayer(tl)
	player.Play()

	return &OtoSink{
		rate:   sampleRate,
		player: player,
		tl:     tl,
	}, nil
}

// Now returns the playback clock position, corrected for the device buffer
// that oto keeps ahead of the audible output.
func (s *OtoSink) Now() time.Duration {
	emitted := s.tl.emitted()
	buffered := s.player.BufferedSize() / 2 // bytes to samples
	pos := emitted - buffered
	if pos < 0 {
		pos = 0
	}
	return time.Duration(pos) * time.Second / time.Duration(s.rate)
}

// PlayAt mixes the samples onto the timeline at the given position.
func (s *OtoSink) PlayAt(samples []float32, at time.Duration) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return fmt.Errorf("playback: sink closed")
	}
	idx := int(at * time.Duration(s.rate) / time.Second)
	s.tl.mix(samples, idx)
	return nil
}

// Flush discards everything scheduled on the timeline.
func (s *OtoSink) Flush() {
	s.tl.flush()
}

// Close stops the player and releases the device. Idempotent.
func (s *OtoSink) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil
	}
	s.closed = true
	return s.player.Close()
}

// ── timeline ──────────────────────────────────────────────────────────────────

// timeline is an infinite mono sample stream read by the oto player. Sample
// index 0 corresponds to the moment the sink was created; positions where no
// audio was mixed read as silence.
type timeline struct {
	mu  sync.Mutex
	pos int       // absolute index of the next sample handed to the player
	buf []float32 // scheduled audio, buf[0] is absolute index pos
}

func (t *timeline) emitted() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.pos
}

// mix adds samples at absolute index idx, clipping the part that has already
// been handed to the player.
func (t *timeline) mix(samples []float32, idx int) {
	t.mu.Lock()
	defer t.mu.Unlock()

	if idx < t.pos {
		skip := t.pos - idx
		if skip >= len(samples) {
			return
		}
		samples = samples[skip:]
		idx = t.pos
	}
	off := idx - t.pos
	if need := off + len(samples); need > len(t.buf) {
		grown := make([]float32, need)
		copy(grown, t.buf)
		t.buf = grown
	}
	for i, v := range samples {
		t.buf[off+i] += v
	}
}

func (t *timeline) flush() {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.buf = nil
}

// Read implements io.Reader for the oto player, producing s16le bytes. It
// never returns io.EOF: gaps in the schedule come out as silence.
func (t *timeline) Read(p []byte) (int, error) {
	n := len(p) / 2
	t.mu.Lock()
	for i := range n {
		var v float32
		if i < len(t.buf) {
			v = t.buf[i]
		}
		if v > 1 {
			v = 1
		} else if v < -1 {
			v = -1
		}
		s := int16(v * 32767)
		p[2*i] = byte(s)
		p[2*i+1] = byte(s >> 8)
	}
	if n >= len(t.buf) {
		t.buf = t.buf[:0]
	} else {
		t.buf = t.buf[n:]
	}
	t.pos += n
	t.mu.Unlock()
	return n * 2, nil
}
