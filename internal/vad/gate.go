// Package vad implements the energy-based voice activity gate that sits
// between microphone capture and the uplink encoder.
//
// The gate measures the RMS energy of each captured frame. Frames below the
// threshold (or captured while muted) have their samples replaced with
// silence but are still forwarded, so the uplink keeps a steady frame
// cadence and the remote end's own voice detection sees continuous audio.
//
// A short hangover keeps the "speaking" state latched for a while after the
// last loud frame, so natural pauses inside a sentence do not flap the state.
package vad

import (
	"sync"
	"time"

	"github.com/baominh/greeter/pkg/audio"
)

const (
	// DefaultThreshold is the RMS level above which a frame counts as speech.
	// Tuned for a store-counter microphone at normal talking distance.
	DefaultThreshold = 0.003

	// DefaultHangover is how long the speaking state persists after the last
	// frame that crossed the threshold.
	DefaultHangover = 300 * time.Millisecond
)

// Option configures a Gate.
type Option func(*Gate)

// WithThreshold overrides the RMS speech threshold.
func WithThreshold(threshold float64) Option {
	return func(g *Gate) { g.threshold = threshold }
}

// WithHangover overrides the speaking hangover duration.
func WithHangover(d time.Duration) Option {
	return func(g *Gate) { g.hangover = d }
}

// WithClock overrides the time source. Used in tests.
func WithClock(now func() time.Time) Option {
	return func(g *Gate) { g.now = now }
}

// WithOnSpeakingChange registers a callback invoked on every speaking state
// transition. The callback runs synchronously inside Process; it must not
// block.
func WithOnSpeakingChange(fn func(speaking bool)) Option {
	return func(g *Gate) { g.onChange = fn }
}

// Gate is an RMS-based voice activity gate. Safe for concurrent use.
type Gate struct {
	threshold float64
	hangover  time.Duration
	now       func() time.Time
	onChange  func(bool)

	mu       sync.Mutex
	muted    bool
	speaking bool
	lastLoud time.Time
	zeroes   []float32
}

// NewGate creates a Gate with the given options.
func NewGate(opts ...Option) *Gate {
	g := &Gate{
		threshold: DefaultThreshold,
		hangover:  DefaultHangover,
		now:       time.Now,
	}
	for _, o := range opts {
		o(g)
	}
	return g
}

// Process inspects one captured frame and returns the frame to forward
// upstream. Loud frames pass through unchanged; quiet or muted frames are
// returned with all samples zeroed so the uplink cadence is preserved.
//
// The RMS measurement always runs on the original samples, so the speaking
// indicator stays accurate even while muted.
func (g *Gate) Process(frame audio.Frame) audio.Frame {
	level := audio.RMS(frame.Samples)
	loud := level >= g.threshold

	g.mu.Lock()
	now := g.now()
	if loud && !g.muted {
		g.lastLoud = now
	}
	speaking := !g.muted && !g.lastLoud.IsZero() && now.Sub(g.lastLoud) <= g.hangover
	changed := speaking != g.speaking
	g.speaking = speaking
	muted := g.muted

	var out audio.Frame
	if loud && !muted {
		out = frame
	} else {
		out = frame
		out.Samples = g.silence(len(frame.Samples))
	}
	g.mu.Unlock()

	if changed && g.onChange != nil {
		g.onChange(speaking)
	}
	return out
}

// silence returns a zeroed sample buffer of length n. The buffer is reused
// between calls; callers must not retain it past the next Process call.
func (g *Gate) silence(n int) []float32 {
	if cap(g.zeroes) < n {
		g.zeroes = make([]float32, n)
	}
	return g.zeroes[:n]
}

// Speaking reports whether the user is currently considered to be speaking.
// The hangover decay is evaluated against the clock, so the state expires
// even when the frame cadence stops.
func (g *Gate) Speaking() bool {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.muted || g.lastLoud.IsZero() {
		return false
	}
	return g.now().Sub(g.lastLoud) <= g.hangover
}

// SetMuted mutes or unmutes the gate. While muted, every frame is forwarded
// as silence and the speaking state is forced off.
func (g *Gate) SetMuted(muted bool) {
	g.mu.Lock()
	g.muted = muted
	var changed bool
	if muted && g.speaking {
		g.speaking = false
		g.lastLoud = time.Time{}
		changed = true
	}
	onChange := g.onChange
	g.mu.Unlock()

	if changed && onChange != nil {
		onChange(false)
	}
}

// Muted reports whether the gate is muted.
func (g *Gate) Muted() bool {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.muted
}
