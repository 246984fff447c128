package playback

import (
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/baominh/greeter/pkg/audio"
)

// minRearm bounds how quickly the end-of-speech timer may re-arm, so a
// slightly early wakeup does not spin.
const minRearm = 5 * time.Millisecond

// Option configures a Scheduler.
type Option func(*Scheduler)

// WithLogger sets the logger used for scheduling diagnostics.
func WithLogger(log *slog.Logger) Option {
	return func(s *Scheduler) { s.log = log }
}

// WithOnSpeakingChange registers a callback invoked on every transition of
// the model-speaking state. The callback must not block and must not call
// back into the Scheduler.
func WithOnSpeakingChange(fn func(speaking bool)) Option {
	return func(s *Scheduler) { s.onSpeaking = fn }
}

// WithOnLag registers a callback invoked when a chunk arrives after the
// previous one finished playing, with the size of the audible gap. Used to
// feed the scheduling lag metric.
func WithOnLag(fn func(lag time.Duration)) Option {
	return func(s *Scheduler) { s.onLag = fn }
}

// Scheduler queues downlink PCM chunks for gapless playback. Safe for
// concurrent use.
type Scheduler struct {
	sink       Sink
	rate       int
	log        *slog.Logger
	onSpeaking func(bool)
	onLag      func(time.Duration)

	mu       sync.Mutex
	horizon  time.Duration // end of the last scheduled chunk
	speaking bool
	endTimer *time.Timer
	closed   bool
}

// NewScheduler creates a Scheduler that plays s16le PCM at rate Hz through
// the given sink.
func NewScheduler(sink Sink, rate int, opts ...Option) *Scheduler {
	s := &Scheduler{
		sink: sink,
		rate: rate,
		log:  slog.Default(),
	}
	for _, o := range opts {
		o(s)
	}
	return s
}

// Enqueue decodes an s16le downlink chunk and schedules it directly after
// the previously enqueued audio. If playback has already run past the
// horizon, the chunk starts at the current position instead and the gap is
// reported through the lag callback.
func (s *Scheduler) Enqueue(pcm []byte) error {
	samples := audio.DecodeS16LE(pcm)
	if len(samples) == 0 {
		return nil
	}
	dur := time.Duration(len(samples)) * time.Second / time.Duration(s.rate)

	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil
	}
	now := s.sink.Now()
	at := s.horizon
	if now > at {
		// The stream fell behind: the previous chunk already finished.
		if at > 0 && s.speaking && s.onLag != nil {
			defer s.onLag(now - at)
		}
		at = now
	}
	if err := s.sink.PlayAt(samples, at); err != nil {
		s.mu.Unlock()
		return fmt.Errorf("playback: schedule chunk: %w", err)
	}
	s.horizon = at + dur

	edge := !s.speaking
	s.speaking = true
	s.armEndTimerLocked(s.horizon - now)
	s.mu.Unlock()

	if edge && s.onSpeaking != nil {
		s.onSpeaking(true)
	}
	return nil
}

// Interrupt discards every scheduled chunk and resets the horizon, so the
// next Enqueue starts playing immediately. Called on barge-in.
func (s *Scheduler) Interrupt() {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return
	}
	s.sink.Flush()
	s.horizon = 0
	edge := s.speaking
	s.speaking = false
	if s.endTimer != nil {
		s.endTimer.Stop()
	}
	s.mu.Unlock()

	if edge && s.onSpeaking != nil {
		s.onSpeaking(false)
	}
}

// Speaking reports whether scheduled audio is still playing.
func (s *Scheduler) Speaking() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.speaking
}

// Horizon returns the timeline position where the next chunk would be
// scheduled. Mainly useful for tests and diagnostics.
func (s *Scheduler) Horizon() time.Duration {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.horizon
}

// Close stops the end-of-speech timer and closes the sink. Idempotent.
func (s *Scheduler) Close() error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil
	}
	s.closed = true
	if s.endTimer != nil {
		s.endTimer.Stop()
	}
	s.mu.Unlock()
	return s.sink.Close()
}

// armEndTimerLocked (re)schedules the wakeup that flips speaking back to
// false once the horizon has played out. Must be called with s.mu held.
func (s *Scheduler) armEndTimerLocked(in time.Duration) {
	if in < minRearm {
		in = minRearm
	}
	if s.endTimer == nil {
		s.endTimer = time.AfterFunc(in, s.onEndTimer)
		return
	}
	s.endTimer.Reset(in)
}

// onEndTimer checks whether playback has drained past the horizon. If more
// audio was scheduled in the meantime, the timer re-arms.
func (s *Scheduler) onEndTimer() {
	s.mu.Lock()
	if s.closed || !s.speaking {
		s.mu.Unlock()
		return
	}
	now := s.sink.Now()
	if now < s.horizon {
		s.armEndTimerLocked(s.horizon - now)
		s.mu.Unlock()
		return
	}
	s.speaking = false
	s.mu.Unlock()

	if s.onSpeaking != nil {
		s.onSpeaking(false)
	}
}
