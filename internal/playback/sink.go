// Package playback turns the downlink audio stream into gapless, scheduled
// speaker output with barge-in support.
//
// The Scheduler keeps a monotonic write horizon: each decoded chunk is
// scheduled exactly where the previous one ends, or at the current playback
// position when the stream fell behind. Interrupt discards everything queued
// and resets the horizon so the next response starts immediately.
package playback

import "time"

// Sink is the audio output device abstraction. Implementations place PCM on
// an absolute playback timeline, allowing the Scheduler to queue chunks
// back-to-back without gaps.
//
// Implementations must be safe for concurrent use.
type Sink interface {
	// Now returns the current position of the playback clock.
	Now() time.Duration

	// PlayAt schedules mono float32 samples to start at the given timeline
	// position. Scheduling in the past clips the already-elapsed part.
	PlayAt(samples []float32, at time.Duration) error

	// Flush discards all scheduled and in-flight audio. The playback clock
	// keeps running.
	Flush()

	// Close releases the output device. Idempotent.
	Close() error
}
