package audio

import "time"

// Frame represents a single block of audio samples flowing through the pipeline.
// Frames are the atomic unit of audio transport: captured from the microphone,
// gated by the voice-activity gate, encoded for the uplink, and scheduled for
// playback on the downlink.
type Frame struct {
	// Samples holds mono float32 PCM in the range [-1, 1].
	Samples []float32

	// SampleRate in Hz (e.g., 16000 for the uplink, 24000 for model output).
	SampleRate int

	// Timestamp marks when this frame was captured, relative to stream start.
	Timestamp time.Duration
}

// Duration returns the playing time of the frame at its sample rate.
func (f Frame) Duration() time.Duration {
	if f.SampleRate <= 0 {
		return 0
	}
	return time.Duration(len(f.Samples)) * time.Second / time.Duration(f.SampleRate)
}
