// Package uplink converts gated capture frames into the wire format expected
// by live voice providers and delivers them to an open session.
package uplink

import (
	"errors"
	"fmt"
	"log/slog"

	"github.com/baominh/greeter/pkg/audio"
	"github.com/baominh/greeter/pkg/provider/live"
)

// Chunk is a single encoded audio payload ready for transmission.
type Chunk struct {
	// Payload is raw s16le PCM at the target sample rate.
	Payload []byte

	// MIMEType identifies the payload format, e.g. "audio/pcm;rate=16000".
	MIMEType string
}

// Encoder converts float32 capture frames into s16le chunks at the
// provider's input sample rate. Not safe for concurrent use; each pipeline
// owns one Encoder.
type Encoder struct {
	targetRate int
	mimeType   string
}

// NewEncoder creates an Encoder that produces PCM at targetRate Hz.
func NewEncoder(targetRate int) *Encoder {
	return &Encoder{
		targetRate: targetRate,
		mimeType:   fmt.Sprintf("audio/pcm;rate=%d", targetRate),
	}
}

// Encode resamples the frame to the target rate if needed and packs it as
// s16le. Sample values outside [-1, 1] are clamped rather than wrapped.
func (e *Encoder) Encode(frame audio.Frame) Chunk {
	samples := frame.Samples
	if frame.SampleRate != 0 && frame.SampleRate != e.targetRate {
		samples = audio.ResampleMono(samples, frame.SampleRate, e.targetRate)
	}
	return Chunk{
		Payload:  audio.EncodeS16LE(samples),
		MIMEType: e.mimeType,
	}
}

// Sender pushes encoded chunks into a live session.
type Sender struct {
	enc *Encoder
	log *slog.Logger
}

// NewSender creates a Sender encoding for targetRate Hz.
func NewSender(targetRate int, log *slog.Logger) *Sender {
	if log == nil {
		log = slog.Default()
	}
	return &Sender{enc: NewEncoder(targetRate), log: log}
}

// Send encodes the frame and delivers it to the session. A frame arriving
// after the session closed is dropped silently; capture keeps running across
// session teardown and reconnects, so this is an expected race rather than
// an error.
func (s *Sender) Send(sess live.SessionHandle, frame audio.Frame) error {
	if sess == nil {
		return nil
	}
	chunk := s.enc.Encode(frame)
	if len(chunk.Payload) == 0 {
		return nil
	}
	if err := sess.SendAudio(chunk.Payload); err != nil {
		if errors.Is(err, live.ErrSessionClosed) {
			s.log.Debug("dropped audio chunk for closed session", "bytes", len(chunk.Payload))
			return nil
		}
		return fmt.Errorf("uplink: send audio: %w", err)
	}
	return nil
}
