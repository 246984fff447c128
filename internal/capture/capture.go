// Package capture streams microphone audio into the voice pipeline.
//
// A Source delivers fixed-size mono frames on a channel. Capture failures
// are terminal for the Source: the pipeline decides whether to surface the
// error or shut down, there is no retry loop here.
package capture

import (
	"errors"
	"fmt"

	"github.com/baominh/greeter/pkg/audio"
)

// ErrCaptureUnavailable indicates that the capture device could not be
// opened or stopped delivering audio.
var ErrCaptureUnavailable = errors.New("capture: device unavailable")

// Config holds the capture stream parameters.
type Config struct {
	// SampleRate is the capture rate in Hz.
	SampleRate int

	// FrameSize is the number of samples per delivered frame.
	FrameSize int
}

// Validate checks the configuration for usable values.
func (c Config) Validate() error {
	var errs []error
	if c.SampleRate <= 0 {
		errs = append(errs, fmt.Errorf("sample rate must be positive, got %d", c.SampleRate))
	}
	if c.FrameSize <= 0 {
		errs = append(errs, fmt.Errorf("frame size must be positive, got %d", c.FrameSize))
	}
	return errors.Join(errs...)
}

// Source is an open capture stream. Implementations must be safe for
// concurrent use.
type Source interface {
	// Frames returns the channel on which captured frames arrive. The
	// channel is closed when the stream ends; check Err afterwards.
	Frames() <-chan audio.Frame

	// Err returns the error that terminated the stream, or nil if it was
	// closed deliberately.
	Err() error

	// Close stops the stream and releases the device. Idempotent.
	Close() error
}
