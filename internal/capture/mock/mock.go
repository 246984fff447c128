// Package mock provides a test double for the capture.Source interface.
package mock

import (
	"sync"

	"github.com/baominh/greeter/internal/capture"
	"github.com/baominh/greeter/pkg/audio"
)

// Compile-time interface assertion.
var _ capture.Source = (*Source)(nil)

// Source is a mock capture stream. Tests push frames with Emit and end the
// stream with Fail or Close.
type Source struct {
	mu     sync.Mutex
	frames chan audio.Frame
	errVal error
	closed bool

	// CloseCallCount is the number of times Close was called.
	CloseCallCount int
}

// NewSource creates a mock Source with a buffered frame channel.
func NewSource() *Source {
	return &Source{frames: make(chan audio.Frame, 64)}
}

// Emit delivers a frame to the consumer. Returns false if the stream ended.
func (s *Source) Emit(frame audio.Frame) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return false
	}
	s.frames <- frame
	return true
}

// Fail ends the stream with the given error, as a real device failure would.
func (s *Source) Fail(err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return
	}
	s.closed = true
	s.errVal = err
	close(s.frames)
}

// Frames returns the frame channel.
func (s *Source) Frames() <-chan audio.Frame {
	return s.frames
}

// Err returns the error set by Fail.
func (s *Source) Err() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.errVal
}

// Close ends the stream cleanly. Idempotent.
func (s *Source) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.CloseCallCount++
	if s.closed {
		return nil
	}
	s.closed = true
	close(s.frames)
	return nil
}
