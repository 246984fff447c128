// Package live defines the Provider interface for realtime voice backends.
//
// A live provider wraps a bidirectional voice AI service that accepts raw
// audio input and returns synthesised audio output in a single, stateful
// session. Examples include the Gemini Live API and the OpenAI Realtime API.
//
// The central abstraction is SessionHandle: a bidirectional, multiplexed
// channel that carries audio, transcription fragments, and turn boundary
// signals concurrently. Sessions are long-lived (seconds to minutes).
//
// All implementations must be safe for concurrent use.
package live

import (
	"context"
	"errors"
)

// ErrSessionClosed is returned by send methods after the session has been
// closed, either by the caller or by the remote end.
var ErrSessionClosed = errors.New("live: session closed")

// SessionConfig is the initial configuration for a new live session.
type SessionConfig struct {
	// Voice selects the provider voice used for synthesised speech output.
	// Empty means the provider default.
	Voice string

	// Instructions is the system-level prompt that defines the assistant's
	// persona and behavioural constraints for the whole session.
	Instructions string
}

// Capabilities describes static properties of a live provider. The values
// are assumed constant for the lifetime of the Provider instance.
type Capabilities struct {
	// InputSampleRate is the PCM sample rate (Hz) the provider expects on
	// the uplink.
	InputSampleRate int

	// OutputSampleRate is the PCM sample rate (Hz) of synthesised audio on
	// the downlink.
	OutputSampleRate int

	// MaxSessionDurationMs is the hard upper bound on session lifetime in
	// milliseconds, as imposed by the provider. Zero means no documented limit.
	MaxSessionDurationMs int

	// Voices lists the voice names available for this provider.
	Voices []string
}

// ServerEvent is a single event received from the provider. Exactly the
// fields relevant to the event are populated; a single wire message may fan
// out into several events.
type ServerEvent struct {
	// Audio is a chunk of raw s16le PCM at the provider's output sample
	// rate. Nil when the event carries no audio.
	Audio []byte

	// Interrupted signals that the model's in-flight response was cut off
	// by user speech. All buffered and scheduled output for the current
	// response must be discarded.
	Interrupted bool

	// TurnComplete signals that the model finished its response turn.
	TurnComplete bool

	// InputTranscription is an incremental fragment of the recognised user
	// speech. Empty when the event carries no input transcription.
	InputTranscription string

	// OutputTranscription is an incremental fragment of the text form of
	// the model's spoken output.
	OutputTranscription string
}

// SessionHandle represents an open live session. It is an interface so that
// test code can supply mock implementations without a network connection.
//
// The session is the hot path of the voice pipeline, so every method must
// return quickly. Server events are channel-based so the dispatch loop can
// select over them alongside capture frames.
//
// Callers must call Close when the session is no longer needed.
type SessionHandle interface {
	// SendAudio delivers a raw PCM chunk (s16le at the provider's input
	// rate) for processing. Returns ErrSessionClosed after Close.
	SendAudio(chunk []byte) error

	// SendText injects a user text turn into the conversation. Used for the
	// post-connect activation nudge and operator messages.
	SendText(text string) error

	// SendMedia delivers a non-audio media chunk (e.g. "image/jpeg" camera
	// frames) into the session's realtime input stream.
	SendMedia(mimeType string, data []byte) error

	// Events returns a read-only channel of server events. The channel is
	// closed when the session ends; after it closes, call Err to check
	// whether the session ended cleanly. Consumers must drain this channel
	// promptly to keep the provider's receive loop from stalling.
	Events() <-chan ServerEvent

	// Err returns the error that caused the Events channel to close
	// prematurely, or nil if the session ended cleanly.
	Err() error

	// Close terminates the session, releases all resources, and closes the
	// Events channel. Calling Close more than once is safe and returns nil.
	Close() error
}

// Provider is the abstraction over any realtime voice backend.
//
// Implementations must be safe for concurrent use.
type Provider interface {
	// Connect establishes a new live session with the given configuration.
	// The returned SessionHandle is ready to accept audio immediately.
	//
	// The caller owns the SessionHandle and is responsible for calling Close.
	Connect(ctx context.Context, cfg SessionConfig) (SessionHandle, error)

	// Capabilities returns static metadata about this provider's model.
	Capabilities() Capabilities
}
