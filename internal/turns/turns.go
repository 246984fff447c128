// Package turns assembles incremental transcription fragments into complete
// conversation entries.
//
// Live providers deliver recognised user speech and the text form of the
// model's reply as small fragments, interleaved and out of step with the
// audio. The Assembler buffers both sides and emits finished entries only at
// turn boundaries, so the stored transcript reads as whole utterances.
package turns

import (
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
)

// Role identifies who produced a transcript entry.
type Role string

const (
	// RoleUser marks recognised customer speech.
	RoleUser Role = "user"

	// RoleModel marks the assistant's spoken reply.
	RoleModel Role = "model"
)

// Entry is one finished utterance in the conversation transcript.
type Entry struct {
	// ID is a unique identifier for the entry.
	ID string

	// Role is who spoke.
	Role Role

	// Text is the full utterance text.
	Text string

	// At is when the entry was completed.
	At time.Time
}

// Option configures an Assembler.
type Option func(*Assembler)

// WithClock overrides the time source. Used in tests.
func WithClock(now func() time.Time) Option {
	return func(a *Assembler) { a.now = now }
}

// Assembler buffers transcription fragments until a turn completes. Safe for
// concurrent use.
type Assembler struct {
	now func() time.Time

	mu    sync.Mutex
	user  strings.Builder
	model strings.Builder
}

// NewAssembler creates an empty Assembler.
func NewAssembler(opts ...Option) *Assembler {
	a := &Assembler{now: time.Now}
	for _, o := range opts {
		o(a)
	}
	return a
}

// AddUser appends a fragment of recognised user speech to the pending turn.
func (a *Assembler) AddUser(fragment string) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.user.WriteString(fragment)
}

// AddModel appends a fragment of the model's reply text to the pending turn.
func (a *Assembler) AddModel(fragment string) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.model.WriteString(fragment)
}

// CompleteTurn flushes both pending buffers and returns the finished
// entries, user side first. Buffers that hold only whitespace produce no
// entry. The flush is atomic: fragments added after CompleteTurn returns
// belong to the next turn.
func (a *Assembler) CompleteTurn() []Entry {
	a.mu.Lock()
	defer a.mu.Unlock()

	at := a.now()
	var entries []Entry
	if text := strings.TrimSpace(a.user.String()); text != "" {
		entries = append(entries, Entry{ID: uuid.NewString(), Role: RoleUser, Text: text, At: at})
	}
	if text := strings.TrimSpace(a.model.String()); text != "" {
		entries = append(entries, Entry{ID: uuid.NewString(), Role: RoleModel, Text: text, At: at})
	}
	a.user.Reset()
	a.model.Reset()
	return entries
}

// Pending reports whether either buffer holds unflushed text. Used at
// session teardown to decide whether a final CompleteTurn is needed.
func (a *Assembler) Pending() bool {
	a.mu.Lock()
	defer a.mu.Unlock()
	return strings.TrimSpace(a.user.String()) != "" || strings.TrimSpace(a.model.String()) != ""
}
