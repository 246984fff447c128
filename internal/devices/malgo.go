package devices

import (
	"fmt"
	"sync"

	"github.com/gen2brain/malgo"
)

// Compile-time interface assertion.
var _ Enumerator = (*MalgoEnumerator)(nil)

// MalgoEnumerator lists audio devices through miniaudio.
type MalgoEnumerator struct {
	mu     sync.Mutex
	ctx    *malgo.AllocatedContext
	closed bool
}

// NewMalgoEnumerator initialises a miniaudio context for device enumeration.
// Call Close to release it.
func NewMalgoEnumerator() (*MalgoEnumerator, error) {
	ctx, err := malgo.InitContext(nil, malgo.ContextConfig{}, nil)
	if err != nil {
		return nil, fmt.Errorf("devices: init audio context: %w", err)
	}
	return &MalgoEnumerator{ctx: ctx}, nil
}

// List returns the devices of the given kind known to the audio backend.
func (e *MalgoEnumerator) List(kind Kind) ([]Device, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.closed {
		return nil, fmt.Errorf("devices: enumerator closed")
	}

	deviceType := malgo.Capture
	if kind == Playback {
		deviceType = malgo.Playback
	}
	infos, err := e.ctx.Devices(deviceType)
	if err != nil {
		return nil, fmt.Errorf("devices: list %s devices: %w", kind, err)
	}

	out := make([]Device, 0, len(infos))
	for _, info := range infos {
		out = append(out, Device{
			ID:        fmt.Sprintf("%x", info.ID),
			Name:      info.Name(),
			IsDefault: info.IsDefault != 0,
		})
	}
	return out, nil
}

// Close releases the miniaudio context. Idempotent.
func (e *MalgoEnumerator) Close() error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.closed {
		return nil
	}
	e.closed = true
	if err := e.ctx.Uninit(); err != nil {
		e.ctx.Free()
		return fmt.Errorf("devices: uninit audio context: %w", err)
	}
	e.ctx.Free()
	return nil
}
