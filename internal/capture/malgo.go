package capture

import (
	"encoding/hex"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/gen2brain/malgo"

	"github.com/baominh/greeter/pkg/audio"
)

// Compile-time interface assertion.
var _ Source = (*MalgoSource)(nil)

// MalgoOption configures a MalgoSource.
type MalgoOption func(*MalgoSource)

// WithDevice binds capture to the device with the given ID, as reported by
// the devices enumerator. An unparseable ID falls back to the default
// device.
func WithDevice(hexID string) MalgoOption {
	return func(s *MalgoSource) {
		raw, err := hex.DecodeString(hexID)
		if err != nil {
			slog.Warn("capture: invalid device id, using default device", "id", hexID, "err", err)
			return
		}
		var id malgo.DeviceID
		copy(id[:], raw)
		s.deviceID = &id
	}
}

// WithLogger sets the logger for capture diagnostics.
func WithLogger(log *slog.Logger) MalgoOption {
	return func(s *MalgoSource) { s.log = log }
}

// MalgoSource captures microphone audio through miniaudio.
type MalgoSource struct {
	cfg      Config
	log      *slog.Logger
	deviceID *malgo.DeviceID

	ctx    *malgo.AllocatedContext
	device *malgo.Device

	frames chan audio.Frame

	mu      sync.Mutex
	errVal  error
	closed  bool
	failed  bool
	elapsed time.Duration

	// pending accumulates callback samples until a full frame is ready.
	pending []float32

	closeOnce sync.Once
}

// NewMalgoSource opens the capture device and starts streaming frames.
func NewMalgoSource(cfg Config, opts ...MalgoOption) (*MalgoSource, error) {
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("capture: %w", err)
	}

	s := &MalgoSource{
		cfg:    cfg,
		log:    slog.Default(),
		frames: make(chan audio.Frame, 8),
	}
	for _, o := range opts {
		o(s)
	}

	ctx, err := malgo.InitContext(nil, malgo.ContextConfig{}, nil)
	if err != nil {
		return nil, fmt.Errorf("capture: init audio context: %w", ErrCaptureUnavailable)
	}
	s.ctx = ctx

	deviceConfig := malgo.DefaultDeviceConfig(malgo.Capture)
	deviceConfig.Capture.Format = malgo.FormatS16
	deviceConfig.Capture.Channels = 1
	deviceConfig.SampleRate = uint32(cfg.SampleRate)
	deviceConfig.PeriodSizeInFrames = uint32(cfg.FrameSize)
	deviceConfig.Alsa.NoMMap = 1
	if s.deviceID != nil {
		deviceConfig.Capture.DeviceID = s.deviceID.Pointer()
	}

	callbacks := malgo.DeviceCallbacks{
		Data: func(_, input []byte, _ uint32) {
			s.onData(input)
		},
		Stop: func() {
			s.onStop()
		},
	}

	device, err := malgo.InitDevice(ctx.Context, deviceConfig, callbacks)
	if err != nil {
		ctx.Uninit()
		ctx.Free()
		return nil, fmt.Errorf("capture: open device: %w", ErrCaptureUnavailable)
	}
	if err := device.Start(); err != nil {
		device.Uninit()
		ctx.Uninit()
		ctx.Free()
		return nil, fmt.Errorf("capture: start device: %w", ErrCaptureUnavailable)
	}
	s.device = device

	s.log.Info("capture started",
		"sample_rate", cfg.SampleRate,
		"frame_size", cfg.FrameSize,
	)
	return s, nil
}

// onData decodes a capture callback buffer and emits completed frames.
// Frames are dropped, not blocked on, when the consumer falls behind.
func (s *MalgoSource) onData(input []byte) {
	samples := audio.DecodeS16LE(input)

	s.mu.Lock()
	if s.closed || s.failed {
		s.mu.Unlock()
		return
	}
	s.pending = append(s.pending, samples...)
	var ready []audio.Frame
	for len(s.pending) >= s.cfg.FrameSize {
		frame := audio.Frame{
			Samples:    append([]float32(nil), s.pending[:s.cfg.FrameSize]...),
			SampleRate: s.cfg.SampleRate,
			Timestamp:  s.elapsed,
		}
		s.elapsed += frame.Duration()
		s.pending = s.pending[s.cfg.FrameSize:]
		ready = append(ready, frame)
	}
	s.mu.Unlock()

	for _, frame := range ready {
		select {
		case s.frames <- frame:
		default:
			s.log.Warn("capture frame dropped, consumer too slow")
		}
	}
}

// onStop handles the device stopping outside of Close. The device itself is
// released later by Close.
func (s *MalgoSource) onStop() {
	s.mu.Lock()
	if s.closed || s.failed {
		s.mu.Unlock()
		return
	}
	s.failed = true
	if s.errVal == nil {
		s.errVal = ErrCaptureUnavailable
	}
	s.mu.Unlock()

	s.log.Error("capture device stopped unexpectedly")
	s.closeOnce.Do(func() { close(s.frames) })
}

// Frames returns the captured frame channel.
func (s *MalgoSource) Frames() <-chan audio.Frame { return s.frames }

// Err returns the error that terminated the stream, if any.
func (s *MalgoSource) Err() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.errVal
}

// Close stops capture and releases the device. Idempotent.
func (s *MalgoSource) Close() error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil
	}
	s.closed = true
	s.mu.Unlock()

	if err := s.device.Stop(); err != nil {
		s.log.Warn("capture device stop", "err", err)
	}
	s.device.Uninit()
	if err := s.ctx.Uninit(); err != nil {
		s.log.Warn("capture context uninit", "err", err)
	}
	s.ctx.Free()

	s.closeOnce.Do(func() { close(s.frames) })
	return nil
}
