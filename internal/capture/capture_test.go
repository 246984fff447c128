package capture_test

import (
	"errors"
	"testing"

	"github.com/baominh/greeter/internal/capture"
	"github.com/baominh/greeter/internal/capture/mock"
	"github.com/baominh/greeter/pkg/audio"
)

func TestConfigValidate(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name    string
		cfg     capture.Config
		wantErr bool
	}{
		{name: "valid", cfg: capture.Config{SampleRate: 16000, FrameSize: 2048}},
		{name: "zero sample rate", cfg: capture.Config{FrameSize: 2048}, wantErr: true},
		{name: "negative frame size", cfg: capture.Config{SampleRate: 16000, FrameSize: -1}, wantErr: true},
		{name: "both invalid", cfg: capture.Config{}, wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			err := tt.cfg.Validate()
			if (err != nil) != tt.wantErr {
				t.Errorf("Validate() = %v; wantErr %v", err, tt.wantErr)
			}
		})
	}
}

func TestMockSource_EmitAndClose(t *testing.T) {
	t.Parallel()

	src := mock.NewSource()
	frame := audio.Frame{Samples: make([]float32, 4), SampleRate: 16000}
	if !src.Emit(frame) {
		t.Fatal("Emit on open source should succeed")
	}

	got := <-src.Frames()
	if got.SampleRate != 16000 {
		t.Errorf("frame sample rate = %d", got.SampleRate)
	}

	if err := src.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}
	if src.Emit(frame) {
		t.Error("Emit after Close should report a closed stream")
	}
	if _, open := <-src.Frames(); open {
		t.Error("frame channel should be closed")
	}
	if src.Err() != nil {
		t.Error("clean close should leave Err nil")
	}
}

func TestMockSource_Fail(t *testing.T) {
	t.Parallel()

	src := mock.NewSource()
	wantErr := errors.New("device yanked")
	src.Fail(wantErr)

	if _, open := <-src.Frames(); open {
		t.Error("frame channel should close on failure")
	}
	if !errors.Is(src.Err(), wantErr) {
		t.Errorf("Err() = %v; want %v", src.Err(), wantErr)
	}
}
