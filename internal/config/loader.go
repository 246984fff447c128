package config

import (
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"slices"
	"time"

	"gopkg.in/yaml.v3"
)

// ValidProviderNames lists the live provider names shipped with the greeter.
// Used by [Validate] to warn about unrecognised names.
var ValidProviderNames = []string{"gemini-live", "openai-realtime"}

// Defaults applied by [LoadFromReader] for fields left empty in the file.
const (
	DefaultListenAddr   = ":8080"
	DefaultCaptureRate  = 16000
	DefaultFrameSize    = 2048
	DefaultPollInterval = 5 * time.Second
)

// Load reads the YAML configuration file at path and returns a validated
// [Config]. It is a convenience wrapper around [LoadFromReader].
func Load(path string) (*Config, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("config: open %q: %w", path, err)
	}
	defer f.Close()

	cfg, err := LoadFromReader(f)
	if err != nil {
		return nil, fmt.Errorf("config: parse %q: %w", path, err)
	}
	return cfg, nil
}

// LoadFromReader decodes a YAML config from r, applies defaults, and
// validates the result. Useful in tests where configs are constructed from
// string literals.
func LoadFromReader(r io.Reader) (*Config, error) {
	cfg := &Config{}
	dec := yaml.NewDecoder(r)
	dec.KnownFields(true)
	if err := dec.Decode(cfg); err != nil && !errors.Is(err, io.EOF) {
		return nil, fmt.Errorf("config: decode yaml: %w", err)
	}
	applyDefaults(cfg)
	if err := Validate(cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

// applyDefaults fills in defaults for fields left empty.
func applyDefaults(cfg *Config) {
	if cfg.Server.ListenAddr == "" {
		cfg.Server.ListenAddr = DefaultListenAddr
	}
	if cfg.Audio.CaptureRate == 0 {
		cfg.Audio.CaptureRate = DefaultCaptureRate
	}
	if cfg.Audio.FrameSize == 0 {
		cfg.Audio.FrameSize = DefaultFrameSize
	}
	if cfg.Catalog.PollInterval == 0 {
		cfg.Catalog.PollInterval = Duration(DefaultPollInterval)
	}
}

// Validate checks that cfg contains a coherent set of values.
// It returns a joined error listing all validation failures found.
func Validate(cfg *Config) error {
	var errs []error

	// Server
	if cfg.Server.LogLevel != "" && !cfg.Server.LogLevel.IsValid() {
		errs = append(errs, fmt.Errorf("server.log_level %q is invalid; valid values: debug, info, warn, error", cfg.Server.LogLevel))
	}

	// Provider
	if cfg.Provider.Name == "" {
		errs = append(errs, errors.New("provider.name is required"))
	} else if !slices.Contains(ValidProviderNames, cfg.Provider.Name) {
		slog.Warn("unknown provider name, may be a typo or third-party provider",
			"name", cfg.Provider.Name,
			"known", ValidProviderNames,
		)
	}
	if cfg.Provider.APIKey == "" {
		slog.Warn("provider.api_key is empty; the provider will fall back to its environment variable")
	}

	// Session
	if cfg.Session.MaxRetries < 0 {
		errs = append(errs, fmt.Errorf("session.max_retries %d must not be negative", cfg.Session.MaxRetries))
	}
	if cfg.Session.InitialBackoff < 0 {
		errs = append(errs, errors.New("session.initial_backoff must not be negative"))
	}
	if cfg.Session.MaxBackoff != 0 && cfg.Session.MaxBackoff < cfg.Session.InitialBackoff {
		errs = append(errs, errors.New("session.max_backoff must not be smaller than session.initial_backoff"))
	}

	// Audio
	if cfg.Audio.CaptureRate <= 0 {
		errs = append(errs, fmt.Errorf("audio.capture_rate %d must be positive", cfg.Audio.CaptureRate))
	}
	if cfg.Audio.FrameSize <= 0 {
		errs = append(errs, fmt.Errorf("audio.frame_size %d must be positive", cfg.Audio.FrameSize))
	}
	if cfg.Audio.RMSThreshold < 0 || cfg.Audio.RMSThreshold > 1 {
		errs = append(errs, fmt.Errorf("audio.rms_threshold %.4f is out of range [0, 1]", cfg.Audio.RMSThreshold))
	}
	if cfg.Audio.Hangover < 0 {
		errs = append(errs, errors.New("audio.hangover must not be negative"))
	}
	if cfg.Audio.RouteMode != "" && !cfg.Audio.RouteMode.Valid() {
		errs = append(errs, fmt.Errorf("audio.route_mode %q is invalid; valid values: auto, prefer-default, prefer-alternate", cfg.Audio.RouteMode))
	}

	// Catalog
	if cfg.Catalog.Path == "" {
		slog.Warn("catalog.path is empty; product detection and catalog-aware prompting are disabled")
	}
	if cfg.Catalog.PollInterval < 0 {
		errs = append(errs, errors.New("catalog.poll_interval must not be negative"))
	}

	// Transcripts
	if cfg.Transcripts.PostgresDSN == "" {
		slog.Warn("transcripts.postgres_dsn is empty; transcripts are kept in memory and lost on restart")
	}

	// Camera
	if cfg.Camera.Enabled && cfg.Camera.SnapshotURL == "" {
		errs = append(errs, errors.New("camera.snapshot_url is required when camera.enabled is true"))
	}
	if cfg.Camera.Interval < 0 {
		errs = append(errs, errors.New("camera.interval must not be negative"))
	}

	return errors.Join(errs...)
}

// SlogLevel converts the configured log level to a slog.Level. An empty or
// invalid level maps to info.
func (l LogLevel) SlogLevel() slog.Level {
	switch l {
	case LogDebug:
		return slog.LevelDebug
	case LogWarn:
		return slog.LevelWarn
	case LogError:
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}
