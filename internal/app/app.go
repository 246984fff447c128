// Package app wires all greeter subsystems into a running application.
//
// The App struct owns the full lifecycle: New creates and connects all
// subsystems, Run executes the voice pipeline, and Shutdown tears everything
// down in order.
//
// For testing, inject mock implementations via functional options
// (WithStore, WithCaptureSource, etc.). When an option is not provided, New
// creates real implementations from the config.
package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"github.com/baominh/greeter/internal/camera"
	"github.com/baominh/greeter/internal/capture"
	"github.com/baominh/greeter/internal/catalog"
	"github.com/baominh/greeter/internal/config"
	"github.com/baominh/greeter/internal/devices"
	"github.com/baominh/greeter/internal/health"
	"github.com/baominh/greeter/internal/observe"
	"github.com/baominh/greeter/internal/pipeline"
	"github.com/baominh/greeter/internal/playback"
	"github.com/baominh/greeter/internal/session"
	"github.com/baominh/greeter/internal/store"
	"github.com/baominh/greeter/internal/turns"
	"github.com/baominh/greeter/internal/uplink"
	"github.com/baominh/greeter/internal/vad"
	"github.com/baominh/greeter/pkg/provider/live"
)

// Providers holds the live voice backend. Populated by main.go via the
// config registry.
type Providers struct {
	Live live.Provider
}

// App owns all subsystem lifetimes and orchestrates the greeter pipeline.
type App struct {
	cfg       *config.Config
	providers *Providers

	// Subsystems, initialised in New, torn down in Shutdown.
	store    store.Store
	enum     devices.Enumerator
	source   capture.Source
	sink     playback.Sink
	watcher  *catalog.Watcher
	detector *catalog.Detector
	camPoll  *camera.Poller
	reconn   *session.Reconnector
	ctrl     *pipeline.Controller
	metrics  *observe.Metrics

	sessionID string

	// closers are called in order during Shutdown.
	closers []func() error

	// stopOnce guards the Shutdown path.
	stopOnce sync.Once
}

// Option is a functional option for New. Use these to inject test doubles.
type Option func(*App)

// WithStore injects a transcript store instead of creating one from config.
func WithStore(s store.Store) Option {
	return func(a *App) { a.store = s }
}

// WithCaptureSource injects a capture source instead of opening a microphone.
func WithCaptureSource(s capture.Source) Option {
	return func(a *App) { a.source = s }
}

// WithSink injects a playback sink instead of opening a speaker device.
func WithSink(s playback.Sink) Option {
	return func(a *App) { a.sink = s }
}

// WithEnumerator injects a device enumerator instead of creating a malgo one.
func WithEnumerator(e devices.Enumerator) Option {
	return func(a *App) { a.enum = e }
}

// WithMetrics injects a metrics instance instead of using the global default.
func WithMetrics(m *observe.Metrics) Option {
	return func(a *App) { a.metrics = m }
}

// ─── New ─────────────────────────────────────────────────────────────────────

// New creates an App by wiring all subsystems together. The providers struct
// comes from main.go (populated via the config registry). Use Option
// functions to inject test doubles for any subsystem.
//
// New performs all initialisation synchronously: transcript store connection,
// catalog load + watcher start, audio device selection, and reconnector
// construction. The live session itself is opened in Run.
func New(ctx context.Context, cfg *config.Config, providers *Providers, opts ...Option) (*App, error) {
	if providers == nil || providers.Live == nil {
		return nil, errors.New("app: live provider is required")
	}

	a := &App{
		cfg:       cfg,
		providers: providers,
		sessionID: uuid.NewString(),
	}
	for _, o := range opts {
		o(a)
	}
	if a.metrics == nil {
		a.metrics = observe.DefaultMetrics()
	}

	// ── 1. Transcript store ──────────────────────────────────────────────
	if err := a.initStore(ctx); err != nil {
		return nil, fmt.Errorf("app: init store: %w", err)
	}

	// ── 2. Product catalog ───────────────────────────────────────────────
	if err := a.initCatalog(); err != nil {
		return nil, fmt.Errorf("app: init catalog: %w", err)
	}

	// ── 3. Audio devices ─────────────────────────────────────────────────
	if err := a.initAudio(); err != nil {
		return nil, fmt.Errorf("app: init audio: %w", err)
	}

	// ── 4. Live session reconnector ──────────────────────────────────────
	a.initSession()

	// ── 5. Camera poller ─────────────────────────────────────────────────
	a.initCamera()

	return a, nil
}

// ─── Init helpers ────────────────────────────────────────────────────────────

// initStore connects the PostgreSQL transcript store, or falls back to the
// in-memory store when no DSN is configured.
func (a *App) initStore(ctx context.Context) error {
	if a.store != nil {
		return nil
	}

	dsn := a.cfg.Transcripts.PostgresDSN
	if dsn == "" {
		slog.Info("no transcript database configured, keeping transcripts in memory")
		a.store = store.NewMemStore()
		return nil
	}

	pg, err := store.NewPostgresStore(ctx, dsn)
	if err != nil {
		return err
	}
	a.store = pg
	a.closers = append(a.closers, pg.Close)
	return nil
}

// initCatalog loads the product catalog and starts the file watcher. A
// catalog change swaps the system instructions used for future reconnects.
func (a *App) initCatalog() error {
	path := a.cfg.Catalog.Path
	if path == "" {
		return nil
	}

	w, err := catalog.NewWatcher(path, a.onCatalogChange,
		catalog.WithInterval(a.cfg.Catalog.PollInterval.Std()),
	)
	if err != nil {
		return err
	}
	a.watcher = w
	a.detector = catalog.NewDetector()
	a.closers = append(a.closers, func() error {
		w.Stop()
		return nil
	})

	slog.Info("loaded product catalog", "path", path, "products", w.Current().Len())
	return nil
}

// onCatalogChange rebuilds the system instructions after a catalog reload so
// the next reconnect greets with current stock.
func (a *App) onCatalogChange(old, cur *catalog.Catalog) {
	slog.Info("product catalog reloaded",
		"products_before", old.Len(),
		"products_after", cur.Len(),
	)
	if a.reconn != nil {
		a.reconn.SetSessionConfig(a.sessionConfig())
	}
}

// initAudio selects audio devices and opens capture and playback unless test
// doubles were injected.
func (a *App) initAudio() error {
	if a.source == nil {
		var malgoOpts []capture.MalgoOption
		if id, err := a.pickCaptureDevice(); err != nil {
			return err
		} else if id != "" {
			malgoOpts = append(malgoOpts, capture.WithDevice(id))
		}

		src, err := capture.NewMalgoSource(capture.Config{
			SampleRate: a.cfg.Audio.CaptureRate,
			FrameSize:  a.cfg.Audio.FrameSize,
		}, malgoOpts...)
		if err != nil {
			return err
		}
		a.source = src
	}

	if a.sink == nil {
		if a.cfg.Audio.PlaybackDevice != "" {
			slog.Warn("playback device pinning is not supported; using the system default output",
				"requested", a.cfg.Audio.PlaybackDevice,
			)
		}
		sink, err := playback.NewOtoSink(a.providers.Live.Capabilities().OutputSampleRate)
		if err != nil {
			return err
		}
		a.sink = sink
	}

	return nil
}

// pickCaptureDevice resolves the configured route mode or device pin to a
// concrete device ID. An empty return means the backend default.
func (a *App) pickCaptureDevice() (string, error) {
	if id := a.cfg.Audio.CaptureDevice; id != "" {
		return id, nil
	}
	mode := a.cfg.Audio.RouteMode
	if mode == "" {
		mode = devices.RouteAuto
	}

	if a.enum == nil {
		enum, err := devices.NewMalgoEnumerator()
		if err != nil {
			return "", fmt.Errorf("enumerate devices: %w", err)
		}
		a.enum = enum
		a.closers = append(a.closers, enum.Close)
	}

	list, err := a.enum.List(devices.Capture)
	if err != nil {
		return "", fmt.Errorf("list capture devices: %w", err)
	}
	dev, ok := devices.Select(list, mode)
	if !ok {
		slog.Warn("no capture devices reported, using the backend default")
		return "", nil
	}
	slog.Info("selected capture device", "name", dev.Name, "id", dev.ID, "mode", mode)
	return dev.ID, nil
}

// initSession builds the reconnector that owns the live session lifecycle.
func (a *App) initSession() {
	a.reconn = session.NewReconnector(session.ReconnectorConfig{
		Provider:      a.providers.Live,
		SessionConfig: a.sessionConfig(),
		MaxRetries:    a.cfg.Session.MaxRetries,
		Backoff:       a.cfg.Session.InitialBackoff.Std(),
		MaxBackoff:    a.cfg.Session.MaxBackoff.Std(),
		OnReconnect:   a.onReconnect,
	})
	a.closers = append(a.closers, a.reconn.Stop)
}

// sessionConfig assembles the provider session configuration from the
// persona and the current catalog.
func (a *App) sessionConfig() live.SessionConfig {
	var lines []string
	if a.watcher != nil {
		lines = a.watcher.Current().Lines()
	}
	return live.SessionConfig{
		Voice:        a.cfg.Provider.Voice,
		Instructions: session.BuildInstructions(a.cfg.Session.Persona, lines),
	}
}

// onReconnect hands a fresh session to the running pipeline.
func (a *App) onReconnect(sess live.SessionHandle) {
	a.metrics.RecordReconnect(context.Background())
	if err := sess.SendText(session.ActivationNudge); err != nil {
		slog.Warn("activation nudge failed after reconnect", "err", err)
	}
	if a.ctrl != nil {
		a.ctrl.ReplaceSession(sess)
	}
}

// initCamera creates the snapshot poller when the camera feed is enabled.
func (a *App) initCamera() {
	if !a.cfg.Camera.Enabled {
		return
	}
	var opts []camera.Option
	if d := a.cfg.Camera.Interval.Std(); d > 0 {
		opts = append(opts, camera.WithInterval(d))
	}
	a.camPoll = camera.NewPoller(a.cfg.Camera.SnapshotURL, opts...)
}

// ─── Run ─────────────────────────────────────────────────────────────────────

// Run opens the live session and drives the voice pipeline until ctx is
// cancelled or the pipeline fails.
func (a *App) Run(ctx context.Context) error {
	sess, err := a.reconn.Connect(ctx)
	if err != nil {
		return fmt.Errorf("app: connect live session: %w", err)
	}
	a.metrics.ActiveSessions.Add(ctx, 1)
	defer a.metrics.ActiveSessions.Add(context.Background(), -1)

	// The nudge makes the greeter introduce itself instead of waiting
	// silently for the first customer.
	if err := sess.SendText(session.ActivationNudge); err != nil {
		slog.Warn("activation nudge failed", "err", err)
	}

	a.ctrl = pipeline.New(
		a.pipelineConfig(),
		sess,
		a.source,
		a.buildGate(),
		uplink.NewSender(a.providers.Live.Capabilities().InputSampleRate, slog.Default()),
		a.buildScheduler(),
		turns.NewAssembler(),
	)
	a.reconn.Monitor(ctx)

	g, ctx := errgroup.WithContext(ctx)
	g.Go(func() error { return a.ctrl.Run(ctx) })
	if a.camPoll != nil {
		g.Go(func() error { return a.camPoll.Run(ctx, a.sendSnapshot) })
	}

	slog.Info("greeter running",
		"session_id", a.sessionID,
		"provider", a.cfg.Provider.Name,
		"camera", a.camPoll != nil,
	)
	return g.Wait()
}

// pipelineConfig assembles the pipeline controller configuration.
func (a *App) pipelineConfig() pipeline.Config {
	var catalogFn func() *catalog.Catalog
	if a.watcher != nil {
		catalogFn = a.watcher.Current
	}
	return pipeline.Config{
		SessionID:     a.sessionID,
		Store:         a.store,
		Detector:      a.detector,
		Catalog:       catalogFn,
		Metrics:       a.metrics,
		OnSessionDown: a.reconn.NotifyDisconnect,
	}
}

// buildGate creates the voice activity gate from the audio config.
func (a *App) buildGate() *vad.Gate {
	var opts []vad.Option
	if t := a.cfg.Audio.RMSThreshold; t > 0 {
		opts = append(opts, vad.WithThreshold(t))
	}
	if h := a.cfg.Audio.Hangover.Std(); h > 0 {
		opts = append(opts, vad.WithHangover(h))
	}
	opts = append(opts, vad.WithOnSpeakingChange(func(speaking bool) {
		slog.Debug("user speaking state changed", "speaking", speaking)
		a.metrics.RecordSpeakingChange(context.Background(), "user", speaking)
	}))
	return vad.NewGate(opts...)
}

// buildScheduler creates the playback scheduler wired to the lag and
// speaking metrics.
func (a *App) buildScheduler() *playback.Scheduler {
	return playback.NewScheduler(a.sink, a.providers.Live.Capabilities().OutputSampleRate,
		playback.WithOnLag(func(lag time.Duration) {
			a.metrics.ObserveSchedulingLag(context.Background(), lag)
		}),
		playback.WithOnSpeakingChange(func(speaking bool) {
			slog.Debug("assistant speaking state changed", "speaking", speaking)
			a.metrics.RecordSpeakingChange(context.Background(), "assistant", speaking)
		}),
	)
}

// sendSnapshot forwards a camera snapshot to the current session. Snapshots
// taken while the session is reconnecting are dropped.
func (a *App) sendSnapshot(mimeType string, data []byte) error {
	sess := a.reconn.Session()
	if sess == nil {
		return nil
	}
	return sess.SendMedia(mimeType, data)
}

// ─── Health ──────────────────────────────────────────────────────────────────

// HealthCheckers returns the readiness checks for the admin endpoint.
func (a *App) HealthCheckers() []health.Checker {
	return []health.Checker{
		{Name: "session", Check: func(_ context.Context) error {
			if a.reconn.Session() == nil {
				return errors.New("live session not established")
			}
			return nil
		}},
		{Name: "capture", Check: func(_ context.Context) error {
			return a.source.Err()
		}},
		{Name: "store", Check: func(ctx context.Context) error {
			_, err := a.store.List(ctx, store.Query{Limit: 1})
			return err
		}},
	}
}

// ─── Shutdown ────────────────────────────────────────────────────────────────

// Shutdown tears down all subsystems. It respects the context deadline: if
// ctx expires before all closers finish, remaining closers are skipped and
// the context error is returned.
func (a *App) Shutdown(ctx context.Context) error {
	var shutdownErr error
	a.stopOnce.Do(func() {
		slog.Info("shutting down", "closers", len(a.closers))

		for i, closer := range a.closers {
			select {
			case <-ctx.Done():
				slog.Warn("shutdown deadline exceeded", "remaining", len(a.closers)-i)
				shutdownErr = ctx.Err()
				return
			default:
			}
			if err := closer(); err != nil {
				slog.Warn("closer error", "index", i, "err", err)
			}
		}

		slog.Info("shutdown complete")
	})
	return shutdownErr
}
