package pipeline_test

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"strings"
	"sync"
	"testing"
	"time"

	capmock "github.com/baominh/greeter/internal/capture/mock"
	"github.com/baominh/greeter/internal/catalog"
	"github.com/baominh/greeter/internal/pipeline"
	"github.com/baominh/greeter/internal/playback"
	"github.com/baominh/greeter/internal/store"
	"github.com/baominh/greeter/internal/turns"
	"github.com/baominh/greeter/internal/uplink"
	"github.com/baominh/greeter/internal/vad"
	"github.com/baominh/greeter/pkg/audio"
	"github.com/baominh/greeter/pkg/provider/live"
	livemock "github.com/baominh/greeter/pkg/provider/live/mock"
)

// recordSink is a playback.Sink that records scheduled chunks and flushes.
type recordSink struct {
	mu      sync.Mutex
	plays   [][]float32
	flushes int
}

func (s *recordSink) Now() time.Duration { return 0 }

func (s *recordSink) PlayAt(samples []float32, at time.Duration) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	cp := make([]float32, len(samples))
	copy(cp, samples)
	s.plays = append(s.plays, cp)
	return nil
}

func (s *recordSink) Flush() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.flushes++
}

func (s *recordSink) Close() error { return nil }

func (s *recordSink) playCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.plays)
}

func (s *recordSink) flushCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.flushes
}

// fixture bundles a controller with all its test doubles.
type fixture struct {
	sess  *livemock.Session
	src   *capmock.Source
	sink  *recordSink
	gate  *vad.Gate
	store *store.MemStore
	ctrl  *pipeline.Controller

	cancel context.CancelFunc
	done   chan error
}

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// newFixture builds a controller around mocks and starts Run in a goroutine.
// The run is stopped and drained automatically at test cleanup.
func newFixture(t *testing.T, mutate func(cfg *pipeline.Config)) *fixture {
	t.Helper()

	f := &fixture{
		sess:  &livemock.Session{EventsCh: make(chan live.ServerEvent, 16)},
		src:   capmock.NewSource(),
		sink:  &recordSink{},
		gate:  vad.NewGate(),
		store: store.NewMemStore(),
		done:  make(chan error, 1),
	}

	cfg := pipeline.Config{
		SessionID: "test-session",
		Store:     f.store,
		Logger:    discardLogger(),
	}
	if mutate != nil {
		mutate(&cfg)
	}

	log := discardLogger()
	f.ctrl = pipeline.New(cfg,
		f.sess,
		f.src,
		f.gate,
		uplink.NewSender(16000, log),
		playback.NewScheduler(f.sink, 24000, playback.WithLogger(log)),
		turns.NewAssembler(),
	)

	ctx, cancel := context.WithCancel(context.Background())
	f.cancel = cancel
	go func() { f.done <- f.ctrl.Run(ctx) }()

	t.Cleanup(func() {
		cancel()
		select {
		case <-f.done:
		case <-time.After(2 * time.Second):
			t.Error("Run did not return after cancel")
		}
	})
	return f
}

// waitFor polls cond until it holds or the deadline expires.
func waitFor(t *testing.T, cond func() bool, msg string) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatal(msg)
}

// loudFrame returns a frame well above the speech threshold.
func loudFrame(n int) audio.Frame {
	samples := make([]float32, n)
	for i := range samples {
		samples[i] = 0.5
	}
	return audio.Frame{Samples: samples, SampleRate: 16000}
}

// quietFrame returns a non-silent frame below the speech threshold.
func quietFrame(n int) audio.Frame {
	samples := make([]float32, n)
	for i := range samples {
		samples[i] = 0.0001
	}
	return audio.Frame{Samples: samples, SampleRate: 16000}
}

func TestController_ForwardsCaptureAudioToSession(t *testing.T) {
	t.Parallel()
	f := newFixture(t, nil)

	f.src.Emit(loudFrame(320))

	waitFor(t, func() bool { return len(f.sess.AudioSent()) == 1 },
		"audio never reached the session")
	if got := len(f.sess.AudioSent()[0]); got != 640 {
		t.Errorf("chunk size = %d bytes, want 640", got)
	}
}

func TestController_QuietFramesForwardedAsSilence(t *testing.T) {
	t.Parallel()
	f := newFixture(t, nil)

	f.src.Emit(quietFrame(320))

	waitFor(t, func() bool { return len(f.sess.AudioSent()) == 1 },
		"audio never reached the session")
	for i, b := range f.sess.AudioSent()[0] {
		if b != 0 {
			t.Fatalf("byte %d = %#x, want silence", i, b)
		}
	}
}

func TestController_MuteZeroesUplink(t *testing.T) {
	t.Parallel()
	f := newFixture(t, nil)

	f.ctrl.SetMuted(true)
	// The mute action and frames travel on different channels; wait until the
	// gate is actually muted before emitting.
	waitFor(t, func() bool { return f.gate.Muted() }, "gate never muted")

	f.src.Emit(loudFrame(320))
	waitFor(t, func() bool { return len(f.sess.AudioSent()) == 1 },
		"muted frame never reached the session")
	for i, b := range f.sess.AudioSent()[0] {
		if b != 0 {
			t.Fatalf("byte %d = %#x, want silence while muted", i, b)
		}
	}
}

func TestController_SchedulesDownlinkAudio(t *testing.T) {
	t.Parallel()
	f := newFixture(t, nil)

	f.sess.EventsCh <- live.ServerEvent{Audio: make([]byte, 4800)}

	waitFor(t, func() bool { return f.sink.playCount() == 1 },
		"downlink audio was never scheduled")
}

func TestController_InterruptDiscardsPlayback(t *testing.T) {
	t.Parallel()
	f := newFixture(t, nil)

	f.sess.EventsCh <- live.ServerEvent{Audio: make([]byte, 4800)}
	waitFor(t, func() bool { return f.sink.playCount() == 1 },
		"downlink audio was never scheduled")

	f.sess.EventsCh <- live.ServerEvent{Interrupted: true}
	waitFor(t, func() bool { return f.sink.flushCount() == 1 },
		"barge-in never flushed the sink")
}

func TestController_TurnCompletePersistsTranscript(t *testing.T) {
	t.Parallel()
	f := newFixture(t, nil)

	f.sess.EventsCh <- live.ServerEvent{InputTranscription: "do you have "}
	f.sess.EventsCh <- live.ServerEvent{InputTranscription: "jasmine rice"}
	f.sess.EventsCh <- live.ServerEvent{OutputTranscription: "Yes, aisle three."}
	f.sess.EventsCh <- live.ServerEvent{TurnComplete: true}

	var entries []store.Entry
	waitFor(t, func() bool {
		var err error
		entries, err = f.store.List(context.Background(), store.Query{})
		return err == nil && len(entries) == 2
	}, "transcript entries were never persisted")

	if entries[0].Role != turns.RoleUser {
		t.Errorf("first entry role = %q, want user", entries[0].Role)
	}
	if entries[0].Text != "do you have jasmine rice" {
		t.Errorf("user text = %q", entries[0].Text)
	}
	if entries[1].Text != "Yes, aisle three." {
		t.Errorf("model text = %q", entries[1].Text)
	}
	if entries[0].SessionID != "test-session" {
		t.Errorf("session id = %q", entries[0].SessionID)
	}
}

func TestController_DetectsProductsInModelTurns(t *testing.T) {
	t.Parallel()

	cat, err := catalog.Parse(strings.NewReader("Jasmine Rice: aisle 3\nFish Sauce: aisle 5\n"))
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}
	f := newFixture(t, func(cfg *pipeline.Config) {
		cfg.Detector = catalog.NewDetector()
		cfg.Catalog = func() *catalog.Catalog { return cat }
	})

	f.sess.EventsCh <- live.ServerEvent{OutputTranscription: "the fish sauce is in aisle five"}
	f.sess.EventsCh <- live.ServerEvent{TurnComplete: true}

	// Detection itself is covered by the catalog tests; here we only need the
	// turn to flow through the detector without disturbing persistence.
	waitFor(t, func() bool {
		entries, err := f.store.List(context.Background(), store.Query{})
		return err == nil && len(entries) == 1
	}, "model turn was never persisted")
}

func TestController_SessionEndInvokesOnSessionDown(t *testing.T) {
	t.Parallel()

	downCh := make(chan struct{}, 1)
	f := newFixture(t, func(cfg *pipeline.Config) {
		cfg.OnSessionDown = func() { downCh <- struct{}{} }
	})

	// A half-finished turn must be flushed when the stream dies.
	f.sess.EventsCh <- live.ServerEvent{InputTranscription: "hello there"}
	close(f.sess.EventsCh)

	select {
	case <-downCh:
	case <-time.After(2 * time.Second):
		t.Fatal("OnSessionDown was never invoked")
	}

	entries, err := f.store.List(context.Background(), store.Query{})
	if err != nil {
		t.Fatalf("List: %v", err)
	}
	if len(entries) != 1 || entries[0].Text != "hello there" {
		t.Fatalf("pending turn not flushed, entries = %+v", entries)
	}
}

func TestController_ReplaceSessionResumesDispatch(t *testing.T) {
	t.Parallel()
	f := newFixture(t, nil)

	close(f.sess.EventsCh)

	next := &livemock.Session{EventsCh: make(chan live.ServerEvent, 16)}
	f.ctrl.ReplaceSession(next)

	next.EventsCh <- live.ServerEvent{Audio: make([]byte, 4800)}
	waitFor(t, func() bool { return f.sink.playCount() == 1 },
		"event from replacement session was never handled")

	// Capture frames now go to the new session.
	f.src.Emit(loudFrame(320))
	waitFor(t, func() bool { return len(next.AudioSent()) == 1 },
		"capture audio never reached the replacement session")
	if got := len(f.sess.AudioSent()); got != 0 {
		t.Errorf("old session received %d chunks after replacement", got)
	}
}

func TestController_CaptureFailureEndsRun(t *testing.T) {
	t.Parallel()
	f := newFixture(t, nil)

	deviceErr := errors.New("device yanked")
	f.src.Fail(deviceErr)

	select {
	case err := <-f.done:
		if !errors.Is(err, deviceErr) {
			t.Errorf("Run error = %v, want wrapped %v", err, deviceErr)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("Run did not return after capture failure")
	}
	f.done <- nil // keep cleanup happy
}

func TestController_CleanCaptureCloseEndsRunNil(t *testing.T) {
	t.Parallel()
	f := newFixture(t, nil)

	if err := f.src.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}

	select {
	case err := <-f.done:
		if err != nil {
			t.Errorf("Run error = %v, want nil", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("Run did not return after capture close")
	}
	f.done <- nil
}

func TestController_CancelClosesAllStagesInOrder(t *testing.T) {
	t.Parallel()

	var order []string
	sink := &orderedSink{recordSink: &recordSink{}, order: &order}
	sess := &orderedSession{
		Session: &livemock.Session{EventsCh: make(chan live.ServerEvent, 1)},
		order:   &order,
	}
	src := &orderedSource{Source: capmock.NewSource(), order: &order}

	log := discardLogger()
	ctrl := pipeline.New(
		pipeline.Config{SessionID: "s", Logger: log},
		sess,
		src,
		vad.NewGate(),
		uplink.NewSender(16000, log),
		playback.NewScheduler(sink, 24000, playback.WithLogger(log)),
		turns.NewAssembler(),
	)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- ctrl.Run(ctx) }()
	cancel()

	select {
	case err := <-done:
		if !errors.Is(err, context.Canceled) {
			t.Errorf("Run error = %v, want context.Canceled", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("Run did not return after cancel")
	}

	want := []string{"session", "playback", "capture"}
	if len(order) != len(want) {
		t.Fatalf("close order = %v, want %v", order, want)
	}
	for i := range want {
		if order[i] != want[i] {
			t.Fatalf("close order = %v, want %v", order, want)
		}
	}
}

// ── teardown-order wrappers ──

type orderedSession struct {
	*livemock.Session
	order *[]string
}

func (s *orderedSession) Close() error {
	*s.order = append(*s.order, "session")
	return s.Session.Close()
}

type orderedSink struct {
	*recordSink
	order *[]string
}

func (s *orderedSink) Close() error {
	*s.order = append(*s.order, "playback")
	return s.recordSink.Close()
}

type orderedSource struct {
	*capmock.Source
	order *[]string
}

func (s *orderedSource) Close() error {
	*s.order = append(*s.order, "capture")
	return s.Source.Close()
}
