// Package pipeline wires capture, gating, uplink, downlink playback, and
// transcript assembly into one dispatch loop.
//
// A single goroutine owns all pipeline state and multiplexes over capture
// frames, server events, control actions, and session replacements. Teardown
// is strictly ordered: the live session closes first, then playback, then
// capture, so no stage ever feeds a stage that is already gone.
package pipeline

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/baominh/greeter/internal/capture"
	"github.com/baominh/greeter/internal/catalog"
	"github.com/baominh/greeter/internal/observe"
	"github.com/baominh/greeter/internal/playback"
	"github.com/baominh/greeter/internal/store"
	"github.com/baominh/greeter/internal/turns"
	"github.com/baominh/greeter/internal/uplink"
	"github.com/baominh/greeter/internal/vad"
	"github.com/baominh/greeter/pkg/audio"
	"github.com/baominh/greeter/pkg/provider/live"
)

// persistTimeout bounds transcript writes during teardown, when the parent
// context is already cancelled.
const persistTimeout = 5 * time.Second

// Config carries the controller's collaborators that are optional or shared
// across sessions.
type Config struct {
	// SessionID tags persisted transcript entries.
	SessionID string

	// Store receives finished transcript entries. May be nil.
	Store store.Store

	// Detector finds product mentions in model speech. May be nil.
	Detector *catalog.Detector

	// Catalog returns the current product catalog snapshot. May be nil.
	Catalog func() *catalog.Catalog

	// Metrics records pipeline metrics. May be nil.
	Metrics *observe.Metrics

	// Logger is the pipeline logger. Defaults to slog.Default().
	Logger *slog.Logger

	// OnSessionDown is invoked once per session when its event stream ends
	// without the pipeline shutting down, typically to trigger a reconnect.
	// May be nil.
	OnSessionDown func()
}

// Controller runs the voice pipeline for one ongoing conversation. Create
// one with New and drive it with Run; the control methods are safe to call
// from any goroutine.
type Controller struct {
	cfg    Config
	log    *slog.Logger
	source capture.Source
	gate   *vad.Gate
	sender *uplink.Sender
	sched  *playback.Scheduler
	asm    *turns.Assembler

	sess     live.SessionHandle
	sessions chan live.SessionHandle
	actions  chan func()
}

// New assembles a Controller around an already-open session.
func New(
	cfg Config,
	sess live.SessionHandle,
	source capture.Source,
	gate *vad.Gate,
	sender *uplink.Sender,
	sched *playback.Scheduler,
	asm *turns.Assembler,
) *Controller {
	log := cfg.Logger
	if log == nil {
		log = slog.Default()
	}
	return &Controller{
		cfg:      cfg,
		log:      log,
		source:   source,
		gate:     gate,
		sender:   sender,
		sched:    sched,
		asm:      asm,
		sess:     sess,
		sessions: make(chan live.SessionHandle, 1),
		actions:  make(chan func(), 4),
	}
}

// SetMuted mutes or unmutes the microphone gate. While muted, capture keeps
// running but only silence reaches the provider.
func (c *Controller) SetMuted(muted bool) {
	c.actions <- func() {
		c.gate.SetMuted(muted)
		c.log.Info("microphone mute changed", "muted", muted)
	}
}

// ReplaceSession hands the controller a fresh session after a reconnect.
// Stale playback from the old session is discarded.
func (c *Controller) ReplaceSession(sess live.SessionHandle) {
	c.sessions <- sess
}

// Run drives the pipeline until the context is cancelled or capture fails.
// It always tears down in session, playback, capture order before
// returning.
func (c *Controller) Run(ctx context.Context) error {
	defer c.teardown()

	events := c.sess.Events()
	frames := c.source.Frames()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()

		case fn := <-c.actions:
			fn()

		case sess := <-c.sessions:
			// Anything assembled or scheduled belongs to the old session.
			c.flushTurn(ctx)
			c.sched.Interrupt()
			c.sess = sess
			events = sess.Events()
			c.log.Info("pipeline switched to new session")

		case frame, ok := <-frames:
			if !ok {
				if err := c.source.Err(); err != nil {
					return fmt.Errorf("pipeline: capture failed: %w", err)
				}
				return nil
			}
			c.handleFrame(ctx, frame)

		case ev, ok := <-events:
			if !ok {
				c.flushTurn(ctx)
				if err := c.sess.Err(); err != nil {
					c.log.Error("session ended with error", "err", err)
					if c.cfg.Metrics != nil {
						c.cfg.Metrics.RecordProviderError(ctx, "live", "receive")
					}
				} else {
					c.log.Info("session ended")
				}
				// Stop selecting on the dead stream until a replacement
				// arrives.
				events = nil
				if c.cfg.OnSessionDown != nil {
					c.cfg.OnSessionDown()
				}
				continue
			}
			c.handleEvent(ctx, ev)
		}
	}
}

// handleFrame gates one capture frame and forwards it on the uplink.
func (c *Controller) handleFrame(ctx context.Context, frame audio.Frame) {
	gated := c.gate.Process(frame)
	if err := c.sender.Send(c.sess, gated); err != nil {
		c.log.Error("uplink send failed", "err", err)
		if c.cfg.Metrics != nil {
			c.cfg.Metrics.RecordProviderError(ctx, "live", "send")
		}
		return
	}
	if c.cfg.Metrics != nil {
		c.cfg.Metrics.RecordUplinkChunk(ctx, len(gated.Samples)*2)
	}
}

// handleEvent dispatches one server event.
func (c *Controller) handleEvent(ctx context.Context, ev live.ServerEvent) {
	if ev.Interrupted {
		c.sched.Interrupt()
		c.log.Debug("barge-in, discarded scheduled playback")
		if c.cfg.Metrics != nil {
			c.cfg.Metrics.RecordInterruption(ctx)
		}
	}
	if len(ev.Audio) > 0 {
		if err := c.sched.Enqueue(ev.Audio); err != nil {
			c.log.Error("playback enqueue failed", "err", err)
		} else if c.cfg.Metrics != nil {
			c.cfg.Metrics.RecordDownlinkChunk(ctx, len(ev.Audio))
		}
	}
	if ev.InputTranscription != "" {
		c.asm.AddUser(ev.InputTranscription)
	}
	if ev.OutputTranscription != "" {
		c.asm.AddModel(ev.OutputTranscription)
	}
	if ev.TurnComplete {
		c.flushTurn(ctx)
	}
}

// flushTurn completes the pending turn, detects product mentions, and
// persists the entries.
func (c *Controller) flushTurn(ctx context.Context) {
	entries := c.asm.CompleteTurn()
	if len(entries) == 0 {
		return
	}

	for _, e := range entries {
		if c.cfg.Metrics != nil {
			c.cfg.Metrics.RecordTurn(ctx, string(e.Role))
		}
		if e.Role == turns.RoleModel {
			c.detectProducts(ctx, e.Text)
		}
	}

	if c.cfg.Store == nil {
		return
	}
	if err := c.cfg.Store.SaveEntries(ctx, c.cfg.SessionID, entries); err != nil {
		c.log.Error("transcript persistence failed", "err", err, "entries", len(entries))
	}
}

// detectProducts logs and counts catalog products referenced by the model
// so the active-product state tracks what the greeter is talking about.
func (c *Controller) detectProducts(ctx context.Context, text string) {
	if c.cfg.Detector == nil || c.cfg.Catalog == nil {
		return
	}
	cat := c.cfg.Catalog()
	if cat == nil {
		return
	}
	for _, p := range c.cfg.Detector.Detect(text, cat) {
		c.log.Info("product mentioned", "product", p.Name, "detail", p.Detail)
		if c.cfg.Metrics != nil {
			c.cfg.Metrics.RecordProductMention(ctx, p.Name)
		}
	}
}

// teardown shuts the pipeline down in dependency order. Each stage's Close
// is idempotent, so teardown is safe even when a stage already failed.
func (c *Controller) teardown() {
	ctx, cancel := context.WithTimeout(context.Background(), persistTimeout)
	defer cancel()

	if c.asm.Pending() {
		c.flushTurn(ctx)
	}
	if err := c.sess.Close(); err != nil {
		c.log.Warn("session close", "err", err)
	}
	if err := c.sched.Close(); err != nil {
		c.log.Warn("playback close", "err", err)
	}
	if err := c.source.Close(); err != nil {
		c.log.Warn("capture close", "err", err)
	}
	c.log.Info("pipeline stopped")
}
