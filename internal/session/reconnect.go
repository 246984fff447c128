// Package session manages the lifecycle of live provider sessions: building
// the system instructions, opening sessions, and reconnecting when one
// drops.
package session

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/baominh/greeter/pkg/provider/live"
)

// Default reconnection parameters.
const (
	defaultMaxRetries = 10
	defaultBackoff    = 1 * time.Second
	defaultMaxBackoff = 30 * time.Second
)

// Reconnector opens live sessions and automatically reopens them when they
// drop, preserving the session configuration across reconnects.
//
// Callers obtain the initial session via [Reconnector.Connect], then call
// [Reconnector.Monitor] to start a background goroutine that watches for
// drops. When a drop is signalled (via [Reconnector.NotifyDisconnect]), the
// monitor reconnects with exponential backoff and hands the fresh session to
// the configured OnReconnect callback.
//
// All methods are safe for concurrent use.
type Reconnector struct {
	provider    live.Provider
	sessionCfg  live.SessionConfig
	maxRetries  int
	backoff     time.Duration
	maxBackoff  time.Duration
	onReconnect func(live.SessionHandle)

	mu           sync.Mutex
	sess         live.SessionHandle
	done         chan struct{}
	stopOnce     sync.Once
	disconnected chan struct{} // signalled when a drop is detected
}

// ReconnectorConfig configures a [Reconnector].
type ReconnectorConfig struct {
	// Provider is the live backend used to open sessions.
	Provider live.Provider

	// SessionConfig is reused for every (re)connect.
	SessionConfig live.SessionConfig

	// MaxRetries is the maximum number of reconnection attempts before
	// giving up. Defaults to 10 if zero.
	MaxRetries int

	// Backoff is the initial backoff duration between retries. Doubles each
	// attempt up to MaxBackoff. Defaults to 1s if zero.
	Backoff time.Duration

	// MaxBackoff is the upper limit on backoff duration. Defaults to 30s if zero.
	MaxBackoff time.Duration

	// OnReconnect is called after a successful reconnection with the new
	// session. May be nil.
	OnReconnect func(live.SessionHandle)
}

// NewReconnector creates a new [Reconnector] with the given configuration.
func NewReconnector(cfg ReconnectorConfig) *Reconnector {
	maxRetries := cfg.MaxRetries
	if maxRetries <= 0 {
		maxRetries = defaultMaxRetries
	}
	backoff := cfg.Backoff
	if backoff <= 0 {
		backoff = defaultBackoff
	}
	maxBackoff := cfg.MaxBackoff
	if maxBackoff <= 0 {
		maxBackoff = defaultMaxBackoff
	}
	return &Reconnector{
		provider:     cfg.Provider,
		sessionCfg:   cfg.SessionConfig,
		maxRetries:   maxRetries,
		backoff:      backoff,
		maxBackoff:   maxBackoff,
		onReconnect:  cfg.OnReconnect,
		done:         make(chan struct{}),
		disconnected: make(chan struct{}, 1),
	}
}

// Connect opens the initial session.
func (r *Reconnector) Connect(ctx context.Context) (live.SessionHandle, error) {
	sess, err := r.provider.Connect(ctx, r.sessionCfg)
	if err != nil {
		return nil, fmt.Errorf("reconnector initial connect: %w", err)
	}

	r.mu.Lock()
	r.sess = sess
	r.mu.Unlock()

	return sess, nil
}

// SetSessionConfig replaces the configuration used for future reconnects,
// e.g. after a catalog reload changed the system instructions.
func (r *Reconnector) SetSessionConfig(cfg live.SessionConfig) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.sessionCfg = cfg
}

// Monitor starts watching for drop notifications in a background goroutine.
func (r *Reconnector) Monitor(ctx context.Context) {
	go r.monitorLoop(ctx)
}

// NotifyDisconnect signals the monitor that the session has been lost and a
// reconnect should be attempted. Safe to call multiple times; only the first
// call per reconnection cycle has effect.
func (r *Reconnector) NotifyDisconnect() {
	select {
	case r.disconnected <- struct{}{}:
	default:
		// Already signalled; avoid blocking.
	}
}

// Stop halts monitoring and closes the current session.
// Safe to call multiple times.
func (r *Reconnector) Stop() error {
	r.stopOnce.Do(func() {
		close(r.done)
	})

	r.mu.Lock()
	sess := r.sess
	r.sess = nil
	r.mu.Unlock()

	if sess != nil {
		return sess.Close()
	}
	return nil
}

// Session returns the current active session. May return nil during
// reconnection.
func (r *Reconnector) Session() live.SessionHandle {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.sess
}

// monitorLoop waits for disconnect notifications and attempts reconnection.
func (r *Reconnector) monitorLoop(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case <-r.done:
			return
		case <-r.disconnected:
			r.attemptReconnect(ctx)
		}
	}
}

// attemptReconnect tries to reopen the session with exponential backoff.
func (r *Reconnector) attemptReconnect(ctx context.Context) {
	// Close the dropped session first so a half-open connection never
	// overlaps the new one.
	r.mu.Lock()
	old := r.sess
	r.sess = nil
	cfg := r.sessionCfg
	r.mu.Unlock()
	if old != nil {
		_ = old.Close()
	}

	currentBackoff := r.backoff

	for attempt := 1; attempt <= r.maxRetries; attempt++ {
		select {
		case <-ctx.Done():
			return
		case <-r.done:
			return
		default:
		}

		slog.Info("attempting session reconnect",
			"attempt", attempt,
			"max_retries", r.maxRetries,
			"backoff", currentBackoff,
		)

		sess, err := r.provider.Connect(ctx, cfg)
		if err == nil {
			r.mu.Lock()
			r.sess = sess
			r.mu.Unlock()

			slog.Info("session reconnect successful", "attempt", attempt)

			if r.onReconnect != nil {
				r.onReconnect(sess)
			}
			return
		}

		slog.Warn("session reconnect attempt failed",
			"attempt", attempt,
			"error", err,
		)

		// Wait before retrying.
		select {
		case <-ctx.Done():
			return
		case <-r.done:
			return
		case <-time.After(currentBackoff):
		}

		// Exponential backoff.
		currentBackoff *= 2
		if currentBackoff > r.maxBackoff {
			currentBackoff = r.maxBackoff
		}
	}

	slog.Error("session reconnect failed after max retries",
		"max_retries", r.maxRetries,
	)
}
