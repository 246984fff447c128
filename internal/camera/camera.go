// Package camera feeds periodic snapshots from the store camera into the
// live session, giving the model a view of the counter area.
//
// The camera is strictly auxiliary: any fetch or send failure is logged and
// the poller keeps going, so a dead camera never takes the voice pipeline
// down with it.
package camera

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"time"
)

const (
	// DefaultInterval is how often a snapshot is fetched.
	DefaultInterval = 5 * time.Second

	// maxSnapshotBytes caps the accepted image size.
	maxSnapshotBytes = 4 << 20
)

// SendFunc delivers one snapshot into the live session.
type SendFunc func(mimeType string, data []byte) error

// Option configures a Poller.
type Option func(*Poller)

// WithInterval sets the snapshot interval.
func WithInterval(d time.Duration) Option {
	return func(p *Poller) {
		if d > 0 {
			p.interval = d
		}
	}
}

// WithClient sets the HTTP client used to fetch snapshots.
func WithClient(c *http.Client) Option {
	return func(p *Poller) { p.client = c }
}

// WithLogger sets the logger for poll diagnostics.
func WithLogger(log *slog.Logger) Option {
	return func(p *Poller) { p.log = log }
}

// Poller periodically fetches a JPEG snapshot and forwards it through a
// SendFunc.
type Poller struct {
	url      string
	interval time.Duration
	client   *http.Client
	log      *slog.Logger
}

// NewPoller creates a Poller for the snapshot endpoint at url.
func NewPoller(url string, opts ...Option) *Poller {
	p := &Poller{
		url:      url,
		interval: DefaultInterval,
		client:   &http.Client{Timeout: 10 * time.Second},
		log:      slog.Default(),
	}
	for _, o := range opts {
		o(p)
	}
	return p
}

// Run polls until the context is cancelled, delivering each snapshot through
// send. It always returns ctx.Err().
func (p *Poller) Run(ctx context.Context, send SendFunc) error {
	ticker := time.NewTicker(p.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			if err := p.snapshot(ctx, send); err != nil {
				p.log.Warn("camera snapshot failed", "url", p.url, "err", err)
			}
		}
	}
}

// snapshot fetches one frame and forwards it.
func (p *Poller) snapshot(ctx context.Context, send SendFunc) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, p.url, nil)
	if err != nil {
		return fmt.Errorf("build request: %w", err)
	}
	resp, err := p.client.Do(req)
	if err != nil {
		return fmt.Errorf("fetch: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("fetch: unexpected status %d", resp.StatusCode)
	}

	data, err := io.ReadAll(io.LimitReader(resp.Body, maxSnapshotBytes+1))
	if err != nil {
		return fmt.Errorf("read body: %w", err)
	}
	if len(data) > maxSnapshotBytes {
		return fmt.Errorf("snapshot exceeds %d bytes", maxSnapshotBytes)
	}
	if len(data) == 0 {
		return fmt.Errorf("empty snapshot")
	}

	if err := send("image/jpeg", data); err != nil {
		return fmt.Errorf("send: %w", err)
	}
	return nil
}
