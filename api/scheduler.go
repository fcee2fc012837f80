/*
scheduler.go - Idle session reaper

PURPOSE:
  Sessions live in memory. The reaper periodically drops sessions that have
  not been touched for longer than the TTL so an open dashboard tab does
  not pin a tree forever. Runs worth keeping should be archived first.

DESIGN:
  - Runs a background goroutine with configurable check interval
  - Compares each session's last use against now - TTL
  - Updates the live sessions gauge after every sweep

CONFIGURATION:
  - CheckInterval: How often to sweep (default: 5 minutes)
  - TTL: Idle time before a session is dropped (default: 2 hours)
  - Enabled: Whether the reaper is active (default: true)

USAGE:
  reaper := NewSessionReaper(handler)
  reaper.Start()
  // ... later
  reaper.Stop()

SEE ALSO:
  - sessions.go: SessionStore.Expire
  - handlers.go: ArchiveSession (persist a run before it expires)
*/
package api

import (
	"log/slog"
	"sync"
	"time"
)

// SessionReaper expires idle sessions.
type SessionReaper struct {
	Handler       *Handler
	CheckInterval time.Duration
	TTL           time.Duration
	Enabled       bool

	ticker *time.Ticker
	stop   chan struct{}
	wg     sync.WaitGroup
	mu     sync.Mutex
}

// NewSessionReaper creates a reaper with the default interval and TTL.
func NewSessionReaper(h *Handler) *SessionReaper {
	return &SessionReaper{
		Handler:       h,
		CheckInterval: 5 * time.Minute,
		TTL:           2 * time.Hour,
		Enabled:       true,
		stop:          make(chan struct{}),
	}
}

// Start begins the reaper.
func (sr *SessionReaper) Start() {
	sr.mu.Lock()
	defer sr.mu.Unlock()

	if !sr.Enabled {
		sr.Handler.logger.Info("session reaper disabled")
		return
	}

	sr.ticker = time.NewTicker(sr.CheckInterval)
	sr.wg.Add(1)

	go sr.run()

	sr.Handler.logger.Info("session reaper started",
		slog.Duration("interval", sr.CheckInterval),
		slog.Duration("ttl", sr.TTL))
}

// Stop stops the reaper and waits for the current sweep.
func (sr *SessionReaper) Stop() {
	sr.mu.Lock()
	defer sr.mu.Unlock()

	if sr.ticker != nil {
		sr.ticker.Stop()
		close(sr.stop)
		sr.wg.Wait()
		sr.ticker = nil
		sr.Handler.logger.Info("session reaper stopped")
	}
}

func (sr *SessionReaper) run() {
	defer sr.wg.Done()

	for {
		select {
		case <-sr.ticker.C:
			sr.Sweep()
		case <-sr.stop:
			return
		}
	}
}

// Sweep expires idle sessions once and returns their ids.
func (sr *SessionReaper) Sweep() []string {
	h := sr.Handler
	expired := h.Sessions.Expire(h.now().Add(-sr.TTL))
	h.Metrics.SetSessions(h.Sessions.Len())
	if len(expired) > 0 {
		h.logger.Info("sessions expired",
			slog.Int("count", len(expired)),
			slog.Int("remaining", h.Sessions.Len()))
	}
	return expired
}
