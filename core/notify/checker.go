package notify

import (
	"context"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"
)

// =============================================================================
// State machine
// =============================================================================

// State is the checker's position in its IDLE -> CHECKING -> BROADCASTING
// cycle, exposed for tests and metrics.
type State int32

const (
	StateIdle State = iota
	StateChecking
	StateBroadcasting
)

func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateChecking:
		return "checking"
	case StateBroadcasting:
		return "broadcasting"
	default:
		return "unknown"
	}
}

// =============================================================================
// Source
// =============================================================================

// Source supplies the checker's two inputs: a cheap remote fingerprint and
// the (expensive) refresh that pulls and rebuilds the broadcast payloads.
// Satisfied by the vault service.
type Source interface {
	// Fingerprint returns the current remote tip identity without
	// mutating the working copy.
	Fingerprint(ctx context.Context) (string, error)

	// Refresh synchronizes local state and returns the events to
	// broadcast (typically one EventFileListUpdated).
	Refresh(ctx context.Context) ([]Event, error)
}

// =============================================================================
// Checker
// =============================================================================

// DefaultInterval is the periodic check cadence.
const DefaultInterval = 15 * time.Second

// Checker drives the notification cycle: every interval (or on Kick) it
// compares the remote fingerprint against the last one broadcast, and when
// they differ it refreshes and publishes to the hub.
type Checker struct {
	source   Source
	hub      *Hub
	interval time.Duration
	logger   *slog.Logger

	state  atomic.Int32
	paused atomic.Bool

	mu       sync.Mutex
	lastSeen string

	kick chan struct{}
}

// NewChecker builds a checker; interval <= 0 selects DefaultInterval.
func NewChecker(source Source, hub *Hub, interval time.Duration, logger *slog.Logger) *Checker {
	if interval <= 0 {
		interval = DefaultInterval
	}
	if logger == nil {
		logger = slog.Default()
	}

	return &Checker{
		source:   source,
		hub:      hub,
		interval: interval,
		logger:   logger,
		kick:     make(chan struct{}, 1),
	}
}

// Run executes the check loop until the context is cancelled. One check
// runs immediately on start so clients never wait a full interval for the
// first listing.
func (c *Checker) Run(ctx context.Context) {
	ticker := time.NewTicker(c.interval)
	defer ticker.Stop()

	c.Check(ctx)

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if !c.paused.Load() {
				c.Check(ctx)
			}
		case <-c.kick:
			if !c.paused.Load() {
				c.Check(ctx)
			}
		}
	}
}

// Kick requests an immediate check, used after successful writes and by
// the filesystem watcher. Coalesces: kicking an already-kicked checker is
// a no-op.
func (c *Checker) Kick() {
	select {
	case c.kick <- struct{}{}:
	default:
	}
}

// Pause suspends periodic checks, e.g. while no observers are connected.
func (c *Checker) Pause() {
	c.paused.Store(true)
}

// Resume re-enables checks and always performs one immediately rather than
// waiting out the current interval.
func (c *Checker) Resume() {
	c.paused.Store(false)
	c.Kick()
}

// IsPaused reports whether periodic checks are suspended.
func (c *Checker) IsPaused() bool {
	return c.paused.Load()
}

// State returns the current position in the check cycle.
func (c *Checker) State() State {
	return State(c.state.Load())
}

// =============================================================================
// Check cycle
// =============================================================================

// Check performs one CHECKING (and, when the fingerprint moved,
// BROADCASTING) cycle. Errors are logged and leave the last-seen
// fingerprint untouched so the next cycle retries.
func (c *Checker) Check(ctx context.Context) {
	c.state.Store(int32(StateChecking))
	defer c.state.Store(int32(StateIdle))

	fingerprint, err := c.source.Fingerprint(ctx)
	if err != nil {
		c.logger.Warn("fingerprint check failed", "error", err)
		return
	}

	c.mu.Lock()
	unchanged := fingerprint == c.lastSeen
	c.mu.Unlock()

	if unchanged {
		return
	}

	c.state.Store(int32(StateBroadcasting))

	events, err := c.source.Refresh(ctx)
	if err != nil {
		c.logger.Warn("refresh failed", "error", err)
		return
	}

	for _, event := range events {
		c.hub.Publish(event)
	}

	c.mu.Lock()
	c.lastSeen = fingerprint
	c.mu.Unlock()

	c.logger.Debug("broadcast complete", "fingerprint", fingerprint, "events", len(events))
}
