package scan

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/lavaops/stationd/internal/apperrors"
	"github.com/lavaops/stationd/internal/logger"
	"github.com/lavaops/stationd/internal/models"
)

// Weaker reads than this are reflections or neighbouring bins, drop them
const DefaultMinSignal = -70

// Options tune one scan session
type Options struct {
	// MinSignal in dBm; reads below it are silently dropped.
	// Zero means DefaultMinSignal.
	MinSignal int

	// MaxTags stops the session automatically after that many accepted
	// tags. Zero means no limit, the session runs until Stop.
	MaxTags int

	// OnError receives hardware faults. The session stays active:
	// whether a fault is worth aborting for is the workflow's call.
	OnError func(error)
}

// Coordinator turns the raw hardware stream into deduplicated, filtered
// tags delivered to exactly one consumer. The reader is a singleton
// piece of hardware, so at most one session is active per process and a
// competing Start is rejected rather than silently preempting: events
// are routed by callback, two consumers would corrupt each other's
// workflows.
type Coordinator struct {
	transport Transport
	logger    logger.Logger

	mu          sync.Mutex
	active      bool
	sessionID   string
	ctx         context.Context
	opts        Options
	onTag       func(models.Tag)
	unsubscribe func()
	accepted    int

	// Survives Stop on purpose: wizard workflows stop and resume
	// scanning while still refusing tags they already consumed.
	// Cleared only by Reset, single ids evicted by Forget.
	seen map[string]struct{}
}

func NewCoordinator(transport Transport, logger logger.Logger) *Coordinator {
	return &Coordinator{
		transport: transport,
		logger:    logger,
		seen:      map[string]struct{}{},
	}
}

// Start begins a scan session delivering accepted tags to onTag.
// Fails with apperrors.ErrScanAlreadyActive while another session runs;
// callers are expected to stop-before-start.
func (c *Coordinator) Start(ctx context.Context, onTag func(models.Tag), opts Options) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.active {
		return apperrors.ErrScanAlreadyActive
	}

	if opts.MinSignal == 0 {
		opts.MinSignal = DefaultMinSignal
	}

	c.active = true
	c.sessionID = uuid.NewString()
	c.ctx = ctx
	c.opts = opts
	c.onTag = onTag
	c.accepted = 0
	c.unsubscribe = c.transport.Subscribe(c.handleTag, c.handleError)

	if err := c.transport.StartScan(ctx); err != nil {
		c.detachLocked()
		return fmt.Errorf("error while starting scan. Err: %w", err)
	}

	c.logger.Info("Scan session started",
		"session_id", c.sessionID, "min_signal", opts.MinSignal, "max_tags", opts.MaxTags)
	return nil
}

// Stop ends the active session and detaches from the hardware.
// The seen-set is kept so a resumed session still refuses already
// consumed tags; call Reset to forget them.
func (c *Coordinator) Stop(ctx context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if !c.active {
		return apperrors.ErrScanNotActive
	}

	return c.stopLocked(ctx)
}

// Active reports whether a session currently owns the hardware
func (c *Coordinator) Active() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.active
}

// Reset clears the duplicate-suppression set
func (c *Coordinator) Reset() {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.seen = map[string]struct{}{}
	c.logger.Debug("Scan seen-set reset")
}

// Forget evicts one id from the seen-set so the tag can be scanned
// again, e.g. after the workflow removed its item from a draft list
func (c *Coordinator) Forget(id string) {
	c.mu.Lock()
	defer c.mu.Unlock()

	delete(c.seen, id)
}

func (c *Coordinator) handleTag(ev TagEvent) {
	c.mu.Lock()

	if !c.active {
		c.mu.Unlock()
		return
	}
	if ev.SignalStrength < c.opts.MinSignal {
		c.mu.Unlock()
		return
	}
	if _, dup := c.seen[ev.ID]; dup {
		c.mu.Unlock()
		return
	}

	c.seen[ev.ID] = struct{}{}
	c.accepted++

	deliver := c.onTag
	maxTags := c.opts.MaxTags
	full := maxTags > 0 && c.accepted >= maxTags
	ctx := c.ctx
	c.mu.Unlock()

	// Deliver outside the lock: consumers may call Forget or Stop
	deliver(models.Tag{
		ID:             ev.ID,
		SignalStrength: ev.SignalStrength,
		ObservedAt:     time.Now(),
	})

	if full {
		c.logger.Info("Scan session reached tag limit, stopping", "max_tags", maxTags)

		c.mu.Lock()
		defer c.mu.Unlock()
		if c.active {
			if err := c.stopLocked(ctx); err != nil {
				c.logger.Error("Failed to stop full scan session", "error", err)
			}
		}
	}
}

func (c *Coordinator) handleError(err error) {
	c.mu.Lock()
	onError := c.opts.OnError
	active := c.active
	c.mu.Unlock()

	if !active {
		return
	}

	c.logger.Warn("Hardware scan error", "error", err)
	if onError != nil {
		onError(err)
	}
}

func (c *Coordinator) stopLocked(ctx context.Context) error {
	sessionID := c.sessionID
	accepted := c.accepted
	err := c.transport.StopScan(ctx)
	c.detachLocked()

	if err != nil {
		return fmt.Errorf("error while stopping scan. Err: %w", err)
	}

	c.logger.Info("Scan session stopped", "session_id", sessionID, "accepted", accepted)
	return nil
}

// detachLocked transitions to idle even when StopScan failed:
// a dead reader must not leave the coordinator stuck active
func (c *Coordinator) detachLocked() {
	if c.unsubscribe != nil {
		c.unsubscribe()
		c.unsubscribe = nil
	}
	c.active = false
	c.onTag = nil
	c.ctx = nil
}
