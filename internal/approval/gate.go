package approval

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/lavaops/stationd/internal/apperrors"
	"github.com/lavaops/stationd/internal/logger"
	"github.com/lavaops/stationd/internal/models"
	"github.com/lavaops/stationd/internal/repository"
)

const DefaultPollInterval = 3 * time.Second

type remoteClient interface {
	Create(ctx context.Context, approval models.Approval) (models.Approval, error)
	Get(ctx context.Context, id string) (models.Approval, error)
	Invalidate(ctx context.Context, key models.EntityKey) error
}

type watcher struct {
	cancel context.CancelFunc

	mu          sync.Mutex
	invalidated bool
}

func (w *watcher) invalidate() {
	w.mu.Lock()
	w.invalidated = true
	w.mu.Unlock()
	w.cancel()
}

func (w *watcher) isInvalidated() bool {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.invalidated
}

// Gate guards destructive actions behind a remote approval decision.
// One unresolved request per entity; a decision is observed by polling.
type Gate struct {
	client   remoteClient
	pending  repository.PendingApprovalRepo
	logger   logger.Logger
	interval time.Duration

	mu       sync.Mutex
	watchers map[models.EntityKey]*watcher
}

type GateConfig struct {
	// PollInterval between status reads while awaiting a decision.
	// Zero means DefaultPollInterval.
	PollInterval time.Duration
}

func NewGate(client remoteClient, pending repository.PendingApprovalRepo, logger logger.Logger, cfg GateConfig) *Gate {
	interval := cfg.PollInterval
	if interval <= 0 {
		interval = DefaultPollInterval
	}

	return &Gate{
		client:   client,
		pending:  pending,
		logger:   logger,
		interval: interval,
		watchers: make(map[models.EntityKey]*watcher),
	}
}

// Request creates an approval record for the entity. The returned record
// carries the id to pass to Await. Fails with ErrApprovalAlreadyPending
// while an earlier request for the same entity is unresolved.
func (g *Gate) Request(ctx context.Context, entityType string, entityID string, action string, reason string) (models.Approval, error) {
	key := models.EntityKey{EntityType: entityType, EntityID: entityID}

	if _, err := g.pending.Get(ctx, key); err == nil {
		return models.Approval{}, apperrors.ErrApprovalAlreadyPending
	} else if !errors.Is(err, apperrors.ErrApprovalNotFound) {
		return models.Approval{}, fmt.Errorf("failed to check pending approvals. Err: %w", err)
	}

	created, err := g.client.Create(ctx, models.Approval{
		EntityType: entityType,
		EntityID:   entityID,
		Action:     action,
		Reason:     reason,
		Status:     models.ApprovalPending,
	})
	if err != nil {
		return models.Approval{}, fmt.Errorf("failed to create approval. Err: %w", err)
	}

	created.CreatedAt = time.Now()
	if err := g.pending.Create(ctx, created); err != nil {
		// Lost a race with a concurrent request for the same entity
		if errors.Is(err, apperrors.ErrApprovalAlreadyPending) {
			return models.Approval{}, apperrors.ErrApprovalAlreadyPending
		}
		return models.Approval{}, fmt.Errorf("failed to record pending approval. Err: %w", err)
	}

	g.logger.Info("Approval requested",
		"approval_id", created.ID,
		"entity_type", entityType,
		"entity_id", entityID,
		"action", action,
	)
	return created, nil
}

// Status reads the record's current state once, without watching it
func (g *Gate) Status(ctx context.Context, id string) (models.Approval, error) {
	return g.client.Get(ctx, id)
}

// Await polls the record until it reaches a terminal status or ctx is
// cancelled. Approved returns the record and nil; Rejected returns
// ErrApprovalRejected. A record invalidated while awaiting returns
// ErrApprovalInvalidated even if a stale poll already observed Approved.
//
// Caller cancellation stops watching but leaves the record pending: a
// repeat Request for the same entity still reports it.
func (g *Gate) Await(ctx context.Context, approval models.Approval) (models.Approval, error) {
	key := models.EntityKey{EntityType: approval.EntityType, EntityID: approval.EntityID}

	watchCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	w := &watcher{cancel: cancel}

	g.mu.Lock()
	g.watchers[key] = w
	g.mu.Unlock()

	defer func() {
		g.mu.Lock()
		if g.watchers[key] == w {
			delete(g.watchers, key)
		}
		g.mu.Unlock()
	}()

	ticker := time.NewTicker(g.interval)
	defer ticker.Stop()

	for {
		record, err := g.client.Get(watchCtx, approval.ID)
		switch {
		case err == nil && models.TerminalApprovalStatus(record.Status):
			if w.isInvalidated() {
				return models.Approval{}, apperrors.ErrApprovalInvalidated
			}
			return g.resolve(ctx, key, record)
		case errors.Is(err, apperrors.ErrApprovalNotFound):
			// Record removed remotely while we watched
			g.removePending(ctx, key)
			return models.Approval{}, apperrors.ErrApprovalInvalidated
		case err != nil && watchCtx.Err() == nil:
			g.logger.Warn("Approval poll failed, will retry", "approval_id", approval.ID, "error", err)
		}

		select {
		case <-watchCtx.Done():
			if w.isInvalidated() {
				return models.Approval{}, apperrors.ErrApprovalInvalidated
			}
			return models.Approval{}, watchCtx.Err()
		case <-ticker.C:
		}
	}
}

// Invalidate cancels the local watcher and marks the remote record
// inactive. Late Approved observations after this point do not
// authorize the action.
func (g *Gate) Invalidate(ctx context.Context, entityType string, entityID string) error {
	key := models.EntityKey{EntityType: entityType, EntityID: entityID}

	g.mu.Lock()
	w := g.watchers[key]
	g.mu.Unlock()

	if w != nil {
		w.invalidate()
	}

	g.removePending(ctx, key)

	if err := g.client.Invalidate(ctx, key); err != nil {
		return fmt.Errorf("failed to invalidate remote approval. Err: %w", err)
	}

	g.logger.Info("Approval invalidated", "entity_type", entityType, "entity_id", entityID)
	return nil
}

func (g *Gate) resolve(ctx context.Context, key models.EntityKey, record models.Approval) (models.Approval, error) {
	g.removePending(ctx, key)

	if record.Status == models.ApprovalRejected {
		return record, apperrors.ErrApprovalRejected
	}
	return record, nil
}

func (g *Gate) removePending(ctx context.Context, key models.EntityKey) {
	if err := g.pending.Remove(context.WithoutCancel(ctx), key); err != nil && !errors.Is(err, apperrors.ErrApprovalNotFound) {
		g.logger.Warn("Failed to remove pending approval record", "entity_type", key.EntityType, "entity_id", key.EntityID, "error", err)
	}
}
