package repository

import (
	"context"

	"github.com/lavaops/stationd/internal/models"
)

// TokenStore is the durable string key-value contract session tokens live in.
// Must survive process restarts so the station stays logged in between shifts.
type TokenStore interface {
	// Get value by key
	// If key is missing must return apperrors.ErrTokenNotFound
	Get(ctx context.Context, key string) (string, error)

	// Set value for key, overwriting any previous value
	Set(ctx context.Context, key string, value string) error

	// Remove key
	// Removing a missing key is not an error
	Remove(ctx context.Context, key string) error
}

// PendingApprovalRepo remembers unresolved approval requests across restarts
// so a second request for the same entity is rejected even after a crash
type PendingApprovalRepo interface {
	// Create pending record
	// If an unresolved request exists for the same (entity_type, entity_id)
	// must return apperrors.ErrApprovalAlreadyPending
	Create(ctx context.Context, approval models.Approval) error

	// Get pending record by entity
	// If no record exists must return apperrors.ErrApprovalNotFound
	Get(ctx context.Context, key models.EntityKey) (models.Approval, error)

	// Remove pending record by entity (terminal status observed or invalidated)
	// Removing a missing record is not an error
	Remove(ctx context.Context, key models.EntityKey) error
}

// Storage bundles every repository the station persists locally
type Storage interface {
	Tokens() TokenStore
	PendingApprovals() PendingApprovalRepo
}
