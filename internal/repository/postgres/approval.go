package postgres

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgerrcode"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"

	"github.com/lavaops/stationd/internal/apperrors"
	"github.com/lavaops/stationd/internal/models"
)

type PendingApprovalRepo struct {
	DB DBTX
}

const createPending = `-- name: Create pending approval
INSERT INTO pending_approvals (id, entity_type, entity_id, action, reason, created_at)
VALUES ($1, $2, $3, $4, $5, $6)
`

// Create pending record
// The unique index on (entity_type, entity_id) enforces the
// one-unresolved-request-per-entity invariant
func (r *PendingApprovalRepo) Create(ctx context.Context, approval models.Approval) error {
	_, err := r.DB.Exec(ctx, createPending,
		approval.ID, approval.EntityType, approval.EntityID, approval.Action, approval.Reason, approval.CreatedAt)

	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgerrcode.IsIntegrityConstraintViolation(pgErr.Code) {
			return fmt.Errorf("repo error: %w", apperrors.ErrApprovalAlreadyPending)
		}
		return fmt.Errorf("db error: %w", err)
	}

	return nil
}

const getPending = `-- name: Get pending approval by entity
SELECT id, action, reason, created_at
FROM pending_approvals
WHERE entity_type = $1 AND entity_id = $2
`

func (r *PendingApprovalRepo) Get(ctx context.Context, key models.EntityKey) (models.Approval, error) {
	rows, _ := r.DB.Query(ctx, getPending, key.EntityType, key.EntityID)
	approval, err := pgx.CollectOneRow(rows, func(row pgx.CollectableRow) (models.Approval, error) {
		a := models.Approval{
			EntityType: key.EntityType,
			EntityID:   key.EntityID,
			Status:     models.ApprovalPending,
		}
		err := row.Scan(&a.ID, &a.Action, &a.Reason, &a.CreatedAt)
		return a, err
	})

	switch {
	case err == nil:
		return approval, nil
	case errors.Is(err, pgx.ErrNoRows):
		return approval, fmt.Errorf("repo error: %w", apperrors.ErrApprovalNotFound)
	default:
		return approval, fmt.Errorf("db error: %w", err)
	}
}

const removePending = `-- name: Remove pending approval by entity
DELETE FROM pending_approvals
WHERE entity_type = $1 AND entity_id = $2
`

func (r *PendingApprovalRepo) Remove(ctx context.Context, key models.EntityKey) error {
	_, err := r.DB.Exec(ctx, removePending, key.EntityType, key.EntityID)
	if err != nil {
		return fmt.Errorf("db error: %w", err)
	}
	return nil
}
