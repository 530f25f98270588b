package handlers

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/lavaops/stationd/internal/apperrors"
	"github.com/lavaops/stationd/internal/handlers/render"
	"github.com/lavaops/stationd/internal/logger"
	"github.com/lavaops/stationd/internal/models"
)

type ApprovalResponse struct {
	ID         string    `json:"id"`
	EntityType string    `json:"entity_type"`
	EntityID   string    `json:"entity_id"`
	Action     string    `json:"action"`
	Reason     string    `json:"reason,omitempty"`
	Status     string    `json:"status"`
	CreatedAt  time.Time `json:"created_at,omitzero"`
}

func approvalResponse(approval models.Approval) ApprovalResponse {
	return ApprovalResponse{
		ID:         approval.ID,
		EntityType: approval.EntityType,
		EntityID:   approval.EntityID,
		Action:     approval.Action,
		Reason:     approval.Reason,
		Status:     approval.Status,
		CreatedAt:  approval.CreatedAt,
	}
}

func handleCreateApproval(approvals approvalService, logger logger.Logger) http.Handler {
	type CreateRequest struct {
		EntityType string `json:"entity_type" validate:"required"`
		EntityID   string `json:"entity_id" validate:"required"`
		Action     string `json:"action" validate:"required,oneof=UPDATE DELETE"`
		Reason     string `json:"reason"`
	}

	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		data, err := render.BindAndValidate[CreateRequest](w, r)
		if err != nil {
			return
		}

		created, err := approvals.Request(r.Context(), data.EntityType, data.EntityID, data.Action, data.Reason)
		if err != nil {
			switch {
			case errors.Is(err, apperrors.ErrApprovalAlreadyPending):
				render.ServiceError(w, "Approval already pending for this entity", http.StatusConflict)
			case errors.Is(err, apperrors.ErrRetryExhausted):
				render.ServiceError(w, "Session expired", http.StatusUnauthorized)
			default:
				logger.Error("Failed to request approval", "error", err)
				render.ServiceError(w, "Internal server error", http.StatusInternalServerError)
			}
			return
		}

		render.JSONWithStatus(w, approvalResponse(created), http.StatusCreated)
	})
}

// handleReadApproval reads the decision. With ?wait=1 it long-polls:
// the response is held until the decision is terminal or the client
// goes away. A client that disconnects leaves the request pending.
func handleReadApproval(approvals approvalService, logger logger.Logger) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		id := r.PathValue("id")

		record, err := approvals.Status(r.Context(), id)
		if err != nil {
			renderApprovalError(w, logger, err)
			return
		}

		if r.URL.Query().Get("wait") != "" && !models.TerminalApprovalStatus(record.Status) {
			record, err = approvals.Await(r.Context(), record)
			if err != nil && !errors.Is(err, apperrors.ErrApprovalRejected) {
				renderApprovalError(w, logger, err)
				return
			}
		}

		render.JSON(w, approvalResponse(record))
	})
}

func handleInvalidateApproval(approvals approvalService, logger logger.Logger) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		entityType := r.URL.Query().Get("entity_type")
		entityID := r.URL.Query().Get("entity_id")
		if entityType == "" || entityID == "" {
			render.ServiceError(w, "entity_type and entity_id are required", http.StatusBadRequest)
			return
		}

		if err := approvals.Invalidate(r.Context(), entityType, entityID); err != nil {
			renderApprovalError(w, logger, err)
			return
		}

		w.WriteHeader(http.StatusNoContent)
	})
}

func renderApprovalError(w http.ResponseWriter, logger logger.Logger, err error) {
	switch {
	case errors.Is(err, apperrors.ErrApprovalNotFound):
		render.ServiceError(w, "Approval not found", http.StatusNotFound)
	case errors.Is(err, apperrors.ErrApprovalInvalidated):
		render.ServiceError(w, "Approval invalidated", http.StatusGone)
	case errors.Is(err, apperrors.ErrRetryExhausted):
		render.ServiceError(w, "Session expired", http.StatusUnauthorized)
	case errors.Is(err, context.Canceled):
		// Client went away mid long-poll, nothing to render
	default:
		logger.Error("Approval request failed", "error", err)
		render.ServiceError(w, "Internal server error", http.StatusInternalServerError)
	}
}
