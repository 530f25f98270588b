package approval

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/lavaops/stationd/internal/apperrors"
	"github.com/lavaops/stationd/internal/logger"
	"github.com/lavaops/stationd/internal/models"
)

const requestTimeout = 10 * time.Second

// Client talks to the remote authorization-record endpoints.
// All calls go through the authenticated pipeline: pass an http.Client
// built on session.Transport.
type Client struct {
	BackendAddr string

	client *http.Client
	logger logger.Logger
}

func NewClient(addr string, httpClient *http.Client, logger logger.Logger) *Client {
	if httpClient == nil {
		httpClient = &http.Client{}
	}

	return &Client{
		BackendAddr: addr,
		client:      httpClient,
		logger:      logger,
	}
}

type approvalResponse struct {
	ID         string `json:"id"`
	EntityType string `json:"entity_type"`
	EntityID   string `json:"entity_id"`
	Action     string `json:"action"`
	Reason     string `json:"reason"`
	Status     string `json:"status"`
}

// Create registers the approval request remotely and returns the record
// with its server-assigned id
func (c *Client) Create(ctx context.Context, approval models.Approval) (models.Approval, error) {
	body := struct {
		EntityType string `json:"entity_type"`
		EntityID   string `json:"entity_id"`
		Action     string `json:"action"`
		Reason     string `json:"reason"`
	}{approval.EntityType, approval.EntityID, approval.Action, approval.Reason}

	resp, err := c.do(ctx, http.MethodPost, "/api/approvals", body)
	if err != nil {
		return models.Approval{}, err
	}
	defer resp.Body.Close() // nolint:errcheck

	switch resp.StatusCode {
	case http.StatusOK, http.StatusCreated:
		return c.decode(resp)
	case http.StatusConflict:
		return models.Approval{}, fmt.Errorf("remote: %w", apperrors.ErrApprovalAlreadyPending)
	case http.StatusUnauthorized:
		return models.Approval{}, apperrors.ErrRetryExhausted
	default:
		c.logger.Warn("Unexpected approval create response", "status_code", resp.StatusCode)
		return models.Approval{}, fmt.Errorf("unexpected status code %d creating approval", resp.StatusCode)
	}
}

// Get reads the record's current status
func (c *Client) Get(ctx context.Context, id string) (models.Approval, error) {
	resp, err := c.do(ctx, http.MethodGet, "/api/approvals/"+id, nil)
	if err != nil {
		return models.Approval{}, err
	}
	defer resp.Body.Close() // nolint:errcheck

	switch resp.StatusCode {
	case http.StatusOK:
		return c.decode(resp)
	case http.StatusNotFound:
		return models.Approval{}, fmt.Errorf("approval %s: %w", id, apperrors.ErrApprovalNotFound)
	case http.StatusUnauthorized:
		return models.Approval{}, apperrors.ErrRetryExhausted
	default:
		c.logger.Warn("Unexpected approval read response", "status_code", resp.StatusCode, "approval_id", id)
		return models.Approval{}, fmt.Errorf("unexpected status code %d reading approval %s", resp.StatusCode, id)
	}
}

// Invalidate marks any pending record for the entity inactive
func (c *Client) Invalidate(ctx context.Context, key models.EntityKey) error {
	body := struct {
		EntityType string `json:"entity_type"`
		EntityID   string `json:"entity_id"`
	}{key.EntityType, key.EntityID}

	resp, err := c.do(ctx, http.MethodPost, "/api/approvals/invalidate", body)
	if err != nil {
		return err
	}
	defer resp.Body.Close() // nolint:errcheck

	switch resp.StatusCode {
	case http.StatusOK, http.StatusNoContent, http.StatusNotFound:
		// Nothing pending remotely is a fine outcome for invalidation
		return nil
	case http.StatusUnauthorized:
		return apperrors.ErrRetryExhausted
	default:
		c.logger.Warn("Unexpected approval invalidate response", "status_code", resp.StatusCode)
		return fmt.Errorf("unexpected status code %d invalidating approval", resp.StatusCode)
	}
}

func (c *Client) do(ctx context.Context, method string, path string, body any) (*http.Response, error) {
	ctx, cancel := context.WithTimeout(ctx, requestTimeout)
	defer cancel()

	var reader *bytes.Reader
	if body != nil {
		encoded, err := json.Marshal(body)
		if err != nil {
			return nil, fmt.Errorf("failed to encode request: %w", err)
		}
		reader = bytes.NewReader(encoded)
	} else {
		reader = bytes.NewReader(nil)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.BackendAddr+path, reader)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("failed to send request: %w", err)
	}

	return resp, nil
}

func (c *Client) decode(resp *http.Response) (models.Approval, error) {
	var record approvalResponse
	if err := json.NewDecoder(resp.Body).Decode(&record); err != nil {
		c.logger.Warn("Failed to decode approval response", "error", err)
		return models.Approval{}, fmt.Errorf("failed to decode response: %w", err)
	}

	return models.Approval{
		ID:         record.ID,
		EntityType: record.EntityType,
		EntityID:   record.EntityID,
		Action:     record.Action,
		Reason:     record.Reason,
		Status:     record.Status,
	}, nil
}
