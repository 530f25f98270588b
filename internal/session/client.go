package session

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

// Client talks to the remote login and refresh endpoints.
// These are the only calls that must NOT go through the authenticated
// transport: they run while no valid access token exists.
type Client struct {
	BackendAddr string

	client *http.Client
	logger logger.Logger
}

func NewClient(addr string, logger logger.Logger) *Client {
	return &Client{
		BackendAddr: addr,
		client:      &http.Client{},
		logger:      logger,
	}
}

type tokenPairResponse struct {
	AccessToken  string `json:"access_token"`
	RefreshToken string `json:"refresh_token"`
	ExpiresIn    int64  `json:"expires_in"`
}

func (c *Client) Login(ctx context.Context, username string, password string) (models.TokenPair, error) {
	body := struct {
		Login    string `json:"login"`
		Password string `json:"password"`
	}{Login: username, Password: password}

	resp, err := c.post(ctx, "/api/auth/login", body)
	if err != nil {
		return models.TokenPair{}, err
	}
	defer resp.Body.Close() // nolint:errcheck

	switch resp.StatusCode {
	case http.StatusOK:
		return c.decodePair(resp)
	case http.StatusUnauthorized:
		return models.TokenPair{}, fmt.Errorf("login rejected: %w", apperrors.ErrInvalidCredentials)
	default:
		c.logger.Warn("Unexpected login response", "status_code", resp.StatusCode)
		return models.TokenPair{}, fmt.Errorf("unexpected status code %d on login", resp.StatusCode)
	}
}

func (c *Client) Refresh(ctx context.Context, refreshToken string) (models.TokenPair, error) {
	body := struct {
		RefreshToken string `json:"refresh_token"`
	}{RefreshToken: refreshToken}

	resp, err := c.post(ctx, "/api/auth/refresh", body)
	if err != nil {
		return models.TokenPair{}, err
	}
	defer resp.Body.Close() // nolint:errcheck

	switch resp.StatusCode {
	case http.StatusOK:
		return c.decodePair(resp)
	case http.StatusUnauthorized, http.StatusBadRequest:
		return models.TokenPair{}, fmt.Errorf("refresh token rejected with status %d", resp.StatusCode)
	default:
		c.logger.Warn("Unexpected refresh response", "status_code", resp.StatusCode)
		return models.TokenPair{}, fmt.Errorf("unexpected status code %d on refresh", resp.StatusCode)
	}
}

func (c *Client) post(ctx context.Context, path string, body any) (*http.Response, error) {
	ctx, cancel := context.WithTimeout(ctx, requestTimeout)
	defer cancel()

	encoded, err := json.Marshal(body)
	if err != nil {
		return nil, fmt.Errorf("failed to encode request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.BackendAddr+path, bytes.NewReader(encoded))
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("failed to send request: %w", err)
	}

	return resp, nil
}

func (c *Client) decodePair(resp *http.Response) (models.TokenPair, error) {
	var pair tokenPairResponse
	if err := json.NewDecoder(resp.Body).Decode(&pair); err != nil {
		c.logger.Warn("Failed to decode token response", "error", err)
		return models.TokenPair{}, fmt.Errorf("failed to decode response: %w", err)
	}

	return models.TokenPair{
		Access:    pair.AccessToken,
		Refresh:   pair.RefreshToken,
		ExpiresIn: time.Duration(pair.ExpiresIn) * time.Second,
	}, nil
}
