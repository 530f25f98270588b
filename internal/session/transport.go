package session

import (
	"errors"
	"fmt"
	"net/http"

	"github.com/lavaops/stationd/internal/apperrors"
	"github.com/lavaops/stationd/internal/logger"
)

// Transport is the authenticated request pipeline: an http.RoundTripper
// that attaches the bearer token and recovers from exactly one token
// expiry per request.
//
// On 401 it refreshes through the Manager (single-flight) and replays
// the request once with the new token. A second 401 is returned to the
// caller untouched. Requests without a stored token go out without the
// Authorization header.
type Transport struct {
	Base http.RoundTripper

	manager *Manager
	logger  logger.Logger
}

func NewTransport(manager *Manager, logger logger.Logger) *Transport {
	return &Transport{
		Base:    http.DefaultTransport,
		manager: manager,
		logger:  logger,
	}
}

func (t *Transport) RoundTrip(req *http.Request) (*http.Response, error) {
	ctx := req.Context()

	token, err := t.manager.ValidAccessToken(ctx)
	switch {
	case err == nil:
	case errors.Is(err, apperrors.ErrTokenNotFound), errors.Is(err, apperrors.ErrNoRefreshToken):
		// Logged out: dispatch as-is, the backend answers 401 itself
		token = ""
	default:
		return nil, err
	}

	resp, err := t.dispatch(req, token)
	if err != nil {
		return nil, err
	}

	if resp.StatusCode != http.StatusUnauthorized || token == "" {
		return resp, nil
	}

	// Single retry after refresh. Requests with a non-replayable body
	// cannot be re-dispatched, surface the 401 as-is.
	if req.Body != nil && req.GetBody == nil {
		t.logger.Warn("Unauthorized response on non-replayable request", "uri", req.URL.Path)
		return resp, nil
	}

	fresh, err := t.manager.Refresh(ctx)
	if err != nil {
		closeBody(resp)
		if errors.Is(err, apperrors.ErrNoRefreshToken) {
			return nil, fmt.Errorf("%w: %w", apperrors.ErrRetryExhausted, err)
		}
		return nil, err
	}
	closeBody(resp)

	t.logger.Debug("Replaying request with refreshed token", "uri", req.URL.Path)

	retried, err := t.dispatch(req, fresh)
	if err != nil {
		return nil, err
	}
	if retried.StatusCode == http.StatusUnauthorized {
		// Still unauthorized after a successful refresh: no third attempt
		t.logger.Warn("Request unauthorized after retry", "uri", req.URL.Path)
	}

	return retried, nil
}

// dispatch sends a clone of req so the original stays replayable,
// per the RoundTripper contract
func (t *Transport) dispatch(req *http.Request, token string) (*http.Response, error) {
	clone := req.Clone(req.Context())

	if req.Body != nil && req.GetBody != nil {
		body, err := req.GetBody()
		if err != nil {
			return nil, fmt.Errorf("failed to rewind request body: %w", err)
		}
		clone.Body = body
	}

	if token != "" {
		clone.Header.Set("Authorization", "Bearer "+token)
	}

	return t.base().RoundTrip(clone)
}

func (t *Transport) base() http.RoundTripper {
	if t.Base != nil {
		return t.Base
	}
	return http.DefaultTransport
}

func closeBody(resp *http.Response) {
	if resp != nil && resp.Body != nil {
		_ = resp.Body.Close()
	}
}
