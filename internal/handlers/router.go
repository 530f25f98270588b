package handlers

import (
	"context"
	"net/http"

	"github.com/lavaops/stationd/internal/handlers/middleware"
	"github.com/lavaops/stationd/internal/logger"
	"github.com/lavaops/stationd/internal/models"
	"github.com/lavaops/stationd/internal/scan"
)

// chain applies middlewares in the given order: m1(m2(...(h)))
func chain(h http.Handler, mds ...func(next http.Handler) http.Handler) http.Handler {
	for i := len(mds) - 1; i >= 0; i-- {
		h = mds[i](h)
	}
	return h
}

func NewRouter(
	sessions sessionService,
	scanner scanService,
	approvals approvalService,
	logger logger.Logger,
) http.Handler {
	scanHandler := NewScanHandler(scanner, logger)

	mux := http.NewServeMux()

	mux.Handle("POST /api/auth/login", handleLogin(sessions, logger))
	mux.Handle("POST /api/auth/logout", handleLogout(sessions, logger))
	mux.Handle("GET /api/auth/session", handleSessionState(sessions))

	mux.Handle("POST /api/scan/start", http.HandlerFunc(scanHandler.start))
	mux.Handle("POST /api/scan/stop", http.HandlerFunc(scanHandler.stop))
	mux.Handle("POST /api/scan/reset", http.HandlerFunc(scanHandler.reset))
	mux.Handle("DELETE /api/scan/seen/{id}", http.HandlerFunc(scanHandler.forget))
	mux.Handle("GET /api/scan", http.HandlerFunc(scanHandler.state))
	mux.Handle("GET /api/scan/stream", http.HandlerFunc(scanHandler.stream))

	mux.Handle("POST /api/approvals", handleCreateApproval(approvals, logger))
	mux.Handle("GET /api/approvals/{id}", handleReadApproval(approvals, logger))
	mux.Handle("DELETE /api/approvals", handleInvalidateApproval(approvals, logger))

	handler := chain(mux,
		middleware.LoggerMiddleware(logger),
	)

	return handler
}

type sessionService interface {
	// Login exchanges credentials for a token pair and stores it
	// Has to return apperrors.ErrInvalidCredentials on rejected credentials
	Login(ctx context.Context, username string, password string) error

	// Logout drops stored tokens without firing session-end callbacks
	Logout(ctx context.Context) error

	// LoggedIn reports whether a refresh token is stored
	LoggedIn(ctx context.Context) bool
}

type scanService interface {
	// Start a scan session delivering accepted tags to onTag
	// Has to return apperrors.ErrScanAlreadyActive while one runs
	Start(ctx context.Context, onTag func(models.Tag), opts scan.Options) error

	// Stop the active session
	// Has to return apperrors.ErrScanNotActive when idle
	Stop(ctx context.Context) error

	Active() bool

	// Reset clears remembered tag ids, Forget evicts a single one
	Reset()
	Forget(id string)
}

type approvalService interface {
	// Request an approval for the entity
	// Has to return apperrors.ErrApprovalAlreadyPending while one is unresolved
	Request(ctx context.Context, entityType string, entityID string, action string, reason string) (models.Approval, error)

	// Status reads the decision once
	Status(ctx context.Context, id string) (models.Approval, error)

	// Await blocks until the decision is terminal or ctx is done
	Await(ctx context.Context, approval models.Approval) (models.Approval, error)

	// Invalidate withdraws any pending request for the entity
	Invalidate(ctx context.Context, entityType string, entityID string) error
}
