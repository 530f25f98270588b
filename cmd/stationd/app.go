package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/lavaops/stationd/internal/apperrors"
	"github.com/lavaops/stationd/internal/approval"
	"github.com/lavaops/stationd/internal/db"
	"github.com/lavaops/stationd/internal/handlers"
	"github.com/lavaops/stationd/internal/logger"
	"github.com/lavaops/stationd/internal/repository"
	"github.com/lavaops/stationd/internal/repository/memstore"
	"github.com/lavaops/stationd/internal/repository/postgres"
	"github.com/lavaops/stationd/internal/repository/redisstore"
	"github.com/lavaops/stationd/internal/scan"
	"github.com/lavaops/stationd/internal/scan/tcpreader"
	"github.com/lavaops/stationd/internal/session"
)

type ServerApp struct {
	ListenAddr string
	Handler    http.Handler

	logger logger.Logger
}

func NewServerApp(ctx context.Context, c *Config) (*ServerApp, error) {
	// Initialize logger
	log, err := logger.New(c.Environment, c.LogLevel)
	if err != nil {
		return nil, fmt.Errorf("error while initializing logger: %w", err)
	}

	tokens, pending, err := buildStorage(ctx, c, log)
	if err != nil {
		return nil, err
	}

	// Initialize session manager and the authenticated pipeline
	authClient := session.NewClient(c.BackendAddr, log)
	sessions := session.NewManager(tokens, authClient, log)
	backendHTTP := &http.Client{Transport: session.NewTransport(sessions, log)}

	// Initialize scanner over the hardware reader
	reader := tcpreader.New(c.ReaderAddr, log)
	scanner := scan.NewCoordinator(reader, log)

	// Initialize approval gate on the authenticated pipeline
	approvalClient := approval.NewClient(c.BackendAddr, backendHTTP, log)
	gate := approval.NewGate(approvalClient, pending, log, approval.GateConfig{})

	// A dead session means the operator dropped to the login screen,
	// keeping the reader scanning would deliver tags nobody consumes
	sessions.OnSessionEnd(func() {
		err := scanner.Stop(context.Background())
		if err != nil && !errors.Is(err, apperrors.ErrScanNotActive) {
			log.Error("Failed to stop scanning on session end", "error", err)
		}
	})

	mux := handlers.NewRouter(sessions, scanner, gate, log)

	return &ServerApp{
		ListenAddr: c.ListenAddr,
		Handler:    mux,
		logger:     log,
	}, nil
}

// buildStorage picks where tokens and pending approvals live: postgres
// when a database is configured, redis for tokens otherwise, plain
// memory as the last resort. Tokens are sealed when a secret key is set.
func buildStorage(ctx context.Context, c *Config, log logger.Logger) (repository.TokenStore, repository.PendingApprovalRepo, error) {
	var tokens repository.TokenStore
	var pending repository.PendingApprovalRepo

	switch {
	case c.DatabaseDSN != "":
		pool, err := db.ConnectAndMigrate(ctx, c.DatabaseDSN)
		if err != nil {
			return nil, nil, fmt.Errorf("error while connecting to db. Err: %w", err)
		}
		storage := postgres.NewStorage(pool)
		tokens = storage.Tokens()
		pending = storage.PendingApprovals()
	case c.RedisAddr != "":
		client, err := redisstore.Connect(ctx, c.RedisAddr)
		if err != nil {
			return nil, nil, fmt.Errorf("error while connecting to redis. Err: %w", err)
		}
		tokens = redisstore.NewTokenStore(client)
		pending = memstore.NewPendingApprovalRepo()
	default:
		log.Warn("No database or redis configured, station state will not survive restarts")
		storage := memstore.NewStorage()
		tokens = storage.Tokens()
		pending = storage.PendingApprovals()
	}

	if c.SecretKey != "" {
		sealed, err := repository.NewSealedTokenStore(c.SecretKey, tokens)
		if err != nil {
			return nil, nil, fmt.Errorf("error while sealing token store. Err: %w", err)
		}
		tokens = sealed
	}

	return tokens, pending, nil
}

// Run starts http server and closes gracefully on context cancellation
func (s *ServerApp) Run(ctx context.Context) error {
	httpServer := &http.Server{
		Addr:    s.ListenAddr,
		Handler: s.Handler,
	}

	idleConnsClosed := make(chan struct{})
	srvCtx, srvCtxCancel := context.WithCancel(ctx)
	defer srvCtxCancel()

	go func() {
		<-srvCtx.Done()

		timeoutCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()

		if err := httpServer.Shutdown(timeoutCtx); errors.Is(err, context.DeadlineExceeded) {
			s.logger.Error("HTTP server shutdown timeout exceeded, forcing shutdown...")
		}
		s.logger.Info("HTTP server stopped")
		close(idleConnsClosed)
	}()

	// Listen and serve until context is cancelled; then close gracefully connections
	s.logger.Info("Starting bridge API", "address", s.ListenAddr)
	err := httpServer.ListenAndServe()
	srvCtxCancel()
	<-idleConnsClosed

	return err
}
