package session

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"golang.org/x/sync/singleflight"

	"github.com/lavaops/stationd/internal/apperrors"
	"github.com/lavaops/stationd/internal/logger"
	"github.com/lavaops/stationd/internal/models"
	"github.com/lavaops/stationd/internal/repository"
)

// Token store keys
// The store holds at most one valid pair; no refresh token means logged out
const (
	KeyAccessToken  = "auth.access_token"
	KeyRefreshToken = "auth.refresh_token"
)

// Tokens expiring within this window are treated as expired already,
// saving a guaranteed 401 round trip
const expiryLeeway = 10 * time.Second

type authClient interface {
	Login(ctx context.Context, username string, password string) (models.TokenPair, error)
	Refresh(ctx context.Context, refreshToken string) (models.TokenPair, error)
}

// Manager owns the station session: the persisted token pair and the
// refresh lifecycle. There is one session per process; every component
// that needs authentication goes through the same Manager.
type Manager struct {
	store  repository.TokenStore
	client authClient
	logger logger.Logger

	// Coalesces concurrent refresh attempts into one remote call
	group singleflight.Group

	mu    sync.Mutex
	onEnd []func()
}

func NewManager(store repository.TokenStore, client authClient, logger logger.Logger) *Manager {
	return &Manager{
		store:  store,
		client: client,
		logger: logger,
	}
}

// OnSessionEnd registers a callback invoked when the session is torn
// down by an unrecoverable refresh failure. Not invoked on user logout.
func (m *Manager) OnSessionEnd(fn func()) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.onEnd = append(m.onEnd, fn)
}

func (m *Manager) Login(ctx context.Context, username string, password string) error {
	pair, err := m.client.Login(ctx, username, password)
	if err != nil {
		return err
	}

	if err := m.savePair(ctx, pair); err != nil {
		return err
	}

	m.logger.Info("Session started", "access_expires_in", pair.ExpiresIn)
	return nil
}

// Logout clears the stored pair. A cleared store is the logged out
// state, so this never emits the session-end signal.
func (m *Manager) Logout(ctx context.Context) error {
	return m.clearPair(ctx)
}

// LoggedIn reports whether a refresh token is stored
func (m *Manager) LoggedIn(ctx context.Context) bool {
	_, err := m.store.Get(ctx, KeyRefreshToken)
	return err == nil
}

// ValidAccessToken returns the stored access token, refreshing it first
// when its exp claim is already in the past.
// Returns apperrors.ErrTokenNotFound when no token is stored.
func (m *Manager) ValidAccessToken(ctx context.Context) (string, error) {
	access, err := m.store.Get(ctx, KeyAccessToken)
	if err != nil {
		return "", err
	}

	if accessExpired(access) {
		m.logger.Debug("Access token expired by clock, refreshing before dispatch")
		return m.Refresh(ctx)
	}

	return access, nil
}

// Refresh exchanges the stored refresh token for a new pair and returns
// the new access token. Single-flight: while one refresh is outstanding
// every concurrent caller attaches to the same result, so the remote
// endpoint sees at most one call per expiry.
//
// Failure is terminal for the session: the store is cleared, the
// session-end signal fires and apperrors.ErrRefreshFailed is returned.
// A missing refresh token fails fast with apperrors.ErrNoRefreshToken
// without touching the remote side. Context cancellation and timeouts
// are not failures: the exchange never concluded, so the pair is kept.
func (m *Manager) Refresh(ctx context.Context) (string, error) {
	access, err, _ := m.group.Do("refresh", func() (any, error) {
		refresh, err := m.store.Get(ctx, KeyRefreshToken)
		if err != nil {
			if errors.Is(err, apperrors.ErrTokenNotFound) {
				return "", apperrors.ErrNoRefreshToken
			}
			return "", err
		}

		pair, err := m.client.Refresh(ctx, refresh)
		if err != nil {
			// An aborted exchange says nothing about the token: the
			// caller went away or the backend was slow. Keep the pair,
			// the next request refreshes again.
			if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
				m.logger.Warn("Refresh aborted before the backend answered", "error", err)
				return "", fmt.Errorf("refresh aborted. Err: %w", err)
			}

			m.logger.Warn("Refresh failed, ending session", "error", err)
			m.teardown(ctx)
			return "", fmt.Errorf("%w: %w", apperrors.ErrRefreshFailed, err)
		}

		if err := m.savePair(ctx, pair); err != nil {
			return "", err
		}

		m.logger.Debug("Session refreshed", "access_expires_in", pair.ExpiresIn)
		return pair.Access, nil
	})
	if err != nil {
		return "", err
	}

	return access.(string), nil
}

// teardown clears the store and emits the session-end signal.
// Runs inside the single-flight group, so one failed refresh produces
// exactly one signal no matter how many callers were attached.
func (m *Manager) teardown(ctx context.Context) {
	if err := m.clearPair(ctx); err != nil {
		m.logger.Error("Failed to clear token store on teardown", "error", err)
	}

	m.mu.Lock()
	callbacks := make([]func(), len(m.onEnd))
	copy(callbacks, m.onEnd)
	m.mu.Unlock()

	for _, fn := range callbacks {
		fn()
	}
}

func (m *Manager) savePair(ctx context.Context, pair models.TokenPair) error {
	if err := m.store.Set(ctx, KeyAccessToken, pair.Access); err != nil {
		return fmt.Errorf("error while saving access token. Err: %w", err)
	}
	if err := m.store.Set(ctx, KeyRefreshToken, pair.Refresh); err != nil {
		return fmt.Errorf("error while saving refresh token. Err: %w", err)
	}
	return nil
}

func (m *Manager) clearPair(ctx context.Context) error {
	if err := m.store.Remove(ctx, KeyAccessToken); err != nil {
		return err
	}
	return m.store.Remove(ctx, KeyRefreshToken)
}

// accessExpired reads the exp claim without verifying the signature:
// the station only needs the timestamp, validation is the backend's job.
// Tokens that are not JWTs or carry no exp are left for the server to judge.
func accessExpired(access string) bool {
	claims := jwt.RegisteredClaims{}
	parser := jwt.NewParser()

	if _, _, err := parser.ParseUnverified(access, &claims); err != nil {
		return false
	}
	if claims.ExpiresAt == nil {
		return false
	}

	return claims.ExpiresAt.Before(time.Now().Add(expiryLeeway))
}
