package session

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/lavaops/stationd/internal/apperrors"
	"github.com/lavaops/stationd/internal/logger"
	"github.com/lavaops/stationd/internal/models"
	"github.com/lavaops/stationd/internal/repository/memstore"
)

// fakeAuthClient lets tests script login/refresh outcomes and count calls
type fakeAuthClient struct {
	refreshCalls atomic.Int64
	refreshDelay time.Duration
	refreshErr   error
	pair         models.TokenPair
}

func (c *fakeAuthClient) Login(ctx context.Context, username string, password string) (models.TokenPair, error) {
	return c.pair, nil
}

func (c *fakeAuthClient) Refresh(ctx context.Context, refreshToken string) (models.TokenPair, error) {
	c.refreshCalls.Add(1)
	if c.refreshDelay > 0 {
		time.Sleep(c.refreshDelay)
	}
	if c.refreshErr != nil {
		return models.TokenPair{}, c.refreshErr
	}
	return c.pair, nil
}

// signedToken builds a real HS256 token expiring at the given time
func signedToken(t *testing.T, expiresAt time.Time) string {
	t.Helper()

	token := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.RegisteredClaims{
		ExpiresAt: jwt.NewNumericDate(expiresAt),
	})
	signed, err := token.SignedString([]byte("test-secret-key"))
	require.NoError(t, err)

	return signed
}

func TestManager_Login(t *testing.T) {
	store := memstore.NewTokenStore()
	client := &fakeAuthClient{pair: models.TokenPair{Access: "access-1", Refresh: "refresh-1"}}
	m := NewManager(store, client, logger.NewNoOpLogger())

	require.NoError(t, m.Login(t.Context(), "operator", "pwd"))

	access, err := store.Get(t.Context(), KeyAccessToken)
	require.NoError(t, err)
	assert.Equal(t, "access-1", access)

	refresh, err := store.Get(t.Context(), KeyRefreshToken)
	require.NoError(t, err)
	assert.Equal(t, "refresh-1", refresh)
	assert.True(t, m.LoggedIn(t.Context()))
}

func TestManager_Logout(t *testing.T) {
	store := memstore.NewTokenStore()
	client := &fakeAuthClient{pair: models.TokenPair{Access: "access-1", Refresh: "refresh-1"}}
	m := NewManager(store, client, logger.NewNoOpLogger())

	ended := 0
	m.OnSessionEnd(func() { ended++ })

	require.NoError(t, m.Login(t.Context(), "operator", "pwd"))
	require.NoError(t, m.Logout(t.Context()))

	assert.False(t, m.LoggedIn(t.Context()))
	assert.Equal(t, 0, ended, "user logout must not emit the session-end signal")
}

func TestManager_Refresh(t *testing.T) {
	t.Run("rotates pair", func(t *testing.T) {
		store := memstore.NewTokenStore()
		require.NoError(t, store.Set(t.Context(), KeyRefreshToken, "refresh-old"))

		client := &fakeAuthClient{pair: models.TokenPair{Access: "access-new", Refresh: "refresh-new"}}
		m := NewManager(store, client, logger.NewNoOpLogger())

		access, err := m.Refresh(t.Context())

		require.NoError(t, err)
		assert.Equal(t, "access-new", access)

		refresh, err := store.Get(t.Context(), KeyRefreshToken)
		require.NoError(t, err)
		assert.Equal(t, "refresh-new", refresh)
	})

	t.Run("fails fast without refresh token", func(t *testing.T) {
		client := &fakeAuthClient{}
		m := NewManager(memstore.NewTokenStore(), client, logger.NewNoOpLogger())

		_, err := m.Refresh(t.Context())

		require.ErrorIs(t, err, apperrors.ErrNoRefreshToken)
		assert.Equal(t, int64(0), client.refreshCalls.Load(), "remote endpoint must not be called")
	})

	t.Run("failure tears session down", func(t *testing.T) {
		store := memstore.NewTokenStore()
		require.NoError(t, store.Set(t.Context(), KeyAccessToken, "access-old"))
		require.NoError(t, store.Set(t.Context(), KeyRefreshToken, "refresh-old"))

		client := &fakeAuthClient{refreshErr: errors.New("refresh token rejected")}
		m := NewManager(store, client, logger.NewNoOpLogger())

		var ended atomic.Int64
		m.OnSessionEnd(func() { ended.Add(1) })

		_, err := m.Refresh(t.Context())

		require.ErrorIs(t, err, apperrors.ErrRefreshFailed)

		_, err = store.Get(t.Context(), KeyAccessToken)
		assert.ErrorIs(t, err, apperrors.ErrTokenNotFound, "access token must be cleared")
		_, err = store.Get(t.Context(), KeyRefreshToken)
		assert.ErrorIs(t, err, apperrors.ErrTokenNotFound, "refresh token must be cleared")

		assert.Equal(t, int64(1), ended.Load(), "session-end signal must fire exactly once")
	})

	t.Run("aborted exchange keeps the session", func(t *testing.T) {
		// The transport layer reports cancellation and timeouts wrapped,
		// exactly as net/http does
		tests := []struct {
			name string
			err  error
		}{
			{"caller cancelled", fmt.Errorf("failed to send request: %w", context.Canceled)},
			{"backend too slow", fmt.Errorf("failed to send request: %w", context.DeadlineExceeded)},
		}

		for _, tt := range tests {
			t.Run(tt.name, func(t *testing.T) {
				store := memstore.NewTokenStore()
				require.NoError(t, store.Set(t.Context(), KeyAccessToken, "access-old"))
				require.NoError(t, store.Set(t.Context(), KeyRefreshToken, "refresh-old"))

				client := &fakeAuthClient{refreshErr: tt.err}
				m := NewManager(store, client, logger.NewNoOpLogger())

				var ended atomic.Int64
				m.OnSessionEnd(func() { ended.Add(1) })

				_, err := m.Refresh(t.Context())

				require.ErrorIs(t, err, tt.err)
				require.NotErrorIs(t, err, apperrors.ErrRefreshFailed,
					"an unanswered exchange says nothing about the token")

				refresh, err := store.Get(t.Context(), KeyRefreshToken)
				require.NoError(t, err, "refresh token must survive an aborted exchange")
				assert.Equal(t, "refresh-old", refresh)

				assert.Equal(t, int64(0), ended.Load(), "session-end signal must not fire")
			})
		}
	})

	t.Run("single flight", func(t *testing.T) {
		const callers = 20

		store := memstore.NewTokenStore()
		require.NoError(t, store.Set(t.Context(), KeyRefreshToken, "refresh-old"))

		client := &fakeAuthClient{
			refreshDelay: 50 * time.Millisecond,
			pair:         models.TokenPair{Access: "access-shared", Refresh: "refresh-shared"},
		}
		m := NewManager(store, client, logger.NewNoOpLogger())

		var wg sync.WaitGroup
		results := make([]string, callers)
		for i := 0; i < callers; i++ {
			wg.Add(1)
			go func(i int) {
				defer wg.Done()
				access, err := m.Refresh(context.Background())
				if assert.NoError(t, err) {
					results[i] = access
				}
			}(i)
		}
		wg.Wait()

		assert.Equal(t, int64(1), client.refreshCalls.Load(), "remote endpoint must be called at most once per expiry")
		for i, access := range results {
			assert.Equalf(t, "access-shared", access, "caller %d should receive the shared token", i)
		}
	})

	t.Run("concurrent failure signals once", func(t *testing.T) {
		const callers = 10

		store := memstore.NewTokenStore()
		require.NoError(t, store.Set(t.Context(), KeyRefreshToken, "refresh-old"))

		client := &fakeAuthClient{
			refreshDelay: 50 * time.Millisecond,
			refreshErr:   errors.New("refresh token rejected"),
		}
		m := NewManager(store, client, logger.NewNoOpLogger())

		var ended atomic.Int64
		m.OnSessionEnd(func() { ended.Add(1) })

		var wg sync.WaitGroup
		for i := 0; i < callers; i++ {
			wg.Add(1)
			go func() {
				defer wg.Done()
				_, err := m.Refresh(context.Background())
				assert.ErrorIs(t, err, apperrors.ErrRefreshFailed)
			}()
		}
		wg.Wait()

		assert.Equal(t, int64(1), client.refreshCalls.Load())
		assert.Equal(t, int64(1), ended.Load(), "one failed refresh must emit one signal")
	})
}

func TestManager_ValidAccessToken(t *testing.T) {
	t.Run("fresh jwt returned as is", func(t *testing.T) {
		fresh := signedToken(t, time.Now().Add(time.Hour))

		store := memstore.NewTokenStore()
		require.NoError(t, store.Set(t.Context(), KeyAccessToken, fresh))

		client := &fakeAuthClient{}
		m := NewManager(store, client, logger.NewNoOpLogger())

		access, err := m.ValidAccessToken(t.Context())

		require.NoError(t, err)
		assert.Equal(t, fresh, access)
		assert.Equal(t, int64(0), client.refreshCalls.Load())
	})

	t.Run("expired jwt refreshed before dispatch", func(t *testing.T) {
		expired := signedToken(t, time.Now().Add(-time.Hour))

		store := memstore.NewTokenStore()
		require.NoError(t, store.Set(t.Context(), KeyAccessToken, expired))
		require.NoError(t, store.Set(t.Context(), KeyRefreshToken, "refresh-old"))

		client := &fakeAuthClient{pair: models.TokenPair{Access: "access-new", Refresh: "refresh-new"}}
		m := NewManager(store, client, logger.NewNoOpLogger())

		access, err := m.ValidAccessToken(t.Context())

		require.NoError(t, err)
		assert.Equal(t, "access-new", access)
		assert.Equal(t, int64(1), client.refreshCalls.Load())
	})

	t.Run("opaque token left for the server to judge", func(t *testing.T) {
		store := memstore.NewTokenStore()
		require.NoError(t, store.Set(t.Context(), KeyAccessToken, "not-a-jwt"))

		client := &fakeAuthClient{}
		m := NewManager(store, client, logger.NewNoOpLogger())

		access, err := m.ValidAccessToken(t.Context())

		require.NoError(t, err)
		assert.Equal(t, "not-a-jwt", access)
		assert.Equal(t, int64(0), client.refreshCalls.Load())
	})

	t.Run("missing token reported", func(t *testing.T) {
		m := NewManager(memstore.NewTokenStore(), &fakeAuthClient{}, logger.NewNoOpLogger())

		_, err := m.ValidAccessToken(t.Context())

		require.ErrorIs(t, err, apperrors.ErrTokenNotFound)
	})
}
