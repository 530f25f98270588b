package approval

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/lavaops/stationd/internal/apperrors"
	"github.com/lavaops/stationd/internal/logger"
	"github.com/lavaops/stationd/internal/models"
	"github.com/lavaops/stationd/internal/repository/memstore"
)

// fakeRemote is an in-memory stand-in for the backend approval endpoints
type fakeRemote struct {
	mu          sync.Mutex
	records     map[string]models.Approval
	nextID      string
	createErr   error
	getErr      error
	getCalls    int
	invalidated []models.EntityKey

	// when set, Get blocks until released is closed
	getGate chan struct{}
}

func newFakeRemote() *fakeRemote {
	return &fakeRemote{
		records: make(map[string]models.Approval),
		nextID:  "approval-1",
	}
}

func (f *fakeRemote) Create(_ context.Context, approval models.Approval) (models.Approval, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	if f.createErr != nil {
		return models.Approval{}, f.createErr
	}

	approval.ID = f.nextID
	approval.Status = models.ApprovalPending
	f.records[approval.ID] = approval
	return approval, nil
}

func (f *fakeRemote) Get(_ context.Context, id string) (models.Approval, error) {
	f.mu.Lock()
	gate := f.getGate
	f.mu.Unlock()
	if gate != nil {
		<-gate
	}

	f.mu.Lock()
	defer f.mu.Unlock()

	f.getCalls++
	if f.getErr != nil {
		return models.Approval{}, f.getErr
	}

	record, ok := f.records[id]
	if !ok {
		return models.Approval{}, apperrors.ErrApprovalNotFound
	}
	return record, nil
}

func (f *fakeRemote) Invalidate(_ context.Context, key models.EntityKey) error {
	f.mu.Lock()
	defer f.mu.Unlock()

	f.invalidated = append(f.invalidated, key)
	return nil
}

func (f *fakeRemote) setStatus(id string, status string) {
	f.mu.Lock()
	defer f.mu.Unlock()

	record := f.records[id]
	record.Status = status
	f.records[id] = record
}

func newTestGate(t *testing.T, remote *fakeRemote) *Gate {
	t.Helper()
	return NewGate(remote, memstore.NewPendingApprovalRepo(), logger.NewNoOpLogger(), GateConfig{
		PollInterval: 5 * time.Millisecond,
	})
}

func TestGate_Request(t *testing.T) {
	t.Run("creates remote record and returns id", func(t *testing.T) {
		remote := newFakeRemote()
		gate := newTestGate(t, remote)

		created, err := gate.Request(t.Context(), "machine", "washer-3", models.ActionDelete, "decommissioned")

		require.NoError(t, err)
		assert.Equal(t, "approval-1", created.ID)
		assert.Equal(t, models.ApprovalPending, created.Status)
	})

	t.Run("second request for same entity is rejected", func(t *testing.T) {
		remote := newFakeRemote()
		gate := newTestGate(t, remote)

		_, err := gate.Request(t.Context(), "machine", "washer-3", models.ActionDelete, "decommissioned")
		require.NoError(t, err)

		_, err = gate.Request(t.Context(), "machine", "washer-3", models.ActionUpdate, "relabel")
		require.ErrorIs(t, err, apperrors.ErrApprovalAlreadyPending)
	})

	t.Run("different entities are independent", func(t *testing.T) {
		remote := newFakeRemote()
		gate := newTestGate(t, remote)

		_, err := gate.Request(t.Context(), "machine", "washer-3", models.ActionDelete, "decommissioned")
		require.NoError(t, err)

		_, err = gate.Request(t.Context(), "machine", "washer-4", models.ActionDelete, "decommissioned")
		require.NoError(t, err)
	})
}

func TestGate_Await(t *testing.T) {
	t.Run("returns record once approved", func(t *testing.T) {
		remote := newFakeRemote()
		gate := newTestGate(t, remote)

		created, err := gate.Request(t.Context(), "machine", "washer-3", models.ActionDelete, "decommissioned")
		require.NoError(t, err)

		go func() {
			time.Sleep(15 * time.Millisecond)
			remote.setStatus(created.ID, models.ApprovalApproved)
		}()

		resolved, err := gate.Await(t.Context(), created)

		require.NoError(t, err)
		assert.Equal(t, models.ApprovalApproved, resolved.Status)
	})

	t.Run("rejected decision is a distinct error", func(t *testing.T) {
		remote := newFakeRemote()
		gate := newTestGate(t, remote)

		created, err := gate.Request(t.Context(), "machine", "washer-3", models.ActionDelete, "decommissioned")
		require.NoError(t, err)
		remote.setStatus(created.ID, models.ApprovalRejected)

		resolved, err := gate.Await(t.Context(), created)

		require.ErrorIs(t, err, apperrors.ErrApprovalRejected)
		assert.Equal(t, models.ApprovalRejected, resolved.Status)
	})

	t.Run("terminal record frees the entity for a new request", func(t *testing.T) {
		remote := newFakeRemote()
		gate := newTestGate(t, remote)

		created, err := gate.Request(t.Context(), "machine", "washer-3", models.ActionDelete, "decommissioned")
		require.NoError(t, err)
		remote.setStatus(created.ID, models.ApprovalApproved)

		_, err = gate.Await(t.Context(), created)
		require.NoError(t, err)

		_, err = gate.Request(t.Context(), "machine", "washer-3", models.ActionUpdate, "relabel")
		require.NoError(t, err)
	})

	t.Run("caller cancellation keeps the record pending", func(t *testing.T) {
		remote := newFakeRemote()
		gate := newTestGate(t, remote)

		created, err := gate.Request(t.Context(), "machine", "washer-3", models.ActionDelete, "decommissioned")
		require.NoError(t, err)

		ctx, cancel := context.WithCancel(t.Context())
		done := make(chan error, 1)
		go func() {
			_, err := gate.Await(ctx, created)
			done <- err
		}()

		time.Sleep(15 * time.Millisecond)
		cancel()

		require.ErrorIs(t, <-done, context.Canceled)

		// The unresolved request still blocks a repeat
		_, err = gate.Request(t.Context(), "machine", "washer-3", models.ActionDelete, "still pending")
		require.ErrorIs(t, err, apperrors.ErrApprovalAlreadyPending)
	})

	t.Run("record removed remotely reads as invalidated", func(t *testing.T) {
		remote := newFakeRemote()
		gate := newTestGate(t, remote)

		created, err := gate.Request(t.Context(), "machine", "washer-3", models.ActionDelete, "decommissioned")
		require.NoError(t, err)

		remote.mu.Lock()
		delete(remote.records, created.ID)
		remote.mu.Unlock()

		_, err = gate.Await(t.Context(), created)
		require.ErrorIs(t, err, apperrors.ErrApprovalInvalidated)
	})

	t.Run("transient poll errors are retried", func(t *testing.T) {
		remote := newFakeRemote()
		gate := newTestGate(t, remote)

		created, err := gate.Request(t.Context(), "machine", "washer-3", models.ActionDelete, "decommissioned")
		require.NoError(t, err)

		remote.mu.Lock()
		remote.getErr = assert.AnError
		remote.mu.Unlock()

		go func() {
			time.Sleep(20 * time.Millisecond)
			remote.mu.Lock()
			remote.getErr = nil
			remote.mu.Unlock()
			remote.setStatus(created.ID, models.ApprovalApproved)
		}()

		resolved, err := gate.Await(t.Context(), created)

		require.NoError(t, err)
		assert.Equal(t, models.ApprovalApproved, resolved.Status)
	})
}

func TestGate_Invalidate(t *testing.T) {
	t.Run("cancels the watcher and informs the remote", func(t *testing.T) {
		remote := newFakeRemote()
		gate := newTestGate(t, remote)

		created, err := gate.Request(t.Context(), "machine", "washer-3", models.ActionDelete, "decommissioned")
		require.NoError(t, err)

		done := make(chan error, 1)
		go func() {
			_, err := gate.Await(t.Context(), created)
			done <- err
		}()
		time.Sleep(15 * time.Millisecond)

		require.NoError(t, gate.Invalidate(t.Context(), "machine", "washer-3"))
		require.ErrorIs(t, <-done, apperrors.ErrApprovalInvalidated)

		remote.mu.Lock()
		defer remote.mu.Unlock()
		assert.Equal(t, []models.EntityKey{{EntityType: "machine", EntityID: "washer-3"}}, remote.invalidated)
	})

	t.Run("late approved observation does not authorize", func(t *testing.T) {
		remote := newFakeRemote()
		gate := newTestGate(t, remote)

		created, err := gate.Request(t.Context(), "machine", "washer-3", models.ActionDelete, "decommissioned")
		require.NoError(t, err)

		// The decision flips to APPROVED, but the poll observing it is
		// held until after the invalidation lands
		remote.setStatus(created.ID, models.ApprovalApproved)
		gateCh := make(chan struct{})
		remote.mu.Lock()
		remote.getGate = gateCh
		remote.mu.Unlock()

		done := make(chan error, 1)
		go func() {
			_, err := gate.Await(t.Context(), created)
			done <- err
		}()
		time.Sleep(10 * time.Millisecond)

		require.NoError(t, gate.Invalidate(t.Context(), "machine", "washer-3"))
		close(gateCh)

		require.ErrorIs(t, <-done, apperrors.ErrApprovalInvalidated)
	})

	t.Run("frees the entity for a new request", func(t *testing.T) {
		remote := newFakeRemote()
		gate := newTestGate(t, remote)

		_, err := gate.Request(t.Context(), "machine", "washer-3", models.ActionDelete, "decommissioned")
		require.NoError(t, err)

		require.NoError(t, gate.Invalidate(t.Context(), "machine", "washer-3"))

		_, err = gate.Request(t.Context(), "machine", "washer-3", models.ActionDelete, "second try")
		require.NoError(t, err)
	})

	t.Run("without a watcher only clears state", func(t *testing.T) {
		remote := newFakeRemote()
		gate := newTestGate(t, remote)

		require.NoError(t, gate.Invalidate(t.Context(), "machine", "washer-9"))
	})
}
