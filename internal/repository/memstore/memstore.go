// Package memstore keeps station state in process memory.
//
// Used in tests and in --volatile runs where losing the session on
// restart is acceptable.
package memstore

import (
	"context"
	"sync"

	"github.com/lavaops/stationd/internal/apperrors"
	"github.com/lavaops/stationd/internal/models"
	"github.com/lavaops/stationd/internal/repository"
)

type Storage struct {
	tokens    *TokenStore
	approvals *PendingApprovalRepo
}

func NewStorage() repository.Storage {
	return &Storage{
		tokens:    &TokenStore{values: map[string]string{}},
		approvals: &PendingApprovalRepo{records: map[models.EntityKey]models.Approval{}},
	}
}

func (s *Storage) Tokens() repository.TokenStore {
	return s.tokens
}

func (s *Storage) PendingApprovals() repository.PendingApprovalRepo {
	return s.approvals
}

type TokenStore struct {
	mu     sync.RWMutex
	values map[string]string
}

func NewTokenStore() *TokenStore {
	return &TokenStore{values: map[string]string{}}
}

func (s *TokenStore) Get(ctx context.Context, key string) (string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	value, ok := s.values[key]
	if !ok {
		return "", apperrors.ErrTokenNotFound
	}
	return value, nil
}

func (s *TokenStore) Set(ctx context.Context, key string, value string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.values[key] = value
	return nil
}

func (s *TokenStore) Remove(ctx context.Context, key string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	delete(s.values, key)
	return nil
}

type PendingApprovalRepo struct {
	mu      sync.Mutex
	records map[models.EntityKey]models.Approval
}

func NewPendingApprovalRepo() *PendingApprovalRepo {
	return &PendingApprovalRepo{records: map[models.EntityKey]models.Approval{}}
}

func (r *PendingApprovalRepo) Create(ctx context.Context, approval models.Approval) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	key := models.EntityKey{EntityType: approval.EntityType, EntityID: approval.EntityID}
	if _, ok := r.records[key]; ok {
		return apperrors.ErrApprovalAlreadyPending
	}

	r.records[key] = approval
	return nil
}

func (r *PendingApprovalRepo) Get(ctx context.Context, key models.EntityKey) (models.Approval, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	approval, ok := r.records[key]
	if !ok {
		return models.Approval{}, apperrors.ErrApprovalNotFound
	}
	return approval, nil
}

func (r *PendingApprovalRepo) Remove(ctx context.Context, key models.EntityKey) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	delete(r.records, key)
	return nil
}
