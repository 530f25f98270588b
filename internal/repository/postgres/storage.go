package postgres

import (
	"github.com/lavaops/stationd/internal/repository"
)

type Storage struct {
	db DBTX
}

func NewStorage(db DBTX) repository.Storage {
	return &Storage{db: db}
}

func (s *Storage) Tokens() repository.TokenStore {
	return &TokenStore{DB: s.db}
}

func (s *Storage) PendingApprovals() repository.PendingApprovalRepo {
	return &PendingApprovalRepo{DB: s.db}
}
