package repository

import (
	"context"
	"crypto/rand"
	"crypto/sha256"
	"encoding/base64"
	"errors"
	"fmt"

	"golang.org/x/crypto/nacl/secretbox"
)

const nonceSize = 24

// SealedTokenStore encrypts values at rest with nacl/secretbox.
// Postgres and redis instances on site are shared with other tooling,
// so raw refresh tokens never land there in the clear.
type SealedTokenStore struct {
	key   [32]byte
	inner TokenStore
}

func NewSealedTokenStore(secret string, inner TokenStore) (*SealedTokenStore, error) {
	if secret == "" {
		return nil, errors.New("secret key must not be empty")
	}

	return &SealedTokenStore{
		key:   sha256.Sum256([]byte(secret)),
		inner: inner,
	}, nil
}

func (s *SealedTokenStore) Get(ctx context.Context, key string) (string, error) {
	sealed, err := s.inner.Get(ctx, key)
	if err != nil {
		return "", err
	}

	raw, err := base64.StdEncoding.DecodeString(sealed)
	if err != nil {
		return "", fmt.Errorf("stored value is not valid base64: %w", err)
	}
	if len(raw) < nonceSize {
		return "", errors.New("stored value is too short to be sealed")
	}

	var nonce [nonceSize]byte
	copy(nonce[:], raw[:nonceSize])

	value, ok := secretbox.Open(nil, raw[nonceSize:], &nonce, &s.key)
	if !ok {
		return "", errors.New("stored value could not be unsealed, wrong secret key?")
	}

	return string(value), nil
}

func (s *SealedTokenStore) Set(ctx context.Context, key string, value string) error {
	var nonce [nonceSize]byte
	if _, err := rand.Read(nonce[:]); err != nil {
		return fmt.Errorf("error while generating nonce. Err: %w", err)
	}

	sealed := secretbox.Seal(nonce[:], []byte(value), &nonce, &s.key)

	return s.inner.Set(ctx, key, base64.StdEncoding.EncodeToString(sealed))
}

func (s *SealedTokenStore) Remove(ctx context.Context, key string) error {
	return s.inner.Remove(ctx, key)
}
