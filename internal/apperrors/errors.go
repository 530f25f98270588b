package apperrors

import (
	"errors"
)

var (
	ErrTokenNotFound      = errors.New("token not found in store")
	ErrInvalidCredentials = errors.New("invalid credentials")
	ErrNoRefreshToken     = errors.New("no refresh token stored, session is logged out")
	ErrRefreshFailed      = errors.New("token refresh failed, session ended")

	// Request still unauthorized after the single post-refresh retry
	ErrRetryExhausted = errors.New("request unauthorized after retry")

	ErrScanAlreadyActive = errors.New("scan session already active")
	ErrScanNotActive     = errors.New("no active scan session")

	ErrApprovalAlreadyPending = errors.New("approval request already pending for entity")
	ErrApprovalNotFound       = errors.New("approval request not found")
	ErrApprovalRejected       = errors.New("approval request rejected")
	ErrApprovalInvalidated    = errors.New("approval request invalidated")
)
