package models

import (
	"time"
)

// Approval request statuses
// Pending is the only non terminal status
const (
	ApprovalPending  = "PENDING"
	ApprovalApproved = "APPROVED"
	ApprovalRejected = "REJECTED"
)

// Guarded mutation kinds
const (
	ActionUpdate = "UPDATE"
	ActionDelete = "DELETE"
)

// Approval is the remote authorization record guarding a sensitive mutation
type Approval struct {
	ID         string
	EntityType string
	EntityID   string
	Action     string
	Reason     string
	Status     string
	CreatedAt  time.Time
}

// EntityKey identifies the entity an approval request guards
// At most one unresolved request may exist per key
type EntityKey struct {
	EntityType string
	EntityID   string
}

// Terminal reports whether the status allows no further transition
func TerminalApprovalStatus(status string) bool {
	return status == ApprovalApproved || status == ApprovalRejected
}
