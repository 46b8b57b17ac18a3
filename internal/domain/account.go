package domain

import (
	"time"

	"github.com/google/uuid"
)

type AccountStatus string

const (
	// AccountStatusAvailable marks an account as claimable by a warranty run.
	// There is no "claimed" status: claiming an account removes it from the
	// pool in the same statement.
	AccountStatusAvailable AccountStatus = "available"
)

// PooledAccount is a spare credential set held in reserve for replacement
// assignment. Session holds the serialized cookie blob as imported; the
// service treats it as opaque and only hands it to the browser engine.
type PooledAccount struct {
	ID     uuid.UUID
	Login  string
	Secret string

	// Session is the serialized cookie set (opaque JSON blob).
	Session string

	Status    AccountStatus
	CreatedAt time.Time
}
