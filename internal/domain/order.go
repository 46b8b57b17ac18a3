package domain

import (
	"time"

	"github.com/google/uuid"
)

// Order is a customer's paid subscription instance. At most one account
// binding (Login/Secret/Session) is active at a time; every rebinding must
// append exactly one history entry in the same transaction.
type Order struct {
	ID         uuid.UUID
	CustomerID uuid.UUID
	PlanID     string

	// Bound account credentials.
	Login   string
	Secret  string
	Session string

	CreatedAt time.Time
	UpdatedAt time.Time
}

// HistoryEntry is one line of an order's chronological audit trail.
type HistoryEntry struct {
	ID      uuid.UUID
	OrderID uuid.UUID
	Message string

	CreatedAt time.Time
}
