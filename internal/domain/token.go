package domain

import (
	"time"

	"github.com/google/uuid"
)

// APIToken authorizes API callers. Customer tokens may only stream their
// own orders; admin tokens may also propagate credentials.
type APIToken struct {
	Token      string
	CustomerID uuid.UUID
	Admin      bool
	CreatedAt  time.Time
}
