package domain

import (
	"time"

	"github.com/google/uuid"
)

// RunOutcome is the typed result of a warranty run. Control logic switches on
// this, never on the human-readable message text.
type RunOutcome string

const (
	// OutcomeStillAlive: the order's current session passed the cookie check;
	// no replacement was needed.
	OutcomeStillAlive RunOutcome = "still_alive"

	// OutcomeReplaced: a working replacement was found and the order was
	// migrated to it.
	OutcomeReplaced RunOutcome = "replaced"

	// OutcomeExhausted: the pool ran out before a working account was found.
	OutcomeExhausted RunOutcome = "exhausted"

	// OutcomeFailed: an internal error ended the run.
	OutcomeFailed RunOutcome = "failed"
)

// ProgressEvent is one step of a warranty run as streamed to the client.
// Terminal is true for exactly one event per run; Outcome is only set on
// that terminal event.
type ProgressEvent struct {
	RunID   uuid.UUID
	OrderID uuid.UUID

	Message  string
	Terminal bool
	Outcome  RunOutcome

	CreatedAt time.Time
}
