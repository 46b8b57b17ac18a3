package api

import (
	"time"

	"github.com/slotshare/warranty/internal/domain"
)

// StreamEvent is the JSON payload of one SSE event.
type StreamEvent struct {
	RunID     string `json:"run_id"`
	OrderID   string `json:"order_id"`
	Message   string `json:"message"`
	Outcome   string `json:"outcome,omitempty"` // only on the done event
	CreatedAt string `json:"created_at"`
}

func newStreamEvent(ev domain.ProgressEvent) StreamEvent {
	return StreamEvent{
		RunID:     ev.RunID.String(),
		OrderID:   ev.OrderID.String(),
		Message:   ev.Message,
		Outcome:   string(ev.Outcome),
		CreatedAt: formatTime(ev.CreatedAt),
	}
}

type PropagateRequest struct {
	Login   string `json:"login"`
	Secret  string `json:"secret"`
	Session string `json:"session"`
}

type PropagateResponse struct {
	OrdersUpdated   int64 `json:"orders_updated"`
	AccountsUpdated int64 `json:"accounts_updated"`
}

type ErrorResponse struct {
	Error string `json:"error"`
}

func formatTime(t time.Time) string {
	return t.UTC().Format(time.RFC3339)
}
