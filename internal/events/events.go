// Package events publishes domain events after state changes commit.
// Publishing is best effort: a failed publish is logged and never undoes
// or fails the operation that produced the event.
package events

import (
	"context"
	"time"

	"consultdesk.app/internal/ids"
	"consultdesk.app/internal/obs"
)

const (
	BookingCreated        = "booking.created"
	BookingCancelled      = "booking.cancelled"
	PurchaseCreated       = "purchase.created"
	PurchaseCancelled     = "purchase.cancelled"
	CreditRequestApproved = "credit_request.approved"
	CreditRequestRejected = "credit_request.rejected"
	AccessLinkIssued      = "access_link.issued"
	AccessLinkDeactivated = "access_link.deactivated"
)

// Event is the envelope sent to subscribers. Type doubles as the routing key.
type Event struct {
	ID         string         `json:"id"`
	Type       string         `json:"type"`
	OccurredAt time.Time      `json:"occurred_at"`
	UserID     string         `json:"user_id,omitempty"`
	Subject    string         `json:"subject"`
	Data       map[string]any `json:"data,omitempty"`
}

// New builds an event with a fresh id and the current time.
func New(typ, userID, subject string, data map[string]any) Event {
	return Event{
		ID:         ids.New(),
		Type:       typ,
		OccurredAt: time.Now().UTC(),
		UserID:     userID,
		Subject:    subject,
		Data:       data,
	}
}

// Publisher delivers events to downstream consumers.
type Publisher interface {
	Publish(ctx context.Context, ev Event) error
}

// LogPublisher writes events to the structured log. Used when no broker is configured.
type LogPublisher struct{}

func (LogPublisher) Publish(ctx context.Context, ev Event) error {
	obs.Info("event", map[string]any{
		"event_id":   ev.ID,
		"event_type": ev.Type,
		"user_id":    ev.UserID,
		"subject":    ev.Subject,
		"data":       ev.Data,
	})
	return nil
}

// Emit publishes ev through p and logs a failure instead of returning it.
func Emit(ctx context.Context, p Publisher, ev Event) {
	if p == nil {
		return
	}
	if err := p.Publish(ctx, ev); err != nil {
		obs.Error("event publish failed", err, map[string]any{
			"event_type": ev.Type,
			"subject":    ev.Subject,
		})
	}
}
