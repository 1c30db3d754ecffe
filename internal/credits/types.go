// Package credits implements the credit top-up request workflow: users ask
// for credits, an admin approves or rejects each request exactly once.
package credits

import (
	"context"
	"errors"
	"time"

	"consultdesk.app/internal/ledger"
)

type Status string

const (
	StatusPending  Status = "pending"
	StatusApproved Status = "approved"
	StatusRejected Status = "rejected"
)

// ParseStatus accepts the three known statuses.
func ParseStatus(raw string) (Status, error) {
	switch s := Status(raw); s {
	case StatusPending, StatusApproved, StatusRejected:
		return s, nil
	}
	return "", ErrInvalidRequest
}

// Terminal reports whether no further transition is allowed from s.
func (s Status) Terminal() bool { return s == StatusApproved || s == StatusRejected }

// Request is a user's ask for RequestedAmount credits of ServiceType.
type Request struct {
	ID              string             `json:"id"`
	UserID          string             `json:"user_id"`
	ServiceType     ledger.ServiceType `json:"service_type"`
	RequestedAmount int64              `json:"requested_amount"`
	Status          Status             `json:"status"`
	AdminID         string             `json:"admin_id,omitempty"`
	AdminNotes      string             `json:"admin_notes,omitempty"`
	CreatedAt       time.Time          `json:"created_at"`
	UpdatedAt       time.Time          `json:"updated_at"`
}

var (
	ErrNotFound       = errors.New("credit request not found")
	ErrInvalidState   = errors.New("credit request is not pending")
	ErrInvalidRequest = errors.New("invalid credit request")
)

// Repository persists credit requests.
//
// Transition must be a single conditional update: it moves the request from
// `from` to `to` only while the stored status still equals `from`. When the
// stored status differs it returns ErrInvalidState; when the request does not
// exist it returns ErrNotFound.
type Repository interface {
	Create(ctx context.Context, r Request) (Request, error)
	Get(ctx context.Context, id string) (Request, error)
	ListByUser(ctx context.Context, userID string) ([]Request, error)
	ListByStatus(ctx context.Context, status Status) ([]Request, error)
	Transition(ctx context.Context, id string, from, to Status, adminID, notes string) (Request, error)
}
