// Package booking creates and cancels bookings (credit-priced sessions) and
// purchases (catalog items) against the credit ledger.
package booking

import (
	"context"
	"errors"
	"time"

	"consultdesk.app/internal/catalog"
	"consultdesk.app/internal/ledger"
)

type Status string

const (
	StatusBooked    Status = "booked"
	StatusPurchased Status = "purchased"
	StatusCancelled Status = "cancelled"
)

// Booking is a user's claim on a session. CreditsUsed is captured when the
// booking is made and is the amount refunded on cancellation.
type Booking struct {
	ID               string             `json:"id"`
	UserID           string             `json:"user_id"`
	ItemID           string             `json:"item_id"`
	ServiceType      ledger.ServiceType `json:"service_type"`
	Status           Status             `json:"status"`
	CreditsUsed      int64              `json:"credits_used"`
	BookingDate      time.Time          `json:"booking_date"`
	CreatedAt        time.Time          `json:"created_at"`
	CancellationDate *time.Time         `json:"cancellation_date,omitempty"`
	CanRebook        bool               `json:"can_rebook"`
}

// Purchase is a user's claim on a program or tool. AmountPaid is the list
// price at purchase time; CreditsUsed is what the ledger was debited.
type Purchase struct {
	ID               string             `json:"id"`
	UserID           string             `json:"user_id"`
	ItemID           string             `json:"item_id"`
	ItemType         catalog.Kind       `json:"item_type"`
	ServiceType      ledger.ServiceType `json:"service_type"`
	Status           Status             `json:"status"`
	AmountPaid       int64              `json:"amount_paid"`
	CreditsUsed      int64              `json:"credits_used"`
	PurchaseDate     time.Time          `json:"purchase_date"`
	CancellationDate *time.Time         `json:"cancellation_date,omitempty"`
	CanRebook        bool               `json:"can_rebook"`
}

var (
	ErrAlreadyBooked    = errors.New("item already booked")
	ErrAlreadyCancelled = errors.New("already cancelled")
	ErrItemInactive     = errors.New("catalog item is inactive")
	ErrRebookNotAllowed = errors.New("item cannot be booked again")
	ErrNotFound         = errors.New("booking not found")
	ErrInvalidInput     = errors.New("user id and item id are required")
)

// BookingRepository persists bookings.
//
// InsertBooking returns ErrAlreadyBooked when the user already holds a booked
// record for the item. CancelBooking is a conditional update from booked to
// cancelled: a record that is already cancelled yields ErrAlreadyCancelled.
type BookingRepository interface {
	InsertBooking(ctx context.Context, b Booking) (Booking, error)
	GetBooking(ctx context.Context, id string) (Booking, error)
	ListBookings(ctx context.Context, userID string) ([]Booking, error)
	HasActiveBooking(ctx context.Context, userID, itemID string) (bool, error)
	LastCancelledBooking(ctx context.Context, userID, itemID string) (Booking, error)
	CancelBooking(ctx context.Context, id string, at time.Time, canRebook bool) (Booking, error)
}

// PurchaseRepository mirrors BookingRepository for purchases.
type PurchaseRepository interface {
	InsertPurchase(ctx context.Context, p Purchase) (Purchase, error)
	GetPurchase(ctx context.Context, id string) (Purchase, error)
	ListPurchases(ctx context.Context, userID string) ([]Purchase, error)
	HasActivePurchase(ctx context.Context, userID, itemID string) (bool, error)
	LastCancelledPurchase(ctx context.Context, userID, itemID string) (Purchase, error)
	CancelPurchase(ctx context.Context, id string, at time.Time, canRebook bool) (Purchase, error)
}
