// Package access issues time-boxed session links for purchases. A purchase
// has at most one active link; issuing a new one supersedes the old.
package access

import (
	"context"
	"errors"
	"time"
)

type Status string

const (
	StatusActive   Status = "active"
	StatusInactive Status = "inactive"
	// StatusExpired is never stored. It is reported for active links whose
	// expiry has passed.
	StatusExpired Status = "expired"
)

type Link struct {
	ID              string    `json:"id"`
	PurchaseID      string    `json:"purchase_id"`
	UserID          string    `json:"user_id"`
	SessionURL      string    `json:"session_url"`
	ExpiresAt       time.Time `json:"expires_at"`
	Status          Status    `json:"status"`
	Notes           string    `json:"notes,omitempty"`
	CreatedAt       time.Time `json:"created_at"`
	EffectiveStatus Status    `json:"effective_status,omitempty"`
}

// Effective reports the status of l as seen at now.
func (l Link) Effective(now time.Time) Status {
	if l.Status != StatusActive {
		return StatusInactive
	}
	if !now.Before(l.ExpiresAt) {
		return StatusExpired
	}
	return StatusActive
}

var (
	ErrNotFound          = errors.New("access link not found")
	ErrPurchaseNotActive = errors.New("purchase is not active")
	ErrInvalidLink       = errors.New("invalid access link")
	ErrAlreadyInactive   = errors.New("access link already inactive")
	// ErrActiveLinkExists is returned by Repository.Insert when another active
	// link for the purchase was inserted concurrently.
	ErrActiveLinkExists = errors.New("purchase already has an active link")
)

// Repository persists access links. Insert must refuse a second active link
// for the same purchase.
type Repository interface {
	DeactivateAll(ctx context.Context, purchaseID string) (int64, error)
	Insert(ctx context.Context, l Link) (Link, error)
	Get(ctx context.Context, id string) (Link, error)
	LatestActive(ctx context.Context, purchaseID string) (Link, error)
	ListByPurchase(ctx context.Context, purchaseID string) ([]Link, error)
	Deactivate(ctx context.Context, id string) (Link, error)
	SweepExpired(ctx context.Context, now time.Time) (int64, error)
}
