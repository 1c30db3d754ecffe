package access

import (
	"context"
	"errors"
	"net/url"
	"strings"
	"time"

	"consultdesk.app/internal/booking"
	"consultdesk.app/internal/events"
	"consultdesk.app/internal/ids"
	"consultdesk.app/internal/obs"
)

const issueAttempts = 3

// PurchaseReader resolves the purchase a link belongs to.
type PurchaseReader interface {
	GetPurchase(ctx context.Context, id string) (booking.Purchase, error)
}

type Issuer struct {
	repo      Repository
	purchases PurchaseReader
	pub       events.Publisher
	now       func() time.Time
}

func NewIssuer(repo Repository, purchases PurchaseReader, pub events.Publisher) *Issuer {
	return &Issuer{
		repo:      repo,
		purchases: purchases,
		pub:       pub,
		now:       func() time.Time { return time.Now().UTC() },
	}
}

// IssueLink deactivates every active link of the purchase and then inserts a
// new active one. Readers between the two steps see no active link, never
// two. An insert that loses a race with another issuer starts over.
func (i *Issuer) IssueLink(ctx context.Context, purchaseID, sessionURL string, expiresAt time.Time, notes string) (Link, error) {
	purchaseID = strings.TrimSpace(purchaseID)
	sessionURL = strings.TrimSpace(sessionURL)
	if purchaseID == "" || !validSessionURL(sessionURL) {
		return Link{}, ErrInvalidLink
	}
	now := i.now()
	if !expiresAt.After(now) {
		return Link{}, ErrInvalidLink
	}
	p, err := i.purchases.GetPurchase(ctx, purchaseID)
	if errors.Is(err, booking.ErrNotFound) {
		return Link{}, ErrNotFound
	}
	if err != nil {
		return Link{}, err
	}
	if p.Status != booking.StatusPurchased {
		return Link{}, ErrPurchaseNotActive
	}

	var link Link
	for attempt := 1; attempt <= issueAttempts; attempt++ {
		if _, err = i.repo.DeactivateAll(ctx, purchaseID); err != nil {
			return Link{}, err
		}
		link, err = i.repo.Insert(ctx, Link{
			ID:         ids.NewAt(now),
			PurchaseID: purchaseID,
			UserID:     p.UserID,
			SessionURL: sessionURL,
			ExpiresAt:  expiresAt.UTC(),
			Status:     StatusActive,
			Notes:      strings.TrimSpace(notes),
			CreatedAt:  now,
		})
		if !errors.Is(err, ErrActiveLinkExists) {
			break
		}
		obs.Warn("access link insert lost race, retrying", map[string]any{
			"purchase_id": purchaseID,
			"attempt":     attempt,
		})
	}
	if err != nil {
		return Link{}, err
	}
	obs.LinkIssued()
	events.Emit(ctx, i.pub, events.New(events.AccessLinkIssued, link.UserID, link.ID, map[string]any{
		"purchase_id": link.PurchaseID,
		"expires_at":  link.ExpiresAt,
	}))
	link.EffectiveStatus = link.Effective(now)
	return link, nil
}

// GetActiveLink returns the newest active link that has not expired while
// its purchase is still purchased. Expiry is checked here; the stored status
// may still say active.
func (i *Issuer) GetActiveLink(ctx context.Context, purchaseID string) (Link, error) {
	l, err := i.repo.LatestActive(ctx, strings.TrimSpace(purchaseID))
	if err != nil {
		return Link{}, err
	}
	if l.Effective(i.now()) != StatusActive {
		return Link{}, ErrNotFound
	}
	p, err := i.purchases.GetPurchase(ctx, l.PurchaseID)
	if errors.Is(err, booking.ErrNotFound) {
		return Link{}, ErrNotFound
	}
	if err != nil {
		return Link{}, err
	}
	if p.Status != booking.StatusPurchased {
		return Link{}, ErrNotFound
	}
	l.EffectiveStatus = StatusActive
	return l, nil
}

// RevokeForPurchase switches off every active link of a cancelled purchase.
// It is registered with booking.Engine.OnPurchaseCancelled.
func (i *Issuer) RevokeForPurchase(ctx context.Context, p booking.Purchase) error {
	n, err := i.repo.DeactivateAll(ctx, p.ID)
	if err != nil {
		return err
	}
	if n > 0 {
		events.Emit(ctx, i.pub, events.New(events.AccessLinkDeactivated, p.UserID, p.ID, map[string]any{
			"purchase_id": p.ID,
			"revoked":     n,
		}))
	}
	return nil
}

// DeactivateLink switches a single active link off.
func (i *Issuer) DeactivateLink(ctx context.Context, linkID string) (Link, error) {
	l, err := i.repo.Deactivate(ctx, strings.TrimSpace(linkID))
	if err != nil {
		return Link{}, err
	}
	events.Emit(ctx, i.pub, events.New(events.AccessLinkDeactivated, l.UserID, l.ID, map[string]any{
		"purchase_id": l.PurchaseID,
	}))
	l.EffectiveStatus = l.Effective(i.now())
	return l, nil
}

func (i *Issuer) GetLink(ctx context.Context, linkID string) (Link, error) {
	l, err := i.repo.Get(ctx, strings.TrimSpace(linkID))
	if err != nil {
		return Link{}, err
	}
	l.EffectiveStatus = l.Effective(i.now())
	return l, nil
}

// ListLinks returns every link of a purchase, newest first, with the
// effective status evaluated now.
func (i *Issuer) ListLinks(ctx context.Context, purchaseID string) ([]Link, error) {
	links, err := i.repo.ListByPurchase(ctx, strings.TrimSpace(purchaseID))
	if err != nil {
		return nil, err
	}
	now := i.now()
	for n := range links {
		links[n].EffectiveStatus = links[n].Effective(now)
	}
	return links, nil
}

// SweepExpired stores inactive on links whose expiry has passed. Reads never
// depend on it having run.
func (i *Issuer) SweepExpired(ctx context.Context) (int64, error) {
	n, err := i.repo.SweepExpired(ctx, i.now())
	if err != nil {
		return 0, err
	}
	obs.LinksSwept(n)
	return n, nil
}

func validSessionURL(raw string) bool {
	u, err := url.Parse(raw)
	if err != nil {
		return false
	}
	return (u.Scheme == "https" || u.Scheme == "http") && u.Host != ""
}
