package booking

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"consultdesk.app/internal/catalog"
	"consultdesk.app/internal/events"
	"consultdesk.app/internal/ids"
	"consultdesk.app/internal/ledger"
	"consultdesk.app/internal/obs"
)

// Engine is the only writer of bookings and purchases.
//
// The ledger debit and the record insert are separate steps. When the insert
// fails after a successful debit the engine credits the same amount back.
// Cancellation flips the record first and refunds only if that conditional
// update succeeded, so a record is refunded at most once.
type Engine struct {
	catalog   catalog.Reader
	ledger    ledger.Ledger
	bookings  BookingRepository
	purchases PurchaseRepository
	pub       events.Publisher
	now       func() time.Time

	onPurchaseCancelled PurchaseCancelHook
}

// PurchaseCancelHook runs once a purchase has been switched to cancelled,
// before its refund. A hook error is logged; the cancellation stands.
type PurchaseCancelHook func(ctx context.Context, p Purchase) error

func NewEngine(cat catalog.Reader, l ledger.Ledger, bookings BookingRepository, purchases PurchaseRepository, pub events.Publisher) *Engine {
	return &Engine{
		catalog:   cat,
		ledger:    l,
		bookings:  bookings,
		purchases: purchases,
		pub:       pub,
		now:       func() time.Time { return time.Now().UTC() },
	}
}

// OnPurchaseCancelled registers h to run after each purchase cancellation.
// Call it during wiring, before the engine serves requests.
func (e *Engine) OnPurchaseCancelled(h PurchaseCancelHook) {
	e.onPurchaseCancelled = h
}

// CreateBooking books itemID for userID and debits the item's credit cost
// from the st balance. An empty st means the item's own service type.
func (e *Engine) CreateBooking(ctx context.Context, userID, itemID string, st ledger.ServiceType) (Booking, error) {
	item, err := e.resolve(ctx, userID, itemID, st)
	if err != nil {
		return Booking{}, err
	}
	userID, itemID = strings.TrimSpace(userID), item.ID

	active, err := e.bookings.HasActiveBooking(ctx, userID, itemID)
	if err != nil {
		return Booking{}, err
	}
	if active {
		return Booking{}, ErrAlreadyBooked
	}
	last, err := e.bookings.LastCancelledBooking(ctx, userID, itemID)
	switch {
	case err == nil && !last.CanRebook:
		return Booking{}, ErrRebookNotAllowed
	case err != nil && !errors.Is(err, ErrNotFound):
		return Booking{}, err
	}

	now := e.now()
	b := Booking{
		ID:          ids.NewAt(now),
		UserID:      userID,
		ItemID:      itemID,
		ServiceType: item.ServiceType,
		Status:      StatusBooked,
		CreditsUsed: item.CreditsRequired,
		BookingDate: now,
		CreatedAt:   now,
	}
	err = e.charge(ctx, "booking", userID, item.ServiceType, item.CreditsRequired, func() error {
		var ierr error
		b, ierr = e.bookings.InsertBooking(ctx, b)
		return ierr
	})
	if err != nil {
		return Booking{}, err
	}
	events.Emit(ctx, e.pub, events.New(events.BookingCreated, b.UserID, b.ID, map[string]any{
		"item_id":      b.ItemID,
		"service_type": b.ServiceType,
		"credits_used": b.CreditsUsed,
	}))
	return b, nil
}

// CancelBooking cancels a booked record and refunds its stored CreditsUsed.
// A second cancel returns ErrAlreadyCancelled without refunding. If the
// refund itself fails the booking stays cancelled and the error is returned.
func (e *Engine) CancelBooking(ctx context.Context, bookingID string) (Booking, error) {
	cur, err := e.bookings.GetBooking(ctx, strings.TrimSpace(bookingID))
	if err != nil {
		return Booking{}, err
	}
	if cur.Status == StatusCancelled {
		return Booking{}, ErrAlreadyCancelled
	}
	canRebook, err := e.rebookPolicy(ctx, cur.ItemID)
	if err != nil {
		return Booking{}, err
	}
	b, err := e.bookings.CancelBooking(ctx, cur.ID, e.now(), canRebook)
	if err != nil {
		return Booking{}, err
	}
	if err := e.refund(ctx, "booking", b.ID, b.UserID, b.ServiceType, b.CreditsUsed); err != nil {
		return b, err
	}
	events.Emit(ctx, e.pub, events.New(events.BookingCancelled, b.UserID, b.ID, map[string]any{
		"item_id":          b.ItemID,
		"credits_refunded": b.CreditsUsed,
		"can_rebook":       b.CanRebook,
	}))
	return b, nil
}

// CreatePurchase buys itemID for userID, snapshotting its price and credit cost.
func (e *Engine) CreatePurchase(ctx context.Context, userID, itemID string) (Purchase, error) {
	item, err := e.resolve(ctx, userID, itemID, "")
	if err != nil {
		return Purchase{}, err
	}
	userID, itemID = strings.TrimSpace(userID), item.ID

	active, err := e.purchases.HasActivePurchase(ctx, userID, itemID)
	if err != nil {
		return Purchase{}, err
	}
	if active {
		return Purchase{}, ErrAlreadyBooked
	}
	last, err := e.purchases.LastCancelledPurchase(ctx, userID, itemID)
	switch {
	case err == nil && !last.CanRebook:
		return Purchase{}, ErrRebookNotAllowed
	case err != nil && !errors.Is(err, ErrNotFound):
		return Purchase{}, err
	}

	now := e.now()
	p := Purchase{
		ID:           ids.NewAt(now),
		UserID:       userID,
		ItemID:       itemID,
		ItemType:     item.Kind,
		ServiceType:  item.ServiceType,
		Status:       StatusPurchased,
		AmountPaid:   item.PriceCents,
		CreditsUsed:  item.CreditsRequired,
		PurchaseDate: now,
	}
	err = e.charge(ctx, "purchase", userID, item.ServiceType, item.CreditsRequired, func() error {
		var ierr error
		p, ierr = e.purchases.InsertPurchase(ctx, p)
		return ierr
	})
	if err != nil {
		return Purchase{}, err
	}
	events.Emit(ctx, e.pub, events.New(events.PurchaseCreated, p.UserID, p.ID, map[string]any{
		"item_id":      p.ItemID,
		"item_type":    p.ItemType,
		"amount_paid":  p.AmountPaid,
		"credits_used": p.CreditsUsed,
	}))
	return p, nil
}

// CancelPurchase cancels a purchased record and refunds its stored CreditsUsed.
func (e *Engine) CancelPurchase(ctx context.Context, purchaseID string) (Purchase, error) {
	cur, err := e.purchases.GetPurchase(ctx, strings.TrimSpace(purchaseID))
	if err != nil {
		return Purchase{}, err
	}
	if cur.Status == StatusCancelled {
		return Purchase{}, ErrAlreadyCancelled
	}
	canRebook, err := e.rebookPolicy(ctx, cur.ItemID)
	if err != nil {
		return Purchase{}, err
	}
	p, err := e.purchases.CancelPurchase(ctx, cur.ID, e.now(), canRebook)
	if err != nil {
		return Purchase{}, err
	}
	if e.onPurchaseCancelled != nil {
		if herr := e.onPurchaseCancelled(ctx, p); herr != nil {
			obs.Error("purchase cancel hook failed", herr, map[string]any{"purchase_id": p.ID})
		}
	}
	if err := e.refund(ctx, "purchase", p.ID, p.UserID, p.ServiceType, p.CreditsUsed); err != nil {
		return p, err
	}
	events.Emit(ctx, e.pub, events.New(events.PurchaseCancelled, p.UserID, p.ID, map[string]any{
		"item_id":          p.ItemID,
		"credits_refunded": p.CreditsUsed,
		"can_rebook":       p.CanRebook,
	}))
	return p, nil
}

func (e *Engine) GetBooking(ctx context.Context, id string) (Booking, error) {
	return e.bookings.GetBooking(ctx, strings.TrimSpace(id))
}

func (e *Engine) GetPurchase(ctx context.Context, id string) (Purchase, error) {
	return e.purchases.GetPurchase(ctx, strings.TrimSpace(id))
}

func (e *Engine) ListBookings(ctx context.Context, userID string) ([]Booking, error) {
	return e.bookings.ListBookings(ctx, userID)
}

func (e *Engine) ListPurchases(ctx context.Context, userID string) ([]Purchase, error) {
	return e.purchases.ListPurchases(ctx, userID)
}

func (e *Engine) resolve(ctx context.Context, userID, itemID string, st ledger.ServiceType) (catalog.Item, error) {
	if strings.TrimSpace(userID) == "" || strings.TrimSpace(itemID) == "" {
		return catalog.Item{}, ErrInvalidInput
	}
	item, err := e.catalog.GetItem(ctx, strings.TrimSpace(itemID))
	if err != nil {
		return catalog.Item{}, err
	}
	if !item.IsActive {
		return catalog.Item{}, ErrItemInactive
	}
	if st != "" && st != item.ServiceType {
		return catalog.Item{}, ledger.ErrInvalidServiceType
	}
	if item.CreditsRequired < 0 {
		return catalog.Item{}, ledger.ErrInvalidAmount
	}
	return item, nil
}

// charge debits amount and runs insert. A failed insert is compensated with
// a credit of the same amount. Free items skip the ledger.
func (e *Engine) charge(ctx context.Context, kind, userID string, st ledger.ServiceType, amount int64, insert func() error) error {
	if amount == 0 {
		return insert()
	}
	if _, err := e.ledger.Debit(ctx, userID, st, amount); err != nil {
		return err
	}
	ierr := insert()
	if ierr == nil {
		return nil
	}
	if _, cerr := e.ledger.Credit(ctx, userID, st, amount); cerr != nil {
		obs.Compensation(kind, "failed")
		obs.Error("compensating credit failed", cerr, map[string]any{
			"kind":         kind,
			"user_id":      userID,
			"service_type": st,
			"amount":       amount,
			"insert_error": ierr.Error(),
		})
		return errors.Join(ierr, fmt.Errorf("compensating credit: %w", cerr))
	}
	obs.Compensation(kind, "ok")
	obs.Warn("insert failed after debit, credits returned", map[string]any{
		"kind":    kind,
		"user_id": userID,
		"amount":  amount,
		"error":   ierr.Error(),
	})
	return ierr
}

func (e *Engine) refund(ctx context.Context, kind, id, userID string, st ledger.ServiceType, amount int64) error {
	if amount == 0 {
		return nil
	}
	if _, err := e.ledger.Credit(ctx, userID, st, amount); err != nil {
		obs.Refund(kind, "failed")
		obs.Error("refund failed for cancelled record", err, map[string]any{
			"kind":         kind,
			"id":           id,
			"user_id":      userID,
			"service_type": st,
			"amount":       amount,
		})
		return fmt.Errorf("refund %s %s: %w", kind, id, err)
	}
	obs.Refund(kind, "ok")
	return nil
}

// rebookPolicy reports the can_rebook flag for a cancellation. Items that
// have since left the catalog default to re-bookable.
func (e *Engine) rebookPolicy(ctx context.Context, itemID string) (bool, error) {
	item, err := e.catalog.GetItem(ctx, itemID)
	if errors.Is(err, catalog.ErrNotFound) {
		return true, nil
	}
	if err != nil {
		return false, err
	}
	return item.AllowRebook, nil
}
