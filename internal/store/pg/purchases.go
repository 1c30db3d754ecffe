package pg

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"consultdesk.app/internal/booking"
	"consultdesk.app/internal/catalog"
	"consultdesk.app/internal/ledger"
)

const purchaseColumns = `id, user_id, item_id, item_type, service_type, status, amount_paid,
	credits_used, purchase_date, cancellation_date, can_rebook`

var _ booking.PurchaseRepository = (*Store)(nil)

func (s *Store) InsertPurchase(ctx context.Context, p booking.Purchase) (booking.Purchase, error) {
	if s.db == nil {
		return booking.Purchase{}, errNoDB
	}
	_, err := s.db.ExecContext(ctx, `
		insert into purchases (id, user_id, item_id, item_type, service_type, status, amount_paid, credits_used, purchase_date, can_rebook)
		values ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
	`, p.ID, p.UserID, p.ItemID, string(p.ItemType), string(p.ServiceType), string(p.Status),
		p.AmountPaid, p.CreditsUsed, p.PurchaseDate, p.CanRebook)
	if isUniqueViolation(err) {
		return booking.Purchase{}, booking.ErrAlreadyBooked
	}
	if err != nil {
		return booking.Purchase{}, err
	}
	return p, nil
}

func (s *Store) GetPurchase(ctx context.Context, id string) (booking.Purchase, error) {
	if s.db == nil {
		return booking.Purchase{}, errNoDB
	}
	p, err := scanPurchase(s.db.QueryRowContext(ctx, `
		select `+purchaseColumns+`
		from purchases
		where id = $1
	`, id))
	if errors.Is(err, sql.ErrNoRows) {
		return booking.Purchase{}, booking.ErrNotFound
	}
	return p, err
}

func (s *Store) ListPurchases(ctx context.Context, userID string) ([]booking.Purchase, error) {
	if s.db == nil {
		return nil, errNoDB
	}
	rows, err := s.db.QueryContext(ctx, `
		select `+purchaseColumns+`
		from purchases
		where user_id = $1
		order by purchase_date desc, id desc
	`, userID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	out := make([]booking.Purchase, 0)
	for rows.Next() {
		p, err := scanPurchase(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, p)
	}
	return out, rows.Err()
}

func (s *Store) HasActivePurchase(ctx context.Context, userID, itemID string) (bool, error) {
	if s.db == nil {
		return false, errNoDB
	}
	var exists bool
	err := s.db.QueryRowContext(ctx, `
		select exists (select 1 from purchases where user_id = $1 and item_id = $2 and status = 'purchased')
	`, userID, itemID).Scan(&exists)
	return exists, err
}

func (s *Store) LastCancelledPurchase(ctx context.Context, userID, itemID string) (booking.Purchase, error) {
	if s.db == nil {
		return booking.Purchase{}, errNoDB
	}
	p, err := scanPurchase(s.db.QueryRowContext(ctx, `
		select `+purchaseColumns+`
		from purchases
		where user_id = $1 and item_id = $2 and status = 'cancelled'
		order by cancellation_date desc nulls last, id desc
		limit 1
	`, userID, itemID))
	if errors.Is(err, sql.ErrNoRows) {
		return booking.Purchase{}, booking.ErrNotFound
	}
	return p, err
}

func (s *Store) CancelPurchase(ctx context.Context, id string, at time.Time, canRebook bool) (booking.Purchase, error) {
	if s.db == nil {
		return booking.Purchase{}, errNoDB
	}
	p, err := scanPurchase(s.db.QueryRowContext(ctx, `
		update purchases
		set status = 'cancelled', cancellation_date = $2, can_rebook = $3
		where id = $1 and status = 'purchased'
		returning `+purchaseColumns,
		id, at, canRebook))
	if errors.Is(err, sql.ErrNoRows) {
		return booking.Purchase{}, s.cancelMiss(ctx, "purchases", id)
	}
	return p, err
}

func scanPurchase(row rowScanner) (booking.Purchase, error) {
	var (
		p                booking.Purchase
		kind, st, status string
		cancelledAt      sql.NullTime
	)
	if err := row.Scan(&p.ID, &p.UserID, &p.ItemID, &kind, &st, &status, &p.AmountPaid,
		&p.CreditsUsed, &p.PurchaseDate, &cancelledAt, &p.CanRebook); err != nil {
		return booking.Purchase{}, err
	}
	p.ItemType = catalog.Kind(kind)
	p.ServiceType = ledger.ServiceType(st)
	p.Status = booking.Status(status)
	p.PurchaseDate = p.PurchaseDate.UTC()
	p.CancellationDate = timePtr(cancelledAt)
	return p, nil
}
