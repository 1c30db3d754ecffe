package pg

import (
	"context"
	"database/sql"
	"errors"

	"consultdesk.app/internal/credits"
	"consultdesk.app/internal/ledger"
)

const creditRequestColumns = `id, user_id, service_type, requested_amount, status,
	coalesce(admin_id, ''), coalesce(admin_notes, ''), created_at, updated_at`

// CreditRequests implements credits.Repository.
type CreditRequests struct {
	db *sql.DB
}

var _ credits.Repository = (*CreditRequests)(nil)

func (c *CreditRequests) Create(ctx context.Context, r credits.Request) (credits.Request, error) {
	if c.db == nil {
		return credits.Request{}, errNoDB
	}
	return scanCreditRequest(c.db.QueryRowContext(ctx, `
		insert into credit_requests (id, user_id, service_type, requested_amount, status, created_at, updated_at)
		values ($1, $2, $3, $4, $5, $6, $7)
		returning `+creditRequestColumns,
		r.ID, r.UserID, string(r.ServiceType), r.RequestedAmount, string(r.Status), r.CreatedAt, r.UpdatedAt))
}

func (c *CreditRequests) Get(ctx context.Context, id string) (credits.Request, error) {
	if c.db == nil {
		return credits.Request{}, errNoDB
	}
	r, err := scanCreditRequest(c.db.QueryRowContext(ctx, `
		select `+creditRequestColumns+`
		from credit_requests
		where id = $1
	`, id))
	if errors.Is(err, sql.ErrNoRows) {
		return credits.Request{}, credits.ErrNotFound
	}
	return r, err
}

func (c *CreditRequests) ListByUser(ctx context.Context, userID string) ([]credits.Request, error) {
	return c.list(ctx, `
		select `+creditRequestColumns+`
		from credit_requests
		where user_id = $1
		order by created_at desc, id desc
	`, userID)
}

// ListByStatus lists every request when status is empty.
func (c *CreditRequests) ListByStatus(ctx context.Context, status credits.Status) ([]credits.Request, error) {
	return c.list(ctx, `
		select `+creditRequestColumns+`
		from credit_requests
		where ($1::text = '' or status = $1::text)
		order by created_at desc, id desc
	`, string(status))
}

// Transition applies the status change only while the row is still in from.
func (c *CreditRequests) Transition(ctx context.Context, id string, from, to credits.Status, adminID, notes string) (credits.Request, error) {
	if c.db == nil {
		return credits.Request{}, errNoDB
	}
	r, err := scanCreditRequest(c.db.QueryRowContext(ctx, `
		update credit_requests
		set status = $3, admin_id = $4, admin_notes = $5, updated_at = now()
		where id = $1 and status = $2
		returning `+creditRequestColumns,
		id, string(from), string(to), nullIfEmpty(adminID), nullIfEmpty(notes)))
	if err == nil {
		return r, nil
	}
	if !errors.Is(err, sql.ErrNoRows) {
		return credits.Request{}, err
	}
	var status string
	err = c.db.QueryRowContext(ctx, `select status from credit_requests where id = $1`, id).Scan(&status)
	if errors.Is(err, sql.ErrNoRows) {
		return credits.Request{}, credits.ErrNotFound
	}
	if err != nil {
		return credits.Request{}, err
	}
	return credits.Request{}, credits.ErrInvalidState
}

func (c *CreditRequests) list(ctx context.Context, query string, arg any) ([]credits.Request, error) {
	if c.db == nil {
		return nil, errNoDB
	}
	rows, err := c.db.QueryContext(ctx, query, arg)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	out := make([]credits.Request, 0)
	for rows.Next() {
		r, err := scanCreditRequest(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, r)
	}
	return out, rows.Err()
}

func scanCreditRequest(row rowScanner) (credits.Request, error) {
	var (
		r          credits.Request
		st, status string
	)
	if err := row.Scan(&r.ID, &r.UserID, &st, &r.RequestedAmount, &status,
		&r.AdminID, &r.AdminNotes, &r.CreatedAt, &r.UpdatedAt); err != nil {
		return credits.Request{}, err
	}
	r.ServiceType = ledger.ServiceType(st)
	r.Status = credits.Status(status)
	r.CreatedAt = r.CreatedAt.UTC()
	r.UpdatedAt = r.UpdatedAt.UTC()
	return r, nil
}
