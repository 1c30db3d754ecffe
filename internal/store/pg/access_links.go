package pg

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"consultdesk.app/internal/access"
)

const linkColumns = `id, purchase_id, user_id, session_url, expires_at, status, coalesce(notes, ''), created_at`

// Links implements access.Repository. The partial unique index on
// access_links(purchase_id) where status = 'active' rejects a second active
// link; Insert reports it as access.ErrActiveLinkExists.
type Links struct {
	db *sql.DB
}

var _ access.Repository = (*Links)(nil)

func (l *Links) DeactivateAll(ctx context.Context, purchaseID string) (int64, error) {
	if l.db == nil {
		return 0, errNoDB
	}
	res, err := l.db.ExecContext(ctx, `
		update access_links set status = 'inactive'
		where purchase_id = $1 and status = 'active'
	`, purchaseID)
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}

func (l *Links) Insert(ctx context.Context, link access.Link) (access.Link, error) {
	if l.db == nil {
		return access.Link{}, errNoDB
	}
	_, err := l.db.ExecContext(ctx, `
		insert into access_links (id, purchase_id, user_id, session_url, expires_at, status, notes, created_at)
		values ($1, $2, $3, $4, $5, $6, $7, $8)
	`, link.ID, link.PurchaseID, link.UserID, link.SessionURL, link.ExpiresAt, string(link.Status),
		nullIfEmpty(link.Notes), link.CreatedAt)
	if isUniqueViolation(err) {
		return access.Link{}, access.ErrActiveLinkExists
	}
	if err != nil {
		return access.Link{}, err
	}
	return link, nil
}

func (l *Links) Get(ctx context.Context, id string) (access.Link, error) {
	if l.db == nil {
		return access.Link{}, errNoDB
	}
	link, err := scanLink(l.db.QueryRowContext(ctx, `
		select `+linkColumns+`
		from access_links
		where id = $1
	`, id))
	if errors.Is(err, sql.ErrNoRows) {
		return access.Link{}, access.ErrNotFound
	}
	return link, err
}

func (l *Links) LatestActive(ctx context.Context, purchaseID string) (access.Link, error) {
	if l.db == nil {
		return access.Link{}, errNoDB
	}
	link, err := scanLink(l.db.QueryRowContext(ctx, `
		select `+linkColumns+`
		from access_links
		where purchase_id = $1 and status = 'active'
		order by created_at desc, id desc
		limit 1
	`, purchaseID))
	if errors.Is(err, sql.ErrNoRows) {
		return access.Link{}, access.ErrNotFound
	}
	return link, err
}

func (l *Links) ListByPurchase(ctx context.Context, purchaseID string) ([]access.Link, error) {
	if l.db == nil {
		return nil, errNoDB
	}
	rows, err := l.db.QueryContext(ctx, `
		select `+linkColumns+`
		from access_links
		where purchase_id = $1
		order by created_at desc, id desc
	`, purchaseID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	out := make([]access.Link, 0)
	for rows.Next() {
		link, err := scanLink(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, link)
	}
	return out, rows.Err()
}

func (l *Links) Deactivate(ctx context.Context, id string) (access.Link, error) {
	if l.db == nil {
		return access.Link{}, errNoDB
	}
	link, err := scanLink(l.db.QueryRowContext(ctx, `
		update access_links set status = 'inactive'
		where id = $1 and status = 'active'
		returning `+linkColumns,
		id))
	if !errors.Is(err, sql.ErrNoRows) {
		return link, err
	}
	var one int
	err = l.db.QueryRowContext(ctx, `select 1 from access_links where id = $1`, id).Scan(&one)
	if errors.Is(err, sql.ErrNoRows) {
		return access.Link{}, access.ErrNotFound
	}
	if err != nil {
		return access.Link{}, err
	}
	return access.Link{}, access.ErrAlreadyInactive
}

func (l *Links) SweepExpired(ctx context.Context, now time.Time) (int64, error) {
	if l.db == nil {
		return 0, errNoDB
	}
	res, err := l.db.ExecContext(ctx, `
		update access_links set status = 'inactive'
		where status = 'active' and expires_at <= $1
	`, now)
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}

func scanLink(row rowScanner) (access.Link, error) {
	var (
		link   access.Link
		status string
	)
	if err := row.Scan(&link.ID, &link.PurchaseID, &link.UserID, &link.SessionURL,
		&link.ExpiresAt, &status, &link.Notes, &link.CreatedAt); err != nil {
		return access.Link{}, err
	}
	link.Status = access.Status(status)
	link.ExpiresAt = link.ExpiresAt.UTC()
	link.CreatedAt = link.CreatedAt.UTC()
	return link, nil
}
