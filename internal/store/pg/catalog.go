package pg

import (
	"context"
	"database/sql"
	"errors"

	"consultdesk.app/internal/catalog"
	"consultdesk.app/internal/ledger"
)

var _ catalog.Reader = (*Store)(nil)

func (s *Store) GetItem(ctx context.Context, id string) (catalog.Item, error) {
	if s.db == nil {
		return catalog.Item{}, errNoDB
	}
	var (
		it       catalog.Item
		kind, st string
	)
	err := s.db.QueryRowContext(ctx, `
		select id, kind, title, service_type, credits_required, price_cents, is_active, allow_rebook
		from catalog_items
		where id = $1
	`, id).Scan(&it.ID, &kind, &it.Title, &st, &it.CreditsRequired, &it.PriceCents, &it.IsActive, &it.AllowRebook)
	if errors.Is(err, sql.ErrNoRows) {
		return catalog.Item{}, catalog.ErrNotFound
	}
	if err != nil {
		return catalog.Item{}, err
	}
	it.Kind = catalog.Kind(kind)
	it.ServiceType = ledger.ServiceType(st)
	return it, nil
}
