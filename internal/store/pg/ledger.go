package pg

import (
	"context"
	"database/sql"
	"errors"
	"strings"

	"consultdesk.app/internal/ledger"
	"consultdesk.app/internal/obs"
)

var _ ledger.Ledger = (*Store)(nil)

// Debit decrements the balance in one conditional update. No row comes back
// when the balance row is missing or too small.
func (s *Store) Debit(ctx context.Context, userID string, st ledger.ServiceType, amount int64) (ledger.Balance, error) {
	if err := ledger.Validate(userID, st, amount); err != nil {
		return ledger.Balance{}, err
	}
	if s.db == nil {
		return ledger.Balance{}, errNoDB
	}
	b, err := scanBalance(s.db.QueryRowContext(ctx, `
		update credit_balances
		set amount = amount - $3, updated_at = now()
		where user_id = $1 and service_type = $2 and amount >= $3
		returning user_id, service_type, amount, updated_at
	`, userID, string(st), amount))
	if errors.Is(err, sql.ErrNoRows) {
		obs.LedgerOp("debit", "insufficient")
		return ledger.Balance{}, ledger.ErrInsufficientCredits
	}
	if err != nil {
		obs.LedgerOp("debit", "error")
		return ledger.Balance{}, err
	}
	obs.LedgerOp("debit", "ok")
	return b, nil
}

// Credit increments the balance, creating the row on first use.
func (s *Store) Credit(ctx context.Context, userID string, st ledger.ServiceType, amount int64) (ledger.Balance, error) {
	if err := ledger.Validate(userID, st, amount); err != nil {
		return ledger.Balance{}, err
	}
	if s.db == nil {
		return ledger.Balance{}, errNoDB
	}
	b, err := scanBalance(s.db.QueryRowContext(ctx, `
		insert into credit_balances (user_id, service_type, amount, updated_at)
		values ($1, $2, $3, now())
		on conflict (user_id, service_type) do update
		set amount = credit_balances.amount + excluded.amount, updated_at = now()
		returning user_id, service_type, amount, updated_at
	`, userID, string(st), amount))
	if err != nil {
		obs.LedgerOp("credit", "error")
		return ledger.Balance{}, err
	}
	obs.LedgerOp("credit", "ok")
	return b, nil
}

func (s *Store) GetBalance(ctx context.Context, userID string, st ledger.ServiceType) (ledger.Balance, error) {
	if strings.TrimSpace(userID) == "" {
		return ledger.Balance{}, ledger.ErrInvalidUser
	}
	if !st.Valid() {
		return ledger.Balance{}, ledger.ErrInvalidServiceType
	}
	if s.db == nil {
		return ledger.Balance{}, errNoDB
	}
	b, err := scanBalance(s.db.QueryRowContext(ctx, `
		select user_id, service_type, amount, updated_at
		from credit_balances
		where user_id = $1 and service_type = $2
	`, userID, string(st)))
	if errors.Is(err, sql.ErrNoRows) {
		return ledger.Balance{UserID: userID, ServiceType: st}, nil
	}
	return b, err
}

func (s *Store) ListBalances(ctx context.Context, userID string) ([]ledger.Balance, error) {
	if strings.TrimSpace(userID) == "" {
		return nil, ledger.ErrInvalidUser
	}
	if s.db == nil {
		return nil, errNoDB
	}
	rows, err := s.db.QueryContext(ctx, `
		select user_id, service_type, amount, updated_at
		from credit_balances
		where user_id = $1
		order by service_type
	`, userID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []ledger.Balance
	for rows.Next() {
		b, err := scanBalance(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, b)
	}
	return out, rows.Err()
}

func scanBalance(row rowScanner) (ledger.Balance, error) {
	var (
		b  ledger.Balance
		st string
	)
	if err := row.Scan(&b.UserID, &st, &b.Amount, &b.UpdatedAt); err != nil {
		return ledger.Balance{}, err
	}
	b.ServiceType = ledger.ServiceType(st)
	b.UpdatedAt = b.UpdatedAt.UTC()
	return b, nil
}
