package ledger

import (
	"context"
	"sort"
	"strings"
	"sync"
	"time"

	"consultdesk.app/internal/obs"
)

// Ledger is the only writer of credit balances.
//
// Debit must be a single conditional decrement: implementations never read
// the balance and write back a computed value. A missing balance row counts
// as zero, so Debit on it fails with ErrInsufficientCredits and GetBalance
// returns 0.
type Ledger interface {
	Debit(ctx context.Context, userID string, st ServiceType, amount int64) (Balance, error)
	Credit(ctx context.Context, userID string, st ServiceType, amount int64) (Balance, error)
	GetBalance(ctx context.Context, userID string, st ServiceType) (Balance, error)
	ListBalances(ctx context.Context, userID string) ([]Balance, error)
}

type balanceKey struct {
	user string
	st   ServiceType
}

// InMemory implements Ledger with in-process concurrency safety.
type InMemory struct {
	mu       sync.Mutex
	balances map[balanceKey]*Balance
	now      func() time.Time
}

var _ Ledger = (*InMemory)(nil)

// NewInMemory creates an empty ledger.
func NewInMemory() *InMemory {
	return &InMemory{
		balances: make(map[balanceKey]*Balance),
		now:      func() time.Time { return time.Now().UTC() },
	}
}

func (l *InMemory) Debit(ctx context.Context, userID string, st ServiceType, amount int64) (Balance, error) {
	if err := Validate(userID, st, amount); err != nil {
		return Balance{}, err
	}
	l.mu.Lock()
	defer l.mu.Unlock()

	b, ok := l.balances[balanceKey{userID, st}]
	if !ok || b.Amount < amount {
		obs.LedgerOp("debit", "insufficient")
		return Balance{}, ErrInsufficientCredits
	}
	b.Amount -= amount
	b.UpdatedAt = l.now()
	obs.LedgerOp("debit", "ok")
	return *b, nil
}

func (l *InMemory) Credit(ctx context.Context, userID string, st ServiceType, amount int64) (Balance, error) {
	if err := Validate(userID, st, amount); err != nil {
		return Balance{}, err
	}
	l.mu.Lock()
	defer l.mu.Unlock()

	key := balanceKey{userID, st}
	b, ok := l.balances[key]
	if !ok {
		b = &Balance{UserID: userID, ServiceType: st}
		l.balances[key] = b
	}
	b.Amount += amount
	b.UpdatedAt = l.now()
	obs.LedgerOp("credit", "ok")
	return *b, nil
}

func (l *InMemory) GetBalance(ctx context.Context, userID string, st ServiceType) (Balance, error) {
	if strings.TrimSpace(userID) == "" {
		return Balance{}, ErrInvalidUser
	}
	if !st.Valid() {
		return Balance{}, ErrInvalidServiceType
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	if b, ok := l.balances[balanceKey{userID, st}]; ok {
		return *b, nil
	}
	return Balance{UserID: userID, ServiceType: st}, nil
}

func (l *InMemory) ListBalances(ctx context.Context, userID string) ([]Balance, error) {
	if strings.TrimSpace(userID) == "" {
		return nil, ErrInvalidUser
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	var out []Balance
	for k, b := range l.balances {
		if k.user == userID {
			out = append(out, *b)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ServiceType < out[j].ServiceType })
	return out, nil
}
