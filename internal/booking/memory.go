package booking

import (
	"context"
	"sort"
	"sync"
	"time"
)

// MemoryStore implements BookingRepository and PurchaseRepository in memory.
// The uniqueness rule for active records is checked under the same lock as
// the insert.
type MemoryStore struct {
	mu        sync.Mutex
	bookings  map[string]Booking
	purchases map[string]Purchase
}

var (
	_ BookingRepository  = (*MemoryStore)(nil)
	_ PurchaseRepository = (*MemoryStore)(nil)
)

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		bookings:  make(map[string]Booking),
		purchases: make(map[string]Purchase),
	}
}

func (m *MemoryStore) InsertBooking(ctx context.Context, b Booking) (Booking, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, cur := range m.bookings {
		if cur.UserID == b.UserID && cur.ItemID == b.ItemID && cur.Status == StatusBooked {
			return Booking{}, ErrAlreadyBooked
		}
	}
	m.bookings[b.ID] = b
	return b, nil
}

func (m *MemoryStore) GetBooking(ctx context.Context, id string) (Booking, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	b, ok := m.bookings[id]
	if !ok {
		return Booking{}, ErrNotFound
	}
	return b, nil
}

func (m *MemoryStore) ListBookings(ctx context.Context, userID string) ([]Booking, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]Booking, 0)
	for _, b := range m.bookings {
		if b.UserID == userID {
			out = append(out, b)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID > out[j].ID })
	return out, nil
}

func (m *MemoryStore) HasActiveBooking(ctx context.Context, userID, itemID string) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, b := range m.bookings {
		if b.UserID == userID && b.ItemID == itemID && b.Status == StatusBooked {
			return true, nil
		}
	}
	return false, nil
}

func (m *MemoryStore) LastCancelledBooking(ctx context.Context, userID, itemID string) (Booking, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var last Booking
	found := false
	for _, b := range m.bookings {
		if b.UserID == userID && b.ItemID == itemID && b.Status == StatusCancelled {
			if !found || b.ID > last.ID {
				last, found = b, true
			}
		}
	}
	if !found {
		return Booking{}, ErrNotFound
	}
	return last, nil
}

func (m *MemoryStore) CancelBooking(ctx context.Context, id string, at time.Time, canRebook bool) (Booking, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	b, ok := m.bookings[id]
	if !ok {
		return Booking{}, ErrNotFound
	}
	if b.Status != StatusBooked {
		return Booking{}, ErrAlreadyCancelled
	}
	b.Status = StatusCancelled
	b.CancellationDate = &at
	b.CanRebook = canRebook
	m.bookings[id] = b
	return b, nil
}

func (m *MemoryStore) InsertPurchase(ctx context.Context, p Purchase) (Purchase, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, cur := range m.purchases {
		if cur.UserID == p.UserID && cur.ItemID == p.ItemID && cur.Status == StatusPurchased {
			return Purchase{}, ErrAlreadyBooked
		}
	}
	m.purchases[p.ID] = p
	return p, nil
}

func (m *MemoryStore) GetPurchase(ctx context.Context, id string) (Purchase, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	p, ok := m.purchases[id]
	if !ok {
		return Purchase{}, ErrNotFound
	}
	return p, nil
}

func (m *MemoryStore) ListPurchases(ctx context.Context, userID string) ([]Purchase, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]Purchase, 0)
	for _, p := range m.purchases {
		if p.UserID == userID {
			out = append(out, p)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID > out[j].ID })
	return out, nil
}

func (m *MemoryStore) HasActivePurchase(ctx context.Context, userID, itemID string) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, p := range m.purchases {
		if p.UserID == userID && p.ItemID == itemID && p.Status == StatusPurchased {
			return true, nil
		}
	}
	return false, nil
}

func (m *MemoryStore) LastCancelledPurchase(ctx context.Context, userID, itemID string) (Purchase, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var last Purchase
	found := false
	for _, p := range m.purchases {
		if p.UserID == userID && p.ItemID == itemID && p.Status == StatusCancelled {
			if !found || p.ID > last.ID {
				last, found = p, true
			}
		}
	}
	if !found {
		return Purchase{}, ErrNotFound
	}
	return last, nil
}

func (m *MemoryStore) CancelPurchase(ctx context.Context, id string, at time.Time, canRebook bool) (Purchase, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	p, ok := m.purchases[id]
	if !ok {
		return Purchase{}, ErrNotFound
	}
	if p.Status != StatusPurchased {
		return Purchase{}, ErrAlreadyCancelled
	}
	p.Status = StatusCancelled
	p.CancellationDate = &at
	p.CanRebook = canRebook
	m.purchases[id] = p
	return p, nil
}
