package access

import (
	"context"
	"sort"
	"sync"
	"time"
)

// MemoryStore is a Repository held in process memory.
type MemoryStore struct {
	mu    sync.Mutex
	links map[string]Link
}

var _ Repository = (*MemoryStore)(nil)

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{links: make(map[string]Link)}
}

func (m *MemoryStore) DeactivateAll(ctx context.Context, purchaseID string) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var n int64
	for id, l := range m.links {
		if l.PurchaseID == purchaseID && l.Status == StatusActive {
			l.Status = StatusInactive
			m.links[id] = l
			n++
		}
	}
	return n, nil
}

func (m *MemoryStore) Insert(ctx context.Context, l Link) (Link, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if l.Status == StatusActive {
		for _, cur := range m.links {
			if cur.PurchaseID == l.PurchaseID && cur.Status == StatusActive {
				return Link{}, ErrActiveLinkExists
			}
		}
	}
	m.links[l.ID] = l
	return l, nil
}

func (m *MemoryStore) Get(ctx context.Context, id string) (Link, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	l, ok := m.links[id]
	if !ok {
		return Link{}, ErrNotFound
	}
	return l, nil
}

func (m *MemoryStore) LatestActive(ctx context.Context, purchaseID string) (Link, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var latest Link
	found := false
	for _, l := range m.links {
		if l.PurchaseID == purchaseID && l.Status == StatusActive && (!found || l.ID > latest.ID) {
			latest, found = l, true
		}
	}
	if !found {
		return Link{}, ErrNotFound
	}
	return latest, nil
}

func (m *MemoryStore) ListByPurchase(ctx context.Context, purchaseID string) ([]Link, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]Link, 0)
	for _, l := range m.links {
		if l.PurchaseID == purchaseID {
			out = append(out, l)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID > out[j].ID })
	return out, nil
}

func (m *MemoryStore) Deactivate(ctx context.Context, id string) (Link, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	l, ok := m.links[id]
	if !ok {
		return Link{}, ErrNotFound
	}
	if l.Status != StatusActive {
		return Link{}, ErrAlreadyInactive
	}
	l.Status = StatusInactive
	m.links[id] = l
	return l, nil
}

func (m *MemoryStore) SweepExpired(ctx context.Context, now time.Time) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var n int64
	for id, l := range m.links {
		if l.Status == StatusActive && !now.Before(l.ExpiresAt) {
			l.Status = StatusInactive
			m.links[id] = l
			n++
		}
	}
	return n, nil
}
