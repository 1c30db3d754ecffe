package credits

import (
	"context"
	"sort"
	"sync"
	"time"
)

// MemoryStore is a Repository held in process memory.
type MemoryStore struct {
	mu   sync.Mutex
	reqs map[string]Request
	now  func() time.Time
}

var _ Repository = (*MemoryStore)(nil)

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		reqs: make(map[string]Request),
		now:  func() time.Time { return time.Now().UTC() },
	}
}

func (m *MemoryStore) Create(ctx context.Context, r Request) (Request, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.reqs[r.ID] = r
	return r, nil
}

func (m *MemoryStore) Get(ctx context.Context, id string) (Request, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	r, ok := m.reqs[id]
	if !ok {
		return Request{}, ErrNotFound
	}
	return r, nil
}

func (m *MemoryStore) ListByUser(ctx context.Context, userID string) ([]Request, error) {
	return m.filter(func(r Request) bool { return r.UserID == userID }), nil
}

func (m *MemoryStore) ListByStatus(ctx context.Context, status Status) ([]Request, error) {
	return m.filter(func(r Request) bool { return status == "" || r.Status == status }), nil
}

func (m *MemoryStore) Transition(ctx context.Context, id string, from, to Status, adminID, notes string) (Request, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	r, ok := m.reqs[id]
	if !ok {
		return Request{}, ErrNotFound
	}
	if r.Status != from {
		return Request{}, ErrInvalidState
	}
	r.Status = to
	r.AdminID = adminID
	r.AdminNotes = notes
	r.UpdatedAt = m.now()
	m.reqs[id] = r
	return r, nil
}

// filter returns matches newest first.
func (m *MemoryStore) filter(keep func(Request) bool) []Request {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]Request, 0)
	for _, r := range m.reqs {
		if keep(r) {
			out = append(out, r)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID > out[j].ID })
	return out
}
