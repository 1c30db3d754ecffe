// Package catalog describes the sessions, programs and tools that can be
// booked or purchased. The booking core only reads it.
package catalog

import (
	"context"
	"errors"
	"strings"
	"sync"

	"consultdesk.app/internal/ledger"
)

// Kind distinguishes catalog item families.
type Kind string

const (
	KindSession Kind = "session"
	KindProgram Kind = "program"
	KindTool    Kind = "tool"
)

// Item is a bookable or purchasable catalog entry. CreditsRequired is spent
// from the ServiceType balance; PriceCents is the list price in minor units.
type Item struct {
	ID              string             `json:"id"`
	Kind            Kind               `json:"kind"`
	Title           string             `json:"title"`
	ServiceType     ledger.ServiceType `json:"service_type"`
	CreditsRequired int64              `json:"credits_required"`
	PriceCents      int64              `json:"price_cents"`
	IsActive        bool               `json:"is_active"`
	AllowRebook     bool               `json:"allow_rebook"`
}

var ErrNotFound = errors.New("catalog item not found")

// Reader is the catalog interface consumed by the booking engine.
type Reader interface {
	GetItem(ctx context.Context, id string) (Item, error)
}

// InMemory is a Reader backed by a map. Put is used by tests and local runs.
type InMemory struct {
	mu    sync.RWMutex
	items map[string]Item
}

var _ Reader = (*InMemory)(nil)

func NewInMemory(items ...Item) *InMemory {
	c := &InMemory{items: make(map[string]Item, len(items))}
	for _, it := range items {
		c.items[it.ID] = it
	}
	return c
}

// Put inserts or replaces an item.
func (c *InMemory) Put(it Item) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.items[it.ID] = it
}

func (c *InMemory) GetItem(ctx context.Context, id string) (Item, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	it, ok := c.items[strings.TrimSpace(id)]
	if !ok {
		return Item{}, ErrNotFound
	}
	return it, nil
}
