package access

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"consultdesk.app/internal/booking"
	"consultdesk.app/internal/catalog"
	"consultdesk.app/internal/ledger"
)

type fixture struct {
	issuer   *Issuer
	store    *MemoryStore
	engine   *booking.Engine
	purchase booking.Purchase
	clock    time.Time
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	ctx := context.Background()
	l := ledger.NewInMemory()
	if _, err := l.Credit(ctx, "u1", ledger.ServiceConsultation, 10); err != nil {
		t.Fatal(err)
	}
	cat := catalog.NewInMemory(catalog.Item{
		ID:              "s1",
		Kind:            catalog.KindSession,
		ServiceType:     ledger.ServiceConsultation,
		CreditsRequired: 2,
		IsActive:        true,
		AllowRebook:     true,
	})
	bs := booking.NewMemoryStore()
	eng := booking.NewEngine(cat, l, bs, bs, nil)
	p, err := eng.CreatePurchase(ctx, "u1", "s1")
	if err != nil {
		t.Fatalf("CreatePurchase: %v", err)
	}
	f := &fixture{
		store:    NewMemoryStore(),
		engine:   eng,
		purchase: p,
		clock:    time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC),
	}
	f.issuer = NewIssuer(f.store, eng, nil)
	f.issuer.now = func() time.Time { return f.clock }
	return f
}

func activeCount(t *testing.T, s *MemoryStore, purchaseID string) int {
	t.Helper()
	links, err := s.ListByPurchase(context.Background(), purchaseID)
	if err != nil {
		t.Fatal(err)
	}
	n := 0
	for _, l := range links {
		if l.Status == StatusActive {
			n++
		}
	}
	return n
}

func TestIssueSupersedesPreviousLink(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	exp := f.clock.Add(time.Hour)

	first, err := f.issuer.IssueLink(ctx, f.purchase.ID, "https://meet.example.com/a", exp, "first")
	if err != nil {
		t.Fatalf("IssueLink: %v", err)
	}
	if first.UserID != "u1" || first.Status != StatusActive {
		t.Fatalf("unexpected link: %+v", first)
	}
	second, err := f.issuer.IssueLink(ctx, f.purchase.ID, "https://meet.example.com/b", exp, "")
	if err != nil {
		t.Fatalf("IssueLink: %v", err)
	}
	if n := activeCount(t, f.store, f.purchase.ID); n != 1 {
		t.Fatalf("active links=%d want 1", n)
	}
	got, err := f.issuer.GetActiveLink(ctx, f.purchase.ID)
	if err != nil {
		t.Fatalf("GetActiveLink: %v", err)
	}
	if got.ID != second.ID || got.SessionURL != "https://meet.example.com/b" {
		t.Fatalf("active link=%+v want %s", got, second.ID)
	}
	old, _ := f.store.Get(ctx, first.ID)
	if old.Status != StatusInactive {
		t.Fatalf("first link status=%s", old.Status)
	}
}

func TestConcurrentIssueLeavesOneActive(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	exp := f.clock.Add(time.Hour)

	var wg sync.WaitGroup
	for n := 0; n < 10; n++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := f.issuer.IssueLink(ctx, f.purchase.ID, "https://meet.example.com/x", exp, "")
			if err != nil && !errors.Is(err, ErrActiveLinkExists) {
				t.Errorf("unexpected error: %v", err)
			}
		}()
	}
	wg.Wait()
	if n := activeCount(t, f.store, f.purchase.ID); n != 1 {
		t.Fatalf("active links=%d want 1", n)
	}
}

func TestExpiredLinkIsNotActive(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	link, err := f.issuer.IssueLink(ctx, f.purchase.ID, "https://meet.example.com/a", f.clock.Add(30*time.Minute), "")
	if err != nil {
		t.Fatal(err)
	}
	f.clock = f.clock.Add(time.Hour)

	if _, err := f.issuer.GetActiveLink(ctx, f.purchase.ID); !errors.Is(err, ErrNotFound) {
		t.Fatalf("err=%v want ErrNotFound for expired link", err)
	}
	stored, _ := f.store.Get(ctx, link.ID)
	if stored.Status != StatusActive {
		t.Fatalf("stored status=%s, expiry must not be written on read", stored.Status)
	}
	links, _ := f.issuer.ListLinks(ctx, f.purchase.ID)
	if len(links) != 1 || links[0].EffectiveStatus != StatusExpired {
		t.Fatalf("links=%+v", links)
	}

	n, err := f.issuer.SweepExpired(ctx)
	if err != nil || n != 1 {
		t.Fatalf("SweepExpired=%d,%v", n, err)
	}
	swept, _ := f.issuer.GetLink(ctx, link.ID)
	if swept.Status != StatusInactive || swept.EffectiveStatus != StatusInactive {
		t.Fatalf("swept link=%+v", swept)
	}
}

func TestDeactivateLink(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	link, _ := f.issuer.IssueLink(ctx, f.purchase.ID, "https://meet.example.com/a", f.clock.Add(time.Hour), "")

	off, err := f.issuer.DeactivateLink(ctx, link.ID)
	if err != nil {
		t.Fatalf("DeactivateLink: %v", err)
	}
	if off.Status != StatusInactive {
		t.Fatalf("status=%s", off.Status)
	}
	if _, err := f.issuer.DeactivateLink(ctx, link.ID); !errors.Is(err, ErrAlreadyInactive) {
		t.Fatalf("second deactivate err=%v", err)
	}
	if _, err := f.issuer.GetActiveLink(ctx, f.purchase.ID); !errors.Is(err, ErrNotFound) {
		t.Fatalf("err=%v want ErrNotFound", err)
	}
	if _, err := f.issuer.DeactivateLink(ctx, "missing"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("missing err=%v", err)
	}
}

func TestIssueLinkValidation(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	exp := f.clock.Add(time.Hour)

	cases := []struct {
		name     string
		purchase string
		url      string
		expires  time.Time
		want     error
	}{
		{"bad scheme", f.purchase.ID, "ftp://files.example.com", exp, ErrInvalidLink},
		{"no host", f.purchase.ID, "https://", exp, ErrInvalidLink},
		{"past expiry", f.purchase.ID, "https://meet.example.com/a", f.clock.Add(-time.Minute), ErrInvalidLink},
		{"empty purchase", "", "https://meet.example.com/a", exp, ErrInvalidLink},
		{"unknown purchase", "nope", "https://meet.example.com/a", exp, ErrNotFound},
	}
	for _, tc := range cases {
		if _, err := f.issuer.IssueLink(ctx, tc.purchase, tc.url, tc.expires, ""); !errors.Is(err, tc.want) {
			t.Fatalf("%s: err=%v want %v", tc.name, err, tc.want)
		}
	}

	if _, err := f.engine.CancelPurchase(ctx, f.purchase.ID); err != nil {
		t.Fatal(err)
	}
	if _, err := f.issuer.IssueLink(ctx, f.purchase.ID, "https://meet.example.com/a", exp, ""); !errors.Is(err, ErrPurchaseNotActive) {
		t.Fatalf("cancelled purchase err=%v", err)
	}
}

type racingStore struct {
	*MemoryStore
	losses int
}

func (r *racingStore) Insert(ctx context.Context, l Link) (Link, error) {
	if r.losses > 0 {
		r.losses--
		return Link{}, ErrActiveLinkExists
	}
	return r.MemoryStore.Insert(ctx, l)
}

func TestIssueRetriesLostInsert(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	rs := &racingStore{MemoryStore: f.store, losses: 2}
	iss := NewIssuer(rs, f.engine, nil)
	iss.now = func() time.Time { return f.clock }

	if _, err := iss.IssueLink(ctx, f.purchase.ID, "https://meet.example.com/a", f.clock.Add(time.Hour), ""); err != nil {
		t.Fatalf("expected success on third attempt: %v", err)
	}
	rs.losses = issueAttempts
	if _, err := iss.IssueLink(ctx, f.purchase.ID, "https://meet.example.com/a", f.clock.Add(time.Hour), ""); !errors.Is(err, ErrActiveLinkExists) {
		t.Fatalf("err=%v want ErrActiveLinkExists after exhausting attempts", err)
	}
}

func TestCancelledPurchaseHidesActiveLink(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	if _, err := f.issuer.IssueLink(ctx, f.purchase.ID, "https://meet.example.com/x", f.clock.Add(time.Hour), ""); err != nil {
		t.Fatalf("IssueLink: %v", err)
	}
	if _, err := f.engine.CancelPurchase(ctx, f.purchase.ID); err != nil {
		t.Fatalf("CancelPurchase: %v", err)
	}
	// No cancel hook here: the stored link stays active, reads must still refuse it.
	if n := activeCount(t, f.store, f.purchase.ID); n != 1 {
		t.Fatalf("active links=%d want 1", n)
	}
	if _, err := f.issuer.GetActiveLink(ctx, f.purchase.ID); !errors.Is(err, ErrNotFound) {
		t.Fatalf("GetActiveLink err=%v want ErrNotFound", err)
	}
}

func TestCancelHookRevokesLinks(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	f.engine.OnPurchaseCancelled(f.issuer.RevokeForPurchase)
	if _, err := f.issuer.IssueLink(ctx, f.purchase.ID, "https://meet.example.com/x", f.clock.Add(time.Hour), ""); err != nil {
		t.Fatalf("IssueLink: %v", err)
	}
	p, err := f.engine.CancelPurchase(ctx, f.purchase.ID)
	if err != nil {
		t.Fatalf("CancelPurchase: %v", err)
	}
	if p.Status != booking.StatusCancelled {
		t.Fatalf("status=%s", p.Status)
	}
	if n := activeCount(t, f.store, f.purchase.ID); n != 0 {
		t.Fatalf("active links=%d want 0 after cancel", n)
	}
	if _, err := f.issuer.GetActiveLink(ctx, f.purchase.ID); !errors.Is(err, ErrNotFound) {
		t.Fatalf("GetActiveLink err=%v want ErrNotFound", err)
	}
}
