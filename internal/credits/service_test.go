package credits

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"

	"consultdesk.app/internal/events"
	"consultdesk.app/internal/ledger"
)

type recorder struct {
	mu     sync.Mutex
	events []events.Event
}

func (r *recorder) Publish(_ context.Context, ev events.Event) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, ev)
	return nil
}

func (r *recorder) types() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]string, len(r.events))
	for i, ev := range r.events {
		out[i] = ev.Type
	}
	return out
}

type brokenLedger struct {
	ledger.Ledger
	credits atomic.Int32
}

func (b *brokenLedger) Credit(context.Context, string, ledger.ServiceType, int64) (ledger.Balance, error) {
	b.credits.Add(1)
	return ledger.Balance{}, errors.New("connection reset")
}

func newService() (*Service, *ledger.InMemory, *recorder) {
	l := ledger.NewInMemory()
	rec := &recorder{}
	return NewService(NewMemoryStore(), l, rec), l, rec
}

func balance(t *testing.T, l ledger.Ledger, user string, st ledger.ServiceType) int64 {
	t.Helper()
	b, err := l.GetBalance(context.Background(), user, st)
	if err != nil {
		t.Fatalf("GetBalance: %v", err)
	}
	return b.Amount
}

func TestApproveCreditsLedger(t *testing.T) {
	ctx := context.Background()
	svc, l, rec := newService()

	req, err := svc.Submit(ctx, "u1", ledger.ServiceCoaching, 20)
	if err != nil {
		t.Fatalf("Submit: %v", err)
	}
	if req.Status != StatusPending {
		t.Fatalf("status=%s", req.Status)
	}
	got, err := svc.Approve(ctx, req.ID, "admin", "paid by invoice")
	if err != nil {
		t.Fatalf("Approve: %v", err)
	}
	if got.Status != StatusApproved || got.AdminID != "admin" || got.AdminNotes != "paid by invoice" {
		t.Fatalf("unexpected request: %+v", got)
	}
	if b := balance(t, l, "u1", ledger.ServiceCoaching); b != 20 {
		t.Fatalf("balance=%d want 20", b)
	}
	if types := rec.types(); len(types) != 1 || types[0] != events.CreditRequestApproved {
		t.Fatalf("events=%v", types)
	}
}

func TestApproveTwiceCreditsOnce(t *testing.T) {
	ctx := context.Background()
	svc, l, _ := newService()
	req, _ := svc.Submit(ctx, "u1", ledger.ServiceConsultation, 5)

	if _, err := svc.Approve(ctx, req.ID, "a1", ""); err != nil {
		t.Fatalf("first approve: %v", err)
	}
	if _, err := svc.Approve(ctx, req.ID, "a2", ""); !errors.Is(err, ErrInvalidState) {
		t.Fatalf("second approve err=%v want ErrInvalidState", err)
	}
	if b := balance(t, l, "u1", ledger.ServiceConsultation); b != 5 {
		t.Fatalf("balance=%d want 5", b)
	}
}

func TestRacingApprovalsCreditOnce(t *testing.T) {
	ctx := context.Background()
	svc, l, _ := newService()
	req, _ := svc.Submit(ctx, "u1", ledger.ServiceConsultation, 7)

	var wg sync.WaitGroup
	var ok, invalid atomic.Int32
	for i := 0; i < 16; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := svc.Approve(ctx, req.ID, "admin", "")
			switch {
			case err == nil:
				ok.Add(1)
			case errors.Is(err, ErrInvalidState):
				invalid.Add(1)
			default:
				t.Errorf("unexpected error: %v", err)
			}
		}()
	}
	wg.Wait()
	if ok.Load() != 1 || invalid.Load() != 15 {
		t.Fatalf("ok=%d invalid=%d", ok.Load(), invalid.Load())
	}
	if b := balance(t, l, "u1", ledger.ServiceConsultation); b != 7 {
		t.Fatalf("balance=%d want 7", b)
	}
}

func TestRejectThenApprove(t *testing.T) {
	ctx := context.Background()
	svc, l, rec := newService()
	req, _ := svc.Submit(ctx, "u1", ledger.ServiceProgram, 20)

	got, err := svc.Reject(ctx, req.ID, "admin", "no payment")
	if err != nil {
		t.Fatalf("Reject: %v", err)
	}
	if got.Status != StatusRejected {
		t.Fatalf("status=%s", got.Status)
	}
	if _, err := svc.Approve(ctx, req.ID, "admin", ""); !errors.Is(err, ErrInvalidState) {
		t.Fatalf("approve after reject err=%v", err)
	}
	if _, err := svc.Reject(ctx, req.ID, "admin", ""); !errors.Is(err, ErrInvalidState) {
		t.Fatalf("reject twice err=%v", err)
	}
	if b := balance(t, l, "u1", ledger.ServiceProgram); b != 0 {
		t.Fatalf("balance=%d want 0", b)
	}
	stored, _ := svc.Get(ctx, req.ID)
	if stored.Status != StatusRejected {
		t.Fatalf("stored status=%s", stored.Status)
	}
	if types := rec.types(); len(types) != 1 || types[0] != events.CreditRequestRejected {
		t.Fatalf("events=%v", types)
	}
}

func TestApproveStaysApprovedWhenCreditFails(t *testing.T) {
	ctx := context.Background()
	bl := &brokenLedger{Ledger: ledger.NewInMemory()}
	store := NewMemoryStore()
	rec := &recorder{}
	svc := NewService(store, bl, rec)
	req, _ := svc.Submit(ctx, "u1", ledger.ServiceTool, 3)

	got, err := svc.Approve(ctx, req.ID, "admin", "")
	if err == nil {
		t.Fatal("expected approve to fail")
	}
	if got.Status != StatusApproved {
		t.Fatalf("returned status=%s want approved", got.Status)
	}
	stored, _ := store.Get(ctx, req.ID)
	if stored.Status != StatusApproved {
		t.Fatalf("stored status=%s want approved", stored.Status)
	}
	if len(rec.types()) != 0 {
		t.Fatalf("no event expected, got %v", rec.types())
	}
	if _, err := svc.Approve(ctx, req.ID, "admin", ""); !errors.Is(err, ErrInvalidState) {
		t.Fatalf("second approve err=%v want ErrInvalidState", err)
	}
	if bl.credits.Load() != 1 {
		t.Fatalf("credit attempts=%d", bl.credits.Load())
	}
}

// timeoutAfterCommit applies the credit and then reports a transport error,
// like a database round trip that times out after the commit.
type timeoutAfterCommit struct {
	*ledger.InMemory
}

func (l timeoutAfterCommit) Credit(ctx context.Context, userID string, st ledger.ServiceType, amount int64) (ledger.Balance, error) {
	if _, err := l.InMemory.Credit(ctx, userID, st, amount); err != nil {
		return ledger.Balance{}, err
	}
	return ledger.Balance{}, errors.New("i/o timeout")
}

func TestApproveAfterAmbiguousCreditDoesNotCreditAgain(t *testing.T) {
	ctx := context.Background()
	mem := ledger.NewInMemory()
	svc := NewService(NewMemoryStore(), timeoutAfterCommit{mem}, nil)
	req, _ := svc.Submit(ctx, "u1", ledger.ServiceConsultation, 20)

	if _, err := svc.Approve(ctx, req.ID, "admin", ""); err == nil {
		t.Fatal("expected the first approve to report the timeout")
	}
	if _, err := svc.Approve(ctx, req.ID, "admin", ""); !errors.Is(err, ErrInvalidState) {
		t.Fatalf("second approve err=%v want ErrInvalidState", err)
	}
	if _, err := svc.Reject(ctx, req.ID, "admin", ""); !errors.Is(err, ErrInvalidState) {
		t.Fatalf("reject after approve err=%v want ErrInvalidState", err)
	}
	if b := balance(t, mem, "u1", ledger.ServiceConsultation); b != 20 {
		t.Fatalf("balance=%d want 20", b)
	}
}

func TestSubmitValidation(t *testing.T) {
	svc, _, _ := newService()
	ctx := context.Background()
	cases := []struct {
		user   string
		st     ledger.ServiceType
		amount int64
		want   error
	}{
		{"", ledger.ServiceConsultation, 1, ErrInvalidRequest},
		{"u1", ledger.ServiceConsultation, 0, ErrInvalidRequest},
		{"u1", ledger.ServiceConsultation, -4, ErrInvalidRequest},
		{"u1", "massage", 1, ledger.ErrInvalidServiceType},
	}
	for _, tc := range cases {
		if _, err := svc.Submit(ctx, tc.user, tc.st, tc.amount); !errors.Is(err, tc.want) {
			t.Fatalf("Submit(%q,%q,%d) err=%v want %v", tc.user, tc.st, tc.amount, err, tc.want)
		}
	}
	if _, err := svc.Approve(ctx, "missing", "admin", ""); !errors.Is(err, ErrNotFound) {
		t.Fatalf("approve missing err=%v", err)
	}
	if _, err := svc.Approve(ctx, "x", " ", ""); !errors.Is(err, ErrInvalidRequest) {
		t.Fatalf("approve without admin err=%v", err)
	}
}

func TestListings(t *testing.T) {
	ctx := context.Background()
	svc, _, _ := newService()
	a, _ := svc.Submit(ctx, "u1", ledger.ServiceConsultation, 1)
	b, _ := svc.Submit(ctx, "u1", ledger.ServiceCoaching, 2)
	c, _ := svc.Submit(ctx, "u2", ledger.ServiceCoaching, 3)
	if _, err := svc.Approve(ctx, c.ID, "admin", ""); err != nil {
		t.Fatal(err)
	}

	mine, err := svc.ListForUser(ctx, "u1")
	if err != nil {
		t.Fatal(err)
	}
	if len(mine) != 2 || mine[0].ID != b.ID || mine[1].ID != a.ID {
		t.Fatalf("ListForUser order: %+v", mine)
	}
	pending, _ := svc.ListByStatus(ctx, StatusPending)
	if len(pending) != 2 {
		t.Fatalf("pending=%d want 2", len(pending))
	}
	all, _ := svc.ListByStatus(ctx, "")
	if len(all) != 3 {
		t.Fatalf("all=%d want 3", len(all))
	}
}

func TestParseStatus(t *testing.T) {
	if s, err := ParseStatus("approved"); err != nil || !s.Terminal() {
		t.Fatalf("ParseStatus approved: %v %v", s, err)
	}
	if s, _ := ParseStatus("pending"); s.Terminal() {
		t.Fatal("pending must not be terminal")
	}
	if _, err := ParseStatus("done"); !errors.Is(err, ErrInvalidRequest) {
		t.Fatalf("err=%v", err)
	}
}
