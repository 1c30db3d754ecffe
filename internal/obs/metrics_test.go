package obs

import (
	"bytes"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus/testutil"
)

func TestInstrumentUsesRoutePattern(t *testing.T) {
	r := chi.NewRouter()
	r.Use(Instrument)
	r.Get("/v1/bookings/{id}", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	})

	counter := httpRequestsTotal.WithLabelValues(http.MethodGet, "/v1/bookings/{id}", "200")
	before := testutil.ToFloat64(counter)

	for _, id := range []string{"a", "b", "c"} {
		rr := httptest.NewRecorder()
		r.ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/v1/bookings/"+id, nil))
		if rr.Code != http.StatusOK {
			t.Fatalf("unexpected status: %d", rr.Code)
		}
	}

	if got := testutil.ToFloat64(counter) - before; got != 3 {
		t.Fatalf("expected 3 requests on one series, got %v", got)
	}
}

func TestRoutePatternUnmatched(t *testing.T) {
	req := httptest.NewRequest(http.MethodGet, "/nowhere", nil)
	if got := RoutePattern(req); got != "unmatched" {
		t.Fatalf("RoutePattern=%q, want unmatched", got)
	}
}

func TestDomainCounters(t *testing.T) {
	before := testutil.ToFloat64(ledgerOps.WithLabelValues("debit", "insufficient"))
	LedgerOp("debit", "insufficient")
	if got := testutil.ToFloat64(ledgerOps.WithLabelValues("debit", "insufficient")) - before; got != 1 {
		t.Fatalf("ledger counter delta=%v", got)
	}

	swept := testutil.ToFloat64(linksSwept)
	LinksSwept(0)
	LinksSwept(4)
	if got := testutil.ToFloat64(linksSwept) - swept; got != 4 {
		t.Fatalf("swept delta=%v", got)
	}

	SetReady(false)
	if testutil.ToFloat64(readyGauge) != 0 {
		t.Fatal("expected not ready")
	}
	SetReady(true)
	if testutil.ToFloat64(readyGauge) != 1 {
		t.Fatal("expected ready")
	}
}

func TestErrorLogIncludesFields(t *testing.T) {
	l := Logger()
	orig := l.Writer()
	var buf bytes.Buffer
	l.SetOutput(&buf)
	defer l.SetOutput(orig)

	Error("refund failed", errors.New("conn reset"), map[string]any{"booking_id": "b1"})

	var entry map[string]any
	if err := json.Unmarshal([]byte(strings.TrimSpace(buf.String())), &entry); err != nil {
		t.Fatalf("log not valid JSON: %v", err)
	}
	if entry["level"] != "error" || entry["msg"] != "refund failed" {
		t.Fatalf("unexpected entry: %v", entry)
	}
	if entry["error"] != "conn reset" || entry["booking_id"] != "b1" {
		t.Fatalf("missing fields: %v", entry)
	}
}
