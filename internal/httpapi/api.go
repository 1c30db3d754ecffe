package httpapi

import (
	"context"
	"database/sql"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"consultdesk.app/internal/access"
	"consultdesk.app/internal/auth"
	"consultdesk.app/internal/booking"
	"consultdesk.app/internal/credits"
	"consultdesk.app/internal/ledger"
	"consultdesk.app/internal/obs"
)

const serviceName = "consultdesk-api"

// ReadyProbe is a simple readiness check (for example a database ping).
type ReadyProbe struct {
	DB *sql.DB
}

func (rp ReadyProbe) Check(ctx context.Context) error {
	if rp.DB == nil {
		return nil
	}
	return rp.DB.PingContext(ctx)
}

type readinessChecker interface {
	Check(ctx context.Context) error
}

// Services are the domain components the HTTP layer drives.
type Services struct {
	Ledger  ledger.Ledger
	Credits *credits.Service
	Engine  *booking.Engine
	Links   *access.Issuer
}

// Options tune the HTTP layer. A nil Tokens disables bearer verification and
// trusts the X-User-ID and X-User-Roles headers; use it only for local runs.
type Options struct {
	Version      string
	Tokens       *auth.Tokens
	Ready        readinessChecker
	Limiter      Limiter
	MaxBodyBytes int64
	// TrustProxyHeaders takes the client address from True-Client-IP,
	// X-Real-IP or X-Forwarded-For. Enable it only behind a proxy that
	// overwrites those headers.
	TrustProxyHeaders bool
}

// API is the HTTP layer.
type API struct {
	router  chi.Router
	svc     Services
	tokens  *auth.Tokens
	ready   readinessChecker
	limiter Limiter
	maxBody int64
	proxied bool
	version string
	now     func() time.Time
}

func New(svc Services, opts Options) *API {
	a := &API{
		router:  chi.NewRouter(),
		svc:     svc,
		tokens:  opts.Tokens,
		ready:   opts.Ready,
		limiter: opts.Limiter,
		maxBody: opts.MaxBodyBytes,
		proxied: opts.TrustProxyHeaders,
		version: opts.Version,
		now:     func() time.Time { return time.Now().UTC() },
	}
	if a.ready == nil {
		a.ready = ReadyProbe{}
	}
	if a.maxBody <= 0 {
		a.maxBody = 1 << 20
	}
	a.routes()
	return a
}

func (a *API) routes() {
	r := a.router
	if a.proxied {
		r.Use(middleware.RealIP)
	}
	r.Use(RequestID, LoggingJSON, SecurityHeaders, obs.Instrument)
	if a.limiter != nil {
		r.Use(func(next http.Handler) http.Handler { return RateLimitWith(next, a.limiter) })
	}
	r.Use(func(next http.Handler) http.Handler { return MaxBodyBytes(next, a.maxBody) })
	r.MethodNotAllowed(func(w http.ResponseWriter, r *http.Request) {
		writeError(w, r, http.StatusMethodNotAllowed, "method not allowed")
	})
	r.NotFound(func(w http.ResponseWriter, r *http.Request) {
		writeError(w, r, http.StatusNotFound, "resource not found")
	})

	r.Get("/healthz", a.Healthz)
	r.Get("/readyz", a.Ready)
	r.Handle("/metrics", obs.Handler())

	r.Route("/v1", func(r chi.Router) {
		r.Get("/info", a.Info)

		r.Group(func(r chi.Router) {
			r.Use(a.withAuth)

			r.Get("/balances", a.listOwnBalances)
			r.Get("/balances/{serviceType}", a.getOwnBalance)
			r.With(RequireRole(auth.RoleAdmin)).Get("/users/{userID}/balances", a.listUserBalances)

			r.Route("/credit-requests", func(r chi.Router) {
				r.Post("/", a.submitCreditRequest)
				r.Get("/", a.listCreditRequests)
				r.Get("/{id}", a.getCreditRequest)
				r.With(RequireRole(auth.RoleAdmin)).Post("/{id}/approve", a.approveCreditRequest)
				r.With(RequireRole(auth.RoleAdmin)).Post("/{id}/reject", a.rejectCreditRequest)
			})

			r.Route("/bookings", func(r chi.Router) {
				r.Post("/", a.createBooking)
				r.Get("/", a.listBookings)
				r.Get("/{id}", a.getBooking)
				r.Post("/{id}/cancel", a.cancelBooking)
			})

			r.Route("/purchases", func(r chi.Router) {
				r.Post("/", a.createPurchase)
				r.Get("/", a.listPurchases)
				r.Get("/{id}", a.getPurchase)
				r.Post("/{id}/cancel", a.cancelPurchase)
				r.With(RequireRole(auth.RoleAdmin)).Post("/{id}/links", a.issueLink)
				r.Get("/{id}/links", a.listLinks)
				r.Get("/{id}/links/active", a.getActiveLink)
			})

			r.With(RequireRole(auth.RoleAdmin)).Post("/links/{id}/deactivate", a.deactivateLink)
		})
	})
}

// Handler returns the root http.Handler for the server.
func (a *API) Handler() http.Handler {
	return a.router
}

func (a *API) Healthz(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"status":  "ok",
		"service": serviceName,
		"version": a.version,
	})
}

func (a *API) Ready(w http.ResponseWriter, r *http.Request) {
	if err := a.ready.Check(r.Context()); err != nil {
		obs.SetReady(false)
		writeJSON(w, http.StatusServiceUnavailable, map[string]any{
			"status": "not_ready",
			"error":  err.Error(),
		})
		return
	}
	obs.SetReady(true)
	writeJSON(w, http.StatusOK, map[string]any{
		"status": "ready",
	})
}

func (a *API) Info(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"name":    serviceName,
		"time":    a.now().Format(time.RFC3339),
		"version": a.version,
	})
}
