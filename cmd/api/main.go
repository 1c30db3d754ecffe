package main

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/redis/go-redis/v9"
	"google.golang.org/grpc"

	"consultdesk.app/internal/access"
	"consultdesk.app/internal/auth"
	"consultdesk.app/internal/booking"
	"consultdesk.app/internal/catalog"
	"consultdesk.app/internal/config"
	"consultdesk.app/internal/credits"
	"consultdesk.app/internal/events"
	"consultdesk.app/internal/httpapi"
	"consultdesk.app/internal/jobs"
	"consultdesk.app/internal/ledger"
	"consultdesk.app/internal/obs"
	"consultdesk.app/internal/store/pg"
)

// commit is set at build time with -ldflags "-X main.commit=...".
var commit = ""

func main() {
	if err := run(); err != nil {
		obs.Error("api exited", err, nil)
		os.Exit(1)
	}
}

type stores struct {
	ledger    ledger.Ledger
	catalog   catalog.Reader
	requests  credits.Repository
	bookings  booking.BookingRepository
	purchases booking.PurchaseRepository
	links     access.Repository
	ready     httpapi.ReadyProbe
	close     func() error
}

func run() error {
	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}
	obs.Init()
	obs.InitBuildInfo(cfg.AppVersion, commit)

	st, err := openStores(cfg)
	if err != nil {
		return err
	}
	defer func() { _ = st.close() }()

	pub, closePub, err := openPublisher(cfg)
	if err != nil {
		return err
	}
	defer closePub()

	engine := booking.NewEngine(st.catalog, st.ledger, st.bookings, st.purchases, pub)
	issuer := access.NewIssuer(st.links, engine, pub)
	engine.OnPurchaseCancelled(issuer.RevokeForPurchase)
	svc := httpapi.Services{
		Ledger:  st.ledger,
		Credits: credits.NewService(st.requests, st.ledger, pub),
		Engine:  engine,
		Links:   issuer,
	}

	var tokens *auth.Tokens
	if cfg.AuthRequired {
		if tokens, err = auth.NewTokens(cfg.AuthSecret); err != nil {
			return fmt.Errorf("auth: %w", err)
		}
	} else {
		obs.Warn("AUTH_REQUIRED=false: identity is taken from X-User-ID headers", nil)
	}

	limiter, closeLimiter, err := openLimiter(cfg)
	if err != nil {
		return err
	}
	defer closeLimiter()

	api := httpapi.New(svc, httpapi.Options{
		Version: cfg.AppVersion,
		Tokens:  tokens,
		Ready:   st.ready,
		Limiter: limiter,

		TrustProxyHeaders: cfg.TrustProxyHeaders,
	})

	scheduler := jobs.NewScheduler(issuer)
	if err := scheduler.Start(cfg.LinkSweepSchedule); err != nil {
		return fmt.Errorf("schedule link sweep: %w", err)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	health := httpapi.NewGRPCServer(st.ready, cfg.AppVersion)
	grpcServer := grpc.NewServer()
	health.Register(grpcServer)
	grpcLis, err := net.Listen("tcp", cfg.GRPCAddr)
	if err != nil {
		return fmt.Errorf("listen grpc: %w", err)
	}
	go health.Watch(ctx, 5*time.Second)

	srv := &http.Server{
		Addr:              cfg.HTTPAddr,
		Handler:           api.Handler(),
		ReadTimeout:       15 * time.Second,
		ReadHeaderTimeout: 15 * time.Second,
		WriteTimeout:      15 * time.Second,
		IdleTimeout:       60 * time.Second,
	}

	errCh := make(chan error, 2)
	go func() {
		if err := grpcServer.Serve(grpcLis); err != nil && !errors.Is(err, grpc.ErrServerStopped) {
			errCh <- fmt.Errorf("grpc serve: %w", err)
		}
	}()
	go func() {
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- fmt.Errorf("http serve: %w", err)
		}
	}()
	obs.Info("consultdesk api started", map[string]any{
		"http_addr": cfg.HTTPAddr,
		"grpc_addr": cfg.GRPCAddr,
		"version":   cfg.AppVersion,
		"in_memory": cfg.InMemory(),
	})

	var serveErr error
	select {
	case <-ctx.Done():
	case serveErr = <-errCh:
	}
	obs.Info("shutting down", nil)

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout)
	defer cancel()

	<-scheduler.Stop().Done()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		obs.Error("http shutdown", err, nil)
	}
	grpcServer.GracefulStop()
	obs.Info("stopped", nil)
	return serveErr
}

func openStores(cfg *config.Config) (stores, error) {
	if cfg.InMemory() {
		obs.Warn("DATABASE_URL is empty: using in-memory stores", nil)
		l := ledger.NewInMemory()
		bookings := booking.NewMemoryStore()
		return stores{
			ledger:    l,
			catalog:   catalog.NewInMemory(demoCatalog()...),
			requests:  credits.NewMemoryStore(),
			bookings:  bookings,
			purchases: bookings,
			links:     access.NewMemoryStore(),
			close:     func() error { return nil },
		}, nil
	}
	db, err := pg.Open(cfg.DatabaseURL)
	if err != nil {
		return stores{}, fmt.Errorf("open db: %w", err)
	}
	return stores{
		ledger:    db,
		catalog:   db,
		requests:  db.CreditRequests(),
		bookings:  db,
		purchases: db,
		links:     db.Links(),
		ready:     httpapi.ReadyProbe{DB: db.DB()},
		close:     db.Close,
	}, nil
}

func openPublisher(cfg *config.Config) (events.Publisher, func(), error) {
	if cfg.RabbitMQURL == "" {
		return events.LogPublisher{}, func() {}, nil
	}
	pub, err := events.DialAMQP(cfg.RabbitMQURL, cfg.EventsExchange)
	if err != nil {
		return nil, nil, fmt.Errorf("connect rabbitmq: %w", err)
	}
	obs.Info("publishing domain events to rabbitmq", map[string]any{"exchange": cfg.EventsExchange})
	return pub, func() {
		if err := pub.Close(); err != nil {
			obs.Error("close rabbitmq publisher", err, nil)
		}
	}, nil
}

func openLimiter(cfg *config.Config) (httpapi.Limiter, func(), error) {
	if cfg.RateLimitBurst == 0 {
		return nil, func() {}, nil
	}
	local := httpapi.NewLocalLimiter(cfg.RateLimitBurst, cfg.RateLimitPerSec)
	if cfg.RedisURL == "" {
		return local, func() {}, nil
	}
	opts, err := redis.ParseURL(cfg.RedisURL)
	if err != nil {
		return nil, nil, fmt.Errorf("parse REDIS_URL: %w", err)
	}
	client := redis.NewClient(opts)
	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
	defer cancel()
	if err := client.Ping(ctx).Err(); err != nil {
		obs.Warn("redis unreachable at startup; limiter falls back per replica", map[string]any{"error": err.Error()})
	}
	lim := httpapi.FallbackLimiter{
		Primary:   httpapi.NewRedisLimiter(client, "consultdesk:rate_limit", cfg.RateLimitBurst, cfg.RateLimitPerSec),
		Secondary: local,
	}
	return lim, func() { _ = client.Close() }, nil
}

// demoCatalog mirrors the SQL seed so in-memory runs have something to book.
func demoCatalog() []catalog.Item {
	return []catalog.Item{
		{ID: "intro-call", Kind: catalog.KindSession, Title: "Introductory call", ServiceType: ledger.ServiceConsultation, CreditsRequired: 0, IsActive: true, AllowRebook: false},
		{ID: "consult-60", Kind: catalog.KindSession, Title: "Consultation, 60 minutes", ServiceType: ledger.ServiceConsultation, CreditsRequired: 3, PriceCents: 15000, IsActive: true, AllowRebook: true},
		{ID: "coaching-45", Kind: catalog.KindSession, Title: "Coaching session, 45 minutes", ServiceType: ledger.ServiceCoaching, CreditsRequired: 2, PriceCents: 9000, IsActive: true, AllowRebook: true},
		{ID: "leadership-program", Kind: catalog.KindProgram, Title: "Leadership program", ServiceType: ledger.ServiceProgram, CreditsRequired: 10, PriceCents: 49900, IsActive: true, AllowRebook: true},
		{ID: "cv-review-tool", Kind: catalog.KindTool, Title: "CV review tool", ServiceType: ledger.ServiceTool, CreditsRequired: 1, PriceCents: 1900, IsActive: true, AllowRebook: true},
	}
}
