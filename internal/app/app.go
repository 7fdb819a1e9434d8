package app

import (
	"context"
	"net/http"
	"strings"
	"time"

	"github.com/go-faster/errors"
	"github.com/go-faster/sdk/app"
	"github.com/go-faster/sdk/zctx"
	"go.uber.org/zap"

	"github.com/xenking/paybridge/internal/domain/checkout"
	"github.com/xenking/paybridge/internal/domain/reconcile"
	"github.com/xenking/paybridge/internal/handler"
	"github.com/xenking/paybridge/internal/storage/postgres"
	"github.com/xenking/paybridge/pkg/health"
	"github.com/xenking/paybridge/pkg/httpmiddleware"
	"github.com/xenking/paybridge/pkg/webhooksig"
)

// Run creates all dependencies, starts the HTTP server, and handles graceful
// shutdown. It is the single wiring point for the application.
func Run(ctx context.Context, lg *zap.Logger, m *app.Telemetry, cfg *Config) error {
	lg.Info("Initializing", zap.String("addr", cfg.Addr))

	// PostgreSQL migrations + pool.
	pool, err := OpenLedger(ctx, cfg, true)
	if err != nil {
		return err
	}
	defer pool.Close()

	// Health check service.
	healthSvc := health.New()
	healthSvc.AddReadinessCheck("postgres", 5*time.Second, health.PingCheck(pool))
	healthSvc.AddLivenessCheck("goroutines", time.Second, health.GoroutineCountCheck(10000))
	healthSvc.Start(ctx, 10*time.Second)

	// Ledger and providers.
	orderRepo := postgres.NewOrderRepository(pool)
	providers := NewProviders(cfg, m.TracerProvider(), m.MeterProvider())
	lg.Info("Payment providers", zap.Any("enabled", providers.Registry.Providers()))

	// Domain services.
	dispatcher := checkout.NewDispatcher(orderRepo, providers.Registry, checkout.Config{
		SiteURL:  cfg.SiteURL,
		Currency: cfg.Currency,
	}, m.TracerProvider())
	reconciler, err := reconcile.NewReconciler(orderRepo, providers.Registry, m.MeterProvider())
	if err != nil {
		return errors.Wrap(err, "create reconciler")
	}

	// HTTP handlers.
	verifier := webhooksig.New(cfg.Stripe.WebhookSecret)
	verifier.Tolerance = cfg.Stripe.WebhookTolerance
	h := handler.NewHandler(
		handler.HandlerConfig{
			StripeWebhook: verifier,
			StripeEvents:  providers.Stripe,
		},
		dispatcher,
		reconciler,
		orderRepo,
	)

	mux := http.NewServeMux()
	mux.HandleFunc("GET /livez", healthSvc.LiveEndpoint)
	mux.HandleFunc("GET /readyz", healthSvc.ReadyEndpoint)
	h.Register(mux)

	server := &http.Server{
		ReadHeaderTimeout: time.Second,
		ReadTimeout:       5 * time.Second,
		// Covers a provider round trip during checkout and capture.
		WriteTimeout:   cfg.ProviderTimeout + 10*time.Second,
		IdleTimeout:    120 * time.Second,
		MaxHeaderBytes: 1 << 20,
		Addr:           cfg.Addr,
		Handler: httpmiddleware.Wrap(mux,
			httpmiddleware.Recovery(),
			httpmiddleware.CORS(httpmiddleware.CORSConfig{
				AllowOrigins:     cfg.CORS.Origins,
				AllowHeaders:     []string{"Content-Type", "Idempotency-Key"},
				AllowCredentials: cfg.CORS.AllowCredentials,
				MaxAge:           86400,
			}),
			httpmiddleware.RateLimitWithCleanup(ctx, httpmiddleware.RateLimitConfig{
				Max:    cfg.RateLimit.Max,
				Window: cfg.RateLimit.Window,
				Skip:   skipRateLimit,
			}),
			httpmiddleware.RequestID(),
			httpmiddleware.InjectLogger(zctx.From(ctx)),
			httpmiddleware.Instrument("paybridge-api", m),
			httpmiddleware.LogRequests(),
		),
	}

	if cfg.Sweep.Interval > 0 {
		go runSweeps(ctx, lg, reconcile.NewSweeper(reconciler), cfg.Sweep)
	}

	// Graceful shutdown: wait for context cancellation, drain, then stop.
	shutdownDone := make(chan struct{})
	go func() {
		<-ctx.Done()
		healthSvc.SetReady(false)
		lg.Info("Readiness set to false, draining", zap.Duration("delay", cfg.Graceful.ReadinessDelay))
		time.Sleep(cfg.Graceful.ReadinessDelay)

		shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Graceful.ShutdownTimeout)
		defer cancel()

		lg.Info("Shutting down server", zap.Duration("timeout", cfg.Graceful.ShutdownTimeout))
		if err := server.Shutdown(shutdownCtx); err != nil {
			lg.Error("Server shutdown error", zap.Error(err))
		}
		healthSvc.Stop()
		close(shutdownDone)
	}()

	healthSvc.SetReady(true)
	lg.Info("Server listening", zap.String("addr", cfg.Addr))
	if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return errors.Wrap(err, "server")
	}
	<-shutdownDone
	return nil
}

// skipRateLimit exempts provider webhooks, which arrive in bursts from a few
// provider IPs, and health probes.
func skipRateLimit(r *http.Request) bool {
	switch {
	case strings.HasPrefix(r.URL.Path, "/api/webhooks/"):
		return true
	case r.URL.Path == "/livez", r.URL.Path == "/readyz":
		return true
	}
	return false
}

// runSweeps recovers stale pending orders once per interval until ctx is
// cancelled.
func runSweeps(ctx context.Context, lg *zap.Logger, sweeper *reconcile.Sweeper, cfg SweepConfig) {
	ticker := time.NewTicker(cfg.Interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
		report, err := sweeper.Run(ctx, cfg.Options())
		if err != nil {
			lg.Error("Sweep failed", zap.Error(err))
			continue
		}
		if report.Checked > 0 {
			lg.Info("Sweep done",
				zap.Int("checked", report.Checked),
				zap.Int("applied", report.Applied),
				zap.Int("cancelled", report.Cancelled),
				zap.Int("deferred", report.Deferred),
				zap.Int("failed", report.Failed),
			)
		}
	}
}
