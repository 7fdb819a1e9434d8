package app

import (
	"context"

	"github.com/go-faster/errors"
	"github.com/jackc/pgx/v5/pgxpool"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"

	"github.com/xenking/paybridge/internal/domain/payment"
	"github.com/xenking/paybridge/internal/provider"
	"github.com/xenking/paybridge/internal/provider/paypal"
	"github.com/xenking/paybridge/internal/provider/stripe"
	"github.com/xenking/paybridge/internal/storage/postgres"
)

// OpenLedger connects to the ledger database and, when migrate is set,
// brings the schema up to date first.
func OpenLedger(ctx context.Context, cfg *Config, migrate bool) (*pgxpool.Pool, error) {
	if migrate {
		if err := postgres.RunMigrations(cfg.DatabaseURL); err != nil {
			return nil, errors.Wrap(err, "run migrations")
		}
	}
	pool, err := postgres.NewPool(ctx, cfg.DatabaseURL)
	if err != nil {
		return nil, errors.Wrap(err, "create db pool")
	}
	return pool, nil
}

// Providers holds the configured payment adapters.
type Providers struct {
	Stripe   *stripe.Client
	PayPal   *paypal.Client // nil when PayPal is not configured
	Registry *payment.Registry
}

// NewProviders builds the provider clients sharing one instrumented
// transport configuration.
func NewProviders(cfg *Config, tp trace.TracerProvider, mp metric.MeterProvider) *Providers {
	httpClient := provider.NewHTTPClient(cfg.ProviderTimeout, tp, mp)

	p := &Providers{
		Stripe: stripe.New(stripe.Config{
			APIBase:   cfg.Stripe.APIBase,
			SecretKey: cfg.Stripe.SecretKey,
		}, httpClient),
	}
	adapters := []payment.Adapter{p.Stripe}
	if cfg.PayPal.Enabled() {
		p.PayPal = paypal.New(paypal.Config{
			APIBase:  cfg.PayPal.APIBase,
			ClientID: cfg.PayPal.ClientID,
			Secret:   cfg.PayPal.Secret,
		}, httpClient)
		adapters = append(adapters, p.PayPal)
	}
	p.Registry = payment.NewRegistry(adapters...)
	return p
}
