// Package checkout turns a client cart into a pending ledger order and a
// provider checkout the buyer is redirected to.
package checkout

import (
	"context"
	"net/url"
	"strings"
	"time"

	"github.com/go-faster/errors"
	"github.com/go-faster/sdk/zctx"
	"github.com/google/uuid"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"

	"github.com/xenking/paybridge/internal/domain/order"
	"github.com/xenking/paybridge/internal/domain/payment"
)

// MaxCartLines bounds the number of lines accepted in one checkout.
const MaxCartLines = 100

// Request is a checkout attempt as received from the client.
type Request struct {
	Email    string
	Cart     []order.CartLine
	Provider string
	// IdempotencyKey makes retries return the original checkout.
	IdempotencyKey string
}

// Result is returned to the client for redirection.
type Result struct {
	OrderID     string
	Provider    order.Provider
	Reference   string
	RedirectURL string
	// Resumed is set when an existing order matched the idempotency key.
	Resumed bool
}

// Config holds non-dependency settings of the Dispatcher.
type Config struct {
	// SiteURL is the public storefront base used for callback URLs.
	SiteURL     string
	Currency    string
	SuccessPath string
	CancelPath  string
}

// Dispatcher creates pending orders and opens provider checkouts for them.
type Dispatcher struct {
	orders   order.Repository
	adapters *payment.Registry
	cfg      Config
	tracer   trace.Tracer
	now      func() time.Time
}

// NewDispatcher creates a Dispatcher.
func NewDispatcher(orders order.Repository, adapters *payment.Registry, cfg Config, tp trace.TracerProvider) *Dispatcher {
	if cfg.Currency == "" {
		cfg.Currency = "EUR"
	}
	if cfg.SuccessPath == "" {
		cfg.SuccessPath = "/success.html"
	}
	if cfg.CancelPath == "" {
		cfg.CancelPath = "/cancel.html"
	}
	cfg.Currency = strings.ToUpper(cfg.Currency)
	cfg.SiteURL = strings.TrimRight(cfg.SiteURL, "/")
	return &Dispatcher{
		orders:   orders,
		adapters: adapters,
		cfg:      cfg,
		tracer:   tp.Tracer("paybridge/checkout"),
		now:      time.Now,
	}
}

// Checkout validates req, records a pending order and returns the provider
// redirect. Errors are *order.ValidationError, *order.LedgerError or wrap a
// *payment.ProviderError.
func (d *Dispatcher) Checkout(ctx context.Context, req Request) (*Result, error) {
	provider, err := d.validate(req)
	if err != nil {
		return nil, err
	}
	adapter, err := d.adapters.Adapter(provider)
	if err != nil {
		return nil, &order.ValidationError{Field: "provider", Reason: "not enabled"}
	}
	items := order.SanitizeCart(req.Cart)
	if err := order.CheckLimits(items); err != nil {
		return nil, err
	}

	key := strings.TrimSpace(req.IdempotencyKey)
	if key != "" {
		existing, err := d.orders.GetByIdempotencyKey(ctx, key)
		switch {
		case err == nil:
			return d.resume(ctx, existing, provider)
		case !errors.Is(err, order.ErrNotFound):
			return nil, &order.LedgerError{Op: "lookup idempotency key", Err: err}
		}
	}

	now := d.now()
	o := &order.Order{
		ID:             uuid.NewString(),
		Email:          strings.TrimSpace(req.Email),
		Status:         order.StatusPending,
		Currency:       d.cfg.Currency,
		Total:          order.Total(items),
		Provider:       provider,
		IdempotencyKey: key,
		Items:          items,
		CreatedAt:      now,
		UpdatedAt:      now,
	}

	if err := d.orders.Create(ctx, o); err != nil {
		if key != "" && errors.Is(err, order.ErrDuplicateIdempotencyKey) {
			// A concurrent request with the same key won the insert.
			existing, getErr := d.orders.GetByIdempotencyKey(ctx, key)
			if getErr != nil {
				return nil, &order.LedgerError{Op: "lookup idempotency key", Err: getErr}
			}
			return d.resume(ctx, existing, provider)
		}
		// The insert is transactional, but a lost commit acknowledgement
		// leaves the outcome unknown, so report the id we tried.
		return nil, &order.LedgerError{Op: "create order", OrderID: o.ID, Err: err}
	}

	zctx.From(ctx).Info("Order created",
		zap.String("order_id", o.ID),
		zap.String("provider", string(provider)),
		zap.String("total", o.Total.String()),
		zap.Int("items", len(items)),
	)

	return d.dispatch(ctx, adapter, o)
}

func (d *Dispatcher) validate(req Request) (order.Provider, error) {
	if strings.TrimSpace(req.Email) == "" {
		return "", &order.ValidationError{Field: "email", Reason: "required"}
	}
	if len(req.Cart) == 0 {
		return "", &order.ValidationError{Field: "cart", Reason: "must not be empty"}
	}
	if len(req.Cart) > MaxCartLines {
		return "", &order.ValidationError{Field: "cart", Reason: "too many lines"}
	}
	provider, ok := order.ParseProvider(strings.ToLower(strings.TrimSpace(req.Provider)))
	if !ok {
		return "", &order.ValidationError{Field: "provider", Reason: "unsupported"}
	}
	return provider, nil
}

// resume returns the checkout of an order created by an earlier request with
// the same idempotency key, opening it again if that request never reached
// the provider.
func (d *Dispatcher) resume(ctx context.Context, o *order.Order, provider order.Provider) (*Result, error) {
	if o.Provider != provider {
		return nil, &order.ValidationError{Field: "Idempotency-Key", Reason: "already used with another provider"}
	}
	if o.CheckoutURL != "" {
		return &Result{
			OrderID:     o.ID,
			Provider:    o.Provider,
			Reference:   o.ProviderReference,
			RedirectURL: o.CheckoutURL,
			Resumed:     true,
		}, nil
	}
	if o.Status != order.StatusPending {
		return nil, &order.ValidationError{Field: "Idempotency-Key", Reason: "order is already " + string(o.Status)}
	}

	adapter, err := d.adapters.Adapter(o.Provider)
	if err != nil {
		return nil, &order.ValidationError{Field: "provider", Reason: "not enabled"}
	}
	zctx.From(ctx).Info("Resuming checkout", zap.String("order_id", o.ID))

	res, err := d.dispatch(ctx, adapter, o)
	if err != nil {
		return nil, err
	}
	res.Resumed = true
	return res, nil
}

func (d *Dispatcher) dispatch(ctx context.Context, adapter payment.Adapter, o *order.Order) (*Result, error) {
	lg := zctx.From(ctx).With(zap.String("order_id", o.ID), zap.String("provider", string(o.Provider)))

	ctx, span := d.tracer.Start(ctx, "checkout.CreateCheckout",
		trace.WithAttributes(
			attribute.String("order.id", o.ID),
			attribute.String("payment.provider", string(o.Provider)),
		),
	)
	defer span.End()

	key := o.IdempotencyKey
	if key == "" {
		key = o.ID
	}
	handle, err := adapter.CreateCheckout(ctx, payment.CheckoutRequest{
		OrderID:        o.ID,
		Email:          o.Email,
		Currency:       o.Currency,
		Total:          o.Total,
		Items:          o.Items,
		SuccessURL:     d.callbackURL(d.cfg.SuccessPath, o.ID),
		CancelURL:      d.callbackURL(d.cfg.CancelPath, o.ID),
		IdempotencyKey: key,
	})
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "create checkout")
		lg.Warn("Provider checkout failed, order left pending", zap.Error(err))
		return nil, errors.Wrapf(err, "create checkout for order %s", o.ID)
	}
	if handle.RedirectURL == "" {
		span.SetStatus(codes.Error, "no redirect")
		return nil, &payment.ProviderError{
			Provider: o.Provider,
			Op:       "create checkout",
			Message:  "response carried no redirect URL",
		}
	}

	if err := d.orders.AttachCheckout(ctx, o.ID, handle.Reference, handle.RedirectURL); err != nil {
		span.RecordError(err)
		lg.Error("Failed to record provider reference",
			zap.String("reference", handle.Reference),
			zap.Error(err),
		)
		return nil, &order.LedgerError{Op: "attach checkout", OrderID: o.ID, Err: err}
	}
	span.SetAttributes(attribute.String("payment.reference", handle.Reference))
	lg.Info("Checkout opened", zap.String("reference", handle.Reference))

	return &Result{
		OrderID:     o.ID,
		Provider:    o.Provider,
		Reference:   handle.Reference,
		RedirectURL: handle.RedirectURL,
	}, nil
}

func (d *Dispatcher) callbackURL(path, orderID string) string {
	if !strings.HasPrefix(path, "/") {
		path = "/" + path
	}
	return d.cfg.SiteURL + path + "?order=" + url.QueryEscape(orderID)
}
