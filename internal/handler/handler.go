// Package handler exposes checkout, webhook, capture and order status
// endpoints over net/http.
package handler

import (
	"context"
	"net/http"

	"github.com/xenking/paybridge/internal/domain/checkout"
	"github.com/xenking/paybridge/internal/domain/order"
	"github.com/xenking/paybridge/internal/domain/payment"
	"github.com/xenking/paybridge/internal/domain/reconcile"
	"github.com/xenking/paybridge/pkg/httpmiddleware"
	"github.com/xenking/paybridge/pkg/webhooksig"
)

// Request body limits.
const (
	maxCheckoutBody = 256 << 10
	maxWebhookBody  = 512 << 10
	maxCaptureBody  = 8 << 10
)

// Checkouts opens provider checkouts for new orders.
type Checkouts interface {
	Checkout(ctx context.Context, req checkout.Request) (*checkout.Result, error)
}

// Payments applies provider confirmations to the ledger.
type Payments interface {
	HandleEvent(ctx context.Context, provider order.Provider, ev *payment.Event) (reconcile.Result, error)
	Capture(ctx context.Context, provider order.Provider, reference string) (reconcile.Result, error)
}

// Orders reads the ledger for the status endpoint.
type Orders interface {
	GetByID(ctx context.Context, id string) (*order.Order, error)
}

// HandlerConfig holds non-dependency configuration for the Handler.
type HandlerConfig struct {
	// StripeWebhook verifies Stripe-Signature headers.
	StripeWebhook *webhooksig.Verifier
	// StripeEvents decodes verified Stripe webhook bodies.
	StripeEvents payment.EventParser
}

// Handler serves the public payment API.
type Handler struct {
	checkouts    Checkouts
	payments     Payments
	orders       Orders
	stripeVerify *webhooksig.Verifier
	stripeEvents payment.EventParser
}

// NewHandler constructs a Handler with the required domain dependencies.
func NewHandler(
	cfg HandlerConfig,
	checkouts Checkouts,
	payments Payments,
	orders Orders,
) *Handler {
	return &Handler{
		checkouts:    checkouts,
		payments:     payments,
		orders:       orders,
		stripeVerify: cfg.StripeWebhook,
		stripeEvents: cfg.StripeEvents,
	}
}

// Register adds the API routes to mux.
func (h *Handler) Register(mux *http.ServeMux) {
	routes := []struct {
		pattern string
		fn      http.HandlerFunc
	}{
		{"POST /api/checkout", h.Checkout},
		{"POST /api/webhooks/stripe", h.StripeWebhook},
		{"POST /api/paypal/capture", h.CapturePayPal},
		{"GET /api/orders/{id}", h.GetOrder},
	}
	for _, r := range routes {
		mux.Handle(r.pattern, httpmiddleware.Labeler(r.fn))
	}
}
