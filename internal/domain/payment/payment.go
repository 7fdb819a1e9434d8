// Package payment defines the capability every payment provider exposes to
// the checkout and reconciliation flows.
package payment

import (
	"context"
	"time"

	"github.com/shopspring/decimal"

	"github.com/xenking/paybridge/internal/domain/order"
)

// Outcome is the provider's view of a payment.
type Outcome string

const (
	OutcomePaid      Outcome = "paid"
	OutcomeFailed    Outcome = "failed"
	OutcomeCancelled Outcome = "cancelled"
	// OutcomePending means the buyer has not completed the flow yet.
	OutcomePending Outcome = "pending"
	// OutcomeProcessing means the buyer completed the flow but funds have
	// not settled (bank debits, PayPal pending captures).
	OutcomeProcessing Outcome = "processing"
)

// Status returns the terminal order status for o. The second value is false
// for outcomes that must not move the order.
func (o Outcome) Status() (order.Status, bool) {
	switch o {
	case OutcomePaid:
		return order.StatusPaid, true
	case OutcomeFailed:
		return order.StatusFailed, true
	case OutcomeCancelled:
		return order.StatusCancelled, true
	default:
		return "", false
	}
}

// MaxCheckoutLifetime is the longest a remote checkout stays payable. Stripe
// sessions expire at most 24 hours after creation.
const MaxCheckoutLifetime = 24 * time.Hour

// CheckoutRequest is what an adapter needs to open a remote checkout.
type CheckoutRequest struct {
	OrderID    string
	Email      string
	Currency   string
	Total      decimal.Decimal
	Items      []order.Item
	SuccessURL string
	CancelURL  string
	// IdempotencyKey is forwarded to providers that support it.
	IdempotencyKey string
}

// CheckoutHandle is a created remote checkout.
type CheckoutHandle struct {
	Reference   string
	RedirectURL string
}

// Confirmation is a provider statement about one payment.
type Confirmation struct {
	Provider order.Provider
	// OrderID is the ledger id echoed back by the provider, if any.
	OrderID        string
	Reference      string
	ConfirmationID string
	Outcome        Outcome
	// Amount is in minor units and only meaningful when HasAmount is set.
	Amount    int64
	Currency  string
	HasAmount bool
}

// Event is a decoded provider notification. Confirmation is nil for event
// types that carry no payment outcome.
type Event struct {
	ID           string
	Type         string
	Confirmation *Confirmation
}

// Adapter is implemented by each payment provider.
type Adapter interface {
	Provider() order.Provider
	// CreateCheckout opens a remote checkout for the order.
	CreateCheckout(ctx context.Context, req CheckoutRequest) (*CheckoutHandle, error)
	// Capture asks the provider for the final state of the payment
	// identified by reference, completing it where the protocol requires an
	// explicit capture.
	Capture(ctx context.Context, reference string) (*Confirmation, error)
	// Expire closes a checkout the buyer has not completed so it can no
	// longer be paid, and reports the resulting state. It fails if the
	// checkout is no longer open.
	Expire(ctx context.Context, reference string) (*Confirmation, error)
}

// EventParser decodes a verified notification payload.
type EventParser interface {
	ParseEvent(payload []byte) (*Event, error)
}
