package order

import (
	"context"
	"time"

	"github.com/shopspring/decimal"
)

// Status is the payment state of an order. Pending is the only initial state;
// the rest are terminal.
type Status string

const (
	StatusPending   Status = "pending"
	StatusPaid      Status = "paid"
	StatusFailed    Status = "failed"
	StatusCancelled Status = "cancelled"
)

// Terminal reports whether no further transition is allowed from s.
func (s Status) Terminal() bool {
	return s == StatusPaid || s == StatusFailed || s == StatusCancelled
}

// Valid reports whether s is a known status.
func (s Status) Valid() bool {
	return s == StatusPending || s.Terminal()
}

// Provider identifies the payment provider an order was dispatched to.
type Provider string

const (
	ProviderStripe Provider = "stripe"
	ProviderPayPal Provider = "paypal"
)

// ParseProvider maps user input to a Provider. An empty value selects Stripe.
func ParseProvider(s string) (Provider, bool) {
	switch Provider(s) {
	case "", ProviderStripe:
		return ProviderStripe, true
	case ProviderPayPal:
		return ProviderPayPal, true
	default:
		return "", false
	}
}

// Order is a purchase recorded in the ledger together with the snapshot of
// its line items.
type Order struct {
	ID                string
	Email             string
	Status            Status
	Currency          string
	Total             decimal.Decimal
	Provider          Provider
	ProviderReference string
	ConfirmationID    string
	CheckoutURL       string
	IdempotencyKey    string
	Items             []Item
	CreatedAt         time.Time
	UpdatedAt         time.Time
	PaidAt            *time.Time
}

// Item is an immutable snapshot of one cart line.
type Item struct {
	ProductID string
	Name      string
	Price     decimal.Decimal
	Qty       int
}

// Transition describes a compare-and-set move of an order out of pending.
type Transition struct {
	OrderID string
	To      Status
	// Reference is recorded only if the order has none yet.
	Reference      string
	ConfirmationID string
}

// Filter narrows List results. Zero fields are ignored.
type Filter struct {
	Statuses         []Status
	Provider         Provider
	CreatedBefore    time.Time
	CreatedAfter     time.Time
	MissingReference bool
	Limit            uint64
}

// Repository defines persistence operations for the order ledger.
type Repository interface {
	// Create stores the order and its items atomically.
	Create(ctx context.Context, o *Order) error
	GetByID(ctx context.Context, id string) (*Order, error)
	GetByProviderReference(ctx context.Context, p Provider, ref string) (*Order, error)
	GetByIdempotencyKey(ctx context.Context, key string) (*Order, error)
	// AttachCheckout sets the provider reference and redirect URL. The
	// reference can be set once; attaching a different one fails with
	// ErrReferenceConflict.
	AttachCheckout(ctx context.Context, id, ref, url string) error
	// Transition moves a pending order to t.To and reports whether this call
	// performed the update.
	Transition(ctx context.Context, t Transition) (bool, error)
	List(ctx context.Context, f Filter) ([]Order, error)
}
