package checkout

import (
	"context"
	"sync"
	"testing"

	"github.com/go-faster/errors"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel/trace/noop"

	"github.com/xenking/paybridge/internal/domain/order"
	"github.com/xenking/paybridge/internal/domain/order/ordertest"
	"github.com/xenking/paybridge/internal/domain/payment"
)

// --- Mock implementations ---

type mockAdapter struct {
	provider order.Provider
	err      error

	mu    sync.Mutex
	calls []payment.CheckoutRequest
}

func (m *mockAdapter) Provider() order.Provider { return m.provider }

func (m *mockAdapter) CreateCheckout(_ context.Context, req payment.CheckoutRequest) (*payment.CheckoutHandle, error) {
	m.mu.Lock()
	m.calls = append(m.calls, req)
	m.mu.Unlock()
	if m.err != nil {
		return nil, m.err
	}
	return &payment.CheckoutHandle{
		Reference:   "ref_" + req.OrderID,
		RedirectURL: "https://pay.example.com/" + req.OrderID,
	}, nil
}

func (m *mockAdapter) Capture(context.Context, string) (*payment.Confirmation, error) {
	return nil, errors.New("not implemented")
}

func (m *mockAdapter) Expire(context.Context, string) (*payment.Confirmation, error) {
	return nil, errors.New("not implemented")
}

// --- Helpers ---

func newTestDispatcher(repo order.Repository, adapters ...payment.Adapter) *Dispatcher {
	return NewDispatcher(repo, payment.NewRegistry(adapters...), Config{
		SiteURL:  "https://shop.example.com/",
		Currency: "eur",
	}, noop.NewTracerProvider())
}

func sampleCart() []order.CartLine {
	return []order.CartLine{
		{ProductID: "p1", Name: "Tee", Price: "10.00", Qty: 2},
		{ProductID: "p2", Name: "Mug", Price: "5.50", Qty: 1},
	}
}

// --- Tests ---

func TestCheckout_CreatesPendingOrder(t *testing.T) {
	repo := ordertest.NewMemory()
	stripe := &mockAdapter{provider: order.ProviderStripe}
	d := newTestDispatcher(repo, stripe)

	res, err := d.Checkout(context.Background(), Request{Email: " buyer@example.com ", Cart: sampleCart()})
	require.NoError(t, err)

	assert.Equal(t, order.ProviderStripe, res.Provider)
	assert.Equal(t, "https://pay.example.com/"+res.OrderID, res.RedirectURL)
	assert.Equal(t, "ref_"+res.OrderID, res.Reference)

	stored := repo.Get(res.OrderID)
	require.NotNil(t, stored)
	assert.Equal(t, order.StatusPending, stored.Status)
	assert.Equal(t, "EUR", stored.Currency)
	assert.Equal(t, "buyer@example.com", stored.Email)
	assert.True(t, decimal.RequireFromString("25.50").Equal(stored.Total))
	assert.Equal(t, "ref_"+res.OrderID, stored.ProviderReference)
	assert.Equal(t, res.RedirectURL, stored.CheckoutURL)
	assert.Len(t, stored.Items, 2)

	require.Len(t, stripe.calls, 1)
	call := stripe.calls[0]
	assert.Equal(t, "https://shop.example.com/success.html?order="+res.OrderID, call.SuccessURL)
	assert.Equal(t, "https://shop.example.com/cancel.html?order="+res.OrderID, call.CancelURL)
	assert.Equal(t, res.OrderID, call.IdempotencyKey)
	assert.Equal(t, "EUR", call.Currency)
}

func TestCheckout_Validation(t *testing.T) {
	tests := []struct {
		name  string
		req   Request
		field string
	}{
		{"empty email", Request{Email: "  ", Cart: sampleCart()}, "email"},
		{"empty cart", Request{Email: "a@b.c"}, "cart"},
		{"unknown provider", Request{Email: "a@b.c", Cart: sampleCart(), Provider: "bitcoin"}, "provider"},
		{"disabled provider", Request{Email: "a@b.c", Cart: sampleCart(), Provider: "paypal"}, "provider"},
		{"too many lines", Request{Email: "a@b.c", Cart: make([]order.CartLine, MaxCartLines+1)}, "cart"},
		{"price exponent", Request{Email: "a@b.c", Cart: []order.CartLine{{Price: "1e30000000", Qty: 1}}}, "cart[0].price"},
		{"price too large", Request{Email: "a@b.c", Cart: []order.CartLine{{Price: "1e17", Qty: 1}}}, "cart[0].price"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			repo := ordertest.NewMemory()
			d := newTestDispatcher(repo, &mockAdapter{provider: order.ProviderStripe})

			_, err := d.Checkout(context.Background(), tt.req)

			var vErr *order.ValidationError
			require.ErrorAs(t, err, &vErr)
			assert.Equal(t, tt.field, vErr.Field)
			assert.Zero(t, repo.Len(), "no order may be written")
		})
	}
}

func TestCheckout_SelectsProvider(t *testing.T) {
	repo := ordertest.NewMemory()
	stripe := &mockAdapter{provider: order.ProviderStripe}
	paypal := &mockAdapter{provider: order.ProviderPayPal}
	d := newTestDispatcher(repo, stripe, paypal)

	res, err := d.Checkout(context.Background(), Request{Email: "a@b.c", Cart: sampleCart(), Provider: "PayPal"})
	require.NoError(t, err)

	assert.Equal(t, order.ProviderPayPal, res.Provider)
	assert.Empty(t, stripe.calls)
	assert.Len(t, paypal.calls, 1)
	assert.Equal(t, order.ProviderPayPal, repo.Get(res.OrderID).Provider)
}

func TestCheckout_ProviderFailureLeavesPendingOrder(t *testing.T) {
	repo := ordertest.NewMemory()
	provErr := &payment.ProviderError{Provider: order.ProviderStripe, Op: "create session", Retryable: true}
	d := newTestDispatcher(repo, &mockAdapter{provider: order.ProviderStripe, err: provErr})

	_, err := d.Checkout(context.Background(), Request{Email: "a@b.c", Cart: sampleCart()})

	var pe *payment.ProviderError
	require.ErrorAs(t, err, &pe)
	assert.True(t, payment.IsRetryable(err))

	orders, listErr := repo.List(context.Background(), order.Filter{})
	require.NoError(t, listErr)
	require.Len(t, orders, 1)
	assert.Equal(t, order.StatusPending, orders[0].Status)
	assert.Empty(t, orders[0].ProviderReference)
}

func TestCheckout_CreateFailure(t *testing.T) {
	repo := ordertest.NewMemory()
	repo.CreateErr = errors.New("disk full")
	adapter := &mockAdapter{provider: order.ProviderStripe}
	d := newTestDispatcher(repo, adapter)

	_, err := d.Checkout(context.Background(), Request{Email: "a@b.c", Cart: sampleCart()})

	var lErr *order.LedgerError
	require.ErrorAs(t, err, &lErr)
	assert.Equal(t, "create order", lErr.Op)
	assert.NotEmpty(t, lErr.OrderID)
	assert.Empty(t, adapter.calls, "provider must not be called without an order")
}

func TestCheckout_AttachFailure(t *testing.T) {
	repo := ordertest.NewMemory()
	repo.AttachErr = errors.New("conn reset")
	d := newTestDispatcher(repo, &mockAdapter{provider: order.ProviderStripe})

	_, err := d.Checkout(context.Background(), Request{Email: "a@b.c", Cart: sampleCart()})

	var lErr *order.LedgerError
	require.ErrorAs(t, err, &lErr)
	assert.Equal(t, "attach checkout", lErr.Op)
	assert.NotNil(t, repo.Get(lErr.OrderID))
}

func TestCheckout_IdempotencyKeyReturnsSameCheckout(t *testing.T) {
	repo := ordertest.NewMemory()
	adapter := &mockAdapter{provider: order.ProviderStripe}
	d := newTestDispatcher(repo, adapter)
	req := Request{Email: "a@b.c", Cart: sampleCart(), IdempotencyKey: "key-1"}

	first, err := d.Checkout(context.Background(), req)
	require.NoError(t, err)
	second, err := d.Checkout(context.Background(), req)
	require.NoError(t, err)

	assert.Equal(t, first.OrderID, second.OrderID)
	assert.Equal(t, first.RedirectURL, second.RedirectURL)
	assert.True(t, second.Resumed)
	assert.Equal(t, 1, repo.Len())
	assert.Len(t, adapter.calls, 1)
	assert.Equal(t, "key-1", adapter.calls[0].IdempotencyKey)
}

func TestCheckout_IdempotencyKeyRetriesFailedDispatch(t *testing.T) {
	repo := ordertest.NewMemory()
	adapter := &mockAdapter{provider: order.ProviderStripe, err: errors.New("timeout")}
	d := newTestDispatcher(repo, adapter)
	req := Request{Email: "a@b.c", Cart: sampleCart(), IdempotencyKey: "key-2"}

	_, err := d.Checkout(context.Background(), req)
	require.Error(t, err)

	adapter.err = nil
	res, err := d.Checkout(context.Background(), req)
	require.NoError(t, err)

	assert.True(t, res.Resumed)
	assert.Equal(t, 1, repo.Len())
	assert.Len(t, adapter.calls, 2)
	assert.Equal(t, adapter.calls[0].OrderID, adapter.calls[1].OrderID)
}

func TestCheckout_IdempotencyKeyProviderMismatch(t *testing.T) {
	repo := ordertest.NewMemory()
	d := newTestDispatcher(repo,
		&mockAdapter{provider: order.ProviderStripe},
		&mockAdapter{provider: order.ProviderPayPal},
	)

	_, err := d.Checkout(context.Background(), Request{Email: "a@b.c", Cart: sampleCart(), IdempotencyKey: "k"})
	require.NoError(t, err)

	_, err = d.Checkout(context.Background(), Request{Email: "a@b.c", Cart: sampleCart(), IdempotencyKey: "k", Provider: "paypal"})
	var vErr *order.ValidationError
	require.ErrorAs(t, err, &vErr)
	assert.Equal(t, "Idempotency-Key", vErr.Field)
}
