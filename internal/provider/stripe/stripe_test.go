package stripe

import (
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"net/url"
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/xenking/paybridge/internal/domain/order"
	"github.com/xenking/paybridge/internal/domain/payment"
)

// --- Helpers ---

func newTestServer(t *testing.T, handler http.HandlerFunc) *Client {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)
	return New(Config{APIBase: srv.URL, SecretKey: "sk_test_123"}, srv.Client())
}

func checkoutRequest() payment.CheckoutRequest {
	return payment.CheckoutRequest{
		OrderID:  "9b1c",
		Email:    "buyer@example.com",
		Currency: "EUR",
		Total:    decimal.RequireFromString("25.50"),
		Items: []order.Item{
			{ProductID: "p1", Name: "Tee", Price: decimal.RequireFromString("10.00"), Qty: 2},
			{ProductID: "p2", Name: "Mug", Price: decimal.RequireFromString("5.50"), Qty: 1},
		},
		SuccessURL:     "https://shop.example.com/success.html?order=9b1c",
		CancelURL:      "https://shop.example.com/cancel.html?order=9b1c",
		IdempotencyKey: "9b1c",
	}
}

const completedSession = `{
	"id": "cs_test_1",
	"object": "checkout.session",
	"url": null,
	"status": "complete",
	"payment_status": "paid",
	"payment_intent": "pi_1",
	"client_reference_id": "9b1c",
	"amount_total": 2550,
	"currency": "eur",
	"metadata": {"order_id": "9b1c", "note": 5}
}`

// --- Tests ---

func TestCreateCheckout(t *testing.T) {
	var form url.Values
	c := newTestServer(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPost, r.Method)
		assert.Equal(t, "/v1/checkout/sessions", r.URL.Path)
		assert.Equal(t, "Bearer sk_test_123", r.Header.Get("Authorization"))
		assert.Equal(t, "checkout-9b1c", r.Header.Get("Idempotency-Key"))

		body, err := io.ReadAll(r.Body)
		require.NoError(t, err)
		form, err = url.ParseQuery(string(body))
		require.NoError(t, err)

		w.Header().Set("Content-Type", "application/json")
		_, _ = io.WriteString(w, `{"id":"cs_test_1","object":"checkout.session","url":"https://checkout.stripe.com/c/pay/cs_test_1","status":"open"}`)
	})

	h, err := c.CreateCheckout(context.Background(), checkoutRequest())
	require.NoError(t, err)

	assert.Equal(t, "cs_test_1", h.Reference)
	assert.Equal(t, "https://checkout.stripe.com/c/pay/cs_test_1", h.RedirectURL)

	assert.Equal(t, "payment", form.Get("mode"))
	assert.Equal(t, "buyer@example.com", form.Get("customer_email"))
	assert.Equal(t, "9b1c", form.Get("metadata[order_id]"))
	assert.Equal(t, "9b1c", form.Get("client_reference_id"))
	assert.Equal(t, "https://shop.example.com/success.html?order=9b1c&session_id={CHECKOUT_SESSION_ID}", form.Get("success_url"))
	assert.Equal(t, "https://shop.example.com/cancel.html?order=9b1c", form.Get("cancel_url"))
	assert.Equal(t, "2", form.Get("line_items[0][quantity]"))
	assert.Equal(t, "1000", form.Get("line_items[0][price_data][unit_amount]"))
	assert.Equal(t, "eur", form.Get("line_items[0][price_data][currency]"))
	assert.Equal(t, "Tee", form.Get("line_items[0][price_data][product_data][name]"))
	assert.Equal(t, "550", form.Get("line_items[1][price_data][unit_amount]"))
}

func TestCreateCheckout_Errors(t *testing.T) {
	tests := []struct {
		name      string
		status    int
		body      string
		retryable bool
		code      string
	}{
		{"card error", http.StatusBadRequest, `{"error":{"type":"invalid_request_error","code":"parameter_missing","message":"Missing required param"}}`, false, "parameter_missing"},
		{"rate limited", http.StatusTooManyRequests, `{"error":{"type":"rate_limit_error","message":"slow down"}}`, true, "rate_limit_error"},
		{"outage", http.StatusBadGateway, `oops`, true, ""},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c := newTestServer(t, func(w http.ResponseWriter, _ *http.Request) {
				w.WriteHeader(tt.status)
				_, _ = io.WriteString(w, tt.body)
			})

			_, err := c.CreateCheckout(context.Background(), checkoutRequest())

			var pe *payment.ProviderError
			require.ErrorAs(t, err, &pe)
			assert.Equal(t, tt.status, pe.StatusCode)
			assert.Equal(t, tt.retryable, pe.Retryable)
			assert.Equal(t, tt.code, pe.Code)
		})
	}
}

func TestCreateCheckout_Unreachable(t *testing.T) {
	srv := httptest.NewServer(http.NotFoundHandler())
	c := New(Config{APIBase: srv.URL, SecretKey: "sk"}, srv.Client())
	srv.Close()

	_, err := c.CreateCheckout(context.Background(), checkoutRequest())
	assert.True(t, payment.IsRetryable(err))
}

func TestCapture(t *testing.T) {
	tests := []struct {
		name          string
		status        string
		paymentStatus string
		want          payment.Outcome
	}{
		{"paid", "complete", "paid", payment.OutcomePaid},
		{"free", "complete", "no_payment_required", payment.OutcomePaid},
		{"async", "complete", "unpaid", payment.OutcomeProcessing},
		{"expired", "expired", "unpaid", payment.OutcomeCancelled},
		{"open", "open", "unpaid", payment.OutcomePending},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c := newTestServer(t, func(w http.ResponseWriter, r *http.Request) {
				assert.Equal(t, http.MethodGet, r.Method)
				assert.Equal(t, "/v1/checkout/sessions/cs_test_1", r.URL.Path)
				_, _ = io.WriteString(w, `{"id":"cs_test_1","status":"`+tt.status+`","payment_status":"`+tt.paymentStatus+`","payment_intent":{"id":"pi_1","object":"payment_intent"},"amount_total":2550,"currency":"eur","metadata":{"order_id":"9b1c"}}`)
			})

			conf, err := c.Capture(context.Background(), "cs_test_1")
			require.NoError(t, err)

			assert.Equal(t, tt.want, conf.Outcome)
			assert.Equal(t, "9b1c", conf.OrderID)
			assert.Equal(t, "cs_test_1", conf.Reference)
			assert.Equal(t, "pi_1", conf.ConfirmationID)
			assert.Equal(t, int64(2550), conf.Amount)
			assert.True(t, conf.HasAmount)
		})
	}
}

func TestExpire(t *testing.T) {
	c := newTestServer(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPost, r.Method)
		assert.Equal(t, "/v1/checkout/sessions/cs_test_1/expire", r.URL.Path)
		_, _ = io.WriteString(w, `{"id":"cs_test_1","status":"expired","payment_status":"unpaid","metadata":{"order_id":"9b1c"}}`)
	})

	conf, err := c.Expire(context.Background(), "cs_test_1")
	require.NoError(t, err)
	assert.Equal(t, payment.OutcomeCancelled, conf.Outcome)
	assert.Equal(t, "9b1c", conf.OrderID)
	assert.Equal(t, "cs_test_1", conf.Reference)
}

func TestExpire_NotOpen(t *testing.T) {
	c := newTestServer(t, func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusBadRequest)
		_, _ = io.WriteString(w, `{"error":{"type":"invalid_request_error","message":"Only Checkout Sessions with a status in [\"open\"] can be expired."}}`)
	})

	_, err := c.Expire(context.Background(), "cs_test_1")

	var pe *payment.ProviderError
	require.ErrorAs(t, err, &pe)
	assert.Equal(t, http.StatusBadRequest, pe.StatusCode)
	assert.False(t, pe.Retryable)
}

func TestParseEvent(t *testing.T) {
	tests := []struct {
		name    string
		typ     string
		session string
		want    payment.Outcome
	}{
		{"completed paid", EventSessionCompleted, completedSession, payment.OutcomePaid},
		{"completed unpaid", EventSessionCompleted, `{"id":"cs_test_1","payment_status":"unpaid","metadata":{"order_id":"9b1c"}}`, payment.OutcomeProcessing},
		{"async succeeded", EventSessionAsyncPaymentSucceeded, completedSession, payment.OutcomePaid},
		{"async failed", EventSessionAsyncPaymentFailed, `{"id":"cs_test_1","payment_status":"unpaid","client_reference_id":"9b1c"}`, payment.OutcomeFailed},
		{"expired", EventSessionExpired, `{"id":"cs_test_1","status":"expired","client_reference_id":"9b1c"}`, payment.OutcomeCancelled},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			payload := `{"id":"evt_1","object":"event","data":{"object":` + tt.session + `},"type":"` + tt.typ + `"}`

			ev, err := ParseEvent([]byte(payload))
			require.NoError(t, err)

			assert.Equal(t, "evt_1", ev.ID)
			assert.Equal(t, tt.typ, ev.Type)
			require.NotNil(t, ev.Confirmation)
			assert.Equal(t, tt.want, ev.Confirmation.Outcome)
			assert.Equal(t, "9b1c", ev.Confirmation.OrderID)
			assert.Equal(t, "cs_test_1", ev.Confirmation.Reference)
			assert.Equal(t, order.ProviderStripe, ev.Confirmation.Provider)
		})
	}
}

func TestParseEvent_CompletedCarriesAmount(t *testing.T) {
	ev, err := ParseEvent([]byte(`{"id":"evt_1","type":"checkout.session.completed","data":{"object":` + completedSession + `}}`))
	require.NoError(t, err)

	require.NotNil(t, ev.Confirmation)
	assert.Equal(t, "pi_1", ev.Confirmation.ConfirmationID)
	assert.Equal(t, int64(2550), ev.Confirmation.Amount)
	assert.Equal(t, "eur", ev.Confirmation.Currency)
	assert.True(t, ev.Confirmation.HasAmount)
}

func TestParseEvent_UnrelatedType(t *testing.T) {
	ev, err := ParseEvent([]byte(`{"id":"evt_2","type":"customer.created","data":{"object":{"id":"cus_1","email":"x@y.z"}}}`))
	require.NoError(t, err)

	assert.Equal(t, "customer.created", ev.Type)
	assert.Nil(t, ev.Confirmation)
}

func TestParseEvent_Malformed(t *testing.T) {
	for name, payload := range map[string]string{
		"not json":        `{"id":`,
		"array":           `[]`,
		"missing type":    `{"id":"evt_1"}`,
		"missing session": `{"id":"evt_1","type":"checkout.session.completed","data":{}}`,
	} {
		t.Run(name, func(t *testing.T) {
			_, err := ParseEvent([]byte(payload))
			assert.Error(t, err)
		})
	}
}
