// Package stripe implements the session based Stripe Checkout flow: a
// hosted session is created up front and the outcome is pushed back through
// signed webhooks.
package stripe

import (
	"context"
	"net/http"
	"net/url"
	"strconv"
	"strings"

	"github.com/xenking/paybridge/internal/domain/order"
	"github.com/xenking/paybridge/internal/domain/payment"
	"github.com/xenking/paybridge/internal/provider"
)

// DefaultAPIBase is the production API endpoint.
const DefaultAPIBase = "https://api.stripe.com"

var (
	_ payment.Adapter     = (*Client)(nil)
	_ payment.EventParser = (*Client)(nil)
)

// Config holds Stripe API settings.
type Config struct {
	APIBase   string
	SecretKey string
}

// Client talks to the Stripe REST API.
type Client struct {
	base string
	key  string
	http *http.Client
}

// New creates a Client. httpClient may be nil in tests.
func New(cfg Config, httpClient *http.Client) *Client {
	base := strings.TrimRight(cfg.APIBase, "/")
	if base == "" {
		base = DefaultAPIBase
	}
	if httpClient == nil {
		httpClient = http.DefaultClient
	}
	return &Client{base: base, key: cfg.SecretKey, http: httpClient}
}

func (c *Client) Provider() order.Provider { return order.ProviderStripe }

// CreateCheckout creates a Checkout Session. The order id is set as both
// client_reference_id and metadata so webhooks can be correlated before the
// session id is stored.
func (c *Client) CreateCheckout(ctx context.Context, req payment.CheckoutRequest) (*payment.CheckoutHandle, error) {
	const op = "create checkout session"

	form := url.Values{}
	form.Set("mode", "payment")
	form.Set("customer_email", req.Email)
	form.Set("client_reference_id", req.OrderID)
	form.Set("metadata[order_id]", req.OrderID)
	form.Set("payment_intent_data[metadata][order_id]", req.OrderID)
	form.Set("success_url", withSessionPlaceholder(req.SuccessURL))
	form.Set("cancel_url", req.CancelURL)

	currency := strings.ToLower(req.Currency)
	for i, it := range req.Items {
		prefix := "line_items[" + strconv.Itoa(i) + "]"
		form.Set(prefix+"[quantity]", strconv.Itoa(it.Qty))
		form.Set(prefix+"[price_data][currency]", currency)
		form.Set(prefix+"[price_data][unit_amount]", strconv.FormatInt(payment.MinorUnits(it.Price), 10))
		form.Set(prefix+"[price_data][product_data][name]", it.Name)
	}

	httpReq, err := c.newRequest(ctx, http.MethodPost, "/v1/checkout/sessions", strings.NewReader(form.Encode()))
	if err != nil {
		return nil, err
	}
	httpReq.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	if req.IdempotencyKey != "" {
		httpReq.Header.Set("Idempotency-Key", "checkout-"+req.IdempotencyKey)
	}

	s, err := c.doSession(op, httpReq)
	if err != nil {
		return nil, err
	}
	if s.ID == "" || s.URL == "" {
		return nil, &payment.ProviderError{Provider: order.ProviderStripe, Op: op, Message: "session without id or url"}
	}
	return &payment.CheckoutHandle{Reference: s.ID, RedirectURL: s.URL}, nil
}

// Capture retrieves the session. Stripe captures automatically, so this only
// reports the current state.
func (c *Client) Capture(ctx context.Context, reference string) (*payment.Confirmation, error) {
	httpReq, err := c.newRequest(ctx, http.MethodGet, "/v1/checkout/sessions/"+url.PathEscape(reference), nil)
	if err != nil {
		return nil, err
	}
	s, err := c.doSession("retrieve checkout session", httpReq)
	if err != nil {
		return nil, err
	}
	conf := s.confirmation(s.outcome())
	return &conf, nil
}

// Expire expires an open session. Stripe refuses sessions that are already
// complete or expired.
func (c *Client) Expire(ctx context.Context, reference string) (*payment.Confirmation, error) {
	httpReq, err := c.newRequest(ctx, http.MethodPost, "/v1/checkout/sessions/"+url.PathEscape(reference)+"/expire", nil)
	if err != nil {
		return nil, err
	}
	s, err := c.doSession("expire checkout session", httpReq)
	if err != nil {
		return nil, err
	}
	conf := s.confirmation(s.outcome())
	return &conf, nil
}

func (c *Client) newRequest(ctx context.Context, method, path string, body *strings.Reader) (*http.Request, error) {
	var (
		req *http.Request
		err error
	)
	if body == nil {
		req, err = http.NewRequestWithContext(ctx, method, c.base+path, nil)
	} else {
		req, err = http.NewRequestWithContext(ctx, method, c.base+path, body)
	}
	if err != nil {
		return nil, &payment.ProviderError{Provider: order.ProviderStripe, Op: "build request", Err: err}
	}
	req.Header.Set("Authorization", "Bearer "+c.key)
	req.Header.Set("Accept", "application/json")
	return req, nil
}

func (c *Client) doSession(op string, req *http.Request) (*session, error) {
	status, body, err := provider.Do(c.http, order.ProviderStripe, op, req)
	if err != nil {
		return nil, err
	}
	if !provider.OK(status) {
		code, msg := decodeError(body)
		return nil, provider.StatusError(order.ProviderStripe, op, status, code, msg)
	}
	s, err := decodeSession(body)
	if err != nil {
		return nil, provider.DecodeError(order.ProviderStripe, op, err)
	}
	return s, nil
}

// withSessionPlaceholder appends the template Stripe substitutes with the
// session id on redirect.
func withSessionPlaceholder(u string) string {
	sep := "?"
	if strings.Contains(u, "?") {
		sep = "&"
	}
	return u + sep + "session_id={CHECKOUT_SESSION_ID}"
}
