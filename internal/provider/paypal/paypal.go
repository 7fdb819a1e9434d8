// Package paypal implements the PayPal Orders v2 flow: an order is created
// and approved by the buyer, then captured explicitly when the buyer returns
// to the shop.
package paypal

import (
	"bytes"
	"context"
	"net/http"
	"net/url"
	"strings"

	"github.com/go-faster/jx"

	"github.com/xenking/paybridge/internal/domain/order"
	"github.com/xenking/paybridge/internal/domain/payment"
	"github.com/xenking/paybridge/internal/provider"
)

// DefaultAPIBase is the sandbox endpoint; production is https://api-m.paypal.com.
const DefaultAPIBase = "https://api-m.sandbox.paypal.com"

// Issues returned with 422 on capture.
const (
	issueAlreadyCaptured = "ORDER_ALREADY_CAPTURED"
	issueNotApproved     = "ORDER_NOT_APPROVED"
	issueDeclined        = "INSTRUMENT_DECLINED"
)

var _ payment.Adapter = (*Client)(nil)

// Config holds PayPal REST credentials.
type Config struct {
	APIBase  string
	ClientID string
	Secret   string
}

// Client talks to the PayPal REST API.
type Client struct {
	base     string
	clientID string
	secret   string
	http     *http.Client
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
	return &Client{base: base, clientID: cfg.ClientID, secret: cfg.Secret, http: httpClient}
}

func (c *Client) Provider() order.Provider { return order.ProviderPayPal }

// CreateCheckout creates an order with intent CAPTURE and returns the buyer
// approval link.
func (c *Client) CreateCheckout(ctx context.Context, req payment.CheckoutRequest) (*payment.CheckoutHandle, error) {
	const op = "create order"

	token, err := c.token(ctx)
	if err != nil {
		return nil, err
	}

	var e jx.Encoder
	e.Obj(func(e *jx.Encoder) {
		e.Field("intent", func(e *jx.Encoder) { e.Str("CAPTURE") })
		e.Field("purchase_units", func(e *jx.Encoder) {
			e.Arr(func(e *jx.Encoder) {
				e.Obj(func(e *jx.Encoder) {
					e.Field("reference_id", func(e *jx.Encoder) { e.Str(req.OrderID) })
					e.Field("custom_id", func(e *jx.Encoder) { e.Str(req.OrderID) })
					e.Field("amount", func(e *jx.Encoder) {
						e.Obj(func(e *jx.Encoder) {
							e.Field("currency_code", func(e *jx.Encoder) { e.Str(strings.ToUpper(req.Currency)) })
							e.Field("value", func(e *jx.Encoder) { e.Str(payment.FormatAmount(payment.AmountDue(req.Items))) })
						})
					})
				})
			})
		})
		e.Field("application_context", func(e *jx.Encoder) {
			e.Obj(func(e *jx.Encoder) {
				e.Field("return_url", func(e *jx.Encoder) { e.Str(req.SuccessURL) })
				e.Field("cancel_url", func(e *jx.Encoder) { e.Str(req.CancelURL) })
				e.Field("user_action", func(e *jx.Encoder) { e.Str("PAY_NOW") })
			})
		})
	})

	httpReq, err := c.newRequest(ctx, http.MethodPost, "/v2/checkout/orders", token, e.Bytes())
	if err != nil {
		return nil, err
	}
	if req.IdempotencyKey != "" {
		httpReq.Header.Set("PayPal-Request-Id", "checkout-"+req.IdempotencyKey)
	}

	status, body, err := provider.Do(c.http, order.ProviderPayPal, op, httpReq)
	if err != nil {
		return nil, err
	}
	if !provider.OK(status) {
		perr := decodeError(body)
		return nil, provider.StatusError(order.ProviderPayPal, op, status, perr.code(), perr.Message)
	}
	o, err := decodeOrder(body)
	if err != nil {
		return nil, provider.DecodeError(order.ProviderPayPal, op, err)
	}
	link := o.approveLink()
	if o.ID == "" || link == "" {
		return nil, &payment.ProviderError{Provider: order.ProviderPayPal, Op: op, Message: "order without id or approve link"}
	}
	return &payment.CheckoutHandle{Reference: o.ID, RedirectURL: link}, nil
}

// Capture captures an approved order. Capturing twice is safe: the second
// attempt reads the order back and reports the original capture.
func (c *Client) Capture(ctx context.Context, reference string) (*payment.Confirmation, error) {
	const op = "capture order"

	token, err := c.token(ctx)
	if err != nil {
		return nil, err
	}
	path := "/v2/checkout/orders/" + url.PathEscape(reference)

	httpReq, err := c.newRequest(ctx, http.MethodPost, path+"/capture", token, []byte("{}"))
	if err != nil {
		return nil, err
	}
	httpReq.Header.Set("PayPal-Request-Id", "capture-"+reference)

	status, body, err := provider.Do(c.http, order.ProviderPayPal, op, httpReq)
	if err != nil {
		return nil, err
	}
	if !provider.OK(status) {
		perr := decodeError(body)
		if status == http.StatusUnprocessableEntity {
			switch {
			case perr.has(issueAlreadyCaptured):
				return c.get(ctx, token, reference)
			case perr.has(issueNotApproved), perr.has(issueDeclined):
				// The buyer can still approve or pick another funding source.
				return &payment.Confirmation{
					Provider:  order.ProviderPayPal,
					Reference: reference,
					Outcome:   payment.OutcomePending,
				}, nil
			}
		}
		return nil, provider.StatusError(order.ProviderPayPal, op, status, perr.code(), perr.Message)
	}

	o, err := decodeOrder(body)
	if err != nil {
		return nil, provider.DecodeError(order.ProviderPayPal, op, err)
	}
	conf := o.confirmation(reference)
	return &conf, nil
}

// Expire reports the order as cancelled without calling PayPal, which has no
// way to void an order created with intent CAPTURE. Funds only move through
// Capture, and reconcile refuses to capture an order the ledger has closed.
func (c *Client) Expire(_ context.Context, reference string) (*payment.Confirmation, error) {
	return &payment.Confirmation{
		Provider:  order.ProviderPayPal,
		Reference: reference,
		Outcome:   payment.OutcomeCancelled,
	}, nil
}

func (c *Client) get(ctx context.Context, token, reference string) (*payment.Confirmation, error) {
	const op = "get order"

	httpReq, err := c.newRequest(ctx, http.MethodGet, "/v2/checkout/orders/"+url.PathEscape(reference), token, nil)
	if err != nil {
		return nil, err
	}
	status, body, err := provider.Do(c.http, order.ProviderPayPal, op, httpReq)
	if err != nil {
		return nil, err
	}
	if !provider.OK(status) {
		perr := decodeError(body)
		return nil, provider.StatusError(order.ProviderPayPal, op, status, perr.code(), perr.Message)
	}
	o, err := decodeOrder(body)
	if err != nil {
		return nil, provider.DecodeError(order.ProviderPayPal, op, err)
	}
	conf := o.confirmation(reference)
	return &conf, nil
}

// token fetches an OAuth2 client-credentials access token.
func (c *Client) token(ctx context.Context) (string, error) {
	const op = "oauth token"

	form := url.Values{"grant_type": {"client_credentials"}}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.base+"/v1/oauth2/token", strings.NewReader(form.Encode()))
	if err != nil {
		return "", &payment.ProviderError{Provider: order.ProviderPayPal, Op: op, Err: err}
	}
	req.SetBasicAuth(c.clientID, c.secret)
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	req.Header.Set("Accept", "application/json")

	status, body, err := provider.Do(c.http, order.ProviderPayPal, op, req)
	if err != nil {
		return "", err
	}
	if !provider.OK(status) {
		code, msg := decodeOAuthError(body)
		return "", provider.StatusError(order.ProviderPayPal, op, status, code, msg)
	}

	var token string
	err = jx.DecodeBytes(body).Obj(func(d *jx.Decoder, key string) error {
		if key != "access_token" {
			return d.Skip()
		}
		v, err := d.Str()
		token = v
		return err
	})
	if err != nil {
		return "", provider.DecodeError(order.ProviderPayPal, op, err)
	}
	if token == "" {
		return "", &payment.ProviderError{Provider: order.ProviderPayPal, Op: op, Message: "empty access token"}
	}
	return token, nil
}

func (c *Client) newRequest(ctx context.Context, method, path, token string, body []byte) (*http.Request, error) {
	var (
		req *http.Request
		err error
	)
	if body == nil {
		req, err = http.NewRequestWithContext(ctx, method, c.base+path, nil)
	} else {
		req, err = http.NewRequestWithContext(ctx, method, c.base+path, bytes.NewReader(body))
		if err == nil {
			req.Header.Set("Content-Type", "application/json")
		}
	}
	if err != nil {
		return nil, &payment.ProviderError{Provider: order.ProviderPayPal, Op: "build request", Err: err}
	}
	req.Header.Set("Authorization", "Bearer "+token)
	req.Header.Set("Accept", "application/json")
	return req, nil
}
