// Package provider holds HTTP plumbing shared by the payment provider
// adapters.
package provider

import (
	"io"
	"net/http"
	"time"

	"github.com/go-faster/errors"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"

	"github.com/xenking/paybridge/internal/domain/order"
	"github.com/xenking/paybridge/internal/domain/payment"
)

// DefaultTimeout bounds a single provider call.
const DefaultTimeout = 15 * time.Second

// maxBody caps provider response bodies.
const maxBody = 1 << 20

// NewHTTPClient returns an instrumented client with a hard timeout.
func NewHTTPClient(timeout time.Duration, tp trace.TracerProvider, mp metric.MeterProvider) *http.Client {
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	return &http.Client{
		Timeout: timeout,
		Transport: otelhttp.NewTransport(http.DefaultTransport,
			otelhttp.WithTracerProvider(tp),
			otelhttp.WithMeterProvider(mp),
		),
	}
}

// Do sends req and returns the status and body. Transport failures,
// including timeouts, come back as retryable *payment.ProviderError.
func Do(c *http.Client, p order.Provider, op string, req *http.Request) (int, []byte, error) {
	resp, err := c.Do(req)
	if err != nil {
		return 0, nil, &payment.ProviderError{Provider: p, Op: op, Retryable: true, Err: err}
	}
	defer func() { _ = resp.Body.Close() }()

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxBody))
	if err != nil {
		return resp.StatusCode, nil, &payment.ProviderError{
			Provider:  p,
			Op:        op,
			Retryable: true,
			Err:       errors.Wrap(err, "read body"),
		}
	}
	return resp.StatusCode, body, nil
}

// StatusError builds the error for a non-2xx response. Rate limiting and
// server errors are retryable.
func StatusError(p order.Provider, op string, status int, code, msg string) *payment.ProviderError {
	return &payment.ProviderError{
		Provider:   p,
		Op:         op,
		StatusCode: status,
		Code:       code,
		Message:    msg,
		Retryable:  status == http.StatusTooManyRequests || status >= http.StatusInternalServerError,
	}
}

// DecodeError builds the error for a response body that could not be
// decoded.
func DecodeError(p order.Provider, op string, err error) *payment.ProviderError {
	return &payment.ProviderError{Provider: p, Op: op, Err: errors.Wrap(err, "decode response")}
}

// OK reports whether status is 2xx.
func OK(status int) bool {
	return status >= 200 && status < 300
}
