package app

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	metricnoop "go.opentelemetry.io/otel/metric/noop"
	tracenoop "go.opentelemetry.io/otel/trace/noop"
)

func TestSkipRateLimit(t *testing.T) {
	tests := []struct {
		path string
		skip bool
	}{
		{"/api/webhooks/stripe", true},
		{"/livez", true},
		{"/readyz", true},
		{"/api/checkout", false},
		{"/api/paypal/capture", false},
		{"/api/orders/123", false},
	}
	for _, tt := range tests {
		t.Run(tt.path, func(t *testing.T) {
			r := httptest.NewRequest(http.MethodPost, tt.path, nil)
			assert.Equal(t, tt.skip, skipRateLimit(r))
		})
	}
}

func TestNewProviders(t *testing.T) {
	cfg := validConfig()
	p := NewProviders(cfg, tracenoop.NewTracerProvider(), metricnoop.NewMeterProvider())
	assert.Nil(t, p.PayPal)
	assert.Len(t, p.Registry.Providers(), 1)

	cfg.PayPal = PayPalConfig{ClientID: "id", Secret: "s"}
	p = NewProviders(cfg, tracenoop.NewTracerProvider(), metricnoop.NewMeterProvider())
	assert.NotNil(t, p.PayPal)
	assert.Len(t, p.Registry.Providers(), 2)
}
