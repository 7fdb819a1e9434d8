package payment

import (
	"fmt"

	"github.com/go-faster/errors"

	"github.com/xenking/paybridge/internal/domain/order"
)

// ErrUnknownProvider is returned for a provider with no registered adapter.
var ErrUnknownProvider = errors.New("unknown payment provider")

// ProviderError reports a failed or rejected provider API call.
type ProviderError struct {
	Provider   order.Provider
	Op         string
	StatusCode int
	// Code is the provider's machine readable error name, if any.
	Code      string
	Message   string
	Retryable bool
	Err       error
}

func (e *ProviderError) Error() string {
	msg := fmt.Sprintf("%s %s", e.Provider, e.Op)
	if e.StatusCode != 0 {
		msg += fmt.Sprintf(": status %d", e.StatusCode)
	}
	if e.Code != "" {
		msg += " " + e.Code
	}
	if e.Message != "" {
		msg += ": " + e.Message
	}
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

func (e *ProviderError) Unwrap() error { return e.Err }

// IsRetryable reports whether err is a provider failure worth retrying.
func IsRetryable(err error) bool {
	var pe *ProviderError
	return errors.As(err, &pe) && pe.Retryable
}
