package handler

import (
	"io"
	"net/http"
	"strconv"

	"github.com/go-faster/errors"
	"github.com/go-faster/jx"
	"github.com/go-faster/sdk/zctx"
	"go.uber.org/zap"

	"github.com/xenking/paybridge/internal/domain/order"
	"github.com/xenking/paybridge/internal/domain/payment"
	"github.com/xenking/paybridge/pkg/webhooksig"
)

// retryAfter is sent with 503 responses caused by transient provider failures.
const retryAfter = 5

func writeJSON(w http.ResponseWriter, status int, e *jx.Encoder) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_, _ = w.Write(e.Bytes())
}

// writeError writes the {code, message} error body.
func writeError(w http.ResponseWriter, status int, msg string) {
	var e jx.Encoder
	e.Obj(func(e *jx.Encoder) {
		e.Field("code", func(e *jx.Encoder) { e.Int(status) })
		e.Field("message", func(e *jx.Encoder) { e.Str(msg) })
	})
	writeJSON(w, status, &e)
}

// fail maps a domain error to an HTTP response. Internal details are logged,
// never returned to the client.
func fail(w http.ResponseWriter, r *http.Request, err error) {
	lg := zctx.From(r.Context())

	var (
		validation *order.ValidationError
		conflict   *order.ConflictError
		provider   *payment.ProviderError
		ledger     *order.LedgerError
	)
	switch {
	case errors.As(err, &validation):
		writeError(w, http.StatusBadRequest, validation.Error())
	case errors.Is(err, webhooksig.ErrInvalidSignature):
		lg.Warn("Rejected webhook", zap.Error(err))
		writeError(w, http.StatusBadRequest, "invalid signature")
	case errors.Is(err, order.ErrNotFound):
		lg.Warn("Order not found", zap.Error(err))
		writeError(w, http.StatusNotFound, "order not found")
	case errors.As(err, &conflict):
		lg.Error("Confirmation conflicts with ledger", zap.Error(err))
		writeError(w, http.StatusConflict, "confirmation does not match order")
	case errors.As(err, &provider) && provider.Retryable:
		lg.Warn("Payment provider unavailable", zap.Error(err))
		w.Header().Set("Retry-After", strconv.Itoa(retryAfter))
		writeError(w, http.StatusServiceUnavailable, "payment provider unavailable, retry later")
	case errors.As(err, &provider):
		lg.Error("Payment provider error", zap.Error(err))
		writeError(w, http.StatusInternalServerError, "payment provider error")
	case errors.As(err, &ledger):
		lg.Error("Ledger error", zap.Error(err), zap.String("order_id", ledger.OrderID))
		writeError(w, http.StatusInternalServerError, "internal error")
	default:
		lg.Error("Request failed", zap.Error(err))
		writeError(w, http.StatusInternalServerError, "internal error")
	}
}

// readBody reads at most limit bytes of the request body.
func readBody(w http.ResponseWriter, r *http.Request, limit int64) ([]byte, error) {
	data, err := io.ReadAll(http.MaxBytesReader(w, r.Body, limit))
	if err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			return nil, &order.ValidationError{Field: "body", Reason: "too large"}
		}
		return nil, errors.Wrap(err, "read body")
	}
	return data, nil
}

func malformed(err error) error {
	return &order.ValidationError{Field: "body", Reason: "malformed JSON: " + err.Error()}
}
