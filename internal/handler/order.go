package handler

import (
	"net/http"
	"time"

	"github.com/go-faster/errors"
	"github.com/go-faster/jx"

	"github.com/xenking/paybridge/internal/domain/order"
	"github.com/xenking/paybridge/internal/domain/reconcile"
)

// CapturePayPal handles POST /api/paypal/capture with
// {"providerOrderId": "..."} (or the older "paypalOrderId").
func (h *Handler) CapturePayPal(w http.ResponseWriter, r *http.Request) {
	body, err := readBody(w, r, maxCaptureBody)
	if err != nil {
		fail(w, r, err)
		return
	}

	var ref string
	err = jx.DecodeBytes(body).Obj(func(d *jx.Decoder, key string) error {
		switch key {
		case "providerOrderId", "paypalOrderId":
			if ref != "" {
				return d.Skip()
			}
			return decodeText(d, &ref)
		default:
			return d.Skip()
		}
	})
	if err != nil {
		fail(w, r, malformed(err))
		return
	}

	res, err := h.payments.Capture(r.Context(), order.ProviderPayPal, ref)
	if err != nil {
		fail(w, r, errors.Wrap(err, "capture"))
		return
	}

	var e jx.Encoder
	e.Obj(func(e *jx.Encoder) {
		e.Field("ok", func(e *jx.Encoder) { e.Bool(res.Status == order.StatusPaid) })
		e.Field("status", func(e *jx.Encoder) { e.Str(string(captureStatus(res))) })
		if res.OrderID != "" {
			e.Field("orderId", func(e *jx.Encoder) { e.Str(res.OrderID) })
		}
	})
	writeJSON(w, http.StatusOK, &e)
}

// captureStatus reports pending for deferred captures, whose Result carries
// the unchanged ledger status.
func captureStatus(res reconcile.Result) order.Status {
	if res.Status == "" {
		return order.StatusPending
	}
	return res.Status
}

// GetOrder handles GET /api/orders/{id} for the success page.
func (h *Handler) GetOrder(w http.ResponseWriter, r *http.Request) {
	o, err := h.orders.GetByID(r.Context(), r.PathValue("id"))
	if err != nil {
		if !errors.Is(err, order.ErrNotFound) {
			err = &order.LedgerError{Op: "get order", Err: err}
		}
		fail(w, r, err)
		return
	}

	var e jx.Encoder
	e.Obj(func(e *jx.Encoder) {
		e.Field("id", func(e *jx.Encoder) { e.Str(o.ID) })
		e.Field("status", func(e *jx.Encoder) { e.Str(string(o.Status)) })
		e.Field("total", func(e *jx.Encoder) { e.Num(jx.Num(o.Total.StringFixed(2))) })
		e.Field("currency", func(e *jx.Encoder) { e.Str(o.Currency) })
		e.Field("provider", func(e *jx.Encoder) { e.Str(string(o.Provider)) })
		e.Field("createdAt", func(e *jx.Encoder) { e.Str(o.CreatedAt.UTC().Format(time.RFC3339)) })
		if o.PaidAt != nil {
			e.Field("paidAt", func(e *jx.Encoder) { e.Str(o.PaidAt.UTC().Format(time.RFC3339)) })
		}
	})
	writeJSON(w, http.StatusOK, &e)
}
