package handler

import (
	"net/http"

	"github.com/go-faster/errors"
	"github.com/go-faster/jx"
	"github.com/go-faster/sdk/zctx"
	"go.uber.org/zap"

	"github.com/xenking/paybridge/internal/domain/order"
)

// StripeWebhook handles POST /api/webhooks/stripe. The signature is checked
// over the raw body before anything is decoded.
func (h *Handler) StripeWebhook(w http.ResponseWriter, r *http.Request) {
	payload, err := readBody(w, r, maxWebhookBody)
	if err != nil {
		fail(w, r, err)
		return
	}
	if err := h.stripeVerify.Verify(payload, r.Header.Get("Stripe-Signature")); err != nil {
		fail(w, r, err)
		return
	}

	ev, err := h.stripeEvents.ParseEvent(payload)
	if err != nil {
		fail(w, r, &order.ValidationError{Field: "event", Reason: err.Error()})
		return
	}

	res, err := h.payments.HandleEvent(r.Context(), order.ProviderStripe, ev)
	if err != nil {
		fail(w, r, errors.Wrapf(err, "event %s", ev.ID))
		return
	}

	zctx.From(r.Context()).Info("Webhook processed",
		zap.String("event_id", ev.ID),
		zap.String("event_type", ev.Type),
		zap.String("order_id", res.OrderID),
		zap.String("action", string(res.Action)),
	)

	var e jx.Encoder
	e.Obj(func(e *jx.Encoder) {
		e.Field("received", func(e *jx.Encoder) { e.Bool(true) })
		e.Field("action", func(e *jx.Encoder) { e.Str(string(res.Action)) })
	})
	writeJSON(w, http.StatusOK, &e)
}
