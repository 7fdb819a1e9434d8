package handler

import (
	"net/http"
	"strconv"

	"github.com/go-faster/errors"
	"github.com/go-faster/jx"

	"github.com/xenking/paybridge/internal/domain/checkout"
	"github.com/xenking/paybridge/internal/domain/order"
)

// Checkout handles POST /api/checkout:
//
//	{"email": "...", "cart": [{"id","name","price","qty"}], "provider": "stripe"}
//
// An Idempotency-Key header makes retries return the original redirect.
func (h *Handler) Checkout(w http.ResponseWriter, r *http.Request) {
	body, err := readBody(w, r, maxCheckoutBody)
	if err != nil {
		fail(w, r, err)
		return
	}
	req, err := decodeCheckoutRequest(body)
	if err != nil {
		fail(w, r, malformed(err))
		return
	}
	req.IdempotencyKey = r.Header.Get("Idempotency-Key")

	res, err := h.checkouts.Checkout(r.Context(), req)
	if err != nil {
		fail(w, r, err)
		return
	}

	var e jx.Encoder
	e.Obj(func(e *jx.Encoder) {
		e.Field("redirectURL", func(e *jx.Encoder) { e.Str(res.RedirectURL) })
		e.Field("orderId", func(e *jx.Encoder) { e.Str(res.OrderID) })
		e.Field("provider", func(e *jx.Encoder) { e.Str(string(res.Provider)) })
		e.Field("providerReference", func(e *jx.Encoder) { e.Str(res.Reference) })
	})
	writeJSON(w, http.StatusOK, &e)
}

func decodeCheckoutRequest(data []byte) (checkout.Request, error) {
	var req checkout.Request
	err := jx.DecodeBytes(data).Obj(func(d *jx.Decoder, key string) error {
		switch key {
		case "email":
			return errors.Wrap(decodeText(d, &req.Email), "email")
		case "provider":
			return errors.Wrap(decodeText(d, &req.Provider), "provider")
		case "cart":
			if d.Next() == jx.Null {
				return d.Null()
			}
			return d.Arr(func(d *jx.Decoder) error {
				line, err := decodeCartLine(d)
				if err != nil {
					return errors.Wrapf(err, "cart[%d]", len(req.Cart))
				}
				req.Cart = append(req.Cart, line)
				return nil
			})
		default:
			return d.Skip()
		}
	})
	return req, err
}

// decodeCartLine accepts prices and quantities as numbers or strings; values
// that cannot be read are left for order.SanitizeCart to clamp.
func decodeCartLine(d *jx.Decoder) (order.CartLine, error) {
	var line order.CartLine
	if d.Next() != jx.Object {
		return line, errors.New("cart line must be an object")
	}
	err := d.Obj(func(d *jx.Decoder, key string) error {
		switch key {
		case "id":
			return decodeText(d, &line.ProductID)
		case "name":
			return decodeText(d, &line.Name)
		case "price":
			return decodeText(d, &line.Price)
		case "qty":
			var raw string
			if err := decodeText(d, &raw); err != nil {
				return err
			}
			if q, err := strconv.ParseFloat(raw, 64); err == nil {
				line.Qty = q
			}
			return nil
		default:
			return d.Skip()
		}
	})
	return line, err
}

// decodeText reads a string or number as text. Other JSON types are skipped.
func decodeText(d *jx.Decoder, dst *string) error {
	switch d.Next() {
	case jx.String:
		v, err := d.Str()
		*dst = v
		return err
	case jx.Number:
		n, err := d.Num()
		*dst = n.String()
		return err
	default:
		return d.Skip()
	}
}
