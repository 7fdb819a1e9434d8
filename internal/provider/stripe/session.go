package stripe

import (
	"github.com/go-faster/errors"
	"github.com/go-faster/jx"

	"github.com/xenking/paybridge/internal/domain/order"
	"github.com/xenking/paybridge/internal/domain/payment"
)

// session holds the Checkout Session fields used for reconciliation.
type session struct {
	ID                string
	Object            string
	URL               string
	Status            string // open, complete, expired
	PaymentStatus     string // paid, unpaid, no_payment_required
	PaymentIntent     string
	ClientReferenceID string
	OrderID           string // metadata.order_id
	AmountTotal       int64
	HasAmount         bool
	Currency          string
}

func (s *session) orderID() string {
	if s.OrderID != "" {
		return s.OrderID
	}
	return s.ClientReferenceID
}

func (s *session) paid() bool {
	return s.PaymentStatus == "paid" || s.PaymentStatus == "no_payment_required"
}

// outcome maps the session state for a retrieve call.
func (s *session) outcome() payment.Outcome {
	switch s.Status {
	case "complete":
		if s.paid() {
			return payment.OutcomePaid
		}
		return payment.OutcomeProcessing
	case "expired":
		return payment.OutcomeCancelled
	default:
		return payment.OutcomePending
	}
}

func (s *session) confirmation(outcome payment.Outcome) payment.Confirmation {
	return payment.Confirmation{
		Provider:       order.ProviderStripe,
		OrderID:        s.orderID(),
		Reference:      s.ID,
		ConfirmationID: s.PaymentIntent,
		Outcome:        outcome,
		Amount:         s.AmountTotal,
		Currency:       s.Currency,
		HasAmount:      s.HasAmount,
	}
}

func decodeSession(data []byte) (*session, error) {
	var s session
	if err := s.decode(jx.DecodeBytes(data)); err != nil {
		return nil, err
	}
	return &s, nil
}

func (s *session) decode(d *jx.Decoder) error {
	return d.Obj(func(d *jx.Decoder, key string) error {
		if d.Next() == jx.Null {
			return d.Null()
		}
		var err error
		switch key {
		case "id":
			s.ID, err = d.Str()
		case "object":
			s.Object, err = d.Str()
		case "url":
			s.URL, err = d.Str()
		case "status":
			s.Status, err = d.Str()
		case "payment_status":
			s.PaymentStatus, err = d.Str()
		case "client_reference_id":
			s.ClientReferenceID, err = d.Str()
		case "currency":
			s.Currency, err = d.Str()
		case "amount_total":
			s.AmountTotal, err = d.Int64()
			s.HasAmount = err == nil
		case "payment_intent":
			s.PaymentIntent, err = decodeExpandable(d)
		case "metadata":
			err = d.Obj(func(d *jx.Decoder, key string) error {
				if key != "order_id" || d.Next() != jx.String {
					return d.Skip()
				}
				v, err := d.Str()
				s.OrderID = v
				return err
			})
		default:
			err = d.Skip()
		}
		return errors.Wrap(err, key)
	})
}

// decodeExpandable reads a field that is either an id string or an expanded
// object carrying an id.
func decodeExpandable(d *jx.Decoder) (string, error) {
	switch d.Next() {
	case jx.String:
		return d.Str()
	case jx.Object:
		var id string
		err := d.Obj(func(d *jx.Decoder, key string) error {
			if key == "id" && d.Next() == jx.String {
				v, err := d.Str()
				id = v
				return err
			}
			return d.Skip()
		})
		return id, err
	default:
		return "", d.Skip()
	}
}

// decodeError extracts the type/code and message of a Stripe error body.
func decodeError(body []byte) (code, msg string) {
	_ = jx.DecodeBytes(body).Obj(func(d *jx.Decoder, key string) error {
		if key != "error" || d.Next() != jx.Object {
			return d.Skip()
		}
		return d.Obj(func(d *jx.Decoder, key string) error {
			if d.Next() != jx.String {
				return d.Skip()
			}
			var err error
			switch key {
			case "code":
				code, err = d.Str()
			case "type":
				var t string
				t, err = d.Str()
				if code == "" {
					code = t
				}
			case "message":
				msg, err = d.Str()
			default:
				err = d.Skip()
			}
			return err
		})
	})
	return code, msg
}
