package stripe

import (
	"github.com/go-faster/errors"
	"github.com/go-faster/jx"

	"github.com/xenking/paybridge/internal/domain/payment"
)

// Checkout Session event types carrying a payment outcome.
const (
	EventSessionCompleted             = "checkout.session.completed"
	EventSessionAsyncPaymentSucceeded = "checkout.session.async_payment_succeeded"
	EventSessionAsyncPaymentFailed    = "checkout.session.async_payment_failed"
	EventSessionExpired               = "checkout.session.expired"
)

// ParseEvent decodes a verified webhook body. Event types other than the
// Checkout Session ones above yield an Event without Confirmation.
func (c *Client) ParseEvent(payload []byte) (*payment.Event, error) {
	return ParseEvent(payload)
}

// ParseEvent is the stateless form of Client.ParseEvent.
func ParseEvent(payload []byte) (*payment.Event, error) {
	var (
		ev     payment.Event
		obj    session
		hasObj bool
	)
	err := jx.DecodeBytes(payload).Obj(func(d *jx.Decoder, key string) error {
		switch key {
		case "id":
			v, err := d.Str()
			ev.ID = v
			return errors.Wrap(err, "id")
		case "type":
			v, err := d.Str()
			ev.Type = v
			return errors.Wrap(err, "type")
		case "data":
			return d.Obj(func(d *jx.Decoder, key string) error {
				if key != "object" || d.Next() != jx.Object {
					return d.Skip()
				}
				hasObj = true
				return errors.Wrap(obj.decode(d), "data.object")
			})
		default:
			return d.Skip()
		}
	})
	if err != nil {
		return nil, errors.Wrap(err, "decode stripe event")
	}
	if ev.Type == "" {
		return nil, errors.New("decode stripe event: missing type")
	}

	outcome, ok := eventOutcome(ev.Type, &obj)
	if !ok {
		return &ev, nil
	}
	if !hasObj || obj.ID == "" {
		return nil, errors.Errorf("decode stripe event: %s without session", ev.Type)
	}
	conf := obj.confirmation(outcome)
	ev.Confirmation = &conf
	return &ev, nil
}

func eventOutcome(typ string, s *session) (payment.Outcome, bool) {
	switch typ {
	case EventSessionCompleted:
		// Delayed methods (SEPA, Sofort) complete the session unpaid and
		// settle later through async_payment_succeeded.
		if s.paid() {
			return payment.OutcomePaid, true
		}
		return payment.OutcomeProcessing, true
	case EventSessionAsyncPaymentSucceeded:
		return payment.OutcomePaid, true
	case EventSessionAsyncPaymentFailed:
		return payment.OutcomeFailed, true
	case EventSessionExpired:
		return payment.OutcomeCancelled, true
	default:
		return "", false
	}
}
