package paypal

import (
	"slices"

	"github.com/go-faster/errors"
	"github.com/go-faster/jx"
	"github.com/shopspring/decimal"

	"github.com/xenking/paybridge/internal/domain/order"
	"github.com/xenking/paybridge/internal/domain/payment"
)

// ppOrder holds the Orders v2 fields used for reconciliation.
type ppOrder struct {
	ID          string
	Status      string
	ReferenceID string
	CustomID    string
	Captures    []capture
	Links       []link
}

type capture struct {
	ID       string
	Status   string
	Value    string
	Currency string
}

type link struct {
	Href string
	Rel  string
}

func (o *ppOrder) approveLink() string {
	for _, rel := range []string{"approve", "payer-action"} {
		for _, l := range o.Links {
			if l.Rel == rel {
				return l.Href
			}
		}
	}
	return ""
}

func (o *ppOrder) confirmation(reference string) payment.Confirmation {
	conf := payment.Confirmation{
		Provider:  order.ProviderPayPal,
		OrderID:   o.ReferenceID,
		Reference: o.ID,
		Outcome:   payment.OutcomePending,
	}
	if conf.OrderID == "" {
		conf.OrderID = o.CustomID
	}
	if conf.Reference == "" {
		conf.Reference = reference
	}

	if o.Status == "VOIDED" {
		conf.Outcome = payment.OutcomeCancelled
		return conf
	}
	if len(o.Captures) == 0 {
		if o.Status == "COMPLETED" {
			conf.Outcome = payment.OutcomeProcessing
		}
		return conf
	}

	c := o.Captures[len(o.Captures)-1]
	conf.ConfirmationID = c.ID
	switch c.Status {
	case "COMPLETED", "REFUNDED", "PARTIALLY_REFUNDED":
		conf.Outcome = payment.OutcomePaid
	case "PENDING":
		conf.Outcome = payment.OutcomeProcessing
	case "DECLINED", "FAILED":
		conf.Outcome = payment.OutcomeFailed
	}
	if v, err := decimal.NewFromString(c.Value); err == nil {
		conf.Amount = payment.MinorUnits(v)
		conf.Currency = c.Currency
		conf.HasAmount = true
	}
	return conf
}

func decodeOrder(data []byte) (*ppOrder, error) {
	var o ppOrder
	err := jx.DecodeBytes(data).Obj(func(d *jx.Decoder, key string) error {
		var err error
		switch key {
		case "id":
			o.ID, err = d.Str()
		case "status":
			o.Status, err = d.Str()
		case "links":
			err = d.Arr(func(d *jx.Decoder) error {
				var l link
				if err := decodeStrings(d, map[string]*string{"href": &l.Href, "rel": &l.Rel}); err != nil {
					return err
				}
				o.Links = append(o.Links, l)
				return nil
			})
		case "purchase_units":
			first := true
			err = d.Arr(func(d *jx.Decoder) error {
				if !first {
					return d.Skip()
				}
				first = false
				return o.decodeUnit(d)
			})
		default:
			err = d.Skip()
		}
		return errors.Wrap(err, key)
	})
	if err != nil {
		return nil, err
	}
	return &o, nil
}

func (o *ppOrder) decodeUnit(d *jx.Decoder) error {
	return d.Obj(func(d *jx.Decoder, key string) error {
		switch key {
		case "reference_id":
			v, err := d.Str()
			o.ReferenceID = v
			return err
		case "custom_id":
			v, err := d.Str()
			o.CustomID = v
			return err
		case "payments":
			return d.Obj(func(d *jx.Decoder, key string) error {
				if key != "captures" {
					return d.Skip()
				}
				return d.Arr(func(d *jx.Decoder) error {
					c, err := decodeCapture(d)
					if err != nil {
						return err
					}
					o.Captures = append(o.Captures, c)
					return nil
				})
			})
		default:
			return d.Skip()
		}
	})
}

func decodeCapture(d *jx.Decoder) (capture, error) {
	var c capture
	err := d.Obj(func(d *jx.Decoder, key string) error {
		switch key {
		case "id":
			v, err := d.Str()
			c.ID = v
			return err
		case "status":
			v, err := d.Str()
			c.Status = v
			return err
		case "amount":
			return decodeStrings(d, map[string]*string{"value": &c.Value, "currency_code": &c.Currency})
		default:
			return d.Skip()
		}
	})
	return c, err
}

// decodeStrings reads an object, storing the string fields named in dst and
// skipping everything else.
func decodeStrings(d *jx.Decoder, dst map[string]*string) error {
	return d.Obj(func(d *jx.Decoder, key string) error {
		p, ok := dst[key]
		if !ok || d.Next() != jx.String {
			return d.Skip()
		}
		v, err := d.Str()
		*p = v
		return err
	})
}

// apiError is the PayPal REST error body.
type apiError struct {
	Name    string
	Message string
	Issues  []string
}

func (e apiError) has(issue string) bool {
	return slices.Contains(e.Issues, issue)
}

func (e apiError) code() string {
	if len(e.Issues) > 0 {
		return e.Issues[0]
	}
	return e.Name
}

func decodeError(body []byte) apiError {
	var e apiError
	_ = jx.DecodeBytes(body).Obj(func(d *jx.Decoder, key string) error {
		switch key {
		case "name":
			return decodeStr(d, &e.Name)
		case "message":
			return decodeStr(d, &e.Message)
		case "details":
			return d.Arr(func(d *jx.Decoder) error {
				var issue string
				if err := decodeStrings(d, map[string]*string{"issue": &issue}); err != nil {
					return err
				}
				if issue != "" {
					e.Issues = append(e.Issues, issue)
				}
				return nil
			})
		default:
			return d.Skip()
		}
	})
	return e
}

func decodeOAuthError(body []byte) (code, msg string) {
	_ = decodeStrings(jx.DecodeBytes(body), map[string]*string{
		"error":             &code,
		"error_description": &msg,
	})
	return code, msg
}

func decodeStr(d *jx.Decoder, dst *string) error {
	if d.Next() != jx.String {
		return d.Skip()
	}
	v, err := d.Str()
	*dst = v
	return err
}
