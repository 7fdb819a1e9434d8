// Package export dumps ledger orders as newline delimited JSON for manual
// reconciliation against provider reports.
package export

import (
	"context"
	"io"
	"time"

	"github.com/go-faster/errors"
	"github.com/go-faster/jx"
	"github.com/klauspost/pgzip"

	"github.com/xenking/paybridge/internal/domain/order"
)

// Lister reads orders from the ledger.
type Lister interface {
	List(ctx context.Context, f order.Filter) ([]order.Order, error)
}

// Options controls an export run.
type Options struct {
	Filter order.Filter
	// Gzip compresses the output with parallel gzip.
	Gzip bool
}

// Write lists the orders matching opts.Filter and writes one JSON object per
// line to w. It returns the number of orders written.
func Write(ctx context.Context, orders Lister, w io.Writer, opts Options) (int, error) {
	list, err := orders.List(ctx, opts.Filter)
	if err != nil {
		return 0, errors.Wrap(err, "list orders")
	}

	out := w
	var zw *pgzip.Writer
	if opts.Gzip {
		zw = pgzip.NewWriter(w)
		out = zw
	}

	e := jx.GetEncoder()
	defer jx.PutEncoder(e)
	for i := range list {
		if err := ctx.Err(); err != nil {
			return i, err
		}
		e.Reset()
		encodeOrder(e, &list[i])
		e.Raw([]byte{'\n'})
		if _, err := out.Write(e.Bytes()); err != nil {
			return i, errors.Wrap(err, "write")
		}
	}

	if zw != nil {
		if err := zw.Close(); err != nil {
			return len(list), errors.Wrap(err, "close gzip")
		}
	}
	return len(list), nil
}

func encodeOrder(e *jx.Encoder, o *order.Order) {
	e.Obj(func(e *jx.Encoder) {
		e.Field("id", func(e *jx.Encoder) { e.Str(o.ID) })
		e.Field("email", func(e *jx.Encoder) { e.Str(o.Email) })
		e.Field("status", func(e *jx.Encoder) { e.Str(string(o.Status)) })
		e.Field("provider", func(e *jx.Encoder) { e.Str(string(o.Provider)) })
		optional(e, "providerReference", o.ProviderReference)
		optional(e, "confirmationId", o.ConfirmationID)
		e.Field("currency", func(e *jx.Encoder) { e.Str(o.Currency) })
		e.Field("total", func(e *jx.Encoder) { e.Num(jx.Num(o.Total.StringFixed(2))) })
		e.Field("items", func(e *jx.Encoder) {
			e.Arr(func(e *jx.Encoder) {
				for _, it := range o.Items {
					e.Obj(func(e *jx.Encoder) {
						e.Field("productId", func(e *jx.Encoder) { e.Str(it.ProductID) })
						e.Field("name", func(e *jx.Encoder) { e.Str(it.Name) })
						e.Field("price", func(e *jx.Encoder) { e.Num(jx.Num(it.Price.String())) })
						e.Field("qty", func(e *jx.Encoder) { e.Int(it.Qty) })
					})
				}
			})
		})
		e.Field("createdAt", func(e *jx.Encoder) { e.Str(o.CreatedAt.UTC().Format(time.RFC3339)) })
		if o.PaidAt != nil {
			e.Field("paidAt", func(e *jx.Encoder) { e.Str(o.PaidAt.UTC().Format(time.RFC3339)) })
		}
	})
}

func optional(e *jx.Encoder, name, v string) {
	if v == "" {
		return
	}
	e.Field(name, func(e *jx.Encoder) { e.Str(v) })
}
