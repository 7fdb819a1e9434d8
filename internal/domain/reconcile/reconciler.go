// Package reconcile applies provider payment confirmations to the order
// ledger. Webhook deliveries, explicit captures and the stale order sweep
// all end in the same compare-and-set transition.
package reconcile

import (
	"context"
	"strings"

	"github.com/go-faster/errors"
	"github.com/go-faster/sdk/zctx"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
	"go.uber.org/zap"

	"github.com/xenking/paybridge/internal/domain/order"
	"github.com/xenking/paybridge/internal/domain/payment"
)

// Action tells what a reconciliation did to the ledger.
type Action string

const (
	// ActionApplied means this call moved the order out of pending.
	ActionApplied Action = "applied"
	// ActionDuplicate means the order was already terminal.
	ActionDuplicate Action = "duplicate"
	// ActionDeferred means the payment has not reached a final state.
	ActionDeferred Action = "deferred"
	// ActionIgnored means the event carried no payment outcome.
	ActionIgnored Action = "ignored"
)

// Result is the outcome of a reconciliation.
type Result struct {
	OrderID string
	Status  order.Status
	Action  Action
}

// Reconciler applies confirmations to the ledger.
type Reconciler struct {
	orders   order.Repository
	adapters *payment.Registry
	outcomes metric.Int64Counter
}

// NewReconciler creates a Reconciler.
func NewReconciler(orders order.Repository, adapters *payment.Registry, mp metric.MeterProvider) (*Reconciler, error) {
	meter := mp.Meter("paybridge/reconcile")
	outcomes, err := meter.Int64Counter("paybridge.reconcile.outcomes",
		metric.WithDescription("Payment confirmations processed, by provider and action"),
	)
	if err != nil {
		return nil, errors.Wrap(err, "create outcomes counter")
	}
	return &Reconciler{
		orders:   orders,
		adapters: adapters,
		outcomes: outcomes,
	}, nil
}

// HandleEvent applies a verified provider notification. Events without a
// payment outcome are acknowledged and ignored.
func (r *Reconciler) HandleEvent(ctx context.Context, provider order.Provider, ev *payment.Event) (Result, error) {
	ctx = zctx.With(ctx,
		zap.String("event_id", ev.ID),
		zap.String("event_type", ev.Type),
	)
	if ev.Confirmation == nil {
		zctx.From(ctx).Debug("Ignoring event", zap.String("provider", string(provider)))
		r.record(ctx, provider, ActionIgnored)
		return Result{Action: ActionIgnored}, nil
	}

	conf := *ev.Confirmation
	conf.Provider = provider
	return r.Apply(ctx, conf)
}

// Capture completes a pull-style payment identified by the provider
// reference. Orders that are already terminal are reported without calling
// the provider again.
func (r *Reconciler) Capture(ctx context.Context, provider order.Provider, reference string) (Result, error) {
	reference = strings.TrimSpace(reference)
	if reference == "" {
		return Result{}, &order.ValidationError{Field: "providerOrderId", Reason: "required"}
	}
	adapter, err := r.adapters.Adapter(provider)
	if err != nil {
		return Result{}, &order.ValidationError{Field: "provider", Reason: "not enabled"}
	}

	o, err := r.orders.GetByProviderReference(ctx, provider, reference)
	if err != nil {
		if errors.Is(err, order.ErrNotFound) {
			return Result{}, &order.NotFoundError{Provider: provider, Key: reference}
		}
		return Result{}, &order.LedgerError{Op: "lookup reference", Err: err}
	}
	if o.Status.Terminal() {
		r.record(ctx, provider, ActionDuplicate)
		return Result{OrderID: o.ID, Status: o.Status, Action: ActionDuplicate}, nil
	}

	conf, err := adapter.Capture(ctx, reference)
	if err != nil {
		return Result{}, errors.Wrapf(err, "capture %s", reference)
	}
	conf.Provider = provider
	return r.applyTo(ctx, o, *conf)
}

// Apply resolves the order a confirmation refers to and moves it to the
// confirmed state if it is still pending.
func (r *Reconciler) Apply(ctx context.Context, conf payment.Confirmation) (Result, error) {
	o, err := r.resolve(ctx, conf)
	if err != nil {
		return Result{}, err
	}
	return r.applyTo(ctx, o, conf)
}

// resolve finds the order by the id echoed in provider metadata, falling
// back to the provider reference stored at checkout.
func (r *Reconciler) resolve(ctx context.Context, conf payment.Confirmation) (*order.Order, error) {
	if conf.OrderID != "" {
		o, err := r.orders.GetByID(ctx, conf.OrderID)
		switch {
		case err == nil:
			return o, nil
		case !errors.Is(err, order.ErrNotFound):
			return nil, &order.LedgerError{Op: "lookup order", OrderID: conf.OrderID, Err: err}
		}
	}
	if conf.Reference != "" {
		o, err := r.orders.GetByProviderReference(ctx, conf.Provider, conf.Reference)
		switch {
		case err == nil:
			return o, nil
		case !errors.Is(err, order.ErrNotFound):
			return nil, &order.LedgerError{Op: "lookup reference", Err: err}
		}
	}

	key := conf.OrderID
	if key == "" {
		key = conf.Reference
	}
	return nil, &order.NotFoundError{Provider: conf.Provider, Key: key}
}

func (r *Reconciler) applyTo(ctx context.Context, o *order.Order, conf payment.Confirmation) (Result, error) {
	lg := zctx.From(ctx).With(
		zap.String("order_id", o.ID),
		zap.String("provider", string(conf.Provider)),
		zap.String("outcome", string(conf.Outcome)),
	)

	if reasons := mismatches(o, conf); len(reasons) > 0 {
		lg.Error("Confirmation does not match order, manual review required",
			zap.Strings("reasons", reasons),
			zap.String("reference", conf.Reference),
		)
		return Result{}, &order.ConflictError{OrderID: o.ID, Reasons: reasons}
	}

	if o.Status.Terminal() {
		if want, ok := conf.Outcome.Status(); ok && want != o.Status {
			lg.Error("Confirmation contradicts closed order, manual review required",
				zap.String("status", string(o.Status)),
			)
		}
		r.record(ctx, conf.Provider, ActionDuplicate)
		return Result{OrderID: o.ID, Status: o.Status, Action: ActionDuplicate}, nil
	}

	to, final := conf.Outcome.Status()
	if !final {
		lg.Info("Payment not final yet")
		r.record(ctx, conf.Provider, ActionDeferred)
		return Result{OrderID: o.ID, Status: o.Status, Action: ActionDeferred}, nil
	}

	if to == order.StatusPaid {
		if reasons := amountMismatches(o, conf); len(reasons) > 0 {
			lg.Error("Paid amount does not match order, manual review required", zap.Strings("reasons", reasons))
			return Result{}, &order.ConflictError{OrderID: o.ID, Reasons: reasons}
		}
	}

	won, err := r.orders.Transition(ctx, order.Transition{
		OrderID:        o.ID,
		To:             to,
		Reference:      conf.Reference,
		ConfirmationID: conf.ConfirmationID,
	})
	if err != nil {
		return Result{}, &order.LedgerError{Op: "transition", OrderID: o.ID, Err: err}
	}
	if !won {
		// Another delivery got there first.
		cur, err := r.orders.GetByID(ctx, o.ID)
		if err != nil {
			return Result{}, &order.LedgerError{Op: "reload order", OrderID: o.ID, Err: err}
		}
		lg.Info("Order already transitioned", zap.String("status", string(cur.Status)))
		r.record(ctx, conf.Provider, ActionDuplicate)
		return Result{OrderID: o.ID, Status: cur.Status, Action: ActionDuplicate}, nil
	}

	lg.Info("Order transitioned",
		zap.String("status", string(to)),
		zap.String("confirmation_id", conf.ConfirmationID),
	)
	r.record(ctx, conf.Provider, ActionApplied)
	return Result{OrderID: o.ID, Status: to, Action: ActionApplied}, nil
}

func mismatches(o *order.Order, conf payment.Confirmation) []string {
	var reasons []string
	if conf.Provider != "" && o.Provider != conf.Provider {
		reasons = append(reasons, "order was dispatched to "+string(o.Provider))
	}
	if conf.Reference != "" && o.ProviderReference != "" && o.ProviderReference != conf.Reference {
		reasons = append(reasons, "provider reference "+conf.Reference+" differs from "+o.ProviderReference)
	}
	return reasons
}

func amountMismatches(o *order.Order, conf payment.Confirmation) []string {
	var reasons []string
	if conf.HasAmount {
		if due := payment.AmountDue(o.Items); conf.Amount != due {
			reasons = append(reasons, "charged "+payment.FormatAmount(conf.Amount)+" but due "+payment.FormatAmount(due))
		}
	}
	if conf.Currency != "" && !strings.EqualFold(conf.Currency, o.Currency) {
		reasons = append(reasons, "currency "+strings.ToUpper(conf.Currency)+" differs from "+o.Currency)
	}
	return reasons
}

func (r *Reconciler) record(ctx context.Context, provider order.Provider, action Action) {
	r.outcomes.Add(ctx, 1, metric.WithAttributes(
		attribute.String("provider", string(provider)),
		attribute.String("action", string(action)),
	))
}
