package reconcile

import (
	"context"
	"sync"
	"time"

	"github.com/go-faster/errors"
	"github.com/go-faster/sdk/zctx"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/xenking/paybridge/internal/domain/order"
	"github.com/xenking/paybridge/internal/domain/payment"
)

// SweepOptions controls which pending orders a sweep looks at.
type SweepOptions struct {
	// MinAge skips orders younger than this; their buyers may still be on
	// the provider page.
	MinAge time.Duration
	// AbandonAfter cancels orders that are still unpaid at this age.
	AbandonAfter time.Duration
	Concurrency  int
	Limit        uint64
	// DryRun reports what would change without touching the ledger or
	// capturing payments.
	DryRun bool
}

// SweepReport summarises one sweep.
type SweepReport struct {
	Checked   int
	Applied   int
	Cancelled int
	Deferred  int
	Failed    int
}

// Sweeper recovers pending orders whose confirmation never arrived: it asks
// the provider for the payment state and cancels abandoned checkouts.
type Sweeper struct {
	rec *Reconciler
	now func() time.Time
}

// NewSweeper creates a Sweeper that applies results through rec.
func NewSweeper(rec *Reconciler) *Sweeper {
	return &Sweeper{rec: rec, now: time.Now}
}

// Run sweeps once. Per-order failures are counted and logged; only a failure
// to list the ledger aborts the sweep.
func (s *Sweeper) Run(ctx context.Context, opts SweepOptions) (SweepReport, error) {
	if opts.Concurrency <= 0 {
		opts.Concurrency = 4
	}
	now := s.now()

	pending, err := s.rec.orders.List(ctx, order.Filter{
		Statuses:      []order.Status{order.StatusPending},
		CreatedBefore: now.Add(-opts.MinAge),
		Limit:         opts.Limit,
	})
	if err != nil {
		return SweepReport{}, &order.LedgerError{Op: "list pending", Err: err}
	}

	var (
		mu     sync.Mutex
		report SweepReport
	)
	count := func(f func(r *SweepReport)) {
		mu.Lock()
		f(&report)
		mu.Unlock()
	}

	var g errgroup.Group
	g.SetLimit(opts.Concurrency)
	for i := range pending {
		o := &pending[i]
		g.Go(func() error {
			if ctx.Err() != nil {
				return nil
			}
			action, err := s.sweepOrder(ctx, o, now.Sub(o.CreatedAt), opts)
			count(func(r *SweepReport) {
				r.Checked++
				switch {
				case err != nil:
					r.Failed++
				case action == sweepApplied:
					r.Applied++
				case action == sweepCancelled:
					r.Cancelled++
				default:
					r.Deferred++
				}
			})
			if err != nil {
				zctx.From(ctx).Warn("Sweep failed for order",
					zap.String("order_id", o.ID),
					zap.Error(err),
				)
			}
			return nil
		})
	}
	_ = g.Wait()

	if err := ctx.Err(); err != nil {
		return report, errors.Wrap(err, "sweep interrupted")
	}
	zctx.From(ctx).Info("Sweep finished",
		zap.Int("checked", report.Checked),
		zap.Int("applied", report.Applied),
		zap.Int("cancelled", report.Cancelled),
		zap.Int("deferred", report.Deferred),
		zap.Int("failed", report.Failed),
	)
	return report, nil
}

type sweepAction int

const (
	sweepDeferred sweepAction = iota
	sweepApplied
	sweepCancelled
)

func (s *Sweeper) sweepOrder(ctx context.Context, o *order.Order, age time.Duration, opts SweepOptions) (sweepAction, error) {
	abandoned := opts.AbandonAfter > 0 && age >= opts.AbandonAfter

	if o.ProviderReference == "" {
		// A checkout may have been opened without its reference being
		// stored. Wait until it has expired at the provider.
		if !abandoned || age < payment.MaxCheckoutLifetime {
			return sweepDeferred, nil
		}
		return s.cancel(ctx, o, opts.DryRun)
	}
	if opts.DryRun {
		return sweepDeferred, nil
	}

	adapter, err := s.rec.adapters.Adapter(o.Provider)
	if err != nil {
		return sweepDeferred, err
	}
	conf, err := adapter.Capture(ctx, o.ProviderReference)
	if err != nil {
		return sweepDeferred, errors.Wrapf(err, "capture %s", o.ProviderReference)
	}
	conf.Provider = o.Provider

	res, err := s.rec.applyTo(ctx, o, *conf)
	if err != nil {
		return sweepDeferred, err
	}
	switch {
	case res.Action == ActionApplied && res.Status == order.StatusCancelled:
		return sweepCancelled, nil
	case res.Action == ActionApplied:
		return sweepApplied, nil
	case res.Action == ActionDeferred && conf.Outcome == payment.OutcomePending && abandoned:
		// Buyer never completed the provider flow. Settling funds
		// (processing) are left alone however old they are.
		return s.expire(ctx, adapter, o)
	default:
		return sweepDeferred, nil
	}
}

// expire closes the remote checkout and applies the state the provider
// reports. The order stays pending if the checkout cannot be closed.
func (s *Sweeper) expire(ctx context.Context, adapter payment.Adapter, o *order.Order) (sweepAction, error) {
	conf, err := adapter.Expire(ctx, o.ProviderReference)
	if err != nil {
		return sweepDeferred, errors.Wrapf(err, "expire %s", o.ProviderReference)
	}
	conf.Provider = o.Provider

	res, err := s.rec.applyTo(ctx, o, *conf)
	if err != nil {
		return sweepDeferred, err
	}
	switch {
	case res.Action == ActionApplied && res.Status == order.StatusCancelled:
		zctx.From(ctx).Info("Abandoned checkout expired", zap.String("order_id", o.ID))
		return sweepCancelled, nil
	case res.Action == ActionApplied:
		return sweepApplied, nil
	default:
		return sweepDeferred, nil
	}
}

func (s *Sweeper) cancel(ctx context.Context, o *order.Order, dryRun bool) (sweepAction, error) {
	if dryRun {
		return sweepCancelled, nil
	}
	won, err := s.rec.orders.Transition(ctx, order.Transition{OrderID: o.ID, To: order.StatusCancelled})
	if err != nil {
		return sweepDeferred, &order.LedgerError{Op: "cancel", OrderID: o.ID, Err: err}
	}
	if !won {
		return sweepDeferred, nil
	}
	zctx.From(ctx).Info("Abandoned order cancelled", zap.String("order_id", o.ID))
	s.rec.record(ctx, o.Provider, ActionApplied)
	return sweepCancelled, nil
}
