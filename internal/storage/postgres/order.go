package postgres

import (
	"context"
	"fmt"
	"time"

	"github.com/Masterminds/squirrel"
	"github.com/go-faster/errors"
	"github.com/google/uuid"
	"github.com/jackc/pgerrcode"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/xenking/paybridge/internal/domain/order"
)

// Constraint names from the migrations.
const (
	idempotencyKeyConstraint    = "orders_idempotency_key_uniq"
	providerReferenceConstraint = "orders_provider_reference_uniq"
)

const (
	insertOrderSQL = `INSERT INTO orders
		(id, email, status, currency, total, payment_provider, provider_reference, checkout_url, idempotency_key, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)`

	attachCheckoutSQL = `UPDATE orders
		SET provider_reference = COALESCE(provider_reference, NULLIF($2, '')),
			checkout_url = $3,
			updated_at = now()
		WHERE id = $1 AND (provider_reference IS NULL OR $2 = '' OR provider_reference = $2)`

	// transitionSQL is the compare-and-set: only a pending row is updated,
	// so exactly one of several concurrent callers sees a row affected.
	transitionSQL = `UPDATE orders
		SET status = $2,
			provider_reference = COALESCE(provider_reference, NULLIF($3, '')),
			confirmation_id = COALESCE(NULLIF($4, ''), confirmation_id),
			paid_at = CASE WHEN $2 = 'paid' THEN now() ELSE paid_at END,
			updated_at = now()
		WHERE id = $1 AND status = 'pending'`

	orderExistsSQL = `SELECT EXISTS (SELECT 1 FROM orders WHERE id = $1)`
)

var orderColumns = []string{
	"id::text",
	"email",
	"status",
	"currency",
	"total",
	"payment_provider",
	"COALESCE(provider_reference, '')",
	"COALESCE(confirmation_id, '')",
	"COALESCE(checkout_url, '')",
	"COALESCE(idempotency_key, '')",
	"created_at",
	"updated_at",
	"paid_at",
}

var _ order.Repository = (*OrderRepository)(nil)

// OrderRepository implements order.Repository backed by PostgreSQL.
type OrderRepository struct {
	pool *pgxpool.Pool
}

// NewOrderRepository returns an OrderRepository that uses the given pool.
func NewOrderRepository(pool *pgxpool.Pool) *OrderRepository {
	return &OrderRepository{pool: pool}
}

// Create inserts the order row and its items in one transaction.
func (r *OrderRepository) Create(ctx context.Context, o *order.Order) error {
	if o.Status == "" {
		o.Status = order.StatusPending
	}
	if o.CreatedAt.IsZero() {
		o.CreatedAt = time.Now()
	}
	if o.UpdatedAt.IsZero() {
		o.UpdatedAt = o.CreatedAt
	}

	err := pgx.BeginFunc(ctx, r.pool, func(tx pgx.Tx) error {
		if _, err := tx.Exec(ctx, insertOrderSQL,
			o.ID, o.Email, string(o.Status), o.Currency, o.Total, string(o.Provider),
			nullable(o.ProviderReference), nullable(o.CheckoutURL), nullable(o.IdempotencyKey),
			o.CreatedAt, o.UpdatedAt,
		); err != nil {
			return err
		}
		if len(o.Items) == 0 {
			return nil
		}

		ins := psql.Insert("order_items").Columns("order_id", "product_id", "name", "price", "qty")
		for _, it := range o.Items {
			ins = ins.Values(o.ID, it.ProductID, it.Name, it.Price, it.Qty)
		}
		query, args, err := ins.ToSql()
		if err != nil {
			return errors.Wrap(err, "build items insert")
		}
		_, err = tx.Exec(ctx, query, args...)
		return err
	})
	if err != nil {
		if uniqueViolation(err, idempotencyKeyConstraint) {
			return order.ErrDuplicateIdempotencyKey
		}
		return fmt.Errorf("creating order %q: %w", o.ID, err)
	}
	return nil
}

// GetByID returns the order with its items. A malformed id is reported as
// order.ErrNotFound.
func (r *OrderRepository) GetByID(ctx context.Context, id string) (*order.Order, error) {
	if _, err := uuid.Parse(id); err != nil {
		return nil, order.ErrNotFound
	}
	return r.getOne(ctx, squirrel.Eq{"id": id})
}

func (r *OrderRepository) GetByProviderReference(ctx context.Context, p order.Provider, ref string) (*order.Order, error) {
	if ref == "" {
		return nil, order.ErrNotFound
	}
	return r.getOne(ctx, squirrel.Eq{"payment_provider": string(p), "provider_reference": ref})
}

func (r *OrderRepository) GetByIdempotencyKey(ctx context.Context, key string) (*order.Order, error) {
	if key == "" {
		return nil, order.ErrNotFound
	}
	return r.getOne(ctx, squirrel.Eq{"idempotency_key": key})
}

func (r *OrderRepository) getOne(ctx context.Context, where squirrel.Sqlizer) (*order.Order, error) {
	query, args, err := psql.Select(orderColumns...).From("orders").Where(where).ToSql()
	if err != nil {
		return nil, errors.Wrap(err, "build order query")
	}

	rows, err := r.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("getting order: %w", err)
	}
	o, err := pgx.CollectExactlyOneRow(rows, scanOrder)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, order.ErrNotFound
		}
		return nil, fmt.Errorf("getting order: %w", err)
	}

	items, err := r.items(ctx, []string{o.ID})
	if err != nil {
		return nil, err
	}
	o.Items = items[o.ID]
	return &o, nil
}

// AttachCheckout records the provider reference and redirect URL. It fails
// with order.ErrReferenceConflict if the order already carries a different
// reference or another order owns this one.
func (r *OrderRepository) AttachCheckout(ctx context.Context, id, ref, url string) error {
	if _, err := uuid.Parse(id); err != nil {
		return order.ErrNotFound
	}

	tag, err := r.pool.Exec(ctx, attachCheckoutSQL, id, ref, nullable(url))
	if err != nil {
		if uniqueViolation(err, providerReferenceConstraint) {
			return order.ErrReferenceConflict
		}
		return fmt.Errorf("attaching checkout to order %q: %w", id, err)
	}
	if tag.RowsAffected() == 1 {
		return nil
	}

	var exists bool
	if err := r.pool.QueryRow(ctx, orderExistsSQL, id).Scan(&exists); err != nil {
		return fmt.Errorf("attaching checkout to order %q: %w", id, err)
	}
	if !exists {
		return order.ErrNotFound
	}
	return order.ErrReferenceConflict
}

// Transition performs the pending to t.To compare-and-set. It returns false
// when the order is missing or no longer pending.
func (r *OrderRepository) Transition(ctx context.Context, t order.Transition) (bool, error) {
	if _, err := uuid.Parse(t.OrderID); err != nil {
		return false, nil
	}

	tag, err := r.pool.Exec(ctx, transitionSQL, t.OrderID, string(t.To), t.Reference, t.ConfirmationID)
	if err != nil {
		return false, fmt.Errorf("transitioning order %q to %s: %w", t.OrderID, t.To, err)
	}
	return tag.RowsAffected() == 1, nil
}

// List returns orders matching f, oldest first, with their items.
func (r *OrderRepository) List(ctx context.Context, f order.Filter) ([]order.Order, error) {
	q := psql.Select(orderColumns...).From("orders").OrderBy("created_at", "id")
	if len(f.Statuses) > 0 {
		statuses := make([]string, len(f.Statuses))
		for i, s := range f.Statuses {
			statuses[i] = string(s)
		}
		q = q.Where(squirrel.Eq{"status": statuses})
	}
	if f.Provider != "" {
		q = q.Where(squirrel.Eq{"payment_provider": string(f.Provider)})
	}
	if !f.CreatedBefore.IsZero() {
		q = q.Where(squirrel.Lt{"created_at": f.CreatedBefore})
	}
	if !f.CreatedAfter.IsZero() {
		q = q.Where(squirrel.Gt{"created_at": f.CreatedAfter})
	}
	if f.MissingReference {
		q = q.Where(squirrel.Eq{"provider_reference": nil})
	}
	if f.Limit > 0 {
		q = q.Limit(f.Limit)
	}

	query, args, err := q.ToSql()
	if err != nil {
		return nil, errors.Wrap(err, "build list query")
	}
	rows, err := r.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("listing orders: %w", err)
	}
	orders, err := pgx.CollectRows(rows, scanOrder)
	if err != nil {
		return nil, fmt.Errorf("listing orders: %w", err)
	}
	if len(orders) == 0 {
		return orders, nil
	}

	ids := make([]string, len(orders))
	for i := range orders {
		ids[i] = orders[i].ID
	}
	items, err := r.items(ctx, ids)
	if err != nil {
		return nil, err
	}
	for i := range orders {
		orders[i].Items = items[orders[i].ID]
	}
	return orders, nil
}

// items loads the line items of the given orders keyed by order ID.
func (r *OrderRepository) items(ctx context.Context, ids []string) (map[string][]order.Item, error) {
	query, args, err := psql.
		Select("order_id::text", "product_id", "name", "price", "qty").
		From("order_items").
		Where(squirrel.Eq{"order_id": ids}).
		OrderBy("id").
		ToSql()
	if err != nil {
		return nil, errors.Wrap(err, "build items query")
	}

	rows, err := r.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("loading order items: %w", err)
	}
	defer rows.Close()

	out := make(map[string][]order.Item, len(ids))
	for rows.Next() {
		var (
			orderID string
			it      order.Item
		)
		if err := rows.Scan(&orderID, &it.ProductID, &it.Name, &it.Price, &it.Qty); err != nil {
			return nil, fmt.Errorf("scanning order item: %w", err)
		}
		out[orderID] = append(out[orderID], it)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("loading order items: %w", err)
	}
	return out, nil
}

func scanOrder(row pgx.CollectableRow) (order.Order, error) {
	var (
		o                order.Order
		status, provider string
	)
	err := row.Scan(
		&o.ID, &o.Email, &status, &o.Currency, &o.Total, &provider,
		&o.ProviderReference, &o.ConfirmationID, &o.CheckoutURL, &o.IdempotencyKey,
		&o.CreatedAt, &o.UpdatedAt, &o.PaidAt,
	)
	o.Status = order.Status(status)
	o.Provider = order.Provider(provider)
	return o, err
}

func uniqueViolation(err error, constraint string) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == pgerrcode.UniqueViolation && pgErr.ConstraintName == constraint
}

func nullable(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}
