// Package ordertest provides an in-memory order.Repository for tests.
package ordertest

import (
	"context"
	"slices"
	"sync"
	"time"

	"github.com/xenking/paybridge/internal/domain/order"
)

var _ order.Repository = (*Memory)(nil)

// Memory is a mutex guarded ledger with the same compare-and-set semantics
// as the Postgres implementation.
type Memory struct {
	mu     sync.Mutex
	orders map[string]*order.Order

	// Err, when set, is returned by every method.
	Err error
	// CreateErr, AttachErr and TransitionErr fail a single method.
	CreateErr     error
	AttachErr     error
	TransitionErr error

	// Transitions counts successful compare-and-set updates.
	Transitions int
}

// NewMemory returns an empty ledger seeded with orders.
func NewMemory(orders ...*order.Order) *Memory {
	m := &Memory{orders: make(map[string]*order.Order)}
	for _, o := range orders {
		m.orders[o.ID] = clone(o)
	}
	return m
}

func clone(o *order.Order) *order.Order {
	c := *o
	c.Items = slices.Clone(o.Items)
	if o.PaidAt != nil {
		t := *o.PaidAt
		c.PaidAt = &t
	}
	return &c
}

// Get returns a copy of the stored order or nil.
func (m *Memory) Get(id string) *order.Order {
	m.mu.Lock()
	defer m.mu.Unlock()
	o, ok := m.orders[id]
	if !ok {
		return nil
	}
	return clone(o)
}

// Len returns the number of stored orders.
func (m *Memory) Len() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.orders)
}

func (m *Memory) Create(_ context.Context, o *order.Order) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.Err != nil {
		return m.Err
	}
	if m.CreateErr != nil {
		return m.CreateErr
	}
	if o.IdempotencyKey != "" {
		for _, existing := range m.orders {
			if existing.IdempotencyKey == o.IdempotencyKey {
				return order.ErrDuplicateIdempotencyKey
			}
		}
	}
	m.orders[o.ID] = clone(o)
	return nil
}

func (m *Memory) GetByID(_ context.Context, id string) (*order.Order, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.Err != nil {
		return nil, m.Err
	}
	o, ok := m.orders[id]
	if !ok {
		return nil, order.ErrNotFound
	}
	return clone(o), nil
}

func (m *Memory) GetByProviderReference(_ context.Context, p order.Provider, ref string) (*order.Order, error) {
	return m.find(func(o *order.Order) bool {
		return o.Provider == p && ref != "" && o.ProviderReference == ref
	})
}

func (m *Memory) GetByIdempotencyKey(_ context.Context, key string) (*order.Order, error) {
	return m.find(func(o *order.Order) bool {
		return key != "" && o.IdempotencyKey == key
	})
}

func (m *Memory) find(match func(*order.Order) bool) (*order.Order, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.Err != nil {
		return nil, m.Err
	}
	for _, o := range m.orders {
		if match(o) {
			return clone(o), nil
		}
	}
	return nil, order.ErrNotFound
}

func (m *Memory) AttachCheckout(_ context.Context, id, ref, url string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.Err != nil {
		return m.Err
	}
	if m.AttachErr != nil {
		return m.AttachErr
	}
	o, ok := m.orders[id]
	if !ok {
		return order.ErrNotFound
	}
	if ref != "" && o.ProviderReference != "" && o.ProviderReference != ref {
		return order.ErrReferenceConflict
	}
	if ref != "" {
		o.ProviderReference = ref
	}
	o.CheckoutURL = url
	o.UpdatedAt = time.Now()
	return nil
}

func (m *Memory) Transition(_ context.Context, t order.Transition) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.Err != nil {
		return false, m.Err
	}
	if m.TransitionErr != nil {
		return false, m.TransitionErr
	}
	o, ok := m.orders[t.OrderID]
	if !ok || o.Status != order.StatusPending {
		return false, nil
	}
	now := time.Now()
	o.Status = t.To
	o.UpdatedAt = now
	if t.ConfirmationID != "" {
		o.ConfirmationID = t.ConfirmationID
	}
	if o.ProviderReference == "" {
		o.ProviderReference = t.Reference
	}
	if t.To == order.StatusPaid {
		o.PaidAt = &now
	}
	m.Transitions++
	return true, nil
}

func (m *Memory) List(_ context.Context, f order.Filter) ([]order.Order, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.Err != nil {
		return nil, m.Err
	}
	var out []order.Order
	for _, o := range m.orders {
		if len(f.Statuses) > 0 && !slices.Contains(f.Statuses, o.Status) {
			continue
		}
		if f.Provider != "" && o.Provider != f.Provider {
			continue
		}
		if !f.CreatedBefore.IsZero() && !o.CreatedAt.Before(f.CreatedBefore) {
			continue
		}
		if !f.CreatedAfter.IsZero() && !o.CreatedAt.After(f.CreatedAfter) {
			continue
		}
		if f.MissingReference && o.ProviderReference != "" {
			continue
		}
		out = append(out, *clone(o))
	}
	slices.SortFunc(out, func(a, b order.Order) int { return a.CreatedAt.Compare(b.CreatedAt) })
	if f.Limit > 0 && uint64(len(out)) > f.Limit {
		out = out[:f.Limit]
	}
	return out, nil
}
