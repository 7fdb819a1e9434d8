package payment

import (
	"slices"

	"github.com/xenking/paybridge/internal/domain/order"
)

// Registry resolves adapters by provider. It is built once at startup and
// only read afterwards.
type Registry struct {
	adapters map[order.Provider]Adapter
}

// NewRegistry indexes adapters by their Provider.
func NewRegistry(adapters ...Adapter) *Registry {
	r := &Registry{adapters: make(map[order.Provider]Adapter, len(adapters))}
	for _, a := range adapters {
		r.adapters[a.Provider()] = a
	}
	return r
}

// Adapter returns the adapter for p or ErrUnknownProvider.
func (r *Registry) Adapter(p order.Provider) (Adapter, error) {
	a, ok := r.adapters[p]
	if !ok {
		return nil, ErrUnknownProvider
	}
	return a, nil
}

// Providers lists registered providers in a stable order.
func (r *Registry) Providers() []order.Provider {
	out := make([]order.Provider, 0, len(r.adapters))
	for p := range r.adapters {
		out = append(out, p)
	}
	slices.Sort(out)
	return out
}
