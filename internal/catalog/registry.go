package catalog

import "sync/atomic"

// Registry publishes the active catalog. Readers take one snapshot per
// request so a concurrent reload is never observed half-applied.
type Registry struct {
	current atomic.Pointer[Catalog]
}

func NewRegistry(initial *Catalog) *Registry {
	r := &Registry{}
	r.current.Store(initial)
	return r
}

func (r *Registry) Current() *Catalog {
	return r.current.Load()
}

// Swap installs next and returns the catalog it replaced. A nil catalog is
// ignored.
func (r *Registry) Swap(next *Catalog) *Catalog {
	if next == nil {
		return r.current.Load()
	}
	return r.current.Swap(next)
}
