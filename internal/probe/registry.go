package probe

import (
	"fmt"
	"iter"
	"sync"
)

// DuplicateProbeError is returned when a probe name is registered twice.
type DuplicateProbeError struct {
	Name string
}

func (e *DuplicateProbeError) Error() string {
	return fmt.Sprintf("duplicate probe %q", e.Name)
}

// Registry holds probes in registration order.
type Registry struct {
	mu     sync.RWMutex
	order  []*Probe
	byName map[string]*Probe
}

// NewRegistry creates an empty registry.
func NewRegistry() *Registry {
	return &Registry{byName: make(map[string]*Probe)}
}

// Register adds p. It fails with *DuplicateProbeError if the name is taken.
func (r *Registry) Register(p *Probe) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.byName[p.Name]; ok {
		return &DuplicateProbeError{Name: p.Name}
	}
	r.byName[p.Name] = p
	r.order = append(r.order, p)
	return nil
}

// Get returns the probe with the given name.
func (r *Registry) Get(name string) (*Probe, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	p, ok := r.byName[name]
	return p, ok
}

// Len returns the number of registered probes.
func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.order)
}

// List yields probes in registration order. Each iteration takes a fresh
// snapshot, so the sequence can be ranged over any number of times.
func (r *Registry) List() iter.Seq[*Probe] {
	return func(yield func(*Probe) bool) {
		r.mu.RLock()
		snapshot := make([]*Probe, len(r.order))
		copy(snapshot, r.order)
		r.mu.RUnlock()

		for _, p := range snapshot {
			if !yield(p) {
				return
			}
		}
	}
}
