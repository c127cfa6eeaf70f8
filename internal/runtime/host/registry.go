package host

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
)

type instanceKey struct {
	itineraryID string
	name        string
}

// Registry holds the instances running on this node, keyed by itinerary and
// activity id. Iteration follows insertion order.
type Registry struct {
	mu    sync.RWMutex
	items map[instanceKey]*Instance
	order []instanceKey
}

func NewRegistry() *Registry {
	return &Registry{items: map[instanceKey]*Instance{}}
}

func keyOf(itineraryID, name string) instanceKey {
	return instanceKey{itineraryID: itineraryID, name: strings.ToLower(name)}
}

// Add stores inst and returns the instance it replaced, if any.
func (r *Registry) Add(inst *Instance) *Instance {
	k := keyOf(inst.ItineraryID, inst.Name)
	r.mu.Lock()
	defer r.mu.Unlock()
	prev, ok := r.items[k]
	if !ok {
		r.order = append(r.order, k)
	}
	r.items[k] = inst
	return prev
}

func (r *Registry) Lookup(itineraryID, name string) (*Instance, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	inst, ok := r.items[keyOf(itineraryID, name)]
	return inst, ok
}

func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.items)
}

func (r *Registry) All() []*Instance {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]*Instance, 0, len(r.order))
	for _, k := range r.order {
		out = append(out, r.items[k])
	}
	return out
}

// ByBaseType returns the instances whose activity has the given base type.
func (r *Registry) ByBaseType(baseType string) []*Instance {
	var out []*Instance
	for _, inst := range r.All() {
		if strings.EqualFold(inst.BaseType, baseType) {
			out = append(out, inst)
		}
	}
	return out
}

// StopAll stops every instance and empties the registry. fn, when set, is
// called once per instance with the stop result.
func (r *Registry) StopAll(ctx context.Context, fn func(inst *Instance, err error)) error {
	r.mu.Lock()
	items := make([]*Instance, 0, len(r.order))
	for _, k := range r.order {
		items = append(items, r.items[k])
	}
	r.items = map[instanceKey]*Instance{}
	r.order = nil
	r.mu.Unlock()

	var errs []error
	for _, inst := range items {
		err := inst.Stop(ctx)
		if err != nil {
			errs = append(errs, fmt.Errorf("stop %s: %w", inst.Name, err))
		}
		if fn != nil {
			fn(inst, err)
		}
	}
	return errors.Join(errs...)
}
