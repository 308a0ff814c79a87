package protocol

import (
	"fmt"
	"sort"
	"sync"

	"agentrelay/internal/domain"
)

// RouteBinder is implemented by the gateway. The registry pushes adapter
// routes through it so this package never imports the HTTP server.
type RouteBinder interface {
	Bind(route domain.Route)
}

// Registry keeps two maps: adapter constructors keyed by type name, and
// live adapter instances keyed by instance name. Both registrations are
// last-write-wins; replacing an entry is deliberate, not an error.
type Registry struct {
	mu        sync.RWMutex
	types     map[string]domain.AdapterConstructor
	instances map[string]domain.Adapter
}

func NewRegistry() *Registry {
	return &Registry{
		types:     make(map[string]domain.AdapterConstructor),
		instances: make(map[string]domain.Adapter),
	}
}

// RegisterType binds a constructor to a type name, replacing any previous
// binding for that name.
func (r *Registry) RegisterType(name string, ctor domain.AdapterConstructor) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.types[name] = ctor
}

// Create instantiates an adapter of the given type and stores it under its
// instance name. An unknown type fails before the constructor runs, so no
// routes or partial state exist for the failed instance.
func (r *Registry) Create(typeName string, agent domain.Agent, cfg domain.AdapterConfig) (domain.Adapter, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	ctor, ok := r.types[typeName]
	if !ok {
		return nil, fmt.Errorf("%w: %q", domain.ErrAdapterTypeUnknown, typeName)
	}

	adapter, err := ctor(agent, cfg)
	if err != nil {
		return nil, fmt.Errorf("create adapter %q: %w", cfg.Name, err)
	}

	r.instances[adapter.Name()] = adapter
	return adapter, nil
}

// Get returns the live instance registered under name.
func (r *Registry) Get(name string) (domain.Adapter, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	a, ok := r.instances[name]
	return a, ok
}

// All returns a snapshot copy of the instance map.
func (r *Registry) All() map[string]domain.Adapter {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make(map[string]domain.Adapter, len(r.instances))
	for k, v := range r.instances {
		out[k] = v
	}
	return out
}

// Names returns the instance names in sorted order.
func (r *Registry) Names() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	names := make([]string, 0, len(r.instances))
	for k := range r.instances {
		names = append(names, k)
	}
	sort.Strings(names)
	return names
}

// RegisterRoutes binds every route of every live adapter. Route paths are
// absolute (prefix included), so binding is a straight pass-through.
func (r *Registry) RegisterRoutes(binder RouteBinder) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	for _, a := range r.instances {
		for _, route := range a.Routes() {
			binder.Bind(route)
		}
	}
}

// Manifests collects each adapter's manifest fresh on every call. Nothing
// is cached; a manifest is always recomputed from current config and the
// agent schema.
func (r *Registry) Manifests() map[string]domain.Manifest {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make(map[string]domain.Manifest, len(r.instances))
	for name, a := range r.instances {
		out[name] = a.Manifest()
	}
	return out
}
