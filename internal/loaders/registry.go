package loaders

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"sync"

	"loaderchain.dev/internal/module"
)

// Factory builds a loader's resolve function around its upstream.
type Factory func(parent module.ResolveFunc) (module.ResolveFunc, error)

type Registry struct {
	mu        sync.RWMutex
	factories map[string]Factory
}

func NewRegistry() *Registry {
	return &Registry{factories: map[string]Factory{}}
}

// Register adds a named loader. Names must be unique and have no extension.
func (r *Registry) Register(name string, f Factory) error {
	if name == "" || strings.ContainsAny(name, "./") {
		return fmt.Errorf("loaders: invalid loader name %q", name)
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.factories[name]; ok {
		return fmt.Errorf("loaders: loader %q already registered", name)
	}
	r.factories[name] = f
	return nil
}

func (r *Registry) Lookup(name string) (Factory, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	f, ok := r.factories[name]
	return f, ok
}

func (r *Registry) Names() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	names := make([]string, 0, len(r.factories))
	for name := range r.factories {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Builtins returns a registry holding the loaders that ship with the binary:
//
//	passthrough   delegates every request unchanged
//	node-builtins rewrites node:NAME to builtin:NAME before delegating
func Builtins() *Registry {
	r := NewRegistry()
	r.Register("passthrough", func(parent module.ResolveFunc) (module.ResolveFunc, error) {
		return parent, nil
	})
	r.Register("node-builtins", func(parent module.ResolveFunc) (module.ResolveFunc, error) {
		return func(ctx context.Context, specifier string, callsite module.Callsite) (module.Descriptor, error) {
			if name, ok := strings.CutPrefix(specifier, "node:"); ok {
				specifier = module.BuiltinScheme + name
			}
			return parent(ctx, specifier, callsite)
		}, nil
	})
	return r
}
