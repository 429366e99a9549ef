// Package defaultresolve is the resolver at the end of every chain. It knows
// builtin modules, a fixed package map, and files on the local disk.
package defaultresolve

import (
	"context"
	"encoding/json"
	"fmt"
	"net/url"
	"os"
	"path"
	"path/filepath"
	"strings"

	"loaderchain.dev/internal/module"
)

type Resolver struct {
	base     *url.URL
	builtins map[string]bool
	packages map[string]string
}

// New creates a resolver. base must be a file URL naming a directory, with a
// trailing slash. Package targets are resolved against base.
func New(base string, builtins []string, packages map[string]string) (*Resolver, error) {
	u, err := url.Parse(base)
	if err != nil {
		return nil, fmt.Errorf("defaultresolve: base %q: %w", base, err)
	}
	if u.Scheme != "file" {
		return nil, fmt.Errorf("defaultresolve: base %q is not a file URL", base)
	}
	r := &Resolver{base: u, builtins: map[string]bool{}, packages: map[string]string{}}
	for _, b := range builtins {
		r.builtins[b] = true
	}
	for name, target := range packages {
		t, err := u.Parse(target)
		if err != nil {
			return nil, fmt.Errorf("defaultresolve: package %s: %w", name, err)
		}
		r.packages[name] = t.String()
	}
	return r, nil
}

// Resolve implements module.ResolveFunc.
func (r *Resolver) Resolve(ctx context.Context, specifier string, callsite module.Callsite) (module.Descriptor, error) {
	if name, ok := strings.CutPrefix(specifier, module.BuiltinScheme); ok {
		if name == "" {
			return module.Descriptor{}, notFound(specifier, callsite)
		}
		return module.Builtin(name), nil
	}
	if r.builtins[specifier] {
		return module.Builtin(specifier), nil
	}
	if target, ok := r.packages[specifier]; ok {
		return r.file(target, specifier, callsite)
	}

	if isPath(specifier) || strings.HasPrefix(specifier, "file:") {
		u, err := r.referrer(callsite).Parse(filepath.ToSlash(specifier))
		if err != nil {
			return module.Descriptor{}, notFound(specifier, callsite)
		}
		return r.file(u.String(), specifier, callsite)
	}
	if u, err := url.Parse(specifier); err == nil && len(u.Scheme) > 1 {
		return module.Descriptor{}, module.Errorf(module.ErrUnsupportedScheme,
			"can only expose local files, got %q", specifier)
	}
	return module.Descriptor{}, notFound(specifier, callsite)
}

func isPath(s string) bool {
	return strings.HasPrefix(s, "./") || strings.HasPrefix(s, "../") || strings.HasPrefix(s, "/") || s == "." || s == ".."
}

// referrer returns the URL relative specifiers are resolved against.
func (r *Resolver) referrer(callsite module.Callsite) *url.URL {
	if callsite.Referrer != "" {
		if u, err := url.Parse(callsite.Referrer); err == nil && u.Scheme == "file" {
			return u
		}
	}
	return r.base
}

func (r *Resolver) file(rawURL, specifier string, callsite module.Callsite) (module.Descriptor, error) {
	u, err := url.Parse(rawURL)
	if err != nil || u.Scheme != "file" {
		return module.Descriptor{}, module.Errorf(module.ErrUnsupportedScheme,
			"can only expose local files, got %q", rawURL)
	}
	info, err := os.Stat(filepath.FromSlash(u.Path))
	if err != nil || info.IsDir() {
		return module.Descriptor{}, notFound(specifier, callsite)
	}
	u.RawQuery, u.Fragment = "", ""
	return module.File(u.String(), Format(u.Path)), nil
}

// Format infers a module format from a file name.
func Format(name string) string {
	switch strings.ToLower(path.Ext(name)) {
	case ".cjs":
		return "commonjs"
	case ".json":
		return "json"
	case ".wasm":
		return "wasm"
	}
	return "module"
}

func notFound(specifier string, callsite module.Callsite) *module.Error {
	var err *module.Error
	if callsite.Referrer != "" {
		err = module.Errorf(module.ErrModuleNotFound, "cannot find module %q imported from %s", specifier, callsite.Referrer)
	} else {
		err = module.Errorf(module.ErrModuleNotFound, "cannot find module %q", specifier)
	}
	err.Data, _ = json.Marshal(map[string]string{"specifier": specifier, "referrer": callsite.Referrer})
	return err
}
