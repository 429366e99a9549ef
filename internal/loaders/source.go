// Package loaders turns loader specifiers into resolve functions. A loader is
// either a Go factory registered by name, a Go script interpreted with
// yaegi, a jq filter, or a declarative YAML alias map.
package loaders

import (
	"context"
	"fmt"
	"log/slog"
	"net/url"
	"path"
	"path/filepath"
	"strings"
	"time"

	"loaderchain.dev/internal/module"
)

// DefaultJQTimeout bounds a single jq evaluation.
const DefaultJQTimeout = 5 * time.Second

// Source loads loaders from a registry and from files. It implements
// worker.Source.
type Source struct {
	Registry  *Registry
	JQTimeout time.Duration
	Logger    *slog.Logger
}

// NewSource returns a source backed by the builtin registry.
func NewSource(log *slog.Logger) *Source {
	return &Source{Registry: Builtins(), JQTimeout: DefaultJQTimeout, Logger: log}
}

func (s *Source) Load(ctx context.Context, specifier, base string, parent module.ResolveFunc) (module.ResolveFunc, error) {
	if s.Registry != nil && path.Ext(specifier) == "" {
		if f, ok := s.Registry.Lookup(specifier); ok {
			resolve, err := f(parent)
			if err != nil {
				return nil, fmt.Errorf("loaders: %s: %w", specifier, err)
			}
			return resolve, nil
		}
	}

	file, err := localPath(specifier, base)
	if err != nil {
		return nil, err
	}
	switch ext := strings.ToLower(filepath.Ext(file)); ext {
	case ".go":
		return loadScript(file, parent)
	case ".jq":
		timeout := s.JQTimeout
		if timeout <= 0 {
			timeout = DefaultJQTimeout
		}
		return loadJQ(file, timeout, parent)
	case ".yaml", ".yml":
		return loadAliases(file, parent)
	case "":
		return nil, fmt.Errorf("loaders: no registered loader named %q", specifier)
	default:
		return nil, fmt.Errorf("loaders: %s: unsupported loader type %q", specifier, ext)
	}
}

// localPath resolves specifier against base and returns the file it names.
func localPath(specifier, base string) (string, error) {
	b, err := url.Parse(base)
	if err != nil {
		return "", fmt.Errorf("loaders: base %q: %w", base, err)
	}
	u, err := b.Parse(filepath.ToSlash(specifier))
	if err != nil {
		return "", fmt.Errorf("loaders: %s: %w", specifier, err)
	}
	if u.Scheme != "file" {
		return "", module.Errorf(module.ErrUnsupportedScheme, "loaders: can only load local files, got %q", u)
	}
	return filepath.FromSlash(u.Path), nil
}

func fileURL(file string) *url.URL {
	return &url.URL{Scheme: "file", Path: filepath.ToSlash(file)}
}
