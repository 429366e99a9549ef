// Package esm wires a loader chain to the module map: it builds the chain
// for a working directory and turns resolutions into cached locations.
package esm

import (
	"context"
	"fmt"
	"log/slog"
	"net/url"
	"os"
	"path/filepath"
	"sync"

	"loaderchain.dev/internal/chain"
	"loaderchain.dev/internal/defaultresolve"
	"loaderchain.dev/internal/loaders"
	"loaderchain.dev/internal/module"
	"loaderchain.dev/internal/modulemap"
	"loaderchain.dev/internal/port"
	"loaderchain.dev/internal/worker"
)

type Options struct {
	// Working directory; the process's when empty
	Cwd     string
	Loaders []string

	Builtins []string
	Packages map[string]string

	// Loader source; loaders.NewSource when nil
	Source    worker.Source
	Transport port.Transport
	Host      port.Holder
	Logger    *slog.Logger
}

type Loader struct {
	base     string
	resolver module.Resolver
	modules  *modulemap.Map
	log      *slog.Logger

	fatal     chan error
	fatalOnce sync.Once
}

// Initialize builds the loader chain rooted at file://<cwd>/.
func Initialize(ctx context.Context, opts Options) (*Loader, error) {
	log := opts.Logger
	if log == nil {
		log = slog.Default()
	}
	base, err := BaseURL(opts.Cwd)
	if err != nil {
		return nil, err
	}
	def, err := defaultresolve.New(base, opts.Builtins, opts.Packages)
	if err != nil {
		return nil, fmt.Errorf("esm: %w", err)
	}
	src := opts.Source
	if src == nil {
		src = loaders.NewSource(log)
	}

	l := &Loader{
		base:    base,
		modules: modulemap.New(),
		log:     log.With("component", "esm"),
		fatal:   make(chan error, 1),
	}
	l.resolver, err = chain.Make(ctx, chain.Options{
		Base:      base,
		Loaders:   opts.Loaders,
		Default:   def.Resolve,
		Source:    src,
		OnFatal:   l.onFatal,
		Transport: opts.Transport,
		Host:      opts.Host,
		Logger:    log,
	})
	if err != nil {
		return nil, fmt.Errorf("esm: %w", err)
	}
	return l, nil
}

// BaseURL returns the directory URL of cwd, with a trailing slash.
func BaseURL(cwd string) (string, error) {
	if cwd == "" {
		wd, err := os.Getwd()
		if err != nil {
			return "", fmt.Errorf("esm: %w", err)
		}
		cwd = wd
	}
	abs, err := filepath.Abs(cwd)
	if err != nil {
		return "", fmt.Errorf("esm: %w", err)
	}
	u := url.URL{Scheme: "file", Path: filepath.ToSlash(abs)}
	if u.Path[len(u.Path)-1] != '/' {
		u.Path += "/"
	}
	return u.String(), nil
}

func (l *Loader) onFatal(err error) {
	l.fatalOnce.Do(func() {
		l.log.Error("loader chain failed", "err", err)
		l.fatal <- err
	})
}

// Fatal delivers the error that made the chain unusable, at most once.
func (l *Loader) Fatal() <-chan error { return l.fatal }

func (l *Loader) Base() string { return l.base }

func (l *Loader) Modules() *modulemap.Map { return l.modules }

// Resolve resolves specifier as imported from referrer and returns its
// cached record. Files and builtins are cached under their URL; every
// synthetic result gets a fresh synthetic:N location.
func (l *Loader) Resolve(ctx context.Context, specifier, referrer string) (*modulemap.Record, error) {
	d, err := l.resolver.Resolve(ctx, specifier, module.Callsite{Referrer: referrer})
	if err != nil {
		return nil, err
	}
	rec := &modulemap.Record{Specifier: specifier, Referrer: referrer, Descriptor: d}
	if d.Kind == module.KindSynthetic {
		rec.Location = l.modules.CreateSyntheticLocation()
		if err := l.modules.Set(rec.Location, rec); err != nil {
			return nil, err
		}
		return rec, nil
	}
	rec.Location = d.Location()
	actual, _, err := l.modules.LoadOrStore(rec.Location, rec)
	if err != nil {
		return nil, fmt.Errorf("esm: resolve %q: %w", specifier, err)
	}
	return actual, nil
}

// Close stops the loader chain, if there is one.
func (l *Loader) Close() error {
	if c, ok := l.resolver.(*chain.Chain); ok {
		return c.Close()
	}
	return nil
}
