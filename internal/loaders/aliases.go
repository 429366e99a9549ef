package loaders

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"os"

	"gopkg.in/yaml.v3"

	"loaderchain.dev/internal/defaultresolve"
	"loaderchain.dev/internal/module"
	"loaderchain.dev/internal/response"
)

// AliasMap is the document form of a declarative loader:
//
//	aliases:   {lodash: lodash-es}          # rewrite, then delegate
//	builtins:  [fs, path]                   # answer builtin
//	files:     {config: {url: ./config.json}}
//	synthetic: {answer: {body: "export default 42"}}
//
// Anything not listed is delegated unchanged. File URLs are resolved
// against the document's own location.
type AliasMap struct {
	Aliases   map[string]string        `yaml:"aliases"`
	Builtins  []string                 `yaml:"builtins"`
	Files     map[string]AliasFile     `yaml:"files"`
	Synthetic map[string]AliasResponse `yaml:"synthetic"`
}

type AliasFile struct {
	URL    string `yaml:"url"`
	Format string `yaml:"format"`
}

type AliasResponse struct {
	Body    string            `yaml:"body"`
	Headers map[string]string `yaml:"headers"`
}

// ParseAliasMap decodes data, rejecting unknown fields.
func ParseAliasMap(data []byte) (*AliasMap, error) {
	var m AliasMap
	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)
	if err := dec.Decode(&m); err != nil && !errors.Is(err, io.EOF) {
		return nil, err
	}
	return &m, nil
}

type aliasLoader struct {
	builtins map[string]bool
	aliases  map[string]string
	files    map[string]module.Descriptor
	bodies   map[string]AliasResponse
	parent   module.ResolveFunc
}

func loadAliases(path string, parent module.ResolveFunc) (module.ResolveFunc, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("loaders: read %s: %w", path, err)
	}
	m, err := ParseAliasMap(data)
	if err != nil {
		return nil, fmt.Errorf("loaders: parse %s: %w", path, err)
	}

	l := &aliasLoader{
		builtins: map[string]bool{},
		aliases:  m.Aliases,
		files:    map[string]module.Descriptor{},
		bodies:   m.Synthetic,
		parent:   parent,
	}
	for _, b := range m.Builtins {
		l.builtins[b] = true
	}
	self := fileURL(path)
	for name, f := range m.Files {
		u, err := self.Parse(f.URL)
		if err != nil {
			return nil, fmt.Errorf("loaders: %s: files.%s: %w", path, name, err)
		}
		format := f.Format
		if format == "" {
			format = defaultresolve.Format(u.Path)
		}
		d := module.File(u.String(), format)
		if err := d.Validate(); err != nil {
			return nil, fmt.Errorf("loaders: %s: files.%s: %w", path, name, err)
		}
		l.files[name] = d
	}
	return l.resolve, nil
}

func (l *aliasLoader) resolve(ctx context.Context, specifier string, callsite module.Callsite) (module.Descriptor, error) {
	if l.builtins[specifier] {
		return module.Builtin(specifier), nil
	}
	if d, ok := l.files[specifier]; ok {
		return d, nil
	}
	if r, ok := l.bodies[specifier]; ok {
		return module.Synthetic(response.NewText(r.Body, response.Init{Headers: r.Headers})), nil
	}
	if to, ok := l.aliases[specifier]; ok {
		specifier = to
	}
	return l.parent(ctx, specifier, callsite)
}
