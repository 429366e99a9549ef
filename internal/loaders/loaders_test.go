package loaders

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"

	"loaderchain.dev/internal/logging"
	"loaderchain.dev/internal/module"
)

// upstream records delegated specifiers and answers each as a builtin named
// "up:" + specifier.
type upstream struct {
	mu   sync.Mutex
	seen []string
}

func (u *upstream) resolve(ctx context.Context, s string, cs module.Callsite) (module.Descriptor, error) {
	u.mu.Lock()
	u.seen = append(u.seen, s)
	u.mu.Unlock()
	return module.Builtin("up:" + s), nil
}

func writeLoader(t *testing.T, name, content string) (dir string) {
	t.Helper()
	dir = t.TempDir()
	if err := os.WriteFile(filepath.Join(dir, name), []byte(content), 0644); err != nil {
		t.Fatalf("write loader: %v", err)
	}
	return dir
}

func base(dir string) string {
	return fileURL(dir).String() + "/"
}

func load(t *testing.T, specifier, dir string, up *upstream) module.ResolveFunc {
	t.Helper()
	r, err := NewSource(logging.Discard()).Load(t.Context(), specifier, base(dir), up.resolve)
	if err != nil {
		t.Fatalf("Load(%s): %v", specifier, err)
	}
	return r
}

func resolve(t *testing.T, r module.ResolveFunc, s string) module.Descriptor {
	t.Helper()
	d, err := r(t.Context(), s, module.Callsite{Referrer: "file:///app/main.mjs"})
	if err != nil {
		t.Fatalf("resolve(%s): %v", s, err)
	}
	return d
}

func TestRegistry(t *testing.T) {
	r := NewRegistry()
	f := func(parent module.ResolveFunc) (module.ResolveFunc, error) { return parent, nil }
	if err := r.Register("mine", f); err != nil {
		t.Fatal(err)
	}
	if err := r.Register("mine", f); err == nil {
		t.Error("duplicate registration succeeded")
	}
	if err := r.Register("has.ext", f); err == nil {
		t.Error("name with extension accepted")
	}
	if _, ok := r.Lookup("mine"); !ok {
		t.Error("lookup failed")
	}
	if got := strings.Join(Builtins().Names(), ","); got != "node-builtins,passthrough" {
		t.Errorf("builtin loaders = %s", got)
	}
}

func TestBuiltinLoaders(t *testing.T) {
	up := &upstream{}
	r := load(t, "node-builtins", t.TempDir(), up)
	if d := resolve(t, r, "node:fs"); d.Name != "up:builtin:fs" {
		t.Errorf("node:fs = %v", d)
	}
	if d := resolve(t, r, "lodash"); d.Name != "up:lodash" {
		t.Errorf("lodash = %v", d)
	}
}

func TestUnknownLoader(t *testing.T) {
	src := NewSource(logging.Discard())
	up := &upstream{}
	if _, err := src.Load(t.Context(), "nope", base(t.TempDir()), up.resolve); err == nil {
		t.Error("unknown registry name loaded")
	}
	if _, err := src.Load(t.Context(), "./missing.jq", base(t.TempDir()), up.resolve); err == nil {
		t.Error("missing file loaded")
	}
	dir := writeLoader(t, "hook.lua", "return 1")
	if _, err := src.Load(t.Context(), "./hook.lua", base(dir), up.resolve); err == nil {
		t.Error("unsupported loader type loaded")
	}
	if _, err := src.Load(t.Context(), "https://example.com/hook.jq", base(dir), up.resolve); !errors.Is(err, module.ErrUnsupportedScheme) {
		t.Errorf("remote loader: %v", err)
	}
}

const scriptSource = `package main

import (
	"context"
	"strings"

	"loaderchain.dev/hooks"
)

func Resolve(ctx context.Context, specifier string, callsite hooks.Callsite) (hooks.Descriptor, error) {
	switch {
	case specifier == "answer":
		return hooks.Synthetic("export default 42", map[string]string{"content-type": "text/javascript"}), nil
	case strings.HasPrefix(specifier, "std:"):
		return hooks.Builtin(strings.TrimPrefix(specifier, "std:")), nil
	case specifier == "missing":
		return hooks.Descriptor{}, hooks.NotFound("no module %s", specifier)
	}
	return hooks.Parent(ctx, "rewritten-"+specifier, callsite)
}
`

func TestScriptLoader(t *testing.T) {
	dir := writeLoader(t, "hook.go", scriptSource)
	up := &upstream{}
	r := load(t, "./hook.go", dir, up)

	if d := resolve(t, r, "std:path"); d != module.Builtin("path") {
		t.Errorf("std:path = %v", d)
	}
	if d := resolve(t, r, "x"); d.Name != "up:rewritten-x" {
		t.Errorf("x = %v", d)
	}
	d := resolve(t, r, "answer")
	res, err := d.Response()
	if err != nil {
		t.Fatal(err)
	}
	if text, _ := res.Text(); text != "export default 42" {
		t.Errorf("body = %q", text)
	}
	if ct, _ := res.Headers().Get("Content-Type"); ct != "text/javascript" {
		t.Errorf("content-type = %q", ct)
	}
	if _, err := r(t.Context(), "missing", module.Callsite{}); !errors.Is(err, module.ErrModuleNotFound) {
		t.Errorf("missing = %v", err)
	}
}

func TestScriptLoaderErrors(t *testing.T) {
	up := &upstream{}
	src := NewSource(logging.Discard())
	for name, code := range map[string]string{
		"empty.go":    "  \n",
		"broken.go":   "package main\nfunc Resolve(",
		"noexport.go": "package main\n",
		"notfunc.go":  "package main\nvar Resolve = 3\n",
	} {
		dir := writeLoader(t, name, code)
		if _, err := src.Load(t.Context(), "./"+name, base(dir), up.resolve); err == nil {
			t.Errorf("%s: expected error", name)
		}
	}
}

const jqSource = `
if .specifier == "fs" then {builtin: "fs"}
elif .specifier == "config" then {file: "file:///etc/app/config.json"}
elif .specifier == "hello" then {synthetic: {body: "export default 'hi'", headers: {"content-type": "text/javascript"}}}
elif .specifier == "denied" then {error: "denied by policy", code: "ERR_ACCESS_DENIED"}
elif .specifier | startswith("@app/") then {delegate: ("./src/" + (.specifier | ltrimstr("@app/")))}
elif .specifier == "short" then "rewritten"
elif .specifier == "bogus" then 42
elif .callsite.referrer == "" then {delegate: true}
else null
end
`

func TestJQLoader(t *testing.T) {
	dir := writeLoader(t, "rewrite.jq", jqSource)
	up := &upstream{}
	r := load(t, "./rewrite.jq", dir, up)

	if d := resolve(t, r, "fs"); d != module.Builtin("fs") {
		t.Errorf("fs = %v", d)
	}
	if d := resolve(t, r, "config"); d != module.File("file:///etc/app/config.json", "json") {
		t.Errorf("config = %v", d)
	}
	if d := resolve(t, r, "@app/util.mjs"); d.Name != "up:./src/util.mjs" {
		t.Errorf("@app/util.mjs = %v", d)
	}
	if d := resolve(t, r, "short"); d.Name != "up:rewritten" {
		t.Errorf("short = %v", d)
	}
	if d := resolve(t, r, "other"); d.Name != "up:other" {
		t.Errorf("other = %v", d)
	}
	if d, err := r(t.Context(), "plain", module.Callsite{}); err != nil || d.Name != "up:plain" {
		t.Errorf("plain = %v, %v", d, err)
	}

	res, err := resolve(t, r, "hello").Response()
	if err != nil {
		t.Fatal(err)
	}
	if text, _ := res.Text(); text != "export default 'hi'" {
		t.Errorf("hello body = %q", text)
	}

	_, err = r(t.Context(), "denied", module.Callsite{})
	if module.AsError(err).Code != "ERR_ACCESS_DENIED" || err.Error() != "denied by policy" {
		t.Errorf("denied = %v", err)
	}
	if _, err := r(t.Context(), "bogus", module.Callsite{}); !errors.Is(err, module.ErrInvalidDescriptor) {
		t.Errorf("bogus = %v", err)
	}
}

func TestJQLoaderRuntimeError(t *testing.T) {
	dir := writeLoader(t, "fail.jq", `error("nope")`)
	up := &upstream{}
	r := load(t, "./fail.jq", dir, up)
	if _, err := r(t.Context(), "x", module.Callsite{}); !errors.Is(err, module.ErrLoaderFailed) {
		t.Errorf("got %v, want ERR_LOADER_FAILED", err)
	}
}

func TestJQLoaderParseError(t *testing.T) {
	dir := writeLoader(t, "bad.jq", `{builtin: `)
	up := &upstream{}
	if _, err := NewSource(logging.Discard()).Load(t.Context(), "./bad.jq", base(dir), up.resolve); err == nil {
		t.Error("expected parse error")
	}
}

const aliasSource = `
aliases:
  lodash: lodash-es
builtins: [fs, path]
files:
  config:
    url: ./config.json
  legacy:
    url: ./legacy.js
    format: commonjs
synthetic:
  answer:
    body: "export default 42"
    headers:
      content-type: text/javascript
`

func TestAliasLoader(t *testing.T) {
	dir := writeLoader(t, "alias.yaml", aliasSource)
	up := &upstream{}
	r := load(t, "./alias.yaml", dir, up)

	if d := resolve(t, r, "fs"); d != module.Builtin("fs") {
		t.Errorf("fs = %v", d)
	}
	if d := resolve(t, r, "lodash"); d.Name != "up:lodash-es" {
		t.Errorf("lodash = %v", d)
	}
	if d := resolve(t, r, "react"); d.Name != "up:react" {
		t.Errorf("react = %v", d)
	}
	want := module.File(fileURL(filepath.Join(dir, "config.json")).String(), "json")
	if d := resolve(t, r, "config"); d != want {
		t.Errorf("config = %v, want %v", d, want)
	}
	if d := resolve(t, r, "legacy"); d.Format != "commonjs" {
		t.Errorf("legacy = %v", d)
	}
	res, err := resolve(t, r, "answer").Response()
	if err != nil {
		t.Fatal(err)
	}
	if ct := res.ContentType(); ct != "text/javascript" {
		t.Errorf("content type = %q", ct)
	}
}

func TestAliasLoaderRejectsUnknownFields(t *testing.T) {
	dir := writeLoader(t, "alias.yml", "aliasez: {a: b}\n")
	up := &upstream{}
	if _, err := NewSource(logging.Discard()).Load(t.Context(), "./alias.yml", base(dir), up.resolve); err == nil {
		t.Error("expected error for unknown field")
	}
}

func TestAliasLoaderRejectsRemoteFiles(t *testing.T) {
	dir := writeLoader(t, "alias.yaml", "files:\n  x:\n    url: https://cdn.example.com/x.mjs\n")
	up := &upstream{}
	_, err := NewSource(logging.Discard()).Load(t.Context(), "./alias.yaml", base(dir), up.resolve)
	if !errors.Is(err, module.ErrUnsupportedScheme) {
		t.Errorf("got %v, want ERR_UNSUPPORTED_SCHEME", err)
	}
}
