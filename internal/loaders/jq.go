package loaders

import (
	"context"
	"fmt"
	"os"
	"time"

	"github.com/itchyny/gojq"

	"loaderchain.dev/internal/defaultresolve"
	"loaderchain.dev/internal/module"
	"loaderchain.dev/internal/response"
)

// jqLoader runs a filter over {"specifier", "callsite"} and interprets its
// first output.
type jqLoader struct {
	path    string
	code    *gojq.Code
	timeout time.Duration
	parent  module.ResolveFunc
}

func loadJQ(path string, timeout time.Duration, parent module.ResolveFunc) (module.ResolveFunc, error) {
	src, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("loaders: read %s: %w", path, err)
	}
	query, err := gojq.Parse(string(src))
	if err != nil {
		return nil, fmt.Errorf("jq: %s: failed to parse filter: %w", path, err)
	}
	code, err := gojq.Compile(query)
	if err != nil {
		return nil, fmt.Errorf("jq: %s: failed to compile filter: %w", path, err)
	}
	l := &jqLoader{path: path, code: code, timeout: timeout, parent: parent}
	return l.resolve, nil
}

func (l *jqLoader) resolve(ctx context.Context, specifier string, callsite module.Callsite) (module.Descriptor, error) {
	attrs := map[string]any{}
	for k, v := range callsite.Attributes {
		attrs[k] = v
	}
	input := map[string]any{
		"specifier": specifier,
		"callsite":  map[string]any{"referrer": callsite.Referrer, "attributes": attrs},
	}
	out, err := l.query(ctx, input)
	if err != nil {
		return module.Descriptor{}, module.Errorf(module.ErrLoaderFailed, "jq: %s: %v", l.path, err)
	}
	return l.decide(ctx, out, specifier, callsite)
}

// query returns the filter's first output, or nil if it produced none.
func (l *jqLoader) query(ctx context.Context, input any) (any, error) {
	// Code.Run is safe for concurrent use as long as inputs are not shared.
	qctx, cancel := context.WithTimeout(ctx, l.timeout)
	defer cancel()
	it := l.code.RunWithContext(qctx, input)
	v, ok := it.Next()
	if !ok {
		return nil, nil
	}
	if err, ok := v.(error); ok {
		if err, ok := err.(*gojq.HaltError); ok && err.Value() == nil {
			return nil, nil
		}
		return nil, err
	}
	return v, nil
}

// decide maps a filter output onto an answer or a delegation.
func (l *jqLoader) decide(ctx context.Context, out any, specifier string, callsite module.Callsite) (module.Descriptor, error) {
	switch out := out.(type) {
	case nil:
		return l.parent(ctx, specifier, callsite)
	case string:
		return l.parent(ctx, out, callsite)
	case map[string]any:
		if v, ok := out["delegate"]; ok {
			switch v := v.(type) {
			case bool:
				if v {
					return l.parent(ctx, specifier, callsite)
				}
			case string:
				return l.parent(ctx, v, callsite)
			}
			return module.Descriptor{}, l.invalid(out)
		}
		if name, ok := out["builtin"].(string); ok {
			return module.Builtin(name), nil
		}
		if u, ok := out["file"].(string); ok {
			format, _ := out["format"].(string)
			if format == "" {
				format = defaultresolve.Format(u)
			}
			return module.File(u, format), nil
		}
		if syn, ok := out["synthetic"].(map[string]any); ok {
			body, _ := syn["body"].(string)
			headers := map[string]string{}
			if hs, ok := syn["headers"].(map[string]any); ok {
				for k, v := range hs {
					headers[k] = fmt.Sprint(v)
				}
			}
			return module.Synthetic(response.NewText(body, response.Init{Headers: headers})), nil
		}
		if msg, ok := out["error"].(string); ok {
			kind := module.ErrLoaderFailed
			if code, ok := out["code"].(string); ok && code != "" {
				kind = &module.Error{Code: code}
			}
			return module.Descriptor{}, module.Errorf(kind, "%s", msg)
		}
	}
	return module.Descriptor{}, l.invalid(out)
}

func (l *jqLoader) invalid(out any) error {
	return module.Errorf(module.ErrInvalidDescriptor, "jq: %s: cannot interpret output %v", l.path, out)
}
