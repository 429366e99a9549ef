package loaders

import (
	"context"
	"fmt"
	"os"
	"reflect"
	"strings"

	"github.com/traefik/yaegi/interp"
	"github.com/traefik/yaegi/stdlib"

	"loaderchain.dev/internal/module"
	"loaderchain.dev/internal/response"
)

const (
	scriptFuncName = "Resolve"
	// HooksPackage is the import path scripts use to reach their upstream
	// and build descriptors.
	HooksPackage = "loaderchain.dev/hooks"
)

type resolveSig = func(context.Context, string, module.Callsite) (module.Descriptor, error)

// hooks returns the symbols of the hooks package for one script. Parent is
// bound to that script's upstream.
func hooks(parent module.ResolveFunc) interp.Exports {
	return interp.Exports{
		HooksPackage + "/hooks": {
			"Descriptor": reflect.ValueOf((*module.Descriptor)(nil)),
			"Callsite":   reflect.ValueOf((*module.Callsite)(nil)),

			"Parent": reflect.ValueOf(func(ctx context.Context, specifier string, callsite module.Callsite) (module.Descriptor, error) {
				return parent(ctx, specifier, callsite)
			}),
			"Builtin": reflect.ValueOf(module.Builtin),
			"File":    reflect.ValueOf(module.File),
			"Synthetic": reflect.ValueOf(func(body string, headers map[string]string) module.Descriptor {
				return module.Synthetic(response.NewText(body, response.Init{Headers: headers}))
			}),
			"NotFound": reflect.ValueOf(func(format string, args ...any) error {
				return module.Errorf(module.ErrModuleNotFound, format, args...)
			}),
		},
	}
}

// loadScript interprets a Go source file that defines
//
//	func Resolve(ctx context.Context, specifier string, callsite hooks.Callsite) (hooks.Descriptor, error)
func loadScript(path string, parent module.ResolveFunc) (module.ResolveFunc, error) {
	code, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("loaders: read %s: %w", path, err)
	}
	if len(strings.TrimSpace(string(code))) == 0 {
		return nil, fmt.Errorf("loaders: %s is empty", path)
	}
	i := interp.New(interp.Options{})
	if err := i.Use(stdlib.Symbols); err != nil {
		return nil, fmt.Errorf("loaders: %s: %w", path, err)
	}
	if err := i.Use(hooks(parent)); err != nil {
		return nil, fmt.Errorf("loaders: %s: %w", path, err)
	}
	if _, err := i.EvalPath(path); err != nil {
		return nil, fmt.Errorf("loaders: interpret %s: %w", path, err)
	}
	fn, err := i.Eval(scriptFuncName)
	if err != nil {
		return nil, fmt.Errorf("loaders: %s must define %s(ctx, specifier, callsite) (hooks.Descriptor, error): %w", path, scriptFuncName, err)
	}
	resolve, err := resolveFunc(fn)
	if err != nil {
		return nil, fmt.Errorf("loaders: %s: %w", path, err)
	}
	return resolve, nil
}

func resolveFunc(fn reflect.Value) (module.ResolveFunc, error) {
	if !fn.IsValid() || fn.Kind() != reflect.Func {
		return nil, fmt.Errorf("%s is not a function", scriptFuncName)
	}
	if f, ok := fn.Interface().(resolveSig); ok {
		return f, nil
	}
	t := fn.Type()
	if t.NumIn() != 3 || t.NumOut() != 2 {
		return nil, fmt.Errorf("%s must take (ctx, specifier, callsite) and return (hooks.Descriptor, error)", scriptFuncName)
	}
	return func(ctx context.Context, specifier string, callsite module.Callsite) (module.Descriptor, error) {
		out := fn.Call([]reflect.Value{reflect.ValueOf(ctx), reflect.ValueOf(specifier), reflect.ValueOf(callsite)})
		if e := out[1].Interface(); e != nil {
			err, ok := e.(error)
			if !ok {
				return module.Descriptor{}, fmt.Errorf("%s returned non-error second value", scriptFuncName)
			}
			return module.Descriptor{}, err
		}
		d, ok := out[0].Interface().(module.Descriptor)
		if !ok {
			return module.Descriptor{}, fmt.Errorf("%s returned %T, want hooks.Descriptor", scriptFuncName, out[0].Interface())
		}
		return d, nil
	}, nil
}
