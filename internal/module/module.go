// Package module defines the values exchanged by every hop of a loader chain:
// the callsite of a resolution request, the resolved descriptor, and the
// resolve function shape shared by loaders and the default resolver.
package module

import (
	"context"
	"fmt"
	"net/url"

	"loaderchain.dev/internal/response"
)

// BuiltinScheme is the URL scheme builtin modules are presented under.
const BuiltinScheme = "builtin:"

// Callsite describes where a resolution was requested from. Hops pass it
// through unmodified.
type Callsite struct {
	// URL of the importing module, if any
	Referrer string `json:"referrer,omitempty"`
	// Import attributes / assertions
	Attributes map[string]string `json:"attributes,omitempty"`
}

type Kind string

const (
	KindBuiltin   Kind = "builtin"
	KindFile      Kind = "file"
	KindSynthetic Kind = "synthetic"
)

// Descriptor is the result of a successful resolution. Kind selects which of
// the remaining fields is meaningful; the others must be empty.
type Descriptor struct {
	Kind Kind `json:"kind"`

	// builtin
	Name string `json:"name,omitempty"`

	// file
	URL    string `json:"url,omitempty"`
	Format string `json:"format,omitempty"`

	// synthetic
	Synthetic *response.Record `json:"synthetic,omitempty"`
}

func Builtin(name string) Descriptor {
	return Descriptor{Kind: KindBuiltin, Name: name}
}

func File(url, format string) Descriptor {
	return Descriptor{Kind: KindFile, URL: url, Format: format}
}

// Synthetic serializes r into a descriptor. r itself is not consumed.
func Synthetic(r *response.Response) Descriptor {
	rec := r.Serialize()
	return Descriptor{Kind: KindSynthetic, Synthetic: &rec}
}

// Validate checks that exactly one kind is set and that file descriptors only
// expose local files.
func (d Descriptor) Validate() error {
	switch d.Kind {
	case KindBuiltin:
		if d.Name == "" || d.URL != "" || d.Format != "" || d.Synthetic != nil {
			return Errorf(ErrInvalidDescriptor, "builtin descriptor must carry only a name: %v", d)
		}
	case KindFile:
		if d.Name != "" || d.Synthetic != nil {
			return Errorf(ErrInvalidDescriptor, "file descriptor must carry only url and format: %v", d)
		}
		u, err := url.Parse(d.URL)
		if err != nil {
			return Errorf(ErrInvalidDescriptor, "file descriptor url: %v", err)
		}
		if u.Scheme != "file" {
			return Errorf(ErrUnsupportedScheme, "can only expose local files, got %q", d.URL)
		}
	case KindSynthetic:
		if d.Synthetic == nil || d.Name != "" || d.URL != "" || d.Format != "" {
			return Errorf(ErrInvalidDescriptor, "synthetic descriptor must carry only a response: %v", d)
		}
	default:
		return Errorf(ErrInvalidDescriptor, "unknown descriptor kind %q", d.Kind)
	}
	return nil
}

// Location returns the URL the descriptor is addressed by. Synthetic
// descriptors have no intrinsic location.
func (d Descriptor) Location() string {
	switch d.Kind {
	case KindBuiltin:
		return BuiltinScheme + d.Name
	case KindFile:
		return d.URL
	}
	return ""
}

// Response presents the descriptor as a synthetic response: builtins and
// files become redirects, synthetic descriptors are deserialized.
func (d Descriptor) Response() (*response.Response, error) {
	if err := d.Validate(); err != nil {
		return nil, err
	}
	if d.Kind == KindSynthetic {
		return response.Deserialize(*d.Synthetic), nil
	}
	return response.Redirect(d.Location())
}

func (d Descriptor) String() string {
	switch d.Kind {
	case KindBuiltin:
		return fmt.Sprintf("builtin(%s)", d.Name)
	case KindFile:
		return fmt.Sprintf("file(%s, %s)", d.URL, d.Format)
	case KindSynthetic:
		return "synthetic"
	}
	return fmt.Sprintf("invalid(%q)", d.Kind)
}

// Resolver is anything that can resolve a specifier for a callsite.
type Resolver interface {
	Resolve(ctx context.Context, specifier string, callsite Callsite) (Descriptor, error)
}

// ResolveFunc adapts a function to Resolver. Loaders, the default resolver
// and upstream delegation all share this shape.
type ResolveFunc func(ctx context.Context, specifier string, callsite Callsite) (Descriptor, error)

func (f ResolveFunc) Resolve(ctx context.Context, specifier string, callsite Callsite) (Descriptor, error) {
	return f(ctx, specifier, callsite)
}
