package common

import "github.com/oklog/ulid/v2"

// NewID returns a new lexically sortable identifier.
func NewID() string {
	return ulid.Make().String()
}

// ScopedID returns an identifier prefixed with its scope, e.g. "worker.01J...".
// Used for chain and worker names in logs and supervisor trees.
func ScopedID(scope string) string {
	return scope + "." + NewID()
}

func Assert(cond bool, msg any) {
	if !cond {
		panic(msg)
	}
}
