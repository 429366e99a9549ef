package response

import (
	"errors"
	"slices"
	"sort"
	"strings"
	"sync"
)

// ErrImmutableHeaders is returned when mutating a header list whose guard is immutable.
var ErrImmutableHeaders = errors.New("response: cannot modify immutable headers")

// Guard controls whether a header list may be modified.
type Guard string

const (
	GuardNone      Guard = "none"
	GuardImmutable Guard = "immutable"
)

// Header is a single name/value pair. Names keep the case they were appended
// with; lookups ignore case.
type Header struct {
	Name  string
	Value string
}

// Headers is an ordered, multi-valued header list. Duplicates are allowed.
// It is safe for concurrent use.
type Headers struct {
	mu    sync.Mutex
	guard Guard
	list  []Header
}

// NewHeaders builds a mutable header list. Names from init are lowercased and
// added in sorted order so that construction is deterministic. Keys that
// differ only in case stay separate entries, ordered by their original key.
func NewHeaders(init map[string]string) *Headers {
	h := &Headers{guard: GuardNone}
	keys := make([]string, 0, len(init))
	for k := range init {
		keys = append(keys, k)
	}
	sort.Slice(keys, func(i, j int) bool {
		li, lj := strings.ToLower(keys[i]), strings.ToLower(keys[j])
		if li != lj {
			return li < lj
		}
		return keys[i] < keys[j]
	})
	for _, k := range keys {
		h.list = append(h.list, Header{Name: strings.ToLower(k), Value: init[k]})
	}
	return h
}

func (h *Headers) Immutable() bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.guard == GuardImmutable
}

func (h *Headers) Len() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.list)
}

// List returns a copy of the header pairs in order.
func (h *Headers) List() []Header {
	h.mu.Lock()
	defer h.mu.Unlock()
	return slices.Clone(h.list)
}

func (h *Headers) Append(name, value string) error {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.guard == GuardImmutable {
		return ErrImmutableHeaders
	}
	h.list = append(h.list, Header{Name: name, Value: value})
	return nil
}

// Get returns the first value stored under name.
func (h *Headers) Get(name string) (string, bool) {
	h.mu.Lock()
	defer h.mu.Unlock()
	for _, hdr := range h.list {
		if strings.EqualFold(hdr.Name, name) {
			return hdr.Value, true
		}
	}
	return "", false
}

func (h *Headers) GetAll(name string) []string {
	h.mu.Lock()
	defer h.mu.Unlock()
	var values []string
	for _, hdr := range h.list {
		if strings.EqualFold(hdr.Name, name) {
			values = append(values, hdr.Value)
		}
	}
	return values
}

func (h *Headers) Has(name string) bool {
	_, ok := h.Get(name)
	return ok
}

// Set replaces the first value stored under name and drops any later
// duplicates. If name is absent the pair is appended.
func (h *Headers) Set(name, value string) error {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.guard == GuardImmutable {
		return ErrImmutableHeaders
	}
	found := false
	out := h.list[:0]
	for _, hdr := range h.list {
		if strings.EqualFold(hdr.Name, name) {
			if found {
				continue
			}
			hdr.Value = value
			found = true
		}
		out = append(out, hdr)
	}
	h.list = out
	if !found {
		h.list = append(h.list, Header{Name: name, Value: value})
	}
	return nil
}

func (h *Headers) Delete(name string) error {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.guard == GuardImmutable {
		return ErrImmutableHeaders
	}
	h.list = slices.DeleteFunc(h.list, func(hdr Header) bool {
		return strings.EqualFold(hdr.Name, name)
	})
	return nil
}

func (h *Headers) clone() *Headers {
	guard, list := h.snapshot()
	return &Headers{guard: guard, list: list}
}

func (h *Headers) snapshot() (Guard, []Header) {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.guard, slices.Clone(h.list)
}
