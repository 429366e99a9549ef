// Package modulemap caches resolution records by location.
package modulemap

import (
	"errors"
	"fmt"
	"sync"

	"code.hybscloud.com/atomix"

	"loaderchain.dev/internal/module"
)

var (
	ErrInvalidLocation = errors.New("modulemap: location must be a non-empty string")
	ErrInvalidRecord   = errors.New("modulemap: record must not be nil")
	ErrNotCached       = errors.New("modulemap: no record for location")
)

// SyntheticScheme prefixes locations minted for synthetic modules.
const SyntheticScheme = "synthetic:"

// Synthetic ids are unique across every map in the process.
var nextSynthetic atomix.Uint64

// Record is a resolved module as cached under its location.
type Record struct {
	Location   string
	Specifier  string
	Referrer   string
	Descriptor module.Descriptor
}

type Map struct {
	mu      sync.RWMutex
	records map[string]*Record
}

func New() *Map {
	return &Map{records: map[string]*Record{}}
}

// CreateSyntheticLocation returns a fresh synthetic:N location.
func (m *Map) CreateSyntheticLocation() string {
	return fmt.Sprintf("%s%d", SyntheticScheme, nextSynthetic.Add(1))
}

func (m *Map) Get(location string) (*Record, error) {
	if location == "" {
		return nil, ErrInvalidLocation
	}
	m.mu.RLock()
	defer m.mu.RUnlock()
	rec, ok := m.records[location]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrNotCached, location)
	}
	return rec, nil
}

func (m *Map) Set(location string, rec *Record) error {
	if location == "" {
		return ErrInvalidLocation
	}
	if rec == nil {
		return ErrInvalidRecord
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.records[location] = rec
	return nil
}

// LoadOrStore returns the record cached under location, storing rec first
// if there is none. loaded reports whether rec was discarded.
func (m *Map) LoadOrStore(location string, rec *Record) (actual *Record, loaded bool, err error) {
	if location == "" {
		return nil, false, ErrInvalidLocation
	}
	if rec == nil {
		return nil, false, ErrInvalidRecord
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if cur, ok := m.records[location]; ok {
		return cur, true, nil
	}
	m.records[location] = rec
	return rec, false, nil
}

func (m *Map) Has(location string) (bool, error) {
	if location == "" {
		return false, ErrInvalidLocation
	}
	m.mu.RLock()
	defer m.mu.RUnlock()
	_, ok := m.records[location]
	return ok, nil
}

func (m *Map) Len() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.records)
}
