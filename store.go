package replane

import (
	"encoding/json"
	"fmt"
	"sort"
	"sync"

	"github.com/cespare/xxhash/v2"
	"golang.org/x/exp/maps"
)

// ConditionKind is the closed set of condition variants a wire override
// can carry. New variants are additive. An unknown kind still decodes
// (the field is a plain string) and evaluates to false, so an override
// carrying one never matches.
type ConditionKind string

const (
	CondEquals             ConditionKind = "equals"
	CondIn                 ConditionKind = "in"
	CondNotIn              ConditionKind = "not_in"
	CondLessThan           ConditionKind = "less_than"
	CondLessThanOrEqual    ConditionKind = "less_than_or_equal"
	CondGreaterThan        ConditionKind = "greater_than"
	CondGreaterThanOrEqual ConditionKind = "greater_than_or_equal"
	CondAnd                ConditionKind = "and"
	CondOr                 ConditionKind = "or"
	CondNot                ConditionKind = "not"
)

// Literal wraps a comparand so the wire format can later admit
// non-literal comparands (references, computed values) without a
// breaking change. Today it only ever carries Value.
type Literal struct {
	Value any `json:"value"`
}

// Condition is a tagged variant: atomic kinds use Property (+ Literal or
// Literals); composite kinds use Conditions or Inner. Exactly one of
// those groups is populated, selected by Kind.
type Condition struct {
	Kind ConditionKind `json:"kind"`

	// Atomic variants.
	Property string    `json:"property,omitempty"`
	Value    *Literal  `json:"value,omitempty"`
	Values   []Literal `json:"values,omitempty"`

	// Composite variants.
	Conditions []Condition `json:"conditions,omitempty"`
	Inner      *Condition  `json:"condition,omitempty" yaml:"condition,omitempty"`
}

// Override is a conditional replacement for a config's base value.
type Override struct {
	Name       string      `json:"name"`
	Conditions []Condition `json:"conditions"`
	Value      any         `json:"value"`
}

// Entry is a single named config: a base value plus a priority-ordered
// list of overrides. Two entries with the same Name never coexist in a
// Store; identity is by Name alone.
type Entry struct {
	Name      string     `json:"name"`
	Value     any        `json:"value"`
	Overrides []Override `json:"overrides"`
}

// fingerprint is a fast content hash used by Store.Upsert to decide
// whether an incoming entry actually changes value semantics, without
// doing a field-by-field deep-equal on every upsert.
func (e Entry) fingerprint() (uint64, error) {
	// json.Marshal produces a stable field order for structs (declaration
	// order), which is all xxhash needs: two entries with identical shape
	// produce identical bytes, and a byte-equal replacement counts as
	// "not a change."
	b, err := json.Marshal(e)
	if err != nil {
		return 0, fmt.Errorf("replane: fingerprint entry %q: %w", e.Name, err)
	}
	return xxhash.Sum64(b), nil
}

// Store is an in-memory map of config name to Entry. It carries no
// context and performs no evaluation; it is a data structure guarded by
// a single RWMutex, not a policy.
type Store struct {
	mu      sync.RWMutex
	entries map[string]Entry
	hashes  map[string]uint64
}

// NewStore returns an empty Store.
func NewStore() *Store {
	return &Store{
		entries: make(map[string]Entry),
		hashes:  make(map[string]uint64),
	}
}

// Upsert replaces any existing entry with the same name and returns
// true if the name's value semantics changed (per the fingerprint, not
// the object identity). A zero-value Store is not valid; use NewStore.
func (s *Store) Upsert(e Entry) (changed bool, err error) {
	fp, err := e.fingerprint()
	if err != nil {
		return false, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if old, ok := s.hashes[e.Name]; ok && old == fp {
		return false, nil
	}
	s.entries[e.Name] = e
	s.hashes[e.Name] = fp
	return true, nil
}

// UpsertAll applies a batch of entries and returns the set of names
// whose value semantics changed, in entry order. Used by Transport to
// compute one changed-name set per delivery rather than per entry.
func (s *Store) UpsertAll(entries []Entry) (changed []string, err error) {
	for _, e := range entries {
		did, err := s.Upsert(e)
		if err != nil {
			return changed, err
		}
		if did {
			changed = append(changed, e.Name)
		}
	}
	return changed, nil
}

// Read returns the entry for name and whether it was present.
func (s *Store) Read(name string) (Entry, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	e, ok := s.entries[name]
	return e, ok
}

// Names returns every config name currently in the Store, sorted for
// deterministic snapshot enumeration.
func (s *Store) Names() []string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	names := maps.Keys(s.entries)
	sort.Strings(names)
	return names
}

// snapshotEntries copies every entry out of the Store in a single pass. Used
// by the Snapshot Codec, which needs a consistent view without holding
// the lock across serialization.
func (s *Store) snapshotEntries() []Entry {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]Entry, 0, len(s.entries))
	names := maps.Keys(s.entries)
	sort.Strings(names)
	for _, n := range names {
		out = append(out, s.entries[n])
	}
	return out
}

// Has reports whether name is present, without copying the entry.
// Used by required-set validation at the end of initialization.
func (s *Store) Has(name string) bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	_, ok := s.entries[name]
	return ok
}
