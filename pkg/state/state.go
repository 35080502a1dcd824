// Package state defines the immutable keyed snapshot held by a store.
//
// A State maps top-level keys to sub-state values. Every operation that would
// change a State returns a new one; the receiver is never modified. Sub-state
// values are shared between snapshots and must be treated as read-only by
// callers: reducers return new values instead of mutating the ones they get.
//
// Example:
//
//	s1 := state.New(map[string]any{"counter": 1})
//	s2 := s1.With("counter", 2)
//	// s1 still holds 1, s2 holds 2
//
//	n, ok := state.Lookup[int](s2, "counter") // 2, true
package state

import (
	"encoding/json"
	"maps"
	"reflect"
	"slices"
)

// State is an immutable snapshot of keyed sub-states.
// The zero value is an empty State and is ready to use.
type State struct {
	data map[string]any
}

// New creates a State holding a copy of data. A nil map yields an empty State.
func New(data map[string]any) State {
	return State{data: maps.Clone(data)}
}

// Empty returns a State without keys.
func Empty() State {
	return State{}
}

// Get returns the sub-state stored under key.
func (s State) Get(key string) (any, bool) {
	v, ok := s.data[key]
	return v, ok
}

// Has reports whether key is present.
func (s State) Has(key string) bool {
	_, ok := s.data[key]
	return ok
}

// Keys returns the keys in sorted order.
func (s State) Keys() []string {
	return slices.Sorted(maps.Keys(s.data))
}

// Len returns the number of keys.
func (s State) Len() int {
	return len(s.data)
}

// Copy returns an independent State with the same key-value pairs.
// Sub-state values are shared, the key mapping is not.
func (s State) Copy() State {
	return State{data: maps.Clone(s.data)}
}

// With returns a new State where key holds value.
func (s State) With(key string, value any) State {
	next := make(map[string]any, len(s.data)+1)
	maps.Copy(next, s.data)
	next[key] = value
	return State{data: next}
}

// Without returns a new State lacking key.
func (s State) Without(key string) State {
	if !s.Has(key) {
		return s
	}
	next := maps.Clone(s.data)
	delete(next, key)
	return State{data: next}
}

// Map returns a copy of the underlying key-value pairs.
func (s State) Map() map[string]any {
	out := make(map[string]any, len(s.data))
	maps.Copy(out, s.data)
	return out
}

// Equal reports whether both snapshots hold the same keys with equal values.
func (s State) Equal(other State) bool {
	if len(s.data) != len(other.data) {
		return false
	}
	for k, v := range s.data {
		ov, ok := other.data[k]
		if !ok || !ValuesEqual(v, ov) {
			return false
		}
	}
	return true
}

// MarshalJSON encodes the snapshot as a JSON object.
func (s State) MarshalJSON() ([]byte, error) {
	if s.data == nil {
		return []byte("{}"), nil
	}
	return json.Marshal(s.data)
}

// UnmarshalJSON decodes a JSON object into a new snapshot.
// Sub-state values take the generic encoding/json shapes.
func (s *State) UnmarshalJSON(b []byte) error {
	var data map[string]any
	if err := json.Unmarshal(b, &data); err != nil {
		return err
	}
	s.data = data
	return nil
}

// Merge returns a State holding every key of base, with the values of
// override taking precedence. Keys present only in override are included too.
// Neither argument is modified.
func Merge(base, override State) State {
	out := make(map[string]any, len(base.data)+len(override.data))
	maps.Copy(out, base.data)
	maps.Copy(out, override.data)
	return State{data: out}
}

// Lookup returns the value under key when it holds a value of type E.
func Lookup[E any](s State, key string) (E, bool) {
	v, ok := s.data[key]
	if !ok {
		var zero E
		return zero, false
	}
	e, ok := v.(E)
	return e, ok
}

// Find returns the first value of type E, scanning keys in sorted order.
func Find[E any](s State) (E, bool) {
	for _, k := range s.Keys() {
		if e, ok := s.data[k].(E); ok {
			return e, true
		}
	}
	var zero E
	return zero, false
}

// ValuesEqual is the value equality used to decide whether a sub-state changed.
// Values implementing Equaler decide for themselves; everything else is
// compared structurally.
func ValuesEqual(a, b any) bool {
	if eq, ok := a.(Equaler); ok {
		return eq.Equal(b)
	}
	return reflect.DeepEqual(a, b)
}

// Equaler lets a sub-state type define its own equality.
type Equaler interface {
	Equal(other any) bool
}
