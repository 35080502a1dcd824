package reducer

import (
	"fmt"
	"slices"

	"github.com/wilhg/statehub/pkg/errmodel"
	"github.com/wilhg/statehub/pkg/state"
)

// Combined aggregates key-bound reducers into one whole-state transition.
type Combined struct {
	reducers []Reducer
	keys     []string
	empty    state.State
}

// Result is the outcome of one combined reduction.
type Result struct {
	// State is the snapshot after the action was applied.
	State state.State

	// Changed lists the keys whose value differs from the previous snapshot,
	// in reducer registration order.
	Changed []string
}

// HasChanged reports whether key is part of the changed-key set.
func (r Result) HasChanged(key string) bool {
	return slices.Contains(r.Changed, key)
}

// Combine validates the reducers and builds a Combined.
// It fails when no reducer is given, a reducer is nil, a key is empty or
// two reducers share a key.
func Combine(reducers ...Reducer) (*Combined, error) {
	if len(reducers) == 0 {
		return nil, errmodel.Configuration(errmodel.CodeEmptyReducers, "at least one reducer is required", nil)
	}
	c := &Combined{
		reducers: make([]Reducer, 0, len(reducers)),
		keys:     make([]string, 0, len(reducers)),
	}
	seen := make(map[string]struct{}, len(reducers))
	for i, r := range reducers {
		if r == nil {
			return nil, errmodel.Configuration(errmodel.CodeNilReducer, "reducer is nil", map[string]any{"index": i})
		}
		key := r.Key()
		if key == "" {
			return nil, errmodel.Configuration(errmodel.CodeEmptyKey, "reducer key is empty", map[string]any{"index": i})
		}
		if _, exists := seen[key]; exists {
			return nil, errmodel.Configuration(errmodel.CodeDuplicateKey,
				fmt.Sprintf("reducer key %q already registered", key), map[string]any{"key": key})
		}
		seen[key] = struct{}{}
		c.reducers = append(c.reducers, r)
		c.keys = append(c.keys, key)
	}
	c.empty = c.buildEmptyState()
	return c, nil
}

func (c *Combined) buildEmptyState() state.State {
	data := make(map[string]any, len(c.reducers))
	for _, r := range c.reducers {
		initial := r.InitialState()
		if next, ok := r.Reduce(initial, Init); ok {
			initial = next
		}
		data[r.Key()] = initial
	}
	return state.New(data)
}

// EmptyState returns the base snapshot built from every reducer's initial value.
func (c *Combined) EmptyState() state.State {
	return c.empty
}

// Keys returns the keys owned by the reducers, in registration order.
func (c *Combined) Keys() []string {
	return slices.Clone(c.keys)
}

// Normalize converts the sub-states of s into the types their reducers hold,
// such as the float64 and map values produced by JSON decoding. Keys without
// a reducer and values that cannot be converted are kept as they are.
func (c *Combined) Normalize(s state.State) state.State {
	var updates map[string]any
	for _, r := range c.reducers {
		key := r.Key()
		v, ok := s.Get(key)
		if !ok {
			continue
		}
		n := normalize(r, v)
		if state.ValuesEqual(v, n) {
			continue
		}
		if updates == nil {
			updates = make(map[string]any)
		}
		updates[key] = n
	}
	if updates == nil {
		return s
	}
	return state.Merge(s, state.New(updates))
}

func normalize(r Reducer, v any) any {
	n, ok := r.(Normalizer)
	if !ok {
		return v
	}
	if converted, ok := n.Normalize(v); ok {
		return converted
	}
	return v
}

// Reduce applies every reducer to its own slice of s. s is not modified.
// Sub-states are normalized before they are compared with the reducer's
// result, so a value that only differs in representation is not a change.
func (c *Combined) Reduce(s state.State, action Action) Result {
	var (
		changed []string
		updates map[string]any
	)
	for _, r := range c.reducers {
		key := r.Key()
		current, present := s.Get(key)
		if !present {
			current = r.InitialState()
		}
		current = normalize(r, current)
		value, ok := r.Reduce(current, action)
		if !ok {
			continue
		}
		if present && state.ValuesEqual(current, value) {
			continue
		}
		if updates == nil {
			updates = make(map[string]any)
		}
		updates[key] = value
		changed = append(changed, key)
	}
	if len(updates) == 0 {
		return Result{State: s}
	}
	return Result{State: state.Merge(s, state.New(updates)), Changed: changed}
}
