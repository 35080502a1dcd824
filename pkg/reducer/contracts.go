// Package reducer defines actions, key-bound reducers and their combination
// into a single whole-state transition.
//
// A reducer owns exactly one top-level state key. It must be:
//   - Pure, with no I/O and no mutation of the value it receives
//   - Deterministic given the same inputs
//   - Fast, since it runs on the store's single execution context
//
// Example usage:
//
//	counter := reducer.New("counter", 0, func(n int, a reducer.Action) (int, bool) {
//		if a.Type != "INC" {
//			return n, false
//		}
//		return n + 1, true
//	})
//	combined, err := reducer.Combine(counter)
package reducer

import (
	"encoding/json"
	"fmt"
)

// InitType is the action type offered to every reducer when the empty state is built.
const InitType = "@@statehub/INIT"

// Init is the sentinel action used to seed the empty state.
var Init = Action{Type: InitType}

// Action describes something that happened. Actions are ephemeral values;
// they have no identity beyond their contents.
type Action struct {
	// Type is the logical discriminator reducers switch on.
	Type string `json:"type"`

	// Data carries the action payload. Its structure depends on Type.
	Data any `json:"data,omitempty"`
}

// NewAction builds an Action.
func NewAction(actionType string, data any) Action {
	return Action{Type: actionType, Data: data}
}

// Reducer computes the next sub-state for one key.
type Reducer interface {
	// Key returns the top-level state key this reducer owns.
	Key() string

	// InitialState returns the value used when the key has no sub-state yet.
	InitialState() any

	// Reduce returns the next sub-state for the given action, or ok=false
	// when the action does not concern this reducer.
	Reduce(current any, action Action) (next any, ok bool)
}

// Normalizer is implemented by reducers that hold their sub-state as a
// specific Go type. Normalize returns v in that type, or ok=false when v is
// absent or cannot be converted.
type Normalizer interface {
	Normalize(v any) (normalized any, ok bool)
}

// Func is a typed reduce function.
type Func[S any] func(current S, action Action) (S, bool)

type typed[S any] struct {
	key     string
	initial S
	fn      Func[S]
}

// New adapts a typed reduce function to a Reducer bound to key.
// A current value that is not an S is converted through its JSON encoding,
// which covers states restored from JSON. Values that are absent or cannot
// be converted are replaced by initial before fn is called.
func New[S any](key string, initial S, fn Func[S]) Reducer {
	return &typed[S]{key: key, initial: initial, fn: fn}
}

func (r *typed[S]) Key() string       { return r.key }
func (r *typed[S]) InitialState() any { return r.initial }

func (r *typed[S]) Normalize(v any) (any, bool) {
	if s, ok := v.(S); ok {
		return s, true
	}
	if v == nil {
		return nil, false
	}
	s, err := convert[S](v)
	if err != nil {
		return nil, false
	}
	return s, true
}

func (r *typed[S]) Reduce(current any, action Action) (any, bool) {
	s := r.initial
	if v, ok := r.Normalize(current); ok {
		s = v.(S)
	}
	next, ok := r.fn(s, action)
	if !ok {
		return nil, false
	}
	return next, true
}

// DataAs returns the action payload as a T. Payloads that arrive in another
// shape, such as the generic maps produced by JSON decoding, are converted
// through their JSON encoding.
func DataAs[T any](a Action) (T, error) {
	if v, ok := a.Data.(T); ok {
		return v, nil
	}
	v, err := convert[T](a.Data)
	if err != nil {
		return v, fmt.Errorf("%s payload: %w", a.Type, err)
	}
	return v, nil
}

func convert[T any](v any) (T, error) {
	var out T
	b, err := json.Marshal(v)
	if err != nil {
		return out, fmt.Errorf("encode: %w", err)
	}
	if err := json.Unmarshal(b, &out); err != nil {
		return out, fmt.Errorf("decode: %w", err)
	}
	return out, nil
}
