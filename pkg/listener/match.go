// Package listener implements the subscription registry that tells
// interested parties about state transitions.
//
// Every registration pairs a Listener with a Match and a
// Filter. The Match decides which transitions concern the listener
// and which value it observes; the filter decides whether the observed
// change is worth a notification.
//
//	sub := listener.Register(reg, listener.KeyOf[int]("counter"),
//		listener.New(func(old, new int) { fmt.Println(old, "->", new) }))
//	defer sub.Remove()
package listener

import (
	"slices"

	"github.com/wilhg/statehub/pkg/state"
)

// Listener receives the old and new value of what it observes.
type Listener[E any] interface {
	Update(old, new E)
}

// Func is a Listener backed by a function. Use it by pointer: the pointer
// is the listener's identity.
type Func[E any] struct {
	fn func(old, new E)
}

// New wraps fn in a Listener.
func New[E any](fn func(old, new E)) *Func[E] {
	return &Func[E]{fn: fn}
}

// Update calls the wrapped function.
func (f *Func[E]) Update(old, new E) { f.fn(old, new) }

// Filter decides whether a change from old to new is relevant.
type Filter[E any] func(old, new E) bool

// DefaultFilter reports a change when the values are not equal by value.
func DefaultFilter(old, new any) bool {
	return !state.ValuesEqual(old, new)
}

// Changed is DefaultFilter for a concrete value type.
func Changed[E any](old, new E) bool {
	return !state.ValuesEqual(old, new)
}

// Always reports every transition as relevant.
func Always[E any](old, new E) bool { return true }

// Kind tags a Match.
type Kind int

const (
	KindAll Kind = iota
	KindKey
	KindType
	KindKeyAndType
	KindSelector
)

func (k Kind) String() string {
	switch k {
	case KindAll:
		return "all"
	case KindKey:
		return "key"
	case KindType:
		return "type"
	case KindKeyAndType:
		return "key_and_type"
	case KindSelector:
		return "selector"
	default:
		return "unknown"
	}
}

// Match describes what a listener observes.
type Match[E any] struct {
	kind    Kind
	key     string
	extract func(state.State) (E, bool)
}

// Kind returns the match kind.
func (m Match[E]) Kind() Kind { return m.kind }

// Key returns the observed key, empty for kinds without one.
func (m Match[E]) Key() string { return m.key }

// All observes the whole state on every transition.
func All() Match[state.State] {
	return Match[state.State]{
		kind:    KindAll,
		extract: func(s state.State) (state.State, bool) { return s, true },
	}
}

// Key observes the sub-state under key, whatever its type. An empty key is
// a catch-all that observes the whole state on every transition.
func Key(key string) Match[any] {
	if key == "" {
		return Match[any]{
			kind:    KindKey,
			extract: func(s state.State) (any, bool) { return s, true },
		}
	}
	return Match[any]{
		kind:    KindKey,
		key:     key,
		extract: func(s state.State) (any, bool) { return s.Get(key) },
	}
}

// KeyOf observes the sub-state under key when it holds an E.
func KeyOf[E any](key string) Match[E] {
	return Match[E]{
		kind:    KindKeyAndType,
		key:     key,
		extract: func(s state.State) (E, bool) { return state.Lookup[E](s, key) },
	}
}

// Type observes the first sub-state holding an E, on every transition.
func Type[E any]() Match[E] {
	return Match[E]{
		kind:    KindType,
		extract: state.Find[E],
	}
}

// Select observes a value derived from the state, on every transition.
// The selector must be pure and cheap: it runs twice per transition.
func Select[E any](selector func(state.State) E) Match[E] {
	return Match[E]{
		kind:    KindSelector,
		extract: func(s state.State) (E, bool) { return selector(s), true },
	}
}

// concerns reports whether a transition touching changed is relevant to
// a Match of the given kind and key.
func concerns(kind Kind, key string, changed []string) bool {
	switch kind {
	case KindKey, KindKeyAndType:
		return key == "" || slices.Contains(changed, key)
	default:
		return true
	}
}
