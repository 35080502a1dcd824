package listener

import (
	"fmt"
	"log/slog"
	"reflect"
	"sync"

	"github.com/google/uuid"
	orderedmap "github.com/wk8/go-ordered-map/v2"

	"github.com/wilhg/statehub/pkg/errmodel"
	"github.com/wilhg/statehub/pkg/state"
)

type mode int

const (
	// modeFiltered applies key matching and filters.
	modeFiltered mode = iota
	// modeForced notifies every listener whose value is present, bypassing filters.
	modeForced
	// modeInitial notifies once with an absent old value.
	modeInitial
)

type entry struct {
	id     string
	kind   Kind
	key    string
	notify func(old, new state.State, m mode)
}

// Registry maps listener identities to their registrations.
// It is safe for concurrent use. Listeners are delivered in registration
// order; re-registering a listener keeps its position.
type Registry struct {
	mu      sync.RWMutex
	entries *orderedmap.OrderedMap[any, *entry]

	current       func() state.State
	defaultFilter Filter[any]
	logger        *slog.Logger
}

// RegistryOption configures a Registry.
type RegistryOption func(*Registry)

// WithDefaultFilter sets the filter used by registrations without one.
func WithDefaultFilter(f Filter[any]) RegistryOption {
	return func(r *Registry) {
		if f != nil {
			r.defaultFilter = f
		}
	}
}

// WithLogger sets the logger used to report listener failures.
func WithLogger(logger *slog.Logger) RegistryOption {
	return func(r *Registry) {
		if logger != nil {
			r.logger = logger
		}
	}
}

// NewRegistry creates a Registry. current supplies the state handed to
// Subscription.InformWithCurrentState.
func NewRegistry(current func() state.State, opts ...RegistryOption) *Registry {
	r := &Registry{
		entries:       orderedmap.New[any, *entry](),
		current:       current,
		defaultFilter: DefaultFilter,
		logger:        slog.Default(),
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Option configures a single registration.
type Option[E any] func(*registration[E])

type registration[E any] struct {
	filter Filter[E]
}

// WithFilter overrides the registry's default filter for one registration.
func WithFilter[E any](f Filter[E]) Option[E] {
	return func(reg *registration[E]) {
		reg.filter = f
	}
}

// Register adds l to r and returns its Subscription. Registering a listener
// that is already present replaces its previous registration.
//
// The listener's identity is the value itself. Listeners whose dynamic type
// is not comparable cannot be looked up by value; they are identified by
// their Subscription and can only be removed through it.
func Register[E any](r *Registry, m Match[E], l Listener[E], opts ...Option[E]) *Subscription {
	if l == nil {
		panic(errmodel.Configuration(errmodel.CodeNilArgument, "listener is nil", nil))
	}
	if m.extract == nil {
		panic(errmodel.Configuration(errmodel.CodeNilArgument, "match is empty", nil))
	}

	var reg registration[E]
	for _, opt := range opts {
		opt(&reg)
	}
	filter := reg.filter
	if filter == nil {
		df := r.defaultFilter
		filter = func(old, new E) bool { return df(old, new) }
	}

	e := &entry{
		id:   uuid.NewString(),
		kind: m.kind,
		key:  m.key,
	}
	e.notify = func(old, new state.State, md mode) {
		nv, ok := m.extract(new)
		if md == modeInitial {
			var zero E
			l.Update(zero, nv)
			return
		}
		if !ok {
			return
		}
		ov, _ := m.extract(old)
		if md == modeFiltered && !filter(ov, nv) {
			return
		}
		l.Update(ov, nv)
	}

	var identity any = e
	if reflect.TypeOf(l).Comparable() {
		identity = l
	}

	sub := &Subscription{registry: r, identity: identity, entry: e}
	sub.Add()
	return sub
}

// Remove deregisters the listener with the given identity.
// Removing an unknown listener is a no-op.
func (r *Registry) Remove(l any) {
	if l == nil || !reflect.TypeOf(l).Comparable() {
		return
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	r.entries.Delete(l)
}

// Len returns the number of registrations.
func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.entries.Len()
}

// Notify informs the listeners concerned by a transition from old to new
// that changed the given keys. Listener and filter panics are recovered and
// returned; the remaining listeners are still notified. Dispatch contract
// violations raised by a listener are not recovered.
func (r *Registry) Notify(old, new state.State, changed []string) []error {
	var errs []error
	for _, e := range r.snapshot() {
		if !concerns(e.kind, e.key, changed) {
			continue
		}
		if err := r.deliver(e, old, new, modeFiltered); err != nil {
			errs = append(errs, err)
		}
	}
	return errs
}

// NotifyAll informs every listener as if every key changed, bypassing
// filters. Listeners whose value is absent from new are skipped.
func (r *Registry) NotifyAll(old, new state.State) []error {
	var errs []error
	for _, e := range r.snapshot() {
		if err := r.deliver(e, old, new, modeForced); err != nil {
			errs = append(errs, err)
		}
	}
	return errs
}

func (r *Registry) snapshot() []*entry {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]*entry, 0, r.entries.Len())
	for pair := r.entries.Oldest(); pair != nil; pair = pair.Next() {
		out = append(out, pair.Value)
	}
	return out
}

func (r *Registry) deliver(e *entry, old, new state.State, md mode) (err error) {
	defer func() {
		if p := recover(); p != nil {
			if perr, ok := p.(error); ok && errmodel.IsCategory(perr, errmodel.CategoryDispatch) {
				panic(p)
			}
			err = errmodel.Listener(errmodel.CodeListenerPanic, "listener panicked", map[string]any{
				"subscription": e.id,
				"kind":         e.kind.String(),
				"key":          e.key,
				"panic":        fmt.Sprint(p),
			}, nil)
			r.logger.Error(
				"listener panicked",
				slog.String("subscription", e.id),
				slog.String("kind", e.kind.String()),
				slog.String("key", e.key),
				slog.String("panic", fmt.Sprint(p)),
			)
		}
	}()
	e.notify(old, new, md)
	return nil
}
