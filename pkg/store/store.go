// Package store implements the store runtime: it owns the current state,
// serializes dispatches through an executor, runs the middleware chain,
// applies the combined reducers and notifies subscribers.
//
// A dispatch runs as middleware chain → reduce → notify on the store's
// executor. Reducing is guarded: a reducer, a middleware continuation or a
// listener that synchronously triggers another reduce aborts the dispatch
// with a panic carrying a reentrant_dispatch error.
package store

import (
	"context"
	"log/slog"
	"sync/atomic"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/wilhg/statehub/pkg/errmodel"
	"github.com/wilhg/statehub/pkg/executor"
	"github.com/wilhg/statehub/pkg/listener"
	"github.com/wilhg/statehub/pkg/middleware"
	"github.com/wilhg/statehub/pkg/reducer"
	"github.com/wilhg/statehub/pkg/state"
)

const tracerName = "statehub/store"

// Store is a single-writer, multi-reader state container.
type Store struct {
	name     string
	combined *reducer.Combined
	chain    *middleware.Chain
	registry *listener.Registry
	exec     executor.Executor
	owned    *executor.Serial

	current  atomic.Pointer[state.State]
	reducing atomic.Bool

	logger *slog.Logger
	tracer trace.Tracer
}

var (
	_ middleware.StateGetter = (*Store)(nil)
	_ middleware.Dispatcher  = (*Store)(nil)
)

// New builds a store from reducers. Construction fails with a configuration
// error when the reducer set is invalid or an option is given a nil argument.
func New(reducers []reducer.Reducer, opts ...Option) (*Store, error) {
	cfg := options{name: "default"}
	for _, opt := range opts {
		if err := opt(&cfg); err != nil {
			return nil, err
		}
	}

	combined, err := reducer.Combine(reducers...)
	if err != nil {
		return nil, err
	}
	chain, err := middleware.NewChain(cfg.middleware...)
	if err != nil {
		return nil, err
	}

	logger := cfg.logger
	if logger == nil {
		logger = slog.Default()
	}
	logger = logger.With(slog.String("store", cfg.name))

	tracer := cfg.tracer
	if tracer == nil {
		tracer = otel.Tracer(tracerName)
	}

	s := &Store{
		name:     cfg.name,
		combined: combined,
		chain:    chain,
		exec:     cfg.executor,
		logger:   logger,
		tracer:   tracer,
	}
	if s.exec == nil {
		s.owned = executor.NewSerial(logger)
		s.exec = s.owned
	}

	initial := combined.Normalize(state.Merge(combined.EmptyState(), cfg.initial))
	s.current.Store(&initial)

	regOpts := []listener.RegistryOption{listener.WithLogger(logger)}
	if cfg.defaultFilter != nil {
		regOpts = append(regOpts, listener.WithDefaultFilter(cfg.defaultFilter))
	}
	s.registry = listener.NewRegistry(s.snapshot, regOpts...)

	logger.Debug(
		"store created",
		slog.Any("keys", combined.Keys()),
		slog.Int("middleware", chain.Len()),
	)
	return s, nil
}

// Name returns the store's name.
func (s *Store) Name() string { return s.name }

// Keys returns the keys owned by the store's reducers.
func (s *Store) Keys() []string { return s.combined.Keys() }

// State returns a copy of the current state. It is safe to call from any
// goroutine.
func (s *Store) State() state.State {
	return s.snapshot().Copy()
}

func (s *Store) snapshot() state.State {
	return *s.current.Load()
}

// Dispatch schedules action on the store's executor and returns without
// waiting for it to be reduced.
func (s *Store) Dispatch(action reducer.Action) {
	s.DispatchContext(context.Background(), action)
}

// DispatchContext is Dispatch with a parent context for tracing and logging.
// Cancelling ctx does not cancel a scheduled dispatch.
func (s *Store) DispatchContext(ctx context.Context, action reducer.Action) {
	ctx = context.WithoutCancel(ctx)
	id := uuid.NewString()
	s.exec.Execute(func() {
		s.run(ctx, id, action)
	})
}

func (s *Store) run(ctx context.Context, id string, action reducer.Action) {
	ctx, span := s.tracer.Start(ctx, "Store.Dispatch", trace.WithAttributes(
		attribute.String("store.name", s.name),
		attribute.String("dispatch.id", id),
		attribute.String("action.type", action.Type),
	))
	defer span.End()

	s.chain.OnAction(ctx, action, s, s, func(next reducer.Action) {
		s.reduce(ctx, id, next)
	})
}

func (s *Store) reduce(ctx context.Context, id string, action reducer.Action) {
	if !s.reducing.CompareAndSwap(false, true) {
		err := errmodel.Dispatch(errmodel.CodeReentrantDispatch, "dispatch triggered while a reduce is in progress", map[string]any{
			"dispatch_id": id,
			"action":      action.Type,
		})
		span := trace.SpanFromContext(ctx)
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Message)
		s.logger.ErrorContext(
			ctx,
			"reentrant dispatch",
			slog.String("dispatch_id", id),
			slog.String("action", action.Type),
		)
		panic(err)
	}
	defer s.reducing.Store(false)

	ctx, span := s.tracer.Start(ctx, "Store.Reduce", trace.WithAttributes(
		attribute.String("dispatch.id", id),
		attribute.String("action.type", action.Type),
	))
	defer span.End()

	// A Reset can replace the state between the load and the store; the
	// reduction is then applied again on top of the reset state.
	var (
		old  state.State
		next state.State
		res  reducer.Result
	)
	for {
		cur := s.current.Load()
		old = *cur
		res = s.combined.Reduce(old, action)
		if len(res.Changed) == 0 {
			span.SetAttributes(attribute.StringSlice("state.changed", nil))
			return
		}
		next = res.State
		if s.current.CompareAndSwap(cur, &next) {
			break
		}
	}
	span.SetAttributes(attribute.StringSlice("state.changed", res.Changed))

	for _, err := range s.registry.Notify(old, next, res.Changed) {
		span.RecordError(err)
	}
}

// Reset replaces the current state with st layered over the reducers' empty
// state, then notifies every listener as if every key changed. Sub-states
// decoded from JSON are converted to the types their reducers hold.
//
// Reset runs on the caller's goroutine and bypasses the middleware chain and
// the reducing guard. A reduce that overlaps it is applied again on top of
// the reset state, so the reset is never lost; its notifications may then
// interleave with the reset's.
func (s *Store) Reset(st state.State) {
	ctx, span := s.tracer.Start(context.Background(), "Store.Reset", trace.WithAttributes(
		attribute.String("store.name", s.name),
	))
	defer span.End()

	next := s.combined.Normalize(state.Merge(s.combined.EmptyState(), st))
	old := *s.current.Swap(&next)

	errs := s.registry.NotifyAll(old, next)
	for _, err := range errs {
		span.RecordError(err)
	}
	s.logger.DebugContext(ctx, "state reset", slog.Int("listener_errors", len(errs)))
}

// AddListener registers l for the whole state.
func (s *Store) AddListener(l listener.Listener[state.State], opts ...listener.Option[state.State]) *listener.Subscription {
	return listener.Register(s.registry, listener.All(), l, opts...)
}

// Subscribe registers l on store s for the values selected by m.
func Subscribe[E any](s *Store, m listener.Match[E], l listener.Listener[E], opts ...listener.Option[E]) *listener.Subscription {
	return listener.Register(s.registry, m, l, opts...)
}

// RemoveListener deregisters l. Removing an unknown listener is a no-op.
func (s *Store) RemoveListener(l any) {
	s.registry.Remove(l)
}

// Listeners returns the number of registered listeners.
func (s *Store) Listeners() int {
	return s.registry.Len()
}

// Close stops the executor the store created for itself, after the queued
// dispatches have run. Stores built with WithExecutor leave their executor
// alone.
func (s *Store) Close(ctx context.Context) error {
	if s.owned == nil {
		return nil
	}
	return s.owned.Close(ctx)
}

// IsReentrantDispatch reports whether v, typically a recovered panic value,
// is the error raised for a reentrant dispatch.
func IsReentrantDispatch(v any) bool {
	err, ok := v.(error)
	return ok && errmodel.Is(err, errmodel.CategoryDispatch, errmodel.CodeReentrantDispatch)
}
