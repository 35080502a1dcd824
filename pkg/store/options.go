package store

import (
	"log/slog"

	"go.opentelemetry.io/otel/trace"

	"github.com/wilhg/statehub/pkg/errmodel"
	"github.com/wilhg/statehub/pkg/executor"
	"github.com/wilhg/statehub/pkg/listener"
	"github.com/wilhg/statehub/pkg/middleware"
	"github.com/wilhg/statehub/pkg/state"
)

type options struct {
	name          string
	initial       state.State
	middleware    []middleware.Middleware
	defaultFilter listener.Filter[any]
	executor      executor.Executor
	logger        *slog.Logger
	tracer        trace.Tracer
}

// Option configures a Store at construction time.
type Option func(*options) error

func nilArgument(option string) error {
	return errmodel.Configuration(errmodel.CodeNilArgument, option+" argument is nil", map[string]any{"option": option})
}

// WithName names the store in logs and spans.
func WithName(name string) Option {
	return func(o *options) error {
		if name == "" {
			return errmodel.Configuration(errmodel.CodeEmptyKey, "store name is empty", nil)
		}
		o.name = name
		return nil
	}
}

// WithInitialState layers st over the reducers' empty state.
func WithInitialState(st state.State) Option {
	return func(o *options) error {
		o.initial = st
		return nil
	}
}

// WithMiddleware appends middleware to the chain, outermost first.
func WithMiddleware(mw ...middleware.Middleware) Option {
	return func(o *options) error {
		for _, m := range mw {
			if m == nil {
				return errmodel.Configuration(errmodel.CodeNilMiddleware, "middleware is nil", nil)
			}
		}
		o.middleware = append(o.middleware, mw...)
		return nil
	}
}

// WithDefaultFilter sets the filter used by subscriptions registered without one.
func WithDefaultFilter(f listener.Filter[any]) Option {
	return func(o *options) error {
		if f == nil {
			return nilArgument("WithDefaultFilter")
		}
		o.defaultFilter = f
		return nil
	}
}

// WithExecutor runs dispatches on ex instead of a store-owned serial executor.
// ex must run tasks from one goroutine in submission order and never
// concurrently.
func WithExecutor(ex executor.Executor) Option {
	return func(o *options) error {
		if ex == nil {
			return nilArgument("WithExecutor")
		}
		o.executor = ex
		return nil
	}
}

// WithLogger sets the store's logger.
func WithLogger(logger *slog.Logger) Option {
	return func(o *options) error {
		if logger == nil {
			return nilArgument("WithLogger")
		}
		o.logger = logger
		return nil
	}
}

// WithTracer sets the tracer used for dispatch, reduce and reset spans.
func WithTracer(tracer trace.Tracer) Option {
	return func(o *options) error {
		if tracer == nil {
			return nilArgument("WithTracer")
		}
		o.tracer = tracer
		return nil
	}
}
