package middleware

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/wilhg/statehub/pkg/reducer"
	"github.com/wilhg/statehub/pkg/state"
)

// EffectHandler performs side effects in response to actions.
//
// Handlers run after the action went through the rest of the chain, so they
// observe the state the action produced. Actions they return are dispatched
// back into the store. Handlers should be idempotent where possible, since an
// action may be dispatched more than once by the application.
type EffectHandler interface {
	// CanHandle reports whether the handler is interested in action.
	CanHandle(action reducer.Action) bool

	// Handle runs the side effect and returns follow-up actions.
	Handle(ctx context.Context, s state.State, action reducer.Action) ([]reducer.Action, error)
}

// EffectFunc adapts a function to an EffectHandler for one action type.
type EffectFunc struct {
	ActionType string
	Fn         func(ctx context.Context, s state.State, action reducer.Action) ([]reducer.Action, error)
}

func (e EffectFunc) CanHandle(action reducer.Action) bool { return action.Type == e.ActionType }

func (e EffectFunc) Handle(ctx context.Context, s state.State, action reducer.Action) ([]reducer.Action, error) {
	return e.Fn(ctx, s, action)
}

// Effects runs every matching handler after the action proceeds.
// Handler errors are logged and do not affect other handlers.
func Effects(logger *slog.Logger, handlers ...EffectHandler) Middleware {
	if logger == nil {
		logger = slog.Default()
	}
	return Func(func(ctx context.Context, action reducer.Action, store StateGetter, dispatcher Dispatcher, next Next) {
		next(action)

		for _, h := range handlers {
			if h == nil || !h.CanHandle(action) {
				continue
			}
			produced, err := h.Handle(ctx, store.State(), action)
			if err != nil {
				logger.ErrorContext(
					ctx,
					"effect handler failed",
					slog.String("action", action.Type),
					slog.String("handler", fmt.Sprintf("%T", h)),
					slog.String("error", err.Error()),
				)
				continue
			}
			for _, a := range produced {
				dispatcher.Dispatch(a)
			}
		}
	})
}
