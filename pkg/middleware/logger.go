package middleware

import (
	"context"
	"log/slog"
	"time"

	"github.com/wilhg/statehub/pkg/reducer"
	"github.com/wilhg/statehub/pkg/state"
)

// Logger logs every action that passes through it, with the keys whose
// values changed once the rest of the chain returned. Asynchronous
// middleware placed after it shows up as an empty change set.
func Logger(logger *slog.Logger) Middleware {
	if logger == nil {
		logger = slog.Default()
	}
	return Func(func(ctx context.Context, action reducer.Action, store StateGetter, dispatcher Dispatcher, next Next) {
		before := store.State()
		start := time.Now()

		next(action)

		after := store.State()
		logger.DebugContext(
			ctx,
			"action dispatched",
			slog.String("action", action.Type),
			slog.Any("changed", changedKeys(before, after)),
			slog.Duration("elapsed", time.Since(start)),
		)
	})
}

func changedKeys(before, after state.State) []string {
	var changed []string
	for _, k := range after.Keys() {
		v, _ := after.Get(k)
		if old, ok := before.Get(k); !ok || !state.ValuesEqual(old, v) {
			changed = append(changed, k)
		}
	}
	return changed
}
