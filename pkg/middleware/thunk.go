package middleware

import (
	"context"

	"github.com/wilhg/statehub/pkg/reducer"
)

// ThunkType is the action type used by NewThunk.
const ThunkType = "@@statehub/THUNK"

// ThunkFunc is deferred work carried as action data.
type ThunkFunc func(ctx context.Context, dispatcher Dispatcher, store StateGetter)

// NewThunk wraps fn in an action handled by Thunk.
func NewThunk(fn ThunkFunc) reducer.Action {
	return reducer.Action{Type: ThunkType, Data: fn}
}

// Thunk runs actions carrying a ThunkFunc on their own goroutine and stops
// them there; reducers never see them. Other actions pass through.
// The thunk's context is detached from the dispatch's cancellation.
func Thunk() Middleware {
	return Func(func(ctx context.Context, action reducer.Action, store StateGetter, dispatcher Dispatcher, next Next) {
		fn, ok := action.Data.(ThunkFunc)
		if !ok {
			next(action)
			return
		}
		go fn(context.WithoutCancel(ctx), dispatcher, store)
	})
}
