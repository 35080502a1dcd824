// Package middleware defines interceptors that sit between dispatch and the
// reducers, and the chain that runs them in order.
//
// A middleware may observe, transform, delay or suppress an action. It lets
// the action proceed by calling next, at most once per action it received.
// Not calling next drops the action. next may be called from another
// goroutine after asynchronous work, but then it runs outside the store's
// executor: if it overlaps a reduce in progress, the reducing guard panics
// on that goroutine and nothing recovers it. Such middleware should hand the
// result back through Dispatcher.Dispatch instead, as Effects and Thunk do.
package middleware

import (
	"context"

	"github.com/wilhg/statehub/pkg/errmodel"
	"github.com/wilhg/statehub/pkg/reducer"
	"github.com/wilhg/statehub/pkg/state"
)

// StateGetter exposes a read-only view of the store.
// Each call returns the state current at that moment.
type StateGetter interface {
	State() state.State
}

// Dispatcher schedules further actions on the store.
type Dispatcher interface {
	Dispatch(action reducer.Action)
}

// Next continues the chain with the given action.
type Next func(action reducer.Action)

// Middleware intercepts dispatched actions.
type Middleware interface {
	OnAction(ctx context.Context, action reducer.Action, store StateGetter, dispatcher Dispatcher, next Next)
}

// Func adapts a function to the Middleware interface.
type Func func(ctx context.Context, action reducer.Action, store StateGetter, dispatcher Dispatcher, next Next)

// OnAction calls f.
func (f Func) OnAction(ctx context.Context, action reducer.Action, store StateGetter, dispatcher Dispatcher, next Next) {
	f(ctx, action, store, dispatcher, next)
}

// Chain runs middleware in order and ends in a terminal continuation.
type Chain struct {
	middleware []Middleware
}

// NewChain builds a chain. A nil middleware is a configuration error.
func NewChain(middleware ...Middleware) (*Chain, error) {
	mw := make([]Middleware, 0, len(middleware))
	for i, m := range middleware {
		if m == nil {
			return nil, errmodel.Configuration(errmodel.CodeNilMiddleware, "middleware is nil", map[string]any{"index": i})
		}
		mw = append(mw, m)
	}
	return &Chain{middleware: mw}, nil
}

// Len returns the number of middleware in the chain.
func (c *Chain) Len() int {
	return len(c.middleware)
}

// OnAction starts the chain for action. The last middleware's next reaches
// terminal; with an empty chain terminal is called immediately.
func (c *Chain) OnAction(ctx context.Context, action reducer.Action, store StateGetter, dispatcher Dispatcher, terminal Next) {
	run := &run{
		chain:      c,
		ctx:        ctx,
		store:      store,
		dispatcher: dispatcher,
		terminal:   terminal,
	}
	run.step(0)(action)
}

// run carries one action through the chain.
type run struct {
	chain      *Chain
	ctx        context.Context
	store      StateGetter
	dispatcher Dispatcher
	terminal   Next
}

// step returns the continuation that enters the chain at index.
func (r *run) step(index int) Next {
	return func(action reducer.Action) {
		if index >= len(r.chain.middleware) {
			r.terminal(action)
			return
		}
		r.chain.middleware[index].OnAction(r.ctx, action, r.store, r.dispatcher, r.step(index+1))
	}
}
