// Package storetest provides helpers for testing code built on a store:
// recording listeners, action logs and deterministic replay of captured
// action sequences.
package storetest

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"sync"

	"github.com/wilhg/statehub/pkg/errmodel"
	"github.com/wilhg/statehub/pkg/executor"
	"github.com/wilhg/statehub/pkg/middleware"
	"github.com/wilhg/statehub/pkg/reducer"
	"github.com/wilhg/statehub/pkg/state"
	"github.com/wilhg/statehub/pkg/store"
)

// Capture is a recorded sequence of actions and the state they started from.
type Capture struct {
	Name    string           `json:"name,omitempty"`
	Initial state.State      `json:"initial"`
	Actions []reducer.Action `json:"actions"`
}

// ReadCapture decodes a JSON capture.
func ReadCapture(r io.Reader) (Capture, error) {
	var c Capture
	if err := json.NewDecoder(r).Decode(&c); err != nil {
		return Capture{}, fmt.Errorf("decode capture: %w", err)
	}
	return c, nil
}

// LoadCapture reads a JSON capture file.
func LoadCapture(path string) (Capture, error) {
	f, err := os.Open(path)
	if err != nil {
		return Capture{}, fmt.Errorf("open capture: %w", err)
	}
	defer f.Close()
	return ReadCapture(f)
}

// Write encodes c as indented JSON.
func (c Capture) Write(w io.Writer) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(c)
}

// Replay builds a store from reducers, dispatches the captured actions in
// order and returns the final state. Dispatches run synchronously; opts must
// not replace the executor. A dispatch that panics ends the replay with a
// dispatch error.
func Replay(ctx context.Context, reducers []reducer.Reducer, c Capture, opts ...store.Option) (final state.State, err error) {
	base := []store.Option{store.WithInitialState(c.Initial)}
	if c.Name != "" {
		base = append(base, store.WithName(c.Name))
	}
	opts = append(append(base, opts...), store.WithExecutor(executor.Immediate))

	s, err := store.New(reducers, opts...)
	if err != nil {
		return state.State{}, err
	}
	defer func() { _ = s.Close(context.WithoutCancel(ctx)) }()

	for i, a := range c.Actions {
		if err := ctx.Err(); err != nil {
			return s.State(), fmt.Errorf("replay interrupted at action %d: %w", i, err)
		}
		if err := dispatch(ctx, s, a); err != nil {
			return s.State(), err
		}
	}
	return s.State(), nil
}

func dispatch(ctx context.Context, s *store.Store, a reducer.Action) (err error) {
	defer func() {
		if p := recover(); p != nil {
			if perr, ok := p.(error); ok {
				err = perr
				return
			}
			err = errmodel.Dispatch(errmodel.CodePanic, fmt.Sprint(p), map[string]any{"action": a.Type})
		}
	}()
	s.DispatchContext(ctx, a)
	return nil
}

// ActionLog is a middleware that records every action on its way to the
// reducers.
type ActionLog struct {
	mu      sync.Mutex
	actions []reducer.Action
}

var _ middleware.Middleware = (*ActionLog)(nil)

// OnAction records action and passes it on.
func (l *ActionLog) OnAction(ctx context.Context, action reducer.Action, _ middleware.StateGetter, _ middleware.Dispatcher, next middleware.Next) {
	l.mu.Lock()
	l.actions = append(l.actions, action)
	l.mu.Unlock()
	next(action)
}

// Actions returns the recorded actions in order.
func (l *ActionLog) Actions() []reducer.Action {
	l.mu.Lock()
	defer l.mu.Unlock()
	return append([]reducer.Action(nil), l.actions...)
}

// Capture returns the recorded actions as a Capture starting from initial.
func (l *ActionLog) Capture(name string, initial state.State) Capture {
	return Capture{Name: name, Initial: initial, Actions: l.Actions()}
}
