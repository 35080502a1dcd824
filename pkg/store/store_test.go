package store

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/sdk/trace/tracetest"

	"github.com/wilhg/statehub/pkg/errmodel"
	"github.com/wilhg/statehub/pkg/executor"
	"github.com/wilhg/statehub/pkg/listener"
	"github.com/wilhg/statehub/pkg/middleware"
	"github.com/wilhg/statehub/pkg/reducer"
	"github.com/wilhg/statehub/pkg/state"
)

type change struct {
	Old, New int
}

type intRecorder struct {
	mu    sync.Mutex
	calls []change
}

func (r *intRecorder) Update(old, new int) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.calls = append(r.calls, change{old, new})
}

func (r *intRecorder) got() []change {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]change(nil), r.calls...)
}

func quiet() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// counter increments on "<KEY>_INC" and on "INC"; "NOOP" keeps the value.
func counter(key string) reducer.Reducer {
	return reducer.New(key, 0, func(n int, a reducer.Action) (int, bool) {
		switch a.Type {
		case "INC", key + "_INC":
			return n + 1, true
		case "NOOP":
			return n, true
		default:
			return n, false
		}
	})
}

func newStore(t *testing.T, reducers []reducer.Reducer, opts ...Option) *Store {
	t.Helper()
	opts = append([]Option{WithLogger(quiet())}, opts...)
	s, err := New(reducers, opts...)
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Close(context.Background()) })
	return s
}

func drain(t *testing.T, s *Store) {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	require.NoError(t, s.Close(ctx))
}

func catch(fn func()) (recovered any) {
	defer func() { recovered = recover() }()
	fn()
	return nil
}

func TestNew_ConfigurationErrors(t *testing.T) {
	cases := []struct {
		name     string
		reducers []reducer.Reducer
		opts     []Option
		code     string
	}{
		{"no reducers", nil, nil, errmodel.CodeEmptyReducers},
		{"duplicate key", []reducer.Reducer{counter("a"), counter("a")}, nil, errmodel.CodeDuplicateKey},
		{"nil middleware", []reducer.Reducer{counter("a")}, []Option{WithMiddleware(nil)}, errmodel.CodeNilMiddleware},
		{"nil executor", []reducer.Reducer{counter("a")}, []Option{WithExecutor(nil)}, errmodel.CodeNilArgument},
		{"nil filter", []reducer.Reducer{counter("a")}, []Option{WithDefaultFilter(nil)}, errmodel.CodeNilArgument},
		{"nil logger", []reducer.Reducer{counter("a")}, []Option{WithLogger(nil)}, errmodel.CodeNilArgument},
		{"nil tracer", []reducer.Reducer{counter("a")}, []Option{WithTracer(nil)}, errmodel.CodeNilArgument},
		{"empty name", []reducer.Reducer{counter("a")}, []Option{WithName("")}, errmodel.CodeEmptyKey},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			_, err := New(tc.reducers, tc.opts...)
			require.Error(t, err)
			assert.True(t, errmodel.Is(err, errmodel.CategoryConfiguration, tc.code), "got %v", err)
		})
	}
}

func TestNew_InitialStateFillsMissingKeys(t *testing.T) {
	s := newStore(t, []reducer.Reducer{counter("a"), counter("b")},
		WithInitialState(state.New(map[string]any{"a": 5, "extra": "x"})),
		WithName("test"),
	)

	st := s.State()
	a, _ := state.Lookup[int](st, "a")
	b, _ := state.Lookup[int](st, "b")
	assert.Equal(t, 5, a)
	assert.Equal(t, 0, b)
	assert.True(t, st.Has("extra"))
	assert.Equal(t, "test", s.Name())
	assert.Equal(t, []string{"a", "b"}, s.Keys())
}

func TestDispatch_CounterTwice(t *testing.T) {
	s := newStore(t, []reducer.Reducer{counter("counter")})
	l := &intRecorder{}
	Subscribe(s, listener.KeyOf[int]("counter"), l)

	s.Dispatch(reducer.NewAction("INC", nil))
	s.Dispatch(reducer.NewAction("INC", nil))
	drain(t, s)

	n, ok := state.Lookup[int](s.State(), "counter")
	require.True(t, ok)
	assert.Equal(t, 2, n)
	assert.Equal(t, []change{{0, 1}, {1, 2}}, l.got())
}

func TestDispatch_OnlyAffectedKeyNotified(t *testing.T) {
	s := newStore(t, []reducer.Reducer{counter("a"), counter("b")}, WithExecutor(executor.Immediate))
	a, b := &intRecorder{}, &intRecorder{}
	Subscribe(s, listener.KeyOf[int]("a"), a)
	Subscribe(s, listener.KeyOf[int]("b"), b)
	var whole []state.State
	s.AddListener(listener.New(func(old, new state.State) { whole = append(whole, new) }))

	s.Dispatch(reducer.NewAction("a_INC", nil))

	assert.Equal(t, []change{{0, 1}}, a.got())
	assert.Empty(t, b.got())
	assert.Len(t, whole, 1)
}

func TestDispatch_IdempotentActionNotifiesNobody(t *testing.T) {
	s := newStore(t, []reducer.Reducer{counter("a"), counter("b")}, WithExecutor(executor.Immediate))
	a := &intRecorder{}
	Subscribe(s, listener.KeyOf[int]("a"), a)
	calls := 0
	Subscribe[any](s, listener.Key(""), listener.New(func(old, new any) { calls++ }))
	before := s.State()

	s.Dispatch(reducer.NewAction("NOOP", nil))

	assert.Empty(t, a.got())
	assert.Zero(t, calls, "no transition with an empty changed-key set is delivered")
	assert.True(t, before.Equal(s.State()))
}

func TestDispatch_ConcurrentCallersAllApplied(t *testing.T) {
	s := newStore(t, []reducer.Reducer{counter("n")})

	var wg sync.WaitGroup
	for range 8 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for range 50 {
				s.Dispatch(reducer.NewAction("INC", nil))
			}
		}()
	}
	wg.Wait()
	drain(t, s)

	n, _ := state.Lookup[int](s.State(), "n")
	assert.Equal(t, 400, n)
}

func TestDispatch_ReentrantFromReducerPanics(t *testing.T) {
	var s *Store
	loop := reducer.New("loop", 0, func(n int, a reducer.Action) (int, bool) {
		if a.Type == "LOOP" {
			s.Dispatch(reducer.NewAction("INC", nil))
		}
		return n, false
	})
	var logs bytes.Buffer
	s, err := New([]reducer.Reducer{loop, counter("n")},
		WithExecutor(executor.Immediate),
		WithLogger(slog.New(slog.NewTextHandler(&logs, nil))),
	)
	require.NoError(t, err)

	v := catch(func() { s.Dispatch(reducer.NewAction("LOOP", nil)) })
	require.NotNil(t, v)
	assert.True(t, IsReentrantDispatch(v), "got %v", v)
	assert.Contains(t, logs.String(), "reentrant dispatch")

	assert.Nil(t, catch(func() { s.Dispatch(reducer.NewAction("INC", nil)) }), "guard is released after the failure")
	n, _ := state.Lookup[int](s.State(), "n")
	assert.Equal(t, 1, n)
}

func TestDispatch_ReentrantFromListenerPanics(t *testing.T) {
	var s *Store
	s = newStore(t, []reducer.Reducer{counter("n")}, WithExecutor(executor.Immediate))
	Subscribe(s, listener.KeyOf[int]("n"), listener.New(func(old, new int) {
		if new == 1 {
			s.Dispatch(reducer.NewAction("INC", nil))
		}
	}))

	v := catch(func() { s.Dispatch(reducer.NewAction("INC", nil)) })
	assert.True(t, IsReentrantDispatch(v), "got %v", v)
}

func TestDispatch_FromMiddlewareOutsideReduceSucceeds(t *testing.T) {
	follow := middleware.Func(func(ctx context.Context, a reducer.Action, st middleware.StateGetter, d middleware.Dispatcher, next middleware.Next) {
		next(a)
		if a.Type == "a_INC" {
			d.Dispatch(reducer.NewAction("b_INC", nil))
		}
	})
	s := newStore(t, []reducer.Reducer{counter("a"), counter("b")},
		WithExecutor(executor.Immediate),
		WithMiddleware(follow),
	)

	assert.Nil(t, catch(func() { s.Dispatch(reducer.NewAction("a_INC", nil)) }))
	b, _ := state.Lookup[int](s.State(), "b")
	assert.Equal(t, 1, b)
}

func TestDispatch_ReentrantOnSerialExecutorKeepsWorker(t *testing.T) {
	var s *Store
	loop := reducer.New("loop", 0, func(n int, a reducer.Action) (int, bool) {
		if a.Type == "LOOP" {
			s.reduce(context.Background(), "nested", reducer.NewAction("INC", nil))
		}
		return n, false
	})
	s = newStore(t, []reducer.Reducer{loop, counter("n")})

	s.Dispatch(reducer.NewAction("LOOP", nil))
	s.Dispatch(reducer.NewAction("INC", nil))
	drain(t, s)

	n, _ := state.Lookup[int](s.State(), "n")
	assert.Equal(t, 1, n, "the aborted dispatch changes nothing and later ones still run")
}

func TestState_NoAliasing(t *testing.T) {
	s := newStore(t, []reducer.Reducer{counter("n")}, WithExecutor(executor.Immediate))
	before := s.State()

	s.Dispatch(reducer.NewAction("INC", nil))

	n, _ := state.Lookup[int](before, "n")
	assert.Equal(t, 0, n)
	after, _ := state.Lookup[int](s.State(), "n")
	assert.Equal(t, 1, after)
}

func TestReset_FillsDefaultsAndNotifiesEveryone(t *testing.T) {
	s := newStore(t, []reducer.Reducer{counter("a"), counter("b")},
		WithExecutor(executor.Immediate),
		WithDefaultFilter(listener.DefaultFilter),
	)
	s.Dispatch(reducer.NewAction("b_INC", nil))

	a, b := &intRecorder{}, &intRecorder{}
	Subscribe(s, listener.KeyOf[int]("a"), a, listener.WithFilter(func(old, new int) bool { return false }))
	Subscribe(s, listener.KeyOf[int]("b"), b)

	s.Reset(state.New(map[string]any{"a": 0}))

	assert.Equal(t, []change{{0, 0}}, a.got(), "unchanged values are delivered too")
	assert.Equal(t, []change{{1, 0}}, b.got(), "b falls back to its empty-state value")
	bv, _ := state.Lookup[int](s.State(), "b")
	assert.Equal(t, 0, bv)
}

func decoded(t *testing.T, raw string) state.State {
	t.Helper()
	var st state.State
	require.NoError(t, json.Unmarshal([]byte(raw), &st))
	return st
}

func TestDispatch_DecodedInitialStateIsNotAChange(t *testing.T) {
	s := newStore(t, []reducer.Reducer{counter("n")},
		WithExecutor(executor.Immediate),
		WithInitialState(decoded(t, `{"n":3}`)),
	)
	rec := &intRecorder{}
	Subscribe(s, listener.KeyOf[int]("n"), rec)

	s.Dispatch(reducer.NewAction("NOOP", nil))
	assert.Empty(t, rec.got())

	s.Dispatch(reducer.NewAction("INC", nil))
	assert.Equal(t, []change{{3, 4}}, rec.got())
}

func TestReset_DecodedStateNotifiesTypedListeners(t *testing.T) {
	s := newStore(t, []reducer.Reducer{counter("n")}, WithExecutor(executor.Immediate))
	rec := &intRecorder{}
	Subscribe(s, listener.KeyOf[int]("n"), rec)

	s.Reset(decoded(t, `{"n":7}`))

	assert.Equal(t, []change{{0, 7}}, rec.got())
	n, ok := state.Lookup[int](s.State(), "n")
	require.True(t, ok)
	assert.Equal(t, 7, n)
}

func TestReset_OverlappingReduceIsReapplied(t *testing.T) {
	var (
		s     *Store
		calls int
	)
	resetting := reducer.New("n", 0, func(n int, a reducer.Action) (int, bool) {
		if a.Type != "INC" {
			return n, false
		}
		calls++
		if calls == 1 {
			s.Reset(state.New(map[string]any{"n": 10}))
		}
		return n + 1, true
	})
	s = newStore(t, []reducer.Reducer{resetting}, WithExecutor(executor.Immediate))
	rec := &intRecorder{}
	Subscribe(s, listener.KeyOf[int]("n"), rec)

	s.Dispatch(reducer.NewAction("INC", nil))

	n, _ := state.Lookup[int](s.State(), "n")
	assert.Equal(t, 11, n, "the reset survives and the increment lands on top of it")
	assert.Equal(t, 2, calls)
	assert.Equal(t, []change{{0, 10}, {10, 11}}, rec.got())
}

func TestSubscription_InformWithCurrentState(t *testing.T) {
	s := newStore(t, []reducer.Reducer{counter("n")},
		WithExecutor(executor.Immediate),
		WithInitialState(state.New(map[string]any{"n": 4})),
	)
	l := &intRecorder{}
	sub := Subscribe(s, listener.KeyOf[int]("n"), l, listener.WithFilter(func(old, new int) bool { return false }))

	sub.InformWithCurrentState()
	assert.Equal(t, []change{{0, 4}}, l.got())
}

func TestRemoveListener(t *testing.T) {
	s := newStore(t, []reducer.Reducer{counter("n")}, WithExecutor(executor.Immediate))
	l := &intRecorder{}
	Subscribe(s, listener.KeyOf[int]("n"), l)
	assert.Equal(t, 1, s.Listeners())

	s.RemoveListener(l)
	s.RemoveListener(l)
	assert.Zero(t, s.Listeners())

	s.Dispatch(reducer.NewAction("INC", nil))
	assert.Empty(t, l.got())
}

func TestListenerPanicDoesNotStopOthers(t *testing.T) {
	s := newStore(t, []reducer.Reducer{counter("n")}, WithExecutor(executor.Immediate))
	Subscribe(s, listener.KeyOf[int]("n"), listener.New(func(old, new int) { panic("broken subscriber") }))
	l := &intRecorder{}
	Subscribe(s, listener.KeyOf[int]("n"), l)

	assert.Nil(t, catch(func() { s.Dispatch(reducer.NewAction("INC", nil)) }))
	assert.Equal(t, []change{{0, 1}}, l.got())
}

func TestDispatch_Spans(t *testing.T) {
	sr := tracetest.NewSpanRecorder()
	tp := sdktrace.NewTracerProvider(sdktrace.WithSpanProcessor(sr))
	t.Cleanup(func() { _ = tp.Shutdown(context.Background()) })

	s := newStore(t, []reducer.Reducer{counter("n")},
		WithExecutor(executor.Immediate),
		WithTracer(tp.Tracer("test")),
	)
	s.Dispatch(reducer.NewAction("INC", nil))
	s.Reset(state.Empty())

	var names []string
	for _, sp := range sr.Ended() {
		names = append(names, sp.Name())
	}
	assert.ElementsMatch(t, []string{"Store.Reduce", "Store.Dispatch", "Store.Reset"}, names)

	spans := sr.Ended()
	require.Len(t, spans, 3)
	reduce, dispatch := spans[0], spans[1]
	assert.Equal(t, dispatch.SpanContext().SpanID(), reduce.Parent().SpanID())
}

func TestClose_ExternalExecutorUntouched(t *testing.T) {
	ex := executor.NewSerial(quiet())
	t.Cleanup(func() { _ = ex.Close(context.Background()) })
	s := newStore(t, []reducer.Reducer{counter("n")}, WithExecutor(ex))

	require.NoError(t, s.Close(context.Background()))

	done := make(chan struct{})
	ex.Execute(func() { close(done) })
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("external executor was closed by the store")
	}
}
