// Package executor provides the sequential execution contexts a store runs
// its dispatches on.
//
// An Executor must run tasks submitted from one goroutine in submission order.
// The store relies on this to apply transitions in dispatch order and never
// concurrently.
package executor

import (
	"fmt"
	"log/slog"
)

// Executor runs tasks.
type Executor interface {
	Execute(task func())
}

// Func adapts a function to the Executor interface.
type Func func(task func())

// Execute calls f(task).
func (f Func) Execute(task func()) { f(task) }

// Immediate runs every task synchronously on the caller's goroutine.
// It is meant for tests and for callers that already serialize access.
var Immediate Executor = Func(func(task func()) { task() })

// Names accepted by Lookup.
const (
	NameSerial    = "serial"
	NameImmediate = "immediate"
)

// Lookup resolves an executor by configuration name. An empty name selects
// a serial executor.
func Lookup(name string, logger *slog.Logger) (Executor, error) {
	switch name {
	case "", NameSerial:
		return NewSerial(logger), nil
	case NameImmediate:
		return Immediate, nil
	default:
		return nil, fmt.Errorf("unknown executor: %s", name)
	}
}
