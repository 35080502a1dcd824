package executor

import (
	"context"
	"fmt"
	"log/slog"
	"sync"

	list "github.com/bahlo/generic-list-go"
)

// Serial runs tasks one at a time on a dedicated worker goroutine.
//
// Execute never blocks: tasks are appended to an unbounded FIFO queue.
// A panicking task is recovered and logged; the worker moves on to the next
// task. Tasks submitted after Close are dropped.
type Serial struct {
	mu     sync.Mutex
	cond   *sync.Cond
	queue  *list.List[func()]
	closed bool
	done   chan struct{}
	logger *slog.Logger
}

// NewSerial starts a serial executor. A nil logger uses slog.Default().
func NewSerial(logger *slog.Logger) *Serial {
	if logger == nil {
		logger = slog.Default()
	}
	s := &Serial{
		queue:  list.New[func()](),
		done:   make(chan struct{}),
		logger: logger,
	}
	s.cond = sync.NewCond(&s.mu)

	go s.loop()

	return s
}

// Execute enqueues task.
func (s *Serial) Execute(task func()) {
	if task == nil {
		return
	}
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		s.logger.Warn("executor closed, task dropped")
		return
	}
	s.queue.PushBack(task)
	s.mu.Unlock()
	s.cond.Signal()
}

// Len returns the number of queued tasks, excluding the one running.
func (s *Serial) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.queue.Len()
}

// Close stops accepting tasks and waits until the queued ones have run
// or ctx is done.
func (s *Serial) Close(ctx context.Context) error {
	s.mu.Lock()
	s.closed = true
	s.mu.Unlock()
	s.cond.Broadcast()

	select {
	case <-s.done:
		return nil
	case <-ctx.Done():
		return fmt.Errorf("executor close: %w", ctx.Err())
	}
}

func (s *Serial) loop() {
	defer close(s.done)

	for {
		s.mu.Lock()
		for s.queue.Len() == 0 && !s.closed {
			s.cond.Wait()
		}
		if s.queue.Len() == 0 {
			s.mu.Unlock()
			return
		}
		task := s.queue.Remove(s.queue.Front())
		s.mu.Unlock()

		s.run(task)
	}
}

func (s *Serial) run(task func()) {
	defer func() {
		if r := recover(); r != nil {
			s.logger.Error(
				"task panicked",
				slog.String("panic", fmt.Sprint(r)),
			)
		}
	}()
	task()
}
