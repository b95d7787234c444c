package visual

import (
	"context"
	"errors"
	"log/slog"
	"sync"
)

// ErrSupervisorClosed is returned by [Supervisor.Go] after [Supervisor.StopAll].
var ErrSupervisorClosed = errors.New("visual: supervisor closed")

// task is one goroutine owned by a [Supervisor].
type task struct {
	name   string
	cancel context.CancelFunc
	done   chan struct{}
}

// Supervisor owns a set of background tasks. A task is removed from the set
// by a completion callback registered when it is spawned, so the set only
// ever contains running tasks.
//
// Supervisor is safe for concurrent use.
type Supervisor struct {
	mu     sync.Mutex
	tasks  map[*task]struct{}
	closed bool
	wg     sync.WaitGroup
}

// NewSupervisor returns an empty supervisor.
func NewSupervisor() *Supervisor {
	return &Supervisor{tasks: make(map[*task]struct{})}
}

// Go runs fn in a new goroutine with a context derived from ctx that is
// cancelled by [Supervisor.StopAll]. The returned function cancels just this
// task and waits for it to finish. A panic in fn is recovered and logged.
func (s *Supervisor) Go(ctx context.Context, name string, fn func(ctx context.Context)) (stop func(), err error) {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil, ErrSupervisorClosed
	}
	tctx, cancel := context.WithCancel(ctx)
	t := &task{name: name, cancel: cancel, done: make(chan struct{})}
	s.tasks[t] = struct{}{}
	s.wg.Add(1)
	s.mu.Unlock()

	onDone := func() { s.remove(t) }
	go func() {
		defer s.wg.Done()
		defer close(t.done)
		defer onDone()
		defer cancel()
		defer func() {
			if r := recover(); r != nil {
				slog.Error("visual: task panicked", "task", name, "panic", r)
			}
		}()
		fn(tctx)
	}()

	return func() {
		cancel()
		<-t.done
	}, nil
}

func (s *Supervisor) remove(t *task) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.tasks, t)
}

// Len returns the number of running tasks.
func (s *Supervisor) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.tasks)
}

// Names returns the names of the running tasks in no particular order.
func (s *Supervisor) Names() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	names := make([]string, 0, len(s.tasks))
	for t := range s.tasks {
		names = append(names, t.name)
	}
	return names
}

// StopAll cancels every task, rejects new ones, and blocks until all tasks
// have returned or ctx expires. It is safe to call more than once.
func (s *Supervisor) StopAll(ctx context.Context) error {
	s.mu.Lock()
	s.closed = true
	for t := range s.tasks {
		t.cancel()
	}
	s.mu.Unlock()

	done := make(chan struct{})
	go func() {
		s.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		slog.Warn("visual: tasks still running after stop deadline", "remaining", s.Names())
		return ctx.Err()
	}
}
