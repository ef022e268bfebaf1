// Package serial provides a single-goroutine executor for side effects
// that must not run concurrently, such as user-facing notices and sends
// through a transmission primitive that expects serialized access.
package serial

import (
	"sync"

	"github.com/techtorio/smsrelay/pkg/safe"
)

type Executor struct {
	mu      sync.Mutex
	tasks   chan func()
	stopped bool
	wg      sync.WaitGroup
}

func New() *Executor {
	e := &Executor{
		tasks: make(chan func(), 64),
	}

	e.wg.Add(1)
	safe.Go(func() {
		defer e.wg.Done()
		for f := range e.tasks {
			safe.Call(f)
		}
	})

	return e
}

// Submit enqueues f for serialized execution. Returns false if the
// executor has been stopped.
func (e *Executor) Submit(f func()) bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.stopped {
		return false
	}

	e.tasks <- f
	return true
}

// Stop drains pending tasks and waits for the run loop to exit.
func (e *Executor) Stop() {
	e.mu.Lock()
	if e.stopped {
		e.mu.Unlock()
		return
	}
	e.stopped = true
	close(e.tasks)
	e.mu.Unlock()

	e.wg.Wait()
}
