package pubsub

import "sync"

// Executor runs dispatch closures. Swapping the executor is how callers move
// delivery between the publishing goroutine and a background one without
// touching publisher code.
type Executor interface {
	Execute(fn func())
}

// CallerExecutor runs closures synchronously on the calling goroutine.
type CallerExecutor struct{}

// Execute runs fn immediately.
func (CallerExecutor) Execute(fn func()) {
	fn()
}

// GoExecutor runs closures on a single background goroutine, preserving
// submission order. Close drains queued work before returning.
type GoExecutor struct {
	once   sync.Once
	mu     sync.RWMutex
	closed bool
	tasks  chan func()
	done   chan struct{}
}

// NewGoExecutor creates a started background executor.
func NewGoExecutor(buffer int) *GoExecutor {
	if buffer < 0 {
		buffer = 0
	}
	e := &GoExecutor{
		tasks: make(chan func(), buffer),
		done:  make(chan struct{}),
	}
	go e.run()
	return e
}

func (e *GoExecutor) run() {
	defer close(e.done)
	for fn := range e.tasks {
		fn()
	}
}

// Execute enqueues fn. Blocks when the queue is full, which keeps producers
// from outrunning slow subscribers unbounded. After Close the closure is
// dropped.
func (e *GoExecutor) Execute(fn func()) {
	e.mu.RLock()
	defer e.mu.RUnlock()
	if e.closed {
		return
	}
	e.tasks <- fn
}

// Close stops accepting work and waits for queued closures to finish.
func (e *GoExecutor) Close() {
	e.once.Do(func() {
		e.mu.Lock()
		e.closed = true
		e.mu.Unlock()
		close(e.tasks)
	})
	<-e.done
}
