// Package pubsub provides a generic many-subscriber broadcast primitive.
//
// A Publisher delivers every published value to every subscriber registered at
// the time of the call, exactly once per call, in registration order. It is
// pure signaling: no transformation, no error paths.
package pubsub

import "sync"

// Token identifies a subscription for later removal.
type Token uint64

// Handler receives published values.
type Handler[T any] func(T)

// Publisher is a thread-safe broadcast publisher.
type Publisher[T any] struct {
	mu       sync.Mutex
	next     Token
	order    []Token
	handlers map[Token]Handler[T]

	// dispatchMu serializes dispatch so per-call ordering holds even when
	// the executor hands closures back to concurrent publishers.
	dispatchMu sync.Mutex
	exec       Executor
}

// NewPublisher creates a publisher dispatching through exec.
// A nil exec means synchronous delivery on the publishing goroutine.
func NewPublisher[T any](exec Executor) *Publisher[T] {
	if exec == nil {
		exec = CallerExecutor{}
	}
	return &Publisher[T]{
		handlers: make(map[Token]Handler[T]),
		exec:     exec,
	}
}

// Subscribe registers a handler and returns its removal token.
func (p *Publisher[T]) Subscribe(h Handler[T]) Token {
	p.mu.Lock()
	defer p.mu.Unlock()

	p.next++
	tok := p.next
	p.order = append(p.order, tok)
	p.handlers[tok] = h
	return tok
}

// Unsubscribe removes a subscription. Removing during a dispatch only affects
// subsequent Publish calls; the in-flight call still delivers its snapshot.
func (p *Publisher[T]) Unsubscribe(tok Token) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if _, ok := p.handlers[tok]; !ok {
		return
	}
	delete(p.handlers, tok)
	for i, t := range p.order {
		if t == tok {
			p.order = append(p.order[:i], p.order[i+1:]...)
			break
		}
	}
}

// Publish delivers v to every subscriber registered at call time, each exactly
// once, in registration order. A subscriber added concurrently with the call
// either receives the value or not, never partially.
func (p *Publisher[T]) Publish(v T) {
	p.mu.Lock()
	snapshot := make([]Handler[T], 0, len(p.order))
	for _, tok := range p.order {
		snapshot = append(snapshot, p.handlers[tok])
	}
	p.mu.Unlock()

	p.exec.Execute(func() {
		p.dispatchMu.Lock()
		defer p.dispatchMu.Unlock()
		for _, h := range snapshot {
			h(v)
		}
	})
}

// Len returns the current subscriber count.
func (p *Publisher[T]) Len() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.order)
}
