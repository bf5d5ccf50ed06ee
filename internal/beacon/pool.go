package beacon

import (
	"context"
	"sync"
)

// pool is a fixed-size goroutine pool fed by a bounded queue. Submit never
// blocks; Drain stops intake and waits for queued work to finish.
type pool[T any] struct {
	mu      sync.RWMutex
	closed  bool
	queue   chan T
	process func(ctx context.Context, t T)
	wg      sync.WaitGroup
}

func newPool[T any](ctx context.Context, workers, depth int, fn func(context.Context, T)) *pool[T] {
	p := &pool[T]{
		queue:   make(chan T, depth),
		process: fn,
	}
	for i := 0; i < workers; i++ {
		p.wg.Add(1)
		go func() {
			defer p.wg.Done()
			p.run(ctx)
		}()
	}
	return p
}

// run keeps consuming after ctx is cancelled so that Drain can flush the
// backlog; the process func sees the cancelled ctx and fails fast.
func (p *pool[T]) run(ctx context.Context) {
	for t := range p.queue {
		p.process(ctx, t)
	}
}

// Submit enqueues t, reporting false when the queue is full or closed.
func (p *pool[T]) Submit(t T) bool {
	p.mu.RLock()
	defer p.mu.RUnlock()
	if p.closed {
		return false
	}
	select {
	case p.queue <- t:
		return true
	default:
		return false
	}
}

// Drain is idempotent.
func (p *pool[T]) Drain() {
	p.mu.Lock()
	if !p.closed {
		p.closed = true
		close(p.queue)
	}
	p.mu.Unlock()
	p.wg.Wait()
}

func (p *pool[T]) QueueLen() int { return len(p.queue) }

func (p *pool[T]) QueueCap() int { return cap(p.queue) }
