package trigger

import (
	"sync"

	"syncbridge/internal/metrics"
)

// WorkFunc is a detached unit of work run by the pool.
type WorkFunc func()

// Pool runs fire-and-forget sends on a fixed set of goroutines fed by a
// bounded queue. Submit never blocks; a full queue drops the work.
type Pool struct {
	queue   chan WorkFunc
	wg      sync.WaitGroup
	metrics metrics.Sink

	mu     sync.RWMutex
	closed bool
}

func NewPool(workers, queueDepth int, sink metrics.Sink) *Pool {
	if workers <= 0 {
		workers = 1
	}
	if queueDepth <= 0 {
		queueDepth = 1
	}
	if sink == nil {
		sink = metrics.NewNoopSink()
	}
	p := &Pool{
		queue:   make(chan WorkFunc, queueDepth),
		metrics: sink,
	}
	p.wg.Add(workers)
	for i := 0; i < workers; i++ {
		go func() {
			defer p.wg.Done()
			for fn := range p.queue {
				fn()
				p.metrics.QueueDepthUpdate(len(p.queue))
			}
		}()
	}
	return p
}

// Submit enqueues fn and reports whether it was accepted.
func (p *Pool) Submit(fn WorkFunc) bool {
	p.mu.RLock()
	defer p.mu.RUnlock()
	if p.closed {
		return false
	}
	select {
	case p.queue <- fn:
		p.metrics.QueueDepthUpdate(len(p.queue))
		return true
	default:
		return false
	}
}

// Stop refuses new work and waits for queued work to finish.
func (p *Pool) Stop() {
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return
	}
	p.closed = true
	close(p.queue)
	p.mu.Unlock()
	p.wg.Wait()
}
