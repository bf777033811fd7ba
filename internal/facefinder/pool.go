package facefinder

import (
	"sync"
)

// Pool runs submitted tasks. Submit must not wait for a busy worker; it
// may run the task before returning.
type Pool interface {
	Submit(task func()) error
}

// WorkerPool is a fixed set of goroutines draining a bounded task channel.
type WorkerPool struct {
	tasks  chan func()
	wg     sync.WaitGroup
	mu     sync.RWMutex
	closed bool
}

// NewWorkerPool starts n workers. The queue holds n pending tasks.
func NewWorkerPool(n int) *WorkerPool {
	if n <= 0 {
		n = 1
	}

	p := &WorkerPool{tasks: make(chan func(), n)}
	for i := 0; i < n; i++ {
		p.wg.Add(1)
		go func() {
			defer p.wg.Done()
			p.startWorker()
		}()
	}
	return p
}

func (p *WorkerPool) startWorker() {
	for task := range p.tasks {
		task()
	}
}

// Submit queues task, returning ErrPoolSaturated when the queue is full.
func (p *WorkerPool) Submit(task func()) error {
	p.mu.RLock()
	defer p.mu.RUnlock()

	if p.closed {
		return ErrPoolClosed
	}

	select {
	case p.tasks <- task:
		return nil
	default:
		return ErrPoolSaturated
	}
}

// Close stops accepting tasks, runs everything already queued and waits
// for the workers to exit.
func (p *WorkerPool) Close() {
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return
	}
	p.closed = true
	close(p.tasks)
	p.mu.Unlock()

	p.wg.Wait()
}
