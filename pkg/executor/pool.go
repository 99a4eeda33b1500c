package executor

import "sync"

// WorkerPool runs blocking or long-running tasks on a fixed set of
// goroutines, keeping them off the event loop and off callers' goroutines.
type WorkerPool struct {
	tasks     chan func()
	wg        sync.WaitGroup
	closeOnce sync.Once
}

// NewWorkerPool starts a pool with the given number of workers.
// A non-positive count is clamped to 1.
func NewWorkerPool(workers int) *WorkerPool {
	if workers <= 0 {
		workers = 1
	}

	p := &WorkerPool{
		tasks: make(chan func(), 1024),
	}

	p.wg.Add(workers)
	for i := 0; i < workers; i++ {
		go p.worker()
	}
	return p
}

func (p *WorkerPool) worker() {
	defer p.wg.Done()
	for fn := range p.tasks {
		fn()
	}
}

// Submit queues fn for execution on a pool worker. Blocks only when the
// queue is full. Submitting after Close panics, matching the contract that
// the pool outlives every component that uses it.
func (p *WorkerPool) Submit(fn func()) {
	p.tasks <- fn
}

// Close stops accepting tasks and waits for queued work to drain.
func (p *WorkerPool) Close() {
	p.closeOnce.Do(func() {
		close(p.tasks)
	})
	p.wg.Wait()
}
