// Package filterpool implements the generic FIFO-queue worker pool used by
// both filter stages (§4.5): a pool holds a start count of workers, grows by
// one worker per saturation edge up to a limit, and never shrinks. This
// replaces the original ThreadLogic/ThreadPool/MessageQueue inheritance
// chain with composition: a Pool owns a queue and spawns workers, rather
// than workers inheriting pool and queue behavior.
package filterpool

import (
	"context"
	"sync"
	"sync/atomic"
)

// Task is one unit of work a pool's workers execute.
type Task func(ctx context.Context)

// Pool runs Tasks pulled FIFO from an internal queue across a growable set
// of worker goroutines.
type Pool struct {
	name  string
	queue chan Task
	limit int

	mu    sync.Mutex
	count int

	busy atomic.Int64

	stopCh chan struct{}
	wg     sync.WaitGroup
}

// New creates a pool named name, backed by a queue of the given capacity,
// and starts it with startCount workers. Workers are never created beyond
// limitCount.
func New(name string, startCount, limitCount, queueCapacity int) *Pool {
	p := &Pool{
		name:   name,
		queue:  make(chan Task, queueCapacity),
		limit:  limitCount,
		stopCh: make(chan struct{}),
	}
	for range startCount {
		p.spawnWorker()
	}
	return p
}

// Push enqueues a task. Blocks if the queue is full.
func (p *Pool) Push(task Task) {
	p.queue <- task
}

// WorkerCount returns the current number of live workers.
func (p *Pool) WorkerCount() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.count
}

// QueueDepth returns the number of tasks currently waiting to be picked up.
func (p *Pool) QueueDepth() int {
	return len(p.queue)
}

// Stop signals every worker to exit after finishing its current task and
// waits for them all to return.
func (p *Pool) Stop() {
	close(p.stopCh)
	p.wg.Wait()
}

func (p *Pool) spawnWorker() {
	p.count++
	p.wg.Add(1)
	go p.workerLoop()
}

func (p *Pool) workerLoop() {
	defer p.wg.Done()
	ctx := context.Background()

	for {
		select {
		case <-p.stopCh:
			return
		case task, ok := <-p.queue:
			if !ok {
				return
			}
			p.enterTask()
			task(ctx)
			p.leaveTask()
		}
	}
}

// enterTask marks a worker busy and, if that made every current worker
// busy, reports saturation and grows the pool by at most one worker.
func (p *Pool) enterTask() {
	busy := p.busy.Add(1)

	p.mu.Lock()
	total := p.count
	p.mu.Unlock()

	if int(busy) == total {
		p.grow()
	}
}

func (p *Pool) leaveTask() {
	p.busy.Add(-1)
}

func (p *Pool) grow() {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.count >= p.limit {
		return
	}
	p.count++
	p.wg.Add(1)
	go p.workerLoop()
}
