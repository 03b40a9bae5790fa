// Package workerpool provides a bounded, goroutine-backed task pool
// modeled on a Java ThreadPoolExecutor's core/max/queue sizing: core
// workers always run, extra workers up to max spawn once the queue fills,
// and a RejectionPolicy decides what happens once both are exhausted. No
// generic pool library appears anywhere in the example pack, so this is
// hand-rolled on the teacher's goroutine+channel idiom (see DESIGN.md).
package workerpool

import (
	"sync"
)

// RejectionPolicy decides what to do with task when the pool cannot queue
// or spawn a worker for it.
type RejectionPolicy func(task func())

// CallerRuns runs the rejected task synchronously on the submitting
// goroutine. The policy of the default pool.
func CallerRuns(task func()) { task() }

// PersistThenCallerRuns is the webhook pool's rejection policy: it should
// persist the rejected task for later scheduling and only fall back to
// running it on the caller's goroutine as a last resort. No outbox table
// backs that persistence step yet (see DESIGN.md §9(c)), so this degrades
// straight to CallerRuns today.
// TODO: once a rejected-task outbox table exists, write task there first
// and only run inline if that write also fails.
func PersistThenCallerRuns(task func()) {
	CallerRuns(task)
}

// Pool is a bounded worker pool with core/max/queue sizing.
type Pool struct {
	core  int
	max   int
	queue chan func()

	mu        sync.Mutex
	extra     int // spawned beyond core, <= max-core
	reject    RejectionPolicy
	closeOnce sync.Once
	done      chan struct{}
}

// New creates a Pool with core persistent workers, up to max total
// workers, and a queue of the given capacity. reject is invoked when a
// task can neither be queued nor given to a freshly spawned worker; it
// defaults to CallerRuns if nil.
func New(core, max, queueSize int, reject RejectionPolicy) *Pool {
	if reject == nil {
		reject = CallerRuns
	}
	p := &Pool{
		core:   core,
		max:    max,
		queue:  make(chan func(), queueSize),
		reject: reject,
		done:   make(chan struct{}),
	}
	for i := 0; i < core; i++ {
		go p.runWorker()
	}
	return p
}

func (p *Pool) runWorker() {
	for {
		select {
		case task, ok := <-p.queue:
			if !ok {
				return
			}
			task()
		case <-p.done:
			return
		}
	}
}

// Submit enqueues task, spawning an extra worker (up to max) if the queue
// is full, or applying the rejection policy if the pool is saturated.
func (p *Pool) Submit(task func()) {
	select {
	case p.queue <- task:
		return
	default:
	}

	if p.trySpawnExtra(task) {
		return
	}

	p.reject(task)
}

// trySpawnExtra spawns a worker beyond core (up to max) and hands it task
// directly, bypassing the queue since it is already known to be full. The
// new worker then joins the shared pool to drain the queue like any core
// worker.
func (p *Pool) trySpawnExtra(task func()) bool {
	p.mu.Lock()
	if p.core+p.extra >= p.max {
		p.mu.Unlock()
		return false
	}
	p.extra++
	p.mu.Unlock()

	go func() {
		task()
		p.runWorker()
	}()
	return true
}

// activeExtra reports how many on-demand workers beyond core are running.
// Exposed for tests; not meaningful to callers beyond diagnostics.
func (p *Pool) activeExtra() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.extra
}

// Close stops every worker once its current task (if any) finishes and
// the queue drains no further tasks.
func (p *Pool) Close() {
	p.closeOnce.Do(func() {
		close(p.done)
	})
}
