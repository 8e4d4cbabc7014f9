package davreq

import "sync"

// serialQueue runs posted tasks one at a time, in order, on its own
// goroutine, started by the first post. post never blocks. After close the
// pending tasks still run and later posts are dropped.
type serialQueue struct {
	mu      sync.Mutex
	cond    *sync.Cond
	tasks   []func()
	closed  bool
	running bool
}

func newSerialQueue() *serialQueue {
	q := &serialQueue{}
	q.cond = sync.NewCond(&q.mu)
	return q
}

func (q *serialQueue) post(fn func()) bool {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.closed {
		return false
	}
	q.tasks = append(q.tasks, fn)
	if !q.running {
		q.running = true
		go q.run()
	}
	q.cond.Signal()
	return true
}

func (q *serialQueue) close() {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.closed = true
	q.cond.Signal()
}

func (q *serialQueue) next() (func(), bool) {
	q.mu.Lock()
	defer q.mu.Unlock()
	for len(q.tasks) == 0 && !q.closed {
		q.cond.Wait()
	}
	if len(q.tasks) == 0 {
		return nil, false
	}
	fn := q.tasks[0]
	q.tasks[0] = nil
	q.tasks = q.tasks[1:]
	return fn, true
}

func (q *serialQueue) run() {
	for {
		fn, ok := q.next()
		if !ok {
			return
		}
		fn()
	}
}
