package manager

import "sync"

// fifo is an unbounded queue of job ids. push never blocks; pop blocks until
// an id is available or the queue is closed.
type fifo struct {
	mu     sync.Mutex
	cond   *sync.Cond
	items  []string
	closed bool
}

func newFIFO() *fifo {
	queue := &fifo{}
	queue.cond = sync.NewCond(&queue.mu)

	return queue
}

func (q *fifo) push(id string) {
	q.mu.Lock()
	q.items = append(q.items, id)
	q.mu.Unlock()
	q.cond.Signal()
}

// pop returns false once the queue is closed. Ids still queued at that point
// stay unclaimed.
func (q *fifo) pop() (string, bool) {
	q.mu.Lock()
	defer q.mu.Unlock()

	for len(q.items) == 0 && !q.closed {
		q.cond.Wait()
	}

	if q.closed {
		return "", false
	}

	id := q.items[0]
	q.items[0] = ""
	q.items = q.items[1:]

	return id, true
}

func (q *fifo) len() int {
	q.mu.Lock()
	defer q.mu.Unlock()

	return len(q.items)
}

// drain removes and returns every queued id.
func (q *fifo) drain() []string {
	q.mu.Lock()
	defer q.mu.Unlock()

	pending := q.items
	q.items = nil

	return pending
}

func (q *fifo) close() {
	q.mu.Lock()
	q.closed = true
	q.mu.Unlock()
	q.cond.Broadcast()
}
