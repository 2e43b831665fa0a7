package visa1

import (
	"sync"

	"github.com/arloliu/go-visa1/internal/queue"
	"github.com/arloliu/go-visa1/iso8583"
)

// queueItem is either a fire-and-forget message (req == nil) or a
// correlated request.
type queueItem struct {
	msg *iso8583.Message
	req *Request
}

func (it *queueItem) message() *iso8583.Message {
	if it.req != nil {
		return it.req.Message()
	}

	return it.msg
}

// pendingQueue is the FIFO shared by producers and the dispatch worker.
// Producers only append; the worker alone peeks and removes the head.
// Once drained the queue is closed and refuses new items.
type pendingQueue struct {
	mu     sync.Mutex
	items  queue.Queue[*queueItem]
	closed bool
	wake   chan struct{}
}

func newPendingQueue() *pendingQueue {
	return &pendingQueue{
		items: queue.NewSliceQueue[*queueItem](DefaultQueuePrealloc),
		wake:  make(chan struct{}, 1),
	}
}

// enqueue appends item and reports false when the queue is closed.
func (q *pendingQueue) enqueue(item *queueItem) bool {
	q.mu.Lock()
	if q.closed {
		q.mu.Unlock()
		return false
	}
	q.items.Enqueue(item)
	q.mu.Unlock()

	q.notify()

	return true
}

// notify wakes the worker without blocking; one pending signal is enough.
func (q *pendingQueue) notify() {
	select {
	case q.wake <- struct{}{}:
	default:
	}
}

func (q *pendingQueue) peek() (*queueItem, bool) {
	q.mu.Lock()
	defer q.mu.Unlock()

	return q.items.Peek()
}

func (q *pendingQueue) dequeue() (*queueItem, bool) {
	q.mu.Lock()
	defer q.mu.Unlock()

	return q.items.Dequeue()
}

// drain closes the queue, then removes and returns every queued item.
func (q *pendingQueue) drain() []*queueItem {
	q.mu.Lock()
	defer q.mu.Unlock()

	q.closed = true

	items := make([]*queueItem, 0, q.items.Length())
	for {
		item, ok := q.items.Dequeue()
		if !ok {
			return items
		}
		items = append(items, item)
	}
}

func (q *pendingQueue) length() int {
	q.mu.Lock()
	defer q.mu.Unlock()

	return q.items.Length()
}
