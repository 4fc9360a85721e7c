package engine

import (
	"container/heap"
	"errors"
	"sync"
	"time"
)

var ErrQueueFull = errors.New("execution queue is full")

type queueItem struct {
	orderID    string
	confidence float64
	enqueuedAt time.Time
	seq        uint64
	index      int
}

// itemHeap orders by confidence descending; ties break by arrival order so
// equal-confidence work stays FIFO.
type itemHeap []*queueItem

func (h itemHeap) Len() int { return len(h) }

func (h itemHeap) Less(i, j int) bool {
	if h[i].confidence != h[j].confidence {
		return h[i].confidence > h[j].confidence
	}
	return h[i].seq < h[j].seq
}

func (h itemHeap) Swap(i, j int) {
	h[i], h[j] = h[j], h[i]
	h[i].index = i
	h[j].index = j
}

func (h *itemHeap) Push(x any) {
	it := x.(*queueItem)
	it.index = len(*h)
	*h = append(*h, it)
}

func (h *itemHeap) Pop() any {
	old := *h
	n := len(old)
	it := old[n-1]
	old[n-1] = nil
	*h = old[:n-1]
	return it
}

// Queue is a bounded, confidence-weighted work queue. Pushing an order id
// that is already queued is a no-op, so a retry re-enqueue racing a recovery
// scan cannot double-schedule.
type Queue struct {
	mu       sync.Mutex
	items    itemHeap
	present  map[string]struct{}
	capacity int
	seq      uint64
	ready    chan struct{}
}

func NewQueue(capacity int) *Queue {
	if capacity <= 0 {
		capacity = 256
	}
	return &Queue{
		present:  make(map[string]struct{}),
		capacity: capacity,
		ready:    make(chan struct{}, capacity),
	}
}

func (q *Queue) Push(orderID string, confidence float64) error {
	q.mu.Lock()
	if _, dup := q.present[orderID]; dup {
		q.mu.Unlock()
		return nil
	}
	if len(q.items) >= q.capacity {
		q.mu.Unlock()
		return ErrQueueFull
	}
	q.seq++
	heap.Push(&q.items, &queueItem{
		orderID:    orderID,
		confidence: confidence,
		enqueuedAt: time.Now(),
		seq:        q.seq,
	})
	q.present[orderID] = struct{}{}
	q.mu.Unlock()

	select {
	case q.ready <- struct{}{}:
	default:
	}
	return nil
}

// Pop removes and returns the highest-priority order id.
func (q *Queue) Pop() (string, bool) {
	q.mu.Lock()
	defer q.mu.Unlock()
	if len(q.items) == 0 {
		return "", false
	}
	it := heap.Pop(&q.items).(*queueItem)
	delete(q.present, it.orderID)
	return it.orderID, true
}

// Ready signals that at least one item may be available. Spurious wakeups
// are possible; callers must handle an empty Pop.
func (q *Queue) Ready() <-chan struct{} {
	return q.ready
}

func (q *Queue) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.items)
}
