package coordinator

import (
	"container/heap"
	"time"

	"github.com/alejandrodnm/coordinator-core/internal/domain"
)

// queuedIntent is one entry on the dispatch queue.
type queuedIntent struct {
	intent     domain.Intent
	enqueuedAt time.Time
}

// intentQueue orders survivors by (priority DESC, created_at ASC), per
// spec.md §4.1's dispatch loop.
type intentQueue struct {
	items []queuedIntent
}

func newIntentQueue() *intentQueue {
	q := &intentQueue{}
	heap.Init(q)
	return q
}

func (q *intentQueue) Len() int { return len(q.items) }

func (q *intentQueue) Less(i, j int) bool {
	a, b := q.items[i].intent, q.items[j].intent
	if a.Priority != b.Priority {
		return a.Priority > b.Priority // higher priority first
	}
	return a.CreatedAt.Before(b.CreatedAt)
}

func (q *intentQueue) Swap(i, j int) { q.items[i], q.items[j] = q.items[j], q.items[i] }

func (q *intentQueue) Push(x any) { q.items = append(q.items, x.(queuedIntent)) }

func (q *intentQueue) Pop() any {
	n := len(q.items)
	item := q.items[n-1]
	q.items = q.items[:n-1]
	return item
}
