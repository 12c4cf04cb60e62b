package scheduler

import (
	"container/heap"

	"github.com/nao1215/sprite/internal/model"
)

// priorityQueue orders requests by ascending priority, then by enqueue
// sequence. Negative priorities therefore come first, zero priorities
// follow in FIFO order, then positive priorities.
type priorityQueue struct {
	entries entryHeap
	seq     uint64
}

type entry struct {
	req      *model.Request
	priority int
	seq      uint64
}

func (q *priorityQueue) push(req *model.Request) {
	q.seq++
	heap.Push(&q.entries, entry{req: req, priority: req.Priority, seq: q.seq})
}

func (q *priorityQueue) pop() (*model.Request, bool) {
	if len(q.entries) == 0 {
		return nil, false
	}
	e := heap.Pop(&q.entries).(entry) //nolint:forcetypeassert // entryHeap only holds entry values
	return e.req, true
}

func (q *priorityQueue) len() int {
	return len(q.entries)
}

// drain pops everything in delivery order.
func (q *priorityQueue) drain() []*model.Request {
	out := make([]*model.Request, 0, len(q.entries))
	for {
		req, ok := q.pop()
		if !ok {
			return out
		}
		out = append(out, req)
	}
}

type entryHeap []entry

func (h entryHeap) Len() int { return len(h) }

func (h entryHeap) Less(i, j int) bool {
	if h[i].priority != h[j].priority {
		return h[i].priority < h[j].priority
	}
	return h[i].seq < h[j].seq
}

func (h entryHeap) Swap(i, j int) { h[i], h[j] = h[j], h[i] }

func (h *entryHeap) Push(x any) {
	*h = append(*h, x.(entry)) //nolint:forcetypeassert // heap.Push is only called with entry
}

func (h *entryHeap) Pop() any {
	old := *h
	n := len(old)
	e := old[n-1]
	old[n-1] = entry{}
	*h = old[:n-1]
	return e
}
