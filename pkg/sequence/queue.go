package sequence

import "container/heap"

// PriorityItem is an element of a PriorityQueue.
type PriorityItem[T any] struct {
	Value    T
	Priority int64
	seq      uint64
	index    int
}

type priorityQueue[T any] struct {
	items []*PriorityItem[T]
}

func (pq *priorityQueue[T]) Len() int {
	return len(pq.items)
}

// Less orders by ascending priority, then by insertion.
func (pq *priorityQueue[T]) Less(i, j int) bool {
	a, b := pq.items[i], pq.items[j]
	if a.Priority != b.Priority {
		return a.Priority < b.Priority
	}
	return a.seq < b.seq
}

func (pq *priorityQueue[T]) Swap(i, j int) {
	pq.items[i], pq.items[j] = pq.items[j], pq.items[i]
	pq.items[i].index = i
	pq.items[j].index = j
}

func (pq *priorityQueue[T]) Push(x any) {
	item := x.(*PriorityItem[T])
	item.index = len(pq.items)
	pq.items = append(pq.items, item)
}

func (pq *priorityQueue[T]) Pop() any {
	old := pq.items
	n := len(old)
	item := old[n-1]
	old[n-1] = nil  // avoid memory leak
	item.index = -1 // for safety
	pq.items = old[0 : n-1]
	return item
}

// PriorityQueue is a min-heap. Items with equal priority leave in the order they entered.
// It is not safe for concurrent use.
type PriorityQueue[T any] struct {
	pq  priorityQueue[T]
	seq uint64
}

func NewPriorityQueue[T any]() *PriorityQueue[T] {
	pq := &PriorityQueue[T]{}
	heap.Init(&pq.pq)
	return pq
}

func (pq *PriorityQueue[T]) Enqueue(value T, priority int64) *PriorityItem[T] {
	pq.seq++
	item := &PriorityItem[T]{
		Value:    value,
		Priority: priority,
		seq:      pq.seq,
	}
	heap.Push(&pq.pq, item)
	return item
}

func (pq *PriorityQueue[T]) Dequeue() (T, bool) {
	if pq.pq.Len() == 0 {
		var zero T
		return zero, false
	}
	item := heap.Pop(&pq.pq).(*PriorityItem[T])
	return item.Value, true
}

// DequeueUntil removes every item with priority <= limit, lowest first.
func (pq *PriorityQueue[T]) DequeueUntil(limit int64) []T {
	var out []T
	for pq.pq.Len() > 0 && pq.pq.items[0].Priority <= limit {
		out = append(out, heap.Pop(&pq.pq).(*PriorityItem[T]).Value)
	}
	return out
}

func (pq *PriorityQueue[T]) Peek() (T, bool) {
	if pq.pq.Len() == 0 {
		var zero T
		return zero, false
	}
	return pq.pq.items[0].Value, true
}

// Remove drops every item matching pred.
func (pq *PriorityQueue[T]) Remove(pred func(T) bool) int {
	kept := pq.pq.items[:0]
	removed := 0
	for _, item := range pq.pq.items {
		if pred(item.Value) {
			removed++
			continue
		}
		kept = append(kept, item)
	}
	for i := len(kept); i < len(pq.pq.items); i++ {
		pq.pq.items[i] = nil
	}
	pq.pq.items = kept
	for i, item := range pq.pq.items {
		item.index = i
	}
	heap.Init(&pq.pq)
	return removed
}

func (pq *PriorityQueue[T]) Update(item *PriorityItem[T], value T, priority int64) {
	item.Value = value
	item.Priority = priority
	heap.Fix(&pq.pq, item.index)
}

func (pq *PriorityQueue[T]) Len() int {
	return pq.pq.Len()
}

func (pq *PriorityQueue[T]) IsEmpty() bool {
	return pq.pq.Len() == 0
}
