package executor

import (
	"container/heap"

	"github.com/liangyuRain/nexus/internal/task"
)

// deadlineHeap is a container/heap.Interface ordering task.Input values by
// ascending deadline, tie-broken by task id then input index for a
// deterministic drain order (design note §9).
type deadlineHeap struct {
	items []task.Input
}

func (h *deadlineHeap) Len() int { return len(h.items) }

func (h *deadlineHeap) Less(i, j int) bool {
	a, b := h.items[i], h.items[j]
	if !a.Deadline.Equal(b.Deadline) {
		return a.Deadline.Before(b.Deadline)
	}
	if a.TaskID != b.TaskID {
		return a.TaskID < b.TaskID
	}
	return a.Index < b.Index
}

func (h *deadlineHeap) Swap(i, j int) { h.items[i], h.items[j] = h.items[j], h.items[i] }

func (h *deadlineHeap) Push(x any) { h.items = append(h.items, x.(task.Input)) }

func (h *deadlineHeap) Pop() any {
	old := h.items
	n := len(old)
	item := old[n-1]
	h.items = old[:n-1]
	return item
}

// inputQueue is the executor's earliest-deadline-first priority queue,
// shared across all inputs of all pending tasks. Not safe for concurrent
// use on its own; the executor serializes access under its own mutex.
type inputQueue struct {
	h deadlineHeap
}

func newInputQueue() *inputQueue {
	q := &inputQueue{}
	heap.Init(&q.h)
	return q
}

func (q *inputQueue) Push(input task.Input) {
	heap.Push(&q.h, input)
}

func (q *inputQueue) Pop() (task.Input, bool) {
	if q.h.Len() == 0 {
		return task.Input{}, false
	}
	return heap.Pop(&q.h).(task.Input), true
}

func (q *inputQueue) Len() int {
	return q.h.Len()
}
