package scheduler

import "container/heap"

// entry wraps a ready OptimizationTask with the monotonic sequence
// number it was admitted with, used only to break ties deterministically.
type entry struct {
	task OptimizationTask
	seq  uint64
}

// taskHeap orders ready tasks by priority (descending), then estimated
// benefit (descending), then admission order (ascending) — grounded on
// sim/cluster's EventHeap multi-key tie-break idiom (score, then
// sequence, then identity), adapted to the Scheduler's own priority
// ordering (spec §4.J: "priority → estimated_benefit → creation order").
type taskHeap []*entry

func (h taskHeap) Len() int { return len(h) }

func (h taskHeap) Less(i, j int) bool {
	a, b := h[i], h[j]
	if a.task.Priority != b.task.Priority {
		return a.task.Priority > b.task.Priority
	}
	if a.task.EstimatedBenefit != b.task.EstimatedBenefit {
		return a.task.EstimatedBenefit > b.task.EstimatedBenefit
	}
	return a.seq < b.seq
}

func (h taskHeap) Swap(i, j int) { h[i], h[j] = h[j], h[i] }

func (h *taskHeap) Push(x any) { *h = append(*h, x.(*entry)) }

func (h *taskHeap) Pop() any {
	old := *h
	n := len(old)
	item := old[n-1]
	old[n-1] = nil
	*h = old[:n-1]
	return item
}

// readyQueue is a thin container/heap.Interface wrapper exposing a
// task-shaped API rather than the raw heap primitives.
type readyQueue struct {
	h taskHeap
}

func newReadyQueue() *readyQueue {
	rq := &readyQueue{}
	heap.Init(&rq.h)
	return rq
}

func (rq *readyQueue) push(task OptimizationTask, seq uint64) {
	heap.Push(&rq.h, &entry{task: task, seq: seq})
}

func (rq *readyQueue) pop() (OptimizationTask, bool) {
	if rq.h.Len() == 0 {
		return OptimizationTask{}, false
	}
	e := heap.Pop(&rq.h).(*entry)
	return e.task, true
}

func (rq *readyQueue) len() int { return rq.h.Len() }
