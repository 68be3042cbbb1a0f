package promotion

import (
	"container/heap"

	"github.com/octoreflex/aott/internal/types"
)

// Candidate is one function awaiting a promotion decision, queued for
// the Scheduler to admit in priority order (spec §4.D step 3, §4.J).
type Candidate struct {
	FID         types.FunctionId
	Score       float64
	FromTier    types.TierLevel
	ToTier      types.TierLevel
	Seq         uint64 // monotonic enqueue order, for deterministic tie-break
	index       int    // heap bookkeeping
}

// candidateHeap implements container/heap.Interface with deterministic
// multi-key ordering: highest Score first, then earliest Seq, then
// lowest FID — grounded on inference-sim's EventHeap, which orders
// simulation events by (timestamp, type priority, event ID) for the
// same reason: two distinct runs over the same inputs must produce the
// same admission order.
type candidateHeap []*Candidate

func (h candidateHeap) Len() int { return len(h) }

func (h candidateHeap) Less(i, j int) bool {
	if h[i].Score != h[j].Score {
		return h[i].Score > h[j].Score
	}
	if h[i].Seq != h[j].Seq {
		return h[i].Seq < h[j].Seq
	}
	return h[i].FID < h[j].FID
}

func (h candidateHeap) Swap(i, j int) {
	h[i], h[j] = h[j], h[i]
	h[i].index = i
	h[j].index = j
}

func (h *candidateHeap) Push(x interface{}) {
	c := x.(*Candidate)
	c.index = len(*h)
	*h = append(*h, c)
}

func (h *candidateHeap) Pop() interface{} {
	old := *h
	n := len(old)
	c := old[n-1]
	old[n-1] = nil
	c.index = -1
	*h = old[:n-1]
	return c
}

// AdmissionQueue is a priority queue of promotion Candidates bounded by
// a maximum admissions-per-batch policy (spec §6
// max_admissions_per_batch).
type AdmissionQueue struct {
	h       candidateHeap
	nextSeq uint64
}

// NewAdmissionQueue constructs an empty AdmissionQueue.
func NewAdmissionQueue() *AdmissionQueue {
	q := &AdmissionQueue{}
	heap.Init(&q.h)
	return q
}

// Enqueue adds a candidate to the queue, stamping it with the next
// sequence number for deterministic tie-breaking.
func (q *AdmissionQueue) Enqueue(fid types.FunctionId, score float64, from, to types.TierLevel) {
	c := &Candidate{FID: fid, Score: score, FromTier: from, ToTier: to, Seq: q.nextSeq}
	q.nextSeq++
	heap.Push(&q.h, c)
}

// PopBatch removes and returns up to maxBatch highest-priority
// candidates (spec §6 max_admissions_per_batch).
func (q *AdmissionQueue) PopBatch(maxBatch int) []*Candidate {
	var batch []*Candidate
	for len(batch) < maxBatch && q.h.Len() > 0 {
		batch = append(batch, heap.Pop(&q.h).(*Candidate))
	}
	return batch
}

// Len returns the number of queued candidates.
func (q *AdmissionQueue) Len() int { return q.h.Len() }
