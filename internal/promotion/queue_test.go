package promotion

import (
	"testing"

	"github.com/octoreflex/aott/internal/types"
)

func TestAdmissionQueueOrdersByScoreDescending(t *testing.T) {
	q := NewAdmissionQueue()
	q.Enqueue(types.FunctionId(1), 0.2, types.T0, types.T1)
	q.Enqueue(types.FunctionId(2), 0.9, types.T0, types.T1)
	q.Enqueue(types.FunctionId(3), 0.5, types.T0, types.T1)

	batch := q.PopBatch(3)
	if len(batch) != 3 {
		t.Fatalf("PopBatch returned %d candidates, want 3", len(batch))
	}
	if batch[0].FID != 2 || batch[1].FID != 3 || batch[2].FID != 1 {
		t.Fatalf("unexpected order: %d, %d, %d", batch[0].FID, batch[1].FID, batch[2].FID)
	}
}

func TestAdmissionQueueDeterministicTieBreak(t *testing.T) {
	q := NewAdmissionQueue()
	q.Enqueue(types.FunctionId(10), 0.5, types.T0, types.T1)
	q.Enqueue(types.FunctionId(5), 0.5, types.T0, types.T1)

	batch := q.PopBatch(2)
	if batch[0].FID != 10 {
		t.Fatalf("tie-break did not preserve enqueue order: got FID %d first, want 10", batch[0].FID)
	}
}

func TestAdmissionQueuePopBatchRespectsLimit(t *testing.T) {
	q := NewAdmissionQueue()
	for i := 0; i < 10; i++ {
		q.Enqueue(types.FunctionId(i), float64(i), types.T0, types.T1)
	}
	batch := q.PopBatch(3)
	if len(batch) != 3 {
		t.Fatalf("PopBatch(3) returned %d, want 3", len(batch))
	}
	if q.Len() != 7 {
		t.Fatalf("queue has %d remaining, want 7", q.Len())
	}
}
