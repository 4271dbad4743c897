package application

import "testing"

func TestQueueFIFODrain(t *testing.T) {
	q := NewQueue[int](10)
	for i := 1; i <= 5; i++ {
		q.Append(i)
	}

	batch := q.DrainUpTo(3)
	if len(batch) != 3 || batch[0] != 1 || batch[1] != 2 || batch[2] != 3 {
		t.Fatalf("drain: got %v", batch)
	}
	if q.Len() != 2 {
		t.Fatalf("len after drain: got %d", q.Len())
	}
	if rest := q.DrainUpTo(10); len(rest) != 2 || rest[0] != 4 {
		t.Fatalf("second drain: got %v", rest)
	}
}

func TestQueueAppendShedsOldestWhenFull(t *testing.T) {
	q := NewQueue[int](3)
	for i := 1; i <= 3; i++ {
		if !q.Append(i) {
			t.Fatalf("append %d should not shed", i)
		}
	}
	if q.Append(4) {
		t.Fatalf("append at capacity must shed")
	}
	if q.Len() != 3 {
		t.Fatalf("len: got %d want 3", q.Len())
	}
	if got := q.DrainUpTo(3); got[0] != 2 || got[2] != 4 {
		t.Fatalf("oldest must be shed: got %v", got)
	}
	if q.ShedCount() != 1 {
		t.Fatalf("shed count: got %d", q.ShedCount())
	}
}

func TestQueueRequeuePreservesOrder(t *testing.T) {
	q := NewQueue[int](10)
	for i := 1; i <= 6; i++ {
		q.Append(i)
	}
	batch := q.DrainUpTo(3)

	if !q.Requeue(batch) {
		t.Fatalf("requeue should fit")
	}
	got := q.DrainUpTo(10)
	for i, want := range []int{1, 2, 3, 4, 5, 6} {
		if got[i] != want {
			t.Fatalf("order after requeue: got %v", got)
		}
	}
}

func TestQueueRequeueShedsBatchAtCeiling(t *testing.T) {
	q := NewQueue[int](5)
	for i := 1; i <= 5; i++ {
		q.Append(i)
	}
	batch := q.DrainUpTo(3)
	// Refill to capacity while the batch is in flight.
	for i := 6; i <= 8; i++ {
		q.Append(i)
	}

	if q.Requeue(batch) {
		t.Fatalf("requeue above capacity must shed the batch")
	}
	if q.Len() != 5 {
		t.Fatalf("len must stay at ceiling: got %d", q.Len())
	}
	if q.ShedCount() != 3 {
		t.Fatalf("shed count: got %d want 3", q.ShedCount())
	}
}
