package queue

import (
	"testing"
	"time"

	"reqsim/internal/protocol"
)

func TestDequeueStrictPriorityOrder(t *testing.T) {
	q := New()
	q.Enqueue(protocol.NewRequest(protocol.ClassZ1, "K1", protocol.Data{}))
	q.Enqueue(protocol.NewRequest(protocol.ClassZ2, "K1", protocol.Data{}))
	q.Enqueue(protocol.NewRequest(protocol.ClassZ3, "K1", protocol.Data{}))
	q.Enqueue(protocol.NewRequest(protocol.ClassZ1, "K1", protocol.Data{}))

	got := []protocol.Class{}
	for i := 0; i < 4; i++ {
		r := q.Dequeue()
		if r == nil {
			t.Fatalf("unexpected empty dequeue at i=%d", i)
		}
		got = append(got, r.Class)
	}
	want := []protocol.Class{protocol.ClassZ3, protocol.ClassZ2, protocol.ClassZ1, protocol.ClassZ1}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("dequeue order = %v, want %v", got, want)
		}
	}
}

func TestDequeueFIFOWithinClass(t *testing.T) {
	q := New()
	first := protocol.NewRequest(protocol.ClassZ2, "K1", protocol.Data{})
	second := protocol.NewRequest(protocol.ClassZ2, "K1", protocol.Data{})
	q.Enqueue(first)
	q.Enqueue(second)

	if got := q.Dequeue(); got.RequestID != first.RequestID {
		t.Fatalf("first dequeue = %s, want %s", got.RequestID, first.RequestID)
	}
	if got := q.Dequeue(); got.RequestID != second.RequestID {
		t.Fatalf("second dequeue = %s, want %s", got.RequestID, second.RequestID)
	}
}

func TestDequeueEmptyReturnsNil(t *testing.T) {
	q := New()
	if q.Dequeue() != nil {
		t.Fatal("Dequeue() on empty queue should return nil")
	}
}

func TestAvgWaitWindowedAndZeroWhenEmpty(t *testing.T) {
	clock := time.Now()
	q := NewWithClock(func() time.Time { return clock })

	q.Enqueue(protocol.NewRequest(protocol.ClassZ1, "K1", protocol.Data{}))
	clock = clock.Add(2 * time.Second)
	if q.Dequeue() == nil {
		t.Fatal("expected a request")
	}
	if got := q.AvgWait(protocol.ClassZ1); got != 2.0 {
		t.Fatalf("AvgWait = %v, want 2.0", got)
	}
	if got := q.AvgWait(protocol.ClassZ2); got != 0 {
		t.Fatalf("AvgWait(never used class) = %v, want 0", got)
	}
}

func TestMaxWaitReflectsCurrentlyEnqueued(t *testing.T) {
	clock := time.Now()
	q := NewWithClock(func() time.Time { return clock })

	q.Enqueue(protocol.NewRequest(protocol.ClassZ3, "K1", protocol.Data{}))
	clock = clock.Add(5 * time.Second)
	q.Enqueue(protocol.NewRequest(protocol.ClassZ3, "K1", protocol.Data{}))

	if got := q.MaxWait(protocol.ClassZ3); got != 5.0 {
		t.Fatalf("MaxWait = %v, want 5.0", got)
	}
	if got := q.MaxWait(protocol.ClassZ1); got != 0 {
		t.Fatalf("MaxWait(empty class) = %v, want 0", got)
	}
}

func TestSizeAndIsEmpty(t *testing.T) {
	q := New()
	if !q.IsEmpty() {
		t.Fatal("new queue should be empty")
	}
	q.Enqueue(protocol.NewRequest(protocol.ClassZ1, "K1", protocol.Data{}))
	q.Enqueue(protocol.NewRequest(protocol.ClassZ3, "K1", protocol.Data{}))
	if q.IsEmpty() {
		t.Fatal("queue should not be empty")
	}
	if got := q.Size(); got != 2 {
		t.Fatalf("Size() = %d, want 2", got)
	}
	if got := q.SizeOf(protocol.ClassZ1); got != 1 {
		t.Fatalf("SizeOf(Z1) = %d, want 1", got)
	}
}
