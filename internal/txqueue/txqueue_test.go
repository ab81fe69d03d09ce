package txqueue

import "testing"

func TestCapacityInvariant(t *testing.T) {
	const n = 10
	q := New(n)
	if !q.IsEmpty() {
		t.Fatalf("new queue should be empty")
	}
	for i := 0; i < n-1; i++ {
		if err := q.Push([]byte{byte(i)}); err != nil {
			t.Fatalf("push %d: unexpected error %v", i, err)
		}
	}
	if !q.IsFull() {
		t.Fatalf("queue should be full after %d pushes", n-1)
	}
	if err := q.Push([]byte{0xFF}); err != ErrQueueFull {
		t.Fatalf("expected ErrQueueFull, got %v", err)
	}
	if q.Count() != n-1 {
		t.Fatalf("count = %d, want %d", q.Count(), n-1)
	}
	for i := 0; i < n-1; i++ {
		buf, err := q.Pop()
		if err != nil {
			t.Fatalf("pop %d: unexpected error %v", i, err)
		}
		if buf[0] != byte(i) {
			t.Fatalf("pop %d returned %v, want FIFO order", i, buf)
		}
	}
	if _, err := q.Pop(); err != ErrQueueEmpty {
		t.Fatalf("expected ErrQueueEmpty, got %v", err)
	}
}

func TestPushCopiesBuffer(t *testing.T) {
	q := New(MinCapacity)
	staging := []byte{1, 2, 3}
	_ = q.Push(staging)
	staging[0] = 0xFF
	got, _ := q.Pop()
	if got[0] != 1 {
		t.Fatalf("push did not copy staging buffer: got %v", got)
	}
}

func TestPeekDoesNotAdvance(t *testing.T) {
	q := New(MinCapacity)
	_ = q.Push([]byte{1, 2})
	_ = q.Push([]byte{3, 4})
	peeked, err := q.Peek()
	if err != nil {
		t.Fatalf("peek: %v", err)
	}
	if peeked[0] != 1 {
		t.Fatalf("peek returned %v, want head [1 2]", peeked)
	}
	popped, _ := q.Pop()
	if popped[0] != 1 {
		t.Fatalf("peek advanced the queue: pop returned %v", popped)
	}
}

func TestMinCapacityEnforced(t *testing.T) {
	q := New(2)
	// capacity should be clamped to MinCapacity (10), allowing 9 pushes.
	for i := 0; i < MinCapacity-1; i++ {
		if err := q.Push([]byte{byte(i)}); err != nil {
			t.Fatalf("push %d: %v", i, err)
		}
	}
	if !q.IsFull() {
		t.Fatalf("expected full after MinCapacity-1 pushes")
	}
}
