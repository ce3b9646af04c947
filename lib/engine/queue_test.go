package engine

import (
	"testing"
)

// TestQueueFIFO tests arrival-order draining without scheduling
func TestQueueFIFO(t *testing.T) {
	q := NewPriorityQueue(false)

	for i := uint64(1); i <= 5; i++ {
		q.Push(Message{Timestamp: i, Key: i % 2, Op: SumRecv})
	}

	for i := uint64(1); i <= 5; i++ {
		msg := q.WaitAndPop()
		if msg.Timestamp != i {
			t.Errorf("popped timestamp %d, want %d", msg.Timestamp, i)
		}
	}
}

// TestQueueSchedule tests that a key's priority drops with every queued
// message so fresh keys overtake long batches
func TestQueueSchedule(t *testing.T) {
	q := NewPriorityQueue(true)

	q.Push(Message{Timestamp: 1, Key: 7, Op: SumRecv})  // key 7, priority 0
	q.Push(Message{Timestamp: 2, Key: 7, Op: SumRecv})  // key 7, priority -1
	q.Push(Message{Timestamp: 3, Key: 9, Op: SumRecv})  // key 9, priority 0

	order := []struct {
		key uint64
		ts  uint64
	}{
		{7, 1}, // priority 0, earliest
		{9, 3}, // priority 0
		{7, 2}, // priority -1 drains last
	}
	for i, want := range order {
		msg := q.WaitAndPop()
		if msg.Key != want.key || msg.Timestamp != want.ts {
			t.Errorf("pop %d = (key=%d ts=%d), want (key=%d ts=%d)",
				i, msg.Key, msg.Timestamp, want.key, want.ts)
		}
	}
}

// TestQueueClearCounter tests that a cleared key starts from priority zero
// again
func TestQueueClearCounter(t *testing.T) {
	q := NewPriorityQueue(true)

	q.Push(Message{Timestamp: 1, Key: 7, Op: SumRecv})
	q.Push(Message{Timestamp: 2, Key: 7, Op: SumRecv})
	q.ClearCounter(7)
	q.Push(Message{Timestamp: 3, Key: 9, Op: SumRecv})
	q.Push(Message{Timestamp: 4, Key: 7, Op: SumRecv}) // back at priority 0

	// three messages at priority 0 drain by timestamp, then the -1 one
	wantTs := []uint64{1, 3, 4, 2}
	for i, want := range wantTs {
		if msg := q.WaitAndPop(); msg.Timestamp != want {
			t.Errorf("pop %d timestamp = %d, want %d", i, msg.Timestamp, want)
		}
	}
}

// TestQueueLen tests the depth accounting used by the metrics gauge
func TestQueueLen(t *testing.T) {
	q := NewPriorityQueue(false)

	if q.Len() != 0 {
		t.Fatal("new queue should be empty")
	}
	q.Push(Message{Timestamp: 1, Op: SumRecv})
	q.Push(Message{Timestamp: 2, Op: SumRecv})
	if q.Len() != 2 {
		t.Errorf("Len = %d, want 2", q.Len())
	}
	q.WaitAndPop()
	if q.Len() != 1 {
		t.Errorf("Len = %d, want 1", q.Len())
	}
}
