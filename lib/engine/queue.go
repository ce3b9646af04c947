package engine

import (
	"container/heap"
	"sync"

	"github.com/gradflow/gradflow/lib/tensor"
	"github.com/gradflow/gradflow/rpc/common"
)

// --------------------------------------------------------------------------
// Engine Messages
// --------------------------------------------------------------------------

// Op selects the operation an engine message performs.
type Op int

const (
	// CopyFirst copies the first worker's contribution into the store.
	CopyFirst Op = iota
	// SumRecv accumulates a subsequent worker's contribution.
	SumRecv
	// AllRecv seals the merge after the N-th push and flushes parked pulls.
	AllRecv
	// Terminate makes the strand drain up to this sentinel and exit.
	Terminate
)

func (o Op) String() string {
	switch o {
	case CopyFirst:
		return "COPY_FIRST"
	case SumRecv:
		return "SUM_RECV"
	case AllRecv:
		return "ALL_RECV"
	case Terminate:
		return "TERMINATE"
	default:
		return "UNKNOWN"
	}
}

// Message is one unit of engine work. Dst and Src are borrowed views into
// buffers owned by the per-key store (or into request payloads); the
// pointees must outlive message drainage.
type Message struct {
	Timestamp uint64
	Dtype     tensor.DataType
	Key       uint64
	Dst       []byte
	Src       []byte
	Len       int
	Op        Op
	Req       common.KVMeta
	// ValLen is the payload length declared by the request; for compressed
	// pushes it bounds the region Decompress reads.
	ValLen int32
	// MixedPrecision marks float16 transport with float32 reduction.
	MixedPrecision bool

	priority int64
	index    int
}

// --------------------------------------------------------------------------
// Priority Queue
// --------------------------------------------------------------------------

// PriorityQueue is the per-shard work queue. With scheduling enabled,
// messages are ordered by (key priority, timestamp) where a key's priority
// drops with every queued message, so freshly started keys overtake long
// batches and large keys cannot block the head of the line. Without
// scheduling the queue degrades to FIFO (every priority is zero and
// timestamps are monotone).
//
// Thread-safety: all methods are safe for concurrent use. WaitAndPop blocks
// on an internal condition variable until work arrives.
type PriorityQueue struct {
	mu             sync.Mutex
	cond           *sync.Cond
	enableSchedule bool
	items          []*Message
	pushCnt        map[uint64]int64
}

// NewPriorityQueue creates an empty queue.
func NewPriorityQueue(enableSchedule bool) *PriorityQueue {
	q := &PriorityQueue{
		enableSchedule: enableSchedule,
		pushCnt:        make(map[uint64]int64),
	}
	q.cond = sync.NewCond(&q.mu)
	return q
}

// Push enqueues a message and notifies the waiting strand.
func (q *PriorityQueue) Push(msg Message) {
	q.mu.Lock()
	if q.enableSchedule {
		msg.priority = -q.pushCnt[msg.Key]
		q.pushCnt[msg.Key]++
	}
	heap.Push((*msgHeap)(q), &msg)
	q.mu.Unlock()
	q.cond.Signal()
}

// WaitAndPop blocks until a message is available and returns it.
func (q *PriorityQueue) WaitAndPop() Message {
	q.mu.Lock()
	defer q.mu.Unlock()
	for len(q.items) == 0 {
		q.cond.Wait()
	}
	msg := heap.Pop((*msgHeap)(q)).(*Message)
	return *msg
}

// ClearCounter resets a key's scheduling counter after its merge seals, so
// the next step starts from the highest priority again.
func (q *PriorityQueue) ClearCounter(key uint64) {
	if !q.enableSchedule {
		return
	}
	q.mu.Lock()
	q.pushCnt[key] = 0
	q.mu.Unlock()
}

// Len returns the number of queued messages.
func (q *PriorityQueue) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.items)
}

// --------------------------------------------------------------------------
// heap.Interface plumbing
// --------------------------------------------------------------------------

// msgHeap adapts PriorityQueue's item slice to the heap package. Callers
// hold q.mu.
type msgHeap PriorityQueue

func (h *msgHeap) Len() int { return len(h.items) }

func (h *msgHeap) Less(i, j int) bool {
	a, b := h.items[i], h.items[j]
	if a.priority != b.priority {
		return a.priority > b.priority
	}
	return a.Timestamp < b.Timestamp
}

func (h *msgHeap) Swap(i, j int) {
	h.items[i], h.items[j] = h.items[j], h.items[i]
	h.items[i].index = i
	h.items[j].index = j
}

func (h *msgHeap) Push(x interface{}) {
	msg := x.(*Message)
	msg.index = len(h.items)
	h.items = append(h.items, msg)
}

func (h *msgHeap) Pop() interface{} {
	old := h.items
	n := len(old)
	msg := old[n-1]
	old[n-1] = nil // avoid memory leak
	msg.index = -1
	h.items = old[:n-1]
	return msg
}
