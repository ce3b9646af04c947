package engine

import (
	"sync"
	"testing"
	"time"

	"github.com/gradflow/gradflow/lib/compressor"
	"github.com/gradflow/gradflow/lib/reducer"
	"github.com/gradflow/gradflow/lib/tensor"
	"github.com/gradflow/gradflow/rpc/common"
)

// fakeState is a minimal KeyState for driving the engine directly.
type fakeState struct {
	mu          sync.Mutex
	compressors map[uint64]compressor.Compressor
	fp16        map[uint64][]byte
	merged      map[uint64][]byte
}

func newFakeState() *fakeState {
	return &fakeState{
		compressors: make(map[uint64]compressor.Compressor),
		fp16:        make(map[uint64][]byte),
		merged:      make(map[uint64][]byte),
	}
}

func (f *fakeState) Compressor(key uint64) compressor.Compressor {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.compressors[key]
}

func (f *fakeState) FP16Copy(key uint64) []byte {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.fp16[key]
}

func (f *fakeState) SetMerged(key uint64, data []byte, _ tensor.DataType) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.merged[key] = data
}

// fakeResponder records dispatched pull responses.
type fakeResponder struct {
	mu     sync.Mutex
	served []int
}

func (f *fakeResponder) SendPullResponse(_ uint64, meta common.KVMeta) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.served = append(f.served, meta.Sender)
}

func (f *fakeResponder) count() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.served)
}

func f32bytes(vals ...float32) []byte {
	b := make([]byte, len(vals)*4)
	copy(tensor.Float32s(b), vals)
	return b
}

// waitFor polls until cond holds or the deadline passes.
func waitFor(t *testing.T, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(time.Millisecond)
	}
	t.Fatal("condition not reached in time")
}

// TestEngineMergeCycle tests a full two-worker step: copy, sum, barrier,
// parked pull flush, and the shard reset invariant
func TestEngineMergeCycle(t *testing.T) {
	state := newFakeState()
	resp := &fakeResponder{}
	e := New(Options{Shards: 1, NumWorkers: 2}, state, resp, reducer.New())
	e.Start()
	defer e.Shutdown()

	const key = 7
	stored := f32bytes(0, 0, 0, 0)
	pushA := f32bytes(1, 2, 3, 4)
	pushB := f32bytes(4, 3, 2, 1)

	// both pulls arrive before the merge seals and must park
	if e.PullArrived(0, key, common.KVMeta{Sender: 1}) {
		t.Fatal("pull before merge should park")
	}
	if e.PullArrived(0, key, common.KVMeta{Sender: 2}) {
		t.Fatal("pull before merge should park")
	}

	e.Enqueue(0, Message{Timestamp: e.NextTimestamp(), Dtype: tensor.Float32, Key: key,
		Dst: stored, Src: pushA, Len: 16, Op: CopyFirst})
	e.Enqueue(0, Message{Timestamp: e.NextTimestamp(), Dtype: tensor.Float32, Key: key,
		Dst: stored, Src: pushB, Len: 16, Op: SumRecv})
	e.Enqueue(0, Message{Timestamp: e.NextTimestamp(), Dtype: tensor.Float32, Key: key,
		Dst: stored, Src: stored, Len: 16, Op: AllRecv})

	waitFor(t, func() bool { return resp.count() == 2 })

	for i, v := range tensor.Float32s(stored) {
		if v != 5 {
			t.Errorf("stored[%d] = %f, want 5", i, v)
		}
	}
	state.mu.Lock()
	if got := state.merged[key]; &got[0] != &stored[0] {
		t.Error("merged view should alias the stored buffer")
	}
	state.mu.Unlock()

	// shard invariant: after N pulls the key is ready for the next round
	s := e.shards[0]
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.pushFinished[key] {
		t.Error("pushFinished should reset after the N-th pull")
	}
	if s.pullCnt[key] != 0 {
		t.Errorf("pullCnt = %d, want 0", s.pullCnt[key])
	}
	if len(s.seenSenders[key]) != 0 {
		t.Errorf("seenSenders not cleared: %v", s.seenSenders[key])
	}
}

// TestEngineAtMostOncePerSender tests that a duplicate pull from the same
// sender stays parked within one step
func TestEngineAtMostOncePerSender(t *testing.T) {
	state := newFakeState()
	resp := &fakeResponder{}
	e := New(Options{Shards: 1, NumWorkers: 2}, state, resp, reducer.New())
	e.Start()
	defer e.Shutdown()

	const key = 3
	stored := f32bytes(1, 1)

	e.PullArrived(0, key, common.KVMeta{Sender: 1})
	e.PullArrived(0, key, common.KVMeta{Sender: 1}) // duplicate

	e.Enqueue(0, Message{Timestamp: e.NextTimestamp(), Dtype: tensor.Float32, Key: key,
		Dst: stored, Src: stored, Len: 8, Op: AllRecv})

	waitFor(t, func() bool { return resp.count() == 1 })
	time.Sleep(10 * time.Millisecond)
	if resp.count() != 1 {
		t.Errorf("duplicate sender served %d times, want 1", resp.count())
	}
}

// TestEnginePullAfterMerge tests the immediate dispatch path once the merge
// is sealed
func TestEnginePullAfterMerge(t *testing.T) {
	state := newFakeState()
	resp := &fakeResponder{}
	e := New(Options{Shards: 1, NumWorkers: 2}, state, resp, reducer.New())
	e.Start()
	defer e.Shutdown()

	const key = 11
	stored := f32bytes(2, 2)

	e.Enqueue(0, Message{Timestamp: e.NextTimestamp(), Dtype: tensor.Float32, Key: key,
		Dst: stored, Src: stored, Len: 8, Op: AllRecv})

	waitFor(t, func() bool {
		s := e.shards[0]
		s.mu.Lock()
		defer s.mu.Unlock()
		return s.pushFinished[key]
	})

	if !e.PullArrived(0, key, common.KVMeta{Sender: 1}) {
		t.Error("pull after sealed merge should dispatch immediately")
	}
	if resp.count() != 1 {
		t.Errorf("served %d responses, want 1", resp.count())
	}
}

// TestShardForStickyAssignment tests min-load assignment with stickiness
func TestShardForStickyAssignment(t *testing.T) {
	e := New(Options{Shards: 2, NumWorkers: 1}, newFakeState(), &fakeResponder{}, reducer.New())

	first := e.ShardFor(1, 100)
	second := e.ShardFor(2, 10)
	if first == second {
		t.Errorf("second key should go to the other shard, both on %d", first)
	}
	// key 3 lands on the lighter shard
	if got := e.ShardFor(3, 10); got != second {
		t.Errorf("third key on shard %d, want %d", got, second)
	}
	// assignments are sticky regardless of the workload argument
	if got := e.ShardFor(1, 0); got != first {
		t.Errorf("key 1 moved to shard %d, want %d", got, first)
	}
}

// TestWorkload tests the compressed-key inflation
func TestWorkload(t *testing.T) {
	e := New(Options{Shards: 1, NumWorkers: 1, LoadBalance: 2.5}, newFakeState(), &fakeResponder{}, reducer.New())

	if got := e.Workload(1000, false); got != 1000 {
		t.Errorf("plain workload = %f, want 1000", got)
	}
	if got := e.Workload(1000, true); got != 2500 {
		t.Errorf("compressed workload = %f, want 2500", got)
	}
}

// TestEngineCompressedMerge tests the ALL_RECV compress path repointing the
// merged view at the compressor output
func TestEngineCompressedMerge(t *testing.T) {
	state := newFakeState()
	resp := &fakeResponder{}
	e := New(Options{Shards: 1, NumWorkers: 1}, state, resp, reducer.New())
	e.Start()
	defer e.Shutdown()

	const key = 21
	state.compressors[key] = compressor.NewTopK(16, tensor.Float32, 2)
	stored := f32bytes(0.1, -0.9, 0.3, 0.8)

	e.Enqueue(0, Message{Timestamp: e.NextTimestamp(), Dtype: tensor.Float32, Key: key,
		Dst: stored, Src: stored, Len: 16, Op: AllRecv})

	waitFor(t, func() bool {
		state.mu.Lock()
		defer state.mu.Unlock()
		return state.merged[key] != nil
	})

	state.mu.Lock()
	merged := state.merged[key]
	state.mu.Unlock()

	// two (index, value) pairs of 8 bytes each
	if len(merged) != 16 {
		t.Errorf("compressed merge length = %d, want 16", len(merged))
	}
	if &merged[0] == &stored[0] {
		t.Error("merged view should leave the stored buffer for the compressor output")
	}
}
