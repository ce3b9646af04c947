package engine

import (
	"fmt"
	"sync"
	"sync/atomic"

	"github.com/VictoriaMetrics/metrics"
	"github.com/lni/dragonboat/v4/logger"

	"github.com/gradflow/gradflow/lib/compressor"
	"github.com/gradflow/gradflow/lib/reducer"
	"github.com/gradflow/gradflow/lib/tensor"
	"github.com/gradflow/gradflow/rpc/common"
)

var elog = logger.GetLogger("engine")

// --------------------------------------------------------------------------
// Collaborator Interfaces
// --------------------------------------------------------------------------

// KeyState is the engine's view of the per-key buffers the request handler
// owns. Lookups must be safe for concurrent use.
type KeyState interface {
	// Compressor returns the compressor installed for key, or nil.
	Compressor(key uint64) compressor.Compressor
	// FP16Copy returns the low-precision transport buffer for key, or nil.
	FP16Copy(key uint64) []byte
	// SetMerged repoints the key's merged view at data.
	SetMerged(key uint64, data []byte, dtype tensor.DataType)
}

// Responder dispatches a pull response for a sealed merge.
type Responder interface {
	SendPullResponse(key uint64, meta common.KVMeta)
}

// --------------------------------------------------------------------------
// Shard State
// --------------------------------------------------------------------------

// shard is one engine partition: a queue drained by a dedicated strand plus
// the barrier bookkeeping of the keys assigned to it.
type shard struct {
	queue *PriorityQueue

	// mu guards everything below (the shard's flag mutex)
	mu           sync.Mutex
	pushFinished map[uint64]bool
	pullCnt      map[uint64]int
	seenSenders  map[uint64]map[int]struct{}
	parkedPulls  map[uint64][]common.KVMeta
}

func newShard(enableSchedule bool) *shard {
	return &shard{
		queue:        NewPriorityQueue(enableSchedule),
		pushFinished: make(map[uint64]bool),
		pullCnt:      make(map[uint64]int),
		seenSenders:  make(map[uint64]map[int]struct{}),
		parkedPulls:  make(map[uint64][]common.KVMeta),
	}
}

// ensureKey initializes the barrier bookkeeping on first sight of a key.
// Callers hold s.mu.
func (s *shard) ensureKey(key uint64) {
	if _, ok := s.pushFinished[key]; !ok {
		s.pushFinished[key] = false
		s.pullCnt[key] = 0
		s.seenSenders[key] = make(map[int]struct{})
	}
}

// resetKey returns the key to the ready state for the next step. Callers
// hold s.mu.
func (s *shard) resetKey(key uint64) {
	s.pushFinished[key] = false
	s.pullCnt[key] = 0
	s.seenSenders[key] = make(map[int]struct{})
}

// --------------------------------------------------------------------------
// Engine
// --------------------------------------------------------------------------

// Engine owns the shard queues and their strands.
//
// Thread-safety: Enqueue, ShardFor, PullArrived and NextTimestamp are safe
// for concurrent use. Start and Shutdown must be called once each from the
// lifecycle owner.
type Engine struct {
	shards     []*shard
	state      KeyState
	resp       Responder
	red        *reducer.CpuReducer
	numWorkers int
	lbFactor   float64

	debug    bool
	debugKey uint64
	debugMu  sync.Mutex

	timestamp atomic.Uint64

	// sticky key → shard assignment, balanced by accumulated load
	assignMu sync.Mutex
	keyShard map[uint64]int
	accLoad  []float64

	wg sync.WaitGroup

	processedTotal *metrics.Counter
	mergesTotal    *metrics.Counter
}

// Options configures an Engine.
type Options struct {
	Shards         int
	EnableSchedule bool
	NumWorkers     int
	LoadBalance    float64
	Debug          bool
	DebugKey       uint64
}

// New creates an engine with the given number of shards. Strands do not run
// until Start is called.
func New(opts Options, state KeyState, resp Responder, red *reducer.CpuReducer) *Engine {
	if opts.Shards < 1 {
		elog.Panicf("engine needs at least one shard, got %d", opts.Shards)
	}
	if opts.LoadBalance == 0 {
		opts.LoadBalance = 1
	}

	e := &Engine{
		state:          state,
		resp:           resp,
		red:            red,
		numWorkers:     opts.NumWorkers,
		lbFactor:       opts.LoadBalance,
		debug:          opts.Debug,
		debugKey:       opts.DebugKey,
		keyShard:       make(map[uint64]int),
		accLoad:        make([]float64, opts.Shards),
		processedTotal: metrics.GetOrCreateCounter(`gradflow_engine_messages_total`),
		mergesTotal:    metrics.GetOrCreateCounter(`gradflow_engine_merges_total`),
	}
	for i := 0; i < opts.Shards; i++ {
		s := newShard(opts.EnableSchedule)
		e.shards = append(e.shards, s)
		metrics.GetOrCreateGauge(fmt.Sprintf(`gradflow_engine_queue_depth{shard="%d"}`, i), func() float64 {
			return float64(s.queue.Len())
		})
	}
	return e
}

// Start launches one strand per shard.
func (e *Engine) Start() {
	for i := range e.shards {
		e.wg.Add(1)
		go e.run(i)
	}
	elog.Infof("engine started with %d shards", len(e.shards))
}

// Shutdown pushes a terminate sentinel to every shard and waits for the
// strands to drain their remaining work and exit.
func (e *Engine) Shutdown() {
	for _, s := range e.shards {
		s.queue.Push(Message{Timestamp: e.NextTimestamp(), Op: Terminate})
	}
	e.wg.Wait()
	elog.Infof("engine shut down")
}

// NextTimestamp returns a monotonically increasing message timestamp.
func (e *Engine) NextTimestamp() uint64 {
	return e.timestamp.Add(1)
}

// ShardFor returns the shard a key is processed on. The first call for a
// key picks the shard with the least accumulated load and charges it with
// workload; later calls are sticky so per-key ordering holds.
func (e *Engine) ShardFor(key uint64, workload float64) int {
	e.assignMu.Lock()
	defer e.assignMu.Unlock()

	if tid, ok := e.keyShard[key]; ok {
		return tid
	}
	tid := 0
	for i := 1; i < len(e.accLoad); i++ {
		if e.accLoad[i] < e.accLoad[tid] {
			tid = i
		}
	}
	e.keyShard[key] = tid
	e.accLoad[tid] += workload
	return tid
}

// Workload returns the shard-assignment cost of a key: the stored byte
// length, inflated by the load balance factor when the key is compressed.
func (e *Engine) Workload(storedLen int, compressed bool) float64 {
	w := float64(storedLen)
	if compressed {
		w *= e.lbFactor
	}
	return w
}

// Enqueue pushes a message onto a shard's queue.
func (e *Engine) Enqueue(shardID int, msg Message) {
	e.shards[shardID].queue.Push(msg)
}

// ClearCounter resets the scheduling counter of a key on its shard.
func (e *Engine) ClearCounter(shardID int, key uint64) {
	e.shards[shardID].queue.ClearCounter(key)
}

// --------------------------------------------------------------------------
// Pull Arrival
// --------------------------------------------------------------------------

// PullArrived is the handler-side half of the completion cycle: when the
// key's merge is already sealed and this sender has not been served, the
// response is dispatched immediately; otherwise the request parks until the
// ALL_RECV message flushes it. Returns true if the response was sent.
func (e *Engine) PullArrived(shardID int, key uint64, meta common.KVMeta) bool {
	s := e.shards[shardID]
	s.mu.Lock()
	defer s.mu.Unlock()

	s.ensureKey(key)

	_, seen := s.seenSenders[key][meta.Sender]
	if s.pushFinished[key] && !seen {
		e.resp.SendPullResponse(key, meta)
		s.pullCnt[key]++
		s.seenSenders[key][meta.Sender] = struct{}{}
		if s.pullCnt[key] == e.numWorkers {
			s.resetKey(key)
		}
		return true
	}

	s.parkedPulls[key] = append(s.parkedPulls[key], meta)
	return false
}

// --------------------------------------------------------------------------
// Strand Loop
// --------------------------------------------------------------------------

// run drains one shard queue until the terminate sentinel.
func (e *Engine) run(i int) {
	defer e.wg.Done()
	s := e.shards[i]

	for {
		msg := s.queue.WaitAndPop()
		if msg.Op == Terminate {
			return
		}
		e.process(i, &msg)
		e.processedTotal.Inc()
	}
}

// process executes one engine message on shard i.
func (e *Engine) process(i int, msg *Message) {
	if msg.Dst == nil || msg.Src == nil {
		elog.Panicf("engine message for key=%d has nil buffers", msg.Key)
	}

	if c := e.state.Compressor(msg.Key); c != nil {
		if msg.Op == AllRecv {
			// compress the merged tensor and repoint the pull view at it
			grad := tensor.Ref{Data: msg.Src[:msg.Len], Dtype: msg.Dtype}
			out := tensor.Ref{Data: e.state.FP16Copy(msg.Key)}
			c.Compress(grad, &out)
			e.state.SetMerged(msg.Key, out.Data, out.Dtype)
		} else {
			// decompress the incoming contribution before reducing it
			if int(msg.ValLen) > msg.Len {
				elog.Panicf("key=%d compressed payload %d exceeds buffer %d", msg.Key, msg.ValLen, msg.Len)
			}
			compressed := tensor.Ref{Data: msg.Src[:msg.ValLen], Dtype: msg.Dtype}
			var out tensor.Ref
			c.Decompress(compressed, &out)
			msg.Src = out.Data
			msg.Len = len(out.Data)
			msg.Dtype = out.Dtype
			msg.MixedPrecision = false // already widened to float32
		}
	} else if msg.Op == AllRecv {
		if msg.MixedPrecision {
			// narrow into the low-precision copy before communication
			fp16 := e.state.FP16Copy(msg.Key)
			e.red.CopyMixedPrecision(msg.Src, fp16, len(fp16), false)
			e.state.SetMerged(msg.Key, fp16, tensor.Float16)
		} else {
			e.state.SetMerged(msg.Key, msg.Src[:msg.Len], msg.Dtype)
		}
	}

	isDebug := e.debug && e.debugKey == msg.Key

	switch msg.Op {
	case CopyFirst:
		if isDebug {
			e.traceTensors("ENGINE_COPY_MERGED_TO_STORE_BEFORE", msg)
		}
		if msg.MixedPrecision {
			e.red.CopyMixedPrecision(msg.Dst, msg.Src, msg.Len, true)
		} else {
			e.red.Copy(msg.Dst[:msg.Len], msg.Src[:msg.Len])
		}
		if isDebug {
			e.traceTensors("ENGINE_COPY_MERGED_TO_STORE_AFTER", msg)
		}

	case SumRecv:
		if isDebug {
			e.traceTensors("ENGINE_SUM_RECV_BEFORE", msg)
		}
		if msg.MixedPrecision {
			e.red.SumMixedPrecision(msg.Dst, msg.Src, msg.Len)
		} else {
			e.red.Sum(msg.Dst[:msg.Len], msg.Src[:msg.Len], msg.Dtype)
		}
		if isDebug {
			e.traceTensors("ENGINE_SUM_RECV_AFTER", msg)
		}

	case AllRecv:
		e.completeMerge(i, msg)
		e.mergesTotal.Inc()

	default:
		elog.Panicf("unknown engine op %d", msg.Op)
	}
}

// completeMerge runs the barrier half of the completion cycle: mark the
// key's push finished and flush parked pulls, at most once per sender.
// After the N-th pull the key resets for the next step.
func (e *Engine) completeMerge(i int, msg *Message) {
	s := e.shards[i]
	s.mu.Lock()
	defer s.mu.Unlock()

	s.ensureKey(msg.Key)
	s.pushFinished[msg.Key] = true

	parked := s.parkedPulls[msg.Key]
	remaining := make([]common.KVMeta, 0, len(parked))
	for n, meta := range parked {
		if _, seen := s.seenSenders[msg.Key][meta.Sender]; seen {
			remaining = append(remaining, meta)
			continue
		}
		e.resp.SendPullResponse(msg.Key, meta)
		s.pullCnt[msg.Key]++
		s.seenSenders[msg.Key][meta.Sender] = struct{}{}
		if s.pullCnt[msg.Key] == e.numWorkers {
			s.resetKey(msg.Key)
			remaining = append(remaining, parked[n+1:]...)
			break
		}
	}
	s.parkedPulls[msg.Key] = remaining
}

// traceTensors logs the leading values of the message buffers for the
// debugged key.
func (e *Engine) traceTensors(stage string, msg *Message) {
	e.debugMu.Lock()
	defer e.debugMu.Unlock()
	elog.Infof("stage: %s\tkey: %d\tdst: %s\tsrc: %s",
		stage, msg.Key, headValues(msg.Dst, msg.Dtype), headValues(msg.Src, msg.Dtype))
}

// headValues renders up to the first four elements of a buffer.
func headValues(b []byte, dtype tensor.DataType) string {
	n := len(b) / dtype.Size()
	if n > 4 {
		n = 4
	}
	switch dtype {
	case tensor.Float32:
		return fmt.Sprintf("%v", tensor.Float32s(b[:n*4]))
	case tensor.Float64:
		return fmt.Sprintf("%v", tensor.Float64s(b[:n*8]))
	default:
		return fmt.Sprintf("%v", b[:n*dtype.Size()])
	}
}
