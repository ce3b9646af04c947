package server

import (
	"github.com/gradflow/gradflow/lib/compressor"
	"github.com/gradflow/gradflow/lib/engine"
	"github.com/gradflow/gradflow/lib/tensor"
	"github.com/gradflow/gradflow/rpc/common"
)

// --------------------------------------------------------------------------
// Transport Callback
// --------------------------------------------------------------------------

// handle is the single transport callback. It is serialized by handleMu:
// the per-key state machine relies on observing a total order of pushes and
// pulls.
func (s *Server) handle(meta common.KVMeta, kv common.KVPairs) {
	s.handleMu.Lock()
	defer s.handleMu.Unlock()

	rt, dtype := meta.Cmd.Unpack()

	if len(kv.Keys) != 1 {
		slog.Panicf("request carries %d keys, want 1", len(kv.Keys))
	}
	key := kv.Keys[0]

	if s.config.KeyLog {
		if meta.Push {
			slog.Infof("push key=%d\tsender=%d\tsize=%d", key, meta.Sender, payloadLen(kv))
		} else {
			slog.Infof("pull key=%d\tsender=%d", key, meta.Sender)
		}
	}

	switch rt {
	case common.ConfigPushPull:
		s.handleConfig(key, meta, kv)
	case common.DefaultPushPull, common.CompressedPushPull:
		s.handleDefault(key, dtype, meta, kv)
	case common.RowSparsePushPull:
		slog.Panicf("row-sparse push/pull is not implemented")
	default:
		slog.Panicf("unrecognized request type %d", rt)
	}
}

func payloadLen(kv common.KVPairs) int {
	if len(kv.Lens) == 0 {
		return 0
	}
	return int(kv.Lens[0])
}

// --------------------------------------------------------------------------
// Config Requests
// --------------------------------------------------------------------------

// handleConfig installs a compressor for the key from a serialized kwargs
// blob. Registration happens once; later config pushes are a no-op beyond
// the ack barrier. All N workers must send the config push before any of
// them is acked.
func (s *Server) handleConfig(key uint64, meta common.KVMeta, kv common.KVPairs) {
	if _, ok := s.state.compressors.Load(key); !ok {
		stored := s.state.getStore(key)
		if stored.tensor == nil {
			slog.Panicf("config push for key=%d before init", key)
		}

		kw, err := compressor.Deserialize(string(kv.Vals[:payloadLen(kv)]))
		if err != nil {
			slog.Panicf("malformed kwargs for key=%d: %v", key, err)
		}

		c := compressor.Create(kw, len(stored.tensor), stored.dtype)
		s.state.compressors.Store(key, c)
		if s.config.KeyLog {
			slog.Infof("register compressor for key=%d", key)
		}
	}

	// buffer the request meta; respond once all config pushes arrived
	u := s.state.getUpdate(key)
	u.requests = append(u.requests, meta)
	if len(u.requests) < s.config.NumWorkers {
		return
	}
	for _, req := range u.requests {
		s.sendPushResponse(key, req)
	}
	u.requests = u.requests[:0]
}

// --------------------------------------------------------------------------
// Default Requests
// --------------------------------------------------------------------------

// handleDefault routes a default or compressed push/pull request.
func (s *Server) handleDefault(key uint64, dtype tensor.DataType, meta common.KVMeta, kv common.KVPairs) {
	stored := s.state.getStore(key)

	if meta.Push {
		if len(kv.Lens) != 1 || len(kv.Vals) < int(kv.Lens[0]) {
			slog.Panicf("malformed push payload for key=%d", key)
		}
		if stored.tensor == nil {
			s.handleInit(key, dtype, stored, meta, kv)
		} else {
			s.handlePush(key, dtype, stored, meta, kv)
		}
	} else {
		s.handlePull(key, stored, meta)
	}
}

// handleInit collects the first N pushes for a key and allocates its
// buffers: the page-aligned stored tensor (promoted to float32 for
// half-precision keys) and, in mixed precision, the fp16 transport copy.
func (s *Server) handleInit(key uint64, dtype tensor.DataType, stored *storedBuffer, meta common.KVMeta, kv common.KVPairs) {
	lenBytes := int(kv.Lens[0])
	tensor.CheckLen(lenBytes, dtype)

	u := s.state.getUpdate(key)
	u.requests = append(u.requests, meta)
	if len(u.requests) < s.config.NumWorkers {
		return
	}
	if s.config.KeyLog {
		slog.Infof("collected all %d requests for key=%d, init the store buffer size=%d",
			len(u.requests), key, lenBytes)
	}

	if dtype == tensor.Float16 {
		// allocate the low-precision transport copy
		s.state.fp16.Store(key, tensor.AllocAligned(lenBytes))
	}

	// promote half-precision keys to float32 for reduction
	storedLen, storedDtype := tensor.Promote(lenBytes, dtype)
	stored.tensor = tensor.AllocAligned(storedLen)
	stored.dtype = storedDtype

	for _, req := range u.requests {
		s.sendPushResponse(key, req)
	}
	u.requests = u.requests[:0]
}

// handlePush drives one step of the merge state machine for an initialized
// key.
func (s *Server) handlePush(key uint64, dtype tensor.DataType, stored *storedBuffer, meta common.KVMeta, kv common.KVPairs) {
	lenBytes := int(kv.Lens[0])
	recved := kv.Vals[:lenBytes]
	mixed := dtype == tensor.Float16
	u := s.state.getUpdate(key)

	_, hasCompressor := s.state.compressors.Load(key)
	tid := s.eng.ShardFor(key, s.eng.Workload(len(stored.tensor), hasCompressor))

	if len(u.requests) == 0 { // from the first incoming worker
		if s.config.SyncMode {
			s.debugStage("COPY_FIRST", key, stored.tensor, recved)
			if s.config.EngineBlocking {
				if mixed {
					s.red.CopyMixedPrecision(stored.tensor, recved, lenBytes, true)
				} else {
					s.red.Copy(stored.tensor[:lenBytes], recved)
				}
			} else {
				s.eng.Enqueue(tid, engine.Message{
					Timestamp:      s.eng.NextTimestamp(),
					Dtype:          dtype,
					Key:            key,
					Dst:            stored.tensor,
					Src:            recved,
					Len:            lenBytes,
					Op:             engine.CopyFirst,
					Req:            meta,
					ValLen:         kv.Lens[0],
					MixedPrecision: mixed,
				})
			}
		} else { // async mode, directly add to the buffer
			if mixed {
				s.red.SumMixedPrecision(stored.tensor, recved, lenBytes)
			} else {
				s.red.Sum(stored.tensor[:lenBytes], recved, stored.dtype)
			}
		}
	} else { // from other workers
		if !s.config.SyncMode {
			slog.Panicf("concurrent pushes for key=%d in async mode", key)
		}
		s.debugStage("OTHER_WORKER_SUM", key, stored.tensor, recved)
		if s.config.EngineBlocking {
			if mixed {
				s.red.SumMixedPrecision(stored.tensor, recved, lenBytes)
			} else {
				s.red.Sum(stored.tensor[:lenBytes], recved, stored.dtype)
			}
		} else {
			s.eng.Enqueue(tid, engine.Message{
				Timestamp:      s.eng.NextTimestamp(),
				Dtype:          dtype,
				Key:            key,
				Dst:            stored.tensor,
				Src:            recved,
				Len:            lenBytes,
				Op:             engine.SumRecv,
				Req:            meta,
				ValLen:         kv.Lens[0],
				MixedPrecision: mixed,
			})
		}
	}

	// count this worker and ack the push
	u.requests = append(u.requests, meta)
	s.sendPushResponse(key, meta)
	s.pushesTotal.Inc()

	if s.config.SyncMode && len(u.requests) == s.config.NumWorkers {
		s.debugStage("ALL_RECV", key, stored.tensor, recved)
		if s.config.EngineBlocking {
			// the merge is already complete in the stored buffer
			u.setMerged(stored.tensor, stored.dtype)
		} else {
			s.eng.Enqueue(tid, engine.Message{
				Timestamp:      s.eng.NextTimestamp(),
				Dtype:          stored.dtype,
				Key:            key,
				Dst:            stored.tensor,
				Src:            stored.tensor,
				Len:            len(stored.tensor),
				Op:             engine.AllRecv,
				Req:            meta,
				MixedPrecision: mixed,
			})
			s.eng.ClearCounter(tid, key)
		}
		u.requests = u.requests[:0]
	} else if !s.config.SyncMode {
		// async: clean the request buffer
		u.requests = u.requests[:0]
	}
}

// handlePull answers or parks a pull request. Async and blocking modes
// short-circuit from the stored buffer; sync mode defers to the shard's
// completion cycle.
func (s *Server) handlePull(key uint64, stored *storedBuffer, meta common.KVMeta) {
	if stored.tensor == nil {
		slog.Panicf("pull before init for key=%d", key)
	}
	s.pullsTotal.Inc()

	if s.config.EngineBlocking || !s.config.SyncMode {
		s.SendPullResponse(key, meta)
		return
	}

	tid := s.eng.ShardFor(key, 0)
	s.eng.PullArrived(tid, key, meta)
}

// debugStage traces the handler-side stages for the debugged key.
func (s *Server) debugStage(stage string, key uint64, stored, recved []byte) {
	if !s.config.Debug || s.config.DebugKey != key {
		return
	}
	slog.Infof("stage: %s\tkey: %d\tstored: %v\trecved: %v",
		stage, key, head(stored), head(recved))
}

func head(b []byte) []byte {
	if len(b) > 16 {
		return b[:16]
	}
	return b
}
