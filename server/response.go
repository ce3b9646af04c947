package server

import (
	"github.com/gradflow/gradflow/rpc/common"
)

// --------------------------------------------------------------------------
// Memoized Response Paths
// --------------------------------------------------------------------------

// Responses are memoized per key: the same KVPairs shell is reused across
// steps (updated with the current length and pointer) so the zero-copy
// transport never re-registers memory regions. Correctness relies on a
// response being read to completion before the next step reuses the shell.

// sendPushResponse acks one push with an empty payload.
func (s *Server) sendPushResponse(key uint64, meta common.KVMeta) {
	s.pushRespMu.Lock()
	shell, ok := s.pushResp[key]
	if !ok { // new key
		shell = &common.KVPairs{}
		s.pushResp[key] = shell
	}
	s.pushRespMu.Unlock()

	if err := s.trans.Respond(meta, *shell); err != nil {
		slog.Errorf("push response for key=%d failed: %v", key, err)
	}
}

// SendPullResponse serves the merged tensor of a key. It is called from the
// handler (async/blocking short-circuit) and from engine strands flushing
// parked pulls. The response values alias server-owned memory.
func (s *Server) SendPullResponse(key uint64, meta common.KVMeta) {
	s.pullRespMu.Lock()
	defer s.pullRespMu.Unlock()

	data, _ := s.state.getUpdate(key).mergedView()
	if data == nil {
		// no sealed merge (async or blocking mode): serve the store
		stored := s.state.getStore(key)
		if stored.tensor == nil {
			slog.Panicf("pull response for key=%d before init", key)
		}
		data = stored.tensor
	}

	shell, ok := s.pullResp[key]
	if !ok { // new key
		shell = &common.KVPairs{Keys: []uint64{key}}
		s.pullResp[key] = shell
	}
	shell.Lens = []int32{int32(len(data))}
	shell.Vals = data // zero copy

	if err := s.trans.Respond(meta, *shell); err != nil {
		slog.Errorf("pull response for key=%d failed: %v", key, err)
	}
}
