package server

import (
	"sync"

	"github.com/puzpuzpuz/xsync/v3"

	"github.com/gradflow/gradflow/lib/compressor"
	"github.com/gradflow/gradflow/lib/tensor"
	"github.com/gradflow/gradflow/rpc/common"
)

// --------------------------------------------------------------------------
// Per-Key State
// --------------------------------------------------------------------------

// storedBuffer is the server's authoritative tensor memory for one key.
// Once tensor is non-nil, length and dtype are frozen for the key's
// lifetime. For half-precision keys the buffer holds the promoted float32
// representation.
type storedBuffer struct {
	tensor []byte
	dtype  tensor.DataType
}

// updateState tracks one key's step progress: the pushes collected so far
// and the merged view pulls are answered from.
type updateState struct {
	mu sync.Mutex

	// merged points into the stored buffer, the fp16 copy, or a
	// compressor-owned output; nil until the first merge seals
	merged      []byte
	mergedDtype tensor.DataType

	// requests buffers the pending pushes of the running step (at most N)
	requests []common.KVMeta
}

// setMerged repoints the merged view.
func (u *updateState) setMerged(data []byte, dtype tensor.DataType) {
	u.mu.Lock()
	u.merged = data
	u.mergedDtype = dtype
	u.mu.Unlock()
}

// mergedView returns the current merged view, or nil if no merge has sealed
// yet.
func (u *updateState) mergedView() ([]byte, tensor.DataType) {
	u.mu.Lock()
	defer u.mu.Unlock()
	return u.merged, u.mergedDtype
}

// --------------------------------------------------------------------------
// State Store
// --------------------------------------------------------------------------

// stateStore owns every per-key map of the server. The maps are concurrent
// because engine strands read them while the handler mutates them.
type stateStore struct {
	store       *xsync.MapOf[uint64, *storedBuffer]
	update      *xsync.MapOf[uint64, *updateState]
	fp16        *xsync.MapOf[uint64, []byte]
	compressors *xsync.MapOf[uint64, compressor.Compressor]
}

func newStateStore() *stateStore {
	return &stateStore{
		store:       xsync.NewMapOf[uint64, *storedBuffer](),
		update:      xsync.NewMapOf[uint64, *updateState](),
		fp16:        xsync.NewMapOf[uint64, []byte](),
		compressors: xsync.NewMapOf[uint64, compressor.Compressor](),
	}
}

// getStore returns the stored buffer for key, creating the empty slot on
// first access.
func (st *stateStore) getStore(key uint64) *storedBuffer {
	buf, _ := st.store.LoadOrCompute(key, func() *storedBuffer {
		return &storedBuffer{}
	})
	return buf
}

// getUpdate returns the update state for key, creating it on first access.
func (st *stateStore) getUpdate(key uint64) *updateState {
	u, _ := st.update.LoadOrCompute(key, func() *updateState {
		return &updateState{}
	})
	return u
}

// --------------------------------------------------------------------------
// Engine View (implements engine.KeyState)
// --------------------------------------------------------------------------

// Compressor returns the compressor installed for key, or nil.
func (s *Server) Compressor(key uint64) compressor.Compressor {
	c, _ := s.state.compressors.Load(key)
	return c
}

// FP16Copy returns the low-precision transport buffer for key, or nil.
func (s *Server) FP16Copy(key uint64) []byte {
	buf, _ := s.state.fp16.Load(key)
	return buf
}

// SetMerged repoints the key's merged view at data.
func (s *Server) SetMerged(key uint64, data []byte, dtype tensor.DataType) {
	s.state.getUpdate(key).setMerged(data, dtype)
}
