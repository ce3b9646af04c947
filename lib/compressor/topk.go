package compressor

import (
	"encoding/binary"
	"math"
	"sort"

	"github.com/gradflow/gradflow/lib/reducer"
	"github.com/gradflow/gradflow/lib/tensor"
)

// --------------------------------------------------------------------------
// Top-K Compressor
// --------------------------------------------------------------------------

// topK keeps the k entries of largest absolute value and encodes them as
// (uint32 index, scalar value) pairs. Ties prefer the smaller index; the
// output order of the pairs is unspecified.
type topK struct {
	core
	k int
}

// NewTopK creates a Top-K compressor for tensors of the given byte size.
func NewTopK(size int, dtype tensor.DataType, k int) Compressor {
	if !dtype.IsFloating() {
		plog.Panicf("topk: unsupported data type %s", dtype)
	}
	if k < 1 || k > size/dtype.Size() {
		plog.Panicf("topk: k=%d out of range for %d elements", k, size/dtype.Size())
	}
	return &topK{core: newCore(size, dtype), k: k}
}

// pairSize returns the byte width of one (index, value) pair.
func (t *topK) pairSize() int {
	return 4 + t.dtype.Size()
}

// topIndices returns the indices of the k entries of largest magnitude,
// smaller index first among equals.
func (t *topK) topIndices(grad tensor.Ref) []uint32 {
	n := grad.Elems()
	abs := t.magnitudes(grad)

	idx := make([]uint32, n)
	for i := range idx {
		idx[i] = uint32(i)
	}
	sort.Slice(idx, func(a, b int) bool {
		va, vb := abs[idx[a]], abs[idx[b]]
		if va != vb {
			return va > vb
		}
		return idx[a] < idx[b]
	})

	k := t.k
	if k > n {
		k = n
	}
	return idx[:k]
}

// magnitudes widens the gradient into absolute float64 values.
func (t *topK) magnitudes(grad tensor.Ref) []float64 {
	n := grad.Elems()
	abs := make([]float64, n)
	switch grad.Dtype {
	case tensor.Float32:
		for i, v := range tensor.Float32s(grad.Data) {
			abs[i] = math.Abs(float64(v))
		}
	case tensor.Float64:
		for i, v := range tensor.Float64s(grad.Data) {
			abs[i] = math.Abs(v)
		}
	case tensor.Float16:
		for i, v := range tensor.Uint16s(grad.Data) {
			abs[i] = math.Abs(float64(reducer.HalfToFloat(v)))
		}
	default:
		plog.Panicf("topk: unsupported data type %s", grad.Dtype)
	}
	return abs
}

// putPair writes one (index, value) pair, copying the raw scalar bytes.
func (t *topK) putPair(dst []byte, idx uint32, src []byte) {
	binary.LittleEndian.PutUint32(dst[:4], idx)
	copy(dst[4:], src[int(idx)*t.dtype.Size():(int(idx)+1)*t.dtype.Size()])
}

// Compress writes the k largest-magnitude entries of grad as index/value
// pairs into out. The produced length is k*(4+sizeof(scalar)).
func (t *topK) Compress(grad tensor.Ref, out *tensor.Ref) {
	selected := t.topIndices(grad)
	need := len(selected) * t.pairSize()

	dst := out.Data
	if dst == nil {
		dst = t.scratch(need)
	}
	for i, idx := range selected {
		t.putPair(dst[i*t.pairSize():], idx, grad.Data)
	}

	out.Data = dst[:need]
	out.Dtype = grad.Dtype
}

// Decompress zero-fills the dense output and scatters the pairs back.
func (t *topK) Decompress(compressed tensor.Ref, out *tensor.Ref) {
	dst := out.Data
	if dst == nil {
		dst = t.scratch(t.size)
	}
	for i := range dst {
		dst[i] = 0
	}

	es := t.dtype.Size()
	ps := t.pairSize()
	for off := 0; off+ps <= len(compressed.Data); off += ps {
		idx := binary.LittleEndian.Uint32(compressed.Data[off : off+4])
		copy(dst[int(idx)*es:(int(idx)+1)*es], compressed.Data[off+4:off+ps])
	}

	out.Data = dst[:t.size]
	out.Dtype = t.dtype
}

// FusedCompress selects the k entries from grad, writes them to out, and
// produces the next-step error buffer in the same pass: errBuf becomes a
// copy of grad with the selected entries zeroed.
func (t *topK) FusedCompress(grad tensor.Ref, out *tensor.Ref, errBuf tensor.Ref) {
	selected := t.topIndices(grad)
	need := len(selected) * t.pairSize()

	dst := out.Data
	if dst == nil {
		dst = t.scratch(need)
	}

	red.Copy(errBuf.Data[:grad.Len()], grad.Data)

	es := t.dtype.Size()
	for i, idx := range selected {
		t.putPair(dst[i*t.pairSize():], idx, grad.Data)
		for b := 0; b < es; b++ {
			errBuf.Data[int(idx)*es+b] = 0
		}
	}

	out.Data = dst[:need]
	out.Dtype = grad.Dtype
}
