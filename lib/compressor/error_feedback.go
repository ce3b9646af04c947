package compressor

import (
	"github.com/gradflow/gradflow/lib/encoding"
	"github.com/gradflow/gradflow/lib/tensor"
)

// --------------------------------------------------------------------------
// Error Feedback Core
// --------------------------------------------------------------------------

// errorFeedback is the shared body of the error-feedback decorators. It
// owns the residual buffer (zero initialized) and the compress/decompress
// delegation; the concrete variants contribute only their gradient
// correction step.
type errorFeedback struct {
	core // buf holds the carried residual
	inner Compressor
}

// delegate compresses the corrected gradient and refreshes the residual.
// When the inner compressor supports the fused path the residual is written
// in the same pass; otherwise it is reconstructed explicitly as
// error = grad - Decompress(compressed).
func (e *errorFeedback) delegate(grad tensor.Ref, out *tensor.Ref) {
	if fused, ok := e.inner.(FusedCompressor); ok {
		fused.FusedCompress(grad, out, tensor.Ref{Data: e.scratch(grad.Len()), Dtype: grad.Dtype})
		return
	}

	e.inner.Compress(grad, out)

	// decompress into the residual buffer, then error = grad - error
	errRef := tensor.Ref{Data: e.scratch(grad.Len()), Dtype: grad.Dtype}
	e.inner.Decompress(*out, &errRef)
	if &errRef.Data[0] != &e.buf[0] {
		// inner compressor substituted its own buffer
		red.Copy(e.scratch(grad.Len()), errRef.Data[:grad.Len()])
	}
	red.Sum3(e.scratch(grad.Len()), grad.Data, e.scratch(grad.Len()), grad.Dtype, -1)
}

// Decompress forwards verbatim to the inner compressor.
func (e *errorFeedback) Decompress(compressed tensor.Ref, out *tensor.Ref) {
	e.inner.Decompress(compressed, out)
}

// --------------------------------------------------------------------------
// Vanilla Variant
// --------------------------------------------------------------------------

// vanillaEF corrects the gradient with the full carried residual at unit
// scale: g <- g + e.
type vanillaEF struct {
	errorFeedback
}

// NewVanillaEF creates the vanilla error-feedback decorator around inner.
func NewVanillaEF(size int, dtype tensor.DataType, inner Compressor) Compressor {
	return &vanillaEF{errorFeedback{core: newCore(size, dtype), inner: inner}}
}

func (v *vanillaEF) updateGradient(grad tensor.Ref) {
	red.Sum(grad.Data, v.scratch(grad.Len()), grad.Dtype)
}

func (v *vanillaEF) Compress(grad tensor.Ref, out *tensor.Ref) {
	v.updateGradient(grad)
	v.delegate(grad, out)
}

// --------------------------------------------------------------------------
// Corrected Variant
// --------------------------------------------------------------------------

// correctedEF rescales the carried residual when the learning-rate schedule
// changes: g <- g + (lr_prev / lr_cur) * e.
type correctedEF struct {
	errorFeedback
	lr     LRReader
	prevLR float64
}

// NewCorrectedEF creates the corrected error-feedback decorator. The lr
// reader is consulted on every gradient update; the initial previous rate is
// read at construction time.
func NewCorrectedEF(size int, dtype tensor.DataType, inner Compressor, lr LRReader) Compressor {
	return &correctedEF{
		errorFeedback: errorFeedback{core: newCore(size, dtype), inner: inner},
		lr:            lr,
		prevLR:        lr.Read(),
	}
}

func (c *correctedEF) updateGradient(grad tensor.Ref) {
	cur := c.lr.Read()
	red.SumScaled(grad.Data, c.scratch(grad.Len()), grad.Dtype, c.prevLR/cur)
	c.prevLR = cur
}

func (c *correctedEF) Compress(grad tensor.Ref, out *tensor.Ref) {
	c.updateGradient(grad)
	c.delegate(grad, out)
}

// --------------------------------------------------------------------------
// Sparse Variant
// --------------------------------------------------------------------------

// sparseEF is the server-side sparse variant of the corrected decorator: it
// samples k residual positions uniformly with replacement and accumulates
// only those, zeroing them in the residual. A duplicate sample adds zero,
// since its position was already zeroed earlier in the same step. The
// sampling sequence matches the pairable worker-side sampling.
type sparseEF struct {
	errorFeedback
	lr     LRReader
	prevLR float64
	k      int
	rng    *encoding.XorShift128Plus
	idx    []uint32
}

// NewSparseEF creates the sparse error-feedback decorator. A non-zero seed
// makes the index sampling reproducible (seeded with seed+k so differently
// sized chains diverge).
func NewSparseEF(size int, dtype tensor.DataType, inner Compressor, k int, seed uint64, lr LRReader) Compressor {
	rng := encoding.NewRNG()
	if seed != 0 {
		plog.Infof("sparse error feedback seeded with %d", seed+uint64(k))
		rng.SetSeed(seed + uint64(k))
	}
	return &sparseEF{
		errorFeedback: errorFeedback{core: newCore(size, dtype), inner: inner},
		lr:            lr,
		prevLR:        lr.Read(),
		k:             k,
		rng:           rng,
		idx:           make([]uint32, 0, k),
	}
}

func (s *sparseEF) updateGradient(grad tensor.Ref) {
	cur := s.lr.Read()

	n := uint64(grad.Elems())
	for i := 0; i < s.k; i++ {
		s.idx = append(s.idx, uint32(s.rng.Randint(0, n)))
	}

	red.SparseSum(grad.Data, s.scratch(grad.Len()), grad.Dtype, s.prevLR/cur, s.idx)

	s.idx = s.idx[:0]
	s.prevLR = cur
}

func (s *sparseEF) Compress(grad tensor.Ref, out *tensor.Ref) {
	s.updateGradient(grad)
	s.delegate(grad, out)
}
