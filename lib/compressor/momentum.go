package compressor

import (
	"github.com/gradflow/gradflow/lib/tensor"
)

// --------------------------------------------------------------------------
// Nesterov Momentum Decorator
// --------------------------------------------------------------------------

// nesterovMomentum maintains a momentum buffer m and hands the inner
// compressor the look-ahead gradient:
//
//	m_t = mu * m_{t-1} + g_t
//	p_t = g_t + mu * m_t
type nesterovMomentum struct {
	core // buf holds the momentum
	inner Compressor
	mu    float64
}

// NewNesterovMomentum creates the momentum decorator around inner.
func NewNesterovMomentum(size int, dtype tensor.DataType, inner Compressor, mu float64) Compressor {
	return &nesterovMomentum{core: newCore(size, dtype), inner: inner, mu: mu}
}

// updateMom folds the incoming gradient into the momentum buffer.
func (n *nesterovMomentum) updateMom(grad tensor.Ref) {
	// m = g + mu*m
	red.Sum3(n.scratch(grad.Len()), grad.Data, n.scratch(grad.Len()), grad.Dtype, n.mu)
}

// updateGradient produces the look-ahead gradient in place.
func (n *nesterovMomentum) updateGradient(grad tensor.Ref) {
	// g = g + mu*m
	red.SumScaled(grad.Data, n.scratch(grad.Len()), grad.Dtype, n.mu)
}

func (n *nesterovMomentum) Compress(grad tensor.Ref, out *tensor.Ref) {
	n.updateMom(grad)
	n.updateGradient(grad)
	n.inner.Compress(grad, out)
}

// Decompress forwards verbatim to the inner compressor.
func (n *nesterovMomentum) Decompress(compressed tensor.Ref, out *tensor.Ref) {
	n.inner.Decompress(compressed, out)
}
