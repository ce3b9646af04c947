package compressor

import (
	"github.com/lni/dragonboat/v4/logger"

	"github.com/gradflow/gradflow/lib/reducer"
	"github.com/gradflow/gradflow/lib/tensor"
)

var plog = logger.GetLogger("compressor")

// red performs the vectorized arithmetic shared by all compressors.
var red = reducer.New()

// --------------------------------------------------------------------------
// Compressor Contract
// --------------------------------------------------------------------------

// Compressor is the contract every gradient compressor fulfils.
//
// Buffer ownership: the caller pre-allocates out.Data with capacity at least
// grad.Len() (for Top-K in the fused path, enough for k index/value pairs).
// If out.Data is nil the compressor writes into an internal buffer instead
// and repoints out at it. Input and output regions must not overlap.
type Compressor interface {
	// Compress produces a compressed representation of grad. On return,
	// out.Data is sliced to the actually produced byte length.
	Compress(grad tensor.Ref, out *tensor.Ref)

	// Decompress is the inverse. Sparsifying compressors fill the dense
	// output, writing zero at unselected indices.
	Decompress(compressed tensor.Ref, out *tensor.Ref)
}

// FusedCompressor is implemented by compressors that can combine error
// correction and compression into a single pass over the gradient.
type FusedCompressor interface {
	Compressor

	// FusedCompress compresses grad into out and writes the next-step
	// residual directly into errBuf.
	FusedCompress(grad tensor.Ref, out *tensor.Ref, errBuf tensor.Ref)
}

// --------------------------------------------------------------------------
// Shared Base
// --------------------------------------------------------------------------

// core carries the buffer every stateful compressor owns: error buffers for
// the feedback decorators, the momentum buffer, or scratch output space for
// the leaf compressors. It is allocated page aligned and zeroed.
type core struct {
	size  int
	dtype tensor.DataType
	buf   []byte
}

func newCore(size int, dtype tensor.DataType) core {
	return core{
		size:  size,
		dtype: dtype,
		buf:   tensor.AllocAligned(tensor.Align(size)),
	}
}

// scratch returns the internal buffer trimmed to n bytes.
func (c *core) scratch(n int) []byte {
	return c.buf[:n]
}
