package compressor

import (
	"github.com/gradflow/gradflow/lib/tensor"
)

// identity is a lossless pass-through compressor used to isolate decorator
// behavior in tests.
type identity struct {
	buf []byte
}

func newIdentity(size int) *identity {
	return &identity{buf: make([]byte, size)}
}

func (c *identity) Compress(grad tensor.Ref, out *tensor.Ref) {
	dst := out.Data
	if dst == nil {
		dst = c.buf
	}
	copy(dst[:grad.Len()], grad.Data)
	out.Data = dst[:grad.Len()]
	out.Dtype = grad.Dtype
}

func (c *identity) Decompress(compressed tensor.Ref, out *tensor.Ref) {
	dst := out.Data
	if dst == nil {
		dst = c.buf
	}
	copy(dst[:compressed.Len()], compressed.Data)
	out.Data = dst[:compressed.Len()]
	out.Dtype = compressed.Dtype
}

// f32ref wraps float32 values in a tensor view over fresh memory.
func f32ref(vals ...float32) tensor.Ref {
	b := make([]byte, len(vals)*4)
	copy(tensor.Float32s(b), vals)
	return tensor.Ref{Data: b, Dtype: tensor.Float32}
}

// f32s reads a byte region back as float32 values.
func f32s(b []byte) []float32 {
	return tensor.Float32s(b)
}
