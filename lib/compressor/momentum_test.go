package compressor

import (
	"math"
	"testing"

	"github.com/gradflow/gradflow/lib/tensor"
)

func approx(a, b float32) bool {
	return math.Abs(float64(a-b)) < 1e-5
}

// TestNesterovMomentum tests the look-ahead gradient over two steps
func TestNesterovMomentum(t *testing.T) {
	const mu = 0.9
	m := NewNesterovMomentum(8, tensor.Float32, newIdentity(8), mu).(*nesterovMomentum)

	// step 1: m = 0.9*0 + g = [1 1], p = g + 0.9*m = [1.9 1.9]
	grad := f32ref(1, 1)
	var out tensor.Ref
	m.Compress(grad, &out)

	got := f32s(out.Data)
	if !approx(got[0], 1.9) || !approx(got[1], 1.9) {
		t.Errorf("step 1 look-ahead = %v, want [1.9 1.9]", got)
	}

	// step 2: m = 0.9*1 + 1 = 1.9, p = 1 + 0.9*1.9 = 2.71
	grad = f32ref(1, 1)
	m.Compress(grad, &out)

	got = f32s(out.Data)
	if !approx(got[0], 2.71) || !approx(got[1], 2.71) {
		t.Errorf("step 2 look-ahead = %v, want [2.71 2.71]", got)
	}
}

// TestMomentumDecompressPassThrough tests that decompression forwards to the
// inner compressor untouched
func TestMomentumDecompressPassThrough(t *testing.T) {
	m := NewNesterovMomentum(8, tensor.Float32, newIdentity(8), 0.5)

	compressed := f32ref(4, 5)
	var out tensor.Ref
	m.Decompress(compressed, &out)

	got := f32s(out.Data)
	if got[0] != 4 || got[1] != 5 {
		t.Errorf("pass-through = %v, want [4 5]", got)
	}
}
