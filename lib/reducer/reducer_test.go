package reducer

import (
	"math"
	"testing"

	"github.com/gradflow/gradflow/lib/tensor"
)

func f32bytes(vals ...float32) []byte {
	b := make([]byte, len(vals)*4)
	copy(tensor.Float32s(b), vals)
	return b
}

func f32vals(b []byte) []float32 {
	return tensor.Float32s(b)
}

// TestSumFloat32 tests elementwise dst += src
func TestSumFloat32(t *testing.T) {
	r := New()
	dst := f32bytes(1, 2, 3, 4)
	src := f32bytes(4, 3, 2, 1)

	r.Sum(dst, src, tensor.Float32)

	for i, v := range f32vals(dst) {
		if v != 5 {
			t.Errorf("dst[%d] = %f, want 5", i, v)
		}
	}
}

// TestSumScaled tests dst += alpha*src
func TestSumScaled(t *testing.T) {
	r := New()
	dst := f32bytes(1, 1)
	src := f32bytes(2, 4)

	r.SumScaled(dst, src, tensor.Float32, 0.5)

	got := f32vals(dst)
	if got[0] != 2 || got[1] != 3 {
		t.Errorf("got %v, want [2 3]", got)
	}
}

// TestSum3 tests dst = s1 + alpha*s2 including aliased dst
func TestSum3(t *testing.T) {
	r := New()
	s1 := f32bytes(1, 2)
	s2 := f32bytes(10, 20)
	dst := f32bytes(0, 0)

	r.Sum3(dst, s1, s2, tensor.Float32, -1)

	got := f32vals(dst)
	if got[0] != -9 || got[1] != -18 {
		t.Errorf("got %v, want [-9 -18]", got)
	}

	// aliased: dst == s2
	r.Sum3(s2, s1, s2, tensor.Float32, -1)
	got = f32vals(s2)
	if got[0] != -9 || got[1] != -18 {
		t.Errorf("aliased got %v, want [-9 -18]", got)
	}
}

// TestSumInt64 tests the exact integer path
func TestSumInt64(t *testing.T) {
	r := New()
	dst := make([]byte, 16)
	src := make([]byte, 16)
	tensor.Int64s(dst)[0] = math.MaxInt64 - 10
	tensor.Int64s(src)[0] = 10

	r.Sum(dst, src, tensor.Int64)

	if got := tensor.Int64s(dst)[0]; got != math.MaxInt64 {
		t.Errorf("got %d, want MaxInt64", got)
	}
}

// TestSparseSum tests the sampled accumulate-and-zero operation
func TestSparseSum(t *testing.T) {
	r := New()
	dst := f32bytes(0, 0, 0, 0)
	src := f32bytes(10, 20, 30, 40)

	r.SparseSum(dst, src, tensor.Float32, 0.5, []uint32{3, 1})

	gotDst := f32vals(dst)
	if gotDst[0] != 20 || gotDst[1] != 10 {
		t.Errorf("dst = %v, want [20 10 0 0]", gotDst)
	}

	gotSrc := f32vals(src)
	if gotSrc[1] != 0 || gotSrc[3] != 0 {
		t.Errorf("sampled src positions not zeroed: %v", gotSrc)
	}
	if gotSrc[0] != 10 || gotSrc[2] != 30 {
		t.Errorf("unsampled src positions changed: %v", gotSrc)
	}
}

// TestSparseSumDuplicates tests that a duplicate index is accumulated once
func TestSparseSumDuplicates(t *testing.T) {
	r := New()
	dst := f32bytes(0, 0)
	src := f32bytes(8, 0)

	r.SparseSum(dst, src, tensor.Float32, 1, []uint32{0, 0})

	got := f32vals(dst)
	// the second sample reads the already-zeroed position
	if got[0] != 8 || got[1] != 0 {
		t.Errorf("dst = %v, want [8 0]", got)
	}
}

// TestCopy tests the chunked byte copy
func TestCopy(t *testing.T) {
	r := New()
	src := make([]byte, 100000)
	for i := range src {
		src[i] = byte(i)
	}
	dst := make([]byte, len(src))

	r.Copy(dst, src)

	for i := range dst {
		if dst[i] != src[i] {
			t.Fatalf("mismatch at %d", i)
		}
	}
}

// TestHalfRoundTrip tests demote(promote(x)) == x on representable values
func TestHalfRoundTrip(t *testing.T) {
	cases := []uint16{
		0x0000, // +0
		0x8000, // -0
		0x3c00, // 1.0
		0xbc00, // -1.0
		0x4248, // 3.140625
		0x7bff, // max normal
		0x0400, // min normal
		0x0001, // min subnormal
		0x7c00, // +inf
		0xfc00, // -inf
	}
	for _, h := range cases {
		if got := FloatToHalf(HalfToFloat(h)); got != h {
			t.Errorf("round trip %#04x -> %#04x", h, got)
		}
	}
}

// TestHalfValues tests known conversion results
func TestHalfValues(t *testing.T) {
	if v := HalfToFloat(0x3c00); v != 1.0 {
		t.Errorf("0x3c00 = %f, want 1.0", v)
	}
	if v := HalfToFloat(0xc000); v != -2.0 {
		t.Errorf("0xc000 = %f, want -2.0", v)
	}
	if h := FloatToHalf(0.5); h != 0x3800 {
		t.Errorf("0.5 = %#04x, want 0x3800", h)
	}
	// overflow saturates
	if h := FloatToHalf(1e6); h != 0x7c00 {
		t.Errorf("1e6 = %#04x, want +inf", h)
	}
}

// TestCopyMixedPrecision tests promote and demote between f16 and f32 buffers
func TestCopyMixedPrecision(t *testing.T) {
	r := New()

	lo := make([]byte, 8) // 4 half values
	hi := make([]byte, 16)
	halves := tensor.Uint16s(lo)
	halves[0] = 0x3c00 // 1.0
	halves[1] = 0x4000 // 2.0
	halves[2] = 0xc200 // -3.0
	halves[3] = 0x4400 // 4.0

	r.CopyMixedPrecision(hi, lo, len(lo), true)
	want := []float32{1, 2, -3, 4}
	for i, v := range tensor.Float32s(hi) {
		if v != want[i] {
			t.Errorf("promote[%d] = %f, want %f", i, v, want[i])
		}
	}

	// demote back into a fresh low buffer
	lo2 := make([]byte, 8)
	r.CopyMixedPrecision(hi, lo2, len(lo2), false)
	for i := range halves {
		if tensor.Uint16s(lo2)[i] != halves[i] {
			t.Errorf("demote[%d] = %#04x, want %#04x", i, tensor.Uint16s(lo2)[i], halves[i])
		}
	}
}

// TestSumMixedPrecision tests f16 accumulation into an f32 buffer
func TestSumMixedPrecision(t *testing.T) {
	r := New()

	dst := f32bytes(1, 1)
	src := make([]byte, 4)
	tensor.Uint16s(src)[0] = 0x4000 // 2.0
	tensor.Uint16s(src)[1] = 0x3c00 // 1.0

	r.SumMixedPrecision(dst, src, len(src))

	got := f32vals(dst)
	if got[0] != 3 || got[1] != 2 {
		t.Errorf("got %v, want [3 2]", got)
	}
}

// TestParallelPath tests that the goroutine-chunked path computes the same
// result as the sequential one
func TestParallelPath(t *testing.T) {
	r := New()
	n := minParallelElems * 2

	dst := make([]byte, n*4)
	src := make([]byte, n*4)
	for i := 0; i < n; i++ {
		tensor.Float32s(dst)[i] = float32(i)
		tensor.Float32s(src)[i] = 2
	}

	r.Sum(dst, src, tensor.Float32)

	for i := 0; i < n; i++ {
		if got := tensor.Float32s(dst)[i]; got != float32(i)+2 {
			t.Fatalf("dst[%d] = %f, want %f", i, got, float32(i)+2)
		}
	}
}
