package reducer

import (
	"fmt"
	"runtime"
	"sync"

	"github.com/gradflow/gradflow/lib/tensor"
)

// --------------------------------------------------------------------------
// CpuReducer
// --------------------------------------------------------------------------

// minParallelElems is the element count below which an operation runs on the
// calling goroutine. Splitting tiny tensors costs more than it saves.
const minParallelElems = 1 << 14

// CpuReducer performs vectorized elementwise arithmetic over raw byte
// buffers. The zero value is not usable; create instances with New.
//
// Thread-safety: all methods are safe for concurrent use as long as the
// dst/src regions of concurrent calls do not overlap.
type CpuReducer struct {
	workers int
}

// New creates a CpuReducer that fans work out over up to runtime.NumCPU()
// goroutines for large tensors.
func New() *CpuReducer {
	return &CpuReducer{workers: runtime.NumCPU()}
}

// parallelFor splits [0, n) into contiguous chunks and runs fn on each.
func (r *CpuReducer) parallelFor(n int, fn func(lo, hi int)) {
	if n < minParallelElems || r.workers <= 1 {
		fn(0, n)
		return
	}
	chunks := r.workers
	size := (n + chunks - 1) / chunks

	var wg sync.WaitGroup
	for lo := 0; lo < n; lo += size {
		hi := lo + size
		if hi > n {
			hi = n
		}
		wg.Add(1)
		go func(lo, hi int) {
			defer wg.Done()
			fn(lo, hi)
		}(lo, hi)
	}
	wg.Wait()
}

// --------------------------------------------------------------------------
// Dense Sums
// --------------------------------------------------------------------------

// Sum performs dst += src elementwise. dst and src must have the same byte
// length, which must be a multiple of the dtype element size.
func (r *CpuReducer) Sum(dst, src []byte, dtype tensor.DataType) {
	r.SumScaled(dst, src, dtype, 1)
}

// SumScaled performs dst += alpha*src elementwise.
func (r *CpuReducer) SumScaled(dst, src []byte, dtype tensor.DataType, alpha float64) {
	checkPair(dst, src, dtype)
	switch dtype {
	case tensor.Float32:
		d, s := tensor.Float32s(dst), tensor.Float32s(src)
		a := float32(alpha)
		r.parallelFor(len(d), func(lo, hi int) {
			for i := lo; i < hi; i++ {
				d[i] += a * s[i]
			}
		})
	case tensor.Float64:
		d, s := tensor.Float64s(dst), tensor.Float64s(src)
		r.parallelFor(len(d), func(lo, hi int) {
			for i := lo; i < hi; i++ {
				d[i] += alpha * s[i]
			}
		})
	case tensor.Float16:
		d, s := tensor.Uint16s(dst), tensor.Uint16s(src)
		a := float32(alpha)
		r.parallelFor(len(d), func(lo, hi int) {
			for i := lo; i < hi; i++ {
				d[i] = FloatToHalf(HalfToFloat(d[i]) + a*HalfToFloat(s[i]))
			}
		})
	case tensor.Int8:
		d, s := tensor.Int8s(dst), tensor.Int8s(src)
		r.parallelFor(len(d), func(lo, hi int) {
			for i := lo; i < hi; i++ {
				d[i] += int8(alpha * float64(s[i]))
			}
		})
	case tensor.UInt8:
		d, s := dst, src
		r.parallelFor(len(d), func(lo, hi int) {
			for i := lo; i < hi; i++ {
				d[i] += uint8(alpha * float64(s[i]))
			}
		})
	case tensor.Int32:
		d, s := tensor.Int32s(dst), tensor.Int32s(src)
		r.parallelFor(len(d), func(lo, hi int) {
			for i := lo; i < hi; i++ {
				d[i] += int32(alpha * float64(s[i]))
			}
		})
	case tensor.Int64:
		d, s := tensor.Int64s(dst), tensor.Int64s(src)
		if alpha == 1 {
			// avoid the float round-trip, int64 exceeds float64 precision
			r.parallelFor(len(d), func(lo, hi int) {
				for i := lo; i < hi; i++ {
					d[i] += s[i]
				}
			})
			return
		}
		r.parallelFor(len(d), func(lo, hi int) {
			for i := lo; i < hi; i++ {
				d[i] += int64(alpha * float64(s[i]))
			}
		})
	default:
		panic(fmt.Sprintf("reducer: unsupported data type %d", int(dtype)))
	}
}

// Sum3 performs dst = s1 + alpha*s2 elementwise. dst may alias s1 or s2.
// Only defined for floating dtypes; the integer types never reach this path.
func (r *CpuReducer) Sum3(dst, s1, s2 []byte, dtype tensor.DataType, alpha float64) {
	checkPair(dst, s1, dtype)
	checkPair(dst, s2, dtype)
	switch dtype {
	case tensor.Float32:
		d, a, b := tensor.Float32s(dst), tensor.Float32s(s1), tensor.Float32s(s2)
		al := float32(alpha)
		r.parallelFor(len(d), func(lo, hi int) {
			for i := lo; i < hi; i++ {
				d[i] = a[i] + al*b[i]
			}
		})
	case tensor.Float64:
		d, a, b := tensor.Float64s(dst), tensor.Float64s(s1), tensor.Float64s(s2)
		r.parallelFor(len(d), func(lo, hi int) {
			for i := lo; i < hi; i++ {
				d[i] = a[i] + alpha*b[i]
			}
		})
	case tensor.Float16:
		d, a, b := tensor.Uint16s(dst), tensor.Uint16s(s1), tensor.Uint16s(s2)
		al := float32(alpha)
		r.parallelFor(len(d), func(lo, hi int) {
			for i := lo; i < hi; i++ {
				d[i] = FloatToHalf(HalfToFloat(a[i]) + al*HalfToFloat(b[i]))
			}
		})
	default:
		panic(fmt.Sprintf("reducer: sum3 unsupported for data type %s", dtype))
	}
}

// --------------------------------------------------------------------------
// Sparse Sum
// --------------------------------------------------------------------------

// SparseSum accumulates sampled source positions into the head of dst and
// zeroes them in src: for each i, dst[i] += alpha*src[idx[i]]; src[idx[i]] = 0.
// dst is densely indexed 0..len(idx). Only defined for floating dtypes.
// Positions are processed in order, so a duplicate index is accumulated only
// once: its later samples read the already-zeroed position and add zero.
func (r *CpuReducer) SparseSum(dst, src []byte, dtype tensor.DataType, alpha float64, idx []uint32) {
	switch dtype {
	case tensor.Float32:
		d, s := tensor.Float32s(dst), tensor.Float32s(src)
		a := float32(alpha)
		for i, j := range idx {
			d[i] += a * s[j]
			s[j] = 0
		}
	case tensor.Float64:
		d, s := tensor.Float64s(dst), tensor.Float64s(src)
		for i, j := range idx {
			d[i] += alpha * s[j]
			s[j] = 0
		}
	case tensor.Float16:
		d, s := tensor.Uint16s(dst), tensor.Uint16s(src)
		a := float32(alpha)
		for i, j := range idx {
			d[i] = FloatToHalf(HalfToFloat(d[i]) + a*HalfToFloat(s[j]))
			s[j] = 0
		}
	default:
		panic(fmt.Sprintf("reducer: sparse sum unsupported for data type %s", dtype))
	}
}

// --------------------------------------------------------------------------
// Copy
// --------------------------------------------------------------------------

// Copy performs a plain byte copy, chunked across goroutines for large
// buffers.
func (r *CpuReducer) Copy(dst, src []byte) {
	if len(dst) != len(src) {
		panic(fmt.Sprintf("reducer: copy length mismatch dst=%d src=%d", len(dst), len(src)))
	}
	r.parallelFor(len(dst), func(lo, hi int) {
		copy(dst[lo:hi], src[lo:hi])
	})
}

// --------------------------------------------------------------------------
// Mixed Precision
// --------------------------------------------------------------------------

// CopyMixedPrecision converts between a float32 reduction buffer hi and a
// float16 transport buffer lo. lenBytes is the byte length of the float16
// side. promote=true widens lo into hi; promote=false narrows hi into lo.
func (r *CpuReducer) CopyMixedPrecision(hi, lo []byte, lenBytes int, promote bool) {
	tensor.CheckLen(lenBytes, tensor.Float16)
	n := lenBytes / 2
	h := tensor.Float32s(hi[:lenBytes*2])
	l := tensor.Uint16s(lo[:lenBytes])
	if promote {
		r.parallelFor(n, func(lo, hiEnd int) {
			for i := lo; i < hiEnd; i++ {
				h[i] = HalfToFloat(l[i])
			}
		})
	} else {
		r.parallelFor(n, func(lo, hiEnd int) {
			for i := lo; i < hiEnd; i++ {
				l[i] = FloatToHalf(h[i])
			}
		})
	}
}

// SumMixedPrecision widens the float16 buffer src on the fly and accumulates
// it into the float32 buffer dst. lenBytes is the byte length of src.
func (r *CpuReducer) SumMixedPrecision(dst, src []byte, lenBytes int) {
	tensor.CheckLen(lenBytes, tensor.Float16)
	n := lenBytes / 2
	d := tensor.Float32s(dst[:lenBytes*2])
	s := tensor.Uint16s(src[:lenBytes])
	r.parallelFor(n, func(lo, hi int) {
		for i := lo; i < hi; i++ {
			d[i] += HalfToFloat(s[i])
		}
	})
}

// checkPair validates that both regions share the same, element-aligned
// byte length.
func checkPair(dst, src []byte, dtype tensor.DataType) {
	if len(dst) != len(src) {
		panic(fmt.Sprintf("reducer: length mismatch dst=%d src=%d", len(dst), len(src)))
	}
	tensor.CheckLen(len(dst), dtype)
}
