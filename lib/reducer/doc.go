// Package reducer implements the CPU-side tensor arithmetic used by the
// server engine: elementwise sums, scaled sums, sparse accumulation, byte
// copies and mixed-precision conversion between float16 transport buffers
// and float32 reduction buffers.
//
// All operations work on raw byte regions parameterized by a dtype tag and
// validate that the byte length is a multiple of the element size before any
// typed indexing. Large buffers are processed by a pool of goroutines in
// disjoint chunks; all operations are data-parallel safe for non-overlapping
// dst/src regions.
package reducer
