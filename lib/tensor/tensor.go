package tensor

import (
	"fmt"
	"unsafe"
)

// --------------------------------------------------------------------------
// Data Types
// --------------------------------------------------------------------------

// DataType identifies the element type of a tensor buffer.
// The numeric values are part of the wire protocol (packed into the request
// command together with the request type) and must not be reordered.
type DataType int

const (
	Float32 DataType = iota
	Float64
	Float16
	UInt8
	Int32
	Int8
	Int64
)

// Size returns the width of one element in bytes.
func (t DataType) Size() int {
	switch t {
	case Float16:
		return 2
	case Float32, Int32:
		return 4
	case Float64, Int64:
		return 8
	case Int8, UInt8:
		return 1
	default:
		panic(fmt.Sprintf("unknown data type: %d", int(t)))
	}
}

// IsFloating reports whether the dtype is a floating point type.
func (t DataType) IsFloating() bool {
	switch t {
	case Float16, Float32, Float64:
		return true
	default:
		return false
	}
}

// String returns the canonical name of the dtype.
func (t DataType) String() string {
	switch t {
	case Float16:
		return "float16"
	case Float32:
		return "float32"
	case Float64:
		return "float64"
	case UInt8:
		return "uint8"
	case Int8:
		return "int8"
	case Int32:
		return "int32"
	case Int64:
		return "int64"
	default:
		return "unknown"
	}
}

// --------------------------------------------------------------------------
// Non-Owning Tensor View
// --------------------------------------------------------------------------

// Ref is a non-owning view of a tensor: a byte region plus its dtype.
// The byte length is carried by the slice header. Callers that hand a Ref
// to the engine must guarantee the pointee outlives message drainage.
type Ref struct {
	Data  []byte
	Dtype DataType
}

// Len returns the byte length of the view.
func (r Ref) Len() int { return len(r.Data) }

// Elems returns the number of elements in the view.
// It panics if the byte length is not a multiple of the element size.
func (r Ref) Elems() int {
	CheckLen(len(r.Data), r.Dtype)
	return len(r.Data) / r.Dtype.Size()
}

// CheckLen validates that a byte length is a multiple of the element size
// before any typed reinterpretation. A violation indicates a protocol error
// and is fatal.
func CheckLen(lenBytes int, dtype DataType) {
	if lenBytes%dtype.Size() != 0 {
		panic(fmt.Sprintf("tensor: length %d is not a multiple of %s element size %d",
			lenBytes, dtype, dtype.Size()))
	}
}

// Promote converts a buffer description from its transport precision to the
// reduction precision. Half-precision tensors are reduced in float32, so the
// byte length doubles; every other dtype is returned unchanged.
func Promote(lenBytes int, dtype DataType) (int, DataType) {
	if dtype == Float16 {
		return lenBytes * 2, Float32
	}
	return lenBytes, dtype
}

// --------------------------------------------------------------------------
// Aligned Allocation
// --------------------------------------------------------------------------

// pageSize matches the allocation granularity the RDMA data path expects.
const pageSize = 4096

// Align rounds size up to the next page boundary.
func Align(size int) int {
	return (size + pageSize - 1) &^ (pageSize - 1)
}

// AllocAligned returns a zeroed byte buffer of the given size whose first
// element sits on a page boundary. The returned slice keeps the backing
// array alive; no explicit free is needed.
func AllocAligned(size int) []byte {
	if size == 0 {
		return nil
	}
	raw := make([]byte, size+pageSize)
	off := 0
	if rem := int(uintptr(unsafe.Pointer(&raw[0])) % pageSize); rem != 0 {
		off = pageSize - rem
	}
	return raw[off : off+size : off+size]
}

// --------------------------------------------------------------------------
// Typed Reinterpretation
// --------------------------------------------------------------------------

// The typed view helpers below reinterpret a byte region in place. They all
// validate the length first; a mismatch is a caller contract violation.

// Float32s reinterprets b as a []float32.
func Float32s(b []byte) []float32 {
	CheckLen(len(b), Float32)
	if len(b) == 0 {
		return nil
	}
	return unsafe.Slice((*float32)(unsafe.Pointer(&b[0])), len(b)/4)
}

// Float64s reinterprets b as a []float64.
func Float64s(b []byte) []float64 {
	CheckLen(len(b), Float64)
	if len(b) == 0 {
		return nil
	}
	return unsafe.Slice((*float64)(unsafe.Pointer(&b[0])), len(b)/8)
}

// Uint16s reinterprets b as a []uint16 (the raw representation of float16).
func Uint16s(b []byte) []uint16 {
	CheckLen(len(b), Float16)
	if len(b) == 0 {
		return nil
	}
	return unsafe.Slice((*uint16)(unsafe.Pointer(&b[0])), len(b)/2)
}

// Int8s reinterprets b as a []int8.
func Int8s(b []byte) []int8 {
	if len(b) == 0 {
		return nil
	}
	return unsafe.Slice((*int8)(unsafe.Pointer(&b[0])), len(b))
}

// Int32s reinterprets b as a []int32.
func Int32s(b []byte) []int32 {
	CheckLen(len(b), Int32)
	if len(b) == 0 {
		return nil
	}
	return unsafe.Slice((*int32)(unsafe.Pointer(&b[0])), len(b)/4)
}

// Int64s reinterprets b as a []int64.
func Int64s(b []byte) []int64 {
	CheckLen(len(b), Int64)
	if len(b) == 0 {
		return nil
	}
	return unsafe.Slice((*int64)(unsafe.Pointer(&b[0])), len(b)/8)
}

// Uint32s reinterprets b as a []uint32 (used for sparse index lists).
func Uint32s(b []byte) []uint32 {
	CheckLen(len(b), Int32)
	if len(b) == 0 {
		return nil
	}
	return unsafe.Slice((*uint32)(unsafe.Pointer(&b[0])), len(b)/4)
}
