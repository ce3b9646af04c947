package compressor

import (
	"fmt"
	"math"
	"os"
	"unsafe"

	"golang.org/x/sys/unix"
)

// --------------------------------------------------------------------------
// Learning-Rate Side Channel
// --------------------------------------------------------------------------

// DefaultLRPath is the filesystem path of the shared learning-rate cell the
// training frontend keeps up to date.
const DefaultLRPath = "lr.s"

// LRReader yields the current learning rate. The corrected and sparse error
// feedback variants read it on every gradient update; tests inject a
// function-backed reader.
type LRReader interface {
	Read() float64
	Close() error
}

// LRFunc adapts a plain function to the LRReader interface.
type LRFunc func() float64

func (f LRFunc) Read() float64 { return f() }
func (f LRFunc) Close() error  { return nil }

// mmapLR is a read-only view of exactly 8 bytes mapped from a file,
// reinterpreted as a native-endian IEEE 754 double on every read.
type mmapLR struct {
	f    *os.File
	data []byte
}

// OpenLRFile maps path as a shared read-only learning-rate cell. The file
// must exist and hold at least 8 readable bytes.
func OpenLRFile(path string) (LRReader, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open %s: %w", path, err)
	}

	data, err := unix.Mmap(int(f.Fd()), 0, 8, unix.PROT_READ, unix.MAP_SHARED)
	if err != nil {
		f.Close()
		return nil, fmt.Errorf("mmap %s: %w", path, err)
	}

	return &mmapLR{f: f, data: data}, nil
}

func (m *mmapLR) Read() float64 {
	return math.Float64frombits(*(*uint64)(unsafe.Pointer(&m.data[0])))
}

func (m *mmapLR) Close() error {
	if err := unix.Munmap(m.data); err != nil {
		m.f.Close()
		return err
	}
	return m.f.Close()
}

// mustOpenLR is the registry-time variant: an unreadable learning-rate cell
// is a construction failure and fatal.
func mustOpenLR() LRReader {
	lr, err := OpenLRFile(DefaultLRPath)
	if err != nil {
		plog.Panicf("learning rate side channel: %v", err)
	}
	return lr
}
