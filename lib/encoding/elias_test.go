package encoding

import (
	"strings"
	"testing"
)

// encodeToString renders the elias-delta encoding of x as a bit string
func encodeToString(x uint64) string {
	buf := make([]uint8, 16)
	w := NewBitWriter(buf)
	EliasDeltaEncode(w, x)
	w.Flush()

	var sb strings.Builder
	r := NewBitReader(buf)
	for i := 0; i < w.Bits(); i++ {
		if r.Get() {
			sb.WriteByte('1')
		} else {
			sb.WriteByte('0')
		}
	}
	return sb.String()
}

// TestEliasDeltaKnownCodes tests the exact codes of small integers
func TestEliasDeltaKnownCodes(t *testing.T) {
	cases := map[uint64]string{
		1: "1",
		2: "0100",
		5: "01101",
	}
	for x, want := range cases {
		if got := encodeToString(x); got != want {
			t.Errorf("encode(%d) = %q, want %q", x, got, want)
		}
	}
}

// TestEliasDeltaRoundTrip tests decode(encode(x)) == x over a range
func TestEliasDeltaRoundTrip(t *testing.T) {
	buf := make([]uint64, 64)

	for x := uint64(1); x <= 2000; x++ {
		for i := range buf {
			buf[i] = 0
		}
		w := NewBitWriter(buf)
		EliasDeltaEncode(w, x)
		w.Flush()

		r := NewBitReader(buf)
		if got := EliasDeltaDecode(r); got != x {
			t.Fatalf("round trip %d -> %d", x, got)
		}
	}
}

// TestEliasDeltaSequence tests several values in one stream
func TestEliasDeltaSequence(t *testing.T) {
	values := []uint64{1, 7, 42, 1000, 65537, 1 << 40}

	buf := make([]uint64, 32)
	w := NewBitWriter(buf)
	for _, x := range values {
		EliasDeltaEncode(w, x)
	}
	w.Flush()

	r := NewBitReader(buf)
	for _, want := range values {
		if got := EliasDeltaDecode(r); got != want {
			t.Errorf("decoded %d, want %d", got, want)
		}
	}
}

// TestRoundNextPow2 tests the power-of-two rounding helper
func TestRoundNextPow2(t *testing.T) {
	cases := map[uint32]uint32{
		1:    1,
		2:    2,
		3:    4,
		5:    8,
		1023: 1024,
		1024: 1024,
	}
	for in, want := range cases {
		if got := RoundNextPow2(in); got != want {
			t.Errorf("RoundNextPow2(%d) = %d, want %d", in, got, want)
		}
	}
}
