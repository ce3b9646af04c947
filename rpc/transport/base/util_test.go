package base

import (
	"bytes"
	"net"
	"testing"
)

// TestFrameRoundTrip tests the frame codec over an in-memory pipe
func TestFrameRoundTrip(t *testing.T) {
	client, server := net.Pipe()
	defer client.Close()
	defer server.Close()

	payload := []byte("push key=7")

	go func() {
		if err := writeFrame(client, 42, payload); err != nil {
			t.Errorf("writeFrame failed: %v", err)
		}
	}()

	id, data, err := readFrame(server, make([]byte, 64))
	if err != nil {
		t.Fatalf("readFrame failed: %v", err)
	}
	if id != 42 {
		t.Errorf("request id = %d, want 42", id)
	}
	if !bytes.Equal(data, payload) {
		t.Errorf("payload = %q, want %q", data, payload)
	}
}

// TestFrameEmptyPayload tests a zero-length frame
func TestFrameEmptyPayload(t *testing.T) {
	client, server := net.Pipe()
	defer client.Close()
	defer server.Close()

	go func() {
		_ = writeFrame(client, 1, nil)
	}()

	id, data, err := readFrame(server, nil)
	if err != nil {
		t.Fatalf("readFrame failed: %v", err)
	}
	if id != 1 || len(data) != 0 {
		t.Errorf("got id=%d len=%d, want id=1 len=0", id, len(data))
	}
}

// TestFrameSmallBuffer tests the fallback allocation when the pooled buffer
// is too small for the payload
func TestFrameSmallBuffer(t *testing.T) {
	client, server := net.Pipe()
	defer client.Close()
	defer server.Close()

	payload := bytes.Repeat([]byte{7}, 256)

	go func() {
		_ = writeFrame(client, 2, payload)
	}()

	_, data, err := readFrame(server, make([]byte, 16))
	if err != nil {
		t.Fatalf("readFrame failed: %v", err)
	}
	if !bytes.Equal(data, payload) {
		t.Error("payload mismatch with undersized buffer")
	}
}
