package common

import (
	"fmt"

	"github.com/gradflow/gradflow/lib/tensor"
)

// --------------------------------------------------------------------------
// Request Types and Command Packing
// --------------------------------------------------------------------------

// RequestType classifies a push/pull request.
type RequestType int

const (
	// DefaultPushPull carries a dense gradient tensor.
	DefaultPushPull RequestType = iota
	// RowSparsePushPull is part of the wire protocol but unimplemented;
	// receiving one is fatal.
	RowSparsePushPull
	// CompressedPushPull carries a compressed gradient. It routes through
	// the same handler path as DefaultPushPull.
	CompressedPushPull
	// ConfigPushPull carries a serialized kwargs blob that registers a
	// compressor for the key.
	ConfigPushPull
)

// String returns the string representation of a RequestType.
func (t RequestType) String() string {
	switch t {
	case DefaultPushPull:
		return "default"
	case RowSparsePushPull:
		return "row-sparse"
	case CompressedPushPull:
		return "compressed"
	case ConfigPushPull:
		return "config"
	default:
		return "unknown"
	}
}

// Command packs a (request type, dtype) pair into the single integer the
// wire protocol reserves for it.
type Command int

// PackCommand combines a request type and a dtype into a Command.
func PackCommand(rt RequestType, dt tensor.DataType) Command {
	return Command(int(rt)<<16 | int(dt))
}

// Unpack splits a Command back into request type and dtype.
func (c Command) Unpack() (RequestType, tensor.DataType) {
	return RequestType(int(c) >> 16), tensor.DataType(int(c) & 0xffff)
}

// --------------------------------------------------------------------------
// Request Metadata and Value Arrays
// --------------------------------------------------------------------------

// KVMeta describes one push or pull request independent of its payload.
type KVMeta struct {
	// Cmd is the packed (request type, dtype) tag.
	Cmd Command `json:"cmd"`
	// Push is true for push requests, false for pulls.
	Push bool `json:"push"`
	// Sender identifies the worker that issued the request.
	Sender int `json:"sender"`
	// RequestID correlates a response with its request on the transport.
	RequestID uint64 `json:"request_id"`
}

func (m KVMeta) String() string {
	rt, dt := m.Cmd.Unpack()
	op := "pull"
	if m.Push {
		op = "push"
	}
	return fmt.Sprintf("KVMeta{%s %s/%s sender=%d req=%d}", op, rt, dt, m.Sender, m.RequestID)
}

// KVPairs is the payload of a request or response: parallel key and length
// arrays plus a flat value region. Response Vals may alias server-owned
// tensor memory; the transport must treat them as read-only and must not
// retain them past the write.
type KVPairs struct {
	Keys []uint64 `json:"keys,omitempty"`
	Vals []byte   `json:"vals,omitempty"`
	Lens []int32  `json:"lens,omitempty"`
}

// --------------------------------------------------------------------------
// Message Envelope
// --------------------------------------------------------------------------

// Message is the single envelope the serializers and the byte-oriented
// transports exchange. Which fields are populated depends on direction.
type Message struct {
	Meta KVMeta  `json:"meta"`
	KV   KVPairs `json:"kv"`
	// Err is empty on success, otherwise the error message
	Err string `json:"err,omitempty"`
}
