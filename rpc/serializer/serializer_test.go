package serializer

import (
	"reflect"
	"testing"

	"github.com/gradflow/gradflow/lib/tensor"
	"github.com/gradflow/gradflow/rpc/common"
)

// testSerializers is a map of serializer name to factory function
var testSerializers = map[string]func() IRPCSerializer{
	"JSON":   NewJSONSerializer,
	"GOB":    NewGOBSerializer,
	"Binary": NewBinarySerializer,
}

// testMessages creates a set of test messages with different fields filled
func testMessages() []common.Message {
	return []common.Message{
		// Bare pull request
		{
			Meta: common.KVMeta{
				Cmd:       common.PackCommand(common.DefaultPushPull, tensor.Float32),
				Sender:    3,
				RequestID: 17,
			},
			KV: common.KVPairs{Keys: []uint64{7}},
		},

		// Push request with payload
		{
			Meta: common.KVMeta{
				Cmd:       common.PackCommand(common.DefaultPushPull, tensor.Float16),
				Push:      true,
				Sender:    1,
				RequestID: 42,
			},
			KV: common.KVPairs{
				Keys: []uint64{7},
				Vals: []byte{1, 2, 3, 4, 5, 6, 7, 8},
				Lens: []int32{8},
			},
		},

		// Config push with a kwargs blob
		{
			Meta: common.KVMeta{
				Cmd:    common.PackCommand(common.ConfigPushPull, tensor.Float32),
				Push:   true,
				Sender: 2,
			},
			KV: common.KVPairs{
				Keys: []uint64{9},
				Vals: []byte("2 compressor_type topk compressor_k 8"),
				Lens: []int32{37},
			},
		},

		// Error response
		{
			Meta: common.KVMeta{RequestID: 5},
			Err:  "row-sparse push/pull is not implemented",
		},

		// Empty ack
		{},
	}
}

// TestSerializerRoundTrip tests that messages can be serialized and
// deserialized correctly
func TestSerializerRoundTrip(t *testing.T) {
	messages := testMessages()

	for name, factory := range testSerializers {
		t.Run(name, func(t *testing.T) {
			serializer := factory()

			for i, msg := range messages {
				// Serialize
				data, err := serializer.Serialize(msg)
				if err != nil {
					t.Errorf("Failed to serialize message %d: %v", i, err)
					continue
				}

				// Deserialize
				var result common.Message
				err = serializer.Deserialize(data, &result)
				if err != nil {
					t.Errorf("Failed to deserialize message %d: %v", i, err)
					continue
				}

				if !equalMessages(msg, result) {
					t.Errorf("Message %d round trip mismatch:\nsent: %+v\ngot:  %+v", i, msg, result)
				}
			}
		})
	}
}

// equalMessages compares messages treating nil and empty slices as equal
func equalMessages(a, b common.Message) bool {
	if a.Meta != b.Meta || a.Err != b.Err {
		return false
	}
	return equalSlice(a.KV.Keys, b.KV.Keys) &&
		equalSlice(a.KV.Lens, b.KV.Lens) &&
		equalSlice(a.KV.Vals, b.KV.Vals)
}

func equalSlice[T comparable](a, b []T) bool {
	if len(a) == 0 && len(b) == 0 {
		return true
	}
	return reflect.DeepEqual(a, b)
}

// TestBinaryDeserializeTruncated tests that truncated input fails cleanly
func TestBinaryDeserializeTruncated(t *testing.T) {
	s := NewBinarySerializer()

	data, err := s.Serialize(testMessages()[1])
	if err != nil {
		t.Fatalf("serialize failed: %v", err)
	}

	var msg common.Message
	for _, cut := range []int{1, 10, len(data) - 1} {
		if err := s.Deserialize(data[:cut], &msg); err == nil {
			t.Errorf("deserializing %d of %d bytes should fail", cut, len(data))
		}
	}
}
