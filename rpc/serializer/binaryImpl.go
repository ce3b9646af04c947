package serializer

import (
	"encoding/binary"
	"fmt"

	"github.com/gradflow/gradflow/rpc/common"
)

// NewBinarySerializer creates a new serializer using a custom binary format
// optimized for speed and efficiency
func NewBinarySerializer() IRPCSerializer {
	return &binarySerializerImpl{}
}

// binarySerializerImpl implements IRPCSerializer using a custom binary format
type binarySerializerImpl struct {
}

// Bit flags to indicate which optional fields are present
const (
	hasKeys byte = 1 << 0
	hasVals byte = 1 << 1
	hasLens byte = 1 << 2
	hasErr  byte = 1 << 3
)

// fixed part: cmd (8) + push (1) + sender (8) + requestID (8) + flags (1)
const headerSize = 26

// --------------------------------------------------------------------------
// Interface Methods (docu see serializer.IRPCSerializer)
// --------------------------------------------------------------------------

func (b binarySerializerImpl) Serialize(msg common.Message) ([]byte, error) {
	result := make([]byte, b.sizeBytes(msg))

	// Write the fixed meta header
	binary.BigEndian.PutUint64(result[0:8], uint64(msg.Meta.Cmd))
	if msg.Meta.Push {
		result[8] = 1
	}
	binary.BigEndian.PutUint64(result[9:17], uint64(msg.Meta.Sender))
	binary.BigEndian.PutUint64(result[17:25], msg.Meta.RequestID)

	var flags byte
	pos := headerSize

	// Handle Keys
	if len(msg.KV.Keys) > 0 {
		flags |= hasKeys
		binary.BigEndian.PutUint32(result[pos:pos+4], uint32(len(msg.KV.Keys)))
		pos += 4
		for _, k := range msg.KV.Keys {
			binary.BigEndian.PutUint64(result[pos:pos+8], k)
			pos += 8
		}
	}

	// Handle Lens
	if len(msg.KV.Lens) > 0 {
		flags |= hasLens
		binary.BigEndian.PutUint32(result[pos:pos+4], uint32(len(msg.KV.Lens)))
		pos += 4
		for _, l := range msg.KV.Lens {
			binary.BigEndian.PutUint32(result[pos:pos+4], uint32(l))
			pos += 4
		}
	}

	// Handle Vals
	if msg.KV.Vals != nil {
		flags |= hasVals
		binary.BigEndian.PutUint32(result[pos:pos+4], uint32(len(msg.KV.Vals)))
		pos += 4
		copy(result[pos:pos+len(msg.KV.Vals)], msg.KV.Vals)
		pos += len(msg.KV.Vals)
	}

	// Handle Err
	if msg.Err != "" {
		flags |= hasErr
		errBytes := []byte(msg.Err)
		binary.BigEndian.PutUint32(result[pos:pos+4], uint32(len(errBytes)))
		pos += 4
		copy(result[pos:pos+len(errBytes)], errBytes)
		pos += len(errBytes)
	}

	// Set flags byte after knowing which fields are present
	result[headerSize-1] = flags

	return result, nil
}

func (b binarySerializerImpl) Deserialize(data []byte, msg *common.Message) error {
	if len(data) < headerSize {
		return fmt.Errorf("data too short for message header")
	}

	msg.Meta.Cmd = common.Command(binary.BigEndian.Uint64(data[0:8]))
	msg.Meta.Push = data[8] == 1
	msg.Meta.Sender = int(binary.BigEndian.Uint64(data[9:17]))
	msg.Meta.RequestID = binary.BigEndian.Uint64(data[17:25])

	flags := data[headerSize-1]
	pos := headerSize

	// Read Keys if present
	msg.KV.Keys = nil
	if flags&hasKeys != 0 {
		n, next, err := readCount(data, pos, 8)
		if err != nil {
			return fmt.Errorf("keys: %w", err)
		}
		pos = next
		msg.KV.Keys = make([]uint64, n)
		for i := range msg.KV.Keys {
			msg.KV.Keys[i] = binary.BigEndian.Uint64(data[pos : pos+8])
			pos += 8
		}
	}

	// Read Lens if present
	msg.KV.Lens = nil
	if flags&hasLens != 0 {
		n, next, err := readCount(data, pos, 4)
		if err != nil {
			return fmt.Errorf("lens: %w", err)
		}
		pos = next
		msg.KV.Lens = make([]int32, n)
		for i := range msg.KV.Lens {
			msg.KV.Lens[i] = int32(binary.BigEndian.Uint32(data[pos : pos+4]))
			pos += 4
		}
	}

	// Read Vals if present
	msg.KV.Vals = nil
	if flags&hasVals != 0 {
		n, next, err := readCount(data, pos, 1)
		if err != nil {
			return fmt.Errorf("vals: %w", err)
		}
		pos = next
		msg.KV.Vals = make([]byte, n)
		copy(msg.KV.Vals, data[pos:pos+n])
		pos += n
	}

	// Read Err if present
	msg.Err = ""
	if flags&hasErr != 0 {
		n, next, err := readCount(data, pos, 1)
		if err != nil {
			return fmt.Errorf("err: %w", err)
		}
		pos = next
		msg.Err = string(data[pos : pos+n])
		pos += n
	}

	return nil
}

// readCount reads a uint32 element count at pos and validates that count
// elements of elemSize bytes fit in the remaining data.
func readCount(data []byte, pos, elemSize int) (int, int, error) {
	if pos+4 > len(data) {
		return 0, 0, fmt.Errorf("data too short for length prefix")
	}
	n := int(binary.BigEndian.Uint32(data[pos : pos+4]))
	pos += 4
	if pos+n*elemSize > len(data) {
		return 0, 0, fmt.Errorf("data too short for %d elements", n)
	}
	return n, pos, nil
}

// sizeBytes computes the exact serialized size of a message.
func (b binarySerializerImpl) sizeBytes(msg common.Message) int {
	size := headerSize
	if len(msg.KV.Keys) > 0 {
		size += 4 + 8*len(msg.KV.Keys)
	}
	if len(msg.KV.Lens) > 0 {
		size += 4 + 4*len(msg.KV.Lens)
	}
	if msg.KV.Vals != nil {
		size += 4 + len(msg.KV.Vals)
	}
	if msg.Err != "" {
		size += 4 + len(msg.Err)
	}
	return size
}
