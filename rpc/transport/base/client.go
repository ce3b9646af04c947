package base

import (
	"fmt"
	"net"
	"sync"
	"sync/atomic"
	"time"

	"github.com/puzpuzpuz/xsync/v3"

	"github.com/gradflow/gradflow/rpc/common"
	"github.com/gradflow/gradflow/rpc/serializer"
	"github.com/gradflow/gradflow/rpc/transport"
)

// -----------------------------------------------------------
// Interface Definitions for dependency injection
// -----------------------------------------------------------

// IClientConnector defines the interface for transport-specific client
// operations
type IClientConnector interface {
	// Dial opens a connection to the configured endpoint
	Dial(config common.ClientConfig) (net.Conn, error)

	// GetName returns the name of the transport type (e.g., "unix", "tcp")
	GetName() string
}

// -----------------------------------------------------------
// Client Transport
// -----------------------------------------------------------

// clientTransport multiplexes concurrent requests over one connection:
// writes are serialized by a mutex, a reader goroutine routes response
// frames back to the waiting callers by request id.
type clientTransport struct {
	connector  IClientConnector
	serializer serializer.IRPCSerializer
	config     common.ClientConfig

	conn    net.Conn
	writeMu sync.Mutex
	nextID  atomic.Uint64
	pending *xsync.MapOf[uint64, chan common.Message]
	closed  atomic.Bool
}

// NewBaseClientTransport creates a new client transport around a connector
// and an envelope serializer.
func NewBaseClientTransport(connector IClientConnector, s serializer.IRPCSerializer) transport.IPSClientTransport {
	return &clientTransport{
		connector:  connector,
		serializer: s,
		pending:    xsync.NewMapOf[uint64, chan common.Message](),
	}
}

// --------------------------------------------------------------------------
// Interface Methods (docu see transport.IPSClientTransport)
// --------------------------------------------------------------------------

func (t *clientTransport) Connect(config common.ClientConfig) error {
	t.config = config

	conn, err := t.connector.Dial(config)
	if err != nil {
		return fmt.Errorf("failed to connect via %s: %v", t.connector.GetName(), err)
	}
	t.conn = conn

	go t.readLoop()
	return nil
}

func (t *clientTransport) Do(meta common.KVMeta, kv common.KVPairs) (common.KVPairs, error) {
	if t.closed.Load() {
		return common.KVPairs{}, fmt.Errorf("transport closed")
	}

	id := t.nextID.Add(1)
	meta.RequestID = id

	data, err := t.serializer.Serialize(common.Message{Meta: meta, KV: kv})
	if err != nil {
		return common.KVPairs{}, fmt.Errorf("failed to serialize request: %v", err)
	}

	ch := make(chan common.Message, 1)
	t.pending.Store(id, ch)
	defer t.pending.Delete(id)

	t.writeMu.Lock()
	err = writeFrame(t.conn, id, data)
	t.writeMu.Unlock()
	if err != nil {
		return common.KVPairs{}, fmt.Errorf("failed to write request: %v", err)
	}

	if t.config.TimeoutSecond > 0 {
		select {
		case resp := <-ch:
			return t.unwrap(resp)
		case <-time.After(time.Duration(t.config.TimeoutSecond) * time.Second):
			return common.KVPairs{}, fmt.Errorf("request %d timed out", id)
		}
	}

	return t.unwrap(<-ch)
}

func (t *clientTransport) Close() error {
	if t.closed.CompareAndSwap(false, true) && t.conn != nil {
		return t.conn.Close()
	}
	return nil
}

// --------------------------------------------------------------------------
// Helper Methods
// --------------------------------------------------------------------------

// unwrap surfaces a server-side error carried in the envelope.
func (t *clientTransport) unwrap(msg common.Message) (common.KVPairs, error) {
	if msg.Err != "" {
		return common.KVPairs{}, fmt.Errorf("server error: %s", msg.Err)
	}
	return msg.KV, nil
}

// readLoop routes response frames to their waiting callers.
func (t *clientTransport) readLoop() {
	for {
		id, data, err := readFrame(t.conn, nil)
		if err != nil {
			if !t.closed.Load() {
				Logger.Errorf("read error: %v", err)
			}
			return
		}

		var msg common.Message
		if err := t.serializer.Deserialize(data, &msg); err != nil {
			Logger.Errorf("failed to deserialize response: %v", err)
			continue
		}

		if ch, ok := t.pending.Load(id); ok {
			ch <- msg
		} else {
			Logger.Warningf("dropping response for unknown request %d", id)
		}
	}
}
