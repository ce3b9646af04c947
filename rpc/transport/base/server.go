package base

import (
	"fmt"
	"net"
	"sync"
	"sync/atomic"
	"time"

	"github.com/lni/dragonboat/v4/logger"
	"github.com/puzpuzpuz/xsync/v3"

	"github.com/gradflow/gradflow/rpc/common"
	"github.com/gradflow/gradflow/rpc/serializer"
	"github.com/gradflow/gradflow/rpc/transport"
)

var Logger = logger.GetLogger("transport")

// -----------------------------------------------------------
// Interface Definitions for dependency injection
// -----------------------------------------------------------

// IServerConnector defines the interface for transport-specific server
// operations
type IServerConnector interface {
	// Listen creates a listener and returns it
	Listen(config common.ServerConfig) (net.Listener, error)

	// GetName returns the name of the transport type (e.g., "unix", "tcp")
	GetName() string
}

// -----------------------------------------------------------
// Helper Types
// -----------------------------------------------------------

// pendingRequest remembers where a response has to go: the connection the
// request arrived on (with its write mutex) and the request id the client
// chose.
type pendingRequest struct {
	conn     net.Conn
	writeMu  *sync.Mutex
	clientID uint64
}

// serverTransport implements the core server transport functionality
type serverTransport struct {
	connector  IServerConnector
	serializer serializer.IRPCSerializer
	handler    transport.ServerHandleFunc
	config     common.ServerConfig
	listener   net.Listener
	bufferPool *sync.Pool
	bufferSize int

	nextID  atomic.Uint64
	pending *xsync.MapOf[uint64, pendingRequest]
	closed  atomic.Bool
}

// -----------------------------------------------------------
// Transport Factory Method (used for tcp, unix, etc.)
// -----------------------------------------------------------

// NewBaseServerTransport creates a new server transport around a connector
// and an envelope serializer.
func NewBaseServerTransport(connector IServerConnector, s serializer.IRPCSerializer, bufferSize int) transport.IPSServerTransport {
	return &serverTransport{
		connector:  connector,
		serializer: s,
		bufferSize: bufferSize,
		pending:    xsync.NewMapOf[uint64, pendingRequest](),
		bufferPool: &sync.Pool{
			New: func() interface{} {
				return make([]byte, bufferSize)
			},
		},
	}
}

// --------------------------------------------------------------------------
// Interface Methods (docu see transport.IPSServerTransport)
// --------------------------------------------------------------------------

func (t *serverTransport) RegisterHandler(handler transport.ServerHandleFunc) {
	t.handler = handler
}

func (t *serverTransport) Listen(config common.ServerConfig) error {
	t.config = config

	// Create listener using the connector
	listener, err := t.connector.Listen(config)
	if err != nil {
		return fmt.Errorf("failed to create listener: %v", err)
	}
	t.listener = listener

	Logger.Infof("Starting %s server on %s", t.connector.GetName(), config.Endpoint)

	// Accept connections
	for {
		conn, err := listener.Accept()
		if err != nil {
			if t.closed.Load() {
				return nil
			}
			Logger.Errorf("Accept error: %v", err)
			continue
		}

		// Handle the connection in a goroutine
		go t.handleConnection(conn)
	}
}

func (t *serverTransport) Respond(meta common.KVMeta, kv common.KVPairs) error {
	p, ok := t.pending.LoadAndDelete(meta.RequestID)
	if !ok {
		return fmt.Errorf("no pending request %d", meta.RequestID)
	}

	// restore the client's request id in the envelope
	meta.RequestID = p.clientID
	data, err := t.serializer.Serialize(common.Message{Meta: meta, KV: kv})
	if err != nil {
		return fmt.Errorf("failed to serialize response: %v", err)
	}

	p.writeMu.Lock()
	defer p.writeMu.Unlock()

	if timeout := time.Duration(t.config.TimeoutSecond) * time.Second; timeout > 0 {
		if err := p.conn.SetWriteDeadline(time.Now().Add(timeout)); err != nil {
			return fmt.Errorf("failed to set write deadline: %v", err)
		}
	}
	return writeFrame(p.conn, p.clientID, data)
}

func (t *serverTransport) Close() error {
	if t.closed.CompareAndSwap(false, true) && t.listener != nil {
		return t.listener.Close()
	}
	return nil
}

// --------------------------------------------------------------------------
// Helper Methods
// --------------------------------------------------------------------------

// handleConnection reads frames from one connection and feeds them to the
// handler in arrival order, which gives each connection the sequential
// ordering the per-key state machine relies on.
func (t *serverTransport) handleConnection(conn net.Conn) {
	defer conn.Close()

	// writes from engine strands and reads from this loop share the conn
	var writeMu sync.Mutex

	for {
		// Get a buffer from the pool
		buf := t.bufferPool.Get().([]byte)

		clientID, data, err := readFrame(conn, buf)
		if err != nil {
			t.bufferPool.Put(buf)
			Logger.Infof("connection closed: %v", err)
			return
		}

		var msg common.Message
		if err := t.serializer.Deserialize(data, &msg); err != nil {
			t.bufferPool.Put(buf)
			Logger.Errorf("failed to deserialize request: %v", err)
			return
		}
		t.bufferPool.Put(buf)

		// swap in a server-side id the response path can route on
		serverID := t.nextID.Add(1)
		t.pending.Store(serverID, pendingRequest{conn: conn, writeMu: &writeMu, clientID: clientID})
		msg.Meta.RequestID = serverID

		t.handler(msg.Meta, msg.KV)
	}
}
