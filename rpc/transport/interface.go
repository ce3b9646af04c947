package transport

import (
	"github.com/gradflow/gradflow/rpc/common"
)

// --------------------------------------------------------------------------
// Server Transport
// --------------------------------------------------------------------------

// ServerHandleFunc is a function type that handles incoming requests.
// It is called by a server transport layer for every received push or pull.
// Responses are dispatched separately through Respond, keyed by the request
// metadata, because the engine may answer a parked pull long after the
// handler returned.
type ServerHandleFunc func(meta common.KVMeta, kv common.KVPairs)

// IPSServerTransport is the interface for the server-side transport layer.
type IPSServerTransport interface {
	// RegisterHandler registers the handler called for every request.
	// Must be called before Listen.
	RegisterHandler(handler ServerHandleFunc)
	// Respond sends a response for the request identified by meta.
	// The kv.Vals region may alias server-owned memory; it is fully
	// consumed before Respond returns.
	Respond(meta common.KVMeta, kv common.KVPairs) error
	// Listen starts the transport layer and blocks serving requests until
	// Close is called.
	Listen(config common.ServerConfig) error
	// Close stops the listener.
	Close() error
}

// --------------------------------------------------------------------------
// Client Transport
// --------------------------------------------------------------------------

// IPSClientTransport is the worker-side counterpart used by the bench
// harness and the tests.
type IPSClientTransport interface {
	// Connect initializes the transport with the given configuration
	Connect(config common.ClientConfig) error
	// Do sends one request and waits for the matching response.
	Do(meta common.KVMeta, kv common.KVPairs) (common.KVPairs, error)
	// Close closes the transport connection
	Close() error
}
