// Package inproc provides an in-process loopback transport: requests are
// handed to the server handler on the caller's goroutine and responses are
// matched back to the waiting caller by request id. It backs the tests and
// the bench harness; no bytes ever hit a socket.
package inproc

import (
	"fmt"
	"sync"
	"sync/atomic"

	"github.com/puzpuzpuz/xsync/v3"

	"github.com/gradflow/gradflow/rpc/common"
	"github.com/gradflow/gradflow/rpc/transport"
)

// Transport implements both halves of the transport contract over shared
// memory. A single instance is shared by the server and all workers.
type Transport struct {
	handler transport.ServerHandleFunc

	nextID  atomic.Uint64
	pending *xsync.MapOf[uint64, chan common.KVPairs]

	closed  atomic.Bool
	serving sync.WaitGroup
	stop    chan struct{}
}

// New creates an unconnected loopback transport.
func New() *Transport {
	return &Transport{
		pending: xsync.NewMapOf[uint64, chan common.KVPairs](),
		stop:    make(chan struct{}),
	}
}

// --------------------------------------------------------------------------
// Server Side (docu see transport.IPSServerTransport)
// --------------------------------------------------------------------------

func (t *Transport) RegisterHandler(handler transport.ServerHandleFunc) {
	t.handler = handler
}

func (t *Transport) Respond(meta common.KVMeta, kv common.KVPairs) error {
	ch, ok := t.pending.LoadAndDelete(meta.RequestID)
	if !ok {
		return fmt.Errorf("no pending request %d", meta.RequestID)
	}

	// detach from server-owned memory, like a socket write would
	out := common.KVPairs{
		Keys: append([]uint64(nil), kv.Keys...),
		Lens: append([]int32(nil), kv.Lens...),
	}
	if kv.Vals != nil {
		out.Vals = append([]byte(nil), kv.Vals...)
	}

	ch <- out
	return nil
}

func (t *Transport) Listen(_ common.ServerConfig) error {
	t.serving.Add(1)
	defer t.serving.Done()
	<-t.stop
	return nil
}

func (t *Transport) Close() error {
	if t.closed.CompareAndSwap(false, true) {
		close(t.stop)
	}
	t.serving.Wait()
	return nil
}

// --------------------------------------------------------------------------
// Client Side (docu see transport.IPSClientTransport)
// --------------------------------------------------------------------------

func (t *Transport) Connect(_ common.ClientConfig) error {
	if t.handler == nil {
		return fmt.Errorf("no handler registered")
	}
	return nil
}

// Do runs the request through the server handler and blocks until the
// response arrives. The response may be dispatched by an engine strand long
// after the handler returned; the channel carries it back.
func (t *Transport) Do(meta common.KVMeta, kv common.KVPairs) (common.KVPairs, error) {
	if t.closed.Load() {
		return common.KVPairs{}, fmt.Errorf("transport closed")
	}

	meta.RequestID = t.nextID.Add(1)
	ch := make(chan common.KVPairs, 1)
	t.pending.Store(meta.RequestID, ch)

	t.handler(meta, kv)

	return <-ch, nil
}
