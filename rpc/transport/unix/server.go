package unix

import (
	"fmt"
	"net"
	"os"

	"github.com/gradflow/gradflow/rpc/common"
	"github.com/gradflow/gradflow/rpc/serializer"
	"github.com/gradflow/gradflow/rpc/transport"
	"github.com/gradflow/gradflow/rpc/transport/base"
)

const (
	defaultBufferSize = 512 * 1024 // 512 KB
)

// serverConnector implements the IServerConnector interface for Unix sockets
type serverConnector struct{}

// --------------------------------------------------------------------------
// Interface Methods (docu see base.IServerConnector)
// --------------------------------------------------------------------------

func (c *serverConnector) GetName() string {
	return "unix"
}

func (c *serverConnector) Listen(config common.ServerConfig) (net.Listener, error) {
	// Remove a stale socket file from a previous run
	if err := os.Remove(config.Endpoint); err != nil && !os.IsNotExist(err) {
		return nil, fmt.Errorf("failed to remove stale socket: %v", err)
	}

	listener, err := net.Listen("unix", config.Endpoint)
	if err != nil {
		return nil, fmt.Errorf("failed to create unix socket: %v", err)
	}

	return listener, nil
}

// --------------------------------------------------------------------------
// Server Transport Factory Method
// --------------------------------------------------------------------------

// NewUnixServerTransport creates a new Unix socket server transport with the
// given envelope serializer
func NewUnixServerTransport(s serializer.IRPCSerializer) transport.IPSServerTransport {
	return base.NewBaseServerTransport(&serverConnector{}, s, defaultBufferSize)
}
