package unix

import (
	"fmt"
	"net"

	"github.com/gradflow/gradflow/rpc/common"
	"github.com/gradflow/gradflow/rpc/serializer"
	"github.com/gradflow/gradflow/rpc/transport"
	"github.com/gradflow/gradflow/rpc/transport/base"
)

// clientConnector implements the IClientConnector interface for Unix sockets
type clientConnector struct{}

// --------------------------------------------------------------------------
// Interface Methods (docu see base.IClientConnector)
// --------------------------------------------------------------------------

func (c *clientConnector) GetName() string {
	return "unix"
}

func (c *clientConnector) Dial(config common.ClientConfig) (net.Conn, error) {
	conn, err := net.Dial("unix", config.Endpoint)
	if err != nil {
		return nil, fmt.Errorf("failed to dial %s: %v", config.Endpoint, err)
	}
	return conn, nil
}

// --------------------------------------------------------------------------
// Client Transport Factory Method
// --------------------------------------------------------------------------

// NewUnixClientTransport creates a new Unix socket client transport with the
// given envelope serializer
func NewUnixClientTransport(s serializer.IRPCSerializer) transport.IPSClientTransport {
	return base.NewBaseClientTransport(&clientConnector{}, s)
}
