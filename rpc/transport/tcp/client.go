package tcp

import (
	"fmt"
	"net"

	"github.com/gradflow/gradflow/rpc/common"
	"github.com/gradflow/gradflow/rpc/serializer"
	"github.com/gradflow/gradflow/rpc/transport"
	"github.com/gradflow/gradflow/rpc/transport/base"
)

// clientConnector implements the IClientConnector interface for TCP sockets
type clientConnector struct{}

// --------------------------------------------------------------------------
// Interface Methods (docu see base.IClientConnector)
// --------------------------------------------------------------------------

func (c *clientConnector) GetName() string {
	return "tcp"
}

func (c *clientConnector) Dial(config common.ClientConfig) (net.Conn, error) {
	conn, err := net.Dial("tcp", config.Endpoint)
	if err != nil {
		return nil, fmt.Errorf("failed to dial %s: %v", config.Endpoint, err)
	}

	if err := UpgradeConnection(conn, config.Transport); err != nil {
		conn.Close()
		return nil, err
	}
	return conn, nil
}

// --------------------------------------------------------------------------
// Client Transport Factory Method
// --------------------------------------------------------------------------

// NewTCPClientTransport creates a new TCP client transport with the given
// envelope serializer
func NewTCPClientTransport(s serializer.IRPCSerializer) transport.IPSClientTransport {
	return base.NewBaseClientTransport(&clientConnector{}, s)
}
