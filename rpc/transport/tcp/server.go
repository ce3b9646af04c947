package tcp

import (
	"fmt"
	"net"
	"time"

	"github.com/gradflow/gradflow/rpc/common"
	"github.com/gradflow/gradflow/rpc/serializer"
	"github.com/gradflow/gradflow/rpc/transport"
	"github.com/gradflow/gradflow/rpc/transport/base"
)

const (
	defaultBufferSize = 512 * 1024 // 512 KB
)

// serverConnector implements the IServerConnector interface for TCP sockets
type serverConnector struct{}

// --------------------------------------------------------------------------
// Interface Methods (docu see base.IServerConnector)
// --------------------------------------------------------------------------

func (c *serverConnector) GetName() string {
	return "tcp"
}

func (c *serverConnector) Listen(config common.ServerConfig) (net.Listener, error) {
	listener, err := net.Listen("tcp", config.Endpoint)
	if err != nil {
		return nil, fmt.Errorf("failed to create TCP socket: %v", err)
	}

	return listener, nil
}

// UpgradeConnection applies performance optimizations to a TCP connection
// using the socket configuration values
func UpgradeConnection(conn net.Conn, sc common.SocketConf) error {
	tcpConn, ok := conn.(*net.TCPConn)
	if !ok {
		return nil // Not a TCP connection, nothing to upgrade
	}

	// Disable Nagle's algorithm (TCPNoDelay) if configured
	if err := tcpConn.SetNoDelay(sc.TCPNoDelay); err != nil {
		return err
	}

	// Set socket write buffer size if configured
	if sc.WriteBufferSize > 0 {
		if err := tcpConn.SetWriteBuffer(sc.WriteBufferSize); err != nil {
			return err
		}
	}

	// Set socket read buffer size if configured
	if sc.ReadBufferSize > 0 {
		if err := tcpConn.SetReadBuffer(sc.ReadBufferSize); err != nil {
			return err
		}
	}

	// Enable TCP keep-alive if configured
	if sc.TCPKeepAliveSec > 0 {
		if err := tcpConn.SetKeepAlive(true); err != nil {
			return err
		}
		if err := tcpConn.SetKeepAlivePeriod(time.Duration(sc.TCPKeepAliveSec) * time.Second); err != nil {
			return err
		}
	}

	// Set TCP linger option if configured
	if sc.TCPLingerSec > 0 {
		if err := tcpConn.SetLinger(sc.TCPLingerSec); err != nil {
			return err
		}
	}

	return nil
}

// --------------------------------------------------------------------------
// Server Transport Factory Method
// --------------------------------------------------------------------------

// NewTCPServerTransport creates a new TCP server transport with the given
// envelope serializer
func NewTCPServerTransport(s serializer.IRPCSerializer) transport.IPSServerTransport {
	return base.NewBaseServerTransport(&serverConnector{}, s, defaultBufferSize)
}
