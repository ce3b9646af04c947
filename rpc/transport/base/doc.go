// Package base implements the transport core shared by the stream-socket
// transports (tcp, unix): a length-prefixed frame codec with request-id
// correlation, the server accept/read loop, and a multiplexing client
// connection. Concrete transports only contribute a connector that knows
// how to listen or dial.
package base
