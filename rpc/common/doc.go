// Package common holds the types shared between the transport layer, the
// serializers and the aggregation server: the key-value request protocol
// (request metadata, packed command tags, zero-copy value arrays), the
// server configuration with its environment bindings, and the process-wide
// logger setup.
package common
