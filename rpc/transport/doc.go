// Package transport defines the pluggable transport abstraction between
// workers and the aggregation server, together with its implementations:
// stream-socket transports (tcp, unix) built on a shared frame codec, and
// an in-process loopback used by tests and the bench harness.
//
// The transport is a collaborator of the aggregation core, not part of it:
// the core only consumes RegisterHandler and Respond.
package transport
