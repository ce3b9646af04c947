// Package rpc provides the communication layer of the gradient exchange
// system: the key-value push/pull protocol workers speak to the aggregation
// server.
//
// The package is organized into several subpackages:
//
//   - common: Core data structures and utilities used across the RPC system,
//     including the push/pull protocol types, configuration structures, and
//     logging.
//
//   - transport: Network communication abstractions with pluggable
//     implementations (TCP, Unix sockets, in-process loopback).
//
//   - serializer: Message serialization with multiple format options
//     (Binary, JSON, GOB) for converting between Message envelopes and byte
//     arrays.
package rpc
