// Package tcp provides the TCP implementation of the push/pull transport.
// It contributes listen/dial connectors on top of the shared base transport.
// Dialed connections get socket tuning (no-delay, keep-alive, linger, buffer
// sizes); accepted connections are used with the system defaults.
package tcp
