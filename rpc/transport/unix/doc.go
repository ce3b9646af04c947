// Package unix provides the Unix domain socket implementation of the
// push/pull transport for single-host deployments where workers and the
// server share a machine.
package unix
