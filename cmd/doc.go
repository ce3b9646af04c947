// Package cmd implements the gradflow command line interface: the serve
// command runs the aggregation server, bench drives an in-process push/pull
// load against it.
package cmd
