// Package server implements the aggregation server: the per-key tensor
// store, the push/pull request handler state machine, the memoized response
// paths, and the process lifecycle around the sharded engine.
//
// A key moves through uninitialized -> initialized -> push-in-progress ->
// merged -> drained, driven by the push/pull requests of N workers. In sync
// mode contributions are merged behind a barrier and pulls are answered
// once the merge seals; in async mode every push folds into the store
// immediately and pulls short-circuit.
package server
