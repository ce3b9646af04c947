// Package engine implements the sharded aggregation engine: a set of work
// queues (FIFO or priority-scheduled) drained by one dedicated strand per
// shard. Strands execute copy/sum/compress/decompress operations on
// registered tensor buffers, coordinate barrier completion of per-key
// pushes, and match parked pulls against completed merges.
//
// All messages of a key route to the same shard, so per-key processing is
// strictly sequential; cross-key order is unspecified.
package engine
