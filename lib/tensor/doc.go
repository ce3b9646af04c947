// Package tensor defines the dtype tags and non-owning byte views shared by
// the reducer, the compressors and the server engine.
//
// A Ref never owns its memory. The buffers it points into are owned by the
// per-key store (see the server package) whose lifetime spans the whole
// process, or by a compressor's internal scratch buffers.
package tensor
