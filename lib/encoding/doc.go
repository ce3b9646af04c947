// Package encoding provides the bit-level primitives used by the sparsifying
// compressors: an MSB-first bit-packed writer/reader over an arbitrary
// unsigned word type, the Elias-delta variable-length integer codec, and a
// xorshift128+ pseudo random number generator with pairable seeding.
package encoding
