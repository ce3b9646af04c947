// Package serializer provides the envelope codecs used by the byte-oriented
// transports: a hand-rolled binary format optimized for the hot push/pull
// path, a JSON codec for debuggability, and gob as the conservative
// fallback. All three are interchangeable behind IRPCSerializer; both sides
// of a connection must agree on the choice.
package serializer
