// Package compressor implements the gradient compression framework: the
// compressor contract, a name-keyed constructor registry that builds
// decorator chains (error feedback, momentum) around a leaf compressor, the
// ASCII kwargs codec used by configuration requests, and the file-backed
// learning-rate side channel.
//
// A compressor transforms tensor bytes in place or into caller-provided
// output buffers. Stateful decorators (error feedback, momentum) own their
// internal buffers and must only be driven from the single engine strand
// that processes their key.
package compressor
