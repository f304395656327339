// Package secdesc encodes and decodes self-relative security
// descriptor blobs into an inspectable structure of owner,
// group and access-control lists.
//
// The codec checks structural well-formedness only. It does not
// interpret access-control semantics; that is the kernel's job.
// Blobs produced by Encode decode and re-encode byte for byte.
package secdesc
