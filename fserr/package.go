// Package fserr defines the closed set of error kinds that may
// cross the boundary between a user filesystem implementation
// and the dispatch layer.
//
// The dispatch layer converts each kind to exactly one native
// status code, so an error that is not classified here will be
// reported as Internal. The package has no dependencies on the
// windows API, allowing filesystem implementations and their
// tests to build on any platform.
package fserr
