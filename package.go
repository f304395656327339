// Package winfs hosts user-mode filesystems on Windows through
// the WinFsp driver, invoked in a DLLProc+NonCGO manner.
//
// A filesystem implements the Filesystem interface plus any of
// the optional Behaviour interfaces; the host marshals kernel
// requests into those methods and the results back. The
// marshaling building blocks (wide strings, security
// descriptors, directory buffers, handle tokens) live in their
// own portable subpackages and work on any platform; only the
// dispatch and mount surfaces require windows.
package winfs
