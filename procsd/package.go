// Package procsd retrieves the calling process' security
// descriptor, used as the default owner for file trees that do
// not track ownership themselves.
//
// The descriptor is captured once in self-relative blob form.
// A process is very unlikely to change its principal while
// running, so the capture is never refreshed.
package procsd
