// Package filetime converts between golang's timestamps and
// file timestamps, which count 100-nanosecond intervals since
// January 1, 1601 (UTC).
//
// The file timestamp must fit in with a uint64 number, so that
// we can store uint64 instead of concrete values.
package filetime
