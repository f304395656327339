// Package gofs adapts a filesystem expressed through Go's os
// style interfaces into a mountable host trait.
//
// The backing filesystem only needs files and directories, both
// opened through OpenFile and exposed as a File supporting read,
// write (append or random), close, seek, sync, readdir, truncate
// and stat. On the filesystem level it supports Stat, OpenFile,
// Mkdir, Remove and Rename; Remove and Rename are never called
// while open handles remain under the affected path.
//
// This makes it work even when the backing filesystem is a
// native directory reached through the standard os package.
package gofs
