package filetime

import (
	"syscall"
	"unsafe"
)

// Filetime folds a syscall filetime into its uint64 form.
func Filetime(t syscall.Filetime) uint64 {
	return *(*uint64)(unsafe.Pointer(&t))
}
