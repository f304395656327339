package winfs

import (
	"io"
	"os"
	"syscall"

	"github.com/pkg/errors"
	"golang.org/x/sys/windows"

	"github.com/mirrorfs/winfs/fserr"
)

// ntStatusNoRef is returned when the native volume no longer
// maps to a live host.
const ntStatusNoRef = windows.STATUS_DEVICE_OFF_LINE

// kindNTStatusMap is the single place where the error taxonomy
// meets NTSTATUS. Every delegate funnels its error through it.
var kindNTStatusMap = map[fserr.Kind]windows.NTStatus{
	fserr.NotFound:                  windows.STATUS_OBJECT_NAME_NOT_FOUND,
	fserr.AlreadyExists:             windows.STATUS_OBJECT_NAME_COLLISION,
	fserr.AccessDenied:              windows.STATUS_ACCESS_DENIED,
	fserr.InvalidHandle:             windows.STATUS_INVALID_HANDLE,
	fserr.InvalidName:               windows.STATUS_OBJECT_NAME_INVALID,
	fserr.NameTooLong:               windows.STATUS_NAME_TOO_LONG,
	fserr.NotADirectory:             windows.STATUS_NOT_A_DIRECTORY,
	fserr.IsADirectory:              windows.STATUS_FILE_IS_A_DIRECTORY,
	fserr.DirectoryNotEmpty:         windows.STATUS_DIRECTORY_NOT_EMPTY,
	fserr.EntryTooLarge:             windows.STATUS_BUFFER_OVERFLOW,
	fserr.InvalidSecurityDescriptor: windows.STATUS_INVALID_SECURITY_DESCR,
	fserr.Unsupported:               windows.STATUS_INVALID_DEVICE_REQUEST,
	fserr.Internal:                  windows.STATUS_INTERNAL_ERROR,
}

// syscallNTStatusMap covers filesystems that surface raw errno
// values, typically passthrough ones wrapping the os package.
var syscallNTStatusMap = map[syscall.Errno]windows.NTStatus{
	syscall.Errno(0): windows.STATUS_SUCCESS,

	// Application errors conversion map.
	syscall.ENOENT:  windows.STATUS_OBJECT_NAME_NOT_FOUND,
	syscall.EEXIST:  windows.STATUS_OBJECT_NAME_COLLISION,
	syscall.EPERM:   windows.STATUS_ACCESS_DENIED,
	syscall.ENOTDIR: windows.STATUS_NOT_A_DIRECTORY,
	syscall.EISDIR:  windows.STATUS_FILE_IS_A_DIRECTORY,
	syscall.EINVAL:  windows.STATUS_INVALID_PARAMETER,

	// System errors conversion map.
	syscall.ERROR_ACCESS_DENIED:   windows.STATUS_ACCESS_DENIED,
	syscall.ERROR_NOT_FOUND:       windows.STATUS_OBJECT_NAME_NOT_FOUND,
	syscall.ERROR_FILE_EXISTS:     windows.STATUS_OBJECT_NAME_COLLISION,
	syscall.ERROR_ALREADY_EXISTS:  windows.STATUS_OBJECT_NAME_COLLISION,
	syscall.ERROR_BUFFER_OVERFLOW: windows.STATUS_BUFFER_OVERFLOW,
	syscall.ERROR_DIR_NOT_EMPTY:   windows.STATUS_DIRECTORY_NOT_EMPTY,
}

func convertNTStatus(err error) windows.NTStatus {
	if err == nil {
		return windows.STATUS_SUCCESS
	}
	if kind := fserr.KindOf(err); kind != fserr.Internal {
		if status, ok := kindNTStatusMap[kind]; ok {
			return status
		}
	}
	var status windows.NTStatus
	if errors.As(err, &status) {
		return status
	}
	var errno syscall.Errno
	if errors.As(err, &errno) {
		if status, ok := syscallNTStatusMap[errno]; ok {
			return status
		}
	}
	if errors.Is(err, io.EOF) {
		return windows.STATUS_END_OF_FILE
	}
	if errors.Is(err, os.ErrExist) {
		return windows.STATUS_OBJECT_NAME_COLLISION
	}
	if errors.Is(err, os.ErrNotExist) {
		return windows.STATUS_OBJECT_NAME_NOT_FOUND
	}
	if errors.Is(err, os.ErrPermission) {
		return windows.STATUS_ACCESS_DENIED
	}
	return windows.STATUS_INTERNAL_ERROR
}
