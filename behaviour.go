package winfs

import "github.com/mirrorfs/winfs/dirbuf"

// Context is the per-open-file state owned by the filesystem
// implementation. The host never inspects it; it only carries
// it between the open call and the operations on the same file.
type Context interface{}

// VolumeInfo describes the mounted volume.
type VolumeInfo struct {
	TotalSize uint64
	FreeSize  uint64
	Label     string
}

// StreamInfo describes one alternate data stream of a file. An
// empty Name denotes the unnamed data stream.
type StreamInfo struct {
	Name           string
	Size           uint64
	AllocationSize uint64
}

// Filesystem defines the mandatory methods.
//
// Other methods might be implemented and will be checked upon
// creating the filesystem host. File information returned from
// Open uses the record layout of the dirbuf package; security
// descriptors cross the boundary as self-relative blobs which
// the secdesc package can decode.
type Filesystem interface {
	// Open the file specified by name, returning the context
	// carried into subsequent operations on it.
	Open(
		name string, createOptions, grantedAccess uint32,
	) (Context, *dirbuf.FileInfo, error)

	// Close disposes of an open file context. It is called
	// exactly once per successful Open or Create.
	Close(file Context)
}

// BehaviourGetVolumeInfo retrieves volume info.
type BehaviourGetVolumeInfo interface {
	GetVolumeInfo() (*VolumeInfo, error)
}

// BehaviourSetVolumeLabel sets the volume label.
type BehaviourSetVolumeLabel interface {
	SetVolumeLabel(label string) (*VolumeInfo, error)
}

// GetSecurityByNameFlags indicates the content that the caller
// cares about. The callee can return zero values for the items
// it is not interested in.
type GetSecurityByNameFlags uint8

const (
	GetExistenceOnly = GetSecurityByNameFlags(iota)
	GetAttributesByName
	GetSecurityByName
	GetAttributesSecurity
)

// BehaviourGetSecurityByName retrieves file attributes and the
// security descriptor blob by file name, without opening it.
type BehaviourGetSecurityByName interface {
	GetSecurityByName(
		name string, flags GetSecurityByNameFlags,
	) (attributes uint32, descriptor []byte, err error)
}

// BehaviourCreate creates a new file or directory. The
// descriptor is the self-relative blob assigned at creation,
// nil when the creator supplied none.
type BehaviourCreate interface {
	Create(
		name string,
		createOptions, grantedAccess, fileAttributes uint32,
		descriptor []byte, allocationSize uint64,
	) (Context, *dirbuf.FileInfo, error)
}

// BehaviourOverwrite truncates an open file in place.
type BehaviourOverwrite interface {
	Overwrite(
		file Context, attributes uint32,
		replaceAttributes bool, allocationSize uint64,
	) (*dirbuf.FileInfo, error)
}

// BehaviourCleanup runs before a file's last handle goes away.
// The flags are the FspCleanup* bits.
type BehaviourCleanup interface {
	Cleanup(file Context, name string, flags uint32)
}

// BehaviourRead reads an open file.
type BehaviourRead interface {
	Read(file Context, buf []byte, offset uint64) (int, error)
}

// BehaviourWrite writes an open file.
type BehaviourWrite interface {
	Write(
		file Context, buf []byte, offset uint64,
		writeToEndOfFile, constrainedIo bool,
	) (int, *dirbuf.FileInfo, error)
}

// BehaviourFlush flushes a file, or the whole volume when the
// context is nil.
type BehaviourFlush interface {
	Flush(file Context) (*dirbuf.FileInfo, error)
}

// BehaviourGetFileInfo retrieves stat of an open file.
type BehaviourGetFileInfo interface {
	GetFileInfo(file Context) (*dirbuf.FileInfo, error)
}

// SetBasicInfoFlags specifies the set of modified values in a
// SetBasicInfo call.
type SetBasicInfoFlags uint32

const (
	SetBasicInfoAttributes = SetBasicInfoFlags(1 << iota)
	SetBasicInfoCreationTime
	SetBasicInfoLastAccessTime
	SetBasicInfoLastWriteTime
	SetBasicInfoChangeTime
)

// BehaviourSetBasicInfo sets attributes and timestamps of an
// open file. Only the values selected by flags are meaningful.
type BehaviourSetBasicInfo interface {
	SetBasicInfo(
		file Context, flags SetBasicInfoFlags, attributes uint32,
		creationTime, lastAccessTime, lastWriteTime,
		changeTime uint64,
	) (*dirbuf.FileInfo, error)
}

// BehaviourSetFileSize sets a file's size or allocation size.
type BehaviourSetFileSize interface {
	SetFileSize(
		file Context, newSize uint64, setAllocationSize bool,
	) (*dirbuf.FileInfo, error)
}

// BehaviourCanDelete detects whether the file can be deleted.
type BehaviourCanDelete interface {
	CanDelete(file Context, name string) error
}

// BehaviourSetDelete marks or unmarks an open file for deletion
// on close. When implemented it is preferred over CanDelete.
type BehaviourSetDelete interface {
	SetDelete(file Context, name string, deleteFile bool) error
}

// BehaviourRename renames a file or directory.
type BehaviourRename interface {
	Rename(
		file Context, source, target string,
		replaceIfExists bool,
	) error
}

// BehaviourGetSecurity retrieves the security descriptor blob
// of an open file.
type BehaviourGetSecurity interface {
	GetSecurity(file Context) ([]byte, error)
}

// BehaviourSetSecurity modifies the security descriptor of an
// open file. The information bits select which parts of the
// incoming blob apply.
type BehaviourSetSecurity interface {
	SetSecurity(
		file Context, information uint32, descriptor []byte,
	) error
}

// BehaviourReadDirectory enumerates a directory.
//
// The implementation calls fill once per entry, in a stable
// deterministic order, starting strictly after marker when
// marker is non-empty. When fill reports false the buffer is
// full and enumeration must stop; a later call resumes it from
// the new marker. The pattern is a hint and may be ignored.
type BehaviourReadDirectory interface {
	ReadDirectory(
		file Context, pattern, marker string,
		fill func(name string, info *dirbuf.FileInfo) (bool, error),
	) error
}

// BehaviourGetDirInfoByName stats a single child of an open
// directory without opening the child.
type BehaviourGetDirInfoByName interface {
	GetDirInfoByName(
		dir Context, name string,
	) (*dirbuf.FileInfo, error)
}

// BehaviourGetReparsePoint retrieves the reparse data of a
// file, in the raw REPARSE_DATA_BUFFER form.
type BehaviourGetReparsePoint interface {
	GetReparsePoint(file Context, name string) ([]byte, error)
}

// BehaviourSetReparsePoint attaches reparse data to a file.
type BehaviourSetReparsePoint interface {
	SetReparsePoint(file Context, name string, data []byte) error
}

// BehaviourDeleteReparsePoint removes reparse data from a file.
type BehaviourDeleteReparsePoint interface {
	DeleteReparsePoint(
		file Context, name string, data []byte,
	) error
}

// BehaviourGetStreamInfo lists the alternate data streams of an
// open file.
type BehaviourGetStreamInfo interface {
	GetStreamInfo(file Context) ([]StreamInfo, error)
}

// BehaviourDeviceIoControl processes a device control code.
type BehaviourDeviceIoControl interface {
	DeviceIoControl(
		file Context, code uint32, input []byte,
	) ([]byte, error)
}
