package winfs

import (
	"golang.org/x/sys/windows"
)

// Native structure and constant declarations, conforming to
// the descriptions in
// https://github.com/winfsp/winfsp/wiki/WinFsp-API-winfsp.h.

const SIZEOF_WCHAR = 2

const (
	FspFsctlTransactReservedKind = iota
	FspFsctlTransactCreateKind
	FspFsctlTransactOverwriteKind
	FspFsctlTransactCleanupKind
	FspFsctlTransactCloseKind
	FspFsctlTransactReadKind
	FspFsctlTransactWriteKind
	FspFsctlTransactQueryInformationKind
	FspFsctlTransactSetInformationKind
	FspFsctlTransactQueryEaKind
	FspFsctlTransactSetEaKind
	FspFsctlTransactFlushBuffersKind
	FspFsctlTransactQueryVolumeInformationKind
	FspFsctlTransactSetVolumeInformationKind
	FspFsctlTransactQueryDirectoryKind
	FspFsctlTransactFileSystemControlKind
	FspFsctlTransactDeviceControlKind
	FspFsctlTransactShutdownKind
	FspFsctlTransactLockControlKind
	FspFsctlTransactQuerySecurityKind
	FspFsctlTransactSetSecurityKind
	FspFsctlTransactQueryStreamInformationKind
	FspFsctlTransactKindCount
)

const (
	FSP_FSCTL_VOLUME_NAME_SIZE    = 64 * SIZEOF_WCHAR
	FSP_FSCTL_VOLUME_PREFIX_SIZE  = 192 * SIZEOF_WCHAR
	FSP_FSCTL_VOLUME_FSNAME_SIZE  = 16 * SIZEOF_WCHAR
	FSP_FSCTL_VOLUME_NAME_SIZEMAX = FSP_FSCTL_VOLUME_NAME_SIZE + FSP_FSCTL_VOLUME_PREFIX_SIZE
)

type FSP_FSCTL_VOLUME_INFO struct {
	TotalSize         uint64
	FreeSize          uint64
	VolumeLabelLength uint16
	VolumeLabel       [32]uint16
}

const (
	FspFSAttribute2VolumeInfoTimeoutValid = 1 << iota
	FspFSAttribute2DirInfoTimeoutValid
	FspFSAttribute2SecurityTimeoutValid
	FspFSAttribute2StreamInfoTimeoutValid
	FspFSAttribute2EaTimeoutValid
)

type FSP_FSCTL_VOLUME_PARAMS_V1 struct {
	SizeOfVolumeParamsV1     uint16
	SectorSize               uint16
	SectorsPerAllocationUnit uint16
	MaxComponentLength       uint16
	VolumeCreationTime       uint64
	VolumeSerialNumber       uint32
	TransactTimeout          uint32
	IrpTimeout               uint32
	IrpCapacity              uint32
	FileInfoTimeout          uint32
	FileSystemAttribute      uint32
	Prefix                   [FSP_FSCTL_VOLUME_PREFIX_SIZE / SIZEOF_WCHAR]uint16
	FileSystemName           [FSP_FSCTL_VOLUME_FSNAME_SIZE / SIZEOF_WCHAR]uint16
	FileSystemAttribute2     uint32
	VolumeInfoTimeout        uint32
	DirInfoTimeout           uint32
	SecurityTimeout          uint32
	StreamInfoTimeout        uint32
	EaTimeout                uint32
	FsextControlCode         uint32
	Reserved32               [1]uint32
	Reserved64               [2]uint64
	// 504 bytes
}

type FSP_FSCTL_FILE_INFO struct {
	FileAttributes uint32
	ReparseTag     uint32
	AllocationSize uint64
	FileSize       uint64
	CreationTime   uint64
	LastAccessTime uint64
	LastWriteTime  uint64
	ChangeTime     uint64
	IndexNumber    uint64
	HardLinks      uint32 // unimplemented: set to 0
	EaSize         uint32
}

type FSP_FSCTL_OPEN_FILE_INFO struct {
	FileInfo           FSP_FSCTL_FILE_INFO
	NormalizedName     *uint16
	NormalizedNameSize uint16
}

type FSP_FSCTL_DIR_INFO struct {
	Size       uint16
	FileInfo   FSP_FSCTL_FILE_INFO
	NextOffset uint64
	Padding0   uint64
	Padding1   uint64
}

type FSP_FSCTL_STREAM_INFO struct {
	Size                 uint16
	StreamSize           uint64
	StreamAllocationSize uint64
}

type FSP_FILE_SYSTEM_INTERFACE struct {
	GetVolumeInfo        uintptr
	SetVolumeLabel       uintptr
	GetSecurityByName    uintptr
	Create               uintptr
	Open                 uintptr
	Overwrite            uintptr
	Cleanup              uintptr
	Close                uintptr
	Read                 uintptr
	Write                uintptr
	Flush                uintptr
	GetFileInfo          uintptr
	SetBasicInfo         uintptr
	SetFileSize          uintptr
	CanDelete            uintptr
	Rename               uintptr
	GetSecurity          uintptr
	SetSecurity          uintptr
	ReadDirectory        uintptr
	ResolveReparsePoints uintptr
	GetReparsePoint      uintptr
	SetReparsePoint      uintptr
	DeleteReparsePoint   uintptr
	GetStreamInfo        uintptr
	GetDirInfoByName     uintptr
	Control              uintptr
	SetDelete            uintptr
	CreateEx             uintptr
	OverwriteEx          uintptr
	GetEa                uintptr
	SetEa                uintptr
	Obsolete0            uintptr
	DispatcherStopped    uintptr
	Reserved             [31]uintptr
}

type FSP_FILE_SYSTEM struct {
	Version                        uint16
	UserContext                    uintptr
	VolumeName                     [FSP_FSCTL_VOLUME_NAME_SIZEMAX / SIZEOF_WCHAR]uint16
	VolumeHandle                   windows.Handle
	EnterOperation, LeaveOperation uintptr
	Operations                     [FspFsctlTransactKindCount]uintptr
	Interface                      *FSP_FILE_SYSTEM_INTERFACE
	DispatcherThread               windows.Handle
	DispatcherThreadCount          uint32
	DispatcherResult               windows.NTStatus
	MountPoint                     *uint16
	MountHandle                    windows.Handle
	DebugLog                       uint32
	OpGuardStrategy                uintptr
	OpGuardLock                    uintptr
	UmFileContextIsUserContext2    uint8
	UmFileContextIsFullContext     uint8
	UmDispatcherFlags              uint16
}
