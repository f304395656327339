package winfs

// Filesystem attribute flags announced to the kernel when the
// volume is created.
const (
	// basic filesystem attributes
	FspFSAttributeCaseSensitive = 1 << iota
	FspFSAttributeCasePreservedNames
	FspFSAttributeUnicodeOnDisk
	FspFSAttributePersistentAcls
	FspFSAttributeReparsePoints
	FspFSAttributeReparsePointsAccessCheck
	FspFSAttributeNamedStreams
	FspFSAttributeHardLinks
	FspFSAttributeExtendedAttributes
	FspFSAttributeReadOnlyVolume

	// kernel mode flags
	FspFSAttributePostCleanupWhenModifiedOnly
	FspFSAttributePassQueryDirectoryPattern
	FspFSAttributeAlwaysUseDoubleBuffering
	FspFSAttributePassQueryDirectoryFileName
	FspFSAttributeFlushAndPurgeOnCleanup
	FspFSAttributeDeviceControl

	// user mode flags
	FspFSAttributeUmFileContextIsUserContext2
	FspFSAttributeUmFileContextIsFullContext
	FspFSAttributeUmNoReparsePointsDirCheck
	FspFSAttributeUmReservedFlags0
	FspFSAttributeUmReservedFlags1
	FspFSAttributeUmReservedFlags2
	FspFSAttributeUmReservedFlags3
	FspFSAttributeUmReservedFlags4

	// additional kernel mode flags
	FspFSAttributeAllowOpenInKernelMode
	FspFSAttributeCasePreservedExtendedAttributes
	FspFSAttributeWslFeatures
	FspFSAttributeDirectoryMarkerAsNextOffset
	FspFSAttributeRejectIrpPriorToTransact0
	FspFSAttributeSupportsPosixUnlinkRename
	FspFSAttributePostDispositionWhenNecessaryOnly
	FspFSAttributeKmReservedFlags0
)

// Cleanup flags passed to BehaviourCleanup.
const (
	FspCleanupDelete            = 0x01
	FspCleanupSetAllocationSize = 0x02
	FspCleanupSetArchiveBit     = 0x10
	FspCleanupSetLastAccessTime = 0x20
	FspCleanupSetLastWriteTime  = 0x40
	FspCleanupSetChangeTime     = 0x80
)

// Create options relevant to Open and Create.
const (
	FileDirectoryFile    = 0x00000001
	FileNonDirectoryFile = 0x00000040
	FileDeleteOnClose    = 0x00001000
)

// File attribute bits, mirroring the kernel values so portable
// filesystem implementations need not import the windows
// package.
const (
	FileAttributeReadonly     = 0x00000001
	FileAttributeHidden       = 0x00000002
	FileAttributeSystem       = 0x00000004
	FileAttributeDirectory    = 0x00000010
	FileAttributeArchive      = 0x00000020
	FileAttributeNormal       = 0x00000080
	FileAttributeReparsePoint = 0x00000400
)

// InvalidFileAttributes marks the attribute argument of a
// SetBasicInfo call as untouched.
const InvalidFileAttributes = ^uint32(0)

// Security information bits selecting descriptor parts in a
// SetSecurity call.
const (
	OwnerSecurityInformation = 0x00000001
	GroupSecurityInformation = 0x00000002
	DACLSecurityInformation  = 0x00000004
	SACLSecurityInformation  = 0x00000008
)
