package winfs

import (
	"os"
	"path/filepath"
	"runtime"
	"sync"
	"sync/atomic"
	"syscall"
	"unsafe"

	"github.com/pkg/errors"
	"golang.org/x/sys/windows"

	"github.com/mirrorfs/winfs/filetime"
	"github.com/mirrorfs/winfs/fserr"
	"github.com/mirrorfs/winfs/handlemap"
)

// Host drives one mounted filesystem: it owns the native volume
// object, the dispatcher threads serving it, and the handle
// registry of its open files.
//
// A Host moves through an explicit lifecycle: Create builds the
// native volume, Start launches the dispatcher, Mount attaches
// the mount point, Stop detaches and drains, Delete destroys
// the volume. Out of order calls fail with
// fserr.InvalidLifecycleState. Several independent Hosts may
// coexist in one process.
type Host struct {
	opt  *option
	fsys Filesystem

	getVolumeInfo      BehaviourGetVolumeInfo
	setVolumeLabel     BehaviourSetVolumeLabel
	getSecurityByName  BehaviourGetSecurityByName
	create             BehaviourCreate
	overwrite          BehaviourOverwrite
	cleanup            BehaviourCleanup
	read               BehaviourRead
	write              BehaviourWrite
	flush              BehaviourFlush
	getFileInfo        BehaviourGetFileInfo
	setBasicInfo       BehaviourSetBasicInfo
	setFileSize        BehaviourSetFileSize
	canDelete          BehaviourCanDelete
	setDelete          BehaviourSetDelete
	rename             BehaviourRename
	getSecurity        BehaviourGetSecurity
	setSecurity        BehaviourSetSecurity
	readDirectory      BehaviourReadDirectory
	getDirInfoByName   BehaviourGetDirInfoByName
	getReparsePoint    BehaviourGetReparsePoint
	setReparsePoint    BehaviourSetReparsePoint
	deleteReparsePoint BehaviourDeleteReparsePoint
	getStreamInfo      BehaviourGetStreamInfo
	deviceIoControl    BehaviourDeviceIoControl

	handles  *handlemap.Map
	inflight sync.WaitGroup
	lc       lifecycle

	// ops must stay referenced from the Host for as long as the
	// native volume exists, since FspFileSystemCreate keeps a
	// raw pointer to it that the garbage collector cannot see.
	ops        *FSP_FILE_SYSTEM_INTERFACE
	fileSystem *FSP_FILE_SYSTEM
	key        uintptr
	mountPoint string
}

var hostKeys atomic.Uintptr

// NewHost prepares a host for the filesystem. The filesystem's
// optional behaviours are probed once here; the set cannot
// change afterwards.
func NewHost(fsys Filesystem, opts ...Option) (*Host, error) {
	if fsys == nil {
		return nil, errors.New("invalid nil fsys parameter")
	}
	opt := newOption()
	Options(opts...)(opt)
	h := &Host{
		opt:     opt,
		fsys:    fsys,
		handles: handlemap.New(),
		ops:     &FSP_FILE_SYSTEM_INTERFACE{},
	}
	h.bindBehaviours()
	return h, nil
}

func (h *Host) bindBehaviours() {
	h.ops.Open = go_delegateOpen
	h.ops.Close = go_delegateClose
	if inner, ok := h.fsys.(BehaviourGetVolumeInfo); ok {
		h.getVolumeInfo = inner
		h.ops.GetVolumeInfo = go_delegateGetVolumeInfo
	}
	if inner, ok := h.fsys.(BehaviourSetVolumeLabel); ok {
		h.setVolumeLabel = inner
		h.ops.SetVolumeLabel = go_delegateSetVolumeLabel
	}
	if inner, ok := h.fsys.(BehaviourGetSecurityByName); ok {
		h.getSecurityByName = inner
		h.ops.GetSecurityByName = go_delegateGetSecurityByName
	}
	if inner, ok := h.fsys.(BehaviourCreate); ok {
		h.create = inner
		h.ops.Create = go_delegateCreate
	}
	if inner, ok := h.fsys.(BehaviourOverwrite); ok {
		h.overwrite = inner
		h.ops.Overwrite = go_delegateOverwrite
	}
	if inner, ok := h.fsys.(BehaviourCleanup); ok {
		h.cleanup = inner
		h.ops.Cleanup = go_delegateCleanup
	}
	if inner, ok := h.fsys.(BehaviourRead); ok {
		h.read = inner
		h.ops.Read = go_delegateRead
	}
	if inner, ok := h.fsys.(BehaviourWrite); ok {
		h.write = inner
		h.ops.Write = go_delegateWrite
	}
	if inner, ok := h.fsys.(BehaviourFlush); ok {
		h.flush = inner
		h.ops.Flush = go_delegateFlush
	}
	if inner, ok := h.fsys.(BehaviourGetFileInfo); ok {
		h.getFileInfo = inner
		h.ops.GetFileInfo = go_delegateGetFileInfo
	}
	if inner, ok := h.fsys.(BehaviourSetBasicInfo); ok {
		h.setBasicInfo = inner
		h.ops.SetBasicInfo = go_delegateSetBasicInfo
	}
	if inner, ok := h.fsys.(BehaviourSetFileSize); ok {
		h.setFileSize = inner
		h.ops.SetFileSize = go_delegateSetFileSize
	}
	if inner, ok := h.fsys.(BehaviourSetDelete); ok {
		h.setDelete = inner
		h.ops.SetDelete = go_delegateSetDelete
	} else if inner, ok := h.fsys.(BehaviourCanDelete); ok {
		h.canDelete = inner
		h.ops.CanDelete = go_delegateCanDelete
	}
	if inner, ok := h.fsys.(BehaviourRename); ok {
		h.rename = inner
		h.ops.Rename = go_delegateRename
	}
	if inner, ok := h.fsys.(BehaviourGetSecurity); ok {
		h.getSecurity = inner
		h.ops.GetSecurity = go_delegateGetSecurity
	}
	if inner, ok := h.fsys.(BehaviourSetSecurity); ok {
		h.setSecurity = inner
		h.ops.SetSecurity = go_delegateSetSecurity
	}
	if inner, ok := h.fsys.(BehaviourReadDirectory); ok {
		h.readDirectory = inner
		h.ops.ReadDirectory = go_delegateReadDirectory
	}
	if inner, ok := h.fsys.(BehaviourGetDirInfoByName); ok {
		h.getDirInfoByName = inner
		h.ops.GetDirInfoByName = go_delegateGetDirInfoByName
	}
	if inner, ok := h.fsys.(BehaviourGetReparsePoint); ok {
		h.getReparsePoint = inner
		h.ops.GetReparsePoint = go_delegateGetReparsePoint
	}
	if inner, ok := h.fsys.(BehaviourSetReparsePoint); ok {
		h.setReparsePoint = inner
		h.ops.SetReparsePoint = go_delegateSetReparsePoint
	}
	if inner, ok := h.fsys.(BehaviourDeleteReparsePoint); ok {
		h.deleteReparsePoint = inner
		h.ops.DeleteReparsePoint = go_delegateDeleteReparsePoint
	}
	if inner, ok := h.fsys.(BehaviourGetStreamInfo); ok {
		h.getStreamInfo = inner
		h.ops.GetStreamInfo = go_delegateGetStreamInfo
	}
	if inner, ok := h.fsys.(BehaviourDeviceIoControl); ok {
		h.deviceIoControl = inner
		h.ops.Control = go_delegateControl
	}
}

func (h *Host) volumeAttributes() uint32 {
	attributes := uint32(0)
	if h.opt.caseSensitive {
		attributes |= FspFSAttributeCaseSensitive
	}
	attributes |= FspFSAttributeCasePreservedNames
	attributes |= FspFSAttributeUnicodeOnDisk
	attributes |= FspFSAttributePersistentAcls
	attributes |= FspFSAttributeFlushAndPurgeOnCleanup
	attributes |= FspFSAttributeUmFileContextIsUserContext2
	if h.opt.readOnly {
		attributes |= FspFSAttributeReadOnlyVolume
	}
	if h.opt.passPattern {
		attributes |= FspFSAttributePassQueryDirectoryPattern
	}
	if h.opt.reparsePoints && h.getReparsePoint != nil {
		attributes |= FspFSAttributeReparsePoints
	}
	if h.opt.namedStreams && h.getStreamInfo != nil {
		attributes |= FspFSAttributeNamedStreams
	}
	if h.setDelete != nil {
		attributes |= FspFSAttributePostDispositionWhenNecessaryOnly
	}
	return attributes
}

func (h *Host) volumeParams() (*FSP_FSCTL_VOLUME_PARAMS_V1, error) {
	params := &FSP_FSCTL_VOLUME_PARAMS_V1{}
	params.SizeOfVolumeParamsV1 = uint16(
		unsafe.Sizeof(FSP_FSCTL_VOLUME_PARAMS_V1{}))
	params.SectorSize = h.opt.sectorSize
	params.SectorsPerAllocationUnit = h.opt.sectorsPerUnit
	params.MaxComponentLength = h.opt.maxComponent
	params.VolumeCreationTime = filetime.Timestamp(
		h.opt.creationTime)
	params.VolumeSerialNumber = h.opt.volumeSerial
	if params.VolumeSerialNumber == 0 {
		params.VolumeSerialNumber = uint32(
			params.VolumeCreationTime)
	}
	params.FileInfoTimeout = uint32(
		h.opt.fileInfoTmo.Milliseconds())
	params.FileSystemAttribute = h.volumeAttributes()
	utf16Prefix, err := windows.UTF16FromString(h.opt.volumePrefix)
	if err != nil {
		return nil, errors.Wrapf(err,
			"string %q convert utf16", h.opt.volumePrefix)
	}
	utf16Name, err := windows.UTF16FromString(h.opt.fileSystemName)
	if err != nil {
		return nil, errors.Wrapf(err,
			"string %q convert utf16", h.opt.fileSystemName)
	}
	copy(params.Prefix[:], utf16Prefix)
	copy(params.FileSystemName[:], utf16Name)
	return params, nil
}

const (
	fspNetDeviceName  = "WinFsp.Net"
	fspDiskDeviceName = "WinFsp.Disk"
)

// Create builds the native volume object. The host becomes
// resolvable from dispatched callbacks, though none arrive
// before Start.
func (h *Host) Create() error {
	return h.lc.transition(StateCreated, func() error {
		if err := tryLoadWinFSP(); err != nil {
			return fserr.Wrap(fserr.CreationFailed, err,
				"load winfsp")
		}
		params, err := h.volumeParams()
		if err != nil {
			return fserr.Wrap(fserr.CreationFailed, err,
				"build volume params")
		}
		driverName := fspDiskDeviceName
		if h.opt.volumePrefix != "" {
			driverName = fspNetDeviceName
		}
		utf16Driver, err := windows.UTF16PtrFromString(driverName)
		if err != nil {
			return fserr.Wrap(fserr.CreationFailed, err,
				"convert driver name")
		}
		key := hostKeys.Add(1)
		hostMap.Store(key, h)
		createResult, _, errno := fileSystemCreate.Call(
			uintptr(unsafe.Pointer(utf16Driver)),
			uintptr(unsafe.Pointer(params)),
			uintptr(unsafe.Pointer(h.ops)),
			uintptr(unsafe.Pointer(&h.fileSystem)),
		)
		runtime.KeepAlive(utf16Driver)
		if err := callStatus(createResult, errno); err != nil {
			hostMap.Delete(key)
			return fserr.Wrap(fserr.CreationFailed, err,
				"create file system")
		}
		h.key = key
		h.fileSystem.UserContext = key
		if h.opt.debugLog {
			h.fileSystem.DebugLog = ^uint32(0)
		}
		return nil
	})
}

// Start launches the dispatcher threads. Operations may be
// served from this point on, even before a mount point exists.
func (h *Host) Start() error {
	return h.lc.transition(StateStarted, func() error {
		startResult, _, errno := startDispatcher.Call(
			uintptr(unsafe.Pointer(h.fileSystem)), uintptr(0),
		)
		if err := callStatus(startResult, errno); err != nil {
			return fserr.Wrap(fserr.StartFailed, err,
				"start dispatcher")
		}
		return nil
	})
}

// Mount attaches the volume to the mount point, a drive letter
// like "X:" or an empty directory path.
func (h *Host) Mount(mountPoint string) error {
	return h.lc.transition(StateMounted, func() error {
		utf16MountPoint, err := windows.UTF16PtrFromString(
			mountPoint)
		if err != nil {
			return fserr.Wrap(fserr.MountFailed, err,
				"convert mount point")
		}
		mountResult, _, errno := setMountPoint.Call(
			uintptr(unsafe.Pointer(h.fileSystem)),
			uintptr(unsafe.Pointer(utf16MountPoint)),
		)
		runtime.KeepAlive(utf16MountPoint)
		if err := callStatus(mountResult, errno); err != nil {
			return fserr.Wrap(fserr.MountFailed, err,
				"set mount point")
		}
		h.mountPoint = mountPoint
		if h.opt.iconFile != "" {
			h.applyIcon()
		}
		return nil
	})
}

// applyIcon assigns the configured icon to the mount point
// through a desktop.ini at the volume root. The write goes
// through the mounted filesystem itself, so failures are
// logged and otherwise ignored.
func (h *Host) applyIcon() {
	content := "[.ShellClassInfo]\r\nIconFile=" +
		h.opt.iconFile + "\r\nIconIndex=0\r\n"
	target := filepath.Join(h.mountPoint, "desktop.ini")
	if err := os.WriteFile(target, []byte(content), 0644); err != nil {
		h.opt.logger.WithError(err).Warn("write mount icon")
		return
	}
	utf16Target, err := windows.UTF16PtrFromString(target)
	if err != nil {
		return
	}
	_ = windows.SetFileAttributes(utf16Target,
		windows.FILE_ATTRIBUTE_HIDDEN|windows.FILE_ATTRIBUTE_SYSTEM)
}

// Stop detaches the mount point if any, stops the dispatcher,
// and drains in-flight operations before returning. After Stop
// no callback runs user code anymore.
func (h *Host) Stop() error {
	return h.lc.transition(StateStopped, func() error {
		if h.mountPoint != "" {
			_, _, _ = removeMountPoint.Call(
				uintptr(unsafe.Pointer(h.fileSystem)))
			h.mountPoint = ""
		}
		_, _, _ = stopDispatcher.Call(
			uintptr(unsafe.Pointer(h.fileSystem)))
		h.inflight.Wait()
		return nil
	})
}

// Delete destroys the native volume object and disposes of any
// contexts whose close never arrived.
func (h *Host) Delete() error {
	return h.lc.transition(StateDeleted, func() error {
		if h.fileSystem != nil {
			_, _, _ = fileSystemDelete.Call(
				uintptr(unsafe.Pointer(h.fileSystem)))
			h.fileSystem = nil
		}
		if h.key != 0 {
			hostMap.Delete(h.key)
			h.key = 0
		}
		h.handles.Range(func(
			handle handlemap.Handle, context interface{},
		) bool {
			if _, err := h.handles.Unregister(handle); err == nil {
				h.fsys.Close(context)
			}
			return true
		})
		return nil
	})
}

// State reports the host's lifecycle state.
func (h *Host) State() State {
	return h.lc.current()
}

// MountPoint reports the current mount point, empty when the
// volume is not mounted. Mount and Stop write the mount point
// under the lifecycle lock, so the read takes it too.
func (h *Host) MountPoint() string {
	var mountPoint string
	_ = h.lc.require(func() error {
		mountPoint = h.mountPoint
		return nil
	}, StateMounted)
	return mountPoint
}

// Unmount tears the host down completely, stopping first when
// necessary. Errors on the way down are ignored; the host ends
// up deleted regardless.
func (h *Host) Unmount() {
	_ = h.Stop()
	_ = h.Delete()
}

// Mount creates, starts and mounts a filesystem in one call,
// returning the running host.
func Mount(
	fsys Filesystem, mountPoint string, opts ...Option,
) (*Host, error) {
	h, err := NewHost(fsys, opts...)
	if err != nil {
		return nil, err
	}
	if err := h.Create(); err != nil {
		return nil, err
	}
	if err := h.Start(); err != nil {
		_ = h.Delete()
		return nil, err
	}
	if err := h.Mount(mountPoint); err != nil {
		h.Unmount()
		return nil, err
	}
	return h, nil
}

// callStatus folds the NTSTATUS result and the errno of a DLL
// proc call into one error.
func callStatus(result uintptr, errno error) error {
	status := windows.NTStatus(result)
	if errno == syscall.Errno(0) {
		errno = nil
	}
	if errno == nil && status != windows.STATUS_SUCCESS {
		errno = status
	}
	if errno != nil && errno != windows.STATUS_SUCCESS {
		return errno
	}
	return nil
}

var (
	fileSystemCreate *syscall.Proc
	fileSystemDelete *syscall.Proc
	setMountPoint    *syscall.Proc
	removeMountPoint *syscall.Proc
	startDispatcher  *syscall.Proc
	stopDispatcher   *syscall.Proc
)

// loadWinFSPDLL attempts to locate and load the DLL, the
// library handle will be available from now on.
func loadWinFSPDLL() (*syscall.DLL, error) {
	dllName := ""
	switch runtime.GOARCH {
	case "arm64":
		dllName = "winfsp-a64.dll"
	case "amd64":
		dllName = "winfsp-x64.dll"
	case "386":
		dllName = "winfsp-x86.dll"
	}
	if dllName == "" {
		// Current platform does not have winfsp shipped with
		// it, and we can only report the error.
		return nil, errors.Errorf(
			"winfsp unsupported arch %q", runtime.GOARCH)
	}
	dll, _ := syscall.LoadDLL(dllName)
	if dll != nil {
		return dll, nil
	}

	// Well, we must look up the registry to find the WinFsp
	// installation now.
	findInstallError := func(err error) error {
		return errors.Wrapf(err, "winfsp find installation")
	}
	var keyReg syscall.Handle // HKLM\\Software\\WinFsp
	keyName, err := syscall.UTF16PtrFromString("Software\\WinFsp")
	if err != nil {
		return nil, findInstallError(err)
	}
	if err := syscall.RegOpenKeyEx(
		syscall.HKEY_LOCAL_MACHINE, keyName, 0,
		syscall.KEY_READ|syscall.KEY_WOW64_32KEY, &keyReg,
	); err != nil {
		return nil, findInstallError(err)
	}
	defer syscall.RegCloseKey(keyReg)
	valueName, err := syscall.UTF16PtrFromString("InstallDir")
	if err != nil {
		return nil, findInstallError(err)
	}
	var pathBuf [syscall.MAX_PATH]uint16
	var valueType, valueSize uint32
	valueSize = uint32(len(pathBuf)) * SIZEOF_WCHAR
	if err := syscall.RegQueryValueEx(
		keyReg, valueName, nil, &valueType,
		(*byte)(unsafe.Pointer(&pathBuf)), &valueSize,
	); err != nil {
		return nil, findInstallError(err)
	}
	if valueType != syscall.REG_SZ {
		return nil, findInstallError(syscall.ERROR_MOD_NOT_FOUND)
	}
	path := pathBuf[:int(valueSize/SIZEOF_WCHAR)]
	if len(path) > 0 && path[len(path)-1] == 0 {
		path = path[:len(path)-1]
	}
	installPath := syscall.UTF16ToString(path)

	// Attempt to load the DLL that we have found.
	return syscall.LoadDLL(filepath.Join(
		installPath, "bin", dllName))
}

var winFSPDLL *syscall.DLL

func findProc(name string, target **syscall.Proc) error {
	proc, err := winFSPDLL.FindProc(name)
	if err != nil {
		return errors.Wrapf(err,
			"winfsp cannot find proc %q", name)
	}
	*target = proc
	return nil
}

func loadProcs(procs map[string]**syscall.Proc) error {
	for name, proc := range procs {
		if err := findProc(name, proc); err != nil {
			return err
		}
	}
	return nil
}

func initWinFSP() error {
	dll, err := loadWinFSPDLL()
	if err != nil {
		return err
	}
	winFSPDLL = dll
	return loadProcs(map[string]**syscall.Proc{
		"FspFileSystemCreate":           &fileSystemCreate,
		"FspFileSystemDelete":           &fileSystemDelete,
		"FspFileSystemSetMountPoint":    &setMountPoint,
		"FspFileSystemRemoveMountPoint": &removeMountPoint,
		"FspFileSystemStartDispatcher":  &startDispatcher,
		"FspFileSystemStopDispatcher":   &stopDispatcher,
	})
}

var (
	tryLoadOnce sync.Once
	tryLoadErr  error
)

// tryLoadWinFSP attempts to load the WinFsp DLL, the work is
// done once and the error is persistent.
func tryLoadWinFSP() error {
	tryLoadOnce.Do(func() {
		tryLoadErr = initWinFSP()
	})
	return tryLoadErr
}
