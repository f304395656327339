package winfs

import (
	"encoding/binary"
	"io"
	"sync"
	"syscall"
	"time"
	"unsafe"

	"github.com/sirupsen/logrus"
	"golang.org/x/sys/windows"

	"github.com/mirrorfs/winfs/dirbuf"
	"github.com/mirrorfs/winfs/handlemap"
	"github.com/mirrorfs/winfs/wstr"
)

// hostMap resolves the native volume's UserContext back to its
// Host. Keys are opaque tokens, never pointers, so a dangling
// native reference can at worst miss the map.
var hostMap sync.Map

func loadHost(fileSystem uintptr) *Host {
	fsp := (*FSP_FILE_SYSTEM)(unsafe.Pointer(fileSystem))
	value, ok := hostMap.Load(fsp.UserContext)
	if !ok {
		return nil
	}
	return value.(*Host)
}

func utf16PtrToString(ptr uintptr) string {
	utf16Ptr := (*uint16)(unsafe.Pointer(ptr))
	return windows.UTF16PtrToString(utf16Ptr)
}

func enforceBytePtr(ptr uintptr, size int) []byte {
	if ptr == 0 || size <= 0 {
		return nil
	}
	return unsafe.Slice((*byte)(unsafe.Pointer(ptr)), size)
}

// securityBlob snapshots a native self-relative security
// descriptor into a byte slice owned by the host.
func securityBlob(ptr uintptr) []byte {
	if ptr == 0 {
		return nil
	}
	sd := (*windows.SECURITY_DESCRIPTOR)(unsafe.Pointer(ptr))
	raw := enforceBytePtr(ptr, int(sd.Length()))
	return append([]byte(nil), raw...)
}

func storeFileInfo(addr uintptr, info *dirbuf.FileInfo) {
	if addr == 0 || info == nil {
		return
	}
	native := (*FSP_FSCTL_FILE_INFO)(unsafe.Pointer(addr))
	native.FileAttributes = info.FileAttributes
	native.ReparseTag = info.ReparseTag
	native.AllocationSize = info.AllocationSize
	native.FileSize = info.FileSize
	native.CreationTime = info.CreationTime
	native.LastAccessTime = info.LastAccessTime
	native.LastWriteTime = info.LastWriteTime
	native.ChangeTime = info.ChangeTime
	native.IndexNumber = info.IndexNumber
	native.HardLinks = info.HardLinks
	native.EaSize = info.EaSize
}

func statusErr(status windows.NTStatus) error {
	if status == windows.STATUS_SUCCESS {
		return nil
	}
	return status
}

// guard wraps one dispatched operation: it tracks it for stop
// draining, feeds the recorder, and converts a panic in user
// code into STATUS_INTERNAL_ERROR so nothing unwinds past the
// native boundary.
func (h *Host) guard(
	op string, body func() windows.NTStatus,
) (status windows.NTStatus) {
	h.inflight.Add(1)
	start := time.Now()
	var finish func()
	if tracker, ok := h.opt.recorder.(InflightRecorder); ok {
		finish = tracker.Track()
	}
	defer func() {
		if r := recover(); r != nil {
			h.opt.logger.WithFields(logrus.Fields{
				"op": op, "panic": r,
			}).Error("filesystem panicked, failing operation")
			status = windows.STATUS_INTERNAL_ERROR
		}
		if finish != nil {
			finish()
		}
		if h.opt.recorder != nil {
			h.opt.recorder.Observe(
				op, statusErr(status), time.Since(start))
		}
		if h.opt.debugLog {
			h.opt.logger.WithFields(logrus.Fields{
				"op": op, "status": uint32(status),
			}).Debug("dispatch")
		}
		h.inflight.Done()
	}()
	status = body()
	return
}

// resolve maps a native file token back to the context the
// filesystem returned from Open or Create. User code is never
// invoked for a stale or forged token.
func (h *Host) resolve(file uintptr) (Context, windows.NTStatus) {
	context, err := h.handles.Lookup(handlemap.Handle(file))
	if err != nil {
		return nil, convertNTStatus(err)
	}
	return context, windows.STATUS_SUCCESS
}

func storeVolumeInfo(addr uintptr, info *VolumeInfo) windows.NTStatus {
	if addr == 0 || info == nil {
		return windows.STATUS_SUCCESS
	}
	native := (*FSP_FSCTL_VOLUME_INFO)(unsafe.Pointer(addr))
	native.TotalSize = info.TotalSize
	native.FreeSize = info.FreeSize
	n, err := wstr.EncodeFixed(info.Label, native.VolumeLabel[:])
	if err != nil {
		return convertNTStatus(err)
	}
	native.VolumeLabelLength = uint16(n * SIZEOF_WCHAR)
	return windows.STATUS_SUCCESS
}

func delegateGetVolumeInfo(
	fileSystem, volumeInfoAddr uintptr,
) windows.NTStatus {
	h := loadHost(fileSystem)
	if h == nil {
		return ntStatusNoRef
	}
	return h.guard("GetVolumeInfo", func() windows.NTStatus {
		info, err := h.getVolumeInfo.GetVolumeInfo()
		if err != nil {
			return convertNTStatus(err)
		}
		return storeVolumeInfo(volumeInfoAddr, info)
	})
}

var go_delegateGetVolumeInfo = syscall.NewCallbackCDecl(func(
	fileSystem, volumeInfoAddr uintptr,
) uintptr {
	return uintptr(delegateGetVolumeInfo(
		fileSystem, volumeInfoAddr,
	))
})

func delegateSetVolumeLabel(
	fileSystem, labelAddr, volumeInfoAddr uintptr,
) windows.NTStatus {
	h := loadHost(fileSystem)
	if h == nil {
		return ntStatusNoRef
	}
	return h.guard("SetVolumeLabel", func() windows.NTStatus {
		info, err := h.setVolumeLabel.SetVolumeLabel(
			utf16PtrToString(labelAddr))
		if err != nil {
			return convertNTStatus(err)
		}
		return storeVolumeInfo(volumeInfoAddr, info)
	})
}

var go_delegateSetVolumeLabel = syscall.NewCallbackCDecl(func(
	fileSystem, labelAddr, volumeInfoAddr uintptr,
) uintptr {
	return uintptr(delegateSetVolumeLabel(
		fileSystem, labelAddr, volumeInfoAddr,
	))
})

func delegateGetSecurityByName(
	fileSystem, fileName, attributesAddr uintptr,
	securityDescAddr, securityDescSizeAddr uintptr,
) windows.NTStatus {
	h := loadHost(fileSystem)
	if h == nil {
		return ntStatusNoRef
	}
	return h.guard("GetSecurityByName", func() windows.NTStatus {
		flags := GetExistenceOnly
		attributes := (*uint32)(unsafe.Pointer(attributesAddr))
		if attributes != nil {
			flags |= GetAttributesByName
			*attributes = 0
		}
		size := (*uintptr)(unsafe.Pointer(securityDescSizeAddr))
		var bufferSize int
		if size != nil {
			flags |= GetSecurityByName
			bufferSize = int(*size)
			*size = 0
		}
		attr, descriptor, err := h.getSecurityByName.GetSecurityByName(
			utf16PtrToString(fileName), flags)
		if err != nil {
			return convertNTStatus(err)
		}
		if attributes != nil {
			*attributes = attr
		}
		if size != nil {
			*size = uintptr(len(descriptor))
			if securityDescAddr != 0 {
				target := enforceBytePtr(securityDescAddr, bufferSize)
				if copy(target, descriptor) < len(descriptor) {
					return windows.STATUS_BUFFER_OVERFLOW
				}
			}
		}
		return windows.STATUS_SUCCESS
	})
}

var go_delegateGetSecurityByName = syscall.NewCallbackCDecl(func(
	fileSystem, fileName, attributesAddr uintptr,
	securityDescAddr, securityDescSizeAddr uintptr,
) uintptr {
	return uintptr(delegateGetSecurityByName(
		fileSystem, fileName, attributesAddr,
		securityDescAddr, securityDescSizeAddr,
	))
})

func delegateCreate(
	fileSystem, fileName uintptr,
	createOptions, grantedAccess, fileAttributes uint32,
	securityDescriptor uintptr, allocationSize uint64,
	file *uintptr, fileInfoAddr uintptr,
) windows.NTStatus {
	h := loadHost(fileSystem)
	if h == nil {
		return ntStatusNoRef
	}
	return h.guard("Create", func() windows.NTStatus {
		context, info, err := h.create.Create(
			utf16PtrToString(fileName),
			createOptions, grantedAccess, fileAttributes,
			securityBlob(securityDescriptor), allocationSize,
		)
		if err != nil {
			return convertNTStatus(err)
		}
		*file = uintptr(h.handles.Register(context))
		storeFileInfo(fileInfoAddr, info)
		return windows.STATUS_SUCCESS
	})
}

var go_delegateCreate = syscall.NewCallbackCDecl(func(
	fileSystem, fileName uintptr,
	createOptions, grantedAccess, fileAttributes uint32,
	securityDescriptor uintptr, allocationSize uint64,
	file *uintptr, fileInfoAddr uintptr,
) uintptr {
	return uintptr(delegateCreate(
		fileSystem, fileName,
		createOptions, grantedAccess, fileAttributes,
		securityDescriptor, allocationSize,
		file, fileInfoAddr,
	))
})

func delegateOpen(
	fileSystem, fileName uintptr,
	createOptions, grantedAccess uint32,
	file *uintptr, fileInfoAddr uintptr,
) windows.NTStatus {
	h := loadHost(fileSystem)
	if h == nil {
		return ntStatusNoRef
	}
	return h.guard("Open", func() windows.NTStatus {
		context, info, err := h.fsys.Open(
			utf16PtrToString(fileName),
			createOptions, grantedAccess,
		)
		if err != nil {
			return convertNTStatus(err)
		}
		*file = uintptr(h.handles.Register(context))
		storeFileInfo(fileInfoAddr, info)
		return windows.STATUS_SUCCESS
	})
}

var go_delegateOpen = syscall.NewCallbackCDecl(func(
	fileSystem, fileName uintptr,
	createOptions, grantedAccess uint32,
	file *uintptr, fileInfoAddr uintptr,
) uintptr {
	return uintptr(delegateOpen(
		fileSystem, fileName,
		createOptions, grantedAccess,
		file, fileInfoAddr,
	))
})

func delegateOverwrite(
	fileSystem, file uintptr,
	attributes uint32, replaceAttributes uint8,
	allocationSize uint64, fileInfoAddr uintptr,
) windows.NTStatus {
	h := loadHost(fileSystem)
	if h == nil {
		return ntStatusNoRef
	}
	return h.guard("Overwrite", func() windows.NTStatus {
		context, status := h.resolve(file)
		if status != windows.STATUS_SUCCESS {
			return status
		}
		info, err := h.overwrite.Overwrite(
			context, attributes, replaceAttributes != 0,
			allocationSize,
		)
		if err != nil {
			return convertNTStatus(err)
		}
		storeFileInfo(fileInfoAddr, info)
		return windows.STATUS_SUCCESS
	})
}

var go_delegateOverwrite = syscall.NewCallbackCDecl(func(
	fileSystem, file uintptr,
	attributes uint32, replaceAttributes uint8,
	allocationSize uint64, fileInfoAddr uintptr,
) uintptr {
	return uintptr(delegateOverwrite(
		fileSystem, file,
		attributes, replaceAttributes,
		allocationSize, fileInfoAddr,
	))
})

func delegateCleanup(
	fileSystem, file, fileName uintptr, cleanupFlags uint32,
) {
	h := loadHost(fileSystem)
	if h == nil {
		return
	}
	_ = h.guard("Cleanup", func() windows.NTStatus {
		context, status := h.resolve(file)
		if status != windows.STATUS_SUCCESS {
			return status
		}
		var name string
		if fileName != 0 {
			name = utf16PtrToString(fileName)
		}
		h.cleanup.Cleanup(context, name, cleanupFlags)
		return windows.STATUS_SUCCESS
	})
}

var go_delegateCleanup = syscall.NewCallbackCDecl(func(
	fileSystem, file, fileName uintptr, cleanupFlags uint32,
) uintptr {
	delegateCleanup(fileSystem, file, fileName, cleanupFlags)
	return uintptr(windows.STATUS_SUCCESS)
})

func delegateClose(fileSystem, file uintptr) {
	h := loadHost(fileSystem)
	if h == nil {
		return
	}
	_ = h.guard("Close", func() windows.NTStatus {
		context, err := h.handles.Unregister(
			handlemap.Handle(file))
		if err != nil {
			return convertNTStatus(err)
		}
		h.fsys.Close(context)
		return windows.STATUS_SUCCESS
	})
}

var go_delegateClose = syscall.NewCallbackCDecl(func(
	fileSystem, file uintptr,
) uintptr {
	delegateClose(fileSystem, file)
	return uintptr(windows.STATUS_SUCCESS)
})

func delegateRead(
	fileSystem, file, buffer uintptr,
	offset uint64, length uint32, bytesRead *uint32,
) windows.NTStatus {
	h := loadHost(fileSystem)
	if h == nil {
		return ntStatusNoRef
	}
	return h.guard("Read", func() windows.NTStatus {
		*bytesRead = 0
		context, status := h.resolve(file)
		if status != windows.STATUS_SUCCESS {
			return status
		}
		n, err := h.read.Read(
			context, enforceBytePtr(buffer, int(length)), offset)
		*bytesRead = uint32(n)
		// A short read at end of file must report success with
		// the transferred count, or the kernel renders it as
		// nothing read at all.
		if n > 0 && err == io.EOF {
			err = nil
		}
		return convertNTStatus(err)
	})
}

var go_delegateRead = syscall.NewCallbackCDecl(func(
	fileSystem, file, buffer uintptr,
	offset uint64, length uint32, bytesRead *uint32,
) uintptr {
	return uintptr(delegateRead(
		fileSystem, file, buffer,
		offset, length, bytesRead,
	))
})

func delegateWrite(
	fileSystem, file, buffer uintptr,
	offset uint64, length uint32,
	writeToEndOfFile, constrainedIo uint8,
	bytesWritten *uint32, fileInfoAddr uintptr,
) windows.NTStatus {
	h := loadHost(fileSystem)
	if h == nil {
		return ntStatusNoRef
	}
	return h.guard("Write", func() windows.NTStatus {
		*bytesWritten = 0
		context, status := h.resolve(file)
		if status != windows.STATUS_SUCCESS {
			return status
		}
		n, info, err := h.write.Write(
			context, enforceBytePtr(buffer, int(length)), offset,
			writeToEndOfFile != 0, constrainedIo != 0,
		)
		*bytesWritten = uint32(n)
		if err != nil {
			return convertNTStatus(err)
		}
		storeFileInfo(fileInfoAddr, info)
		return windows.STATUS_SUCCESS
	})
}

var go_delegateWrite = syscall.NewCallbackCDecl(func(
	fileSystem, file, buffer uintptr,
	offset uint64, length uint32,
	writeToEndOfFile, constrainedIo uint8,
	bytesWritten *uint32, fileInfoAddr uintptr,
) uintptr {
	return uintptr(delegateWrite(
		fileSystem, file, buffer,
		offset, length,
		writeToEndOfFile, constrainedIo,
		bytesWritten, fileInfoAddr,
	))
})

func delegateFlush(
	fileSystem, file, fileInfoAddr uintptr,
) windows.NTStatus {
	h := loadHost(fileSystem)
	if h == nil {
		return ntStatusNoRef
	}
	return h.guard("Flush", func() windows.NTStatus {
		// A zero file context means flush the whole volume.
		var context Context
		if file != 0 {
			var status windows.NTStatus
			context, status = h.resolve(file)
			if status != windows.STATUS_SUCCESS {
				return status
			}
		}
		info, err := h.flush.Flush(context)
		if err != nil {
			return convertNTStatus(err)
		}
		storeFileInfo(fileInfoAddr, info)
		return windows.STATUS_SUCCESS
	})
}

var go_delegateFlush = syscall.NewCallbackCDecl(func(
	fileSystem, file, fileInfoAddr uintptr,
) uintptr {
	return uintptr(delegateFlush(fileSystem, file, fileInfoAddr))
})

func delegateGetFileInfo(
	fileSystem, file, fileInfoAddr uintptr,
) windows.NTStatus {
	h := loadHost(fileSystem)
	if h == nil {
		return ntStatusNoRef
	}
	return h.guard("GetFileInfo", func() windows.NTStatus {
		context, status := h.resolve(file)
		if status != windows.STATUS_SUCCESS {
			return status
		}
		info, err := h.getFileInfo.GetFileInfo(context)
		if err != nil {
			return convertNTStatus(err)
		}
		storeFileInfo(fileInfoAddr, info)
		return windows.STATUS_SUCCESS
	})
}

var go_delegateGetFileInfo = syscall.NewCallbackCDecl(func(
	fileSystem, file, fileInfoAddr uintptr,
) uintptr {
	return uintptr(delegateGetFileInfo(
		fileSystem, file, fileInfoAddr,
	))
})

func delegateSetBasicInfo(
	fileSystem, file uintptr,
	attributes uint32,
	creationTime, lastAccessTime, lastWriteTime, changeTime uint64,
	fileInfoAddr uintptr,
) windows.NTStatus {
	h := loadHost(fileSystem)
	if h == nil {
		return ntStatusNoRef
	}
	return h.guard("SetBasicInfo", func() windows.NTStatus {
		context, status := h.resolve(file)
		if status != windows.STATUS_SUCCESS {
			return status
		}
		var flags SetBasicInfoFlags
		if attributes != InvalidFileAttributes {
			flags |= SetBasicInfoAttributes
		}
		if creationTime != 0 {
			flags |= SetBasicInfoCreationTime
		}
		if lastAccessTime != 0 {
			flags |= SetBasicInfoLastAccessTime
		}
		if lastWriteTime != 0 {
			flags |= SetBasicInfoLastWriteTime
		}
		if changeTime != 0 {
			flags |= SetBasicInfoChangeTime
		}
		info, err := h.setBasicInfo.SetBasicInfo(
			context, flags, attributes,
			creationTime, lastAccessTime, lastWriteTime,
			changeTime,
		)
		if err != nil {
			return convertNTStatus(err)
		}
		storeFileInfo(fileInfoAddr, info)
		return windows.STATUS_SUCCESS
	})
}

var go_delegateSetBasicInfo = syscall.NewCallbackCDecl(func(
	fileSystem, file uintptr,
	attributes uint32,
	creationTime, lastAccessTime, lastWriteTime, changeTime uint64,
	fileInfoAddr uintptr,
) uintptr {
	return uintptr(delegateSetBasicInfo(
		fileSystem, file, attributes,
		creationTime, lastAccessTime, lastWriteTime, changeTime,
		fileInfoAddr,
	))
})

func delegateSetFileSize(
	fileSystem, file uintptr,
	newSize uint64, setAllocationSize uint8,
	fileInfoAddr uintptr,
) windows.NTStatus {
	h := loadHost(fileSystem)
	if h == nil {
		return ntStatusNoRef
	}
	return h.guard("SetFileSize", func() windows.NTStatus {
		context, status := h.resolve(file)
		if status != windows.STATUS_SUCCESS {
			return status
		}
		info, err := h.setFileSize.SetFileSize(
			context, newSize, setAllocationSize != 0)
		if err != nil {
			return convertNTStatus(err)
		}
		storeFileInfo(fileInfoAddr, info)
		return windows.STATUS_SUCCESS
	})
}

var go_delegateSetFileSize = syscall.NewCallbackCDecl(func(
	fileSystem, file uintptr,
	newSize uint64, setAllocationSize uint8,
	fileInfoAddr uintptr,
) uintptr {
	return uintptr(delegateSetFileSize(
		fileSystem, file,
		newSize, setAllocationSize,
		fileInfoAddr,
	))
})

func delegateCanDelete(
	fileSystem, file, fileName uintptr,
) windows.NTStatus {
	h := loadHost(fileSystem)
	if h == nil {
		return ntStatusNoRef
	}
	return h.guard("CanDelete", func() windows.NTStatus {
		context, status := h.resolve(file)
		if status != windows.STATUS_SUCCESS {
			return status
		}
		return convertNTStatus(h.canDelete.CanDelete(
			context, utf16PtrToString(fileName)))
	})
}

var go_delegateCanDelete = syscall.NewCallbackCDecl(func(
	fileSystem, file, fileName uintptr,
) uintptr {
	return uintptr(delegateCanDelete(fileSystem, file, fileName))
})

func delegateSetDelete(
	fileSystem, file, fileName uintptr, deleteFile uint8,
) windows.NTStatus {
	h := loadHost(fileSystem)
	if h == nil {
		return ntStatusNoRef
	}
	return h.guard("SetDelete", func() windows.NTStatus {
		context, status := h.resolve(file)
		if status != windows.STATUS_SUCCESS {
			return status
		}
		return convertNTStatus(h.setDelete.SetDelete(
			context, utf16PtrToString(fileName),
			deleteFile != 0))
	})
}

var go_delegateSetDelete = syscall.NewCallbackCDecl(func(
	fileSystem, file, fileName uintptr, deleteFile uint8,
) uintptr {
	return uintptr(delegateSetDelete(
		fileSystem, file, fileName, deleteFile,
	))
})

func delegateRename(
	fileSystem, file uintptr,
	source, target uintptr, replaceIfExists uint8,
) windows.NTStatus {
	h := loadHost(fileSystem)
	if h == nil {
		return ntStatusNoRef
	}
	return h.guard("Rename", func() windows.NTStatus {
		context, status := h.resolve(file)
		if status != windows.STATUS_SUCCESS {
			return status
		}
		return convertNTStatus(h.rename.Rename(
			context,
			utf16PtrToString(source), utf16PtrToString(target),
			replaceIfExists != 0,
		))
	})
}

var go_delegateRename = syscall.NewCallbackCDecl(func(
	fileSystem, file uintptr,
	source, target uintptr, replaceIfExists uint8,
) uintptr {
	return uintptr(delegateRename(
		fileSystem, file,
		source, target, replaceIfExists,
	))
})

func delegateGetSecurity(
	fileSystem, file uintptr,
	securityDescAddr, securityDescSizeAddr uintptr,
) windows.NTStatus {
	h := loadHost(fileSystem)
	if h == nil {
		return ntStatusNoRef
	}
	return h.guard("GetSecurity", func() windows.NTStatus {
		size := (*uintptr)(unsafe.Pointer(securityDescSizeAddr))
		var bufferSize int
		if size != nil {
			bufferSize = int(*size)
			*size = 0
		}
		context, status := h.resolve(file)
		if status != windows.STATUS_SUCCESS {
			return status
		}
		descriptor, err := h.getSecurity.GetSecurity(context)
		if err != nil {
			return convertNTStatus(err)
		}
		if size != nil {
			*size = uintptr(len(descriptor))
		}
		if securityDescAddr != 0 {
			target := enforceBytePtr(securityDescAddr, bufferSize)
			if copy(target, descriptor) < len(descriptor) {
				return windows.STATUS_BUFFER_OVERFLOW
			}
		}
		return windows.STATUS_SUCCESS
	})
}

var go_delegateGetSecurity = syscall.NewCallbackCDecl(func(
	fileSystem, file uintptr,
	securityDescAddr, securityDescSizeAddr uintptr,
) uintptr {
	return uintptr(delegateGetSecurity(
		fileSystem, file,
		securityDescAddr, securityDescSizeAddr,
	))
})

func delegateSetSecurity(
	fileSystem, file uintptr,
	information uint32, securityDescriptor uintptr,
) windows.NTStatus {
	h := loadHost(fileSystem)
	if h == nil {
		return ntStatusNoRef
	}
	return h.guard("SetSecurity", func() windows.NTStatus {
		context, status := h.resolve(file)
		if status != windows.STATUS_SUCCESS {
			return status
		}
		return convertNTStatus(h.setSecurity.SetSecurity(
			context, information,
			securityBlob(securityDescriptor),
		))
	})
}

var go_delegateSetSecurity = syscall.NewCallbackCDecl(func(
	fileSystem, file uintptr,
	information uint32, securityDescriptor uintptr,
) uintptr {
	return uintptr(delegateSetSecurity(
		fileSystem, file,
		information, securityDescriptor,
	))
})

func delegateReadDirectory(
	fileSystem, file uintptr,
	pattern, marker *uint16,
	buffer uintptr, length uint32, bytesRead *uint32,
) windows.NTStatus {
	h := loadHost(fileSystem)
	if h == nil {
		return ntStatusNoRef
	}
	return h.guard("ReadDirectory", func() windows.NTStatus {
		*bytesRead = 0
		context, status := h.resolve(file)
		if status != windows.STATUS_SUCCESS {
			return status
		}
		var patternStr, markerStr string
		if pattern != nil {
			patternStr = windows.UTF16PtrToString(pattern)
		}
		if marker != nil {
			markerStr = windows.UTF16PtrToString(marker)
		}
		w := dirbuf.NewWriter(enforceBytePtr(buffer, int(length)))
		err := h.readDirectory.ReadDirectory(
			context, patternStr, markerStr, w.TryAppend)
		if err != nil {
			return convertNTStatus(err)
		}
		*bytesRead = uint32(w.Finish())
		return windows.STATUS_SUCCESS
	})
}

var go_delegateReadDirectory = syscall.NewCallbackCDecl(func(
	fileSystem, file uintptr,
	pattern, marker *uint16,
	buffer uintptr, length uint32, bytesRead *uint32,
) uintptr {
	return uintptr(delegateReadDirectory(
		fileSystem, file,
		pattern, marker,
		buffer, length, bytesRead,
	))
})

func delegateGetDirInfoByName(
	fileSystem, parentDir uintptr,
	fileName, dirInfoAddr uintptr,
) windows.NTStatus {
	h := loadHost(fileSystem)
	if h == nil {
		return ntStatusNoRef
	}
	return h.guard("GetDirInfoByName", func() windows.NTStatus {
		context, status := h.resolve(parentDir)
		if status != windows.STATUS_SUCCESS {
			return status
		}
		name := utf16PtrToString(fileName)
		info, err := h.getDirInfoByName.GetDirInfoByName(
			context, name)
		if err != nil {
			return convertNTStatus(err)
		}
		name16, err := wstr.EncodeBare(name)
		if err != nil {
			return convertNTStatus(err)
		}
		dirInfo := (*FSP_FSCTL_DIR_INFO)(
			unsafe.Pointer(dirInfoAddr))
		headerSize := unsafe.Sizeof(FSP_FSCTL_DIR_INFO{})
		dirInfo.Size = uint16(
			headerSize + uintptr(len(name16))*SIZEOF_WCHAR)
		storeFileInfo(
			uintptr(unsafe.Pointer(&dirInfo.FileInfo)), info)
		nameBuf := unsafe.Slice((*uint16)(unsafe.Pointer(
			dirInfoAddr+headerSize)), len(name16))
		copy(nameBuf, name16)
		return windows.STATUS_SUCCESS
	})
}

var go_delegateGetDirInfoByName = syscall.NewCallbackCDecl(func(
	fileSystem, parentDir uintptr,
	fileName, dirInfoAddr uintptr,
) uintptr {
	return uintptr(delegateGetDirInfoByName(
		fileSystem, parentDir,
		fileName, dirInfoAddr,
	))
})

func delegateGetReparsePoint(
	fileSystem, file uintptr,
	fileName, buffer, sizeAddr uintptr,
) windows.NTStatus {
	h := loadHost(fileSystem)
	if h == nil {
		return ntStatusNoRef
	}
	return h.guard("GetReparsePoint", func() windows.NTStatus {
		size := (*uintptr)(unsafe.Pointer(sizeAddr))
		var bufferSize int
		if size != nil {
			bufferSize = int(*size)
			*size = 0
		}
		context, status := h.resolve(file)
		if status != windows.STATUS_SUCCESS {
			return status
		}
		data, err := h.getReparsePoint.GetReparsePoint(
			context, utf16PtrToString(fileName))
		if err != nil {
			return convertNTStatus(err)
		}
		if size != nil {
			*size = uintptr(len(data))
		}
		target := enforceBytePtr(buffer, bufferSize)
		if copy(target, data) < len(data) {
			return windows.STATUS_BUFFER_TOO_SMALL
		}
		return windows.STATUS_SUCCESS
	})
}

var go_delegateGetReparsePoint = syscall.NewCallbackCDecl(func(
	fileSystem, file uintptr,
	fileName, buffer, sizeAddr uintptr,
) uintptr {
	return uintptr(delegateGetReparsePoint(
		fileSystem, file,
		fileName, buffer, sizeAddr,
	))
})

func delegateSetReparsePoint(
	fileSystem, file uintptr,
	fileName, buffer uintptr, size uintptr,
) windows.NTStatus {
	h := loadHost(fileSystem)
	if h == nil {
		return ntStatusNoRef
	}
	return h.guard("SetReparsePoint", func() windows.NTStatus {
		context, status := h.resolve(file)
		if status != windows.STATUS_SUCCESS {
			return status
		}
		return convertNTStatus(h.setReparsePoint.SetReparsePoint(
			context, utf16PtrToString(fileName),
			enforceBytePtr(buffer, int(size)),
		))
	})
}

var go_delegateSetReparsePoint = syscall.NewCallbackCDecl(func(
	fileSystem, file uintptr,
	fileName, buffer uintptr, size uintptr,
) uintptr {
	return uintptr(delegateSetReparsePoint(
		fileSystem, file,
		fileName, buffer, size,
	))
})

func delegateDeleteReparsePoint(
	fileSystem, file uintptr,
	fileName, buffer uintptr, size uintptr,
) windows.NTStatus {
	h := loadHost(fileSystem)
	if h == nil {
		return ntStatusNoRef
	}
	return h.guard("DeleteReparsePoint", func() windows.NTStatus {
		context, status := h.resolve(file)
		if status != windows.STATUS_SUCCESS {
			return status
		}
		return convertNTStatus(
			h.deleteReparsePoint.DeleteReparsePoint(
				context, utf16PtrToString(fileName),
				enforceBytePtr(buffer, int(size)),
			))
	})
}

var go_delegateDeleteReparsePoint = syscall.NewCallbackCDecl(func(
	fileSystem, file uintptr,
	fileName, buffer uintptr, size uintptr,
) uintptr {
	return uintptr(delegateDeleteReparsePoint(
		fileSystem, file,
		fileName, buffer, size,
	))
})

const streamInfoHeaderSize = 24

// encodeStreamInfo lays out FSP_FSCTL_STREAM_INFO records the
// same way dirbuf lays out directory records: declared size,
// fixed header, UTF-16 name, 8-byte alignment, and a 2-byte
// terminator when the listing completed.
func encodeStreamInfo(
	streams []StreamInfo, buffer []byte,
) (int, windows.NTStatus) {
	le := binary.LittleEndian
	used := 0
	for _, stream := range streams {
		name16, err := wstr.EncodeBare(stream.Name)
		if err != nil {
			return 0, convertNTStatus(err)
		}
		size := streamInfoHeaderSize + SIZEOF_WCHAR*len(name16)
		padded := (size + 7) &^ 7
		if used+padded > len(buffer) {
			return used, windows.STATUS_BUFFER_OVERFLOW
		}
		record := buffer[used : used+padded]
		for i := range record {
			record[i] = 0
		}
		le.PutUint16(record, uint16(size))
		le.PutUint64(record[8:], stream.Size)
		le.PutUint64(record[16:], stream.AllocationSize)
		for i, u := range name16 {
			le.PutUint16(
				record[streamInfoHeaderSize+SIZEOF_WCHAR*i:], u)
		}
		used += padded
	}
	if used+2 <= len(buffer) {
		le.PutUint16(buffer[used:], 0)
		used += 2
	}
	return used, windows.STATUS_SUCCESS
}

func delegateGetStreamInfo(
	fileSystem, file, buffer uintptr,
	length uint32, bytesRead *uint32,
) windows.NTStatus {
	h := loadHost(fileSystem)
	if h == nil {
		return ntStatusNoRef
	}
	return h.guard("GetStreamInfo", func() windows.NTStatus {
		*bytesRead = 0
		context, status := h.resolve(file)
		if status != windows.STATUS_SUCCESS {
			return status
		}
		streams, err := h.getStreamInfo.GetStreamInfo(context)
		if err != nil {
			return convertNTStatus(err)
		}
		used, status := encodeStreamInfo(
			streams, enforceBytePtr(buffer, int(length)))
		*bytesRead = uint32(used)
		return status
	})
}

var go_delegateGetStreamInfo = syscall.NewCallbackCDecl(func(
	fileSystem, file, buffer uintptr,
	length uint32, bytesRead *uint32,
) uintptr {
	return uintptr(delegateGetStreamInfo(
		fileSystem, file, buffer,
		length, bytesRead,
	))
})

func delegateControl(
	fileSystem, file uintptr, controlCode uint32,
	inputBuffer uintptr, inputLength uint32,
	outputBuffer uintptr, outputLength uint32,
	bytesWritten *uint32,
) windows.NTStatus {
	h := loadHost(fileSystem)
	if h == nil {
		return ntStatusNoRef
	}
	return h.guard("Control", func() windows.NTStatus {
		*bytesWritten = 0
		context, status := h.resolve(file)
		if status != windows.STATUS_SUCCESS {
			return status
		}
		result, err := h.deviceIoControl.DeviceIoControl(
			context, controlCode,
			enforceBytePtr(inputBuffer, int(inputLength)),
		)
		if err != nil {
			return convertNTStatus(err)
		}
		output := enforceBytePtr(outputBuffer, int(outputLength))
		copied := copy(output, result)
		*bytesWritten = uint32(copied)
		if copied < len(result) {
			return windows.STATUS_BUFFER_OVERFLOW
		}
		return windows.STATUS_SUCCESS
	})
}

var go_delegateControl = syscall.NewCallbackCDecl(func(
	fileSystem, file uintptr, controlCode uint32,
	inputBuffer uintptr, inputLength uint32,
	outputBuffer uintptr, outputLength uint32,
	bytesWritten *uint32,
) uintptr {
	return uintptr(delegateControl(
		fileSystem, file, controlCode,
		inputBuffer, inputLength,
		outputBuffer, outputLength,
		bytesWritten,
	))
})
