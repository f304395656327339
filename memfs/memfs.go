// Package memfs is an in-memory filesystem speaking the full
// host trait. Directories are ordered btrees, which gives the
// stable enumeration order that resumable directory listing
// requires.
//
// It serves as the reference filesystem of this module: small
// enough to read, complete enough to mount.
package memfs

import (
	"io"
	"strings"
	"sync"

	"github.com/google/btree"

	"github.com/mirrorfs/winfs"
	"github.com/mirrorfs/winfs/dirbuf"
	"github.com/mirrorfs/winfs/filetime"
	"github.com/mirrorfs/winfs/fserr"
	"github.com/mirrorfs/winfs/secdesc"
)

const directoryDegree = 8

var (
	_ winfs.Filesystem                  = (*FS)(nil)
	_ winfs.BehaviourGetVolumeInfo      = (*FS)(nil)
	_ winfs.BehaviourSetVolumeLabel     = (*FS)(nil)
	_ winfs.BehaviourGetSecurityByName  = (*FS)(nil)
	_ winfs.BehaviourCreate             = (*FS)(nil)
	_ winfs.BehaviourOverwrite          = (*FS)(nil)
	_ winfs.BehaviourCleanup            = (*FS)(nil)
	_ winfs.BehaviourRead               = (*FS)(nil)
	_ winfs.BehaviourWrite              = (*FS)(nil)
	_ winfs.BehaviourFlush              = (*FS)(nil)
	_ winfs.BehaviourGetFileInfo        = (*FS)(nil)
	_ winfs.BehaviourSetBasicInfo       = (*FS)(nil)
	_ winfs.BehaviourSetFileSize        = (*FS)(nil)
	_ winfs.BehaviourSetDelete          = (*FS)(nil)
	_ winfs.BehaviourRename             = (*FS)(nil)
	_ winfs.BehaviourGetSecurity        = (*FS)(nil)
	_ winfs.BehaviourSetSecurity        = (*FS)(nil)
	_ winfs.BehaviourReadDirectory      = (*FS)(nil)
	_ winfs.BehaviourGetDirInfoByName   = (*FS)(nil)
	_ winfs.BehaviourGetReparsePoint    = (*FS)(nil)
	_ winfs.BehaviourSetReparsePoint    = (*FS)(nil)
	_ winfs.BehaviourDeleteReparsePoint = (*FS)(nil)
	_ winfs.BehaviourGetStreamInfo      = (*FS)(nil)
)

type node struct {
	name string
	fold string

	attributes uint32
	security   []byte
	data       []byte
	allocation uint64
	reparse    []byte
	reparseTag uint32

	creationTime   uint64
	lastAccessTime uint64
	lastWriteTime  uint64
	changeTime     uint64
	index          uint64

	parent        *node
	children      *btree.BTreeG[*node]
	openCount     int
	deletePending bool
}

func (n *node) isDirectory() bool {
	return n.attributes&winfs.FileAttributeDirectory != 0
}

func (n *node) fileInfo() *dirbuf.FileInfo {
	return &dirbuf.FileInfo{
		FileAttributes: n.attributes,
		ReparseTag:     n.reparseTag,
		AllocationSize: n.allocation,
		FileSize:       uint64(len(n.data)),
		CreationTime:   n.creationTime,
		LastAccessTime: n.lastAccessTime,
		LastWriteTime:  n.lastWriteTime,
		ChangeTime:     n.changeTime,
		IndexNumber:    n.index,
	}
}

func (n *node) touch() {
	now := filetime.Now()
	n.lastWriteTime = now
	n.changeTime = now
}

// handle is the per-open context handed to the host.
type handle struct {
	node *node
}

// FS is the in-memory filesystem. The zero value is not usable;
// construct with New.
type FS struct {
	mu            sync.RWMutex
	root          *node
	label         string
	capacity      uint64
	caseSensitive bool
	nextIndex     uint64
}

// FSOption configures a filesystem at construction.
type FSOption func(*FS)

// WithLabel sets the initial volume label.
func WithLabel(label string) FSOption {
	return func(f *FS) { f.label = label }
}

// WithCapacity sets the advertised volume capacity in bytes.
func WithCapacity(capacity uint64) FSOption {
	return func(f *FS) { f.capacity = capacity }
}

// WithCaseSensitive makes name lookups case sensitive.
func WithCaseSensitive(value bool) FSOption {
	return func(f *FS) { f.caseSensitive = value }
}

func defaultSecurity() []byte {
	return secdesc.New(
		secdesc.LocalSystem(),
		secdesc.BuiltinAdministrators(),
		secdesc.Allow(secdesc.Everyone(), secdesc.MaskFileAll),
	).Encode()
}

// New builds an empty filesystem with a root directory.
func New(opts ...FSOption) *FS {
	f := &FS{
		label:    "memfs",
		capacity: 1 << 30,
	}
	for _, opt := range opts {
		opt(f)
	}
	now := filetime.Now()
	f.root = &node{
		attributes:     winfs.FileAttributeDirectory,
		security:       defaultSecurity(),
		creationTime:   now,
		lastAccessTime: now,
		lastWriteTime:  now,
		changeTime:     now,
		index:          f.allocIndex(),
	}
	f.root.children = f.newChildren()
	return f
}

func (f *FS) allocIndex() uint64 {
	f.nextIndex++
	return f.nextIndex
}

func (f *FS) fold(name string) string {
	if f.caseSensitive {
		return name
	}
	return strings.ToUpper(name)
}

func (f *FS) newChildren() *btree.BTreeG[*node] {
	return btree.NewG(directoryDegree, func(a, b *node) bool {
		return a.fold < b.fold
	})
}

func splitPath(name string) []string {
	name = strings.ReplaceAll(name, "\\", "/")
	var parts []string
	for _, part := range strings.Split(name, "/") {
		if part != "" && part != "." {
			parts = append(parts, part)
		}
	}
	return parts
}

// lookup walks the tree to the node at name.
func (f *FS) lookup(name string) (*node, error) {
	current := f.root
	for _, part := range splitPath(name) {
		if !current.isDirectory() {
			return nil, fserr.Newf(fserr.NotADirectory,
				"%q is not a directory", current.name)
		}
		child, ok := current.children.Get(&node{fold: f.fold(part)})
		if !ok {
			return nil, fserr.Newf(fserr.NotFound,
				"%q not found", name)
		}
		current = child
	}
	return current, nil
}

// lookupParent walks to the directory that holds the last
// component of name, returning the component too.
func (f *FS) lookupParent(name string) (*node, string, error) {
	parts := splitPath(name)
	if len(parts) == 0 {
		return nil, "", fserr.New(fserr.AccessDenied,
			"the root directory has no parent")
	}
	current := f.root
	for _, part := range parts[:len(parts)-1] {
		child, ok := current.children.Get(&node{fold: f.fold(part)})
		if !ok {
			return nil, "", fserr.Newf(fserr.NotFound,
				"%q not found", name)
		}
		if !child.isDirectory() {
			return nil, "", fserr.Newf(fserr.NotADirectory,
				"%q is not a directory", part)
		}
		current = child
	}
	return current, parts[len(parts)-1], nil
}

// used sums the payload bytes of the whole tree.
func (f *FS) used() uint64 {
	var total uint64
	var walk func(n *node)
	walk = func(n *node) {
		total += uint64(len(n.data))
		if n.children != nil {
			n.children.Ascend(func(child *node) bool {
				walk(child)
				return true
			})
		}
	}
	walk(f.root)
	return total
}

// Open implements winfs.Filesystem.
func (f *FS) Open(
	name string, createOptions, grantedAccess uint32,
) (winfs.Context, *dirbuf.FileInfo, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	n, err := f.lookup(name)
	if err != nil {
		return nil, nil, err
	}
	if createOptions&winfs.FileDirectoryFile != 0 && !n.isDirectory() {
		return nil, nil, fserr.Newf(fserr.NotADirectory,
			"%q is not a directory", name)
	}
	if createOptions&winfs.FileNonDirectoryFile != 0 && n.isDirectory() {
		return nil, nil, fserr.Newf(fserr.IsADirectory,
			"%q is a directory", name)
	}
	n.openCount++
	n.lastAccessTime = filetime.Now()
	return &handle{node: n}, n.fileInfo(), nil
}

// Close implements winfs.Filesystem.
func (f *FS) Close(file winfs.Context) {
	f.mu.Lock()
	defer f.mu.Unlock()
	n := file.(*handle).node
	n.openCount--
	if n.deletePending && n.openCount == 0 && n.parent != nil {
		n.parent.children.Delete(n)
		n.parent.touch()
		n.parent = nil
	}
}

// Create makes a file or directory, failing when the name is
// already taken.
func (f *FS) Create(
	name string,
	createOptions, grantedAccess, fileAttributes uint32,
	descriptor []byte, allocationSize uint64,
) (winfs.Context, *dirbuf.FileInfo, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	parent, component, err := f.lookupParent(name)
	if err != nil {
		return nil, nil, err
	}
	if _, ok := parent.children.Get(
		&node{fold: f.fold(component)}); ok {
		return nil, nil, fserr.Newf(fserr.AlreadyExists,
			"%q already exists", name)
	}
	security := descriptor
	if len(security) == 0 {
		security = defaultSecurity()
	} else if err := secdesc.Validate(security); err != nil {
		return nil, nil, err
	}
	now := filetime.Now()
	n := &node{
		name:           component,
		fold:           f.fold(component),
		attributes:     fileAttributes,
		security:       append([]byte(nil), security...),
		allocation:     allocationSize,
		creationTime:   now,
		lastAccessTime: now,
		lastWriteTime:  now,
		changeTime:     now,
		index:          f.allocIndex(),
		parent:         parent,
	}
	if createOptions&winfs.FileDirectoryFile != 0 {
		n.attributes |= winfs.FileAttributeDirectory
		n.children = f.newChildren()
	} else if n.attributes == 0 {
		n.attributes = winfs.FileAttributeArchive
	}
	parent.children.ReplaceOrInsert(n)
	parent.touch()
	n.openCount++
	return &handle{node: n}, n.fileInfo(), nil
}

// Overwrite truncates an open file in place, keeping its
// identity and security.
func (f *FS) Overwrite(
	file winfs.Context, attributes uint32,
	replaceAttributes bool, allocationSize uint64,
) (*dirbuf.FileInfo, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	n := file.(*handle).node
	if n.isDirectory() {
		return nil, fserr.Newf(fserr.IsADirectory,
			"cannot overwrite directory %q", n.name)
	}
	if replaceAttributes {
		n.attributes = attributes | winfs.FileAttributeArchive
	} else {
		n.attributes |= attributes | winfs.FileAttributeArchive
	}
	n.data = nil
	n.allocation = allocationSize
	n.touch()
	return n.fileInfo(), nil
}

// GetVolumeInfo reports capacity and label.
func (f *FS) GetVolumeInfo() (*winfs.VolumeInfo, error) {
	f.mu.RLock()
	defer f.mu.RUnlock()
	used := f.used()
	free := uint64(0)
	if used < f.capacity {
		free = f.capacity - used
	}
	return &winfs.VolumeInfo{
		TotalSize: f.capacity,
		FreeSize:  free,
		Label:     f.label,
	}, nil
}

// SetVolumeLabel renames the volume.
func (f *FS) SetVolumeLabel(label string) (*winfs.VolumeInfo, error) {
	f.mu.Lock()
	f.label = label
	f.mu.Unlock()
	return f.GetVolumeInfo()
}

// GetSecurityByName stats a path without opening it.
func (f *FS) GetSecurityByName(
	name string, flags winfs.GetSecurityByNameFlags,
) (uint32, []byte, error) {
	f.mu.RLock()
	defer f.mu.RUnlock()
	n, err := f.lookup(name)
	if err != nil {
		return 0, nil, err
	}
	return n.attributes, n.security, nil
}

// Read copies file content at offset, reporting io.EOF past the
// end the way an os.File does.
func (f *FS) Read(
	file winfs.Context, buf []byte, offset uint64,
) (int, error) {
	f.mu.RLock()
	defer f.mu.RUnlock()
	n := file.(*handle).node
	if n.isDirectory() {
		return 0, fserr.Newf(fserr.IsADirectory,
			"cannot read directory %q", n.name)
	}
	if offset >= uint64(len(n.data)) {
		return 0, io.EOF
	}
	count := copy(buf, n.data[offset:])
	if count < len(buf) {
		return count, io.EOF
	}
	return count, nil
}

// Write stores file content at offset, growing the file when
// needed. Constrained writes never grow it.
func (f *FS) Write(
	file winfs.Context, buf []byte, offset uint64,
	writeToEndOfFile, constrainedIo bool,
) (int, *dirbuf.FileInfo, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	n := file.(*handle).node
	if n.isDirectory() {
		return 0, nil, fserr.Newf(fserr.IsADirectory,
			"cannot write directory %q", n.name)
	}
	if writeToEndOfFile {
		offset = uint64(len(n.data))
	}
	if constrainedIo {
		if offset >= uint64(len(n.data)) {
			return 0, n.fileInfo(), nil
		}
		if end := offset + uint64(len(buf)); end > uint64(len(n.data)) {
			buf = buf[:uint64(len(n.data))-offset]
		}
	}
	if end := offset + uint64(len(buf)); end > uint64(len(n.data)) {
		grown := make([]byte, end)
		copy(grown, n.data)
		n.data = grown
		if n.allocation < end {
			n.allocation = end
		}
	}
	count := copy(n.data[offset:], buf)
	n.touch()
	return count, n.fileInfo(), nil
}

// Flush is a no-op beyond refreshing file information; nothing
// is buffered outside the tree.
func (f *FS) Flush(file winfs.Context) (*dirbuf.FileInfo, error) {
	f.mu.RLock()
	defer f.mu.RUnlock()
	if file == nil {
		return nil, nil
	}
	return file.(*handle).node.fileInfo(), nil
}

// GetFileInfo stats an open file.
func (f *FS) GetFileInfo(file winfs.Context) (*dirbuf.FileInfo, error) {
	f.mu.RLock()
	defer f.mu.RUnlock()
	return file.(*handle).node.fileInfo(), nil
}

// SetBasicInfo updates attributes and timestamps.
func (f *FS) SetBasicInfo(
	file winfs.Context, flags winfs.SetBasicInfoFlags,
	attributes uint32,
	creationTime, lastAccessTime, lastWriteTime, changeTime uint64,
) (*dirbuf.FileInfo, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	n := file.(*handle).node
	if flags&winfs.SetBasicInfoAttributes != 0 {
		directory := n.attributes & winfs.FileAttributeDirectory
		n.attributes = attributes | directory
	}
	if flags&winfs.SetBasicInfoCreationTime != 0 {
		n.creationTime = creationTime
	}
	if flags&winfs.SetBasicInfoLastAccessTime != 0 {
		n.lastAccessTime = lastAccessTime
	}
	if flags&winfs.SetBasicInfoLastWriteTime != 0 {
		n.lastWriteTime = lastWriteTime
	}
	if flags&winfs.SetBasicInfoChangeTime != 0 {
		n.changeTime = changeTime
	}
	return n.fileInfo(), nil
}

// SetFileSize truncates or extends an open file.
func (f *FS) SetFileSize(
	file winfs.Context, newSize uint64, setAllocationSize bool,
) (*dirbuf.FileInfo, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	n := file.(*handle).node
	if n.isDirectory() {
		return nil, fserr.Newf(fserr.IsADirectory,
			"cannot resize directory %q", n.name)
	}
	if setAllocationSize {
		n.allocation = newSize
		if uint64(len(n.data)) > newSize {
			n.data = n.data[:newSize]
		}
	} else {
		switch {
		case newSize < uint64(len(n.data)):
			n.data = n.data[:newSize]
		case newSize > uint64(len(n.data)):
			grown := make([]byte, newSize)
			copy(grown, n.data)
			n.data = grown
		}
		if n.allocation < newSize {
			n.allocation = newSize
		}
	}
	n.touch()
	return n.fileInfo(), nil
}

// SetDelete marks or unmarks an open file for deletion on the
// last close.
func (f *FS) SetDelete(
	file winfs.Context, name string, deleteFile bool,
) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	n := file.(*handle).node
	if deleteFile {
		if n.parent == nil {
			return fserr.New(fserr.AccessDenied,
				"cannot delete the root directory")
		}
		if n.isDirectory() && n.children.Len() > 0 {
			return fserr.Newf(fserr.DirectoryNotEmpty,
				"%q is not empty", name)
		}
	}
	n.deletePending = deleteFile
	return nil
}

// Cleanup finishes a file before its last handle disappears.
func (f *FS) Cleanup(
	file winfs.Context, name string, flags uint32,
) {
	f.mu.Lock()
	defer f.mu.Unlock()
	n := file.(*handle).node
	if flags&winfs.FspCleanupDelete != 0 && n.parent != nil {
		if !n.isDirectory() || n.children.Len() == 0 {
			n.parent.children.Delete(n)
			n.parent.touch()
			n.parent = nil
			n.deletePending = false
		}
	}
	if flags&winfs.FspCleanupSetArchiveBit != 0 && !n.isDirectory() {
		n.attributes |= winfs.FileAttributeArchive
	}
	now := filetime.Now()
	if flags&winfs.FspCleanupSetLastAccessTime != 0 {
		n.lastAccessTime = now
	}
	if flags&winfs.FspCleanupSetLastWriteTime != 0 {
		n.lastWriteTime = now
	}
	if flags&winfs.FspCleanupSetChangeTime != 0 {
		n.changeTime = now
	}
}

// Rename moves a file or directory to a new path.
func (f *FS) Rename(
	file winfs.Context, source, target string,
	replaceIfExists bool,
) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	n := file.(*handle).node
	if n.parent == nil {
		return fserr.New(fserr.AccessDenied,
			"cannot rename the root directory")
	}
	newParent, component, err := f.lookupParent(target)
	if err != nil {
		return err
	}
	if existing, ok := newParent.children.Get(
		&node{fold: f.fold(component)}); ok && existing != n {
		if !replaceIfExists {
			return fserr.Newf(fserr.AlreadyExists,
				"%q already exists", target)
		}
		if existing.isDirectory() {
			return fserr.Newf(fserr.AccessDenied,
				"cannot replace directory %q", target)
		}
		newParent.children.Delete(existing)
	}
	n.parent.children.Delete(n)
	n.parent.touch()
	n.name = component
	n.fold = f.fold(component)
	n.parent = newParent
	newParent.children.ReplaceOrInsert(n)
	newParent.touch()
	n.touch()
	return nil
}

// GetSecurity returns the security descriptor blob of an open
// file.
func (f *FS) GetSecurity(file winfs.Context) ([]byte, error) {
	f.mu.RLock()
	defer f.mu.RUnlock()
	return file.(*handle).node.security, nil
}

// SetSecurity merges the selected parts of the incoming
// descriptor into the stored one.
func (f *FS) SetSecurity(
	file winfs.Context, information uint32, descriptor []byte,
) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	n := file.(*handle).node
	current, err := secdesc.Decode(n.security)
	if err != nil {
		return err
	}
	incoming, err := secdesc.Decode(descriptor)
	if err != nil {
		return err
	}
	if information&winfs.OwnerSecurityInformation != 0 {
		current.Owner = incoming.Owner
	}
	if information&winfs.GroupSecurityInformation != 0 {
		current.Group = incoming.Group
	}
	if information&winfs.DACLSecurityInformation != 0 {
		current.DACL = incoming.DACL
	}
	if information&winfs.SACLSecurityInformation != 0 {
		current.SACL = incoming.SACL
	}
	n.security = current.Encode()
	n.changeTime = filetime.Now()
	return nil
}

// ReadDirectory enumerates children in btree order, resuming
// strictly after marker.
func (f *FS) ReadDirectory(
	file winfs.Context, pattern, marker string,
	fill func(name string, info *dirbuf.FileInfo) (bool, error),
) error {
	f.mu.RLock()
	defer f.mu.RUnlock()
	n := file.(*handle).node
	if !n.isDirectory() {
		return fserr.Newf(fserr.NotADirectory,
			"%q is not a directory", n.name)
	}
	var iterErr error
	iterate := func(child *node) bool {
		more, err := fill(child.name, child.fileInfo())
		if err != nil {
			iterErr = err
			return false
		}
		return more
	}
	if marker == "" {
		n.children.Ascend(iterate)
	} else {
		pivot := &node{fold: f.fold(marker)}
		n.children.AscendGreaterOrEqual(pivot,
			func(child *node) bool {
				if child.fold == pivot.fold {
					return true
				}
				return iterate(child)
			})
	}
	return iterErr
}

// GetDirInfoByName stats one child of an open directory.
func (f *FS) GetDirInfoByName(
	dir winfs.Context, name string,
) (*dirbuf.FileInfo, error) {
	f.mu.RLock()
	defer f.mu.RUnlock()
	n := dir.(*handle).node
	if !n.isDirectory() {
		return nil, fserr.Newf(fserr.NotADirectory,
			"%q is not a directory", n.name)
	}
	child, ok := n.children.Get(&node{fold: f.fold(name)})
	if !ok {
		return nil, fserr.Newf(fserr.NotFound,
			"%q not found", name)
	}
	return child.fileInfo(), nil
}

// GetReparsePoint returns the raw reparse data of a file.
func (f *FS) GetReparsePoint(
	file winfs.Context, name string,
) ([]byte, error) {
	f.mu.RLock()
	defer f.mu.RUnlock()
	n := file.(*handle).node
	if n.attributes&winfs.FileAttributeReparsePoint == 0 {
		return nil, fserr.Newf(fserr.NotFound,
			"%q is not a reparse point", name)
	}
	return n.reparse, nil
}

// SetReparsePoint attaches reparse data to a file. The tag is
// the leading 32 bits of the buffer.
func (f *FS) SetReparsePoint(
	file winfs.Context, name string, data []byte,
) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if len(data) < 4 {
		return fserr.New(fserr.InvalidName,
			"reparse data lacks a tag")
	}
	n := file.(*handle).node
	n.reparse = append([]byte(nil), data...)
	n.reparseTag = uint32(data[0]) | uint32(data[1])<<8 |
		uint32(data[2])<<16 | uint32(data[3])<<24
	n.attributes |= winfs.FileAttributeReparsePoint
	n.changeTime = filetime.Now()
	return nil
}

// DeleteReparsePoint detaches reparse data from a file.
func (f *FS) DeleteReparsePoint(
	file winfs.Context, name string, data []byte,
) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	n := file.(*handle).node
	if n.attributes&winfs.FileAttributeReparsePoint == 0 {
		return fserr.Newf(fserr.NotFound,
			"%q is not a reparse point", name)
	}
	n.reparse = nil
	n.reparseTag = 0
	n.attributes &^= winfs.FileAttributeReparsePoint
	n.changeTime = filetime.Now()
	return nil
}

// GetStreamInfo lists the streams of an open file. Only the
// unnamed data stream exists here.
func (f *FS) GetStreamInfo(
	file winfs.Context,
) ([]winfs.StreamInfo, error) {
	f.mu.RLock()
	defer f.mu.RUnlock()
	n := file.(*handle).node
	if n.isDirectory() {
		return nil, nil
	}
	return []winfs.StreamInfo{{
		Size:           uint64(len(n.data)),
		AllocationSize: n.allocation,
	}}, nil
}
