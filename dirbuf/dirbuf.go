// Package dirbuf assembles directory enumeration results into
// the fixed-capacity binary record layout the kernel consumes.
//
// Each record is a 104-byte header (declared size, file
// information block, next-entry offset) followed by the UTF-16
// entry name, padded to 8-byte alignment. A Writer fills one
// caller-provided buffer per enumeration call; when an entry no
// longer fits, enumeration stops and resumes in a later call
// from a marker naming the last entry written. The resume
// contract requires producers to emit entries in a stable,
// deterministic order.
package dirbuf

import (
	"encoding/binary"

	"github.com/mirrorfs/winfs/fserr"
	"github.com/mirrorfs/winfs/wstr"
)

// FileInfo is the fixed file information block embedded in each
// directory record. Its layout matches the kernel structure and
// is shared with the open/stat paths of the dispatch layer.
// Timestamps are 100ns intervals since 1601 (see the filetime
// package).
type FileInfo struct {
	FileAttributes uint32
	ReparseTag     uint32
	AllocationSize uint64
	FileSize       uint64
	CreationTime   uint64
	LastAccessTime uint64
	LastWriteTime  uint64
	ChangeTime     uint64
	IndexNumber    uint64
	HardLinks      uint32
	EaSize         uint32
}

const (
	// headerSize covers the declared size field (padded to the
	// information block's alignment), the information block,
	// the next-entry offset and trailing padding.
	headerSize   = 104
	infoOffset   = 8
	nameOffset   = 104
	recordAlign  = 8
	terminatorSz = 2
)

func align(n int) int {
	return (n + recordAlign - 1) &^ (recordAlign - 1)
}

// RecordSize reports the unpadded encoded size of an entry with
// the given name length in UTF-16 code units.
func RecordSize(nameUnits int) int {
	return headerSize + 2*nameUnits
}

func putFileInfo(dst []byte, info *FileInfo) {
	le := binary.LittleEndian
	le.PutUint32(dst[0:], info.FileAttributes)
	le.PutUint32(dst[4:], info.ReparseTag)
	le.PutUint64(dst[8:], info.AllocationSize)
	le.PutUint64(dst[16:], info.FileSize)
	le.PutUint64(dst[24:], info.CreationTime)
	le.PutUint64(dst[32:], info.LastAccessTime)
	le.PutUint64(dst[40:], info.LastWriteTime)
	le.PutUint64(dst[48:], info.ChangeTime)
	le.PutUint64(dst[56:], info.IndexNumber)
	le.PutUint32(dst[64:], info.HardLinks)
	le.PutUint32(dst[68:], info.EaSize)
}

func getFileInfo(src []byte) (info FileInfo) {
	le := binary.LittleEndian
	info.FileAttributes = le.Uint32(src[0:])
	info.ReparseTag = le.Uint32(src[4:])
	info.AllocationSize = le.Uint64(src[8:])
	info.FileSize = le.Uint64(src[16:])
	info.CreationTime = le.Uint64(src[24:])
	info.LastAccessTime = le.Uint64(src[32:])
	info.LastWriteTime = le.Uint64(src[40:])
	info.ChangeTime = le.Uint64(src[48:])
	info.IndexNumber = le.Uint64(src[56:])
	info.HardLinks = le.Uint32(src[64:])
	info.EaSize = le.Uint32(src[68:])
	return
}

// State tracks the fill progress of one enumeration call.
type State int

const (
	// Empty means nothing has been appended yet.
	Empty State = iota
	// Filling means at least one entry has been appended and
	// there may be room for more.
	Filling
	// Full means an entry did not fit and enumeration must
	// resume from the marker in a later call.
	Full
	// Exhausted means the producer finished without
	// overflowing; there is nothing to resume.
	Exhausted
)

func (s State) String() string {
	switch s {
	case Empty:
		return "empty"
	case Filling:
		return "filling"
	case Full:
		return "full"
	case Exhausted:
		return "exhausted"
	default:
		return "unknown"
	}
}

// Writer appends directory records into a fixed buffer.
type Writer struct {
	buf    []byte
	used   int
	state  State
	marker string
}

// NewWriter wraps the caller-provided buffer. The buffer's
// length is the enumeration capacity.
func NewWriter(buf []byte) *Writer {
	return &Writer{buf: buf}
}

// TryAppend encodes one entry. It returns false once the entry
// does not fit in the remaining space, after which the caller
// must stop enumerating and report the marker. An entry that
// cannot fit even in an empty buffer is a per-entry failure
// (EntryTooLarge), not a resume condition.
func (w *Writer) TryAppend(name string, info *FileInfo) (bool, error) {
	if w.state == Full || w.state == Exhausted {
		return false, nil
	}
	name16, err := wstr.EncodeBare(name)
	if err != nil {
		return false, err
	}
	size := RecordSize(len(name16))
	padded := align(size)
	if padded > len(w.buf) {
		return false, fserr.Newf(fserr.EntryTooLarge,
			"entry %q needs %d of %d bytes", name, padded, len(w.buf))
	}
	if w.used+padded > len(w.buf) {
		w.state = Full
		return false, nil
	}

	record := w.buf[w.used : w.used+padded]
	for i := range record {
		record[i] = 0
	}
	binary.LittleEndian.PutUint16(record, uint16(size))
	putFileInfo(record[infoOffset:], info)
	for i, u := range name16 {
		binary.LittleEndian.PutUint16(record[nameOffset+2*i:], u)
	}

	w.used += padded
	w.state = Filling
	w.marker = name
	return true, nil
}

// Finish seals the buffer. If the producer completed without
// overflow the state becomes Exhausted and, when room remains,
// an end-of-enumeration terminator is written. The total bytes
// transferred is returned either way.
func (w *Writer) Finish() int {
	if w.state == Empty || w.state == Filling {
		w.state = Exhausted
		if w.used+terminatorSz <= len(w.buf) {
			binary.LittleEndian.PutUint16(w.buf[w.used:], 0)
			w.used += terminatorSz
		}
	}
	return w.used
}

// State reports the writer's fill state.
func (w *Writer) State() State { return w.state }

// BytesWritten reports how much of the buffer holds records.
func (w *Writer) BytesWritten() int { return w.used }

// Bytes exposes the underlying buffer.
func (w *Writer) Bytes() []byte { return w.buf }

// Marker names the last successfully appended entry. It is
// meaningful only in the Full state: enumeration must resume
// strictly after the returned name.
func (w *Writer) Marker() (string, bool) {
	return w.marker, w.state == Full
}

// Entry is a decoded directory record.
type Entry struct {
	Name string
	Info FileInfo
}

// Read decodes the records previously written into buf, up to
// the end-of-enumeration terminator or the written length.
func Read(buf []byte) ([]Entry, error) {
	var entries []Entry
	cursor := 0
	for cursor+terminatorSz <= len(buf) {
		size := int(binary.LittleEndian.Uint16(buf[cursor:]))
		if size == 0 {
			break
		}
		if size < headerSize || cursor+size > len(buf) {
			return nil, fserr.Newf(fserr.Internal,
				"directory record at %d claims %d bytes", cursor, size)
		}
		record := buf[cursor : cursor+size]
		nameUnits := (size - headerSize) / 2
		name16 := make([]uint16, nameUnits)
		for i := range name16 {
			name16[i] = binary.LittleEndian.Uint16(
				record[nameOffset+2*i:])
		}
		entries = append(entries, Entry{
			Name: wstr.Decode(name16),
			Info: getFileInfo(record[infoOffset:]),
		})
		cursor += align(size)
	}
	return entries, nil
}
