package memfs_test

import (
	"fmt"
	"io"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mirrorfs/winfs"
	"github.com/mirrorfs/winfs/dirbuf"
	"github.com/mirrorfs/winfs/fserr"
	"github.com/mirrorfs/winfs/memfs"
	"github.com/mirrorfs/winfs/secdesc"
)

func createFile(
	t *testing.T, fs *memfs.FS, name string,
) winfs.Context {
	t.Helper()
	file, _, err := fs.Create(name, 0, 0, 0, nil, 0)
	require.NoError(t, err)
	return file
}

func createDir(
	t *testing.T, fs *memfs.FS, name string,
) winfs.Context {
	t.Helper()
	dir, _, err := fs.Create(
		name, winfs.FileDirectoryFile, 0, 0, nil, 0)
	require.NoError(t, err)
	return dir
}

func TestCreateWriteRead(t *testing.T) {
	fs := memfs.New()
	file := createFile(t, fs, `\hello.txt`)
	defer fs.Close(file)

	n, info, err := fs.Write(
		file, []byte{1, 2, 3}, 0, false, false)
	require.NoError(t, err)
	assert.Equal(t, 3, n)
	assert.EqualValues(t, 3, info.FileSize)

	buf := make([]byte, 8)
	count, err := fs.Read(file, buf, 0)
	if err != nil {
		assert.ErrorIs(t, err, io.EOF)
	}
	assert.Equal(t, 3, count)
	assert.Equal(t, []byte{1, 2, 3}, buf[:3])

	// Reopening by name sees the same content.
	again, info, err := fs.Open(`\hello.txt`, 0, 0)
	require.NoError(t, err)
	defer fs.Close(again)
	assert.EqualValues(t, 3, info.FileSize)
}

func TestOpenMissing(t *testing.T) {
	fs := memfs.New()
	_, _, err := fs.Open(`\nope.txt`, 0, 0)
	assert.ErrorIs(t, err, fserr.NotFound)
}

func TestCreateCollision(t *testing.T) {
	fs := memfs.New()
	fs.Close(createFile(t, fs, `\dup.txt`))
	_, _, err := fs.Create(`\dup.txt`, 0, 0, 0, nil, 0)
	assert.ErrorIs(t, err, fserr.AlreadyExists)
}

func TestDirectoryTyping(t *testing.T) {
	fs := memfs.New()
	fs.Close(createDir(t, fs, `\docs`))
	fs.Close(createFile(t, fs, `\docs\a.txt`))

	_, _, err := fs.Open(`\docs`, winfs.FileNonDirectoryFile, 0)
	assert.ErrorIs(t, err, fserr.IsADirectory)
	_, _, err = fs.Open(`\docs\a.txt`, winfs.FileDirectoryFile, 0)
	assert.ErrorIs(t, err, fserr.NotADirectory)
	_, _, err = fs.Open(`\docs\a.txt\deeper`, 0, 0)
	assert.ErrorIs(t, err, fserr.NotADirectory)
}

// listAll drives ReadDirectory through a dirbuf writer the way
// the dispatch layer does, collecting every entry across as
// many resumed passes as the buffer size forces.
func listAll(
	t *testing.T, fs *memfs.FS, dir winfs.Context, bufSize int,
) []string {
	t.Helper()
	var names []string
	marker := ""
	for {
		w := dirbuf.NewWriter(make([]byte, bufSize))
		err := fs.ReadDirectory(dir, "", marker, w.TryAppend)
		require.NoError(t, err)
		n := w.Finish()
		entries, err := dirbuf.Read(w.Bytes()[:n])
		require.NoError(t, err)
		for _, entry := range entries {
			names = append(names, entry.Name)
		}
		next, resume := w.Marker()
		if !resume {
			return names
		}
		marker = next
	}
}

func TestEnumerationEmptyDirectory(t *testing.T) {
	fs := memfs.New()
	dir := createDir(t, fs, `\empty`)
	defer fs.Close(dir)

	w := dirbuf.NewWriter(make([]byte, 512))
	require.NoError(t, fs.ReadDirectory(dir, "", "", w.TryAppend))
	w.Finish()
	assert.Equal(t, dirbuf.Exhausted, w.State())
	_, resume := w.Marker()
	assert.False(t, resume)
}

func TestEnumerationOrderAndResume(t *testing.T) {
	fs := memfs.New()
	dir := createDir(t, fs, `\big`)
	defer fs.Close(dir)
	var want []string
	for i := 0; i < 30; i++ {
		name := fmt.Sprintf("entry-%03d.dat", i)
		fs.Close(createFile(t, fs, `\big\`+name))
		want = append(want, name)
	}

	// A buffer forcing several passes yields every entry
	// exactly once, in order.
	assert.Equal(t, want, listAll(t, fs, dir, 400))
	// One large enough pass agrees.
	assert.Equal(t, want, listAll(t, fs, dir, 1<<16))
}

func TestEnumerationIsCaseInsensitive(t *testing.T) {
	fs := memfs.New()
	dir := createDir(t, fs, `\mixed`)
	defer fs.Close(dir)
	for _, name := range []string{"b.txt", "A.txt", "c.txt"} {
		fs.Close(createFile(t, fs, `\mixed\`+name))
	}
	assert.Equal(t, []string{"A.txt", "b.txt", "c.txt"},
		listAll(t, fs, dir, 1<<16))

	// Lookup folds case as well.
	_, _, err := fs.Open(`\MIXED\a.TXT`, 0, 0)
	require.NoError(t, err)
}

func TestRename(t *testing.T) {
	fs := memfs.New()
	fs.Close(createDir(t, fs, `\src`))
	fs.Close(createDir(t, fs, `\dst`))
	file := createFile(t, fs, `\src\note.txt`)
	defer fs.Close(file)
	_, _, err := fs.Write(file, []byte("payload"), 0, false, false)
	require.NoError(t, err)

	require.NoError(t, fs.Rename(
		file, `\src\note.txt`, `\dst\renamed.txt`, false))
	_, _, err = fs.Open(`\src\note.txt`, 0, 0)
	assert.ErrorIs(t, err, fserr.NotFound)
	moved, info, err := fs.Open(`\dst\renamed.txt`, 0, 0)
	require.NoError(t, err)
	defer fs.Close(moved)
	assert.EqualValues(t, 7, info.FileSize)

	// Colliding rename without replace fails; with replace
	// wins.
	other := createFile(t, fs, `\dst\other.txt`)
	defer fs.Close(other)
	err = fs.Rename(
		other, `\dst\other.txt`, `\dst\renamed.txt`, false)
	assert.ErrorIs(t, err, fserr.AlreadyExists)
	require.NoError(t, fs.Rename(
		other, `\dst\other.txt`, `\dst\renamed.txt`, true))
}

func TestDeleteOnLastClose(t *testing.T) {
	fs := memfs.New()
	file := createFile(t, fs, `\gone.txt`)
	require.NoError(t, fs.SetDelete(file, `\gone.txt`, true))
	fs.Close(file)
	_, _, err := fs.Open(`\gone.txt`, 0, 0)
	assert.ErrorIs(t, err, fserr.NotFound)
}

func TestDeleteNonEmptyDirectory(t *testing.T) {
	fs := memfs.New()
	dir := createDir(t, fs, `\full`)
	defer fs.Close(dir)
	fs.Close(createFile(t, fs, `\full\inner.txt`))
	err := fs.SetDelete(dir, `\full`, true)
	assert.ErrorIs(t, err, fserr.DirectoryNotEmpty)
}

func TestCleanupDelete(t *testing.T) {
	fs := memfs.New()
	file := createFile(t, fs, `\tmp.txt`)
	fs.Cleanup(file, `\tmp.txt`, winfs.FspCleanupDelete)
	fs.Close(file)
	_, _, err := fs.Open(`\tmp.txt`, 0, 0)
	assert.ErrorIs(t, err, fserr.NotFound)
}

func TestSecurityRoundTrip(t *testing.T) {
	fs := memfs.New()
	file := createFile(t, fs, `\secured.txt`)
	defer fs.Close(file)

	blob, err := fs.GetSecurity(file)
	require.NoError(t, err)
	decoded, err := secdesc.Decode(blob)
	require.NoError(t, err)
	assert.Equal(t, "S-1-5-18", decoded.Owner.String())

	// Replace just the owner.
	update := secdesc.New(
		secdesc.AuthenticatedUsers(), nil).Encode()
	require.NoError(t, fs.SetSecurity(
		file, winfs.OwnerSecurityInformation, update))
	blob, err = fs.GetSecurity(file)
	require.NoError(t, err)
	decoded, err = secdesc.Decode(blob)
	require.NoError(t, err)
	assert.Equal(t, "S-1-5-11", decoded.Owner.String())
	// The DACL survived the owner change.
	require.NotNil(t, decoded.DACL)
}

func TestCreateRejectsMalformedDescriptor(t *testing.T) {
	fs := memfs.New()
	_, _, err := fs.Create(
		`\bad.txt`, 0, 0, 0, []byte{1, 2, 3}, 0)
	assert.ErrorIs(t, err, fserr.InvalidSecurityDescriptor)
}

func TestSetFileSize(t *testing.T) {
	fs := memfs.New()
	file := createFile(t, fs, `\size.txt`)
	defer fs.Close(file)
	_, _, err := fs.Write(file, []byte("abcdef"), 0, false, false)
	require.NoError(t, err)

	info, err := fs.SetFileSize(file, 3, false)
	require.NoError(t, err)
	assert.EqualValues(t, 3, info.FileSize)

	info, err = fs.SetFileSize(file, 10, false)
	require.NoError(t, err)
	assert.EqualValues(t, 10, info.FileSize)
	buf := make([]byte, 10)
	_, err = fs.Read(file, buf, 0)
	require.NoError(t, err)
	// The extension reads back as zeroes.
	assert.Equal(t, []byte("abc\x00\x00\x00\x00\x00\x00\x00"), buf)
}

func TestConstrainedWrite(t *testing.T) {
	fs := memfs.New()
	file := createFile(t, fs, `\pinned.txt`)
	defer fs.Close(file)
	_, _, err := fs.Write(file, []byte("12345"), 0, false, false)
	require.NoError(t, err)

	// A constrained write cannot grow the file.
	n, info, err := fs.Write(file, []byte("XYZW"), 3, false, true)
	require.NoError(t, err)
	assert.Equal(t, 2, n)
	assert.EqualValues(t, 5, info.FileSize)
	buf := make([]byte, 5)
	_, err = fs.Read(file, buf, 0)
	require.NoError(t, err)
	assert.Equal(t, []byte("123XY"), buf)
}

func TestVolumeInfo(t *testing.T) {
	fs := memfs.New(
		memfs.WithLabel("scratch"),
		memfs.WithCapacity(1000),
	)
	info, err := fs.GetVolumeInfo()
	require.NoError(t, err)
	assert.Equal(t, "scratch", info.Label)
	assert.EqualValues(t, 1000, info.TotalSize)
	assert.EqualValues(t, 1000, info.FreeSize)

	file := createFile(t, fs, `\blob.bin`)
	defer fs.Close(file)
	_, _, err = fs.Write(
		file, make([]byte, 600), 0, false, false)
	require.NoError(t, err)
	info, err = fs.GetVolumeInfo()
	require.NoError(t, err)
	assert.EqualValues(t, 400, info.FreeSize)

	info, err = fs.SetVolumeLabel("renamed")
	require.NoError(t, err)
	assert.Equal(t, "renamed", info.Label)
}

func TestReparsePoint(t *testing.T) {
	fs := memfs.New()
	file := createFile(t, fs, `\link`)
	defer fs.Close(file)

	_, err := fs.GetReparsePoint(file, `\link`)
	assert.ErrorIs(t, err, fserr.NotFound)

	data := []byte{0x0c, 0x00, 0x00, 0xa0, 1, 2, 3, 4}
	require.NoError(t, fs.SetReparsePoint(file, `\link`, data))
	got, err := fs.GetReparsePoint(file, `\link`)
	require.NoError(t, err)
	assert.Equal(t, data, got)
	info, err := fs.GetFileInfo(file)
	require.NoError(t, err)
	assert.EqualValues(t, 0xa000000c, info.ReparseTag)

	require.NoError(t, fs.DeleteReparsePoint(file, `\link`, data))
	_, err = fs.GetReparsePoint(file, `\link`)
	assert.ErrorIs(t, err, fserr.NotFound)
}

func TestGetDirInfoByName(t *testing.T) {
	fs := memfs.New()
	dir := createDir(t, fs, `\parent`)
	defer fs.Close(dir)
	child := createFile(t, fs, `\parent\kid.txt`)
	defer fs.Close(child)
	_, _, err := fs.Write(child, []byte("hi"), 0, false, false)
	require.NoError(t, err)

	info, err := fs.GetDirInfoByName(dir, "kid.txt")
	require.NoError(t, err)
	assert.EqualValues(t, 2, info.FileSize)

	_, err = fs.GetDirInfoByName(dir, "stranger.txt")
	assert.ErrorIs(t, err, fserr.NotFound)
}

func TestOverwrite(t *testing.T) {
	fs := memfs.New()
	file := createFile(t, fs, `\trunc.txt`)
	defer fs.Close(file)
	_, _, err := fs.Write(file, []byte("content"), 0, false, false)
	require.NoError(t, err)

	info, err := fs.Overwrite(file, 0, true, 0)
	require.NoError(t, err)
	assert.Zero(t, info.FileSize)
}
