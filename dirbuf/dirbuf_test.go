package dirbuf_test

import (
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mirrorfs/winfs/dirbuf"
	"github.com/mirrorfs/winfs/fserr"
)

func info(size uint64) *dirbuf.FileInfo {
	return &dirbuf.FileInfo{FileSize: size, IndexNumber: size}
}

func TestAppendAndRead(t *testing.T) {
	buf := make([]byte, 4096)
	w := dirbuf.NewWriter(buf)
	assert.Equal(t, dirbuf.Empty, w.State())

	names := []string{"a.txt", "bb.txt", "日本語.txt"}
	for i, name := range names {
		ok, err := w.TryAppend(name, info(uint64(i+1)))
		require.NoError(t, err)
		require.True(t, ok, name)
	}
	assert.Equal(t, dirbuf.Filling, w.State())
	n := w.Finish()
	assert.Equal(t, dirbuf.Exhausted, w.State())
	_, resume := w.Marker()
	assert.False(t, resume)

	entries, err := dirbuf.Read(buf[:n])
	require.NoError(t, err)
	require.Len(t, entries, len(names))
	for i, entry := range entries {
		assert.Equal(t, names[i], entry.Name)
		assert.EqualValues(t, i+1, entry.Info.FileSize)
	}
}

func TestEmptyEnumeration(t *testing.T) {
	buf := make([]byte, 512)
	w := dirbuf.NewWriter(buf)
	n := w.Finish()
	assert.Equal(t, dirbuf.Exhausted, w.State())
	_, resume := w.Marker()
	assert.False(t, resume)

	entries, err := dirbuf.Read(buf[:n])
	require.NoError(t, err)
	assert.Empty(t, entries)
}

func TestOverflowSetsMarker(t *testing.T) {
	// Room for two records of ~116 bytes each, not three.
	buf := make([]byte, 280)
	w := dirbuf.NewWriter(buf)

	ok, err := w.TryAppend("aaaaa", info(1))
	require.NoError(t, err)
	require.True(t, ok)
	ok, err = w.TryAppend("bbbbb", info(2))
	require.NoError(t, err)
	require.True(t, ok)
	ok, err = w.TryAppend("ccccc", info(3))
	require.NoError(t, err)
	assert.False(t, ok)
	assert.Equal(t, dirbuf.Full, w.State())

	marker, resume := w.Marker()
	assert.True(t, resume)
	assert.Equal(t, "bbbbb", marker)

	// Appending after Full stays rejected.
	ok, err = w.TryAppend("ddddd", info(4))
	require.NoError(t, err)
	assert.False(t, ok)

	n := w.Finish()
	assert.Equal(t, dirbuf.Full, w.State())
	entries, err := dirbuf.Read(buf[:n])
	require.NoError(t, err)
	require.Len(t, entries, 2)
	assert.Equal(t, "aaaaa", entries[0].Name)
	assert.Equal(t, "bbbbb", entries[1].Name)
}

// enumerate drives a sorted listing through repeated writer
// passes the way the dispatch layer does, resuming strictly
// after the marker each time.
func enumerate(t *testing.T, names []string, bufSize int) []string {
	var got []string
	marker := ""
	for pass := 0; ; pass++ {
		require.Less(t, pass, len(names)+2, "enumeration does not terminate")
		w := dirbuf.NewWriter(make([]byte, bufSize))
		for _, name := range names {
			if marker != "" && name <= marker {
				continue
			}
			ok, err := w.TryAppend(name, info(1))
			require.NoError(t, err)
			if !ok {
				break
			}
		}
		n := w.Finish()
		entries, err := dirbuf.Read(w.Bytes()[:n])
		require.NoError(t, err)
		for _, entry := range entries {
			got = append(got, entry.Name)
		}
		next, resume := w.Marker()
		if !resume {
			return got
		}
		marker = next
	}
}

func TestResumeYieldsEachEntryExactlyOnce(t *testing.T) {
	var names []string
	for i := 0; i < 40; i++ {
		names = append(names, fmt.Sprintf("file-%03d.dat", i))
	}
	got := enumerate(t, names, 300)
	assert.Equal(t, names, got)
}

func TestEntryTooLarge(t *testing.T) {
	buf := make([]byte, 128)
	w := dirbuf.NewWriter(buf)
	long := make([]byte, 200)
	for i := range long {
		long[i] = 'x'
	}
	_, err := w.TryAppend(string(long), info(1))
	assert.ErrorIs(t, err, fserr.EntryTooLarge)
}

func TestAppendRejectsBadName(t *testing.T) {
	w := dirbuf.NewWriter(make([]byte, 512))
	_, err := w.TryAppend("bad\x00name", info(1))
	assert.ErrorIs(t, err, fserr.InvalidName)
}
