//go:build windows

package winfs_test

import (
	"os"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mirrorfs/winfs"
	"github.com/mirrorfs/winfs/memfs"
)

const mountPoint = "T:"

func TestMountMemFS(t *testing.T) {
	host, err := winfs.Mount(
		memfs.New(memfs.WithLabel("scratch")), mountPoint)
	require.NoError(t, err)
	defer host.Unmount()
	require.Equal(t, winfs.StateMounted, host.State())
	require.Equal(t, mountPoint, host.MountPoint())

	path := mountPoint + `\note.txt`
	require.NoError(t, os.WriteFile(path, []byte("hello"), 0644))
	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Equal(t, []byte("hello"), data)

	require.NoError(t, os.Mkdir(mountPoint+`\dir`, 0755))
	entries, err := os.ReadDir(mountPoint + `\`)
	require.NoError(t, err)
	assert.Len(t, entries, 2)

	moved := mountPoint + `\dir\moved.txt`
	require.NoError(t, os.Rename(path, moved))
	_, err = os.Stat(path)
	assert.True(t, os.IsNotExist(err))
	fi, err := os.Stat(moved)
	require.NoError(t, err)
	assert.EqualValues(t, 5, fi.Size())

	require.NoError(t, os.Remove(moved))
	require.NoError(t, os.Remove(mountPoint + `\dir`))
}

func TestHostLifecycle(t *testing.T) {
	host, err := winfs.NewHost(memfs.New())
	require.NoError(t, err)
	assert.Equal(t, winfs.StateUnconfigured, host.State())

	require.NoError(t, host.Create())
	assert.Equal(t, winfs.StateCreated, host.State())
	require.NoError(t, host.Start())
	assert.Equal(t, winfs.StateStarted, host.State())
	assert.Empty(t, host.MountPoint())
	require.NoError(t, host.Mount(mountPoint))
	assert.Equal(t, winfs.StateMounted, host.State())
	assert.Equal(t, mountPoint, host.MountPoint())

	// Mounting twice is an illegal edge.
	assert.Error(t, host.Mount(mountPoint))

	require.NoError(t, host.Stop())
	assert.Equal(t, winfs.StateStopped, host.State())
	assert.Empty(t, host.MountPoint())
	require.NoError(t, host.Delete())
	assert.Equal(t, winfs.StateDeleted, host.State())
}
