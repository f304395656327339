package hostcfg_test

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mirrorfs/winfs/hostcfg"
)

func writeConfig(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "winfs.yaml")
	require.NoError(t, os.WriteFile(path, []byte(content), 0644))
	return path
}

func TestLoadDefaults(t *testing.T) {
	path := writeConfig(t, "mount_point: 'X:'\n")
	cfg, err := hostcfg.Load(path)
	require.NoError(t, err)
	assert.Equal(t, "X:", cfg.MountPoint)
	assert.Equal(t, "WinFS", cfg.VolumeLabel)
	assert.Equal(t, "WinFS", cfg.FileSystemName)
	assert.EqualValues(t, 512, cfg.SectorSize)
	assert.EqualValues(t, 1, cfg.SectorsPerUnit)
	assert.EqualValues(t, 255, cfg.MaxComponent)
	assert.Equal(t, time.Second, cfg.FileInfoTmo)
	assert.False(t, cfg.ReadOnly)
}

func TestLoadFullConfig(t *testing.T) {
	path := writeConfig(t, `
mount_point: 'Z:'
volume_label: archive
filesystem_name: MirrorFS
volume_serial: 42
sector_size: 4096
sectors_per_unit: 8
case_sensitive: true
read_only: true
reparse_points: true
file_info_timeout: 5s
icon: C:\icons\vault.ico
debug_log: true
`)
	cfg, err := hostcfg.Load(path)
	require.NoError(t, err)
	assert.Equal(t, "archive", cfg.VolumeLabel)
	assert.EqualValues(t, 42, cfg.VolumeSerial)
	assert.EqualValues(t, 4096, cfg.SectorSize)
	assert.EqualValues(t, 8, cfg.SectorsPerUnit)
	assert.True(t, cfg.CaseSensitive)
	assert.True(t, cfg.ReadOnly)
	assert.True(t, cfg.ReparsePoints)
	assert.Equal(t, 5*time.Second, cfg.FileInfoTmo)
	assert.True(t, cfg.DebugLog)

	opts := cfg.Options()
	assert.NotEmpty(t, opts)
}

func TestLoadRejectsInvalidValues(t *testing.T) {
	cases := map[string]string{
		"missing mount point": "volume_label: nomount\n",
		"sector too small":    "mount_point: 'X:'\nsector_size: 128\n",
		"sector too large":    "mount_point: 'X:'\nsector_size: 65535\n",
		"label too long": "mount_point: 'X:'\nvolume_label: " +
			"aaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaa\n",
	}
	for name, content := range cases {
		t.Run(name, func(t *testing.T) {
			_, err := hostcfg.Load(writeConfig(t, content))
			assert.Error(t, err)
		})
	}
}

func TestEnvironmentOverride(t *testing.T) {
	t.Setenv("WINFS_VOLUME_LABEL", "from-env")
	path := writeConfig(t, "mount_point: 'X:'\nvolume_label: from-file\n")
	cfg, err := hostcfg.Load(path)
	require.NoError(t, err)
	assert.Equal(t, "from-env", cfg.VolumeLabel)
}

func TestSerialGeneration(t *testing.T) {
	fixed := &hostcfg.Config{VolumeSerial: 7}
	assert.EqualValues(t, 7, fixed.Serial())

	random := &hostcfg.Config{}
	first := random.Serial()
	second := random.Serial()
	// Two random serials colliding twice in a row would be
	// astronomically unlucky.
	if first == second {
		assert.NotEqual(t, first, random.Serial())
	}
}

func TestDump(t *testing.T) {
	cfg := &hostcfg.Config{MountPoint: "X:", VolumeLabel: "vault"}
	out, err := cfg.Dump()
	require.NoError(t, err)
	assert.Contains(t, out, "mount_point: 'X:'")
	assert.Contains(t, out, "volume_label: vault")
}
