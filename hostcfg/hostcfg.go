// Package hostcfg loads mount configuration from a file and
// the environment, turning it into host options.
//
// Configuration is read with viper, so any format it supports
// works; keys may also be supplied as WINFS_* environment
// variables. Values are validated before they reach the host.
package hostcfg

import (
	"encoding/binary"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"
	"github.com/pkg/errors"
	"github.com/spf13/viper"
	"gopkg.in/yaml.v3"

	"github.com/mirrorfs/winfs"
)

// Config is the mount configuration surface.
type Config struct {
	MountPoint     string        `mapstructure:"mount_point" yaml:"mount_point" validate:"required"`
	VolumeLabel    string        `mapstructure:"volume_label" yaml:"volume_label" validate:"max=32"`
	FileSystemName string        `mapstructure:"filesystem_name" yaml:"filesystem_name" validate:"max=16"`
	VolumePrefix   string        `mapstructure:"volume_prefix" yaml:"volume_prefix" validate:"max=192"`
	VolumeSerial   uint32        `mapstructure:"volume_serial" yaml:"volume_serial"`
	SectorSize     uint16        `mapstructure:"sector_size" yaml:"sector_size" validate:"min=512,max=4096"`
	SectorsPerUnit uint16        `mapstructure:"sectors_per_unit" yaml:"sectors_per_unit" validate:"min=1"`
	MaxComponent   uint16        `mapstructure:"max_component_length" yaml:"max_component_length" validate:"min=1"`
	CaseSensitive  bool          `mapstructure:"case_sensitive" yaml:"case_sensitive"`
	ReadOnly       bool          `mapstructure:"read_only" yaml:"read_only"`
	PassPattern    bool          `mapstructure:"pass_pattern" yaml:"pass_pattern"`
	ReparsePoints  bool          `mapstructure:"reparse_points" yaml:"reparse_points"`
	NamedStreams   bool          `mapstructure:"named_streams" yaml:"named_streams"`
	FileInfoTmo    time.Duration `mapstructure:"file_info_timeout" yaml:"file_info_timeout" validate:"min=0"`
	Icon           string        `mapstructure:"icon" yaml:"icon"`
	DebugLog       bool          `mapstructure:"debug_log" yaml:"debug_log"`
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("volume_label", "WinFS")
	v.SetDefault("filesystem_name", "WinFS")
	v.SetDefault("sector_size", 512)
	v.SetDefault("sectors_per_unit", 1)
	v.SetDefault("max_component_length", 255)
	v.SetDefault("file_info_timeout", time.Second)
}

// Load reads the configuration file at path, with WINFS_*
// environment variables taking precedence over file values.
func Load(path string) (*Config, error) {
	v := viper.New()
	setDefaults(v)
	v.SetEnvPrefix("winfs")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return nil, errors.Wrapf(err,
				"read config %q", path)
		}
	}
	cfg := &Config{}
	if err := v.Unmarshal(cfg); err != nil {
		return nil, errors.Wrap(err, "unmarshal config")
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate checks the configuration against its constraints.
func (c *Config) Validate() error {
	if err := validator.New().Struct(c); err != nil {
		return errors.Wrap(err, "validate config")
	}
	return nil
}

// Serial resolves the volume serial, generating a random one
// when the configuration leaves it zero.
func (c *Config) Serial() uint32 {
	if c.VolumeSerial != 0 {
		return c.VolumeSerial
	}
	id := uuid.New()
	return binary.LittleEndian.Uint32(id[:4])
}

// Options converts the configuration into host options. The
// mount point is not part of the result; it is passed to the
// host's Mount call separately.
func (c *Config) Options() []winfs.Option {
	opts := []winfs.Option{
		winfs.VolumeLabel(c.VolumeLabel),
		winfs.FileSystemName(c.FileSystemName),
		winfs.VolumeSerial(c.Serial()),
		winfs.SectorGeometry(c.SectorSize, c.SectorsPerUnit),
		winfs.MaxComponentLength(c.MaxComponent),
		winfs.CaseSensitive(c.CaseSensitive),
		winfs.ReadOnly(c.ReadOnly),
		winfs.PassPattern(c.PassPattern),
		winfs.ReparsePoints(c.ReparsePoints),
		winfs.NamedStreams(c.NamedStreams),
		winfs.FileInfoTimeout(c.FileInfoTmo),
		winfs.DebugLog(c.DebugLog),
	}
	if c.VolumePrefix != "" {
		opts = append(opts, winfs.VolumePrefix(c.VolumePrefix))
	}
	if c.Icon != "" {
		opts = append(opts, winfs.Icon(c.Icon))
	}
	return opts
}

// Dump renders the configuration as YAML, for logging the
// effective values at startup.
func (c *Config) Dump() (string, error) {
	out, err := yaml.Marshal(c)
	if err != nil {
		return "", errors.Wrap(err, "marshal config")
	}
	return string(out), nil
}
