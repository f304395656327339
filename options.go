package winfs

import (
	"time"

	"github.com/sirupsen/logrus"
)

// Recorder observes completed filesystem operations. The
// fsmetrics package provides a prometheus-backed one.
type Recorder interface {
	Observe(op string, err error, elapsed time.Duration)
}

// InflightRecorder is an optional extension of Recorder. When
// the attached recorder implements it, the host calls Track as
// each operation starts and the returned callback when it
// finishes.
type InflightRecorder interface {
	Recorder
	Track() func()
}

type option struct {
	caseSensitive  bool
	readOnly       bool
	volumePrefix   string
	fileSystemName string
	volumeLabel    string
	volumeSerial   uint32
	sectorSize     uint16
	sectorsPerUnit uint16
	maxComponent   uint16
	passPattern    bool
	reparsePoints  bool
	namedStreams   bool
	creationTime   time.Time
	fileInfoTmo    time.Duration
	iconFile       string
	debugLog       bool
	logger         *logrus.Logger
	recorder       Recorder
}

func newOption() *option {
	return &option{
		caseSensitive:  false,
		volumePrefix:   "",
		fileSystemName: "WinFS",
		volumeLabel:    "WinFS",
		sectorSize:     512,
		sectorsPerUnit: 1,
		maxComponent:   255,
		creationTime:   time.Now(),
		fileInfoTmo:    time.Second,
		logger:         logrus.StandardLogger(),
	}
}

// Option is the options that could be passed to the host.
type Option func(*option)

// CaseSensitive indicates whether names on the underlying
// filesystem are distinguished case sensitively. Windows
// filesystems usually are not, so it defaults to false.
func CaseSensitive(value bool) Option {
	return func(o *option) {
		o.caseSensitive = value
	}
}

// ReadOnly mounts the volume read-only.
func ReadOnly(value bool) Option {
	return func(o *option) {
		o.readOnly = value
	}
}

// VolumePrefix sets the volume prefix on mounting.
//
// Specifying a volume prefix turns the filesystem into a
// network device instead of a disk one.
func VolumePrefix(value string) Option {
	return func(o *option) {
		o.volumePrefix = value
	}
}

// FileSystemName sets the filesystem's type for display.
func FileSystemName(value string) Option {
	return func(o *option) {
		o.fileSystemName = value
	}
}

// VolumeLabel sets the initial volume label.
func VolumeLabel(value string) Option {
	return func(o *option) {
		o.volumeLabel = value
	}
}

// VolumeSerial sets the volume serial number. When left zero a
// random serial is assigned.
func VolumeSerial(value uint32) Option {
	return func(o *option) {
		o.volumeSerial = value
	}
}

// SectorGeometry sets the sector size and sectors per
// allocation unit reported to the kernel.
func SectorGeometry(sectorSize, sectorsPerUnit uint16) Option {
	return func(o *option) {
		o.sectorSize = sectorSize
		o.sectorsPerUnit = sectorsPerUnit
	}
}

// MaxComponentLength caps the length of a single name
// component.
func MaxComponentLength(value uint16) Option {
	return func(o *option) {
		o.maxComponent = value
	}
}

// CreationTime sets the volume creation time explicitly,
// instead of using the timestamp of creating the host.
func CreationTime(value time.Time) Option {
	return func(o *option) {
		o.creationTime = value
	}
}

// PassPattern specifies whether the search pattern of a
// directory enumeration should be passed through.
func PassPattern(value bool) Option {
	return func(o *option) {
		o.passPattern = value
	}
}

// ReparsePoints announces reparse point support. It only takes
// effect when the filesystem implements the reparse behaviours.
func ReparsePoints(value bool) Option {
	return func(o *option) {
		o.reparsePoints = value
	}
}

// NamedStreams announces alternate data stream support. It
// only takes effect when the filesystem implements
// BehaviourGetStreamInfo.
func NamedStreams(value bool) Option {
	return func(o *option) {
		o.namedStreams = value
	}
}

// FileInfoTimeout sets how long the kernel may cache file
// information before asking again.
func FileInfoTimeout(value time.Duration) Option {
	return func(o *option) {
		o.fileInfoTmo = value
	}
}

// Icon assigns an icon file to the mount point through a
// generated desktop.ini.
func Icon(path string) Option {
	return func(o *option) {
		o.iconFile = path
	}
}

// DebugLog enables per-operation trace logging.
func DebugLog(value bool) Option {
	return func(o *option) {
		o.debugLog = value
	}
}

// Logger routes host logging to the given logger instead of
// the standard one.
func Logger(value *logrus.Logger) Option {
	return func(o *option) {
		o.logger = value
	}
}

// Metrics attaches an operation recorder, observing every
// dispatched operation with its outcome and latency.
func Metrics(value Recorder) Option {
	return func(o *option) {
		o.recorder = value
	}
}

// Options is used to aggregate a bundle of options.
func Options(opts ...Option) Option {
	return func(o *option) {
		for _, opt := range opts {
			opt(o)
		}
	}
}
