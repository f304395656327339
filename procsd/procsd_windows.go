package procsd

import (
	"sync"
	"unsafe"

	"github.com/pkg/errors"
	"golang.org/x/sys/windows"
)

const infoMask = windows.OWNER_SECURITY_INFORMATION |
	windows.GROUP_SECURITY_INFORMATION |
	windows.DACL_SECURITY_INFORMATION

var (
	once sync.Once
	blob []byte
	err  error
)

func load() ([]byte, error) {
	sd, err := windows.GetSecurityInfo(
		windows.CurrentProcess(),
		windows.SE_KERNEL_OBJECT, infoMask,
	)
	if err != nil {
		return nil, errors.Wrap(err, "get process security info")
	}
	control, _, err := sd.Control()
	if err != nil {
		return nil, errors.Wrap(err, "get security descriptor control")
	}
	relative := sd
	if control&windows.SE_SELF_RELATIVE == 0 {
		relative, err = sd.ToSelfRelative()
		if err != nil {
			return nil, errors.Wrap(err, "convert to self-relative")
		}
	}
	length := relative.Length()
	raw := unsafe.Slice(
		(*byte)(unsafe.Pointer(relative)), length)
	return append([]byte(nil), raw...), nil
}

// Load returns the process security descriptor as a
// self-relative blob. The returned slice is shared; callers
// must not modify it.
func Load() ([]byte, error) {
	once.Do(func() {
		blob, err = load()
	})
	return blob, err
}
