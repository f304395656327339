package winfs

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/sys/windows"

	"github.com/mirrorfs/winfs/dirbuf"
	"github.com/mirrorfs/winfs/fserr"
)

type nullFS struct{}

func (nullFS) Open(
	name string, createOptions, grantedAccess uint32,
) (Context, *dirbuf.FileInfo, error) {
	return nil, nil, fserr.Newf(fserr.NotFound, "%q not found", name)
}

func (nullFS) Close(file Context) {}

type recordingRecorder struct {
	observed []string
	errs     []error
	tracked  int
	open     int
}

func (r *recordingRecorder) Observe(
	op string, err error, elapsed time.Duration,
) {
	r.observed = append(r.observed, op)
	r.errs = append(r.errs, err)
}

func (r *recordingRecorder) Track() func() {
	r.tracked++
	r.open++
	return func() { r.open-- }
}

func TestGuardFeedsRecorder(t *testing.T) {
	rec := &recordingRecorder{}
	h, err := NewHost(nullFS{}, Metrics(rec))
	require.NoError(t, err)

	status := h.guard("Read", func() windows.NTStatus {
		// The operation counts as in flight while it runs.
		assert.Equal(t, 1, rec.open)
		return windows.STATUS_SUCCESS
	})
	assert.Equal(t, windows.STATUS_SUCCESS, status)
	assert.Equal(t, []string{"Read"}, rec.observed)
	assert.Equal(t, []error{nil}, rec.errs)
	assert.Equal(t, 1, rec.tracked)
	assert.Zero(t, rec.open)
}

func TestGuardConvertsPanic(t *testing.T) {
	rec := &recordingRecorder{}
	h, err := NewHost(nullFS{}, Metrics(rec))
	require.NoError(t, err)

	status := h.guard("Write", func() windows.NTStatus {
		panic("boom")
	})
	assert.Equal(t, windows.STATUS_INTERNAL_ERROR, status)
	assert.Equal(t, []string{"Write"}, rec.observed)
	require.Len(t, rec.errs, 1)
	assert.Error(t, rec.errs[0])
	assert.Zero(t, rec.open, "panic leaked an in-flight count")
}
