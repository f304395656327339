package fserr_test

import (
	"errors"
	"io"
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/mirrorfs/winfs/fserr"
)

func TestKindOf(t *testing.T) {
	assert.Equal(t, fserr.Kind(0), fserr.KindOf(nil))
	assert.Equal(t, fserr.NotFound,
		fserr.KindOf(fserr.New(fserr.NotFound, "no such file")))
	assert.Equal(t, fserr.Internal, fserr.KindOf(io.ErrUnexpectedEOF))
	assert.Equal(t, fserr.InvalidHandle, fserr.KindOf(fserr.InvalidHandle))
}

func TestWrapPreservesCause(t *testing.T) {
	cause := errors.New("disk on fire")
	err := fserr.Wrap(fserr.Internal, cause, "flush")
	assert.ErrorIs(t, err, cause)
	assert.Equal(t, fserr.Internal, fserr.KindOf(err))
	assert.Contains(t, err.Error(), "flush")

	assert.NoError(t, fserr.Wrap(fserr.Internal, nil, "flush"))
}

func TestIsMatchesKind(t *testing.T) {
	err := fserr.Newf(fserr.AlreadyExists, "file %q", "a.txt")
	assert.ErrorIs(t, err, fserr.AlreadyExists)
	assert.NotErrorIs(t, err, fserr.NotFound)
	assert.True(t, fserr.IsKind(err, fserr.AlreadyExists))
	assert.False(t, fserr.IsKind(nil, fserr.AlreadyExists))
}

func TestKindString(t *testing.T) {
	assert.Equal(t, "directory not empty", fserr.DirectoryNotEmpty.String())
	assert.Equal(t, "kind(99)", fserr.Kind(99).String())
}
