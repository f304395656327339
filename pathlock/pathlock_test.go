package pathlock

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func assertEmpty(assert *assert.Assertions, locker *Locker) {
	locker.m.Range(func(k, v interface{}) bool {
		_ = assert.Failf(
			"invalid remaining entry %q = %d",
			k.(string), *v.(*uintptr),
		)
		return true
	})
}

func TestRootDir(t *testing.T) {
	assert := assert.New(t)
	locker := &Locker{}
	defer assertEmpty(assert, locker)
	assert.NotNil(locker.RLockPath(""))
	assert.NotNil(locker.RLockPath("."))
	assert.NotNil(locker.RLockPath("/"))
	assert.Nil(locker.LockPath(""))
	assert.Nil(locker.LockPath("."))
	assert.Nil(locker.LockPath("/"))
}

func TestReadWriteLock(t *testing.T) {
	assert := assert.New(t)
	locker := &Locker{}
	defer assertEmpty(assert, locker)

	lockPathABC := locker.RLockPath("/a/b/c")
	assert.NotNil(lockPathABC)
	defer lockPathABC.Unlock()

	// Reader locks stack freely.
	lockPathABC2 := locker.RLockPath("/a/b/c/")
	assert.NotNil(lockPathABC2)
	defer lockPathABC2.Unlock()

	// Neither the path nor any ancestor can be write locked.
	assert.Nil(locker.LockPath("/a/b/c"))
	assert.Nil(locker.LockPath("a/b/c"))
	assert.Nil(locker.LockPath("./a/b/c"))
	assert.Nil(locker.LockPath("/a/b"))
	assert.Nil(locker.LockPath("a/b"))
	assert.Nil(locker.LockPath("./a/b"))
	assert.Nil(locker.LockPath("/a"))
	assert.Nil(locker.LockPath("a"))
	assert.Nil(locker.LockPath("./a"))

	// Children remain available.
	lockPathABCD := locker.LockPath("/a/b/c/d")
	assert.NotNil(lockPathABCD)
	defer lockPathABCD.Unlock()

	// As do sibling paths.
	lockPathAC := locker.LockPath("./a/b/c/../../c/")
	assert.NotNil(lockPathAC)
	defer lockPathAC.Unlock()

	// The writer lock is exclusive against everything.
	assert.Nil(locker.LockPath("a/c"))
	assert.Nil(locker.LockPath("a/c/"))
	assert.Nil(locker.LockPath("./a/c"))
	assert.Nil(locker.LockPath("/a/c"))
	assert.Nil(locker.RLockPath("a/c"))
	assert.Nil(locker.RLockPath("/a/c"))
	assert.Nil(locker.RLockPath("./a/c"))
	assert.Nil(locker.RLockPath("/a/c/d"))
	assert.Nil(locker.RLockPath("./a/c/d"))
	assert.Nil(locker.RLockPath("//a/c/d"))
}

func TestDowngrade(t *testing.T) {
	assert := assert.New(t)
	locker := &Locker{}
	defer assertEmpty(assert, locker)

	lock := locker.LockPath("/x/y")
	assert.NotNil(lock)
	assert.True(lock.IsWrite())
	assert.Nil(locker.RLockPath("/x/y"))

	lock.Downgrade()
	assert.False(lock.IsWrite())
	reader := locker.RLockPath("/x/y")
	assert.NotNil(reader)
	reader.Unlock()
	lock.Unlock()
}
