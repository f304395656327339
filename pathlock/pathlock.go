// Package pathlock arbitrates concurrent operations on a file
// path namespace.
//
// Read, write and query operations on a file take reader locks;
// rename and delete take a writer lock on the file plus reader
// locks on every ancestor, so a subtree cannot be renamed away
// under an in-flight operation. Lock acquisition never blocks:
// a conflicting request fails immediately and the caller maps
// the failure to a sharing violation.
package pathlock

import (
	"path"
	"path/filepath"
	"runtime"
	"sync"
	"sync/atomic"
)

// Counter values: 0 means writer-held, 1 means a reader just
// dropped the last reference and the entry is being retired,
// n>=2 means n-1 readers.
var counterPool = &sync.Pool{
	New: func() interface{} {
		return new(uintptr)
	},
}

// Locker is the lock table of one path namespace. The zero
// value is ready to use.
type Locker struct {
	m sync.Map
}

// readUnlock drops one reader reference, retiring the entry
// when the last reader leaves. The matching readLock must have
// succeeded or the table's integrity is broken.
func (l *Locker) readUnlock(p string) {
	obj, _ := l.m.Load(p)
	if atomic.AddUintptr(obj.(*uintptr), ^uintptr(0)) == 1 {
		old, _ := l.m.LoadAndDelete(p)
		counterPool.Put(old.(*uintptr))
	}
}

// readLock takes one reader reference on the path. It fails
// when a writer already holds the path or the reference counter
// would overflow.
func (l *Locker) readLock(p string) bool {
	for {
		fresh := counterPool.Get().(*uintptr)
		atomic.StoreUintptr(fresh, 2)
		obj, loaded := l.m.LoadOrStore(p, fresh)
		if !loaded {
			// Our counter went in, already holding one
			// reference.
			return true
		}
		counterPool.Put(fresh)
		ptr := obj.(*uintptr)
		before := atomic.LoadUintptr(ptr)
		if before == 0 {
			// Writer holds the path.
			return false
		}
		if before == 1 {
			// Entry is being retired, wait for it to leave the
			// table and retry with a fresh counter.
			runtime.Gosched()
			continue
		}
		after := before + 1
		if after == 0 {
			return false
		}
		if atomic.CompareAndSwapUintptr(ptr, before, after) {
			return true
		}
		runtime.Gosched()
	}
}

// writeUnlock retires a writer-held entry. Nobody else may
// touch the counter while the writer holds it.
func (l *Locker) writeUnlock(p string) {
	obj, _ := l.m.LoadAndDelete(p)
	counterPool.Put(obj.(*uintptr))
}

// writeLock claims exclusive ownership of the path. Any reader
// or writer already present fails the claim.
func (l *Locker) writeLock(p string) bool {
	for {
		fresh := counterPool.Get().(*uintptr)
		atomic.StoreUintptr(fresh, 0)
		obj, loaded := l.m.LoadOrStore(p, fresh)
		if !loaded {
			return true
		}
		counterPool.Put(fresh)
		before := atomic.LoadUintptr(obj.(*uintptr))
		if before == 0 || before > 1 {
			return false
		}
		// Retiring entry, wait for it to leave the table.
		runtime.Gosched()
	}
}

func (l *Locker) readUnlockChain(p string) {
	if p == "" || p == "." || p == "/" {
		return
	}
	l.readUnlock(p)
	l.readUnlockChain(path.Dir(p))
}

// readLockChain takes reader references on the path and every
// ancestor, rolling back on partial failure.
func (l *Locker) readLockChain(p string) bool {
	if p == "" || p == "." || p == "/" {
		return true
	}
	parent := path.Dir(p)
	if !l.readLockChain(parent) {
		return false
	}
	locked := false
	defer func() {
		if !locked {
			l.readUnlockChain(parent)
		}
	}()
	locked = l.readLock(p)
	return locked
}

// Lock is the reference object held to release the lock.
type Lock struct {
	locker *Locker
	path   string
	write  bool
	free   sync.Once
}

func (l *Locker) newLock(path string, write bool) *Lock {
	result := &Lock{
		locker: l,
		path:   path,
		write:  write,
	}
	runtime.SetFinalizer(result, func(l *Lock) {
		l.Unlock()
	})
	return result
}

// Path returns the locked path in slash separated form.
func (l *Lock) Path() string {
	return l.path
}

// FilePath returns the locked path in the platform's separator.
func (l *Lock) FilePath() string {
	return filepath.FromSlash(l.Path())
}

func (l *Locker) writerDowngrade(path string) {
	// The writer is the only one allowed to store into the
	// counter, so a plain store to the single-reader value is
	// enough.
	ptr, _ := l.m.Load(path)
	atomic.StoreUintptr(ptr.(*uintptr), 2)
}

// IsWrite reports whether this is still a writer lock.
func (l *Lock) IsWrite() bool {
	return l.write
}

// Downgrade turns a writer lock into a reader lock in place.
func (l *Lock) Downgrade() {
	if !l.write {
		return
	}
	l.locker.writerDowngrade(l.path)
	l.write = false
}

// Unlock releases the lock. Calling it more than once is
// harmless; an unreferenced lock is also released by its
// finalizer.
func (l *Lock) Unlock() {
	runtime.SetFinalizer(l, nil)
	l.free.Do(func() {
		if l.write {
			l.locker.writeUnlock(l.path)
			l.locker.readUnlockChain(path.Dir(l.path))
		} else {
			l.locker.readUnlockChain(l.path)
		}
	})
}

func (l *Locker) readLockCleanPath(p string) *Lock {
	if l.readLockChain(p) {
		return l.newLock(p, false)
	}
	return nil
}

func (l *Locker) writeLockCleanPath(p string) *Lock {
	if p == "" || p == "/" || p == "." {
		// The namespace root cannot be renamed or removed.
		return nil
	}
	parent := path.Dir(p)
	if !l.readLockChain(parent) {
		return nil
	}
	locked := false
	defer func() {
		if !locked {
			l.readUnlockChain(parent)
		}
	}()
	if !l.writeLock(p) {
		return nil
	}
	defer func() {
		if !locked {
			l.writeUnlock(p)
		}
	}()
	result := l.newLock(p, true)
	locked = true
	return result
}

func cleanSlashPath(p string) string {
	return path.Clean(path.Join("/", p))
}

func cleanFilePath(p string) string {
	p = p[len(filepath.VolumeName(p)):]
	p = filepath.ToSlash(p)
	return cleanSlashPath(p)
}

// RLock attempts the reader lock on a platform separated path,
// returning nil when the path is unavailable.
func (l *Locker) RLock(p string) *Lock {
	return l.readLockCleanPath(cleanFilePath(p))
}

// Lock attempts the writer lock on a platform separated path,
// returning nil when the path is unavailable.
func (l *Locker) Lock(p string) *Lock {
	return l.writeLockCleanPath(cleanFilePath(p))
}

// RLockPath attempts the reader lock on a slash separated path.
func (l *Locker) RLockPath(p string) *Lock {
	return l.readLockCleanPath(cleanSlashPath(p))
}

// LockPath attempts the writer lock on a slash separated path.
func (l *Locker) LockPath(p string) *Lock {
	return l.writeLockCleanPath(cleanSlashPath(p))
}
