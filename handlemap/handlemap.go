// Package handlemap owns the mapping between the opaque handle
// tokens handed to the native layer and the per-open-file state
// owned by the host.
//
// The native layer only ever sees a token, never the state
// itself, so a stale or forged token can at worst miss the map.
// Tokens are drawn from a monotonically increasing counter and
// are never re-issued, which keeps a token invalid forever once
// its entry is unregistered.
package handlemap

import (
	"sync"
	"sync/atomic"

	"github.com/mirrorfs/winfs/fserr"
)

// Handle is an opaque token referencing one registered context.
// The zero value is never issued.
type Handle uint64

// Map is a concurrency-safe handle registry. Distinct tokens
// may be operated on from any number of dispatch threads;
// serialization of operations on the same token is the calling
// layer's responsibility.
type Map struct {
	entries sync.Map
	next    atomic.Uint64
}

// New allocates an empty registry.
func New() *Map {
	return &Map{}
}

// Register stores the context and issues its token. It never
// fails.
func (m *Map) Register(context interface{}) Handle {
	h := Handle(m.next.Add(1))
	m.entries.Store(h, context)
	return h
}

// Lookup resolves a token to its registered context, failing
// with InvalidHandle for tokens that were never issued or have
// been unregistered.
func (m *Map) Lookup(h Handle) (interface{}, error) {
	context, ok := m.entries.Load(h)
	if !ok {
		return nil, fserr.Newf(fserr.InvalidHandle,
			"unknown handle %#x", uint64(h))
	}
	return context, nil
}

// Unregister removes the entry and returns the context to the
// caller for disposal.
func (m *Map) Unregister(h Handle) (interface{}, error) {
	context, ok := m.entries.LoadAndDelete(h)
	if !ok {
		return nil, fserr.Newf(fserr.InvalidHandle,
			"unknown handle %#x", uint64(h))
	}
	return context, nil
}

// Len counts the live entries. It is a snapshot; entries may be
// registered or unregistered concurrently.
func (m *Map) Len() int {
	count := 0
	m.entries.Range(func(_, _ interface{}) bool {
		count++
		return true
	})
	return count
}

// Range visits every live entry, stopping early when fn returns
// false. Used by teardown paths to dispose of leaked contexts.
func (m *Map) Range(fn func(Handle, interface{}) bool) {
	m.entries.Range(func(key, value interface{}) bool {
		return fn(key.(Handle), value)
	})
}
