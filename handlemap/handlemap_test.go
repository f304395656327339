package handlemap_test

import (
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mirrorfs/winfs/fserr"
	"github.com/mirrorfs/winfs/handlemap"
)

type fileState struct {
	name string
}

func TestRegisterLookupUnregister(t *testing.T) {
	m := handlemap.New()
	state := &fileState{name: "a.txt"}

	h := m.Register(state)
	assert.NotZero(t, h)

	got, err := m.Lookup(h)
	require.NoError(t, err)
	assert.Same(t, state, got)

	got, err = m.Unregister(h)
	require.NoError(t, err)
	assert.Same(t, state, got)

	_, err = m.Lookup(h)
	assert.ErrorIs(t, err, fserr.InvalidHandle)
	_, err = m.Unregister(h)
	assert.ErrorIs(t, err, fserr.InvalidHandle)
}

func TestForgedHandle(t *testing.T) {
	m := handlemap.New()
	m.Register(&fileState{name: "real"})

	_, err := m.Lookup(handlemap.Handle(0))
	assert.ErrorIs(t, err, fserr.InvalidHandle)
	_, err = m.Lookup(handlemap.Handle(0xdeadbeef))
	assert.ErrorIs(t, err, fserr.InvalidHandle)
}

func TestHandlesAreNeverReissued(t *testing.T) {
	m := handlemap.New()
	seen := make(map[handlemap.Handle]bool)
	for i := 0; i < 1000; i++ {
		h := m.Register(&fileState{})
		require.False(t, seen[h])
		seen[h] = true
		_, err := m.Unregister(h)
		require.NoError(t, err)
	}
}

func TestConcurrentUse(t *testing.T) {
	m := handlemap.New()
	var wg sync.WaitGroup
	for worker := 0; worker < 8; worker++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for i := 0; i < 200; i++ {
				state := &fileState{name: "f"}
				h := m.Register(state)
				got, err := m.Lookup(h)
				assert.NoError(t, err)
				assert.Same(t, state, got)
				_, err = m.Unregister(h)
				assert.NoError(t, err)
			}
		}()
	}
	wg.Wait()
	assert.Zero(t, m.Len())
}

func TestRangeVisitsLiveEntries(t *testing.T) {
	m := handlemap.New()
	h1 := m.Register(&fileState{name: "one"})
	h2 := m.Register(&fileState{name: "two"})
	_, err := m.Unregister(h1)
	require.NoError(t, err)

	var visited []handlemap.Handle
	m.Range(func(h handlemap.Handle, _ interface{}) bool {
		visited = append(visited, h)
		return true
	})
	assert.Equal(t, []handlemap.Handle{h2}, visited)
	assert.Equal(t, 1, m.Len())
}
