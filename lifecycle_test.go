package winfs

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mirrorfs/winfs/fserr"
)

func TestLifecycleHappyPath(t *testing.T) {
	lc := &lifecycle{}
	assert.Equal(t, StateUnconfigured, lc.current())
	for _, next := range []State{
		StateCreated, StateStarted, StateMounted,
		StateStopped, StateDeleted,
	} {
		require.NoError(t, lc.transition(next, nil))
		assert.Equal(t, next, lc.current())
	}
}

func TestLifecycleStopWithoutMount(t *testing.T) {
	lc := &lifecycle{}
	require.NoError(t, lc.transition(StateCreated, nil))
	require.NoError(t, lc.transition(StateStarted, nil))
	require.NoError(t, lc.transition(StateStopped, nil))
	require.NoError(t, lc.transition(StateDeleted, nil))
}

func TestLifecycleDeleteWithoutStart(t *testing.T) {
	lc := &lifecycle{}
	require.NoError(t, lc.transition(StateCreated, nil))
	require.NoError(t, lc.transition(StateDeleted, nil))
}

func TestLifecycleRejectsOutOfOrder(t *testing.T) {
	cases := []struct {
		name string
		walk []State
		next State
	}{
		{"mount before create", nil, StateMounted},
		{"start before create", nil, StateStarted},
		{"mount before start", []State{StateCreated}, StateMounted},
		{"double create", []State{StateCreated}, StateCreated},
		{"double start",
			[]State{StateCreated, StateStarted}, StateStarted},
		{"delete while mounted",
			[]State{StateCreated, StateStarted, StateMounted},
			StateDeleted},
		{"restart after stop",
			[]State{StateCreated, StateStarted, StateStopped},
			StateStarted},
		{"anything after delete",
			[]State{StateCreated, StateDeleted}, StateStarted},
	}
	for _, c := range cases {
		t.Run(c.name, func(t *testing.T) {
			lc := &lifecycle{}
			for _, s := range c.walk {
				require.NoError(t, lc.transition(s, nil))
			}
			before := lc.current()
			err := lc.transition(c.next, nil)
			assert.ErrorIs(t, err, fserr.InvalidLifecycleState)
			assert.Equal(t, before, lc.current())
		})
	}
}

func TestLifecycleFailedActionKeepsState(t *testing.T) {
	lc := &lifecycle{}
	boom := fserr.New(fserr.CreationFailed, "no native volume")
	err := lc.transition(StateCreated, func() error { return boom })
	assert.ErrorIs(t, err, fserr.CreationFailed)
	assert.Equal(t, StateUnconfigured, lc.current())

	require.NoError(t, lc.transition(StateCreated, nil))
}

func TestLifecycleRequire(t *testing.T) {
	lc := &lifecycle{}
	require.NoError(t, lc.transition(StateCreated, nil))

	ran := false
	err := lc.require(func() error {
		ran = true
		return nil
	}, StateStarted, StateMounted)
	assert.ErrorIs(t, err, fserr.InvalidLifecycleState)
	assert.False(t, ran)

	require.NoError(t, lc.transition(StateStarted, nil))
	require.NoError(t, lc.require(func() error {
		ran = true
		return nil
	}, StateStarted, StateMounted))
	assert.True(t, ran)
}
