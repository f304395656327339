package winfs

import (
	"sync"

	"github.com/mirrorfs/winfs/fserr"
)

// State is the lifecycle state of a filesystem host. A host
// moves strictly forward through the states; the only branching
// is that an unmounted host may stop without ever mounting, and
// a created host may be deleted without starting.
type State int

const (
	// StateUnconfigured is the zero value, before Create.
	StateUnconfigured State = iota
	// StateCreated means the native volume object exists but
	// no dispatcher threads run yet.
	StateCreated
	// StateStarted means dispatcher threads are serving
	// operations.
	StateStarted
	// StateMounted means the volume is attached to its mount
	// point.
	StateMounted
	// StateStopped means the dispatcher has drained and no
	// further operations arrive.
	StateStopped
	// StateDeleted means the native volume object is gone and
	// the host is inert.
	StateDeleted
)

func (s State) String() string {
	switch s {
	case StateUnconfigured:
		return "unconfigured"
	case StateCreated:
		return "created"
	case StateStarted:
		return "started"
	case StateMounted:
		return "mounted"
	case StateStopped:
		return "stopped"
	case StateDeleted:
		return "deleted"
	default:
		return "unknown"
	}
}

var lifecycleEdges = map[State][]State{
	StateCreated: {StateUnconfigured},
	StateStarted: {StateCreated},
	StateMounted: {StateStarted},
	StateStopped: {StateStarted, StateMounted},
	StateDeleted: {StateCreated, StateStopped},
}

// lifecycle serializes state transitions of one host. Guarded
// actions run under the lock so a half-finished transition is
// never observable.
type lifecycle struct {
	mu    sync.Mutex
	state State
}

// current reports the state at the time of the call.
func (l *lifecycle) current() State {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.state
}

// transition moves to the target state after action succeeds.
// An action error leaves the state untouched; an illegal edge
// fails with InvalidLifecycleState without running the action.
func (l *lifecycle) transition(to State, action func() error) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	allowed := false
	for _, from := range lifecycleEdges[to] {
		if l.state == from {
			allowed = true
			break
		}
	}
	if !allowed {
		return fserr.Newf(fserr.InvalidLifecycleState,
			"cannot enter %v from %v", to, l.state)
	}
	if action != nil {
		if err := action(); err != nil {
			return err
		}
	}
	l.state = to
	return nil
}

// require runs action while holding the state steady, failing
// with InvalidLifecycleState unless the current state is one of
// the given states.
func (l *lifecycle) require(action func() error, states ...State) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	for _, s := range states {
		if l.state == s {
			return action()
		}
	}
	return fserr.Newf(fserr.InvalidLifecycleState,
		"operation not allowed in state %v", l.state)
}
