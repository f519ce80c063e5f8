package dapengine

import (
	"fmt"
	"sync"
	"sync/atomic"
)

// Phase is the canonical session state variant, spec.md §3.
type Phase int

const (
	NotStarted Phase = iota
	Configuring
	Running
	Paused
	Terminated
)

func (p Phase) String() string {
	switch p {
	case NotStarted:
		return "not-started"
	case Configuring:
		return "configuring"
	case Running:
		return "running"
	case Paused:
		return "paused"
	case Terminated:
		return "terminated"
	default:
		return "unknown"
	}
}

// State is the canonical state record. Paused carries a reason and the
// thread id that stopped.
type State struct {
	Phase        Phase
	PauseReason  string
	PauseThread  int
}

// noThread is the sentinel for "no current thread id recorded".
const noThread = -1

// Machine is the session-wide state record plus the status counter and
// current-thread-id, guarded per spec.md §5: the state record behind a
// reader/writer lock held only across one transition, the counter
// lock-free.
type Machine struct {
	mu    sync.RWMutex
	state State

	statusCounter atomic.Int64
	// statusCounter starts at -1 so the first NextStatusSeq() call
	// returns 0, matching the "initializing" emission at seq 0 in
	// spec.md §8 scenario 1.
	currentThread atomic.Int64
}

// NewMachine returns a Machine in the NotStarted phase with no status
// emitted yet and no current thread recorded.
func NewMachine() *Machine {
	m := &Machine{
		state: State{Phase: NotStarted},
	}
	m.statusCounter.Store(-1)
	m.currentThread.Store(noThread)
	return m
}

// Current returns a snapshot of the state record.
func (m *Machine) Current() State {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.state
}

// NextStatusSeq atomically increments and returns the status counter.
// It is the only operation that stamps a UI status message, so no two
// messages can ever share a seq (spec.md invariant 5).
func (m *Machine) NextStatusSeq() int64 {
	return m.statusCounter.Add(1)
}

// CurrentThread returns the thread id recorded at the last stopped
// event, and whether one has been recorded since the last
// continued/terminated.
func (m *Machine) CurrentThread() (int, bool) {
	v := m.currentThread.Load()
	if v == int64(noThread) {
		return 0, false
	}
	return int(v), true
}

func (m *Machine) setCurrentThread(id int) {
	m.currentThread.Store(int64(id))
}

func (m *Machine) clearCurrentThread() {
	m.currentThread.Store(int64(noThread))
}

// ErrTerminated is returned by any transition attempted after the
// machine has already reached Terminated — spec.md invariant 3:
// Terminated is reached at most once, and no transition occurs after.
var ErrTerminated = fmt.Errorf("dapengine: session already terminated")

// transition applies fn to the state record under the write lock, held
// only across this one mutation (never across a suspension point or a
// blocking read, per spec.md §5).
func (m *Machine) transition(fn func(State) (State, bool)) (State, bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.state.Phase == Terminated {
		return m.state, false, ErrTerminated
	}

	next, changed := fn(m.state)
	if changed {
		m.state = next
	}
	return m.state, changed, nil
}

// OnInitialized applies the inbound `initialized` event: NotStarted ->
// Configuring.
func (m *Machine) OnInitialized() (State, bool, error) {
	return m.transition(func(s State) (State, bool) {
		if s.Phase != NotStarted {
			return s, false
		}
		return State{Phase: Configuring}, true
	})
}

// OnContinued applies the inbound `continued` event: Configuring or
// Paused -> Running.
func (m *Machine) OnContinued() (State, bool, error) {
	next, changed, err := m.transition(func(s State) (State, bool) {
		if s.Phase != Configuring && s.Phase != Paused {
			return s, false
		}
		return State{Phase: Running}, true
	})
	if changed {
		m.clearCurrentThread()
	}
	return next, changed, err
}

// OnStopped applies the inbound `stopped` event: Running or Configuring
// -> Paused{reason, threadID}.
func (m *Machine) OnStopped(reason string, threadID int) (State, bool, error) {
	next, changed, err := m.transition(func(s State) (State, bool) {
		if s.Phase != Running && s.Phase != Configuring {
			return s, false
		}
		return State{Phase: Paused, PauseReason: reason, PauseThread: threadID}, true
	})
	if changed {
		m.setCurrentThread(threadID)
	}
	return next, changed, err
}

// OnTerminated applies the inbound `terminated` event, or the
// supervisor's direct fallback emission: any -> Terminated. This is the
// only transition reachable from every phase, and it is idempotent by
// construction since transition() rejects further mutation once
// Terminated is reached.
func (m *Machine) OnTerminated() (State, bool, error) {
	return m.transition(func(s State) (State, bool) {
		return State{Phase: Terminated}, true
	})
}

// AdvanceOnConfigurationDone applies the local-trigger exception
// documented in spec.md §4.5 and DESIGN.md Open Question 2:
// Configuring -> Running driven by the local configurationDone
// acknowledgment, because not every adapter emits `continued`
// immediately afterward.
func (m *Machine) AdvanceOnConfigurationDone() (State, bool, error) {
	next, changed, err := m.transition(func(s State) (State, bool) {
		if s.Phase != Configuring {
			return s, false
		}
		return State{Phase: Running}, true
	})
	if changed {
		m.clearCurrentThread()
	}
	return next, changed, err
}
