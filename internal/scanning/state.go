package scanning

import (
	"sync"
)

// State is the lifecycle phase of a scan session.
type State int

const (
	StateIdle State = iota
	StateStarting
	StateScanning
	StateStopping
	StateKilling
	StateRestarting
	StateComplete
)

var stateNames = [...]string{
	StateIdle:       "IDLE",
	StateStarting:   "STARTING",
	StateScanning:   "SCANNING",
	StateStopping:   "STOPPING",
	StateKilling:    "KILLING",
	StateRestarting: "RESTARTING",
	StateComplete:   "COMPLETE",
}

func (s State) String() string {
	if s < 0 || int(s) >= len(stateNames) {
		return "UNKNOWN"
	}
	return stateNames[s]
}

// Transition tells listeners why the state changed.
type Transition int

const (
	TransitionInit Transition = iota
	TransitionStart
	TransitionRescan
	TransitionContinue
	TransitionNext
	TransitionStop
	TransitionKill
	TransitionComplete
	TransitionReset
)

var transitionNames = [...]string{
	TransitionInit:     "INIT",
	TransitionStart:    "START",
	TransitionRescan:   "RESCAN",
	TransitionContinue: "CONTINUE",
	TransitionNext:     "NEXT",
	TransitionStop:     "STOP",
	TransitionKill:     "KILL",
	TransitionComplete: "COMPLETE",
	TransitionReset:    "RESET",
}

func (t Transition) String() string {
	if t < 0 || int(t) >= len(transitionNames) {
		return "UNKNOWN"
	}
	return transitionNames[t]
}

// StateListener is notified about every state change.
type StateListener interface {
	TransitionTo(state State, transition Transition)
}

// StateListenerFunc adapts a function to StateListener.
type StateListenerFunc func(state State, transition Transition)

// TransitionTo implements StateListener.
func (f StateListenerFunc) TransitionTo(state State, transition Transition) {
	f(state, transition)
}

type pendingTransition struct {
	state      State
	transition Transition
}

// StateMachine serializes the scan lifecycle.
//
// Listeners run synchronously, in registration order, and a new state
// becomes visible through State only after every listener saw it. A
// transition requested from inside a listener is queued and delivered once
// the current round finishes; guards of such requests are evaluated against
// the most recently requested state.
type StateMachine struct {
	mu        sync.Mutex
	state     State
	target    State
	queue     []pendingTransition
	notifying bool
	listeners []StateListener
}

// NewStateMachine returns a machine in IDLE.
func NewStateMachine() *StateMachine {
	return &StateMachine{state: StateIdle, target: StateIdle}
}

// AddListener registers l. Listeners are notified in registration order.
func (m *StateMachine) AddListener(l StateListener) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.listeners = append(m.listeners, l)
}

// RemoveListener unregisters l. Function listeners cannot be compared and
// must be wrapped in a pointer type to be removable.
func (m *StateMachine) RemoveListener(l StateListener) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for i, existing := range m.listeners {
		if existing == l {
			m.listeners = append(m.listeners[:i:i], m.listeners[i+1:]...)
			return
		}
	}
}

// State returns the current visible state.
func (m *StateMachine) State() State {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.state
}

// InState reports whether the machine is currently in s.
func (m *StateMachine) InState(s State) bool {
	return m.State() == s
}

// TransitionToNext advances along the main path: IDLE to STARTING, SCANNING
// to STOPPING, STOPPING to KILLING. Other states are left alone.
func (m *StateMachine) TransitionToNext() {
	m.request(func(current State) []pendingTransition {
		switch current {
		case StateIdle:
			return []pendingTransition{{StateStarting, TransitionStart}}
		case StateScanning:
			return []pendingTransition{{StateStopping, TransitionStop}}
		case StateStopping:
			return []pendingTransition{{StateKilling, TransitionKill}}
		default:
			return nil
		}
	})
}

// Rescan starts a new scan of the previous range, from IDLE.
func (m *StateMachine) Rescan() {
	m.fromIdle(TransitionRescan)
}

// Continue resumes scanning without discarding earlier results, from IDLE.
func (m *StateMachine) Continue() {
	m.fromIdle(TransitionContinue)
}

func (m *StateMachine) fromIdle(t Transition) {
	m.request(func(current State) []pendingTransition {
		if current != StateIdle {
			return nil
		}
		return []pendingTransition{{StateRestarting, t}}
	})
}

// StartScanning moves a prepared scan into SCANNING.
func (m *StateMachine) StartScanning() {
	m.request(func(current State) []pendingTransition {
		if current != StateStarting && current != StateRestarting {
			return nil
		}
		return []pendingTransition{{StateScanning, TransitionNext}}
	})
}

// Stop asks a running scan to stop. The dispatcher does the actual work.
func (m *StateMachine) Stop() {
	m.request(func(current State) []pendingTransition {
		if current != StateScanning {
			return nil
		}
		return []pendingTransition{{StateStopping, TransitionStop}}
	})
}

// Kill interrupts a stopping scan.
func (m *StateMachine) Kill() {
	m.request(func(current State) []pendingTransition {
		if current != StateStopping {
			return nil
		}
		return []pendingTransition{{StateKilling, TransitionKill}}
	})
}

// Complete finishes a stopping or killed scan. Listeners see COMPLETE once,
// after which the machine settles in IDLE.
func (m *StateMachine) Complete() {
	m.request(func(current State) []pendingTransition {
		if current != StateStopping && current != StateKilling {
			return nil
		}
		return []pendingTransition{
			{StateComplete, TransitionComplete},
			{StateIdle, TransitionReset},
		}
	})
}

// Reset forces IDLE. It is safe to call from inside a listener.
func (m *StateMachine) Reset() {
	m.request(func(current State) []pendingTransition {
		if current == StateIdle {
			return nil
		}
		return []pendingTransition{{StateIdle, TransitionReset}}
	})
}

// request evaluates guard against the latest requested state, queues what it
// returns and delivers the queue unless another call is already doing so.
func (m *StateMachine) request(guard func(current State) []pendingTransition) {
	m.mu.Lock()
	next := guard(m.target)
	if len(next) == 0 {
		m.mu.Unlock()
		return
	}
	m.queue = append(m.queue, next...)
	m.target = next[len(next)-1].state
	if m.notifying {
		m.mu.Unlock()
		return
	}
	m.notifying = true

	for len(m.queue) > 0 {
		p := m.queue[0]
		m.queue = m.queue[1:]
		listeners := append([]StateListener(nil), m.listeners...)
		m.mu.Unlock()

		for _, l := range listeners {
			l.TransitionTo(p.state, p.transition)
		}

		m.mu.Lock()
		m.state = p.state
	}
	m.notifying = false
	m.mu.Unlock()
}
