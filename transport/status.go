package transport

import (
	"fmt"
	"sync"
	"sync/atomic"
)

// Status is a connection state.
type Status int32

const (
	StatusDisconnected Status = iota
	StatusConnecting
	StatusConnected
	StatusDisconnecting
)

// String returns the string representation of Status
func (s Status) String() string {
	switch s {
	case StatusDisconnected:
		return "disconnected"
	case StatusConnecting:
		return "connecting"
	case StatusConnected:
		return "connected"
	case StatusDisconnecting:
		return "disconnecting"
	default:
		return "unknown"
	}
}

var allowed = map[Status][]Status{
	StatusDisconnected:  {StatusConnecting},
	StatusConnecting:    {StatusConnected, StatusDisconnected},
	StatusConnected:     {StatusDisconnecting, StatusDisconnected},
	StatusDisconnecting: {StatusDisconnected},
}

// StateMachine enforces Disconnected → Connecting → Connected →
// Disconnecting → Disconnected, with a direct Connected → Disconnected edge
// for network loss.
type StateMachine struct {
	status atomic.Int32

	mu           sync.RWMutex
	onDisconnect []func(error)
	onChange     []func(Status)
}

// NewStateMachine starts in StatusDisconnected.
func NewStateMachine() *StateMachine {
	return &StateMachine{}
}

// Status returns the current state.
func (s *StateMachine) Status() Status {
	return Status(s.status.Load())
}

// Transition moves from one state to another. It fails when the machine is not
// in from or the edge is not allowed.
func (s *StateMachine) Transition(from, to Status) error {
	if !edgeAllowed(from, to) {
		return fmt.Errorf("transition %s -> %s not allowed", from, to)
	}
	if !s.status.CompareAndSwap(int32(from), int32(to)) {
		return fmt.Errorf("transition %s -> %s: current state is %s", from, to, s.Status())
	}
	s.notify(to)
	return nil
}

// Lost moves Connected or Connecting to Disconnected after a network error
// and runs the disconnect hooks. It reports whether a transition happened.
func (s *StateMachine) Lost(err error) bool {
	for _, from := range []Status{StatusConnected, StatusConnecting} {
		if s.status.CompareAndSwap(int32(from), int32(StatusDisconnected)) {
			s.notify(StatusDisconnected)
			s.fireDisconnect(err)
			return true
		}
	}
	return false
}

// Closed completes a requested disconnect and runs the hooks with a nil error.
func (s *StateMachine) Closed() {
	if s.status.CompareAndSwap(int32(StatusDisconnecting), int32(StatusDisconnected)) {
		s.notify(StatusDisconnected)
		s.fireDisconnect(nil)
	}
}

// OnDisconnect registers a hook run when the connection ends.
func (s *StateMachine) OnDisconnect(fn func(error)) {
	if fn == nil {
		return
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.onDisconnect = append(s.onDisconnect, fn)
}

// OnChange registers an observer for every state change.
func (s *StateMachine) OnChange(fn func(Status)) {
	if fn == nil {
		return
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.onChange = append(s.onChange, fn)
}

func (s *StateMachine) notify(to Status) {
	s.mu.RLock()
	observers := s.onChange
	s.mu.RUnlock()
	for _, fn := range observers {
		fn(to)
	}
}

func (s *StateMachine) fireDisconnect(err error) {
	s.mu.RLock()
	hooks := s.onDisconnect
	s.mu.RUnlock()
	for _, fn := range hooks {
		fn(err)
	}
}

func edgeAllowed(from, to Status) bool {
	for _, next := range allowed[from] {
		if next == to {
			return true
		}
	}
	return false
}
