package status

import (
	"fmt"
	"slices"
	"sync"
	"time"

	"github.com/matheus3301/wpphub/internal/bus"
)

// State represents one connection's lifecycle state.
type State string

const (
	Pending      State = "pending"
	Connected    State = "connected"
	Disconnected State = "disconnected"
	Error        State = "error"
)

// DefaultMaxRetries bounds restart-required retries before a session fails.
const DefaultMaxRetries = 3

// Messages recorded as the last error on terminal transitions.
const (
	MsgLoggedOut       = "session closed, request a new pairing code"
	MsgRetriesExceeded = "could not connect, request a new pairing code"
	MsgReconnectFailed = "could not reconnect"
	MsgConnectionLost  = "connection lost"
)

// validTransitions defines allowed state transitions. Pending to Pending is a
// restart-required retry.
var validTransitions = map[State][]State{
	Pending:      {Pending, Connected, Disconnected, Error},
	Connected:    {Pending, Disconnected, Error},
	Disconnected: {Pending, Error},
	Error:        {Pending},
}

// Machine tracks and enforces one connection's state transitions and owns its
// retry counter.
type Machine struct {
	mu         sync.RWMutex
	session    string
	current    State
	retries    int
	maxRetries int
	lastError  string
	phone      string
	bus        *bus.Bus
}

// Snapshot is a consistent read of the machine.
type Snapshot struct {
	State      State
	Phone      string
	LastError  string
	RetryCount int
}

// NewMachine creates a machine in Pending state. maxRetries <= 0 uses DefaultMaxRetries.
func NewMachine(session string, maxRetries int, b *bus.Bus) *Machine {
	if maxRetries <= 0 {
		maxRetries = DefaultMaxRetries
	}
	return &Machine{
		session:    session,
		current:    Pending,
		maxRetries: maxRetries,
		bus:        b,
	}
}

// Current returns the current state.
func (m *Machine) Current() State {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.current
}

// Snapshot returns state, phone, last error and retry count together.
func (m *Machine) Snapshot() Snapshot {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return Snapshot{
		State:      m.current,
		Phone:      m.phone,
		LastError:  m.lastError,
		RetryCount: m.retries,
	}
}

// Transition attempts to move to a new state. Returns error if transition is invalid.
func (m *Machine) Transition(to State) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.transitionLocked(to, "")
}

// Authorize moves to Connected, records the phone identity and resets the
// retry counter.
func (m *Machine) Authorize(phone string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.transitionLocked(Connected, ""); err != nil {
		return err
	}
	m.phone = phone
	m.retries = 0
	m.lastError = ""
	return nil
}

// Lose records a recoverable close.
func (m *Machine) Lose(reason string) error {
	if reason == "" {
		reason = MsgConnectionLost
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.requireLiveLocked("disconnect"); err != nil {
		return err
	}
	if err := m.transitionLocked(Disconnected, reason); err != nil {
		return err
	}
	m.lastError = reason
	return nil
}

// Fail moves to the terminal Error state with a human-readable message.
func (m *Machine) Fail(reason string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.transitionLocked(Error, reason); err != nil {
		return err
	}
	m.lastError = reason
	return nil
}

// Retry handles a restart-required close. It returns true when a reconnect
// should be scheduled, or false when the retry budget is exhausted and the
// machine moved to Error. The counter never exceeds the configured maximum.
// Only a Pending or Connected session can retry; Error is left through Reset
// or Reconnecting.
func (m *Machine) Retry() (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.requireLiveLocked("retry"); err != nil {
		return false, err
	}
	if m.retries+1 > m.maxRetries {
		if err := m.transitionLocked(Error, MsgRetriesExceeded); err != nil {
			return false, err
		}
		m.lastError = MsgRetriesExceeded
		return false, nil
	}
	if err := m.transitionLocked(Pending, "retry"); err != nil {
		return false, err
	}
	m.retries++
	m.lastError = ""
	return true, nil
}

// Reconnecting moves a lost session back to Pending while a reconnect attempt
// runs. The retry counter is kept.
func (m *Machine) Reconnecting() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.current == Pending {
		return nil
	}
	return m.transitionLocked(Pending, "reconnect")
}

// Reset starts a fresh pairing: Pending, zero retries, no error, no phone.
func (m *Machine) Reset() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.current != Pending {
		if err := m.transitionLocked(Pending, "pairing"); err != nil {
			return err
		}
	}
	m.retries = 0
	m.lastError = ""
	m.phone = ""
	return nil
}

// requireLiveLocked rejects close handling for sessions that are not pending
// or connected.
func (m *Machine) requireLiveLocked(op string) error {
	if m.current != Pending && m.current != Connected {
		return fmt.Errorf("cannot %s from %s", op, m.current)
	}
	return nil
}

func (m *Machine) transitionLocked(to State, reason string) error {
	allowed := validTransitions[m.current]
	if !slices.Contains(allowed, to) {
		return fmt.Errorf("invalid transition from %s to %s", m.current, to)
	}
	from := m.current
	m.current = to
	if m.bus != nil {
		m.bus.Publish(bus.Event{
			Kind:      bus.KindStatusChanged,
			Session:   m.session,
			Timestamp: time.Now(),
			Payload: StatusChange{
				Session: m.session,
				From:    from,
				To:      to,
				Reason:  reason,
			},
		})
	}
	return nil
}

// StatusChange is the payload for status change events.
type StatusChange struct {
	Session string
	From    State
	To      State
	Reason  string
}
