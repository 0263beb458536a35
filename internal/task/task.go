// Package task defines the unit of work driven by the provisioning pipeline:
// one account moving from creation to a confirmed referral.
package task

import (
	"fmt"
	"sync"

	"github.com/google/uuid"
)

// State is the position of a task in the provisioning state machine.
type State string

const (
	// StateCreating indicates a disposable mailbox is being created.
	StateCreating State = "CREATING"

	// StateRegistering indicates the mailbox is being registered with the service.
	StateRegistering State = "REGISTERING"

	// StateProfileSetup indicates the two profile steps are running.
	StateProfileSetup State = "PROFILE_SETUP"

	// StateAwaitingCode indicates the task is paused until an operator sends a code.
	StateAwaitingCode State = "AWAITING_CODE"

	// StateConfirming indicates a received code is being confirmed.
	StateConfirming State = "CONFIRMING"

	// StateAdvance indicates the code was accepted and the next task may start.
	StateAdvance State = "ADVANCE"

	// StateRetryCode indicates the code was rejected and a new one is awaited.
	StateRetryCode State = "RETRY_CODE"
)

// String returns the string representation of the state.
func (s State) String() string {
	return string(s)
}

// IsTerminal returns true if the task is finished.
func (s State) IsTerminal() bool {
	return s == StateAdvance
}

// transitions lists the legal successors of each state.
var transitions = map[State][]State{
	StateCreating:     {StateRegistering},
	StateRegistering:  {StateProfileSetup},
	StateProfileSetup: {StateAwaitingCode},
	StateAwaitingCode: {StateConfirming},
	StateConfirming:   {StateAdvance, StateRetryCode},
	StateRetryCode:    {StateAwaitingCode},
	StateAdvance:      nil,
}

// CanTransition reports whether moving from s to next is legal.
func (s State) CanTransition(next State) bool {
	for _, allowed := range transitions[s] {
		if allowed == next {
			return true
		}
	}
	return false
}

// Account is a mailbox address and its password, the credentials used to
// register with the service.
type Account struct {
	Address  string
	Password string
}

// String renders the account as the email|password record stored in the
// accounts stream.
func (a Account) String() string {
	return a.Address + "|" + a.Password
}

// Task is one account in flight. Index starts at 1 and increases by one for
// each account whose referral code is accepted.
type Task struct {
	ID       uuid.UUID
	Index    int
	Email    string
	Password string
	Token    string

	mu    sync.RWMutex
	state State
}

// New returns a task in StateCreating, or StateRegistering when seed already
// carries mailbox credentials.
func New(index int, seed *Account) *Task {
	t := &Task{
		ID:    uuid.New(),
		Index: index,
		state: StateCreating,
	}
	if seed != nil {
		t.Email = seed.Address
		t.Password = seed.Password
		t.state = StateRegistering
	}
	return t
}

// State returns the current state.
func (t *Task) State() State {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return t.state
}

// Transition moves the task to next and returns the state it left.
func (t *Task) Transition(next State) (State, error) {
	t.mu.Lock()
	defer t.mu.Unlock()

	from := t.state
	if !from.CanTransition(next) {
		return from, fmt.Errorf("task %d: invalid transition %s -> %s", t.Index, from, next)
	}
	t.state = next
	return from, nil
}

// Account returns the task's credentials.
func (t *Task) Account() Account {
	return Account{Address: t.Email, Password: t.Password}
}

// Snapshot is a point-in-time copy of a task, safe to hand to other goroutines.
type Snapshot struct {
	ID    string `json:"id"`
	Index int    `json:"index"`
	Email string `json:"email"`
	State State  `json:"state"`
	Done  bool   `json:"done"`
}

// Snapshot returns a copy of the task's public fields.
func (t *Task) Snapshot() Snapshot {
	state := t.State()
	return Snapshot{
		ID:    t.ID.String(),
		Index: t.Index,
		Email: t.Email,
		State: state,
		Done:  state.IsTerminal(),
	}
}
