package checkout

import (
	"errors"
	"fmt"
)

// State is a step of a single checkout flow.
type State int

const (
	StateInit State = iota
	StateAuthenticating
	StateAwaitingApproval
	StateApproved
	StateAwaitingCompletion
	StateCompleted
	StateCancelled
	StateErrored
)

var stateNames = map[State]string{
	StateInit:               "init",
	StateAuthenticating:     "authenticating",
	StateAwaitingApproval:   "awaiting_approval",
	StateApproved:           "approved",
	StateAwaitingCompletion: "awaiting_completion",
	StateCompleted:          "completed",
	StateCancelled:          "cancelled",
	StateErrored:            "errored",
}

func (s State) String() string {
	if name, ok := stateNames[s]; ok {
		return name
	}
	return fmt.Sprintf("state(%d)", int(s))
}

// Terminal reports whether s is absorbing.
func (s State) Terminal() bool {
	return s == StateCompleted || s == StateCancelled || s == StateErrored
}

// forward lists the non-exit successors of each state. Cancelled and Errored are reachable
// from every non-terminal state.
var forward = map[State][]State{
	StateInit:               {StateAuthenticating, StateAwaitingApproval},
	StateAuthenticating:     {StateAwaitingApproval},
	StateAwaitingApproval:   {StateApproved},
	StateApproved:           {StateAwaitingCompletion},
	StateAwaitingCompletion: {StateCompleted},
}

var ErrInvalidTransition = errors.New("invalid checkout state transition")

func canTransition(from, to State) bool {
	if from.Terminal() {
		return false
	}
	if to == StateCancelled || to == StateErrored {
		return true
	}
	for _, next := range forward[from] {
		if next == to {
			return true
		}
	}
	return false
}

// Phase names reported to a ProgressFunc.
const (
	PhaseInit          = "init"
	PhaseAuthenticated = "authenticated"
	PhaseApproval      = "approval"
	PhaseApproved      = "approved"
	PhaseCompletion    = "completion"
	PhaseCompleted     = "completed"
	PhaseCancelled     = "cancelled"
	PhaseError         = "error"
)

// ProgressFunc observes phase changes. It must not block.
type ProgressFunc func(phase string, details map[string]any)

// flow is the per-invocation state of ProcessPayment. It is only touched by the goroutine
// running ProcessPayment.
type flow struct {
	state     State
	paymentID string
	history   []State
	progress  ProgressFunc
}

func newFlow(progress ProgressFunc) *flow {
	return &flow{state: StateInit, history: []State{StateInit}, progress: progress}
}

func (f *flow) to(next State) error {
	if !canTransition(f.state, next) {
		return fmt.Errorf("%w: %s -> %s", ErrInvalidTransition, f.state, next)
	}
	f.state = next
	f.history = append(f.history, next)
	return nil
}

func (f *flow) emit(phase string, details map[string]any) {
	if f.progress == nil {
		return
	}
	if details == nil {
		details = map[string]any{}
	}
	if f.paymentID != "" {
		details["paymentId"] = f.paymentID
	}
	f.progress(phase, details)
}
