// Package jobs defines the retrieval-job lifecycle as an explicit finite
// state machine. Every state change in storage goes through Transition so an
// illegal move is an error rather than a silent status-string overwrite.
package jobs

import "fmt"

type State string

const (
	StatePending    State = "pending"
	StateProcessing State = "processing"
	StateDone       State = "done"
	StateFailed     State = "failed"
	StateDeadLetter State = "dead_letter"
)

// DefaultRetryBudget is the number of processing failures a job may accrue
// before it is dead-lettered instead of retried.
const DefaultRetryBudget = 3

var transitions = map[State][]State{
	StatePending:    {StateProcessing},
	StateProcessing: {StateDone, StateFailed},
	StateFailed:     {StateProcessing, StateDeadLetter},
	StateDeadLetter: {StatePending},
	StateDone:       {},
}

func Valid(s State) bool {
	_, ok := transitions[s]
	return ok
}

// Terminal reports whether a job in s will never move again without operator
// action (dead_letter is terminal for the runner but resettable by hand).
func Terminal(s State) bool {
	return s == StateDone || s == StateDeadLetter
}

func Transition(from, to State) error {
	if !Valid(from) {
		return fmt.Errorf("unknown job state %q", from)
	}
	if !Valid(to) {
		return fmt.Errorf("unknown job state %q", to)
	}
	for _, allowed := range transitions[from] {
		if allowed == to {
			return nil
		}
	}
	return fmt.Errorf("illegal job transition %s -> %s", from, to)
}

// NextOnFailure decides where a processing failure lands: back to failed
// (retryable) while attempts remain within the budget, dead_letter once the
// budget is exceeded.
func NextOnFailure(attempts, budget int) State {
	if budget <= 0 {
		budget = DefaultRetryBudget
	}
	if attempts >= budget {
		return StateDeadLetter
	}
	return StateFailed
}
