package jobs

import "testing"

func TestTransitionTable(t *testing.T) {
	legal := []struct{ from, to State }{
		{StatePending, StateProcessing},
		{StateProcessing, StateDone},
		{StateProcessing, StateFailed},
		{StateFailed, StateProcessing},
		{StateFailed, StateDeadLetter},
		{StateDeadLetter, StatePending},
	}
	for _, tc := range legal {
		if err := Transition(tc.from, tc.to); err != nil {
			t.Fatalf("expected %s -> %s to be legal: %v", tc.from, tc.to, err)
		}
	}

	illegal := []struct{ from, to State }{
		{StatePending, StateDone},
		{StatePending, StateDeadLetter},
		{StateDone, StateProcessing},
		{StateDone, StatePending},
		{StateDeadLetter, StateProcessing},
		{StateProcessing, StatePending},
		{StateFailed, StateDone},
	}
	for _, tc := range illegal {
		if err := Transition(tc.from, tc.to); err == nil {
			t.Fatalf("expected %s -> %s to be rejected", tc.from, tc.to)
		}
	}
}

func TestTransitionUnknownState(t *testing.T) {
	if err := Transition(State("running"), StateDone); err == nil {
		t.Fatal("expected unknown state error")
	}
}

func TestNextOnFailure(t *testing.T) {
	if got := NextOnFailure(1, 3); got != StateFailed {
		t.Fatalf("attempts within budget should retry, got %s", got)
	}
	if got := NextOnFailure(3, 3); got != StateDeadLetter {
		t.Fatalf("exceeded budget should dead-letter, got %s", got)
	}
	if got := NextOnFailure(2, 0); got != StateFailed {
		t.Fatalf("zero budget falls back to default, got %s", got)
	}
}

func TestTerminal(t *testing.T) {
	if !Terminal(StateDone) || !Terminal(StateDeadLetter) {
		t.Fatal("done and dead_letter are terminal")
	}
	if Terminal(StateFailed) {
		t.Fatal("failed is not terminal")
	}
}
