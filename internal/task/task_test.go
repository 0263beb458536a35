package task

import "testing"

func TestNew(t *testing.T) {
	fresh := New(1, nil)
	if fresh.State() != StateCreating {
		t.Errorf("State() = %s, want %s", fresh.State(), StateCreating)
	}
	if fresh.Index != 1 {
		t.Errorf("Index = %d, want 1", fresh.Index)
	}

	seeded := New(2, &Account{Address: "x@y.z", Password: "abcd1234"})
	if seeded.State() != StateRegistering {
		t.Errorf("seeded State() = %s, want %s", seeded.State(), StateRegistering)
	}
	if seeded.Email != "x@y.z" || seeded.Password != "abcd1234" {
		t.Errorf("seed not copied: %+v", seeded.Account())
	}
	if fresh.ID == seeded.ID {
		t.Error("tasks should get distinct IDs")
	}
}

func TestTransition(t *testing.T) {
	tk := New(1, nil)

	path := []State{
		StateRegistering,
		StateProfileSetup,
		StateAwaitingCode,
		StateConfirming,
		StateRetryCode,
		StateAwaitingCode,
		StateConfirming,
		StateAdvance,
	}
	prev := StateCreating
	for _, next := range path {
		from, err := tk.Transition(next)
		if err != nil {
			t.Fatalf("Transition(%s) returned error: %v", next, err)
		}
		if from != prev {
			t.Errorf("Transition(%s) from = %s, want %s", next, from, prev)
		}
		prev = next
	}
	if !tk.State().IsTerminal() {
		t.Error("ADVANCE should be terminal")
	}
}

func TestTransition_Invalid(t *testing.T) {
	tests := []struct {
		from, to State
	}{
		{StateCreating, StateAwaitingCode},
		{StateAwaitingCode, StateAdvance},
		{StateAdvance, StateCreating},
		{StateRetryCode, StateConfirming},
	}
	for _, tt := range tests {
		if tt.from.CanTransition(tt.to) {
			t.Errorf("%s -> %s should be invalid", tt.from, tt.to)
		}
	}

	tk := New(3, nil)
	if _, err := tk.Transition(StateConfirming); err == nil {
		t.Error("expected error for CREATING -> CONFIRMING")
	}
	if tk.State() != StateCreating {
		t.Errorf("failed transition changed state to %s", tk.State())
	}
}

func TestAccountString(t *testing.T) {
	a := Account{Address: "abc@mail.tm", Password: "deadbeef"}
	if got := a.String(); got != "abc@mail.tm|deadbeef" {
		t.Errorf("String() = %q", got)
	}
}

func TestSnapshot(t *testing.T) {
	tk := New(5, &Account{Address: "s@t.u", Password: "p"})
	snap := tk.Snapshot()
	if snap.Index != 5 || snap.Email != "s@t.u" || snap.State != StateRegistering {
		t.Errorf("Snapshot() = %+v", snap)
	}
	if snap.ID != tk.ID.String() {
		t.Errorf("Snapshot().ID = %q", snap.ID)
	}
	if snap.Done {
		t.Error("Snapshot().Done should be false while registering")
	}

	for _, next := range []State{StateProfileSetup, StateAwaitingCode, StateConfirming, StateAdvance} {
		if _, err := tk.Transition(next); err != nil {
			t.Fatalf("Transition(%s) error = %v", next, err)
		}
	}
	if !tk.Snapshot().Done {
		t.Error("Snapshot().Done should be true after ADVANCE")
	}
}
