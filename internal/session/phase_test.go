package session

import "testing"

func TestPhase_Transition(t *testing.T) {
	cases := []struct {
		from  Phase
		event PhaseEvent
		want  Phase
		err   bool
	}{
		{PhaseActive, EventCompressed, PhaseAvailable, false},
		{PhaseActive, EventRetired, PhaseRetired, false},
		{PhaseAvailable, EventResumed, PhaseActive, false},
		{PhaseAvailable, EventRetired, PhaseRetired, false},
		{PhaseRetired, EventResumed, PhaseRetired, true},
		{PhaseRetired, EventRetired, PhaseRetired, true},
		{PhaseRetired, EventCompressed, PhaseRetired, true},
		{PhaseActive, EventResumed, PhaseActive, true},
		{PhaseAvailable, EventCompressed, PhaseAvailable, true},
	}

	for _, c := range cases {
		got, err := c.from.Transition(c.event)
		if c.err {
			if err == nil {
				t.Errorf("%s+%s: want error, got nil (result %s)", c.from, c.event, got)
			}
			continue
		}
		if err != nil {
			t.Errorf("%s+%s: unexpected error %v", c.from, c.event, err)
		}
		if got != c.want {
			t.Errorf("%s+%s = %s, want %s", c.from, c.event, got, c.want)
		}
	}
}

func TestPhase_CanTransition(t *testing.T) {
	if !PhaseActive.CanTransition(EventCompressed) {
		t.Error("active should accept compressed")
	}
	if PhaseRetired.CanTransition(EventResumed) {
		t.Error("retired should be terminal")
	}
}
