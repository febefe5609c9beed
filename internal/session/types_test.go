package session

import (
	"testing"
	"time"
)

func TestRecordForkCallAttempt_AllowsUpToLimit(t *testing.T) {
	sess := &Session{}
	now := time.Now()

	for i := 0; i < forkCallRateLimitMax; i++ {
		if err := sess.RecordForkCallAttempt(now); err != nil {
			t.Fatalf("attempt %d: unexpected error %v", i, err)
		}
	}

	if err := sess.RecordForkCallAttempt(now); err != ErrRateLimitExceeded {
		t.Errorf("attempt %d err = %v, want ErrRateLimitExceeded", forkCallRateLimitMax, err)
	}
}

func TestRecordForkCallAttempt_WindowSlides(t *testing.T) {
	sess := &Session{}
	start := time.Now()

	for i := 0; i < forkCallRateLimitMax; i++ {
		if err := sess.RecordForkCallAttempt(start); err != nil {
			t.Fatalf("attempt %d: unexpected error %v", i, err)
		}
	}

	later := start.Add(forkCallRateLimitWindow + time.Second)
	if err := sess.RecordForkCallAttempt(later); err != nil {
		t.Errorf("attempt after window elapsed should succeed, got %v", err)
	}
}

func TestGenealogy_IsFork(t *testing.T) {
	g := Genealogy{}
	if g.IsFork() {
		t.Error("zero-value genealogy should not be a fork")
	}
	g.ForkOfSessionID = "01ARZ3NDEKTSV4RRFFQ69G5FAV"
	if !g.IsFork() {
		t.Error("genealogy with ForkOfSessionID should be a fork")
	}
}

func TestDefaultTokenBudget(t *testing.T) {
	b := DefaultTokenBudget(10000)
	if b.Allocated != 10000 || b.SoftPct != 75 || b.HardPct != 100 {
		t.Errorf("DefaultTokenBudget = %+v, want allocated=10000 soft=75 hard=100", b)
	}
}
