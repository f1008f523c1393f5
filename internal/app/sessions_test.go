package app

import (
	"testing"

	"github.com/dkeye/Callbridge/internal/domain"
)

func TestSessionOpenIsSymmetric(t *testing.T) {
	tr := NewSessionTracker()

	s1, created := tr.Open("B", "A")
	if !created || s1.ID != "A#B" {
		t.Fatalf("Open(B,A) = %q created=%v", s1.ID, created)
	}
	s2, created := tr.Open("A", "B")
	if created || s2.ID != s1.ID {
		t.Fatalf("Open(A,B) = %q created=%v, want existing %q", s2.ID, created, s1.ID)
	}
	if len(s2.Participants) != 2 {
		t.Fatalf("participants = %v", s2.Participants)
	}
	if tr.Count() != 1 {
		t.Fatalf("count = %d", tr.Count())
	}
}

func TestSessionCleanupConvergence(t *testing.T) {
	orders := [][]domain.UserID{
		{"A", "B"},
		{"B", "A"},
		{"A", "A", "B"},
		{"B", "B", "A", "A"},
		{"A", "B", "A", "B"},
	}
	for _, order := range orders {
		tr := NewSessionTracker()
		sess, _ := tr.Open("A", "B")

		removals := 0
		for _, uid := range order {
			if _, removed := tr.EndParticipant(sess.ID, uid); removed {
				removals++
			}
		}
		if removals != 1 {
			t.Errorf("order %v: session reported removed %d times", order, removals)
		}
		if _, ok := tr.Get(sess.ID); ok {
			t.Errorf("order %v: session still present", order)
		}
		if len(tr.SessionsOf("A")) != 0 || len(tr.SessionsOf("B")) != 0 {
			t.Errorf("order %v: user index not cleaned", order)
		}
	}
}

func TestSessionEndParticipantLeavesOther(t *testing.T) {
	tr := NewSessionTracker()
	sess, _ := tr.Open("B", "A")

	remaining, removed := tr.EndParticipant(sess.ID, "A")
	if removed || len(remaining) != 1 || remaining[0] != "B" {
		t.Fatalf("remaining=%v removed=%v", remaining, removed)
	}
	got, ok := tr.Get(sess.ID)
	if !ok || len(got.Participants) != 1 || got.Participants[0] != "B" {
		t.Fatalf("session = %+v,%v want only B", got, ok)
	}
}

func TestSessionEndMissingIsNoop(t *testing.T) {
	tr := NewSessionTracker()
	if remaining, removed := tr.EndParticipant("X#Y", "X"); removed || remaining != nil {
		t.Fatalf("EndParticipant on missing session = %v,%v", remaining, removed)
	}

	sess, _ := tr.Open("A", "B")
	if _, removed := tr.EndParticipant(sess.ID, "C"); removed {
		t.Fatal("non participant removal deleted the session")
	}
	if got, _ := tr.Get(sess.ID); len(got.Participants) != 2 {
		t.Fatalf("participants changed: %v", got.Participants)
	}
}

func TestSessionEndByUserPair(t *testing.T) {
	tr := NewSessionTracker()
	tr.Open("A", "B")

	sid, removed := tr.EndByUserPair("B", "A")
	if sid != "A#B" || !removed {
		t.Fatalf("EndByUserPair = %q,%v", sid, removed)
	}
	if _, removed := tr.EndByUserPair("A", "B"); removed {
		t.Fatal("second EndByUserPair reported removal")
	}
	if tr.Count() != 0 {
		t.Fatalf("count = %d", tr.Count())
	}
}

func TestSessionOpenSkipsEmptyIDs(t *testing.T) {
	tr := NewSessionTracker()
	sess, _ := tr.Open("", "A")
	if len(sess.Participants) != 1 || sess.Participants[0] != "A" {
		t.Fatalf("participants = %v", sess.Participants)
	}
	if len(tr.SessionsOf("")) != 0 {
		t.Fatal("empty id indexed")
	}
}

func TestSessionReopenAfterClose(t *testing.T) {
	tr := NewSessionTracker()
	sess, _ := tr.Open("A", "B")
	tr.EndByUserPair("A", "B")

	again, created := tr.Open("A", "B")
	if !created || again.ID != sess.ID {
		t.Fatalf("reopen = %q created=%v", again.ID, created)
	}
}
