package types

import (
	"testing"
)

func TestNewEvent(t *testing.T) {
	e := NewEvent(EventTypeWarning, ReasonSubmissionFailed, "gateway returned no batch hash", "1700000000000-0")

	if e.Type != EventTypeWarning {
		t.Errorf("expected type %s, got %s", EventTypeWarning, e.Type)
	}
	if e.Reason != ReasonSubmissionFailed {
		t.Errorf("expected reason %s, got %s", ReasonSubmissionFailed, e.Reason)
	}
	if e.DispatchID != "1700000000000-0" {
		t.Errorf("unexpected dispatch id: %s", e.DispatchID)
	}
	if !e.IsAlert() {
		t.Error("warning events should be alerts")
	}
	if e.Timestamp.IsZero() {
		t.Error("timestamp should be set")
	}
}

func TestEventRing(t *testing.T) {
	ring := NewEventRing(3)

	ring.Add(NewEvent(EventTypeNormal, "R1", "msg1", ""))
	ring.Add(NewEvent(EventTypeWarning, "R2", "msg2", ""))
	ring.Add(NewEvent(EventTypeNormal, "R3", "msg3", ""))
	ring.Add(NewEvent(EventTypeWarning, "R4", "msg4", ""))

	events := ring.List()
	if len(events) != 3 {
		t.Fatalf("expected 3 events, got %d", len(events))
	}
	if events[0].Reason != "R2" {
		t.Errorf("expected R2 first, got %s", events[0].Reason)
	}

	alerts := ring.Alerts()
	if len(alerts) != 2 {
		t.Fatalf("expected 2 alerts, got %d", len(alerts))
	}
	if alerts[1].Message != "msg4" {
		t.Errorf("expected msg4 last, got %s", alerts[1].Message)
	}
}

func TestEventRing_SeqSurvivesEviction(t *testing.T) {
	ring := NewEventRing(2)

	ring.Add(NewEvent(EventTypeNormal, "R1", "msg1", ""))
	ring.Add(NewEvent(EventTypeNormal, "R2", "msg2", ""))
	seen := ring.List()[1].Seq

	ring.Add(NewEvent(EventTypeWarning, "R3", "msg3", ""))
	ring.Add(NewEvent(EventTypeWarning, "R4", "msg4", ""))

	events := ring.List()
	if events[0].Seq != 3 || events[1].Seq != 4 {
		t.Fatalf("expected seqs 3 and 4, got %d and %d", events[0].Seq, events[1].Seq)
	}

	fresh := ring.Since(seen)
	if len(fresh) != 2 || fresh[0].Reason != "R3" || fresh[1].Reason != "R4" {
		t.Errorf("expected R3 and R4 after seq %d, got %v", seen, fresh)
	}
	if got := ring.Since(4); len(got) != 0 {
		t.Errorf("expected nothing after the newest event, got %v", got)
	}
}
