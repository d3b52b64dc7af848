package beacon

import (
	"fmt"
	"testing"
	"time"
)

func TestSessionStats_RecordAndSnapshot(t *testing.T) {
	s := newSessionStats()
	now := time.Now()

	s.record("Screen Viewed", "Home", now)
	s.record("Screen Viewed", "Home", now)
	s.record("Button Clicked", "", now)

	counts := s.snapshot()
	if counts["Screen Viewed"] != 2 || counts["Button Clicked"] != 1 {
		t.Errorf("counts = %v", counts)
	}
	if counts["screen:Home"] != 2 {
		t.Errorf("screen counter = %v", counts)
	}
	if _, ok := counts["screen:"]; ok {
		t.Error("empty screen must not produce a counter")
	}

	// Snapshot is a copy.
	counts["Screen Viewed"] = 99
	if s.snapshot()["Screen Viewed"] != 2 {
		t.Error("snapshot aliases internal state")
	}
}

func TestSessionStats_Reset(t *testing.T) {
	s := newSessionStats()
	s.record("One", "", time.Now())
	s.reset()

	if len(s.snapshot()) != 0 || len(s.events()) != 0 {
		t.Error("reset must clear counters and records")
	}
}

func TestSessionStats_ByName(t *testing.T) {
	s := newSessionStats()
	now := time.Now()
	s.record("A", "", now)
	s.record("B", "", now.Add(time.Second))
	s.record("A", "", now.Add(2*time.Second))

	got := s.byName("A")
	if len(got) != 2 {
		t.Fatalf("byName(A) len = %d, want 2", len(got))
	}
	if !got[1].Timestamp.After(got[0].Timestamp) {
		t.Error("records should stay in tracked order")
	}
	if len(s.byName("missing")) != 0 {
		t.Error("unknown name should return nothing")
	}
}

func TestSessionStats_RecordListCapped(t *testing.T) {
	s := newSessionStats()
	for i := 0; i < maxStatRecords+10; i++ {
		s.record(fmt.Sprintf("Event %d", i), "", time.Now())
	}

	records := s.events()
	if len(records) != maxStatRecords {
		t.Fatalf("record list len = %d, want cap %d", len(records), maxStatRecords)
	}
	// Oldest entries are dropped; counters are unaffected.
	if records[0].Name != "Event 10" {
		t.Errorf("oldest surviving record = %s, want Event 10", records[0].Name)
	}
	if s.snapshot()["Event 0"] != 1 {
		t.Error("counters must not be affected by the record cap")
	}
}
