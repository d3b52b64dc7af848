package beacon

import (
	"sync"
	"time"
)

// maxStatRecords bounds the per-session in-memory event record list.
const maxStatRecords = 1000

// StatRecord is one locally accounted event. Local accounting is
// independent of delivery: it reflects what was tracked this session, not
// what reached the collector.
type StatRecord struct {
	Name      string    `json:"name"`
	Screen    string    `json:"screen,omitempty"`
	Timestamp time.Time `json:"timestamp"`
}

// sessionStats holds the per-session counters, keyed by event name and by
// the "screen" property when present. Cleared on session renewal, opt-out
// and user deletion.
type sessionStats struct {
	mu      sync.Mutex
	counts  map[string]int
	records []StatRecord
}

func newSessionStats() *sessionStats {
	return &sessionStats{counts: make(map[string]int)}
}

func (s *sessionStats) record(name, screen string, at time.Time) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.counts[name]++
	if screen != "" {
		s.counts["screen:"+screen]++
	}

	s.records = append(s.records, StatRecord{Name: name, Screen: screen, Timestamp: at})
	if len(s.records) > maxStatRecords {
		s.records = s.records[len(s.records)-maxStatRecords:]
	}
}

func (s *sessionStats) reset() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.counts = make(map[string]int)
	s.records = nil
}

func (s *sessionStats) snapshot() map[string]int {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make(map[string]int, len(s.counts))
	for k, v := range s.counts {
		out[k] = v
	}
	return out
}

func (s *sessionStats) events() []StatRecord {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]StatRecord(nil), s.records...)
}

func (s *sessionStats) byName(name string) []StatRecord {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []StatRecord
	for _, r := range s.records {
		if r.Name == name {
			out = append(out, r)
		}
	}
	return out
}
