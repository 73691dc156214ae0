package confidence

import (
	"sort"
	"sync"
)

// MethodAccuracy is the tally for one method.
type MethodAccuracy struct {
	Method    string  `json:"method"`
	Successes int     `json:"successes"`
	Samples   int     `json:"samples"`
	Rate      float64 `json:"rate"`
}

// SessionAccuracy tallies verified outcomes per method for the current process.
type SessionAccuracy struct {
	mu     sync.RWMutex
	counts map[string]*MethodAccuracy
}

// NewSessionAccuracy returns an empty tracker.
func NewSessionAccuracy() *SessionAccuracy {
	return &SessionAccuracy{counts: make(map[string]*MethodAccuracy)}
}

// Record adds one outcome for method.
func (s *SessionAccuracy) Record(method string, success bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	m, ok := s.counts[method]
	if !ok {
		m = &MethodAccuracy{Method: method}
		s.counts[method] = m
	}
	m.Samples++
	if success {
		m.Successes++
	}
	m.Rate = float64(m.Successes) / float64(m.Samples)
}

// Accuracy implements AccuracySource.
func (s *SessionAccuracy) Accuracy(method string) (float64, int) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	m, ok := s.counts[method]
	if !ok {
		return 0, 0
	}
	return m.Rate, m.Samples
}

// Snapshot returns every tally sorted by method.
func (s *SessionAccuracy) Snapshot() []MethodAccuracy {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]MethodAccuracy, 0, len(s.counts))
	for _, m := range s.counts {
		out = append(out, *m)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Method < out[j].Method })
	return out
}

// Reset forgets all tallies.
func (s *SessionAccuracy) Reset() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.counts = make(map[string]*MethodAccuracy)
}
