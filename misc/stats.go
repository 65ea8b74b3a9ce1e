package misc

import (
	"fmt"
	"sync"
)

// Stats aggregates a stream of positive trigger quantities, remembering how
// many arrived, their extremes and their sum. The average is derived on
// demand rather than maintained incrementally.
type Stats struct {
	mutex   sync.Mutex
	count   uint64
	lowest  float64
	highest float64
	total   float64
}

// NewStats returns an initialised stats structure.
func NewStats() *Stats {
	return &Stats{}
}

// Trigger folds one quantity into the aggregates. Non-positive quantities
// carry no information and are discarded.
func (s *Stats) Trigger(qty float64) {
	if qty <= 0 {
		return
	}
	s.mutex.Lock()
	defer s.mutex.Unlock()
	if s.count == 0 || qty < s.lowest {
		s.lowest = qty
	}
	if qty > s.highest {
		s.highest = qty
	}
	s.total += qty
	s.count++
}

// Count returns the number of quantities recorded so far.
func (s *Stats) Count() uint64 {
	s.mutex.Lock()
	defer s.mutex.Unlock()
	return s.count
}

// Format renders "lowest/average/highest/total(count)" with the numeric
// values divided by the factor, e.g. by 1e9 to turn nanoseconds into
// seconds.
func (s *Stats) Format(divisionFactor float64, numDecimals int) string {
	s.mutex.Lock()
	defer s.mutex.Unlock()
	average := 0.0
	if s.count > 0 {
		average = s.total / float64(s.count)
	}
	rendered := make([]string, 0, 4)
	for _, qty := range []float64{s.lowest, average, s.highest, s.total} {
		rendered = append(rendered, fmt.Sprintf("%.*f", numDecimals, qty/divisionFactor))
	}
	return fmt.Sprintf("%s/%s/%s/%s(%d)", rendered[0], rendered[1], rendered[2], rendered[3], s.count)
}
