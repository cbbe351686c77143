package cache

import "sync/atomic"

// Statistics counts cache traffic. Safe for concurrent use.
type Statistics struct {
	hits      atomic.Int64
	misses    atomic.Int64
	evictions atomic.Int64
	size      atomic.Int64
}

// Hits returns the number of lookups that found an entry.
func (s *Statistics) Hits() int64 { return s.hits.Load() }

// Misses returns the number of lookups that found nothing.
func (s *Statistics) Misses() int64 { return s.misses.Load() }

// Evictions returns the number of entries dropped for capacity.
func (s *Statistics) Evictions() int64 { return s.evictions.Load() }

// Size returns the number of entries held.
func (s *Statistics) Size() int64 { return s.size.Load() }

// HitRatio returns hits over lookups, or 0 before the first lookup.
func (s *Statistics) HitRatio() float64 {
	hits, misses := s.Hits(), s.Misses()
	if hits+misses == 0 {
		return 0
	}
	return float64(hits) / float64(hits+misses)
}

// StatsSummary is a point-in-time copy of Statistics.
type StatsSummary struct {
	Hits      int64   `json:"hits"`
	Misses    int64   `json:"misses"`
	Evictions int64   `json:"evictions"`
	Size      int64   `json:"size"`
	HitRatio  float64 `json:"hit_ratio"`
}

// Summary returns a snapshot of all counters.
func (s *Statistics) Summary() StatsSummary {
	return StatsSummary{
		Hits:      s.Hits(),
		Misses:    s.Misses(),
		Evictions: s.Evictions(),
		Size:      s.Size(),
		HitRatio:  s.HitRatio(),
	}
}
