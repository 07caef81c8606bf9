package model

import "time"

// SyncConfig is the singleton engine state persisted across runs: the
// autonomous-mode flag and the acceptance counters the graduation controller
// reads. It is versioned so concurrent writers can detect stale updates.
type SyncConfig struct {
	LastRunAt          time.Time
	FirstSuggestionAt  time.Time
	TotalSuggestions   int
	UnmodifiedAccepts  int
	ModifiedAccepts    int
	Skips              int
	Version            int
	Autonomous         bool
	GraduationProposed bool
}

// AcceptanceRate returns the fraction of suggestions accepted without
// modification, or 0 when nothing has been suggested yet.
func (c *SyncConfig) AcceptanceRate() float64 {
	if c.TotalSuggestions == 0 {
		return 0
	}
	return float64(c.UnmodifiedAccepts) / float64(c.TotalSuggestions)
}
