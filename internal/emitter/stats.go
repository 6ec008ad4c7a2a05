package emitter

import "sync/atomic"

// Stats counts emitter activity since construction.
type Stats struct {
	added    atomic.Int64
	dropped  atomic.Int64
	sent     atomic.Int64
	failed   atomic.Int64
	oversize atomic.Int64
	requests atomic.Int64
	cycles   atomic.Int64
	paused   atomic.Int64
}

// StatsSnapshot is a point-in-time copy of Stats.
type StatsSnapshot struct {
	Added    int64 `json:"added"`
	Dropped  int64 `json:"dropped"`
	Sent     int64 `json:"sent"`
	Failed   int64 `json:"failed"`
	Oversize int64 `json:"oversize"`
	Requests int64 `json:"requests"`
	Cycles   int64 `json:"cycles"`
	Paused   int64 `json:"paused"`
}

// Snapshot returns the current counters.
func (s *Stats) Snapshot() StatsSnapshot {
	return StatsSnapshot{
		Added:    s.added.Load(),
		Dropped:  s.dropped.Load(),
		Sent:     s.sent.Load(),
		Failed:   s.failed.Load(),
		Oversize: s.oversize.Load(),
		Requests: s.requests.Load(),
		Cycles:   s.cycles.Load(),
		Paused:   s.paused.Load(),
	}
}
