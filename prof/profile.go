// Package prof collects wall-clock timings of labelled phases, such as
// propagation rounds and read-outs, for later aggregation.
package prof

import (
	"cmp"
	"slices"
	"sync"
	"time"
)

// Entry is one timed phase.
type Entry struct {
	Label string
	Dur   time.Duration
}

var (
	mu     sync.Mutex
	record []Entry
)

// Track records the time elapsed since start under label. It is meant to
// be deferred: defer prof.Track(time.Now(), "phase").
func Track(start time.Time, label string) {
	elapsed := time.Since(start)
	mu.Lock()
	record = append(record, Entry{Label: label, Dur: elapsed})
	mu.Unlock()
}

// SnapshotAndReset returns the recorded entries and clears them.
func SnapshotAndReset() []Entry {
	mu.Lock()
	defer mu.Unlock()
	out := make([]Entry, len(record))
	copy(out, record)
	record = nil
	return out
}

// Stat aggregates all entries sharing a label.
type Stat struct {
	Label string
	Count int
	Total time.Duration
}

// Mean is Total / Count.
func (s Stat) Mean() time.Duration {
	if s.Count == 0 {
		return 0
	}
	return s.Total / time.Duration(s.Count)
}

// Aggregate groups entries by label, most expensive first.
func Aggregate(entries []Entry) []Stat {
	idx := make(map[string]int)
	var out []Stat
	for _, e := range entries {
		i, ok := idx[e.Label]
		if !ok {
			i = len(out)
			idx[e.Label] = i
			out = append(out, Stat{Label: e.Label})
		}
		out[i].Count++
		out[i].Total += e.Dur
	}
	slices.SortStableFunc(out, func(a, b Stat) int {
		return cmp.Compare(b.Total, a.Total)
	})
	return out
}
