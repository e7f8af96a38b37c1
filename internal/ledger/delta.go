package ledger

import (
	"time"

	"github.com/goodtune/deskledger/internal/storage"
	"github.com/goodtune/deskledger/internal/usage"
)

// Entry is the newly earned usage of one key since the last persist.
type Entry struct {
	Key       string
	Total     int64 // accumulator seconds at diff time
	Minutes   int64
	FirstSeen time.Time
	LastSeen  time.Time
	Sample    string
}

// Delta is one save cycle's worth of new usage.
type Delta struct {
	Apps  []Entry
	Sites []Entry
}

// Empty reports whether the delta carries nothing to merge.
func (d Delta) Empty() bool {
	return len(d.Apps) == 0 && len(d.Sites) == 0
}

// Apply merges the delta into l.
func (d Delta) Apply(l *storage.DayLedger) {
	for _, e := range d.Apps {
		MergeApp(l, storage.AppUsage{
			ProcessName: e.Key,
			Minutes:     e.Minutes,
			FirstSeen:   e.FirstSeen,
			LastSeen:    e.LastSeen,
		})
	}
	for _, e := range d.Sites {
		MergeSite(l, storage.SiteUsage{
			Domain:      e.Key,
			Minutes:     e.Minutes,
			SampleTitle: e.Sample,
			FirstSeen:   e.FirstSeen,
			LastSeen:    e.LastSeen,
		})
	}
}

// DeltaEngine remembers, per key, the accumulator total already folded into
// the ledger. It is process-local and never persisted.
type DeltaEngine struct {
	apps  map[string]int64
	sites map[string]int64
}

// NewDeltaEngine returns an engine with empty high-water marks.
func NewDeltaEngine() *DeltaEngine {
	e := &DeltaEngine{}
	e.Reset()
	return e
}

// Diff computes what each bucket earned since the last Commit. Minutes are
// taken at the rounded-total boundary, so the minutes merged for a key over
// any number of cycles always equal its rounded accumulated seconds. Keys
// whose rounded total has not moved stay pending for a later cycle.
func (e *DeltaEngine) Diff(totals usage.Totals) Delta {
	return Delta{
		Apps:  diff(e.apps, totals.Processes),
		Sites: diff(e.sites, totals.Sites),
	}
}

func diff(persisted map[string]int64, buckets []usage.Bucket) []Entry {
	var out []Entry
	for _, b := range buckets {
		total := b.Seconds()
		committed := persisted[b.Key]
		if total <= committed {
			continue
		}
		minutes := MinutesFromSeconds(total) - MinutesFromSeconds(committed)
		if minutes <= 0 {
			continue
		}
		out = append(out, Entry{
			Key:       b.Key,
			Total:     total,
			Minutes:   minutes,
			FirstSeen: b.FirstSeen,
			LastSeen:  b.LastSeen,
			Sample:    b.Sample,
		})
	}
	return out
}

// Commit advances the high-water marks to the totals in d. Call it only
// after d has been persisted.
func (e *DeltaEngine) Commit(d Delta) {
	for _, entry := range d.Apps {
		e.apps[entry.Key] = entry.Total
	}
	for _, entry := range d.Sites {
		e.sites[entry.Key] = entry.Total
	}
}

// Persisted returns the committed seconds for a process and a site key.
func (e *DeltaEngine) Persisted(process, site string) (int64, int64) {
	return e.apps[process], e.sites[site]
}

// Reset forgets every high-water mark.
func (e *DeltaEngine) Reset() {
	e.apps = make(map[string]int64)
	e.sites = make(map[string]int64)
}
