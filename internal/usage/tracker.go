package usage

import (
	"sort"
	"strings"
	"sync"
	"time"
	"unicode/utf8"

	"github.com/goodtune/deskledger/internal/domain"
)

// CanonicalProcess applies the ".exe" naming convention and substitutes
// UnknownProcess for an unresolved name.
func CanonicalProcess(name string) string {
	name = strings.TrimSpace(name)
	if name == "" || name == UnknownProcess {
		return UnknownProcess
	}
	if domain.TrimExe(name) == name {
		name += ".exe"
	}
	return name
}

// bucketSet is a key→bucket map shared by the process and site trackers.
type bucketSet map[string]*Bucket

func (s bucketSet) credit(key string, now time.Time, elapsed time.Duration) *Bucket {
	b, ok := s[key]
	if !ok {
		b = &Bucket{Key: key, FirstSeen: now.Add(-elapsed)}
		s[key] = b
	}
	b.Elapsed += elapsed
	b.LastSeen = now
	return b
}

func (s bucketSet) snapshot() []Bucket {
	out := make([]Bucket, 0, len(s))
	for _, b := range s {
		out = append(out, *b)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Key < out[j].Key })
	return out
}

// ActivityTracker splits elapsed time between active and idle.
type ActivityTracker struct {
	threshold time.Duration
	idleNow   bool
	active    time.Duration
	idle      time.Duration
	mu        sync.Mutex
}

// NewActivityTracker creates a tracker using the given idle threshold.
func NewActivityTracker(threshold time.Duration) *ActivityTracker {
	return &ActivityTracker{threshold: threshold}
}

// Record credits elapsed to the state that held during the interval, then
// adopts the state implied by idleFor for the next one.
func (t *ActivityTracker) Record(elapsed, idleFor time.Duration) (creditedIdle bool) {
	t.mu.Lock()
	defer t.mu.Unlock()

	creditedIdle = t.idleNow
	if creditedIdle {
		t.idle += elapsed
	} else {
		t.active += elapsed
	}
	t.idleNow = idleFor >= t.threshold
	return creditedIdle
}

// Idle reports whether the last observation classified the user as idle.
func (t *ActivityTracker) Idle() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.idleNow
}

// Durations returns the accumulated active and idle time.
func (t *ActivityTracker) Durations() (active, idle time.Duration) {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.active, t.idle
}

// Reset zeroes both counters. The current idle state is kept.
func (t *ActivityTracker) Reset() {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.active, t.idle = 0, 0
}

// ProcessTracker accumulates foreground time per process name.
type ProcessTracker struct {
	excluded map[string]bool
	buckets  bucketSet
	mu       sync.Mutex
}

// NewProcessTracker creates a tracker that never credits the excluded names.
func NewProcessTracker(excluded []string) *ProcessTracker {
	t := &ProcessTracker{
		excluded: make(map[string]bool, len(excluded)),
		buckets:  make(bucketSet),
	}
	for _, name := range excluded {
		t.excluded[strings.ToLower(CanonicalProcess(name))] = true
	}
	return t
}

// Excluded reports whether name is on the deny-list.
func (t *ProcessTracker) Excluded(name string) bool {
	return t.excluded[strings.ToLower(CanonicalProcess(name))]
}

// Record credits elapsed to the canonical form of process.
func (t *ProcessTracker) Record(now time.Time, elapsed time.Duration, process string) bool {
	name := CanonicalProcess(process)
	if t.Excluded(name) {
		return false
	}

	t.mu.Lock()
	defer t.mu.Unlock()
	t.buckets.credit(name, now, elapsed)
	return true
}

// Buckets returns a copy of every process bucket, sorted by key.
func (t *ProcessTracker) Buckets() []Bucket {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.buckets.snapshot()
}

// Reset drops all buckets.
func (t *ProcessTracker) Reset() {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.buckets = make(bucketSet)
}

// SiteTracker accumulates active browser-tab time per normalized domain.
type SiteTracker struct {
	browsers   map[string]bool
	normalizer *domain.Normalizer
	maxTitle   int
	buckets    bucketSet
	mu         sync.Mutex
}

// NewSiteTracker creates a tracker that only credits the listed browsers.
func NewSiteTracker(browsers []string, normalizer *domain.Normalizer, maxTitle int) *SiteTracker {
	t := &SiteTracker{
		browsers:   make(map[string]bool, len(browsers)),
		normalizer: normalizer,
		maxTitle:   maxTitle,
		buckets:    make(bucketSet),
	}
	for _, name := range browsers {
		t.browsers[strings.ToLower(CanonicalProcess(name))] = true
	}
	return t
}

// IsBrowser reports whether process is on the browser allow-list.
func (t *SiteTracker) IsBrowser(process string) bool {
	return t.browsers[strings.ToLower(CanonicalProcess(process))]
}

// Record credits elapsed to the site named by title. It returns the site key,
// or "" when nothing was credited.
func (t *SiteTracker) Record(now time.Time, elapsed time.Duration, process, title string) string {
	if !t.IsBrowser(process) {
		return ""
	}
	title = truncate(strings.TrimSpace(title), t.maxTitle)
	if title == "" {
		return ""
	}

	site := t.normalizer.Normalize(CanonicalProcess(process), title)
	if site == "" {
		return ""
	}

	t.mu.Lock()
	defer t.mu.Unlock()
	b := t.buckets.credit(site, now, elapsed)
	b.Sample = title
	return site
}

// Buckets returns a copy of every site bucket, sorted by key.
func (t *SiteTracker) Buckets() []Bucket {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.buckets.snapshot()
}

// Reset drops all buckets.
func (t *SiteTracker) Reset() {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.buckets = make(bucketSet)
}

// truncate cuts s to at most n runes without splitting a UTF-8 sequence.
func truncate(s string, n int) string {
	if n <= 0 || utf8.RuneCountInString(s) <= n {
		return s
	}
	i := 0
	for pos := range s {
		if i == n {
			return s[:pos]
		}
		i++
	}
	return s
}
