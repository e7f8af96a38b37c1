// Package ledger folds sampler totals into the persisted day ledger and
// moves it across calendar-day boundaries.
package ledger

import (
	"math"
	"strings"
	"time"

	"github.com/goodtune/deskledger/internal/storage"
)

// MinutesFromSeconds converts seconds to minutes, rounding half away from zero.
func MinutesFromSeconds(seconds int64) int64 {
	return int64(math.Round(float64(seconds) / 60))
}

// MergeApp folds in into the ledger's application with the same name
// (case-insensitive), or appends it. Zero-minute entries are ignored.
func MergeApp(l *storage.DayLedger, in storage.AppUsage) bool {
	if in.Minutes <= 0 || strings.TrimSpace(in.ProcessName) == "" {
		return false
	}

	i := l.FindApp(in.ProcessName)
	if i < 0 {
		l.Applications = append(l.Applications, in)
		return true
	}

	app := &l.Applications[i]
	app.Minutes += in.Minutes
	app.FirstSeen, app.LastSeen = widen(app.FirstSeen, app.LastSeen, in.FirstSeen, in.LastSeen)
	return true
}

// MergeSite is MergeApp for websites. A non-empty incoming sample title
// replaces the stored one.
func MergeSite(l *storage.DayLedger, in storage.SiteUsage) bool {
	if in.Minutes <= 0 || strings.TrimSpace(in.Domain) == "" {
		return false
	}

	i := l.FindSite(in.Domain)
	if i < 0 {
		l.Websites = append(l.Websites, in)
		return true
	}

	site := &l.Websites[i]
	site.Minutes += in.Minutes
	site.FirstSeen, site.LastSeen = widen(site.FirstSeen, site.LastSeen, in.FirstSeen, in.LastSeen)
	if in.SampleTitle != "" {
		site.SampleTitle = in.SampleTitle
	}
	return true
}

// widen returns the union of two seen ranges. Zero times are unknown and
// never win.
func widen(first, last, inFirst, inLast time.Time) (time.Time, time.Time) {
	if first.IsZero() || (!inFirst.IsZero() && inFirst.Before(first)) {
		first = inFirst
	}
	if inLast.After(last) {
		last = inLast
	}
	return first, last
}
