// Package report aggregates persisted day ledgers into period summaries and
// delivers them once per period.
package report

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/goodtune/deskledger/internal/ledger"
	"github.com/goodtune/deskledger/internal/storage"
)

// Summary is a read-only aggregation of one or more day ledgers.
type Summary struct {
	ComputerID     string
	UserID         string
	From           string
	To             string
	Days           int
	Sessions       int
	ActiveMinutes  int64
	IdleMinutes    int64
	SessionMinutes int64
	Applications   []storage.AppUsage
	Websites       []storage.SiteUsage
}

// Daily reports whether the summary covers a single date.
func (s *Summary) Daily() bool {
	return s.From == s.To
}

// Summarize folds days into one summary. The period is taken from the
// earliest and latest dates present.
func Summarize(days ...*storage.DayLedger) *Summary {
	acc := storage.NewDayLedger("", "", "")
	s := &Summary{}

	for _, day := range days {
		if day == nil {
			continue
		}
		if s.ComputerID == "" {
			s.ComputerID = day.ComputerID
		}
		if s.UserID == "" {
			s.UserID = day.UserID
		}
		if s.From == "" || day.Date < s.From {
			s.From = day.Date
		}
		if day.Date > s.To {
			s.To = day.Date
		}
		s.Days++

		for _, session := range day.Sessions {
			s.Sessions++
			s.ActiveMinutes += session.ActiveMinutes
			s.IdleMinutes += session.IdleMinutes
			s.SessionMinutes += session.TotalMinutes()
		}
		for _, app := range day.Applications {
			ledger.MergeApp(acc, app)
		}
		for _, site := range day.Websites {
			ledger.MergeSite(acc, site)
		}
	}

	s.Applications = acc.Applications
	s.Websites = acc.Websites
	sort.SliceStable(s.Applications, func(i, j int) bool {
		a, b := s.Applications[i], s.Applications[j]
		if a.Minutes != b.Minutes {
			return a.Minutes > b.Minutes
		}
		return strings.ToLower(a.ProcessName) < strings.ToLower(b.ProcessName)
	})
	sort.SliceStable(s.Websites, func(i, j int) bool {
		a, b := s.Websites[i], s.Websites[j]
		if a.Minutes != b.Minutes {
			return a.Minutes > b.Minutes
		}
		return strings.ToLower(a.Domain) < strings.ToLower(b.Domain)
	})

	return s
}

// Build loads every stored ledger for computerID between from and to
// (inclusive) and summarizes them. Missing or corrupt days are skipped.
// Ledgers in override replace the stored copy for their date.
func Build(ctx context.Context, ledgers storage.LedgerStore, computerID string, from, to time.Time, override ...*storage.DayLedger) (*Summary, error) {
	if to.Before(from) {
		return nil, fmt.Errorf("invalid period: %s is before %s", to.Format(storage.DateLayout), from.Format(storage.DateLayout))
	}

	overrides := make(map[string]*storage.DayLedger, len(override))
	for _, l := range override {
		overrides[l.Date] = l
	}

	var days []*storage.DayLedger
	for d := from; !d.After(to); d = d.AddDate(0, 0, 1) {
		date := d.Format(storage.DateLayout)
		if l, ok := overrides[date]; ok {
			days = append(days, l)
			continue
		}

		l, err := ledgers.Load(ctx, date, computerID)
		if errors.Is(err, storage.ErrNotFound) || errors.Is(err, storage.ErrCorrupt) {
			continue
		}
		if err != nil {
			return nil, fmt.Errorf("load ledger %s: %w", date, err)
		}
		days = append(days, l)
	}

	s := Summarize(days...)
	s.ComputerID = computerID
	s.From = from.Format(storage.DateLayout)
	s.To = to.Format(storage.DateLayout)
	return s, nil
}

// WeekBounds returns the Monday and Sunday of the ISO week containing day.
func WeekBounds(day time.Time) (time.Time, time.Time) {
	offset := (int(day.Weekday()) + 6) % 7
	monday := time.Date(day.Year(), day.Month(), day.Day()-offset, 0, 0, 0, 0, day.Location())
	return monday, monday.AddDate(0, 0, 6)
}
