package storage

import (
	"encoding/json"
	"fmt"
	"strings"
	"time"
)

// DateLayout is the calendar-day format used for ledger dates and file names.
const DateLayout = "2006-01-02"

// DayLedger is the persisted usage record for one (date, computer) pair.
type DayLedger struct {
	Date         string      `json:"date"`
	ComputerID   string      `json:"computer_id"`
	UserID       string      `json:"user_id"`
	Sessions     []Session   `json:"sessions"`
	Applications []AppUsage  `json:"applications"`
	Websites     []SiteUsage `json:"websites"`
}

// Session is one continuous run of the monitoring process.
type Session struct {
	ID            string    `json:"id"`
	Start         time.Time `json:"start"`
	End           time.Time `json:"end"`
	ActiveMinutes int64     `json:"active_minutes"`
	IdleMinutes   int64     `json:"idle_minutes"`
}

// AppUsage summarises foreground time for one process.
type AppUsage struct {
	ProcessName string    `json:"process_name"`
	Minutes     int64     `json:"minutes"`
	FirstSeen   time.Time `json:"first_seen"`
	LastSeen    time.Time `json:"last_seen"`
}

// SiteUsage summarises active browser-tab time for one normalized domain.
type SiteUsage struct {
	Domain      string    `json:"domain"`
	Minutes     int64     `json:"minutes"`
	SampleTitle string    `json:"sample_title,omitempty"`
	FirstSeen   time.Time `json:"first_seen"`
	LastSeen    time.Time `json:"last_seen"`
}

// NewDayLedger returns an empty ledger for the given date and identity.
func NewDayLedger(date, computerID, userID string) *DayLedger {
	return &DayLedger{
		Date:         date,
		ComputerID:   computerID,
		UserID:       userID,
		Sessions:     []Session{},
		Applications: []AppUsage{},
		Websites:     []SiteUsage{},
	}
}

// TotalMinutes is the session length in whole minutes.
func (s Session) TotalMinutes() int64 {
	if s.End.Before(s.Start) {
		return 0
	}
	return int64(s.End.Sub(s.Start) / time.Minute)
}

// MarshalJSON adds the derived total_minutes field.
func (s Session) MarshalJSON() ([]byte, error) {
	type plain Session
	return json.Marshal(struct {
		plain
		TotalMinutes int64 `json:"total_minutes"`
	}{plain(s), s.TotalMinutes()})
}

// FindApp returns the index of the application entry matching name
// case-insensitively, or -1.
func (l *DayLedger) FindApp(name string) int {
	for i := range l.Applications {
		if strings.EqualFold(l.Applications[i].ProcessName, name) {
			return i
		}
	}
	return -1
}

// FindSite returns the index of the website entry matching domain
// case-insensitively, or -1.
func (l *DayLedger) FindSite(domain string) int {
	for i := range l.Websites {
		if strings.EqualFold(l.Websites[i].Domain, domain) {
			return i
		}
	}
	return -1
}

// Clone returns a deep copy of the ledger.
func (l *DayLedger) Clone() *DayLedger {
	c := *l
	c.Sessions = append([]Session{}, l.Sessions...)
	c.Applications = append([]AppUsage{}, l.Applications...)
	c.Websites = append([]SiteUsage{}, l.Websites...)
	return &c
}

// Normalize replaces nil collections so the encoded document always carries
// arrays rather than nulls.
func (l *DayLedger) Normalize() {
	if l.Sessions == nil {
		l.Sessions = []Session{}
	}
	if l.Applications == nil {
		l.Applications = []AppUsage{}
	}
	if l.Websites == nil {
		l.Websites = []SiteUsage{}
	}
}

// DailyLatch is the report latch period for a closed day.
func DailyLatch(computerID, date string) string {
	return "daily:" + computerID + ":" + date
}

// WeeklyLatch is the report latch period for an ISO week.
func WeeklyLatch(computerID string, year, week int) string {
	return fmt.Sprintf("weekly:%s:%04d-W%02d", computerID, year, week)
}
