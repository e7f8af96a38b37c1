package report

import (
	"context"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/goodtune/deskledger/internal/storage"
	"github.com/goodtune/deskledger/internal/storage/bolt"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func day(date string, sessions []storage.Session, apps []storage.AppUsage, sites []storage.SiteUsage) *storage.DayLedger {
	l := storage.NewDayLedger(date, "desk-01", "maria")
	l.Sessions = append(l.Sessions, sessions...)
	l.Applications = append(l.Applications, apps...)
	l.Websites = append(l.Websites, sites...)
	return l
}

func session(start string, minutes, active, idle int64) storage.Session {
	s, _ := time.Parse(time.RFC3339, start)
	return storage.Session{
		Start:         s,
		End:           s.Add(time.Duration(minutes) * time.Minute),
		ActiveMinutes: active,
		IdleMinutes:   idle,
	}
}

func TestSummarize(t *testing.T) {
	mon := day("2024-01-15",
		[]storage.Session{session("2024-01-15T09:00:00Z", 15, 13, 2)},
		[]storage.AppUsage{{ProcessName: "chrome.exe", Minutes: 10}, {ProcessName: "code.exe", Minutes: 5}},
		[]storage.SiteUsage{{Domain: "github.com", Minutes: 4, SampleTitle: "PRs"}},
	)
	tue := day("2024-01-16",
		[]storage.Session{session("2024-01-16T09:00:00Z", 60, 50, 10)},
		[]storage.AppUsage{{ProcessName: "Code.exe", Minutes: 40}},
		[]storage.SiteUsage{{Domain: "github.com", Minutes: 1, SampleTitle: "Issues"}},
	)

	s := Summarize(tue, mon)

	assert.Equal(t, "2024-01-15", s.From)
	assert.Equal(t, "2024-01-16", s.To)
	assert.Equal(t, 2, s.Days)
	assert.Equal(t, 2, s.Sessions)
	assert.Equal(t, int64(63), s.ActiveMinutes)
	assert.Equal(t, int64(12), s.IdleMinutes)
	assert.Equal(t, int64(75), s.SessionMinutes)

	require.Len(t, s.Applications, 2)
	assert.Equal(t, "Code.exe", s.Applications[0].ProcessName)
	assert.Equal(t, int64(45), s.Applications[0].Minutes)
	assert.Equal(t, "chrome.exe", s.Applications[1].ProcessName)

	require.Len(t, s.Websites, 1)
	assert.Equal(t, int64(5), s.Websites[0].Minutes)
	assert.Equal(t, "PRs", s.Websites[0].SampleTitle)

	// Inputs are not modified.
	assert.Equal(t, int64(40), tue.Applications[0].Minutes)
}

func TestBuildSkipsMissingDays(t *testing.T) {
	ctx := context.Background()
	store, err := bolt.Open(filepath.Join(t.TempDir(), "ledgers.bolt"))
	require.NoError(t, err)
	defer func() { _ = store.Close() }()

	require.NoError(t, store.Ledgers().Save(ctx, day("2024-01-15", nil, []storage.AppUsage{{ProcessName: "code.exe", Minutes: 30}}, nil)))
	require.NoError(t, store.Ledgers().Save(ctx, day("2024-01-17", nil, []storage.AppUsage{{ProcessName: "code.exe", Minutes: 20}}, nil)))

	from := time.Date(2024, 1, 15, 0, 0, 0, 0, time.UTC)
	to := time.Date(2024, 1, 21, 0, 0, 0, 0, time.UTC)
	override := day("2024-01-17", nil, []storage.AppUsage{{ProcessName: "code.exe", Minutes: 25}}, nil)

	s, err := Build(ctx, store.Ledgers(), "desk-01", from, to, override)
	require.NoError(t, err)

	assert.Equal(t, 2, s.Days)
	assert.Equal(t, "2024-01-15", s.From)
	assert.Equal(t, "2024-01-21", s.To)
	require.Len(t, s.Applications, 1)
	assert.Equal(t, int64(55), s.Applications[0].Minutes)

	_, err = Build(ctx, store.Ledgers(), "desk-01", to, from)
	assert.Error(t, err)
}

func TestWeekBounds(t *testing.T) {
	tests := []struct {
		day    time.Time
		monday string
		sunday string
	}{
		{time.Date(2024, 1, 17, 15, 0, 0, 0, time.UTC), "2024-01-15", "2024-01-21"},
		{time.Date(2024, 1, 15, 0, 0, 0, 0, time.UTC), "2024-01-15", "2024-01-21"},
		{time.Date(2024, 1, 21, 23, 0, 0, 0, time.UTC), "2024-01-15", "2024-01-21"},
		{time.Date(2024, 3, 1, 8, 0, 0, 0, time.UTC), "2024-02-26", "2024-03-03"},
	}

	for _, tt := range tests {
		monday, sunday := WeekBounds(tt.day)
		assert.Equal(t, tt.monday, monday.Format(storage.DateLayout))
		assert.Equal(t, tt.sunday, sunday.Format(storage.DateLayout))
	}
}

func TestRender(t *testing.T) {
	s := Summarize(day("2024-01-15",
		[]storage.Session{session("2024-01-15T09:00:00Z", 15, 13, 2)},
		[]storage.AppUsage{{ProcessName: "chrome.exe", Minutes: 75}},
		[]storage.SiteUsage{{Domain: "youtube.com", Minutes: 3, SampleTitle: "YouTube - Watching"}},
	))

	assert.Equal(t, "[deskledger] Daily usage for desk-01, 2024-01-15", s.Subject("[deskledger]"))

	var b strings.Builder
	require.NoError(t, s.WriteText(&b))
	out := b.String()
	assert.Contains(t, out, "chrome.exe")
	assert.Contains(t, out, "1h 15m")
	assert.Contains(t, out, "youtube.com")
	assert.Contains(t, out, "Active 13m, idle 2m across 1 session (15m)")

	s.To = "2024-01-21"
	assert.Equal(t, "Weekly usage for desk-01, 2024-01-15 to 2024-01-21", s.Subject(""))
}
