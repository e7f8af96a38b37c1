package ledger

import (
	"context"
	"encoding/json"
	"errors"
	"reflect"
	"sync"
	"testing"
	"time"

	"github.com/coder/quartz"
	"github.com/goodtune/deskledger/internal/domain"
	"github.com/goodtune/deskledger/internal/osquery"
	"github.com/goodtune/deskledger/internal/storage"
	"github.com/goodtune/deskledger/internal/usage"
	"github.com/rs/zerolog"
)

// memStore is an in-memory LedgerStore that can be told to fail.
type memStore struct {
	mu        sync.Mutex
	docs      map[string][]byte
	failSaves int
	corrupt   map[string]bool
	saves     int
}

func newMemStore() *memStore {
	return &memStore{docs: make(map[string][]byte), corrupt: make(map[string]bool)}
}

func (m *memStore) Load(_ context.Context, date, computerID string) (*storage.DayLedger, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	key := storage.LedgerName(date, computerID)
	if m.corrupt[key] {
		return nil, storage.ErrCorrupt
	}
	data, ok := m.docs[key]
	if !ok {
		return nil, storage.ErrNotFound
	}
	var l storage.DayLedger
	if err := json.Unmarshal(data, &l); err != nil {
		return nil, err
	}
	l.Normalize()
	return &l, nil
}

func (m *memStore) Save(_ context.Context, l *storage.DayLedger) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.failSaves > 0 {
		m.failSaves--
		return errors.New("disk full")
	}
	data, err := json.Marshal(l)
	if err != nil {
		return err
	}
	m.docs[storage.LedgerName(l.Date, l.ComputerID)] = data
	m.saves++
	return nil
}

func (m *memStore) ListDates(context.Context, string) ([]string, error) {
	return nil, nil
}

func (m *memStore) failNext(n int) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.failSaves = n
}

func (m *memStore) get(t *testing.T, date string) *storage.DayLedger {
	t.Helper()
	l, err := m.Load(context.Background(), date, "desk-01")
	if err != nil {
		t.Fatalf("Expected ledger for %s in store: %v", date, err)
	}
	return l
}

// fakeSource hands out totals set by the test.
type fakeSource struct {
	mu     sync.Mutex
	totals usage.Totals
}

func (f *fakeSource) set(process string, processSeconds int, site string, siteSeconds int) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.totals = usage.Totals{
		Active:    time.Duration(processSeconds) * time.Second,
		Processes: []usage.Bucket{{Key: process, Elapsed: time.Duration(processSeconds) * time.Second}},
	}
	if site != "" {
		f.totals.Sites = []usage.Bucket{{Key: site, Elapsed: time.Duration(siteSeconds) * time.Second, Sample: site + " title"}}
	}
}

func (f *fakeSource) Totals() usage.Totals {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.totals
}

func (f *fakeSource) ResetTotals() usage.Totals {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := f.totals
	f.totals = usage.Totals{}
	return out
}

type closedPeriod struct {
	date string
	apps []storage.AppUsage
	next time.Time
}

type recordingReporter struct {
	calls []closedPeriod
}

func (r *recordingReporter) PeriodClosed(_ context.Context, closing *storage.DayLedger, next time.Time) error {
	r.calls = append(r.calls, closedPeriod{date: closing.Date, apps: closing.Applications, next: next})
	return nil
}

type keeperFixture struct {
	keeper   *Keeper
	store    *memStore
	source   *fakeSource
	reporter *recordingReporter
	clock    *quartz.Mock
}

func newKeeperFixture(t *testing.T, now time.Time) *keeperFixture {
	t.Helper()

	f := &keeperFixture{
		store:    newMemStore(),
		source:   &fakeSource{},
		reporter: &recordingReporter{},
		clock:    quartz.NewMock(t),
	}
	f.clock.Set(now)
	f.keeper = NewKeeper(Config{ComputerID: "desk-01", UserID: "maria"}, f.store, f.source, f.reporter, f.clock, zerolog.Nop())
	return f
}

func TestKeeper_OpenCreatesLedgerWithSession(t *testing.T) {
	ctx := context.Background()
	now := time.Date(2024, 1, 15, 9, 0, 0, 0, time.UTC)
	f := newKeeperFixture(t, now)

	if err := f.keeper.Open(ctx); err != nil {
		t.Fatalf("Open failed: %v", err)
	}

	stored := f.store.get(t, "2024-01-15")
	if stored.UserID != "maria" {
		t.Errorf("Expected user maria, got %s", stored.UserID)
	}
	if len(stored.Sessions) != 1 || !stored.Sessions[0].Start.Equal(now) {
		t.Errorf("Expected one session starting at %v, got %+v", now, stored.Sessions)
	}
	if f.keeper.State() != StateOpen {
		t.Errorf("Expected state open, got %s", f.keeper.State())
	}
}

func TestKeeper_OpenMergesWithEarlierRun(t *testing.T) {
	ctx := context.Background()
	now := time.Date(2024, 1, 15, 13, 0, 0, 0, time.UTC)
	f := newKeeperFixture(t, now)

	earlier := storage.NewDayLedger("2024-01-15", "desk-01", "maria")
	earlier.Sessions = append(earlier.Sessions, storage.Session{ID: "morning"})
	earlier.Applications = append(earlier.Applications, storage.AppUsage{ProcessName: "chrome.exe", Minutes: 10})
	_ = f.store.Save(ctx, earlier)

	if err := f.keeper.Open(ctx); err != nil {
		t.Fatalf("Open failed: %v", err)
	}

	f.source.set("Chrome.exe", 300, "", 0)
	f.clock.Set(now.Add(5 * time.Minute))
	if err := f.keeper.Save(ctx); err != nil {
		t.Fatalf("Save failed: %v", err)
	}

	stored := f.store.get(t, "2024-01-15")
	if len(stored.Sessions) != 2 {
		t.Errorf("Expected sessions to be appended, got %d", len(stored.Sessions))
	}
	if len(stored.Applications) != 1 || stored.Applications[0].Minutes != 15 {
		t.Errorf("Expected chrome to reach 15 minutes, got %+v", stored.Applications)
	}
}

func TestKeeper_SaveTwiceIsIdempotent(t *testing.T) {
	ctx := context.Background()
	now := time.Date(2024, 1, 15, 9, 0, 0, 0, time.UTC)
	f := newKeeperFixture(t, now)
	_ = f.keeper.Open(ctx)

	f.source.set("code.exe", 600, "github.com", 240)
	f.clock.Set(now.Add(10 * time.Minute))

	if err := f.keeper.Save(ctx); err != nil {
		t.Fatalf("first Save failed: %v", err)
	}
	first := f.keeper.Current()

	if err := f.keeper.Save(ctx); err != nil {
		t.Fatalf("second Save failed: %v", err)
	}
	second := f.keeper.Current()

	if !reflect.DeepEqual(first, second) {
		t.Errorf("Expected unchanged ledger\nfirst:  %+v\nsecond: %+v", first, second)
	}
	if second.Applications[0].Minutes != 10 || second.Websites[0].Minutes != 4 {
		t.Errorf("Unexpected totals apps=%+v sites=%+v", second.Applications, second.Websites)
	}
}

func TestKeeper_FailedWriteKeepsDelta(t *testing.T) {
	ctx := context.Background()
	now := time.Date(2024, 1, 15, 9, 0, 0, 0, time.UTC)
	f := newKeeperFixture(t, now)
	_ = f.keeper.Open(ctx)

	f.source.set("code.exe", 120, "", 0)
	f.clock.Set(now.Add(2 * time.Minute))
	f.store.failNext(1)

	if err := f.keeper.Save(ctx); err == nil {
		t.Fatal("Expected Save to report the write failure")
	}
	if apps := f.keeper.Current().Applications; len(apps) != 0 {
		t.Fatalf("Expected in-memory ledger untouched after failed write, got %+v", apps)
	}

	f.source.set("code.exe", 180, "", 0)
	f.clock.Set(now.Add(3 * time.Minute))
	if err := f.keeper.Save(ctx); err != nil {
		t.Fatalf("retry Save failed: %v", err)
	}

	stored := f.store.get(t, "2024-01-15")
	if len(stored.Applications) != 1 || stored.Applications[0].Minutes != 3 {
		t.Errorf("Expected 3 minutes after retry, got %+v", stored.Applications)
	}
}

func TestKeeper_CorruptLedgerStartsFresh(t *testing.T) {
	ctx := context.Background()
	f := newKeeperFixture(t, time.Date(2024, 1, 15, 9, 0, 0, 0, time.UTC))
	f.store.corrupt[storage.LedgerName("2024-01-15", "desk-01")] = true

	if err := f.keeper.Open(ctx); err != nil {
		t.Fatalf("Open failed: %v", err)
	}
	current := f.keeper.Current()
	if len(current.Sessions) != 1 || len(current.Applications) != 0 {
		t.Errorf("Expected fresh ledger, got %+v", current)
	}
}

func TestKeeper_Rollover(t *testing.T) {
	ctx := context.Background()
	day1 := time.Date(2024, 1, 15, 23, 50, 0, 0, time.UTC)
	f := newKeeperFixture(t, day1)
	_ = f.keeper.Open(ctx)

	f.source.set("code.exe", 300, "github.com", 120)
	f.clock.Set(day1.Add(5 * time.Minute))
	if err := f.keeper.Save(ctx); err != nil {
		t.Fatalf("Save failed: %v", err)
	}

	// Two more minutes accrue before midnight; the next save is after it.
	f.source.set("code.exe", 420, "github.com", 120)
	day2 := time.Date(2024, 1, 16, 0, 0, 30, 0, time.UTC)
	f.clock.Set(day2)
	if err := f.keeper.Save(ctx); err != nil {
		t.Fatalf("rollover Save failed: %v", err)
	}

	closed := f.store.get(t, "2024-01-15")
	if closed.Applications[0].Minutes != 7 {
		t.Errorf("Expected closing ledger to hold 7 minutes, got %d", closed.Applications[0].Minutes)
	}
	if closed.Websites[0].Minutes != 2 {
		t.Errorf("Expected closing website minutes 2, got %d", closed.Websites[0].Minutes)
	}
	wantEnd := time.Date(2024, 1, 15, 23, 59, 59, 0, time.UTC)
	if end := closed.Sessions[0].End; !end.Equal(wantEnd) {
		t.Errorf("Expected closing session to end at %v, got %v", wantEnd, end)
	}

	if len(f.reporter.calls) != 1 {
		t.Fatalf("Expected one report call, got %d", len(f.reporter.calls))
	}
	call := f.reporter.calls[0]
	if call.date != "2024-01-15" || !call.next.Equal(day2) || call.apps[0].Minutes != 7 {
		t.Errorf("Unexpected report call %+v", call)
	}

	opened := f.store.get(t, "2024-01-16")
	if len(opened.Applications) != 0 || len(opened.Websites) != 0 {
		t.Errorf("Expected new day to start empty, got %+v", opened)
	}
	if len(opened.Sessions) != 1 || !opened.Sessions[0].Start.Equal(day2) {
		t.Errorf("Expected new session at %v, got %+v", day2, opened.Sessions)
	}
	if totals := f.source.Totals(); len(totals.Processes) != 0 {
		t.Errorf("Expected accumulators drained, got %+v", totals.Processes)
	}
	if f.keeper.State() != StateOpen {
		t.Errorf("Expected state open after rollover, got %s", f.keeper.State())
	}

	// Usage after midnight lands only on the new day.
	f.source.set("code.exe", 60, "", 0)
	f.clock.Set(day2.Add(time.Minute))
	if err := f.keeper.Save(ctx); err != nil {
		t.Fatalf("Save failed: %v", err)
	}
	if got := f.store.get(t, "2024-01-16").Applications[0].Minutes; got != 1 {
		t.Errorf("Expected 1 minute on new day, got %d", got)
	}
	if got := f.store.get(t, "2024-01-15").Applications[0].Minutes; got != 7 {
		t.Errorf("Expected closed day to stay at 7 minutes, got %d", got)
	}
}

func TestKeeper_RolloverRetriesFailedFinalPersist(t *testing.T) {
	ctx := context.Background()
	day1 := time.Date(2024, 1, 15, 23, 58, 0, 0, time.UTC)
	f := newKeeperFixture(t, day1)
	_ = f.keeper.Open(ctx)

	f.source.set("code.exe", 180, "", 0)
	f.clock.Set(time.Date(2024, 1, 16, 0, 1, 0, 0, time.UTC))
	f.store.failNext(1)

	if err := f.keeper.Save(ctx); err == nil {
		t.Fatal("Expected rollover to report failed final persist")
	}
	if apps := f.store.get(t, "2024-01-15").Applications; len(apps) != 0 {
		t.Fatalf("Expected closing ledger not yet written, got %+v", apps)
	}

	f.clock.Set(time.Date(2024, 1, 16, 0, 2, 0, 0, time.UTC))
	if err := f.keeper.Save(ctx); err != nil {
		t.Fatalf("Save failed: %v", err)
	}
	if apps := f.store.get(t, "2024-01-15").Applications; len(apps) != 1 || apps[0].Minutes != 3 {
		t.Errorf("Expected pending close to be written with 3 minutes, got %+v", apps)
	}
}

func TestKeeper_ConsecutiveFailedRolloversKeepEveryDay(t *testing.T) {
	ctx := context.Background()
	f := newKeeperFixture(t, time.Date(2024, 1, 15, 23, 58, 0, 0, time.UTC))
	_ = f.keeper.Open(ctx)

	// Day one closes, its final write fails.
	f.source.set("code.exe", 180, "", 0)
	f.clock.Set(time.Date(2024, 1, 16, 0, 1, 0, 0, time.UTC))
	f.store.failNext(1)
	if err := f.keeper.Save(ctx); err == nil {
		t.Fatal("Expected first rollover to report failed final persist")
	}

	// Day two closes, both the retry of day one and day two's write fail.
	f.source.set("slack.exe", 120, "", 0)
	f.clock.Set(time.Date(2024, 1, 17, 0, 1, 0, 0, time.UTC))
	f.store.failNext(2)
	if err := f.keeper.Save(ctx); err == nil {
		t.Fatal("Expected second rollover to report failed final persist")
	}

	f.clock.Set(time.Date(2024, 1, 17, 0, 2, 0, 0, time.UTC))
	if err := f.keeper.Save(ctx); err != nil {
		t.Fatalf("Save failed: %v", err)
	}

	if apps := f.store.get(t, "2024-01-15").Applications; len(apps) != 1 || apps[0].ProcessName != "code.exe" || apps[0].Minutes != 3 {
		t.Errorf("Expected 2024-01-15 written with code.exe 3 minutes, got %+v", apps)
	}
	if apps := f.store.get(t, "2024-01-16").Applications; len(apps) != 1 || apps[0].ProcessName != "slack.exe" || apps[0].Minutes != 2 {
		t.Errorf("Expected 2024-01-16 written with slack.exe 2 minutes, got %+v", apps)
	}
	if err := f.keeper.Close(ctx); err != nil {
		t.Errorf("Expected clean close once every day is written, got %v", err)
	}
}

func TestKeeper_CloseRefusesFurtherSaves(t *testing.T) {
	ctx := context.Background()
	now := time.Date(2024, 1, 15, 9, 0, 0, 0, time.UTC)
	f := newKeeperFixture(t, now)
	_ = f.keeper.Open(ctx)

	f.source.set("code.exe", 90, "", 0)
	f.clock.Set(now.Add(90 * time.Second))
	if err := f.keeper.Close(ctx); err != nil {
		t.Fatalf("Close failed: %v", err)
	}

	if got := f.store.get(t, "2024-01-15").Applications[0].Minutes; got != 2 {
		t.Errorf("Expected final persist of 2 minutes, got %d", got)
	}
	if err := f.keeper.Save(ctx); !errors.Is(err, ErrClosed) {
		t.Errorf("Expected ErrClosed, got %v", err)
	}
	if f.keeper.State() != StateClosed {
		t.Errorf("Expected state closed, got %s", f.keeper.State())
	}
}

func TestKeeper_WorkdaySession(t *testing.T) {
	ctx := context.Background()
	start := time.Date(2024, 1, 15, 9, 0, 0, 0, time.UTC)
	stop := start.Add(15 * time.Minute)

	mClock := quartz.NewMock(t)
	mClock.Set(start)

	normalizer, err := domain.NewNormalizer(0)
	if err != nil {
		t.Fatalf("NewNormalizer failed: %v", err)
	}
	q := osquery.NewStatic("chrome.exe", "Inbox - mail.google.com")
	sampler := usage.NewSampler(usage.Config{Browsers: []string{"chrome.exe"}}, q, normalizer, mClock, zerolog.Nop())

	store := newMemStore()
	keeper := NewKeeper(Config{ComputerID: "desk-01", UserID: "maria"}, store, sampler, nil, mClock, zerolog.Nop())
	if err := keeper.Open(ctx); err != nil {
		t.Fatalf("Open failed: %v", err)
	}
	sampler.Start()

	for now := start.Add(time.Second); now.Before(stop); now = now.Add(time.Second) {
		mClock.Set(now)
		if !now.Before(start.Add(10*time.Minute)) && now.Before(start.Add(12*time.Minute)) {
			q.SetIdle(2 * time.Minute)
		} else {
			q.SetIdle(0)
		}
		sampler.Tick(ctx)
		if now.Second() == 0 {
			if err := keeper.Save(ctx); err != nil {
				t.Fatalf("Save at %v failed: %v", now, err)
			}
		}
	}

	mClock.Set(stop)
	sampler.Stop(ctx)
	if err := keeper.Close(ctx); err != nil {
		t.Fatalf("Close failed: %v", err)
	}

	stored := store.get(t, "2024-01-15")
	session := stored.Sessions[0]
	if session.ActiveMinutes != 13 || session.IdleMinutes != 2 || session.TotalMinutes() != 15 {
		t.Errorf("Expected 13 active, 2 idle, 15 total; got %d, %d, %d",
			session.ActiveMinutes, session.IdleMinutes, session.TotalMinutes())
	}
	if stored.Applications[0].Minutes != 15 {
		t.Errorf("Expected chrome 15 minutes, got %d", stored.Applications[0].Minutes)
	}
	if stored.Websites[0].Domain != "google.com" || stored.Websites[0].Minutes != 15 {
		t.Errorf("Expected google.com 15 minutes, got %+v", stored.Websites[0])
	}
}

func TestKeeper_AlternatingProcessesShareSaveInterval(t *testing.T) {
	ctx := context.Background()
	start := time.Date(2024, 1, 15, 9, 0, 0, 0, time.UTC)
	stop := start.Add(10 * time.Minute)

	mClock := quartz.NewMock(t)
	mClock.Set(start)

	normalizer, err := domain.NewNormalizer(0)
	if err != nil {
		t.Fatalf("NewNormalizer failed: %v", err)
	}
	q := osquery.NewStatic("code.exe", "")
	sampler := usage.NewSampler(usage.Config{}, q, normalizer, mClock, zerolog.Nop())

	store := newMemStore()
	keeper := NewKeeper(Config{ComputerID: "desk-01", UserID: "maria"}, store, sampler, nil, mClock, zerolog.Nop())
	if err := keeper.Open(ctx); err != nil {
		t.Fatalf("Open failed: %v", err)
	}
	sampler.Start()

	// code.exe and slack.exe take turns every 30 seconds.
	for now := start.Add(time.Second); !now.After(stop); now = now.Add(time.Second) {
		mClock.Set(now)
		if (int(now.Sub(start)/time.Second)-1)/30%2 == 0 {
			q.SetForeground("code.exe", "")
		} else {
			q.SetForeground("slack.exe", "")
		}
		sampler.Tick(ctx)
		if now.Second() == 0 {
			if err := keeper.Save(ctx); err != nil {
				t.Fatalf("Save at %v failed: %v", now, err)
			}
		}
	}

	sampler.Stop(ctx)
	if err := keeper.Close(ctx); err != nil {
		t.Fatalf("Close failed: %v", err)
	}

	stored := store.get(t, "2024-01-15")
	var sum int64
	for _, app := range stored.Applications {
		if app.Minutes != 5 {
			t.Errorf("Expected %s to have 5 minutes, got %d", app.ProcessName, app.Minutes)
		}
		sum += app.Minutes
	}
	if len(stored.Applications) != 2 {
		t.Fatalf("Expected 2 applications, got %+v", stored.Applications)
	}
	if total := stored.Sessions[0].TotalMinutes(); sum > total {
		t.Errorf("Application minutes %d exceed session length %d", sum, total)
	}
}
