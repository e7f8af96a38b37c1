package ledger

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/coder/quartz"
	"github.com/goodtune/deskledger/internal/metrics"
	"github.com/goodtune/deskledger/internal/storage"
	"github.com/goodtune/deskledger/internal/usage"
	"github.com/google/uuid"
	"github.com/rs/zerolog"
)

// ErrClosed is returned by Save after Close.
var ErrClosed = errors.New("ledger: keeper closed")

// State is the rollover state of the keeper.
type State int

const (
	StateOpen State = iota
	StateRollingOver
	StateClosed
)

func (s State) String() string {
	switch s {
	case StateOpen:
		return "open"
	case StateRollingOver:
		return "rolling-over"
	case StateClosed:
		return "closed"
	default:
		return fmt.Sprintf("State(%d)", int(s))
	}
}

// Source supplies accumulator totals. *usage.Sampler implements it.
type Source interface {
	Totals() usage.Totals
	ResetTotals() usage.Totals
}

// Reporter is told when a day has been closed. next is the first instant
// observed on the following ledger date.
type Reporter interface {
	PeriodClosed(ctx context.Context, closing *storage.DayLedger, next time.Time) error
}

// Config holds keeper settings
type Config struct {
	ComputerID   string
	UserID       string
	SaveInterval time.Duration
}

// Keeper owns the in-memory day ledger, its delta snapshot and the current
// session, and persists them on a save cadence.
type Keeper struct {
	config   Config
	store    storage.LedgerStore
	source   Source
	reporter Reporter
	clock    quartz.Clock
	logger   zerolog.Logger

	mu        sync.Mutex
	state     State
	ledger    *storage.DayLedger
	sessionID string
	deltas    *DeltaEngine
	// pending holds closed days whose final persist failed, oldest first.
	pending []*storage.DayLedger
}

// NewKeeper creates a keeper. reporter may be nil. A nil clock uses the real
// clock.
func NewKeeper(config Config, store storage.LedgerStore, source Source, reporter Reporter, clock quartz.Clock, logger zerolog.Logger) *Keeper {
	if config.SaveInterval <= 0 {
		config.SaveInterval = time.Minute
	}
	if clock == nil {
		clock = quartz.NewReal()
	}

	return &Keeper{
		config:   config,
		store:    store,
		source:   source,
		reporter: reporter,
		clock:    clock,
		deltas:   NewDeltaEngine(),
		logger:   logger.With().Str("component", "ledger").Logger(),
	}
}

func (k *Keeper) now() time.Time {
	return k.clock.Now("ledger", "now").Round(0)
}

// Open loads or creates today's ledger and starts a new session in it.
func (k *Keeper) Open(ctx context.Context) error {
	k.mu.Lock()
	defer k.mu.Unlock()

	if k.ledger != nil {
		return fmt.Errorf("ledger already open for %s", k.ledger.Date)
	}

	now := k.now()
	k.openDayLocked(ctx, now)
	return nil
}

// openDayLocked makes the ledger for now's date current, appends a session
// and writes it once so the session is visible on disk right away.
func (k *Keeper) openDayLocked(ctx context.Context, now time.Time) {
	ledger := k.loadOrCreate(ctx, now.Format(storage.DateLayout))

	k.sessionID = uuid.NewString()
	ledger.Sessions = append(ledger.Sessions, storage.Session{
		ID:    k.sessionID,
		Start: now,
		End:   now,
	})
	k.ledger = ledger
	k.state = StateOpen

	k.logger.Info().
		Str("date", ledger.Date).
		Str("session_id", k.sessionID).
		Int("sessions", len(ledger.Sessions)).
		Msg("Day ledger opened")

	if err := k.write(ctx, ledger); err != nil {
		k.logger.Error().Err(err).Str("date", ledger.Date).Msg("Failed to persist new session, will retry")
	}
}

func (k *Keeper) loadOrCreate(ctx context.Context, date string) *storage.DayLedger {
	ledger, err := k.store.Load(ctx, date, k.config.ComputerID)
	switch {
	case err == nil:
		if ledger.UserID == "" {
			ledger.UserID = k.config.UserID
		}
		return ledger
	case errors.Is(err, storage.ErrNotFound):
	case errors.Is(err, storage.ErrCorrupt):
		k.logger.Warn().Err(err).Str("date", date).Msg("Stored ledger is corrupt, starting a fresh one")
	default:
		k.logger.Error().Err(err).Str("date", date).Msg("Failed to read stored ledger, starting a fresh one")
	}
	return storage.NewDayLedger(date, k.config.ComputerID, k.config.UserID)
}

// Save runs one save cycle: roll over if the date changed, otherwise merge
// the newly earned usage and persist.
func (k *Keeper) Save(ctx context.Context) error {
	k.mu.Lock()
	defer k.mu.Unlock()
	return k.saveLocked(ctx)
}

func (k *Keeper) saveLocked(ctx context.Context) error {
	if k.state == StateClosed {
		return ErrClosed
	}
	if k.ledger == nil {
		return fmt.Errorf("ledger not open")
	}

	k.retryPending(ctx)

	now := k.now()
	if now.Format(storage.DateLayout) != k.ledger.Date {
		return k.rolloverLocked(ctx, now)
	}

	next, delta := k.build(k.ledger, now, k.source.Totals())
	if err := k.write(ctx, next); err != nil {
		return err
	}
	k.commit(next, delta)
	return nil
}

// build returns a copy of l with delta merged and the current session
// brought up to date.
func (k *Keeper) build(l *storage.DayLedger, now time.Time, totals usage.Totals) (*storage.DayLedger, Delta) {
	next := l.Clone()
	delta := k.deltas.Diff(totals)
	delta.Apply(next)
	k.updateSession(next, now, totals)
	return next, delta
}

func (k *Keeper) commit(next *storage.DayLedger, delta Delta) {
	k.ledger = next
	k.deltas.Commit(delta)

	for _, e := range delta.Apps {
		metrics.MergedMinutes.WithLabelValues("application").Add(float64(e.Minutes))
	}
	for _, e := range delta.Sites {
		metrics.MergedMinutes.WithLabelValues("website").Add(float64(e.Minutes))
	}
}

func (k *Keeper) updateSession(l *storage.DayLedger, now time.Time, totals usage.Totals) {
	end := now
	if dayEnd, err := endOfDay(l.Date, now.Location()); err == nil && end.After(dayEnd) {
		end = dayEnd
	}

	for i := range l.Sessions {
		s := &l.Sessions[i]
		if s.ID != k.sessionID {
			continue
		}
		if end.After(s.End) {
			s.End = end
		}
		s.ActiveMinutes = MinutesFromSeconds(int64(totals.Active / time.Second))
		s.IdleMinutes = MinutesFromSeconds(int64(totals.Idle / time.Second))
		return
	}
}

func endOfDay(date string, loc *time.Location) (time.Time, error) {
	day, err := time.ParseInLocation(storage.DateLayout, date, loc)
	if err != nil {
		return time.Time{}, err
	}
	return day.AddDate(0, 0, 1).Add(-time.Second), nil
}

func (k *Keeper) write(ctx context.Context, l *storage.DayLedger) error {
	start := time.Now()
	err := k.store.Save(ctx, l)
	metrics.SaveDuration.Observe(time.Since(start).Seconds())

	if err != nil {
		metrics.LedgerSaves.WithLabelValues("error").Inc()
		return fmt.Errorf("save ledger %s: %w", l.Date, err)
	}
	metrics.LedgerSaves.WithLabelValues("ok").Inc()
	return nil
}

func (k *Keeper) retryPending(ctx context.Context) {
	var failed []*storage.DayLedger
	for _, l := range k.pending {
		if err := k.write(ctx, l); err != nil {
			k.logger.Error().Err(err).Str("date", l.Date).Msg("Closed ledger still not persisted")
			failed = append(failed, l)
			continue
		}
		k.logger.Info().Str("date", l.Date).Msg("Closed ledger persisted on retry")
	}
	k.pending = failed
}

// rolloverLocked closes the current day and opens the one containing now.
// Accumulators are drained atomically so no interval is credited twice.
func (k *Keeper) rolloverLocked(ctx context.Context, now time.Time) error {
	k.state = StateRollingOver
	metrics.Rollovers.Inc()

	closingDate := k.ledger.Date
	k.logger.Info().
		Str("closing", closingDate).
		Str("opening", now.Format(storage.DateLayout)).
		Msg("Date changed, rolling over day ledger")

	final := k.source.ResetTotals()
	closing, delta := k.build(k.ledger, now, final)

	var saveErr error
	if err := k.write(ctx, closing); err != nil {
		saveErr = err
		k.pending = append(k.pending, closing)
		k.logger.Error().Err(err).Str("date", closingDate).Msg("Final persist of closing ledger failed, will retry")
	}
	k.commit(closing, delta)

	if k.reporter != nil {
		if err := k.reporter.PeriodClosed(ctx, closing.Clone(), now); err != nil {
			k.logger.Error().Err(err).Str("date", closingDate).Msg("End-of-period report failed")
		}
	}

	k.deltas.Reset()
	k.openDayLocked(ctx, now)

	return saveErr
}

// Close runs a final save cycle and refuses further saves.
func (k *Keeper) Close(ctx context.Context) error {
	k.mu.Lock()
	defer k.mu.Unlock()

	if k.state == StateClosed || k.ledger == nil {
		return nil
	}

	err := k.saveLocked(ctx)
	if len(k.pending) > 0 && err == nil {
		dates := make([]string, 0, len(k.pending))
		for _, l := range k.pending {
			dates = append(dates, l.Date)
		}
		err = fmt.Errorf("closed ledgers never persisted: %s", strings.Join(dates, ", "))
	}
	k.state = StateClosed

	k.logger.Info().Str("date", k.ledger.Date).Msg("Day ledger closed")
	return err
}

// Run saves on the configured interval until ctx is done. Failed saves are
// logged and retried on the next cycle.
func (k *Keeper) Run(ctx context.Context) error {
	w := k.clock.TickerFunc(ctx, k.config.SaveInterval, func() error {
		if err := k.Save(ctx); err != nil && !errors.Is(err, ErrClosed) {
			k.logger.Error().Err(err).Msg("Save cycle failed, delta kept for next cycle")
		}
		return nil
	}, "keeper")

	err := w.Wait()
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return nil
	}
	return err
}

// State returns the rollover state.
func (k *Keeper) State() State {
	k.mu.Lock()
	defer k.mu.Unlock()
	return k.state
}

// Current returns a copy of the in-memory ledger, or nil before Open.
func (k *Keeper) Current() *storage.DayLedger {
	k.mu.Lock()
	defer k.mu.Unlock()
	if k.ledger == nil {
		return nil
	}
	return k.ledger.Clone()
}
