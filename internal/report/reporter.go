package report

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/goodtune/deskledger/internal/metrics"
	"github.com/goodtune/deskledger/internal/storage"
	"github.com/rs/zerolog"
)

// DefaultPeriodTimeout bounds all report work done for one closed period.
const DefaultPeriodTimeout = time.Minute

// Options configures a Reporter.
type Options struct {
	ComputerID    string
	Weekly        bool
	SubjectPrefix string
	// Timeout bounds PeriodClosed, delivery retries included.
	Timeout time.Duration
}

// Reporter sends a daily summary when a day closes, and a weekly one when
// the next day starts a new ISO week. Each period is latched so it is sent
// at most once, across restarts.
type Reporter struct {
	opts    Options
	ledgers storage.LedgerStore
	latches storage.LatchStore
	sender  Sender
	logger  zerolog.Logger
}

// NewReporter creates a reporter backed by store.
func NewReporter(opts Options, store storage.Store, sender Sender, logger zerolog.Logger) *Reporter {
	if opts.Timeout <= 0 {
		opts.Timeout = DefaultPeriodTimeout
	}
	return &Reporter{
		opts:    opts,
		ledgers: store.Ledgers(),
		latches: store.Latches(),
		sender:  sender,
		logger:  logger.With().Str("component", "report").Logger(),
	}
}

// PeriodClosed is called by the ledger keeper when closing has been
// superseded by the ledger for next's date. It returns within the configured
// timeout whatever the relay does.
func (r *Reporter) PeriodClosed(ctx context.Context, closing *storage.DayLedger, next time.Time) error {
	ctx, cancel := context.WithTimeout(ctx, r.opts.Timeout)
	defer cancel()

	day, err := time.ParseInLocation(storage.DateLayout, closing.Date, next.Location())
	if err != nil {
		return fmt.Errorf("closing ledger date: %w", err)
	}

	var errs []error
	if err := r.deliver(ctx, "daily", storage.DailyLatch(r.opts.ComputerID, closing.Date), func() (*Summary, error) {
		s := Summarize(closing)
		s.ComputerID = r.opts.ComputerID
		return s, nil
	}); err != nil {
		errs = append(errs, err)
	}

	if r.opts.Weekly && weekChanged(day, next) {
		year, week := day.ISOWeek()
		monday, sunday := WeekBounds(day)
		if err := r.deliver(ctx, "weekly", storage.WeeklyLatch(r.opts.ComputerID, year, week), func() (*Summary, error) {
			return Build(ctx, r.ledgers, r.opts.ComputerID, monday, sunday, closing)
		}); err != nil {
			errs = append(errs, err)
		}
	}

	return errors.Join(errs...)
}

// CatchUp sends the report for the day before today if the process was not
// running when that day closed.
func (r *Reporter) CatchUp(ctx context.Context, today time.Time) error {
	yesterday := today.AddDate(0, 0, -1).Format(storage.DateLayout)

	sent, err := r.latches.Sent(ctx, storage.DailyLatch(r.opts.ComputerID, yesterday))
	if err != nil {
		return fmt.Errorf("check report latch: %w", err)
	}
	if sent {
		return nil
	}

	closing, err := r.ledgers.Load(ctx, yesterday, r.opts.ComputerID)
	if errors.Is(err, storage.ErrNotFound) || errors.Is(err, storage.ErrCorrupt) {
		return nil
	}
	if err != nil {
		return fmt.Errorf("load ledger %s: %w", yesterday, err)
	}

	r.logger.Info().Str("date", yesterday).Msg("Sending missed end-of-day report")
	return r.PeriodClosed(ctx, closing, today)
}

func (r *Reporter) deliver(ctx context.Context, kind, period string, build func() (*Summary, error)) error {
	claimed, err := r.latches.Claim(ctx, period)
	if err != nil {
		metrics.ReportsTotal.WithLabelValues(kind, "error").Inc()
		return fmt.Errorf("claim report latch %s: %w", period, err)
	}
	if !claimed {
		metrics.ReportsTotal.WithLabelValues(kind, "skipped").Inc()
		r.logger.Debug().Str("period", period).Msg("Report already sent")
		return nil
	}

	summary, err := build()
	if err != nil {
		metrics.ReportsTotal.WithLabelValues(kind, "error").Inc()
		return fmt.Errorf("build %s report: %w", kind, err)
	}

	var body strings.Builder
	if err := summary.WriteText(&body); err != nil {
		metrics.ReportsTotal.WithLabelValues(kind, "error").Inc()
		return fmt.Errorf("render %s report: %w", kind, err)
	}

	if err := r.sender.Send(ctx, summary.Subject(r.opts.SubjectPrefix), body.String()); err != nil {
		metrics.ReportsTotal.WithLabelValues(kind, "error").Inc()
		r.logger.Error().Err(err).Str("period", period).Msg("Report delivery failed; period will not be retried")
		return err
	}

	metrics.ReportsTotal.WithLabelValues(kind, "sent").Inc()
	r.logger.Info().Str("period", period).Msg("Report delivered")
	return nil
}

func weekChanged(day, next time.Time) bool {
	y1, w1 := day.ISOWeek()
	y2, w2 := next.ISOWeek()
	return y1 != y2 || w1 != w2
}
