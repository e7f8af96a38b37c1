// Package monitor wires the sampler, the ledger keeper and the reporter into
// one long-running process with an ordered shutdown.
package monitor

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/adrg/xdg"
	"github.com/coder/quartz"
	"github.com/gofrs/flock"
	"github.com/goodtune/deskledger/internal/config"
	"github.com/goodtune/deskledger/internal/domain"
	"github.com/goodtune/deskledger/internal/ledger"
	"github.com/goodtune/deskledger/internal/metrics"
	"github.com/goodtune/deskledger/internal/osquery"
	"github.com/goodtune/deskledger/internal/report"
	"github.com/goodtune/deskledger/internal/storage"
	"github.com/goodtune/deskledger/internal/systemd"
	"github.com/goodtune/deskledger/internal/usage"
	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"
)

// ShutdownTimeout bounds the final flush after the run context is cancelled.
const ShutdownTimeout = 10 * time.Second

// ErrAlreadyRunning is returned when another monitor holds the instance lock.
var ErrAlreadyRunning = errors.New("another deskledger monitor is already running for this computer")

// Option configures a Monitor.
type Option func(*Monitor)

// WithClock replaces the real clock.
func WithClock(clock quartz.Clock) Option {
	return func(m *Monitor) { m.clock = clock }
}

// WithLockPath overrides the instance lock file location.
func WithLockPath(path string) Option {
	return func(m *Monitor) { m.lockPath = path }
}

// WithSender replaces the SMTP sender used for reports.
func WithSender(sender report.Sender) Option {
	return func(m *Monitor) { m.sender = sender }
}

// WithReady registers a callback run once the ledger is open and sampling
// has started.
func WithReady(fn func()) Option {
	return func(m *Monitor) { m.onReady = fn }
}

// Monitor runs usage tracking for one computer.
type Monitor struct {
	cfg      *config.Config
	store    storage.Store
	querier  osquery.Querier
	clock    quartz.Clock
	sender   report.Sender
	lockPath string
	onReady  func()
	logger   zerolog.Logger

	sampler  *usage.Sampler
	keeper   *ledger.Keeper
	reporter *report.Reporter
}

// New creates a monitor. It does not touch the store until Run.
func New(cfg *config.Config, store storage.Store, querier osquery.Querier, logger zerolog.Logger, opts ...Option) (*Monitor, error) {
	m := &Monitor{
		cfg:     cfg,
		store:   store,
		querier: querier,
		clock:   quartz.NewReal(),
		logger:  logger.With().Str("component", "monitor").Logger(),
	}
	for _, opt := range opts {
		opt(m)
	}

	if m.lockPath == "" {
		path, err := xdg.RuntimeFile("deskledger/" + storage.SafeName(cfg.Identity.ComputerID) + ".lock")
		if err != nil {
			return nil, fmt.Errorf("resolve lock file: %w", err)
		}
		m.lockPath = path
	}

	normalizer, err := domain.NewNormalizer(domain.DefaultCacheSize)
	if err != nil {
		return nil, fmt.Errorf("create domain normalizer: %w", err)
	}

	t := cfg.Tracking
	m.sampler = usage.NewSampler(usage.Config{
		TickInterval:      parseDuration(t.TickInterval, usage.DefaultTickInterval),
		GapThreshold:      parseDuration(t.GapThreshold, usage.DefaultGapThreshold),
		IdleThreshold:     t.IdleThreshold(),
		TitleMaxLength:    t.TitleMaxLength,
		Browsers:          t.Browsers,
		ExcludedProcesses: t.ExcludedProcesses,
	}, querier, normalizer, m.clock, logger)

	var hook ledger.Reporter
	if m.reporter = m.newReporter(); m.reporter != nil {
		hook = m.reporter
	}

	m.keeper = ledger.NewKeeper(ledger.Config{
		ComputerID:   cfg.Identity.ComputerID,
		UserID:       cfg.Identity.UserID,
		SaveInterval: parseDuration(t.SaveInterval, time.Minute),
	}, store.Ledgers(), m.sampler, hook, m.clock, logger)

	return m, nil
}

// newReporter returns nil when reporting is disabled.
func (m *Monitor) newReporter() *report.Reporter {
	if !m.cfg.Report.Enabled {
		return nil
	}
	sender := m.sender
	if sender == nil {
		sender = report.NewSMTPSender(m.cfg.Report.SMTP, m.logger)
	}
	return report.NewReporter(report.Options{
		ComputerID:    m.cfg.Identity.ComputerID,
		Weekly:        m.cfg.Report.Weekly,
		SubjectPrefix: m.cfg.Report.SubjectPrefix,
	}, m.store, sender, m.logger)
}

// Keeper exposes the ledger keeper.
func (m *Monitor) Keeper() *ledger.Keeper { return m.keeper }

// Run tracks usage until ctx is cancelled, then stops the sampler and
// persists the ledger one last time.
func (m *Monitor) Run(ctx context.Context) error {
	lock := flock.New(m.lockPath)
	locked, err := lock.TryLock()
	if err != nil {
		return fmt.Errorf("acquire instance lock %s: %w", m.lockPath, err)
	}
	if !locked {
		return ErrAlreadyRunning
	}
	defer func() {
		if err := lock.Unlock(); err != nil {
			m.logger.Warn().Err(err).Msg("Failed to release instance lock")
		}
	}()

	if err := m.keeper.Open(ctx); err != nil {
		return fmt.Errorf("open day ledger: %w", err)
	}

	if m.reporter != nil {
		if err := m.reporter.CatchUp(ctx, m.clock.Now()); err != nil {
			m.logger.Error().Err(err).Msg("Failed to send missed report")
		}
	}

	var metricsServer *metrics.Server
	if m.cfg.Metrics.Enabled {
		metricsServer = metrics.NewServer(m.cfg.Metrics.Address, m.logger)
		if ln, err := systemd.MetricsListener(); err != nil {
			m.logger.Warn().Err(err).Msg("Failed to get systemd metrics listener")
		} else if ln != nil {
			metricsServer.SetListener(ln)
		}
		if err := metricsServer.Start(); err != nil {
			return fmt.Errorf("start metrics server: %w", err)
		}
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error { return m.sampler.Run(gctx) })
	g.Go(func() error { return m.keeper.Run(gctx) })
	if interval := systemd.WatchdogInterval(); interval > 0 {
		g.Go(func() error { return m.watchdog(gctx, interval/2) })
	}

	m.logger.Info().
		Str("computer_id", m.cfg.Identity.ComputerID).
		Str("user_id", m.cfg.Identity.UserID).
		Msg("Usage monitoring started")
	if m.onReady != nil {
		m.onReady()
	}

	runErr := g.Wait()

	shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), ShutdownTimeout)
	defer cancel()

	m.sampler.Stop(shutdownCtx)
	closeErr := m.keeper.Close(shutdownCtx)
	if closeErr != nil {
		m.logger.Error().Err(closeErr).Msg("Final ledger persist failed")
	}

	if metricsServer != nil {
		if err := metricsServer.Stop(); err != nil {
			m.logger.Error().Err(err).Msg("Error stopping Metrics Server")
		}
	}

	m.logger.Info().Msg("Usage monitoring stopped")
	return errors.Join(runErr, closeErr)
}

func (m *Monitor) watchdog(ctx context.Context, every time.Duration) error {
	w := m.clock.TickerFunc(ctx, every, func() error {
		if err := systemd.NotifyWatchdog(); err != nil {
			m.logger.Warn().Err(err).Msg("Failed to send systemd watchdog notification")
		}
		return nil
	}, "watchdog")

	err := w.Wait()
	if errors.Is(err, context.Canceled) {
		return nil
	}
	return err
}

// parseDuration parses a duration string with a fallback
func parseDuration(s string, fallback time.Duration) time.Duration {
	d, err := time.ParseDuration(s)
	if err != nil {
		return fallback
	}
	return d
}
