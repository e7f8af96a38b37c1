package usage

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/coder/quartz"
	"github.com/goodtune/deskledger/internal/domain"
	"github.com/goodtune/deskledger/internal/metrics"
	"github.com/goodtune/deskledger/internal/osquery"
	"github.com/rs/zerolog"
)

// Sampler drives the trackers from a fixed-period tick. All tracker mutation
// happens under one mutex so a tick never interleaves with Stop or Reset.
type Sampler struct {
	config    Config
	clock     quartz.Clock
	querier   osquery.Querier
	activity  *ActivityTracker
	processes *ProcessTracker
	sites     *SiteTracker
	logger    zerolog.Logger

	mu        sync.Mutex
	running   bool
	lastTick  time.Time
	discarded time.Duration
}

// NewSampler creates a sampler. A nil clock uses the real clock.
func NewSampler(config Config, querier osquery.Querier, normalizer *domain.Normalizer, clock quartz.Clock, logger zerolog.Logger) *Sampler {
	config.setDefaults()
	if clock == nil {
		clock = quartz.NewReal()
	}

	return &Sampler{
		config:    config,
		clock:     clock,
		querier:   querier,
		activity:  NewActivityTracker(config.IdleThreshold),
		processes: NewProcessTracker(config.ExcludedProcesses),
		sites:     NewSiteTracker(config.Browsers, normalizer, config.TitleMaxLength),
		logger:    logger.With().Str("component", "sampler").Logger(),
	}
}

// now reads the wall clock without its monotonic reading so that a suspended
// machine shows up as a gap between ticks.
func (s *Sampler) now() time.Time {
	return s.clock.Now("sampler", "now").Round(0)
}

// Start marks the beginning of sampling. Calling Start on a running sampler
// is a no-op.
func (s *Sampler) Start() {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.running {
		return
	}
	s.running = true
	s.lastTick = s.now()

	s.logger.Debug().Time("start", s.lastTick).Msg("Sampler started")
}

// Tick credits the time since the previous tick.
func (s *Sampler) Tick(ctx context.Context) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if !s.running {
		return
	}
	s.tickLocked(ctx)
}

// Stop credits the trailing partial interval and halts sampling.
func (s *Sampler) Stop(ctx context.Context) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if !s.running {
		return
	}
	s.tickLocked(ctx)
	s.running = false

	s.logger.Debug().Msg("Sampler stopped")
}

// Reset clears every bucket and restarts the interval at now without
// crediting the time since the last tick.
func (s *Sampler) Reset() {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.clearLocked()
	s.lastTick = s.now()
}

// Totals returns a copy of every accumulator.
func (s *Sampler) Totals() Totals {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.totalsLocked()
}

// ResetTotals atomically returns the accumulators and clears them. The
// interval in progress is kept and will be credited to the cleared buckets.
func (s *Sampler) ResetTotals() Totals {
	s.mu.Lock()
	defer s.mu.Unlock()

	totals := s.totalsLocked()
	s.clearLocked()
	return totals
}

// Discarded returns the time credited to no bucket since the last reset.
func (s *Sampler) Discarded() time.Duration {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.discarded
}

// Run starts the sampler and ticks until ctx is done. It does not call Stop;
// the owner does that once every loop has exited.
func (s *Sampler) Run(ctx context.Context) error {
	s.Start()

	w := s.clock.TickerFunc(ctx, s.config.TickInterval, func() error {
		s.Tick(ctx)
		return nil
	}, "sampler")

	err := w.Wait()
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return nil
	}
	return err
}

func (s *Sampler) tickLocked(ctx context.Context) {
	now := s.now()
	elapsed := now.Sub(s.lastTick)
	s.lastTick = now

	metrics.TicksTotal.Inc()

	switch {
	case elapsed < 0:
		// Backwards clock step. Counting it as discarded keeps
		// active+idle+discarded equal to the sum of observed intervals.
		s.discarded += elapsed
		s.logger.Debug().Dur("elapsed", elapsed).Msg("Clock moved backwards, interval ignored")
		return
	case elapsed > s.config.GapThreshold:
		s.discarded += elapsed
		metrics.DiscardedSeconds.WithLabelValues("gap").Add(elapsed.Seconds())
		s.logger.Info().
			Dur("gap", elapsed).
			Time("resumed_at", now).
			Msg("Sampling gap exceeds threshold, interval discarded")
		return
	case elapsed == 0:
		return
	}

	obs := s.observe(ctx, now, elapsed)
	s.dispatch(obs)
}

// observe queries the desktop. Failures degrade to neutral values.
func (s *Sampler) observe(ctx context.Context, now time.Time, elapsed time.Duration) Observation {
	obs := Observation{Now: now, Elapsed: elapsed}

	idle, err := s.querier.IdleDuration(ctx)
	if err != nil {
		metrics.QueryErrors.WithLabelValues("idle").Inc()
		idle = 0
	}
	obs.Idle = idle

	process, err := s.querier.ForegroundProcessName(ctx)
	if err != nil {
		metrics.QueryErrors.WithLabelValues("process").Inc()
		process = ""
	}
	obs.Process = CanonicalProcess(process)

	if s.sites.IsBrowser(obs.Process) {
		title, err := s.querier.ForegroundWindowTitle(ctx)
		if err != nil {
			metrics.QueryErrors.WithLabelValues("title").Inc()
			title = ""
		}
		obs.Title = title
	}

	return obs
}

func (s *Sampler) dispatch(obs Observation) {
	if s.activity.Record(obs.Elapsed, obs.Idle) {
		metrics.CreditedSeconds.WithLabelValues("idle").Add(obs.Elapsed.Seconds())
	} else {
		metrics.CreditedSeconds.WithLabelValues("active").Add(obs.Elapsed.Seconds())
	}

	s.processes.Record(obs.Now, obs.Elapsed, obs.Process)
	s.sites.Record(obs.Now, obs.Elapsed, obs.Process, obs.Title)
}

func (s *Sampler) totalsLocked() Totals {
	active, idle := s.activity.Durations()
	return Totals{
		Active:    active,
		Idle:      idle,
		Discarded: s.discarded,
		Processes: s.processes.Buckets(),
		Sites:     s.sites.Buckets(),
	}
}

func (s *Sampler) clearLocked() {
	s.activity.Reset()
	s.processes.Reset()
	s.sites.Reset()
	s.discarded = 0
}
