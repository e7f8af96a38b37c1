// Package osquery answers the three questions the sampler asks the operating
// system every tick: how long since the last input event, which process owns
// the focused window, and what that window's title is.
package osquery

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"github.com/shirou/gopsutil/v4/process"
)

// CallTimeout bounds every individual OS query.
const CallTimeout = 500 * time.Millisecond

// ErrUnsupported is returned by queriers that cannot answer on this platform.
var ErrUnsupported = errors.New("osquery: not supported on this platform")

// Querier exposes the foreground and idle facts of the interactive session.
// Every method may fail; callers treat failure as unknown.
type Querier interface {
	IdleDuration(ctx context.Context) (time.Duration, error)
	ForegroundProcessName(ctx context.Context) (string, error)
	ForegroundWindowTitle(ctx context.Context) (string, error)
}

// New returns the querier for the running platform.
func New(logger zerolog.Logger) Querier {
	logger = logger.With().Str("component", "osquery").Logger()

	q, err := newPlatform(logger)
	if err != nil {
		logger.Warn().Err(err).Msg("Foreground queries unavailable, usage will be recorded as Unknown")
		return Unsupported{}
	}
	return q
}

// processName resolves a pid to its executable name.
func processName(ctx context.Context, pid int32) (string, error) {
	p, err := process.NewProcessWithContext(ctx, pid)
	if err != nil {
		return "", err
	}
	return p.NameWithContext(ctx)
}

func withTimeout(ctx context.Context) (context.Context, context.CancelFunc) {
	return context.WithTimeout(ctx, CallTimeout)
}

// Unsupported fails every query.
type Unsupported struct{}

func (Unsupported) IdleDuration(context.Context) (time.Duration, error) { return 0, ErrUnsupported }

func (Unsupported) ForegroundProcessName(context.Context) (string, error) {
	return "", ErrUnsupported
}

func (Unsupported) ForegroundWindowTitle(context.Context) (string, error) {
	return "", ErrUnsupported
}

// Static is a settable querier used by tests and dry runs.
type Static struct {
	mu      sync.Mutex
	idle    time.Duration
	process string
	title   string
	err     error
}

// NewStatic returns a Static querier reporting the given foreground window
// with zero idle time.
func NewStatic(process, title string) *Static {
	return &Static{process: process, title: title}
}

// SetIdle changes the reported idle duration.
func (s *Static) SetIdle(d time.Duration) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.idle = d
}

// SetForeground changes the reported foreground process and title.
func (s *Static) SetForeground(process, title string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.process = process
	s.title = title
}

// SetErr makes every query fail with err until cleared with nil.
func (s *Static) SetErr(err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.err = err
}

func (s *Static) IdleDuration(context.Context) (time.Duration, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.err != nil {
		return 0, s.err
	}
	return s.idle, nil
}

func (s *Static) ForegroundProcessName(context.Context) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.err != nil {
		return "", s.err
	}
	return s.process, nil
}

func (s *Static) ForegroundWindowTitle(context.Context) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.err != nil {
		return "", s.err
	}
	return s.title, nil
}
