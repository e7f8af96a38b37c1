package usage

import (
	"time"
)

// UnknownProcess is credited when the foreground process cannot be resolved.
const UnknownProcess = "Unknown"

// Bucket accumulates elapsed time for one key within a tracker's lifetime.
type Bucket struct {
	Key       string
	Elapsed   time.Duration
	FirstSeen time.Time
	LastSeen  time.Time
	// Sample is the most recent raw window title credited to a site bucket.
	Sample string
}

// Seconds returns the whole seconds accumulated so far.
func (b Bucket) Seconds() int64 {
	return int64(b.Elapsed / time.Second)
}

// Observation is everything the sampler learned about the desktop in one tick.
type Observation struct {
	Now     time.Time
	Elapsed time.Duration
	Idle    time.Duration
	Process string
	Title   string
}

// Totals is a point-in-time copy of every accumulator.
type Totals struct {
	Active    time.Duration
	Idle      time.Duration
	Discarded time.Duration
	Processes []Bucket
	Sites     []Bucket
}

// Config holds sampler settings
type Config struct {
	TickInterval      time.Duration
	GapThreshold      time.Duration
	IdleThreshold     time.Duration
	TitleMaxLength    int
	Browsers          []string
	ExcludedProcesses []string
}

const (
	// DefaultTickInterval is the sampling period
	DefaultTickInterval = time.Second

	// DefaultGapThreshold is the longest interval credited to any bucket
	DefaultGapThreshold = 300 * time.Second

	// DefaultIdleThreshold is the input silence after which the user is idle
	DefaultIdleThreshold = 60 * time.Second

	// DefaultTitleMaxLength bounds stored window titles
	DefaultTitleMaxLength = 200
)

func (c *Config) setDefaults() {
	if c.TickInterval <= 0 {
		c.TickInterval = DefaultTickInterval
	}
	if c.GapThreshold <= 0 {
		c.GapThreshold = DefaultGapThreshold
	}
	if c.IdleThreshold <= 0 {
		c.IdleThreshold = DefaultIdleThreshold
	}
	if c.TitleMaxLength <= 0 {
		c.TitleMaxLength = DefaultTitleMaxLength
	}
}
