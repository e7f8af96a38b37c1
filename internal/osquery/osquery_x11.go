//go:build linux || freebsd || openbsd || netbsd

package osquery

import (
	"context"
	"fmt"
	"os"
	"os/exec"
	"strconv"
	"strings"
	"time"

	"github.com/cli/safeexec"
	"github.com/rs/zerolog"
)

// x11Querier shells out to xprintidle and xdotool.
type x11Querier struct {
	xprintidle string
	xdotool    string
	logger     zerolog.Logger
}

func newPlatform(logger zerolog.Logger) (Querier, error) {
	if os.Getenv("DISPLAY") == "" {
		return nil, fmt.Errorf("DISPLAY is not set")
	}

	q := &x11Querier{logger: logger}

	var err error
	if q.xdotool, err = safeexec.LookPath("xdotool"); err != nil {
		return nil, fmt.Errorf("find xdotool: %w", err)
	}
	if q.xprintidle, err = safeexec.LookPath("xprintidle"); err != nil {
		// Idle time falls back to zero, which the sampler reads as active.
		logger.Warn().Err(err).Msg("xprintidle not found, idle time will not be tracked")
	}

	return q, nil
}

func (q *x11Querier) run(ctx context.Context, name string, args ...string) (string, error) {
	ctx, cancel := withTimeout(ctx)
	defer cancel()

	out, err := exec.CommandContext(ctx, name, args...).Output()
	if err != nil {
		return "", fmt.Errorf("%s: %w", name, err)
	}
	return strings.TrimSpace(string(out)), nil
}

func (q *x11Querier) IdleDuration(ctx context.Context) (time.Duration, error) {
	if q.xprintidle == "" {
		return 0, ErrUnsupported
	}

	out, err := q.run(ctx, q.xprintidle)
	if err != nil {
		return 0, err
	}
	ms, err := strconv.ParseInt(out, 10, 64)
	if err != nil {
		return 0, fmt.Errorf("parse xprintidle output %q: %w", out, err)
	}
	return time.Duration(ms) * time.Millisecond, nil
}

func (q *x11Querier) ForegroundProcessName(ctx context.Context) (string, error) {
	out, err := q.run(ctx, q.xdotool, "getactivewindow", "getwindowpid")
	if err != nil {
		return "", err
	}
	pid, err := strconv.ParseInt(out, 10, 32)
	if err != nil {
		return "", fmt.Errorf("parse window pid %q: %w", out, err)
	}

	ctx, cancel := withTimeout(ctx)
	defer cancel()
	return processName(ctx, int32(pid))
}

func (q *x11Querier) ForegroundWindowTitle(ctx context.Context) (string, error) {
	return q.run(ctx, q.xdotool, "getactivewindow", "getwindowname")
}
