//go:build windows

package osquery

import (
	"context"
	"errors"
	"time"
	"unsafe"

	"github.com/rs/zerolog"
	"golang.org/x/sys/windows"
)

var (
	user32                   = windows.NewLazySystemDLL("user32.dll")
	kernel32                 = windows.NewLazySystemDLL("kernel32.dll")
	procGetLastInputInfo     = user32.NewProc("GetLastInputInfo")
	procGetWindowTextLengthW = user32.NewProc("GetWindowTextLengthW")
	procGetWindowTextW       = user32.NewProc("GetWindowTextW")
	procGetTickCount         = kernel32.NewProc("GetTickCount")
)

var errNoForeground = errors.New("osquery: no foreground window")

type lastInputInfo struct {
	cbSize uint32
	dwTime uint32
}

type win32Querier struct {
	logger zerolog.Logger
}

func newPlatform(logger zerolog.Logger) (Querier, error) {
	if err := procGetLastInputInfo.Find(); err != nil {
		return nil, err
	}
	return &win32Querier{logger: logger}, nil
}

func (q *win32Querier) IdleDuration(ctx context.Context) (time.Duration, error) {
	info := lastInputInfo{cbSize: uint32(unsafe.Sizeof(lastInputInfo{}))}
	r1, _, e1 := procGetLastInputInfo.Call(uintptr(unsafe.Pointer(&info)))
	if r1 == 0 {
		return 0, e1
	}
	now, _, _ := procGetTickCount.Call()
	// Both counters are 32-bit milliseconds and wrap together.
	idle := uint32(now) - info.dwTime
	return time.Duration(idle) * time.Millisecond, nil
}

func (q *win32Querier) ForegroundProcessName(ctx context.Context) (string, error) {
	hwnd := windows.GetForegroundWindow()
	if hwnd == 0 {
		return "", errNoForeground
	}

	var pid uint32
	if _, err := windows.GetWindowThreadProcessId(hwnd, &pid); err != nil {
		return "", err
	}

	ctx, cancel := withTimeout(ctx)
	defer cancel()
	return processName(ctx, int32(pid))
}

func (q *win32Querier) ForegroundWindowTitle(ctx context.Context) (string, error) {
	hwnd := windows.GetForegroundWindow()
	if hwnd == 0 {
		return "", errNoForeground
	}

	n, _, _ := procGetWindowTextLengthW.Call(uintptr(hwnd))
	if n == 0 {
		return "", nil
	}

	buf := make([]uint16, n+1)
	r1, _, e1 := procGetWindowTextW.Call(uintptr(hwnd), uintptr(unsafe.Pointer(&buf[0])), uintptr(len(buf)))
	if r1 == 0 {
		return "", e1
	}
	return windows.UTF16ToString(buf), nil
}
