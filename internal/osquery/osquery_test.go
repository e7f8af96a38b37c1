package osquery

import (
	"context"
	"errors"
	"testing"
	"time"
)

func TestUnsupportedFailsEveryQuery(t *testing.T) {
	ctx := context.Background()
	q := Unsupported{}

	if _, err := q.IdleDuration(ctx); !errors.Is(err, ErrUnsupported) {
		t.Errorf("Expected ErrUnsupported from IdleDuration, got %v", err)
	}
	if _, err := q.ForegroundProcessName(ctx); !errors.Is(err, ErrUnsupported) {
		t.Errorf("Expected ErrUnsupported from ForegroundProcessName, got %v", err)
	}
	if _, err := q.ForegroundWindowTitle(ctx); !errors.Is(err, ErrUnsupported) {
		t.Errorf("Expected ErrUnsupported from ForegroundWindowTitle, got %v", err)
	}
}

func TestStatic(t *testing.T) {
	ctx := context.Background()
	q := NewStatic("chrome.exe", "Inbox - mail.google.com")

	if name, _ := q.ForegroundProcessName(ctx); name != "chrome.exe" {
		t.Errorf("Expected chrome.exe, got %s", name)
	}

	q.SetIdle(90 * time.Second)
	if idle, _ := q.IdleDuration(ctx); idle != 90*time.Second {
		t.Errorf("Expected 90s idle, got %v", idle)
	}

	q.SetForeground("code.exe", "main.go")
	if title, _ := q.ForegroundWindowTitle(ctx); title != "main.go" {
		t.Errorf("Expected main.go, got %s", title)
	}

	boom := errors.New("boom")
	q.SetErr(boom)
	if _, err := q.IdleDuration(ctx); !errors.Is(err, boom) {
		t.Errorf("Expected injected error, got %v", err)
	}

	q.SetErr(nil)
	if _, err := q.ForegroundProcessName(ctx); err != nil {
		t.Errorf("Expected error to clear, got %v", err)
	}
}
