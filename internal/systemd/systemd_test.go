package systemd

import "testing"

func TestOutsideSystemd(t *testing.T) {
	t.Setenv("NOTIFY_SOCKET", "")
	t.Setenv("LISTEN_PID", "")
	t.Setenv("LISTEN_FDS", "")
	t.Setenv("WATCHDOG_USEC", "")

	if err := NotifyReady(); err != nil {
		t.Errorf("Expected NotifyReady to be a no-op, got %v", err)
	}
	if err := NotifyStopping(); err != nil {
		t.Errorf("Expected NotifyStopping to be a no-op, got %v", err)
	}
	if d := WatchdogInterval(); d != 0 {
		t.Errorf("Expected no watchdog, got %v", d)
	}

	ln, err := MetricsListener()
	if err != nil || ln != nil {
		t.Errorf("Expected no activated listener, got %v, %v", ln, err)
	}
}
