package systemd

import (
	"context"
	"testing"
	"time"
)

func TestNotifyOutsideSystemdIsNoop(t *testing.T) {
	t.Setenv("NOTIFY_SOCKET", "")
	t.Setenv("WATCHDOG_USEC", "")
	if sent, err := Ready(); sent || err != nil {
		t.Fatalf("Ready() = %v, %v", sent, err)
	}
	if WatchdogInterval() != 0 {
		t.Fatalf("watchdog enabled without WATCHDOG_USEC")
	}
}

func TestRunWatchdogStopsOnCancel(t *testing.T) {
	t.Setenv("NOTIFY_SOCKET", "")
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Millisecond)
	defer cancel()
	if err := RunWatchdog(ctx, 5*time.Millisecond, func() bool { return true }); err != nil {
		t.Fatalf("RunWatchdog: %v", err)
	}
}
