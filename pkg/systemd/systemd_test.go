package systemd

import (
	"context"
	"testing"
)

func TestNotifyMessages(t *testing.T) {
	var sent []string
	prev := notify
	notify = func(unset bool, state string) (bool, error) {
		sent = append(sent, state)
		return true, nil
	}
	defer func() { notify = prev }()

	_, _ = Ready()
	_, _ = Status("watching 3 repositories")
	_, _ = Stopping()

	want := []string{"READY=1", "STATUS=watching 3 repositories", "STOPPING=1"}
	if len(sent) != len(want) {
		t.Fatalf("sent=%v", sent)
	}
	for i := range want {
		if sent[i] != want[i] {
			t.Fatalf("sent[%d]=%q want %q", i, sent[i], want[i])
		}
	}
}

func TestWatchdogDisabled(t *testing.T) {
	t.Setenv("WATCHDOG_USEC", "")
	t.Setenv("WATCHDOG_PID", "")
	if err := Watchdog(context.Background()); err != nil {
		t.Fatalf("Watchdog: %v", err)
	}
}
