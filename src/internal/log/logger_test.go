package log

import (
	"testing"
)

func TestWarnHookReceivesFormattedMessage(t *testing.T) {
	DisableLogs()
	defer func() { disableLogs = false }()

	var got []string
	SetWarnHook(func(message string) {
		got = append(got, message)
	})
	defer SetWarnHook(nil)

	Warnf("rule store write failed: %s", "disk full")
	Infof("not a warning")

	if len(got) != 1 {
		t.Fatalf("hook called %d times, want 1", len(got))
	}
	if got[0] != "rule store write failed: disk full" {
		t.Errorf("hook message = %q, want %q", got[0], "rule store write failed: disk full")
	}
}

func TestSetWarnHookNilRemovesHook(t *testing.T) {
	DisableLogs()
	defer func() { disableLogs = false }()

	calls := 0
	SetWarnHook(func(string) { calls++ })
	SetWarnHook(nil)

	Warnf("ignored")

	if calls != 0 {
		t.Errorf("hook called %d times after removal, want 0", calls)
	}
}

func TestSetVerbose(t *testing.T) {
	SetVerbose(true)
	if !IsVerbose() {
		t.Errorf("IsVerbose() = false, want true")
	}
	SetVerbose(false)
	if IsVerbose() {
		t.Errorf("IsVerbose() = true, want false")
	}
}
