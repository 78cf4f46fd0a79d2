package commands

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/maksimkurb/keen-dnsfilter/src/internal/log"
)

func init() {
	log.DisableLogs()
}

func TestSupervisor_RestartsOnError(t *testing.T) {
	var calls atomic.Int32
	s := NewSupervisor(SupervisorConfig{
		Name:           "test",
		RestartBackoff: time.Millisecond,
		MaxBackoff:     2 * time.Millisecond,
	}, func(ctx context.Context) error {
		if calls.Add(1) < 3 {
			return errors.New("boom")
		}
		<-ctx.Done()
		return ctx.Err()
	})

	if err := s.Start(context.Background()); err != nil {
		t.Fatalf("Start() error = %v", err)
	}
	waitUntil(t, func() bool { return calls.Load() >= 3 })

	if err := s.Stop(time.Second); err != nil {
		t.Fatalf("Stop() error = %v", err)
	}
	if got := s.Restarts(); got != 2 {
		t.Errorf("Restarts() = %d, want 2", got)
	}
	if err := s.LastError(); err == nil || err.Error() != "boom" {
		t.Errorf("LastError() = %v, want boom", err)
	}
}

func TestSupervisor_RecoversPanics(t *testing.T) {
	var calls atomic.Int32
	s := NewSupervisor(SupervisorConfig{Name: "panicky", RestartBackoff: time.Millisecond}, func(ctx context.Context) error {
		if calls.Add(1) == 1 {
			panic("kaboom")
		}
		return nil
	})

	if err := s.Start(context.Background()); err != nil {
		t.Fatalf("Start() error = %v", err)
	}
	waitUntil(t, func() bool { return calls.Load() >= 2 })
	if err := s.Stop(time.Second); err != nil {
		t.Fatalf("Stop() error = %v", err)
	}

	if err := s.LastError(); err == nil || err.Error() != "panic: kaboom" {
		t.Errorf("LastError() = %v, want panic: kaboom", err)
	}
}

func TestSupervisor_GivesUpAfterMaxRestarts(t *testing.T) {
	var calls atomic.Int32
	s := NewSupervisor(SupervisorConfig{Name: "flaky", MaxRestarts: 2, RestartBackoff: time.Millisecond}, func(ctx context.Context) error {
		calls.Add(1)
		return errors.New("always")
	})

	if err := s.Start(context.Background()); err != nil {
		t.Fatalf("Start() error = %v", err)
	}
	waitUntil(t, func() bool { return s.Restarts() > 2 })
	if err := s.Stop(time.Second); err != nil {
		t.Fatalf("Stop() error = %v", err)
	}

	if got := calls.Load(); got != 3 {
		t.Errorf("run called %d times, want 3", got)
	}
}

func TestSupervisor_StartTwice(t *testing.T) {
	s := NewSupervisor(SupervisorConfig{Name: "once"}, func(ctx context.Context) error {
		<-ctx.Done()
		return nil
	})
	if err := s.Start(context.Background()); err != nil {
		t.Fatalf("Start() error = %v", err)
	}
	defer s.Stop(time.Second)

	if err := s.Start(context.Background()); err == nil {
		t.Error("second Start() should fail while running")
	}
}

func TestSupervisor_StopWhenNotRunning(t *testing.T) {
	s := NewSupervisor(SupervisorConfig{Name: "idle"}, func(ctx context.Context) error { return nil })
	if err := s.Stop(time.Millisecond); err != nil {
		t.Errorf("Stop() on idle supervisor = %v, want nil", err)
	}
}

func waitUntil(t *testing.T, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for !cond() {
		if time.Now().After(deadline) {
			t.Fatal("condition not met in time")
		}
		time.Sleep(time.Millisecond)
	}
}

func TestSupervisor_StartAfterStopTimeout(t *testing.T) {
	release := make(chan struct{})
	var calls atomic.Int32
	s := NewSupervisor(SupervisorConfig{Name: "slow"}, func(ctx context.Context) error {
		if calls.Add(1) == 1 {
			<-release
			return nil
		}
		<-ctx.Done()
		return nil
	})

	if err := s.Start(context.Background()); err != nil {
		t.Fatalf("Start() error = %v", err)
	}
	if err := s.Stop(10 * time.Millisecond); err == nil {
		t.Fatal("Stop() should time out while run ignores cancellation")
	}

	close(release)
	waitUntil(t, func() bool { return s.Start(context.Background()) == nil })
	if err := s.Stop(time.Second); err != nil {
		t.Errorf("Stop() after restart = %v", err)
	}
	if got := calls.Load(); got != 2 {
		t.Errorf("run called %d times, want 2", got)
	}
}

func TestSupervisor_StartAfterGivingUp(t *testing.T) {
	s := NewSupervisor(SupervisorConfig{Name: "broken", MaxRestarts: 1, RestartBackoff: time.Millisecond}, func(ctx context.Context) error {
		return errors.New("always")
	})
	if err := s.Start(context.Background()); err != nil {
		t.Fatalf("Start() error = %v", err)
	}
	waitUntil(t, func() bool { return s.Start(context.Background()) == nil })
	_ = s.Stop(time.Second)
}
