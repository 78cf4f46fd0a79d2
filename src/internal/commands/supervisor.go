package commands

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/maksimkurb/keen-dnsfilter/src/internal/log"
)

// Supervisor runs a function in a goroutine and restarts it with exponential
// backoff when it fails or panics. A nil return or a cancelled context ends it.
type Supervisor struct {
	name           string
	run            func(ctx context.Context) error
	maxRestarts    int // 0 means unlimited
	restartBackoff time.Duration
	maxBackoff     time.Duration

	mu       sync.Mutex
	running  bool
	cancel   context.CancelFunc
	done     chan struct{}
	lastErr  error
	restarts int
}

// SupervisorConfig configures a Supervisor.
type SupervisorConfig struct {
	Name           string
	MaxRestarts    int
	RestartBackoff time.Duration // default: 1s
	MaxBackoff     time.Duration // default: 30s
}

// NewSupervisor creates a stopped supervisor for run.
func NewSupervisor(cfg SupervisorConfig, run func(ctx context.Context) error) *Supervisor {
	if cfg.RestartBackoff == 0 {
		cfg.RestartBackoff = time.Second
	}
	if cfg.MaxBackoff == 0 {
		cfg.MaxBackoff = 30 * time.Second
	}
	return &Supervisor{
		name:           cfg.Name,
		run:            run,
		maxRestarts:    cfg.MaxRestarts,
		restartBackoff: cfg.RestartBackoff,
		maxBackoff:     cfg.MaxBackoff,
	}
}

// Start launches the supervised goroutine.
func (s *Supervisor) Start(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.running {
		return fmt.Errorf("%s is already running", s.name)
	}

	runCtx, cancel := context.WithCancel(ctx)
	s.cancel = cancel
	s.done = make(chan struct{})
	s.running = true
	s.restarts = 0
	s.lastErr = nil

	go s.loop(runCtx, s.done)
	return nil
}

// Stop cancels the context and waits up to timeout for the goroutine to return.
func (s *Supervisor) Stop(timeout time.Duration) error {
	s.mu.Lock()
	if !s.running {
		s.mu.Unlock()
		return nil
	}
	cancel, done := s.cancel, s.done
	s.mu.Unlock()

	cancel()

	select {
	case <-done:
		return nil
	case <-time.After(timeout):
		return fmt.Errorf("%s: timeout waiting for stop", s.name)
	}
}

// LastError returns the error of the most recent failed run.
func (s *Supervisor) LastError() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.lastErr
}

// Restarts returns how many times the function was restarted.
func (s *Supervisor) Restarts() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.restarts
}

// loop marks the supervisor stopped when it returns, so Start works again even
// if an earlier Stop gave up waiting.
func (s *Supervisor) loop(ctx context.Context, done chan struct{}) {
	defer func() {
		s.mu.Lock()
		if s.done == done {
			s.running = false
		}
		s.mu.Unlock()
		close(done)
	}()

	backoff := s.restartBackoff
	for {
		err := s.runOnce(ctx)
		if err == nil || ctx.Err() != nil {
			log.Debugf("%s: exited", s.name)
			return
		}

		s.mu.Lock()
		s.lastErr = err
		s.restarts++
		restarts := s.restarts
		s.mu.Unlock()

		if s.maxRestarts > 0 && restarts > s.maxRestarts {
			log.Errorf("%s: giving up after %d restarts: %v", s.name, s.maxRestarts, err)
			return
		}
		log.Errorf("%s: failed: %v. Restarting in %v (restart #%d)", s.name, err, backoff, restarts)

		select {
		case <-ctx.Done():
			return
		case <-time.After(backoff):
		}

		backoff *= 2
		if backoff > s.maxBackoff {
			backoff = s.maxBackoff
		}
	}
}

func (s *Supervisor) runOnce(ctx context.Context) (err error) {
	defer func() {
		if recovered := recover(); recovered != nil {
			err = fmt.Errorf("panic: %v", recovered)
		}
	}()
	return s.run(ctx)
}
