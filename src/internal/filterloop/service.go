package filterloop

import (
	"context"
	stderrors "errors"
	"fmt"
	"sync"
	"time"

	"github.com/maksimkurb/keen-dnsfilter/src/internal/errors"
	"github.com/maksimkurb/keen-dnsfilter/src/internal/filter"
	"github.com/maksimkurb/keen-dnsfilter/src/internal/log"
)

const (
	DefaultLogCapacity = 120
	DefaultIdleBackoff = 10 * time.Millisecond
	DefaultBufferSize  = 65535
)

// Options tune a Service. Zero values select the defaults.
type Options struct {
	LogCapacity int
	IdleBackoff time.Duration
	BufferSize  int
	Now         func() time.Time
}

// Service answers DNS queries from a tunnel using a filter.Engine.
type Service struct {
	engine      *filter.Engine
	openTunnel  TunnelOpener
	newResolver ResolverFactory

	logCapacity int
	idleBackoff time.Duration
	bufferSize  int
	now         func() time.Time

	// opMu serializes Start and Stop.
	opMu sync.Mutex

	mu         sync.Mutex
	state      State
	generation uint64
	tunnel     Tunnel
	resolver   Resolver
	stop       chan struct{}
	done       chan struct{}
	startedAt  time.Time
	stats      Stats
	recent     *recentLog
	lastWarn   string
}

// New creates a stopped service.
func New(engine *filter.Engine, openTunnel TunnelOpener, newResolver ResolverFactory, opts Options) *Service {
	s := &Service{
		engine:      engine,
		openTunnel:  openTunnel,
		newResolver: newResolver,
		logCapacity: opts.LogCapacity,
		idleBackoff: opts.IdleBackoff,
		bufferSize:  opts.BufferSize,
		now:         opts.Now,
		state:       StateStopped,
	}
	if s.logCapacity <= 0 {
		s.logCapacity = DefaultLogCapacity
	}
	if s.idleBackoff <= 0 {
		s.idleBackoff = DefaultIdleBackoff
	}
	if s.bufferSize <= 0 {
		s.bufferSize = DefaultBufferSize
	}
	if s.now == nil {
		s.now = time.Now
	}
	s.recent = newRecentLog(s.logCapacity)
	return s
}

// Engine returns the filter engine used by the service.
func (s *Service) Engine() *filter.Engine {
	return s.engine
}

// State returns the current lifecycle state.
func (s *Service) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// IsRunning reports whether the worker is running.
func (s *Service) IsRunning() bool {
	return s.State() == StateRunning
}

// Start opens the resolver and the tunnel and spawns the worker. It does
// nothing if the service is already running. On failure everything opened so
// far is closed and the service stays stopped.
func (s *Service) Start(ctx context.Context) error {
	s.opMu.Lock()
	defer s.opMu.Unlock()

	s.mu.Lock()
	if s.state != StateStopped {
		s.mu.Unlock()
		log.Debugf("Filter service is already %s", s.state)
		return nil
	}
	s.state = StateStarting
	s.mu.Unlock()

	resolver, tunnel, err := s.open(ctx)
	if err != nil {
		s.setState(StateStopped)
		log.Errorf("Failed to start filter service: %v", err)
		return err
	}

	stop := make(chan struct{})
	done := make(chan struct{})

	s.mu.Lock()
	s.generation++
	gen := s.generation
	s.tunnel = tunnel
	s.resolver = resolver
	s.stop = stop
	s.done = done
	s.startedAt = s.now()
	s.stats = Stats{}
	s.recent.clear()
	s.state = StateRunning
	s.mu.Unlock()

	go s.run(gen, tunnel, resolver, stop, done)
	if r, ok := tunnel.(revocable); ok {
		go s.watchRevocation(gen, r.Revoked(), stop)
	}

	log.Infof("Filter service started (upstream %s)", resolver.Addr())
	return nil
}

// StartWithRules applies the rules and starts the service. A persistence
// failure is logged and does not prevent the start.
func (s *Service) StartWithRules(ctx context.Context, categories, domains, allowedDomains []string) error {
	if err := s.engine.UpdateFilterRules(categories, domains, allowedDomains); err != nil && !errors.HasCode(err, errors.ErrCodeStorage) {
		return err
	}
	return s.Start(ctx)
}

func (s *Service) open(ctx context.Context) (Resolver, Tunnel, error) {
	resolver, err := s.newResolver(ctx)
	if err != nil {
		return nil, nil, err
	}

	tunnel, err := s.openTunnel(ctx, resolver.Addr())
	if err != nil {
		if cerr := resolver.Close(); cerr != nil {
			log.Warnf("Failed to close upstream resolver: %v", cerr)
		}
		if !errors.HasCode(err, errors.ErrCodeTunnel) {
			err = errors.NewTunnelError("failed to open tunnel", err)
		}
		return nil, nil, err
	}
	return resolver, tunnel, nil
}

// Stop signals the worker, closes the tunnel and the resolver and waits for
// the worker to exit. Stopping a stopped service does nothing.
func (s *Service) Stop() error {
	s.opMu.Lock()
	defer s.opMu.Unlock()
	return s.stopLocked()
}

// stopGeneration stops the service only if it is still in the running period
// gen. Background goroutines use it so they never stop a later restart.
func (s *Service) stopGeneration(gen uint64) {
	s.opMu.Lock()
	defer s.opMu.Unlock()

	s.mu.Lock()
	current := s.generation
	s.mu.Unlock()
	if current != gen {
		return
	}
	if err := s.stopLocked(); err != nil {
		log.Warnf("Failed to release filter service resources: %v", err)
	}
}

func (s *Service) stopLocked() error {
	s.mu.Lock()
	if s.state != StateRunning {
		s.mu.Unlock()
		return nil
	}
	s.state = StateStopping
	stop, done := s.stop, s.done
	tunnel, resolver := s.tunnel, s.resolver
	s.mu.Unlock()

	log.Infof("Stopping filter service...")
	close(stop)

	var errs []error
	if err := tunnel.Close(); err != nil {
		errs = append(errs, fmt.Errorf("failed to close tunnel: %w", err))
	}
	if err := resolver.Close(); err != nil {
		errs = append(errs, fmt.Errorf("failed to close upstream resolver: %w", err))
	}
	<-done

	s.mu.Lock()
	s.tunnel = nil
	s.resolver = nil
	s.stop = nil
	s.done = nil
	s.startedAt = time.Time{}
	s.stats = Stats{}
	s.recent.clear()
	s.state = StateStopped
	s.mu.Unlock()

	log.Infof("Filter service stopped")
	return stderrors.Join(errs...)
}

func (s *Service) watchRevocation(gen uint64, revoked <-chan struct{}, stop <-chan struct{}) {
	select {
	case <-stop:
	case <-revoked:
		log.Warnf("Tunnel was revoked, stopping filter service")
		s.stopGeneration(gen)
	}
}

func (s *Service) setState(state State) {
	s.mu.Lock()
	s.state = state
	s.mu.Unlock()
}

// UpdateRules replaces the active rules. See filter.Engine.UpdateFilterRules.
func (s *Service) UpdateRules(categories, domains, allowedDomains []string) error {
	return s.engine.UpdateFilterRules(categories, domains, allowedDomains)
}

// ClearRules removes all rules.
func (s *Service) ClearRules() error {
	return s.engine.ClearAllRules()
}

// RecentLogs returns the recent queries, newest first.
func (s *Service) RecentLogs() []QueryLogEntry {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.recent.list()
}

// ClearRecentLogs empties the recent query log.
func (s *Service) ClearRecentLogs() {
	s.mu.Lock()
	s.recent.clear()
	s.mu.Unlock()
}

// RecordWarning stores message as the last warning shown in Status. It is
// meant to be installed with log.SetWarnHook.
func (s *Service) RecordWarning(message string) {
	s.mu.Lock()
	s.lastWarn = message
	s.mu.Unlock()
}

// Snapshot returns the current status.
func (s *Service) Snapshot() Status {
	s.mu.Lock()
	status := Status{
		IsRunning:      s.state == StateRunning,
		State:          s.state,
		Stats:          s.stats,
		RecentLogCount: s.recent.size(),
		LastWarning:    s.lastWarn,
	}
	if !s.startedAt.IsZero() {
		startedAt := s.startedAt
		status.StartedAt = &startedAt
	}
	if s.resolver != nil {
		status.Upstream = s.resolver.Addr().String()
	}
	s.mu.Unlock()

	status.CategoryCount = s.engine.BlockedCategoryCount()
	status.DomainCount = s.engine.BlockedDomainCount()
	status.AllowedCount = s.engine.AllowedDomainCount()
	if last := s.engine.LastUpdate(); !last.IsZero() {
		status.LastRuleUpdateAt = &last
	}
	return status
}
