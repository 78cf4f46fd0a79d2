package filterloop

import (
	"context"
	"net"
	"time"
)

// State is the lifecycle state of a Service.
type State string

const (
	StateStopped  State = "stopped"
	StateStarting State = "starting"
	StateRunning  State = "running"
	StateStopping State = "stopping"
)

// Outcome is how a query was answered.
type Outcome string

const (
	OutcomeAllowed Outcome = "allowed"
	OutcomeBlocked Outcome = "blocked"
	// OutcomeUpstreamFailed queries got the blocked answer because the
	// upstream resolver did not reply.
	OutcomeUpstreamFailed Outcome = "upstream_failed"
)

// Tunnel carries raw IPv4 packets. Close must unblock a pending Read.
type Tunnel interface {
	Read(p []byte) (int, error)
	Write(p []byte) (int, error)
	Close() error
}

// revocable is implemented by tunnels that can be taken away by the host.
type revocable interface {
	Revoked() <-chan struct{}
}

// Resolver forwards a raw DNS query and returns the raw reply.
type Resolver interface {
	Forward(query []byte) ([]byte, error)
	Addr() *net.UDPAddr
	Close() error
}

// TunnelOpener opens the tunnel once the upstream address is known.
type TunnelOpener func(ctx context.Context, upstream *net.UDPAddr) (Tunnel, error)

// ResolverFactory opens the upstream resolver.
type ResolverFactory func(ctx context.Context) (Resolver, error)

// QueryLogEntry records one answered query.
type QueryLogEntry struct {
	Domain      string  `json:"domain"`
	Blocked     bool    `json:"blocked"`
	MatchedRule string  `json:"matched_rule,omitempty"`
	Outcome     Outcome `json:"outcome"`
	TimestampMs int64   `json:"timestamp_ms"`
}

// Stats are cumulative counters for the current running period.
type Stats struct {
	Processed        uint64 `json:"processed"`
	Blocked          uint64 `json:"blocked"`
	Allowed          uint64 `json:"allowed"`
	UpstreamFailures uint64 `json:"upstream_failures"`
	// Dropped counts packets that got no reply.
	Dropped uint64 `json:"dropped"`
}

// Status is a point-in-time view of the service.
type Status struct {
	IsRunning bool  `json:"is_running"`
	State     State `json:"state"`
	Stats

	CategoryCount int `json:"category_count"`
	DomainCount   int `json:"domain_count"`
	AllowedCount  int `json:"allowed_count"`

	StartedAt        *time.Time `json:"started_at,omitempty"`
	LastRuleUpdateAt *time.Time `json:"last_rule_update_at,omitempty"`
	RecentLogCount   int        `json:"recent_log_count"`
	Upstream         string     `json:"upstream,omitempty"`
	LastWarning      string     `json:"last_warning,omitempty"`
}
