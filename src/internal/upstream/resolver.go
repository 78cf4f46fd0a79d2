// Package upstream forwards raw DNS queries to a single upstream resolver
// over one UDP socket that is marked to bypass the filtering tunnel.
package upstream

import (
	"context"
	"fmt"
	"net"
	"strconv"
	"sync"
	"sync/atomic"
	"time"

	"github.com/miekg/dns"

	"github.com/maksimkurb/keen-dnsfilter/src/internal/errors"
	"github.com/maksimkurb/keen-dnsfilter/src/internal/log"
)

const (
	// DefaultHost is used when the configured host is blank.
	DefaultHost = "1.1.1.1"
	// DefaultTimeout bounds the wait for one reply.
	DefaultTimeout = 5000 * time.Millisecond

	defaultPort     = 53
	resolveTimeout  = 5 * time.Second
	maxResponseSize = dns.MaxMsgSize
)

// Config describes the upstream resolver and how to reach it.
type Config struct {
	Host    string
	Port    uint16
	Timeout time.Duration
	// BypassMark is applied with SO_MARK so the socket's traffic skips the
	// tunnel route. Zero leaves the socket unmarked.
	BypassMark uint32
}

// Resolver forwards queries over one connected UDP socket. Forward calls are
// serialized; there is no transaction ID matching.
type Resolver struct {
	mu      sync.Mutex
	conn    net.Conn
	addr    *net.UDPAddr
	timeout time.Duration
	buf     []byte

	closed atomic.Bool
}

// New resolves the upstream host and opens the bypass socket. Hostnames are
// resolved with the system nameservers over sockets carrying the same mark.
func New(ctx context.Context, cfg Config) (*Resolver, error) {
	host := cfg.Host
	if host == "" {
		host = DefaultHost
	}
	port := cfg.Port
	if port == 0 {
		port = defaultPort
	}
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = DefaultTimeout
	}

	ip, err := ResolveHost(ctx, host, cfg.BypassMark)
	if err != nil {
		return nil, errors.NewUpstreamError(fmt.Sprintf("failed to resolve upstream host %s", host), err)
	}
	addr := &net.UDPAddr{IP: ip, Port: int(port)}

	conn, err := Dialer(cfg.BypassMark).DialContext(ctx, "udp4", addr.String())
	if err != nil {
		return nil, errors.NewUpstreamError(fmt.Sprintf("failed to open upstream socket to %s", addr), err)
	}

	log.Infof("Upstream resolver: %s (timeout %v, bypass mark %#x)", addr, timeout, cfg.BypassMark)
	return &Resolver{
		conn:    conn,
		addr:    addr,
		timeout: timeout,
		buf:     make([]byte, maxResponseSize),
	}, nil
}

// Addr returns the resolved upstream address.
func (r *Resolver) Addr() *net.UDPAddr {
	return r.addr
}

// Forward sends query and returns the first datagram received within the
// timeout, verbatim. Timeouts and I/O errors are returned as UPSTREAM_ERROR.
func (r *Resolver) Forward(query []byte) ([]byte, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.closed.Load() {
		return nil, errors.New(errors.ErrCodeUpstream, "upstream resolver is closed")
	}

	if log.IsVerbose() {
		logQuery(query, r.addr)
	}

	if err := r.conn.SetDeadline(time.Now().Add(r.timeout)); err != nil {
		return nil, errors.NewUpstreamError("failed to set upstream deadline", err)
	}
	if _, err := r.conn.Write(query); err != nil {
		return nil, errors.NewUpstreamError("failed to send query upstream", err)
	}

	n, err := r.conn.Read(r.buf)
	if err != nil {
		if ne, ok := err.(net.Error); ok && ne.Timeout() {
			return nil, errors.NewUpstreamError(fmt.Sprintf("upstream %s timed out after %v", r.addr, r.timeout), err)
		}
		return nil, errors.NewUpstreamError("failed to read upstream reply", err)
	}

	out := make([]byte, n)
	copy(out, r.buf[:n])
	return out, nil
}

// Close closes the socket and unblocks a pending Forward. It is idempotent.
func (r *Resolver) Close() error {
	if r.closed.Swap(true) {
		return nil
	}
	return r.conn.Close()
}

// Dialer returns a dialer whose sockets carry mark. Zero leaves them unmarked.
func Dialer(mark uint32) *net.Dialer {
	return &net.Dialer{Control: markControl(mark)}
}

// ResolveHost resolves host to an IPv4 address over sockets carrying mark.
func ResolveHost(ctx context.Context, host string, mark uint32) (net.IP, error) {
	if ip := net.ParseIP(host); ip != nil {
		if v4 := ip.To4(); v4 != nil {
			return v4, nil
		}
		return nil, fmt.Errorf("upstream %s is not an IPv4 address", host)
	}

	resolver := &net.Resolver{
		PreferGo: true,
		Dial: func(ctx context.Context, network, address string) (net.Conn, error) {
			return Dialer(mark).DialContext(ctx, network, address)
		},
	}

	ctx, cancel := context.WithTimeout(ctx, resolveTimeout)
	defer cancel()

	ips, err := resolver.LookupIP(ctx, "ip4", host)
	if err != nil {
		return nil, err
	}
	if len(ips) == 0 {
		return nil, fmt.Errorf("no IPv4 address for %s", host)
	}
	return ips[0].To4(), nil
}

func logQuery(query []byte, addr *net.UDPAddr) {
	var msg dns.Msg
	if err := msg.Unpack(query); err != nil || len(msg.Question) == 0 {
		log.Debugf("Forwarding %d-byte query to %s", len(query), addr)
		return
	}
	q := msg.Question[0]
	log.Debugf("[%04x] Querying upstream %s for %s %s", msg.Id, addr, q.Name, dns.TypeToString[q.Qtype])
}

// HostPort joins host and port, defaulting blank values.
func HostPort(host string, port uint16) string {
	if host == "" {
		host = DefaultHost
	}
	if port == 0 {
		port = defaultPort
	}
	return net.JoinHostPort(host, strconv.Itoa(int(port)))
}
