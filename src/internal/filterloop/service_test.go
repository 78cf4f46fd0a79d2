package filterloop

import (
	"context"
	stderrors "errors"
	"net"
	"os"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
	"github.com/google/gopacket"
	"github.com/google/gopacket/layers"
	"github.com/miekg/dns"

	"github.com/maksimkurb/keen-dnsfilter/src/internal/errors"
	"github.com/maksimkurb/keen-dnsfilter/src/internal/filter"
	"github.com/maksimkurb/keen-dnsfilter/src/internal/log"
	"github.com/maksimkurb/keen-dnsfilter/src/internal/packet"
)

func init() {
	log.DisableLogs()
}

var upstreamAddr = &net.UDPAddr{IP: net.IPv4(1, 1, 1, 1).To4(), Port: 53}

type fakeTunnel struct {
	in      chan []byte
	out     chan []byte
	closed  chan struct{}
	once    sync.Once
	revoked chan struct{}
	readErr error
}

func newFakeTunnel() *fakeTunnel {
	return &fakeTunnel{
		in:      make(chan []byte, 16),
		out:     make(chan []byte, 16),
		closed:  make(chan struct{}),
		revoked: make(chan struct{}),
	}
}

func (f *fakeTunnel) Read(p []byte) (int, error) {
	select {
	case b, ok := <-f.in:
		if !ok {
			return 0, f.readErr
		}
		return copy(p, b), nil
	case <-f.closed:
		return 0, os.ErrClosed
	}
}

func (f *fakeTunnel) Write(p []byte) (int, error) {
	b := make([]byte, len(p))
	copy(b, p)
	f.out <- b
	return len(p), nil
}

func (f *fakeTunnel) Close() error {
	f.once.Do(func() { close(f.closed) })
	return nil
}

func (f *fakeTunnel) isClosed() bool {
	select {
	case <-f.closed:
		return true
	default:
		return false
	}
}

type revocableTunnel struct {
	*fakeTunnel
}

func (r revocableTunnel) Revoked() <-chan struct{} {
	return r.revoked
}

type fakeResolver struct {
	forward func(query []byte) ([]byte, error)
	closed  atomic.Bool
}

func (f *fakeResolver) Forward(query []byte) ([]byte, error) {
	return f.forward(query)
}

func (f *fakeResolver) Addr() *net.UDPAddr { return upstreamAddr }

func (f *fakeResolver) Close() error {
	f.closed.Store(true)
	return nil
}

// answerWith replies to every query with a single A record.
func answerWith(ip string) func([]byte) ([]byte, error) {
	return func(query []byte) ([]byte, error) {
		var req dns.Msg
		if err := req.Unpack(query); err != nil {
			return nil, err
		}
		resp := new(dns.Msg)
		resp.SetReply(&req)
		rr, err := dns.NewRR(req.Question[0].Name + " 60 IN A " + ip)
		if err != nil {
			return nil, err
		}
		resp.Answer = append(resp.Answer, rr)
		return resp.Pack()
	}
}

func timeoutForward([]byte) ([]byte, error) {
	return nil, errors.NewUpstreamError("upstream timed out", os.ErrDeadlineExceeded)
}

type harness struct {
	svc      *Service
	tunnel   *fakeTunnel
	resolver *fakeResolver
	opens    atomic.Int32
}

func newHarness(t *testing.T, forward func([]byte) ([]byte, error), opts Options) *harness {
	t.Helper()
	engine := filter.NewEngine(nil)
	if err := engine.UpdateFilterRules([]string{"social-networks"}, []string{"example.com"}, nil); err != nil {
		t.Fatalf("UpdateFilterRules() error = %v", err)
	}

	h := &harness{
		tunnel:   newFakeTunnel(),
		resolver: &fakeResolver{forward: forward},
	}
	h.svc = New(engine,
		func(ctx context.Context, upstream *net.UDPAddr) (Tunnel, error) {
			h.opens.Add(1)
			return h.tunnel, nil
		},
		func(ctx context.Context) (Resolver, error) {
			return h.resolver, nil
		},
		opts,
	)
	t.Cleanup(func() { _ = h.svc.Stop() })
	return h
}

func buildQuery(t *testing.T, name string) (raw []byte, payload []byte) {
	t.Helper()
	m := new(dns.Msg)
	m.SetQuestion(dns.Fqdn(name), dns.TypeA)
	m.Id = 0x1234
	payload, err := m.Pack()
	if err != nil {
		t.Fatalf("Pack() error = %v", err)
	}

	ip := &layers.IPv4{
		Version:  4,
		TTL:      64,
		Protocol: layers.IPProtocolUDP,
		SrcIP:    net.IPv4(10, 53, 0, 2).To4(),
		DstIP:    upstreamAddr.IP,
	}
	udp := &layers.UDP{SrcPort: 41000, DstPort: 53}
	if err := udp.SetNetworkLayerForChecksum(ip); err != nil {
		t.Fatalf("SetNetworkLayerForChecksum() error = %v", err)
	}
	buf := gopacket.NewSerializeBuffer()
	opts := gopacket.SerializeOptions{FixLengths: true, ComputeChecksums: true}
	if err := gopacket.SerializeLayers(buf, opts, ip, udp, gopacket.Payload(payload)); err != nil {
		t.Fatalf("SerializeLayers() error = %v", err)
	}
	return buf.Bytes(), payload
}

// tunnelReply is a reply frame written by the service, decoded with gopacket.
type tunnelReply struct {
	SourceIP   [4]byte
	DestIP     [4]byte
	SourcePort uint16
	DestPort   uint16
	Payload    []byte
}

// exchange feeds raw to the tunnel and decodes the reply. Every reply must be
// addressed back to the client that sent buildQuery's packet.
func (h *harness) exchange(t *testing.T, raw []byte) *tunnelReply {
	t.Helper()
	h.tunnel.in <- raw

	var frame []byte
	select {
	case frame = <-h.tunnel.out:
	case <-time.After(2 * time.Second):
		t.Fatal("no reply written to tunnel")
	}

	pkt := gopacket.NewPacket(frame, layers.LayerTypeIPv4, gopacket.Default)
	ip, ok := pkt.Layer(layers.LayerTypeIPv4).(*layers.IPv4)
	if !ok {
		t.Fatalf("reply is not an IPv4 packet: %v", pkt.ErrorLayer())
	}
	udp, ok := pkt.Layer(layers.LayerTypeUDP).(*layers.UDP)
	if !ok {
		t.Fatalf("reply does not carry UDP: %v", pkt.ErrorLayer())
	}

	reply := &tunnelReply{
		SourcePort: uint16(udp.SrcPort),
		DestPort:   uint16(udp.DstPort),
		Payload:    udp.Payload,
	}
	copy(reply.SourceIP[:], ip.SrcIP.To4())
	copy(reply.DestIP[:], ip.DstIP.To4())

	if reply.SourceIP != [4]byte{1, 1, 1, 1} || reply.DestIP != [4]byte{10, 53, 0, 2} {
		t.Errorf("reply addressed %v -> %v, want 1.1.1.1 -> 10.53.0.2", reply.SourceIP, reply.DestIP)
	}
	if reply.SourcePort != 53 || reply.DestPort != 41000 {
		t.Errorf("reply ports %d -> %d, want 53 -> 41000", reply.SourcePort, reply.DestPort)
	}
	return reply
}

func waitFor(t *testing.T, what string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("timed out waiting for %s", what)
}

func TestService_BlockedQuery(t *testing.T) {
	h := newHarness(t, answerWith("93.184.216.34"), Options{})
	if err := h.svc.Start(context.Background()); err != nil {
		t.Fatalf("Start() error = %v", err)
	}

	raw, payload := buildQuery(t, "sub.facebook.com")
	reply := h.exchange(t, raw)

	if diff := cmp.Diff(packet.BuildBlockedResponse(payload), reply.Payload); diff != "" {
		t.Errorf("reply payload mismatch (-want +got):\n%s", diff)
	}

	status := h.svc.Snapshot()
	if status.Processed != 1 || status.Blocked != 1 || status.Allowed != 0 {
		t.Errorf("stats = %+v, want 1 processed and 1 blocked", status.Stats)
	}

	want := []QueryLogEntry{{Domain: "sub.facebook.com", Blocked: true, MatchedRule: "facebook.com", Outcome: OutcomeBlocked}}
	got := h.svc.RecentLogs()
	for i := range got {
		got[i].TimestampMs = 0
	}
	if diff := cmp.Diff(want, got); diff != "" {
		t.Errorf("RecentLogs() mismatch (-want +got):\n%s", diff)
	}
}

func TestService_AllowedQueryIsForwarded(t *testing.T) {
	h := newHarness(t, answerWith("93.184.216.34"), Options{})
	if err := h.svc.Start(context.Background()); err != nil {
		t.Fatalf("Start() error = %v", err)
	}

	raw, _ := buildQuery(t, "example.org")
	reply := h.exchange(t, raw)

	var msg dns.Msg
	if err := msg.Unpack(reply.Payload); err != nil {
		t.Fatalf("Unpack() error = %v", err)
	}
	if len(msg.Answer) != 1 {
		t.Fatalf("got %d answers, want 1", len(msg.Answer))
	}
	if a, ok := msg.Answer[0].(*dns.A); !ok || a.A.String() != "93.184.216.34" {
		t.Errorf("answer = %v, want A 93.184.216.34", msg.Answer[0])
	}

	status := h.svc.Snapshot()
	if status.Allowed != 1 || status.Blocked != 0 {
		t.Errorf("stats = %+v, want 1 allowed", status.Stats)
	}
}

func TestService_UpstreamTimeoutAnswersLikeBlock(t *testing.T) {
	h := newHarness(t, timeoutForward, Options{})
	if err := h.svc.Start(context.Background()); err != nil {
		t.Fatalf("Start() error = %v", err)
	}

	raw, payload := buildQuery(t, "example.org")
	failed := h.exchange(t, raw)

	// The same query, blocked by policy, must produce the same bytes.
	if err := h.svc.UpdateRules(nil, []string{"example.org"}, nil); err != nil {
		t.Fatalf("UpdateRules() error = %v", err)
	}
	blocked := h.exchange(t, raw)

	if diff := cmp.Diff(blocked.Payload, failed.Payload); diff != "" {
		t.Errorf("upstream failure reply differs from block reply (-blocked +failed):\n%s", diff)
	}
	if diff := cmp.Diff(packet.BuildBlockedResponse(payload), failed.Payload); diff != "" {
		t.Errorf("reply payload mismatch (-want +got):\n%s", diff)
	}

	status := h.svc.Snapshot()
	if status.UpstreamFailures != 1 || status.Blocked != 1 || status.Processed != 2 {
		t.Errorf("stats = %+v, want 1 upstream failure and 1 block", status.Stats)
	}
	logs := h.svc.RecentLogs()
	if len(logs) != 2 || logs[1].Outcome != OutcomeUpstreamFailed || !logs[1].Blocked {
		t.Errorf("RecentLogs() = %+v, want oldest entry upstream_failed", logs)
	}
}

func TestService_MalformedPacketIsDropped(t *testing.T) {
	h := newHarness(t, answerWith("1.2.3.4"), Options{})
	if err := h.svc.Start(context.Background()); err != nil {
		t.Fatalf("Start() error = %v", err)
	}

	h.tunnel.in <- []byte{0x45, 0x00, 0x00}
	waitFor(t, "drop counter", func() bool { return h.svc.Snapshot().Dropped == 1 })

	select {
	case reply := <-h.tunnel.out:
		t.Errorf("unexpected reply for malformed packet: %x", reply)
	default:
	}
	if n := len(h.svc.RecentLogs()); n != 0 {
		t.Errorf("RecentLogs() has %d entries, want 0", n)
	}
}

func TestService_PanicDropsOnlyThatPacket(t *testing.T) {
	var calls atomic.Int32
	forward := func(query []byte) ([]byte, error) {
		if calls.Add(1) == 1 {
			panic("boom")
		}
		return answerWith("1.2.3.4")(query)
	}
	h := newHarness(t, forward, Options{})
	if err := h.svc.Start(context.Background()); err != nil {
		t.Fatalf("Start() error = %v", err)
	}

	raw, _ := buildQuery(t, "example.org")
	h.tunnel.in <- raw
	waitFor(t, "drop counter", func() bool { return h.svc.Snapshot().Dropped == 1 })

	h.exchange(t, raw)
	if !h.svc.IsRunning() {
		t.Error("service stopped after a panic")
	}
}

func TestService_ZeroLengthReadsAreRetried(t *testing.T) {
	h := newHarness(t, answerWith("1.2.3.4"), Options{IdleBackoff: time.Millisecond})
	if err := h.svc.Start(context.Background()); err != nil {
		t.Fatalf("Start() error = %v", err)
	}

	h.tunnel.in <- []byte{}
	h.tunnel.in <- []byte{}
	raw, _ := buildQuery(t, "example.org")
	h.exchange(t, raw)

	if got := h.svc.Snapshot(); got.Processed != 1 || got.Dropped != 0 {
		t.Errorf("stats = %+v, want 1 processed and nothing dropped", got.Stats)
	}
}

func TestService_RecentLogCapacity(t *testing.T) {
	h := newHarness(t, answerWith("1.2.3.4"), Options{LogCapacity: 3})
	if err := h.svc.Start(context.Background()); err != nil {
		t.Fatalf("Start() error = %v", err)
	}

	names := []string{"a.org", "b.org", "c.org", "d.org", "e.org"}
	for _, name := range names {
		raw, _ := buildQuery(t, name)
		h.exchange(t, raw)
	}

	var got []string
	for _, e := range h.svc.RecentLogs() {
		got = append(got, e.Domain)
	}
	if diff := cmp.Diff([]string{"e.org", "d.org", "c.org"}, got); diff != "" {
		t.Errorf("RecentLogs() mismatch (-want +got):\n%s", diff)
	}
	if status := h.svc.Snapshot(); status.Processed != 5 || status.RecentLogCount != 3 {
		t.Errorf("Processed = %d, RecentLogCount = %d, want 5 and 3", status.Processed, status.RecentLogCount)
	}

	h.svc.ClearRecentLogs()
	if n := len(h.svc.RecentLogs()); n != 0 {
		t.Errorf("RecentLogs() after clear has %d entries", n)
	}
}

func TestService_StartStopIdempotent(t *testing.T) {
	h := newHarness(t, answerWith("1.2.3.4"), Options{})

	if err := h.svc.Stop(); err != nil {
		t.Errorf("Stop() on stopped service error = %v", err)
	}
	for i := 0; i < 3; i++ {
		if err := h.svc.Start(context.Background()); err != nil {
			t.Fatalf("Start() #%d error = %v", i, err)
		}
	}
	if n := h.opens.Load(); n != 1 {
		t.Errorf("tunnel opened %d times, want 1", n)
	}

	status := h.svc.Snapshot()
	if !status.IsRunning || status.State != StateRunning || status.StartedAt == nil {
		t.Errorf("Snapshot() = %+v, want running with StartedAt", status)
	}
	if status.Upstream != "1.1.1.1:53" {
		t.Errorf("Upstream = %q, want 1.1.1.1:53", status.Upstream)
	}

	if err := h.svc.Stop(); err != nil {
		t.Fatalf("Stop() error = %v", err)
	}
	if err := h.svc.Stop(); err != nil {
		t.Errorf("second Stop() error = %v", err)
	}

	if !h.tunnel.isClosed() {
		t.Error("tunnel was not closed")
	}
	if !h.resolver.closed.Load() {
		t.Error("resolver was not closed")
	}
	status = h.svc.Snapshot()
	if status.IsRunning || status.State != StateStopped || status.StartedAt != nil || status.Processed != 0 {
		t.Errorf("Snapshot() after Stop() = %+v", status)
	}
}

func TestService_ConcurrentStarts(t *testing.T) {
	h := newHarness(t, answerWith("1.2.3.4"), Options{})

	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_ = h.svc.Start(context.Background())
		}()
	}
	wg.Wait()

	if n := h.opens.Load(); n != 1 {
		t.Errorf("tunnel opened %d times, want 1", n)
	}
}

func TestService_StartResetsStats(t *testing.T) {
	h := newHarness(t, answerWith("1.2.3.4"), Options{})
	if err := h.svc.Start(context.Background()); err != nil {
		t.Fatalf("Start() error = %v", err)
	}
	raw, _ := buildQuery(t, "example.org")
	h.exchange(t, raw)
	if err := h.svc.Stop(); err != nil {
		t.Fatalf("Stop() error = %v", err)
	}

	h.tunnel = newFakeTunnel()
	if err := h.svc.Start(context.Background()); err != nil {
		t.Fatalf("restart error = %v", err)
	}
	if got := h.svc.Snapshot(); got.Processed != 0 || got.RecentLogCount != 0 {
		t.Errorf("stats after restart = %+v, want zero", got)
	}
}

func TestService_TunnelFailureAbortsStart(t *testing.T) {
	resolver := &fakeResolver{forward: timeoutForward}
	svc := New(filter.NewEngine(nil),
		func(ctx context.Context, upstream *net.UDPAddr) (Tunnel, error) {
			return nil, stderrors.New("operation not permitted")
		},
		func(ctx context.Context) (Resolver, error) { return resolver, nil },
		Options{},
	)

	err := svc.Start(context.Background())
	if !errors.HasCode(err, errors.ErrCodeTunnel) {
		t.Errorf("Start() error = %v, want TUNNEL_ERROR", err)
	}
	if svc.State() != StateStopped {
		t.Errorf("State() = %s, want stopped", svc.State())
	}
	if !resolver.closed.Load() {
		t.Error("resolver was not closed after failed start")
	}
}

func TestService_ResolverFailureAbortsStart(t *testing.T) {
	var opened bool
	svc := New(filter.NewEngine(nil),
		func(ctx context.Context, upstream *net.UDPAddr) (Tunnel, error) {
			opened = true
			return newFakeTunnel(), nil
		},
		func(ctx context.Context) (Resolver, error) {
			return nil, errors.NewUpstreamError("no such host", nil)
		},
		Options{},
	)

	if err := svc.Start(context.Background()); !errors.HasCode(err, errors.ErrCodeUpstream) {
		t.Errorf("Start() error = %v, want UPSTREAM_ERROR", err)
	}
	if opened {
		t.Error("tunnel opened although the resolver failed")
	}
	if svc.IsRunning() {
		t.Error("IsRunning() = true after failed start")
	}
}

func TestService_RevocationStops(t *testing.T) {
	h := newHarness(t, answerWith("1.2.3.4"), Options{})
	tunnel := h.tunnel
	h.svc.openTunnel = func(ctx context.Context, upstream *net.UDPAddr) (Tunnel, error) {
		return revocableTunnel{tunnel}, nil
	}
	if err := h.svc.Start(context.Background()); err != nil {
		t.Fatalf("Start() error = %v", err)
	}

	close(tunnel.revoked)
	waitFor(t, "stop after revocation", func() bool { return h.svc.State() == StateStopped })

	if !tunnel.isClosed() || !h.resolver.closed.Load() {
		t.Error("resources not released after revocation")
	}
}

func TestService_ReadFaultStops(t *testing.T) {
	h := newHarness(t, answerWith("1.2.3.4"), Options{})
	if err := h.svc.Start(context.Background()); err != nil {
		t.Fatalf("Start() error = %v", err)
	}

	h.tunnel.readErr = stderrors.New("input/output error")
	close(h.tunnel.in)
	waitFor(t, "stop after read fault", func() bool { return h.svc.State() == StateStopped })

	if !h.resolver.closed.Load() {
		t.Error("resolver not closed after read fault")
	}
}

func TestService_WarningsReachStatus(t *testing.T) {
	h := newHarness(t, answerWith("1.2.3.4"), Options{})
	log.SetWarnHook(h.svc.RecordWarning)
	defer log.SetWarnHook(nil)

	log.Warnf("Failed to persist rules: %s", "disk full")

	if got := h.svc.Snapshot().LastWarning; got != "Failed to persist rules: disk full" {
		t.Errorf("LastWarning = %q", got)
	}
}

func TestService_SnapshotRuleCounts(t *testing.T) {
	h := newHarness(t, answerWith("1.2.3.4"), Options{})

	status := h.svc.Snapshot()
	if status.CategoryCount != 1 || status.DomainCount != 9 || status.LastRuleUpdateAt == nil {
		t.Errorf("Snapshot() = %+v, want 1 category and 9 domains", status)
	}

	if err := h.svc.ClearRules(); err != nil {
		t.Fatalf("ClearRules() error = %v", err)
	}
	if status := h.svc.Snapshot(); status.CategoryCount != 0 || status.DomainCount != 0 {
		t.Errorf("Snapshot() after ClearRules() = %+v", status)
	}
}
