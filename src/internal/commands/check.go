package commands

import (
	"context"
	"flag"
	"fmt"
	"net"
	"time"

	"github.com/miekg/dns"

	"github.com/maksimkurb/keen-dnsfilter/src/internal/config"
	"github.com/maksimkurb/keen-dnsfilter/src/internal/log"
	"github.com/maksimkurb/keen-dnsfilter/src/internal/networking"
	"github.com/maksimkurb/keen-dnsfilter/src/internal/tunnel"
	"github.com/maksimkurb/keen-dnsfilter/src/internal/upstream"
)

func CreateCheckCommand() *CheckCommand {
	cc := &CheckCommand{
		fs: flag.NewFlagSet("check", flag.ExitOnError),
	}
	cc.fs.StringVar(&cc.Domain, "domain", "example.com", "Domain to query the upstream resolver for")
	return cc
}

// CheckCommand queries the upstream resolver through the bypass mark and
// reports whether the tunnel routing is installed.
type CheckCommand struct {
	fs     *flag.FlagSet
	cfg    *config.Config
	Domain string
}

func (c *CheckCommand) Name() string {
	return c.fs.Name()
}

func (c *CheckCommand) Init(args []string, ctx *AppContext) error {
	if err := c.fs.Parse(args); err != nil {
		return err
	}

	cfg, err := loadAndValidateConfigOrFail(ctx.ConfigPath)
	if err != nil {
		return err
	}
	c.cfg = cfg
	return nil
}

func (c *CheckCommand) Run() error {
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	upCfg := upstreamConfig(c.cfg)
	ip, err := upstream.ResolveHost(ctx, upCfg.Host, upCfg.BypassMark)
	if err != nil {
		log.Errorf("Failed to resolve upstream %s: %v", upCfg.Host, err)
		return err
	}
	addr := &net.UDPAddr{IP: ip, Port: int(upCfg.Port)}

	failures := 0
	if err := probeUpstream(ctx, addr, c.Domain, upCfg); err != nil {
		log.Errorf("Upstream %s: FAIL: %v", addr, err)
		failures++
	}

	ok, err := checkRouting(c.cfg, addr)
	if err != nil {
		return err
	}
	if !ok {
		failures++
	}

	if failures > 0 {
		return fmt.Errorf("%d check(s) failed", failures)
	}
	log.Infof("All checks passed")
	return nil
}

// probeUpstream sends one A query to addr over a socket carrying the bypass mark.
func probeUpstream(ctx context.Context, addr *net.UDPAddr, domain string, cfg upstream.Config) error {
	client := &dns.Client{
		Net:     "udp",
		Dialer:  upstream.Dialer(cfg.BypassMark),
		Timeout: cfg.Timeout,
	}

	msg := new(dns.Msg)
	msg.SetQuestion(dns.Fqdn(domain), dns.TypeA)

	resp, rtt, err := client.ExchangeContext(ctx, msg, addr.String())
	if err != nil {
		return err
	}
	if resp.Rcode != dns.RcodeSuccess {
		return fmt.Errorf("%s answered %s", addr, dns.RcodeToString[resp.Rcode])
	}

	log.Infof("Upstream %s: OK, %s has %d answer(s) (%v)", addr, domain, len(resp.Answer), rtt)
	for _, rr := range resp.Answer {
		log.Debugf("  %s", rr)
	}
	return nil
}

// checkRouting reports the presence of every routing component of the tunnel.
func checkRouting(cfg *config.Config, addr *net.UDPAddr) (bool, error) {
	opts, err := tunnel.OptionsFromConfig(cfg, addr)
	if err != nil {
		return false, err
	}

	linkIndex := 0
	if iface, err := networking.GetInterface(opts.Name); err != nil {
		log.Warnf("Tunnel interface %s: MISSING (is the service running?)", opts.Name)
	} else {
		state := "DOWN"
		if iface.IsUp() {
			state = "UP"
		}
		log.Infof("Tunnel interface %s: present, %s", opts.Name, state)
		linkIndex = iface.Index()
	}

	routing, err := tunnel.RoutingManager(opts, linkIndex)
	if err != nil {
		return false, err
	}

	ok := true
	for _, status := range routing.Check() {
		switch {
		case status.Error != "":
			ok = false
			log.Errorf("%s: ERROR: %s", status.Description, status.Error)
		case status.Exists:
			log.Infof("%s: OK", status.Description)
		default:
			ok = false
			log.Warnf("%s: MISSING. Expected: %s", status.Description, status.Command)
		}
	}
	return ok, nil
}
