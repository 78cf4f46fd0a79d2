package commands

import (
	"context"
	"fmt"
	"net"

	"github.com/maksimkurb/keen-dnsfilter/src/internal/config"
	"github.com/maksimkurb/keen-dnsfilter/src/internal/filter"
	"github.com/maksimkurb/keen-dnsfilter/src/internal/filterloop"
	"github.com/maksimkurb/keen-dnsfilter/src/internal/tunnel"
	"github.com/maksimkurb/keen-dnsfilter/src/internal/upstream"
)

type Runner interface {
	Init(args []string, globalArgs *AppContext) error
	Run() error
	Name() string
}

type AppContext struct {
	ConfigPath string
	Verbose    bool
	Version    string
	Commit     string
	Date       string
}

// loadAndValidateConfigOrFail loads configuration from file and validates it.
func loadAndValidateConfigOrFail(configPath string) (*config.Config, error) {
	cfg, err := config.LoadConfig(configPath)
	if err != nil {
		return nil, fmt.Errorf("failed to load configuration: %v", err)
	}

	if err := cfg.ValidateConfig(); err != nil {
		return nil, fmt.Errorf("configuration validation failed: %v", err)
	}

	return cfg, nil
}

func upstreamConfig(cfg *config.Config) upstream.Config {
	return upstream.Config{
		Host:       cfg.Upstream.UpstreamHost(),
		Port:       cfg.Upstream.Port,
		Timeout:    cfg.Upstream.Timeout(),
		BypassMark: cfg.Tunnel.BypassFwMark,
	}
}

// newFilterService wires the filter loop to the Linux tunnel and the marked
// upstream socket described by cfg.
func newFilterService(cfg *config.Config, engine *filter.Engine) *filterloop.Service {
	openTunnel := func(ctx context.Context, upstreamAddr *net.UDPAddr) (filterloop.Tunnel, error) {
		opts, err := tunnel.OptionsFromConfig(cfg, upstreamAddr)
		if err != nil {
			return nil, err
		}
		device, err := tunnel.Open(ctx, opts)
		if err != nil {
			return nil, err
		}
		return device, nil
	}

	newResolver := func(ctx context.Context) (filterloop.Resolver, error) {
		resolver, err := upstream.New(ctx, upstreamConfig(cfg))
		if err != nil {
			return nil, err
		}
		return resolver, nil
	}

	return filterloop.New(engine, openTunnel, newResolver, filterloop.Options{
		LogCapacity: cfg.General.RecentLogCapacity,
	})
}

// configRules returns the [filter] rules of cfg and whether any are set.
func configRules(cfg *config.Config) (categories, domains, allowed []string, ok bool) {
	if cfg.Filter == nil {
		return nil, nil, nil, false
	}
	f := cfg.Filter
	ok = len(f.Categories) > 0 || len(f.Domains) > 0 || len(f.AllowedDomains) > 0
	return f.Categories, f.Domains, f.AllowedDomains, ok
}
