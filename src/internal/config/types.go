package config

import (
	"net"
	"path/filepath"
	"time"

	"github.com/maksimkurb/keen-dnsfilter/src/internal/utils"
)

type Config struct {
	// General holds general configuration.
	General *GeneralConfig `toml:"general"`
	// Tunnel describes the TUN interface that receives DNS queries.
	Tunnel *TunnelConfig `toml:"tunnel"`
	// Upstream is the resolver used for queries that are not blocked.
	Upstream *UpstreamConfig `toml:"upstream"`
	// Capture redirects all outgoing DNS traffic into the tunnel with iptables.
	Capture *CaptureConfig `toml:"capture"`
	// API is the local HTTP control and status endpoint.
	API *APIConfig `toml:"api"`
	// Filter holds the rules applied when the service starts or the config is reloaded.
	Filter *FilterConfig `toml:"filter"`

	_absConfigFilePath string
}

type GeneralConfig struct {
	// RuleStorePath is the SQLite file with persisted categories and domains (relative to the config directory).
	RuleStorePath string `toml:"rule_store_path" json:"rule_store_path" validate:"required"`
	// RecentLogCapacity is the number of recent queries kept in memory (default: 120).
	RecentLogCapacity int `toml:"recent_log_capacity" json:"recent_log_capacity" validate:"min=1,max=100000"`
	// Verbose enables debug logging.
	Verbose bool `toml:"verbose" json:"verbose"`
}

type TunnelConfig struct {
	// Name is the TUN interface name (default: dnsf0).
	Name string `toml:"name" json:"name" validate:"required,max=15"`
	// Address is the IPv4 address with prefix assigned to the TUN interface (default: 10.53.0.1/30).
	Address string `toml:"address" json:"address" validate:"required,cidr4"`
	// MTU of the TUN interface (default: 1500).
	MTU int `toml:"mtu" json:"mtu" validate:"min=576,max=65535"`
	// RouteTable is the routing table holding the upstream /32 route.
	RouteTable int `toml:"table" json:"table" validate:"required,min=1"`
	// RulePriority is the ip rule priority for the tunnel lookup.
	RulePriority int `toml:"priority" json:"priority" validate:"required,min=1"`
	// BypassFwMark marks the resolver socket so its traffic skips the tunnel.
	BypassFwMark uint32 `toml:"bypass_fwmark" json:"bypass_fwmark" validate:"required,min=1"`
}

type UpstreamConfig struct {
	// Host is the upstream resolver address or hostname. Blank means the default public resolver.
	Host string `toml:"host" json:"host" validate:"host_or_empty"`
	// Port is the upstream resolver port (default: 53).
	Port uint16 `toml:"port" json:"port" validate:"min=1"`
	// TimeoutMs is how long to wait for one upstream reply (default: 5000).
	TimeoutMs int `toml:"timeout_ms" json:"timeout_ms" validate:"min=100,max=60000"`
}

type CaptureConfig struct {
	// Enable installs iptables rules that send every DNS query into the tunnel.
	Enable bool `toml:"enable" json:"enable"`
	// Chain is the dedicated nat chain holding capture rules (default: KEEN_DNSFILTER).
	Chain string `toml:"chain" json:"chain" validate:"required_if=Enable true,max=28"`
	// IPTablesRules are appended to Chain. Available variables: {{upstream}}, {{upstream_port}}, {{bypass_fwmark}}, {{tun}}, {{table}}.
	IPTablesRules []*IPTablesRule `toml:"iptables_rule,omitempty" json:"iptables_rule,omitempty" validate:"dive"`
}

type IPTablesRule struct {
	Chain string   `toml:"chain" json:"chain" validate:"required"`
	Table string   `toml:"table" json:"table" validate:"required"`
	Rule  []string `toml:"rule" json:"rule" validate:"required,min=1"`
}

type APIConfig struct {
	// Enable starts the HTTP API together with the service (default: true).
	Enable bool `toml:"enable" json:"enable"`
	// Listen is the API listen address (default: 127.0.0.1:12121).
	Listen string `toml:"listen" json:"listen" validate:"hostport_or_empty"`
}

type FilterConfig struct {
	// Categories are category tags expanded to their seed domains.
	Categories []string `toml:"categories" json:"categories" validate:"dive,category"`
	// Domains are custom blocked domains. Subdomains are blocked too.
	Domains []string `toml:"domains" json:"domains" validate:"dive,required"`
	// AllowedDomains override any block rule. They are not persisted.
	AllowedDomains []string `toml:"allowed_domains" json:"allowed_domains" validate:"dive,required"`
}

func (c *Config) GetConfigDir() string {
	return filepath.Dir(c._absConfigFilePath)
}

func (c *Config) GetAbsRuleStorePath() string {
	return utils.GetAbsolutePath(c.General.RuleStorePath, c.GetConfigDir())
}

// UpstreamHost returns the configured upstream host, or the default resolver when blank.
func (c *UpstreamConfig) UpstreamHost() string {
	if c == nil || c.Host == "" {
		return DefaultUpstreamHost
	}
	return c.Host
}

// Timeout returns the upstream reply deadline.
func (c *UpstreamConfig) Timeout() time.Duration {
	if c == nil || c.TimeoutMs <= 0 {
		return DefaultUpstreamTimeout
	}
	return time.Duration(c.TimeoutMs) * time.Millisecond
}

// Prefix parses Address. Callers must run ValidateConfig first.
func (c *TunnelConfig) Prefix() (net.IP, *net.IPNet, error) {
	return net.ParseCIDR(c.Address)
}
