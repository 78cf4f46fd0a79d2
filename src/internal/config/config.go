package config

import (
	"bytes"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/pelletier/go-toml/v2"

	"github.com/maksimkurb/keen-dnsfilter/src/internal/log"
)

const (
	DefaultUpstreamHost    = "1.1.1.1"
	DefaultUpstreamPort    = 53
	DefaultUpstreamTimeout = 5000 * time.Millisecond

	DefaultRecentLogCapacity = 120
	DefaultRuleStorePath     = "rules.db"

	DefaultTunnelName    = "dnsf0"
	DefaultTunnelAddress = "10.53.0.1/30"
	DefaultTunnelMTU     = 1500
	DefaultRouteTable    = 5353
	DefaultRulePriority  = 5353
	DefaultBypassFwMark  = 0x5353

	DefaultCaptureChain = "KEEN_DNSFILTER"
	DefaultAPIListen    = "127.0.0.1:12121"
)

const (
	IPTABLES_TMPL_UPSTREAM      = "upstream"
	IPTABLES_TMPL_UPSTREAM_PORT = "upstream_port"
	IPTABLES_TMPL_BYPASS_FWMARK = "bypass_fwmark"
	IPTABLES_TMPL_TUN           = "tun"
	IPTABLES_TMPL_TABLE         = "table"
)

func LoadConfig(configPath string) (*Config, error) {
	configFile := filepath.Clean(configPath)

	if !filepath.IsAbs(configFile) {
		if path, err := filepath.Abs(configFile); err != nil {
			return nil, fmt.Errorf("failed to get absolute path: %v", err)
		} else {
			configFile = path
		}
	}

	if _, err := os.Stat(configFile); os.IsNotExist(err) {
		log.Errorf("Configuration file not found: %s", configFile)
		return nil, fmt.Errorf("configuration file not found: %s", configFile)
	}

	content, err := os.ReadFile(configFile)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %v", err)
	}

	var config Config
	if err := toml.Unmarshal(content, &config); err != nil {
		var derr *toml.DecodeError
		if errors.As(err, &derr) {
			log.Errorf(derr.String())
			row, col := derr.Position()
			log.Errorf("Error at line %d, column %d", row, col)
			return nil, fmt.Errorf("failed to parse config file")
		}
		return nil, fmt.Errorf("failed to parse config file: %v", err)
	}

	config._absConfigFilePath = configFile
	config.ApplyDefaults()

	log.Debugf("Configuration file path: %s", configFile)
	log.Debugf("Rule store path: %s", config.GetAbsRuleStorePath())

	return &config, nil
}

// ApplyDefaults fills missing sections and zero values.
func (c *Config) ApplyDefaults() {
	if c.General == nil {
		c.General = &GeneralConfig{}
	}
	if c.General.RuleStorePath == "" {
		c.General.RuleStorePath = DefaultRuleStorePath
	}
	if c.General.RecentLogCapacity == 0 {
		c.General.RecentLogCapacity = DefaultRecentLogCapacity
	}

	if c.Tunnel == nil {
		c.Tunnel = &TunnelConfig{}
	}
	if c.Tunnel.Name == "" {
		c.Tunnel.Name = DefaultTunnelName
	}
	if c.Tunnel.Address == "" {
		c.Tunnel.Address = DefaultTunnelAddress
	}
	if c.Tunnel.MTU == 0 {
		c.Tunnel.MTU = DefaultTunnelMTU
	}
	if c.Tunnel.RouteTable == 0 {
		c.Tunnel.RouteTable = DefaultRouteTable
	}
	if c.Tunnel.RulePriority == 0 {
		c.Tunnel.RulePriority = DefaultRulePriority
	}
	if c.Tunnel.BypassFwMark == 0 {
		c.Tunnel.BypassFwMark = DefaultBypassFwMark
	}

	if c.Upstream == nil {
		c.Upstream = &UpstreamConfig{}
	}
	if c.Upstream.Port == 0 {
		c.Upstream.Port = DefaultUpstreamPort
	}
	if c.Upstream.TimeoutMs == 0 {
		c.Upstream.TimeoutMs = int(DefaultUpstreamTimeout / time.Millisecond)
	}

	if c.Capture == nil {
		c.Capture = &CaptureConfig{}
	}
	if c.Capture.Chain == "" {
		c.Capture.Chain = DefaultCaptureChain
	}
	if len(c.Capture.IPTablesRules) == 0 {
		c.Capture.IPTablesRules = DefaultCaptureRules()
	}

	if c.API == nil {
		c.API = &APIConfig{Enable: true}
	}
	if c.API.Listen == "" {
		c.API.Listen = DefaultAPIListen
	}

	if c.Filter == nil {
		c.Filter = &FilterConfig{}
	}
}

// DefaultCaptureRules DNATs every UDP query without the bypass mark to the upstream host,
// so the policy route sends it into the tunnel.
func DefaultCaptureRules() []*IPTablesRule {
	return []*IPTablesRule{
		{
			Table: "nat",
			Chain: DefaultCaptureChain,
			Rule: []string{
				"-p", "udp", "--dport", "53",
				"-m", "mark", "!", "--mark", "{{" + IPTABLES_TMPL_BYPASS_FWMARK + "}}",
				"-j", "DNAT", "--to-destination", "{{" + IPTABLES_TMPL_UPSTREAM + "}}:{{" + IPTABLES_TMPL_UPSTREAM_PORT + "}}",
			},
		},
	}
}

func (c *Config) SerializeConfig() (*bytes.Buffer, error) {
	buf := bytes.Buffer{}
	enc := toml.NewEncoder(&buf)
	enc.SetIndentTables(true)
	if err := enc.Encode(c); err != nil {
		return nil, err
	}
	return &buf, nil
}

func (c *Config) WriteConfig() error {
	config, err := c.SerializeConfig()
	if err != nil {
		return err
	}
	if err := os.WriteFile(c._absConfigFilePath, config.Bytes(), 0644); err != nil {
		return err
	}
	return nil
}
