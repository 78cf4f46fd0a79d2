package networking

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/coreos/go-iptables/iptables"
	"github.com/valyala/fasttemplate"

	"github.com/maksimkurb/keen-dnsfilter/src/internal/config"
	"github.com/maksimkurb/keen-dnsfilter/src/internal/log"
)

const (
	captureTable      = "nat"
	captureParentHook = "OUTPUT"
)

// TemplateVars are substituted into capture rule templates.
type TemplateVars struct {
	Upstream     string
	UpstreamPort uint16
	BypassFwMark uint32
	Tun          string
	Table        int
}

func (v TemplateVars) values() map[string]interface{} {
	return map[string]interface{}{
		config.IPTABLES_TMPL_UPSTREAM:      v.Upstream,
		config.IPTABLES_TMPL_UPSTREAM_PORT: strconv.FormatUint(uint64(v.UpstreamPort), 10),
		config.IPTABLES_TMPL_BYPASS_FWMARK: strconv.FormatUint(uint64(v.BypassFwMark), 10),
		config.IPTABLES_TMPL_TUN:           v.Tun,
		config.IPTABLES_TMPL_TABLE:         strconv.Itoa(v.Table),
	}
}

// iptablesRunner is the subset of go-iptables used here.
type iptablesRunner interface {
	ChainExists(table, chain string) (bool, error)
	NewChain(table, chain string) error
	ClearChain(table, chain string) error
	DeleteChain(table, chain string) error
	Exists(table, chain string, rulespec ...string) (bool, error)
	AppendUnique(table, chain string, rulespec ...string) error
	InsertUnique(table, chain string, pos int, rulespec ...string) error
	DeleteIfExists(table, chain string, rulespec ...string) error
}

// DNSCaptureComponent owns a dedicated nat chain, jumped to from OUTPUT, that
// DNATs outgoing DNS to the upstream resolver so it follows the tunnel route.
type DNSCaptureComponent struct {
	ipt   iptablesRunner
	chain string
	rules []*config.IPTablesRule
}

// NewDNSCaptureComponent expands the rule templates with vars.
func NewDNSCaptureComponent(chain string, templates []*config.IPTablesRule, vars TemplateVars) (*DNSCaptureComponent, error) {
	ipt, err := iptables.NewWithProtocol(iptables.ProtocolIPv4)
	if err != nil {
		return nil, fmt.Errorf("failed to create iptables (IPv4): %w", err)
	}
	return newDNSCaptureComponent(ipt, chain, templates, vars), nil
}

func newDNSCaptureComponent(ipt iptablesRunner, chain string, templates []*config.IPTablesRule, vars TemplateVars) *DNSCaptureComponent {
	return &DNSCaptureComponent{
		ipt:   ipt,
		chain: chain,
		rules: processRules(templates, vars),
	}
}

func processRules(templates []*config.IPTablesRule, vars TemplateVars) []*config.IPTablesRule {
	values := vars.values()
	rules := make([]*config.IPTablesRule, 0, len(templates))

	for _, rule := range templates {
		if rule == nil {
			continue
		}
		ruleSpecs := make([]string, len(rule.Rule))
		for j, ruleSpec := range rule.Rule {
			ruleSpecs[j] = processRulePart(ruleSpec, values)
		}

		rules = append(rules, &config.IPTablesRule{
			Chain: processRulePart(rule.Chain, values),
			Table: processRulePart(rule.Table, values),
			Rule:  ruleSpecs,
		})
	}

	return rules
}

func processRulePart(template string, values map[string]interface{}) string {
	if !strings.Contains(template, "{{") {
		return template
	}

	t := fasttemplate.New(template, "{{", "}}")
	return t.ExecuteString(values)
}

// Rules returns the expanded rules.
func (c *DNSCaptureComponent) Rules() []*config.IPTablesRule {
	return c.rules
}

func (c *DNSCaptureComponent) IsExists() (bool, error) {
	exists, err := c.ipt.ChainExists(captureTable, c.chain)
	if err != nil || !exists {
		return false, err
	}

	linked, err := c.ipt.Exists(captureTable, captureParentHook, "-j", c.chain)
	if err != nil || !linked {
		return false, err
	}

	for _, rule := range c.rules {
		ok, err := c.ipt.Exists(rule.Table, rule.Chain, rule.Rule...)
		if err != nil {
			log.Errorf("Checking iptables rule presence [%v] is failed: %v", rule, err)
			return false, err
		}
		log.Debugf("Checking iptables rule presence [%v]: exists=%v", rule, ok)
		if !ok {
			return false, nil
		}
	}
	return true, nil
}

func (c *DNSCaptureComponent) CreateIfNotExists() error {
	exists, err := c.ipt.ChainExists(captureTable, c.chain)
	if err != nil {
		return fmt.Errorf("failed to check chain %s: %w", c.chain, err)
	}
	if !exists {
		if err := c.ipt.NewChain(captureTable, c.chain); err != nil {
			return fmt.Errorf("failed to create chain %s: %w", c.chain, err)
		}
	}

	for _, rule := range c.rules {
		log.Infof("Adding iptables rule [%s/%s: %s]", rule.Table, rule.Chain, strings.Join(rule.Rule, " "))
		if err := c.ipt.AppendUnique(rule.Table, rule.Chain, rule.Rule...); err != nil {
			return fmt.Errorf("failed to add iptables rule: %w", err)
		}
	}

	if err := c.ipt.InsertUnique(captureTable, captureParentHook, 1, "-j", c.chain); err != nil {
		return fmt.Errorf("failed to link chain %s: %w", c.chain, err)
	}
	return nil
}

func (c *DNSCaptureComponent) DeleteIfExists() error {
	if err := c.ipt.DeleteIfExists(captureTable, captureParentHook, "-j", c.chain); err != nil {
		log.Debugf("Failed to unlink chain: %v", err)
	}

	exists, err := c.ipt.ChainExists(captureTable, c.chain)
	if err != nil {
		return fmt.Errorf("failed to check chain %s: %w", c.chain, err)
	}
	if !exists {
		return nil
	}

	if err := c.ipt.ClearChain(captureTable, c.chain); err != nil {
		return fmt.Errorf("failed to clear chain %s: %w", c.chain, err)
	}
	if err := c.ipt.DeleteChain(captureTable, c.chain); err != nil {
		return fmt.Errorf("failed to delete chain %s: %w", c.chain, err)
	}
	return nil
}

func (c *DNSCaptureComponent) GetType() ComponentType {
	return ComponentTypeIPTables
}

func (c *DNSCaptureComponent) GetDescription() string {
	return fmt.Sprintf("DNS capture chain %s (%d rules)", c.chain, len(c.rules))
}

func (c *DNSCaptureComponent) GetCommand() string {
	var sb strings.Builder
	sb.WriteString(fmt.Sprintf("iptables -t %s -N %s\n", captureTable, c.chain))
	for _, rule := range c.rules {
		sb.WriteString(fmt.Sprintf("iptables -t %s -A %s %s\n", rule.Table, rule.Chain, strings.Join(rule.Rule, " ")))
	}
	sb.WriteString(fmt.Sprintf("iptables -t %s -I %s 1 -j %s", captureTable, captureParentHook, c.chain))
	return sb.String()
}
