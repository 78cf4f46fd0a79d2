package networking

import (
	"fmt"

	"github.com/vishvananda/netlink"

	"github.com/maksimkurb/keen-dnsfilter/src/internal/log"
)

type IpRule struct {
	*netlink.Rule
}

func (r *IpRule) String() string {
	not := ""
	if r.Invert {
		not = "not "
	}
	return fmt.Sprintf("rule %d: %sfwmark=%#x -> table %d", r.Priority, not, r.Mark, r.Table)
}

// BuildBypassRule sends everything not carrying bypassMark to table, which
// holds only the upstream route. The resolver's own marked socket skips it.
func BuildBypassRule(bypassMark uint32, table int, priority int) *IpRule {
	ipr := netlink.NewRule()

	ipr.Family = netlink.FAMILY_V4
	ipr.Table = table
	ipr.Mark = bypassMark
	ipr.Priority = priority
	ipr.Invert = true
	return &IpRule{ipr}
}

func (ipr *IpRule) Add() error {
	log.Debugf("Adding IP rule [%v]", ipr)
	if err := netlink.RuleAdd(ipr.Rule); err != nil {
		log.Warnf("Failed to add IP rule [%v]: %v", ipr, err)
		return err
	}

	return nil
}

func (ipr *IpRule) IsExists() (bool, error) {
	if filtered, err := netlink.RuleListFiltered(ipr.Family, ipr.Rule, netlink.RT_FILTER_TABLE|netlink.RT_FILTER_MARK|netlink.RT_FILTER_PRIORITY); err != nil {
		log.Warnf("Checking if IP rule exists [%v] is failed: %v", ipr, err)
		return false, err
	} else if len(filtered) > 0 {
		log.Debugf("Checking if IP rule exists [%v]: YES", ipr)
		return true, nil
	}

	log.Debugf("Checking if IP rule exists [%v]: NO", ipr)
	return false, nil
}

func (ipr *IpRule) Del() error {
	log.Debugf("Deleting IP rule [%v]", ipr)
	if err := netlink.RuleDel(ipr.Rule); err != nil {
		log.Warnf("Failed to delete IP rule [%v]: %v", ipr, err)
		return err
	}

	return nil
}

// CreateIfNotExists implements NetworkingComponent.
func (ipr *IpRule) CreateIfNotExists() error {
	exists, err := ipr.IsExists()
	if err != nil {
		return err
	}
	if exists {
		return nil
	}
	return ipr.Add()
}

// DeleteIfExists implements NetworkingComponent.
func (ipr *IpRule) DeleteIfExists() error {
	exists, err := ipr.IsExists()
	if err != nil {
		return err
	}
	if !exists {
		return nil
	}
	return ipr.Del()
}

func (ipr *IpRule) GetType() ComponentType {
	return ComponentTypeIPRule
}

func (ipr *IpRule) GetDescription() string {
	return "Policy rule sending unmarked traffic to the tunnel routing table"
}

func (ipr *IpRule) GetCommand() string {
	return fmt.Sprintf("ip rule add not fwmark %#x lookup %d priority %d", ipr.Mark, ipr.Table, ipr.Priority)
}
