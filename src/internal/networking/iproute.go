package networking

import (
	"fmt"
	"net"

	"github.com/vishvananda/netlink"
	"golang.org/x/sys/unix"

	"github.com/maksimkurb/keen-dnsfilter/src/internal/log"
)

const UPSTREAM_ROUTE_METRIC = 100

type IpRoute struct {
	*netlink.Route
}

func (r *IpRoute) String() string {
	to := "all"
	if r.Dst != nil && r.Dst.String() != "<nil>" {
		to = r.Dst.String()
	}

	linkName := "<nil>"
	if r.LinkIndex > 0 {
		if link, err := netlink.LinkByIndex(r.LinkIndex); err != nil {
			linkName = "<err: " + err.Error() + ">"
		} else {
			linkName = link.Attrs().Name
		}
	}

	return fmt.Sprintf("table %d: dst=%s -> dev %s (idx=%d) [metric:%d]",
		r.Table, to, linkName, r.LinkIndex, r.Priority)
}

// BuildUpstreamRoute routes the upstream resolver's /32 into the tunnel link
// inside table. No other destination is ever routed to the tunnel.
func BuildUpstreamRoute(upstream net.IP, linkIndex int, table int) *IpRoute {
	ipr := netlink.Route{}

	ipr.Family = netlink.FAMILY_V4
	ipr.Table = table
	ipr.LinkIndex = linkIndex
	ipr.Priority = UPSTREAM_ROUTE_METRIC
	ipr.Scope = netlink.SCOPE_LINK
	ipr.Type = unix.RTN_UNICAST
	ipr.Dst = &net.IPNet{
		IP:   upstream.To4(),
		Mask: net.CIDRMask(32, 32),
	}
	return &IpRoute{&ipr}
}

func (ipr *IpRoute) Add() error {
	log.Debugf("Adding IP route [%v]", ipr)
	if err := netlink.RouteAdd(ipr.Route); err != nil {
		log.Warnf("Failed to add IP route [%v]: %v", ipr, err)
		return err
	}

	return nil
}

func (ipr *IpRoute) IsExists() (bool, error) {
	filters := netlink.RT_FILTER_TABLE | netlink.RT_FILTER_DST
	if ipr.LinkIndex > 0 {
		filters |= netlink.RT_FILTER_OIF
	}

	if filtered, err := netlink.RouteListFiltered(ipr.Family, ipr.Route, filters); err != nil {
		log.Warnf("Checking if IP route exists [%v] is failed: %v", ipr, err)
		return false, err
	} else if len(filtered) > 0 {
		log.Debugf("Checking if IP route exists [%v]: YES", ipr)
		return true, nil
	}

	log.Debugf("Checking if IP route exists [%v]: NO", ipr)
	return false, nil
}

func (ipr *IpRoute) Del() error {
	log.Debugf("Deleting IP route [%v]", ipr)
	if err := netlink.RouteDel(ipr.Route); err != nil {
		log.Warnf("Failed to delete IP route [%v]: %v", ipr, err)
		return err
	}

	return nil
}

// CreateIfNotExists implements NetworkingComponent.
func (ipr *IpRoute) CreateIfNotExists() error {
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
func (ipr *IpRoute) DeleteIfExists() error {
	exists, err := ipr.IsExists()
	if err != nil {
		return err
	}
	if !exists {
		return nil
	}
	return ipr.Del()
}

func (ipr *IpRoute) GetType() ComponentType {
	return ComponentTypeIPRoute
}

func (ipr *IpRoute) GetDescription() string {
	return "Route sending queries for the upstream resolver into the tunnel"
}

func (ipr *IpRoute) GetCommand() string {
	dev := fmt.Sprintf("<ifindex %d>", ipr.LinkIndex)
	if link, err := netlink.LinkByIndex(ipr.LinkIndex); err == nil {
		dev = link.Attrs().Name
	}
	return fmt.Sprintf("ip route add %s dev %s table %d metric %d", ipr.Dst, dev, ipr.Table, ipr.Priority)
}

// DelIpRouteTable removes every route in table.
func DelIpRouteTable(table int) error {
	log.Debugf("Deleting IP route table [%d]", table)
	routes, err := netlink.RouteListFiltered(netlink.FAMILY_V4, &netlink.Route{Table: table}, netlink.RT_FILTER_TABLE)
	if err != nil {
		return err
	}

	for _, route := range routes {
		route := route
		if err := netlink.RouteDel(&route); err != nil {
			return err
		}
	}

	return nil
}
