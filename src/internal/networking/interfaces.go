package networking

import (
	"fmt"
	"net"

	"github.com/vishvananda/netlink"

	"github.com/maksimkurb/keen-dnsfilter/src/internal/log"
)

type Interface struct {
	netlink.Link
}

func GetInterface(interfaceName string) (*Interface, error) {
	link, err := netlink.LinkByName(interfaceName)
	if err != nil {
		return nil, err
	}
	return &Interface{link}, nil
}

func (iface *Interface) IsUp() bool {
	return iface.Attrs().Flags&net.FlagUp != 0
}

func (iface *Interface) Index() int {
	return iface.Attrs().Index
}

// ConfigurePointToPoint assigns local with peer as the point-to-point address,
// sets the MTU and brings the link up.
func (iface *Interface) ConfigurePointToPoint(local net.IP, ipnet *net.IPNet, peer net.IP, mtu int) error {
	name := iface.Attrs().Name

	addr := &netlink.Addr{
		IPNet: &net.IPNet{IP: local.To4(), Mask: ipnet.Mask},
		Peer:  &net.IPNet{IP: peer.To4(), Mask: net.CIDRMask(32, 32)},
	}
	log.Debugf("Assigning %s peer %s to %s", addr.IPNet, peer, name)
	if err := netlink.AddrReplace(iface.Link, addr); err != nil {
		return fmt.Errorf("failed to assign address to %s: %w", name, err)
	}

	if mtu > 0 {
		if err := netlink.LinkSetMTU(iface.Link, mtu); err != nil {
			return fmt.Errorf("failed to set MTU on %s: %w", name, err)
		}
	}

	if err := netlink.LinkSetUp(iface.Link); err != nil {
		return fmt.Errorf("failed to bring %s up: %w", name, err)
	}
	return nil
}
