package tunnel

import (
	"github.com/vishvananda/netlink"
	"golang.org/x/sys/unix"

	"github.com/maksimkurb/keen-dnsfilter/src/internal/log"
)

// watch fires revoke when the interface is deleted or taken down by someone
// else. It returns when the device is closed.
func (d *Device) watch(index int) {
	updates := make(chan netlink.LinkUpdate)
	if err := netlink.LinkSubscribe(updates, d.done); err != nil {
		log.Warnf("Failed to watch tunnel interface %s: %v", d.name, err)
		return
	}

	for {
		select {
		case <-d.done:
			return
		case update, ok := <-updates:
			if !ok {
				return
			}
			if update.Link == nil || update.Link.Attrs().Index != index {
				continue
			}
			if update.Header.Type == unix.RTM_DELLINK || update.IfInfomsg.Flags&unix.IFF_UP == 0 {
				select {
				case <-d.done:
					return
				default:
				}
				d.revoke()
				return
			}
		}
	}
}
