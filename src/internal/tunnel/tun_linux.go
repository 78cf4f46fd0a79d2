package tunnel

import (
	"context"
	"fmt"
	"os"

	"golang.org/x/sys/unix"

	"github.com/maksimkurb/keen-dnsfilter/src/internal/errors"
	"github.com/maksimkurb/keen-dnsfilter/src/internal/log"
	"github.com/maksimkurb/keen-dnsfilter/src/internal/networking"
	"github.com/maksimkurb/keen-dnsfilter/src/internal/utils"
)

const cloneDevice = "/dev/net/tun"

// Open creates the TUN interface, configures it as a point-to-point link and
// installs the routing described by opts. Any failure undoes what was done.
func Open(ctx context.Context, opts Options) (*Device, error) {
	if opts.Local == nil || opts.Network == nil {
		return nil, errors.NewTunnelError("tunnel address is not set", nil)
	}
	if err := ctx.Err(); err != nil {
		return nil, errors.NewTunnelError("tunnel setup cancelled", err)
	}

	file, name, err := openTun(opts.Name)
	if err != nil {
		return nil, errors.NewTunnelError(fmt.Sprintf("failed to create tun interface %s", opts.Name), err)
	}
	fail := func(message string, cause error) (*Device, error) {
		utils.CloseOrWarn(file, name)
		return nil, errors.NewTunnelError(message, cause)
	}

	iface, err := networking.GetInterface(name)
	if err != nil {
		return fail(fmt.Sprintf("failed to look up %s", name), err)
	}

	peer, err := utils.PeerAddress(opts.Local, opts.Network)
	if err != nil {
		return fail("failed to pick peer address", err)
	}
	if err := iface.ConfigurePointToPoint(opts.Local, opts.Network, peer, opts.MTU); err != nil {
		return fail("failed to configure tunnel interface", err)
	}

	routing, err := RoutingManager(opts, iface.Index())
	if err != nil {
		return fail("failed to prepare tunnel routing", err)
	}
	if err := routing.Apply(); err != nil {
		return fail("failed to install tunnel routing", err)
	}

	d := &Device{
		name:    name,
		file:    file,
		routing: routing,
		done:    make(chan struct{}),
		revoked: make(chan struct{}),
	}
	go d.watch(iface.Index())

	log.Infof("Tunnel %s is up: %s peer %s, upstream %s via table %d", name, opts.Local, peer, opts.Upstream, opts.RouteTable)
	return d, nil
}

// openTun creates a TUN interface without packet info headers. The descriptor
// is non-blocking so that closing the file wakes a pending Read.
func openTun(name string) (*os.File, string, error) {
	fd, err := unix.Open(cloneDevice, unix.O_RDWR|unix.O_CLOEXEC, 0)
	if err != nil {
		return nil, "", fmt.Errorf("open %s: %w", cloneDevice, err)
	}

	ifr, err := unix.NewIfreq(name)
	if err != nil {
		unix.Close(fd)
		return nil, "", err
	}
	ifr.SetUint16(unix.IFF_TUN | unix.IFF_NO_PI)
	if err := unix.IoctlIfreq(fd, unix.TUNSETIFF, ifr); err != nil {
		unix.Close(fd)
		return nil, "", fmt.Errorf("TUNSETIFF: %w", err)
	}

	if err := unix.SetNonblock(fd, true); err != nil {
		unix.Close(fd)
		return nil, "", fmt.Errorf("set non-blocking: %w", err)
	}

	return os.NewFile(uintptr(fd), cloneDevice), ifr.Name(), nil
}
