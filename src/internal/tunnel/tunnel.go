package tunnel

import (
	stderrors "errors"
	"fmt"
	"net"
	"os"
	"sync"

	"github.com/maksimkurb/keen-dnsfilter/src/internal/config"
	"github.com/maksimkurb/keen-dnsfilter/src/internal/errors"
	"github.com/maksimkurb/keen-dnsfilter/src/internal/log"
	"github.com/maksimkurb/keen-dnsfilter/src/internal/networking"
)

// Options describe the TUN interface and the routing installed around it.
type Options struct {
	Name string
	// Local is the interface address inside Network.
	Local   net.IP
	Network *net.IPNet
	MTU     int

	Upstream     net.IP
	UpstreamPort uint16

	RouteTable   int
	RulePriority int
	BypassMark   uint32

	Capture      bool
	CaptureChain string
	CaptureRules []*config.IPTablesRule
}

// OptionsFromConfig builds Options for the given upstream address.
func OptionsFromConfig(cfg *config.Config, upstream *net.UDPAddr) (Options, error) {
	local, ipnet, err := cfg.Tunnel.Prefix()
	if err != nil {
		return Options{}, errors.NewConfigError("invalid tunnel address", err)
	}

	opts := Options{
		Name:         cfg.Tunnel.Name,
		Local:        local.To4(),
		Network:      ipnet,
		MTU:          cfg.Tunnel.MTU,
		RouteTable:   cfg.Tunnel.RouteTable,
		RulePriority: cfg.Tunnel.RulePriority,
		BypassMark:   cfg.Tunnel.BypassFwMark,
	}
	if upstream != nil {
		opts.Upstream = upstream.IP
		opts.UpstreamPort = uint16(upstream.Port)
	}
	if cfg.Capture != nil && cfg.Capture.Enable {
		opts.Capture = true
		opts.CaptureChain = cfg.Capture.Chain
		opts.CaptureRules = cfg.Capture.IPTablesRules
	}
	return opts, nil
}

// RoutingManager returns the components installed for a tunnel with the given
// link index, in apply order: upstream route, bypass rule, capture chain.
// A zero linkIndex matches the route in any device, which is what cleanup of a
// vanished interface needs.
func RoutingManager(opts Options, linkIndex int) (*networking.Manager, error) {
	var components []networking.NetworkingComponent

	if opts.Upstream != nil {
		components = append(components, networking.BuildUpstreamRoute(opts.Upstream, linkIndex, opts.RouteTable))
	}
	components = append(components, networking.BuildBypassRule(opts.BypassMark, opts.RouteTable, opts.RulePriority))

	if opts.Capture {
		if opts.Upstream == nil {
			return nil, fmt.Errorf("DNS capture requires an upstream address")
		}
		capture, err := networking.NewDNSCaptureComponent(opts.CaptureChain, opts.CaptureRules, networking.TemplateVars{
			Upstream:     opts.Upstream.String(),
			UpstreamPort: opts.UpstreamPort,
			BypassFwMark: opts.BypassMark,
			Tun:          opts.Name,
			Table:        opts.RouteTable,
		})
		if err != nil {
			return nil, err
		}
		components = append(components, capture)
	}

	return networking.NewManager(components...), nil
}

// Device is an open TUN interface. Read and Write carry raw IPv4 packets.
type Device struct {
	name    string
	file    *os.File
	routing *networking.Manager

	done    chan struct{}
	revoked chan struct{}

	revokeOnce sync.Once
	closeOnce  sync.Once
	closeErr   error
}

// Name returns the kernel interface name.
func (d *Device) Name() string {
	return d.name
}

// Routing returns the routing components owned by the device.
func (d *Device) Routing() *networking.Manager {
	return d.routing
}

func (d *Device) Read(p []byte) (int, error) {
	return d.file.Read(p)
}

func (d *Device) Write(p []byte) (int, error) {
	return d.file.Write(p)
}

// Revoked is closed when the interface disappears from under the device.
func (d *Device) Revoked() <-chan struct{} {
	return d.revoked
}

func (d *Device) revoke() {
	d.revokeOnce.Do(func() {
		log.Warnf("Tunnel interface %s was removed", d.name)
		close(d.revoked)
	})
}

// Close closes the descriptor, which unblocks a pending Read, and removes the
// routing installed by Open. It is idempotent.
func (d *Device) Close() error {
	d.closeOnce.Do(func() {
		close(d.done)

		var errs []error
		if err := d.file.Close(); err != nil {
			errs = append(errs, fmt.Errorf("failed to close %s: %w", d.name, err))
		}
		if d.routing != nil {
			if err := d.routing.Undo(); err != nil {
				errs = append(errs, fmt.Errorf("failed to remove routing for %s: %w", d.name, err))
			}
		}
		d.closeErr = stderrors.Join(errs...)
		log.Infof("Tunnel %s closed", d.name)
	})
	return d.closeErr
}
