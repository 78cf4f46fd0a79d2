package commands

import (
	"flag"
	"net"

	"github.com/maksimkurb/keen-dnsfilter/src/internal/config"
	"github.com/maksimkurb/keen-dnsfilter/src/internal/log"
	"github.com/maksimkurb/keen-dnsfilter/src/internal/networking"
	"github.com/maksimkurb/keen-dnsfilter/src/internal/tunnel"
)

func CreateUndoCommand() *UndoCommand {
	return &UndoCommand{
		fs: flag.NewFlagSet("undo-routing", flag.ExitOnError),
	}
}

// UndoCommand removes routing state left behind by a service that did not
// shut down cleanly.
type UndoCommand struct {
	fs  *flag.FlagSet
	cfg *config.Config
}

func (g *UndoCommand) Name() string {
	return g.fs.Name()
}

func (g *UndoCommand) Init(args []string, ctx *AppContext) error {
	if err := g.fs.Parse(args); err != nil {
		return err
	}

	if cfg, err := loadAndValidateConfigOrFail(ctx.ConfigPath); err != nil {
		return err
	} else {
		g.cfg = cfg
	}

	return nil
}

func (g *UndoCommand) Run() error {
	log.Infof("Removing capture chain, ip rule and ip routes...")

	opts, err := tunnel.OptionsFromConfig(g.cfg, nil)
	if err != nil {
		return err
	}
	// The capture chain is removed even if capture is disabled now. Only the
	// chain name matters for removal.
	opts.Capture = true
	opts.CaptureChain = g.cfg.Capture.Chain
	opts.Upstream = net.IPv4zero

	routing, err := tunnel.RoutingManager(opts, 0)
	if err != nil {
		return err
	}
	if err := routing.Undo(); err != nil {
		log.Errorf("Failed to undo routing configuration: %v", err)
		return err
	}

	log.Infof("Deleting IP route table %d", opts.RouteTable)
	if err := networking.DelIpRouteTable(opts.RouteTable); err != nil {
		log.Errorf("Failed to delete IP route table %d: %v", opts.RouteTable, err)
		return err
	}

	log.Infof("Undo routing completed successfully")
	return nil
}
