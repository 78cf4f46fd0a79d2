package commands

import (
	"flag"
	"io"
	"os"

	"github.com/maksimkurb/keen-dnsfilter/src/internal/config"
	"github.com/maksimkurb/keen-dnsfilter/src/internal/log"
)

func CreateUpgradeConfigCommand() *UpgradeConfigCommand {
	gc := &UpgradeConfigCommand{
		fs:  flag.NewFlagSet("upgrade-config", flag.ExitOnError),
		out: os.Stdout,
	}
	gc.fs.BoolVar(&gc.DryRun, "dry-run", false, "Print the upgraded configuration instead of writing it")
	return gc
}

// UpgradeConfigCommand rewrites the configuration file with every default
// spelled out, so new options become visible after an upgrade.
type UpgradeConfigCommand struct {
	fs     *flag.FlagSet
	cfg    *config.Config
	out    io.Writer
	DryRun bool
}

func (g *UpgradeConfigCommand) Name() string {
	return g.fs.Name()
}

func (g *UpgradeConfigCommand) Init(args []string, ctx *AppContext) error {
	if err := g.fs.Parse(args); err != nil {
		return err
	}

	cfg, err := loadAndValidateConfigOrFail(ctx.ConfigPath)
	if err != nil {
		return err
	}
	g.cfg = cfg
	return nil
}

func (g *UpgradeConfigCommand) Run() error {
	if g.DryRun {
		buf, err := g.cfg.SerializeConfig()
		if err != nil {
			return err
		}
		_, err = g.out.Write(buf.Bytes())
		return err
	}

	log.Infof("Writing configuration with defaults applied...")
	if err := g.cfg.WriteConfig(); err != nil {
		log.Errorf("Failed to write config: %v", err)
		return err
	}
	log.Infof("Updated configuration is written on disk!")
	return nil
}
