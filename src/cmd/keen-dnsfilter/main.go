package main

import (
	"errors"
	"flag"
	"fmt"
	"os"

	"github.com/maksimkurb/keen-dnsfilter/src/internal/commands"
	"github.com/maksimkurb/keen-dnsfilter/src/internal/log"
)

var (
	version = "dev"
	commit  = "n/a"
	date    = "n/a"
)

func main() {
	ctx := &commands.AppContext{
		Version: version,
		Commit:  commit,
		Date:    date,
	}

	// Define flags
	flag.StringVar(&ctx.ConfigPath, "config", "/opt/etc/keen-dnsfilter/keen-dnsfilter.conf", "Path to configuration file")
	flag.BoolVar(&ctx.Verbose, "verbose", false, "Enable debug logging")

	// Custom usage message
	flag.Usage = func() {
		fmt.Fprintf(os.Stderr, "Keenetic DNS Filter\n")
		fmt.Fprintf(os.Stderr, "Version: %s (Commit: %s, Date: %s)\n\n", version, commit, date)
		fmt.Fprintf(os.Stderr, "Usage: %s [options] <command>\n\n", os.Args[0])
		fmt.Fprintf(os.Stderr, "Commands:\n")
		fmt.Fprintf(os.Stderr, "  service                 Run as a service/daemon (tunnel, filter loop and API server)\n")
		fmt.Fprintf(os.Stderr, "  rules                   Show rules persisted in the rule store\n")
		fmt.Fprintf(os.Stderr, "  check                   Probe the upstream resolver and verify routing\n")
		fmt.Fprintf(os.Stderr, "  undo-routing            Remove leftover routes, rules and capture chains\n")
		fmt.Fprintf(os.Stderr, "  upgrade-config          Rewrite the configuration file with all defaults filled in\n")
		fmt.Fprintf(os.Stderr, "Options:\n")
		flag.PrintDefaults()
	}

	flag.Parse()

	if ctx.Verbose {
		log.SetVerbose(true)
	}

	// Ensure cfg file exists
	if _, err := os.Stat(ctx.ConfigPath); errors.Is(err, os.ErrNotExist) {
		log.Fatalf("Configuration file not found: %s", ctx.ConfigPath)
	}

	cmds := []commands.Runner{
		commands.CreateServiceCommand(),
		commands.CreateRulesCommand(),
		commands.CreateCheckCommand(),
		commands.CreateUndoCommand(),
		commands.CreateUpgradeConfigCommand(),
	}

	args := flag.Args()

	if len(args) < 1 {
		flag.Usage()
		os.Exit(1)
	}

	subcommand := args[0]
	for _, cmd := range cmds {
		if cmd.Name() == subcommand {
			if err := cmd.Init(args[1:], ctx); err != nil {
				log.Fatalf("Failed to initialize command: %v", err)
			}

			if err := cmd.Run(); err != nil {
				log.Fatalf("Failed to run command: %v", err)
			}

			os.Exit(0)
		}
	}

	log.Fatalf("Unknown subcommand: %s", subcommand)
}
