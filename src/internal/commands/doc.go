// Package commands implements CLI command handlers for keen-dnsfilter.
//
// Each command implements the Runner interface:
//   - Init(): Parse arguments and validate configuration
//   - Run(): Execute the command
//   - Name(): Return command name for routing
//
// # Available Commands
//
//   - service: run the filter loop and the HTTP API until terminated
//   - rules: print what the rule store holds
//   - check: send a probe query to the upstream resolver and verify routing
//   - undo-routing: remove routes, rules and capture chains left behind
//
// # Example Usage
//
//	cmd := commands.CreateRulesCommand()
//	ctx := &commands.AppContext{
//	    ConfigPath: "/opt/etc/keen-dnsfilter/keen-dnsfilter.conf",
//	}
//	if err := cmd.Init(args, ctx); err != nil {
//	    log.Fatalf("%v", err)
//	}
//	if err := cmd.Run(); err != nil {
//	    log.Fatalf("%v", err)
//	}
package commands
