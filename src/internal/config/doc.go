// Package config handles configuration file parsing and validation for keen-dnsfilter.
//
// This package reads TOML configuration files and provides strongly-typed
// structures for accessing configuration data. Missing sections and zero
// values are filled with defaults after loading.
//
// # Configuration Structure
//
// The configuration file defines:
//   - General settings (rule store path, recent query log size)
//   - The TUN interface and its policy routing (table, priority, bypass fwmark)
//   - The upstream resolver (blank host means 1.1.1.1)
//   - Optional iptables capture of all outgoing DNS
//   - The local HTTP API
//   - Filter rules applied on start and on SIGHUP
//
// # Example Usage
//
//	cfg, err := config.LoadConfig("/etc/keen-dnsfilter.toml")
//	if err != nil {
//	    log.Fatalf("%v", err)
//	}
//	if err := cfg.ValidateConfig(); err != nil {
//	    log.Fatalf("%v", err)
//	}
//
// Capture rules are templates. Available variables are {{upstream}},
// {{upstream_port}}, {{bypass_fwmark}}, {{tun}} and {{table}}.
package config
