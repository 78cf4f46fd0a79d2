// Package networking manages the system network state the DNS filter needs
// around its tunnel interface.
//
// Three components are involved, applied in order and removed in reverse:
//
//   - IpRoute: the upstream resolver's /32 routed into the tunnel in a
//     dedicated table. Nothing else is routed to the tunnel.
//   - IpRule: "not fwmark <bypass> lookup <table>", so every socket except
//     the resolver's own marked socket follows that table.
//   - DNSCaptureComponent (optional): a nat chain jumped to from OUTPUT that
//     DNATs all outgoing UDP DNS to the upstream resolver, which makes every
//     query on the host pass through the filter.
//
// Capture rules are templates expanded with fasttemplate, for example:
//
//	-p udp --dport 53 -m mark ! --mark {{bypass_fwmark}} -j DNAT --to-destination {{upstream}}:{{upstream_port}}
//
// Each component implements NetworkingComponent, which also backs the
// self-check and undo commands.
//
//	mgr := networking.NewManager(route, rule, capture)
//	if err := mgr.Apply(); err != nil {
//	    return err
//	}
//	defer mgr.Undo()
package networking
