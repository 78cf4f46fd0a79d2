// Package tunnel provides the Linux TUN device the filter reads DNS queries
// from, together with the routing that steers only the upstream resolver's
// traffic into it.
package tunnel
