// Package utils provides small helpers shared across keen-dnsfilter:
// path resolution relative to the config file, label-boundary domain
// matching and IPv4 address arithmetic for the tunnel interface.
package utils
