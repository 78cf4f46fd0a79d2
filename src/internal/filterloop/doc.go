// Package filterloop runs the packet loop that answers DNS queries read from
// the tunnel: blocked names get a synthesized 0.0.0.0 answer, everything else
// is forwarded to the upstream resolver.
//
// A Service owns exactly one worker goroutine while running. Start and Stop
// are idempotent and may be called from any goroutine; Stop closes the tunnel
// to wake the worker and waits for it to exit.
package filterloop
