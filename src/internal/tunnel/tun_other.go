//go:build !linux

package tunnel

import (
	"context"

	"github.com/maksimkurb/keen-dnsfilter/src/internal/errors"
)

// Open is only implemented on linux.
func Open(ctx context.Context, opts Options) (*Device, error) {
	return nil, errors.NewTunnelError("tun interfaces are only supported on linux", nil)
}
