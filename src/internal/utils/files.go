package utils

import (
	"io"

	"github.com/maksimkurb/keen-dnsfilter/src/internal/log"
)

// CloseOrWarn closes c and logs a warning on failure.
func CloseOrWarn(c io.Closer, what string) {
	if c == nil {
		return
	}
	if err := c.Close(); err != nil {
		log.Warnf("Failed to close %s: %v", what, err)
	}
}
