//go:build !linux

package upstream

import (
	"fmt"
	"syscall"
)

func markControl(mark uint32) func(network, address string, c syscall.RawConn) error {
	if mark == 0 {
		return nil
	}
	return func(network, address string, c syscall.RawConn) error {
		return fmt.Errorf("socket marks are only supported on linux")
	}
}
