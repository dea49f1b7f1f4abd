//go:build unix

package http

import (
	"syscall"

	"golang.org/x/sys/unix"
)

// controlV6Only keeps IPv6 listeners off the IPv4 space so "8080" and
// "[::]:8080" can be bound together.
func controlV6Only(network, address string, rc syscall.RawConn) error {
	var sockErr error
	err := rc.Control(func(fd uintptr) {
		sockErr = unix.SetsockoptInt(int(fd), unix.IPPROTO_IPV6, unix.IPV6_V6ONLY, 1)
	})
	if err != nil {
		return err
	}
	return sockErr
}
