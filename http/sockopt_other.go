//go:build !unix

package http

import "syscall"

// Go already opens tcp6 listeners with IPV6_V6ONLY on these platforms.
func controlV6Only(network, address string, rc syscall.RawConn) error {
	return nil
}
