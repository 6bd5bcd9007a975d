//go:build windows

package telnet

import "syscall"

// setReuseAddr marks the listener socket reusable; Windows needs the handle
// cast but the semantics match the unix build.
func setReuseAddr(fd uintptr) error {
	return syscall.SetsockoptInt(syscall.Handle(fd), syscall.SOL_SOCKET, syscall.SO_REUSEADDR, 1)
}
