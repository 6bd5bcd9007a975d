//go:build !windows

package telnet

import "syscall"

// setReuseAddr marks the listener socket reusable so a restarted bridge can
// rebind its port while old client sessions linger in TIME_WAIT.
func setReuseAddr(fd uintptr) error {
	return syscall.SetsockoptInt(int(fd), syscall.SOL_SOCKET, syscall.SO_REUSEADDR, 1)
}
