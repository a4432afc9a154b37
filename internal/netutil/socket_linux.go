//go:build linux

// Package netutil sets up the non-blocking UDP sockets the nameserver pool
// and server port both need, and classifies the EAGAIN/EWOULDBLOCK errors
// that drain loops over those sockets have to recognize.
package netutil

import (
	"errors"
	"fmt"
	"net"
	"syscall"

	"golang.org/x/sys/unix"
)

// SetNonblocking puts conn's underlying file descriptor into non-blocking
// mode and enables SO_REUSEADDR so a restarted resolver can rebind
// immediately.
func SetNonblocking(conn *net.UDPConn) error {
	raw, err := conn.SyscallConn()
	if err != nil {
		return fmt.Errorf("netutil: SyscallConn: %w", err)
	}

	var controlErr error
	err = raw.Control(func(fd uintptr) {
		if sockErr := unix.SetsockoptInt(int(fd), unix.SOL_SOCKET, unix.SO_REUSEADDR, 1); sockErr != nil {
			controlErr = fmt.Errorf("netutil: SO_REUSEADDR: %w", sockErr)
			return
		}
		if sockErr := unix.SetNonblock(int(fd), true); sockErr != nil {
			controlErr = fmt.Errorf("netutil: set non-blocking: %w", sockErr)
		}
	})
	if err != nil {
		return fmt.Errorf("netutil: raw conn control: %w", err)
	}
	return controlErr
}

// IsEAGAIN reports whether err represents a would-block condition on a
// non-blocking socket (send buffer full on write, nothing queued on read).
func IsEAGAIN(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, unix.EAGAIN) || errors.Is(err, unix.EWOULDBLOCK) {
		return true
	}
	var sysErr *net.OpError
	if errors.As(err, &sysErr) {
		var errno syscall.Errno
		if errors.As(sysErr.Err, &errno) {
			return errno == unix.EAGAIN || errno == unix.EWOULDBLOCK
		}
	}
	return errors.Is(err, syscall.EAGAIN) || errors.Is(err, syscall.EWOULDBLOCK)
}
