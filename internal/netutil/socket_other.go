//go:build !linux

package netutil

import (
	"errors"
	"net"
	"syscall"
)

// SetNonblocking puts conn's underlying file descriptor into non-blocking
// mode on platforms without Linux's SO_REUSEPORT-adjacent option set.
func SetNonblocking(conn *net.UDPConn) error {
	raw, err := conn.SyscallConn()
	if err != nil {
		return err
	}
	var controlErr error
	err = raw.Control(func(fd uintptr) {
		controlErr = syscall.SetNonblock(int(fd), true)
	})
	if err != nil {
		return err
	}
	return controlErr
}

// IsEAGAIN reports whether err represents a would-block condition.
func IsEAGAIN(err error) bool {
	return errors.Is(err, syscall.EAGAIN) || errors.Is(err, syscall.EWOULDBLOCK)
}
