// File: transport/sockopt_linux.go
// Author: momentics <momentics@gmail.com>
// License: Apache-2.0
//
// Linux raw socket option application via the dialer control hook.

//go:build linux

package transport

import (
	"syscall"
	"time"

	"golang.org/x/sys/unix"

	"github.com/momentics/pgsession/api"
)

// controlFor builds a dialer control applying opts to the raw socket
// before connect. Returns nil when every option is at its zero value.
func controlFor(opts api.SockOpts) func(network, address string, c syscall.RawConn) error {
	if opts == (api.SockOpts{}) {
		return nil
	}
	return func(network, address string, c syscall.RawConn) error {
		var optErr error
		err := c.Control(func(fd uintptr) {
			optErr = applySockOpts(int(fd), opts)
		})
		if err != nil {
			return err
		}
		return optErr
	}
}

func applySockOpts(fd int, opts api.SockOpts) error {
	if opts.NoDelay {
		if err := unix.SetsockoptInt(fd, unix.IPPROTO_TCP, unix.TCP_NODELAY, 1); err != nil {
			return err
		}
	}
	if opts.KeepAlive {
		if err := unix.SetsockoptInt(fd, unix.SOL_SOCKET, unix.SO_KEEPALIVE, 1); err != nil {
			return err
		}
		if idle := time.Duration(opts.KeepAliveIdle); idle > 0 {
			secs := int(idle / time.Second)
			if secs < 1 {
				secs = 1
			}
			if err := unix.SetsockoptInt(fd, unix.IPPROTO_TCP, unix.TCP_KEEPIDLE, secs); err != nil {
				return err
			}
		}
	}
	if opts.RecvBuffer > 0 {
		if err := unix.SetsockoptInt(fd, unix.SOL_SOCKET, unix.SO_RCVBUF, opts.RecvBuffer); err != nil {
			return err
		}
	}
	if opts.SendBuffer > 0 {
		if err := unix.SetsockoptInt(fd, unix.SOL_SOCKET, unix.SO_SNDBUF, opts.SendBuffer); err != nil {
			return err
		}
	}
	return nil
}
