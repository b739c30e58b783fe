// File: transport/sockopt_stub.go
// Author: momentics <momentics@gmail.com>
// License: Apache-2.0
//
// Non-Linux fallback: raw socket options are ignored.

//go:build !linux

package transport

import (
	"syscall"

	"github.com/momentics/pgsession/api"
)

// controlFor returns nil on platforms without raw option support;
// the kernel defaults apply.
func controlFor(opts api.SockOpts) func(network, address string, c syscall.RawConn) error {
	return nil
}
