// File: transport/conn.go
// Package transport dials the server socket, applies raw socket
// options, and negotiates the optional TLS upgrade. The session actor
// owns the returned connection exclusively.
// Author: momentics <momentics@gmail.com>
// License: Apache-2.0

package transport

import (
	"crypto/tls"
	"net"
	"strconv"
	"time"

	"github.com/momentics/pgsession/api"
	"github.com/momentics/pgsession/protocol"
)

// Dial establishes the transport connection described by cfg: TCP with
// the configured timeout and socket options, then the TLS upgrade when
// requested.
func Dial(cfg *api.Config) (net.Conn, error) {
	d := net.Dialer{
		Timeout: time.Duration(cfg.ConnectTimeout),
		Control: controlFor(cfg.SockOpts),
	}
	addr := net.JoinHostPort(cfg.Host, strconv.Itoa(cfg.Port))
	conn, err := d.Dial("tcp", addr)
	if err != nil {
		return nil, api.Errorf(api.ErrCodeTransport, "dial %s: %v", addr, err)
	}
	if !cfg.TLS {
		return conn, nil
	}

	if err := protocol.RequestTLS(conn); err != nil {
		conn.Close()
		return nil, err
	}
	tlsConf := cfg.TLSConfig
	if tlsConf == nil {
		tlsConf = &tls.Config{ServerName: cfg.Host}
	}
	tconn := tls.Client(conn, tlsConf)
	tconn.SetDeadline(time.Now().Add(time.Duration(cfg.ConnectTimeout)))
	if err := tconn.Handshake(); err != nil {
		conn.Close()
		return nil, api.Errorf(api.ErrCodeTransport, "tls handshake: %v", err)
	}
	tconn.SetDeadline(time.Time{})
	return tconn, nil
}
