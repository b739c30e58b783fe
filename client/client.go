// File: client/client.go
// Package client is the public facade: it dials the transport, runs the
// handshake, and exposes the session operations.
// Author: momentics <momentics@gmail.com>
// License: Apache-2.0

package client

import (
	"net"

	"github.com/momentics/pgsession/api"
	"github.com/momentics/pgsession/protocol"
	"github.com/momentics/pgsession/session"
	"github.com/momentics/pgsession/transport"
)

// Client is one logical database connection.
type Client struct {
	sess *session.Session
}

// Connect dials cfg's server and starts the session actor. With
// cfg.Synchronous set it blocks until the handshake completes;
// otherwise it returns immediately and requests queue until the session
// is ready.
func Connect(cfg *api.Config) (*Client, error) {
	if cfg == nil {
		cfg = api.DefaultConfig()
	}
	if err := cfg.Normalize(); err != nil {
		return nil, err
	}
	codec := cfg.Codec
	if codec == nil {
		codec = protocol.NewCodec(cfg.Decoders)
	}

	conn, err := transport.Dial(cfg)
	if err != nil {
		return nil, err
	}

	if cfg.Synchronous {
		info, err := codec.Handshake(conn, cfg)
		if err != nil {
			conn.Close()
			return nil, err
		}
		return newClient(conn, cfg, codec, func() (*api.HandshakeInfo, error) {
			return info, nil
		}), nil
	}
	return newClient(conn, cfg, codec, func() (*api.HandshakeInfo, error) {
		return codec.Handshake(conn, cfg)
	}), nil
}

func newClient(conn net.Conn, cfg *api.Config, codec api.Codec, handshake func() (*api.HandshakeInfo, error)) *Client {
	sess := session.New(conn, cfg, codec)
	sess.Start(handshake)
	return &Client{sess: sess}
}

// Query executes one simple-query statement. Params are reserved for a
// future extended-protocol codec; passing any yields a usage error.
func (c *Client) Query(statement string, params ...any) (*api.Result, error) {
	if len(params) > 0 {
		return nil, api.NewError(api.ErrCodeNotSupported, "query parameters require an extended-protocol codec")
	}
	return c.sess.Query(statement)
}

// Listen subscribes sub to a notification channel.
func (c *Client) Listen(channel string, sub api.Subscriber) (api.Handle, error) {
	return c.sess.Listen(channel, sub)
}

// Unlisten cancels one subscription by handle.
func (c *Client) Unlisten(handle api.Handle) error {
	return c.sess.Unlisten(handle)
}

// Parameters returns the current server-parameter snapshot.
func (c *Client) Parameters() map[string]string {
	return c.sess.Parameters()
}

// Stop terminates the session gracefully; idempotent.
func (c *Client) Stop() error {
	return c.sess.Stop()
}

// Done is closed once the session reaches its terminal state.
func (c *Client) Done() <-chan struct{} {
	return c.sess.Done()
}
