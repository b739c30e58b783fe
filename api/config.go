// File: api/config.go
// Package api
// Author: momentics <momentics@gmail.com>
// License: Apache-2.0
//
// Connection configuration consumed at connect time. Environment
// defaulting and CLI parsing are a caller concern; this layer only
// recognizes the options below.

package api

import (
	"crypto/tls"
	"time"

	"github.com/BurntSushi/toml"
	"github.com/rs/zerolog"
)

// Duration wraps time.Duration with TOML text decoding.
type Duration time.Duration

// UnmarshalText implements encoding.TextUnmarshaler for TOML fields.
func (d *Duration) UnmarshalText(text []byte) error {
	v, err := time.ParseDuration(string(text))
	if err != nil {
		return err
	}
	*d = Duration(v)
	return nil
}

// SockOpts carries raw socket options applied to the dialed connection.
// Zero values leave the kernel defaults untouched.
type SockOpts struct {
	NoDelay       bool     `toml:"nodelay"`
	KeepAlive     bool     `toml:"keepalive"`
	KeepAliveIdle Duration `toml:"keepalive_idle"`
	RecvBuffer    int      `toml:"recv_buffer"`
	SendBuffer    int      `toml:"send_buffer"`
}

// Config holds all recognized connection options.
type Config struct {
	Host     string `toml:"host"`
	Port     int    `toml:"port"`
	Database string `toml:"database"`
	User     string `toml:"user"`
	Password string `toml:"password"`

	// Params are extra server parameters sent in the startup packet,
	// e.g. application_name.
	Params map[string]string `toml:"params"`

	ConnectTimeout Duration `toml:"connect_timeout"`

	// TLS upgrades the connection before the handshake. TLSConfig, when
	// nil, defaults to a config verifying Host.
	TLS       bool        `toml:"tls"`
	TLSConfig *tls.Config `toml:"-"`

	SockOpts SockOpts `toml:"sockopts"`

	// Synchronous makes Connect block until the handshake completes.
	// When false, Connect returns immediately and queued commands
	// dispatch once the session becomes ready.
	Synchronous bool `toml:"synchronous"`

	// ReadBufferSize is the size of pooled read buffers.
	ReadBufferSize int `toml:"read_buffer_size"`

	// Decoders maps type OIDs to value-conversion extensions applied to
	// result fields. Unregistered OIDs decode to string.
	Decoders map[uint32]ValueDecoder `toml:"-"`

	// Codec overrides the default wire codec.
	Codec Codec `toml:"-"`

	// Logger receives structured session events. Defaults to a no-op.
	Logger zerolog.Logger `toml:"-"`

	loggerSet bool
}

// DefaultConfig returns a config with library defaults applied.
func DefaultConfig() *Config {
	return &Config{
		Host:           "localhost",
		Port:           5432,
		ConnectTimeout: Duration(5 * time.Second),
		Synchronous:    true,
		ReadBufferSize: 8192,
		Logger:         zerolog.Nop(),
		loggerSet:      true,
	}
}

// WithLogger sets the session logger.
func (c *Config) WithLogger(log zerolog.Logger) *Config {
	c.Logger = log
	c.loggerSet = true
	return c
}

// Normalize fills unset fields with defaults and validates the result.
func (c *Config) Normalize() error {
	if c.Host == "" {
		c.Host = "localhost"
	}
	if c.Port == 0 {
		c.Port = 5432
	}
	if c.User == "" {
		return NewError(ErrCodeUsage, "config: user is required")
	}
	if c.ConnectTimeout == 0 {
		c.ConnectTimeout = Duration(5 * time.Second)
	}
	if c.ReadBufferSize <= 0 {
		c.ReadBufferSize = 8192
	}
	if !c.loggerSet {
		c.Logger = zerolog.Nop()
		c.loggerSet = true
	}
	return nil
}

// LoadConfig reads a TOML connection profile from path.
func LoadConfig(path string) (*Config, error) {
	cfg := DefaultConfig()
	if _, err := toml.DecodeFile(path, cfg); err != nil {
		return nil, Errorf(ErrCodeUsage, "config: %v", err)
	}
	if err := cfg.Normalize(); err != nil {
		return nil, err
	}
	return cfg, nil
}
