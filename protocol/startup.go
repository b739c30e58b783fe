// File: protocol/startup.go
// Author: momentics <momentics@gmail.com>
// License: Apache-2.0
//
// Connection startup: the untyped startup packet, password
// authentication, and the synchronous read loop that runs until the
// server reports readiness. The session actor takes over afterwards.

package protocol

import (
	"crypto/md5"
	"encoding/binary"
	"encoding/hex"
	"fmt"
	"io"

	"github.com/momentics/pgsession/api"
)

// Handshake performs startup and authentication on conn, blocking until
// ReadyForQuery or a failure.
func (c *Codec) Handshake(conn io.ReadWriter, cfg *api.Config) (*api.HandshakeInfo, error) {
	if _, err := conn.Write(startupPacket(cfg)); err != nil {
		return nil, transportErr(err)
	}

	info := &api.HandshakeInfo{Parameters: make(map[string]string)}
	for {
		f, err := ReadFrame(conn)
		if err != nil {
			return nil, transportErr(err)
		}
		switch f.Type {
		case msgAuthenticationR:
			if err := c.authenticate(conn, cfg, f.Payload); err != nil {
				return nil, err
			}

		case msgParameterStatusS:
			name, rest, err := cstring(f.Payload)
			if err != nil {
				return nil, protocolErr(err)
			}
			value, _, err := cstring(rest)
			if err != nil {
				return nil, protocolErr(err)
			}
			info.Parameters[name] = value

		case msgBackendKeyDataK:
			if len(f.Payload) != 8 {
				return nil, api.NewError(api.ErrCodeProtocol, "malformed BackendKeyData message")
			}
			info.BackendPID = binary.BigEndian.Uint32(f.Payload)
			info.SecretKey = binary.BigEndian.Uint32(f.Payload[4:])

		case msgReadyForQueryZ:
			if len(f.Payload) != 1 {
				return nil, api.NewError(api.ErrCodeProtocol, "malformed ReadyForQuery payload")
			}
			info.TxStatus = f.Payload[0]
			return info, nil

		case msgErrorResponseE:
			return nil, parseErrorFields(f.Payload, api.ErrCodeServer)

		case msgNoticeResponseN:
			// Startup notices carry no actionable state.

		default:
			return nil, api.Errorf(api.ErrCodeProtocol, "unexpected message type %q during startup", f.Type)
		}
	}
}

// authenticate answers one 'R' authentication request.
func (c *Codec) authenticate(conn io.ReadWriter, cfg *api.Config, payload []byte) error {
	if len(payload) < 4 {
		return api.NewError(api.ErrCodeProtocol, "malformed Authentication message")
	}
	switch code := binary.BigEndian.Uint32(payload); code {
	case authOK:
		return nil
	case authCleartextPassword:
		return writePassword(conn, cfg.Password)
	case authMD5Password:
		if len(payload) != 8 {
			return api.NewError(api.ErrCodeProtocol, "malformed MD5 authentication salt")
		}
		return writePassword(conn, md5Response(cfg.User, cfg.Password, payload[4:8]))
	default:
		return api.Errorf(api.ErrCodeNotSupported, "authentication method %d not supported", code)
	}
}

func writePassword(conn io.ReadWriter, password string) error {
	frame := AppendFrame(nil, msgPasswordp, appendCString(nil, password))
	if _, err := conn.Write(frame); err != nil {
		return transportErr(err)
	}
	return nil
}

// md5Response derives "md5" + hex(md5(hex(md5(password+user)) + salt)).
func md5Response(user, password string, salt []byte) string {
	inner := md5.Sum([]byte(password + user))
	outer := md5.New()
	outer.Write([]byte(hex.EncodeToString(inner[:])))
	outer.Write(salt)
	return "md5" + hex.EncodeToString(outer.Sum(nil))
}

// startupPacket builds the untyped startup frame: self-inclusive length,
// protocol version, NUL-separated parameter pairs, trailing NUL.
func startupPacket(cfg *api.Config) []byte {
	body := binary.BigEndian.AppendUint32(nil, protocolVersion)
	body = appendCString(body, "user")
	body = appendCString(body, cfg.User)
	if cfg.Database != "" {
		body = appendCString(body, "database")
		body = appendCString(body, cfg.Database)
	}
	for name, value := range cfg.Params {
		body = appendCString(body, name)
		body = appendCString(body, value)
	}
	body = append(body, 0)

	packet := binary.BigEndian.AppendUint32(nil, uint32(len(body)+4))
	return append(packet, body...)
}

// RequestTLS sends an SSLRequest packet and reads the server's one-byte
// verdict. Returns nil when the server accepted TLS.
func RequestTLS(conn io.ReadWriter) error {
	packet := binary.BigEndian.AppendUint32(nil, 8)
	packet = binary.BigEndian.AppendUint32(packet, sslRequestCode)
	if _, err := conn.Write(packet); err != nil {
		return transportErr(err)
	}
	var verdict [1]byte
	if _, err := io.ReadFull(conn, verdict[:]); err != nil {
		return transportErr(err)
	}
	if verdict[0] != 'S' {
		return api.Errorf(api.ErrCodeTransport, "server refused TLS (%q)", verdict[0])
	}
	return nil
}

func transportErr(err error) *api.Error {
	return api.Errorf(api.ErrCodeTransport, "transport: %v", err)
}

func protocolErr(err error) *api.Error {
	return api.NewError(api.ErrCodeProtocol, fmt.Sprintf("protocol: %v", err))
}
