// File: api/protocol.go
// Package api
// Author: momentics <momentics@gmail.com>
// License: Apache-2.0
//
// Collaborator boundary between the session actor and the wire codec.
// The actor owns queuing, ordering, and subscription bookkeeping; the
// codec owns byte-level message encoding/decoding and the handshake.

package api

import "io"

// Exchange accumulates the server's reply to the wire command currently
// in flight. The actor creates a fresh Exchange per dispatched command
// and the codec fills it as frames arrive.
type Exchange struct {
	Result Result
	Err    *Error
}

// MessageEvent is the codec's verdict on one decoded frame. At most one
// of the pointer fields is set; Done marks completion of the in-flight
// exchange and tells the actor to advance the queue.
type MessageEvent struct {
	// Done is set when the server signaled end of the current exchange.
	Done bool
	// TxStatus is the server transaction status, valid when Done.
	TxStatus byte
	// Notification is an asynchronous channel notification. The handle
	// field is left zero; the registry stamps it during fan-out.
	Notification *Notification
	// Parameter is an asynchronous server-parameter update.
	Parameter *ServerParameter
	// Notice is a non-fatal server diagnostic, logged and dropped.
	Notice *Error
	// Fatal terminates the session when set.
	Fatal *Error
}

// Codec drives the byte-level protocol on behalf of the session actor.
type Codec interface {
	// Handshake performs startup and authentication on conn, blocking
	// until the server reports readiness or a failure.
	Handshake(conn io.ReadWriter, cfg *Config) (*HandshakeInfo, error)

	// EncodeQuery encodes one simple-query wire command.
	EncodeQuery(statement string) ([]byte, error)

	// EncodeTerminate encodes the session termination wire command.
	EncodeTerminate() []byte

	// OnMessage advances protocol state for one decoded frame. x is the
	// in-flight exchange, nil when no command is in flight; receiving an
	// exchange-scoped frame with x == nil is a protocol error.
	OnMessage(f Frame, x *Exchange) MessageEvent
}
