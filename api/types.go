// File: api/types.go
// Package api
// Author: momentics <momentics@gmail.com>
// License: Apache-2.0
//
// Core value types shared between the session actor, the protocol codec,
// and the public client facade.

package api

// Handle is an opaque token identifying one logical listen/notify
// subscription on a session.
type Handle string

// Frame is one length-prefixed unit of the wire protocol, already
// stripped of its five-byte header. Payload excludes the length word.
type Frame struct {
	Type    byte
	Payload []byte
}

// Notification is an asynchronous server push delivered to a subscriber.
type Notification struct {
	// ConnID identifies the connection the notification arrived on
	// (the server backend process ID).
	ConnID uint32
	// Handle is the receiving subscription's own handle.
	Handle Handle
	// Channel is the notification channel name.
	Channel string
	// Payload is the notification payload text, possibly empty.
	Payload string
}

// Subscriber receives notifications for one or more subscriptions.
//
// Deliver is invoked from the session actor and must not block; slow
// consumers should buffer or drop internally. Done returns a channel
// that is closed when the subscriber is no longer alive; the session
// then removes its subscriptions as if Unlisten had been called. A nil
// Done channel disables liveness tracking.
type Subscriber interface {
	Deliver(n Notification)
	Done() <-chan struct{}
}

// Column describes one column of a result set.
type Column struct {
	Name    string
	TypeOID uint32
}

// Result is the outcome of one executed statement.
type Result struct {
	Columns    []Column
	Rows       [][]any
	CommandTag string
}

// ServerParameter is a server-reported runtime setting update.
type ServerParameter struct {
	Name  string
	Value string
}

// HandshakeInfo is what a successful handshake yields: the initial
// server parameter set and the backend identity used for notification
// tagging and query cancellation.
type HandshakeInfo struct {
	Parameters map[string]string
	BackendPID uint32
	SecretKey  uint32
	TxStatus   byte
}

// ValueDecoder converts the wire text of one field into a Go value.
// Registered per type OID in Config.Decoders.
type ValueDecoder func(data []byte) (any, error)
