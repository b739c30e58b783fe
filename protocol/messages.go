// File: protocol/messages.go
// Package protocol implements the PostgreSQL frontend/backend protocol
// binding consumed by the session actor.
// Author: momentics <momentics@gmail.com>
// License: Apache-2.0

package protocol

// Backend message type bytes. The suffix letter repeats the wire tag so
// call sites read unambiguously against captured traffic.
const (
	msgAuthenticationR      byte = 'R'
	msgBackendKeyDataK      byte = 'K'
	msgParameterStatusS     byte = 'S'
	msgReadyForQueryZ       byte = 'Z'
	msgRowDescriptionT      byte = 'T'
	msgDataRowD             byte = 'D'
	msgCommandCompleteC     byte = 'C'
	msgEmptyQueryResponseI  byte = 'I'
	msgErrorResponseE       byte = 'E'
	msgNoticeResponseN      byte = 'N'
	msgNotificationA        byte = 'A'
	msgNoDatan              byte = 'n'
	msgParameterDescription byte = 't'
)

// Frontend message type bytes.
const (
	msgQueryQ     byte = 'Q'
	msgPasswordp  byte = 'p'
	msgTerminateX byte = 'X'
)

// Authentication request sub-codes carried in 'R' messages.
const (
	authOK                = 0
	authCleartextPassword = 3
	authMD5Password       = 5
)

// Transaction status bytes carried in ReadyForQuery.
const (
	TxIdle          byte = 'I'
	TxInTransaction byte = 'T'
	TxInError       byte = 'E'
)

// Startup protocol version 3.0.
const protocolVersion = 196608

// sslRequestCode is the magic version requesting TLS negotiation.
const sslRequestCode = 80877103
