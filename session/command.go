// File: session/command.go
// Package session implements the single-goroutine connection actor:
// command queuing, listen/notify bookkeeping, and frame dispatch.
// Author: momentics <momentics@gmail.com>
// License: Apache-2.0

package session

import "github.com/momentics/pgsession/api"

// operation is the closed set of command kinds. Dispatch is by
// exhaustive type switch.
type operation interface {
	isOperation()
}

// opQuery executes one simple-query statement.
type opQuery struct {
	statement string
}

// opListen emits a wire LISTEN for channel on behalf of handle.
type opListen struct {
	channel string
	handle  api.Handle
}

// opUnlisten emits a wire UNLISTEN for channel.
type opUnlisten struct {
	channel string
}

// opInternal is a placeholder for system-initiated wire traffic with no
// caller, e.g. the UNLISTEN triggered by a dead subscriber. It rides
// the normal completion-triggered dispatch path instead of
// special-casing queue advancement.
type opInternal struct {
	channel string
}

func (opQuery) isOperation()    {}
func (opListen) isOperation()   {}
func (opUnlisten) isOperation() {}
func (opInternal) isOperation() {}

// callReply is what a caller receives for one command. Exactly one
// reply is delivered per command: synchronously at enqueue time for
// usage errors, or on exchange completion otherwise.
type callReply struct {
	result *api.Result
	handle api.Handle
	err    error
}

// command is one queue entry.
type command struct {
	op operation

	// replyTo receives the command's single reply; nil for internally
	// originated commands. Always buffered so delivery never blocks.
	replyTo chan<- callReply

	// precomputed, when set, is delivered instead of dispatching a wire
	// command: the wire-level work was deduplicated away.
	precomputed *callReply

	// exchange accumulates the in-flight wire reply.
	exchange *api.Exchange
}

// deliver sends the command's single reply, if anyone is waiting.
func (c *command) deliver(r callReply) {
	if c.replyTo == nil {
		return
	}
	c.replyTo <- r
	c.replyTo = nil
}
