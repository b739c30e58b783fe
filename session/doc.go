// Package session
// Author: momentics <momentics@gmail.com>
//
// Single-goroutine connection actor for the database wire protocol.
// The actor exclusively owns the socket, the pending-command queue, and
// the listen/notify registry; caller requests, socket bytes, and
// subscriber-liveness events flow through one mailbox and are handled
// one at a time, so no state needs locking.
//
// At most one wire exchange is in flight. Additional commands pipeline
// behind it and replies are delivered in submission order, including
// for deduplicated LISTEN/UNLISTEN commands that never touch the wire.

package session
