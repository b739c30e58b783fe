// File: session/queue.go
// Author: momentics <momentics@gmail.com>
// License: Apache-2.0
//
// FIFO of pending commands. A ring buffer holds the normal submission
// order; a small stack in front of it holds entries inserted ahead of
// the queue (internal placeholders for system-initiated wire traffic).

package session

import "github.com/eapache/queue"

// commandQueue is owned by the session actor; not safe for concurrent
// use.
type commandQueue struct {
	// front holds commands pushed ahead of the ring, most recent last.
	front []*command
	ring  *queue.Queue
}

func newCommandQueue() *commandQueue {
	return &commandQueue{ring: queue.New()}
}

// Len returns the number of queued commands.
func (q *commandQueue) Len() int {
	return len(q.front) + q.ring.Length()
}

// PushBack appends a command in submission order.
func (q *commandQueue) PushBack(c *command) {
	q.ring.Add(c)
}

// PushFront inserts a command ahead of every queued entry.
func (q *commandQueue) PushFront(c *command) {
	q.front = append(q.front, c)
}

// PeekFront returns the head without removing it, or nil when empty.
func (q *commandQueue) PeekFront() *command {
	if n := len(q.front); n > 0 {
		return q.front[n-1]
	}
	if q.ring.Length() == 0 {
		return nil
	}
	return q.ring.Peek().(*command)
}

// PopFront removes and returns the head, or nil when empty.
func (q *commandQueue) PopFront() *command {
	if n := len(q.front); n > 0 {
		c := q.front[n-1]
		q.front[n-1] = nil
		q.front = q.front[:n-1]
		return c
	}
	if q.ring.Length() == 0 {
		return nil
	}
	return q.ring.Remove().(*command)
}

// ReplaceFront applies transform to the head in place. No-op when the
// queue is empty.
func (q *commandQueue) ReplaceFront(transform func(*command)) {
	if c := q.PeekFront(); c != nil {
		transform(c)
	}
}

// Drain removes every queued command, head first.
func (q *commandQueue) Drain() []*command {
	out := make([]*command, 0, q.Len())
	for c := q.PopFront(); c != nil; c = q.PopFront() {
		out = append(out, c)
	}
	return out
}
