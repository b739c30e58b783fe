// File: session/registry.go
// Author: momentics <momentics@gmail.com>
// License: Apache-2.0
//
// Listen/notify bookkeeping: handle → (channel, subscriber) plus
// channel → handle-set, with reference-counted dedup of wire-level
// LISTEN/UNLISTEN. A channel never maps to an empty handle set.

package session

import (
	"github.com/google/uuid"

	"github.com/momentics/pgsession/api"
)

type subscription struct {
	channel string
	sub     api.Subscriber
	// unwatch stops the liveness watcher for this handle.
	unwatch chan struct{}
}

// registry is owned by the session actor; not safe for concurrent use.
type registry struct {
	listeners map[api.Handle]subscription
	channels  map[string]map[api.Handle]struct{}
}

func newRegistry() *registry {
	return &registry{
		listeners: make(map[api.Handle]subscription),
		channels:  make(map[string]map[api.Handle]struct{}),
	}
}

// add records a subscription and reports whether it is the channel's
// first, i.e. whether a wire LISTEN is required.
func (r *registry) add(channel string, sub api.Subscriber) (api.Handle, bool) {
	handle := api.Handle(uuid.NewString())
	r.listeners[handle] = subscription{
		channel: channel,
		sub:     sub,
		unwatch: make(chan struct{}),
	}
	set := r.channels[channel]
	if set == nil {
		set = make(map[api.Handle]struct{})
		r.channels[channel] = set
	}
	set[handle] = struct{}{}
	return handle, len(set) == 1
}

// remove deletes a subscription and reports its channel and whether it
// was the channel's last, i.e. whether a wire UNLISTEN is required.
// ok is false for unknown handles; nothing is mutated then.
func (r *registry) remove(handle api.Handle) (channel string, last, ok bool) {
	s, ok := r.listeners[handle]
	if !ok {
		return "", false, false
	}
	delete(r.listeners, handle)
	close(s.unwatch)

	set := r.channels[s.channel]
	delete(set, handle)
	if len(set) == 0 {
		delete(r.channels, s.channel)
		return s.channel, true, true
	}
	return s.channel, false, true
}

// fanOut delivers one notification to every subscriber of its channel,
// stamped with the connection identity and the receiving handle.
func (r *registry) fanOut(connID uint32, n api.Notification) int {
	set := r.channels[n.Channel]
	for handle := range set {
		s := r.listeners[handle]
		out := n
		out.ConnID = connID
		out.Handle = handle
		s.sub.Deliver(out)
	}
	return len(set)
}

// stopAll halts every liveness watcher; used at termination.
func (r *registry) stopAll() {
	for handle, s := range r.listeners {
		close(s.unwatch)
		delete(r.listeners, handle)
	}
	for channel := range r.channels {
		delete(r.channels, channel)
	}
}
