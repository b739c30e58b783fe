// File: client/subscriber.go
// Author: momentics <momentics@gmail.com>
// License: Apache-2.0

package client

import (
	"context"

	"github.com/momentics/pgsession/api"
)

// ChanSubscriber adapts a notification channel to api.Subscriber.
// Delivery never blocks the session actor: notifications are dropped
// when the channel's buffer is full. Cancelling ctx ends the
// subscriber's liveness, removing its subscriptions server-side.
type ChanSubscriber struct {
	ctx context.Context
	out chan<- api.Notification
}

var _ api.Subscriber = (*ChanSubscriber)(nil)

// NewChanSubscriber builds a subscriber delivering into out. ctx may be
// context.Background() for a subscriber that lives as long as the
// session.
func NewChanSubscriber(ctx context.Context, out chan<- api.Notification) *ChanSubscriber {
	return &ChanSubscriber{ctx: ctx, out: out}
}

// Deliver implements api.Subscriber with a non-blocking send.
func (s *ChanSubscriber) Deliver(n api.Notification) {
	select {
	case s.out <- n:
	default:
	}
}

// Done implements api.Subscriber liveness from the context.
func (s *ChanSubscriber) Done() <-chan struct{} {
	return s.ctx.Done()
}
