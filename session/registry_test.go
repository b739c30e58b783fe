// File: session/registry_test.go
// Author: momentics <momentics@gmail.com>
// License: Apache-2.0

package session

import (
	"testing"

	"github.com/momentics/pgsession/api"
)

type recordingSub struct {
	got  []api.Notification
	down chan struct{}
}

func newRecordingSub() *recordingSub {
	return &recordingSub{down: make(chan struct{})}
}

func (s *recordingSub) Deliver(n api.Notification) { s.got = append(s.got, n) }
func (s *recordingSub) Done() <-chan struct{}      { return s.down }

func TestRegistryDedupCounts(t *testing.T) {
	r := newRegistry()

	a, first := r.add("events", newRecordingSub())
	if !first {
		t.Fatal("first subscriber must require a wire LISTEN")
	}
	b, first := r.add("events", newRecordingSub())
	if first {
		t.Fatal("second subscriber must not require wire traffic")
	}

	if _, last, ok := r.remove(a); !ok || last {
		t.Fatal("removing one of two subscribers must not require wire traffic")
	}
	channel, last, ok := r.remove(b)
	if !ok || !last || channel != "events" {
		t.Fatalf("removing the final subscriber must require UNLISTEN: %q %v %v", channel, last, ok)
	}
}

func TestRegistryNoEmptyChannelSets(t *testing.T) {
	r := newRegistry()
	h, _ := r.add("events", newRecordingSub())
	r.remove(h)
	if _, exists := r.channels["events"]; exists {
		t.Error("channel left mapped to an empty handle set")
	}
	if len(r.listeners) != 0 {
		t.Error("listener map left stale entries")
	}
}

func TestRegistryUnknownHandle(t *testing.T) {
	r := newRegistry()
	r.add("events", newRecordingSub())

	before := len(r.listeners)
	if _, _, ok := r.remove(api.Handle("never-issued")); ok {
		t.Fatal("unknown handle must not remove anything")
	}
	if len(r.listeners) != before {
		t.Error("registry state mutated by failed remove")
	}

	// Removing twice: the second attempt sees an unknown handle.
	h, _ := r.add("other", newRecordingSub())
	r.remove(h)
	if _, _, ok := r.remove(h); ok {
		t.Error("double remove must fail")
	}
}

func TestRegistryFanOut(t *testing.T) {
	r := newRegistry()
	subA := newRecordingSub()
	subB := newRecordingSub()
	other := newRecordingSub()
	ha, _ := r.add("events", subA)
	hb, _ := r.add("events", subB)
	r.add("elsewhere", other)

	n := r.fanOut(42, api.Notification{Channel: "events", Payload: "hello"})
	if n != 2 {
		t.Fatalf("expected 2 deliveries, got %d", n)
	}
	if len(subA.got) != 1 || len(subB.got) != 1 || len(other.got) != 0 {
		t.Fatal("fan-out hit the wrong subscribers")
	}
	if subA.got[0].Handle != ha || subB.got[0].Handle != hb {
		t.Error("notifications not stamped with the receiving handle")
	}
	if subA.got[0].ConnID != 42 || subA.got[0].Payload != "hello" {
		t.Errorf("bad notification contents: %+v", subA.got[0])
	}
}
