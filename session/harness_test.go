// File: session/harness_test.go
// Author: momentics <momentics@gmail.com>
// License: Apache-2.0
//
// In-memory backend: serves scripted replies to wire commands over one
// half of a net.Pipe, recording every statement it receives.

package session

import (
	"encoding/binary"
	"net"
	"strings"
	"testing"
	"time"

	"github.com/momentics/pgsession/api"
	"github.com/momentics/pgsession/protocol"
)

func cstr(s string) []byte {
	return append([]byte(s), 0)
}

func readyFrame(tx byte) []byte {
	return protocol.AppendFrame(nil, 'Z', []byte{tx})
}

func completeFrames(tag string) [][]byte {
	return [][]byte{
		protocol.AppendFrame(nil, 'C', cstr(tag)),
		readyFrame('I'),
	}
}

func errorFrames(severity, sqlstate, message string) [][]byte {
	p := append([]byte{'S'}, cstr(severity)...)
	p = append(p, 'C')
	p = append(p, cstr(sqlstate)...)
	p = append(p, 'M')
	p = append(p, cstr(message)...)
	p = append(p, 0)
	return [][]byte{
		protocol.AppendFrame(nil, 'E', p),
		readyFrame('E'),
	}
}

func notificationFrame(pid uint32, channel, payload string) []byte {
	p := binary.BigEndian.AppendUint32(nil, pid)
	p = append(p, cstr(channel)...)
	p = append(p, cstr(payload)...)
	return protocol.AppendFrame(nil, 'A', p)
}

func parameterFrame(name, value string) []byte {
	return protocol.AppendFrame(nil, 'S', append(cstr(name), cstr(value)...))
}

// fakeBackend reads wire commands from its pipe end and answers via the
// reply function. Statements arrive on queries in wire order.
type fakeBackend struct {
	conn       net.Conn
	queries    chan string
	terminated chan struct{}
	// reply maps a statement to its response frames; nil falls back to
	// CommandComplete + ReadyForQuery.
	reply func(stmt string) [][]byte
}

func (b *fakeBackend) serve() {
	for {
		f, err := protocol.ReadFrame(b.conn)
		if err != nil {
			return
		}
		switch f.Type {
		case 'Q':
			stmt := strings.TrimRight(string(f.Payload), "\x00")
			b.queries <- stmt
			frames := completeFrames("OK")
			if b.reply != nil {
				if custom := b.reply(stmt); custom != nil {
					frames = custom
				}
			}
			for _, fr := range frames {
				if _, err := b.conn.Write(fr); err != nil {
					return
				}
			}
		case 'X':
			close(b.terminated)
			b.conn.Close()
			return
		}
	}
}

// push writes server-initiated frames, e.g. notifications.
func (b *fakeBackend) push(frames ...[]byte) {
	for _, fr := range frames {
		b.conn.Write(fr)
	}
}

// newTestSession wires a session actor to a fake backend, skipping the
// real handshake.
func newTestSession(t *testing.T, reply func(string) [][]byte) (*Session, *fakeBackend) {
	t.Helper()
	clientEnd, serverEnd := net.Pipe()
	b := &fakeBackend{
		conn:       serverEnd,
		queries:    make(chan string, 16),
		terminated: make(chan struct{}),
		reply:      reply,
	}
	go b.serve()

	cfg := api.DefaultConfig()
	cfg.User = "test"
	s := New(clientEnd, cfg, protocol.NewCodec(nil))
	s.Start(func() (*api.HandshakeInfo, error) {
		return &api.HandshakeInfo{
			Parameters: map[string]string{"server_version": "16.3"},
			BackendPID: 42,
			SecretKey:  7,
			TxStatus:   'I',
		}, nil
	})
	t.Cleanup(func() {
		s.Stop()
		serverEnd.Close()
		clientEnd.Close()
	})
	return s, b
}

// expectQuery asserts the next wire statement the backend sees.
func expectQuery(t *testing.T, b *fakeBackend, want string) {
	t.Helper()
	select {
	case got := <-b.queries:
		if got != want {
			t.Fatalf("wire statement mismatch: got %q want %q", got, want)
		}
	case <-time.After(2 * time.Second):
		t.Fatalf("timed out waiting for wire statement %q", want)
	}
}

// expectNoQuery asserts no wire traffic arrives within the window.
func expectNoQuery(t *testing.T, b *fakeBackend) {
	t.Helper()
	select {
	case got := <-b.queries:
		t.Fatalf("unexpected wire statement %q", got)
	case <-time.After(50 * time.Millisecond):
	}
}

// chanSub is a subscriber backed by a buffered channel with an
// explicit liveness switch.
type chanSub struct {
	ch   chan api.Notification
	down chan struct{}
}

func newChanSub() *chanSub {
	return &chanSub{
		ch:   make(chan api.Notification, 8),
		down: make(chan struct{}),
	}
}

func (s *chanSub) Deliver(n api.Notification) {
	select {
	case s.ch <- n:
	default:
	}
}

func (s *chanSub) Done() <-chan struct{} { return s.down }

func (s *chanSub) expect(t *testing.T) api.Notification {
	t.Helper()
	select {
	case n := <-s.ch:
		return n
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for notification")
		return api.Notification{}
	}
}
