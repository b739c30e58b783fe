// File: client/client_test.go
// Author: momentics <momentics@gmail.com>
// License: Apache-2.0
//
// End-to-end tests against a scripted backend on a loopback listener:
// real dial, real handshake, real session actor.

package client_test

import (
	"context"
	"encoding/binary"
	"errors"
	"io"
	"net"
	"strconv"
	"strings"
	"testing"
	"time"

	"github.com/momentics/pgsession/api"
	"github.com/momentics/pgsession/client"
	"github.com/momentics/pgsession/protocol"
)

func cstr(s string) []byte {
	return append([]byte(s), 0)
}

// serveBackend accepts one connection and speaks just enough of the
// backend protocol: cleartext auth, then OK replies to every statement.
func serveBackend(t *testing.T, ln net.Listener, statements chan<- string) {
	conn, err := ln.Accept()
	if err != nil {
		return
	}
	defer conn.Close()

	// Startup packet.
	var lenBuf [4]byte
	if _, err := io.ReadFull(conn, lenBuf[:]); err != nil {
		t.Errorf("read startup: %v", err)
		return
	}
	body := make([]byte, binary.BigEndian.Uint32(lenBuf[:])-4)
	if _, err := io.ReadFull(conn, body); err != nil {
		t.Errorf("read startup body: %v", err)
		return
	}

	// Cleartext password round trip.
	conn.Write(protocol.AppendFrame(nil, 'R', binary.BigEndian.AppendUint32(nil, 3)))
	if f, err := protocol.ReadFrame(conn); err != nil || f.Type != 'p' {
		t.Errorf("expected password message, got %v %v", f, err)
		return
	}
	conn.Write(protocol.AppendFrame(nil, 'R', binary.BigEndian.AppendUint32(nil, 0)))
	conn.Write(protocol.AppendFrame(nil, 'S', append(cstr("server_version"), cstr("16.3")...)))
	key := binary.BigEndian.AppendUint32(nil, 31337)
	key = binary.BigEndian.AppendUint32(key, 1)
	conn.Write(protocol.AppendFrame(nil, 'K', key))
	conn.Write(protocol.AppendFrame(nil, 'Z', []byte{'I'}))

	for {
		f, err := protocol.ReadFrame(conn)
		if err != nil {
			return
		}
		switch f.Type {
		case 'Q':
			statements <- strings.TrimRight(string(f.Payload), "\x00")
			conn.Write(protocol.AppendFrame(nil, 'C', cstr("OK")))
			conn.Write(protocol.AppendFrame(nil, 'Z', []byte{'I'}))
		case 'X':
			return
		}
	}
}

func testConfig(t *testing.T, addr string) *api.Config {
	t.Helper()
	host, portStr, err := net.SplitHostPort(addr)
	if err != nil {
		t.Fatal(err)
	}
	port, err := strconv.Atoi(portStr)
	if err != nil {
		t.Fatal(err)
	}
	cfg := api.DefaultConfig()
	cfg.Host = host
	cfg.Port = port
	cfg.User = "alice"
	cfg.Password = "secret"
	cfg.Database = "appdb"
	return cfg
}

func TestConnectQueryStop(t *testing.T) {
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatal(err)
	}
	defer ln.Close()
	statements := make(chan string, 8)
	go serveBackend(t, ln, statements)

	c, err := client.Connect(testConfig(t, ln.Addr().String()))
	if err != nil {
		t.Fatalf("connect failed: %v", err)
	}

	if got := c.Parameters()["server_version"]; got != "16.3" {
		t.Errorf("bad server parameters: %q", got)
	}

	res, err := c.Query("SELECT 1")
	if err != nil {
		t.Fatalf("query failed: %v", err)
	}
	if res.CommandTag != "OK" {
		t.Errorf("bad command tag %q", res.CommandTag)
	}
	select {
	case got := <-statements:
		if got != "SELECT 1" {
			t.Errorf("backend saw %q", got)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("backend never saw the query")
	}

	if err := c.Stop(); err != nil {
		t.Fatalf("stop failed: %v", err)
	}
	select {
	case <-c.Done():
	case <-time.After(2 * time.Second):
		t.Fatal("client not terminated after stop")
	}
}

func TestConnectRefused(t *testing.T) {
	cfg := api.DefaultConfig()
	cfg.User = "alice"
	cfg.Host = "127.0.0.1"
	cfg.Port = 1 // nothing listens here
	cfg.ConnectTimeout = api.Duration(200 * time.Millisecond)

	if _, err := client.Connect(cfg); err == nil {
		t.Fatal("expected connection failure")
	}
}

func TestQueryParamsRejected(t *testing.T) {
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatal(err)
	}
	defer ln.Close()
	statements := make(chan string, 8)
	go serveBackend(t, ln, statements)

	c, err := client.Connect(testConfig(t, ln.Addr().String()))
	if err != nil {
		t.Fatalf("connect failed: %v", err)
	}
	defer c.Stop()

	_, err = c.Query("SELECT $1", 42)
	var aerr *api.Error
	if !errors.As(err, &aerr) || aerr.Code != api.ErrCodeNotSupported {
		t.Fatalf("expected not-supported error, got %v", err)
	}
}

func TestListenNotifyEndToEnd(t *testing.T) {
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatal(err)
	}
	defer ln.Close()

	statements := make(chan string, 8)
	notifyGate := make(chan net.Conn, 1)
	go func() {
		// Variant of serveBackend that exposes the conn for pushes.
		conn, err := ln.Accept()
		if err != nil {
			return
		}
		defer conn.Close()
		var lenBuf [4]byte
		io.ReadFull(conn, lenBuf[:])
		body := make([]byte, binary.BigEndian.Uint32(lenBuf[:])-4)
		io.ReadFull(conn, body)
		conn.Write(protocol.AppendFrame(nil, 'R', binary.BigEndian.AppendUint32(nil, 0)))
		conn.Write(protocol.AppendFrame(nil, 'Z', []byte{'I'}))
		notifyGate <- conn
		for {
			f, err := protocol.ReadFrame(conn)
			if err != nil {
				return
			}
			switch f.Type {
			case 'Q':
				statements <- strings.TrimRight(string(f.Payload), "\x00")
				conn.Write(protocol.AppendFrame(nil, 'C', cstr("LISTEN")))
				conn.Write(protocol.AppendFrame(nil, 'Z', []byte{'I'}))
			case 'X':
				return
			}
		}
	}()

	c, err := client.Connect(testConfig(t, ln.Addr().String()))
	if err != nil {
		t.Fatalf("connect failed: %v", err)
	}
	defer c.Stop()
	conn := <-notifyGate

	inbox := make(chan api.Notification, 4)
	handle, err := c.Listen("events", client.NewChanSubscriber(context.Background(), inbox))
	if err != nil {
		t.Fatalf("listen failed: %v", err)
	}
	if got := <-statements; got != `LISTEN "events"` {
		t.Fatalf("backend saw %q", got)
	}

	payload := binary.BigEndian.AppendUint32(nil, 9)
	payload = append(payload, cstr("events")...)
	payload = append(payload, cstr("ping")...)
	conn.Write(protocol.AppendFrame(nil, 'A', payload))

	select {
	case n := <-inbox:
		if n.Handle != handle || n.Channel != "events" || n.Payload != "ping" {
			t.Errorf("bad notification: %+v", n)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("notification never delivered")
	}

	if err := c.Unlisten(handle); err != nil {
		t.Fatalf("unlisten failed: %v", err)
	}
	if got := <-statements; got != `UNLISTEN "events"` {
		t.Fatalf("backend saw %q", got)
	}
}
