// File: session/session.go
// Author: momentics <momentics@gmail.com>
// License: Apache-2.0
//
// The connection actor. One goroutine owns the socket, the command
// queue, and the listener registry; caller requests, socket bytes, and
// subscriber-death events arrive through a single mailbox and are
// processed one at a time. The actor never blocks on the wire: dispatch
// is fire-and-continue, and the reply resumes progress when the server
// answers.

package session

import (
	"errors"
	"net"

	"github.com/rs/zerolog"

	"github.com/momentics/pgsession/api"
	"github.com/momentics/pgsession/pool"
	"github.com/momentics/pgsession/protocol"
)

// readiness is the session's capacity to dispatch the next queued
// command immediately.
type readiness int

const (
	connecting readiness = iota
	ready
	busy
	terminated
)

func (r readiness) String() string {
	switch r {
	case connecting:
		return "connecting"
	case ready:
		return "ready"
	case busy:
		return "busy"
	default:
		return "terminated"
	}
}

// event is the closed set of mailbox messages.
type event interface {
	isEvent()
}

type reqQuery struct {
	statement string
	reply     chan callReply
}

type reqListen struct {
	channel string
	sub     api.Subscriber
	reply   chan callReply
}

type reqUnlisten struct {
	handle api.Handle
	reply  chan callReply
}

type reqParameters struct {
	reply chan map[string]string
}

type reqStop struct {
	reply chan struct{}
}

type evBytes struct {
	buf []byte
	n   int
}

type evTransportErr struct {
	err error
}

type evSubscriberDown struct {
	handle api.Handle
}

func (reqQuery) isEvent()         {}
func (reqListen) isEvent()        {}
func (reqUnlisten) isEvent()      {}
func (reqParameters) isEvent()    {}
func (reqStop) isEvent()          {}
func (evBytes) isEvent()          {}
func (evTransportErr) isEvent()   {}
func (evSubscriberDown) isEvent() {}

// errTerminated aborts frame processing after a fatal verdict.
var errTerminated = errors.New("session terminated")

// Session is one logical connection: socket, queue, and registry,
// exclusively owned by the actor goroutine.
type Session struct {
	conn  net.Conn
	codec api.Codec
	log   zerolog.Logger
	bufs  *pool.BytePool

	events chan event
	rearm  chan struct{}
	done   chan struct{}

	// Mutable state below is touched only by the actor goroutine.
	ra     protocol.Reassembler
	queue  *commandQueue
	reg    *registry
	state  readiness
	params map[string]string
	pid    uint32
	secret uint32
	tx     byte
}

// New wraps an established transport connection. cfg must be
// normalized. Start must be called before any request.
func New(conn net.Conn, cfg *api.Config, codec api.Codec) *Session {
	return &Session{
		conn:   conn,
		codec:  codec,
		log:    cfg.Logger,
		bufs:   pool.NewBytePool(cfg.ReadBufferSize),
		events: make(chan event, 64),
		rearm:  make(chan struct{}, 1),
		done:   make(chan struct{}),
		queue:  newCommandQueue(),
		reg:    newRegistry(),
		state:  connecting,
		params: make(map[string]string),
	}
}

// Start launches the actor. handshake runs first, inside the actor
// goroutine; requests submitted meanwhile enqueue and dispatch once the
// session becomes ready. A handshake failure terminates the session and
// is reported on Done plus every pending caller.
func (s *Session) Start(handshake func() (*api.HandshakeInfo, error)) {
	go s.run(handshake)
}

// Done is closed when the session reaches its terminal state.
func (s *Session) Done() <-chan struct{} {
	return s.done
}

// Query executes one simple-query statement, blocking until the reply
// arrives in submission order.
func (s *Session) Query(statement string) (*api.Result, error) {
	reply := make(chan callReply, 1)
	if err := s.post(reqQuery{statement: statement, reply: reply}); err != nil {
		return nil, err
	}
	r := s.await(reply)
	return r.result, r.err
}

// Listen subscribes sub to channel and returns the subscription handle.
// The wire LISTEN is emitted only for the channel's first subscriber.
func (s *Session) Listen(channel string, sub api.Subscriber) (api.Handle, error) {
	reply := make(chan callReply, 1)
	if err := s.post(reqListen{channel: channel, sub: sub, reply: reply}); err != nil {
		return "", err
	}
	r := s.await(reply)
	return r.handle, r.err
}

// Unlisten removes one subscription. Unknown handles yield a non-fatal
// usage error. The wire UNLISTEN is emitted only for the channel's last
// subscriber.
func (s *Session) Unlisten(handle api.Handle) error {
	reply := make(chan callReply, 1)
	if err := s.post(reqUnlisten{handle: handle, reply: reply}); err != nil {
		return err
	}
	return s.await(reply).err
}

// Parameters returns the current server-parameter snapshot. The map is
// replaced wholesale on every update and must not be mutated.
func (s *Session) Parameters() map[string]string {
	reply := make(chan map[string]string, 1)
	if err := s.post(reqParameters{reply: reply}); err != nil {
		return nil
	}
	select {
	case p := <-reply:
		return p
	case <-s.done:
		return nil
	}
}

// Stop terminates the session gracefully; idempotent.
func (s *Session) Stop() error {
	reply := make(chan struct{}, 1)
	select {
	case s.events <- reqStop{reply: reply}:
	case <-s.done:
		return nil
	}
	select {
	case <-reply:
	case <-s.done:
	}
	return nil
}

// post submits one mailbox event, failing fast on a closed session.
func (s *Session) post(ev event) error {
	select {
	case s.events <- ev:
		return nil
	case <-s.done:
		return api.ErrSessionClosed
	}
}

// await collects the single reply for a command. Termination delivers
// explicit errors to queued callers; the race where the session dies
// with the request still in the mailbox resolves to ErrSessionClosed.
func (s *Session) await(reply chan callReply) callReply {
	select {
	case r := <-reply:
		return r
	case <-s.done:
		select {
		case r := <-reply:
			return r
		default:
			return callReply{err: api.ErrSessionClosed}
		}
	}
}

// run is the actor goroutine.
func (s *Session) run(handshake func() (*api.HandshakeInfo, error)) {
	info, err := handshake()
	if err != nil {
		s.log.Error().Err(err).Msg("handshake failed")
		s.terminate(err)
		return
	}
	s.params = info.Parameters
	s.pid = info.BackendPID
	s.secret = info.SecretKey
	s.tx = info.TxStatus
	s.state = ready
	s.log.Info().Uint32("backend_pid", s.pid).Msg("session ready")

	go s.readLoop()
	s.pump()

	for s.state != terminated {
		select {
		case ev := <-s.events:
			s.handle(ev)
		case <-s.done:
			return
		}
	}
}

// readLoop delivers socket bytes one read at a time: after each
// delivery it parks until the actor has drained every complete frame
// and re-arms exactly one further read.
func (s *Session) readLoop() {
	for {
		buf := s.bufs.GetBuffer()
		n, err := s.conn.Read(buf)
		if n > 0 {
			select {
			case s.events <- evBytes{buf: buf, n: n}:
			case <-s.done:
				return
			}
		}
		if err != nil {
			select {
			case s.events <- evTransportErr{err: err}:
			case <-s.done:
			}
			return
		}
		select {
		case <-s.rearm:
		case <-s.done:
			return
		}
	}
}

// handle processes exactly one mailbox event.
func (s *Session) handle(ev event) {
	switch e := ev.(type) {
	case reqQuery:
		s.queue.PushBack(&command{op: opQuery{statement: e.statement}, replyTo: e.reply})
		s.pump()

	case reqListen:
		handle, first := s.reg.add(e.channel, e.sub)
		s.watch(handle, e.sub)
		cmd := &command{op: opListen{channel: e.channel, handle: handle}, replyTo: e.reply}
		if !first {
			// Another subscriber already holds the channel open: no wire
			// round trip, the reply rides the queue to keep submission
			// order.
			cmd.precomputed = &callReply{handle: handle}
		}
		s.queue.PushBack(cmd)
		s.pump()

	case reqUnlisten:
		channel, last, ok := s.reg.remove(e.handle)
		if !ok {
			// Usage error: synchronous, no state mutation.
			e.reply <- callReply{err: api.Errorf(api.ErrCodeUsage, "unknown subscription handle %q", e.handle)}
			return
		}
		cmd := &command{op: opUnlisten{channel: channel}, replyTo: e.reply}
		if !last {
			cmd.precomputed = &callReply{}
		}
		s.queue.PushBack(cmd)
		s.pump()

	case evSubscriberDown:
		channel, last, ok := s.reg.remove(e.handle)
		if !ok || !last {
			return
		}
		s.log.Debug().Str("channel", channel).Msg("subscriber died, scheduling unlisten")
		cmd := &command{op: opInternal{channel: channel}}
		if s.state == ready {
			// Placeholder ahead of the queue: the system-initiated
			// UNLISTEN takes the normal in-flight slot.
			s.queue.PushFront(cmd)
		} else {
			s.queue.PushBack(cmd)
		}
		s.pump()

	case reqParameters:
		e.reply <- s.params

	case reqStop:
		s.stop()
		e.reply <- struct{}{}

	case evBytes:
		s.onBytes(e)

	case evTransportErr:
		s.terminate(api.Errorf(api.ErrCodeTransport, "transport: %v", e.err))
	}
}

// pump dispatches from the queue head while the session is idle.
// Deduplicated commands resolve without wire traffic and dispatching
// continues past them.
func (s *Session) pump() {
	for s.state == ready {
		cmd := s.queue.PeekFront()
		if cmd == nil {
			return
		}
		if cmd.precomputed != nil {
			s.queue.PopFront()
			cmd.deliver(*cmd.precomputed)
			continue
		}
		frame, err := s.codec.EncodeQuery(statementFor(cmd.op))
		if err != nil {
			s.queue.PopFront()
			cmd.deliver(callReply{err: err})
			continue
		}
		cmd.exchange = &api.Exchange{}
		if _, werr := s.conn.Write(frame); werr != nil {
			s.terminate(api.Errorf(api.ErrCodeTransport, "write: %v", werr))
			return
		}
		s.state = busy
		s.log.Debug().Str("op", opName(cmd.op)).Msg("dispatched wire command")
	}
}

// onBytes feeds one read's bytes through the reassembler, recycles the
// buffer, and re-arms the socket for exactly one further read.
func (s *Session) onBytes(e evBytes) {
	err := s.ra.Feed(e.buf[:e.n], s.onFrame)
	s.bufs.PutBuffer(e.buf)
	if err != nil {
		if s.state != terminated {
			s.terminate(api.Errorf(api.ErrCodeProtocol, "frame reassembly: %v", err))
		}
		return
	}
	if s.state == terminated {
		return
	}
	s.rearm <- struct{}{}
}

// onFrame runs the codec transition for one complete frame and applies
// its verdict.
func (s *Session) onFrame(f api.Frame) error {
	if s.state == terminated {
		return errTerminated
	}
	var x *api.Exchange
	if s.state == busy {
		if head := s.queue.PeekFront(); head != nil {
			x = head.exchange
		}
	}
	ev := s.codec.OnMessage(f, x)

	if ev.Notice != nil {
		s.log.Warn().Str("severity", ev.Notice.Severity).Str("sqlstate", ev.Notice.SQLState).
			Msg(ev.Notice.Message)
	}
	if ev.Parameter != nil {
		next := make(map[string]string, len(s.params)+1)
		for k, v := range s.params {
			next[k] = v
		}
		next[ev.Parameter.Name] = ev.Parameter.Value
		s.params = next
	}
	if ev.Notification != nil {
		n := s.reg.fanOut(s.pid, *ev.Notification)
		s.log.Debug().Str("channel", ev.Notification.Channel).Int("subscribers", n).
			Msg("notification fan-out")
	}
	if ev.Fatal != nil {
		s.terminate(ev.Fatal)
		return errTerminated
	}
	if ev.Done {
		s.tx = ev.TxStatus
		s.advance()
	}
	return nil
}

// advance pops the satisfied head, delivers its reply, and dispatches
// the next queued command if present.
func (s *Session) advance() {
	cmd := s.queue.PopFront()
	s.state = ready
	if cmd == nil {
		return
	}
	s.complete(cmd)
	s.pump()
}

// complete builds and delivers the reply for a finished wire exchange.
func (s *Session) complete(cmd *command) {
	if cmd.precomputed != nil {
		cmd.deliver(*cmd.precomputed)
		return
	}
	x := cmd.exchange
	var err error
	if x != nil && x.Err != nil {
		err = x.Err
	}
	switch op := cmd.op.(type) {
	case opQuery:
		if err != nil {
			cmd.deliver(callReply{err: err})
			return
		}
		cmd.deliver(callReply{result: &x.Result})
	case opListen:
		if err != nil {
			// Server rejected the LISTEN: roll back this handle's
			// bookkeeping before failing the caller.
			s.reg.remove(op.handle)
			cmd.deliver(callReply{err: err})
			return
		}
		cmd.deliver(callReply{handle: op.handle})
	case opUnlisten:
		cmd.deliver(callReply{err: err})
	case opInternal:
		if err != nil {
			s.log.Warn().Err(err).Str("channel", op.channel).Msg("internal unlisten failed")
		}
	}
}

// watch monitors one subscriber's liveness. A closed Done channel is
// reported through the mailbox like any other event. Subscribers
// without a Done channel are not watched.
func (s *Session) watch(handle api.Handle, sub api.Subscriber) {
	down := sub.Done()
	if down == nil {
		return
	}
	unwatch := s.reg.listeners[handle].unwatch
	go func() {
		select {
		case <-down:
			select {
			case s.events <- evSubscriberDown{handle: handle}:
			case <-s.done:
			}
		case <-unwatch:
		case <-s.done:
		}
	}()
}

// stop performs the graceful shutdown requested by a caller.
func (s *Session) stop() {
	if s.state == terminated {
		return
	}
	// Best effort: the server closes its side on Terminate.
	_, _ = s.conn.Write(s.codec.EncodeTerminate())
	s.terminate(api.ErrSessionClosed)
}

// terminate is the single terminal transition. Queued callers are
// failed explicitly with a connection-closed error (the in-flight head
// receives the root cause); leaving them unresolved would strand
// pipelined callers forever.
func (s *Session) terminate(cause error) {
	if s.state == terminated {
		return
	}
	wasBusy := s.state == busy
	s.state = terminated
	s.log.Info().Err(cause).Msg("session terminated")

	closed := api.Errorf(api.ErrCodeTransport, "connection closed")
	for i, cmd := range s.queue.Drain() {
		if i == 0 && wasBusy {
			cmd.deliver(callReply{err: cause})
			continue
		}
		cmd.deliver(callReply{err: closed})
	}
	s.reg.stopAll()
	s.conn.Close()
	close(s.done)
}

// statementFor maps a command operation onto its wire statement.
func statementFor(op operation) string {
	switch op := op.(type) {
	case opQuery:
		return op.statement
	case opListen:
		return "LISTEN " + protocol.QuoteIdentifier(op.channel)
	case opUnlisten:
		return "UNLISTEN " + protocol.QuoteIdentifier(op.channel)
	case opInternal:
		return "UNLISTEN " + protocol.QuoteIdentifier(op.channel)
	}
	return ""
}

func opName(op operation) string {
	switch op.(type) {
	case opQuery:
		return "query"
	case opListen:
		return "listen"
	case opUnlisten:
		return "unlisten"
	case opInternal:
		return "internal"
	}
	return "unknown"
}
