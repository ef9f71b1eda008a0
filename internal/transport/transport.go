package transport

import (
	"bufio"
	"context"
	"crypto/tls"
	"errors"
	"fmt"
	"io"
	"math/rand"
	"net"
	"sync"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/danmuck/spellctl/internal/observability"
	"github.com/danmuck/spellctl/internal/protocol"
	"github.com/danmuck/spellctl/internal/protocol/frame"
)

// Listener receives the inbound traffic that is not a reply to a pending request.
// OnNotification and OnConnectionLost run on the receive goroutine and must hand
// work off instead of blocking. OnRequest runs on its own goroutine and must
// return the reply to write back.
type Listener interface {
	OnNotification(msg protocol.Message)
	OnRequest(req protocol.Message) protocol.Message
	OnConnectionLost(err error)
}

// NopListener ignores notifications and refuses inbound requests.
type NopListener struct{}

func (NopListener) OnNotification(protocol.Message) {}

func (NopListener) OnRequest(req protocol.Message) protocol.Message {
	return protocol.ErrorTo(req, "request not supported", "unsupported", protocol.OriginClient)
}

func (NopListener) OnConnectionLost(error) {}

// Transport owns exactly one connection to one peer.
type Transport struct {
	peer     string
	cfg      Config
	listener Listener
	rng      *rand.Rand

	// connMu serializes Connect and Disconnect.
	connMu sync.Mutex

	mu      sync.Mutex
	conn    net.Conn
	addr    string
	done    chan struct{}
	closing bool

	writeMu sync.Mutex
	seq     atomic.Uint64
	pending *pendingTable
}

// New creates a disconnected transport. peer is the role token of the remote
// side and becomes the receiver of every outbound message.
func New(peer string, cfg Config, listener Listener) *Transport {
	if listener == nil {
		listener = NopListener{}
	}
	return &Transport{
		peer:     peer,
		cfg:      cfg.WithDefaults(),
		listener: listener,
		rng:      rand.New(rand.NewSource(time.Now().UnixNano())),
		pending:  newPendingTable(),
	}
}

func (t *Transport) Config() Config {
	return t.cfg
}

func (t *Transport) Connected() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.conn != nil
}

// Addr returns the address of the current connection, or "".
func (t *Transport) Addr() string {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.conn == nil {
		return ""
	}
	return t.addr
}

// Pending reports the number of in-flight requests.
func (t *Transport) Pending() int {
	return t.pending.Len()
}

// Connect dials addr, retrying with backoff up to MaxConnectAttempts, and starts
// the receive goroutine.
func (t *Transport) Connect(ctx context.Context, addr string) error {
	t.connMu.Lock()
	defer t.connMu.Unlock()

	if current := t.Addr(); current != "" {
		return fmt.Errorf("%w: %s", ErrAlreadyConnected, current)
	}
	if err := t.cfg.ValidateClientTransport(); err != nil {
		return err
	}

	var lastErr error
	for attempt := 1; ; attempt++ {
		conn, err := t.dial(ctx, addr)
		if err == nil {
			t.start(conn, addr)
			log.Debug().Str("peer", t.peer).Str("addr", addr).Int("attempt", attempt).Msg("transport.Transport.Connect ok")
			return nil
		}
		lastErr = err
		log.Warn().Str("peer", t.peer).Str("addr", addr).Int("attempt", attempt).Err(err).Msg("transport.Transport.Connect dial failed")
		if attempt >= t.cfg.MaxConnectAttempts || ctx.Err() != nil {
			break
		}
		if err := t.sleepBackoff(ctx, attempt); err != nil {
			lastErr = err
			break
		}
	}
	return &ConnectionError{Op: "connect", Addr: addr, Err: lastErr}
}

func (t *Transport) dial(ctx context.Context, addr string) (net.Conn, error) {
	dialer := net.Dialer{Timeout: t.cfg.ConnectTimeout}
	rawConn, err := dialer.DialContext(ctx, "tcp", addr)
	if err != nil {
		return nil, err
	}
	if !t.cfg.TLS.Enabled {
		return rawConn, nil
	}

	tlsCfg, err := t.cfg.clientTLSConfig(addr)
	if err != nil {
		_ = rawConn.Close()
		return nil, err
	}
	conn := tls.Client(rawConn, tlsCfg)
	hctx, cancel := context.WithTimeout(ctx, t.cfg.ConnectTimeout)
	defer cancel()
	if err := conn.HandshakeContext(hctx); err != nil {
		_ = rawConn.Close()
		return nil, err
	}
	return conn, nil
}

func (t *Transport) sleepBackoff(ctx context.Context, attempt int) error {
	delay := NextBackoffDelay(t.cfg.Backoff, attempt, t.rng)
	timer := time.NewTimer(delay)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}

func (t *Transport) start(conn net.Conn, addr string) {
	done := make(chan struct{})
	t.mu.Lock()
	t.conn = conn
	t.addr = addr
	t.done = done
	t.closing = false
	t.mu.Unlock()
	t.seq.Store(0)
	go t.receiveLoop(conn, done)
}

// Disconnect closes the connection and fails every pending request with a
// ConnectionError. It never blocks longer than DisconnectTimeout.
func (t *Transport) Disconnect() {
	t.teardown(false)
}

// ForceDisconnect drops the connection without a graceful close.
func (t *Transport) ForceDisconnect() {
	t.teardown(true)
}

func (t *Transport) teardown(force bool) {
	t.connMu.Lock()
	defer t.connMu.Unlock()

	t.mu.Lock()
	conn, addr, done := t.conn, t.addr, t.done
	if conn == nil {
		t.mu.Unlock()
		return
	}
	t.closing = true
	t.conn = nil
	t.mu.Unlock()

	failed := t.pending.FailAll(func(call *pendingCall) error {
		return &ConnectionError{Op: "disconnect", Addr: addr, Err: ErrDisconnected}
	})

	if force {
		forceClose(conn)
	} else {
		_ = conn.SetDeadline(time.Now().Add(t.cfg.DisconnectTimeout))
		_ = conn.Close()
	}

	timer := time.NewTimer(t.cfg.DisconnectTimeout)
	defer timer.Stop()
	select {
	case <-done:
	case <-timer.C:
		log.Warn().Str("peer", t.peer).Str("addr", addr).Msg("transport.Transport.Disconnect receive loop did not stop")
	}
	log.Debug().Str("peer", t.peer).Str("addr", addr).Bool("force", force).Int("failed", failed).Msg("transport.Transport.Disconnect")
}

// forceClose resets TCP connections and skips the TLS close_notify.
func forceClose(conn net.Conn) {
	raw := conn
	if tc, ok := conn.(*tls.Conn); ok {
		raw = tc.NetConn()
	}
	if tcp, ok := raw.(*net.TCPConn); ok {
		_ = tcp.SetLinger(0)
	}
	_ = raw.Close()
}

func (t *Transport) current() (net.Conn, string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.conn, t.addr
}

func (t *Transport) write(conn net.Conn, b []byte) error {
	t.writeMu.Lock()
	defer t.writeMu.Unlock()
	_ = conn.SetWriteDeadline(time.Now().Add(t.cfg.WriteTimeout))
	_, err := conn.Write(b)
	return err
}

// SendRequest assigns the next sequence to req, writes it, and waits for the
// matching reply. A timeout <= 0 uses Config.RequestTimeout. ERROR replies are
// returned as a Response; use Response.Err to surface them.
func (t *Transport) SendRequest(ctx context.Context, req protocol.Message, timeout time.Duration) (Response, error) {
	if req.Kind() != protocol.KindRequest {
		return Response{}, fmt.Errorf("%w: %s is %s", ErrNotRequest, req.ID(), req.Kind())
	}
	if timeout <= 0 {
		timeout = t.cfg.RequestTimeout
	}
	if err := req.Validate(); err != nil {
		return Response{}, err
	}
	conn, addr := t.current()
	if conn == nil {
		return Response{}, &ConnectionError{Op: "send", Err: ErrNotConnected}
	}

	seq := t.seq.Add(1)
	req = req.WithSequence(seq).WithRoute(protocol.RoleClient, t.peer)
	buf, err := protocol.Marshal(req)
	if err != nil {
		return Response{}, err
	}

	start := time.Now()
	call := t.pending.Add(seq, req.ID(), start)
	if err := t.write(conn, buf); err != nil {
		t.pending.Remove(seq)
		observability.RecordRequest(t.peer, req.ID(), observability.OutcomeLost, time.Since(start))
		return Response{}, &ConnectionError{Op: "write", Addr: addr, Err: err}
	}
	log.Debug().Str("peer", t.peer).Str("message", req.ID()).Uint64("seq", seq).Msg("transport.Transport.SendRequest sent")

	timer := time.NewTimer(timeout)
	defer timer.Stop()
	select {
	case res := <-call.done:
		return t.finish(call, res)
	case <-timer.C:
		if t.pending.Remove(seq) {
			observability.RecordRequest(t.peer, req.ID(), observability.OutcomeTimeout, time.Since(start))
			log.Debug().Str("peer", t.peer).Str("message", req.ID()).Uint64("seq", seq).Msg("transport.Transport.SendRequest timeout")
			return Response{}, &TimeoutError{ID: req.ID(), Sequence: seq, After: timeout}
		}
		return t.finish(call, <-call.done)
	case <-ctx.Done():
		if t.pending.Remove(seq) {
			observability.RecordRequest(t.peer, req.ID(), observability.OutcomeCancelled, time.Since(start))
			return Response{}, ctx.Err()
		}
		return t.finish(call, <-call.done)
	}
}

func (t *Transport) finish(call *pendingCall, res result) (Response, error) {
	elapsed := time.Since(call.SentAt)
	if res.err != nil {
		observability.RecordRequest(t.peer, call.ID, observability.OutcomeLost, elapsed)
		return Response{}, res.err
	}
	resp := newResponse(res.msg)
	outcome := observability.OutcomeOK
	if !resp.OK() {
		outcome = observability.OutcomeRemote
	}
	observability.RecordRequest(t.peer, call.ID, outcome, elapsed)
	return resp, nil
}

// SendMessage writes a ONE_WAY message without waiting for anything.
func (t *Transport) SendMessage(msg protocol.Message) error {
	if msg.Kind() != protocol.KindOneWay {
		return fmt.Errorf("%w: %s is %s", ErrNotOneWay, msg.ID(), msg.Kind())
	}
	msg = msg.WithRoute(protocol.RoleClient, t.peer)
	buf, err := protocol.Marshal(msg)
	if err != nil {
		return err
	}
	conn, addr := t.current()
	if conn == nil {
		return &ConnectionError{Op: "send", Err: ErrNotConnected}
	}
	if err := t.write(conn, buf); err != nil {
		return &ConnectionError{Op: "write", Addr: addr, Err: err}
	}
	return nil
}

func (t *Transport) receiveLoop(conn net.Conn, done chan struct{}) {
	defer close(done)
	reader := bufio.NewReader(conn)
	for {
		f, err := frame.ReadFrame(reader, t.cfg.Limits)
		if err != nil {
			t.connectionClosed(conn, err)
			return
		}
		t.dispatch(conn, f)
	}
}

func (t *Transport) dispatch(conn net.Conn, f frame.Frame) {
	kind := protocol.Kind(f.Header.Kind)
	msg, err := protocol.FromFrame(f)
	if err != nil {
		log.Warn().Str("peer", t.peer).Uint64("seq", f.Header.Sequence).Err(err).Msg("transport.Transport.dispatch malformed frame")
		if kind.IsReply() {
			if call, ok := t.pending.Take(f.Header.Sequence); ok {
				call.done <- result{err: &NoResponseError{ID: call.ID, Reason: "malformed response", Err: err}}
			}
		}
		return
	}

	switch {
	case kind.IsReply():
		if !t.pending.Resolve(msg) {
			observability.RecordOrphan(t.peer)
			log.Debug().Str("peer", t.peer).Str("message", msg.ID()).Uint64("seq", msg.Sequence()).Msg("transport.Transport.dispatch orphaned reply dropped")
		}
	case kind == protocol.KindRequest:
		go t.answer(conn, msg)
	default:
		t.listener.OnNotification(msg)
	}
}

func (t *Transport) answer(conn net.Conn, req protocol.Message) {
	reply := t.listener.OnRequest(req)
	if reply.IsZero() || !reply.Kind().IsReply() {
		reply = protocol.ErrorTo(req, "request not supported", "unsupported", protocol.OriginClient)
	}
	reply = reply.WithSequence(req.Sequence())
	buf, err := protocol.Marshal(reply)
	if err != nil {
		log.Warn().Str("peer", t.peer).Str("message", req.ID()).Err(err).Msg("transport.Transport.answer encode failed")
		buf, err = protocol.Marshal(protocol.ErrorTo(req, "reply could not be encoded", "encoding", protocol.OriginClient))
		if err != nil {
			return
		}
	}
	if err := t.write(conn, buf); err != nil {
		log.Debug().Str("peer", t.peer).Str("message", req.ID()).Err(err).Msg("transport.Transport.answer write failed")
	}
}

// connectionClosed runs when the receive loop stops. Peer-initiated closes fail
// every pending request and notify the listener; local teardown owns cleanup.
func (t *Transport) connectionClosed(conn net.Conn, err error) {
	t.mu.Lock()
	if t.conn != conn || t.closing {
		t.mu.Unlock()
		return
	}
	addr := t.addr
	t.conn = nil
	t.mu.Unlock()
	_ = conn.Close()

	cause := err
	if errors.Is(err, io.EOF) || errors.Is(err, net.ErrClosed) {
		cause = ErrConnectionLost
	}
	failed := t.pending.FailAll(func(call *pendingCall) error {
		return &NoResponseError{ID: call.ID, Reason: "connection lost", Err: cause}
	})
	log.Warn().Str("peer", t.peer).Str("addr", addr).Int("failed", failed).Err(err).Msg("transport.Transport connection lost")
	t.listener.OnConnectionLost(&ConnectionError{Op: "receive", Addr: addr, Err: cause})
}
