package sim

import (
	"bufio"
	"context"
	"crypto/tls"
	"errors"
	"io"
	"net"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/danmuck/spellctl/internal/observability"
	"github.com/danmuck/spellctl/internal/protocol"
	"github.com/danmuck/spellctl/internal/protocol/frame"
)

// peerConn is one accepted client connection.
type peerConn struct {
	conn    net.Conn
	writeMu sync.Mutex

	mu        sync.Mutex
	clientKey string
	sessionID string
}

func (p *peerConn) ClientKey() string {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.clientKey
}

func (p *peerConn) setLogin(clientKey, sessionID string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.clientKey = clientKey
	p.sessionID = sessionID
}

func (p *peerConn) write(msg protocol.Message) error {
	buf, err := protocol.Marshal(msg)
	if err != nil {
		return err
	}
	p.writeMu.Lock()
	defer p.writeMu.Unlock()
	_ = p.conn.SetWriteDeadline(time.Now().Add(5 * time.Second))
	_, err = p.conn.Write(buf)
	return err
}

type handler interface {
	// handle returns the reply for a request, or the zero Message for one-way input.
	handle(pc *peerConn, msg protocol.Message) protocol.Message
	closed(pc *peerConn)
}

// server runs the accept loop shared by the listener and context servers.
type server struct {
	name    string
	role    string
	ln      net.Listener
	handler handler
	journal *journal

	mu     sync.Mutex
	conns  map[*peerConn]struct{}
	drop   map[string]int
	fail   map[string]string
	delay  time.Duration
	closed bool
	cancel context.CancelFunc

	wg      sync.WaitGroup
	clients atomic.Int64
}

func listen(addr string, tlsCfg *tls.Config) (net.Listener, error) {
	ln, err := net.Listen("tcp", strings.TrimSpace(addr))
	if err != nil {
		return nil, err
	}
	if tlsCfg != nil {
		ln = tls.NewListener(ln, tlsCfg)
	}
	return ln, nil
}

func newServer(name, role string, ln net.Listener, h handler, j *journal) *server {
	return &server{
		name:    name,
		role:    role,
		ln:      ln,
		handler: h,
		journal: j,
		conns:   make(map[*peerConn]struct{}),
		drop:    make(map[string]int),
		fail:    make(map[string]string),
	}
}

func (s *server) Addr() string {
	return s.ln.Addr().String()
}

func (s *server) Port() int {
	if tcp, ok := s.ln.Addr().(*net.TCPAddr); ok {
		return tcp.Port
	}
	return 0
}

func (s *server) start(ctx context.Context) {
	ctx, cancel := context.WithCancel(ctx)
	s.mu.Lock()
	s.cancel = cancel
	s.mu.Unlock()
	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		if err := s.serve(ctx); err != nil {
			log.Warn().Str("server", s.name).Err(err).Msg("sim.server stopped")
		}
	}()
}

func (s *server) serve(ctx context.Context) error {
	log.Info().Str("server", s.name).Str("addr", s.Addr()).Msg("sim.server listening")
	go func() {
		<-ctx.Done()
		s.close()
	}()
	for {
		conn, err := s.ln.Accept()
		if err != nil {
			if ctx.Err() != nil || s.isClosed() {
				return nil
			}
			return err
		}
		pc := &peerConn{conn: conn}
		s.mu.Lock()
		if s.closed {
			s.mu.Unlock()
			_ = conn.Close()
			return nil
		}
		s.conns[pc] = struct{}{}
		s.mu.Unlock()
		s.wg.Add(1)
		go s.handleConn(pc)
	}
}

func (s *server) handleConn(pc *peerConn) {
	defer s.wg.Done()
	remote := pc.conn.RemoteAddr().String()
	active := s.clients.Add(1)
	log.Debug().Str("server", s.name).Str("remote", remote).Int64("active_clients", active).Msg("sim.server client connected")
	defer func() {
		_ = pc.conn.Close()
		s.mu.Lock()
		delete(s.conns, pc)
		s.mu.Unlock()
		s.handler.closed(pc)
		remaining := s.clients.Add(-1)
		log.Debug().Str("server", s.name).Str("remote", remote).Int64("active_clients", remaining).Msg("sim.server client disconnected")
	}()

	reader := bufio.NewReader(pc.conn)
	for {
		msg, err := protocol.Decode(reader, frame.DefaultLimits())
		if err != nil {
			if !errors.Is(err, io.EOF) && !errors.Is(err, net.ErrClosed) {
				log.Debug().Str("server", s.name).Str("remote", remote).Err(err).Msg("sim.server read")
			}
			return
		}
		s.journal.add(s.name, msg)

		switch msg.Kind() {
		case protocol.KindRequest:
			reply := s.reply(pc, msg)
			observability.RecordSimRequest(s.name, msg.ID(), reply.Kind() == protocol.KindResponse)
			if s.shouldDrop(msg.ID()) {
				log.Debug().Str("server", s.name).Str("message", msg.ID()).Uint64("seq", msg.Sequence()).Msg("sim.server reply dropped")
				continue
			}
			if d := s.replyDelay(); d > 0 {
				time.Sleep(d)
			}
			if err := pc.write(reply); err != nil {
				log.Debug().Str("server", s.name).Err(err).Msg("sim.server write")
				return
			}
		case protocol.KindOneWay:
			s.handler.handle(pc, msg)
		default:
			// Replies from the client are not expected; ignore them.
		}
	}
}

func (s *server) reply(pc *peerConn, req protocol.Message) protocol.Message {
	s.mu.Lock()
	reason, failing := s.fail[req.ID()]
	if failing {
		delete(s.fail, req.ID())
	}
	s.mu.Unlock()
	if failing {
		return protocol.ErrorTo(req, "injected failure", reason, s.role)
	}
	reply := s.handler.handle(pc, req)
	if reply.IsZero() {
		return protocol.ErrorTo(req, "unknown request "+req.ID(), "unsupported", s.role)
	}
	return reply
}

func (s *server) shouldDrop(id string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.drop[id] <= 0 {
		return false
	}
	s.drop[id]--
	return true
}

func (s *server) replyDelay() time.Duration {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.delay
}

// DropNext swallows the replies to the next n requests with the given id.
func (s *server) DropNext(id string, n int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.drop[id] += n
}

// FailNext answers the next request with the given id with an ERROR carrying reason.
func (s *server) FailNext(id, reason string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.fail[id] = reason
}

// SetDelay holds every reply for d before writing it.
func (s *server) SetDelay(d time.Duration) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.delay = d
}

func (s *server) broadcast(msg protocol.Message) {
	msg = msg.WithRoute(s.role, protocol.RoleClient)
	s.mu.Lock()
	conns := make([]*peerConn, 0, len(s.conns))
	for pc := range s.conns {
		conns = append(conns, pc)
	}
	s.mu.Unlock()
	for _, pc := range conns {
		if err := pc.write(msg); err != nil {
			log.Debug().Str("server", s.name).Str("message", msg.ID()).Err(err).Msg("sim.server broadcast")
		}
	}
}

func (s *server) isClosed() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.closed
}

func (s *server) close() {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return
	}
	s.closed = true
	if s.cancel != nil {
		s.cancel()
	}
	conns := make([]*peerConn, 0, len(s.conns))
	for pc := range s.conns {
		conns = append(conns, pc)
	}
	s.mu.Unlock()

	_ = s.ln.Close()
	for _, pc := range conns {
		_ = pc.conn.Close()
	}
}

// dropClients closes every client connection and keeps accepting new ones.
func (s *server) dropClients() {
	s.mu.Lock()
	conns := make([]*peerConn, 0, len(s.conns))
	for pc := range s.conns {
		conns = append(conns, pc)
	}
	s.mu.Unlock()
	for _, pc := range conns {
		_ = pc.conn.Close()
	}
}

// shutdown closes the server and waits for its goroutines.
func (s *server) shutdown() {
	s.close()
	s.wg.Wait()
}

// journal records every inbound message across servers in arrival order.
type journal struct {
	mu      sync.Mutex
	entries []string
}

func (j *journal) add(server string, msg protocol.Message) {
	entry := server + " " + msg.ID()
	if name := msg.Get(protocol.FieldContextName); name != "" {
		entry += " " + name
	}
	if id := msg.Get(protocol.FieldInstanceID); id != "" {
		entry += " " + id
	}
	j.mu.Lock()
	defer j.mu.Unlock()
	j.entries = append(j.entries, entry)
}

func (j *journal) snapshot() []string {
	j.mu.Lock()
	defer j.mu.Unlock()
	out := make([]string, len(j.entries))
	copy(out, j.entries)
	return out
}
