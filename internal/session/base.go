package session

import (
	"context"
	"errors"
	"fmt"
	"os"
	"strconv"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"

	"github.com/danmuck/spellctl/internal/protocol"
	"github.com/danmuck/spellctl/internal/protocol/schema"
	"github.com/danmuck/spellctl/internal/transport"
)

// Options configures a session.
type Options struct {
	Transport transport.Config
	// ClientKey identifies this client to the servers. Both sessions of one
	// client should share it. Defaults to a random UUID.
	ClientKey string
	// ClientHost defaults to os.Hostname.
	ClientHost  string
	EventBuffer int
}

func (o Options) withDefaults() Options {
	o.Transport = o.Transport.WithDefaults()
	if o.ClientKey == "" {
		o.ClientKey = uuid.NewString()
	}
	if o.ClientHost == "" {
		host, err := os.Hostname()
		if err != nil {
			host = "localhost"
		}
		o.ClientHost = host
	}
	if o.EventBuffer <= 0 {
		o.EventBuffer = defaultEventBuffer
	}
	return o
}

// base implements the login envelope shared by both sessions.
type base struct {
	role   string
	opts   Options
	tr     *transport.Transport
	events chan Event

	// opMu serializes Login and Logout.
	opMu sync.Mutex

	mu    sync.Mutex
	ready bool
	peer  PeerEndpoint
}

func newBase(role string, opts Options) *base {
	opts = opts.withDefaults()
	b := &base{
		role:   role,
		opts:   opts,
		events: make(chan Event, opts.EventBuffer),
	}
	b.tr = transport.New(role, opts.Transport, b)
	return b
}

func (b *base) ClientKey() string {
	return b.opts.ClientKey
}

// Events delivers notifications and connection loss for this session.
func (b *base) Events() <-chan Event {
	return b.events
}

func (b *base) Ready() bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.ready
}

// Peer returns the endpoint logged into, or false when DISCONNECTED.
func (b *base) Peer() (PeerEndpoint, bool) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.peer, b.ready
}

// Login connects the transport and performs the login exchange. On any failure
// the transport is left disconnected and the session stays DISCONNECTED.
func (b *base) Login(ctx context.Context, ep PeerEndpoint) error {
	b.opMu.Lock()
	defer b.opMu.Unlock()

	if peer, ready := b.Peer(); ready {
		return &AlreadyConnectedError{Peer: peer.String()}
	}
	if err := ep.Validate(); err != nil {
		return err
	}
	if ep.Role == "" {
		ep.Role = RoleCommanding
	}

	if err := b.tr.Connect(ctx, ep.Address()); err != nil {
		return err
	}
	resp, err := b.tr.SendRequest(ctx, b.loginRequest(ep), 0)
	if err == nil {
		err = resp.Err()
	}
	if err != nil {
		b.tr.Disconnect()
		log.Warn().Str("session", b.role).Str("peer", ep.String()).Err(err).Msg("session.Login failed")
		return fmt.Errorf("session: login %s: %w", ep.String(), err)
	}

	b.mu.Lock()
	if !b.tr.Connected() {
		b.mu.Unlock()
		return &transport.ConnectionError{Op: "login", Addr: ep.Address(), Err: transport.ErrConnectionLost}
	}
	b.ready = true
	b.peer = ep
	b.mu.Unlock()
	log.Info().Str("session", b.role).Str("peer", ep.String()).Str("role", string(ep.Role)).Msg("session.Login ok")
	return nil
}

func (b *base) loginRequest(ep PeerEndpoint) protocol.Message {
	req := protocol.NewRequest(protocol.MsgLogin).
		WithField(protocol.FieldClientKey, b.opts.ClientKey).
		WithField(protocol.FieldClientHost, b.opts.ClientHost).
		WithField(protocol.FieldClientRole, string(ep.Role))
	if b.role == protocol.RoleContext && ep.Name != "" {
		req = req.WithField(protocol.FieldContextName, ep.Name)
	}
	if ep.Auth.Username != "" {
		req = req.WithField(protocol.FieldAuthUser, ep.Auth.Username).
			WithField(protocol.FieldAuthPassword, ep.Auth.Password)
	}
	if ep.Auth.KeyFile != "" {
		req = req.WithField(protocol.FieldAuthKeyFile, ep.Auth.KeyFile)
	}
	if ep.Auth.UseLocal {
		req = req.WithField(protocol.FieldAuthLocal, strconv.FormatBool(true))
	}
	return req
}

// Logout sends a best-effort logout and disconnects. It is a no-op while
// DISCONNECTED.
func (b *base) Logout(ctx context.Context) {
	b.opMu.Lock()
	defer b.opMu.Unlock()

	peer, ready := b.Peer()
	if !ready {
		return
	}
	if b.tr.Connected() {
		_, err := b.tr.SendRequest(ctx, protocol.NewRequest(protocol.MsgLogout), b.opts.Transport.DisconnectTimeout)
		if err != nil {
			log.Debug().Str("session", b.role).Str("peer", peer.String()).Err(err).Msg("session.Logout request ignored")
		}
	}
	b.tr.Disconnect()
	b.markDisconnected()
	log.Info().Str("session", b.role).Str("peer", peer.String()).Msg("session.Logout")
}

func (b *base) markDisconnected() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.ready = false
	b.peer = PeerEndpoint{}
}

// forceLogout tears the session down after a socket-level failure.
func (b *base) forceLogout(cause error) {
	peer, ready := b.Peer()
	if !ready {
		return
	}
	b.tr.ForceDisconnect()
	b.markDisconnected()
	log.Warn().Str("session", b.role).Str("peer", peer.String()).Err(cause).Msg("session forced logout")
	b.publish(Event{Kind: EventConnectionLost, Source: b.role, Name: peer.Name, Err: cause})
}

// call sends req and returns the successful reply. ERROR replies become
// *transport.RemoteError, replies failing schema checks *transport.NoResponseError.
// A *transport.ConnectionError forces the session DISCONNECTED.
func (b *base) call(ctx context.Context, req protocol.Message) (protocol.Message, error) {
	if !b.Ready() {
		return protocol.Message{}, ErrNotLoggedIn
	}
	resp, err := b.tr.SendRequest(ctx, req, 0)
	if err != nil {
		var connErr *transport.ConnectionError
		if errors.As(err, &connErr) {
			b.forceLogout(err)
		}
		return protocol.Message{}, err
	}
	if err := resp.Err(); err != nil {
		return protocol.Message{}, err
	}
	if err := schema.ValidateResponse(resp.Message()); err != nil {
		return protocol.Message{}, &transport.NoResponseError{ID: req.ID(), Reason: "malformed response", Err: err}
	}
	return resp.Message(), nil
}

// RequestFile asks the peer where it keeps a file of the given type for procID
// and returns the path. File contents are not transferred.
func (b *base) RequestFile(ctx context.Context, procID, fileType string) (string, error) {
	resp, err := b.call(ctx, protocol.NewRequest(protocol.MsgFileReq).
		WithField(protocol.FieldProcID, procID).
		WithField(protocol.FieldFileType, fileType))
	if err != nil {
		return "", err
	}
	return resp.Get(protocol.FieldFilePath), nil
}

func (b *base) publish(ev Event) {
	if ev.At.IsZero() {
		ev.At = time.Now()
	}
	select {
	case b.events <- ev:
	default:
		log.Warn().Str("session", b.role).Str("event", string(ev.Kind)).Str("name", ev.Name).Msg("session event dropped")
	}
}

// OnNotification implements transport.Listener.
func (b *base) OnNotification(msg protocol.Message) {
	switch msg.ID() {
	case protocol.MsgContextStatus:
		b.publish(Event{
			Kind:   EventContextStatus,
			Source: b.role,
			Name:   msg.Get(protocol.FieldContextName),
			Status: msg.Get(protocol.FieldStatus),
		})
	case protocol.MsgExecStatus:
		b.publish(Event{
			Kind:   EventExecutorStatus,
			Source: b.role,
			Name:   msg.Get(protocol.FieldInstanceID),
			Status: msg.Get(protocol.FieldStatus),
			Detail: msg.Get(protocol.FieldCurrentAction),
		})
	default:
		b.publish(Event{
			Kind:   EventNotice,
			Source: b.role,
			Name:   msg.ID(),
			Detail: msg.Get(protocol.FieldDescription),
		})
	}
}

// OnRequest implements transport.Listener. Servers may only ping the client.
func (b *base) OnRequest(req protocol.Message) protocol.Message {
	if req.ID() == protocol.MsgPing {
		return protocol.ResponseTo(req).WithField(protocol.FieldClientKey, b.opts.ClientKey)
	}
	return protocol.ErrorTo(req, "request not supported by client", "unsupported", protocol.OriginClient)
}

// OnConnectionLost implements transport.Listener. The transport has already
// dropped the connection; only session state changes here.
func (b *base) OnConnectionLost(err error) {
	b.mu.Lock()
	peer, ready := b.peer, b.ready
	b.ready = false
	b.peer = PeerEndpoint{}
	b.mu.Unlock()
	if !ready {
		return
	}
	log.Warn().Str("session", b.role).Str("peer", peer.String()).Err(err).Msg("session connection lost")
	b.publish(Event{Kind: EventConnectionLost, Source: b.role, Name: peer.Name, Err: err})
}
