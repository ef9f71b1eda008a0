package session

import (
	"context"
	"strconv"

	"github.com/rs/zerolog/log"

	"github.com/danmuck/spellctl/internal/protocol"
)

// Listener is the session with the top-level SPELL listener that owns contexts.
type Listener struct {
	*base
}

func NewListener(opts Options) *Listener {
	return &Listener{base: newBase(protocol.RoleListener, opts)}
}

// ListContexts returns the context names known to the listener.
func (l *Listener) ListContexts(ctx context.Context) ([]string, error) {
	resp, err := l.call(ctx, protocol.NewRequest(protocol.MsgListContexts))
	if err != nil {
		return nil, err
	}
	return resp.List(protocol.FieldContextList), nil
}

func (l *Listener) ContextInfo(ctx context.Context, name string) (ContextDescriptor, error) {
	resp, err := l.call(ctx, contextRequest(protocol.MsgContextInfo, name))
	if err != nil {
		return ContextDescriptor{}, err
	}
	return decodeContext(resp), nil
}

// StartContext asks the listener to open the context process.
func (l *Listener) StartContext(ctx context.Context, name string) error {
	_, err := l.call(ctx, contextRequest(protocol.MsgOpenContext, name))
	if err == nil {
		log.Info().Str("context", name).Msg("session.Listener.StartContext ok")
	}
	return err
}

// StopContext asks the listener to close the context process gracefully.
func (l *Listener) StopContext(ctx context.Context, name string) error {
	_, err := l.call(ctx, contextRequest(protocol.MsgCloseContext, name))
	if err == nil {
		log.Info().Str("context", name).Msg("session.Listener.StopContext ok")
	}
	return err
}

// DestroyContext kills the context process.
func (l *Listener) DestroyContext(ctx context.Context, name string) error {
	_, err := l.call(ctx, contextRequest(protocol.MsgDestroyContext, name))
	if err == nil {
		log.Info().Str("context", name).Msg("session.Listener.DestroyContext ok")
	}
	return err
}

// AttachContext registers this client with a running context and returns its
// descriptor, including the host and port the context session must log into.
func (l *Listener) AttachContext(ctx context.Context, name string) (ContextDescriptor, error) {
	resp, err := l.call(ctx, contextRequest(protocol.MsgAttachContext, name))
	if err != nil {
		return ContextDescriptor{}, err
	}
	desc := decodeContext(resp)
	if desc.Name == "" {
		desc.Name = name
	}
	return desc, nil
}

// DetachContext tells the listener this client is leaving the context. It is a
// one-way notice.
func (l *Listener) DetachContext(name string) error {
	if !l.Ready() {
		return ErrNotLoggedIn
	}
	return l.tr.SendMessage(protocol.New(protocol.MsgDetachContext).
		WithField(protocol.FieldContextName, name).
		WithField(protocol.FieldClientKey, l.opts.ClientKey))
}

func contextRequest(id, name string) protocol.Message {
	return protocol.NewRequest(id).WithField(protocol.FieldContextName, name)
}

func decodeContext(msg protocol.Message) ContextDescriptor {
	port, _ := strconv.Atoi(msg.Get(protocol.FieldPort))
	maxProcs, _ := strconv.Atoi(msg.Get(protocol.FieldMaxProcedures))
	return ContextDescriptor{
		PeerEndpoint: PeerEndpoint{
			Name: msg.Get(protocol.FieldContextName),
			Host: msg.Get(protocol.FieldHost),
			Port: port,
		},
		Status:        ParseContextStatus(msg.Get(protocol.FieldStatus)),
		SpacecraftID:  msg.Get(protocol.FieldSpacecraftID),
		Driver:        msg.Get(protocol.FieldDriver),
		Family:        msg.Get(protocol.FieldFamily),
		GCSHost:       msg.Get(protocol.FieldGCSHost),
		MaxProcedures: maxProcs,
		Description:   msg.Get(protocol.FieldDescription),
	}
}
