package command

import (
	"context"

	"github.com/danmuck/spellctl/internal/session"
)

// ListenerSession is the listener surface the processor drives.
type ListenerSession interface {
	Login(ctx context.Context, ep session.PeerEndpoint) error
	Logout(ctx context.Context)
	Ready() bool
	Peer() (session.PeerEndpoint, bool)
	Events() <-chan session.Event

	ListContexts(ctx context.Context) ([]string, error)
	ContextInfo(ctx context.Context, name string) (session.ContextDescriptor, error)
	StartContext(ctx context.Context, name string) error
	StopContext(ctx context.Context, name string) error
	DestroyContext(ctx context.Context, name string) error
	AttachContext(ctx context.Context, name string) (session.ContextDescriptor, error)
	DetachContext(name string) error
}

// ContextSession is the context surface the processor drives.
type ContextSession interface {
	Login(ctx context.Context, ep session.PeerEndpoint) error
	Logout(ctx context.Context)
	Ready() bool
	Peer() (session.PeerEndpoint, bool)
	Events() <-chan session.Event

	ListProcedures(ctx context.Context, refresh bool) (map[string]string, error)
	ListExecutors(ctx context.Context) ([]string, error)
	ExecutorInfo(ctx context.Context, instanceID string) (session.ExecutorDescriptor, error)
	StartProcedure(ctx context.Context, procID string, args map[string]string) (string, error)
	StopExecutor(ctx context.Context, instanceID string) error
	KillExecutor(ctx context.Context, instanceID string) error
}

var (
	_ ListenerSession = (*session.Listener)(nil)
	_ ContextSession  = (*session.Context)(nil)
)
