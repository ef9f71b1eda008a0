package command

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"github.com/danmuck/spellctl/internal/protocol"
	"github.com/danmuck/spellctl/internal/session"
	"github.com/danmuck/spellctl/internal/transport"
)

// Double is an in-memory listener plus context for processor tests. Every
// session call is appended to a shared log so tests can assert ordering.
// For error injection use FailOn.
type Double struct {
	mu       sync.Mutex
	calls    []string
	failures map[string]error

	order    []string
	contexts map[string]session.ContextStatus
	attached map[string]bool
	procs    map[string]string

	listenerPeer *session.PeerEndpoint
	contextPeer  *session.PeerEndpoint

	execOrder []string
	execs     map[string]session.ExecutorStatus
	counter   int

	listenerEvents chan session.Event
	contextEvents  chan session.Event
}

// NewDouble creates a double owning the named contexts, all AVAILABLE.
func NewDouble(contexts ...string) *Double {
	d := &Double{
		failures:       make(map[string]error),
		contexts:       make(map[string]session.ContextStatus),
		attached:       make(map[string]bool),
		procs:          map[string]string{"PROC1": "Power On", "PROC2": "Telemetry Check"},
		execs:          make(map[string]session.ExecutorStatus),
		listenerEvents: make(chan session.Event, 16),
		contextEvents:  make(chan session.Event, 16),
	}
	for _, name := range contexts {
		d.order = append(d.order, name)
		d.contexts[name] = session.ContextAvailable
	}
	return d
}

func (d *Double) Listener() *ListenerDouble { return &ListenerDouble{d: d} }
func (d *Double) Context() *ContextDouble   { return &ContextDouble{d: d} }

var (
	_ ListenerSession = (*ListenerDouble)(nil)
	_ ContextSession  = (*ContextDouble)(nil)
)

// Calls returns the call log in order.
func (d *Double) Calls() []string {
	d.mu.Lock()
	defer d.mu.Unlock()
	return append([]string(nil), d.calls...)
}

// ResetCalls clears the call log.
func (d *Double) ResetCalls() {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.calls = nil
}

// FailOn makes every later call named call (e.g. "listener.StopContext") fail with err.
func (d *Double) FailOn(call string, err error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.failures[call] = err
}

func (d *Double) SetStatus(name string, status session.ContextStatus) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.contexts[name] = status
}

// Emit queues an event on the listener or context event channel.
func (d *Double) Emit(ev session.Event) {
	if ev.Source == protocol.RoleContext {
		d.contextEvents <- ev
		return
	}
	d.listenerEvents <- ev
}

// DropContext simulates a lost context connection.
func (d *Double) DropContext() {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.contextPeer = nil
}

// DropListener simulates a lost listener connection.
func (d *Double) DropListener() {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.listenerPeer = nil
}

// record logs a call and returns its injected failure. Callers hold d.mu.
func (d *Double) record(call, arg string) error {
	entry := call
	if arg != "" {
		entry += " " + arg
	}
	d.calls = append(d.calls, entry)
	return d.failures[call]
}

func remote(format string, args ...any) error {
	return &transport.RemoteError{Message: fmt.Sprintf(format, args...), Reason: "double", Origin: protocol.OriginListener}
}

// ListenerDouble is the ListenerSession view of a Double.
type ListenerDouble struct {
	d *Double
}

func (l *ListenerDouble) Login(_ context.Context, ep session.PeerEndpoint) error {
	d := l.d
	d.mu.Lock()
	defer d.mu.Unlock()
	if err := d.record("listener.Login", ep.Address()); err != nil {
		return err
	}
	if d.listenerPeer != nil {
		return &session.AlreadyConnectedError{Peer: d.listenerPeer.String()}
	}
	d.listenerPeer = &ep
	return nil
}

func (l *ListenerDouble) Logout(context.Context) {
	d := l.d
	d.mu.Lock()
	defer d.mu.Unlock()
	_ = d.record("listener.Logout", "")
	d.listenerPeer = nil
}

func (l *ListenerDouble) Ready() bool {
	l.d.mu.Lock()
	defer l.d.mu.Unlock()
	return l.d.listenerPeer != nil
}

func (l *ListenerDouble) Peer() (session.PeerEndpoint, bool) {
	l.d.mu.Lock()
	defer l.d.mu.Unlock()
	if l.d.listenerPeer == nil {
		return session.PeerEndpoint{}, false
	}
	return *l.d.listenerPeer, true
}

func (l *ListenerDouble) Events() <-chan session.Event {
	return l.d.listenerEvents
}

func (l *ListenerDouble) ListContexts(context.Context) ([]string, error) {
	d := l.d
	d.mu.Lock()
	defer d.mu.Unlock()
	if err := d.record("listener.ListContexts", ""); err != nil {
		return nil, err
	}
	return append([]string(nil), d.order...), nil
}

func (l *ListenerDouble) ContextInfo(_ context.Context, name string) (session.ContextDescriptor, error) {
	d := l.d
	d.mu.Lock()
	defer d.mu.Unlock()
	if err := d.record("listener.ContextInfo", name); err != nil {
		return session.ContextDescriptor{}, err
	}
	status, ok := d.contexts[name]
	if !ok {
		return session.ContextDescriptor{}, remote("unknown context %q", name)
	}
	return session.ContextDescriptor{PeerEndpoint: session.PeerEndpoint{Name: name}, Status: status}, nil
}

func (l *ListenerDouble) StartContext(_ context.Context, name string) error {
	d := l.d
	d.mu.Lock()
	defer d.mu.Unlock()
	if err := d.record("listener.StartContext", name); err != nil {
		return err
	}
	status, ok := d.contexts[name]
	if !ok {
		return remote("unknown context %q", name)
	}
	if status == session.ContextRunning {
		return remote("context %s is already running", name)
	}
	d.contexts[name] = session.ContextRunning
	return nil
}

func (l *ListenerDouble) StopContext(_ context.Context, name string) error {
	return l.teardown("listener.StopContext", name)
}

func (l *ListenerDouble) DestroyContext(_ context.Context, name string) error {
	return l.teardown("listener.DestroyContext", name)
}

func (l *ListenerDouble) teardown(call, name string) error {
	d := l.d
	d.mu.Lock()
	defer d.mu.Unlock()
	if err := d.record(call, name); err != nil {
		return err
	}
	if d.contexts[name] != session.ContextRunning {
		return remote("context %s is not running", name)
	}
	if d.attached[name] {
		return remote("context %s has attached clients", name)
	}
	d.contexts[name] = session.ContextAvailable
	return nil
}

func (l *ListenerDouble) AttachContext(_ context.Context, name string) (session.ContextDescriptor, error) {
	d := l.d
	d.mu.Lock()
	defer d.mu.Unlock()
	if err := d.record("listener.AttachContext", name); err != nil {
		return session.ContextDescriptor{}, err
	}
	if d.contexts[name] != session.ContextRunning {
		return session.ContextDescriptor{}, remote("context %s is not running", name)
	}
	d.attached[name] = true
	return session.ContextDescriptor{
		PeerEndpoint: session.PeerEndpoint{Name: name, Host: "127.0.0.1", Port: 9001},
		Status:       session.ContextRunning,
	}, nil
}

func (l *ListenerDouble) DetachContext(name string) error {
	d := l.d
	d.mu.Lock()
	defer d.mu.Unlock()
	if err := d.record("listener.DetachContext", name); err != nil {
		return err
	}
	delete(d.attached, name)
	return nil
}

// ContextDouble is the ContextSession view of a Double.
type ContextDouble struct {
	d *Double
}

func (c *ContextDouble) Login(_ context.Context, ep session.PeerEndpoint) error {
	d := c.d
	d.mu.Lock()
	defer d.mu.Unlock()
	if err := d.record("context.Login", ep.Name); err != nil {
		return err
	}
	if d.contextPeer != nil {
		return &session.AlreadyConnectedError{Peer: d.contextPeer.String()}
	}
	d.contextPeer = &ep
	return nil
}

func (c *ContextDouble) Logout(context.Context) {
	d := c.d
	d.mu.Lock()
	defer d.mu.Unlock()
	_ = d.record("context.Logout", "")
	d.contextPeer = nil
}

func (c *ContextDouble) Ready() bool {
	c.d.mu.Lock()
	defer c.d.mu.Unlock()
	return c.d.contextPeer != nil
}

func (c *ContextDouble) Peer() (session.PeerEndpoint, bool) {
	c.d.mu.Lock()
	defer c.d.mu.Unlock()
	if c.d.contextPeer == nil {
		return session.PeerEndpoint{}, false
	}
	return *c.d.contextPeer, true
}

func (c *ContextDouble) Events() <-chan session.Event {
	return c.d.contextEvents
}

func (c *ContextDouble) ListProcedures(_ context.Context, refresh bool) (map[string]string, error) {
	d := c.d
	d.mu.Lock()
	defer d.mu.Unlock()
	if err := d.record("context.ListProcedures", fmt.Sprint(refresh)); err != nil {
		return nil, err
	}
	out := make(map[string]string, len(d.procs))
	for k, v := range d.procs {
		out[k] = v
	}
	return out, nil
}

func (c *ContextDouble) ListExecutors(context.Context) ([]string, error) {
	d := c.d
	d.mu.Lock()
	defer d.mu.Unlock()
	if err := d.record("context.ListExecutors", ""); err != nil {
		return nil, err
	}
	return append([]string(nil), d.execOrder...), nil
}

func (c *ContextDouble) ExecutorInfo(_ context.Context, id string) (session.ExecutorDescriptor, error) {
	d := c.d
	d.mu.Lock()
	defer d.mu.Unlock()
	if err := d.record("context.ExecutorInfo", id); err != nil {
		return session.ExecutorDescriptor{}, err
	}
	status, ok := d.execs[id]
	if !ok {
		return session.ExecutorDescriptor{}, remote("unknown executor %q", id)
	}
	return session.ExecutorDescriptor{ProcID: id, Status: status, Mode: session.ModeControl, Background: true}, nil
}

func (c *ContextDouble) StartProcedure(_ context.Context, procID string, args map[string]string) (string, error) {
	d := c.d
	d.mu.Lock()
	defer d.mu.Unlock()
	arg := procID
	if len(args) > 0 {
		keys := make([]string, 0, len(args))
		for k := range args {
			keys = append(keys, k+"="+args[k])
		}
		sort.Strings(keys)
		arg = fmt.Sprint(procID, " ", keys)
	}
	if err := d.record("context.StartProcedure", arg); err != nil {
		return "", err
	}
	if _, ok := d.procs[procID]; !ok {
		return "", remote("unknown procedure %q", procID)
	}
	d.counter++
	id := fmt.Sprintf("%s#%d", procID, d.counter)
	d.execOrder = append(d.execOrder, id)
	d.execs[id] = session.ExecutorRunning
	return id, nil
}

func (c *ContextDouble) StopExecutor(_ context.Context, id string) error {
	return c.remove("context.StopExecutor", id)
}

func (c *ContextDouble) KillExecutor(_ context.Context, id string) error {
	return c.remove("context.KillExecutor", id)
}

func (c *ContextDouble) remove(call, id string) error {
	d := c.d
	d.mu.Lock()
	defer d.mu.Unlock()
	if err := d.record(call, id); err != nil {
		return err
	}
	if _, ok := d.execs[id]; !ok {
		return remote("unknown executor %q", id)
	}
	delete(d.execs, id)
	for i, v := range d.execOrder {
		if v == id {
			d.execOrder = append(d.execOrder[:i], d.execOrder[i+1:]...)
			break
		}
	}
	return nil
}
